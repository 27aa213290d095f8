// Package handlers contains the HTTP handlers for the public and internal
// endpoints.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"fittalk-gateway/internal/config"
	"fittalk-gateway/internal/database"
	"fittalk-gateway/internal/errs"
	"fittalk-gateway/internal/metrics"
	"fittalk-gateway/internal/oauth"
	"fittalk-gateway/internal/provider"
	"fittalk-gateway/internal/reconciler"
)

// Event is a webhook event payload from the provider
type Event struct {
	ObjectType     string         `json:"object_type"`
	ObjectID       int64          `json:"object_id"`
	AspectType     string         `json:"aspect_type"`
	OwnerID        int64          `json:"owner_id"`
	SubscriptionID int64          `json:"subscription_id"`
	EventTime      int64          `json:"event_time"`
	Updates        map[string]any `json:"updates"`
}

// WebhookHandler handles webhook subscription verification and event
// delivery. Events are processed synchronously: a 200 acknowledges durable
// application, a 500 asks the provider to redeliver.
type WebhookHandler struct {
	cfg        *config.Config
	db         *database.DB
	reconciler *reconciler.Reconciler
	tokens     *oauth.TokenManager
	client     *provider.Client
	logger     *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(cfg *config.Config, db *database.DB, rec *reconciler.Reconciler, tokens *oauth.TokenManager, client *provider.Client) *WebhookHandler {
	return &WebhookHandler{
		cfg:        cfg,
		db:         db,
		reconciler: rec,
		tokens:     tokens,
		client:     client,
		logger:     slog.Default(),
	}
}

// Handle routes webhook requests based on HTTP method
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification answers the provider's subscription challenge. The
// challenge is echoed only when the mode is "subscribe" and the verify token
// matches.
func (h *WebhookHandler) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || token != h.cfg.StravaVerifyToken {
		h.logger.Warn("Webhook verification rejected", "mode", mode)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	h.logger.Info("Webhook subscription verified")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"hub.challenge": challenge})
}

// handleEvent applies a single event delivery. Unknown object types and
// aspect types acknowledge without effect so an evolving provider schema
// cannot wedge the subscription in a redelivery loop.
func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var event Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	logger := h.logger.With(
		"delivery_id", uuid.NewString(),
		"object_type", event.ObjectType,
		"aspect_type", event.AspectType,
		"object_id", event.ObjectID,
		"owner_id", event.OwnerID,
	)

	var err error
	recognized := true
	switch event.ObjectType {
	case "activity":
		err = h.handleActivityEvent(r, &event, logger)
	case "athlete":
		err = h.handleAthleteEvent(&event, logger)
	default:
		recognized = false
		logger.Info("Ignoring unknown object type")
	}

	if err != nil {
		logger.Error("Failed to process webhook event", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	if recognized {
		metrics.WebhookEventsProcessedTotal.WithLabelValues(event.ObjectType, event.AspectType).Inc()
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))
}

func (h *WebhookHandler) handleActivityEvent(r *http.Request, event *Event, logger *slog.Logger) error {
	switch event.AspectType {
	case "create":
		return h.handleActivityCreate(r, event, logger)

	case "update":
		changed, err := h.reconciler.Patch(event.ObjectID, event.OwnerID, event.Updates)
		if err != nil {
			return err
		}
		if !changed {
			logger.Info("Update for unknown activity ignored")
		}
		return nil

	case "delete":
		return h.reconciler.Delete(event.ObjectID, event.OwnerID)

	default:
		logger.Info("Ignoring unknown aspect type")
		return nil
	}
}

// handleActivityCreate fetches the full activity and mirrors it. The event
// payload itself carries no activity fields, so a create without a usable
// credential is acknowledged as a no-op rather than redelivered forever.
func (h *WebhookHandler) handleActivityCreate(r *http.Request, event *Event, logger *slog.Logger) error {
	ctx := r.Context()

	accessToken, err := h.tokens.GetValidToken(ctx, event.OwnerID)
	if err != nil {
		if errs.IsAuth(err) {
			logger.Info("No usable credential for event owner, skipping fetch")
			return nil
		}
		return err
	}

	activity, err := h.client.GetActivity(ctx, accessToken, event.ObjectID)
	if err != nil {
		if errs.UpstreamStatus(err) == http.StatusNotFound {
			logger.Info("Activity already gone upstream, skipping")
			return nil
		}
		return err
	}

	return h.reconciler.Upsert(activity, event.OwnerID)
}

// handleAthleteEvent processes athlete-level events. The only actionable one
// is deauthorization, which revokes the stored credential. The activity
// mirror is retained until the athlete asks for removal.
func (h *WebhookHandler) handleAthleteEvent(event *Event, logger *slog.Logger) error {
	if event.AspectType != "update" {
		logger.Info("Ignoring athlete event")
		return nil
	}

	authorized, ok := event.Updates["authorized"].(string)
	if !ok || authorized != "false" {
		logger.Info("Ignoring athlete update without deauthorization")
		return nil
	}

	if err := h.db.DeleteCredential(event.OwnerID); err != nil {
		return err
	}
	logger.Info("Athlete deauthorized, credential revoked")
	return nil
}
