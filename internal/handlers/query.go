package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fittalk-gateway/internal/config"
	"fittalk-gateway/internal/errs"
	"fittalk-gateway/internal/gateway"
	"fittalk-gateway/internal/metrics"
)

// QueryHandler is the internal endpoint that accepts untrusted candidate SQL
// and executes it under tenant isolation. Callers are trusted services (the
// chat layer), authenticated with the internal API key; the SQL itself is
// not trusted at all.
type QueryHandler struct {
	cfg      *config.Config
	executor *gateway.Executor
	logger   *slog.Logger
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(cfg *config.Config, executor *gateway.Executor) *QueryHandler {
	return &QueryHandler{
		cfg:      cfg,
		executor: executor,
		logger:   slog.Default(),
	}
}

type queryRequest struct {
	SQL       string `json:"sql"`
	AthleteID int64  `json:"athlete_id"`
}

type queryResponse struct {
	Success      bool             `json:"success"`
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows"`
	RowCount     int              `json:"row_count"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Handle processes a candidate query request
func (h *QueryHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, metrics.QueryKindUnknown,
			metrics.QueryOutcomeValidation, "invalid request body")
		return
	}
	if req.AthleteID <= 0 {
		h.writeError(w, http.StatusBadRequest, metrics.QueryKindUnknown,
			metrics.QueryOutcomeValidation, "athlete_id is required")
		return
	}

	start := time.Now()

	rewritten, err := gateway.Rewrite(req.SQL, req.AthleteID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, metrics.QueryKindUnknown,
			metrics.QueryOutcomeValidation, err.Error())
		return
	}

	kind := string(rewritten.Kind)
	result, err := h.executor.Execute(r.Context(), rewritten.SQL, rewritten.Params)
	if err != nil {
		switch {
		case errs.IsTimeout(err):
			h.logger.Warn("Query timed out", "athlete_id", req.AthleteID)
			h.writeError(w, http.StatusGatewayTimeout, kind,
				metrics.QueryOutcomeTimeout, "query timed out")
		default:
			h.logger.Error("Query execution failed",
				"athlete_id", req.AthleteID,
				"error", err)
			h.writeError(w, http.StatusInternalServerError, kind,
				metrics.QueryOutcomeDatabase, "query execution failed")
		}
		return
	}

	metrics.GatewayQueriesTotal.WithLabelValues(kind, metrics.QueryOutcomeSuccess).Inc()
	metrics.GatewayQueryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(queryResponse{
		Success:  true,
		Columns:  result.Columns,
		Rows:     result.Rows,
		RowCount: result.RowCount,
	})
}

func (h *QueryHandler) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.InternalAPIKey)) == 1
}

func (h *QueryHandler) writeError(w http.ResponseWriter, status int, kind, outcome, message string) {
	metrics.GatewayQueriesTotal.WithLabelValues(kind, outcome).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(queryResponse{
		Success:      false,
		Rows:         []map[string]any{},
		ErrorMessage: message,
	})
}
