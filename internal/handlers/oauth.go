package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"fittalk-gateway/internal/errs"
	"fittalk-gateway/internal/oauth"
)

// OAuthHandler serves the athlete connect flow
type OAuthHandler struct {
	manager *oauth.Manager
	logger  *slog.Logger
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(manager *oauth.Manager) *OAuthHandler {
	return &OAuthHandler{
		manager: manager,
		logger:  slog.Default(),
	}
}

// HandleStart redirects the athlete to the provider's authorization page
func (h *OAuthHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.manager.GenerateAuthURL()
	if err != nil {
		h.logger.Error("Failed to generate auth URL", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback completes the connect flow after the provider redirects back
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("Athlete denied authorization", "error", errParam)
		writeHTML(w, http.StatusOK, "Authorization was denied. You can close this window.")
		return
	}

	athleteID, err := h.manager.HandleCallback(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		switch {
		case errs.IsAuth(err), errs.IsValidation(err):
			h.logger.Warn("OAuth callback rejected", "error", err)
			writeHTML(w, http.StatusBadRequest, "Invalid or expired authorization request. Please try connecting again.")
		default:
			h.logger.Error("OAuth callback failed", "error", err)
			writeHTML(w, http.StatusInternalServerError, "Something went wrong completing the connection. Please try again.")
		}
		return
	}

	h.logger.Info("OAuth flow completed", "athlete_id", athleteID)
	writeHTML(w, http.StatusOK, "Connected! Your activity history is syncing. You can close this window.")
}

func writeHTML(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", message)
}
