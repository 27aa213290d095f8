package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"fittalk-gateway/internal/database"
	"fittalk-gateway/internal/errs"
	"fittalk-gateway/internal/metrics"
	"fittalk-gateway/internal/provider"
)

// refreshSkew refreshes tokens slightly before they actually expire so an
// in-flight provider call never races the expiry
const refreshSkew = 5 * time.Minute

// TokenManager hands out valid access tokens, refreshing expired ones.
// Concurrent requests for the same athlete are collapsed in process, and the
// database rotation is conditional on the previous expiry so two processes
// cannot both burn the same refresh token.
type TokenManager struct {
	db     *database.DB
	client *provider.Client
	group  singleflight.Group
	logger *slog.Logger
}

// NewTokenManager creates a new token manager
func NewTokenManager(db *database.DB, client *provider.Client) *TokenManager {
	return &TokenManager{
		db:     db,
		client: client,
		logger: slog.Default(),
	}
}

// GetValidToken returns an access token for the athlete that is guaranteed
// not to expire within the refresh skew. Returns an AuthError when the
// athlete has no credential or the provider rejected the refresh.
func (tm *TokenManager) GetValidToken(ctx context.Context, athleteID int64) (string, error) {
	cred, err := tm.db.GetCredential(athleteID)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", errs.Authf("no credential for athlete %d", athleteID)
	}

	if tokenFresh(cred) {
		return cred.AccessToken, nil
	}

	token, err, _ := tm.group.Do(strconv.FormatInt(athleteID, 10), func() (any, error) {
		return tm.refresh(ctx, athleteID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refresh rotates the athlete's credential. It re-reads the credential first:
// a concurrent refresh may have finished between the caller's staleness check
// and the singleflight admission.
func (tm *TokenManager) refresh(ctx context.Context, athleteID int64) (string, error) {
	cred, err := tm.db.GetCredential(athleteID)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", errs.Authf("no credential for athlete %d", athleteID)
	}
	if tokenFresh(cred) {
		return cred.AccessToken, nil
	}

	token, err := tm.client.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultFailure).Inc()
		if status := errs.UpstreamStatus(err); status >= http.StatusBadRequest && status < http.StatusInternalServerError {
			// The provider rejected the grant; the refresh token is revoked
			// or invalid and retrying will not help
			return "", errs.Authf("provider rejected token refresh for athlete %d (status %d)", athleteID, status)
		}
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	matched, err := tm.db.RotateCredential(athleteID, token.AccessToken, token.RefreshToken, token.ExpiresAt, cred.ExpiresAt)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return "", err
	}

	if !matched {
		// Another process rotated the credential first; adopt its result
		winner, err := tm.db.GetCredential(athleteID)
		if err != nil {
			return "", err
		}
		if winner == nil {
			return "", errs.Authf("credential for athlete %d disappeared during refresh", athleteID)
		}
		tm.logger.Info("Concurrent refresh won the rotation", "athlete_id", athleteID)
		return winner.AccessToken, nil
	}

	metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	tm.logger.Info("Refreshed credential",
		"athlete_id", athleteID,
		"expires_at", token.ExpiresAt)
	return token.AccessToken, nil
}

func tokenFresh(cred *database.Credential) bool {
	return time.Until(time.Unix(cred.ExpiresAt, 0)) > refreshSkew
}
