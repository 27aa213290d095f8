// Package oauth owns the athlete connect flow and credential lifecycle:
// authorization redirects with CSRF state, code exchange on callback, and
// refresh of expiring access tokens.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"fittalk-gateway/internal/config"
	"fittalk-gateway/internal/database"
	"fittalk-gateway/internal/errs"
	"fittalk-gateway/internal/provider"
)

const (
	authorizeURL = "https://www.strava.com/oauth/authorize"
	oauthScope   = "activity:read_all"

	// JobTypeBackfill is enqueued after a successful connect so the worker
	// pulls the athlete's history
	JobTypeBackfill = "backfill_activities"

	stateTTL = 10 * time.Minute
)

// Manager handles the OAuth connect flow
type Manager struct {
	cfg    *config.Config
	db     *database.DB
	client *provider.Client
	states *stateStore
	logger *slog.Logger
}

// NewManager creates a new OAuth flow manager
func NewManager(cfg *config.Config, db *database.DB, client *provider.Client) *Manager {
	return &Manager{
		cfg:    cfg,
		db:     db,
		client: client,
		states: newStateStore(),
		logger: slog.Default(),
	}
}

// GenerateAuthURL creates a provider authorization URL carrying a fresh
// single-use state token
func (m *Manager) GenerateAuthURL() (string, error) {
	state, err := generateRandomState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	m.states.add(state)

	params := url.Values{}
	params.Set("client_id", m.cfg.StravaClientID)
	params.Set("redirect_uri", fmt.Sprintf("https://%s/oauth-callback", m.cfg.Domain))
	params.Set("response_type", "code")
	params.Set("scope", oauthScope)
	params.Set("state", state)

	return authorizeURL + "?" + params.Encode(), nil
}

// HandleCallback validates the state, exchanges the code for token material,
// stores the credential, and enqueues a history backfill. Returns the
// connected athlete's id.
func (m *Manager) HandleCallback(ctx context.Context, state, code string) (int64, error) {
	if !m.states.consume(state) {
		return 0, errs.Authf("invalid or expired state")
	}
	if code == "" {
		return 0, errs.Validationf("missing authorization code")
	}

	token, err := m.client.ExchangeCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("code exchange failed: %w", err)
	}

	athleteID, err := token.AthleteID()
	if err != nil {
		return 0, fmt.Errorf("callback token response: %w", err)
	}

	cred := &database.Credential{
		AthleteID:    athleteID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		Scope:        token.Scope,
	}
	if err := m.db.UpsertCredential(cred); err != nil {
		return 0, err
	}

	if _, err := m.db.EnqueueSyncJob(athleteID, JobTypeBackfill); err != nil {
		// The athlete is connected; backfill can be re-triggered later
		m.logger.Error("Failed to enqueue backfill job",
			"athlete_id", athleteID,
			"error", err)
	}

	m.logger.Info("Athlete connected", "athlete_id", athleteID)
	return athleteID, nil
}

// stateStore tracks outstanding CSRF state tokens. Tokens are single use and
// expire after stateTTL.
type stateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
}

func newStateStore() *stateStore {
	return &stateStore{states: make(map[string]time.Time)}
}

func (s *stateStore) add(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Prune expired entries while we hold the lock
	now := time.Now()
	for k, exp := range s.states {
		if now.After(exp) {
			delete(s.states, k)
		}
	}

	s.states[state] = now.Add(stateTTL)
}

func (s *stateStore) consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return time.Now().Before(exp)
}

func generateRandomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
