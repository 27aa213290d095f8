package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fittalk-gateway/internal/config"
	"fittalk-gateway/internal/database"
	"fittalk-gateway/internal/errs"
	"fittalk-gateway/internal/provider"
)

func setupTokenTest(t *testing.T, handler http.Handler) (*database.DB, *TokenManager) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := provider.NewClient(&config.Config{
		StravaClientID:     "client-id",
		StravaClientSecret: "client-secret",
		ProviderBaseURL:    server.URL,
		ProviderTokenURL:   server.URL + "/oauth/token",
		ProviderTimeout:    5 * time.Second,
	})

	return db, NewTokenManager(db, client)
}

func refreshHandler(calls *atomic.Int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"expires_at":    time.Now().Add(6 * time.Hour).Unix(),
		})
	})
}

func TestGetValidTokenFreshCredential(t *testing.T) {
	var calls atomic.Int64
	db, tm := setupTokenTest(t, refreshHandler(&calls))

	err := db.UpsertCredential(&database.Credential{
		AthleteID:    1,
		AccessToken:  "still-good",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(2 * time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Failed to seed credential: %v", err)
	}

	token, err := tm.GetValidToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if token != "still-good" {
		t.Errorf("Expected stored token, got %q", token)
	}
	if calls.Load() != 0 {
		t.Errorf("Fresh credential should not trigger a refresh, got %d calls", calls.Load())
	}
}

func TestGetValidTokenRefreshesExpired(t *testing.T) {
	var calls atomic.Int64
	db, tm := setupTokenTest(t, refreshHandler(&calls))

	err := db.UpsertCredential(&database.Credential{
		AthleteID:    1,
		AccessToken:  "expired-access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Failed to seed credential: %v", err)
	}

	token, err := tm.GetValidToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if token != "fresh-access" {
		t.Errorf("Expected refreshed token, got %q", token)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected exactly 1 refresh call, got %d", calls.Load())
	}

	// Rotation persisted both halves of the new token material
	cred, err := db.GetCredential(1)
	if err != nil || cred == nil {
		t.Fatalf("Failed to re-read credential: %v", err)
	}
	if cred.AccessToken != "fresh-access" || cred.RefreshToken != "fresh-refresh" {
		t.Errorf("Credential not rotated: %+v", cred)
	}
}

func TestGetValidTokenCollapsesConcurrentRefreshes(t *testing.T) {
	var calls atomic.Int64
	slowRefresh := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"expires_at":    time.Now().Add(6 * time.Hour).Unix(),
		})
	})
	db, tm := setupTokenTest(t, slowRefresh)

	err := db.UpsertCredential(&database.Credential{
		AthleteID:    1,
		AccessToken:  "expired-access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Failed to seed credential: %v", err)
	}

	const goroutines = 10
	var wg sync.WaitGroup
	tokens := make([]string, goroutines)
	errors := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errors[i] = tm.GetValidToken(context.Background(), 1)
		}(i)
	}
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		if errors[i] != nil {
			t.Fatalf("Goroutine %d failed: %v", i, errors[i])
		}
		if tokens[i] != "fresh-access" {
			t.Errorf("Goroutine %d got token %q", i, tokens[i])
		}
	}
	if calls.Load() != 1 {
		t.Errorf("Expected exactly 1 refresh call for %d concurrent requests, got %d",
			goroutines, calls.Load())
	}
}

func TestGetValidTokenNoCredential(t *testing.T) {
	var calls atomic.Int64
	_, tm := setupTokenTest(t, refreshHandler(&calls))

	_, err := tm.GetValidToken(context.Background(), 999)
	if err == nil {
		t.Fatal("Expected auth error, got nil")
	}
	if !errs.IsAuth(err) {
		t.Errorf("Expected auth error, got %v", err)
	}
}

func TestGetValidTokenRevokedGrant(t *testing.T) {
	rejected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid grant"}`))
	})
	db, tm := setupTokenTest(t, rejected)

	err := db.UpsertCredential(&database.Credential{
		AthleteID:    1,
		AccessToken:  "expired-access",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Failed to seed credential: %v", err)
	}

	_, err = tm.GetValidToken(context.Background(), 1)
	if err == nil {
		t.Fatal("Expected auth error, got nil")
	}
	if !errs.IsAuth(err) {
		t.Errorf("Expected auth error for rejected grant, got %v", err)
	}
}

func TestRefreshAdoptsConcurrentRotation(t *testing.T) {
	var calls atomic.Int64
	db, tm := setupTokenTest(t, refreshHandler(&calls))

	staleExpiry := time.Now().Add(-time.Hour).Unix()
	err := db.UpsertCredential(&database.Credential{
		AthleteID:    1,
		AccessToken:  "expired-access",
		RefreshToken: "refresh",
		ExpiresAt:    staleExpiry,
	})
	if err != nil {
		t.Fatalf("Failed to seed credential: %v", err)
	}

	// Simulate another process winning the rotation between our read and
	// write: the conditional update must not clobber its result
	winnerExpiry := time.Now().Add(6 * time.Hour).Unix()
	matched, err := db.RotateCredential(1, "winner-access", "winner-refresh", winnerExpiry, staleExpiry)
	if err != nil || !matched {
		t.Fatalf("Winner rotation failed: matched=%v err=%v", matched, err)
	}

	matched, err = db.RotateCredential(1, "loser-access", "loser-refresh",
		time.Now().Add(6*time.Hour).Unix(), staleExpiry)
	if err != nil {
		t.Fatalf("Loser rotation errored: %v", err)
	}
	if matched {
		t.Fatal("Loser rotation should not have matched the stale expiry")
	}

	cred, err := db.GetCredential(1)
	if err != nil || cred == nil {
		t.Fatalf("Failed to re-read credential: %v", err)
	}
	if cred.AccessToken != "winner-access" {
		t.Errorf("Winner's rotation was clobbered: %+v", cred)
	}

	// And the manager now sees a fresh credential without refreshing
	token, err := tm.GetValidToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if token != "winner-access" || calls.Load() != 0 {
		t.Errorf("Expected winner token without refresh, got %q with %d calls", token, calls.Load())
	}
}
