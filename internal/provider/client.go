// Package provider is the HTTP client for the activity provider's API: OAuth
// token grants, activity reads, and webhook subscription management. It never
// retries internally; transient failures surface to callers who own the retry
// policy.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fittalk-gateway/internal/config"
	"fittalk-gateway/internal/errs"
	"fittalk-gateway/internal/metrics"
)

// Client is an HTTP client for the provider API
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	logger       *slog.Logger
}

// NewClient creates a new provider API client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.ProviderTimeout,
		},
		baseURL:      cfg.ProviderBaseURL,
		tokenURL:     cfg.ProviderTokenURL,
		clientID:     cfg.StravaClientID,
		clientSecret: cfg.StravaClientSecret,
		logger:       slog.Default(),
	}
}

// TokenResponse is the provider's response to a token grant
type TokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    int64           `json:"expires_at"`
	Scope        string          `json:"scope"`
	Athlete      json.RawMessage `json:"athlete"`
}

// AthleteID extracts the athlete id from the grant payload. Only the code
// exchange response carries an athlete object.
func (t *TokenResponse) AthleteID() (int64, error) {
	if len(t.Athlete) == 0 {
		return 0, errors.New("token response carries no athlete")
	}
	var athlete struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(t.Athlete, &athlete); err != nil {
		return 0, fmt.Errorf("failed to decode athlete: %w", err)
	}
	if athlete.ID == 0 {
		return 0, errors.New("token response athlete has no id")
	}
	return athlete.ID, nil
}

// ExchangeCode exchanges an authorization code for token material
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")

	return c.doTokenRequest(ctx, metrics.OpExchangeCode, form)
}

// RefreshToken exchanges a refresh token for fresh token material
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	return c.doTokenRequest(ctx, metrics.OpRefreshToken, form)
}

func (c *Client) doTokenRequest(ctx context.Context, op string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, op)
	if err != nil {
		return nil, err
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		return nil, fmt.Errorf("token response missing token material")
	}
	return &token, nil
}

// do executes a request, records metrics, and classifies failures. Non-2xx
// becomes an UpstreamError carrying status and body; a deadline becomes a
// TimeoutError.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, c.classifyTransportErr(req.Context(), op, err)
	}
	defer resp.Body.Close()

	statusStr := strconv.Itoa(resp.StatusCode)
	metrics.ProviderRequestsTotal.WithLabelValues(op, statusStr).Inc()
	metrics.ProviderRequestDuration.WithLabelValues(op, statusStr).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Provider request failed",
			"operation", op,
			"status", resp.StatusCode)
		return nil, &errs.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return body, nil
}

func (c *Client) classifyTransportErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &errs.TimeoutError{Op: op}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &errs.TimeoutError{Op: op}
	}
	return fmt.Errorf("%s: %w", op, err)
}
