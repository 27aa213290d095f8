package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"fittalk-gateway/internal/metrics"
)

// Activity is an activity as returned by the provider API
type Activity struct {
	ID                 int64   `json:"id"`
	Athlete            Athlete `json:"athlete"`
	Name               string  `json:"name"`
	Distance           float64 `json:"distance"`
	MovingTime         int64   `json:"moving_time"`
	ElapsedTime        int64   `json:"elapsed_time"`
	TotalElevationGain float64 `json:"total_elevation_gain"`
	Type               string  `json:"type"`
	StartDate          string  `json:"start_date"`
}

// Athlete is the owner reference embedded in provider payloads
type Athlete struct {
	ID int64 `json:"id"`
}

// GetActivity fetches a single activity by ID
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (*Activity, error) {
	endpoint := fmt.Sprintf("%s/activities/%d", c.baseURL, activityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := c.do(req, metrics.OpGetActivity)
	if err != nil {
		return nil, err
	}

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return nil, fmt.Errorf("failed to decode activity: %w", err)
	}
	return &activity, nil
}

// ListActivities fetches a page of the athlete's activities. The second
// return value reports whether another page may exist: a full page means
// keep going, a short page means the listing is exhausted.
func (c *Client) ListActivities(ctx context.Context, accessToken string, page, perPage int) ([]Activity, bool, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	endpoint := fmt.Sprintf("%s/athlete/activities?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := c.do(req, metrics.OpListActivities)
	if err != nil {
		return nil, false, err
	}

	var activities []Activity
	if err := json.Unmarshal(body, &activities); err != nil {
		return nil, false, fmt.Errorf("failed to decode activities: %w", err)
	}

	hasMore := len(activities) == perPage
	return activities, hasMore, nil
}
