// Package strava implements the remote API client: token exchange and refresh,
// paginated activity listing, and per-activity detail and stream fetches.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Teemukoivumaa/bikeApp/internal/domain"
)

// Client talks to the Strava v3 API. All methods are synchronous
// request/response; failures surface as *domain.TransportError or
// *domain.UpstreamError.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewClient constructs a Client with sane defaults.
func NewClient(baseURL, clientID, clientSecret string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ExchangeToken trades an authorization code for a full credential.
func (c *Client) ExchangeToken(ctx context.Context, code string) (*TokenResponse, error) {
	body := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"code":          code,
		"grant_type":    "authorization_code",
	}
	var resp TokenResponse
	if err := c.post(ctx, "exchange token", "/oauth/token", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshToken trades a refresh token for a new credential pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	body := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	}
	var resp RefreshResponse
	if err := c.post(ctx, "refresh token", "/oauth/token", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListActivities fetches one page of the athlete's activity history.
// An empty slice means the history is exhausted.
func (c *Client) ListActivities(ctx context.Context, token string, page, perPage int) ([]ActivitySummary, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	var activities []ActivitySummary
	err := c.get(ctx, "list activities", "/athlete/activities?"+query.Encode(), token, &activities)
	if err != nil {
		return nil, err
	}
	return activities, nil
}

// GetActivity fetches the full detail view of a single activity.
func (c *Client) GetActivity(ctx context.Context, token string, externalID int64) (*ActivitySummary, error) {
	var activity ActivitySummary
	path := fmt.Sprintf("/activities/%d", externalID)
	if err := c.get(ctx, "get activity", path, token, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// GetActivityStreams fetches the requested sample series of an activity,
// keyed by stream type.
func (c *Client) GetActivityStreams(ctx context.Context, token string, externalID int64, keys []string) (StreamSet, error) {
	query := url.Values{}
	query.Set("keys", strings.Join(keys, ","))
	query.Set("key_by_type", "true")

	var streams StreamSet
	path := fmt.Sprintf("/activities/%d/streams?%s", externalID, query.Encode())
	if err := c.get(ctx, "get activity streams", path, token, &streams); err != nil {
		return nil, err
	}
	return streams, nil
}

func (c *Client) post(ctx context.Context, op, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(encoded)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *Client) get(ctx context.Context, op, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.UpstreamError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	return nil
}
