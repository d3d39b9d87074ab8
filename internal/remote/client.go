// Package remote is the HTTP client for the sync endpoint. Failures here are
// never fatal to the caller: the store treats them as a degraded-sync signal
// and keeps running on the local cache.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mealtrack/internal/core"
)

// ErrUnreachable covers transport failures and 5xx responses from the sync
// endpoint.
var ErrUnreachable = errors.New("sync endpoint unreachable")

const (
	dataPath       = "/api/data"
	requestTimeout = 5 * time.Second
	userAgent      = "mealtrack/0.1"
)

// Client talks to the mealtrackd sync API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// NewClient builds a Client for the given base URL, e.g. "http://host:8082".
func NewClient(baseURL string) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("remote base URL is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	base, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse remote base URL: %w", err)
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: requestTimeout},
	}, nil
}

// Fetch retrieves the stored bundle for userID. ok is false when the endpoint
// has no meal data for the user; absence and an empty bundle look identical
// on the wire by design.
func (c *Client) Fetch(ctx context.Context, userID string) (bundle core.Bundle, ok bool, err error) {
	if userID == "" {
		return core.Bundle{}, false, core.ErrMissingUserID
	}

	body, err := c.do(ctx, http.MethodGet, userID, nil)
	if err != nil {
		return core.Bundle{}, false, err
	}

	if err := json.Unmarshal(body, &bundle); err != nil {
		return core.Bundle{}, false, fmt.Errorf("decode remote bundle: %w", err)
	}
	if bundle.MealData == nil {
		return core.Bundle{}, false, nil
	}
	return bundle, !bundle.IsEmpty(), nil
}

// Push uploads the bundle for userID, overwriting whatever the endpoint
// holds. Last write wins.
func (c *Client) Push(ctx context.Context, userID string, bundle core.Bundle) error {
	if userID == "" {
		return core.ErrMissingUserID
	}

	payload, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}

	_, err = c.do(ctx, http.MethodPost, userID, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, userID string, body []byte) ([]byte, error) {
	rel := &url.URL{Path: dataPath, RawQuery: url.Values{"userId": {userID}}.Encode()}
	endpoint := c.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, apiError(respBody, resp.StatusCode))
	default:
		return nil, fmt.Errorf("sync endpoint rejected request: %s", apiError(respBody, resp.StatusCode))
	}
}

func apiError(body []byte, status int) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return fmt.Sprintf("status %d", status)
}
