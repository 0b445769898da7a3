// Package remote uploads trip metrics and eco-driving scores to the web
// app's REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"eco-drive-assistant/internal/models"
)

// Timeout bounds every API call.
const Timeout = 5 * time.Second

// Client calls the remote API. A client without a base URL does nothing.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	lastOK atomic.Bool
}

// NewClient creates a client for the API at baseURL authenticating with a
// bearer token.
func NewClient(baseURL, token string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: Timeout},
	}
	c.lastOK.Store(true)
	return c
}

// Enabled reports whether an API URL is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// LastCallSucceeded reports whether the most recent call reached the API
// and was accepted. It is true before the first call.
func (c *Client) LastCallSucceeded() bool {
	return c.lastOK.Load()
}

// StatusError is returned when the API rejects a request.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API call failed with status code %d", e.Op, e.StatusCode)
}

func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.lastOK.Store(false)
		log.Printf("%s API call failed: %v", op, err)
		return fmt.Errorf("%s API call failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.lastOK.Store(false)
		io.Copy(io.Discard, resp.Body)
		err := &StatusError{Op: op, StatusCode: resp.StatusCode}
		log.Printf("%v", err)
		return err
	}

	c.lastOK.Store(true)
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// CreateTrip registers a trip with the API and returns its remote id.
func (c *Client) CreateTrip(ctx context.Context, m models.TripMetrics) (string, error) {
	if !c.Enabled() {
		return "", nil
	}

	var created struct {
		ID json.RawMessage `json:"id"`
	}
	if err := c.do(ctx, "Create journey", http.MethodPost, "/journeys", m, &created); err != nil {
		return "", err
	}

	// The id may be a number or a string.
	var id any
	if err := json.Unmarshal(created.ID, &id); err != nil {
		return "", fmt.Errorf("invalid journey id %s: %w", created.ID, err)
	}
	switch v := id.(type) {
	case string:
		return v, nil
	case float64:
		return string(created.ID), nil
	}
	return "", fmt.Errorf("invalid journey id %s", created.ID)
}

// UpdateTrip replaces the metrics of an uploaded trip.
func (c *Client) UpdateTrip(ctx context.Context, remoteID string, m models.TripMetrics) error {
	if !c.Enabled() {
		return nil
	}
	return c.do(ctx, "Update journey", http.MethodPut, "/journeys/"+remoteID, m, nil)
}

// SubmitScores records a new set of eco-driving scores.
func (c *Client) SubmitScores(ctx context.Context, r models.ScoreReport) error {
	if !c.Enabled() {
		return nil
	}
	return c.do(ctx, "Add scores", http.MethodPost, "/scores", r, nil)
}
