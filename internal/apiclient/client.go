// Package apiclient talks to a running newsdigest server on behalf of the CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/scheduler"
	"newsdigest/internal/server"
)

// DefaultTimeout bounds every call except trigger, which waits for a full run
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client handles calls to the HTTP API
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a client for baseURL
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 0, // per-call deadlines come from the context
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var envelope server.ErrorResponse
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
		}
		// Trigger failures carry a TriggerResult instead of an error envelope.
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultTimeout)
}

// Health calls GET /health
func (c *Client) Health(ctx context.Context) (*server.HealthResponse, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var out server.HealthResponse
	return &out, c.do(ctx, http.MethodGet, "/health", nil, &out)
}

// Stats calls GET /api/dashboard/stats
func (c *Client) Stats(ctx context.Context) (*core.DigestStats, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var out core.DigestStats
	return &out, c.do(ctx, http.MethodGet, "/api/dashboard/stats", nil, &out)
}

// Trigger calls POST /api/digest/trigger and waits for the run to finish.
// The result is filled in even when the run failed.
func (c *Client) Trigger(ctx context.Context) (*scheduler.TriggerResult, error) {
	var out scheduler.TriggerResult
	return &out, c.do(ctx, http.MethodPost, "/api/digest/trigger", nil, &out)
}

// Schedule calls GET /api/schedule
func (c *Client) Schedule(ctx context.Context) (*server.ScheduleResponse, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var out server.ScheduleResponse
	return &out, c.do(ctx, http.MethodGet, "/api/schedule", nil, &out)
}

// ToggleSchedule calls POST /api/schedule/toggle
func (c *Client) ToggleSchedule(ctx context.Context) (*server.ToggleResponse, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var out server.ToggleResponse
	return &out, c.do(ctx, http.MethodPost, "/api/schedule/toggle", nil, &out)
}

// SetInterval calls POST /api/schedule/interval
func (c *Client) SetInterval(ctx context.Context, hours int) (*server.IntervalResponse, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var out server.IntervalResponse
	return &out, c.do(ctx, http.MethodPost, "/api/schedule/interval", server.IntervalRequest{Interval: &hours}, &out)
}

// Recipients calls GET /api/recipients
func (c *Client) Recipients(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var out []string
	if err := c.do(ctx, http.MethodGet, "/api/recipients", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetRecipients calls POST /api/recipients
func (c *Client) SetRecipients(ctx context.Context, recipients []string) (*server.RecipientsResponse, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var out server.RecipientsResponse
	return &out, c.do(ctx, http.MethodPost, "/api/recipients", server.RecipientsRequest{Recipients: recipients}, &out)
}

// SystemLogs calls GET /api/logs
func (c *Client) SystemLogs(ctx context.Context, limit int) ([]core.SystemLog, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []core.SystemLog
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
