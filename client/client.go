// Package client is a Go client for the samson HTTP API.
//
// Usage:
//
//	c := client.New("http://samson.internal:9080", client.WithUser("alice"))
//
//	// Deploy a reference and follow its output.
//	d, err := c.CreateDeploy(ctx, "web", "web-production", "v1.2", false)
//	frames, err := c.WatchJob(ctx, d.JobID)
//	for f := range frames {
//	    fmt.Printf("%s %s\n", f.Event, f.Data)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/api"
)

// Client talks to a remote samson server.
type Client struct {
	baseURL string
	user    string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a non-2xx answer from the server.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("samson/client: %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps unambiguous statuses back to samson errors.
func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return samson.ErrInvalidRequest
	case http.StatusForbidden:
		return samson.ErrSelfApproval
	case http.StatusServiceUnavailable:
		return samson.ErrSchedulerDisabled
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the server.
func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// do sends a request and decodes a JSON answer into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set(api.UserHeader, c.user)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("samson/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		c.logger.Debug("samson request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return &Error{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Queue returns the scheduler's queue snapshot.
func (c *Client) Queue(ctx context.Context) (*api.QueueResponse, error) {
	var out api.QueueResponse
	if err := c.do(ctx, http.MethodGet, "/queue", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
