package client

import (
	"log/slog"
	"net/http"
)

// Option configures a Client.
type Option func(*Client)

// WithUser sets the user requests are made as.
func WithUser(user string) Option {
	return func(c *Client) { c.user = user }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}
