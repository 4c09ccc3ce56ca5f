package gatekeepsdk

import (
	"net/http"
	"strings"
	"time"
)

// Client talks to one gatekeep deployment.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	adminToken string
}

type Option func(*Client)

// WithAdminToken sets the bearer token sent to admin endpoints.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.adminToken = token }
}

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
