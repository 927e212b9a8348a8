// Package client is the SDK embedded in the desktop application. It talks to
// the activation service, polls the device status and keeps a tamper-evident
// local cache for offline grace.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	v1 "github.com/phattra-dev/vidttool/pkg/contracts/api/v1"
)

const defaultBaseURL = "http://localhost:8080"

// Client is a thin HTTP client for the public license API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header, typically "vidttool/<version>".
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// New builds a client with a 10 second request timeout by default.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "vidttool",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate performs one validation call.
func (c *Client) Validate(ctx context.Context, req v1.ValidateRequest) (*v1.ValidateResponse, error) {
	var resp v1.ValidateResponse
	if err := c.do(ctx, http.MethodPost, "/api/validate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Deactivate releases this machine's slot on the license.
func (c *Client) Deactivate(ctx context.Context, req v1.DeactivateRequest) (*v1.DeactivateResponse, error) {
	var resp v1.DeactivateResponse
	if err := c.do(ctx, http.MethodPost, "/api/deactivate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches the ban-tracking status for a device.
func (c *Client) Status(ctx context.Context, deviceID string) (*v1.StatusResponse, error) {
	var resp v1.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status/"+deviceID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
