// Package starclient is a Go client for the authbridge /stars endpoints.
//
// The client authenticates with the authbridge session cookie, so the
// http.Client passed to New must carry a cookie jar holding it.
package starclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Status mirrors the GET /stars response.
type Status struct {
	Starred   bool `json:"starred"`
	Connected bool `json:"connected"`
}

// APIError is a non-2xx response from authbridge.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Kind       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authbridge: %d %s: %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("authbridge: %d %s", e.StatusCode, e.Kind)
}

// Client calls the /stars endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. It should carry the session cookie.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// New creates a client for the authbridge instance at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the star state of owner/repo.
func (c *Client) Status(ctx context.Context, owner, repo string) (Status, error) {
	q := url.Values{}
	q.Set("owner", owner)
	q.Set("repo", repo)

	var status Status
	err := c.do(ctx, http.MethodGet, "/stars?"+q.Encode(), nil, &status)
	return status, err
}

// SetStarred stars or unstars owner/repo and returns the state the server
// confirmed.
func (c *Client) SetStarred(ctx context.Context, owner, repo string, starred bool) (bool, error) {
	method := http.MethodDelete
	if starred {
		method = http.MethodPut
	}
	body := map[string]string{"owner": owner, "repo": repo}

	var resp struct {
		Starred bool `json:"starred"`
	}
	if err := c.do(ctx, method, "/stars", body, &resp); err != nil {
		return false, err
	}
	return resp.Starred, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(apiErr); err != nil {
			apiErr.Kind = http.StatusText(resp.StatusCode)
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
