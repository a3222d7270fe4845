// Package stars stars and unstars repositories on behalf of the user
// connected through the classic provider.
package stars

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/authbridge/internal/githubapi"
	"github.com/dgellow/authbridge/internal/ioutil"
)

// ErrUnexpectedStatus is returned when GitHub answers with a status that
// does not map to a star state.
var ErrUnexpectedStatus = errors.New("unexpected status from GitHub")

// Client talks to the starring endpoints of the GitHub API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client. An empty baseURL targets api.github.com.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = githubapi.DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func starredPath(owner, repo string) string {
	return "/user/starred/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

// Star stars owner/repo and returns the state GitHub confirmed.
func (c *Client) Star(ctx context.Context, token, owner, repo string) (bool, error) {
	status, err := c.do(ctx, http.MethodPut, token, owner, repo)
	if err != nil {
		return false, err
	}
	if status != http.StatusNoContent {
		return false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}
	return true, nil
}

// Unstar removes the star on owner/repo and returns the confirmed state.
func (c *Client) Unstar(ctx context.Context, token, owner, repo string) (bool, error) {
	status, err := c.do(ctx, http.MethodDelete, token, owner, repo)
	if err != nil {
		return false, err
	}
	if status != http.StatusNoContent {
		return false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}
	return false, nil
}

// IsStarred reports whether the user starred owner/repo. GitHub answers
// 204 when starred and 404 when not.
func (c *Client) IsStarred(ctx context.Context, token, owner, repo string) (bool, error) {
	status, err := c.do(ctx, http.MethodGet, token, owner, repo)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}
}

func (c *Client) do(ctx context.Context, method, token, owner, repo string) (int, error) {
	req, err := githubapi.NewRequest(ctx, method, c.baseURL, starredPath(owner, repo), token)
	if err != nil {
		return 0, err
	}
	if method == http.MethodPut {
		req.Header.Set("Content-Length", "0")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return resp.StatusCode, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, ioutil.ReadLimited(resp.Body, ioutil.ErrorBodyLimit))
	}
	return resp.StatusCode, nil
}
