// Package githubapi builds requests against the GitHub REST API.
package githubapi

import (
	"context"
	"net/http"
	"strings"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

const (
	apiVersion = "2022-11-28"
	userAgent  = "authbridge"
)

// NewRequest creates an authenticated API request for path under baseURL.
func NewRequest(ctx context.Context, method, baseURL, path, token string) (*http.Request, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(baseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}
