package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	fakeAuthCode    = "test-auth-code"
	fakeAccessToken = "gho_test_access_token"
	fakeLogin       = "octocat"
	// deniedLogin makes the fake authorize endpoint answer access_denied.
	deniedLogin = "denied-user"
)

// FakeGitHubServer provides the OAuth and REST endpoints of GitHub used by
// the classic provider and the star routes
type FakeGitHubServer struct {
	server *http.Server
	port   string

	mu        sync.Mutex
	starred   map[string]bool
	exchanges int
}

// NewFakeGitHubServer creates a new fake GitHub server
func NewFakeGitHubServer(port string) *FakeGitHubServer {
	f := &FakeGitHubServer{
		port:    port,
		starred: map[string]bool{},
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /login/oauth/authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		target, err := url.Parse(q.Get("redirect_uri"))
		if err != nil {
			http.Error(w, "bad redirect_uri", http.StatusBadRequest)
			return
		}
		params := url.Values{"state": {q.Get("state")}}
		if q.Get("login") == deniedLogin {
			params.Set("error", "access_denied")
		} else {
			params.Set("code", fakeAuthCode)
		}
		target.RawQuery = params.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
	})

	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.exchanges++
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("code") != fakeAuthCode {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":             "bad_verification_code",
				"error_description": "The code passed is incorrect or expired.",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fakeAccessToken,
			"token_type":   "bearer",
			"scope":        "public_repo",
		})
	})

	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"login": fakeLogin, "id": 583231})
	})

	starred := func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		key := r.PathValue("owner") + "/" + r.PathValue("repo")
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			f.starred[key] = true
		case http.MethodDelete:
			delete(f.starred, key)
		default:
			if !f.starred[key] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
	mux.HandleFunc("GET /_test/exchanges", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.Exchanges())
	})

	mux.HandleFunc("GET /user/starred/{owner}/{repo}", starred)
	mux.HandleFunc("PUT /user/starred/{owner}/{repo}", starred)
	mux.HandleFunc("DELETE /user/starred/{owner}/{repo}", starred)

	f.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}
	return f
}

func authorized(r *http.Request) bool {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") == fakeAccessToken
}

// Exchanges returns how many times the token endpoint was called
func (f *FakeGitHubServer) Exchanges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges
}

// Start starts the fake GitHub server
func (f *FakeGitHubServer) Start() error {
	go func() {
		if err := f.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	return nil
}

// Stop stops the fake GitHub server
func (f *FakeGitHubServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.server.Shutdown(ctx)
}
