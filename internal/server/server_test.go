package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgellow/authbridge/internal/authstate"
	"github.com/dgellow/authbridge/internal/identity"
	"github.com/dgellow/authbridge/internal/idp"
	"github.com/dgellow/authbridge/internal/session"
	"github.com/dgellow/authbridge/internal/stars"
	"github.com/dgellow/authbridge/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDID    = "did:plc:alice"
	testOrigin = "https://app.example.com"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeSession struct {
	mu        sync.Mutex
	signedOut int
}

func (s *fakeSession) DID() string { return testDID }

func (s *fakeSession) TokenInfo(context.Context) (*idp.TokenInfo, error) {
	return &idp.TokenInfo{Aud: "http://pds.test"}, nil
}

func (s *fakeSession) SignOut(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedOut++
	return nil
}

type fakeFederatedClient struct {
	session *fakeSession
}

func (c *fakeFederatedClient) Authorize(_ context.Context, identifier string, opts idp.AuthorizeOptions) (*url.URL, error) {
	u, _ := url.Parse("https://auth.example.com/oauth/authorize")
	q := url.Values{"login_hint": {identifier}, "state": {opts.State}}
	if opts.Prompt != "" {
		q.Set("prompt", opts.Prompt)
	}
	u.RawQuery = q.Encode()
	return u, nil
}

func (c *fakeFederatedClient) Callback(_ context.Context, query url.Values) (*idp.CallbackResult, error) {
	if code := query.Get("error"); code != "" {
		return nil, &idp.CallbackError{State: query.Get("state"), Code: code, Err: errors.New(code)}
	}
	return &idp.CallbackResult{Session: c.session, State: query.Get("state")}, nil
}

func (c *fakeFederatedClient) Restore(context.Context, string) (idp.FederatedSession, error) {
	return c.session, nil
}

// fakeGitHub serves the OAuth token endpoint and the API routes we use.
func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	starred := map[string]bool{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_secret", "token_type": "bearer"})
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "login": "octocat"})
	})
	mux.HandleFunc("/user/starred/{owner}/{repo}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		key := r.PathValue("owner") + "/" + r.PathValue("repo")
		switch r.Method {
		case http.MethodPut:
			starred[key] = true
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			delete(starred, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			if starred[key] {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	t         *testing.T
	server    *httptest.Server
	client    *http.Client
	federated *fakeFederatedClient
}

type envOptions struct {
	noSecret  bool
	noClassic bool
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	t.Setenv("AUTHBRIDGE_ENV", "dev")

	directory := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"did":    r.URL.Query().Get("identifier"),
			"handle": "alice.example.com",
			"pds":    "http://pds.test",
		})
	}))
	t.Cleanup(directory.Close)
	gh := fakeGitHub(t)

	codec := authstate.NewCodec(testKey, testOrigin)
	fedClient := &fakeFederatedClient{session: &fakeSession{}}
	resolver := identity.NewResolver(directory.Client(), directory.URL, "cdn.test")
	federated := idp.NewFederatedProvider(fedClient, codec, resolver, "atproto")

	var classic idp.Provider
	if !opts.noClassic {
		classic = idp.NewClassicProvider(idp.ClassicOptions{
			ClientID:     "id",
			ClientSecret: "secret",
			RedirectURL:  testOrigin + ClassicPath,
			Scope:        "public_repo",
			APIBaseURL:   gh.URL,
			AuthBaseURL:  gh.URL,
			HTTPClient:   gh.Client(),
		}, codec)
	}

	var sessions *session.Manager
	if !opts.noSecret {
		sessions = session.NewManager(storage.NewMemoryStorage(), testKey, time.Hour)
	}

	h := NewHandlers(sessions, federated, classic, stars.NewService(stars.NewClient(gh.URL, gh.Client())))
	srv := httptest.NewServer(NewRouter(h, RouterOptions{
		SessionSecretConfigured: !opts.noSecret,
		AllowedOrigins:          []string{testOrigin},
	}))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testEnv{t: t, server: srv, client: client, federated: fedClient}
}

func (e *testEnv) do(method, path string, body string) *http.Response {
	e.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(e.t, err)
	resp, err := e.client.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func stateOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestFederatedFlow(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(http.MethodGet, FederatedPath+"?handle=alice.example.com&returnTo=%2Fsettings", "")
	state := stateOf(t, resp)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "https://auth.example.com/"))

	callback := FederatedPath + "?" + url.Values{"state": {state}, "code": {"abc"}}.Encode()
	resp = env.do(http.MethodGet, callback, "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/settings", resp.Header.Get("Location"))

	resp = env.do(http.MethodGet, FederatedSessionPath, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	public := decode[*session.PublicSession](t, resp)
	require.NotNil(t, public)
	assert.Equal(t, testDID, public.DID)
	assert.Equal(t, "alice.example.com", public.Handle)

	// Replaying the callback finds no state cookie.
	resp = env.do(http.MethodGet, callback, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "missing_auth_state", body["error"])
	assert.Equal(t, float64(400), body["statusCode"])

	resp = env.do(http.MethodDelete, FederatedSessionPath, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Session cleared", decode[string](t, resp))

	resp = env.do(http.MethodGet, FederatedSessionPath, "")
	assert.Nil(t, decode[*session.PublicSession](t, resp))
}

func TestFederatedAuth_InvalidHandle(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(http.MethodGet, FederatedPath+"?handle=not%20valid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", decode[map[string]any](t, resp)["error"])
}

func TestFederatedAuth_CrossOriginReturnTo(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	state := stateOf(t, env.do(http.MethodGet, FederatedPath+"?handle=alice.example.com&returnTo=https%3A%2F%2Fevil.com", ""))
	resp := env.do(http.MethodGet, FederatedPath+"?state="+url.QueryEscape(state), "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestFederatedAuth_AccessDenied(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	state := stateOf(t, env.do(http.MethodGet, FederatedPath+"?handle=alice.example.com&returnTo=%2Fpackage%2Ffoo", ""))
	resp := env.do(http.MethodGet, FederatedPath+"?"+url.Values{"state": {state}, "error": {"access_denied"}}.Encode(), "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/package/foo", resp.Header.Get("Location"))

	resp = env.do(http.MethodGet, FederatedSessionPath, "")
	assert.Nil(t, decode[*session.PublicSession](t, resp))
}

func TestFederatedAuth_ConcurrentAttempts(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	first := stateOf(t, env.do(http.MethodGet, FederatedPath+"?handle=alice.example.com&returnTo=%2Fa", ""))
	second := stateOf(t, env.do(http.MethodGet, FederatedPath+"?handle=alice.example.com&returnTo=%2Fb", ""))

	resp := env.do(http.MethodGet, FederatedPath+"?state="+url.QueryEscape(second), "")
	assert.Equal(t, "/b", resp.Header.Get("Location"))
	resp = env.do(http.MethodGet, FederatedPath+"?state="+url.QueryEscape(first), "")
	assert.Equal(t, "/a", resp.Header.Get("Location"))
}

func TestClassicFlowAndStars(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(http.MethodGet, StarsPath+"?owner=golang&repo=go", "")
	assert.Equal(t, stars.Status{}, decode[stars.Status](t, resp))

	resp = env.do(http.MethodPut, StarsPath, `{"owner":"golang","repo":"go"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	state := stateOf(t, env.do(http.MethodGet, ClassicPath+"?returnTo=%2Fpackage%2Fgo", ""))
	resp = env.do(http.MethodGet, ClassicPath+"?"+url.Values{"code": {"c"}, "state": {state}}.Encode(), "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/package/go", resp.Header.Get("Location"))

	resp = env.do(http.MethodGet, ClassicSessionPath, "")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"octocat"}`, string(raw))
	assert.NotContains(t, string(raw), "gho_secret")

	resp = env.do(http.MethodPut, StarsPath, `{"owner":"golang","repo":"go"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[map[string]bool](t, resp)["starred"])

	resp = env.do(http.MethodGet, StarsPath+"?owner=golang&repo=go", "")
	assert.Equal(t, stars.Status{Starred: true, Connected: true}, decode[stars.Status](t, resp))

	resp = env.do(http.MethodGet, StarsPath+"?owner=golang", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(http.MethodDelete, StarsPath, `{"owner":"golang","repo":"go"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[map[string]bool](t, resp)["starred"])

	resp = env.do(http.MethodPut, StarsPath, `{"owner":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(http.MethodDelete, ClassicSessionPath, "")
	assert.Equal(t, "disconnected", decode[string](t, resp))

	resp = env.do(http.MethodGet, ClassicSessionPath, "")
	raw, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(string(raw)))
}

func TestBothProvidersShareOneSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	state := stateOf(t, env.do(http.MethodGet, FederatedPath+"?handle=alice.example.com", ""))
	env.do(http.MethodGet, FederatedPath+"?state="+url.QueryEscape(state), "")

	state = stateOf(t, env.do(http.MethodGet, ClassicPath, ""))
	env.do(http.MethodGet, ClassicPath+"?"+url.Values{"code": {"c"}, "state": {state}}.Encode(), "")

	env.do(http.MethodDelete, ClassicSessionPath, "")
	resp := env.do(http.MethodGet, FederatedSessionPath, "")
	assert.NotNil(t, decode[*session.PublicSession](t, resp), "classic logout keeps the federated identity")
}

func TestMissingSessionSecret(t *testing.T) {
	env := newTestEnv(t, envOptions{noSecret: true})

	routes := []struct{ method, path string }{
		{http.MethodGet, FederatedPath + "?handle=alice.example.com"},
		{http.MethodGet, FederatedSessionPath},
		{http.MethodDelete, FederatedSessionPath},
		{http.MethodGet, ClassicPath},
		{http.MethodGet, ClassicSessionPath},
		{http.MethodGet, StarsPath},
	}
	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			resp := env.do(route.method, route.path, "")
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			assert.Equal(t, "missing_session_secret", decode[map[string]any](t, resp)["error"])
			assert.Empty(t, resp.Cookies(), "no cookie is touched")
		})
	}

	resp := env.do(http.MethodGet, HealthPath, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClassicUnconfigured(t *testing.T) {
	env := newTestEnv(t, envOptions{noClassic: true})

	resp := env.do(http.MethodGet, ClassicPath, "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "unconfigured_provider", decode[map[string]any](t, resp)["error"])
	assert.Empty(t, resp.Cookies())
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestFederatedAuth_CreateFlag(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		value      string
		wantPrompt string
	}{
		{value: "true", wantPrompt: "create"},
		{value: "1", wantPrompt: "create"},
		{value: "yes", wantPrompt: "create"},
		{value: "false", wantPrompt: ""},
		{value: "0", wantPrompt: ""},
		{value: "", wantPrompt: ""},
	}
	for _, tt := range tests {
		t.Run("create="+tt.value, func(t *testing.T) {
			resp := env.do(http.MethodGet, FederatedPath+"?handle=alice.example.com&create="+url.QueryEscape(tt.value), "")
			require.Equal(t, http.StatusFound, resp.StatusCode)
			loc, err := url.Parse(resp.Header.Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrompt, loc.Query().Get("prompt"))
		})
	}
}

func TestSetStar_AnonymousIsUnauthorizedBeforeBodyChecks(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for _, body := range []string{`{not json`, `{"owner":""}`, ""} {
		for _, method := range []string{http.MethodPut, http.MethodDelete} {
			t.Run(method+" "+body, func(t *testing.T) {
				resp := env.do(method, StarsPath, body)
				assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
				assert.Equal(t, "unauthorized", decode[map[string]any](t, resp)["error"])
			})
		}
	}
}

func TestSetStar_MalformedBodyWhenConnected(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	state := stateOf(t, env.do(http.MethodGet, ClassicPath, ""))
	env.do(http.MethodGet, ClassicPath+"?"+url.Values{"code": {"c"}, "state": {state}}.Encode(), "")

	resp := env.do(http.MethodPut, StarsPath, `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", decode[map[string]any](t, resp)["error"])
}
