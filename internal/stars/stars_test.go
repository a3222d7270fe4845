package stars

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dgellow/authbridge/internal/apierror"
	"github.com/dgellow/authbridge/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitHub keeps a set of starred repositories per token.
type fakeGitHub struct {
	mu      sync.Mutex
	starred map[string]bool
	calls   atomic.Int32
	fail    bool
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.fail {
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := r.URL.Path
	switch r.Method {
	case http.MethodPut:
		f.starred[key] = true
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		delete(f.starred, key)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		if f.starred[key] {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}
}

func newService(t *testing.T) (*Service, *fakeGitHub) {
	t.Helper()
	gh := &fakeGitHub{starred: map[string]bool{}}
	srv := httptest.NewServer(gh)
	t.Cleanup(srv.Close)
	return NewService(NewClient(srv.URL, srv.Client())), gh
}

var (
	connected = &session.GitHubSession{AccessToken: "tok", Username: "octocat"}
	target    = Target{Owner: "golang", Repo: "go"}
)

func TestSet_StarAndUnstar(t *testing.T) {
	ctx := context.Background()
	svc, gh := newService(t)

	starred, err := svc.Set(ctx, connected, target, true)
	require.NoError(t, err)
	assert.True(t, starred)
	assert.True(t, gh.starred["/user/starred/golang/go"])

	status, err := svc.Status(ctx, connected, target)
	require.NoError(t, err)
	assert.Equal(t, Status{Starred: true, Connected: true}, status)

	starred, err = svc.Set(ctx, connected, target, false)
	require.NoError(t, err)
	assert.False(t, starred)

	status, err = svc.Status(ctx, connected, target)
	require.NoError(t, err)
	assert.Equal(t, Status{Starred: false, Connected: true}, status)
}

func TestSet_NotConnected(t *testing.T) {
	svc, gh := newService(t)

	_, err := svc.Set(context.Background(), nil, target, true)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, apierror.From(err).Status)
	assert.Equal(t, int32(0), gh.calls.Load())
}

func TestSet_InvalidTarget(t *testing.T) {
	svc, gh := newService(t)

	for _, tt := range []Target{{}, {Owner: "golang"}, {Repo: "go"}} {
		_, err := svc.Set(context.Background(), connected, tt, true)
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, apierror.From(err).Status)
	}
	assert.Equal(t, int32(0), gh.calls.Load())
}

func TestSet_UpstreamFailure(t *testing.T) {
	svc, gh := newService(t)
	gh.fail = true

	_, err := svc.Set(context.Background(), connected, target, true)
	require.Error(t, err)
	apiErr := apierror.From(err)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "Failed to star repository.", apiErr.Message)

	_, err = svc.Set(context.Background(), connected, target, false)
	require.Error(t, err)
	assert.Equal(t, "Failed to unstar repository.", apierror.From(err).Message)
}

func TestStatus_NotConnectedSkipsUpstream(t *testing.T) {
	svc, gh := newService(t)

	status, err := svc.Status(context.Background(), nil, Target{})
	require.NoError(t, err)
	assert.Equal(t, Status{}, status)
	assert.Equal(t, int32(0), gh.calls.Load())
}

func TestStatus_MissingTarget(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Status(context.Background(), connected, Target{Owner: "golang"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apierror.From(err).Status)
}

func TestStatus_UnexpectedStatusIsFailure(t *testing.T) {
	svc, gh := newService(t)
	gh.fail = true

	_, err := svc.Status(context.Background(), connected, target)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, http.StatusInternalServerError, apierror.From(err).Status)
}

func TestClient_EscapesPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	starred, err := NewClient(srv.URL, srv.Client()).IsStarred(context.Background(), "tok", "a/b", "c")
	require.NoError(t, err)
	assert.False(t, starred)
	assert.Equal(t, "/user/starred/a%2Fb/c", gotPath)
}
