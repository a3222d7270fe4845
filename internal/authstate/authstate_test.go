package authstate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgellow/authbridge/internal/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const origin = "https://app.example.com"

func testCodec() *Codec {
	return NewCodec([]byte("test-state-signing-key-32-bytes!"), origin)
}

func TestIssueValidate_SingleUse(t *testing.T) {
	store := NewMemoryStore()

	id, err := Issue(store)
	require.NoError(t, err)
	assert.Len(t, id, 32)

	require.NoError(t, Validate(store, id))

	err = Validate(store, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingAuthState)
	assert.Equal(t, apierror.KindMissingAuthState, apierror.From(err).Kind)
}

func TestValidate_UnknownAndEmpty(t *testing.T) {
	store := NewMemoryStore()
	assert.ErrorIs(t, Validate(store, "deadbeef"), ErrMissingAuthState)
	assert.ErrorIs(t, Validate(store, ""), ErrMissingAuthState)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put("a", TTL))
	now = now.Add(TTL + time.Second)

	assert.False(t, store.Consume("a"))
}

func TestIssue_ConcurrentAttemptsDoNotCollide(t *testing.T) {
	store := NewMemoryStore()

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := Issue(store)
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	for _, id := range ids {
		assert.NoError(t, Validate(store, id))
	}
}

func TestCookieStore_RoundTrip(t *testing.T) {
	t.Setenv("AUTHBRIDGE_ENV", "")

	issueRec := httptest.NewRecorder()
	issueReq := httptest.NewRequest(http.MethodGet, "/auth/federated?handle=alice.example.com", nil)
	id, err := Issue(NewCookieStore(issueRec, issueReq, "/auth/federated"))
	require.NoError(t, err)

	cookies := issueRec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, CookiePrefix+id, c.Name)
	assert.Equal(t, "1", c.Value)
	assert.NotContains(t, c.Value, id)
	assert.Equal(t, "/auth/federated", c.Path)
	assert.Equal(t, 300, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	cbRec := httptest.NewRecorder()
	cbReq := httptest.NewRequest(http.MethodGet, "/auth/federated?code=x", nil)
	cbReq.AddCookie(c)
	store := NewCookieStore(cbRec, cbReq, "/auth/federated")

	require.NoError(t, Validate(store, id))
	assert.ErrorIs(t, Validate(store, id), ErrMissingAuthState)

	cleared := cbRec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, CookiePrefix+id, cleared[0].Name)
	assert.Equal(t, "/auth/federated", cleared[0].Path)
	assert.Less(t, cleared[0].MaxAge, 0)
}

func TestCookieStore_TwoTabs(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/classic", nil)
	store := NewCookieStore(rec, req, "/auth/classic")

	first, err := Issue(store)
	require.NoError(t, err)
	second, err := Issue(store)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	cbReq := httptest.NewRequest(http.MethodGet, "/auth/classic?code=x", nil)
	for _, c := range rec.Result().Cookies() {
		cbReq.AddCookie(c)
	}
	cb := NewCookieStore(httptest.NewRecorder(), cbReq, "/auth/classic")
	assert.NoError(t, Validate(cb, second))
	assert.NoError(t, Validate(cb, first))
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := testCodec()

	state, err := codec.Encode(Envelope{Data: EnvelopeData{RedirectPath: "/settings?tab=a#x"}, ID: "abc"})
	require.NoError(t, err)

	env, err := codec.Decode(state)
	require.NoError(t, err)
	assert.Equal(t, "/settings?tab=a#x", env.Data.RedirectPath)
	assert.Equal(t, "abc", env.ID)
}

func TestCodec_RejectsTampering(t *testing.T) {
	codec := testCodec()
	state, err := codec.Encode(Envelope{Data: EnvelopeData{RedirectPath: "/"}, ID: "abc"})
	require.NoError(t, err)

	other := NewCodec([]byte("another-signing-key-of-32-bytes!"), origin)
	_, err = other.Decode(state)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = codec.Decode(strings.Replace(state, ".", ".x", 1))
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = codec.Decode("")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCodec_DecodeResanitizes(t *testing.T) {
	codec := testCodec()
	state, err := codec.Encode(Envelope{Data: EnvelopeData{RedirectPath: "https://evil.com/x"}, ID: "abc"})
	require.NoError(t, err)

	env, err := codec.Decode(state)
	require.NoError(t, err)
	assert.Equal(t, "/", env.Data.RedirectPath)
}

func TestBeginFinish(t *testing.T) {
	store := NewMemoryStore()
	codec := testCodec()

	state, env, err := Begin(store, codec, "/settings")
	require.NoError(t, err)
	assert.Equal(t, "/settings", env.Data.RedirectPath)

	got, err := Finish(store, codec, state)
	require.NoError(t, err)
	assert.Equal(t, "/settings", got.Data.RedirectPath)
	assert.Equal(t, env.ID, got.ID)

	got, err = Finish(store, codec, state)
	assert.ErrorIs(t, err, ErrMissingAuthState)
	assert.Equal(t, "/settings", got.Data.RedirectPath)
}

func TestBegin_SanitizesCrossOrigin(t *testing.T) {
	state, _, err := Begin(NewMemoryStore(), testCodec(), "https://evil.com/phish")
	require.NoError(t, err)

	env, err := testCodec().Decode(state)
	require.NoError(t, err)
	assert.Equal(t, "/", env.Data.RedirectPath)
}

func TestFinish_GarbageStateIsMissingAuthState(t *testing.T) {
	_, err := Finish(NewMemoryStore(), testCodec(), "garbage")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, apierror.KindMissingAuthState, apierror.From(err).Kind)
}
