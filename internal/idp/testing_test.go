package idp

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/dgellow/authbridge/internal/authstate"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

const testOrigin = "https://app.example.com"

func newCodec() *authstate.Codec {
	return authstate.NewCodec(testKey, testOrigin)
}

type fakeSession struct {
	mu        sync.Mutex
	did       string
	aud       string
	audErr    error
	signedOut int
}

func (s *fakeSession) DID() string { return s.did }

func (s *fakeSession) TokenInfo(context.Context) (*TokenInfo, error) {
	if s.audErr != nil {
		return nil, s.audErr
	}
	return &TokenInfo{Aud: s.aud}, nil
}

func (s *fakeSession) SignOut(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedOut++
	return nil
}

func (s *fakeSession) signOuts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signedOut
}

// fakeFederatedClient echoes the state back through the callback query,
// the way a real authorization server would.
type fakeFederatedClient struct {
	session     *fakeSession
	authorizeFn func(identifier string, opts AuthorizeOptions) (*url.URL, error)
	lastOpts    AuthorizeOptions
}

func (c *fakeFederatedClient) Authorize(_ context.Context, identifier string, opts AuthorizeOptions) (*url.URL, error) {
	c.lastOpts = opts
	if c.authorizeFn != nil {
		return c.authorizeFn(identifier, opts)
	}
	u := &url.URL{Scheme: "https", Host: "auth.example.com", Path: "/oauth/authorize"}
	q := url.Values{}
	q.Set("login_hint", identifier)
	q.Set("state", opts.State)
	u.RawQuery = q.Encode()
	return u, nil
}

func (c *fakeFederatedClient) Callback(_ context.Context, query url.Values) (*CallbackResult, error) {
	state := query.Get("state")
	if code := query.Get("error"); code != "" {
		return nil, &CallbackError{State: state, Code: code, Err: errors.New(query.Get("error_description"))}
	}
	if query.Get("iss") == "bad" {
		return nil, errors.New("issuer mismatch")
	}
	return &CallbackResult{Session: c.session, State: state}, nil
}

func (c *fakeFederatedClient) Restore(_ context.Context, did string) (FederatedSession, error) {
	if c.session == nil || c.session.did != did {
		return nil, errors.New("session not found")
	}
	return c.session, nil
}
