package idp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/indigo/atproto/auth/oauth"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/dgellow/authbridge/internal/authstate"
	"github.com/dgellow/authbridge/internal/storage"
)

// AuthStore keeps the OAuth client's pending requests and sessions in the
// session store, so remote backends encrypt and expire them like any other
// document. It also indexes the current session of each account.
type AuthStore struct {
	store      storage.Store
	sessionTTL time.Duration
}

var _ oauth.ClientAuthStore = (*AuthStore)(nil)

// NewAuthStore creates an AuthStore. Sessions live for sessionTTL and
// pending requests for as long as a login attempt.
func NewAuthStore(store storage.Store, sessionTTL time.Duration) *AuthStore {
	return &AuthStore{store: store, sessionTTL: sessionTTL}
}

// storeKey hashes the parts so that DIDs and states never leak into
// backend keys with restricted characters.
func storeKey(kind string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "atproto-" + kind + "-" + hex.EncodeToString(h.Sum(nil))
}

func requestKey(state string) string {
	return storeKey("request", state)
}

func sessionKey(did syntax.DID, sessionID string) string {
	return storeKey("session", did.String(), sessionID)
}

func accountKey(did syntax.DID) string {
	return storeKey("account", did.String())
}

func (s *AuthStore) GetSession(ctx context.Context, did syntax.DID, sessionID string) (*oauth.ClientSessionData, error) {
	var data oauth.ClientSessionData
	if err := s.get(ctx, sessionKey(did, sessionID), &data); err != nil {
		return nil, fmt.Errorf("loading session of %s: %w", did, err)
	}
	return &data, nil
}

func (s *AuthStore) SaveSession(ctx context.Context, sess oauth.ClientSessionData) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.put(ctx, sessionKey(sess.AccountDID, sess.SessionID), s.sessionTTL, doc); err != nil {
		return err
	}
	id, err := json.Marshal(sess.SessionID)
	if err != nil {
		return err
	}
	return s.put(ctx, accountKey(sess.AccountDID), s.sessionTTL, id)
}

func (s *AuthStore) DeleteSession(ctx context.Context, did syntax.DID, sessionID string) error {
	if err := s.store.Delete(ctx, sessionKey(did, sessionID)); err != nil {
		return err
	}
	// Only drop the index when it still points at this session.
	return s.store.Update(ctx, accountKey(did), s.sessionTTL, func(current []byte) ([]byte, error) {
		var indexed string
		if current == nil || json.Unmarshal(current, &indexed) != nil || indexed == sessionID {
			return nil, nil
		}
		return current, nil
	})
}

// CurrentSession returns the id of the most recently saved session of did.
func (s *AuthStore) CurrentSession(ctx context.Context, did syntax.DID) (string, error) {
	var sessionID string
	if err := s.get(ctx, accountKey(did), &sessionID); err != nil {
		return "", fmt.Errorf("no session for %s: %w", did, err)
	}
	return sessionID, nil
}

func (s *AuthStore) GetAuthRequestInfo(ctx context.Context, state string) (*oauth.AuthRequestData, error) {
	var info oauth.AuthRequestData
	if err := s.get(ctx, requestKey(state), &info); err != nil {
		return nil, fmt.Errorf("loading auth request: %w", err)
	}
	return &info, nil
}

func (s *AuthStore) SaveAuthRequestInfo(ctx context.Context, info oauth.AuthRequestData) error {
	doc, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.store.Update(ctx, requestKey(info.State), authstate.TTL, func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, errors.New("auth request already saved for this state")
		}
		return doc, nil
	})
}

func (s *AuthStore) DeleteAuthRequestInfo(ctx context.Context, state string) error {
	return s.store.Delete(ctx, requestKey(state))
}

func (s *AuthStore) get(ctx context.Context, key string, v any) error {
	doc, err := s.store.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(doc, v)
}

func (s *AuthStore) put(ctx context.Context, key string, ttl time.Duration, doc []byte) error {
	return s.store.Update(ctx, key, ttl, func([]byte) ([]byte, error) {
		return doc, nil
	})
}
