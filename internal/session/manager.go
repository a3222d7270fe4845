package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/authbridge/internal/cookie"
	"github.com/dgellow/authbridge/internal/crypto"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/storage"
	"github.com/google/uuid"
)

// Manager loads sessions addressed by a signed id cookie.
type Manager struct {
	store      storage.Store
	signingKey []byte
	ttl        time.Duration
}

// NewManager creates a session manager. signingKey authenticates the id
// cookie and ttl bounds both the cookie and the stored document.
func NewManager(store storage.Store, signingKey []byte, ttl time.Duration) *Manager {
	return &Manager{
		store:      store,
		signingKey: signingKey,
		ttl:        ttl,
	}
}

// Handle is one request's view of a session.
type Handle struct {
	m   *Manager
	w   http.ResponseWriter
	id  string
	doc document
}

// Load returns the session named by the request cookie. A missing,
// forged or expired cookie yields a fresh empty session that is persisted
// on its first Update.
func (m *Manager) Load(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Handle, error) {
	h := &Handle{m: m, w: w, doc: document{}}

	id, ok := m.idFromCookie(r)
	if !ok {
		h.id = uuid.NewString()
		return h, nil
	}
	h.id = id

	raw, err := m.store.Get(ctx, id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		log.LogWarnWithFields("session", "Discarding undecodable session", map[string]any{
			"error": err.Error(),
		})
		return h, nil
	}
	h.doc = doc
	return h, nil
}

func (m *Manager) idFromCookie(r *http.Request) (string, bool) {
	value, err := cookie.GetSession(r)
	if err != nil || value == "" {
		return "", false
	}
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if !crypto.ValidateSignedData(id, sig, m.signingKey) {
		log.LogDebugWithFields("session", "Rejected session cookie with bad signature", nil)
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func (m *Manager) cookieValue(id string) string {
	return id + "." + crypto.SignData(id, m.signingKey)
}

// ID returns the session id. It is never sent to the browser unsigned.
func (h *Handle) ID() string {
	return h.id
}

// Data returns the current typed view of the session.
func (h *Handle) Data() Data {
	return h.doc.view()
}

// Update applies patch atomically to the stored document and refreshes the
// session cookie. A document left without keys is deleted.
func (h *Handle) Update(ctx context.Context, patch Patch) error {
	if patch.Empty() {
		return nil
	}

	var result document
	err := h.m.store.Update(ctx, h.id, h.m.ttl, func(current []byte) ([]byte, error) {
		doc, err := decodeDocument(current)
		if err != nil {
			doc = document{}
		}
		if err := patch.apply(doc); err != nil {
			return nil, err
		}
		result = doc
		if len(doc) == 0 {
			return nil, nil
		}
		return json.Marshal(doc)
	})
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	h.doc = result
	if len(result) == 0 {
		cookie.ClearSession(h.w)
	} else {
		cookie.SetSession(h.w, h.m.cookieValue(h.id), h.m.ttl)
	}

	log.LogTraceWithFields("session", "Session updated", map[string]any{
		"keys": len(result),
	})
	return nil
}
