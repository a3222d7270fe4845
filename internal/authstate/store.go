package authstate

import (
	"net/http"
	"sync"
	"time"

	"github.com/dgellow/authbridge/internal/cookie"
)

// Store keeps single-use presence markers for in-flight login attempts.
type Store interface {
	// Put records key for ttl.
	Put(key string, ttl time.Duration) error
	// Consume reports whether key was present and removes it.
	Consume(key string) bool
}

// CookiePrefix is prepended to the attempt id to form the cookie name, so
// concurrent attempts from one browser use distinct cookies.
const CookiePrefix = "oauth_req_"

// CookieStore keeps markers as cookies on the browser. It is bound to a
// single request and scopes cookies to path, the route that starts and
// finishes the flow.
type CookieStore struct {
	w    http.ResponseWriter
	r    *http.Request
	path string

	mu       sync.Mutex
	consumed map[string]bool
}

// NewCookieStore binds a store to one request/response pair.
func NewCookieStore(w http.ResponseWriter, r *http.Request, path string) *CookieStore {
	return &CookieStore{
		w:        w,
		r:        r,
		path:     path,
		consumed: make(map[string]bool),
	}
}

func (s *CookieStore) Put(key string, ttl time.Duration) error {
	cookie.SetFlag(s.w, CookiePrefix+key, cookie.Options{Path: s.path, MaxAge: ttl})
	return nil
}

func (s *CookieStore) Consume(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := CookiePrefix + key
	if s.consumed[name] || !cookie.Has(s.r, name) {
		return false
	}
	s.consumed[name] = true
	cookie.Clear(s.w, name, s.path)
	return true
}

// MemoryStore is an in-process Store, used where no browser is involved.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) Consume(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.entries[key]
	if !ok {
		return false
	}
	delete(s.entries, key)
	return s.now().Before(expiresAt)
}
