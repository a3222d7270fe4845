package cookie

import (
	"net/http"
	"time"

	"github.com/dgellow/authbridge/internal/envutil"
	"github.com/dgellow/authbridge/internal/log"
)

// SessionCookie holds the signed id of the server-side session document.
const SessionCookie = "authbridge_session"

// FlagValue is the constant value of presence-only cookies.
const FlagValue = "1"

// Options describes attributes shared by a Set and its matching Clear.
// The browser only removes a cookie when name, path and domain match.
type Options struct {
	Path   string
	MaxAge time.Duration
}

// SetSession sets the session cookie with appropriate security settings
func SetSession(w http.ResponseWriter, value string, maxAge time.Duration) {
	secure := !envutil.IsDev()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"maxAge": maxAge.String(),
		"secure": secure,
	})
}

// SetFlag sets an HttpOnly presence cookie scoped to opts.Path.
func SetFlag(w http.ResponseWriter, name string, opts Options) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    FlagValue,
		Path:     opts.Path,
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(opts.MaxAge.Seconds()),
	})

	log.LogTraceWithFields("cookie", "Flag cookie set", map[string]any{
		"path":   opts.Path,
		"maxAge": opts.MaxAge.String(),
	})
}

// Clear removes a cookie by setting MaxAge to -1 on the given path.
func Clear(w http.ResponseWriter, name, path string) {
	if path == "" {
		path = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// ClearSession removes the session cookie
func ClearSession(w http.ResponseWriter) {
	Clear(w, SessionCookie, "/")
	log.LogTraceWithFields("cookie", "Session cookie cleared", nil)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// Has reports whether the request carries a cookie with the given name.
func Has(r *http.Request, name string) bool {
	_, err := r.Cookie(name)
	return err == nil
}

// GetSession retrieves the session cookie value
func GetSession(r *http.Request) (string, error) {
	return Get(r, SessionCookie)
}
