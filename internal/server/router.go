package server

import (
	"net/http"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// SessionSecretConfigured gates every session-backed route.
	SessionSecretConfigured bool
	AllowedOrigins          []string
}

// NewRouter mounts all routes with logging, panic recovery and CORS.
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	guard := newRequireSessionSecret(opts.SessionSecretConfigured)
	mux := http.NewServeMux()

	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, guard(fn))
	}

	mux.Handle("GET "+HealthPath, NewHealthHandler())

	handle("GET "+FederatedPath, h.FederatedAuth)
	handle("GET "+FederatedSessionPath, h.FederatedSession)
	handle("DELETE "+FederatedSessionPath, h.FederatedLogout)

	handle("GET "+ClassicPath, h.ClassicAuth)
	handle("GET "+ClassicSessionPath, h.ClassicSession)
	handle("DELETE "+ClassicSessionPath, h.ClassicLogout)

	handle("GET "+StarsPath, h.StarStatus)
	handle("PUT "+StarsPath, h.SetStar)
	handle("DELETE "+StarsPath, h.SetStar)

	return ChainMiddleware(mux,
		NewCORSMiddleware(opts.AllowedOrigins),
		NewLoggerMiddleware("http"),
		NewRecoverMiddleware("http"),
	)
}
