package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dgellow/authbridge/internal/apierror"
	"github.com/dgellow/authbridge/internal/authstate"
	"github.com/dgellow/authbridge/internal/idp"
	jsonwriter "github.com/dgellow/authbridge/internal/json"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/session"
	"github.com/dgellow/authbridge/internal/stars"
)

// Route paths. State cookies are scoped to the provider route.
const (
	FederatedPath        = "/auth/federated"
	FederatedSessionPath = "/auth/federated/session"
	ClassicPath          = "/auth/classic"
	ClassicSessionPath   = "/auth/classic/session"
	StarsPath            = "/stars"
	HealthPath           = "/health"
)

const maxBodyBytes = 4 << 10

// Handlers serves the authentication and star routes.
type Handlers struct {
	sessions  *session.Manager
	federated idp.Provider
	classic   idp.Provider
	stars     *stars.Service
}

// NewHandlers creates the route handlers. A nil provider makes its routes
// answer UnconfiguredProvider.
func NewHandlers(sessions *session.Manager, federated, classic idp.Provider, starService *stars.Service) *Handlers {
	return &Handlers{
		sessions:  sessions,
		federated: federated,
		classic:   classic,
		stars:     starService,
	}
}

// FederatedAuth starts a login when a handle is given and otherwise
// handles the provider callback.
func (h *Handlers) FederatedAuth(w http.ResponseWriter, r *http.Request) {
	if h.federated == nil {
		jsonwriter.WriteAPIError(w, apierror.UnconfiguredProvider(string(idp.KindFederated)))
		return
	}

	ctx := r.Context()
	query := r.URL.Query()
	states := authstate.NewCookieStore(w, r, FederatedPath)

	if query.Has("handle") {
		target, err := h.federated.Authorize(ctx, states, idp.AuthorizeRequest{
			Identifier: query.Get("handle"),
			ReturnTo:   query.Get("returnTo"),
			Create:     isSet(query.Get("create")),
		})
		if err != nil {
			jsonwriter.WriteAPIError(w, err)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	sess, err := h.sessions.Load(ctx, w, r)
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}

	outcome, err := h.federated.Callback(ctx, states, query, func(ctx context.Context, id *idp.Identity) error {
		return session.LoginFederated(ctx, sess, session.PublicSession{
			DID:    id.Subject,
			Handle: id.Handle,
			PDS:    id.PDS,
			Avatar: id.AvatarURL,
		})
	})
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}
	http.Redirect(w, r, outcome.RedirectPath, http.StatusFound)
}

// FederatedSession returns the public session, or null.
func (h *Handlers) FederatedSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Load(r.Context(), w, r)
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}
	public, err := session.ReadPublic(r.Context(), sess)
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}
	_ = jsonwriter.Write(w, public)
}

// FederatedLogout revokes the provider session and clears the federated
// identity. Provider errors do not prevent the local logout.
func (h *Handlers) FederatedLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := h.sessions.Load(ctx, w, r)
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}

	if public := sess.Data().Public; public != nil && h.federated != nil {
		if err := h.federated.SignOut(ctx, public.DID); err != nil {
			log.LogWarnWithFields("federated", "Provider sign out failed", map[string]any{
				"did":   public.DID,
				"error": err.Error(),
			})
		}
	}

	if err := session.LogoutFederated(ctx, sess); err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}
	_ = jsonwriter.Write(w, "Session cleared")
}

// ClassicAuth redirects to GitHub, or handles the callback when GitHub
// sent back a code or an error.
func (h *Handlers) ClassicAuth(w http.ResponseWriter, r *http.Request) {
	if h.classic == nil {
		jsonwriter.WriteAPIError(w, apierror.UnconfiguredProvider(string(idp.KindClassic)))
		return
	}

	ctx := r.Context()
	query := r.URL.Query()
	states := authstate.NewCookieStore(w, r, ClassicPath)

	if !query.Has("code") && !query.Has("error") {
		target, err := h.classic.Authorize(ctx, states, idp.AuthorizeRequest{
			Identifier: query.Get("login"),
			ReturnTo:   query.Get("returnTo"),
		})
		if err != nil {
			jsonwriter.WriteAPIError(w, err)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	sess, err := h.sessions.Load(ctx, w, r)
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}

	outcome, err := h.classic.Callback(ctx, states, query, func(ctx context.Context, id *idp.Identity) error {
		return session.LoginClassic(ctx, sess, session.GitHubSession{
			AccessToken: id.AccessToken,
			Username:    id.Subject,
		})
	})
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}
	http.Redirect(w, r, outcome.RedirectPath, http.StatusFound)
}

type classicSessionResponse struct {
	Username string `json:"username"`
}

// ClassicSession returns the connected GitHub username, or null. The
// token stays on the server.
func (h *Handlers) ClassicSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Load(r.Context(), w, r)
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}
	gh := session.ReadGitHub(sess)
	if gh == nil {
		_ = jsonwriter.Write(w, nil)
		return
	}
	_ = jsonwriter.Write(w, classicSessionResponse{Username: gh.Username})
}

func (h *Handlers) ClassicLogout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Load(r.Context(), w, r)
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}
	if err := session.LogoutClassic(r.Context(), sess); err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}
	_ = jsonwriter.Write(w, "disconnected")
}

type starResponse struct {
	Starred bool `json:"starred"`
}

// SetStar handles PUT (star) and DELETE (unstar) with a JSON
// {owner, repo} body.
func (h *Handlers) SetStar(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Load(r.Context(), w, r)
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}

	gh := session.ReadGitHub(sess)
	if gh == nil {
		jsonwriter.WriteAPIError(w, stars.NotConnected())
		return
	}

	target, err := decodeTarget(w, r)
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}

	starred, err := h.stars.Set(r.Context(), gh, target, r.Method == http.MethodPut)
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}
	_ = jsonwriter.Write(w, starResponse{Starred: starred})
}

// StarStatus handles GET /stars?owner=&repo=.
func (h *Handlers) StarStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Load(r.Context(), w, r)
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}

	query := r.URL.Query()
	status, err := h.stars.Status(r.Context(), session.ReadGitHub(sess), stars.Target{
		Owner: query.Get("owner"),
		Repo:  query.Get("repo"),
	})
	if err != nil {
		jsonwriter.WriteAPIError(w, err)
		return
	}
	_ = jsonwriter.Write(w, status)
}

// isSet reads a flag query parameter. Any non-empty value other than a
// false boolean counts as set.
func isSet(v string) bool {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v != ""
}

// decodeTarget reads the star body. An empty body decodes to an empty
// target, left for the service to reject.
func decodeTarget(w http.ResponseWriter, r *http.Request) (stars.Target, error) {
	var target stars.Target
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&target)
	if err == nil || errors.Is(err, io.EOF) {
		return target, nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return target, apierror.InvalidInput("Request body too large")
	}
	return target, apierror.InvalidInput("Invalid JSON body")
}
