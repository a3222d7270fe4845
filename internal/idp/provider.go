// Package idp implements the login flows of the two supported identity
// providers. Both bind the attempt to the browser through authstate and hand
// a normalized Identity to the caller once the provider has vouched for it.
package idp

import (
	"context"
	"net/url"

	"github.com/dgellow/authbridge/internal/authstate"
)

// Kind names a provider variant.
type Kind string

const (
	KindFederated Kind = "federated"
	KindClassic   Kind = "classic"
)

// Identity is the normalized result of a successful callback.
type Identity struct {
	Provider Kind
	// Subject is the DID for the federated provider and the login for
	// the classic one.
	Subject     string
	Handle      string
	PDS         string
	AvatarURL   string
	AccessToken string
}

// AuthorizeRequest starts a login attempt.
type AuthorizeRequest struct {
	Identifier string
	ReturnTo   string
	Create     bool
}

// Outcome tells the caller where to send the browser after a callback.
type Outcome struct {
	RedirectPath string
	// Cancelled is set when the user declined at the provider. It is not
	// an error.
	Cancelled bool
}

// CompleteFunc persists an authenticated identity. When it fails the
// provider-side session is torn down before the error is returned.
type CompleteFunc func(ctx context.Context, identity *Identity) error

// Provider is implemented by FederatedProvider and ClassicProvider.
type Provider interface {
	Kind() Kind

	// Authorize issues an attempt marker in states and returns the
	// provider URL to redirect the browser to.
	Authorize(ctx context.Context, states authstate.Store, req AuthorizeRequest) (string, error)

	// Callback validates the provider redirect and calls complete with
	// the resulting identity.
	Callback(ctx context.Context, states authstate.Store, query url.Values, complete CompleteFunc) (*Outcome, error)

	// SignOut ends the provider-side session of subject, if the provider
	// keeps one.
	SignOut(ctx context.Context, subject string) error
}

// errorAccessDenied is the OAuth error code sent when the user cancels.
const errorAccessDenied = "access_denied"

// cancelled finishes a declined attempt. The marker is consumed when the
// state still decodes, and the browser goes back to where it came from.
func cancelled(states authstate.Store, codec *authstate.Codec, state string) *Outcome {
	env, _ := authstate.Finish(states, codec, state)
	path := env.Data.RedirectPath
	if path == "" {
		path = "/"
	}
	return &Outcome{RedirectPath: path, Cancelled: true}
}
