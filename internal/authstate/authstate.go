// Package authstate binds an OAuth authorization request to the browser that
// started it. Each attempt gets a random id recorded in a Store, and the id
// travels with the return path inside a signed envelope passed as the OAuth
// state parameter.
package authstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/authbridge/internal/apierror"
	"github.com/dgellow/authbridge/internal/crypto"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/urlutil"
)

// TTL bounds how long a login attempt may take.
const TTL = 5 * time.Minute

var (
	// ErrMissingAuthState means the attempt marker is gone: already used,
	// expired, or never stored because cookies are blocked.
	ErrMissingAuthState = errors.New("auth state not found")

	// ErrInvalidState means the state parameter could not be decoded.
	ErrInvalidState = errors.New("invalid state parameter")
)

// Issue generates a new attempt id and records it in store.
func Issue(store Store) (string, error) {
	id, err := crypto.GenerateRandomHex(crypto.StateIDBytes)
	if err != nil {
		return "", err
	}
	if err := store.Put(id, TTL); err != nil {
		return "", fmt.Errorf("storing auth state: %w", err)
	}
	return id, nil
}

// Validate consumes the marker for id. It fails with ErrMissingAuthState,
// mapped to a 400 for the browser, when no marker exists.
func Validate(store Store, id string) error {
	if id == "" || !store.Consume(id) {
		log.LogDebugWithFields("authstate", "Auth state not found", nil)
		return fmt.Errorf("%w: %w", apierror.MissingAuthState(), ErrMissingAuthState)
	}
	return nil
}

// EnvelopeData is the application payload carried through the provider.
type EnvelopeData struct {
	RedirectPath string `json:"redirectPath"`
}

// Envelope is the decoded form of the OAuth state parameter.
type Envelope struct {
	Data EnvelopeData `json:"data"`
	ID   string       `json:"id"`
}

// Codec signs and verifies envelopes. Decoded redirect paths are sanitized
// again against the trusted origin.
type Codec struct {
	signer        crypto.TokenSigner
	trustedOrigin string
}

// NewCodec creates a codec signing with key. Envelopes expire after TTL.
func NewCodec(key []byte, trustedOrigin string) *Codec {
	return &Codec{
		signer:        crypto.NewTokenSigner(key, TTL),
		trustedOrigin: trustedOrigin,
	}
}

// TrustedOrigin is the origin redirect paths are checked against.
func (c *Codec) TrustedOrigin() string {
	return c.trustedOrigin
}

func (c *Codec) Encode(env Envelope) (string, error) {
	state, err := c.signer.Sign(env)
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}
	return state, nil
}

func (c *Codec) Decode(state string) (Envelope, error) {
	var env Envelope
	if state == "" {
		return env, ErrInvalidState
	}
	if err := c.signer.Verify(state, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	env.Data.RedirectPath = urlutil.SanitizeReturnPath(env.Data.RedirectPath, c.trustedOrigin)
	return env, nil
}

// Begin sanitizes returnTo, issues an attempt id and returns the encoded
// state to hand to the provider.
func Begin(store Store, codec *Codec, returnTo string) (string, Envelope, error) {
	env := Envelope{
		Data: EnvelopeData{
			RedirectPath: urlutil.SanitizeReturnPath(returnTo, codec.trustedOrigin),
		},
	}

	id, err := Issue(store)
	if err != nil {
		return "", env, err
	}
	env.ID = id

	state, err := codec.Encode(env)
	if err != nil {
		return "", env, err
	}
	return state, env, nil
}

// Finish decodes state and consumes its attempt marker. The envelope is
// returned whenever decoding succeeded, even if the marker was missing, so
// callers can still redirect to its path.
func Finish(store Store, codec *Codec, state string) (Envelope, error) {
	env, err := codec.Decode(state)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", apierror.MissingAuthState(), err)
	}
	if err := Validate(store, env.ID); err != nil {
		return env, err
	}
	return env, nil
}
