package idp

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/dgellow/authbridge/internal/apierror"
	"github.com/dgellow/authbridge/internal/authstate"
	"github.com/dgellow/authbridge/internal/identity"
	"github.com/dgellow/authbridge/internal/log"
)

// AuthorizeOptions are passed to the federated OAuth client.
type AuthorizeOptions struct {
	Scope  string
	Prompt string
	State  string
}

// TokenInfo describes the access token of a federated session.
type TokenInfo struct {
	// Aud is the PDS the token is issued for.
	Aud string
}

// FederatedSession is an authenticated session held by the OAuth client.
type FederatedSession interface {
	DID() string
	TokenInfo(ctx context.Context) (*TokenInfo, error)
	SignOut(ctx context.Context) error
}

// CallbackResult is returned by a successful FederatedClient.Callback.
type CallbackResult struct {
	Session FederatedSession
	// State is the application state passed to Authorize.
	State string
}

// CallbackError is returned by FederatedClient.Callback when the redirect
// carries an error or fails validation. State is the application state
// when the client could recover it.
type CallbackError struct {
	State string
	Code  string
	Err   error
}

func (e *CallbackError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Err.Error()
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// FederatedClient is the OAuth client of the federated provider. It owns
// PAR, DPoP and token storage.
type FederatedClient interface {
	Authorize(ctx context.Context, identifier string, opts AuthorizeOptions) (*url.URL, error)
	Callback(ctx context.Context, query url.Values) (*CallbackResult, error)
	Restore(ctx context.Context, did string) (FederatedSession, error)
}

// FederatedProvider logs users in with a handle or DID.
type FederatedProvider struct {
	client   FederatedClient
	codec    *authstate.Codec
	resolver *identity.Resolver
	scope    string
}

// NewFederatedProvider creates the federated provider.
func NewFederatedProvider(client FederatedClient, codec *authstate.Codec, resolver *identity.Resolver, scope string) *FederatedProvider {
	return &FederatedProvider{
		client:   client,
		codec:    codec,
		resolver: resolver,
		scope:    scope,
	}
}

func (p *FederatedProvider) Kind() Kind {
	return KindFederated
}

// ValidateIdentifier accepts an https URL, a handle or a DID.
func ValidateIdentifier(identifier string) error {
	if identifier == "" {
		return apierror.InvalidInput("Invalid handle")
	}
	if u, err := url.Parse(identifier); err == nil && u.Scheme == "https" && u.Host != "" {
		return nil
	}
	if _, err := syntax.ParseHandle(identifier); err == nil {
		return nil
	}
	if _, err := syntax.ParseDID(identifier); err == nil {
		return nil
	}
	return apierror.InvalidInput("Invalid handle")
}

func (p *FederatedProvider) Authorize(ctx context.Context, states authstate.Store, req AuthorizeRequest) (string, error) {
	if err := ValidateIdentifier(req.Identifier); err != nil {
		return "", err
	}

	state, env, err := authstate.Begin(states, p.codec, req.ReturnTo)
	if err != nil {
		return "", err
	}

	opts := AuthorizeOptions{Scope: p.scope, State: state}
	if req.Create {
		opts.Prompt = "create"
	}

	u, err := p.client.Authorize(ctx, req.Identifier, opts)
	if err != nil {
		log.LogWarnWithFields("federated", "Authorization request failed", map[string]any{
			"error": err.Error(),
		})
		return "", apierror.ProviderCallback(err)
	}

	log.LogInfoWithFields("federated", "Redirecting to provider", map[string]any{
		"redirectPath": env.Data.RedirectPath,
		"create":       req.Create,
	})
	return u.String(), nil
}

func (p *FederatedProvider) Callback(ctx context.Context, states authstate.Store, query url.Values, complete CompleteFunc) (*Outcome, error) {
	result, err := p.client.Callback(ctx, query)
	if err != nil {
		var cbErr *CallbackError
		if !errors.As(err, &cbErr) {
			return nil, apierror.ProviderCallback(err)
		}
		if cbErr.Code == errorAccessDenied || query.Get("error") == errorAccessDenied {
			log.LogInfoWithFields("federated", "Login cancelled by user", nil)
			return cancelled(states, p.codec, cbErr.State), nil
		}
		if cbErr.State != "" {
			_, _ = authstate.Finish(states, p.codec, cbErr.State)
		}
		log.LogWarnWithFields("federated", "Callback rejected", map[string]any{
			"error": cbErr.Error(),
		})
		return nil, apierror.ProviderCallback(cbErr)
	}

	sess := result.Session
	env, err := authstate.Finish(states, p.codec, result.State)
	if err != nil {
		p.abort(ctx, sess)
		return nil, err
	}

	did, err := syntax.ParseDID(sess.DID())
	if err != nil {
		p.abort(ctx, sess)
		return nil, apierror.ProviderCallback(fmt.Errorf("provider returned an invalid DID: %w", err))
	}

	enriched := p.resolver.Enrich(ctx, did.String(), func(ctx context.Context) (string, error) {
		info, err := sess.TokenInfo(ctx)
		if err != nil {
			return "", err
		}
		return info.Aud, nil
	})

	ident := &Identity{
		Provider:  KindFederated,
		Subject:   enriched.Profile.DID,
		Handle:    enriched.Profile.Handle,
		PDS:       enriched.Profile.PDS,
		AvatarURL: enriched.Profile.Avatar,
	}
	if err := complete(ctx, ident); err != nil {
		p.abort(ctx, sess)
		return nil, err
	}

	log.LogInfoWithFields("federated", "Login complete", map[string]any{
		"did":        ident.Subject,
		"enrichment": enriched.Status.String(),
	})
	return &Outcome{RedirectPath: env.Data.RedirectPath}, nil
}

// SignOut revokes the provider session of did.
func (p *FederatedProvider) SignOut(ctx context.Context, did string) error {
	sess, err := p.client.Restore(ctx, did)
	if err != nil {
		return fmt.Errorf("restoring federated session: %w", err)
	}
	return sess.SignOut(ctx)
}

// abort revokes a provider session that will not be recorded locally.
func (p *FederatedProvider) abort(ctx context.Context, sess FederatedSession) {
	if err := sess.SignOut(ctx); err != nil {
		log.LogErrorWithFields("federated", "Failed to sign out abandoned session", map[string]any{
			"error": err.Error(),
		})
	}
}
