package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bluesky-social/indigo/atproto/atcrypto"
	"github.com/bluesky-social/indigo/atproto/auth/oauth"
	atidentity "github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/dgellow/authbridge/internal/crypto"
	"github.com/dgellow/authbridge/internal/ioutil"
	"github.com/dgellow/authbridge/internal/log"
)

// pkceVerifierBytes gives a 96 character verifier.
const pkceVerifierBytes = 48

// ATProtoOptions configures NewATProtoClient.
type ATProtoOptions struct {
	// ClientID is the URL of the client metadata document. An
	// http://localhost value selects a development client.
	ClientID    string
	CallbackURL string
	Scope       string
	Store       *AuthStore

	// HTTPClient and Directory replace the SSRF-guarded defaults in tests.
	HTTPClient *http.Client
	Directory  atidentity.Directory
}

// ATProtoClient is a FederatedClient backed by indigo's OAuth ClientApp.
// It pushes its own authorization request so that the request carries the
// application state and prompt. The pending request is stored under that
// state, which lets ProcessCallback find it from the redirect.
type ATProtoClient struct {
	app   *oauth.ClientApp
	store *AuthStore
}

var _ FederatedClient = (*ATProtoClient)(nil)

// NewATProtoClient creates the federated OAuth client.
func NewATProtoClient(opts ATProtoOptions) *ATProtoClient {
	scopes := strings.Fields(opts.Scope)
	var config oauth.ClientConfig
	if strings.HasPrefix(opts.ClientID, "http://localhost") {
		config = oauth.NewLocalhostConfig(opts.CallbackURL, scopes)
	} else {
		config = oauth.NewPublicConfig(opts.ClientID, opts.CallbackURL, scopes)
	}
	config.UserAgent = "authbridge"

	app := oauth.NewClientApp(&config, opts.Store)
	if opts.HTTPClient != nil {
		app.Client = opts.HTTPClient
		app.Resolver.Client = opts.HTTPClient
	}
	if opts.Directory != nil {
		app.Dir = opts.Directory
	}
	return &ATProtoClient{app: app, store: opts.Store}
}

func (c *ATProtoClient) Authorize(ctx context.Context, identifier string, opts AuthorizeOptions) (*url.URL, error) {
	var (
		authServerURL string
		loginHint     string
		accountDID    *syntax.DID
	)
	if strings.HasPrefix(identifier, "https://") {
		authServerURL = identifier
	} else {
		atid, err := syntax.ParseAtIdentifier(identifier)
		if err != nil {
			return nil, fmt.Errorf("invalid account identifier: %w", err)
		}
		ident, err := c.app.Dir.Lookup(ctx, atid)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", identifier, err)
		}
		host := ident.PDSEndpoint()
		if host == "" {
			return nil, fmt.Errorf("%s does not declare a PDS", identifier)
		}
		if authServerURL, err = c.app.Resolver.ResolveAuthServerURL(ctx, host); err != nil {
			return nil, fmt.Errorf("resolving auth server: %w", err)
		}
		did := ident.DID
		accountDID = &did
		loginHint = identifier
	}

	meta, err := c.app.Resolver.ResolveAuthServerMetadata(ctx, authServerURL)
	if err != nil {
		return nil, fmt.Errorf("fetching auth server metadata: %w", err)
	}

	scopes := strings.Fields(opts.Scope)
	if len(scopes) == 0 {
		scopes = c.app.Config.Scopes
	}
	info, err := c.pushAuthRequest(ctx, meta, pushedRequest{
		state:     opts.State,
		scopes:    scopes,
		loginHint: loginHint,
		prompt:    opts.Prompt,
	})
	if err != nil {
		return nil, err
	}
	info.AccountDID = accountDID
	if err := c.store.SaveAuthRequestInfo(ctx, *info); err != nil {
		return nil, fmt.Errorf("saving auth request: %w", err)
	}

	u, err := url.Parse(meta.AuthorizationEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid authorization endpoint: %w", err)
	}
	u.RawQuery = url.Values{
		"client_id":   {c.app.Config.ClientID},
		"request_uri": {info.RequestURI},
	}.Encode()
	return u, nil
}

type pushedRequest struct {
	state     string
	scopes    []string
	loginHint string
	prompt    string
}

// pushAuthRequest sends the PAR request with PKCE and a fresh DPoP key,
// retrying once when the server asks for a DPoP nonce.
func (c *ATProtoClient) pushAuthRequest(ctx context.Context, meta *oauth.AuthServerMetadata, req pushedRequest) (*oauth.AuthRequestData, error) {
	verifier, err := crypto.GenerateRandomHex(pkceVerifierBytes)
	if err != nil {
		return nil, err
	}
	dpopKey, err := atcrypto.GeneratePrivateKeyP256()
	if err != nil {
		return nil, fmt.Errorf("generating DPoP key: %w", err)
	}

	cfg := c.app.Config
	form := url.Values{
		"client_id":             {cfg.ClientID},
		"state":                 {req.state},
		"redirect_uri":          {cfg.CallbackURL},
		"scope":                 {strings.Join(req.scopes, " ")},
		"response_type":         {"code"},
		"code_challenge":        {oauth.S256CodeChallenge(verifier)},
		"code_challenge_method": {"S256"},
	}
	if req.loginHint != "" {
		form.Set("login_hint", req.loginHint)
	}
	if req.prompt != "" {
		form.Set("prompt", req.prompt)
	}
	if cfg.IsConfidential() {
		assertion, err := cfg.NewClientAssertion(meta.Issuer)
		if err != nil {
			return nil, err
		}
		form.Set("client_assertion_type", oauth.ClientAssertionJWTBearer)
		form.Set("client_assertion", assertion)
	}
	body := form.Encode()
	endpoint := meta.PushedAuthorizationRequestEndpoint

	var (
		resp  *http.Response
		nonce string
	)
	for attempt := 0; ; attempt++ {
		proof, err := oauth.NewAuthDPoP(http.MethodPost, endpoint, nonce, dpopKey)
		if err != nil {
			return nil, fmt.Errorf("signing DPoP proof: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		httpReq.Header.Set("DPoP", proof)

		resp, err = c.app.Client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("PAR request failed: %w", err)
		}
		nonce = resp.Header.Get("DPoP-Nonce")
		if attempt == 0 && resp.StatusCode == http.StatusBadRequest && nonce != "" {
			reason := authErrorReason(resp)
			if reason == "use_dpop_nonce" {
				continue
			}
			return nil, fmt.Errorf("PAR request failed (HTTP %d): %s", http.StatusBadRequest, reason)
		}
		break
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("PAR request failed (HTTP %d): %s", resp.StatusCode, authErrorReason(resp))
	}
	defer resp.Body.Close()

	var par oauth.PushedAuthResponse
	if err := ioutil.DecodeJSON(resp.Body, ioutil.JSONBodyLimit, &par); err != nil {
		return nil, fmt.Errorf("decoding PAR response: %w", err)
	}
	if par.RequestURI == "" {
		return nil, errors.New("PAR response has no request_uri")
	}

	return &oauth.AuthRequestData{
		State:                        req.state,
		AuthServerURL:                meta.Issuer,
		Scopes:                       req.scopes,
		RequestURI:                   par.RequestURI,
		AuthServerTokenEndpoint:      meta.TokenEndpoint,
		AuthServerRevocationEndpoint: meta.RevocationEndpoint,
		PKCEVerifier:                 verifier,
		DPoPAuthServerNonce:          nonce,
		DPoPPrivateKeyMultibase:      dpopKey.Multibase(),
	}, nil
}

// authErrorReason reads the OAuth error code of resp and closes its body.
func authErrorReason(resp *http.Response) string {
	defer resp.Body.Close()
	var body struct {
		Error string `json:"error"`
	}
	if err := ioutil.DecodeJSON(resp.Body, ioutil.ErrorBodyLimit, &body); err != nil || body.Error == "" {
		return "unknown"
	}
	return body.Error
}

func (c *ATProtoClient) Callback(ctx context.Context, query url.Values) (*CallbackResult, error) {
	state := query.Get("state")
	data, err := c.app.ProcessCallback(ctx, query)
	if err != nil {
		cbErr := &CallbackError{Err: err}
		var asErr *oauth.AuthRequestCallbackError
		if errors.As(err, &asErr) {
			cbErr.Code = asErr.ErrorCode
		}
		// A pending request proves the state was issued here. It is
		// single use whatever the outcome.
		if state != "" {
			if _, lookupErr := c.store.GetAuthRequestInfo(ctx, state); lookupErr == nil {
				cbErr.State = state
				if delErr := c.store.DeleteAuthRequestInfo(ctx, state); delErr != nil {
					log.LogWarnWithFields("federated", "Failed to delete auth request", map[string]any{
						"error": delErr.Error(),
					})
				}
			}
		}
		return nil, cbErr
	}
	return &CallbackResult{
		Session: &atprotoSession{app: c.app, data: data},
		State:   state,
	}, nil
}

func (c *ATProtoClient) Restore(ctx context.Context, did string) (FederatedSession, error) {
	parsed, err := syntax.ParseDID(did)
	if err != nil {
		return nil, err
	}
	sessionID, err := c.store.CurrentSession(ctx, parsed)
	if err != nil {
		return nil, err
	}
	data, err := c.store.GetSession(ctx, parsed, sessionID)
	if err != nil {
		return nil, err
	}
	return &atprotoSession{app: c.app, data: data}, nil
}

type atprotoSession struct {
	app  *oauth.ClientApp
	data *oauth.ClientSessionData
}

func (s *atprotoSession) DID() string {
	return s.data.AccountDID.String()
}

// TokenInfo reports the PDS the session's tokens are issued for.
func (s *atprotoSession) TokenInfo(context.Context) (*TokenInfo, error) {
	if s.data.HostURL == "" {
		return nil, errors.New("session has no host")
	}
	return &TokenInfo{Aud: s.data.HostURL}, nil
}

// SignOut revokes the tokens when the server supports it and deletes the
// stored session.
func (s *atprotoSession) SignOut(ctx context.Context) error {
	return s.app.Logout(ctx, s.data.AccountDID, s.data.SessionID)
}
