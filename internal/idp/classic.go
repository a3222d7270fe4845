package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgellow/authbridge/internal/apierror"
	"github.com/dgellow/authbridge/internal/authstate"
	"github.com/dgellow/authbridge/internal/githubapi"
	"github.com/dgellow/authbridge/internal/ioutil"
	"github.com/dgellow/authbridge/internal/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// ClassicOptions configures the classic provider.
type ClassicOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	// APIBaseURL and AuthBaseURL override the GitHub hosts, for tests and
	// GitHub Enterprise.
	APIBaseURL  string
	AuthBaseURL string
	HTTPClient  *http.Client
}

// ClassicProvider implements the GitHub OAuth app flow.
type ClassicProvider struct {
	config     oauth2.Config
	codec      *authstate.Codec
	apiBaseURL string
	httpClient *http.Client
}

// githubUserResponse is the subset of GET /user we use.
type githubUserResponse struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// NewClassicProvider creates the GitHub provider.
func NewClassicProvider(opts ClassicOptions, codec *authstate.Codec) *ClassicProvider {
	endpoint := github.Endpoint
	if opts.AuthBaseURL != "" {
		base := strings.TrimSuffix(opts.AuthBaseURL, "/")
		endpoint = oauth2.Endpoint{
			AuthURL:  base + "/login/oauth/authorize",
			TokenURL: base + "/login/oauth/access_token",
		}
	}

	apiBaseURL := opts.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = githubapi.DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	var scopes []string
	if opts.Scope != "" {
		scopes = strings.Fields(opts.Scope)
	}

	return &ClassicProvider{
		config: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		codec:      codec,
		apiBaseURL: apiBaseURL,
		httpClient: httpClient,
	}
}

func (p *ClassicProvider) Kind() Kind {
	return KindClassic
}

// Authorize returns the GitHub authorize URL. A non-empty identifier is
// forwarded as the suggested login.
func (p *ClassicProvider) Authorize(_ context.Context, states authstate.Store, req AuthorizeRequest) (string, error) {
	state, env, err := authstate.Begin(states, p.codec, req.ReturnTo)
	if err != nil {
		return "", err
	}

	var opts []oauth2.AuthCodeOption
	if req.Identifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login", req.Identifier))
	}

	log.LogInfoWithFields("classic", "Redirecting to provider", map[string]any{
		"redirectPath": env.Data.RedirectPath,
	})
	return p.config.AuthCodeURL(state, opts...), nil
}

// Callback validates the attempt before spending the code, then exchanges
// it and looks up the user.
func (p *ClassicProvider) Callback(ctx context.Context, states authstate.Store, query url.Values, complete CompleteFunc) (*Outcome, error) {
	state := query.Get("state")

	if errCode := query.Get("error"); errCode != "" {
		if errCode == errorAccessDenied {
			log.LogInfoWithFields("classic", "Login cancelled by user", nil)
			return cancelled(states, p.codec, state), nil
		}
		_, _ = authstate.Finish(states, p.codec, state)
		msg := query.Get("error_description")
		if msg == "" {
			msg = errCode
		}
		return nil, apierror.ProviderCallback(errors.New(msg))
	}

	env, err := authstate.Finish(states, p.codec, state)
	if err != nil {
		return nil, err
	}

	code := query.Get("code")
	if code == "" {
		return nil, apierror.InvalidInput("Missing authorization code")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		log.LogWarnWithFields("classic", "Code exchange failed", map[string]any{
			"error": err.Error(),
		})
		return nil, apierror.ProviderCallback(errors.New("failed to exchange code for token"))
	}

	user, err := p.fetchUser(ctx, token.AccessToken)
	if err != nil {
		log.LogWarnWithFields("classic", "User lookup failed", map[string]any{
			"error": err.Error(),
		})
		return nil, apierror.ProviderCallback(errors.New("failed to fetch user"))
	}

	ident := &Identity{
		Provider:    KindClassic,
		Subject:     user.Login,
		Handle:      user.Login,
		AccessToken: token.AccessToken,
	}
	if err := complete(ctx, ident); err != nil {
		return nil, err
	}

	log.LogInfoWithFields("classic", "Login complete", map[string]any{
		"username": user.Login,
	})
	return &Outcome{RedirectPath: env.Data.RedirectPath}, nil
}

// SignOut is a no-op: GitHub tokens are simply forgotten.
func (p *ClassicProvider) SignOut(context.Context, string) error {
	return nil
}

func (p *ClassicProvider) fetchUser(ctx context.Context, token string) (*githubUserResponse, error) {
	req, err := githubapi.NewRequest(ctx, http.MethodGet, p.apiBaseURL, "/user", token)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get user: status %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, ioutil.ErrorBodyLimit))
	}

	var user githubUserResponse
	if err := ioutil.DecodeJSON(resp.Body, ioutil.JSONBodyLimit, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if user.Login == "" {
		return nil, errors.New("user response has no login")
	}
	return &user, nil
}
