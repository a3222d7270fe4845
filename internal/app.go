package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/authbridge/internal/authstate"
	"github.com/dgellow/authbridge/internal/config"
	"github.com/dgellow/authbridge/internal/crypto"
	"github.com/dgellow/authbridge/internal/identity"
	"github.com/dgellow/authbridge/internal/idp"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/dgellow/authbridge/internal/server"
	"github.com/dgellow/authbridge/internal/session"
	"github.com/dgellow/authbridge/internal/stars"
	"github.com/dgellow/authbridge/internal/storage"
	"github.com/dgellow/authbridge/internal/urlutil"
)

// App is the complete authbridge service.
type App struct {
	config     config.Config
	handler    http.Handler
	httpServer *server.HTTPServer
	store      storage.Store
}

type appOptions struct {
	federatedClient idp.FederatedClient
	httpClient      *http.Client
}

// Option configures NewApp.
type Option func(*appOptions)

// WithFederatedClient replaces the OAuth client of the federated provider.
// Without one, and without federated.clientId, the federated routes answer
// UnconfiguredProvider.
func WithFederatedClient(c idp.FederatedClient) Option {
	return func(o *appOptions) {
		o.federatedClient = c
	}
}

// WithHTTPClient sets the client used for the directory, PDS and GitHub.
func WithHTTPClient(c *http.Client) Option {
	return func(o *appOptions) {
		o.httpClient = c
	}
}

// NewApp builds every dependency from cfg.
func NewApp(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	options := appOptions{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(&options)
	}

	log.LogInfoWithFields("app", "Building authbridge", map[string]any{
		"clientOrigin": cfg.ClientOrigin,
		"storage":      string(cfg.Storage.Kind),
	})

	app := &App{config: cfg}

	if !cfg.HasSessionSecret() {
		log.LogErrorWithFields("app", "No session secret configured, all session routes are disabled", nil)
		h := server.NewHandlers(nil, nil, nil, nil)
		app.handler = server.NewRouter(h, server.RouterOptions{AllowedOrigins: cfg.AllowedOrigins})
		app.httpServer = server.NewHTTPServer(app.handler, cfg.Addr)
		return app, nil
	}

	keys, err := deriveKeys([]byte(cfg.SessionSecret))
	if err != nil {
		return nil, err
	}

	store, err := setupStorage(ctx, cfg, keys.storage)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}
	app.store = store

	sessions := session.NewManager(store, keys.cookie, cfg.SessionTTL)
	codec := authstate.NewCodec(keys.state, cfg.ClientOrigin)

	federatedClient := options.federatedClient
	if federatedClient == nil && cfg.Federated.Configured() {
		callbackURL, err := urlutil.JoinPath(cfg.ClientOrigin, server.FederatedPath)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("building federated callback URL: %w", err)
		}
		federatedClient = idp.NewATProtoClient(idp.ATProtoOptions{
			ClientID:    cfg.Federated.ClientID,
			CallbackURL: callbackURL,
			Scope:       cfg.Federated.Scope,
			Store:       idp.NewAuthStore(store, cfg.SessionTTL),
		})
	}

	var federated idp.Provider
	if federatedClient != nil {
		resolver := identity.NewResolver(options.httpClient, cfg.Federated.SlingshotHost, cfg.Federated.CDNHost)
		federated = idp.NewFederatedProvider(federatedClient, codec, resolver, cfg.Federated.Scope)
	} else {
		log.LogWarnWithFields("app", "No federated OAuth client, federated login is disabled", nil)
	}

	var classic idp.Provider
	if cfg.Classic.Configured() {
		redirectURL, err := urlutil.JoinPath(cfg.ClientOrigin, server.ClassicPath)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("building classic redirect URL: %w", err)
		}
		classic = idp.NewClassicProvider(idp.ClassicOptions{
			ClientID:     cfg.Classic.ClientID,
			ClientSecret: string(cfg.Classic.ClientSecret),
			RedirectURL:  redirectURL,
			Scope:        cfg.Classic.Scope,
			APIBaseURL:   cfg.Classic.APIBaseURL,
			AuthBaseURL:  cfg.Classic.AuthBaseURL,
			HTTPClient:   options.httpClient,
		}, codec)
	}

	starService := stars.NewService(stars.NewClient(cfg.Classic.APIBaseURL, options.httpClient))

	h := server.NewHandlers(sessions, federated, classic, starService)
	app.handler = server.NewRouter(h, server.RouterOptions{
		SessionSecretConfigured: true,
		AllowedOrigins:          cfg.AllowedOrigins,
	})
	app.httpServer = server.NewHTTPServer(app.handler, cfg.Addr)
	return app, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves until SIGINT/SIGTERM or a server error, then shuts down.
func (a *App) Run() error {
	errChan := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("app", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("app", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopErr := a.httpServer.Stop(shutdownCtx)
	if err := a.Close(); err != nil {
		log.LogErrorWithFields("app", "Storage close error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("app", "Shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return stopErr
}

// Close releases the session store.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

type derivedKeys struct {
	state   []byte
	cookie  []byte
	storage []byte
}

func deriveKeys(secret []byte) (derivedKeys, error) {
	var keys derivedKeys
	var err error
	if keys.state, err = crypto.DeriveKey(secret, crypto.PurposeStateSigning); err != nil {
		return keys, err
	}
	if keys.cookie, err = crypto.DeriveKey(secret, crypto.PurposeSessionCookie); err != nil {
		return keys, err
	}
	if keys.storage, err = crypto.DeriveKey(secret, crypto.PurposeSessionStorage); err != nil {
		return keys, err
	}
	return keys, nil
}

// setupStorage creates the configured session store. Remote stores encrypt
// documents with storageKey.
func setupStorage(ctx context.Context, cfg config.Config, storageKey []byte) (storage.Store, error) {
	sc := cfg.Storage
	switch sc.Kind {
	case config.StorageFirestore:
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    sc.GCPProject,
			"database":   sc.FirestoreDatabase,
			"collection": sc.FirestoreCollection,
		})
		encryptor, err := crypto.NewEncryptor(storageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		return storage.NewFirestoreStorage(ctx, sc.GCPProject, sc.FirestoreDatabase, sc.FirestoreCollection, encryptor)

	case config.StorageRedis:
		log.LogInfoWithFields("storage", "Using Redis storage", map[string]any{
			"addr": sc.RedisAddr,
			"db":   sc.RedisDB,
		})
		encryptor, err := crypto.NewEncryptor(storageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		return storage.NewRedisStorage(ctx, storage.RedisOptions{
			Addr:      sc.RedisAddr,
			Password:  string(sc.RedisPassword),
			DB:        sc.RedisDB,
			KeyPrefix: sc.RedisKeyPrefix,
		}, encryptor)

	default:
		log.LogInfoWithFields("storage", "Using in-memory storage", nil)
		return storage.NewMemoryStorage(), nil
	}
}
