// Package app wires the gateway together: configuration, verification
// policy, protocol client, token store and HTTP server lifecycle.
package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpapi "github.com/aussiebroadwan/oidcgate/internal/gateway/http"
	"github.com/aussiebroadwan/oidcgate/pkg/authn"
	"github.com/aussiebroadwan/oidcgate/pkg/cryptox"
	"github.com/aussiebroadwan/oidcgate/pkg/jwtx"
	"github.com/aussiebroadwan/oidcgate/pkg/oidcx"
	"github.com/aussiebroadwan/oidcgate/pkg/slogx"
	"github.com/aussiebroadwan/oidcgate/pkg/tokenstore"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the gateway with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	policy *jwtx.Policy
	client *oidcx.Client
	store  tokenstore.Store

	session *authn.SessionAuthenticator
	bearer  *authn.BearerAuthenticator

	server *http.Server
	router *httpapi.Router
}

// New resolves every dependency up front so a misconfigured gateway
// refuses to start instead of failing on the first request.
func New(ctx context.Context, cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "oidcgate",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	policy, err := jwtx.NewPolicyBuilder(jwtx.PolicyConfig{
		Issuer:           cfg.Issuer,
		KeyBase64:        cfg.PrivateKeyBase64,
		RequireSignature: cfg.RequireSignature,
		RequireExpiry:    cfg.RequireExpiry,
	}).Build()
	if err != nil {
		return nil, fmt.Errorf("build verification policy: %w", err)
	}
	app.policy = policy

	client, err := oidcx.NewBuilder(oidcx.Config{
		Endpoint:     cfg.ProviderEndpoint,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		UsePKCE:      cfg.UsePKCE,
		AppURL:       cfg.AppURL,
		RedirectPath: cfg.RedirectPath,
		Scopes:       cfg.Scopes,
		VerifyPeer:   cfg.VerifyPeer,
		VerifyHost:   cfg.VerifyHost,
	}).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build protocol client: %w", err)
	}
	app.client = client

	store, err := app.initStore()
	if err != nil {
		return nil, err
	}
	app.store = store

	app.initAuthenticators()
	app.initHTTP()

	return app, nil
}

// initStore resolves the configured token storage adaptor. Unknown names
// fail fast; per-request reflection never happens.
func (app *Application) initStore() (tokenstore.Store, error) {
	switch app.cfg.StorageAdaptor {
	case "session", "":
		return tokenstore.NewMemoryStore(app.cfg.SessionTTL), nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
		return tokenstore.NewRedisStore(rdb, app.cfg.SessionTTL), nil

	case "sqlite":
		key, err := base64.StdEncoding.DecodeString(app.cfg.PrivateKeyBase64)
		if err != nil || len(key) == 0 {
			return nil, fmt.Errorf("sqlite adaptor needs private_key.base64 for at-rest sealing: %w", err)
		}
		box, err := cryptox.NewBox(key)
		if err != nil {
			return nil, fmt.Errorf("derive sealing key: %w", err)
		}
		st, err := tokenstore.NewSQLiteStore(app.cfg.SQLiteFile, box)
		if err != nil {
			return nil, fmt.Errorf("open sqlite token store: %w", err)
		}
		app.logger.Info("token store migrations applied", "file", app.cfg.SQLiteFile)
		return st, nil

	default:
		return nil, fmt.Errorf("%w: %q", tokenstore.ErrUnknownAdaptor, app.cfg.StorageAdaptor)
	}
}

func (app *Application) initAuthenticators() {
	app.session = authn.NewSessionAuthenticator(
		app.policy,
		app.client,
		app.store,
		authn.SessionConfig{
			CookieName:          app.cfg.SessionCookieName,
			CookieTTL:           app.cfg.SessionTTL,
			LogoutPathFragment:  app.cfg.LogoutPathFragment,
			LogoutRedirectURL:   app.cfg.LogoutEndpoint,
			DefaultRedirectPath: "/",
			Introspect:          app.cfg.Introspect,
		},
		authn.WithListener(authn.AuthorizedFunc(func(_ context.Context, ev authn.UserAuthorized) {
			app.logger.Info("user authorized",
				"sub", ev.Subject,
				"name", ev.DisplayName,
				"email", ev.Email,
			)
		})),
	)

	app.bearer = authn.NewBearerAuthenticator(app.policy)
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.store, app.logger)
	router.Session = app.session
	router.Bearer = app.bearer
	router.CookieName = app.session.CookieName()
	router.LogoutURL = app.cfg.LogoutEndpoint
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// Handler exposes the fully wired HTTP surface, mainly for tests.
func (app *Application) Handler() http.Handler {
	return app.router
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.logger.Info("gateway starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if closer, ok := app.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			app.logger.Error("error closing token store", "error", err)
			return err
		}
	}

	app.logger.Info("gateway stopped")
	return nil
}
