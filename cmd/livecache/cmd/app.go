package cmd

import (
	"context"
	"os"
	"time"

	"github.com/orchestra-mcp/livecache/config"
	"github.com/orchestra-mcp/livecache/src/apiclient"
	"github.com/orchestra-mcp/livecache/src/auth"
	"github.com/orchestra-mcp/livecache/src/cache"
	"github.com/orchestra-mcp/livecache/src/project"
	"github.com/orchestra-mcp/livecache/src/realtime"
	"github.com/rs/zerolog"
)

// app wires the client stack for one command run.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	session *auth.Session
	client  *apiclient.Client
	manager *realtime.Manager
	store   *cache.Store
}

func newApp(cfg *config.Config) *app {
	logger := config.NewLogger(cfg.Log, os.Stderr)

	var tokens auth.Store = auth.NewMemoryStore()
	if cfg.Auth.TokenFile != "" {
		tokens = auth.NewFileStore(cfg.Auth.TokenFile)
	}
	redirect := func(path string) {
		logger.Warn().Str("redirect", path).Msg("sign in again to continue")
	}

	guard := auth.NewGuard(cfg.Auth, tokens, redirect, logger)
	refresher := auth.NewRefresher(apiclient.BuildURL(cfg.API.BaseURL, cfg.Auth.RefreshPath, nil), tokens, nil, logger)
	session := auth.NewSession(tokens, refresher, guard.Navigate, logger)

	client := apiclient.New(&apiclient.Config{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.Timeout,
		AccessToken:    session.AccessToken,
		RefreshToken:   session.Refresh,
		OnUnauthorized: session.Unauthorized,
		OnError:        guard.Handle,
		Retry: apiclient.RetryOptions{
			Attempts:  cfg.API.RetryAttempts,
			BaseDelay: cfg.API.RetryBaseDelay,
			MaxJitter: cfg.API.RetryJitter,
		},
		Logger: &logger,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		session: session,
		client:  client,
		manager: realtime.NewManager(realtime.Options{
			EnvURL:  cfg.Realtime.URL,
			Origin:  cfg.Realtime.Origin,
			Dialers: realtime.DefaultDialers(&cfg.Redis),
			Logger:  logger,
		}),
		store: cache.NewStore(logger),
	}
}

// connection returns the shared realtime connection.
func (a *app) connection() *realtime.Connection {
	return a.manager.GetConnection(a.session.AccessToken, realtime.ParamsFromConfig(a.cfg.Realtime))
}

// projects returns a repository. live enables realtime sync.
func (a *app) projects(live bool) *project.Repository {
	var sub cache.Subscriber
	if live {
		sub = a.connection()
	}
	return project.NewRepository(project.NewAPI(a.client), a.store, sub, a.logger)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.manager.Shutdown(ctx); err != nil {
		a.logger.Debug().Err(err).Msg("realtime shutdown")
	}
}
