// Package app wires the license service together: configuration, logging,
// store, engine, realtime hub and the HTTP server, with graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phattra-dev/vidttool/internal/config"
	"github.com/phattra-dev/vidttool/internal/infrastructure"
	"github.com/phattra-dev/vidttool/internal/license"
	"github.com/phattra-dev/vidttool/internal/store"
	transport "github.com/phattra-dev/vidttool/internal/transport/http"
	"github.com/phattra-dev/vidttool/internal/websocket"
)

// App is the assembled license service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	svc    *license.Service
	hub    *websocket.Hub
	server *http.Server
}

// New loads configuration and assembles the service. The store backend is
// Postgres when a database URL is configured, in-memory otherwise.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	hub := websocket.NewHub(logger)
	svc := license.NewService(st, cfg.Policy,
		license.WithLogger(logger),
		license.WithPublisher(hub),
	)

	router := transport.NewRouter(cfg, svc, hub, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		store:  st,
		svc:    svc,
		hub:    hub,
		server: server,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database URL configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}

	db, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store.NewPostgresStore(db), nil
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("license service listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown", "error", err)
	}
	stopHub()
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close", "error", err)
	}
	return nil
}

// Addr returns the configured listen address.
func (a *App) Addr() string {
	return a.server.Addr
}
