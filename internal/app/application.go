package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/backend/sqlite"
	"cdsmcp/internal/infra/dispatch"
	"cdsmcp/internal/infra/session"
	"cdsmcp/internal/infra/telemetry"
)

const defaultShutdownTimeout = 10 * time.Second

// Application wires the catalog, sessions and HTTP surface together.
type Application struct {
	cfg        domain.Config
	configPath string
	onReady    func(addr string)

	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  domain.Metrics
	backend  *sqlite.Backend
	provider *CatalogProvider
	sessions *session.Manager
	handler  *dispatch.Handler
}

// ApplicationOptions captures dependencies and settings for Application.
type ApplicationOptions struct {
	ServeConfig ServeConfig
	Logger      *zap.Logger
	Registry    *prometheus.Registry
	Metrics     domain.Metrics
	Backend     *sqlite.Backend
	Provider    *CatalogProvider
	Sessions    *session.Manager
	Handler     *dispatch.Handler
}

func NewApplication(opts ApplicationOptions) *Application {
	return &Application{
		cfg:        opts.ServeConfig.Config,
		configPath: opts.ServeConfig.ConfigPath,
		onReady:    opts.ServeConfig.OnReady,
		logger:     opts.Logger,
		registry:   opts.Registry,
		metrics:    opts.Metrics,
		backend:    opts.Backend,
		provider:   opts.Provider,
		sessions:   opts.Sessions,
		handler:    opts.Handler,
	}
}

// Backend exposes the SQLite backend so operation handlers can be
// registered before serving.
func (a *Application) Backend() *sqlite.Backend {
	return a.backend
}

// Catalog returns the catalog new sessions are created with.
func (a *Application) Catalog() *domain.Catalog {
	return a.provider.Catalog()
}

// Handler returns the HTTP entry point.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Sessions returns the session registry.
func (a *Application) Sessions() *session.Manager {
	return a.sessions
}

// Run listens on the configured address and serves until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	return a.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done, then closes every session
// and shuts the HTTP server down.
func (a *Application) Serve(ctx context.Context, listener net.Listener) error {
	summary := a.provider.Catalog().Summary()
	a.logger.Info("configuration loaded",
		zap.String("config", a.configPath),
		zap.String("model", a.cfg.ModelPath),
		zap.Int("tools", summary.Tools),
		zap.Int("resources", summary.Resources),
		zap.Int("prompts", summary.Prompts),
	)

	a.provider.Start(ctx)
	a.sessions.StartSweeper()
	defer a.sessions.StopSweeper()

	if a.cfg.Observability.Metrics {
		go func() {
			err := telemetry.StartMetricsServer(ctx, telemetry.HTTPServerOptions{
				Addr:     a.cfg.Observability.ListenAddress,
				Registry: a.registry,
			}, a.logger)
			if err != nil {
				a.logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	addr := listener.Addr().String()
	a.logger.Info("mcp endpoint listening",
		zap.String("addr", addr),
		zap.String("path", a.cfg.HTTP.Path),
		zap.String("auth", string(a.cfg.Auth.Mode)),
	)
	if a.onReady != nil {
		a.onReady(addr)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.sessions.CloseAll()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}

	// Closing sessions first ends open event streams so Shutdown can drain.
	a.sessions.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http server shutdown incomplete", zap.Error(err))
		return err
	}
	a.logger.Info("http server stopped")
	return nil
}
