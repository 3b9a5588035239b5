package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/auth"
	"cdsmcp/internal/infra/backend/sqlite"
	"cdsmcp/internal/infra/dispatch"
	"cdsmcp/internal/infra/mcpserver"
	"cdsmcp/internal/infra/query"
	"cdsmcp/internal/infra/session"
	"cdsmcp/internal/infra/telemetry"
)

// ServeConfig carries the loaded configuration into the object graph.
type ServeConfig struct {
	Config     domain.Config
	ConfigPath string
	// OnReady receives the bound listener address once serving starts.
	OnReady func(addr string)
}

func NewDomainConfig(cfg ServeConfig) domain.Config {
	return cfg.Config
}

func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(prometheus.NewGoCollector())
	return registry
}

func NewMetrics(registry *prometheus.Registry) domain.Metrics {
	return telemetry.NewPrometheusMetrics(registry)
}

// NewBackend opens the SQLite backend; the cleanup closes it.
func NewBackend(cfg domain.Config, logger *zap.Logger) (*sqlite.Backend, func(), error) {
	backend, err := sqlite.New(sqlite.Options{
		DSN:     cfg.Database,
		DataDir: cfg.DataDir,
	}, logger)
	if err != nil {
		return nil, nil, domain.Wrap(domain.CodeBackend, "app.backend", err)
	}
	cleanup := func() {
		if err := backend.Close(); err != nil {
			logger.Warn("backend close failed", zap.Error(err))
		}
	}
	return backend, cleanup, nil
}

func NewTranslator(cfg domain.Config) *query.Translator {
	return query.NewTranslator(query.Options{
		DefaultTop: cfg.Query.DefaultTop,
		MaxTop:     cfg.Query.MaxTop,
	})
}

func NewExecutor(backend domain.Backend, translator *query.Translator, logger *zap.Logger) *query.Executor {
	return query.NewExecutor(backend, translator, logger)
}

func NewServerFactory(cfg domain.Config, exec *query.Executor, metrics domain.Metrics, logger *zap.Logger) ServerFactory {
	opts := mcpserver.Options{
		Name:         cfg.Name,
		Version:      ServerVersion(cfg.Version),
		Instructions: cfg.Instructions,
		Logger:       logger,
		Metrics:      metrics,
	}
	return func(catalog *domain.Catalog) *mcpserver.Server {
		return mcpserver.New(catalog, exec, opts)
	}
}

func NewCatalogProviderFromConfig(
	ctx context.Context,
	cfg domain.Config,
	builder *CatalogBuilder,
	backend domain.Backend,
	factory ServerFactory,
	metrics domain.Metrics,
	logger *zap.Logger,
) (*CatalogProvider, error) {
	return NewCatalogProvider(ctx, CatalogProviderOptions{
		Builder:    builder,
		Backend:    backend,
		NewServer:  factory,
		Metrics:    metrics,
		Logger:     logger,
		WatchModel: cfg.WatchModel,
	})
}

func NewSessionManager(cfg domain.Config, source session.ServerSource, metrics domain.Metrics, logger *zap.Logger) *session.Manager {
	return session.NewManager(source, session.Options{
		IdleTimeout: time.Duration(cfg.HTTP.SessionTimeoutSeconds) * time.Second,
		Logger:      logger,
		Metrics:     metrics,
	})
}

func NewAuthenticator(cfg domain.Config) (auth.Authenticator, error) {
	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}
	return auth.New(cfg.Auth.Mode, verifier)
}

func NewDispatcher(
	cfg domain.Config,
	sessions *session.Manager,
	authn auth.Authenticator,
	metrics domain.Metrics,
	logger *zap.Logger,
) *dispatch.Handler {
	return dispatch.New(sessions, authn, dispatch.Options{
		Path:         cfg.HTTP.Path,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Logger:       logger,
		Metrics:      metrics,
	})
}
