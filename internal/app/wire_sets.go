//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/backend/sqlite"
	"cdsmcp/internal/infra/session"
)

var CoreInfraSet = wire.NewSet(
	NewLogger,
	NewDomainConfig,
	NewMetricsRegistry,
	NewMetrics,
	NewBackend,
	wire.Bind(new(domain.Backend), new(*sqlite.Backend)),
	NewAuthenticator,
)

var CatalogSet = wire.NewSet(
	NewCatalogBuilder,
	NewTranslator,
	NewExecutor,
	NewServerFactory,
	NewCatalogProviderFromConfig,
	wire.Bind(new(session.ServerSource), new(*CatalogProvider)),
)

var TransportSet = wire.NewSet(
	NewSessionManager,
	NewDispatcher,
)

var AppSet = wire.NewSet(
	CoreInfraSet,
	CatalogSet,
	TransportSet,
	wire.Struct(new(ApplicationOptions), "*"),
	NewApplication,
)
