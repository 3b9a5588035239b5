package app

import (
	"context"

	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/backend/sqlite"
)

// BuildCatalog derives the catalog for cfg without touching the database.
func BuildCatalog(ctx context.Context, cfg domain.Config, logger *zap.Logger) (*domain.Catalog, error) {
	return NewCatalogBuilder(cfg, logger).Build(ctx)
}

// Validate builds the catalog and materializes its tables and seed data in
// a scratch in-memory database.
func Validate(ctx context.Context, cfg domain.Config, logger *zap.Logger) (*domain.Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	catalog, err := BuildCatalog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	scratch, err := sqlite.New(sqlite.Options{DSN: ":memory:", DataDir: cfg.DataDir}, logger)
	if err != nil {
		return nil, err
	}
	defer scratch.Close()
	if err := prepareBackend(ctx, scratch, catalog); err != nil {
		return nil, err
	}

	summary := catalog.Summary()
	logger.Info("configuration validated",
		zap.String("model", cfg.ModelPath),
		zap.Int("tools", summary.Tools),
		zap.Int("resources", summary.Resources),
		zap.Int("prompts", summary.Prompts),
		zap.Int("diagnostics", summary.Diagnostics),
	)
	return catalog, nil
}
