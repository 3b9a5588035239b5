package app

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/capability"
	"cdsmcp/internal/infra/model"
)

// CatalogBuilder runs the load, walk and build pipeline for one model file.
type CatalogBuilder struct {
	path    string
	wrap    domain.WrapDefaults
	loader  *model.Loader
	walker  *model.Walker
	builder *capability.Builder
}

func NewCatalogBuilder(cfg domain.Config, logger *zap.Logger) *CatalogBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogBuilder{
		path:   cfg.ModelPath,
		wrap:   cfg.Wrap,
		loader: model.NewLoader(logger),
		walker: model.NewWalker(logger),
		builder: capability.NewBuilder(logger, capability.Options{
			MaxTop: cfg.Query.MaxTop,
		}),
	}
}

// Path returns the model file the builder reads.
func (b *CatalogBuilder) Path() string {
	return b.path
}

// Build reads the model file and derives a fresh catalog.
func (b *CatalogBuilder) Build(ctx context.Context) (*domain.Catalog, error) {
	if strings.TrimSpace(b.path) == "" {
		return nil, domain.E(domain.CodeConfiguration, "catalog.build", "model path is required", domain.ErrConfiguration)
	}
	defs, err := b.loader.Load(ctx, b.path)
	if err != nil {
		return nil, domain.Wrap(domain.CodeConfiguration, "catalog.build", err)
	}
	return b.builder.Build(b.walker.Walk(defs), b.wrap)
}

// sortedEntities lists catalog entities by qualified name.
func sortedEntities(catalog *domain.Catalog) []*domain.EntityModel {
	if catalog == nil {
		return nil
	}
	names := make([]string, 0, len(catalog.Entities))
	for name := range catalog.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*domain.EntityModel, 0, len(names))
	for _, name := range names {
		out = append(out, catalog.Entities[name])
	}
	return out
}

// prepareBackend creates storage for every entity when the backend supports it.
func prepareBackend(ctx context.Context, backend domain.Backend, catalog *domain.Catalog) error {
	preparer, ok := backend.(domain.SchemaPreparer)
	if !ok {
		return nil
	}
	if err := preparer.Prepare(ctx, sortedEntities(catalog)); err != nil {
		return domain.Wrap(domain.CodeBackend, "catalog.prepare", err)
	}
	return nil
}
