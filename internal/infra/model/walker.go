package model

import (
	"strings"

	"go.uber.org/zap"

	"cdsmcp/internal/domain"
)

// Walker filters a definition set down to the annotated elements the
// capability builder consumes.
type Walker struct {
	logger *zap.Logger
}

func NewWalker(logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{logger: logger.Named("walker")}
}

// Walk returns annotated elements in declaration order. Every definition is
// indexed so association targets resolve even when they carry no annotation.
func (w *Walker) Walk(defs []*domain.SchemaElement) *domain.Schema {
	schema := &domain.Schema{Index: make(map[string]*domain.SchemaElement, len(defs))}
	if len(defs) == 0 {
		w.logger.Debug("no definitions to walk")
		return schema
	}

	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		schema.Index[def.Name] = def
	}

	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		def.Service = owningService(def, schema.Index)
		if !def.Annotations.Has(domain.AnnotationPrefix) {
			continue
		}
		if def.Kind == domain.KindEntity && len(def.Elements) == 0 {
			w.logger.Debug("skip entity without elements", zap.String("definition", def.Name))
			continue
		}
		schema.Elements = append(schema.Elements, def)
	}
	return schema
}

// owningService picks the longest dotted prefix that names a service.
func owningService(def *domain.SchemaElement, index map[string]*domain.SchemaElement) string {
	if def.Kind == domain.KindService {
		return def.Name
	}
	name := def.Name
	for {
		idx := strings.LastIndex(name, ".")
		if idx <= 0 {
			return ""
		}
		name = name[:idx]
		if owner, ok := index[name]; ok && owner.Kind == domain.KindService {
			return name
		}
	}
}
