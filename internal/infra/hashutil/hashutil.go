package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"cdsmcp/internal/domain"
)

type catalogFingerprint struct {
	Tools     []domain.ToolDescriptor     `json:"tools"`
	Resources []domain.ResourceDescriptor `json:"resources"`
	Prompts   []domain.PromptDescriptor   `json:"prompts"`
	Entities  map[string]entityShape      `json:"entities"`
}

type entityShape struct {
	Table   string          `json:"table"`
	Columns []domain.Column `json:"columns"`
}

// CatalogETag returns a content hash of everything a client or the backend
// can observe in a catalog. Equal catalogs hash equally regardless of map
// order. Failures are logged and yield "".
func CatalogETag(logger *zap.Logger, catalog *domain.Catalog) string {
	if catalog == nil {
		return ""
	}
	return hashWithLogger(logger, "catalog", func() (string, error) {
		fp := catalogFingerprint{
			Tools:     catalog.Tools,
			Resources: catalog.Resources,
			Prompts:   catalog.Prompts,
			Entities:  make(map[string]entityShape, len(catalog.Entities)),
		}
		for name, entity := range catalog.Entities {
			fp.Entities[name] = entityShape{Table: entity.Table, Columns: entity.Columns}
		}
		return hashJSON(fp)
	})
}

func hashJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func hashWithLogger(logger *zap.Logger, label string, fn func() (string, error)) string {
	etag, err := fn()
	if err != nil {
		if logger != nil {
			logger.Warn(fmt.Sprintf("%s hash failed", label), zap.Error(err))
		}
		return ""
	}
	return etag
}
