package hashutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
)

func sampleCatalog() *domain.Catalog {
	return &domain.Catalog{
		Tools: []domain.ToolDescriptor{{Name: "CatalogService_Books_query", Entity: "CatalogService.Books", Mode: domain.ModeQuery}},
		Entities: map[string]*domain.EntityModel{
			"CatalogService.Books":   {Name: "CatalogService.Books", Table: "CatalogService_Books", Columns: []domain.Column{{Name: "ID", Key: true}}},
			"CatalogService.Authors": {Name: "CatalogService.Authors", Table: "CatalogService_Authors"},
		},
	}
}

func TestCatalogETag_Stable(t *testing.T) {
	first := CatalogETag(zap.NewNop(), sampleCatalog())
	assert.NotEmpty(t, first)
	assert.Len(t, first, 64)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, CatalogETag(zap.NewNop(), sampleCatalog()))
	}
}

func TestCatalogETag_ChangesWithContent(t *testing.T) {
	base := CatalogETag(nil, sampleCatalog())

	renamed := sampleCatalog()
	renamed.Tools[0].Name = "CatalogService_Books_list"
	assert.NotEqual(t, base, CatalogETag(nil, renamed))

	column := sampleCatalog()
	column.Entities["CatalogService.Authors"].Columns = []domain.Column{{Name: "name"}}
	assert.NotEqual(t, base, CatalogETag(nil, column))
}

func TestCatalogETag_Nil(t *testing.T) {
	assert.Empty(t, CatalogETag(nil, nil))
}
