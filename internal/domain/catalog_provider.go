package domain

import "time"

type CatalogUpdateSource string

const (
	CatalogUpdateSourceBootstrap CatalogUpdateSource = "bootstrap"
	CatalogUpdateSourceWatch     CatalogUpdateSource = "watch"
	CatalogUpdateSourceManual    CatalogUpdateSource = "manual"
)

// CatalogUpdate announces a catalog revision that replaced the previous one.
type CatalogUpdate struct {
	Revision uint64
	Summary  CatalogSummary
	Source   CatalogUpdateSource
	LoadedAt time.Time
}
