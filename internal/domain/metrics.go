package domain

import "time"

// SessionCloseReason labels why a session left the registry.
type SessionCloseReason string

const (
	SessionCloseExplicit  SessionCloseReason = "explicit"
	SessionCloseTransport SessionCloseReason = "transport"
	SessionCloseIdle      SessionCloseReason = "idle"
	SessionCloseShutdown  SessionCloseReason = "shutdown"
	SessionCloseRejected  SessionCloseReason = "rejected"
)

// Metrics records operational metrics for sessions, tools and catalogs.
type Metrics interface {
	ObserveSessionCreated()
	ObserveSessionClosed(reason SessionCloseReason)
	SetActiveSessions(count int)
	ObserveToolCall(tool string, duration time.Duration, err error)
	ObserveRequestRejected(reason string)
	ObserveCatalogBuild(summary CatalogSummary, err error)
}
