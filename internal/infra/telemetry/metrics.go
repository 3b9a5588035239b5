package telemetry

import (
	"time"

	"cdsmcp/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveSessionCreated() {}

func (n *NoopMetrics) ObserveSessionClosed(_ domain.SessionCloseReason) {}

func (n *NoopMetrics) SetActiveSessions(_ int) {}

func (n *NoopMetrics) ObserveToolCall(_ string, _ time.Duration, _ error) {}

func (n *NoopMetrics) ObserveRequestRejected(_ string) {}

func (n *NoopMetrics) ObserveCatalogBuild(_ domain.CatalogSummary, _ error) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
