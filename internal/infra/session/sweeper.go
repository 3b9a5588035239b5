package session

import (
	"time"

	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/telemetry"
)

func sweepInterval(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return time.Minute
	}
	interval := timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// StartSweeper begins periodic expiry of idle sessions. It is a no-op
// when no idle timeout is configured.
func (m *Manager) StartSweeper() {
	if m.opts.IdleTimeout <= 0 {
		return
	}
	m.sweepMu.Lock()
	if m.stopSweep != nil {
		m.sweepMu.Unlock()
		return
	}
	m.stopSweep = make(chan struct{})
	stop := m.stopSweep
	m.sweepMu.Unlock()

	ticker := time.NewTicker(m.opts.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// StopSweeper ends idle expiry.
func (m *Manager) StopSweeper() {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()
	if m.stopSweep == nil {
		return
	}
	close(m.stopSweep)
	m.stopSweep = nil
}

// Sweep closes sessions idle longer than the timeout and returns how many
// were closed.
func (m *Manager) Sweep() int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.opts.Now().Add(-m.opts.IdleTimeout)

	m.mu.RLock()
	var expired []string
	for id, sess := range m.sessions {
		if sess.LastSeen().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	closed := 0
	for _, id := range expired {
		sess, ok := m.remove(id, domain.SessionCloseIdle)
		if !ok {
			continue
		}
		closed++
		m.logger.Debug("idle session reaped", telemetry.EventField(telemetry.EventIdleReap), telemetry.SessionIDField(id))
		if err := closeConn(sess); err != nil {
			m.logger.Debug("session close failed", telemetry.SessionIDField(id), zap.Error(err))
		}
	}
	return closed
}
