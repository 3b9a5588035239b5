package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/mcpserver"
	"cdsmcp/internal/infra/telemetry"
)

const opSession = "session"

// ServerSource yields the server for the current catalog.
type ServerSource interface {
	Server() *mcpserver.Server
}

// ServerSourceFunc adapts a function to ServerSource.
type ServerSourceFunc func() *mcpserver.Server

func (f ServerSourceFunc) Server() *mcpserver.Server {
	return f()
}

type Options struct {
	// IdleTimeout closes sessions that saw no request for this long. Zero
	// disables expiry.
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	Logger        *zap.Logger
	Metrics       domain.Metrics
	Now           func() time.Time
}

// Manager is the registry of live sessions. Requests on one session are
// not serialized here; the protocol connection may run them concurrently.
type Manager struct {
	source  ServerSource
	opts    Options
	logger  *zap.Logger
	metrics domain.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session

	sweepMu   sync.Mutex
	stopSweep chan struct{}
}

func NewManager(source ServerSource, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = sweepInterval(opts.IdleTimeout)
	}
	return &Manager{
		source:   source,
		opts:     opts,
		logger:   logger.Named("session"),
		metrics:  metrics,
		sessions: map[string]*Session{},
	}
}

// Create mints a session id, connects a fresh streamable transport to the
// current server and registers the session as uninitialized. Lookup does
// not return it until Activate is called after a successful handshake. The
// connection outlives ctx's cancellation.
func (m *Manager) Create(ctx context.Context, principal string) (*Session, error) {
	server := m.source.Server()
	if server == nil {
		return nil, domain.E(domain.CodeInternal, opSession+".create", "no catalog is loaded", nil)
	}

	id := uuid.NewString()
	transport := &mcp.StreamableServerTransport{SessionID: id}
	sess := &Session{
		ID:        id,
		Principal: principal,
		CreatedAt: m.opts.Now(),
		server:    server,
		transport: transport,
		now:       m.opts.Now,
	}
	sess.touch()

	conn, err := server.MCP().Connect(context.WithoutCancel(ctx), transport, nil)
	if err != nil {
		return nil, domain.E(domain.CodeInternal, opSession+".create", "connect session transport", err)
	}
	sess.conn = conn

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	go func() {
		_ = conn.Wait()
		m.remove(id, domain.SessionCloseTransport)
	}()
	return sess, nil
}

// Activate promotes an uninitialized session once its initialize request
// was accepted.
func (m *Manager) Activate(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || !sess.state.CompareAndSwap(int32(StateUninitialized), int32(StateActive)) {
		m.mu.Unlock()
		return domain.E(domain.CodeSession, opSession+".activate", "", domain.ErrNoValidSession)
	}
	count := m.activeLocked()
	m.mu.Unlock()

	m.metrics.ObserveSessionCreated()
	m.metrics.SetActiveSessions(count)
	m.logger.Info("session created",
		telemetry.EventField(telemetry.EventSessionCreated),
		telemetry.SessionIDField(id),
		telemetry.PrincipalField(sess.Principal),
	)
	return nil
}

// Discard drops a session whose handshake failed.
func (m *Manager) Discard(id string) {
	sess, ok := m.remove(id, domain.SessionCloseRejected)
	if !ok {
		return
	}
	if err := closeConn(sess); err != nil {
		m.logger.Debug("session close failed", telemetry.SessionIDField(id), zap.Error(err))
	}
}

// Lookup returns the active session with id.
func (m *Manager) Lookup(id string) (*Session, error) {
	if id == "" {
		return nil, domain.E(domain.CodeSession, opSession+".lookup", "", domain.ErrNoValidSession)
	}
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || sess.State() != StateActive {
		return nil, domain.E(domain.CodeSession, opSession+".lookup", "", domain.ErrNoValidSession)
	}
	return sess, nil
}

// Close terminates the session. Closing an unknown id reports
// ErrNoValidSession.
func (m *Manager) Close(id string) error {
	sess, ok := m.remove(id, domain.SessionCloseExplicit)
	if !ok {
		return domain.E(domain.CodeSession, opSession+".close", "", domain.ErrNoValidSession)
	}
	return closeConn(sess)
}

// CloseAll terminates every session.
func (m *Manager) CloseAll() {
	m.StopSweeper()
	for _, id := range m.IDs() {
		if sess, ok := m.remove(id, domain.SessionCloseShutdown); ok {
			if err := closeConn(sess); err != nil {
				m.logger.Debug("session close failed", telemetry.SessionIDField(id), zap.Error(err))
			}
		}
	}
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IDs lists registered session ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// remove unregisters the session exactly once and marks it closed.
func (m *Manager) remove(id string, reason domain.SessionCloseReason) (*Session, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := m.activeLocked()
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	previous := State(sess.state.Swap(int32(StateClosed)))
	if previous != StateActive {
		m.logger.Debug("session discarded before activation",
			telemetry.SessionIDField(id),
			telemetry.ReasonField(string(reason)),
		)
		return sess, true
	}

	m.metrics.ObserveSessionClosed(reason)
	m.metrics.SetActiveSessions(count)
	m.logger.Info("session closed",
		telemetry.EventField(telemetry.EventSessionClosed),
		telemetry.SessionIDField(id),
		telemetry.ReasonField(string(reason)),
	)
	return sess, true
}

func (m *Manager) activeLocked() int {
	count := 0
	for _, sess := range m.sessions {
		if sess.State() == StateActive {
			count++
		}
	}
	return count
}

func closeConn(sess *Session) error {
	if sess.conn == nil {
		return nil
	}
	return sess.conn.Close()
}
