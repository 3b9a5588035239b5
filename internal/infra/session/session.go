package session

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/mcpserver"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session binds one protocol session id to its transport and to the
// server snapshot it was created against.
type Session struct {
	ID        string
	Principal string
	CreatedAt time.Time

	server    *mcpserver.Server
	transport *mcp.StreamableServerTransport
	conn      *mcp.ServerSession
	state     atomic.Int32
	lastSeen  atomic.Int64
	now       func() time.Time
}

// ServeHTTP hands a request to the session transport.
func (s *Session) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.touch()
	s.transport.ServeHTTP(w, r)
}

// Catalog is the snapshot the session serves for its whole life.
func (s *Session) Catalog() *domain.Catalog {
	return s.server.Catalog()
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Initialized reports whether the transport accepted an initialize request.
func (s *Session) Initialized() bool {
	return s.conn != nil && s.conn.InitializeParams() != nil
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// OwnedBy reports whether principal may use the session. Sessions created
// without a principal are usable by anyone.
func (s *Session) OwnedBy(principal string) bool {
	return s.Principal == "" || s.Principal == principal
}

func (s *Session) touch() {
	s.lastSeen.Store(s.now().UnixNano())
}
