package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/auth"
	"cdsmcp/internal/infra/session"
	"cdsmcp/internal/infra/telemetry"
)

const (
	opDispatch       = "dispatch"
	methodInitialize = "initialize"
)

type Options struct {
	Path         string
	HealthPath   string
	MaxBodyBytes int64
	Logger       *zap.Logger
	Metrics      domain.Metrics
}

// Handler is the HTTP entry point. It authenticates, classifies each
// request as session creation or continuation and hands it to the session
// transport.
type Handler struct {
	sessions *session.Manager
	authn    auth.Authenticator
	opts     Options
	logger   *zap.Logger
	metrics  domain.Metrics
	mux      *http.ServeMux
}

func New(sessions *session.Manager, authn auth.Authenticator, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if authn == nil {
		authn = auth.Anonymous{}
	}
	if opts.Path == "" {
		opts.Path = domain.DefaultHTTPPath
	}
	if opts.HealthPath == "" {
		opts.HealthPath = domain.DefaultHealthPath
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = domain.DefaultMaxBodyBytes
	}

	h := &Handler{
		sessions: sessions,
		authn:    authn,
		opts:     opts,
		logger:   logger.Named("dispatch"),
		metrics:  metrics,
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("GET "+opts.HealthPath, h.health)
	h.mux.Handle(opts.Path, h.recoverHandler(http.HandlerFunc(h.serveMCP)))
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"UP"}`))
}

func (h *Handler) serveMCP(w http.ResponseWriter, r *http.Request) {
	ctx, meta := telemetry.FromHTTPRequest(r)
	r = r.WithContext(ctx)
	// Tool handlers only see headers, so they get the normalized id.
	r.Header.Set(telemetry.RequestIDHeader, meta.RequestID)
	w.Header().Set(telemetry.RequestIDHeader, meta.RequestID)

	principal, err := h.authn.Authenticate(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
		h.reject(w, r, nil, "unauthorized", err)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.post(w, r, principal)
	case http.MethodGet:
		sess, err := h.resolve(r, principal)
		if err != nil {
			h.reject(w, r, nil, rejectReason(err), err)
			return
		}
		h.serveSession(w, r, sess, nil)
	case http.MethodDelete:
		sess, err := h.resolve(r, principal)
		if err != nil {
			h.reject(w, r, nil, rejectReason(err), err)
			return
		}
		if err := h.sessions.Close(sess.ID); err != nil {
			h.reject(w, r, nil, rejectReason(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write(encodeEnvelope(nil, domain.E(domain.CodeInvalidRequest, opDispatch, "method not allowed", domain.ErrInvalidRequest)))
	}
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, principal auth.Principal) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			_, _ = w.Write(encodeEnvelope(nil, domain.E(domain.CodeInvalidRequest, opDispatch, "request body too large", domain.ErrInvalidRequest)))
			h.metrics.ObserveRequestRejected("body_too_large")
			return
		}
		h.reject(w, r, nil, "invalid_request", domain.E(domain.CodeInvalidRequest, opDispatch, "read request body", domain.ErrInvalidRequest))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	msg, decodeErr := jsonrpc.DecodeMessage(body)
	req, _ := msg.(*jsonrpc.Request)
	var id any
	if req != nil && req.ID.IsValid() {
		id = req.ID.Raw()
	}

	if req != nil && req.Method == methodInitialize {
		h.initialize(w, r, req, principal)
		return
	}

	if decodeErr != nil && r.Header.Get(domain.SessionIDHeader) == "" {
		h.rejectPayload(w, body)
		return
	}

	sess, err := h.resolve(r, principal)
	if err != nil {
		h.reject(w, r, id, rejectReason(err), err)
		return
	}
	// Batches are left to the transport, which knows the negotiated
	// protocol version.
	if decodeErr != nil && !isBatch(body) {
		h.rejectPayload(w, body)
		return
	}
	h.serveSession(w, r, sess, id)
}

func (h *Handler) serveSession(w http.ResponseWriter, r *http.Request, sess *session.Session, id any) {
	ew := &envelopeWriter{ResponseWriter: w, id: id}
	sess.ServeHTTP(ew, r)
	if ew.failed != 0 {
		h.metrics.ObserveRequestRejected("transport")
		telemetry.LoggerWithRequest(r.Context(), h.logger).Debug("transport rejected request",
			telemetry.SessionIDField(sess.ID),
			zap.Int("status", ew.failed),
			zap.String("message", strings.TrimSpace(ew.message.String())),
		)
	}
	ew.finish()
}

// initialize creates a session for a valid initialize request. The session
// stays unroutable until the transport has answered the handshake without
// error; a failed handshake discards it and never reveals its id.
func (h *Handler) initialize(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request, principal auth.Principal) {
	if !req.ID.IsValid() {
		h.reject(w, r, nil, "invalid_request",
			domain.E(domain.CodeInvalidRequest, opDispatch, `"initialize" must be a request with an id`, domain.ErrInvalidRequest))
		return
	}
	id := req.ID.Raw()
	var params mcp.InitializeParams
	if err := decodeParams(req.Params, &params); err != nil {
		h.reject(w, r, id, "invalid_params",
			domain.E(domain.CodeInvalidArgument, opDispatch, "initialize params must be an object", err))
		return
	}

	// Session ids are minted here only; a caller-chosen id is dropped.
	r.Header.Del(domain.SessionIDHeader)
	sess, err := h.sessions.Create(r.Context(), principal.Subject)
	if err != nil {
		h.reject(w, r, id, "session_create", err)
		return
	}

	handshake := newBufferedResponse()
	sess.ServeHTTP(handshake, r)
	if handshake.status >= http.StatusBadRequest || !sess.Initialized() {
		h.sessions.Discard(sess.ID)
		h.reject(w, r, id, "initialize_failed",
			domain.E(domain.CodeInvalidRequest, opDispatch, "initialize rejected", domain.ErrInvalidRequest))
		return
	}
	if err := h.sessions.Activate(sess.ID); err != nil {
		h.reject(w, r, id, rejectReason(err), err)
		return
	}
	handshake.header.Set(domain.SessionIDHeader, sess.ID)
	handshake.copyTo(w)
}

// rejectPayload answers a body that is not a single JSON-RPC message:
// -32700 when it is not JSON at all, -32600 otherwise.
func (h *Handler) rejectPayload(w http.ResponseWriter, body []byte) {
	perr := &domain.ProtocolError{Code: domain.ErrCodeInvalidRequest, Message: "Invalid Request"}
	reason := "invalid_request"
	if !json.Valid(body) {
		perr = &domain.ProtocolError{Code: domain.ErrCodeParseError, Message: "Parse error"}
		reason = "parse_error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write(encodeEnvelope(nil, perr))
	h.metrics.ObserveRequestRejected(reason)
}

func isBatch(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '[' && json.Valid(trimmed)
}

func decodeParams(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return domain.ErrInvalidRequest
	}
	return json.Unmarshal(trimmed, dst)
}

// resolve finds the session named by the request header and checks that
// the caller owns it.
func (h *Handler) resolve(r *http.Request, principal auth.Principal) (*session.Session, error) {
	sess, err := h.sessions.Lookup(r.Header.Get(domain.SessionIDHeader))
	if err != nil {
		return nil, err
	}
	if !sess.OwnedBy(principal.Subject) {
		return nil, domain.E(domain.CodePermissionDenied, opDispatch, "session belongs to another principal", domain.ErrForbidden)
	}
	return sess, nil
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, id any, reason string, err error) {
	h.metrics.ObserveRequestRejected(reason)
	logger := telemetry.LoggerWithRequest(r.Context(), h.logger)
	if ce := logger.Check(zap.DebugLevel, "request rejected"); ce != nil {
		ce.Write(
			telemetry.EventField(telemetry.EventRequestRejected),
			telemetry.ReasonField(reason),
			zap.String("method", r.Method),
			telemetry.HeadersField(r.Header),
			zap.Error(err),
		)
	}
	writeError(w, id, err)
}

func rejectReason(err error) string {
	code, _ := domain.CodeFrom(err)
	switch code {
	case domain.CodeSession:
		return "invalid_session"
	case domain.CodePermissionDenied:
		return "forbidden"
	case domain.CodeUnauthenticated:
		return "unauthorized"
	default:
		return "internal"
	}
}
