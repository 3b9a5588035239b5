package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"cdsmcp/internal/domain"
)

type errorEnvelope struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      any                   `json:"id"`
	Error   *domain.ProtocolError `json:"error"`
}

func encodeEnvelope(id any, err error) []byte {
	data, marshalErr := json.Marshal(errorEnvelope{
		JSONRPC: "2.0",
		ID:      id,
		Error:   domain.ToProtocolError(err),
	})
	if marshalErr != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"Internal error"}}`)
	}
	return data
}

// writeError writes a JSON-RPC error envelope with the HTTP status that
// matches the error class.
func writeError(w http.ResponseWriter, id any, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(err))
	_, _ = w.Write(encodeEnvelope(id, err))
}

func httpStatus(err error) int {
	code, _ := domain.CodeFrom(err)
	switch code {
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodePermissionDenied:
		return http.StatusForbidden
	case domain.CodeInvalidRequest, domain.CodeInvalidArgument, domain.CodeSession, domain.CodeNotFound:
		return http.StatusBadRequest
	case domain.CodeMethodNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// transportNotHandled prefixes the transport's reply to an unknown method.
const transportNotHandled = "JSON RPC not handled"

// envelopeWriter rewrites the transport's plain-text error replies into
// JSON-RPC error envelopes. Successful and streaming responses pass
// through untouched.
type envelopeWriter struct {
	http.ResponseWriter
	id      any
	failed  int
	message bytes.Buffer
}

func (w *envelopeWriter) WriteHeader(status int) {
	if status >= http.StatusBadRequest && strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		w.failed = status
		return
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *envelopeWriter) Write(p []byte) (int, error) {
	if w.failed != 0 {
		return w.message.Write(p)
	}
	return w.ResponseWriter.Write(p)
}

func (w *envelopeWriter) Flush() {
	if w.failed != 0 {
		return
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *envelopeWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// finish writes the envelope for an intercepted failure.
func (w *envelopeWriter) finish() {
	if w.failed == 0 {
		return
	}
	message := strings.TrimSpace(w.message.String())
	var perr *domain.ProtocolError
	switch w.failed {
	case http.StatusBadRequest:
		if strings.HasPrefix(message, transportNotHandled) {
			perr = &domain.ProtocolError{Code: domain.ErrCodeMethodNotFound, Message: message}
			break
		}
		perr = &domain.ProtocolError{Code: domain.ErrCodeInvalidRequest, Message: message}
	case http.StatusNotFound:
		perr = domain.ToProtocolError(domain.E(domain.CodeSession, opDispatch, message, domain.ErrNoValidSession))
	case http.StatusNotAcceptable, http.StatusUnsupportedMediaType, http.StatusMethodNotAllowed:
		perr = &domain.ProtocolError{Code: domain.ErrCodeInvalidRequest, Message: message}
	default:
		perr = &domain.ProtocolError{Code: domain.ErrCodeInternal, Message: "Internal error"}
	}
	header := w.Header()
	header.Del("X-Content-Type-Options")
	header.Set("Content-Type", "application/json")
	w.ResponseWriter.WriteHeader(w.failed)
	_, _ = w.ResponseWriter.Write(encodeEnvelope(w.id, perr))
}
