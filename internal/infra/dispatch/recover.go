package dispatch

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/telemetry"
)

// trackingWriter records whether the response was committed.
type trackingWriter struct {
	http.ResponseWriter
	committed bool
}

func (w *trackingWriter) WriteHeader(status int) {
	w.committed = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *trackingWriter) Write(p []byte) (int, error) {
	w.committed = true
	return w.ResponseWriter.Write(p)
}

func (w *trackingWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		w.committed = true
		flusher.Flush()
	}
}

func (w *trackingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (w *trackingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// recoverHandler turns a panic into a -32603 envelope. When the response
// is already streaming as server-sent events the envelope is sent as a
// final event; otherwise a committed response can only be logged.
func (h *Handler) recoverHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err := domain.E(domain.CodeInternal, "dispatch", "", fmt.Errorf("panic: %v", rec))
			fields := append([]zap.Field{
				telemetry.EventField(telemetry.EventPanicRecovered),
				zap.Error(err),
				zap.Bool("committed", tw.committed),
			}, telemetry.RequestFieldsFromContext(r.Context())...)
			h.logger.Error("request handler panicked", fields...)

			if !tw.committed {
				writeError(tw, nil, err)
				return
			}
			if strings.HasPrefix(tw.Header().Get("Content-Type"), "text/event-stream") {
				_, _ = fmt.Fprintf(tw, "event: message\ndata: %s\n\n", encodeEnvelope(nil, err))
				tw.Flush()
			}
		}()
		next.ServeHTTP(tw, r)
	})
}
