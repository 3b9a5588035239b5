package telemetry

import (
	"context"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	RequestIDHeader   = "x-request-id"
	TraceParentHeader = "traceparent"
)

const maxRequestIDLength = 128

type requestContextKey struct{}

// RequestMeta identifies one inbound HTTP request in logs.
type RequestMeta struct {
	RequestID string
	TraceID   string
	SpanID    string
}

func (m RequestMeta) IsZero() bool {
	return m.RequestID == "" && m.TraceID == "" && m.SpanID == ""
}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	if meta.IsZero() {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestContextKey{}, meta)
}

func RequestMetaFromContext(ctx context.Context) (RequestMeta, bool) {
	if ctx == nil {
		return RequestMeta{}, false
	}
	meta, ok := ctx.Value(requestContextKey{}).(RequestMeta)
	return meta, ok && !meta.IsZero()
}

func NewRequestID() string {
	return uuid.NewString()
}

// TraceSpanFromContext returns the hex trace and span ids of the span
// context carried by ctx, local or remote.
func TraceSpanFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return "", ""
	}
	return spanCtx.TraceID().String(), spanCtx.SpanID().String()
}

// ContextWithTraceParent attaches the remote span context described by a
// W3C traceparent value ("00-<trace-id>-<parent-id>-<flags>"). Malformed
// values leave ctx unchanged.
func ContextWithTraceParent(ctx context.Context, value string) (context.Context, bool) {
	parts := strings.Split(strings.TrimSpace(value), "-")
	if len(parts) < 4 || len(parts[0]) != 2 || parts[0] == "ff" {
		return ctx, false
	}
	if parts[0] == "00" && len(parts) != 4 {
		return ctx, false
	}
	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return ctx, false
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return ctx, false
	}
	flags, err := hex.DecodeString(parts[3])
	if err != nil || len(flags) != 1 {
		return ctx, false
	}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.TraceFlags(flags[0]),
		Remote:     true,
	})
	if !spanCtx.IsValid() {
		return ctx, false
	}
	return trace.ContextWithRemoteSpanContext(ctx, spanCtx), true
}

// EnsureRequestMeta records request metadata on ctx, keeping an id that is
// already there unless requestID overrides it.
func EnsureRequestMeta(ctx context.Context, requestID string) (context.Context, RequestMeta) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing, ok := RequestMetaFromContext(ctx); ok && requestID == "" {
		requestID = existing.RequestID
	}
	if requestID == "" {
		requestID = NewRequestID()
	}
	traceID, spanID := TraceSpanFromContext(ctx)
	meta := RequestMeta{RequestID: requestID, TraceID: traceID, SpanID: spanID}
	return WithRequestMeta(ctx, meta), meta
}

// FromHeader derives request metadata from inbound headers. A caller's
// x-request-id is kept when it is printable and short; otherwise a fresh
// one is minted. A valid traceparent becomes the remote span context.
func FromHeader(ctx context.Context, header http.Header) (context.Context, RequestMeta) {
	if ctx == nil {
		ctx = context.Background()
	}
	if value := header.Get(TraceParentHeader); value != "" {
		ctx, _ = ContextWithTraceParent(ctx, value)
	}
	requestID := strings.TrimSpace(header.Get(RequestIDHeader))
	if len(requestID) > maxRequestIDLength || !printable(requestID) {
		requestID = ""
	}
	return EnsureRequestMeta(ctx, requestID)
}

func FromHTTPRequest(r *http.Request) (context.Context, RequestMeta) {
	return FromHeader(r.Context(), r.Header)
}

func printable(value string) bool {
	for _, r := range value {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}

func RequestFields(meta RequestMeta) []zap.Field {
	if meta.IsZero() {
		return nil
	}
	fields := make([]zap.Field, 0, 3)
	if meta.RequestID != "" {
		fields = append(fields, RequestIDField(meta.RequestID))
	}
	if meta.TraceID != "" {
		fields = append(fields, TraceIDField(meta.TraceID))
	}
	if meta.SpanID != "" {
		fields = append(fields, SpanIDField(meta.SpanID))
	}
	return fields
}

func RequestFieldsFromContext(ctx context.Context) []zap.Field {
	meta, ok := RequestMetaFromContext(ctx)
	if !ok {
		return nil
	}
	return RequestFields(meta)
}

// LoggerWithRequest scopes base to the request carried by ctx.
func LoggerWithRequest(ctx context.Context, base *zap.Logger) *zap.Logger {
	logger := base
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := RequestFieldsFromContext(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
