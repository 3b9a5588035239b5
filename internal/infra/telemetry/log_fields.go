package telemetry

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldSessionID  = "session_id"
	FieldTool       = "tool"
	FieldEntity     = "entity"
	FieldPrincipal  = "principal"
	FieldReason     = "reason"
	FieldDurationMs = "duration_ms"
	FieldHeaders    = "headers"
	FieldRequestID  = "request_id"
	FieldTraceID    = "trace_id"
	FieldSpanID     = "span_id"
)

const (
	EventToolCall        = "tool_call"
	EventSessionCreated  = "session_created"
	EventSessionClosed   = "session_closed"
	EventIdleReap        = "idle_reap"
	EventCatalogBuilt    = "catalog_built"
	EventCatalogReload   = "catalog_reload"
	EventCatalogRejected = "catalog_rejected"
	EventPanicRecovered  = "panic_recovered"
	EventRequestRejected = "request_rejected"
	EventBackendFailure  = "backend_failure"
)

var sensitiveHeaders = []string{
	"authorization",
	"cookie",
	"token",
	"secret",
	"api-key",
}

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func SessionIDField(id string) zap.Field {
	return zap.String(FieldSessionID, id)
}

func ToolField(name string) zap.Field {
	return zap.String(FieldTool, name)
}

func EntityField(name string) zap.Field {
	return zap.String(FieldEntity, name)
}

func PrincipalField(subject string) zap.Field {
	return zap.String(FieldPrincipal, subject)
}

func ReasonField(reason string) zap.Field {
	return zap.String(FieldReason, reason)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}

func TraceIDField(value string) zap.Field {
	return zap.String(FieldTraceID, value)
}

func SpanIDField(value string) zap.Field {
	return zap.String(FieldSpanID, value)
}

// HeadersField logs request headers with credentials masked.
func HeadersField(header http.Header) zap.Field {
	keys := make([]string, 0, len(header))
	for key := range header {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+RedactValue(key, strings.Join(header.Values(key), ",")))
	}
	return zap.Strings(FieldHeaders, out)
}

// RedactValue masks the value if the key names a credential.
func RedactValue(key, value string) string {
	lower := strings.ToLower(key)
	for _, needle := range sensitiveHeaders {
		if strings.Contains(lower, needle) {
			return "***"
		}
	}
	return value
}
