package domain

import (
	"encoding/json"
	"errors"
)

// JSON-RPC error codes used in protocol envelopes.
const (
	ErrCodeParseError     int64 = -32700
	ErrCodeInvalidRequest int64 = -32600
	ErrCodeMethodNotFound int64 = -32601
	ErrCodeInvalidParams  int64 = -32602
	ErrCodeInternal       int64 = -32603
	ErrCodeApplication    int64 = -32000
)

// ProtocolError captures JSON-RPC error details for propagation.
type ProtocolError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ToProtocolError maps an error onto a JSON-RPC error object. Backend and
// internal failures are reduced to a generic message so no internal detail
// reaches the client.
func ToProtocolError(err error) *ProtocolError {
	if err == nil {
		return nil
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return protoErr
	}
	code, _ := CodeFrom(err)
	var domainErr *Error
	message := err.Error()
	var data json.RawMessage
	if errors.As(err, &domainErr) {
		message = domainErr.Message
		if message == "" {
			message = domainErr.Error()
		}
		if len(domainErr.Meta) > 0 {
			payload := map[string]any{"type": string(domainErr.Code)}
			for k, v := range domainErr.Meta {
				payload[k] = v
			}
			data, _ = json.Marshal(payload)
		}
	}

	switch code {
	case CodeInvalidRequest:
		return &ProtocolError{Code: ErrCodeInvalidRequest, Message: message, Data: data}
	case CodeInvalidArgument, CodeNotFound:
		return &ProtocolError{Code: ErrCodeInvalidParams, Message: message, Data: data}
	case CodeMethodNotFound:
		return &ProtocolError{Code: ErrCodeMethodNotFound, Message: message}
	case CodeSession:
		return &ProtocolError{Code: ErrCodeApplication, Message: "Bad Request: No valid session ID provided"}
	case CodeUnauthenticated:
		return &ProtocolError{Code: ErrCodeApplication, Message: "Unauthorized"}
	case CodePermissionDenied:
		return &ProtocolError{Code: ErrCodeApplication, Message: "Forbidden"}
	default:
		return &ProtocolError{Code: ErrCodeInternal, Message: "Internal error"}
	}
}
