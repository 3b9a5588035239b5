package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeMethodNotFound   ErrorCode = "METHOD_NOT_FOUND"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeConfiguration    ErrorCode = "CONFIGURATION"
	CodeSession          ErrorCode = "SESSION"
	CodeUnauthenticated  ErrorCode = "UNAUTHENTICATED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeBackend          ErrorCode = "BACKEND"
	CodeInternal         ErrorCode = "INTERNAL"
	CodeNotImplemented   ErrorCode = "NOT_IMPLEMENTED"
)

// Meta keys carried by validation errors.
const (
	MetaField    = "field"
	MetaExpected = "expected"
	MetaElement  = "element"
)

type Error struct {
	Code      ErrorCode
	Op        string
	Message   string
	Cause     error
	Retryable bool
	Meta      map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:      existing.Code,
			Op:        op,
			Message:   existing.Message,
			Cause:     existing.Cause,
			Retryable: existing.Retryable,
			Meta:      existing.Meta,
		}
	}
	return E(code, op, "", err)
}

// ValidationError reports bad client input for a single field.
func ValidationError(op, field, msg string) *Error {
	err := E(CodeInvalidArgument, op, msg, ErrValidation)
	if field != "" {
		err.Meta = map[string]string{MetaField: field}
	}
	return err
}

// TypeMismatchError reports a filter or payload value of the wrong type.
func TypeMismatchError(op, field, expected string, got any) *Error {
	err := E(CodeInvalidArgument, op, fmt.Sprintf("field %q expects %s, got %T", field, expected, got), ErrTypeMismatch)
	err.Meta = map[string]string{MetaField: field, MetaExpected: expected}
	return err
}

// ConfigurationError reports a malformed annotation or config entry.
func ConfigurationError(element, msg string) *Error {
	err := E(CodeConfiguration, "catalog", msg, ErrConfiguration)
	if element != "" {
		err.Meta = map[string]string{MetaElement: element}
	}
	return err
}

// BackendError wraps a downstream data engine failure.
func BackendError(op string, cause error) *Error {
	return &Error{Code: CodeBackend, Op: op, Message: "backend request failed", Cause: cause}
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest, true
	case errors.Is(err, ErrValidation), errors.Is(err, ErrTypeMismatch), errors.Is(err, ErrPageTooLarge):
		return CodeInvalidArgument, true
	case errors.Is(err, ErrToolNotFound), errors.Is(err, ErrResourceNotFound), errors.Is(err, ErrPromptNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrEntityNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrNoValidSession), errors.Is(err, ErrSessionClosed):
		return CodeSession, true
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthenticated, true
	case errors.Is(err, ErrForbidden):
		return CodePermissionDenied, true
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrNameCollision), errors.Is(err, ErrCyclicKey):
		return CodeConfiguration, true
	case errors.Is(err, ErrNotImplemented):
		return CodeNotImplemented, true
	default:
		return "", false
	}
}

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrValidation       = errors.New("validation failed")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrPageTooLarge     = errors.New("page size exceeds maximum")
	ErrToolNotFound     = errors.New("tool not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrPromptNotFound   = errors.New("prompt not found")
	ErrEntityNotFound   = errors.New("entity not found")
	ErrNoValidSession   = errors.New("no valid session")
	ErrSessionClosed    = errors.New("session closed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrConfiguration    = errors.New("invalid configuration")
	ErrNameCollision    = errors.New("protocol name collision")
	ErrCyclicKey        = errors.New("cyclic association key")
	ErrNotImplemented   = errors.New("not implemented")
)
