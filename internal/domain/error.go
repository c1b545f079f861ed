package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeAlreadyExists    ErrorCode = "ALREADY_EXISTS"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeFailedPrecond    ErrorCode = "FAILED_PRECONDITION"
	CodeInternal         ErrorCode = "INTERNAL"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
	CodeExhausted        ErrorCode = "RESOURCE_EXHAUSTED"
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
	Meta    map[string]string
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
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
			Meta:    existing.Meta,
		}
	}
	return E(code, op, "", err)
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
	case errors.Is(err, ErrDuplicateServer):
		return CodeAlreadyExists, true
	case errors.Is(err, ErrServerNotFound), errors.Is(err, ErrToolNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrServerUnavailable), errors.Is(err, ErrConnectionClosed):
		return CodeUnavailable, true
	case errors.Is(err, ErrProtocolMismatch):
		return CodeFailedPrecond, true
	case errors.Is(err, ErrAmbiguousTool), errors.Is(err, ErrSchemaMismatch):
		return CodeInvalidArgument, true
	default:
		return "", false
	}
}

var ErrDuplicateServer = errors.New("duplicate server id")
var ErrServerNotFound = errors.New("server not found")
var ErrServerUnavailable = errors.New("server unavailable")
var ErrProtocolMismatch = errors.New("protocol version mismatch")
var ErrConnectionClosed = errors.New("connection closed")
var ErrToolNotFound = errors.New("tool not found")
var ErrAmbiguousTool = errors.New("ambiguous bare tool name")
var ErrSchemaMismatch = errors.New("artifact schema mismatch")

// InvocationKind classifies how a routed tool call failed.
type InvocationKind string

const (
	// InvocationRemote: the backend answered with a structured error. The
	// message is preserved verbatim so the repair loop can read it.
	InvocationRemote InvocationKind = "remote"
	// InvocationTimeout: the per-call deadline fired.
	InvocationTimeout InvocationKind = "timeout"
	// InvocationTransport: the connection broke mid-call.
	InvocationTransport InvocationKind = "transport"
)

// InvocationError carries a failed tools/call outcome.
type InvocationError struct {
	Kind    InvocationKind
	Code    int64
	Message string
}

func (e *InvocationError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("invocation %s (%d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("invocation %s: %s", e.Kind, e.Message)
}

// ExhaustedError is the terminal failure of a repair loop run. It carries the
// full attempt trace so callers can explain the failure without re-deriving
// internal state.
type ExhaustedError struct {
	Intent string
	Trace  AttemptTrace
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts: %s", len(e.Trace), e.LastReason())
}

// LastReason returns the rejection detail of the final attempt.
func (e *ExhaustedError) LastReason() string {
	if len(e.Trace) == 0 {
		return "no attempts recorded"
	}
	return e.Trace[len(e.Trace)-1].Result.ErrorDetail
}
