package result

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Stable error codes. Policy layers (retry, circuit breaking, transport
// mapping) branch on Code, never on concrete constructor identity.
const (
	CodeAgent          = "AGENT_ERROR"
	CodeComm           = "COMM_ERROR"
	CodeTool           = "TOOL_ERROR"
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeValidation     = "VALIDATION_ERROR"
	CodeNetwork        = "NETWORK_ERROR"
	CodeTimeout        = "TIMEOUT_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeRateLimit      = "RATE_LIMIT_ERROR"
	CodeSerialization  = "SERIALIZATION_ERROR"
	CodeCheckpoint     = "CHECKPOINT_ERROR"
	CodeUnknown        = "UNKNOWN_ERROR"
	CodeCancelled      = "CANCELLED"
	CodeEventBusFull   = "EVENT_BUS_FULL"
	CodeTransformer    = "TRANSFORMER_ERROR"
)

// Well-known context keys attached by the typed constructors.
const (
	CtxAgentID      = "agent_id"
	CtxCommID       = "comm_id"
	CtxToolName     = "tool_name"
	CtxField        = "field"
	CtxExpectedType = "expected_type"
	CtxActualValue  = "actual_value"
	CtxStatusCode   = "status_code"
	CtxEndpoint     = "endpoint"
	CtxTimeoutMs    = "timeout_ms"
	CtxOperation    = "operation"
	CtxProvider     = "provider"
	CtxRetryAfterMs = "retry_after_ms"
	CtxLimitType    = "limit_type"
	CtxFormat       = "format"
	CtxCheckpointID = "checkpoint_id"
	CtxErrorType    = "error_type"
	CtxPanicValue   = "panic_value"
)

// Sentinel errors recognized by FromError.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
)

// Error is the structured failure carried by every Result. Code is the
// stable contract; Context holds open-ended diagnostic data and must
// tolerate unknown keys when serialized.
type Error struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Cause     error          `json:"-"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext returns a copy with additional context pairs. Odd trailing
// arguments and non-string keys are dropped.
func (e *Error) WithContext(kv ...any) *Error {
	clone := e.clone()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		clone.Context[key] = kv[i+1]
	}
	return clone
}

// WithCause returns a copy carrying the given cause.
func (e *Error) WithCause(cause error) *Error {
	clone := e.clone()
	clone.Cause = cause
	return clone
}

func (e *Error) clone() *Error {
	ctx := make(map[string]any, len(e.Context)+2)
	for k, v := range e.Context {
		ctx[k] = v
	}
	return &Error{
		Code:      e.Code,
		Message:   e.Message,
		Cause:     e.Cause,
		Context:   ctx,
		Timestamp: e.Timestamp,
	}
}

// ContextValue reads a context entry; nil when absent.
func (e *Error) ContextValue(key string) any {
	if e.Context == nil {
		return nil
	}
	return e.Context[key]
}

func newError(code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Context:   make(map[string]any),
		Timestamp: time.Now(),
	}
}

// New creates an error with an explicit code.
func New(code, message string) *Error {
	return newError(code, message)
}

// Agent creates an AGENT_ERROR. agentID may be empty.
func Agent(message, agentID string) *Error {
	e := newError(CodeAgent, message)
	if agentID != "" {
		e.Context[CtxAgentID] = agentID
	}
	return e
}

// CommErr creates a COMM_ERROR referencing a message id.
func CommErr(message, commID string) *Error {
	e := newError(CodeComm, message)
	if commID != "" {
		e.Context[CtxCommID] = commID
	}
	return e
}

// Tool creates a TOOL_ERROR.
func Tool(message, toolName string) *Error {
	e := newError(CodeTool, message)
	e.Context[CtxToolName] = toolName
	return e
}

// Configuration creates a CONFIGURATION_ERROR. field may be empty.
func Configuration(message, field string) *Error {
	e := newError(CodeConfiguration, message)
	if field != "" {
		e.Context[CtxField] = field
	}
	return e
}

// Validation creates a VALIDATION_ERROR with the offending field.
func Validation(message, field, expectedType string, actual any) *Error {
	e := newError(CodeValidation, message)
	e.Context[CtxField] = field
	if expectedType != "" {
		e.Context[CtxExpectedType] = expectedType
	}
	if actual != nil {
		e.Context[CtxActualValue] = actual
	}
	return e
}

// Network creates a NETWORK_ERROR.
func Network(message string, statusCode int, endpoint string) *Error {
	e := newError(CodeNetwork, message)
	if statusCode != 0 {
		e.Context[CtxStatusCode] = statusCode
	}
	if endpoint != "" {
		e.Context[CtxEndpoint] = endpoint
	}
	return e
}

// Timeout creates a TIMEOUT_ERROR.
func Timeout(message string, timeoutMs int64, operation string) *Error {
	e := newError(CodeTimeout, message)
	if timeoutMs > 0 {
		e.Context[CtxTimeoutMs] = timeoutMs
	}
	if operation != "" {
		e.Context[CtxOperation] = operation
	}
	return e
}

// Authentication creates an AUTHENTICATION_ERROR.
func Authentication(message, provider string) *Error {
	e := newError(CodeAuthentication, message)
	if provider != "" {
		e.Context[CtxProvider] = provider
	}
	return e
}

// RateLimit creates a RATE_LIMIT_ERROR.
func RateLimit(message string, retryAfterMs int64, limitType string) *Error {
	e := newError(CodeRateLimit, message)
	if retryAfterMs > 0 {
		e.Context[CtxRetryAfterMs] = retryAfterMs
	}
	if limitType != "" {
		e.Context[CtxLimitType] = limitType
	}
	return e
}

// Serialization creates a SERIALIZATION_ERROR.
func Serialization(message, format string) *Error {
	e := newError(CodeSerialization, message)
	if format != "" {
		e.Context[CtxFormat] = format
	}
	return e
}

// Checkpoint creates a CHECKPOINT_ERROR.
func Checkpoint(message, checkpointID string) *Error {
	e := newError(CodeCheckpoint, message)
	if checkpointID != "" {
		e.Context[CtxCheckpointID] = checkpointID
	}
	return e
}

// Unknown creates an UNKNOWN_ERROR.
func Unknown(message string) *Error {
	return newError(CodeUnknown, message)
}

// Cancelled creates a CANCELLED error.
func Cancelled(message string) *Error {
	return newError(CodeCancelled, message)
}

// FromError classifies an arbitrary Go error into the taxonomy. A *Error
// passes through unchanged; nil maps to nil.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled(err.Error()).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(err.Error(), 0, "").WithCause(err)
	case errors.Is(err, ErrInvalidArgument):
		return Validation(err.Error(), "", "", nil).WithCause(err)
	case errors.Is(err, ErrInvalidState):
		return Configuration(err.Error(), "").WithCause(err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Network(err.Error(), 0, dnsErr.Name).WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout(err.Error(), 0, "").WithCause(err)
		}
		return Network(err.Error(), 0, "").WithCause(err)
	}

	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return Validation(err.Error(), "", "number", numErr.Num).WithCause(err)
	}

	return Unknown(err.Error()).
		WithCause(err).
		WithContext(CtxErrorType, fmt.Sprintf("%T", err))
}

// IsRetryable reports whether the error is worth retrying.
func IsRetryable(e *Error) bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeRateLimit, CodeNetwork, CodeTimeout:
		return true
	default:
		return false
	}
}
