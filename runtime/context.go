// Package runtime carries the ambient ExecutionContext across every
// suspension point of the engine. The carrier is the standard
// context.Context, so no component threads tenant or correlation data
// through explicit parameters.
package runtime

import (
	"context"
	"strings"

	"github.com/no-ai-labs/spice-go/result"
)

// Well-known attribute keys.
const (
	KeyTenantID      = "tenantId"
	KeyUserID        = "userId"
	KeySessionID     = "sessionId"
	KeyCorrelationID = "correlationId"
	KeyCausationID   = "causationId"
)

type contextKey struct{}

var executionContextKey contextKey

// ExecutionContext is an immutable carrier of scoped metadata. All mutators
// return copies; a value stored in a context.Context is never changed.
type ExecutionContext struct {
	TenantID      string
	UserID        string
	SessionID     string
	CorrelationID string
	CausationID   string
	attrs         map[string]any
}

// New creates an empty ExecutionContext.
func New() ExecutionContext {
	return ExecutionContext{}
}

// With returns a copy with one attribute set. The well-known keys map onto
// the typed fields.
func (ec ExecutionContext) With(key string, value any) ExecutionContext {
	if s, ok := value.(string); ok {
		switch key {
		case KeyTenantID:
			ec.TenantID = s
			return ec
		case KeyUserID:
			ec.UserID = s
			return ec
		case KeySessionID:
			ec.SessionID = s
			return ec
		case KeyCorrelationID:
			ec.CorrelationID = s
			return ec
		case KeyCausationID:
			ec.CausationID = s
			return ec
		}
	}
	attrs := make(map[string]any, len(ec.attrs)+1)
	for k, v := range ec.attrs {
		attrs[k] = v
	}
	attrs[key] = value
	ec.attrs = attrs
	return ec
}

// Get reads an attribute, including the well-known keys.
func (ec ExecutionContext) Get(key string) (any, bool) {
	switch key {
	case KeyTenantID:
		return ec.TenantID, ec.TenantID != ""
	case KeyUserID:
		return ec.UserID, ec.UserID != ""
	case KeySessionID:
		return ec.SessionID, ec.SessionID != ""
	case KeyCorrelationID:
		return ec.CorrelationID, ec.CorrelationID != ""
	case KeyCausationID:
		return ec.CausationID, ec.CausationID != ""
	}
	v, ok := ec.attrs[key]
	return v, ok
}

// Merge overlays child onto the receiver, right-biased: child keys win,
// parent keys are preserved where the child is silent.
func (ec ExecutionContext) Merge(child ExecutionContext) ExecutionContext {
	out := ec
	if child.TenantID != "" {
		out.TenantID = child.TenantID
	}
	if child.UserID != "" {
		out.UserID = child.UserID
	}
	if child.SessionID != "" {
		out.SessionID = child.SessionID
	}
	if child.CorrelationID != "" {
		out.CorrelationID = child.CorrelationID
	}
	if child.CausationID != "" {
		out.CausationID = child.CausationID
	}
	if len(child.attrs) > 0 {
		attrs := make(map[string]any, len(ec.attrs)+len(child.attrs))
		for k, v := range ec.attrs {
			attrs[k] = v
		}
		for k, v := range child.attrs {
			attrs[k] = v
		}
		out.attrs = attrs
	}
	return out
}

// Fingerprint identifies the caching scope: tenant, user, session.
func (ec ExecutionContext) Fingerprint() string {
	return strings.Join([]string{ec.TenantID, ec.UserID, ec.SessionID}, "|")
}

// WithExecutionContext attaches an ExecutionContext to the Go context.
func WithExecutionContext(ctx context.Context, ec ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey, ec)
}

// FromContext reads the ambient ExecutionContext. Absence is legal.
func FromContext(ctx context.Context) (ExecutionContext, bool) {
	ec, ok := ctx.Value(executionContextKey).(ExecutionContext)
	return ec, ok
}

// Require reads the ambient ExecutionContext and fails with a
// CONFIGURATION_ERROR when absent.
func Require(ctx context.Context) (ExecutionContext, *result.Error) {
	ec, ok := FromContext(ctx)
	if !ok {
		return ExecutionContext{}, result.Configuration("no execution context in scope", "executionContext")
	}
	return ec, nil
}

// WithValues creates a child scope: the current context (if any) merged with
// the given key/value pairs. Parent keys are preserved.
func WithValues(ctx context.Context, kv ...any) context.Context {
	ec, _ := FromContext(ctx)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ec = ec.With(key, kv[i+1])
	}
	return WithExecutionContext(ctx, ec)
}

// TenantID returns the ambient tenant id, "" when absent.
func TenantID(ctx context.Context) string {
	ec, _ := FromContext(ctx)
	return ec.TenantID
}

// UserID returns the ambient user id, "" when absent.
func UserID(ctx context.Context) string {
	ec, _ := FromContext(ctx)
	return ec.UserID
}

// SessionID returns the ambient session id, "" when absent.
func SessionID(ctx context.Context) string {
	ec, _ := FromContext(ctx)
	return ec.SessionID
}

// CorrelationID returns the ambient correlation id, "" when absent.
func CorrelationID(ctx context.Context) string {
	ec, _ := FromContext(ctx)
	return ec.CorrelationID
}

// CausationID returns the ambient causation id, "" when absent.
func CausationID(ctx context.Context) string {
	ec, _ := FromContext(ctx)
	return ec.CausationID
}
