// Package tool defines the uniform tool contract: a named callable with a
// declared parameter schema, executed against the ambient execution context
// and returning a Result at every call.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
)

// Tool is a named, schema-validated callable.
type Tool interface {
	Name() string
	Description() string
	Schema() *Schema
	Execute(ctx context.Context, params map[string]any) result.Result[schema.ToolResult]
}

// Parameter describes a single schema parameter.
type Parameter struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Schema declares the parameters a tool accepts.
type Schema struct {
	Parameters map[string]Parameter `json:"parameters"`
}

// NewSchema builds a schema from parameter declarations.
func NewSchema(params map[string]Parameter) *Schema {
	if params == nil {
		params = make(map[string]Parameter)
	}
	return &Schema{Parameters: params}
}

// StringParam declares a string parameter.
func StringParam(description string, required bool) Parameter {
	return Parameter{Type: "string", Description: description, Required: required}
}

// NumberParam declares a number parameter.
func NumberParam(description string, required bool) Parameter {
	return Parameter{Type: "number", Description: description, Required: required}
}

// BoolParam declares a boolean parameter.
func BoolParam(description string, required bool) Parameter {
	return Parameter{Type: "boolean", Description: description, Required: required}
}

// ObjectParam declares an object parameter.
func ObjectParam(description string, required bool) Parameter {
	return Parameter{Type: "object", Description: description, Required: required}
}

// Validate checks params against the schema and returns a validated copy
// with defaults applied. The caller's map is never mutated and never handed
// to the tool. Missing required parameters and type mismatches yield
// VALIDATION_ERROR with the field name.
func (s *Schema) Validate(params map[string]any) (map[string]any, *result.Error) {
	validated := make(map[string]any, len(params))
	for k, v := range params {
		validated[k] = v
	}
	if s == nil {
		return validated, nil
	}

	names := make([]string, 0, len(s.Parameters))
	for name := range s.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := s.Parameters[name]
		value, present := validated[name]
		if !present {
			if spec.Required {
				return nil, result.Validation(
					fmt.Sprintf("missing required parameter %q", name), name, spec.Type, nil)
			}
			if spec.Default != nil {
				validated[name] = spec.Default
			}
			continue
		}
		if !typeMatches(spec.Type, value) {
			return nil, result.Validation(
				fmt.Sprintf("parameter %q: expected %s", name, spec.Type),
				name, spec.Type, value)
		}
	}
	return validated, nil
}

func typeMatches(declared string, value any) bool {
	if value == nil {
		return true
	}
	switch declared {
	case "", "any":
		return true
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64, json.Number:
			return true
		}
		return false
	case "integer":
		switch value.(type) {
		case int, int32, int64:
			return true
		case float64:
			f := value.(float64)
			return f == float64(int64(f))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		switch value.(type) {
		case []any, []string:
			return true
		}
		return false
	}
	return true
}

// ExecutorFunc runs a validated parameter map under the ambient context.
type ExecutorFunc func(ctx context.Context, params map[string]any) (schema.ToolResult, error)

type funcTool struct {
	name        string
	description string
	schema      *Schema
	fn          ExecutorFunc
}

// New wraps a function as a Tool. Parameters are validated before the
// function runs; errors and panics from the function are converted with the
// standard classifier.
func New(name, description string, s *Schema, fn ExecutorFunc) Tool {
	if s == nil {
		s = NewSchema(nil)
	}
	return &funcTool{name: name, description: description, schema: s, fn: fn}
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return t.description }
func (t *funcTool) Schema() *Schema     { return t.schema }

func (t *funcTool) Execute(ctx context.Context, params map[string]any) result.Result[schema.ToolResult] {
	validated, verr := t.schema.Validate(params)
	if verr != nil {
		return result.Failure[schema.ToolResult](verr.WithContext(result.CtxToolName, t.name))
	}
	return result.CatchingCtx(ctx, func(ctx context.Context) (schema.ToolResult, error) {
		return t.fn(ctx, validated)
	}).MapError(func(e *result.Error) *result.Error {
		return e.WithContext(result.CtxToolName, t.name)
	})
}

// Registry is a thread-safe keyed map of tools. Registration replaces any
// prior tool with the same name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get retrieves a tool; nil on miss.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}
