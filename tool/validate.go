package tool

import (
	"context"
	"fmt"

	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
)

// Rule checks a tool's output value; nil means the value passes.
type Rule struct {
	Name  string
	Check func(value any) *result.Error
}

// RequireField asserts that the output is a map containing the field.
func RequireField(field string) Rule {
	return Rule{
		Name: fmt.Sprintf("require_field(%s)", field),
		Check: func(value any) *result.Error {
			m, ok := value.(map[string]any)
			if !ok {
				return result.Validation("output is not an object", field, "object", value)
			}
			if _, present := m[field]; !present {
				return result.Validation(
					fmt.Sprintf("output missing field %q", field), field, "", nil)
			}
			return nil
		},
	}
}

// FieldType asserts the type of a field in a map output.
func FieldType(field, typ string) Rule {
	return Rule{
		Name: fmt.Sprintf("field_type(%s,%s)", field, typ),
		Check: func(value any) *result.Error {
			m, ok := value.(map[string]any)
			if !ok {
				return result.Validation("output is not an object", field, "object", value)
			}
			v, present := m[field]
			if !present {
				return result.Validation(
					fmt.Sprintf("output missing field %q", field), field, typ, nil)
			}
			if !typeMatches(typ, v) {
				return result.Validation(
					fmt.Sprintf("output field %q: expected %s", field, typ), field, typ, v)
			}
			return nil
		},
	}
}

// Custom wraps an arbitrary predicate into a rule.
func Custom(name string, predicate func(any) bool, message string) Rule {
	return Rule{
		Name: name,
		Check: func(value any) *result.Error {
			if predicate(value) {
				return nil
			}
			return result.Validation(message, name, "", value)
		},
	}
}

type validatedTool struct {
	Tool
	rules []Rule
}

// WithValidation wraps a tool with an output validator chain. Rules are
// evaluated against ToolResult.Result of SUCCESS outcomes; the first failure
// converts the outcome to Status=ERROR carrying the rule's message.
func WithValidation(t Tool, rules ...Rule) Tool {
	if len(rules) == 0 {
		return t
	}
	return &validatedTool{Tool: t, rules: rules}
}

func (t *validatedTool) Execute(ctx context.Context, params map[string]any) result.Result[schema.ToolResult] {
	return result.Map(t.Tool.Execute(ctx, params), func(tr schema.ToolResult) schema.ToolResult {
		if tr.Status != schema.ToolStatusSuccess {
			return tr
		}
		for _, rule := range t.rules {
			if rule.Check == nil {
				continue
			}
			if err := rule.Check(tr.Result); err != nil {
				return schema.ToolResult{
					Status:    schema.ToolStatusError,
					Error:     err.Message,
					ErrorCode: err.Code,
					Metadata:  map[string]any{"failed_rule": rule.Name},
				}
			}
		}
		return tr
	})
}
