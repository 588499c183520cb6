package hitl

import (
	"context"

	"github.com/google/uuid"

	"github.com/no-ai-labs/spice-go/graph"
	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
	"github.com/no-ai-labs/spice-go/tool"
)

type selectionTool struct {
	name          string
	prompt        string
	options       []string
	allowFreeText bool
	selectionType string
	emitter       Emitter
	schema        *tool.Schema
}

// SelectionOption configures a selection tool.
type SelectionOption func(*selectionTool)

// WithFreeText allows answers outside the declared options.
func WithFreeText() SelectionOption {
	return func(t *selectionTool) {
		t.allowFreeText = true
		if len(t.options) == 0 {
			t.selectionType = SelectionFreeText
		}
	}
}

// WithSelectionType overrides the declared selection type.
func WithSelectionType(st string) SelectionOption {
	return func(t *selectionTool) { t.selectionType = st }
}

// NewSelectionTool builds a tool that asks a human to pick among options.
// Executing it emits a request through the emitter and returns WAITING_HITL
// so the surrounding graph run suspends.
func NewSelectionTool(name, prompt string, options []string, emitter Emitter, opts ...SelectionOption) tool.Tool {
	t := &selectionTool{
		name:          name,
		prompt:        prompt,
		options:       options,
		selectionType: SelectionSingle,
		emitter:       emitter,
		schema: tool.NewSchema(map[string]tool.Parameter{
			"prompt": tool.StringParam("override for the configured prompt", false),
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

func (t *selectionTool) Name() string        { return t.name }
func (t *selectionTool) Description() string { return "asks a human to choose: " + t.prompt }
func (t *selectionTool) Schema() *tool.Schema {
	return t.schema
}

func (t *selectionTool) Execute(ctx context.Context, params map[string]any) result.Result[schema.ToolResult] {
	if err := ctx.Err(); err != nil {
		return result.Failure[schema.ToolResult](result.FromError(err))
	}

	prompt := t.prompt
	if v, ok := params["prompt"].(string); ok && v != "" {
		prompt = v
	}

	toolCallID := uuid.New().String()
	req := Request{
		ToolCallID:    toolCallID,
		Prompt:        prompt,
		Options:       t.options,
		AllowFreeText: t.allowFreeText,
		SelectionType: t.selectionType,
	}
	if t.emitter != nil {
		if err := t.emitter.EmitRequest(ctx, req); err != nil {
			return result.Failure[schema.ToolResult](
				err.WithContext(result.CtxToolName, t.name))
		}
	}

	return result.Success(schema.WaitingResult(map[string]any{
		graph.HitlToolCallID:    toolCallID,
		graph.HitlPrompt:        prompt,
		graph.HitlOptions:       t.options,
		graph.HitlAllowFreeText: t.allowFreeText,
		graph.HitlSelectionType: t.selectionType,
	}))
}
