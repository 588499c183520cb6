package graph

import (
	"context"
	"fmt"

	"github.com/no-ai-labs/spice-go/agent"
	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
	"github.com/no-ai-labs/spice-go/tool"
)

// Hitl metadata keys a WAITING_HITL ToolResult is expected to carry.
const (
	HitlToolCallID    = "hitl_tool_call_id"
	HitlPrompt        = "prompt"
	HitlOptions       = "options"
	HitlAllowFreeText = "allow_free_text"
	HitlSelectionType = "selection_type"
)

type agentNode struct {
	id       string
	agent    agent.Agent
	inputKey string
}

// AgentNodeOption configures an agent node.
type AgentNodeOption func(*agentNode)

// WithInputKey reads the agent's input from the named state entry instead of
// the previous node's output.
func WithInputKey(key string) AgentNodeOption {
	return func(n *agentNode) { n.inputKey = key }
}

// NewAgentNode wraps an agent as a node. The input, taken from state by key
// when configured and from the previous node's output otherwise, becomes the
// agent's message: a Comm passes through, anything else is rendered into a
// fresh Comm.
func NewAgentNode(id string, a agent.Agent, opts ...AgentNodeOption) Node {
	n := &agentNode{id: id, agent: a}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

func (n *agentNode) ID() string { return n.id }

func (n *agentNode) input(nc *NodeContext) any {
	if n.inputKey != "" {
		if v, ok := nc.State[n.inputKey]; ok {
			return v
		}
	}
	return nc.Previous()
}

func (n *agentNode) Run(ctx context.Context, nc *NodeContext) result.Result[NodeResult] {
	msg := asComm(n.input(nc), nc.GraphID)
	res := n.agent.ProcessMessage(ctx, msg)
	reply, ok := res.Value()
	if !ok {
		return result.Failure[NodeResult](res.Err().WithContext("node", n.id))
	}
	return result.Success(NodeResult{Data: reply})
}

func asComm(input any, from string) schema.Comm {
	switch v := input.(type) {
	case schema.Comm:
		return v
	case *schema.Comm:
		if v != nil {
			return *v
		}
		return schema.NewComm("", from)
	case string:
		return schema.NewComm(v, from)
	case nil:
		return schema.NewComm("", from)
	default:
		return schema.NewComm(fmt.Sprintf("%v", v), from)
	}
}

type toolNode struct {
	id     string
	tool   tool.Tool
	params func(nc *NodeContext) map[string]any
}

// ToolNodeOption configures a tool node.
type ToolNodeOption func(*toolNode)

// WithStaticParams executes the tool with a fixed parameter map.
func WithStaticParams(params map[string]any) ToolNodeOption {
	return func(n *toolNode) {
		n.params = func(*NodeContext) map[string]any { return params }
	}
}

// WithParamsFrom derives the parameter map from the run state.
func WithParamsFrom(fn func(nc *NodeContext) map[string]any) ToolNodeOption {
	return func(n *toolNode) { n.params = fn }
}

// NewToolNode wraps a tool as a node. A WAITING_HITL result suspends the
// run; the suspension details come from the result metadata.
func NewToolNode(id string, t tool.Tool, opts ...ToolNodeOption) Node {
	n := &toolNode{id: id, tool: t}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

func (n *toolNode) ID() string { return n.id }

func (n *toolNode) Run(ctx context.Context, nc *NodeContext) result.Result[NodeResult] {
	var params map[string]any
	if n.params != nil {
		params = n.params(nc)
	} else {
		params = map[string]any{"input": renderInput(nc.Previous())}
	}

	res := n.tool.Execute(ctx, params)
	out, ok := res.Value()
	if !ok {
		return result.Failure[NodeResult](res.Err().WithContext("node", n.id))
	}

	switch out.Status {
	case schema.ToolStatusWaitingHITL:
		return result.Success(NodeResult{
			Metadata: out.Metadata,
			Waiting:  waitingFromMetadata(out),
		})
	case schema.ToolStatusError:
		code := out.ErrorCode
		if code == "" {
			code = result.CodeTool
		}
		return result.Failure[NodeResult](
			result.New(code, out.Error).WithContext("node", n.id, result.CtxToolName, n.tool.Name()))
	case schema.ToolStatusTimeout:
		return result.Failure[NodeResult](
			result.Timeout(out.Message, 0, n.tool.Name()).WithContext("node", n.id))
	case schema.ToolStatusCancelled:
		return result.Failure[NodeResult](
			result.Cancelled(out.Message).WithContext("node", n.id))
	default:
		return result.Success(NodeResult{Data: out.Result, Metadata: out.Metadata})
	}
}

func waitingFromMetadata(out schema.ToolResult) *WaitingSignal {
	sig := &WaitingSignal{}
	if v, ok := out.MetadataValue(HitlToolCallID).(string); ok {
		sig.ToolCallID = v
	}
	if v, ok := out.MetadataValue(HitlPrompt).(string); ok {
		sig.Prompt = v
	}
	switch opts := out.MetadataValue(HitlOptions).(type) {
	case []string:
		sig.Options = opts
	case []any:
		for _, o := range opts {
			if s, ok := o.(string); ok {
				sig.Options = append(sig.Options, s)
			}
		}
	}
	if v, ok := out.MetadataValue(HitlAllowFreeText).(bool); ok {
		sig.AllowFreeText = v
	}
	if v, ok := out.MetadataValue(HitlSelectionType).(string); ok {
		sig.SelectionType = v
	}
	return sig
}

func renderInput(input any) any {
	if c, ok := input.(schema.Comm); ok {
		return c.Content
	}
	return input
}

type funcNode struct {
	id string
	fn func(ctx context.Context, nc *NodeContext) result.Result[NodeResult]
}

// NewFuncNode wraps arbitrary user code as a node.
func NewFuncNode(id string, fn func(ctx context.Context, nc *NodeContext) result.Result[NodeResult]) Node {
	return &funcNode{id: id, fn: fn}
}

func (n *funcNode) ID() string { return n.id }

func (n *funcNode) Run(ctx context.Context, nc *NodeContext) result.Result[NodeResult] {
	return n.fn(ctx, nc)
}

type outputNode struct {
	id     string
	format func(input any) any
}

// NewOutputNode wraps a terminal formatting step. With a nil formatter the
// node passes the previous output through unchanged.
func NewOutputNode(id string, format func(input any) any) Node {
	return &outputNode{id: id, format: format}
}

func (n *outputNode) ID() string { return n.id }

func (n *outputNode) Run(ctx context.Context, nc *NodeContext) result.Result[NodeResult] {
	out := nc.Previous()
	if n.format != nil {
		out = n.format(out)
	}
	return result.Success(NodeResult{Data: out})
}
