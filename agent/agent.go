// Package agent defines the agent contract: a unit that consumes a Comm and
// produces a reply or a typed error.
package agent

import (
	"context"

	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
	"github.com/no-ai-labs/spice-go/tool"
)

// Agent processes one message at a time. Implementations must be safe for
// concurrent calls.
type Agent interface {
	ID() string
	Name() string
	Description() string
	Capabilities() []string
	Tools() []tool.Tool
	ProcessMessage(ctx context.Context, msg schema.Comm) result.Result[schema.Comm]
}

// Handler implements the message-processing step of a BaseAgent.
type Handler func(ctx context.Context, msg schema.Comm) result.Result[schema.Comm]

// BaseAgent is a configurable Agent backed by a Handler.
type BaseAgent struct {
	id           string
	name         string
	description  string
	capabilities []string
	tools        []tool.Tool
	handler      Handler
}

// Option configures a BaseAgent.
type Option func(*BaseAgent)

// WithDescription sets the description.
func WithDescription(description string) Option {
	return func(a *BaseAgent) { a.description = description }
}

// WithCapabilities declares capability tags.
func WithCapabilities(capabilities ...string) Option {
	return func(a *BaseAgent) { a.capabilities = capabilities }
}

// WithTools attaches tools the agent owns.
func WithTools(tools ...tool.Tool) Option {
	return func(a *BaseAgent) { a.tools = tools }
}

// WithHandler sets the message handler.
func WithHandler(handler Handler) Option {
	return func(a *BaseAgent) { a.handler = handler }
}

// New creates an agent. Without a handler it replies with its own name and
// the received content, which keeps wiring testable before a real
// implementation (an LLM adapter, a rule engine) is plugged in.
func New(id, name string, opts ...Option) *BaseAgent {
	a := &BaseAgent{id: id, name: name}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.handler == nil {
		a.handler = func(ctx context.Context, msg schema.Comm) result.Result[schema.Comm] {
			return result.Success(msg.Reply(msg.Content, a.id, schema.WithType(schema.TypeSystem)))
		}
	}
	return a
}

func (a *BaseAgent) ID() string             { return a.id }
func (a *BaseAgent) Name() string           { return a.name }
func (a *BaseAgent) Description() string    { return a.description }
func (a *BaseAgent) Capabilities() []string { return a.capabilities }
func (a *BaseAgent) Tools() []tool.Tool     { return a.tools }

// Tool looks up an owned tool by name; nil on miss.
func (a *BaseAgent) Tool(name string) tool.Tool {
	for _, t := range a.tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// ProcessMessage runs the handler. An expired Comm is rejected before the
// handler sees it.
func (a *BaseAgent) ProcessMessage(ctx context.Context, msg schema.Comm) result.Result[schema.Comm] {
	if msg.IsExpired() {
		return result.Failure[schema.Comm](
			result.CommErr("message expired before processing", msg.ID).
				WithContext(result.CtxAgentID, a.id))
	}
	if err := ctx.Err(); err != nil {
		return result.Failure[schema.Comm](result.FromError(err))
	}
	return a.handler(ctx, msg).MapError(func(e *result.Error) *result.Error {
		if e.ContextValue(result.CtxAgentID) != nil {
			return e
		}
		return e.WithContext(result.CtxAgentID, a.id)
	})
}
