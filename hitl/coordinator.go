package hitl

import (
	"context"

	"go.uber.org/zap"

	"github.com/no-ai-labs/spice-go/eventbus"
	"github.com/no-ai-labs/spice-go/graph"
	"github.com/no-ai-labs/spice-go/result"
)

// Resumer is the slice of the graph runner the coordinator needs.
type Resumer interface {
	TokenForToolCall(toolCallID string) (string, bool)
	Resume(ctx context.Context, token string, response any) result.Result[graph.RunReport]
}

// Coordinator listens on hitl.response and resumes the suspended run that
// matches each response's tool call id.
type Coordinator struct {
	bus       *eventbus.Bus
	runner    Resumer
	emitter   *BusEmitter
	logger    *zap.Logger
	onResumed func(graph.RunReport)
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger attaches a structured logger.
func WithCoordinatorLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithOnResumed installs a callback invoked with each resumed run's report.
func WithOnResumed(fn func(graph.RunReport)) CoordinatorOption {
	return func(c *Coordinator) { c.onResumed = fn }
}

// NewCoordinator wires a coordinator over the bus and runner.
func NewCoordinator(bus *eventbus.Bus, runner Resumer, opts ...CoordinatorOption) (*Coordinator, *result.Error) {
	emitter, err := NewBusEmitter(bus)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		bus:     bus,
		runner:  runner,
		emitter: emitter,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Emitter returns the bus emitter the coordinator created; hand it to HITL
// tools and external resumers.
func (c *Coordinator) Emitter() *BusEmitter { return c.emitter }

// Start consumes responses until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	sub := c.bus.Subscribe(ctx, c.emitter.ResponseChannel(), nil)
	go func() {
		defer sub.Close()
		for {
			event, ok := sub.Next(ctx)
			if !ok {
				return
			}
			resp, ok := event.Event.(Response)
			if !ok {
				continue
			}
			c.handle(ctx, resp)
		}
	}()
}

func (c *Coordinator) handle(ctx context.Context, resp Response) {
	token, ok := c.runner.TokenForToolCall(resp.ToolCallID)
	if !ok {
		c.logger.Warn("response without a suspended run",
			zap.String("tool_call_id", resp.ToolCallID),
			zap.String("status", string(resp.Status)))
		return
	}

	var payload any
	if resp.Status == ResponseCompleted {
		payload = resp.Value
	} else {
		payload = resp.ToToolResult()
	}

	res := c.runner.Resume(ctx, token, payload)
	report, okRes := res.Value()
	if !okRes {
		c.logger.Warn("resume failed",
			zap.String("tool_call_id", resp.ToolCallID),
			zap.String("error", res.Err().Message))
		return
	}
	c.logger.Info("run resumed",
		zap.String("tool_call_id", resp.ToolCallID),
		zap.String("run", report.RunID),
		zap.String("status", string(report.Status)))
	if c.onResumed != nil {
		c.onResumed(report)
	}
}
