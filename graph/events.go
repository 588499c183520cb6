package graph

import (
	"context"
	"time"

	"github.com/no-ai-labs/spice-go/eventbus"
)

// Lifecycle event channels published when events are enabled.
const (
	ChannelNodeExecution     = "graph.node_execution"
	ChannelWorkflowCompleted = "graph.workflow_completed"
	ChannelHitlRequired      = "graph.hitl_required"
	ChannelStateChange       = "graph.state_change"

	eventVersion = "v1"
)

// NodeExecutionEvent reports one node transition.
type NodeExecutionEvent struct {
	GraphID   string            `json:"graph_id"`
	NodeID    string            `json:"node_id"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Event     string            `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// WorkflowCompletedEvent reports a finished run.
type WorkflowCompletedEvent struct {
	RunID      string            `json:"run_id"`
	GraphID    string            `json:"graph_id"`
	FinalState string            `json:"final_state"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// HitlRequiredEvent reports a run suspended for human input.
type HitlRequiredEvent struct {
	CheckpointID string    `json:"checkpoint_id"`
	GraphID      string    `json:"graph_id"`
	NodeID       string    `json:"node_id,omitempty"`
	Options      []string  `json:"options,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// StateChangeEvent reports a run state machine transition.
type StateChangeEvent struct {
	RunID     string    `json:"run_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// RegisterEventSchemas registers the lifecycle event codecs on a bus
// registry. Call before enabling events on a Runner that shares the bus.
func RegisterEventSchemas(registry *eventbus.SchemaRegistry) {
	registry.Register("NodeExecutionEvent", eventVersion, eventbus.JSONCodec[NodeExecutionEvent]())
	registry.Register("WorkflowCompletedEvent", eventVersion, eventbus.JSONCodec[WorkflowCompletedEvent]())
	registry.Register("HitlRequiredEvent", eventVersion, eventbus.JSONCodec[HitlRequiredEvent]())
	registry.Register("StateChangeEvent", eventVersion, eventbus.JSONCodec[StateChangeEvent]())
}

// lifecycleEmitter publishes lifecycle events best-effort; publish failures
// never affect the run.
type lifecycleEmitter struct {
	bus           *eventbus.Bus
	nodeExecution *eventbus.Channel
	completed     *eventbus.Channel
	hitlRequired  *eventbus.Channel
	stateChange   *eventbus.Channel
}

func newLifecycleEmitter(bus *eventbus.Bus) *lifecycleEmitter {
	if bus == nil {
		return nil
	}
	RegisterEventSchemas(bus.Registry())
	cfg := eventbus.ChannelConfig{OverflowPolicy: eventbus.DropOldest, EnableHistory: true}
	e := &lifecycleEmitter{bus: bus}
	e.nodeExecution, _ = bus.Channel(ChannelNodeExecution, "NodeExecutionEvent", eventVersion, cfg)
	e.completed, _ = bus.Channel(ChannelWorkflowCompleted, "WorkflowCompletedEvent", eventVersion, cfg)
	e.hitlRequired, _ = bus.Channel(ChannelHitlRequired, "HitlRequiredEvent", eventVersion, cfg)
	e.stateChange, _ = bus.Channel(ChannelStateChange, "StateChangeEvent", eventVersion, cfg)
	return e
}

func (e *lifecycleEmitter) nodeExecuted(ctx context.Context, event NodeExecutionEvent) {
	if e == nil || e.nodeExecution == nil {
		return
	}
	event.Timestamp = time.Now()
	e.bus.Publish(ctx, e.nodeExecution, event, nil)
}

func (e *lifecycleEmitter) workflowCompleted(ctx context.Context, event WorkflowCompletedEvent) {
	if e == nil || e.completed == nil {
		return
	}
	event.Timestamp = time.Now()
	e.bus.Publish(ctx, e.completed, event, nil)
}

func (e *lifecycleEmitter) hitlNeeded(ctx context.Context, event HitlRequiredEvent) {
	if e == nil || e.hitlRequired == nil {
		return
	}
	event.Timestamp = time.Now()
	e.bus.Publish(ctx, e.hitlRequired, event, nil)
}

func (e *lifecycleEmitter) stateChanged(ctx context.Context, runID string, from, to RunStatus) {
	if e == nil || e.stateChange == nil {
		return
	}
	e.bus.Publish(ctx, e.stateChange, StateChangeEvent{
		RunID:     runID,
		From:      string(from),
		To:        string(to),
		Timestamp: time.Now(),
	}, nil)
}
