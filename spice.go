// Package spice is a multi-agent orchestration runtime: agents exchange
// Comm messages through flows and graphs, tools execute under schema
// validation with context-keyed caching, and an in-process event bus
// carries typed events between components. This file is the assembly
// facade; each layer also works standalone.
package spice

import (
	"context"

	"go.uber.org/zap"

	"github.com/no-ai-labs/spice-go/agent"
	"github.com/no-ai-labs/spice-go/config"
	"github.com/no-ai-labs/spice-go/eventbus"
	"github.com/no-ai-labs/spice-go/flow"
	"github.com/no-ai-labs/spice-go/graph"
	"github.com/no-ai-labs/spice-go/hitl"
	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
	"github.com/no-ai-labs/spice-go/tool"
)

// Flow strategies, re-exported so single-import callers can pick one.
const (
	Sequential  = flow.Sequential
	Parallel    = flow.Parallel
	Competition = flow.Competition
	Pipeline    = flow.Pipeline
)

// NewGraphRunner builds a standalone graph runner. Use an Engine when the
// runner should share a bus and configuration with the other layers.
func NewGraphRunner(opts ...graph.RunnerOption) *graph.Runner {
	return graph.NewRunner(opts...)
}

// Engine wires the runtime layers together: registries, event bus, graph
// runner and HITL coordination, configured from the environment unless
// overridden.
type Engine struct {
	cfg    config.Config
	logger *zap.Logger

	agents *agent.Registry
	tools  *tool.Registry
	flows  *flow.Registry

	bus         *eventbus.Bus
	runner      *graph.Runner
	coordinator *hitl.Coordinator
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	cfg         *config.Config
	logger      *zap.Logger
	middlewares []graph.Middleware
	idempotency graph.IdempotencyStore
	checkpoints graph.CheckpointStore
}

// WithConfig skips environment loading and uses the given configuration.
func WithConfig(cfg config.Config) Option {
	return func(ec *engineConfig) { ec.cfg = &cfg }
}

// WithLogger attaches a structured logger to every layer.
func WithLogger(logger *zap.Logger) Option {
	return func(ec *engineConfig) { ec.logger = logger }
}

// WithGraphMiddleware attaches middlewares to the graph runner.
func WithGraphMiddleware(mws ...graph.Middleware) Option {
	return func(ec *engineConfig) { ec.middlewares = append(ec.middlewares, mws...) }
}

// WithIdempotencyStore enables idempotent graph runs.
func WithIdempotencyStore(store graph.IdempotencyStore) Option {
	return func(ec *engineConfig) { ec.idempotency = store }
}

// WithCheckpointStore replaces the in-memory checkpoint store.
func WithCheckpointStore(store graph.CheckpointStore) Option {
	return func(ec *engineConfig) { ec.checkpoints = store }
}

// New assembles an engine. Configuration comes from SPICE_* environment
// variables unless WithConfig is given.
func New(opts ...Option) (*Engine, *result.Error) {
	ec := &engineConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(ec)
		}
	}

	var cfg config.Config
	if ec.cfg != nil {
		cfg = *ec.cfg
	} else {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := ec.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bus := eventbus.New(eventbus.NewSchemaRegistry(), eventbus.WithLogger(logger))

	runnerOpts := []graph.RunnerOption{
		graph.WithRunnerLogger(logger),
		graph.WithEventBus(bus),
		graph.WithMaxSteps(cfg.GraphMaxSteps),
		graph.WithMetadataPolicy(graph.MetadataPolicy{
			WarnBytes:      cfg.MetadataWarnBytes,
			HardLimitBytes: cfg.MetadataHardLimit,
			OnOverflow:     graph.OverflowAction(cfg.MetadataOnOverflow),
		}),
	}
	if ec.checkpoints != nil {
		runnerOpts = append(runnerOpts, graph.WithCheckpointStore(ec.checkpoints))
	}
	if ec.idempotency != nil {
		runnerOpts = append(runnerOpts, graph.WithIdempotency(ec.idempotency, cfg.GraphIdempotencyTTL))
	}
	if len(ec.middlewares) > 0 {
		runnerOpts = append(runnerOpts, graph.WithMiddleware(ec.middlewares...))
	}
	runner := graph.NewRunner(runnerOpts...)

	coordinator, err := hitl.NewCoordinator(bus, runner, hitl.WithCoordinatorLogger(logger))
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:         cfg,
		logger:      logger,
		agents:      agent.NewRegistry(),
		tools:       tool.NewRegistry(),
		flows:       flow.NewRegistry(),
		bus:         bus,
		runner:      runner,
		coordinator: coordinator,
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// Agents returns the agent registry.
func (e *Engine) Agents() *agent.Registry { return e.agents }

// Tools returns the tool registry.
func (e *Engine) Tools() *tool.Registry { return e.tools }

// Flows returns the flow registry.
func (e *Engine) Flows() *flow.Registry { return e.flows }

// Bus returns the event bus.
func (e *Engine) Bus() *eventbus.Bus { return e.bus }

// Runner returns the graph runner.
func (e *Engine) Runner() *graph.Runner { return e.runner }

// Coordinator returns the HITL coordinator.
func (e *Engine) Coordinator() *hitl.Coordinator { return e.coordinator }

// RegisterAgent adds an agent to the registry.
func (e *Engine) RegisterAgent(a agent.Agent) { e.agents.Register(a) }

// RegisterTool adds a tool, wrapped in a context-keyed cache sized from the
// configuration.
func (e *Engine) RegisterTool(t tool.Tool) {
	e.tools.Register(tool.Cached(t, tool.CacheOptions{
		MaxSize: e.cfg.CacheMaxSize,
		TTL:     e.cfg.CacheTTL,
	}))
}

// NewFlow builds a flow over registered agent ids and registers it.
func (e *Engine) NewFlow(name string, steps []flow.Step, opts ...flow.Option) *flow.Flow {
	opts = append(opts, flow.WithLogger(e.logger))
	f := flow.New(name, steps, opts...)
	e.flows.Register(f)
	return f
}

// StartHITL begins consuming hitl.response events until ctx is cancelled.
func (e *Engine) StartHITL(ctx context.Context) {
	e.coordinator.Start(ctx)
}

// Ask sends content to a registered agent and returns the reply content.
func (e *Engine) Ask(ctx context.Context, agentID, content string) result.Result[string] {
	a := e.agents.Get(agentID)
	if a == nil {
		return result.Failure[string](
			result.Configuration("agent not registered", "agent").WithContext("agent", agentID))
	}
	return result.Map(a.ProcessMessage(ctx, schema.NewComm(content, "user", schema.WithTo(agentID))),
		func(reply schema.Comm) string { return reply.Content })
}

// Run executes a graph through the engine's runner.
func (e *Engine) Run(ctx context.Context, g *graph.Graph, input map[string]any) result.Result[graph.RunReport] {
	return e.runner.Run(ctx, g, input)
}

// Resume continues a run suspended at WAITING.
func (e *Engine) Resume(ctx context.Context, token string, response any) result.Result[graph.RunReport] {
	return e.runner.Resume(ctx, token, response)
}
