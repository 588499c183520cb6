// Package flow executes an ordered set of agent steps under one of four
// strategies. Steps may carry conditions evaluated against the incoming
// message; a dynamic resolver can pick the strategy per call.
package flow

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/no-ai-labs/spice-go/agent"
	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
)

// Strategy selects how enabled steps are dispatched.
type Strategy string

const (
	Sequential  Strategy = "SEQUENTIAL"
	Parallel    Strategy = "PARALLEL"
	Competition Strategy = "COMPETITION"
	Pipeline    Strategy = "PIPELINE"
)

// Metadata keys stamped on every flow reply.
const (
	MetaStrategy       = "flow_strategy"
	MetaExecutionTime  = "execution_time_ms"
	MetaAgentCount     = "agent_count"
	MetaCompletedSteps = "completed_steps"
	MetaSkippedSteps   = "skipped_steps"
)

// Data keys set by the parallel strategy.
const (
	DataPerAgentResults = "per_agent_results"
	DataErrors          = "errors"
)

// Condition gates a step against the flow's input message.
type Condition func(schema.Comm) bool

// Step binds an agent into the flow under an id.
type Step struct {
	ID        string
	Agent     agent.Agent
	Condition Condition
	// StripData drops the reply's Data map before it is threaded to the
	// next step. Only the sequential strategy honors it; a pipeline always
	// threads the full reply.
	StripData bool
}

// Resolver picks a strategy per call, given the input and the steps whose
// conditions passed. Returning an empty strategy falls back to the default.
type Resolver func(msg schema.Comm, enabled []Step) Strategy

// Flow is an immutable, reusable composition of steps. Safe for concurrent
// Process calls.
type Flow struct {
	name     string
	steps    []Step
	strategy Strategy
	resolver Resolver
	logger   *zap.Logger
}

// Option configures a Flow.
type Option func(*Flow)

// WithStrategy sets the default dispatch strategy.
func WithStrategy(s Strategy) Option {
	return func(f *Flow) { f.strategy = s }
}

// WithResolver sets a dynamic strategy resolver.
func WithResolver(r Resolver) Option {
	return func(f *Flow) { f.resolver = r }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a flow over the given steps.
func New(name string, steps []Step, opts ...Option) *Flow {
	f := &Flow{
		name:     name,
		steps:    steps,
		strategy: Sequential,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Name returns the flow name.
func (f *Flow) Name() string { return f.name }

// Steps returns the declared steps.
func (f *Flow) Steps() []Step { return f.steps }

// Process evaluates conditions, resolves the strategy and dispatches the
// enabled steps. The reply carries flow_strategy, execution_time_ms,
// agent_count, completed_steps and skipped_steps in both Metadata and Data.
func (f *Flow) Process(ctx context.Context, msg schema.Comm) result.Result[schema.Comm] {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return result.Failure[schema.Comm](result.FromError(err))
	}
	if len(f.steps) == 0 {
		return result.Failure[schema.Comm](
			result.Configuration("flow has no steps", "steps").WithContext("flow", f.name))
	}

	enabled := make([]Step, 0, len(f.steps))
	skipped := 0
	for _, step := range f.steps {
		if step.Condition != nil && !step.Condition(msg) {
			skipped++
			continue
		}
		enabled = append(enabled, step)
	}

	strategy := f.strategy
	if f.resolver != nil {
		if resolved := f.resolver(msg, enabled); resolved != "" {
			strategy = resolved
		}
	}

	f.logger.Debug("flow dispatch",
		zap.String("flow", f.name),
		zap.String("strategy", string(strategy)),
		zap.Int("enabled", len(enabled)),
		zap.Int("skipped", skipped))

	var res result.Result[schema.Comm]
	var completed int
	agentCount := len(enabled)
	switch strategy {
	case Parallel:
		res, completed = f.runParallel(ctx, enabled, msg)
	case Competition:
		res, completed = f.runCompetition(ctx, enabled, msg)
	case Pipeline:
		res, completed, skipped = f.runChain(ctx, msg, false)
		agentCount = len(f.steps) - skipped
	default:
		res, completed, skipped = f.runChain(ctx, msg, true)
		agentCount = len(f.steps) - skipped
	}

	if res.IsFailure() {
		return res
	}
	reply, _ := res.Value()
	stamp := map[string]any{
		MetaStrategy:       string(strategy),
		MetaExecutionTime:  time.Since(start).Milliseconds(),
		MetaAgentCount:     agentCount,
		MetaCompletedSteps: completed,
		MetaSkippedSteps:   skipped,
	}
	for k, v := range stamp {
		reply.SetMetadata(k, v)
		reply.SetData(k, v)
	}
	return result.Success(reply)
}

// runChain serves both sequential and pipeline dispatch. Conditions are
// evaluated against the current message, so a step can gate on data set by
// an earlier step. The only other observable difference between the two
// strategies is data threading: sequential honors per-step StripData,
// pipeline hands each step the previous step's full reply.
func (f *Flow) runChain(ctx context.Context, msg schema.Comm, honorStrip bool) (result.Result[schema.Comm], int, int) {
	current := msg
	completed := 0
	skipped := 0
	for _, step := range f.steps {
		if err := ctx.Err(); err != nil {
			return result.Failure[schema.Comm](result.FromError(err)), completed, skipped
		}
		if step.Condition != nil && !step.Condition(current) {
			skipped++
			continue
		}
		res := step.Agent.ProcessMessage(ctx, current)
		if reply, ok := res.Value(); ok {
			completed++
			if honorStrip && step.StripData {
				reply.Data = nil
			}
			current = reply
			continue
		}
		return result.Failure[schema.Comm](
			res.Err().WithContext("step", step.ID, "flow", f.name)), completed, skipped
	}
	return result.Success(current), completed, skipped
}

type stepOutcome struct {
	index int
	reply schema.Comm
	err   *result.Error
}

func (f *Flow) runParallel(ctx context.Context, steps []Step, msg schema.Comm) (result.Result[schema.Comm], int) {
	outcomes := make([]stepOutcome, len(steps))

	g := new(errgroup.Group)
	for i, step := range steps {
		g.Go(func() error {
			res := step.Agent.ProcessMessage(ctx, msg.Clone())
			if reply, ok := res.Value(); ok {
				outcomes[i] = stepOutcome{index: i, reply: reply}
			} else {
				outcomes[i] = stepOutcome{index: i, err: res.Err()}
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return result.Failure[schema.Comm](result.FromError(err)), 0
	}

	perAgent := make(map[string]string, len(steps))
	errs := make(map[string]string)
	var parts []string
	completed := 0
	for i, out := range outcomes {
		id := steps[i].ID
		if out.err != nil {
			errs[id] = out.err.Error()
			continue
		}
		completed++
		perAgent[id] = out.reply.Content
		parts = append(parts, out.reply.Content)
	}

	if completed == 0 {
		composite := result.Agent("all parallel steps failed", f.name).
			WithContext("flow", f.name, "errors", errs)
		return result.Failure[schema.Comm](composite), 0
	}

	merged := msg.Reply(strings.Join(parts, "\n"), f.name)
	merged.SetData(DataPerAgentResults, perAgent)
	if len(errs) > 0 {
		merged.SetData(DataErrors, errs)
	}
	return result.Success(merged), completed
}

// runCompetition races the enabled steps; the first success wins and the
// rest are cancelled. Successes that complete together resolve to the
// lowest declared step index. If every step fails, the latest failure is
// returned.
func (f *Flow) runCompetition(ctx context.Context, steps []Step, msg schema.Comm) (result.Result[schema.Comm], int) {
	if len(steps) == 0 {
		return result.Failure[schema.Comm](
			result.Configuration("no enabled steps", "steps").WithContext("flow", f.name)), 0
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan stepOutcome, len(steps))
	var wg sync.WaitGroup
	for i, step := range steps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := step.Agent.ProcessMessage(raceCtx, msg.Clone())
			if reply, ok := res.Value(); ok {
				outcomes <- stepOutcome{index: i, reply: reply}
			} else {
				outcomes <- stepOutcome{index: i, err: res.Err()}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var winner *stepOutcome
	var lastErr *result.Error
	pending := len(steps)
	for pending > 0 {
		select {
		case <-ctx.Done():
			cancel()
			return result.Failure[schema.Comm](result.FromError(ctx.Err())), 0
		case out := <-outcomes:
			pending--
			if out.err != nil {
				lastErr = out.err
				continue
			}
			winner = &out
			cancel()
		}
		if winner != nil {
			break
		}
	}

	if winner == nil {
		if lastErr == nil {
			lastErr = result.Agent("competition produced no result", f.name)
		}
		return result.Failure[schema.Comm](lastErr.WithContext("flow", f.name)), 0
	}

	// Drain outcomes that finished in the same instant; a lower-indexed
	// success displaces the provisional winner.
	for {
		out, ok := f.tryRecv(outcomes)
		if !ok {
			break
		}
		if out.err == nil && out.index < winner.index {
			winner = out
		}
	}
	return result.Success(winner.reply), 1
}

func (f *Flow) tryRecv(outcomes <-chan stepOutcome) (*stepOutcome, bool) {
	select {
	case out, ok := <-outcomes:
		if !ok {
			return nil, false
		}
		return &out, true
	default:
		return nil, false
	}
}
