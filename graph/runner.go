package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/no-ai-labs/spice-go/eventbus"
	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/runtime"
)

// RunStatus is the run state machine. Transitions: PENDING -> RUNNING ->
// {WAITING | SUCCESS | FAILED | CANCELLED}; WAITING resumes to RUNNING.
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusWaiting   RunStatus = "WAITING"
	StatusSuccess   RunStatus = "SUCCESS"
	StatusFailed    RunStatus = "FAILED"
	StatusCancelled RunStatus = "CANCELLED"
)

// NodeReport records one node execution inside a run.
type NodeReport struct {
	NodeID    string        `json:"node_id"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Status    RunStatus     `json:"status"`
	Output    any           `json:"output,omitempty"`
	Error     *result.Error `json:"error,omitempty"`
}

// RunReport is the outcome of one Run or Resume call. FAILED and CANCELLED
// are reported here, not as call errors; only setup problems fail the call
// itself.
type RunReport struct {
	GraphID         string        `json:"graph_id"`
	RunID           string        `json:"run_id"`
	Status          RunStatus     `json:"status"`
	Result          any           `json:"result,omitempty"`
	Duration        time.Duration `json:"duration"`
	NodeReports     []NodeReport  `json:"node_reports"`
	Error           *result.Error `json:"error,omitempty"`
	ResumptionToken string        `json:"resumption_token,omitempty"`
}

// OverflowAction decides what happens when node metadata exceeds the hard
// limit.
type OverflowAction string

const (
	OverflowWarn   OverflowAction = "WARN"
	OverflowFail   OverflowAction = "FAIL"
	OverflowIgnore OverflowAction = "IGNORE"
)

// MetadataPolicy bounds per-node result metadata. A zero HardLimitBytes
// means unbounded; the warn threshold logs regardless.
type MetadataPolicy struct {
	WarnBytes      int
	HardLimitBytes int
	OnOverflow     OverflowAction
}

const defaultMetadataWarnBytes = 5 * 1024

// Runner executes graphs. A single Runner is safe for concurrent runs;
// each run owns its own NodeContext.
type Runner struct {
	middlewares  []Middleware
	transformers []Transformer
	checkpoints  CheckpointStore
	idempotency  IdempotencyStore
	idemTTL      time.Duration
	validation   *ValidationPipeline
	emitter      *lifecycleEmitter
	logger       *zap.Logger
	maxSteps     int
	metadata     MetadataPolicy

	mu          sync.Mutex
	graphs      map[string]*Graph
	tokenByCall map[string]string
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMiddleware appends middlewares in application order.
func WithMiddleware(mws ...Middleware) RunnerOption {
	return func(r *Runner) { r.middlewares = append(r.middlewares, mws...) }
}

// WithTransformers appends message transformers in application order.
func WithTransformers(ts ...Transformer) RunnerOption {
	return func(r *Runner) { r.transformers = append(r.transformers, ts...) }
}

// WithCheckpointStore replaces the default in-memory checkpoint store.
func WithCheckpointStore(store CheckpointStore) RunnerOption {
	return func(r *Runner) {
		if store != nil {
			r.checkpoints = store
		}
	}
}

// WithIdempotency enables run deduplication by the causation_id input field.
func WithIdempotency(store IdempotencyStore, ttl time.Duration) RunnerOption {
	return func(r *Runner) {
		r.idempotency = store
		r.idemTTL = ttl
	}
}

// WithValidation attaches a per-node input schema pipeline.
func WithValidation(p *ValidationPipeline) RunnerOption {
	return func(r *Runner) { r.validation = p }
}

// WithEventBus enables lifecycle events on the given bus. The event
// schemas are registered on the bus registry as a side effect.
func WithEventBus(bus *eventbus.Bus) RunnerOption {
	return func(r *Runner) { r.emitter = newLifecycleEmitter(bus) }
}

// WithRunnerLogger attaches a structured logger.
func WithRunnerLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxSteps bounds node executions per run.
func WithMaxSteps(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithMetadataPolicy sets the node metadata size policy.
func WithMetadataPolicy(p MetadataPolicy) RunnerOption {
	return func(r *Runner) {
		if p.WarnBytes <= 0 {
			p.WarnBytes = defaultMetadataWarnBytes
		}
		if p.OnOverflow == "" {
			p.OnOverflow = OverflowWarn
		}
		r.metadata = p
	}
}

// NewRunner creates a runner. Without options it checkpoints in memory,
// runs without idempotency and logs nowhere.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		checkpoints: NewMemoryCheckpointStore(),
		logger:      zap.NewNop(),
		maxSteps:    100,
		metadata:    MetadataPolicy{WarnBytes: defaultMetadataWarnBytes, OnOverflow: OverflowWarn},
		graphs:      make(map[string]*Graph),
		tokenByCall: make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// TokenForToolCall resolves a HITL tool call id to the resumption token of
// the run suspended on it.
func (r *Runner) TokenForToolCall(toolCallID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokenByCall[toolCallID]
	return token, ok
}

// Run executes the graph from its entry node. FAILED and CANCELLED runs
// still return a report; the call itself only fails on setup errors.
func (r *Runner) Run(ctx context.Context, g *Graph, input map[string]any) result.Result[RunReport] {
	if g == nil {
		return result.Failure[RunReport](result.Configuration("nil graph", "graph"))
	}
	r.mu.Lock()
	r.graphs[g.ID()] = g
	r.mu.Unlock()

	idemKey := ""
	if r.idempotency != nil {
		if v, ok := input[IdempotencyKey].(string); ok && v != "" {
			idemKey = v
			cached, hit, err := r.idempotency.Get(ctx, idemKey)
			if err != nil {
				return result.Failure[RunReport](err)
			}
			if hit {
				r.logger.Debug("idempotent replay", zap.String("graph", g.ID()), zap.String("key", idemKey))
				return result.Success(cached)
			}
		}
	}

	state := make(map[string]any, len(input)+2)
	for k, v := range input {
		state[k] = v
	}
	if _, ok := state[StatePrevious]; !ok {
		state[StatePrevious] = input["input"]
	}

	exec, _ := runtime.FromContext(ctx)
	nc := &NodeContext{
		RunID:   uuid.New().String(),
		GraphID: g.ID(),
		State:   state,
		Exec:    exec,
	}

	report := r.execute(ctx, g, nc, g.Entry(), nil, nil)
	if report.Status == StatusSuccess && idemKey != "" {
		if err := r.idempotency.Put(ctx, idemKey, report, r.idemTTL); err != nil {
			r.logger.Warn("idempotency store write failed", zap.String("key", idemKey), zap.String("error", err.Message))
		}
	}
	return result.Success(report)
}

// Resume continues a run suspended at WAITING. The response becomes the
// waiting node's output and edge selection proceeds from there.
func (r *Runner) Resume(ctx context.Context, token string, response any) result.Result[RunReport] {
	cp, found, err := r.checkpoints.LoadByToken(ctx, token)
	if err != nil {
		return result.Failure[RunReport](err)
	}
	if !found || cp.PendingResumeToken != token {
		return result.Failure[RunReport](
			result.Checkpoint("no suspended run for token", "").WithContext("token", token))
	}

	r.mu.Lock()
	g := r.graphs[cp.GraphID]
	for call, t := range r.tokenByCall {
		if t == token {
			delete(r.tokenByCall, call)
		}
	}
	r.mu.Unlock()
	if g == nil {
		return result.Failure[RunReport](
			result.Configuration("graph not known to this runner", "graph").
				WithContext("graph", cp.GraphID))
	}

	state := make(map[string]any, len(cp.State)+2)
	for k, v := range cp.State {
		state[k] = v
	}
	state[StateHitlResponse] = response
	state[cp.NodeID] = response
	state[StatePrevious] = response

	exec, _ := runtime.FromContext(ctx)
	nc := &NodeContext{
		RunID:   cp.RunID,
		GraphID: cp.GraphID,
		State:   state,
		Exec:    exec,
	}

	resumed := NodeResult{Data: response}
	report := r.execute(ctx, g, nc, cp.NodeID, &resumed, nil)
	return result.Success(report)
}

// execute drives the node loop. When resumedWith is non-nil, currentID has
// already completed with that result and the walk starts at edge selection.
func (r *Runner) execute(ctx context.Context, g *Graph, nc *NodeContext, currentID string, resumedWith *NodeResult, reports []NodeReport) RunReport {
	started := time.Now()
	status := StatusPending
	report := RunReport{GraphID: g.ID(), RunID: nc.RunID, NodeReports: reports}

	transition := func(to RunStatus) {
		r.emitter.stateChanged(ctx, nc.RunID, status, to)
		status = to
	}
	transition(StatusRunning)

	finish := func() RunReport {
		report.Status = status
		report.Duration = time.Since(started)
		if cleanupErr := runTransformers(r.logger, r.transformers, true, "afterExecution",
			func(t Transformer) *result.Error { return t.AfterExecution(ctx, nc) }); cleanupErr != nil && report.Error == nil && status == StatusFailed {
			report.Error = cleanupErr
		}
		// WAITING is a suspension, not completion; only terminal states
		// announce the workflow as done.
		if status != StatusWaiting {
			r.emitter.workflowCompleted(ctx, WorkflowCompletedEvent{
				RunID:      nc.RunID,
				GraphID:    g.ID(),
				FinalState: string(status),
			})
		}
		for _, mw := range r.middlewares {
			r.safeOnFinish(mw, report)
		}
		return report
	}

	fail := func(err *result.Error) RunReport {
		report.Error = err
		transition(StatusFailed)
		return finish()
	}

	if err := runTransformers(r.logger, r.transformers, false, "beforeExecution",
		func(t Transformer) *result.Error { return t.BeforeExecution(ctx, nc) }); err != nil {
		return fail(err)
	}
	if err := chainOnStart(ctx, r.middlewares, nc); err != nil {
		return fail(err)
	}

	steps := 0
	pending := resumedWith
	for {
		if err := ctx.Err(); err != nil {
			reports = append(reports, NodeReport{
				NodeID: currentID, StartTime: time.Now(), Status: StatusCancelled,
				Error: result.FromError(err),
			})
			report.NodeReports = reports
			transition(StatusCancelled)
			return finish()
		}

		var nodeRes NodeResult
		if pending != nil {
			nodeRes = *pending
			pending = nil
		} else {
			steps++
			if steps > r.maxSteps {
				report.NodeReports = reports
				return fail(result.Configuration("max steps exceeded", "max_steps").
					WithContext("graph", g.ID(), "max_steps", r.maxSteps))
			}

			node, ok := g.Node(currentID)
			if !ok {
				report.NodeReports = reports
				return fail(result.Configuration("node not found", "node").
					WithContext("graph", g.ID(), "node", currentID))
			}

			nodeStart := time.Now()
			res := r.runNode(ctx, node, nc)
			if err := res.Err(); err != nil {
				action := chainOnError(ctx, r.middlewares, err, nc)
				switch action.Kind {
				case Recover:
					if _, ok := g.Node(action.RecoveryNode); ok {
						reports = append(reports, NodeReport{
							NodeID: currentID, StartTime: nodeStart,
							Duration: time.Since(nodeStart), Status: StatusFailed, Error: err,
						})
						r.logger.Info("recovering from node failure",
							zap.String("node", currentID),
							zap.String("recovery_node", action.RecoveryNode))
						// The recovery node sees the failure as its previous value.
						nc.State[StatePrevious] = err
						currentID = action.RecoveryNode
						continue
					}
					err = err.WithContext("recovery_node", action.RecoveryNode)
				case Suppress:
					reports = append(reports, NodeReport{
						NodeID: currentID, StartTime: nodeStart,
						Duration: time.Since(nodeStart), Status: StatusSuccess,
					})
					report.NodeReports = reports
					report.Result = nil
					nc.State[StatePrevious] = nil
					transition(StatusSuccess)
					return finish()
				}
				reports = append(reports, NodeReport{
					NodeID: currentID, StartTime: nodeStart,
					Duration: time.Since(nodeStart), Status: StatusFailed, Error: err,
				})
				report.NodeReports = reports
				return fail(err)
			}

			nodeRes, _ = res.Value()

			if nodeRes.Waiting != nil {
				reports = append(reports, NodeReport{
					NodeID: currentID, StartTime: nodeStart,
					Duration: time.Since(nodeStart), Status: StatusWaiting,
				})
				report.NodeReports = reports
				return r.suspend(ctx, g, nc, currentID, nodeRes, &report, transition, finish)
			}

			if mdErr := r.checkMetadata(currentID, nodeRes.Metadata); mdErr != nil {
				reports = append(reports, NodeReport{
					NodeID: currentID, StartTime: nodeStart,
					Duration: time.Since(nodeStart), Status: StatusFailed, Error: mdErr,
				})
				report.NodeReports = reports
				return fail(mdErr)
			}

			nc.State[currentID] = nodeRes.Data
			nc.State[StatePrevious] = nodeRes.Data
			reports = append(reports, NodeReport{
				NodeID: currentID, StartTime: nodeStart,
				Duration: time.Since(nodeStart), Status: StatusSuccess, Output: nodeRes.Data,
			})

			if err := runTransformers(r.logger, r.transformers, false, "afterNode",
				func(t Transformer) *result.Error { return t.AfterNode(ctx, currentID, nc) }); err != nil {
				report.NodeReports = reports
				return fail(err)
			}

			if err := r.checkpoints.Save(ctx, Checkpoint{
				RunID:           nc.RunID,
				GraphID:         g.ID(),
				NodeID:          currentID,
				State:           snapshotState(nc.State),
				MiddlewareState: r.middlewareState(),
			}); err != nil {
				r.logger.Warn("checkpoint save failed",
					zap.String("run", nc.RunID), zap.String("error", err.Message))
			}
		}

		// Edge selection: first declared edge whose condition accepts the
		// completed node's result.
		nextID := ""
		for _, e := range g.EdgesFrom(currentID) {
			if e.Condition == nil || e.Condition(nodeRes) {
				nextID = e.To
				break
			}
		}
		if nextID == "" {
			report.NodeReports = reports
			report.Result = nodeRes.Data
			transition(StatusSuccess)
			return finish()
		}

		r.emitter.nodeExecuted(ctx, NodeExecutionEvent{
			GraphID: g.ID(), NodeID: currentID, From: currentID, To: nextID,
			Event: "transition",
		})

		currentID = nextID
	}
}

// runNode executes one node inside the middleware onion with validation and
// beforeNode transformers applied; panics become UNKNOWN_ERROR.
func (r *Runner) runNode(ctx context.Context, node Node, nc *NodeContext) result.Result[NodeResult] {
	if err := r.validation.Validate(node.ID(), nc.Previous()); err != nil {
		return result.Failure[NodeResult](err)
	}
	if err := runTransformers(r.logger, r.transformers, false, "beforeNode",
		func(t Transformer) *result.Error { return t.BeforeNode(ctx, node.ID(), nc) }); err != nil {
		return result.Failure[NodeResult](err)
	}

	req := NodeRequest{NodeID: node.ID(), Input: nc.Previous(), Run: nc}
	return chainOnNode(ctx, r.middlewares, req, func() (res result.Result[NodeResult]) {
		defer func() {
			if rec := recover(); rec != nil {
				res = result.Failure[NodeResult](
					result.Unknown(fmt.Sprintf("node %q panicked", node.ID())).
						WithContext(result.CtxPanicValue, fmt.Sprintf("%v", rec),
							"panic_type", fmt.Sprintf("%T", rec)))
			}
		}()
		return node.Run(ctx, nc)
	})
}

func (r *Runner) suspend(ctx context.Context, g *Graph, nc *NodeContext, nodeID string, nodeRes NodeResult, report *RunReport, transition func(RunStatus), finish func() RunReport) RunReport {
	token := uuid.New().String()
	cp := Checkpoint{
		RunID:              nc.RunID,
		GraphID:            g.ID(),
		NodeID:             nodeID,
		State:              snapshotState(nc.State),
		MiddlewareState:    r.middlewareState(),
		Timestamp:          time.Now(),
		PendingResumeToken: token,
	}
	if err := r.checkpoints.Save(ctx, cp); err != nil {
		report.Error = err
		transition(StatusFailed)
		return finish()
	}

	if nodeRes.Waiting.ToolCallID != "" {
		r.mu.Lock()
		r.tokenByCall[nodeRes.Waiting.ToolCallID] = token
		r.mu.Unlock()
	}

	transition(StatusWaiting)
	r.emitter.hitlNeeded(ctx, HitlRequiredEvent{
		CheckpointID: token,
		GraphID:      g.ID(),
		NodeID:       nodeID,
		Options:      nodeRes.Waiting.Options,
	})

	report.ResumptionToken = token
	return finish()
}

// middlewareState collects snapshots from stateful middlewares, nil when
// none expose any.
func (r *Runner) middlewareState() map[string]any {
	var out map[string]any
	for _, mw := range r.middlewares {
		sm, ok := mw.(StatefulMiddleware)
		if !ok {
			continue
		}
		snap := sm.StateSnapshot()
		if len(snap) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[sm.Name()] = snap
	}
	return out
}

func (r *Runner) checkMetadata(nodeID string, metadata map[string]any) *result.Error {
	if len(metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	size := len(raw)
	if r.metadata.HardLimitBytes > 0 && size > r.metadata.HardLimitBytes {
		switch r.metadata.OnOverflow {
		case OverflowFail:
			return result.Validation("node metadata exceeds hard limit", "metadata", "size", size).
				WithContext("node", nodeID, "limit_bytes", r.metadata.HardLimitBytes)
		case OverflowIgnore:
			return nil
		default:
			r.logger.Warn("node metadata exceeds hard limit",
				zap.String("node", nodeID), zap.Int("size", size))
			return nil
		}
	}
	if size > r.metadata.WarnBytes {
		r.logger.Warn("node metadata above warn threshold",
			zap.String("node", nodeID), zap.Int("size", size))
	}
	return nil
}

func (r *Runner) safeOnFinish(mw Middleware, report RunReport) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("onFinish middleware panicked", zap.Any("panic", rec))
		}
	}()
	mw.OnFinish(report)
}

func snapshotState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}
