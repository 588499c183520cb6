package graph

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/no-ai-labs/spice-go/agent"
	"github.com/no-ai-labs/spice-go/eventbus"
	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
	"github.com/no-ai-labs/spice-go/tool"
)

func countingNode(id string, calls *atomic.Int64, data any) Node {
	return NewFuncNode(id, func(ctx context.Context, nc *NodeContext) result.Result[NodeResult] {
		if calls != nil {
			calls.Add(1)
		}
		return result.Success(NodeResult{Data: data})
	})
}

func failingNode(id string) Node {
	return NewFuncNode(id, func(ctx context.Context, nc *NodeContext) result.Result[NodeResult] {
		return result.Failure[NodeResult](result.Tool("node broke", id))
	})
}

func linearGraph(t *testing.T, nodes ...Node) *Graph {
	t.Helper()
	b := NewBuilder("g")
	for _, n := range nodes {
		b.AddNode(n)
	}
	for i := 0; i+1 < len(nodes); i++ {
		b.AddEdge(nodes[i].ID(), nodes[i+1].ID())
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return g
}

func TestLinearRun(t *testing.T) {
	g := linearGraph(t,
		passNode("a", "from a"),
		passNode("b", "from b"),
	)

	report, ok := NewRunner().Run(context.Background(), g, map[string]any{"input": "x"}).Value()
	if !ok {
		t.Fatalf("run failed")
	}
	if report.Status != StatusSuccess {
		t.Fatalf("status = %s, error %v", report.Status, report.Error)
	}
	if report.Result != "from b" {
		t.Fatalf("result = %v", report.Result)
	}
	if len(report.NodeReports) != 2 || report.NodeReports[0].NodeID != "a" {
		t.Fatalf("node reports = %+v", report.NodeReports)
	}
}

func TestFirstMatchingEdgeWins(t *testing.T) {
	var tookFirst, tookSecond atomic.Int64
	g, err := NewBuilder("g").
		AddNode(passNode("start", "out")).
		AddNode(countingNode("first", &tookFirst, "first")).
		AddNode(countingNode("second", &tookSecond, "second")).
		AddConditionalEdge("start", "first", func(NodeResult) bool { return true }).
		AddConditionalEdge("start", "second", func(NodeResult) bool { return true }).
		SetEntry("start").
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	report, _ := NewRunner().Run(context.Background(), g, nil).Value()
	if report.Status != StatusSuccess {
		t.Fatalf("status = %s", report.Status)
	}
	if tookFirst.Load() != 1 || tookSecond.Load() != 0 {
		t.Fatalf("both edges matched but only the first declared may be taken")
	}
}

func TestFailedRunReturnsReport(t *testing.T) {
	var after atomic.Int64
	g := linearGraph(t,
		passNode("a", "x"),
		failingNode("bad"),
		countingNode("c", &after, nil),
	)

	report, ok := NewRunner().Run(context.Background(), g, nil).Value()
	if !ok {
		t.Fatalf("a failed run is a report, not a call error")
	}
	if report.Status != StatusFailed || report.Error == nil {
		t.Fatalf("report = %+v", report)
	}
	if after.Load() != 0 {
		t.Fatalf("nodes after the failure must not run")
	}
	last := report.NodeReports[len(report.NodeReports)-1]
	if last.NodeID != "bad" || last.Status != StatusFailed {
		t.Fatalf("failed node report missing: %+v", last)
	}
}

type recoveringMiddleware struct {
	BaseMiddleware
	recoveryNode string
}

func (m recoveringMiddleware) OnError(ctx context.Context, err *result.Error, nc *NodeContext) ErrorAction {
	return RecoverAction(m.recoveryNode)
}

func TestMiddlewareRecover(t *testing.T) {
	g, err := NewBuilder("g").
		AddNode(failingNode("bad")).
		AddNode(passNode("fallback", "recovered")).
		SetEntry("bad").
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	runner := NewRunner(WithMiddleware(recoveringMiddleware{recoveryNode: "fallback"}))
	report, _ := runner.Run(context.Background(), g, nil).Value()
	if report.Status != StatusSuccess || report.Result != "recovered" {
		t.Fatalf("report = %+v", report)
	}
}

func TestRecoverNodeSeesFailure(t *testing.T) {
	seen := make(chan *result.Error, 1)
	g, err := NewBuilder("g").
		AddNode(failingNode("bad")).
		AddNode(NewFuncNode("fallback", func(ctx context.Context, nc *NodeContext) result.Result[NodeResult] {
			cause, _ := nc.Previous().(*result.Error)
			seen <- cause
			return result.Success(NodeResult{Data: "handled"})
		})).
		SetEntry("bad").
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	runner := NewRunner(WithMiddleware(recoveringMiddleware{recoveryNode: "fallback"}))
	report, _ := runner.Run(context.Background(), g, nil).Value()
	if report.Status != StatusSuccess {
		t.Fatalf("report = %+v", report)
	}
	if cause := <-seen; cause == nil {
		t.Fatalf("recovery node must observe the failure")
	}
}

type suppressingMiddleware struct{ BaseMiddleware }

func (suppressingMiddleware) OnError(ctx context.Context, err *result.Error, nc *NodeContext) ErrorAction {
	return SuppressAction()
}

func TestMiddlewareSuppress(t *testing.T) {
	g := linearGraph(t, failingNode("bad"))

	runner := NewRunner(WithMiddleware(suppressingMiddleware{}))
	report, _ := runner.Run(context.Background(), g, nil).Value()
	if report.Status != StatusSuccess || report.Result != nil || report.Error != nil {
		t.Fatalf("suppressed failure must end as success with nil data: %+v", report)
	}
}

func TestNodePanicBecomesUnknownError(t *testing.T) {
	g := linearGraph(t, NewFuncNode("boom", func(ctx context.Context, nc *NodeContext) result.Result[NodeResult] {
		panic("kaput")
	}))

	report, _ := NewRunner().Run(context.Background(), g, nil).Value()
	if report.Status != StatusFailed {
		t.Fatalf("status = %s", report.Status)
	}
	if report.Error.Code != result.CodeUnknown {
		t.Fatalf("code = %s", report.Error.Code)
	}
	if report.Error.ContextValue(result.CtxPanicValue) != "kaput" {
		t.Fatalf("panic value missing: %v", report.Error.Context)
	}
}

func TestIdempotentRerun(t *testing.T) {
	var calls atomic.Int64
	g := linearGraph(t, countingNode("a", &calls, "done"))

	runner := NewRunner(WithIdempotency(NewMemoryIdempotencyStore(), time.Minute))
	input := map[string]any{IdempotencyKey: "req-1"}

	first, _ := runner.Run(context.Background(), g, input).Value()
	second, _ := runner.Run(context.Background(), g, input).Value()

	if calls.Load() != 1 {
		t.Fatalf("nodes must run exactly once, got %d", calls.Load())
	}
	if second.RunID != first.RunID || second.Result != "done" {
		t.Fatalf("second call must replay the cached report: %+v", second)
	}
}

func TestIdempotencyExpires(t *testing.T) {
	var calls atomic.Int64
	g := linearGraph(t, countingNode("a", &calls, "done"))

	runner := NewRunner(WithIdempotency(NewMemoryIdempotencyStore(), time.Nanosecond))
	input := map[string]any{IdempotencyKey: "req-1"}

	runner.Run(context.Background(), g, input)
	time.Sleep(time.Millisecond)
	runner.Run(context.Background(), g, input)

	if calls.Load() != 2 {
		t.Fatalf("expired entries must re-run, got %d calls", calls.Load())
	}
}

func waitingTool(t *testing.T, toolCallID string) tool.Tool {
	t.Helper()
	return tool.New("ask_human", "asks", nil, func(ctx context.Context, params map[string]any) (schema.ToolResult, error) {
		return schema.WaitingResult(map[string]any{
			HitlToolCallID:    toolCallID,
			HitlPrompt:        "pick one",
			HitlOptions:       []string{"A", "B"},
			HitlSelectionType: "single",
		}), nil
	})
}

func TestWaitingAndResume(t *testing.T) {
	classified := schema.NewComm("classify this", "user")
	g, err := NewBuilder("hitl-graph").
		AddNode(passNode("classifier", classified)).
		AddNode(NewToolNode("ask", waitingTool(t, "call-7"))).
		AddNode(NewFuncNode("finalizer", func(ctx context.Context, nc *NodeContext) result.Result[NodeResult] {
			return result.Success(NodeResult{Data: "final: " + nc.Previous().(string)})
		})).
		AddEdge("classifier", "ask").
		AddEdge("ask", "finalizer").
		SetEntry("classifier").
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	runner := NewRunner()
	report, ok := runner.Run(context.Background(), g, nil).Value()
	if !ok {
		t.Fatalf("run failed")
	}
	if report.Status != StatusWaiting || report.ResumptionToken == "" {
		t.Fatalf("expected WAITING with token: %+v", report)
	}

	token, ok := runner.TokenForToolCall("call-7")
	if !ok || token != report.ResumptionToken {
		t.Fatalf("tool call id must map to the resumption token")
	}

	resumed, ok := runner.Resume(context.Background(), token, "A").Value()
	if !ok {
		t.Fatalf("resume failed")
	}
	if resumed.Status != StatusSuccess || resumed.Result != "final: A" {
		t.Fatalf("resumed report = %+v", resumed)
	}
	if resumed.RunID != report.RunID {
		t.Fatalf("resume must continue the same run")
	}
}

func TestResumeUnknownToken(t *testing.T) {
	err := NewRunner().Resume(context.Background(), "ghost", nil).Err()
	if err == nil || err.Code != result.CodeCheckpoint {
		t.Fatalf("expected checkpoint error, got %v", err)
	}
}

type recordingTransformer struct {
	BaseTransformer
	name     string
	cont     bool
	failOn   string
	beforeEx *[]string
	afterEx  *[]string
}

func (t recordingTransformer) Name() string            { return t.name }
func (t recordingTransformer) ContinueOnFailure() bool { return t.cont }

func (t recordingTransformer) BeforeExecution(ctx context.Context, nc *NodeContext) *result.Error {
	*t.beforeEx = append(*t.beforeEx, t.name)
	if t.failOn == "beforeExecution" {
		return result.Unknown("transformer failure")
	}
	return nil
}

func (t recordingTransformer) AfterExecution(ctx context.Context, nc *NodeContext) *result.Error {
	*t.afterEx = append(*t.afterEx, t.name)
	if t.failOn == "afterExecution" {
		return result.Unknown("transformer failure")
	}
	return nil
}

func TestTransformerContinueOnFailure(t *testing.T) {
	var before, after []string
	runner := NewRunner(WithTransformers(
		recordingTransformer{name: "t1", cont: true, failOn: "beforeExecution", beforeEx: &before, afterEx: &after},
		recordingTransformer{name: "t2", beforeEx: &before, afterEx: &after},
	))

	g := linearGraph(t, passNode("a", nil))
	report, _ := runner.Run(context.Background(), g, nil).Value()
	if report.Status != StatusSuccess {
		t.Fatalf("status = %s", report.Status)
	}
	if len(before) != 2 || before[1] != "t2" {
		t.Fatalf("continueOnFailure=true must not halt the chain: %v", before)
	}
}

func TestTransformerHaltsChain(t *testing.T) {
	var before, after []string
	runner := NewRunner(WithTransformers(
		recordingTransformer{name: "t1", failOn: "beforeExecution", beforeEx: &before, afterEx: &after},
		recordingTransformer{name: "t2", beforeEx: &before, afterEx: &after},
	))

	g := linearGraph(t, passNode("a", nil))
	report, _ := runner.Run(context.Background(), g, nil).Value()
	if report.Status != StatusFailed {
		t.Fatalf("halting failure must fail the run, got %s", report.Status)
	}
	if len(before) != 1 {
		t.Fatalf("continueOnFailure=false must halt the chain: %v", before)
	}
}

func TestAfterExecutionAlwaysRuns(t *testing.T) {
	var before, after []string
	runner := NewRunner(WithTransformers(
		recordingTransformer{name: "t1", beforeEx: &before, afterEx: &after},
		recordingTransformer{name: "t2", failOn: "afterExecution", beforeEx: &before, afterEx: &after},
		recordingTransformer{name: "t3", beforeEx: &before, afterEx: &after},
	))

	g := linearGraph(t, passNode("a", nil))
	runner.Run(context.Background(), g, nil)
	if len(after) != 3 {
		t.Fatalf("afterExecution must run every transformer, got %v", after)
	}
}

func TestValidationPipelineRejectsInput(t *testing.T) {
	pipeline, perr := NewValidationPipeline(map[string]string{
		"strict": `{"type":"object","required":["id"],"properties":{"id":{"type":"string"}}}`,
	})
	if perr != nil {
		t.Fatalf("pipeline build failed: %v", perr)
	}

	g := linearGraph(t, passNode("strict", "out"))
	runner := NewRunner(WithValidation(pipeline))

	report, _ := runner.Run(context.Background(), g, map[string]any{
		"input": map[string]any{"name": "no id"},
	}).Value()
	if report.Status != StatusFailed || report.Error.Code != result.CodeValidation {
		t.Fatalf("schema rejection must fail the node: %+v", report)
	}

	report, _ = runner.Run(context.Background(), g, map[string]any{
		"input": map[string]any{"id": "ok"},
	}).Value()
	if report.Status != StatusSuccess {
		t.Fatalf("valid input must pass: %+v", report)
	}
}

func TestMetadataHardLimitFail(t *testing.T) {
	big := make([]byte, 64)
	for i := range big {
		big[i] = 'x'
	}
	g := linearGraph(t, NewFuncNode("meta", func(ctx context.Context, nc *NodeContext) result.Result[NodeResult] {
		return result.Success(NodeResult{Data: "ok", Metadata: map[string]any{"blob": string(big)}})
	}))

	runner := NewRunner(WithMetadataPolicy(MetadataPolicy{
		HardLimitBytes: 16,
		OnOverflow:     OverflowFail,
	}))
	report, _ := runner.Run(context.Background(), g, nil).Value()
	if report.Status != StatusFailed || report.Error.Code != result.CodeValidation {
		t.Fatalf("metadata overflow with FAIL must fail the run: %+v", report)
	}
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := linearGraph(t, passNode("a", nil))
	report, ok := NewRunner().Run(ctx, g, nil).Value()
	if !ok {
		t.Fatalf("a cancelled run is a report, not a call error")
	}
	if report.Status != StatusCancelled {
		t.Fatalf("status = %s", report.Status)
	}
}

func TestMaxStepsGuard(t *testing.T) {
	// Self-loops are rejected at build, so chain two nodes beyond the cap.
	g := linearGraph(t,
		passNode("a", nil),
		passNode("b", nil),
		passNode("c", nil),
	)
	runner := NewRunner(WithMaxSteps(2))
	report, _ := runner.Run(context.Background(), g, nil).Value()
	if report.Status != StatusFailed || report.Error.Code != result.CodeConfiguration {
		t.Fatalf("exceeding max steps must fail: %+v", report)
	}
}

type brokenCheckpointStore struct{}

func (brokenCheckpointStore) Save(ctx context.Context, cp Checkpoint) *result.Error {
	return result.Checkpoint("disk full", cp.RunID)
}
func (brokenCheckpointStore) Load(ctx context.Context, runID string) (Checkpoint, bool, *result.Error) {
	return Checkpoint{}, false, nil
}
func (brokenCheckpointStore) LoadByToken(ctx context.Context, token string) (Checkpoint, bool, *result.Error) {
	return Checkpoint{}, false, nil
}
func (brokenCheckpointStore) Delete(ctx context.Context, runID string) *result.Error { return nil }

func TestSuspendCheckpointFailureFailsRun(t *testing.T) {
	g := linearGraph(t, NewToolNode("ask", waitingTool(t, "call-9")))

	runner := NewRunner(WithCheckpointStore(brokenCheckpointStore{}))
	report, ok := runner.Run(context.Background(), g, nil).Value()
	if !ok {
		t.Fatalf("a failed suspension is a report, not a call error")
	}
	if report.Status != StatusFailed {
		t.Fatalf("status = %s", report.Status)
	}
	if report.Error == nil || report.Error.Code != result.CodeCheckpoint {
		t.Fatalf("the checkpoint error must reach the caller: %+v", report)
	}
	if report.ResumptionToken != "" {
		t.Fatalf("a failed suspension must not hand out a token")
	}
}

func TestAgentNodeInputKey(t *testing.T) {
	echo := agent.New("echo", "echo", agent.WithHandler(
		func(ctx context.Context, msg schema.Comm) result.Result[schema.Comm] {
			return result.Success(msg.Reply("echo: "+msg.Content, "echo"))
		}))

	g := linearGraph(t,
		passNode("seed", "ignore me"),
		NewAgentNode("respond", echo, WithInputKey("topic")),
	)

	report, ok := NewRunner().Run(context.Background(), g, map[string]any{
		"input": "previous",
		"topic": "weather",
	}).Value()
	if !ok || report.Status != StatusSuccess {
		t.Fatalf("run failed: %+v", report)
	}
	reply, isComm := report.Result.(schema.Comm)
	if !isComm || reply.Content != "echo: weather" {
		t.Fatalf("agent must read state[topic], got %+v", report.Result)
	}

	// Without the key the previous output is the input.
	g = linearGraph(t,
		passNode("seed", "upstream"),
		NewAgentNode("respond", echo),
	)
	report, _ = NewRunner().Run(context.Background(), g, nil).Value()
	reply, isComm = report.Result.(schema.Comm)
	if !isComm || reply.Content != "echo: upstream" {
		t.Fatalf("agent must fall back to the previous output, got %+v", report.Result)
	}
}

type countingStatefulMiddleware struct {
	BaseMiddleware
	nodes atomic.Int64
}

func (m *countingStatefulMiddleware) OnNode(ctx context.Context, req NodeRequest, next func() result.Result[NodeResult]) result.Result[NodeResult] {
	m.nodes.Add(1)
	return next()
}

func (m *countingStatefulMiddleware) Name() string { return "counting" }

func (m *countingStatefulMiddleware) StateSnapshot() map[string]any {
	return map[string]any{"nodes": m.nodes.Load()}
}

func TestCheckpointCapturesMiddlewareState(t *testing.T) {
	store := NewMemoryCheckpointStore()
	runner := NewRunner(
		WithCheckpointStore(store),
		WithMiddleware(&countingStatefulMiddleware{}),
	)

	g := linearGraph(t, passNode("a", "x"), passNode("b", "y"))
	report, ok := runner.Run(context.Background(), g, nil).Value()
	if !ok || report.Status != StatusSuccess {
		t.Fatalf("run failed: %+v", report)
	}

	cp, found, err := store.Load(context.Background(), report.RunID)
	if err != nil || !found {
		t.Fatalf("checkpoint missing: %v", err)
	}
	state, isMap := cp.MiddlewareState["counting"].(map[string]any)
	if !isMap {
		t.Fatalf("middleware state not captured: %+v", cp.MiddlewareState)
	}
	if n, _ := state["nodes"].(int64); n != 2 {
		t.Fatalf("nodes counter = %v", state["nodes"])
	}
}

func TestWorkflowCompletedOnlyOnTerminal(t *testing.T) {
	bus := eventbus.New(eventbus.NewSchemaRegistry())
	runner := NewRunner(WithEventBus(bus))

	g := linearGraph(t,
		NewToolNode("ask", waitingTool(t, "call-11")),
		passNode("done", "finished"),
	)

	report, _ := runner.Run(context.Background(), g, nil).Value()
	if report.Status != StatusWaiting {
		t.Fatalf("expected WAITING: %+v", report)
	}
	resumed, _ := runner.Resume(context.Background(), report.ResumptionToken, "yes").Value()
	if resumed.Status != StatusSuccess {
		t.Fatalf("resume failed: %+v", resumed)
	}

	// History replay delivers everything published so far.
	cfg := eventbus.ChannelConfig{OverflowPolicy: eventbus.DropOldest, EnableHistory: true}
	ch, cerr := bus.Channel(ChannelWorkflowCompleted, "WorkflowCompletedEvent", eventVersion, cfg)
	if cerr != nil {
		t.Fatalf("channel: %v", cerr)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sub := bus.Subscribe(ctx, ch, nil)
	defer sub.Close()

	var completed []WorkflowCompletedEvent
	for {
		event, more := sub.Next(ctx)
		if !more {
			break
		}
		if e, isCompleted := event.Event.(WorkflowCompletedEvent); isCompleted {
			completed = append(completed, e)
		}
	}
	if len(completed) != 1 {
		t.Fatalf("one run must complete once, got %d events", len(completed))
	}
	if completed[0].FinalState != string(StatusSuccess) {
		t.Fatalf("final state = %s", completed[0].FinalState)
	}
}
