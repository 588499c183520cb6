package graph

import (
	"context"

	"github.com/no-ai-labs/spice-go/result"
)

// ErrorActionKind is a middleware's verdict on a node failure.
type ErrorActionKind string

const (
	// Propagate surfaces the failure; the run ends FAILED.
	Propagate ErrorActionKind = "PROPAGATE"
	// Recover jumps to a designated recovery node instead of failing.
	Recover ErrorActionKind = "RECOVER"
	// Suppress treats the failure as terminal success with nil data.
	Suppress ErrorActionKind = "SUPPRESS"
)

// ErrorAction pairs a verdict with the recovery node for RECOVER.
type ErrorAction struct {
	Kind         ErrorActionKind
	RecoveryNode string
}

// PropagateAction is the default verdict.
func PropagateAction() ErrorAction { return ErrorAction{Kind: Propagate} }

// RecoverAction designates a recovery node.
func RecoverAction(nodeID string) ErrorAction {
	return ErrorAction{Kind: Recover, RecoveryNode: nodeID}
}

// SuppressAction swallows the failure.
func SuppressAction() ErrorAction { return ErrorAction{Kind: Suppress} }

// NodeRequest is what OnNode middleware sees for each node execution.
type NodeRequest struct {
	NodeID string
	Input  any
	Run    *NodeContext
}

// Middleware intercepts a graph run. Middlewares apply in declaration
// order; next advances to the following middleware or to the node itself
// and must be called at most once.
type Middleware interface {
	OnStart(ctx context.Context, nc *NodeContext, next func() *result.Error) *result.Error
	OnNode(ctx context.Context, req NodeRequest, next func() result.Result[NodeResult]) result.Result[NodeResult]
	OnError(ctx context.Context, err *result.Error, nc *NodeContext) ErrorAction
	OnFinish(report RunReport)
}

// StatefulMiddleware additionally exposes a state snapshot. The runner
// captures it into Checkpoint.MiddlewareState at every save, keyed by the
// middleware's Name.
type StatefulMiddleware interface {
	Middleware
	Name() string
	StateSnapshot() map[string]any
}

// BaseMiddleware is a pass-through implementation to embed.
type BaseMiddleware struct{}

func (BaseMiddleware) OnStart(ctx context.Context, nc *NodeContext, next func() *result.Error) *result.Error {
	return next()
}

func (BaseMiddleware) OnNode(ctx context.Context, req NodeRequest, next func() result.Result[NodeResult]) result.Result[NodeResult] {
	return next()
}

func (BaseMiddleware) OnError(ctx context.Context, err *result.Error, nc *NodeContext) ErrorAction {
	return PropagateAction()
}

func (BaseMiddleware) OnFinish(report RunReport) {}

func chainOnStart(ctx context.Context, mws []Middleware, nc *NodeContext) *result.Error {
	var invoke func(i int) *result.Error
	invoke = func(i int) *result.Error {
		if i >= len(mws) {
			return nil
		}
		return mws[i].OnStart(ctx, nc, func() *result.Error { return invoke(i + 1) })
	}
	return invoke(0)
}

func chainOnNode(ctx context.Context, mws []Middleware, req NodeRequest, inner func() result.Result[NodeResult]) result.Result[NodeResult] {
	var invoke func(i int) result.Result[NodeResult]
	invoke = func(i int) result.Result[NodeResult] {
		if i >= len(mws) {
			return inner()
		}
		return mws[i].OnNode(ctx, req, func() result.Result[NodeResult] { return invoke(i + 1) })
	}
	return invoke(0)
}

// chainOnError asks each middleware in order; the first non-PROPAGATE
// verdict wins.
func chainOnError(ctx context.Context, mws []Middleware, err *result.Error, nc *NodeContext) ErrorAction {
	for _, mw := range mws {
		if action := mw.OnError(ctx, err, nc); action.Kind != Propagate && action.Kind != "" {
			return action
		}
	}
	return PropagateAction()
}
