package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/no-ai-labs/spice-go/result"
)

// Transformer hooks around a run and around individual nodes, one layer
// above middleware. ContinueOnFailure decides whether a failing transformer
// halts the rest of the chain for that hook.
type Transformer interface {
	Name() string
	ContinueOnFailure() bool
	BeforeExecution(ctx context.Context, nc *NodeContext) *result.Error
	BeforeNode(ctx context.Context, nodeID string, nc *NodeContext) *result.Error
	AfterNode(ctx context.Context, nodeID string, nc *NodeContext) *result.Error
	AfterExecution(ctx context.Context, nc *NodeContext) *result.Error
}

// BaseTransformer is a no-op implementation to embed. ContinueOnFailure
// defaults to false: a failure halts the chain.
type BaseTransformer struct{}

func (BaseTransformer) Name() string            { return "" }
func (BaseTransformer) ContinueOnFailure() bool { return false }
func (BaseTransformer) BeforeExecution(ctx context.Context, nc *NodeContext) *result.Error {
	return nil
}
func (BaseTransformer) BeforeNode(ctx context.Context, nodeID string, nc *NodeContext) *result.Error {
	return nil
}
func (BaseTransformer) AfterNode(ctx context.Context, nodeID string, nc *NodeContext) *result.Error {
	return nil
}
func (BaseTransformer) AfterExecution(ctx context.Context, nc *NodeContext) *result.Error {
	return nil
}

// safeTransform runs one transformer hook, converting panics into
// TRANSFORMER_ERROR so a broken transformer cannot crash the run.
func safeTransform(name string, fn func() *result.Error) (err *result.Error) {
	defer func() {
		if r := recover(); r != nil {
			err = result.New(result.CodeTransformer, fmt.Sprintf("transformer %q panicked", name)).
				WithContext(result.CtxPanicValue, fmt.Sprintf("%v", r))
		}
	}()
	if err := fn(); err != nil {
		if err.Code == result.CodeTransformer {
			return err
		}
		return result.New(result.CodeTransformer, err.Message).
			WithCause(err).WithContext("transformer", name)
	}
	return nil
}

// runTransformers drives one hook across the chain. A failure from a
// transformer with ContinueOnFailure=false halts the remaining transformers
// and propagates; otherwise the failure is logged and the chain continues.
// With always=true every transformer runs regardless of failures (the
// afterExecution cleanup phase) and the first failure is reported at the
// end.
func runTransformers(logger *zap.Logger, ts []Transformer, always bool, hook string, apply func(Transformer) *result.Error) *result.Error {
	var first *result.Error
	for _, t := range ts {
		err := safeTransform(t.Name(), func() *result.Error { return apply(t) })
		if err == nil {
			continue
		}
		logger.Warn("transformer failed",
			zap.String("transformer", t.Name()),
			zap.String("hook", hook),
			zap.String("code", err.Code),
			zap.String("message", err.Message))
		if always || t.ContinueOnFailure() {
			if first == nil {
				first = err
			}
			continue
		}
		return err
	}
	if always {
		// Cleanup failures are recorded but never halt the chain; callers
		// decide whether to surface the first one.
		return first
	}
	return nil
}
