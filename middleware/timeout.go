package middleware

import (
	"context"
	"time"

	"github.com/no-ai-labs/spice-go/graph"
	"github.com/no-ai-labs/spice-go/result"
)

// Timeout bounds each node execution. The engine itself imposes no default
// timeout; attach this middleware to get one.
type Timeout struct {
	graph.BaseMiddleware

	PerNode time.Duration
}

func (m *Timeout) OnNode(ctx context.Context, req graph.NodeRequest, next func() result.Result[graph.NodeResult]) result.Result[graph.NodeResult] {
	if m.PerNode <= 0 {
		return next()
	}

	done := make(chan result.Result[graph.NodeResult], 1)
	go func() { done <- next() }()

	timer := time.NewTimer(m.PerNode)
	defer timer.Stop()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return result.Failure[graph.NodeResult](result.FromError(ctx.Err()))
	case <-timer.C:
		return result.Failure[graph.NodeResult](
			result.Timeout("node execution timed out", m.PerNode.Milliseconds(), req.NodeID))
	}
}
