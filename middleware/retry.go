// Package middleware ships graph middlewares for the cross-cutting
// concerns a production run needs: retries, timeouts, circuit breaking,
// logging, tracing and metrics.
package middleware

import (
	"context"
	"time"

	"github.com/no-ai-labs/spice-go/graph"
	"github.com/no-ai-labs/spice-go/result"
)

// Retry re-executes a failed node when the error is retryable
// (RATE_LIMIT_ERROR, NETWORK_ERROR, TIMEOUT_ERROR) with exponential
// backoff.
type Retry struct {
	graph.BaseMiddleware

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func (m *Retry) OnNode(ctx context.Context, req graph.NodeRequest, next func() result.Result[graph.NodeResult]) result.Result[graph.NodeResult] {
	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = 2
	}
	baseDelay := m.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := m.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	multiplier := m.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	var last result.Result[graph.NodeResult]
	for attempt := 1; attempt <= attempts; attempt++ {
		last = next()
		if last.IsSuccess() {
			return last
		}
		if !result.IsRetryable(last.Err()) {
			return last
		}

		if attempt < attempts {
			delay := baseDelay
			for i := 1; i < attempt; i++ {
				delay = time.Duration(float64(delay) * multiplier)
				if delay > maxDelay {
					delay = maxDelay
					break
				}
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return result.Failure[graph.NodeResult](result.FromError(ctx.Err()))
			}
		}
	}
	return last
}
