package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/no-ai-labs/spice-go/graph"
	"github.com/no-ai-labs/spice-go/result"
)

// CircuitBreaker opens after consecutive node failures and fast-fails
// executions until the cool-down elapses. One breaker guards the whole
// runner; use per-runner instances for per-graph isolation.
type CircuitBreaker struct {
	graph.BaseMiddleware

	breaker *gobreaker.CircuitBreaker
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// NewCircuitBreaker builds the middleware. Zero-value config opens after 5
// consecutive failures and half-opens after 30 seconds.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "graph-nodes"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
		}),
	}
}

func (m *CircuitBreaker) OnNode(ctx context.Context, req graph.NodeRequest, next func() result.Result[graph.NodeResult]) result.Result[graph.NodeResult] {
	out, err := m.breaker.Execute(func() (any, error) {
		res := next()
		if e := res.Err(); e != nil {
			return res, e
		}
		return res, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return result.Failure[graph.NodeResult](
				result.New(result.CodeRateLimit, "circuit breaker open").
					WithContext("node", req.NodeID, "breaker", m.breaker.Name()))
		}
		if res, ok := out.(result.Result[graph.NodeResult]); ok {
			return res
		}
		return result.Failure[graph.NodeResult](result.FromError(err))
	}
	return out.(result.Result[graph.NodeResult])
}
