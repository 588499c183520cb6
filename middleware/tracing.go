package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/no-ai-labs/spice-go/graph"
	"github.com/no-ai-labs/spice-go/result"
)

const tracerName = "github.com/no-ai-labs/spice-go/middleware"

// Tracing opens one span per node execution under the ambient trace.
type Tracing struct {
	graph.BaseMiddleware

	tracer trace.Tracer
}

// NewTracing builds the middleware; a nil provider falls back to the
// global one.
func NewTracing(provider trace.TracerProvider) *Tracing {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracing{tracer: provider.Tracer(tracerName)}
}

func (m *Tracing) OnNode(ctx context.Context, req graph.NodeRequest, next func() result.Result[graph.NodeResult]) result.Result[graph.NodeResult] {
	_, span := m.tracer.Start(ctx, "graph.node",
		trace.WithAttributes(
			attribute.String("graph.run_id", req.Run.RunID),
			attribute.String("graph.id", req.Run.GraphID),
			attribute.String("graph.node_id", req.NodeID),
		))
	defer span.End()

	res := next()
	if err := res.Err(); err != nil {
		span.SetStatus(codes.Error, err.Message)
		span.SetAttributes(attribute.String("error.code", err.Code))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res
}
