package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/no-ai-labs/spice-go/graph"
	"github.com/no-ai-labs/spice-go/result"
)

// Logging emits structured logs for run and node lifecycle.
type Logging struct {
	graph.BaseMiddleware

	Logger *zap.Logger
}

// NewLogging builds the middleware; a nil logger logs nowhere.
func NewLogging(logger *zap.Logger) *Logging {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logging{Logger: logger}
}

func (m *Logging) OnStart(ctx context.Context, nc *graph.NodeContext, next func() *result.Error) *result.Error {
	m.Logger.Info("run started",
		zap.String("run", nc.RunID),
		zap.String("graph", nc.GraphID),
		zap.String("tenant", nc.Exec.TenantID))
	return next()
}

func (m *Logging) OnNode(ctx context.Context, req graph.NodeRequest, next func() result.Result[graph.NodeResult]) result.Result[graph.NodeResult] {
	start := time.Now()
	res := next()
	fields := []zap.Field{
		zap.String("run", req.Run.RunID),
		zap.String("node", req.NodeID),
		zap.Duration("duration", time.Since(start)),
	}
	if err := res.Err(); err != nil {
		fields = append(fields, zap.String("code", err.Code), zap.String("error", err.Message))
		m.Logger.Warn("node failed", fields...)
	} else {
		m.Logger.Debug("node completed", fields...)
	}
	return res
}

func (m *Logging) OnFinish(report graph.RunReport) {
	fields := []zap.Field{
		zap.String("run", report.RunID),
		zap.String("graph", report.GraphID),
		zap.String("status", string(report.Status)),
		zap.Duration("duration", report.Duration),
		zap.Int("nodes", len(report.NodeReports)),
	}
	if report.Error != nil {
		fields = append(fields, zap.String("code", report.Error.Code))
		m.Logger.Warn("run finished", fields...)
		return
	}
	m.Logger.Info("run finished", fields...)
}
