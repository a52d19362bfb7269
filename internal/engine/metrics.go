package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// engineMetrics counts workflow outcomes.
type engineMetrics struct {
	started   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
}

func newEngineMetrics() (*engineMetrics, error) {
	meter := otel.Meter("github.com/SYMBIONT-X/SYMBIONT-X/internal/engine")

	started, err := meter.Int64Counter("workflows.started",
		metric.WithDescription("Workflows started"))
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64Counter("workflows.completed",
		metric.WithDescription("Workflows reaching a completed state"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("workflows.failed",
		metric.WithDescription("Workflows reaching a failed state"))
	if err != nil {
		return nil, err
	}
	return &engineMetrics{started: started, completed: completed, failed: failed}, nil
}

func (m *engineMetrics) recordStarted(ctx context.Context, repository string) {
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("repository", repository)))
}

func (m *engineMetrics) recordCompleted(ctx context.Context) {
	m.completed.Add(ctx, 1)
}

func (m *engineMetrics) recordFailed(ctx context.Context, stage string) {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
