package snapshot

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments for snapshot operations.
type Metrics struct {
	operationsTotal metric.Int64Counter
	duration        metric.Float64Histogram
}

// SnapshotMetrics is the global metrics instance for this package.
// Set via SetMetrics() during application initialization.
var SnapshotMetrics *Metrics

// SetMetrics sets the global metrics instance.
func SetMetrics(m *Metrics) {
	SnapshotMetrics = m
}

// NewMetrics creates snapshot metrics instruments.
// If meter is nil, returns nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}

	operationsTotal, err := meter.Int64Counter(
		"cradle_snapshot_operations_total",
		metric.WithDescription("Total number of snapshot operations"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"cradle_snapshot_duration_seconds",
		metric.WithDescription("Snapshot operation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{operationsTotal: operationsTotal, duration: duration}, nil
}

func recordOperation(ctx context.Context, op string, start time.Time, err error) {
	m := SnapshotMetrics
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	)
	m.operationsTotal.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
