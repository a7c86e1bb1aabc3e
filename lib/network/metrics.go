package network

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments for network reconciliation.
type Metrics struct {
	reconcilesTotal metric.Int64Counter
	duration        metric.Float64Histogram
}

// NetworkMetrics is the global metrics instance for this package.
// Set via SetMetrics() during application initialization.
var NetworkMetrics *Metrics

// SetMetrics sets the global metrics instance.
func SetMetrics(m *Metrics) {
	NetworkMetrics = m
}

// NewMetrics creates network metrics instruments.
// If meter is nil, returns nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}

	reconcilesTotal, err := meter.Int64Counter(
		"cradle_network_reconciles_total",
		metric.WithDescription("Total number of network reconcile calls"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"cradle_network_reconcile_duration_seconds",
		metric.WithDescription("Network reconcile duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{reconcilesTotal: reconcilesTotal, duration: duration}, nil
}

func recordReconcile(ctx context.Context, action string, start time.Time, err error) {
	m := NetworkMetrics
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	)
	m.reconcilesTotal.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
