package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/greatliontech/integresql-dev"

// Metrics holds the dev-service instruments. Every field is usable even
// when no MeterProvider was installed, otel then hands out noop instruments.
type Metrics struct {
	StartupDuration metric.Float64Histogram
	StartupFailures metric.Int64Counter
	CleanupErrors   metric.Int64Counter
	ActiveRuns      metric.Int64UpDownCounter
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.StartupDuration, err = meter.Float64Histogram("devservice.startup.duration",
		metric.WithDescription("Time from start request to published config"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 20, 30, 60, 120)); err != nil {
		return nil, err
	}
	if m.StartupFailures, err = meter.Int64Counter("devservice.startup.failures",
		metric.WithDescription("Failed dev-service starts by phase")); err != nil {
		return nil, err
	}
	if m.CleanupErrors, err = meter.Int64Counter("devservice.cleanup.errors",
		metric.WithDescription("Teardown steps that failed")); err != nil {
		return nil, err
	}
	if m.ActiveRuns, err = meter.Int64UpDownCounter("devservice.runs.active",
		metric.WithDescription("Dev-service runs currently up")); err != nil {
		return nil, err
	}
	return m, nil
}
