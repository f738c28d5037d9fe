package telemetry

import (
	"context"
	"io"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
)

func TestSetupAndShutdown(t *testing.T) {
	ctx := context.Background()

	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	logExp, err := stdoutlog.New(stdoutlog.WithWriter(io.Discard))
	if err != nil {
		t.Fatal(err)
	}

	shutdown, err := Setup(ctx,
		WithTraceExporter(traceExp),
		WithMetricExporter(metricExp),
		WithLogExporter(logExp),
		WithMetricInterval(time.Hour),
		WithVersion("test"),
	)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m.StartupDuration.Record(ctx, 1.5)
	m.StartupFailures.Add(ctx, 1)

	_, span := otel.Tracer("test").Start(ctx, "span")
	span.End()

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	// second call has nothing left to stop
	if err := shutdown(ctx); err != nil {
		t.Fatalf("second shutdown failed: %v", err)
	}
}

func TestNewOptionsDefaults(t *testing.T) {
	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	if err != nil {
		t.Fatal(err)
	}

	o, err := newOptions([]Option{WithTraceExporter(traceExp)})
	if err != nil {
		t.Fatalf("newOptions failed: %v", err)
	}
	if o.traceExporter != traceExp {
		t.Error("trace exporter option was replaced")
	}
	if o.metricExporter == nil || o.logExporter == nil {
		t.Error("missing exporters were not defaulted")
	}
	if o.metricInterval != defaultMetricInterval {
		t.Errorf("expected interval %s, got %s", defaultMetricInterval, o.metricInterval)
	}
}
