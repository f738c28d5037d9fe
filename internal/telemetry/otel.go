package telemetry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	serviceName = "integresql-dev"

	defaultMetricInterval = 30 * time.Second
	// a dev-service run can be over in seconds
	spanBatchTimeout = time.Second
)

// Setup installs global trace, metric and log providers. Exporters not
// passed as options write to stdout. The returned func flushes and stops
// the providers in reverse order. Calling it again is a no-op.
func Setup(ctx context.Context, opts ...Option) (func(context.Context) error, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(o.version),
		semconv.ServiceInstanceID(o.instanceId),
		semconv.ServiceNamespace(o.ns),
	)

	tp := trace.NewTracerProvider(
		trace.WithBatcher(o.traceExporter, trace.WithBatchTimeout(spanBatchTimeout)),
		trace.WithResource(res),
	)
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(o.metricExporter, metric.WithInterval(o.metricInterval))),
		metric.WithResource(res),
	)
	lp := log.NewLoggerProvider(
		log.WithProcessor(log.NewBatchProcessor(o.logExporter)),
		log.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)

	stops := []func(context.Context) error{tp.Shutdown, mp.Shutdown, lp.Shutdown}
	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			for _, stop := range slices.Backward(stops) {
				err = errors.Join(err, stop(ctx))
			}
		})
		return err
	}, nil
}

func newOptions(opts []Option) (*options, error) {
	o := &options{metricInterval: defaultMetricInterval}
	for _, opt := range opts {
		opt(o)
	}

	var err error
	if o.traceExporter == nil {
		if o.traceExporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint()); err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
	}
	if o.metricExporter == nil {
		if o.metricExporter, err = stdoutmetric.New(); err != nil {
			return nil, fmt.Errorf("metric exporter: %w", err)
		}
	}
	if o.logExporter == nil {
		if o.logExporter, err = stdoutlog.New(); err != nil {
			return nil, fmt.Errorf("log exporter: %w", err)
		}
	}
	return o, nil
}
