// Package telemetry wires OpenTelemetry tracing for the relay.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ServiceName identifies the relay in exported spans.
const ServiceName = "responses-relay"

// Options configures InitTracer.
type Options struct {
	ServiceName string
	Version     string
	// Output receives exported spans. Defaults to stderr.
	Output io.Writer
}

// InitTracer installs a global tracer provider exporting to Output and
// returns its shutdown function.
func InitTracer(opts Options, logger *slog.Logger) (func(context.Context) error, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = ServiceName
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(opts.Output),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}

	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(opts.ServiceName)),
	}
	if opts.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(opts.Version)))
	}
	res, err := resource.New(context.Background(), attrs...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("OpenTelemetry initialized", slog.String("service", opts.ServiceName))

	return tp.Shutdown, nil
}
