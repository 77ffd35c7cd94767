package tracer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"realmforge/internal/infra/config"
)

const tracerName = "realmforge"

// Setup installs the global TracerProvider and returns its shutdown function.
// A disabled or "noop" config installs the noop provider.
func Setup(ctx context.Context, cfg config.TracerConfig) (func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }
	if !cfg.Enabled || cfg.Exporter == "" || cfg.Exporter == "noop" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	w, closeW, err := exporterOutput(cfg)
	if err != nil {
		return nil, err
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.Exporter == "stdout" {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		_ = closeW()
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", tracerName),
		)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), closeW())
	}, nil
}

func exporterOutput(cfg config.TracerConfig) (io.Writer, func() error, error) {
	switch cfg.Exporter {
	case "stdout":
		return os.Stderr, func() error { return nil }, nil
	case "file":
		if cfg.Endpoint == "" {
			return nil, nil, fmt.Errorf("file exporter needs an endpoint path")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Endpoint), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create trace dir: %w", err)
		}
		f, err := os.OpenFile(cfg.Endpoint, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open trace file: %w", err)
		}
		return f, f.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

// sampler honours the parent's decision and samples root spans at ratio.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a span on the realmforge tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// RecordError marks the span failed.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

func StringAttr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func IntAttr(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}

// MissionAttrs tags a span with the mission coordinates shared by every
// orchestration span.
func MissionAttrs(missionID, department string) trace.SpanStartEventOption {
	return trace.WithAttributes(
		attribute.String("mission.id", missionID),
		attribute.String("mission.department", department),
	)
}
