// Package telemetry installs the tracer provider used by the daemon. Ended
// spans are written to the process logger.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type Output struct {
	provider *sdktrace.TracerProvider
}

// New returns an Output whose spans are logged to log, or to the default
// logger when log is nil.
func New(log *slog.Logger) *Output {
	if log == nil {
		log = slog.Default()
	}
	p := &logSpanProcessor{log: log.With("component", "trace")}
	return &Output{provider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))}
}

func (o *Output) Tracer(name string) trace.Tracer {
	if o == nil || o.provider == nil {
		return otel.Tracer(name)
	}
	return o.provider.Tracer(name)
}

// Close flushes and shuts down the provider. Spans started afterwards are
// dropped.
func (o *Output) Close(ctx context.Context) error {
	if o == nil || o.provider == nil {
		return nil
	}
	return o.provider.Shutdown(ctx)
}

type logSpanProcessor struct {
	log *slog.Logger
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	attrs := make([]slog.Attr, 0, len(span.Attributes())+2)
	attrs = append(attrs,
		slog.String("span", span.Name()),
		slog.Duration("duration", span.EndTime().Sub(span.StartTime())),
	)
	for _, kv := range span.Attributes() {
		attrs = append(attrs, slog.Any(string(kv.Key), kv.Value.AsInterface()))
	}

	level := slog.LevelInfo
	if status := span.Status(); status.Code == codes.Error {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("err", status.Description))
	}
	p.log.LogAttrs(context.Background(), level, "span ended", attrs...)
}

func (p *logSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *logSpanProcessor) ForceFlush(context.Context) error { return nil }
