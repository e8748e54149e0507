package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/epicrun/internal/builder"
)

const builderScopeName = "github.com/Iron-Ham/epicrun/builder"

// InstrumentedBuilder wraps a builder.Builder with a span per invocation
// and invocation metrics.
type InstrumentedBuilder struct {
	inner  builder.Builder
	tracer trace.Tracer
	calls  metric.Int64Counter
	dur    metric.Float64Histogram
}

// WrapBuilder returns b decorated with OTel instrumentation, or b itself
// when telemetry is disabled.
func WrapBuilder(b builder.Builder) builder.Builder {
	if !Enabled() {
		return b
	}
	return NewInstrumentedBuilder(b, Tracer(builderScopeName), Meter(builderScopeName))
}

// NewInstrumentedBuilder instruments b with the given tracer and meter.
func NewInstrumentedBuilder(b builder.Builder, tracer trace.Tracer, m metric.Meter) *InstrumentedBuilder {
	calls, _ := m.Int64Counter("epicrun.builder.invocations",
		metric.WithDescription("Builder invocations by result"),
	)
	dur, _ := m.Float64Histogram("epicrun.builder.duration",
		metric.WithDescription("Builder invocation duration in seconds"),
		metric.WithUnit("s"),
	)
	return &InstrumentedBuilder{inner: b, tracer: tracer, calls: calls, dur: dur}
}

// Invoke implements builder.Builder.
func (b *InstrumentedBuilder) Invoke(ctx context.Context, req builder.Request) (*builder.Result, error) {
	ctx, span := b.tracer.Start(ctx, "builder.invoke", trace.WithAttributes(
		attribute.String("ticket.id", req.TicketID),
		attribute.String("ticket.branch", req.Branch),
		attribute.Bool("ticket.critical", req.Critical),
	))
	defer span.End()

	start := time.Now()
	res, err := b.inner.Invoke(ctx, req)

	result := "error"
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res != nil:
		result = string(res.Outcome)
		span.SetAttributes(
			attribute.String("builder.outcome", string(res.Outcome)),
			attribute.String("builder.test_status", string(res.TestStatus)),
		)
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	b.calls.Add(ctx, 1, attrs)
	b.dur.Record(ctx, time.Since(start).Seconds(), attrs)
	return res, err
}
