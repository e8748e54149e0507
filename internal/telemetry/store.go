package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/epicrun/internal/state"
)

const storeScopeName = "github.com/Iron-Ham/epicrun/state"

// InstrumentedStore wraps a state.Store with a span and metrics per call.
type InstrumentedStore struct {
	inner  state.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation, or s itself when
// telemetry is disabled.
func WrapStore(s state.Store) state.Store {
	if !Enabled() {
		return s
	}
	return NewInstrumentedStore(s, Tracer(storeScopeName), Meter(storeScopeName))
}

// NewInstrumentedStore instruments s with the given tracer and meter.
func NewInstrumentedStore(s state.Store, tracer trace.Tracer, m metric.Meter) *InstrumentedStore {
	ops, _ := m.Int64Counter("epicrun.state.operations",
		metric.WithDescription("Total state store operations"),
	)
	dur, _ := m.Float64Histogram("epicrun.state.operation.duration",
		metric.WithDescription("State store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("epicrun.state.errors",
		metric.WithDescription("Total state store errors"),
	)
	return &InstrumentedStore{inner: s, tracer: tracer, ops: ops, dur: dur, errs: errs}
}

func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("state.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "state."+name, trace.WithAttributes(all...))
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, name string, err error) {
	attrs := metric.WithAttributes(attribute.String("state.operation", name))
	s.dur.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, attrs)
	}
	span.End()
}

// Load implements state.Store.
func (s *InstrumentedStore) Load(ctx context.Context) (*state.Epic, error) {
	ctx, span, start := s.op(ctx, "load")
	epic, err := s.inner.Load(ctx)
	if epic != nil {
		span.SetAttributes(attribute.String("epic.id", epic.ID), attribute.String("epic.state", string(epic.State)))
	}
	s.done(ctx, span, start, "load", err)
	return epic, err
}

// Save implements state.Store.
func (s *InstrumentedStore) Save(ctx context.Context, epic *state.Epic) error {
	ctx, span, start := s.op(ctx, "save",
		attribute.String("epic.id", epic.ID),
		attribute.String("epic.state", string(epic.State)),
	)
	err := s.inner.Save(ctx, epic)
	s.done(ctx, span, start, "save", err)
	return err
}

// Exists implements state.Store.
func (s *InstrumentedStore) Exists() bool {
	return s.inner.Exists()
}
