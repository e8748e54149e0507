package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Iron-Ham/epicrun/internal/builder"
	"github.com/Iron-Ham/epicrun/internal/config"
	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/event"
	"github.com/Iron-Ham/epicrun/internal/state"
)

type recorder struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
}

func newRecorder() *recorder {
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	return &recorder{
		spans:  spans,
		reader: reader,
		tp:     sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
		mp:     sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

func (r *recorder) spanNames() []string {
	var names []string
	for _, s := range r.spans.Ended() {
		names = append(names, s.Name())
	}
	return names
}

// sum returns the total of an Int64 sum metric across all data points.
func (r *recorder) sum(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestInit_Disabled(t *testing.T) {
	if err := Init(context.Background(), config.TelemetryConfig{}, "dev"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Shutdown(context.Background())

	if Enabled() {
		t.Error("Enabled() = true for a disabled config")
	}
	store := state.NewFileStore(filepath.Join(t.TempDir(), "e.state.json"))
	if WrapStore(store) != state.Store(store) {
		t.Error("WrapStore() should return the store unchanged when disabled")
	}
}

func TestInstrumentedStore(t *testing.T) {
	rec := newRecorder()
	inner := state.NewFileStore(filepath.Join(t.TempDir(), "e.state.json"))
	store := NewInstrumentedStore(inner, rec.tp.Tracer("test"), rec.mp.Meter("test"))
	ctx := context.Background()

	if _, err := store.Load(ctx); !errors.Is(err, errors.ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}
	epic := &state.Epic{
		ID:          "e",
		State:       state.EpicReadyToExecute,
		Tickets:     map[string]*state.Ticket{"a": {ID: "a", State: state.TicketPending}},
		TicketOrder: []string{"a"},
	}
	if err := store.Save(ctx, epic); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !store.Exists() {
		t.Error("Exists() = false after Save")
	}

	names := rec.spanNames()
	if len(names) != 2 || names[0] != "state.load" || names[1] != "state.save" {
		t.Errorf("spans = %v", names)
	}
	if got := rec.sum(t, "epicrun.state.operations"); got != 2 {
		t.Errorf("operations = %d, want 2", got)
	}
	if got := rec.sum(t, "epicrun.state.errors"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestInstrumentedBuilder(t *testing.T) {
	rec := newRecorder()
	calls := 0
	inner := builder.Func(func(_ context.Context, req builder.Request) (*builder.Result, error) {
		calls++
		if calls == 2 {
			return nil, errors.NewBuilderError(errors.BuilderTimeout, "too slow", nil)
		}
		return &builder.Result{TicketID: req.TicketID, Outcome: builder.OutcomeSuccess, TestStatus: state.TestsPassing}, nil
	})
	b := NewInstrumentedBuilder(inner, rec.tp.Tracer("test"), rec.mp.Meter("test"))

	if _, err := b.Invoke(context.Background(), builder.Request{TicketID: "a"}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if _, err := b.Invoke(context.Background(), builder.Request{TicketID: "b"}); !errors.Is(err, errors.ErrTimeout) {
		t.Fatalf("Invoke() error = %v, want timeout", err)
	}

	spans := rec.spans.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[1].Status().Description == "" {
		t.Error("failed invocation span should carry an error status")
	}
	if got := rec.sum(t, "epicrun.builder.invocations"); got != 2 {
		t.Errorf("invocations = %d, want 2", got)
	}
}

func TestSubscribeOutcomes(t *testing.T) {
	rec := newRecorder()
	bus := event.NewBus(nil)
	ids := SubscribeOutcomes(bus, rec.mp.Meter("test"))
	if len(ids) != 2 {
		t.Fatalf("SubscribeOutcomes() returned %d ids", len(ids))
	}

	now := time.Now()
	bus.Publish(event.NewTicketTransitionEvent(now, "a", "pending", "ready", false, ""))
	bus.Publish(event.NewTicketTransitionEvent(now, "a", "awaiting_validation", "completed", false, ""))
	bus.Publish(event.NewTicketTransitionEvent(now, "b", "pending", "blocked", false, "a failed"))
	bus.Publish(event.NewEpicTransitionEvent(now, "e", "merging", "finalized", ""))

	if got := rec.sum(t, "epicrun.tickets.finished"); got != 2 {
		t.Errorf("tickets finished = %d, want 2", got)
	}
	if got := rec.sum(t, "epicrun.epics.finished"); got != 1 {
		t.Errorf("epics finished = %d, want 1", got)
	}
}
