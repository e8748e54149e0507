package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Iron-Ham/epicrun/internal/event"
	"github.com/Iron-Ham/epicrun/internal/state"
)

// SubscribeOutcomes counts tickets reaching a terminal state and finished
// epics, using meter m (the global meter when nil). It returns the
// subscription ids.
func SubscribeOutcomes(bus *event.Bus, m metric.Meter) []string {
	if m == nil {
		m = Meter("")
	}
	tickets, _ := m.Int64Counter("epicrun.tickets.finished",
		metric.WithDescription("Tickets reaching a terminal state, by state"),
	)
	epics, _ := m.Int64Counter("epicrun.epics.finished",
		metric.WithDescription("Epics reaching a terminal state, by state"),
	)

	ticketSub := bus.Subscribe(event.TypeTicketTransition, func(e event.Event) {
		tr, ok := e.(event.TicketTransitionEvent)
		if !ok || !state.TicketState(tr.To).IsTerminal() {
			return
		}
		tickets.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("state", tr.To),
			attribute.Bool("critical", tr.Critical),
		))
	})
	epicSub := bus.Subscribe(event.TypeEpicTransition, func(e event.Event) {
		tr, ok := e.(event.EpicTransitionEvent)
		if !ok || !state.EpicState(tr.To).IsTerminal() {
			return
		}
		epics.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", tr.To)))
	})
	return []string{ticketSub, epicSub}
}
