// Package event provides a synchronous pub-sub bus through which the
// orchestrator reports progress without knowing who listens.
//
// # Event Types
//
//   - [EpicTransitionEvent]: the epic changed state ("epic.transition")
//   - [TicketTransitionEvent]: a ticket changed state ("ticket.transition")
//   - [GateRejectedEvent]: a gate refused a transition ("gate.rejected")
//   - [BuilderInvokedEvent]: a builder invocation returned ("builder.invoked")
//   - [TicketMergedEvent]: a ticket was squash-merged during finalize ("ticket.merged")
//   - [EpicPushedEvent]: the epic branch push finished ("epic.pushed")
//
// The CLI subscribes to print progress; telemetry subscribes to count
// ticket outcomes.
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers are called synchronously and a
// panicking handler does not prevent the others from running.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeTicketTransition, func(e event.Event) {
//	    tr := e.(event.TicketTransitionEvent)
//	    fmt.Printf("%s: %s -> %s\n", tr.TicketID, tr.From, tr.To)
//	})
package event
