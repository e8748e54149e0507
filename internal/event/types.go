package event

import "time"

// Event types.
const (
	TypeEpicTransition   = "epic.transition"
	TypeTicketTransition = "ticket.transition"
	TypeGateRejected     = "gate.rejected"
	TypeBuilderInvoked   = "builder.invoked"
	TypeTicketMerged     = "ticket.merged"
	TypeEpicPushed       = "epic.pushed"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier.
	EventType() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string, at time.Time) baseEvent {
	if at.IsZero() {
		at = time.Now()
	}
	return baseEvent{eventType: eventType, timestamp: at}
}

// EpicTransitionEvent is emitted after the epic changes state.
type EpicTransitionEvent struct {
	baseEvent
	EpicID string
	From   string
	To     string
	Reason string
}

// NewEpicTransitionEvent creates an EpicTransitionEvent.
func NewEpicTransitionEvent(at time.Time, epicID, from, to, reason string) EpicTransitionEvent {
	return EpicTransitionEvent{
		baseEvent: newBaseEvent(TypeEpicTransition, at),
		EpicID:    epicID,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}

// TicketTransitionEvent is emitted after a ticket changes state.
type TicketTransitionEvent struct {
	baseEvent
	TicketID string
	From     string
	To       string
	Critical bool
	Reason   string // set for failed and blocked
}

// NewTicketTransitionEvent creates a TicketTransitionEvent.
func NewTicketTransitionEvent(at time.Time, ticketID, from, to string, critical bool, reason string) TicketTransitionEvent {
	return TicketTransitionEvent{
		baseEvent: newBaseEvent(TypeTicketTransition, at),
		TicketID:  ticketID,
		From:      from,
		To:        to,
		Critical:  critical,
		Reason:    reason,
	}
}

// GateRejectedEvent is emitted when a gate refuses a transition.
type GateRejectedEvent struct {
	baseEvent
	TicketID string
	Gate     string
	Reason   string
}

// NewGateRejectedEvent creates a GateRejectedEvent.
func NewGateRejectedEvent(at time.Time, ticketID, gate, reason string) GateRejectedEvent {
	return GateRejectedEvent{
		baseEvent: newBaseEvent(TypeGateRejected, at),
		TicketID:  ticketID,
		Gate:      gate,
		Reason:    reason,
	}
}

// BuilderInvokedEvent is emitted when a builder invocation returns.
type BuilderInvokedEvent struct {
	baseEvent
	TicketID string
	Duration time.Duration
	Err      error
}

// NewBuilderInvokedEvent creates a BuilderInvokedEvent.
func NewBuilderInvokedEvent(at time.Time, ticketID string, d time.Duration, err error) BuilderInvokedEvent {
	return BuilderInvokedEvent{
		baseEvent: newBaseEvent(TypeBuilderInvoked, at),
		TicketID:  ticketID,
		Duration:  d,
		Err:       err,
	}
}

// TicketMergedEvent is emitted after a ticket branch is squash-merged into
// the epic branch.
type TicketMergedEvent struct {
	baseEvent
	TicketID    string
	Branch      string
	MergeCommit string
}

// NewTicketMergedEvent creates a TicketMergedEvent.
func NewTicketMergedEvent(at time.Time, ticketID, branch, mergeCommit string) TicketMergedEvent {
	return TicketMergedEvent{
		baseEvent:   newBaseEvent(TypeTicketMerged, at),
		TicketID:    ticketID,
		Branch:      branch,
		MergeCommit: mergeCommit,
	}
}

// EpicPushedEvent reports the outcome of pushing the epic branch.
type EpicPushedEvent struct {
	baseEvent
	Branch string
	Remote string
	Status string
}

// NewEpicPushedEvent creates an EpicPushedEvent.
func NewEpicPushedEvent(at time.Time, branch, remote, status string) EpicPushedEvent {
	return EpicPushedEvent{
		baseEvent: newBaseEvent(TypeEpicPushed, at),
		Branch:    branch,
		Remote:    remote,
		Status:    status,
	}
}
