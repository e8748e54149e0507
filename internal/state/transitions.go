package state

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/epicrun/internal/errors"
)

// ticketTransitions is the single table of legal ticket state changes.
var ticketTransitions = map[TicketState][]TicketState{
	TicketPending:            {TicketReady, TicketBlocked},
	TicketReady:              {TicketBranchCreated, TicketFailed, TicketBlocked},
	TicketBranchCreated:      {TicketInProgress, TicketFailed, TicketBlocked},
	TicketInProgress:         {TicketAwaitingValidation, TicketFailed},
	TicketAwaitingValidation: {TicketCompleted, TicketFailed},
}

// recoveryTransitions are only applied by ResetStale when a crashed run left
// a ticket mid-flight.
var recoveryTransitions = map[TicketState][]TicketState{
	TicketInProgress:         {TicketReady, TicketPending},
	TicketAwaitingValidation: {TicketReady, TicketPending},
}

var epicTransitions = map[EpicState][]EpicState{
	EpicInitializing:   {EpicReadyToExecute, EpicFailed},
	EpicReadyToExecute: {EpicExecutingWave, EpicMerging, EpicFailed},
	EpicExecutingWave:  {EpicReadyToExecute, EpicMerging, EpicFailed},
	EpicMerging:        {EpicFinalized, EpicPartialSuccess, EpicFailed},
	EpicFailed:         {EpicRolledBack, EpicPartialSuccess},
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to TicketState) bool {
	return contains(ticketTransitions[from], to)
}

// CanTransitionEpic reports whether the epic table allows from -> to.
func CanTransitionEpic(from, to EpicState) bool {
	return contains(epicTransitions[from], to)
}

// TransitionTo moves the ticket to the given state. The ticket is left
// unchanged when the table forbids the move.
func (t *Ticket) TransitionTo(to TicketState, now time.Time) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("ticket %s: %s -> %s: %w", t.ID, t.State, to, errors.ErrInvalidTransition)
	}
	t.State = to
	switch to {
	case TicketInProgress:
		t.StartedAt = &now
	case TicketCompleted, TicketFailed, TicketBlocked:
		t.CompletedAt = &now
	}
	return nil
}

// Fail moves the ticket to failed and records the reason.
func (t *Ticket) Fail(reason string, now time.Time) error {
	if err := t.TransitionTo(TicketFailed, now); err != nil {
		return err
	}
	t.FailureReason = reason
	return nil
}

// Block moves the ticket to blocked, naming the dependency that caused it.
func (t *Ticket) Block(blocker string, now time.Time) error {
	if err := t.TransitionTo(TicketBlocked, now); err != nil {
		return err
	}
	t.BlockingDependency = blocker
	return nil
}

// Complete moves the ticket to completed and records its final commit.
// A final commit, once recorded, can never change.
func (t *Ticket) Complete(finalCommit string, now time.Time) error {
	if t.Git == nil {
		return fmt.Errorf("ticket %s: no branch recorded: %w", t.ID, errors.ErrInvalidTransition)
	}
	if t.Git.FinalCommit != "" && t.Git.FinalCommit != finalCommit {
		return fmt.Errorf("ticket %s: %w", t.ID, errors.ErrFinalCommitImmutable)
	}
	if err := t.TransitionTo(TicketCompleted, now); err != nil {
		return err
	}
	t.Git.FinalCommit = finalCommit
	t.Git.ClaimedCommit = ""
	return nil
}

// ResetStale returns an in-flight ticket to ready, or to pending when its
// dependencies are not all completed, and discards the partial builder
// report. It reports whether the ticket changed.
func (t *Ticket) ResetStale(depsCompleted bool) bool {
	to := TicketPending
	if depsCompleted {
		to = TicketReady
	}
	if !contains(recoveryTransitions[t.State], to) {
		return false
	}
	t.State = to
	t.StartedAt = nil
	t.TestStatus = ""
	t.Criteria = nil
	t.ModifiedFiles = nil
	if t.Git != nil {
		t.Git.ClaimedCommit = ""
	}
	return true
}

// TransitionTo moves the epic to the given state.
func (e *Epic) TransitionTo(to EpicState, now time.Time) error {
	if !CanTransitionEpic(e.State, to) {
		return fmt.Errorf("epic %s: %s -> %s: %w", e.ID, e.State, to, errors.ErrInvalidTransition)
	}
	e.State = to
	if to.IsTerminal() {
		e.CompletedAt = &now
	}
	return nil
}
