// Package state defines the persisted model of an epic run: the epic, its
// tickets, the closed sets of discrete states they move through and the
// single table of legal transitions between them.
//
// All mutation goes through TransitionTo so that no code path can apply a
// state change the table does not allow. The Store interface persists
// immutable snapshots of an Epic; FileStore writes them atomically.
package state

import (
	"fmt"
	"time"
)

// TicketState is the discrete lifecycle state of a ticket.
type TicketState string

const (
	TicketPending            TicketState = "pending"
	TicketReady              TicketState = "ready"
	TicketBranchCreated      TicketState = "branch_created"
	TicketInProgress         TicketState = "in_progress"
	TicketAwaitingValidation TicketState = "awaiting_validation"
	TicketCompleted          TicketState = "completed"
	TicketFailed             TicketState = "failed"
	TicketBlocked            TicketState = "blocked"
)

var ticketStates = map[TicketState]bool{
	TicketPending: true, TicketReady: true, TicketBranchCreated: true, TicketInProgress: true,
	TicketAwaitingValidation: true, TicketCompleted: true, TicketFailed: true, TicketBlocked: true,
}

// String returns the string representation of the ticket state.
func (s TicketState) String() string {
	return string(s)
}

// IsTerminal returns true for completed, failed and blocked.
func (s TicketState) IsTerminal() bool {
	return s == TicketCompleted || s == TicketFailed || s == TicketBlocked
}

// IsInFlight returns true while a builder invocation owns the ticket.
func (s TicketState) IsInFlight() bool {
	return s == TicketInProgress || s == TicketAwaitingValidation
}

// UnmarshalText rejects values outside the closed set.
func (s *TicketState) UnmarshalText(text []byte) error {
	v := TicketState(text)
	if !ticketStates[v] {
		return fmt.Errorf("unknown ticket state %q", string(text))
	}
	*s = v
	return nil
}

// EpicState is the discrete lifecycle state of an epic.
type EpicState string

const (
	EpicInitializing   EpicState = "initializing"
	EpicReadyToExecute EpicState = "ready_to_execute"
	EpicExecutingWave  EpicState = "executing_wave"
	EpicMerging        EpicState = "merging"
	EpicFinalized      EpicState = "finalized"
	EpicFailed         EpicState = "failed"
	EpicRolledBack     EpicState = "rolled_back"
	EpicPartialSuccess EpicState = "partial_success"
)

var epicStates = map[EpicState]bool{
	EpicInitializing: true, EpicReadyToExecute: true, EpicExecutingWave: true, EpicMerging: true,
	EpicFinalized: true, EpicFailed: true, EpicRolledBack: true, EpicPartialSuccess: true,
}

// String returns the string representation of the epic state.
func (s EpicState) String() string {
	return string(s)
}

// IsTerminal returns true for finalized, rolled_back and partial_success.
// A failed epic is terminal only once nothing is left to resolve; see
// Epic.NeedsFailureResolution.
func (s EpicState) IsTerminal() bool {
	return s == EpicFinalized || s == EpicRolledBack || s == EpicPartialSuccess
}

// UnmarshalText rejects values outside the closed set.
func (s *EpicState) UnmarshalText(text []byte) error {
	v := EpicState(text)
	if !epicStates[v] {
		return fmt.Errorf("unknown epic state %q", string(text))
	}
	*s = v
	return nil
}

// TestStatus is the test-suite outcome reported by the builder.
type TestStatus string

const (
	TestsPassing TestStatus = "passing"
	TestsFailing TestStatus = "failing"
	TestsSkipped TestStatus = "skipped"
)

// Valid reports whether s is one of the three reportable outcomes.
func (s TestStatus) Valid() bool {
	return s == TestsPassing || s == TestsFailing || s == TestsSkipped
}

// PushStatus records the outcome of pushing the epic branch.
type PushStatus string

const (
	PushNotAttempted PushStatus = ""
	PushPushed       PushStatus = "pushed"
	PushSkipped      PushStatus = "skipped"
)

// PushFailed returns the push status for a categorized push failure,
// e.g. "failed: authentication".
func PushFailed(category string) PushStatus {
	return PushStatus("failed: " + category)
}

// Criterion is a single acceptance criterion and whether the builder met it.
type Criterion struct {
	Criterion string `json:"criterion"`
	Met       bool   `json:"met"`
}

// GitInfo is the version-control metadata of a ticket.
type GitInfo struct {
	// Branch is the deterministic ticket branch name.
	Branch string `json:"branch"`

	// BaseCommit is the commit the branch was created from.
	BaseCommit string `json:"base_commit"`

	// ClaimedCommit is the final commit reported by the builder, pending validation.
	ClaimedCommit string `json:"claimed_commit,omitempty"`

	// FinalCommit is set once, when the ticket completes.
	FinalCommit string `json:"final_commit,omitempty"`

	// MergeCommit is the squash commit created on the epic branch during finalize.
	MergeCommit string `json:"merge_commit,omitempty"`

	// Pushed records that this run pushed the branch to the remote.
	Pushed bool `json:"pushed,omitempty"`
}

// Ticket is one unit of work and its progress.
type Ticket struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Path      string   `json:"path,omitempty"`
	DependsOn []string `json:"depends_on"`
	Critical  bool     `json:"critical"`

	State TicketState `json:"state"`
	Git   *GitInfo    `json:"git,omitempty"`

	TestStatus    TestStatus  `json:"test_status,omitempty"`
	Criteria      []Criterion `json:"acceptance_criteria,omitempty"`
	ModifiedFiles []string    `json:"files_modified,omitempty"`

	FailureReason      string `json:"failure_reason,omitempty"`
	BlockingDependency string `json:"blocking_dependency,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// FinalCommit returns the recorded final commit, or "" if none.
func (t *Ticket) FinalCommit() string {
	if t.Git == nil {
		return ""
	}
	return t.Git.FinalCommit
}

// Branch returns the ticket branch, or "" if no branch was created.
func (t *Ticket) Branch() string {
	if t.Git == nil {
		return ""
	}
	return t.Git.Branch
}

// Epic is the root of the persisted state document.
type Epic struct {
	SchemaVersion int    `json:"schema_version"`
	ID            string `json:"epic_id"`
	RunID         string `json:"run_id"`

	Branch         string `json:"epic_branch"`
	BaselineCommit string `json:"baseline_commit"`
	OriginalBranch string `json:"original_branch,omitempty"`
	DefinitionPath string `json:"definition_path,omitempty"`

	RollbackOnFailure bool      `json:"rollback_on_failure"`
	State             EpicState `json:"state"`

	Tickets map[string]*Ticket `json:"tickets"`

	// TicketOrder is the definition order, used for deterministic iteration.
	TicketOrder []string `json:"ticket_order"`

	// CompletionOrder lists ticket ids in the order they completed.
	CompletionOrder []string `json:"completion_order,omitempty"`

	PushStatus       PushStatus `json:"push_status,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	FailedTicket     string     `json:"failed_ticket,omitempty"`
	DiscardedTickets []string   `json:"discarded_tickets,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Ticket returns the ticket with the given id.
func (e *Epic) Ticket(id string) (*Ticket, bool) {
	t, ok := e.Tickets[id]
	return t, ok
}

// OrderedTickets returns tickets in definition order.
func (e *Epic) OrderedTickets() []*Ticket {
	out := make([]*Ticket, 0, len(e.TicketOrder))
	for _, id := range e.TicketOrder {
		if t, ok := e.Tickets[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// InFlight returns the tickets currently owned by a builder invocation.
func (e *Epic) InFlight() []*Ticket {
	var out []*Ticket
	for _, t := range e.OrderedTickets() {
		if t.State.IsInFlight() {
			out = append(out, t)
		}
	}
	return out
}

// AllTerminal reports whether every ticket reached a terminal state.
func (e *Epic) AllTerminal() bool {
	for _, t := range e.Tickets {
		if !t.State.IsTerminal() {
			return false
		}
	}
	return true
}

// CountByState returns the number of tickets in each state.
func (e *Epic) CountByState() map[TicketState]int {
	counts := make(map[TicketState]int)
	for _, t := range e.Tickets {
		counts[t.State]++
	}
	return counts
}

// NeedsFailureResolution reports whether a critical failure was recorded but
// the rollback or partial-success decision has not been applied yet.
func (e *Epic) NeedsFailureResolution() bool {
	return e.State == EpicFailed && e.FailedTicket != ""
}

// Clone returns a deep copy. Stores persist clones so callers can never
// mutate a snapshot after it was handed over.
func (e *Epic) Clone() *Epic {
	if e == nil {
		return nil
	}
	c := *e
	c.TicketOrder = append([]string(nil), e.TicketOrder...)
	c.CompletionOrder = append([]string(nil), e.CompletionOrder...)
	c.DiscardedTickets = append([]string(nil), e.DiscardedTickets...)
	c.StartedAt = cloneTime(e.StartedAt)
	c.CompletedAt = cloneTime(e.CompletedAt)
	c.Tickets = make(map[string]*Ticket, len(e.Tickets))
	for id, t := range e.Tickets {
		c.Tickets[id] = t.Clone()
	}
	return &c
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Criteria = append([]Criterion(nil), t.Criteria...)
	c.ModifiedFiles = append([]string(nil), t.ModifiedFiles...)
	if t.Git != nil {
		g := *t.Git
		c.Git = &g
	}
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
