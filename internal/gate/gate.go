package gate

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/graph"
	"github.com/Iron-Ham/epicrun/internal/state"
	"github.com/Iron-Ham/epicrun/internal/vcs"
)

// Metadata keys set by gates.
const (
	MetaBranch      = "branch"
	MetaBaseCommit  = "base_commit"
	MetaPushed      = "pushed"
	MetaFailedCheck = "failed_check"
	// MetaRetryLater marks a rejection that clears by itself once an
	// in-flight ticket finishes.
	MetaRetryLater = "retry_later"
)

// Result is the outcome of a gate check.
type Result struct {
	Passed   bool
	Reason   string
	Metadata map[string]string

	// Err is the underlying error for failures caused by an operation
	// rather than a rejected predicate.
	Err error
}

// Pass returns a passing result.
func Pass(reason string) Result {
	return Result{Passed: true, Reason: reason}
}

// Failf returns a failing result with a formatted reason.
func Failf(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

func failErr(err error, format string, args ...any) Result {
	r := Failf(format, args...)
	r.Reason = r.Reason + ": " + err.Error()
	r.Err = err
	return r
}

// With sets a metadata key and returns the result.
func (r Result) With(key, value string) Result {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
	return r
}

// AsError converts a failed result into a ValidationFailure for gate.
func (r Result) AsError(gate, ticketID string) error {
	if r.Passed {
		return nil
	}
	return errors.NewValidationFailure(gate, r.Reason).WithTicketID(ticketID)
}

// Context is the shared, read-mostly input of every gate.
type Context struct {
	Epic  *state.Epic
	Graph *graph.Graph
	Repo  vcs.Repository

	// Remote is the remote to push to; empty means no remote is configured.
	Remote string
	// PushBranches pushes ticket branches on creation.
	PushBranches bool
	// BranchPrefix prefixes ticket branch names; defaults to "ticket".
	BranchPrefix string
	// MaxInFlight is the in-flight ticket limit; values below 1 mean 1.
	MaxInFlight int
	// Protected lists modified-file globs a ticket may not touch.
	Protected []ProtectedPath
}

// Gate is a named transition predicate.
type Gate interface {
	Name() string
	Check(ctx context.Context, t *state.Ticket, gc *Context) Result
}

// TicketBranch returns the deterministic branch name of a ticket.
func TicketBranch(prefix, ticketID string) string {
	if prefix == "" {
		prefix = "ticket"
	}
	return prefix + "/" + ticketID
}

func (gc *Context) ticketBranch(id string) string {
	return TicketBranch(gc.BranchPrefix, id)
}

func (gc *Context) pushesToRemote() bool {
	return gc.Remote != "" && gc.PushBranches
}
