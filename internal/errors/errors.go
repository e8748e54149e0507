// Package errors provides centralized error definitions and error handling utilities
// for the epic execution engine. It defines the failure taxonomy used by the
// orchestrator, error constructors with context wrapping, and classification helpers.
//
// # Error Types
//
// Ticket-level failures are recorded on the ticket and never stop the run by
// themselves:
//   - ValidationFailure: a transition gate rejected a ticket
//   - GitError: a branch, merge or push operation failed
//   - BuilderError: the external builder could not be spawned, timed out,
//     crashed or produced a malformed result
//
// Epic-level failures terminate the run:
//   - StateError: the persisted state document is unreadable or has the wrong schema
//   - CycleError: the ticket dependency graph contains a cycle
//   - MergeConflictError: a squash merge in the finalize phase conflicted
//
// PushError is neither: a failed push downgrades the epic to
// partial success because every merge is still intact locally.
//
// # Usage
//
//	err := errors.NewGitError("failed to create branch", cause).WithBranch("ticket/auth")
//
//	var conflict *errors.MergeConflictError
//	if errors.As(err, &conflict) { ... }
//
//	if errors.IsFatal(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityWarning is for errors that are logged but do not change any outcome.
	SeverityWarning Severity = iota
	// SeverityError is for errors that fail a single ticket or operation.
	SeverityError
	// SeverityCritical is for errors that terminate the epic.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Graph sentinel errors
var (
	// ErrDependencyCycle indicates a circular dependency between tickets.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrUnknownDependency indicates a ticket depends on an id outside the epic.
	ErrUnknownDependency = New("unknown dependency")
	// ErrDuplicateTicket indicates two tickets share an id.
	ErrDuplicateTicket = New("duplicate ticket id")
)

// State sentinel errors
var (
	// ErrStateCorrupted indicates the state document could not be decoded.
	ErrStateCorrupted = New("state document corrupted")
	// ErrSchemaMismatch indicates the state document has an unexpected schema version.
	ErrSchemaMismatch = New("state schema version mismatch")
	// ErrStateNotFound indicates no state document exists yet.
	ErrStateNotFound = New("state document not found")
	// ErrInvalidTransition indicates a state change outside the transition table.
	ErrInvalidTransition = New("invalid state transition")
	// ErrTicketNotFound indicates a ticket id is not part of the epic.
	ErrTicketNotFound = New("ticket not found")
	// ErrFinalCommitImmutable indicates an attempt to overwrite a recorded final commit.
	ErrFinalCommitImmutable = New("final commit already recorded")
)

// Version control sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrBranchNotFound indicates that a branch could not be found.
	ErrBranchNotFound = New("branch not found")
	// ErrCommitNotFound indicates that a commit could not be resolved.
	ErrCommitNotFound = New("commit not found")
	// ErrMergeConflict indicates that a merge conflict occurred.
	ErrMergeConflict = New("merge conflict")
	// ErrPushFailed indicates that a push to the remote failed.
	ErrPushFailed = New("push failed")
)

// Builder sentinel errors
var (
	// ErrSpawnFailed indicates the builder process could not be started.
	ErrSpawnFailed = New("builder spawn failed")
	// ErrTimeout indicates that the builder exceeded its time budget.
	ErrTimeout = New("operation timed out")
	// ErrMalformedResult indicates the builder output did not match the result contract.
	ErrMalformedResult = New("malformed builder result")
	// ErrBuilderCrashed indicates the builder exited abnormally.
	ErrBuilderCrashed = New("builder exited abnormally")
)

// Orchestration sentinel errors
var (
	// ErrStalled indicates non-terminal tickets remain but none can make progress.
	ErrStalled = New("epic stalled")
	// ErrEpicMismatch indicates a persisted state belongs to a different epic.
	ErrEpicMismatch = New("state belongs to a different epic")
	// ErrRunInProgress indicates another process holds the run lock of the epic.
	ErrRunInProgress = New("epic run already in progress")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// EngineError is the base interface for all typed errors of this module.
type EngineError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Ticket-Level Errors
// -----------------------------------------------------------------------------

// ValidationFailure records a gate rejecting a ticket transition.
//
// Example:
//
//	err := errors.NewValidationFailure("validation", "tests failing").WithTicketID("auth")
//	fmt.Println(err) // "validation failure [ticket=auth, gate=validation]: tests failing"
type ValidationFailure struct {
	baseError
	TicketID string
	Gate     string
}

// NewValidationFailure creates a new ValidationFailure for the named gate.
func NewValidationFailure(gate, reason string) *ValidationFailure {
	return &ValidationFailure{
		baseError: baseError{message: reason, severity: SeverityError},
		Gate:      gate,
	}
}

// WithTicketID adds a ticket ID to the error context.
func (e *ValidationFailure) WithTicketID(id string) *ValidationFailure {
	e.TicketID = id
	return e
}

// Reason returns the human-readable rejection reason.
func (e *ValidationFailure) Reason() string {
	return e.message
}

// Error returns the formatted error message.
func (e *ValidationFailure) Error() string {
	var parts []string
	if e.TicketID != "" {
		parts = append(parts, "ticket="+e.TicketID)
	}
	if e.Gate != "" {
		parts = append(parts, "gate="+e.Gate)
	}
	return e.format("validation failure", parts)
}

// GitError represents a version control operation failure.
type GitError struct {
	baseError
	Branch     string
	Repository string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{message: message, cause: cause, severity: SeverityError},
	}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithGitOutput adds git command output to the error context.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, "branch="+e.Branch)
	}
	if e.Repository != "" {
		parts = append(parts, "repo="+e.Repository)
	}
	msg := e.format("git error", parts)
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}
	return msg
}

// BuilderErrorKind classifies builder invocation failures.
type BuilderErrorKind string

const (
	BuilderSpawn     BuilderErrorKind = "spawn"
	BuilderTimeout   BuilderErrorKind = "timeout"
	BuilderCrash     BuilderErrorKind = "crash"
	BuilderMalformed BuilderErrorKind = "malformed"
)

// BuilderError represents a failed builder invocation. Only spawn failures
// are retryable; a builder that ran and failed is never re-invoked.
type BuilderError struct {
	baseError
	TicketID string
	Kind     BuilderErrorKind
}

// NewBuilderError creates a new BuilderError of the given kind.
func NewBuilderError(kind BuilderErrorKind, message string, cause error) *BuilderError {
	return &BuilderError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: kind == BuilderSpawn,
		},
		Kind: kind,
	}
}

// WithTicketID adds a ticket ID to the error context.
func (e *BuilderError) WithTicketID(id string) *BuilderError {
	e.TicketID = id
	return e
}

// Error returns the formatted error message.
func (e *BuilderError) Error() string {
	parts := []string{"kind=" + string(e.Kind)}
	if e.TicketID != "" {
		parts = append(parts, "ticket="+e.TicketID)
	}
	return e.format("builder error", parts)
}

// Is maps each kind onto its sentinel so callers can test with errors.Is.
func (e *BuilderError) Is(target error) bool {
	switch target {
	case ErrSpawnFailed:
		return e.Kind == BuilderSpawn
	case ErrTimeout:
		return e.Kind == BuilderTimeout
	case ErrBuilderCrashed:
		return e.Kind == BuilderCrash
	case ErrMalformedResult:
		return e.Kind == BuilderMalformed
	}
	return false
}

// -----------------------------------------------------------------------------
// Epic-Level Errors
// -----------------------------------------------------------------------------

// StateError represents an unreadable or incompatible state document.
// It always requires operator intervention.
type StateError struct {
	baseError
	Path string
}

// NewStateError creates a new StateError.
func NewStateError(message string, cause error) *StateError {
	return &StateError{
		baseError: baseError{message: message, cause: cause, severity: SeverityCritical},
	}
}

// WithPath adds the state document path to the error context.
func (e *StateError) WithPath(path string) *StateError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *StateError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}
	return e.format("state error", parts)
}

// CycleError reports a dependency cycle found while building the graph.
type CycleError struct {
	baseError
	Cycle []string
}

// NewCycleError creates a CycleError for the given cycle path. The first id
// is repeated at the end of the path.
func NewCycleError(cycle []string) *CycleError {
	return &CycleError{
		baseError: baseError{
			message:  strings.Join(cycle, " -> "),
			cause:    ErrDependencyCycle,
			severity: SeverityCritical,
		},
		Cycle: cycle,
	}
}

// Error returns the formatted error message.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", e.message)
}

// MergeConflictError reports a squash merge that conflicted during finalize.
type MergeConflictError struct {
	baseError
	TicketID      string
	Branch        string
	ConflictFiles []string
}

// NewMergeConflictError creates a new MergeConflictError.
func NewMergeConflictError(ticketID, branch string, files []string) *MergeConflictError {
	return &MergeConflictError{
		baseError: baseError{
			message:  "squash merge conflicted",
			cause:    ErrMergeConflict,
			severity: SeverityCritical,
		},
		TicketID:      ticketID,
		Branch:        branch,
		ConflictFiles: files,
	}
}

// Error returns the formatted error message.
func (e *MergeConflictError) Error() string {
	parts := []string{"ticket=" + e.TicketID, "branch=" + e.Branch}
	msg := e.format("merge conflict", parts)
	if len(e.ConflictFiles) > 0 {
		msg = fmt.Sprintf("%s (files: %s)", msg, strings.Join(e.ConflictFiles, ", "))
	}
	return msg
}

// PushCategory classifies push failures.
type PushCategory string

const (
	PushAuthentication PushCategory = "authentication"
	PushNetwork        PushCategory = "network"
	PushRejected       PushCategory = "rejected"
	PushUnknown        PushCategory = "unknown"
)

// PushError represents a categorized push failure.
type PushError struct {
	baseError
	Branch   string
	Remote   string
	Category PushCategory
	Output   string
}

// NewPushError creates a new PushError.
func NewPushError(remote, branch string, category PushCategory, output string, cause error) *PushError {
	return &PushError{
		baseError: baseError{
			message:   "push failed",
			cause:     cause,
			severity:  SeverityWarning,
			retryable: category == PushNetwork,
		},
		Branch:   branch,
		Remote:   remote,
		Category: category,
		Output:   strings.TrimSpace(output),
	}
}

// Error returns the formatted error message.
func (e *PushError) Error() string {
	parts := []string{"remote=" + e.Remote, "branch=" + e.Branch, "category=" + string(e.Category)}
	return e.format("push error", parts)
}

// Is reports whether target is ErrPushFailed or matches the cause.
func (e *PushError) Is(target error) bool {
	return target == ErrPushFailed
}

// -----------------------------------------------------------------------------
// Error Classification
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient and the operation
// may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var engineErr EngineError
	if As(err, &engineErr) {
		return engineErr.IsRetryable()
	}
	return false
}

// IsFatal returns true for errors that terminate the epic: state corruption,
// dependency cycles and merge conflicts.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var stateErr *StateError
	var cycleErr *CycleError
	var conflictErr *MergeConflictError
	return As(err, &stateErr) || As(err, &cycleErr) || As(err, &conflictErr)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement EngineError.
func GetSeverity(err error) Severity {
	var engineErr EngineError
	if As(err, &engineErr) {
		return engineErr.Severity()
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
