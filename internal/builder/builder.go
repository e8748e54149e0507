// Package builder invokes the external builder agent once per ticket and
// parses its structured result.
package builder

import (
	"context"

	"github.com/Iron-Ham/epicrun/internal/state"
)

// Request is the context handed to one builder invocation.
type Request struct {
	TicketID   string `json:"ticket_id"`
	Title      string `json:"title"`
	TicketPath string `json:"ticket_path,omitempty"`
	Branch     string `json:"branch"`
	BaseCommit string `json:"base_commit"`
	EpicPath   string `json:"epic_path,omitempty"`
	Critical   bool   `json:"critical"`
	RepoDir    string `json:"repo_dir,omitempty"`
}

// Outcome is the builder's own verdict on its work.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Result is the structured result every invocation must produce.
type Result struct {
	TicketID      string            `json:"ticket_id"`
	Outcome       Outcome           `json:"outcome"`
	FinalCommit   *string           `json:"final_commit"`
	ModifiedFiles []string          `json:"files_modified"`
	TestStatus    state.TestStatus  `json:"test_status"`
	Criteria      []state.Criterion `json:"acceptance_criteria"`
}

// Commit returns the reported final commit, or "" when the builder reported null.
func (r *Result) Commit() string {
	if r.FinalCommit == nil {
		return ""
	}
	return *r.FinalCommit
}

// Builder runs one ticket to completion. Invoke blocks until the builder
// exits or ctx is done. Failures to obtain a result are returned as
// *errors.BuilderError.
type Builder interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a function to the Builder interface.
type Func func(ctx context.Context, req Request) (*Result, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
