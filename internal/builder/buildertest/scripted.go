// Package buildertest provides a scripted builder that commits to an
// in-memory repository, for orchestrator tests.
package buildertest

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/epicrun/internal/builder"
	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/state"
	"github.com/Iron-Ham/epicrun/internal/vcs/vcstest"
)

// Step scripts one invocation for a ticket. The zero Step commits once on
// the ticket branch and reports success with passing tests.
type Step struct {
	// Err is returned instead of a result.
	Err error
	// NoCommit skips the commit on the ticket branch.
	NoCommit bool
	// At timestamps the commit; zero uses the scripted clock.
	At time.Time
	// Outcome defaults to success.
	Outcome builder.Outcome
	// TestStatus defaults to passing.
	TestStatus state.TestStatus
	// Criteria defaults to one met criterion.
	Criteria []state.Criterion
	// ReportCommit overrides the reported final commit.
	ReportCommit string
	// Files defaults to ["<ticket>.go"].
	Files []string
	// Hook runs before the step is applied.
	Hook func(req builder.Request)
}

// SpawnFailure returns a step failing with a retryable spawn error.
func SpawnFailure() Step {
	return Step{Err: errors.NewBuilderError(errors.BuilderSpawn, "scripted spawn failure", nil)}
}

// Crash returns a step failing as if the builder exited abnormally.
func Crash() Step {
	return Step{Err: errors.NewBuilderError(errors.BuilderCrash, "scripted crash", nil)}
}

// FailingTests returns a step that commits but reports failing tests.
func FailingTests() Step {
	return Step{TestStatus: state.TestsFailing}
}

// Scripted is a builder.Builder driven by per-ticket scripts.
type Scripted struct {
	repo *vcstest.Repo

	mu       sync.Mutex
	clock    time.Time
	scripts  map[string][]Step
	requests []builder.Request
}

// New creates a Scripted builder committing to repo. The clock starts at
// start and advances one minute per default-timestamped commit.
func New(repo *vcstest.Repo, start time.Time) *Scripted {
	return &Scripted{
		repo:    repo,
		clock:   start,
		scripts: make(map[string][]Step),
	}
}

// On queues steps for ticketID, consumed one per invocation. Invocations
// beyond the script use the zero Step.
func (s *Scripted) On(ticketID string, steps ...Step) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[ticketID] = append(s.scripts[ticketID], steps...)
	return s
}

// Requests returns every request received, in order.
func (s *Scripted) Requests() []builder.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]builder.Request(nil), s.requests...)
}

// Invocations returns how often ticketID was invoked.
func (s *Scripted) Invocations(ticketID string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.TicketID == ticketID {
			n++
		}
	}
	return n
}

// Invoke implements builder.Builder.
func (s *Scripted) Invoke(ctx context.Context, req builder.Request) (*builder.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var step Step
	if queue := s.scripts[req.TicketID]; len(queue) > 0 {
		step = queue[0]
		s.scripts[req.TicketID] = queue[1:]
	}
	at := step.At
	if at.IsZero() {
		s.clock = s.clock.Add(time.Minute)
		at = s.clock
	}
	s.mu.Unlock()

	if step.Hook != nil {
		step.Hook(req)
	}
	if step.Err != nil {
		return nil, step.Err
	}

	var commit string
	if !step.NoCommit {
		sha, err := s.repo.Commit(req.Branch, at, req.Title)
		if err != nil {
			return nil, errors.NewBuilderError(errors.BuilderCrash, "commit failed", err).WithTicketID(req.TicketID)
		}
		commit = sha
	}
	if step.ReportCommit != "" {
		commit = step.ReportCommit
	}

	res := &builder.Result{
		TicketID:      req.TicketID,
		Outcome:       step.Outcome,
		ModifiedFiles: step.Files,
		TestStatus:    step.TestStatus,
		Criteria:      step.Criteria,
	}
	if res.Outcome == "" {
		res.Outcome = builder.OutcomeSuccess
	}
	if res.TestStatus == "" {
		res.TestStatus = state.TestsPassing
	}
	if res.Criteria == nil {
		res.Criteria = []state.Criterion{{Criterion: req.Title + " works", Met: true}}
	}
	if res.ModifiedFiles == nil {
		res.ModifiedFiles = []string{req.TicketID + ".go"}
	}
	if commit != "" {
		res.FinalCommit = &commit
	}
	return res, nil
}

var _ builder.Builder = (*Scripted)(nil)
