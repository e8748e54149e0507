// Package orchestrator drives an epic to completion: it selects ready
// tickets, creates their stacked branches, invokes the builder, validates
// results through gates, and persists every transition. Once all tickets
// are terminal it squash-merges completed work into the epic branch in
// dependency order and pushes it.
//
// A critical failure halts dispatch, blocks every ticket that never
// started, and then either rolls the run back or settles for partial
// success, depending on the epic's rollback policy. A run interrupted at
// any point resumes from the persisted state on the next Run.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/epicrun/internal/builder"
	"github.com/Iron-Ham/epicrun/internal/config"
	"github.com/Iron-Ham/epicrun/internal/epic"
	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/event"
	"github.com/Iron-Ham/epicrun/internal/gate"
	"github.com/Iron-Ham/epicrun/internal/logging"
	"github.com/Iron-Ham/epicrun/internal/state"
	"github.com/Iron-Ham/epicrun/internal/telemetry"
	"github.com/Iron-Ham/epicrun/internal/vcs"
)

// Options configures an Orchestrator. Repo, Builder and Store are required.
type Options struct {
	Repo    vcs.Repository
	Builder builder.Builder
	Store   state.Store
	Logger  *logging.Logger
	Bus     *event.Bus

	// Remote is the remote branches are pushed to; empty disables pushing.
	Remote                 string
	PushTicketBranches     bool
	DeleteRemoteOnRollback bool

	TicketPrefix string
	EpicPrefix   string
	MaxInFlight  int
	Protected    []gate.ProtectedPath

	// RepoDir is handed to the builder as the working repository.
	RepoDir string

	// Now and RunID default to time.Now and a random UUID.
	Now   func() time.Time
	RunID func() string
}

// OptionsFromConfig fills the policy fields of Options from cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	protected, err := gate.CompileProtected(cfg.Validation.ProtectedPaths)
	if err != nil {
		return Options{}, errors.Wrap(err, "compile protected paths")
	}
	return Options{
		Remote:                 cfg.Git.Remote,
		PushTicketBranches:     cfg.Git.PushTicketBranches,
		DeleteRemoteOnRollback: cfg.Git.DeleteRemoteOnRollback,
		TicketPrefix:           cfg.Branch.TicketPrefix,
		EpicPrefix:             cfg.Branch.EpicPrefix,
		MaxInFlight:            cfg.Execution.MaxInFlight,
		Protected:              protected,
	}, nil
}

// Orchestrator runs epics. It holds no per-run state.
type Orchestrator struct {
	opts   Options
	logger *logging.Logger
	tracer trace.Tracer

	dependencies *gate.DependenciesMet
	branch       *gate.BranchCreation
	concurrency  *gate.Concurrency
	validation   *gate.Validation
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Repo == nil:
		return nil, errors.Wrap(errors.ErrInvalidInput, "orchestrator: repository is required")
	case opts.Builder == nil:
		return nil, errors.Wrap(errors.ErrInvalidInput, "orchestrator: builder is required")
	case opts.Store == nil:
		return nil, errors.Wrap(errors.ErrInvalidInput, "orchestrator: state store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunID == nil {
		opts.RunID = uuid.NewString
	}
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = 1
	}
	if opts.TicketPrefix == "" {
		opts.TicketPrefix = "ticket"
	}
	if opts.EpicPrefix == "" {
		opts.EpicPrefix = "epic"
	}

	return &Orchestrator{
		opts:         opts,
		logger:       opts.Logger,
		tracer:       telemetry.Tracer(""),
		dependencies: gate.NewDependenciesMet(),
		branch:       gate.NewBranchCreation(),
		concurrency:  gate.NewConcurrency(),
		validation:   gate.NewValidation(),
	}, nil
}

// Run drives def to a terminal state, resuming from the store when it holds
// a snapshot of the same epic. It returns the final snapshot. The error is
// non-nil for conditions that end the run abnormally: a dependency cycle, a
// corrupted or foreign state document, a stalled graph, a merge conflict
// or a version-control failure. An epic that fails or rolls back because a
// critical ticket failed is reported through its state, not an error.
func (o *Orchestrator) Run(ctx context.Context, def *epic.Definition) (*state.Epic, error) {
	ctx, span := o.tracer.Start(ctx, "epic.run", trace.WithAttributes(attribute.String("epic.id", def.ID)))
	defer span.End()

	g, err := def.Graph()
	if err != nil {
		o.logger.Error("epic definition rejected", "epic_id", def.ID, "error", err.Error())
		ep := o.newEpic(def)
		_ = ep.TransitionTo(state.EpicFailed, o.opts.Now())
		ep.FailureReason = err.Error()
		span.RecordError(err)
		return ep, err
	}

	ep, err := o.prepare(ctx, def)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	r := o.newRun(g, ep)
	err = r.drive(ctx)
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("epic.state", string(r.epic.State)))
	return r.epic.Clone(), err
}

func (o *Orchestrator) newEpic(def *epic.Definition) *state.Epic {
	ep := &state.Epic{
		SchemaVersion:     state.SchemaVersion,
		ID:                def.ID,
		Branch:            def.BranchName(o.opts.EpicPrefix),
		DefinitionPath:    def.Path,
		RollbackOnFailure: def.RollbackOnFailure,
		State:             state.EpicInitializing,
		Tickets:           make(map[string]*state.Ticket, len(def.Tickets)),
		TicketOrder:       make([]string, 0, len(def.Tickets)),
	}
	for _, t := range def.Tickets {
		ep.Tickets[t.ID] = &state.Ticket{
			ID:        t.ID,
			Title:     t.Title,
			Path:      t.Path,
			DependsOn: append([]string(nil), t.DependsOn...),
			Critical:  t.Critical,
			State:     state.TicketPending,
		}
		ep.TicketOrder = append(ep.TicketOrder, t.ID)
	}
	return ep
}

func (o *Orchestrator) prepare(ctx context.Context, def *epic.Definition) (*state.Epic, error) {
	if o.opts.Store.Exists() {
		return o.resume(ctx, def)
	}
	return o.initialize(ctx, def)
}

// initialize creates the epic branch at HEAD and persists the first snapshot.
func (o *Orchestrator) initialize(ctx context.Context, def *epic.Definition) (*state.Epic, error) {
	repo := o.opts.Repo
	now := o.opts.Now()

	head, err := repo.Head()
	if err != nil {
		return nil, errors.Wrap(err, "resolve HEAD")
	}
	original, err := repo.CurrentBranch()
	if err != nil {
		original = ""
	}

	ep := o.newEpic(def)
	ep.RunID = o.opts.RunID()
	ep.BaselineCommit = head
	ep.OriginalBranch = original
	ep.StartedAt = &now

	log := o.logger.WithEpic(ep.ID).WithRun(ep.RunID)
	if err := repo.CreateBranch(ep.Branch, head); err != nil {
		log.Error("failed to create epic branch", "branch", ep.Branch, "error", err.Error())
		return nil, err
	}
	if err := ep.TransitionTo(state.EpicReadyToExecute, now); err != nil {
		return nil, err
	}
	if err := o.opts.Store.Save(ctx, ep); err != nil {
		return nil, err
	}

	log.Info("epic initialized",
		"branch", ep.Branch,
		"baseline", ep.BaselineCommit,
		"tickets", len(ep.TicketOrder),
	)
	o.opts.Bus.Publish(event.NewEpicTransitionEvent(now, ep.ID,
		string(state.EpicInitializing), string(state.EpicReadyToExecute), ""))
	return ep, nil
}

// resume loads the persisted snapshot and repairs what a crash left behind.
func (o *Orchestrator) resume(ctx context.Context, def *epic.Definition) (*state.Epic, error) {
	ep, err := o.opts.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := matchDefinition(ep, def); err != nil {
		return nil, err
	}

	log := o.logger.WithEpic(ep.ID).WithRun(ep.RunID)
	reset, changed := ep.Recover()
	if !ep.State.IsTerminal() {
		if err := o.leaveTicketBranch(ep, log); err != nil {
			return nil, err
		}
	}
	if !changed {
		log.Info("resuming run", "state", string(ep.State))
		return ep, nil
	}

	log.Warn("recovered interrupted run", "reset_tickets", reset, "state", string(ep.State))
	if err := o.opts.Store.Save(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// leaveTicketBranch checks out the original branch, or the epic branch,
// when an interrupted builder left HEAD on one of the epic's ticket
// branches. Git refuses to delete a checked-out branch.
func (o *Orchestrator) leaveTicketBranch(ep *state.Epic, log *logging.Logger) error {
	repo := o.opts.Repo
	current, err := repo.CurrentBranch()
	if err != nil {
		log.Warn("failed to read current branch", "error", err.Error())
		return nil
	}

	owned := false
	for _, t := range ep.OrderedTickets() {
		if current == gate.TicketBranch(o.opts.TicketPrefix, t.ID) || (t.Branch() != "" && current == t.Branch()) {
			owned = true
			break
		}
	}
	if !owned {
		return nil
	}

	target := ep.OriginalBranch
	if target == "" || target == current {
		target = ep.Branch
	}
	if err := repo.Checkout(target); err != nil {
		return errors.Wrapf(err, "leave ticket branch %s", current)
	}
	log.Info("left ticket branch of interrupted builder", "branch", current, "checked_out", target)
	return nil
}

func matchDefinition(ep *state.Epic, def *epic.Definition) error {
	if ep.ID != def.ID {
		return errors.Wrapf(errors.ErrEpicMismatch, "state is for %q, definition is %q", ep.ID, def.ID)
	}
	if len(ep.TicketOrder) != len(def.Tickets) {
		return errors.Wrapf(errors.ErrEpicMismatch, "definition has %d tickets, state has %d",
			len(def.Tickets), len(ep.TicketOrder))
	}
	for i, t := range def.Tickets {
		if ep.TicketOrder[i] != t.ID {
			return errors.Wrapf(errors.ErrEpicMismatch, "ticket %d is %q in the definition but %q in the state",
				i, t.ID, ep.TicketOrder[i])
		}
	}
	return nil
}
