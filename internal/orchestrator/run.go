package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/epicrun/internal/builder"
	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/event"
	"github.com/Iron-Ham/epicrun/internal/gate"
	"github.com/Iron-Ham/epicrun/internal/graph"
	"github.com/Iron-Ham/epicrun/internal/logging"
	"github.com/Iron-Ham/epicrun/internal/state"
)

// run is the mutable state of one Run call. All epic mutation happens on
// the goroutine that calls drive.
type run struct {
	o     *Orchestrator
	graph *graph.Graph
	epic  *state.Epic
	gc    *gate.Context
	log   *logging.Logger

	// haltTicket is the critical ticket whose failure stopped dispatch.
	haltTicket string
	haltReason string
}

func (o *Orchestrator) newRun(g *graph.Graph, ep *state.Epic) *run {
	r := &run{
		o:     o,
		graph: g,
		epic:  ep,
		log:   o.logger.WithEpic(ep.ID).WithRun(ep.RunID),
	}
	remote := ""
	if r.remoteAvailable() {
		remote = o.opts.Remote
	} else if o.opts.Remote != "" {
		r.log.Info("remote not configured, branches stay local", "remote", o.opts.Remote)
	}
	r.gc = &gate.Context{
		Epic:         ep,
		Graph:        g,
		Repo:         o.opts.Repo,
		Remote:       remote,
		PushBranches: o.opts.PushTicketBranches,
		BranchPrefix: o.opts.TicketPrefix,
		MaxInFlight:  o.opts.MaxInFlight,
		Protected:    o.opts.Protected,
	}
	return r
}

// drive continues the epic from whatever state it is in.
func (r *run) drive(ctx context.Context) error {
	if r.epic.State.IsTerminal() {
		r.log.Info("epic already finished", "state", string(r.epic.State))
		return nil
	}

	switch r.epic.State {
	case state.EpicReadyToExecute, state.EpicExecutingWave:
		if err := r.execute(ctx); err != nil {
			return err
		}
	}

	switch {
	case r.epic.NeedsFailureResolution():
		return r.resolveFailure(ctx)
	case r.epic.State == state.EpicFailed:
		r.log.Info("epic already failed", "reason", r.epic.FailureReason)
		return nil
	default:
		return r.finalize(ctx)
	}
}

// execute is the main loop. It returns once every ticket is terminal or
// after a critical failure has been recorded on the epic.
func (r *run) execute(ctx context.Context) error {
	dctx, cancel := context.WithCancel(ctx)
	d := newDispatcher(dctx, r.o.opts.Builder, r.o.opts.MaxInFlight)
	defer func() {
		cancel()
		d.close()
	}()

	// A critical ticket that finished badly before an interruption still
	// halts the resumed run.
	for _, t := range r.epic.OrderedTickets() {
		if !t.Critical {
			continue
		}
		switch t.State {
		case state.TicketFailed:
			r.markHalt(t.ID, t.FailureReason)
		case state.TicketBlocked:
			r.markHalt(t.ID, "blocked by failed ticket "+t.BlockingDependency)
		}
	}

	for {
		if err := r.promote(ctx); err != nil {
			return err
		}

		progressed := false
		if r.haltTicket == "" {
			var err error
			if progressed, err = r.dispatch(ctx, d); err != nil {
				return err
			}
		}

		if d.inFlight() == 0 {
			if r.haltTicket != "" {
				return r.halt(ctx)
			}
			if r.epic.State == state.EpicExecutingWave {
				if err := r.transitionEpic(ctx, state.EpicReadyToExecute, ""); err != nil {
					return err
				}
			}
			if r.epic.AllTerminal() {
				return nil
			}
			if !progressed {
				return r.stall(ctx)
			}
			continue
		}

		out, err := d.wait(ctx)
		if err == nil {
			// Cancellation leaves the ticket in flight for recovery.
			err = ctx.Err()
		}
		if err != nil {
			r.log.Warn("run interrupted with tickets in flight", "error", err.Error())
			return err
		}
		if err := r.finish(ctx, out); err != nil {
			return err
		}
	}
}

// promote moves every pending ticket whose dependencies completed to ready.
// The graph proposes candidates; the dependencies gate has the final say.
func (r *run) promote(ctx context.Context) error {
	completed := func(id string) bool {
		t, ok := r.epic.Ticket(id)
		return ok && t.State == state.TicketCompleted
	}
	for _, id := range r.graph.Ready(completed) {
		t, ok := r.epic.Ticket(id)
		if !ok || t.State != state.TicketPending {
			continue
		}
		if res := r.o.dependencies.Check(ctx, t, r.gc); !res.Passed {
			continue
		}
		if err := r.transition(ctx, t, state.TicketReady, ""); err != nil {
			return err
		}
	}
	return nil
}

// candidates returns startable tickets, best first: critical before
// non-critical, then deeper in the graph, then definition order.
func (r *run) candidates() []*state.Ticket {
	var out []*state.Ticket
	for _, t := range r.epic.OrderedTickets() {
		if t.State == state.TicketReady || t.State == state.TicketBranchCreated {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Critical != b.Critical {
			return a.Critical
		}
		if da, db := r.graph.Depth(a.ID), r.graph.Depth(b.ID); da != db {
			return da > db
		}
		return r.graph.Index(a.ID) < r.graph.Index(b.ID)
	})
	return out
}

// dispatch starts tickets until the dispatcher is full or nothing is
// startable. It reports whether any ticket changed state.
func (r *run) dispatch(ctx context.Context, d *dispatcher) (bool, error) {
	progressed := false
	for d.inFlight() < d.capacity() && r.haltTicket == "" {
		cands := r.candidates()
		if len(cands) == 0 {
			break
		}
		started, err := r.start(ctx, cands[0], d)
		if err != nil {
			return progressed, err
		}
		if !started {
			break
		}
		progressed = true
	}
	return progressed, nil
}

// start takes a ticket through branch creation and the concurrency gate
// and hands it to the dispatcher. It returns false when the ticket has to
// wait for a free slot.
func (r *run) start(ctx context.Context, t *state.Ticket, d *dispatcher) (bool, error) {
	ctx, span := r.o.tracer.Start(ctx, "ticket.start", trace.WithAttributes(attribute.String("ticket.id", t.ID)))
	defer span.End()

	if t.State == state.TicketReady {
		res := r.o.branch.Check(ctx, t, r.gc)
		wasPushed := t.Git != nil && t.Git.Pushed
		if branch := res.Metadata[gate.MetaBranch]; branch != "" {
			t.Git = &state.GitInfo{
				Branch:     branch,
				BaseCommit: res.Metadata[gate.MetaBaseCommit],
				Pushed:     wasPushed || res.Metadata[gate.MetaPushed] == "true",
			}
		}
		if !res.Passed {
			r.rejected(t, r.o.branch.Name(), res)
			return true, r.failTicket(ctx, t, "branch creation failed: "+res.Reason)
		}
		if err := r.transition(ctx, t, state.TicketBranchCreated, ""); err != nil {
			return false, err
		}
		r.log.WithTicket(t.ID).Info("branch created",
			"branch", t.Git.Branch,
			"base_commit", t.Git.BaseCommit,
			"pushed", t.Git.Pushed,
		)
	}

	res := r.o.concurrency.Check(ctx, t, r.gc)
	if !res.Passed {
		if res.Metadata[gate.MetaRetryLater] == "true" {
			r.log.WithTicket(t.ID).Debug("waiting for a free slot", "reason", res.Reason)
			return false, nil
		}
		r.rejected(t, r.o.concurrency.Name(), res)
		return true, r.failTicket(ctx, t, res.Reason)
	}

	if r.epic.State == state.EpicReadyToExecute {
		if err := r.transitionEpic(ctx, state.EpicExecutingWave, ""); err != nil {
			return false, err
		}
	}
	if err := r.transition(ctx, t, state.TicketInProgress, ""); err != nil {
		return false, err
	}
	d.submit(job{ticketID: t.ID, req: r.request(t)})
	return true, nil
}

func (r *run) request(t *state.Ticket) builder.Request {
	return builder.Request{
		TicketID:   t.ID,
		Title:      t.Title,
		TicketPath: t.Path,
		Branch:     t.Git.Branch,
		BaseCommit: t.Git.BaseCommit,
		EpicPath:   r.epic.DefinitionPath,
		Critical:   t.Critical,
		RepoDir:    r.o.opts.RepoDir,
	}
}

// finish records a builder outcome and validates it.
func (r *run) finish(ctx context.Context, out outcome) error {
	t, ok := r.epic.Ticket(out.ticketID)
	if !ok {
		return errors.Wrapf(errors.ErrTicketNotFound, "builder returned for %s", out.ticketID)
	}
	log := r.log.WithTicket(t.ID)
	r.o.opts.Bus.Publish(event.NewBuilderInvokedEvent(r.o.opts.Now(), t.ID, out.duration, out.err))

	if res := out.result; out.err == nil && res != nil {
		t.Git.ClaimedCommit = res.Commit()
		t.TestStatus = res.TestStatus
		t.Criteria = append([]state.Criterion(nil), res.Criteria...)
		t.ModifiedFiles = append([]string(nil), res.ModifiedFiles...)
	}
	if err := r.transition(ctx, t, state.TicketAwaitingValidation, ""); err != nil {
		return err
	}

	switch {
	case out.err != nil:
		log.Warn("builder invocation failed", "error", out.err.Error(), "duration", out.duration)
		return r.failTicket(ctx, t, builderFailureReason(out.err))
	case out.result == nil:
		return r.failTicket(ctx, t, "builder returned no result")
	case out.result.Outcome == builder.OutcomeFailure:
		return r.failTicket(ctx, t, "builder reported failure")
	}

	res := r.o.validation.Check(ctx, t, r.gc)
	if !res.Passed {
		r.rejected(t, r.o.validation.Name(), res)
		return r.failTicket(ctx, t, fmt.Sprintf("validation failed (%s): %s", res.Metadata[gate.MetaFailedCheck], res.Reason))
	}
	return r.complete(ctx, t)
}

func builderFailureReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrSpawnFailed):
		return "spawn failed: " + err.Error()
	case errors.Is(err, errors.ErrTimeout):
		return "builder timed out: " + err.Error()
	case errors.Is(err, errors.ErrMalformedResult):
		return "malformed builder result: " + err.Error()
	default:
		return "builder failed: " + err.Error()
	}
}

func (r *run) complete(ctx context.Context, t *state.Ticket) error {
	from := t.State
	if err := t.Complete(t.Git.ClaimedCommit, r.o.opts.Now()); err != nil {
		return err
	}
	r.epic.CompletionOrder = append(r.epic.CompletionOrder, t.ID)
	if err := r.save(ctx); err != nil {
		return err
	}
	r.log.WithTicket(t.ID).Info("ticket completed", "final_commit", t.Git.FinalCommit)
	r.publishTicket(t, from, "")
	return nil
}

// failTicket fails t and blocks everything that depends on it.
func (r *run) failTicket(ctx context.Context, t *state.Ticket, reason string) error {
	from := t.State
	if err := t.Fail(reason, r.o.opts.Now()); err != nil {
		return err
	}
	if err := r.save(ctx); err != nil {
		return err
	}
	r.log.WithTicket(t.ID).Warn("ticket failed", "reason", reason, "critical", t.Critical)
	r.publishTicket(t, from, reason)

	if t.Critical {
		r.markHalt(t.ID, reason)
	}
	return r.cascade(ctx, t)
}

// cascade blocks every direct or transitive dependent of failed.
func (r *run) cascade(ctx context.Context, failed *state.Ticket) error {
	for _, id := range r.graph.TransitiveDependents(failed.ID) {
		d := r.epic.Tickets[id]
		if d.State.IsTerminal() {
			continue
		}
		if err := r.block(ctx, d, failed.ID); err != nil {
			return err
		}
		if d.Critical {
			r.markHalt(d.ID, "blocked by failed ticket "+failed.ID)
		}
	}
	return nil
}

func (r *run) block(ctx context.Context, t *state.Ticket, blocker string) error {
	from := t.State
	if err := t.Block(blocker, r.o.opts.Now()); err != nil {
		return err
	}
	if err := r.save(ctx); err != nil {
		return err
	}
	reason := "blocked by " + blocker
	r.log.WithTicket(t.ID).Info("ticket blocked", "blocking_dependency", blocker)
	r.publishTicket(t, from, reason)
	return nil
}

func (r *run) markHalt(ticketID, reason string) {
	if r.haltTicket != "" {
		return
	}
	r.haltTicket = ticketID
	r.haltReason = fmt.Sprintf("critical ticket %s: %s", ticketID, reason)
	r.log.Error("critical ticket failed, halting dispatch", "ticket_id", ticketID, "reason", reason)
}

// halt blocks the tickets that never started and fails the epic. It runs
// once nothing is in flight.
func (r *run) halt(ctx context.Context) error {
	for _, t := range r.epic.OrderedTickets() {
		switch t.State {
		case state.TicketPending, state.TicketReady, state.TicketBranchCreated:
			if err := r.block(ctx, t, r.haltTicket); err != nil {
				return err
			}
		}
	}
	r.epic.FailedTicket = r.haltTicket
	r.epic.FailureReason = r.haltReason
	return r.transitionEpic(ctx, state.EpicFailed, r.haltReason)
}

// stall fails an epic whose remaining tickets can never become ready.
func (r *run) stall(ctx context.Context) error {
	var stuck []string
	for _, t := range r.epic.OrderedTickets() {
		if !t.State.IsTerminal() {
			stuck = append(stuck, t.ID+"="+string(t.State))
		}
	}
	err := errors.Wrapf(errors.ErrStalled, "no progress possible for %s", strings.Join(stuck, ", "))
	r.epic.FailureReason = err.Error()
	r.log.Error("epic stalled", "tickets", stuck)
	if terr := r.transitionEpic(ctx, state.EpicFailed, err.Error()); terr != nil {
		return terr
	}
	return err
}

func (r *run) rejected(t *state.Ticket, gateName string, res gate.Result) {
	r.log.WithTicket(t.ID).Warn("gate rejected transition", "gate", gateName, "reason", res.Reason)
	r.o.opts.Bus.Publish(event.NewGateRejectedEvent(r.o.opts.Now(), t.ID, gateName, res.Reason))
}

// transition applies a table transition to t and persists it.
func (r *run) transition(ctx context.Context, t *state.Ticket, to state.TicketState, reason string) error {
	from := t.State
	if err := t.TransitionTo(to, r.o.opts.Now()); err != nil {
		return err
	}
	if err := r.save(ctx); err != nil {
		return err
	}
	r.log.WithTicket(t.ID).Debug("ticket transition", "from", string(from), "to", string(to))
	r.publishTicket(t, from, reason)
	return nil
}

func (r *run) publishTicket(t *state.Ticket, from state.TicketState, reason string) {
	r.o.opts.Bus.Publish(event.NewTicketTransitionEvent(r.o.opts.Now(), t.ID,
		string(from), string(t.State), t.Critical, reason))
}

// transitionEpic applies an epic transition and persists it.
func (r *run) transitionEpic(ctx context.Context, to state.EpicState, reason string) error {
	from := r.epic.State
	if err := r.epic.TransitionTo(to, r.o.opts.Now()); err != nil {
		return err
	}
	if err := r.save(ctx); err != nil {
		return err
	}
	r.log.Info("epic transition", "from", string(from), "to", string(to))
	r.o.opts.Bus.Publish(event.NewEpicTransitionEvent(r.o.opts.Now(), r.epic.ID, string(from), string(to), reason))
	return nil
}

func (r *run) save(ctx context.Context) error {
	// A cancelled run still records the transition it already applied.
	return r.o.opts.Store.Save(context.WithoutCancel(ctx), r.epic)
}
