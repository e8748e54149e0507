package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/event"
	"github.com/Iron-Ham/epicrun/internal/state"
)

// mergeOrder returns the completed tickets in merge order: a topological
// order of the completed subgraph in which mutually independent tickets
// keep the order they completed in.
func (r *run) mergeOrder() []string {
	var completed []string
	for _, t := range r.epic.OrderedTickets() {
		if t.State == state.TicketCompleted {
			completed = append(completed, t.ID)
		}
	}
	return r.graph.Sort(completed, r.epic.CompletionOrder)
}

// MergeMessage is the commit message of a ticket's squash commit.
func MergeMessage(ep *state.Epic, t *state.Ticket) string {
	title := t.Title
	if title == "" {
		title = t.ID
	}
	return fmt.Sprintf("%s\n\nTicket: %s\nEpic: %s\n", title, t.ID, ep.ID)
}

// finalize squash-merges completed tickets into the epic branch, verifies
// the result, removes merged ticket branches and pushes.
func (r *run) finalize(ctx context.Context) error {
	ctx, span := r.o.tracer.Start(ctx, "epic.finalize")
	defer span.End()

	repo := r.o.opts.Repo
	if r.epic.State != state.EpicMerging {
		if err := r.transitionEpic(ctx, state.EpicMerging, ""); err != nil {
			return err
		}
	}

	order := r.mergeOrder()
	span.SetAttributes(attribute.Int("merge.count", len(order)))
	r.log.Info("finalizing", "merge_order", order)

	if err := repo.Checkout(r.epic.Branch); err != nil {
		return r.failEpic(ctx, err)
	}

	for _, id := range order {
		t := r.epic.Tickets[id]
		if t.Git.MergeCommit != "" {
			continue
		}
		sha, err := repo.SquashMerge(t.Git.Branch, MergeMessage(r.epic, t))
		if err != nil {
			return r.failEpic(ctx, r.abortMerge(t, err))
		}
		t.Git.MergeCommit = sha
		if err := r.save(ctx); err != nil {
			return err
		}
		r.log.WithTicket(id).Info("merged ticket", "branch", t.Git.Branch, "merge_commit", sha)
		r.o.opts.Bus.Publish(event.NewTicketMergedEvent(r.o.opts.Now(), id, t.Git.Branch, sha))
	}

	if err := r.verifyMerged(order); err != nil {
		return r.failEpic(ctx, err)
	}
	r.cleanupMerged(order)
	r.push(ctx)

	final := state.EpicPartialSuccess
	pushed := r.epic.PushStatus == state.PushPushed || r.epic.PushStatus == state.PushSkipped
	if r.epic.CountByState()[state.TicketCompleted] == len(r.epic.Tickets) && pushed {
		final = state.EpicFinalized
	}
	return r.transitionEpic(ctx, final, r.epic.FailureReason)
}

// abortMerge cleans up a failed squash merge and returns the error to
// record. Conflicts become a MergeConflictError naming the files.
func (r *run) abortMerge(t *state.Ticket, err error) error {
	repo := r.o.opts.Repo
	var files []string
	if errors.Is(err, errors.ErrMergeConflict) {
		var lerr error
		if files, lerr = repo.ConflictingFiles(); lerr != nil {
			r.log.Warn("failed to list conflicting files", "error", lerr.Error())
		}
	}
	if aerr := repo.AbortMerge(); aerr != nil {
		r.log.Error("failed to abort merge", "error", aerr.Error())
	}
	if errors.Is(err, errors.ErrMergeConflict) {
		r.log.WithTicket(t.ID).Error("merge conflict", "branch", t.Git.Branch, "files", files)
		return errors.NewMergeConflictError(t.ID, t.Git.Branch, files)
	}
	return errors.Wrapf(err, "squash merge %s", t.ID)
}

// verifyMerged checks that every squash commit is reachable from the epic
// branch head.
func (r *run) verifyMerged(order []string) error {
	repo := r.o.opts.Repo
	head, err := repo.ResolveRef(r.epic.Branch)
	if err != nil {
		return err
	}
	for _, id := range order {
		mc := r.epic.Tickets[id].Git.MergeCommit
		ok, err := repo.IsAncestor(mc, head)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("merge commit %s of ticket %s is not on %s", mc, id, r.epic.Branch)
		}
	}
	return nil
}

// cleanupMerged deletes merged ticket branches and the remote copies this
// run pushed. Failures are logged and ignored.
func (r *run) cleanupMerged(order []string) {
	remote := r.remoteAvailable()
	for _, id := range order {
		t := r.epic.Tickets[id]
		r.deleteLocal(t.Git.Branch)
		if remote && t.Git.Pushed {
			r.deleteRemote(t.Git.Branch)
		}
	}
}

// push pushes the epic branch and records the outcome. A failed push is
// recorded but never fails the epic.
func (r *run) push(ctx context.Context) {
	repo := r.o.opts.Repo
	remote := r.o.opts.Remote

	if !r.remoteAvailable() {
		r.epic.PushStatus = state.PushSkipped
		r.log.Info("no remote configured, push skipped", "remote", remote)
	} else if err := repo.PushWithUpstream(remote, r.epic.Branch); err != nil {
		category := string(errors.PushUnknown)
		var pushErr *errors.PushError
		if errors.As(err, &pushErr) {
			category = string(pushErr.Category)
		}
		r.epic.PushStatus = state.PushFailed(category)
		r.epic.FailureReason = "push failed: " + err.Error()
		r.log.Warn("push failed, local work preserved", "remote", remote, "category", category, "error", err.Error())
	} else {
		r.epic.PushStatus = state.PushPushed
		r.log.Info("pushed epic branch", "remote", remote, "branch", r.epic.Branch)
	}

	if err := r.save(ctx); err != nil {
		r.log.Error("failed to save push status", "error", err.Error())
	}
	r.o.opts.Bus.Publish(event.NewEpicPushedEvent(r.o.opts.Now(), r.epic.Branch, remote, string(r.epic.PushStatus)))
}

// failEpic records err as the reason the epic failed and returns it.
func (r *run) failEpic(ctx context.Context, err error) error {
	r.epic.FailureReason = err.Error()
	if terr := r.transitionEpic(ctx, state.EpicFailed, err.Error()); terr != nil {
		return errors.Join(err, terr)
	}
	return err
}
