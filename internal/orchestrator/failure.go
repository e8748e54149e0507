package orchestrator

import (
	"context"

	"github.com/Iron-Ham/epicrun/internal/state"
	"github.com/Iron-Ham/epicrun/internal/vcs"
)

// resolveFailure settles an epic failed by a critical ticket: rollback
// when the policy asks for it, partial success otherwise. Partial success
// keeps every ticket branch as it is and merges nothing.
func (r *run) resolveFailure(ctx context.Context) error {
	if r.epic.RollbackOnFailure {
		return r.rollback(ctx)
	}
	r.log.Warn("rollback disabled, keeping completed work on ticket branches",
		"failed_ticket", r.epic.FailedTicket)
	return r.transitionEpic(ctx, state.EpicPartialSuccess, r.epic.FailureReason)
}

// rollback deletes the epic branch and every ticket branch this run
// created, plus the remote copies it pushed when configured to.
func (r *run) rollback(ctx context.Context) error {
	repo := r.o.opts.Repo
	ctx, span := r.o.tracer.Start(ctx, "epic.rollback")
	defer span.End()

	if r.epic.OriginalBranch != "" {
		if err := repo.Checkout(r.epic.OriginalBranch); err != nil {
			r.log.Warn("failed to return to original branch", "branch", r.epic.OriginalBranch, "error", err.Error())
		}
	}

	deleteRemote := r.o.opts.DeleteRemoteOnRollback && r.remoteAvailable()
	var discarded []string
	for _, t := range r.epic.OrderedTickets() {
		if t.State == state.TicketCompleted {
			discarded = append(discarded, t.ID)
		}
		branch := t.Branch()
		if branch == "" {
			continue
		}
		r.deleteLocal(branch)
		if deleteRemote && t.Git.Pushed {
			r.deleteRemote(branch)
		}
	}
	r.deleteLocal(r.epic.Branch)

	r.epic.DiscardedTickets = discarded
	r.log.Warn("epic rolled back", "discarded_tickets", discarded)
	return r.transitionEpic(ctx, state.EpicRolledBack, r.epic.FailureReason)
}

// deleteLocal deletes a branch if it exists. Failures are logged.
func (r *run) deleteLocal(branch string) {
	repo := r.o.opts.Repo
	exists, err := repo.BranchExists(branch)
	if err != nil {
		r.log.Warn("failed to check branch", "branch", branch, "error", err.Error())
		return
	}
	if !exists {
		return
	}
	if err := repo.DeleteBranch(branch); err != nil {
		r.log.Warn("failed to delete branch", "branch", branch, "error", err.Error())
		return
	}
	r.log.Debug("deleted branch", "branch", branch)
}

// deleteRemote deletes a remote branch if it exists. Failures are logged.
func (r *run) deleteRemote(branch string) {
	repo := r.o.opts.Repo
	remote := r.o.opts.Remote
	exists, err := repo.RemoteBranchExists(remote, branch)
	if err != nil {
		r.log.Warn("failed to check remote branch", "remote", remote, "branch", branch, "error", err.Error())
		return
	}
	if !exists {
		return
	}
	if err := repo.DeleteRemoteBranch(remote, branch); err != nil {
		r.log.Warn("failed to delete remote branch", "remote", remote, "branch", branch, "error", err.Error())
		return
	}
	r.log.Debug("deleted remote branch", "remote", remote, "branch", branch)
}

// remoteAvailable reports whether the configured remote exists.
func (r *run) remoteAvailable() bool {
	if r.o.opts.Remote == "" {
		return false
	}
	ok, err := vcs.HasRemote(r.o.opts.Repo, r.o.opts.Remote)
	if err != nil {
		r.log.Warn("failed to list remotes", "error", err.Error())
		return false
	}
	return ok
}
