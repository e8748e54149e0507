package gate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/state"
)

// BranchCreation computes the ticket's base commit, creates its branch there
// and pushes it when a remote is configured.
type BranchCreation struct{}

// NewBranchCreation creates the ready → branch_created gate.
func NewBranchCreation() *BranchCreation {
	return &BranchCreation{}
}

// Name implements Gate.
func (g *BranchCreation) Name() string { return "branch_creation" }

// Check implements Gate. On success Metadata carries MetaBranch,
// MetaBaseCommit and MetaPushed.
func (g *BranchCreation) Check(_ context.Context, t *state.Ticket, gc *Context) Result {
	base, err := BaseCommit(t, gc)
	if err != nil {
		return failErr(err, "cannot determine base commit")
	}

	branch := gc.ticketBranch(t.ID)
	// A branch left by an interrupted run is discarded along with any
	// partial work on it.
	exists, err := gc.Repo.BranchExists(branch)
	if err != nil {
		return failErr(err, "check branch %s", branch)
	}
	if exists {
		if err := gc.Repo.DeleteBranch(branch); err != nil {
			return failErr(err, "discard stale branch %s", branch)
		}
	}
	if err := gc.Repo.CreateBranch(branch, base); err != nil {
		return failErr(err, "create branch %s", branch)
	}

	pushed := false
	if gc.pushesToRemote() {
		// Force replaces a copy left behind by an interrupted run.
		if err := gc.Repo.PushBranch(gc.Remote, branch, true); err != nil {
			return failErr(err, "push branch %s", branch).With(MetaBranch, branch)
		}
		pushed = true
	}

	return Pass(fmt.Sprintf("created %s at %s", branch, short(base))).
		With(MetaBranch, branch).
		With(MetaBaseCommit, base).
		With(MetaPushed, strconv.FormatBool(pushed))
}

// BaseCommit returns the commit a ticket branch starts from: the epic
// baseline without dependencies, the dependency's final commit with one,
// and the latest final commit by commit time with several. Git records
// commit times in whole seconds, so commits from the same second are
// ordered by ancestry first (a descendant is the later commit) and by
// definition order last. The result depends only on the dependencies'
// final commits.
func BaseCommit(t *state.Ticket, gc *Context) (string, error) {
	if len(t.DependsOn) == 0 {
		if gc.Epic.BaselineCommit == "" {
			return "", errors.New("epic has no baseline commit")
		}
		return gc.Epic.BaselineCommit, nil
	}

	var (
		best     string
		bestTime int64
		bestIdx  int
	)
	for _, dep := range t.DependsOn {
		d, ok := gc.Epic.Ticket(dep)
		if !ok {
			return "", errors.Wrapf(errors.ErrTicketNotFound, "dependency %s", dep)
		}
		commit := d.FinalCommit()
		if d.State != state.TicketCompleted || commit == "" {
			return "", fmt.Errorf("dependency %s has no final commit", dep)
		}
		if len(t.DependsOn) == 1 {
			return commit, nil
		}

		at, err := gc.Repo.CommitTime(commit)
		if err != nil {
			return "", err
		}
		idx := definitionIndex(gc, dep)
		ts := at.UnixNano()
		switch {
		case best == "" || ts > bestTime:
			best, bestTime, bestIdx = commit, ts, idx
		case ts == bestTime && commit != best:
			later, err := laterOf(gc, best, bestIdx, commit, idx)
			if err != nil {
				return "", err
			}
			if later == commit {
				best, bestIdx = commit, idx
			}
		}
	}
	return best, nil
}

// laterOf orders two commits with equal commit times.
func laterOf(gc *Context, a string, aIdx int, b string, bIdx int) (string, error) {
	if ok, err := gc.Repo.IsAncestor(a, b); err != nil {
		return "", err
	} else if ok {
		return b, nil
	}
	if ok, err := gc.Repo.IsAncestor(b, a); err != nil {
		return "", err
	} else if ok {
		return a, nil
	}
	if bIdx < aIdx {
		return b, nil
	}
	return a, nil
}

func definitionIndex(gc *Context, id string) int {
	if gc.Graph != nil {
		return gc.Graph.Index(id)
	}
	for i, tid := range gc.Epic.TicketOrder {
		if tid == id {
			return i
		}
	}
	return len(gc.Epic.TicketOrder)
}

func short(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
