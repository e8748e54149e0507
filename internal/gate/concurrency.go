package gate

import (
	"context"

	"github.com/Iron-Ham/epicrun/internal/state"
)

// Concurrency bounds the number of in-flight tickets and checks that the
// ticket branch is where the builder will look for it.
type Concurrency struct{}

// NewConcurrency creates the branch_created → in_progress gate.
func NewConcurrency() *Concurrency {
	return &Concurrency{}
}

// Name implements Gate.
func (g *Concurrency) Name() string { return "concurrency" }

// Check implements Gate.
func (g *Concurrency) Check(_ context.Context, t *state.Ticket, gc *Context) Result {
	limit := gc.MaxInFlight
	if limit < 1 {
		limit = 1
	}

	inFlight := 0
	for _, other := range gc.Epic.InFlight() {
		if other.ID != t.ID {
			inFlight++
		}
	}
	if inFlight >= limit {
		return Failf("%d ticket(s) in flight, limit is %d", inFlight, limit).With(MetaRetryLater, "true")
	}

	branch := t.Branch()
	if branch == "" {
		return Failf("ticket has no branch")
	}

	var (
		exists bool
		err    error
		where  = "locally"
	)
	if gc.pushesToRemote() {
		where = "on " + gc.Remote
		exists, err = gc.Repo.RemoteBranchExists(gc.Remote, branch)
	} else {
		exists, err = gc.Repo.BranchExists(branch)
	}
	if err != nil {
		return failErr(err, "check branch %s", branch)
	}
	if !exists {
		return Failf("branch %s does not exist %s", branch, where)
	}
	return Pass("slot available")
}
