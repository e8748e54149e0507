package gate

import (
	"context"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/epicrun/internal/state"
)

// ProtectedPath is a compiled protected-path glob.
type ProtectedPath struct {
	Pattern string
	glob    glob.Glob
}

// CompileProtected compiles protected-path globs with '/' as separator, so
// "*" stays within one path segment and "**" crosses them.
func CompileProtected(patterns []string) ([]ProtectedPath, error) {
	out := make([]ProtectedPath, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		out = append(out, ProtectedPath{Pattern: p, glob: g})
	}
	return out, nil
}

// Match reports whether path matches the glob.
func (p ProtectedPath) Match(path string) bool {
	return p.glob.Match(path)
}

// Check is one sub-check of the validation gate.
type Check struct {
	Name string
	Run  func(ctx context.Context, t *state.Ticket, gc *Context) Result
}

// Validation runs its checks in order and stops at the first failure.
type Validation struct {
	checks []Check
}

// NewValidation creates the awaiting_validation → completed gate with the
// standard checks: commits on the branch, final commit on the branch, test
// status, acceptance criteria and protected paths.
func NewValidation() *Validation {
	return &Validation{checks: []Check{
		{Name: "has_commits", Run: checkHasCommits},
		{Name: "final_commit", Run: checkFinalCommit},
		{Name: "tests", Run: checkTests},
		{Name: "acceptance_criteria", Run: checkCriteria},
		{Name: "protected_paths", Run: checkProtectedPaths},
	}}
}

// Name implements Gate.
func (g *Validation) Name() string { return "validation" }

// Checks returns the names of the sub-checks in run order.
func (g *Validation) Checks() []string {
	names := make([]string, len(g.checks))
	for i, c := range g.checks {
		names[i] = c.Name
	}
	return names
}

// Check implements Gate. A failure names the rejecting sub-check in
// Metadata[MetaFailedCheck].
func (g *Validation) Check(ctx context.Context, t *state.Ticket, gc *Context) Result {
	if t.Git == nil || t.Git.Branch == "" {
		return Failf("ticket has no branch").With(MetaFailedCheck, "branch")
	}
	for _, c := range g.checks {
		if err := ctx.Err(); err != nil {
			return failErr(err, "validation interrupted")
		}
		if res := c.Run(ctx, t, gc); !res.Passed {
			return res.With(MetaFailedCheck, c.Name)
		}
	}
	return Pass("all checks passed")
}

func checkHasCommits(_ context.Context, t *state.Ticket, gc *Context) Result {
	commits, err := gc.Repo.CommitsBetween(t.Git.BaseCommit, t.Git.Branch)
	if err != nil {
		return failErr(err, "list commits on %s", t.Git.Branch)
	}
	if len(commits) == 0 {
		return Failf("branch %s has no commits beyond its base", t.Git.Branch)
	}
	return Pass("")
}

func checkFinalCommit(_ context.Context, t *state.Ticket, gc *Context) Result {
	claimed := t.Git.ClaimedCommit
	if claimed == "" {
		return Failf("builder reported no final commit")
	}
	exists, err := gc.Repo.CommitExists(claimed)
	if err != nil {
		return failErr(err, "look up final commit %s", short(claimed))
	}
	if !exists {
		return Failf("final commit %s does not exist", short(claimed))
	}
	onBranch, err := gc.Repo.IsAncestor(claimed, t.Git.Branch)
	if err != nil {
		return failErr(err, "check ancestry of %s", short(claimed))
	}
	if !onBranch {
		return Failf("final commit %s is not on branch %s", short(claimed), t.Git.Branch)
	}
	return Pass("")
}

func checkTests(_ context.Context, t *state.Ticket, _ *Context) Result {
	switch t.TestStatus {
	case state.TestsPassing:
		return Pass("")
	case state.TestsSkipped:
		if t.Critical {
			return Failf("tests skipped on critical ticket")
		}
		return Pass("")
	case state.TestsFailing:
		return Failf("tests failing")
	default:
		return Failf("no test status reported")
	}
}

func checkCriteria(_ context.Context, t *state.Ticket, _ *Context) Result {
	for _, c := range t.Criteria {
		if !c.Met {
			return Failf("acceptance criterion not met: %q", c.Criterion)
		}
	}
	return Pass("")
}

func checkProtectedPaths(_ context.Context, t *state.Ticket, gc *Context) Result {
	for _, f := range t.ModifiedFiles {
		for _, p := range gc.Protected {
			if p.Match(f) {
				return Failf("modified protected path %s (matches %s)", f, p.Pattern)
			}
		}
	}
	return Pass("")
}
