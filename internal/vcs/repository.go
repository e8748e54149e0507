// Package vcs adapts git for the orchestrator: branch creation from exact
// commits, ancestry queries, squash merges and categorized pushes.
//
// Repository is the seam the orchestrator and gates depend on. CLIRepository
// implements it on top of the git binary through a CommandExecutor, so unit
// tests can script command output without running git.
package vcs

import (
	"os/exec"
	"time"
)

// Repository is the set of version-control operations the engine needs.
// All refs may be branch names or commit shas unless stated otherwise.
type Repository interface {
	// Head returns the commit sha of HEAD.
	Head() (string, error)
	// CurrentBranch returns the checked-out branch name.
	CurrentBranch() (string, error)
	// Checkout switches the working tree to branch.
	Checkout(branch string) error
	// ResolveRef returns the commit sha a ref points to.
	ResolveRef(ref string) (string, error)

	// CreateBranch points branch at commit, replacing any existing branch
	// of that name so that re-creation after a crash yields the same tip.
	CreateBranch(name, commit string) error
	// BranchExists reports whether a local branch exists.
	BranchExists(name string) (bool, error)
	// RemoteBranchExists reports whether branch exists on remote.
	RemoteBranchExists(remote, name string) (bool, error)
	// DeleteBranch force-deletes a local branch.
	DeleteBranch(name string) error
	// DeleteRemoteBranch deletes branch on remote.
	DeleteRemoteBranch(remote, name string) error

	// CommitExists reports whether sha names a commit in the repository.
	CommitExists(sha string) (bool, error)
	// IsAncestor reports whether ancestor is reachable from descendant.
	// A commit is its own ancestor.
	IsAncestor(ancestor, descendant string) (bool, error)
	// CommitsBetween lists commits reachable from head but not from base,
	// oldest first.
	CommitsBetween(base, head string) ([]string, error)
	// CommitTime returns the committer timestamp of sha.
	CommitTime(sha string) (time.Time, error)

	// SquashMerge squashes branch onto the checked-out branch and commits
	// it with message, returning the new commit. A conflict leaves the
	// merge in progress and returns an error matching errors.ErrMergeConflict.
	SquashMerge(branch, message string) (string, error)
	// ConflictingFiles lists unmerged paths of an in-progress merge.
	ConflictingFiles() ([]string, error)
	// AbortMerge discards an in-progress merge.
	AbortMerge() error

	// PushBranch pushes branch to remote. force replaces a diverged remote copy.
	// Failures are returned as *errors.PushError.
	PushBranch(remote, name string, force bool) error
	// PushWithUpstream pushes branch and sets it to track the remote copy.
	PushWithUpstream(remote, name string) error
	// ListRemotes returns the configured remote names.
	ListRemotes() ([]string, error)
}

// CommandExecutor abstracts command execution for testability.
// This allows tests to mock git commands without executing them.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// exitCoder is satisfied by *exec.ExitError.
type exitCoder interface {
	ExitCode() int
}
