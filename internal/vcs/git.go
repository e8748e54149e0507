package vcs

import (
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/epicrun/internal/errors"
)

// CLIRepository implements Repository using git CLI commands.
type CLIRepository struct {
	repoDir  string
	executor CommandExecutor
}

// NewCLIRepository creates a CLIRepository for the repository at repoDir.
func NewCLIRepository(repoDir string) *CLIRepository {
	return &CLIRepository{
		repoDir:  repoDir,
		executor: NewCLICommandExecutor(),
	}
}

// NewCLIRepositoryWithExecutor creates a CLIRepository with a custom executor.
// This is primarily useful for testing.
func NewCLIRepositoryWithExecutor(repoDir string, executor CommandExecutor) *CLIRepository {
	return &CLIRepository{
		repoDir:  repoDir,
		executor: executor,
	}
}

// Dir returns the repository directory.
func (g *CLIRepository) Dir() string {
	return g.repoDir
}

func (g *CLIRepository) git(args ...string) ([]byte, error) {
	return g.executor.Run(g.repoDir, "git", args...)
}

func (g *CLIRepository) gitError(message string, err error, output []byte) *errors.GitError {
	return errors.NewGitError(message, err).
		WithRepository(g.repoDir).
		WithGitOutput(string(output))
}

// IsRepository reports whether repoDir is inside a git work tree.
func (g *CLIRepository) IsRepository() bool {
	output, err := g.git("rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(string(output)) == "true"
}

// Head returns the commit sha of HEAD.
func (g *CLIRepository) Head() (string, error) {
	return g.ResolveRef("HEAD")
}

// CurrentBranch returns the checked-out branch name.
func (g *CLIRepository) CurrentBranch() (string, error) {
	output, err := g.git("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", g.gitError("failed to get current branch", err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// Checkout switches the working tree to branch.
func (g *CLIRepository) Checkout(branch string) error {
	output, err := g.git("checkout", branch)
	if err != nil {
		return g.gitError("failed to checkout branch", err, output).WithBranch(branch)
	}
	return nil
}

// ResolveRef returns the commit sha a ref points to.
func (g *CLIRepository) ResolveRef(ref string) (string, error) {
	output, err := g.git("rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", g.gitError("failed to resolve "+ref, errors.ErrCommitNotFound, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// CreateBranch points branch at commit, replacing any existing branch.
func (g *CLIRepository) CreateBranch(name, commit string) error {
	output, err := g.git("branch", "--force", name, commit)
	if err != nil {
		return g.gitError("failed to create branch from "+commit, err, output).WithBranch(name)
	}
	return nil
}

// BranchExists reports whether a local branch exists.
func (g *CLIRepository) BranchExists(name string) (bool, error) {
	output, err := g.git("rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	if isExitCode(err, 1) {
		return false, nil
	}
	return false, g.gitError("failed to check branch", err, output).WithBranch(name)
}

// RemoteBranchExists reports whether branch exists on remote.
func (g *CLIRepository) RemoteBranchExists(remote, name string) (bool, error) {
	output, err := g.git("ls-remote", "--heads", remote, "refs/heads/"+name)
	if err != nil {
		return false, g.gitError("failed to list remote heads of "+remote, err, output).WithBranch(name)
	}
	return strings.TrimSpace(string(output)) != "", nil
}

// DeleteBranch force-deletes a local branch.
func (g *CLIRepository) DeleteBranch(name string) error {
	output, err := g.git("branch", "-D", name)
	if err != nil {
		return g.gitError("failed to delete branch", err, output).WithBranch(name)
	}
	return nil
}

// DeleteRemoteBranch deletes branch on remote.
func (g *CLIRepository) DeleteRemoteBranch(remote, name string) error {
	output, err := g.git("push", remote, "--delete", name)
	if err != nil {
		return g.gitError("failed to delete remote branch on "+remote, err, output).WithBranch(name)
	}
	return nil
}

// CommitExists reports whether sha names a commit.
func (g *CLIRepository) CommitExists(sha string) (bool, error) {
	if sha == "" {
		return false, nil
	}
	output, err := g.git("cat-file", "-e", sha+"^{commit}")
	if err == nil {
		return true, nil
	}
	if isExitCode(err, 1) || isExitCode(err, 128) {
		return false, nil
	}
	return false, g.gitError("failed to check commit "+sha, err, output)
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (g *CLIRepository) IsAncestor(ancestor, descendant string) (bool, error) {
	output, err := g.git("merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if isExitCode(err, 1) {
		return false, nil
	}
	return false, g.gitError("failed to check ancestry of "+ancestor, err, output).WithBranch(descendant)
}

// CommitsBetween lists commits reachable from head but not from base, oldest first.
func (g *CLIRepository) CommitsBetween(base, head string) ([]string, error) {
	output, err := g.git("rev-list", "--reverse", base+".."+head)
	if err != nil {
		return nil, g.gitError("failed to get commits between refs", err, output).
			WithBranch(base + ".." + head)
	}

	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return []string{}, nil
	}
	return strings.Split(lines, "\n"), nil
}

// CommitTime returns the committer timestamp of sha.
func (g *CLIRepository) CommitTime(sha string) (time.Time, error) {
	output, err := g.git("show", "-s", "--format=%ct", sha)
	if err != nil {
		return time.Time{}, g.gitError("failed to read commit time of "+sha, err, output)
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(output)), 10, 64)
	if err != nil {
		return time.Time{}, errors.NewGitError("failed to parse commit time", err).WithRepository(g.repoDir)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// SquashMerge squashes branch onto the checked-out branch and commits it.
func (g *CLIRepository) SquashMerge(branch, message string) (string, error) {
	output, err := g.git("merge", "--squash", branch)
	if err != nil {
		out := string(output)
		if strings.Contains(out, "CONFLICT") || strings.Contains(out, "Automatic merge failed") {
			return "", g.gitError("squash merge conflicted", errors.ErrMergeConflict, output).WithBranch(branch)
		}
		return "", g.gitError("failed to squash merge", err, output).WithBranch(branch)
	}

	// An empty squash still gets a commit so every merged ticket has one.
	output, err = g.git("commit", "--allow-empty", "-m", message)
	if err != nil {
		return "", g.gitError("failed to commit squash merge", err, output).WithBranch(branch)
	}
	return g.Head()
}

// ConflictingFiles lists unmerged paths of an in-progress merge.
func (g *CLIRepository) ConflictingFiles() ([]string, error) {
	output, err := g.git("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, g.gitError("failed to list conflicting files", err, output)
	}
	var files []string
	for _, f := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if f != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

// AbortMerge discards an in-progress merge. A squash merge records no
// MERGE_HEAD, so the index and work tree are reset to HEAD instead.
func (g *CLIRepository) AbortMerge() error {
	output, err := g.git("reset", "--hard", "HEAD")
	if err != nil {
		return g.gitError("failed to abort merge", err, output)
	}
	return nil
}

// PushBranch pushes branch to remote.
func (g *CLIRepository) PushBranch(remote, name string, force bool) error {
	args := []string{"push", remote, name}
	if force {
		args = []string{"push", "--force", remote, name}
	}
	output, err := g.git(args...)
	if err != nil {
		return errors.NewPushError(remote, name, CategorizePushFailure(string(output)), string(output), err)
	}
	return nil
}

// PushWithUpstream pushes branch and sets upstream tracking.
func (g *CLIRepository) PushWithUpstream(remote, name string) error {
	output, err := g.git("push", "--set-upstream", remote, name)
	if err != nil {
		return errors.NewPushError(remote, name, CategorizePushFailure(string(output)), string(output), err)
	}
	return nil
}

// ListRemotes returns the configured remote names.
func (g *CLIRepository) ListRemotes() ([]string, error) {
	output, err := g.git("remote")
	if err != nil {
		return nil, g.gitError("failed to list remotes", err, output)
	}
	var remotes []string
	for _, r := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if r = strings.TrimSpace(r); r != "" {
			remotes = append(remotes, r)
		}
	}
	return remotes, nil
}

// HasRemote reports whether remote is configured.
func HasRemote(repo Repository, remote string) (bool, error) {
	remotes, err := repo.ListRemotes()
	if err != nil {
		return false, err
	}
	for _, r := range remotes {
		if r == remote {
			return true, nil
		}
	}
	return false, nil
}

func isExitCode(err error, code int) bool {
	var ec exitCoder
	return errors.As(err, &ec) && ec.ExitCode() == code
}

var _ Repository = (*CLIRepository)(nil)
