// Package vcstest provides an in-memory vcs.Repository for tests. It models
// a commit DAG with timestamps, local branches and remotes, and lets tests
// inject merge conflicts and push failures.
package vcstest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/vcs"
)

type commit struct {
	sha     string
	parents []string
	time    time.Time
	message string
}

// Repo is an in-memory repository. It is safe for concurrent use.
type Repo struct {
	mu       sync.Mutex
	seq      int
	commits  map[string]*commit
	branches map[string]string
	head     string
	remotes  map[string]map[string]string

	conflicts      map[string][]string
	mergeActive    bool
	pushFailures   map[string]errors.PushCategory
	createFailures map[string]bool

	// Merged records squash-merged branches in merge order.
	Merged []string
	// Calls counts invocations per method name.
	Calls map[string]int
}

// New creates a repository whose "main" branch holds one root commit at t0.
func New(t0 time.Time) *Repo {
	r := &Repo{
		commits:        make(map[string]*commit),
		branches:       make(map[string]string),
		remotes:        make(map[string]map[string]string),
		conflicts:      make(map[string][]string),
		pushFailures:   make(map[string]errors.PushCategory),
		createFailures: make(map[string]bool),
		Calls:          make(map[string]int),
	}
	root := r.newCommit(nil, t0, "initial commit")
	r.branches["main"] = root
	r.head = "main"
	return r
}

// AddRemote configures a remote with no branches.
func (r *Repo) AddRemote(name string) *Repo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[name] = make(map[string]string)
	return r
}

// InjectConflict makes squash-merging branch conflict on files.
func (r *Repo) InjectConflict(branch string, files ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts[branch] = files
}

// InjectPushFailure makes every push of branch fail with category.
func (r *Repo) InjectPushFailure(branch string, category errors.PushCategory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushFailures[branch] = category
}

// InjectCreateFailure makes creating branch fail.
func (r *Repo) InjectCreateFailure(branch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createFailures[branch] = true
}

// Commit appends a commit at time at to branch and returns its sha.
func (r *Repo) Commit(branch string, at time.Time, message string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tip, ok := r.branches[branch]
	if !ok {
		return "", fmt.Errorf("commit on %s: %w", branch, errors.ErrBranchNotFound)
	}
	sha := r.newCommit([]string{tip}, at, message)
	r.branches[branch] = sha
	return sha, nil
}

// Branches returns the local branch names, sorted.
func (r *Repo) Branches() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.branches)
}

// RemoteBranches returns the branch names on remote, sorted.
func (r *Repo) RemoteBranches(remote string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.remotes[remote])
}

// Tip returns the commit branch points to.
func (r *Repo) Tip(branch string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.branches[branch]
}

// Message returns the message of a commit.
func (r *Repo) Message(sha string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.commits[sha]; ok {
		return c.message
	}
	return ""
}

func (r *Repo) newCommit(parents []string, at time.Time, message string) string {
	r.seq++
	sha := fmt.Sprintf("%040x", r.seq)
	r.commits[sha] = &commit{sha: sha, parents: parents, time: at, message: message}
	return sha
}

func (r *Repo) call(name string) {
	r.Calls[name]++
}

// resolve maps a branch name or sha to a sha.
func (r *Repo) resolve(ref string) (string, bool) {
	if ref == "HEAD" {
		ref = r.head
	}
	if sha, ok := r.branches[ref]; ok {
		return sha, true
	}
	if _, ok := r.commits[ref]; ok {
		return ref, true
	}
	return "", false
}

func (r *Repo) reachable(from string) map[string]bool {
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if c, ok := r.commits[cur]; ok {
			stack = append(stack, c.parents...)
		}
	}
	return seen
}

// Head implements vcs.Repository.
func (r *Repo) Head() (string, error) {
	return r.ResolveRef("HEAD")
}

// CurrentBranch implements vcs.Repository.
func (r *Repo) CurrentBranch() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head, nil
}

// Checkout implements vcs.Repository.
func (r *Repo) Checkout(branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("Checkout")
	if _, ok := r.branches[branch]; !ok {
		return errors.NewGitError("failed to checkout branch", errors.ErrBranchNotFound).WithBranch(branch)
	}
	r.head = branch
	return nil
}

// ResolveRef implements vcs.Repository.
func (r *Repo) ResolveRef(ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sha, ok := r.resolve(ref)
	if !ok {
		return "", errors.NewGitError("failed to resolve "+ref, errors.ErrCommitNotFound)
	}
	return sha, nil
}

// CreateBranch implements vcs.Repository.
func (r *Repo) CreateBranch(name, sha string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("CreateBranch")
	if r.createFailures[name] {
		return errors.NewGitError("failed to create branch", errors.New("injected failure")).WithBranch(name)
	}
	target, ok := r.resolve(sha)
	if !ok {
		return errors.NewGitError("failed to create branch from "+sha, errors.ErrCommitNotFound).WithBranch(name)
	}
	r.branches[name] = target
	return nil
}

// BranchExists implements vcs.Repository.
func (r *Repo) BranchExists(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.branches[name]
	return ok, nil
}

// RemoteBranchExists implements vcs.Repository.
func (r *Repo) RemoteBranchExists(remote, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs, ok := r.remotes[remote]
	if !ok {
		return false, errors.NewGitError("unknown remote "+remote, errors.New("no such remote"))
	}
	_, ok = refs[name]
	return ok, nil
}

// DeleteBranch implements vcs.Repository.
func (r *Repo) DeleteBranch(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("DeleteBranch")
	if _, ok := r.branches[name]; !ok {
		return errors.NewGitError("failed to delete branch", errors.ErrBranchNotFound).WithBranch(name)
	}
	if r.head == name {
		return errors.NewGitError("cannot delete the checked-out branch", errors.New("branch in use")).WithBranch(name)
	}
	delete(r.branches, name)
	return nil
}

// DeleteRemoteBranch implements vcs.Repository.
func (r *Repo) DeleteRemoteBranch(remote, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("DeleteRemoteBranch")
	refs, ok := r.remotes[remote]
	if !ok {
		return errors.NewGitError("unknown remote "+remote, errors.New("no such remote"))
	}
	if _, ok := refs[name]; !ok {
		return errors.NewGitError("failed to delete remote branch", errors.ErrBranchNotFound).WithBranch(name)
	}
	delete(refs, name)
	return nil
}

// CommitExists implements vcs.Repository.
func (r *Repo) CommitExists(sha string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.commits[sha]
	return ok, nil
}

// IsAncestor implements vcs.Repository.
func (r *Repo) IsAncestor(ancestor, descendant string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.resolve(ancestor)
	if !ok {
		return false, errors.NewGitError("unknown ref "+ancestor, errors.ErrCommitNotFound)
	}
	d, ok := r.resolve(descendant)
	if !ok {
		return false, errors.NewGitError("unknown ref "+descendant, errors.ErrCommitNotFound)
	}
	return r.reachable(d)[a], nil
}

// CommitsBetween implements vcs.Repository.
func (r *Repo) CommitsBetween(base, head string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.resolve(base)
	if !ok {
		return nil, errors.NewGitError("unknown ref "+base, errors.ErrCommitNotFound)
	}
	h, ok := r.resolve(head)
	if !ok {
		return nil, errors.NewGitError("unknown ref "+head, errors.ErrCommitNotFound)
	}
	exclude := r.reachable(b)
	var out []string
	for sha := range r.reachable(h) {
		if !exclude[sha] {
			out = append(out, sha)
		}
	}
	// Shas encode creation order.
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// CommitTime implements vcs.Repository.
func (r *Repo) CommitTime(sha string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.commits[sha]
	if !ok {
		return time.Time{}, errors.NewGitError("unknown commit "+sha, errors.ErrCommitNotFound)
	}
	return c.time, nil
}

// SquashMerge implements vcs.Repository. The squash commit is timestamped
// one second after the current head.
func (r *Repo) SquashMerge(branch, message string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("SquashMerge")
	if _, ok := r.branches[branch]; !ok {
		return "", errors.NewGitError("failed to squash merge", errors.ErrBranchNotFound).WithBranch(branch)
	}
	if _, ok := r.conflicts[branch]; ok {
		r.mergeActive = true
		return "", errors.NewGitError("squash merge conflicted", errors.ErrMergeConflict).WithBranch(branch)
	}
	tip := r.branches[r.head]
	sha := r.newCommit([]string{tip}, r.commits[tip].time.Add(time.Second), message)
	r.branches[r.head] = sha
	r.Merged = append(r.Merged, branch)
	return sha, nil
}

// ConflictingFiles implements vcs.Repository.
func (r *Repo) ConflictingFiles() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.mergeActive {
		return nil, nil
	}
	var files []string
	for _, branch := range sortedKeys(r.conflicts) {
		files = append(files, r.conflicts[branch]...)
	}
	return files, nil
}

// AbortMerge implements vcs.Repository.
func (r *Repo) AbortMerge() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("AbortMerge")
	r.mergeActive = false
	return nil
}

// MergeInProgress reports whether a conflicted merge was left unaborted.
func (r *Repo) MergeInProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergeActive
}

// PushBranch implements vcs.Repository.
func (r *Repo) PushBranch(remote, name string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("PushBranch")
	return r.push(remote, name, force)
}

// PushWithUpstream implements vcs.Repository.
func (r *Repo) PushWithUpstream(remote, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.call("PushWithUpstream")
	return r.push(remote, name, false)
}

func (r *Repo) push(remote, name string, force bool) error {
	refs, ok := r.remotes[remote]
	if !ok {
		return errors.NewPushError(remote, name, errors.PushUnknown, "no such remote", nil)
	}
	if category, ok := r.pushFailures[name]; ok {
		return errors.NewPushError(remote, name, category, "injected "+string(category)+" failure", nil)
	}
	tip, ok := r.branches[name]
	if !ok {
		return errors.NewPushError(remote, name, errors.PushUnknown, "src refspec does not match any", nil)
	}
	if old, ok := refs[name]; ok && !force && !r.reachable(tip)[old] {
		return errors.NewPushError(remote, name, errors.PushRejected, "non-fast-forward", nil)
	}
	refs[name] = tip
	return nil
}

// ListRemotes implements vcs.Repository.
func (r *Repo) ListRemotes() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.remotes), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ vcs.Repository = (*Repo)(nil)
