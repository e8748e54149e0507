package vcs

import (
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/testutil"
)

// -----------------------------------------------------------------------------
// Mock Command Executor for Unit Tests
// -----------------------------------------------------------------------------

// mockCall records a single command invocation
type mockCall struct {
	dir  string
	name string
	args []string
}

// mockExecutor is a test double for CommandExecutor
type mockExecutor struct {
	calls      []mockCall
	runOutputs [][]byte
	runErrors  []error
	callIndex  int
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{}
}

func (m *mockExecutor) addResponse(output []byte, err error) {
	m.runOutputs = append(m.runOutputs, output)
	m.runErrors = append(m.runErrors, err)
}

func (m *mockExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, mockCall{dir: dir, name: name, args: args})
	idx := m.callIndex
	m.callIndex++
	if idx < len(m.runOutputs) {
		return m.runOutputs[idx], m.runErrors[idx]
	}
	return nil, nil
}

func (m *mockExecutor) lastCall() mockCall {
	if len(m.calls) == 0 {
		return mockCall{}
	}
	return m.calls[len(m.calls)-1]
}

// exitError mimics *exec.ExitError for a given exit code.
type exitError struct{ code int }

func (e *exitError) Error() string { return "exit status " + strconv.Itoa(e.code) }
func (e *exitError) ExitCode() int { return e.code }

// -----------------------------------------------------------------------------
// CLIRepository Unit Tests
// -----------------------------------------------------------------------------

func TestCLIRepository_CreateBranchArgs(t *testing.T) {
	mock := newMockExecutor()
	repo := NewCLIRepositoryWithExecutor("/repo", mock)

	if err := repo.CreateBranch("ticket/a", "abc123"); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}
	call := mock.lastCall()
	if call.dir != "/repo" || call.name != "git" {
		t.Errorf("call = %+v", call)
	}
	if want := []string{"branch", "--force", "ticket/a", "abc123"}; !reflect.DeepEqual(call.args, want) {
		t.Errorf("args = %v, want %v", call.args, want)
	}
}

func TestCLIRepository_CreateBranchError(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse([]byte("fatal: not a valid object name: 'nope'\n"), &exitError{code: 128})
	repo := NewCLIRepositoryWithExecutor("/repo", mock)

	err := repo.CreateBranch("ticket/a", "nope")
	var gitErr *errors.GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("CreateBranch() error = %v, want *GitError", err)
	}
	if gitErr.Branch != "ticket/a" || gitErr.GitOutput == "" {
		t.Errorf("GitError = %+v", gitErr)
	}
}

func TestCLIRepository_IsAncestor(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    bool
		wantErr bool
	}{
		{"ancestor", nil, true, false},
		{"not ancestor", &exitError{code: 1}, false, false},
		{"bad object", &exitError{code: 128}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockExecutor()
			mock.addResponse(nil, tt.err)
			repo := NewCLIRepositoryWithExecutor("/repo", mock)

			got, err := repo.IsAncestor("a", "b")
			if (err != nil) != tt.wantErr {
				t.Fatalf("IsAncestor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("IsAncestor() = %v, want %v", got, tt.want)
			}
			if want := []string{"merge-base", "--is-ancestor", "a", "b"}; !reflect.DeepEqual(mock.lastCall().args, want) {
				t.Errorf("args = %v", mock.lastCall().args)
			}
		})
	}
}

func TestCLIRepository_BranchExists(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    bool
		wantErr bool
	}{
		{"exists", nil, true, false},
		{"missing", &exitError{code: 1}, false, false},
		{"broken", &exitError{code: 129}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockExecutor()
			mock.addResponse(nil, tt.err)
			repo := NewCLIRepositoryWithExecutor("/repo", mock)

			got, err := repo.BranchExists("ticket/a")
			if (err != nil) != tt.wantErr {
				t.Fatalf("BranchExists() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("BranchExists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCLIRepository_RemoteBranchExists(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse([]byte("abc123\trefs/heads/ticket/a\n"), nil)
	mock.addResponse([]byte(""), nil)
	repo := NewCLIRepositoryWithExecutor("/repo", mock)

	if ok, err := repo.RemoteBranchExists("origin", "ticket/a"); err != nil || !ok {
		t.Errorf("RemoteBranchExists(existing) = %v, %v", ok, err)
	}
	if ok, err := repo.RemoteBranchExists("origin", "ticket/b"); err != nil || ok {
		t.Errorf("RemoteBranchExists(missing) = %v, %v", ok, err)
	}
}

func TestCLIRepository_CommitsBetween(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{"none", "", []string{}},
		{"two", "c1\nc2\n", []string{"c1", "c2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockExecutor()
			mock.addResponse([]byte(tt.output), nil)
			repo := NewCLIRepositoryWithExecutor("/repo", mock)

			got, err := repo.CommitsBetween("base", "ticket/a")
			if err != nil {
				t.Fatalf("CommitsBetween() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CommitsBetween() = %v, want %v", got, tt.want)
			}
			if want := []string{"rev-list", "--reverse", "base..ticket/a"}; !reflect.DeepEqual(mock.lastCall().args, want) {
				t.Errorf("args = %v", mock.lastCall().args)
			}
		})
	}
}

func TestCLIRepository_CommitTime(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse([]byte("1700000000\n"), nil)
	repo := NewCLIRepositoryWithExecutor("/repo", mock)

	got, err := repo.CommitTime("c1")
	if err != nil {
		t.Fatalf("CommitTime() error = %v", err)
	}
	if !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("CommitTime() = %v", got)
	}
}

func TestCLIRepository_SquashMergeConflict(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse([]byte("Auto-merging main.go\nCONFLICT (content): Merge conflict in main.go\n"), &exitError{code: 1})
	repo := NewCLIRepositoryWithExecutor("/repo", mock)

	_, err := repo.SquashMerge("ticket/a", "msg")
	if !errors.Is(err, errors.ErrMergeConflict) {
		t.Errorf("SquashMerge() error = %v, want ErrMergeConflict", err)
	}
	if len(mock.calls) != 1 {
		t.Errorf("commit must not run after a conflict, calls = %d", len(mock.calls))
	}
}

func TestCLIRepository_PushBranchCategorizes(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse([]byte("remote: Invalid username or password.\nfatal: Authentication failed for 'https://example.com/repo.git/'\n"), &exitError{code: 128})
	repo := NewCLIRepositoryWithExecutor("/repo", mock)

	err := repo.PushBranch("origin", "epic/x", true)
	var pushErr *errors.PushError
	if !errors.As(err, &pushErr) {
		t.Fatalf("PushBranch() error = %v, want *PushError", err)
	}
	if pushErr.Category != errors.PushAuthentication {
		t.Errorf("Category = %s, want authentication", pushErr.Category)
	}
	if want := []string{"push", "--force", "origin", "epic/x"}; !reflect.DeepEqual(mock.lastCall().args, want) {
		t.Errorf("args = %v", mock.lastCall().args)
	}
}

func TestCLIRepository_ListRemotes(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse([]byte("origin\nupstream\n"), nil)
	repo := NewCLIRepositoryWithExecutor("/repo", mock)

	got, err := repo.ListRemotes()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"origin", "upstream"}) {
		t.Errorf("ListRemotes() = %v", got)
	}
}

func TestCategorizePushFailure(t *testing.T) {
	tests := []struct {
		output string
		want   errors.PushCategory
	}{
		{"fatal: Authentication failed for 'https://x'", errors.PushAuthentication},
		{"fatal: could not read Username for 'https://github.com': terminal prompts disabled", errors.PushAuthentication},
		{"git@github.com: Permission denied (publickey).", errors.PushAuthentication},
		{"fatal: unable to access 'https://x/': The requested URL returned error: 403", errors.PushAuthentication},
		{"fatal: unable to access 'https://x/': Could not resolve host: x", errors.PushNetwork},
		{"ssh: connect to host x port 22: Connection refused", errors.PushNetwork},
		{"fatal: unable to access 'https://git.example.com/team-403/app.git/': Could not resolve host: git.example.com", errors.PushNetwork},
		{" ! [rejected]        release-403 -> release-403 (non-fast-forward)", errors.PushRejected},
		{" ! [rejected]        main -> main (non-fast-forward)", errors.PushRejected},
		{"remote: error: GH006: Protected branch update failed", errors.PushRejected},
		{"something odd happened", errors.PushUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			if got := CategorizePushFailure(tt.output); got != tt.want {
				t.Errorf("CategorizePushFailure(%q) = %s, want %s", tt.output, got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// CLIRepository Integration Tests
// -----------------------------------------------------------------------------

func TestCLIRepository_BranchStackingAndSquash(t *testing.T) {
	testutil.SkipIfNoGit(t)
	repoDir, remoteDir := testutil.SetupTestRepoWithRemote(t)
	repo := NewCLIRepository(repoDir)

	baseline, err := repo.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if err := repo.CreateBranch("epic/x", baseline); err != nil {
		t.Fatalf("CreateBranch(epic) error = %v", err)
	}
	if err := repo.CreateBranch("ticket/a", baseline); err != nil {
		t.Fatalf("CreateBranch(ticket) error = %v", err)
	}
	if err := repo.PushBranch("origin", "ticket/a", true); err != nil {
		t.Fatalf("PushBranch() error = %v", err)
	}
	if ok, err := repo.RemoteBranchExists("origin", "ticket/a"); err != nil || !ok {
		t.Fatalf("RemoteBranchExists() = %v, %v", ok, err)
	}

	testutil.CheckoutBranch(t, repoDir, "ticket/a")
	final := testutil.CommitFile(t, repoDir, "a.txt", "a\n", "ticket a work")

	commits, err := repo.CommitsBetween(baseline, "ticket/a")
	if err != nil || len(commits) != 1 || commits[0] != final {
		t.Fatalf("CommitsBetween() = %v, %v", commits, err)
	}
	if ok, _ := repo.IsAncestor(final, "ticket/a"); !ok {
		t.Error("final commit should be an ancestor of its branch")
	}
	if ok, _ := repo.CommitExists(final); !ok {
		t.Error("CommitExists(final) = false")
	}
	if ok, _ := repo.CommitExists("0000000000000000000000000000000000000000"); ok {
		t.Error("CommitExists(zero sha) = true")
	}

	if err := repo.Checkout("epic/x"); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	squash, err := repo.SquashMerge("ticket/a", "ticket a\n\nTicket: a")
	if err != nil {
		t.Fatalf("SquashMerge() error = %v", err)
	}
	if ok, _ := repo.IsAncestor(squash, "epic/x"); !ok {
		t.Error("squash commit should be on the epic branch")
	}
	if ok, _ := repo.IsAncestor(final, "epic/x"); ok {
		t.Error("a squash merge must not make the ticket commit an ancestor")
	}

	if err := repo.PushWithUpstream("origin", "epic/x"); err != nil {
		t.Fatalf("PushWithUpstream() error = %v", err)
	}
	if err := repo.DeleteRemoteBranch("origin", "ticket/a"); err != nil {
		t.Fatalf("DeleteRemoteBranch() error = %v", err)
	}
	if err := repo.DeleteBranch("ticket/a"); err != nil {
		t.Fatalf("DeleteBranch() error = %v", err)
	}
	if ok, _ := repo.BranchExists("ticket/a"); ok {
		t.Error("ticket branch still exists locally")
	}
	remote := testutil.ListRemoteBranches(t, remoteDir)
	if !reflect.DeepEqual(remote, []string{"epic/x", "main"}) {
		t.Errorf("remote branches = %v", remote)
	}
}

func TestCLIRepository_SquashMergeConflictAndAbort(t *testing.T) {
	testutil.SkipIfNoGit(t)
	repoDir := testutil.SetupTestRepo(t)
	repo := NewCLIRepository(repoDir)

	base, _ := repo.Head()
	if err := repo.CreateBranch("ticket/a", base); err != nil {
		t.Fatal(err)
	}
	testutil.CommitFile(t, repoDir, "README.md", "main side\n", "main edit")
	testutil.CheckoutBranch(t, repoDir, "ticket/a")
	testutil.CommitFile(t, repoDir, "README.md", "ticket side\n", "ticket edit")
	testutil.CheckoutBranch(t, repoDir, "main")
	before, _ := repo.Head()

	_, err := repo.SquashMerge("ticket/a", "ticket a")
	if !errors.Is(err, errors.ErrMergeConflict) {
		t.Fatalf("SquashMerge() error = %v, want ErrMergeConflict", err)
	}
	files, err := repo.ConflictingFiles()
	if err != nil || !reflect.DeepEqual(files, []string{"README.md"}) {
		t.Errorf("ConflictingFiles() = %v, %v", files, err)
	}
	if err := repo.AbortMerge(); err != nil {
		t.Fatalf("AbortMerge() error = %v", err)
	}
	after, _ := repo.Head()
	if after != before {
		t.Errorf("HEAD moved from %s to %s", before, after)
	}
	if files, _ := repo.ConflictingFiles(); len(files) != 0 {
		t.Errorf("conflicts remain after abort: %v", files)
	}
}

func TestCLIRepository_NoRemote(t *testing.T) {
	testutil.SkipIfNoGit(t)
	repo := NewCLIRepository(testutil.SetupTestRepo(t))

	remotes, err := repo.ListRemotes()
	if err != nil {
		t.Fatal(err)
	}
	if len(remotes) != 0 {
		t.Errorf("ListRemotes() = %v, want none", remotes)
	}
	if ok, _ := HasRemote(repo, "origin"); ok {
		t.Error("HasRemote(origin) = true")
	}
	branch, err := repo.CurrentBranch()
	if err != nil || branch != "main" {
		t.Errorf("CurrentBranch() = %q, %v", branch, err)
	}
}
