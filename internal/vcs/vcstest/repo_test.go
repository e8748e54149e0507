package vcstest

import (
	"reflect"
	"testing"
	"time"

	"github.com/Iron-Ham/epicrun/internal/errors"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRepo_BranchesAndAncestry(t *testing.T) {
	r := New(t0)
	base, _ := r.Head()

	if err := r.CreateBranch("ticket/a", base); err != nil {
		t.Fatal(err)
	}
	c1, err := r.Commit("ticket/a", t0.Add(time.Minute), "a1")
	if err != nil {
		t.Fatal(err)
	}
	c2, _ := r.Commit("ticket/a", t0.Add(2*time.Minute), "a2")

	if ok, _ := r.IsAncestor(c1, "ticket/a"); !ok {
		t.Error("c1 should be an ancestor of ticket/a")
	}
	if ok, _ := r.IsAncestor(c2, "main"); ok {
		t.Error("c2 should not be an ancestor of main")
	}
	commits, _ := r.CommitsBetween(base, "ticket/a")
	if !reflect.DeepEqual(commits, []string{c1, c2}) {
		t.Errorf("CommitsBetween() = %v, want [%s %s]", commits, c1, c2)
	}
	if ts, _ := r.CommitTime(c2); !ts.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("CommitTime() = %v", ts)
	}
	if _, err := r.Commit("nope", t0, "x"); !errors.Is(err, errors.ErrBranchNotFound) {
		t.Errorf("Commit(unknown) error = %v", err)
	}
}

func TestRepo_SquashMergeAndConflict(t *testing.T) {
	r := New(t0)
	base, _ := r.Head()
	_ = r.CreateBranch("epic/x", base)
	_ = r.CreateBranch("ticket/a", base)
	_ = r.CreateBranch("ticket/b", base)
	_, _ = r.Commit("ticket/a", t0.Add(time.Minute), "a")
	r.InjectConflict("ticket/b", "shared.go")

	if err := r.Checkout("epic/x"); err != nil {
		t.Fatal(err)
	}
	sq, err := r.SquashMerge("ticket/a", "squash a")
	if err != nil {
		t.Fatalf("SquashMerge() error = %v", err)
	}
	if r.Tip("epic/x") != sq || r.Message(sq) != "squash a" {
		t.Error("squash commit not on epic branch")
	}

	if _, err := r.SquashMerge("ticket/b", "squash b"); !errors.Is(err, errors.ErrMergeConflict) {
		t.Fatalf("SquashMerge(b) error = %v, want conflict", err)
	}
	files, _ := r.ConflictingFiles()
	if !reflect.DeepEqual(files, []string{"shared.go"}) {
		t.Errorf("ConflictingFiles() = %v", files)
	}
	_ = r.AbortMerge()
	if r.MergeInProgress() {
		t.Error("merge still in progress after abort")
	}
	if !reflect.DeepEqual(r.Merged, []string{"ticket/a"}) {
		t.Errorf("Merged = %v", r.Merged)
	}
}

func TestRepo_Push(t *testing.T) {
	r := New(t0).AddRemote("origin")
	base, _ := r.Head()
	_ = r.CreateBranch("ticket/a", base)

	if err := r.PushBranch("origin", "ticket/a", false); err != nil {
		t.Fatalf("PushBranch() error = %v", err)
	}
	if ok, _ := r.RemoteBranchExists("origin", "ticket/a"); !ok {
		t.Error("branch missing on remote")
	}

	r.InjectPushFailure("epic/x", errors.PushNetwork)
	_ = r.CreateBranch("epic/x", base)
	err := r.PushWithUpstream("origin", "epic/x")
	var pushErr *errors.PushError
	if !errors.As(err, &pushErr) || pushErr.Category != errors.PushNetwork {
		t.Errorf("PushWithUpstream() error = %v", err)
	}

	remotes, _ := r.ListRemotes()
	if !reflect.DeepEqual(remotes, []string{"origin"}) {
		t.Errorf("ListRemotes() = %v", remotes)
	}
}
