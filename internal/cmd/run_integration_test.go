//go:build integration

package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/epicrun/internal/testutil"
)

// builderScript commits one file per ticket on the ticket branch and prints
// a passing result. Tickets listed in EPICRUN_TEST_FAIL report failing tests.
const builderScript = `#!/bin/sh
set -e
git checkout -q "$EPICRUN_BRANCH"
echo "$EPICRUN_TICKET_ID" > "$EPICRUN_TICKET_ID.txt"
git add "$EPICRUN_TICKET_ID.txt"
git commit -q -m "$EPICRUN_TICKET_TITLE"
sha=$(git rev-parse HEAD)
git checkout -q main
status=passing
case " $EPICRUN_TEST_FAIL " in *" $EPICRUN_TICKET_ID "*) status=failing ;; esac
printf '{"ticket_id":"%s","outcome":"success","final_commit":"%s","files_modified":["%s.txt"],"test_status":"%s","acceptance_criteria":[{"criterion":"works","met":true}]}\n' \
  "$EPICRUN_TICKET_ID" "$sha" "$EPICRUN_TICKET_ID" "$status"
`

const integrationEpic = `id: shop
rollback_on_failure: true
tickets:
  - id: cart
    title: Add cart
    critical: true
  - id: checkout
    title: Add checkout
    depends_on: [cart]
  - id: search
    title: Add search
`

func setupRun(t *testing.T) (repoDir, remoteDir, epicFile string) {
	t.Helper()
	testutil.SkipIfNoGit(t)

	repoDir, remoteDir = testutil.SetupTestRepoWithRemote(t)
	testutil.CommitFile(t, repoDir, ".gitignore", ".epicrun/\n", "Ignore run state")

	scripts := t.TempDir()
	script := filepath.Join(scripts, "builder.sh")
	if err := os.WriteFile(script, []byte(builderScript), 0o755); err != nil {
		t.Fatal(err)
	}
	epicFile = filepath.Join(scripts, "shop.yaml")
	if err := os.WriteFile(epicFile, []byte(integrationEpic), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EPICRUN_BUILDER_COMMAND", script)
	t.Setenv("GIT_AUTHOR_NAME", "Epicrun Test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@epicrun.dev")
	t.Setenv("GIT_COMMITTER_NAME", "Epicrun Test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@epicrun.dev")
	return repoDir, remoteDir, epicFile
}

func TestRunCommand_Finalizes(t *testing.T) {
	repoDir, remoteDir, epicFile := setupRun(t)

	output, err := executeCommand(rootCmd, "run", "--repo", repoDir, epicFile)
	if err != nil {
		t.Fatalf("run failed: %v\nOutput: %s", err, output)
	}
	if !strings.Contains(output, "finalized") {
		t.Errorf("output does not report finalized:\n%s", output)
	}

	branches := testutil.ListBranches(t, repoDir)
	if strings.Join(branches, ",") != "epic/shop,main" {
		t.Errorf("local branches = %v", branches)
	}
	remote := testutil.ListRemoteBranches(t, remoteDir)
	if strings.Join(remote, ",") != "epic/shop,main" {
		t.Errorf("remote branches = %v", remote)
	}
	for _, f := range []string{"cart.txt", "checkout.txt", "search.txt"} {
		if _, err := os.Stat(filepath.Join(repoDir, f)); err != nil {
			t.Errorf("%s missing from epic branch: %v", f, err)
		}
	}

	// A second run of a finished epic changes nothing.
	head := testutil.RevParse(t, repoDir, "epic/shop")
	if _, err := executeCommand(rootCmd, "run", "--repo", repoDir, epicFile); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if got := testutil.RevParse(t, repoDir, "epic/shop"); got != head {
		t.Errorf("epic branch moved from %s to %s", head, got)
	}
}

func TestRunCommand_CriticalFailureRollsBack(t *testing.T) {
	repoDir, remoteDir, epicFile := setupRun(t)
	t.Setenv("EPICRUN_TEST_FAIL", "cart")

	output, err := executeCommand(rootCmd, "run", "--repo", repoDir, epicFile)
	if err == nil {
		t.Fatalf("run should fail after a critical failure\nOutput: %s", output)
	}
	if !strings.Contains(err.Error(), "rolled_back") {
		t.Errorf("error = %v", err)
	}

	if branches := testutil.ListBranches(t, repoDir); strings.Join(branches, ",") != "main" {
		t.Errorf("local branches after rollback = %v", branches)
	}
	if remote := testutil.ListRemoteBranches(t, remoteDir); strings.Join(remote, ",") != "main" {
		t.Errorf("remote branches after rollback = %v", remote)
	}
	if got := testutil.GetCurrentBranch(t, repoDir); got != "main" {
		t.Errorf("current branch = %s", got)
	}
}
