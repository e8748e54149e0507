package builder

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/state"
)

const goodResult = `{"ticket_id":"a","outcome":"success","final_commit":"abc123","files_modified":["a.go"],"test_status":"passing","acceptance_criteria":[{"criterion":"works","met":true}]}`

func TestParseResult_Valid(t *testing.T) {
	res, err := ParseResult([]byte(goodResult))
	if err != nil {
		t.Fatalf("ParseResult() error = %v", err)
	}
	if res.TicketID != "a" || res.Outcome != OutcomeSuccess || res.Commit() != "abc123" {
		t.Errorf("result = %+v", res)
	}
	if res.TestStatus != state.TestsPassing {
		t.Errorf("TestStatus = %s", res.TestStatus)
	}
	if len(res.Criteria) != 1 || !res.Criteria[0].Met {
		t.Errorf("Criteria = %+v", res.Criteria)
	}
}

func TestParseResult_NullCommit(t *testing.T) {
	res, err := ParseResult([]byte(`{"ticket_id":"a","outcome":"failure","final_commit":null,"files_modified":[],"test_status":"failing","acceptance_criteria":[]}`))
	if err != nil {
		t.Fatalf("ParseResult() error = %v", err)
	}
	if res.FinalCommit != nil || res.Commit() != "" {
		t.Errorf("FinalCommit = %v, want nil", res.FinalCommit)
	}
}

func TestParseResult_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "done!"},
		{"missing final_commit", `{"ticket_id":"a","outcome":"success","files_modified":[],"test_status":"passing","acceptance_criteria":[]}`},
		{"missing criteria", `{"ticket_id":"a","outcome":"success","final_commit":"x","files_modified":[],"test_status":"passing"}`},
		{"unknown field", `{"ticket_id":"a","outcome":"success","final_commit":"x","files_modified":[],"test_status":"passing","acceptance_criteria":[],"notes":"hi"}`},
		{"bad outcome", `{"ticket_id":"a","outcome":"partial","final_commit":"x","files_modified":[],"test_status":"passing","acceptance_criteria":[]}`},
		{"bad test status", `{"ticket_id":"a","outcome":"success","final_commit":"x","files_modified":[],"test_status":"green","acceptance_criteria":[]}`},
		{"numeric commit", `{"ticket_id":"a","outcome":"success","final_commit":42,"files_modified":[],"test_status":"passing","acceptance_criteria":[]}`},
		{"criterion without met", `{"ticket_id":"a","outcome":"success","final_commit":"x","files_modified":[],"test_status":"passing","acceptance_criteria":[{"criterion":"c"}]}`},
		{"trailing data", goodResult + `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResult([]byte(tt.input))
			if !errors.Is(err, errors.ErrMalformedResult) {
				t.Errorf("ParseResult() error = %v, want ErrMalformedResult", err)
			}
		})
	}
}

func TestExtractResult_LastJSONLine(t *testing.T) {
	output := "working on ticket a\n{\"progress\": 50}\n" + goodResult + "\n"
	res, err := ExtractResult([]byte(output))
	if err != nil {
		t.Fatalf("ExtractResult() error = %v", err)
	}
	if res.Commit() != "abc123" {
		t.Errorf("Commit() = %q", res.Commit())
	}

	if _, err := ExtractResult([]byte("   \n")); !errors.Is(err, errors.ErrMalformedResult) {
		t.Errorf("ExtractResult(empty) error = %v", err)
	}
}

func skipIfNoShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH, skipping test")
	}
}

func TestCommandBuilder_Invoke(t *testing.T) {
	skipIfNoShell(t)

	script := `read -r req; case "$req" in *'"branch":"ticket/a"'*) ;; *) exit 3;; esac; ` +
		`echo "log line"; echo '` + goodResult + `'`
	b := NewCommandBuilder("sh", []string{"-c", script}, 10*time.Second)

	res, err := b.Invoke(context.Background(), Request{TicketID: "a", Branch: "ticket/a", RepoDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Commit() != "abc123" {
		t.Errorf("Commit() = %q", res.Commit())
	}
}

func TestCommandBuilder_Failures(t *testing.T) {
	skipIfNoShell(t)

	tests := []struct {
		name    string
		command string
		args    []string
		timeout time.Duration
		want    error
	}{
		{"spawn", "/nonexistent/epicrun-builder", nil, time.Second, errors.ErrSpawnFailed},
		{"crash", "sh", []string{"-c", "echo boom >&2; exit 2"}, time.Second, errors.ErrBuilderCrashed},
		{"timeout", "sh", []string{"-c", "exec sleep 5"}, 100 * time.Millisecond, errors.ErrTimeout},
		{"malformed", "sh", []string{"-c", "echo not json"}, time.Second, errors.ErrMalformedResult},
		{"wrong ticket", "sh", []string{"-c", "echo '" + strings.Replace(goodResult, `"a"`, `"b"`, 1) + "'"}, time.Second, errors.ErrMalformedResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewCommandBuilder(tt.command, tt.args, tt.timeout)
			_, err := b.Invoke(context.Background(), Request{TicketID: "a", RepoDir: t.TempDir()})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Invoke() error = %v, want %v", err, tt.want)
			}
			var be *errors.BuilderError
			if !errors.As(err, &be) || be.TicketID != "a" {
				t.Errorf("error should be a BuilderError for ticket a, got %v", err)
			}
		})
	}
}

func TestRetryingBuilder_RetriesSpawnOnly(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		kind         errors.BuilderErrorKind
		wantAttempts int
		wantErr      error
	}{
		{"recovers after one spawn failure", 1, errors.BuilderSpawn, 2, nil},
		{"exhausts retries", 5, errors.BuilderSpawn, 3, errors.ErrSpawnFailed},
		{"crash not retried", 5, errors.BuilderCrash, 1, errors.ErrBuilderCrashed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			inner := Func(func(ctx context.Context, req Request) (*Result, error) {
				attempts++
				if attempts <= tt.failures {
					return nil, errors.NewBuilderError(tt.kind, "nope", nil)
				}
				return &Result{TicketID: req.TicketID, Outcome: OutcomeSuccess}, nil
			})

			b := NewRetryingBuilder(inner, 2, time.Millisecond, 5*time.Millisecond, nil)
			res, err := b.Invoke(context.Background(), Request{TicketID: "a"})

			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if tt.wantErr == nil {
				if err != nil || res == nil {
					t.Fatalf("Invoke() = %v, %v", res, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Invoke() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
