package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/epicrun/internal/errors"
)

// maxStderrTail bounds how much builder stderr is kept for error messages.
const maxStderrTail = 2048

// CommandBuilder runs the builder as a subprocess. The request is written to
// stdin as JSON and exported as EPICRUN_* environment variables; the result
// is read from stdout.
type CommandBuilder struct {
	command string
	args    []string
	timeout time.Duration
}

// NewCommandBuilder creates a CommandBuilder for command and args with a
// per-invocation timeout.
func NewCommandBuilder(command string, args []string, timeout time.Duration) *CommandBuilder {
	return &CommandBuilder{command: command, args: args, timeout: timeout}
}

// Invoke runs the builder once.
func (b *CommandBuilder) Invoke(ctx context.Context, req Request) (*Result, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal builder request: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.command, b.args...)
	cmd.Dir = req.RepoDir
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(os.Environ(),
		"EPICRUN_TICKET_ID="+req.TicketID,
		"EPICRUN_TICKET_TITLE="+req.Title,
		"EPICRUN_TICKET_PATH="+req.TicketPath,
		"EPICRUN_BRANCH="+req.Branch,
		"EPICRUN_BASE_COMMIT="+req.BaseCommit,
		"EPICRUN_EPIC_PATH="+req.EpicPath,
		fmt.Sprintf("EPICRUN_CRITICAL=%t", req.Critical),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, errors.NewBuilderError(errors.BuilderSpawn, "failed to start "+b.command, err).
			WithTicketID(req.TicketID)
	}

	err = cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, errors.NewBuilderError(errors.BuilderTimeout,
			fmt.Sprintf("no result within %s", b.timeout), ctx.Err()).WithTicketID(req.TicketID)
	}
	if err != nil {
		return nil, errors.NewBuilderError(errors.BuilderCrash, crashMessage(stderr.String()), err).
			WithTicketID(req.TicketID)
	}

	res, err := ExtractResult(stdout.Bytes())
	if err != nil {
		var be *errors.BuilderError
		if errors.As(err, &be) {
			return nil, be.WithTicketID(req.TicketID)
		}
		return nil, err
	}
	if res.TicketID != req.TicketID {
		return nil, errors.NewBuilderError(errors.BuilderMalformed,
			fmt.Sprintf("result is for ticket %q", res.TicketID), nil).WithTicketID(req.TicketID)
	}
	return res, nil
}

func crashMessage(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return "builder exited with an error"
	}
	if len(stderr) > maxStderrTail {
		stderr = stderr[len(stderr)-maxStderrTail:]
	}
	return "builder exited with an error: " + stderr
}
