package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/epicrun/internal/builder"
	"github.com/Iron-Ham/epicrun/internal/config"
	"github.com/Iron-Ham/epicrun/internal/epic"
	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/event"
	"github.com/Iron-Ham/epicrun/internal/logging"
	"github.com/Iron-Ham/epicrun/internal/orchestrator"
	"github.com/Iron-Ham/epicrun/internal/state"
	"github.com/Iron-Ham/epicrun/internal/telemetry"
	"github.com/Iron-Ham/epicrun/internal/vcs"
)

var runCmd = &cobra.Command{
	Use:   "run <epic.yaml>",
	Short: "Execute an epic, resuming an interrupted run",
	Long: `Execute every ticket of the epic and finalize the epic branch.

When a state document for the same epic exists in the state directory, the
run resumes from it: tickets that were in flight are reset and restarted,
completed work is kept. The command exits non-zero when the epic ends
failed or rolled back.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var runRepoDir string

func init() {
	runCmd.Flags().StringVar(&runRepoDir, "repo", ".", "repository the epic runs in")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	def, err := epic.Load(args[0])
	if err != nil {
		return err
	}

	repoDir, err := filepath.Abs(runRepoDir)
	if err != nil {
		return fmt.Errorf("failed to resolve repository: %w", err)
	}
	repo := vcs.NewCLIRepository(repoDir)
	if !repo.IsRepository() {
		return fmt.Errorf("%s is not a git repository", repoDir)
	}

	stateDir := cfg.Execution.ResolveStateDir(repoDir)
	lock := state.NewRunLock(stateDir, def.ID)
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, errors.ErrRunInProgress) {
			return fmt.Errorf("epic %s is already running in another process", def.ID)
		}
		return err
	}
	defer func() { _ = lock.Release() }()

	logDir := cfg.Logging.Dir
	if logDir == "" {
		logDir = stateDir
	}
	logger, err := logging.NewLogger(logDir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, cfg.Telemetry, Version); err != nil {
		logger.Warn("telemetry disabled", "error", err.Error())
	}
	defer telemetry.Shutdown(context.Background())

	bus := event.NewBus(logger)
	telemetry.SubscribeOutcomes(bus, telemetry.Meter(""))
	bus.SubscribeAll(progressPrinter(cmd.OutOrStdout()))

	o, err := newOrchestrator(cfg, repo, repoDir, stateDir, def.ID, logger, bus)
	if err != nil {
		return err
	}

	ep, err := o.Run(ctx, def)
	if ep != nil {
		fmt.Fprintln(cmd.OutOrStdout())
		renderEpic(cmd.OutOrStdout(), ep)
	}
	if err != nil {
		return err
	}
	return exitStatus(ep)
}

func newOrchestrator(cfg *config.Config, repo vcs.Repository, repoDir, stateDir, epicID string, logger *logging.Logger, bus *event.Bus) (*orchestrator.Orchestrator, error) {
	opts, err := orchestrator.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var b builder.Builder = builder.NewCommandBuilder(cfg.Builder.Command, cfg.Builder.Args, cfg.Builder.Timeout())
	b = builder.NewRetryingBuilder(b, cfg.Builder.SpawnRetries, cfg.Builder.RetryInitial(), cfg.Builder.RetryMax(), logger)

	opts.Repo = repo
	opts.RepoDir = repoDir
	opts.Builder = telemetry.WrapBuilder(b)
	opts.Store = telemetry.WrapStore(state.NewFileStore(state.StatePath(stateDir, epicID)))
	opts.Logger = logger
	opts.Bus = bus
	return orchestrator.New(opts)
}

// exitStatus turns an epic that ended badly into a command error.
func exitStatus(ep *state.Epic) error {
	switch ep.State {
	case state.EpicFailed, state.EpicRolledBack:
		if ep.FailureReason != "" {
			return fmt.Errorf("epic %s %s: %s", ep.ID, ep.State, ep.FailureReason)
		}
		return fmt.Errorf("epic %s %s", ep.ID, ep.State)
	}
	return nil
}

// progressPrinter prints one line per ticket transition, merge and push.
// On a terminal, lines are cut to its width.
func progressPrinter(w io.Writer) event.Handler {
	width := outputWidth(w)
	return func(e event.Event) {
		switch ev := e.(type) {
		case event.TicketTransitionEvent:
			line := fmt.Sprintf("%s  %-24s %s", ev.Timestamp().Format("15:04:05"), ev.TicketID, stateStyle(ev.To).Render(ev.To))
			if ev.Reason != "" {
				line += mutedStyle.Render("  " + ev.Reason)
			}
			fmt.Fprintln(w, fit(line, width))
		case event.TicketMergedEvent:
			fmt.Fprintf(w, "%s  %-24s %s\n", ev.Timestamp().Format("15:04:05"), ev.TicketID, mutedStyle.Render("merged "+shortSHA(ev.MergeCommit)))
		case event.EpicPushedEvent:
			fmt.Fprintf(w, "%s  push %s: %s\n", ev.Timestamp().Format("15:04:05"), ev.Branch, ev.Status)
		}
	}
}
