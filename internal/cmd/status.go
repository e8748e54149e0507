package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/epicrun/internal/config"
	"github.com/Iron-Ham/epicrun/internal/epic"
	"github.com/Iron-Ham/epicrun/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status <epic.yaml|state.json>",
	Short: "Show the state of an epic run",
	Long: `Display the persisted state of an epic and all of its tickets.

The argument is either the epic definition, whose state document is looked
up in the state directory of --repo, or a state document itself.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var statusRepoDir string

func init() {
	statusCmd.Flags().StringVar(&statusRepoDir, "repo", ".", "repository the epic runs in")
	rootCmd.AddCommand(statusCmd)
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	path, err := statePathFor(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "No state for this epic (%s)\n", path)
			return nil
		}
		return fmt.Errorf("failed to read state: %w", err)
	}
	ep, err := state.Decode(data, path)
	if err != nil {
		return err
	}
	renderEpic(cmd.OutOrStdout(), ep)
	return nil
}

// statePathFor maps an epic definition to its state document. Any other
// argument is taken to be a state document.
func statePathFor(arg string) (string, error) {
	switch strings.ToLower(filepath.Ext(arg)) {
	case ".yaml", ".yml":
	default:
		return arg, nil
	}
	def, err := epic.Load(arg)
	if err != nil {
		return "", err
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}
	repoDir, err := filepath.Abs(statusRepoDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repository: %w", err)
	}
	return state.StatePath(cfg.Execution.ResolveStateDir(repoDir), def.ID), nil
}

func renderEpic(w io.Writer, ep *state.Epic) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Epic "+ep.ID), stateStyle(string(ep.State)).Render(string(ep.State)))
	fmt.Fprintf(w, "Branch:   %s (from %s)\n", ep.Branch, shortSHA(ep.BaselineCommit))
	fmt.Fprintf(w, "Run:      %s\n", ep.RunID)
	if ep.StartedAt != nil {
		fmt.Fprintf(w, "Started:  %s\n", ep.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if ep.PushStatus != state.PushNotAttempted {
		fmt.Fprintf(w, "Push:     %s\n", ep.PushStatus)
	}
	if ep.FailureReason != "" {
		fmt.Fprintf(w, "Reason:   %s\n", failStyle.Render(ep.FailureReason))
	}
	if len(ep.DiscardedTickets) > 0 {
		fmt.Fprintf(w, "Discarded: %s\n", strings.Join(ep.DiscardedTickets, ", "))
	}
	fmt.Fprintln(w)

	counts := ep.CountByState()
	fmt.Fprintf(w, "Tickets: %d completed, %d failed, %d blocked, %d total\n\n",
		counts[state.TicketCompleted], counts[state.TicketFailed], counts[state.TicketBlocked], len(ep.Tickets))

	for i, t := range ep.OrderedTickets() {
		name := t.ID
		if t.Critical {
			name += " " + warnStyle.Render("(critical)")
		}
		fmt.Fprintf(w, "[%d] %s  %s\n", i+1, name, stateStyle(string(t.State)).Render(string(t.State)))
		if t.Title != "" {
			fmt.Fprintf(w, "    %s\n", t.Title)
		}
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(w, "    Depends on: %s\n", strings.Join(t.DependsOn, ", "))
		}
		if t.Git != nil {
			fmt.Fprintf(w, "    Branch: %s (base %s)\n", t.Git.Branch, shortSHA(t.Git.BaseCommit))
			if t.Git.FinalCommit != "" {
				fmt.Fprintf(w, "    Final:  %s\n", shortSHA(t.Git.FinalCommit))
			}
			if t.Git.MergeCommit != "" {
				fmt.Fprintf(w, "    Merged: %s\n", shortSHA(t.Git.MergeCommit))
			}
		}
		if t.FailureReason != "" {
			fmt.Fprintf(w, "    %s\n", failStyle.Render(t.FailureReason))
		}
		if t.BlockingDependency != "" {
			fmt.Fprintf(w, "    %s\n", mutedStyle.Render("blocked by "+t.BlockingDependency))
		}
	}
}

func stateStyle(s string) lipgloss.Style {
	switch s {
	case string(state.TicketCompleted), string(state.EpicFinalized):
		return successStyle
	case string(state.TicketFailed), string(state.EpicRolledBack):
		return failStyle
	case string(state.TicketBlocked), string(state.EpicPartialSuccess):
		return warnStyle
	case string(state.TicketInProgress), string(state.TicketAwaitingValidation),
		string(state.EpicExecutingWave), string(state.EpicMerging):
		return activeStyle
	default:
		return mutedStyle
	}
}

func shortSHA(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}
	return sha
}

// fit cuts a possibly styled line to width columns, keeping escape
// sequences intact. A width of zero or less leaves the line alone.
func fit(line string, width int) string {
	if width <= 0 || lipgloss.Width(line) <= width {
		return line
	}
	return ansi.Truncate(line, width, "...")
}

// outputWidth returns the terminal width of w, or 0 when w is not a terminal.
func outputWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
