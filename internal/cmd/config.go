package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/epicrun/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View epicrun configuration",
	Long: `View epicrun configuration.

Without arguments, displays the effective configuration after defaults,
config file and EPICRUN_* environment variables are applied.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/epicrun/epicrun.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(configDocument(cfg))
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// configDocument mirrors Config with yaml keys matching the config file.
func configDocument(cfg *config.Config) map[string]any {
	return map[string]any{
		"branch": map[string]any{
			"ticket_prefix": cfg.Branch.TicketPrefix,
			"epic_prefix":   cfg.Branch.EpicPrefix,
		},
		"git": map[string]any{
			"remote":                    cfg.Git.Remote,
			"push_ticket_branches":      cfg.Git.PushTicketBranches,
			"delete_remote_on_rollback": cfg.Git.DeleteRemoteOnRollback,
		},
		"builder": map[string]any{
			"command":          cfg.Builder.Command,
			"args":             cfg.Builder.Args,
			"timeout_minutes":  cfg.Builder.TimeoutMinutes,
			"spawn_retries":    cfg.Builder.SpawnRetries,
			"retry_initial_ms": cfg.Builder.RetryInitialMs,
			"retry_max_ms":     cfg.Builder.RetryMaxMs,
		},
		"execution": map[string]any{
			"max_in_flight": cfg.Execution.MaxInFlight,
			"state_dir":     cfg.Execution.StateDir,
		},
		"validation": map[string]any{
			"protected_paths": cfg.Validation.ProtectedPaths,
		},
		"logging": map[string]any{
			"level": cfg.Logging.Level,
			"dir":   cfg.Logging.Dir,
		},
		"telemetry": map[string]any{
			"enabled":       cfg.Telemetry.Enabled,
			"stdout":        cfg.Telemetry.Stdout,
			"otlp_endpoint": cfg.Telemetry.OTLPEndpoint,
			"service_name":  cfg.Telemetry.ServiceName,
		},
	}
}

const defaultConfigFile = `# Epicrun configuration

branch:
  # Ticket branches are <ticket_prefix>/<ticket id>
  ticket_prefix: ticket
  # The epic branch is <epic_prefix>/<epic id> unless the epic names one
  epic_prefix: epic

git:
  remote: origin
  # Push each ticket branch as soon as it is created
  push_ticket_branches: true
  # On rollback, also delete remote copies of branches this run pushed
  delete_remote_on_rollback: true

builder:
  # Executable invoked once per ticket; receives the request as JSON on stdin
  command: ""
  args: []
  timeout_minutes: 30
  # Retries when the builder process cannot be started
  spawn_retries: 2
  retry_initial_ms: 500
  retry_max_ms: 4000

execution:
  max_in_flight: 1
  # Relative to the repository
  state_dir: .epicrun

validation:
  # Globs a ticket may not modify, e.g. ".github/**"
  protected_paths: []

logging:
  # debug, info, warn, error
  level: info
  # Defaults to the state directory
  dir: ""

telemetry:
  enabled: false
  stdout: false
  otlp_endpoint: ""
  service_name: epicrun
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintln(out, "  1. ./epicrun.yaml (current directory)")
	fmt.Fprintf(out, "  2. %s\n", config.ConfigFile())
	fmt.Fprintln(out, "\nEnvironment variables: EPICRUN_* (e.g., EPICRUN_GIT_REMOTE for git.remote)")
	return nil
}
