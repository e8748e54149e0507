package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete epicrun configuration
type Config struct {
	Branch     BranchConfig     `mapstructure:"branch"`
	Git        GitConfig        `mapstructure:"git"`
	Builder    BuilderConfig    `mapstructure:"builder"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Validation ValidationConfig `mapstructure:"validation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// BranchConfig controls branch naming conventions
type BranchConfig struct {
	// TicketPrefix is the prefix for ticket branches ("ticket" -> ticket/<id>)
	TicketPrefix string `mapstructure:"ticket_prefix"`
	// EpicPrefix is the prefix for the epic branch when the definition names none
	EpicPrefix string `mapstructure:"epic_prefix"`
}

// GitConfig controls remote interaction
type GitConfig struct {
	// Remote is the remote ticket and epic branches are pushed to
	Remote string `mapstructure:"remote"`
	// PushTicketBranches pushes each ticket branch right after it is created
	PushTicketBranches bool `mapstructure:"push_ticket_branches"`
	// DeleteRemoteOnRollback also deletes remote copies of branches this run pushed
	DeleteRemoteOnRollback bool `mapstructure:"delete_remote_on_rollback"`
}

// BuilderConfig controls the external builder process
type BuilderConfig struct {
	// Command is the executable invoked once per ticket
	Command string `mapstructure:"command"`
	// Args are passed to Command before any ticket-specific input
	Args []string `mapstructure:"args"`
	// TimeoutMinutes bounds one invocation; exceeding it fails the ticket
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	// SpawnRetries is how often a failed process start is retried
	SpawnRetries int `mapstructure:"spawn_retries"`
	// RetryInitialMs is the first backoff delay between spawn attempts
	RetryInitialMs int `mapstructure:"retry_initial_ms"`
	// RetryMaxMs caps the backoff delay
	RetryMaxMs int `mapstructure:"retry_max_ms"`
}

// ExecutionConfig controls the orchestrator loop
type ExecutionConfig struct {
	// MaxInFlight is the number of tickets that may run at once (only 1 is supported)
	MaxInFlight int `mapstructure:"max_in_flight"`
	// StateDir holds state documents, run locks and logs, relative to the repository
	StateDir string `mapstructure:"state_dir"`
}

// ValidationConfig controls optional validation checks
type ValidationConfig struct {
	// ProtectedPaths are globs a ticket may not modify (e.g. ".github/**")
	ProtectedPaths []string `mapstructure:"protected_paths"`
}

// LoggingConfig controls the run log
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Dir is where epicrun.log is written; empty means the state directory
	Dir string `mapstructure:"dir"`
}

// TelemetryConfig controls tracing and metrics
type TelemetryConfig struct {
	// Enabled turns on span and metric export
	Enabled bool `mapstructure:"enabled"`
	// Stdout pretty-prints spans and metrics to stderr
	Stdout bool `mapstructure:"stdout"`
	// OTLPEndpoint is an OTLP/HTTP collector endpoint (host:port)
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	// ServiceName is the service.name resource attribute
	ServiceName string `mapstructure:"service_name"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Branch: BranchConfig{
			TicketPrefix: "ticket",
			EpicPrefix:   "epic",
		},
		Git: GitConfig{
			Remote:                 "origin",
			PushTicketBranches:     true,
			DeleteRemoteOnRollback: true,
		},
		Builder: BuilderConfig{
			Args:           []string{},
			TimeoutMinutes: 30,
			SpawnRetries:   2,
			RetryInitialMs: 500,
			RetryMaxMs:     4000,
		},
		Execution: ExecutionConfig{
			MaxInFlight: 1,
			StateDir:    ".epicrun",
		},
		Validation: ValidationConfig{
			ProtectedPaths: []string{},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "epicrun",
		},
	}
}

// Timeout returns the invocation timeout.
func (c *BuilderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// RetryInitial returns the first spawn backoff delay.
func (c *BuilderConfig) RetryInitial() time.Duration {
	return time.Duration(c.RetryInitialMs) * time.Millisecond
}

// RetryMax returns the spawn backoff cap.
func (c *BuilderConfig) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxMs) * time.Millisecond
}

// ResolveStateDir returns the state directory, resolved against repoDir when relative.
func (c *ExecutionConfig) ResolveStateDir(repoDir string) string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(repoDir, c.StateDir)
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Branch defaults
	viper.SetDefault("branch.ticket_prefix", defaults.Branch.TicketPrefix)
	viper.SetDefault("branch.epic_prefix", defaults.Branch.EpicPrefix)

	// Git defaults
	viper.SetDefault("git.remote", defaults.Git.Remote)
	viper.SetDefault("git.push_ticket_branches", defaults.Git.PushTicketBranches)
	viper.SetDefault("git.delete_remote_on_rollback", defaults.Git.DeleteRemoteOnRollback)

	// Builder defaults
	viper.SetDefault("builder.command", defaults.Builder.Command)
	viper.SetDefault("builder.args", defaults.Builder.Args)
	viper.SetDefault("builder.timeout_minutes", defaults.Builder.TimeoutMinutes)
	viper.SetDefault("builder.spawn_retries", defaults.Builder.SpawnRetries)
	viper.SetDefault("builder.retry_initial_ms", defaults.Builder.RetryInitialMs)
	viper.SetDefault("builder.retry_max_ms", defaults.Builder.RetryMaxMs)

	// Execution defaults
	viper.SetDefault("execution.max_in_flight", defaults.Execution.MaxInFlight)
	viper.SetDefault("execution.state_dir", defaults.Execution.StateDir)

	// Validation defaults
	viper.SetDefault("validation.protected_paths", defaults.Validation.ProtectedPaths)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
	viper.SetDefault("telemetry.stdout", defaults.Telemetry.Stdout)
	viper.SetDefault("telemetry.otlp_endpoint", defaults.Telemetry.OTLPEndpoint)
	viper.SetDefault("telemetry.service_name", defaults.Telemetry.ServiceName)
}

// Load reads the configuration from viper and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "epicrun")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".epicrun"
	}
	return filepath.Join(home, ".config", "epicrun")
}

// ConfigFile returns the path to the user config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "epicrun.yaml")
}
