package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Branch.TicketPrefix != "ticket" {
		t.Errorf("Branch.TicketPrefix = %q, want %q", cfg.Branch.TicketPrefix, "ticket")
	}
	if cfg.Branch.EpicPrefix != "epic" {
		t.Errorf("Branch.EpicPrefix = %q, want %q", cfg.Branch.EpicPrefix, "epic")
	}
	if cfg.Git.Remote != "origin" {
		t.Errorf("Git.Remote = %q, want origin", cfg.Git.Remote)
	}
	if !cfg.Git.PushTicketBranches {
		t.Error("Git.PushTicketBranches should be true by default")
	}
	if cfg.Builder.SpawnRetries != 2 {
		t.Errorf("Builder.SpawnRetries = %d, want 2", cfg.Builder.SpawnRetries)
	}
	if cfg.Execution.MaxInFlight != 1 {
		t.Errorf("Execution.MaxInFlight = %d, want 1", cfg.Execution.MaxInFlight)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled should be false by default")
	}
}

func TestBuilderConfig_Durations(t *testing.T) {
	cfg := BuilderConfig{TimeoutMinutes: 5, RetryInitialMs: 250, RetryMaxMs: 1000}

	if got := cfg.Timeout(); got != 5*time.Minute {
		t.Errorf("Timeout() = %v, want 5m", got)
	}
	if got := cfg.RetryInitial(); got != 250*time.Millisecond {
		t.Errorf("RetryInitial() = %v, want 250ms", got)
	}
	if got := cfg.RetryMax(); got != time.Second {
		t.Errorf("RetryMax() = %v, want 1s", got)
	}
}

func TestExecutionConfig_ResolveStateDir(t *testing.T) {
	tests := []struct {
		name     string
		stateDir string
		want     string
	}{
		{"relative", ".epicrun", filepath.Join("/repo", ".epicrun")},
		{"absolute", "/var/lib/epicrun", "/var/lib/epicrun"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ExecutionConfig{StateDir: tt.stateDir}
			if got := cfg.ResolveStateDir("/repo"); got != tt.want {
				t.Errorf("ResolveStateDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := ConfigDir(); got != filepath.Join("/tmp/xdg", "epicrun") {
		t.Errorf("ConfigDir() = %q", got)
	}
	if got := ConfigFile(); got != filepath.Join("/tmp/xdg", "epicrun", "epicrun.yaml") {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestLoad_FromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	path := filepath.Join(t.TempDir(), "epicrun.yaml")
	content := `
builder:
  command: ./build-agent
  args: ["--json"]
  timeout_minutes: 10
validation:
  protected_paths: [".github/**"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Builder.Command != "./build-agent" || cfg.Builder.TimeoutMinutes != 10 {
		t.Errorf("builder = %+v", cfg.Builder)
	}
	if len(cfg.Builder.Args) != 1 || cfg.Builder.Args[0] != "--json" {
		t.Errorf("Builder.Args = %v", cfg.Builder.Args)
	}
	if cfg.Builder.SpawnRetries != 2 {
		t.Errorf("Builder.SpawnRetries = %d, want default 2", cfg.Builder.SpawnRetries)
	}
	if len(cfg.Validation.ProtectedPaths) != 1 {
		t.Errorf("ProtectedPaths = %v", cfg.Validation.ProtectedPaths)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("execution.max_in_flight", 3)

	_, err := Load()
	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Load() error = %v, want ValidationErrors", err)
	}
	if len(errs) != 1 || errs[0].Field != "execution.max_in_flight" {
		t.Errorf("errors = %v", errs)
	}
}
