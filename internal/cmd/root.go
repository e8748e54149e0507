// Package cmd implements the epicrun command line.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/epicrun/internal/config"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "epicrun",
	Short: "Drive an epic of dependent tickets to a merged branch",
	Long: `Epicrun executes an epic: a set of tickets with dependencies between them.
Each ticket gets its own branch stacked on the work it depends on, is handed to
a builder agent, and is validated before the next ticket starts. Completed
tickets are squash-merged into the epic branch in dependency order and pushed.

A run that is interrupted resumes from its state document on the next run.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./epicrun.yaml or $HOME/.config/epicrun/epicrun.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("epicrun")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("EPICRUN")
	// EPICRUN_GIT_REMOTE for git.remote
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
