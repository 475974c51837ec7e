// Command kazuba-rlm runs the reinforcement-learning memory engine for
// agent hooks.
//
// Usage:
//
//	# Stream hook events (one JSON object per line) through the engine
//	kazuba-rlm hook < events.ndjson
//
//	# Serve stats, reward scoring and prometheus metrics over HTTP
//	kazuba-rlm serve --config ~/.config/kazuba/rlm.yaml
//
//	# Inspect persisted state
//	kazuba-rlm qtable stats --path q_table.json
//	kazuba-rlm checkpoint inspect rlm_session_abc.toon
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/kazuba/internal/config"
	"github.com/fyrsmithlabs/kazuba/internal/logging"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kazuba-rlm",
		Short: "Reinforcement-learning memory engine for agent hooks",
		Long: `kazuba-rlm learns which actions pay off in which states from hook events.

It keeps a TD(lambda) Q-table, a bounded working memory of facts, and
session checkpoints in the TOON format.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default ~/.config/kazuba/rlm.yaml when present)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newHookCmd())
	root.AddCommand(newQTableCmd())
	root.AddCommand(newCheckpointCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig reads --config, or the default path when the flag is empty.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadDefault()
}

// newLogger builds the CLI logger. Logs always go to stderr or OTEL so
// stdout stays machine-readable.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lcfg, err := logging.ConfigFrom(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if lcfg.Output.Stream == logging.StreamStdout {
		lcfg.Output.Stream = logging.StreamStderr
	}
	return logging.NewLogger(lcfg, nil)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kazuba-rlm by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
