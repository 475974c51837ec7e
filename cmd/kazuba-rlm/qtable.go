package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/kazuba/internal/config"
	"github.com/fyrsmithlabs/kazuba/internal/rlm"
)

func newQTableCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "qtable",
		Short: "Inspect and move Q-table files",
		Long: `Work with persisted Q-tables. --path defaults to rlm.persist_path.

Examples:
  # Summary of the configured table
  kazuba-rlm qtable stats

  # Export to the "state|action" interchange format
  kazuba-rlm qtable export --path q_table.json > exported.json

  # Merge an export into another table
  kazuba-rlm qtable import exported.json --path other.json

  # Greedy action for a state
  kazuba-rlm qtable best edit`,
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "Q-table file (defaults to rlm.persist_path)")

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print Q-table statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := openQTable(path)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), engine.Stats().QTable)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: `Write the table as {"state|action": value} JSON`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := openQTable(path)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), engine.ExportQTable())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file|->",
		Short: "Merge an exported table into --path and save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openQTable(path)
			if err != nil {
				return err
			}
			n, written, err := importQTable(engine, cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries into %s\n", n, written)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "best <state>",
		Short: "Print the greedy action and the values of every known action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openQTable(path)
			if err != nil {
				return err
			}
			state := args[0]
			action, ok := engine.BestAction(state)
			if !ok {
				return fmt.Errorf("unknown state %q", state)
			}
			values := make(map[string]float64)
			for _, a := range engine.ActionsForState(state) {
				values[a] = engine.QValue(state, a)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"state":   state,
				"action":  action,
				"actions": values,
			})
		},
	})
	return cmd
}

// openQTable builds an engine whose Q-table is loaded from path, or from
// the configured persist path. Session checkpoints are disabled.
func openQTable(path string) (*rlm.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openQTableWith(cfg.RLM, path)
}

func openQTableWith(rc config.RLMConfig, path string) (*rlm.Engine, error) {
	if path != "" {
		rc.PersistPath = path
	}
	if rc.PersistPath == "" {
		return nil, fmt.Errorf("no q-table path: pass --path or set rlm.persist_path")
	}
	rc.SessionCheckpointDir = ""
	rc.AutoSaveInterval = 0
	return rlm.New(rc)
}

// importQTable reads an export from name ("-" is stdin), merges it and
// saves to the engine's persist path.
func importQTable(engine *rlm.Engine, stdin io.Reader, name string) (int, string, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to read %s: %w", name, err)
	}

	var exported map[string]float64
	if err := json.Unmarshal(data, &exported); err != nil {
		return 0, "", fmt.Errorf("failed to parse export: %w", err)
	}
	n := engine.ImportQTable(exported)
	written, err := engine.SaveQTable("")
	if err != nil {
		return 0, "", err
	}
	return n, written, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
