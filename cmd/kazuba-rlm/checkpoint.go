package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kazuba/internal/checkpoint"
)

func newCheckpointCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Read TOON session checkpoints",
		Long: `Read session checkpoints written when a session ends.

Examples:
  # Header, size and top-level keys
  kazuba-rlm checkpoint inspect ~/.kazuba/sessions/rlm_session_abc.toon

  # Full payload as JSON
  kazuba-rlm checkpoint show ~/.kazuba/sessions/rlm_session_abc.toon`,
	}

	inspect := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Show the checkpoint header and top-level keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := checkpoint.NewStore(zap.NewNop())
			defer store.Close()

			info, err := store.Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Path:\t%s\n", info.Path)
			fmt.Fprintf(w, "Version:\t%d\n", info.Version)
			fmt.Fprintf(w, "Bytes:\t%d\n", info.Bytes)
			fmt.Fprintf(w, "Keys:\t%v\n", info.Keys)
			return w.Flush()
		},
	}
	inspect.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")

	show := &cobra.Command{
		Use:   "show <path>",
		Short: "Print the decoded checkpoint payload as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := checkpoint.NewStore(zap.NewNop())
			defer store.Close()

			payload, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), payload)
		},
	}

	cmd.AddCommand(inspect, show)
	return cmd
}
