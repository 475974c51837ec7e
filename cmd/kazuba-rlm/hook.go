package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kazuba/internal/hooks"
	"github.com/fyrsmithlabs/kazuba/internal/logging"
	"github.com/fyrsmithlabs/kazuba/internal/rlm"
)

// maxEventSize bounds one hook event line.
const maxEventSize = 1024 * 1024

func newHookCmd() *cobra.Command {
	var hooksConfig string
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Run hook events from stdin through the engine",
		Long: `Read hook events from stdin, one JSON object per line, and write one JSON
response per line to stdout. The "hook" key selects the event type:
session_start, step, remember or session_end.

An open session is ended when stdin closes.

Examples:
  echo '{"hook":"step","state":"edit","action":"run_tests","reward":1}' | kazuba-rlm hook`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			hcfg, err := hooks.LoadConfigWithEnvOverride(hooksConfig)
			if err != nil {
				return err
			}
			engine, err := rlm.New(cfg.RLM, rlm.WithLogger(logger.Component("rlm")))
			if err != nil {
				return err
			}
			hm := hooks.NewHookManager(hcfg, hooks.WithLogger(logger.Component("hooks")))
			hooks.BindEngine(hm, engine)

			ctx := logging.WithLogger(cmd.Context(), logger)
			return runHookStream(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), hm, engine)
		},
	}
	cmd.Flags().StringVar(&hooksConfig, "hooks-config", "", "JSON file with a \"hooks\" section")
	return cmd
}

// hookFinisher is the engine state runHookStream settles after the last event.
type hookFinisher interface {
	IsSessionActive() bool
}

// runHookStream executes each event line and writes the response. A failing
// event produces {"hook":..., "error":...} and does not stop the stream; a
// malformed line does.
func runHookStream(ctx context.Context, in io.Reader, out io.Writer, hm *hooks.HookManager, engine hookFinisher) error {
	logger := logging.FromContext(ctx)
	enc := json.NewEncoder(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		hookType, data, err := hooks.ParseEvent(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("event on line %d: %w", line, err)
		}
		resp, err := hm.Execute(ctx, hookType, data)
		if err != nil {
			resp = map[string]any{"hook": string(hookType), "error": err.Error()}
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}

	if engine.IsSessionActive() {
		resp, err := hm.Execute(ctx, hooks.HookSessionEnd, nil)
		if err != nil {
			return err
		}
		logger.Debug(ctx, "session ended at end of input", zap.Any("session", resp["id"]))
		return enc.Encode(resp)
	}
	return nil
}
