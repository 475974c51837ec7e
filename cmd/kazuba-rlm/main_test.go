package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kazuba/internal/checkpoint"
	"github.com/fyrsmithlabs/kazuba/internal/config"
	"github.com/fyrsmithlabs/kazuba/internal/hooks"
	"github.com/fyrsmithlabs/kazuba/internal/rlm"
)

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var resps []map[string]any
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		resps = append(resps, m)
	}
	return resps
}

func TestRunHookStream(t *testing.T) {
	cfg := config.DefaultRLMConfig()
	cfg.SessionCheckpointDir = filepath.Join(t.TempDir(), "sessions")
	cfg.PersistPath = filepath.Join(t.TempDir(), "q.json")
	engine, err := rlm.New(cfg)
	require.NoError(t, err)
	hm := hooks.NewHookManager(hooks.DefaultConfig())
	hooks.BindEngine(hm, engine)

	in := strings.Join([]string{
		`{"hook":"session_start","session_id":"cli"}`,
		``,
		`{"hook":"step","state":"s","action":"a","reward":1}`,
		`{"hook":"remember","content":"x","importance":5}`,
		`{"hook":"step","state":"s","action":"b","reward":0.5}`,
	}, "\n")
	var out bytes.Buffer
	require.NoError(t, runHookStream(context.Background(), strings.NewReader(in), &out, hm, engine))

	resps := decodeLines(t, out.String())
	require.Len(t, resps, 5, "four events plus the implicit session_end")
	assert.Equal(t, "cli", resps[0]["session_id"])
	assert.Equal(t, 1.0, resps[1]["effective_reward"])
	assert.Equal(t, "remember", resps[2]["hook"])
	assert.Contains(t, resps[2]["error"], "importance")
	assert.Equal(t, "session_end", resps[4]["hook"])
	assert.Equal(t, 2.0, resps[4]["total_steps"])

	assert.False(t, engine.IsSessionActive())
	assert.FileExists(t, filepath.Join(cfg.SessionCheckpointDir, "rlm_session_cli.toon"))
	assert.FileExists(t, cfg.PersistPath)
}

func TestRunHookStream_MalformedLine(t *testing.T) {
	cfg := config.DefaultRLMConfig()
	engine, err := rlm.New(cfg)
	require.NoError(t, err)
	hm := hooks.NewHookManager(nil)
	hooks.BindEngine(hm, engine)

	var out bytes.Buffer
	err = runHookStream(context.Background(), strings.NewReader("{\"hook\":\"step\",\n"), &out, hm, engine)
	require.ErrorContains(t, err, "line 1")

	err = runHookStream(context.Background(), strings.NewReader(`{"hook":"before_clear"}`), &out, hm, engine)
	require.ErrorIs(t, err, hooks.ErrUnknownHook)
}

func TestQTableExportImport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.json")
	dst := filepath.Join(dir, "dst.json")

	rc := config.DefaultRLMConfig()
	_, err := openQTableWith(rc, "")
	require.ErrorContains(t, err, "no q-table path")

	engine, err := openQTableWith(rc, src)
	require.NoError(t, err)
	_, err = engine.RecordStep(context.Background(), rlm.Step{State: "s|x", Action: "a", Reward: 1})
	require.NoError(t, err)
	_, err = engine.SaveQTable("")
	require.NoError(t, err)

	reopened, err := openQTableWith(rc, src)
	require.NoError(t, err)
	var exported bytes.Buffer
	require.NoError(t, writeJSON(&exported, reopened.ExportQTable()))
	assert.Contains(t, exported.String(), `"s|x|a"`)

	target, err := openQTableWith(rc, dst)
	require.NoError(t, err)
	n, written, err := importQTable(target, &exported, "-")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, dst, written)

	// The export key splits on the first separator.
	final, err := openQTableWith(rc, dst)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, final.QValue("s", "x|a"), 1e-12)
	assert.Zero(t, final.QValue("s|x", "a"))

	_, _, err = importQTable(target, nil, filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("[]"), 0o600))
	_, _, err = importQTable(target, nil, filepath.Join(dir, "bad.json"))
	require.ErrorContains(t, err, "failed to parse export")
}

func TestCheckpointCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rlm_session_x.toon")
	store := checkpoint.NewStore(zap.NewNop())
	require.NoError(t, store.Save(context.Background(), path, map[string]any{
		"schema_version": "1.0",
		"session":        map[string]any{"id": "x"},
	}))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"checkpoint", "inspect", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version:  1")
	assert.Contains(t, out.String(), "[schema_version session]")

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"checkpoint", "show", path})
	require.NoError(t, root.Execute())
	var payload map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &payload))
	assert.Equal(t, "1.0", payload["schema_version"])
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
}
