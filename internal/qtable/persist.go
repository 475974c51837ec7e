package qtable

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kazuba/internal/fsutil"
	"github.com/fyrsmithlabs/kazuba/internal/models"
)

// Snapshot is the full persisted form of a table. QTable keys use the
// escaped NUL-joined encoding.
type Snapshot struct {
	QTable      map[string]float64 `json:"q_table"`
	Alpha       float64            `json:"alpha"`
	Gamma       float64            `json:"gamma"`
	Lambda      float64            `json:"lambda"`
	MaxSize     int                `json:"max_size"`
	UpdateCount int                `json:"update_count"`
	SavedAt     float64            `json:"saved_at"`
}

// fileSnapshot tolerates missing keys on load.
type fileSnapshot struct {
	QTable      map[string]float64 `json:"q_table"`
	Alpha       *float64           `json:"alpha"`
	Gamma       *float64           `json:"gamma"`
	Lambda      *float64           `json:"lambda"`
	UpdateCount *int               `json:"update_count"`
}

// Snapshot copies the table state.
func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Table) snapshotLocked() Snapshot {
	q := make(map[string]float64, t.size)
	for s, actions := range t.values {
		for a, v := range actions {
			q[encodeKey(Key{State: s, Action: a})] = v
		}
	}
	return Snapshot{
		QTable:      q,
		Alpha:       t.alpha,
		Gamma:       t.gamma,
		Lambda:      t.lambda,
		MaxSize:     t.maxSize,
		UpdateCount: t.updateCount,
		SavedAt:     models.UnixSeconds(t.now()),
	}
}

// FromSnapshot rebuilds a table without a persist path. A zero MaxSize in
// the snapshot falls back to the default bound.
func FromSnapshot(s Snapshot, opts ...Option) (*Table, error) {
	cfg := DefaultConfig()
	cfg.LearningRate, cfg.DiscountFactor, cfg.LambdaTrace = s.Alpha, s.Gamma, s.Lambda
	if s.MaxSize > 0 {
		cfg.MaxSize = s.MaxSize
	}
	t, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replaceLocked(s.QTable)
	t.updateCount = s.UpdateCount
	t.enforceBoundLocked()
	return t, nil
}

// Save writes the table as JSON to path, or to the persist path when path
// is empty, and returns the path written. The write goes through a temp
// file and rename.
func (t *Table) Save(path string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if path == "" {
		path = t.persistPath
	}
	if path == "" {
		return "", ErrNoPath
	}
	err := t.saveLocked(path)
	t.metrics.recordSave(context.Background(), false, err)
	return path, err
}

func (t *Table) saveLocked(path string) error {
	data, err := json.MarshalIndent(t.snapshotLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding q-table: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return err
	}
	t.logger.Debug("q-table saved", zap.String("path", path), zap.Int("entries", t.size))
	return nil
}

// Load replaces the table contents with the file at path. Hyperparameters
// present in the file override the configured ones; MaxSize stays as
// configured and is enforced. Traces are cleared. A malformed file wraps
// ErrCorrupt; a missing one wraps fs.ErrNotExist.
func (t *Table) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var raw fileSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.replaceLocked(raw.QTable)
	if raw.Alpha != nil {
		t.alpha = *raw.Alpha
	}
	if raw.Gamma != nil {
		t.gamma = *raw.Gamma
	}
	if raw.Lambda != nil {
		t.lambda = *raw.Lambda
	}
	t.updateCount = 0
	if raw.UpdateCount != nil {
		t.updateCount = *raw.UpdateCount
	}
	t.enforceBoundLocked()

	t.logger.Debug("q-table loaded", zap.String("path", path), zap.Int("entries", t.size))
	return nil
}

func (t *Table) replaceLocked(encoded map[string]float64) {
	clear(t.values)
	clear(t.traces)
	t.size = 0
	for raw, v := range encoded {
		k := decodeKey(raw)
		t.setLocked(k.State, k.Action, v)
	}
}

// Export returns the table keyed by "state|action".
func (t *Table) Export() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]float64, t.size)
	for s, actions := range t.values {
		for a, v := range actions {
			out[exportKey(Key{State: s, Action: a})] = v
		}
	}
	return out
}

// Import merges "state|action" keyed values, overwriting duplicates, then
// enforces the bound. Keys are split on the first '|'; keys without one
// are skipped. It returns the number of values applied.
func (t *Table) Import(data map[string]float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for raw, v := range data {
		k, ok := importKey(raw)
		if !ok {
			continue
		}
		t.setLocked(k.State, k.Action, v)
		n++
	}
	t.enforceBoundLocked()
	return n
}

// Hyperparameters returns α, γ and λ currently in effect.
func (t *Table) Hyperparameters() (alpha, gamma, lambda float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alpha, t.gamma, t.lambda
}
