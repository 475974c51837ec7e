package qtable

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TraceThreshold is the smallest eligibility trace kept after decay.
const TraceThreshold = 1e-4

// Config holds the learning hyperparameters and persistence policy.
// Hyperparameters are expected in [0, 1] but are not clamped here.
type Config struct {
	LearningRate     float64
	DiscountFactor   float64
	LambdaTrace      float64
	MaxSize          int
	PersistPath      string
	AutoSaveInterval int
}

// DefaultConfig returns α=0.1, γ=0.95, λ=0.8, 10k entries, and an
// auto-save every 100 updates once a path is set.
func DefaultConfig() Config {
	return Config{
		LearningRate:     0.1,
		DiscountFactor:   0.95,
		LambdaTrace:      0.8,
		MaxSize:          10_000,
		AutoSaveInterval: 100,
	}
}

// UpdateResult reports one TD(λ) step.
type UpdateResult struct {
	NewQValue     float64 `json:"new_q_value"`
	TDError       float64 `json:"td_error"`
	StatesUpdated int     `json:"states_updated"`
}

// Stats is a point-in-time summary.
type Stats struct {
	Size         int `json:"size"`
	MaxSize      int `json:"max_size"`
	States       int `json:"states"`
	ActiveTraces int `json:"active_traces"`
	UpdateCount  int `json:"update_count"`
}

// Table is a bounded Q-table. Values live in a two-level map keyed by
// state then action; traces are keyed by the pair.
type Table struct {
	mu sync.Mutex

	alpha, gamma, lambda float64
	maxSize              int
	persistPath          string
	autoSaveInterval     int

	values      map[string]map[string]float64
	size        int
	traces      map[Key]float64
	updateCount int

	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics attaches OTel instruments.
func WithMetrics(m *Metrics) Option {
	return func(t *Table) { t.metrics = m }
}

// WithClock replaces time.Now for saved_at stamps.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// New builds a table. When cfg.PersistPath names an existing file it is
// loaded; a missing file is skipped and any other failure is returned.
func New(cfg Config, opts ...Option) (*Table, error) {
	if cfg.MaxSize < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidMaxSize, cfg.MaxSize)
	}
	if cfg.AutoSaveInterval < 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidAutoSave, cfg.AutoSaveInterval)
	}

	t := &Table{
		alpha:            cfg.LearningRate,
		gamma:            cfg.DiscountFactor,
		lambda:           cfg.LambdaTrace,
		maxSize:          cfg.MaxSize,
		persistPath:      cfg.PersistPath,
		autoSaveInterval: cfg.AutoSaveInterval,
		values:           make(map[string]map[string]float64),
		traces:           make(map[Key]float64),
		logger:           zap.NewNop(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	if cfg.PersistPath != "" {
		err := t.Load(cfg.PersistPath)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist):
			t.logger.Debug("no persisted q-table, starting empty", zap.String("path", cfg.PersistPath))
		default:
			return nil, fmt.Errorf("loading %s: %w", cfg.PersistPath, err)
		}
	}
	return t, nil
}

// Get returns Q(state, action), 0 when unseen.
func (t *Table) Get(state, action string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(state, action)
}

// Set overwrites Q(state, action) and enforces the size bound.
func (t *Table) Set(state, action string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(state, action, value)
	t.enforceBoundLocked()
}

// Update applies one TD(λ) step for the transition
// (state, action, reward, nextState). With nextAction the bootstrap is
// Q(nextState, nextAction) (SARSA); without it, max over nextState's
// actions (Q-learning).
func (t *Table) Update(state, action string, reward float64, nextState string, nextAction *string) UpdateResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := Key{State: state, Action: action}
	currentQ := t.getLocked(state, action)

	var nextQ float64
	if nextAction != nil {
		nextQ = t.getLocked(nextState, *nextAction)
	} else {
		nextQ = t.maxQLocked(nextState)
	}

	td := reward + t.gamma*nextQ - currentQ

	// Replacing trace.
	t.traces[current] = 1.0

	updated := 0
	for k, e := range t.traces {
		if e <= TraceThreshold {
			continue
		}
		t.setLocked(k.State, k.Action, t.getLocked(k.State, k.Action)+t.alpha*td*e)
		updated++
	}

	decay := t.gamma * t.lambda
	for k, e := range t.traces {
		if e *= decay; e > TraceThreshold {
			t.traces[k] = e
		} else {
			delete(t.traces, k)
		}
	}

	t.enforceBoundLocked()
	t.updateCount++
	result := UpdateResult{
		NewQValue:     t.getLocked(state, action),
		TDError:       td,
		StatesUpdated: updated,
	}

	t.metrics.recordUpdate(context.Background(), nextAction != nil, td)
	t.maybeAutoSaveLocked()
	return result
}

// ResetTraces clears every eligibility trace.
func (t *Table) ResetTraces() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.traces)
}

// BestAction returns the action with the highest value for state. Equal
// maxima resolve to the lexicographically smallest action, so the answer
// is stable within and across runs. ok is false for an unknown state.
func (t *Table) BestAction(state string) (action string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	best := math.Inf(-1)
	for a, v := range t.values[state] {
		if !ok || v > best || (v == best && a < action) {
			action, best, ok = a, v, true
		}
	}
	return action, ok
}

// MaxQ returns max over Q(state, ·), 0 for an unknown state.
func (t *Table) MaxQ(state string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxQLocked(state)
}

// ActionsForState lists the actions with a value for state, sorted.
func (t *Table) ActionsForState(state string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	actions := make([]string, 0, len(t.values[state]))
	for a := range t.values[state] {
		actions = append(actions, a)
	}
	slices.Sort(actions)
	return actions
}

// Size is the number of stored pairs.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// UpdateCount is the number of Update calls since creation or last Load.
func (t *Table) UpdateCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateCount
}

// TraceCount is the number of live eligibility traces.
func (t *Table) TraceCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.traces)
}

// Trace returns the eligibility trace for a pair, 0 when absent.
func (t *Table) Trace(state, action string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.traces[Key{State: state, Action: action}]
}

// Stats summarises the table.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Size:         t.size,
		MaxSize:      t.maxSize,
		States:       len(t.values),
		ActiveTraces: len(t.traces),
		UpdateCount:  t.updateCount,
	}
}

func (t *Table) getLocked(state, action string) float64 {
	return t.values[state][action]
}

func (t *Table) setLocked(state, action string, v float64) {
	actions, ok := t.values[state]
	if !ok {
		actions = make(map[string]float64)
		t.values[state] = actions
	}
	if _, exists := actions[action]; !exists {
		t.size++
	}
	actions[action] = v
}

func (t *Table) deleteLocked(k Key) {
	actions, ok := t.values[k.State]
	if !ok {
		return
	}
	if _, exists := actions[k.Action]; !exists {
		return
	}
	delete(actions, k.Action)
	if len(actions) == 0 {
		delete(t.values, k.State)
	}
	delete(t.traces, k)
	t.size--
}

func (t *Table) maxQLocked(state string) float64 {
	actions := t.values[state]
	if len(actions) == 0 {
		return 0
	}
	best := math.Inf(-1)
	for _, v := range actions {
		best = max(best, v)
	}
	return best
}

type entry struct {
	key Key
	abs float64
}

func lessEntry(a, b entry) int {
	if a.abs != b.abs {
		if a.abs < b.abs {
			return -1
		}
		return 1
	}
	return a.key.compare(b.key)
}

// enforceBoundLocked evicts the smallest |value| entries until the table
// fits, ties broken by (state, action). Evicted pairs lose their trace.
func (t *Table) enforceBoundLocked() {
	excess := t.size - t.maxSize
	if excess <= 0 {
		return
	}

	if excess == 1 {
		var victim entry
		first := true
		for s, actions := range t.values {
			for a, v := range actions {
				e := entry{key: Key{State: s, Action: a}, abs: math.Abs(v)}
				if first || lessEntry(e, victim) < 0 {
					victim, first = e, false
				}
			}
		}
		t.deleteLocked(victim.key)
	} else {
		all := make([]entry, 0, t.size)
		for s, actions := range t.values {
			for a, v := range actions {
				all = append(all, entry{key: Key{State: s, Action: a}, abs: math.Abs(v)})
			}
		}
		slices.SortFunc(all, lessEntry)
		for _, e := range all[:excess] {
			t.deleteLocked(e.key)
		}
	}

	t.metrics.recordEvictions(context.Background(), excess)
	t.logger.Debug("q-table bound enforced", zap.Int("evicted", excess), zap.Int("size", t.size))
}

func (t *Table) maybeAutoSaveLocked() {
	if t.autoSaveInterval <= 0 || t.persistPath == "" || t.updateCount%t.autoSaveInterval != 0 {
		return
	}
	err := t.saveLocked(t.persistPath)
	t.metrics.recordSave(context.Background(), true, err)
	if err != nil {
		t.logger.Warn("q-table auto-save failed",
			zap.String("path", t.persistPath),
			zap.Int("update_count", t.updateCount),
			zap.Error(err))
	}
}
