package rlm

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kazuba/internal/breaker"
	"github.com/fyrsmithlabs/kazuba/internal/checkpoint"
	"github.com/fyrsmithlabs/kazuba/internal/config"
	"github.com/fyrsmithlabs/kazuba/internal/logging"
	"github.com/fyrsmithlabs/kazuba/internal/memory"
	"github.com/fyrsmithlabs/kazuba/internal/models"
	"github.com/fyrsmithlabs/kazuba/internal/qtable"
	"github.com/fyrsmithlabs/kazuba/internal/reward"
	"github.com/fyrsmithlabs/kazuba/internal/session"
)

const instrumentationName = "github.com/fyrsmithlabs/kazuba/internal/rlm"

// Engine is the single entry point used by hooks, the CLI and the HTTP
// surface.
type Engine struct {
	cfg config.RLMConfig

	qtable   *qtable.Table
	memory   *memory.WorkingMemory
	sessions *session.Manager
	reward   *reward.Calculator

	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	// sessMu guards sessions and episodeID.
	sessMu    sync.Mutex
	episodeID string
}

type options struct {
	logger *zap.Logger
	tracer trace.Tracer
	meter  metric.Meter
	store  session.CheckpointStore
	rng    *rand.Rand
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracer replaces the global tracer for engine spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithMeter registers subsystem instruments on m. Without it only the
// global provider is used.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithCheckpointStore replaces the breaker-guarded TOON store.
func WithCheckpointStore(s session.CheckpointStore) Option {
	return func(o *options) { o.store = s }
}

// WithRand sets the source used for epsilon-greedy exploration.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithClock replaces time.Now in the subsystems that stamp times.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New validates cfg and builds every subsystem. Reward components that
// fail validation are logged and skipped.
func New(cfg config.RLMConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	qopts := []qtable.Option{qtable.WithLogger(o.logger.Named("qtable")), qtable.WithClock(o.now)}
	mopts := []memory.Option{memory.WithLogger(o.logger.Named("memory")), memory.WithClock(o.now)}
	sopts := []session.Option{session.WithLogger(o.logger.Named("session")), session.WithClock(o.now)}
	if o.meter != nil {
		qm, err := qtable.NewMetrics(o.meter)
		if err != nil {
			return nil, err
		}
		mm, err := memory.NewMetrics(o.meter)
		if err != nil {
			return nil, err
		}
		sm, err := session.NewMetrics(o.meter)
		if err != nil {
			return nil, err
		}
		qopts = append(qopts, qtable.WithMetrics(qm))
		mopts = append(mopts, memory.WithMetrics(mm))
		sopts = append(sopts, session.WithMetrics(sm))
	}

	qt, err := qtable.New(qtable.Config{
		LearningRate:     cfg.LearningRate,
		DiscountFactor:   cfg.DiscountFactor,
		LambdaTrace:      cfg.LambdaTrace,
		MaxSize:          cfg.MaxQTableSize,
		PersistPath:      cfg.PersistPath,
		AutoSaveInterval: cfg.AutoSaveInterval,
	}, qopts...)
	if err != nil {
		return nil, err
	}

	wm, err := memory.New(cfg.MaxHistory, mopts...)
	if err != nil {
		return nil, err
	}

	store := o.store
	if store == nil {
		var copts []checkpoint.StoreOption
		if o.meter != nil {
			copts = append(copts, checkpoint.WithMeter(o.meter))
		}
		copts = append(copts, checkpoint.WithTracer(o.tracer))
		b := breaker.New("checkpoint", cfg.BreakerThreshold, cfg.BreakerResetAfter.Duration())
		store = checkpoint.Guarded(checkpoint.NewStore(o.logger.Named("checkpoint"), copts...), b)
	}
	sm, err := session.NewManager(cfg.SessionCheckpointDir, store, sopts...)
	if err != nil {
		return nil, err
	}

	components := make([]reward.Component, 0, len(cfg.RewardComponents))
	for _, rc := range cfg.RewardComponents {
		c, err := reward.NewComponent(rc.MetricKey, rc.Weight, rc.Target, rc.Scale)
		if err != nil {
			o.logger.Warn("invalid reward component, skipping",
				zap.String("metric_key", rc.MetricKey), zap.Error(err))
			continue
		}
		components = append(components, c)
	}
	calc, err := reward.New(components, cfg.RewardClipMin, cfg.RewardClipMax)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		qtable:   qt,
		memory:   wm,
		sessions: sm,
		reward:   calc,
		logger:   o.logger,
		tracer:   o.tracer,
		now:      o.now,
		rng:      o.rng,
	}, nil
}

// StartSession opens a session and its first episode. Eligibility traces
// are reset since a new trajectory begins.
func (e *Engine) StartSession(id string) (string, error) {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	sid, err := e.sessions.Start(id)
	if err != nil {
		return "", err
	}
	ep, err := e.sessions.StartEpisode("")
	if err != nil {
		return "", err
	}
	e.episodeID = ep
	e.qtable.ResetTraces()
	return sid, nil
}

// NextEpisode closes the current episode, resets the eligibility traces
// and opens a new episode in the same session.
func (e *Engine) NextEpisode(id string) (string, error) {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	if !e.sessions.IsActive() {
		return "", session.ErrNoActiveSession
	}
	e.closeEpisode()
	ep, err := e.sessions.StartEpisode(id)
	if err != nil {
		return "", err
	}
	e.episodeID = ep
	return ep, nil
}

// EndSession closes the episode, resets the traces and ends the session.
// A failed checkpoint write is logged by the session manager, not returned.
func (e *Engine) EndSession(ctx context.Context) (models.SessionMeta, error) {
	ctx, span := e.tracer.Start(ctx, "rlm.end_session")
	defer span.End()

	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	if !e.sessions.IsActive() {
		span.SetStatus(codes.Error, session.ErrNoActiveSession.Error())
		return models.SessionMeta{}, session.ErrNoActiveSession
	}
	span.SetAttributes(attribute.String("session.id", e.sessions.SessionID()))

	e.closeEpisode()
	meta, err := e.sessions.End(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.SessionMeta{}, err
	}

	span.SetAttributes(
		attribute.Int("episodes", meta.EpisodeCount),
		attribute.Int("steps", meta.TotalSteps),
		attribute.Float64("reward", meta.TotalReward),
	)
	if path := e.sessions.CheckpointPath(); path != "" {
		span.SetAttributes(attribute.String("checkpoint.path", path))
	}
	return meta, nil
}

func (e *Engine) closeEpisode() {
	if e.episodeID != "" {
		if _, err := e.sessions.EndEpisode(e.episodeID); err != nil {
			e.logger.Warn("failed to close episode cleanly",
				zap.String("episode.id", e.episodeID), zap.Error(err))
		}
		e.episodeID = ""
	}
	e.qtable.ResetTraces()
}

// IsSessionActive reports whether a session is open.
func (e *Engine) IsSessionActive() bool {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	return e.sessions.IsActive()
}

// SessionID is the current or last session id.
func (e *Engine) SessionID() string {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	return e.sessions.SessionID()
}

// EpisodeID is the open episode, empty outside a session.
func (e *Engine) EpisodeID() string {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	return e.episodeID
}

// Episode returns the open episode.
func (e *Engine) Episode() (models.Episode, bool) {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	if e.episodeID == "" {
		return models.Episode{}, false
	}
	return e.sessions.GetEpisode(e.episodeID)
}

// Fact is a working-memory entry recorded alongside a step.
type Fact struct {
	ID         string   `json:"id,omitempty"`
	Content    string   `json:"content"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags,omitempty"`
}

// Step is one observed transition. When Metrics is non-nil the reward is
// computed from it and Reward is ignored. A non-nil NextAction selects the
// SARSA bootstrap.
type Step struct {
	State      string             `json:"state"`
	Action     string             `json:"action"`
	Reward     float64            `json:"reward"`
	NextState  string             `json:"next_state"`
	NextAction *string            `json:"next_action,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
	Fact       *Fact              `json:"fact,omitempty"`
}

// StepResult reports what RecordStep did.
type StepResult struct {
	EffectiveReward float64 `json:"effective_reward"`
	TDError         float64 `json:"td_error"`
	NewQValue       float64 `json:"new_q_value"`
	StatesUpdated   int     `json:"states_updated"`
	MemoryID        string  `json:"memory_id,omitempty"`
}

// RecordStep updates the Q-table and appends the transition to the open
// episode. A failed append is logged at debug level; the Q-table update
// stands. A non-finite effective reward is rejected before anything
// changes.
func (e *Engine) RecordStep(ctx context.Context, s Step) (StepResult, error) {
	ctx, span := e.tracer.Start(ctx, "rlm.record_step", trace.WithAttributes(
		attribute.String("state", s.State),
		attribute.String("action", s.Action),
		attribute.Bool("metrics", s.Metrics != nil),
	))
	defer span.End()

	var fact models.MemoryEntry
	if s.Fact != nil {
		var err error
		fact, err = models.NewMemoryEntry(s.Fact.Content, s.Fact.Importance, s.Fact.Tags, models.WithEntryID(s.Fact.ID))
		if err != nil {
			return StepResult{}, recordSpanError(span, err)
		}
	}

	effective := s.Reward
	if s.Metrics != nil {
		effective = e.reward.Compute(s.Metrics)
	}
	if math.IsNaN(effective) || math.IsInf(effective, 0) {
		return StepResult{}, recordSpanError(span, models.ErrNonFiniteReward)
	}

	upd := e.qtable.Update(s.State, s.Action, effective, s.NextState, s.NextAction)

	e.sessMu.Lock()
	if e.episodeID != "" {
		if _, err := e.sessions.RecordStep(e.episodeID, s.State, s.Action, effective, s.NextState, s.Metadata); err != nil {
			e.logger.Debug("session step recording failed",
				append(logging.ContextFields(ctx), zap.String("episode.id", e.episodeID), zap.Error(err))...)
		}
	}
	e.sessMu.Unlock()

	res := StepResult{
		EffectiveReward: effective,
		TDError:         upd.TDError,
		NewQValue:       upd.NewQValue,
		StatesUpdated:   upd.StatesUpdated,
	}
	if s.Fact != nil {
		res.MemoryID = e.memory.Add(fact)
	}

	span.SetAttributes(
		attribute.Float64("reward", effective),
		attribute.Float64("td_error", upd.TDError),
		attribute.Int("states_updated", upd.StatesUpdated),
	)
	return res, nil
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// SelectAction picks an action epsilon-greedily. With probability epsilon
// (when enabled) it explores: a uniformly random candidate, or nothing
// when candidates is empty. Otherwise it returns BestAction.
func (e *Engine) SelectAction(state string, candidates []string) (string, bool) {
	if e.cfg.EnableEpsilonGreedy && e.randFloat() < e.cfg.Epsilon {
		if len(candidates) == 0 {
			return "", false
		}
		return candidates[e.randIntN(len(candidates))], true
	}
	return e.qtable.BestAction(state)
}

func (e *Engine) randFloat() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

func (e *Engine) randIntN(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.IntN(n)
}

// BestAction is the greedy choice for state.
func (e *Engine) BestAction(state string) (string, bool) {
	return e.qtable.BestAction(state)
}

// QValue returns Q(state, action).
func (e *Engine) QValue(state, action string) float64 {
	return e.qtable.Get(state, action)
}

// ActionsForState lists the known actions for state, sorted.
func (e *Engine) ActionsForState(state string) []string {
	return e.qtable.ActionsForState(state)
}

// Remember stores a fact and returns its id. An empty id is generated.
func (e *Engine) Remember(content string, importance float64, tags []string, id string) (string, error) {
	entry, err := models.NewMemoryEntry(content, importance, tags, models.WithEntryID(id))
	if err != nil {
		return "", err
	}
	return e.memory.Add(entry), nil
}

// Recall returns the touched entry.
func (e *Engine) Recall(id string) (models.MemoryEntry, bool) {
	return e.memory.Get(id)
}

// RecallByTag returns every entry with tag, most valuable first.
func (e *Engine) RecallByTag(tag string) []models.MemoryEntry {
	return e.memory.SearchByTag(tag)
}

// TopMemories returns the k most valuable entries without touching them.
func (e *Engine) TopMemories(k int) []models.MemoryEntry {
	return e.memory.TopK(k)
}

// Forget removes an entry.
func (e *Engine) Forget(id string) bool {
	return e.memory.Remove(id)
}

// ComputeReward reduces metrics to a reward.
func (e *Engine) ComputeReward(metrics map[string]float64) float64 {
	return e.reward.Compute(metrics)
}

// RewardBreakdown explains ComputeReward.
func (e *Engine) RewardBreakdown(metrics map[string]float64) reward.Breakdown {
	return e.reward.Breakdown(metrics)
}

// AddRewardComponent registers a component at runtime.
func (e *Engine) AddRewardComponent(metricKey string, weight, target, scale float64) error {
	c, err := reward.NewComponent(metricKey, weight, target, scale)
	if err != nil {
		return err
	}
	return e.reward.AddComponent(c)
}

// SaveQTable writes the Q-table to path, or to the configured persist path
// when path is empty.
func (e *Engine) SaveQTable(path string) (string, error) {
	return e.qtable.Save(path)
}

// LoadQTable replaces the Q-table with the file at path.
func (e *Engine) LoadQTable(path string) error {
	return e.qtable.Load(path)
}

// ExportQTable returns the "state|action" interchange form.
func (e *Engine) ExportQTable() map[string]float64 {
	return e.qtable.Export()
}

// ImportQTable merges the interchange form and returns the number applied.
func (e *Engine) ImportQTable(data map[string]float64) int {
	return e.qtable.Import(data)
}

// SaveMemory writes working memory as JSON.
func (e *Engine) SaveMemory(path string) error {
	return e.memory.SaveFile(path)
}

// LoadMemory replaces working memory with the file at path.
func (e *Engine) LoadMemory(path string) error {
	return e.memory.LoadFile(path)
}

// LoadCheckpoint reads a raw session checkpoint.
func (e *Engine) LoadCheckpoint(ctx context.Context, path string) (map[string]any, error) {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	return e.sessions.LoadCheckpoint(ctx, path)
}

// Stats is a snapshot across every subsystem.
type Stats struct {
	QTableSize       int           `json:"q_table_size"`
	QTableUpdates    int           `json:"q_table_updates"`
	QTable           qtable.Stats  `json:"q_table"`
	MemorySize       int           `json:"memory_size"`
	MemoryCapacity   int           `json:"memory_capacity"`
	Memory           memory.Stats  `json:"memory_stats"`
	Session          session.Stats `json:"session_stats"`
	RewardComponents int           `json:"reward_components"`
	Epsilon          float64       `json:"epsilon"`
	LearningRate     float64       `json:"learning_rate"`
	DiscountFactor   float64       `json:"discount_factor"`
	Timestamp        float64       `json:"timestamp"`
}

// Stats collects subsystem statistics.
func (e *Engine) Stats() Stats {
	qs := e.qtable.Stats()
	ms := e.memory.Stats()
	e.sessMu.Lock()
	ss := e.sessions.Stats()
	e.sessMu.Unlock()
	return Stats{
		QTableSize:       qs.Size,
		QTableUpdates:    qs.UpdateCount,
		QTable:           qs,
		MemorySize:       ms.Size,
		MemoryCapacity:   ms.Capacity,
		Memory:           ms,
		Session:          ss,
		RewardComponents: len(e.reward.Components()),
		Epsilon:          e.cfg.Epsilon,
		LearningRate:     e.cfg.LearningRate,
		DiscountFactor:   e.cfg.DiscountFactor,
		Timestamp:        models.UnixSeconds(e.now()),
	}
}
