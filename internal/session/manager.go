package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kazuba/internal/models"
)

// SchemaVersion is stamped on every checkpoint payload.
const SchemaVersion = "1.0"

// CheckpointStore persists arbitrary JSON-compatible payloads.
type CheckpointStore interface {
	Save(ctx context.Context, path string, payload map[string]any) error
	Load(ctx context.Context, path string) (map[string]any, error)
}

// Manager owns one session and its episodes.
type Manager struct {
	dir   string
	store CheckpointStore

	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
	newID   func() string

	session        *models.SessionMeta
	episodes       map[string]models.Episode
	order          []string
	active         string
	lastCheckpoint string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics attaches OTel instruments.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator replaces the UUID generator used for omitted ids.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// NewManager returns a manager writing checkpoints to dir through store.
// Persistence is disabled when dir is empty or store is nil. A non-empty
// dir is created when missing.
func NewManager(dir string, store CheckpointStore, opts ...Option) (*Manager, error) {
	m := &Manager{
		dir:      dir,
		store:    store,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
		episodes: make(map[string]models.Episode),
	}
	for _, opt := range opts {
		opt(m)
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating checkpoint dir: %w", err)
		}
	}
	return m, nil
}

// Start opens a session. An empty id is generated. Starting again after
// End is allowed and discards the previous session's episodes.
func (m *Manager) Start(id string) (string, error) {
	if m.IsActive() {
		return "", fmt.Errorf("%w: %s; end it first", ErrSessionActive, m.session.ID)
	}
	if id == "" {
		id = m.newID()
	}
	meta := models.NewSessionMeta(id, m.now())
	m.session = &meta
	clear(m.episodes)
	m.order = m.order[:0]
	m.active = ""
	m.lastCheckpoint = ""

	m.logger.Info("rlm session started", zap.String("session.id", id))
	return id, nil
}

// End closes the active episode, closes the session and writes a checkpoint.
// Only the episode in the active slot is closed; an earlier episode left
// open stays open and is not folded into the session totals. Neither a failed auto-close nor a failed checkpoint fails End; both are
// logged.
func (m *Manager) End(ctx context.Context) (models.SessionMeta, error) {
	if !m.IsActive() {
		return models.SessionMeta{}, ErrNoActiveSession
	}

	if m.active != "" {
		if _, err := m.EndEpisode(m.active); err != nil {
			m.logger.Warn("failed to auto-close active episode",
				zap.String("episode.id", m.active), zap.Error(err))
			m.active = ""
		}
	}

	closed, err := m.session.Close(m.now())
	if err != nil {
		return models.SessionMeta{}, err
	}
	m.session = &closed

	if m.dir != "" && m.store != nil {
		m.saveCheckpoint(ctx)
	}

	m.logger.Info("rlm session ended",
		zap.String("session.id", closed.ID),
		zap.Int("episodes", closed.EpisodeCount),
		zap.Int("steps", closed.TotalSteps),
		zap.Float64("reward", closed.TotalReward))
	return closed, nil
}

// IsActive reports whether a session is open.
func (m *Manager) IsActive() bool {
	return m.session != nil && m.session.IsActive()
}

// SessionID is the current or last session id, empty before the first Start.
func (m *Manager) SessionID() string {
	if m.session == nil {
		return ""
	}
	return m.session.ID
}

// Current returns the current or last session metadata.
func (m *Manager) Current() (models.SessionMeta, bool) {
	if m.session == nil {
		return models.SessionMeta{}, false
	}
	return *m.session, true
}

// StartEpisode opens an episode in the active session and makes it the
// active episode. An already open episode is left open. Reusing the id of
// an episode in this session fails with ErrEpisodeExists.
func (m *Manager) StartEpisode(id string) (string, error) {
	if !m.IsActive() {
		return "", fmt.Errorf("cannot start episode: %w", ErrNoActiveSession)
	}
	if id == "" {
		id = m.newID()
	}
	if _, exists := m.episodes[id]; exists {
		return "", fmt.Errorf("%w: %s", ErrEpisodeExists, id)
	}
	m.order = append(m.order, id)
	m.episodes[id] = models.NewEpisode(id, m.session.ID, m.now())
	m.active = id

	m.logger.Debug("episode started", zap.String("episode.id", id), zap.String("session.id", m.session.ID))
	return id, nil
}

// EndEpisode closes an episode and folds its steps and reward into the
// session. Closing it twice fails with ErrEpisodeClosed.
func (m *Manager) EndEpisode(id string) (models.Episode, error) {
	if !m.IsActive() {
		return models.Episode{}, fmt.Errorf("cannot end episode: %w", ErrNoActiveSession)
	}
	ep, ok := m.episodes[id]
	if !ok {
		return models.Episode{}, fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
	}

	closed, err := ep.Close(m.now())
	if err != nil {
		return models.Episode{}, err
	}
	meta, err := m.session.WithEpisode(closed)
	if err != nil {
		return models.Episode{}, err
	}
	m.episodes[id] = closed
	m.session = &meta
	if m.active == id {
		m.active = ""
	}

	m.metrics.recordEpisode(context.Background(), closed)
	m.logger.Debug("episode ended",
		zap.String("episode.id", id),
		zap.Int("steps", closed.StepCount()),
		zap.Float64("reward", closed.TotalReward))
	return closed, nil
}

// RecordStep appends a transition to an open episode of the active
// session. An empty nextState marks a terminal transition.
func (m *Manager) RecordStep(episodeID, state, action string, reward float64, nextState string, metadata map[string]any) (models.LearningRecord, error) {
	if !m.IsActive() {
		return models.LearningRecord{}, fmt.Errorf("cannot record step: %w", ErrNoActiveSession)
	}
	ep, ok := m.episodes[episodeID]
	if !ok {
		return models.LearningRecord{}, fmt.Errorf("%w: %s", ErrEpisodeNotFound, episodeID)
	}
	if ep.IsComplete() {
		return models.LearningRecord{}, fmt.Errorf("%w: %s", ErrEpisodeClosed, episodeID)
	}

	rec, err := models.NewLearningRecord(state, action, reward, nextState, metadata, m.now())
	if err != nil {
		return models.LearningRecord{}, err
	}
	updated, err := ep.WithRecord(rec)
	if err != nil {
		return models.LearningRecord{}, err
	}
	m.episodes[episodeID] = updated
	return rec, nil
}

// GetEpisode returns an episode of the current session.
func (m *Manager) GetEpisode(id string) (models.Episode, bool) {
	ep, ok := m.episodes[id]
	return ep, ok
}

// Episodes returns the current session's episodes in start order.
func (m *Manager) Episodes() []models.Episode {
	out := make([]models.Episode, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.episodes[id])
	}
	return out
}

// ActiveEpisodeID is the open episode started last, empty when none.
func (m *Manager) ActiveEpisodeID() string {
	return m.active
}

// CheckpointPath is the file written by the last successful End, empty
// when none was written.
func (m *Manager) CheckpointPath() string {
	return m.lastCheckpoint
}

// LoadCheckpoint reads a raw checkpoint payload for inspection. It does not
// touch the live session.
func (m *Manager) LoadCheckpoint(ctx context.Context, path string) (map[string]any, error) {
	if m.store == nil {
		return nil, ErrNoStore
	}
	return m.store.Load(ctx, path)
}

// Stats summarises the current session.
type Stats struct {
	Active       bool    `json:"active"`
	SessionID    string  `json:"session_id,omitempty"`
	EpisodeCount int     `json:"episode_count"`
	TotalSteps   int     `json:"total_steps"`
	TotalReward  float64 `json:"total_reward"`
	Duration     float64 `json:"duration"`
	OpenEpisode  string  `json:"open_episode,omitempty"`
}

// Stats reflects only closed episodes in the counters. Duration is in
// seconds and zero while the session is open.
func (m *Manager) Stats() Stats {
	if m.session == nil {
		return Stats{}
	}
	s := m.session
	return Stats{
		Active:       s.IsActive(),
		SessionID:    s.ID,
		EpisodeCount: s.EpisodeCount,
		TotalSteps:   s.TotalSteps,
		TotalReward:  s.TotalReward,
		Duration:     s.Duration().Seconds(),
		OpenEpisode:  m.active,
	}
}

// FileName returns the checkpoint file name for a session id. Characters
// outside [A-Za-z0-9._-] are replaced so the name stays inside the dir.
func FileName(sessionID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, sessionID)
	return "rlm_session_" + safe + ".toon"
}

// Payload builds the checkpoint payload for the current session.
func (m *Manager) Payload() (map[string]any, error) {
	if m.session == nil {
		return nil, ErrNoActiveSession
	}
	session, err := toMap(m.session)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	episodes := make([]any, 0, len(m.order))
	for _, ep := range m.Episodes() {
		em, err := toMap(ep)
		if err != nil {
			return nil, fmt.Errorf("encoding episode %s: %w", ep.ID, err)
		}
		episodes = append(episodes, em)
	}
	return map[string]any{
		"schema_version": SchemaVersion,
		"saved_at":       models.UnixSeconds(m.now()),
		"session":        session,
		"episodes":       episodes,
	}, nil
}

func (m *Manager) saveCheckpoint(ctx context.Context) {
	path := filepath.Join(m.dir, FileName(m.session.ID))
	payload, err := m.Payload()
	if err == nil {
		err = m.store.Save(ctx, path, payload)
	}
	if err != nil {
		m.metrics.recordCheckpointFailure(ctx)
		m.logger.Warn("failed to save session checkpoint",
			zap.String("session.id", m.session.ID),
			zap.String("path", path),
			zap.Error(err))
		return
	}
	m.lastCheckpoint = path
	m.logger.Info("session checkpoint saved", zap.String("path", path))
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
