package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kazuba/internal/models"
	"github.com/fyrsmithlabs/kazuba/internal/qtable"
	"github.com/fyrsmithlabs/kazuba/internal/rlm"
)

// Engine is the part of *rlm.Engine the hook handlers drive.
type Engine interface {
	StartSession(id string) (string, error)
	IsSessionActive() bool
	SessionID() string
	EpisodeID() string
	RecordStep(ctx context.Context, s rlm.Step) (rlm.StepResult, error)
	BestAction(state string) (string, bool)
	Remember(content string, importance float64, tags []string, id string) (string, error)
	EndSession(ctx context.Context) (models.SessionMeta, error)
	SaveQTable(path string) (string, error)
}

type sessionStartEvent struct {
	SessionID string `json:"session_id"`
}

type rememberEvent struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags"`
}

// BindEngine registers the engine handlers for every hook type.
func BindEngine(h *HookManager, engine Engine) {
	b := &binding{engine: engine, config: h.config, logger: h.logger}
	h.RegisterHandler(HookSessionStart, b.sessionStart)
	h.RegisterHandler(HookStep, b.step)
	h.RegisterHandler(HookRemember, b.remember)
	h.RegisterHandler(HookSessionEnd, b.sessionEnd)
}

type binding struct {
	engine Engine
	config *Config
	logger *zap.Logger
}

func (b *binding) sessionStart(_ context.Context, data map[string]any) (map[string]any, error) {
	var ev sessionStartEvent
	if err := decode(data, &ev); err != nil {
		return nil, err
	}
	id, err := b.engine.StartSession(ev.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session_id": id, "episode_id": b.engine.EpisodeID()}, nil
}

func (b *binding) step(ctx context.Context, data map[string]any) (map[string]any, error) {
	var s rlm.Step
	if err := decode(data, &s); err != nil {
		return nil, err
	}
	if s.State == "" || s.Action == "" {
		return nil, errors.New("step requires state and action")
	}

	if !b.engine.IsSessionActive() && b.config.AutoStartSession {
		id, err := b.engine.StartSession("")
		if err != nil {
			return nil, err
		}
		b.logger.Debug("session auto-started for step", zap.String("session.id", id))
	}

	res, err := b.engine.RecordStep(ctx, s)
	if err != nil {
		return nil, err
	}
	out, err := encode(res)
	if err != nil {
		return nil, err
	}
	if b.config.BestActionOnStep && s.NextState != "" {
		if a, ok := b.engine.BestAction(s.NextState); ok {
			out["best_action"] = a
		}
	}
	return out, nil
}

func (b *binding) remember(_ context.Context, data map[string]any) (map[string]any, error) {
	var ev rememberEvent
	if err := decode(data, &ev); err != nil {
		return nil, err
	}
	if ev.Importance < b.config.MinImportance {
		return map[string]any{"skipped": true}, nil
	}
	id, err := b.engine.Remember(ev.Content, ev.Importance, ev.Tags, ev.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"memory_id": id}, nil
}

func (b *binding) sessionEnd(ctx context.Context, _ map[string]any) (map[string]any, error) {
	meta, err := b.engine.EndSession(ctx)
	if err != nil {
		return nil, err
	}
	out, err := encode(meta)
	if err != nil {
		return nil, err
	}
	if b.config.SaveQTableOnEnd {
		path, err := b.engine.SaveQTable("")
		switch {
		case errors.Is(err, qtable.ErrNoPath):
		case err != nil:
			b.logger.Warn("failed to save q-table on session end", zap.Error(err))
		default:
			out["q_table_path"] = path
		}
	}
	return out, nil
}

func decode(data map[string]any, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode hook data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid hook data: %w", err)
	}
	return nil
}

func encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
