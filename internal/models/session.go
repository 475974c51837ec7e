package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionMeta aggregates the closed episodes of one session. Counters only
// grow, and only when an episode is folded in with WithEpisode.
type SessionMeta struct {
	ID           string
	StartedAt    time.Time
	EndedAt      *time.Time
	EpisodeCount int
	TotalSteps   int
	TotalReward  float64
}

// NewSessionMeta returns an open session started at now.
func NewSessionMeta(id string, now time.Time) SessionMeta {
	return SessionMeta{ID: id, StartedAt: now}
}

// IsActive reports whether the session is still open.
func (s SessionMeta) IsActive() bool {
	return s.EndedAt == nil
}

// Duration is the elapsed time of a closed session, zero while open.
func (s SessionMeta) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// WithEpisode folds a closed episode into the session counters.
func (s SessionMeta) WithEpisode(ep Episode) (SessionMeta, error) {
	if !s.IsActive() {
		return SessionMeta{}, fmt.Errorf("%w: %s", ErrSessionClosed, s.ID)
	}
	out := s
	out.EpisodeCount++
	out.TotalSteps += ep.StepCount()
	out.TotalReward += ep.TotalReward
	return out, nil
}

// Close returns a closed copy ended at now.
func (s SessionMeta) Close(now time.Time) (SessionMeta, error) {
	if !s.IsActive() {
		return SessionMeta{}, fmt.Errorf("%w: %s", ErrSessionClosed, s.ID)
	}
	out := s
	out.EndedAt = &now
	return out, nil
}

type sessionMetaJSON struct {
	ID           string   `json:"id"`
	StartedAt    float64  `json:"started_at"`
	EndedAt      *float64 `json:"ended_at"`
	EpisodeCount int      `json:"episode_count"`
	TotalSteps   int      `json:"total_steps"`
	TotalReward  float64  `json:"total_reward"`
}

// MarshalJSON implements json.Marshaler.
func (s SessionMeta) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionMetaJSON{
		ID:           s.ID,
		StartedAt:    UnixSeconds(s.StartedAt),
		EndedAt:      unixPtr(s.EndedAt),
		EpisodeCount: s.EpisodeCount,
		TotalSteps:   s.TotalSteps,
		TotalReward:  s.TotalReward,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SessionMeta) UnmarshalJSON(data []byte) error {
	var raw sessionMetaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.EpisodeCount < 0 || raw.TotalSteps < 0 {
		return fmt.Errorf("session %s: negative counters", raw.ID)
	}
	*s = SessionMeta{
		ID:           raw.ID,
		StartedAt:    FromUnixSeconds(raw.StartedAt),
		EndedAt:      timePtr(raw.EndedAt),
		EpisodeCount: raw.EpisodeCount,
		TotalSteps:   raw.TotalSteps,
		TotalReward:  raw.TotalReward,
	}
	return nil
}
