package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Episode is an ordered, append-only sequence of transitions owned by one
// session. It is open while EndedAt is nil.
type Episode struct {
	ID          string
	SessionID   string
	Records     []LearningRecord
	StartedAt   time.Time
	EndedAt     *time.Time
	TotalReward float64
}

// NewEpisode returns an open episode started at now.
func NewEpisode(id, sessionID string, now time.Time) Episode {
	return Episode{
		ID:        id,
		SessionID: sessionID,
		StartedAt: now,
	}
}

// IsComplete reports whether the episode has been closed.
func (e Episode) IsComplete() bool {
	return e.EndedAt != nil
}

// StepCount is the number of recorded transitions.
func (e Episode) StepCount() int {
	return len(e.Records)
}

// Duration is the elapsed time of a closed episode, zero while open.
func (e Episode) Duration() time.Duration {
	if e.EndedAt == nil {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// WithRecord returns a copy with r appended and the running reward updated.
func (e Episode) WithRecord(r LearningRecord) (Episode, error) {
	if e.IsComplete() {
		return Episode{}, fmt.Errorf("%w: %s", ErrEpisodeClosed, e.ID)
	}
	out := e
	out.Records = append(slices.Clip(e.Records), r)
	out.TotalReward = e.TotalReward + r.Reward
	return out, nil
}

// Close returns a closed copy ended at now.
func (e Episode) Close(now time.Time) (Episode, error) {
	if e.IsComplete() {
		return Episode{}, fmt.Errorf("%w: %s", ErrEpisodeClosed, e.ID)
	}
	out := e
	out.EndedAt = &now
	return out, nil
}

type episodeJSON struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id"`
	Records     []LearningRecord `json:"records"`
	StartedAt   float64          `json:"started_at"`
	EndedAt     *float64         `json:"ended_at"`
	TotalReward float64          `json:"total_reward"`
}

// MarshalJSON implements json.Marshaler.
func (e Episode) MarshalJSON() ([]byte, error) {
	records := e.Records
	if records == nil {
		records = []LearningRecord{}
	}
	return json.Marshal(episodeJSON{
		ID:          e.ID,
		SessionID:   e.SessionID,
		Records:     records,
		StartedAt:   UnixSeconds(e.StartedAt),
		EndedAt:     unixPtr(e.EndedAt),
		TotalReward: e.TotalReward,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Episode) UnmarshalJSON(data []byte) error {
	var raw episodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Episode{
		ID:          raw.ID,
		SessionID:   raw.SessionID,
		Records:     raw.Records,
		StartedAt:   FromUnixSeconds(raw.StartedAt),
		EndedAt:     timePtr(raw.EndedAt),
		TotalReward: raw.TotalReward,
	}
	return nil
}
