package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"time"
)

// LearningRecord is one observed (state, action, reward, next_state) transition.
// An empty NextState marks a terminal transition.
type LearningRecord struct {
	State     string
	Action    string
	Reward    float64
	NextState string
	Timestamp time.Time
	Metadata  map[string]any
}

// NewLearningRecord validates reward and returns a record stamped with now.
// The metadata map is copied so later changes by the caller are not observed.
func NewLearningRecord(state, action string, reward float64, nextState string, metadata map[string]any, now time.Time) (LearningRecord, error) {
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return LearningRecord{}, fmt.Errorf("%w, got %v", ErrNonFiniteReward, reward)
	}
	md := make(map[string]any, len(metadata))
	maps.Copy(md, metadata)
	return LearningRecord{
		State:     state,
		Action:    action,
		Reward:    reward,
		NextState: nextState,
		Timestamp: now,
		Metadata:  md,
	}, nil
}

// IsTerminal reports whether the transition ended the trajectory.
func (r LearningRecord) IsTerminal() bool {
	return r.NextState == ""
}

type learningRecordJSON struct {
	State     string         `json:"state"`
	Action    string         `json:"action"`
	Reward    float64        `json:"reward"`
	NextState string         `json:"next_state"`
	Timestamp float64        `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// MarshalJSON implements json.Marshaler.
func (r LearningRecord) MarshalJSON() ([]byte, error) {
	md := r.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return json.Marshal(learningRecordJSON{
		State:     r.State,
		Action:    r.Action,
		Reward:    r.Reward,
		NextState: r.NextState,
		Timestamp: UnixSeconds(r.Timestamp),
		Metadata:  md,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *LearningRecord) UnmarshalJSON(data []byte) error {
	var raw learningRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec, err := NewLearningRecord(raw.State, raw.Action, raw.Reward, raw.NextState, raw.Metadata, FromUnixSeconds(raw.Timestamp))
	if err != nil {
		return err
	}
	*r = rec
	return nil
}
