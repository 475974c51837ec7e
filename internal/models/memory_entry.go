package models

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

// MemoryEntry is a fact held in working memory.
type MemoryEntry struct {
	ID          string
	Content     string
	Importance  float64
	Tags        []string
	CreatedAt   time.Time
	AccessedAt  time.Time
	AccessCount int
}

// EntryOption customises NewMemoryEntry.
type EntryOption func(*MemoryEntry)

// WithEntryID sets an explicit id instead of a generated UUID.
// An empty id keeps the generated one.
func WithEntryID(id string) EntryOption {
	return func(e *MemoryEntry) {
		if id != "" {
			e.ID = id
		}
	}
}

// WithCreatedAt stamps both CreatedAt and AccessedAt with t.
func WithCreatedAt(t time.Time) EntryOption {
	return func(e *MemoryEntry) {
		e.CreatedAt = t
		e.AccessedAt = t
	}
}

// NewMemoryEntry builds a validated entry. Tags are de-duplicated.
func NewMemoryEntry(content string, importance float64, tags []string, opts ...EntryOption) (MemoryEntry, error) {
	if err := ValidateImportance(importance); err != nil {
		return MemoryEntry{}, err
	}
	now := time.Now()
	e := MemoryEntry{
		ID:         uuid.NewString(),
		Content:    content,
		Importance: importance,
		Tags:       normalizeTags(tags),
		CreatedAt:  now,
		AccessedAt: now,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e, nil
}

// Touch returns a copy with AccessedAt set to now and AccessCount incremented.
func (e MemoryEntry) Touch(now time.Time) MemoryEntry {
	out := e.clone()
	out.AccessedAt = now
	out.AccessCount = e.AccessCount + 1
	return out
}

// WithImportance returns a copy with a new importance. Timestamps and
// AccessCount are left untouched.
func (e MemoryEntry) WithImportance(importance float64) (MemoryEntry, error) {
	if err := ValidateImportance(importance); err != nil {
		return MemoryEntry{}, err
	}
	out := e.clone()
	out.Importance = importance
	return out, nil
}

// HasTag reports whether tag is one of the entry's tags.
func (e MemoryEntry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// EvictionScore ranks entries for eviction; lower is evicted first.
//
//	score = accessed_at (unix seconds) × importance × ln(1 + (1 + access_count))
//
// The raw timestamp dominates the product, so in practice the ranking is
// close to least-recently-used with importance acting as a tie-breaker
// between entries touched within the same moment.
func (e MemoryEntry) EvictionScore() float64 {
	freq := 1.0 + float64(e.AccessCount)
	return UnixSeconds(e.AccessedAt) * e.Importance * math.Log1p(freq)
}

func (e MemoryEntry) clone() MemoryEntry {
	out := e
	out.Tags = slices.Clone(e.Tags)
	return out
}

// ValidateImportance rejects NaN and values outside [0, 1].
func ValidateImportance(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w, got %v", ErrImportanceRange, v)
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

type memoryEntryJSON struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Importance  float64  `json:"importance"`
	Tags        []string `json:"tags"`
	CreatedAt   float64  `json:"created_at"`
	AccessedAt  float64  `json:"accessed_at"`
	AccessCount int      `json:"access_count"`
}

// MarshalJSON implements json.Marshaler.
func (e MemoryEntry) MarshalJSON() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(memoryEntryJSON{
		ID:          e.ID,
		Content:     e.Content,
		Importance:  e.Importance,
		Tags:        tags,
		CreatedAt:   UnixSeconds(e.CreatedAt),
		AccessedAt:  UnixSeconds(e.AccessedAt),
		AccessCount: e.AccessCount,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Importance and access count are
// validated the same way as for NewMemoryEntry.
func (e *MemoryEntry) UnmarshalJSON(data []byte) error {
	var raw memoryEntryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := ValidateImportance(raw.Importance); err != nil {
		return err
	}
	if raw.AccessCount < 0 {
		return fmt.Errorf("access_count must be >= 0, got %d", raw.AccessCount)
	}
	if raw.ID == "" {
		raw.ID = uuid.NewString()
	}
	*e = MemoryEntry{
		ID:          raw.ID,
		Content:     raw.Content,
		Importance:  raw.Importance,
		Tags:        normalizeTags(raw.Tags),
		CreatedAt:   FromUnixSeconds(raw.CreatedAt),
		AccessedAt:  FromUnixSeconds(raw.AccessedAt),
		AccessCount: raw.AccessCount,
	}
	return nil
}
