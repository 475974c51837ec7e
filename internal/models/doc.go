// Package models defines the immutable value records shared by the RLM engine.
//
// LearningRecord, MemoryEntry, Episode and SessionMeta are plain values.
// Methods that look like mutations (Touch, WithRecord, Close, WithEpisode)
// return a new value and never modify the receiver. Owners replace the stored
// value under their own lock instead of mutating fields in place.
//
// Timestamps are carried as time.Time in Go and serialised as fractional Unix
// seconds, so checkpoints and snapshots stay plain JSON/msgpack numbers.
package models
