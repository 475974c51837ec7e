// Package session drives the Session → Episode → LearningRecord lifecycle
// and hands a snapshot of the finished session to a CheckpointStore.
//
// A Manager holds exactly one session at a time and does no locking of its
// own. Use one Manager per goroutine or guard it externally.
package session
