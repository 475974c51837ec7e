// Package memory implements the bounded working-memory store.
//
// Entries are value types. Every read that touches an entry stores a new
// version under the lock, so callers never share mutable state with the
// store. When the store is full the entry with the lowest
// models.MemoryEntry.EvictionScore is dropped to make room.
package memory
