package qtable

import "errors"

var (
	// ErrInvalidMaxSize is returned when MaxSize < 1.
	ErrInvalidMaxSize = errors.New("max size must be >= 1")

	// ErrInvalidAutoSave is returned when AutoSaveInterval < 0.
	ErrInvalidAutoSave = errors.New("auto-save interval must be >= 0")

	// ErrNoPath is returned by Save when neither an explicit path nor a
	// persist path is configured.
	ErrNoPath = errors.New("no persistence path configured")

	// ErrCorrupt wraps decode failures of a persisted table.
	ErrCorrupt = errors.New("corrupt q-table file")
)
