package models

import "errors"

// Validation errors.
var (
	ErrNonFiniteReward = errors.New("reward must be finite")
	ErrImportanceRange = errors.New("importance must be in [0, 1]")
)

// Lifecycle errors.
var (
	ErrEpisodeClosed = errors.New("episode is already closed")
	ErrSessionClosed = errors.New("session is already closed")
)
