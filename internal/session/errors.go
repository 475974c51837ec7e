package session

import (
	"errors"

	"github.com/fyrsmithlabs/kazuba/internal/models"
)

// Lifecycle errors. They are wrapped with the offending id.
var (
	ErrSessionActive   = errors.New("session already active")
	ErrNoActiveSession = errors.New("no active session")
	ErrEpisodeNotFound = errors.New("episode not found")
	ErrEpisodeExists   = errors.New("episode already exists")
	ErrEpisodeClosed   = models.ErrEpisodeClosed
	ErrNoStore         = errors.New("no checkpoint store configured")
)
