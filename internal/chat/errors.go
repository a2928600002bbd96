package chat

import (
	"errors"

	"github.com/converse/internal/repository"
)

var (
	// ErrValidation rejects malformed input before any mutation, e.g. a
	// sender addressing themselves.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden rejects an actor that is not a participant of the
	// conversation, before any mutation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound reports a referenced conversation or message that does not
	// exist. It is the repository sentinel so errors.Is works across layers.
	ErrNotFound = repository.ErrNotFound
)
