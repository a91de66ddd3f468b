package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates a new unique identifier (UUID v4 string form).
func NewID() string { return uuid.NewString() }

// NewSessionID returns a 32 character alphanumeric session identifier.
func NewSessionID() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
