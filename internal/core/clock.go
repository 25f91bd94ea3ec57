package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time. Registries take one so SLA checks can be
// driven deterministically in tests.
type Clock func() time.Time

// SystemClock is wall-clock UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// NewID returns a 32-char lowercase hex identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ShortID returns the first 8 hex chars of a fresh identifier.
func ShortID() string {
	return NewID()[:8]
}
