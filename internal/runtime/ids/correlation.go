package ids

import "github.com/google/uuid"

// Generator produces correlation identifiers. Implementations must never hand
// out the same value twice within a process.
type Generator interface {
	NewCorrelationID() string
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func() string

func (f GeneratorFunc) NewCorrelationID() string { return f() }

// UUIDGenerator returns random (version 4) UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewCorrelationID() string { return NewCorrelationID() }

// NewCorrelationID returns a fresh version 4 UUID in canonical string form.
func NewCorrelationID() string {
	return uuid.NewString()
}
