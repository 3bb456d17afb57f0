// Package uuid generates research run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// Generator creates time-ordered UUIDv7 run IDs.
type Generator struct{}

var _ research.IDGenerator = Generator{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Parse validates an operator-supplied run ID and returns its canonical form.
func Parse(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse run id: %w", err)
	}
	return id.String(), nil
}
