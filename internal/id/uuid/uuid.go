// Package uuid provides the UUID implementation of directory.IDGenerator.
package uuid

import "github.com/google/uuid"

// Generator produces random UUIDv4 identifiers.
type Generator struct{}

// NewID implements directory.IDGenerator.
func (Generator) NewID() string { return uuid.NewString() }
