package core

import "github.com/google/uuid"

// ID is the globally unique identifier used for workflows and tasks. It is
// the sole correlation key across the queue, the execution store and the
// index.
type ID = string

// NewID generates a new random ID.
func NewID() ID {
	return uuid.NewString()
}
