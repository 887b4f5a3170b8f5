package core

import "github.com/google/uuid"

// NewUUID returns a random identifier for long-lived objects such as asset sets.
func NewUUID() uuid.UUID {
	return uuid.New()
}
