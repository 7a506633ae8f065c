package service

import "github.com/google/uuid"

// IDGenerator returns a fresh asset identity on every call.
type IDGenerator func() string

// NewAssetID returns a random (version 4) UUID in canonical form.
func NewAssetID() string {
	return uuid.New().String()
}
