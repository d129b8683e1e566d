package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist or is soft-deleted.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique business field collides.
	ErrDuplicate = errors.New("duplicate record")
)
