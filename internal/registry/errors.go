package registry

import "errors"

var (
	// ErrNotFound is returned when a connection has no participant in the
	// registry. Callers treat it as a no-op, never as a failure to report.
	ErrNotFound = errors.New("participant not found")
	// ErrAlreadyJoined is returned by Join when the connection already holds a
	// participant in some room.
	ErrAlreadyJoined = errors.New("connection already joined a room")
)
