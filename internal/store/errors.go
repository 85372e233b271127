package store

import (
	"errors"
	"fmt"
)

var (
	// ErrSystemTurnNotFirst is returned when a system turn is appended to a
	// session that already has turns.
	ErrSystemTurnNotFirst = errors.New("system turn must be the first turn of a session")

	// ErrSessionNotOpened is returned when a user or assistant turn is
	// appended to a session without a system turn.
	ErrSessionNotOpened = errors.New("session has no system turn")

	ErrInvalidRole    = errors.New("invalid turn role")
	ErrInvalidSession = errors.New("session id must be >= 1")
)

// StorageError wraps any failure of a store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
