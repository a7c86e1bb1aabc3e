package store

import "errors"

var (
	// ErrNotFound is returned when no persisted config exists for the id
	ErrNotFound = errors.New("container config not found")

	// ErrAlreadyExists is returned when creating a container whose storage
	// location already exists
	ErrAlreadyExists = errors.New("container already exists")

	// ErrLockTimeout is returned when the container lock cannot be acquired
	// within the timeout
	ErrLockTimeout = errors.New("timed out waiting for container lock")
)
