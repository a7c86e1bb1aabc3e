package snapshot

import "errors"

var (
	// ErrNotFound is returned when the named snapshot does not exist
	ErrNotFound = errors.New("snapshot not found")

	// ErrDuplicateName is returned when the snapshot name is already taken
	ErrDuplicateName = errors.New("snapshot name already exists")

	// ErrLocked is returned when another high-level operation holds the
	// container's lock token
	ErrLocked = errors.New("container is locked")

	// ErrUnsupported is returned when the storage backend lacks snapshot
	// capability for the container's volume
	ErrUnsupported = errors.New("storage backend does not support snapshots")

	// ErrInconsistent is returned when persisted state no longer matches the
	// in-flight operation after the lock was reacquired
	ErrInconsistent = errors.New("inconsistent snapshot state")
)
