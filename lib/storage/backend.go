// Package storage abstracts the volume storage backend consumed by the
// snapshot engine.
package storage

import (
	"context"
	"errors"
)

// FeatureSnapshot gates the snapshot engine: backends without it refuse
// snapshot operations up front.
const FeatureSnapshot = "snapshot"

var (
	// ErrSnapshotNotFound is returned when the named volume snapshot does
	// not exist on the backend
	ErrSnapshotNotFound = errors.New("volume snapshot not found")
)

// Backend is the storage collaborator. Volume ids are backend-scoped names,
// the volume part of a config's storage:volume rootfs reference.
type Backend interface {
	// Snapshot takes a point-in-time snapshot of the backing volume.
	Snapshot(ctx context.Context, volumeID, name string) error

	// DeleteSnapshot removes a volume snapshot.
	DeleteSnapshot(ctx context.Context, volumeID, name string) error

	// RollbackPossible reports whether rolling back to the named snapshot is
	// currently possible, e.g. no later snapshot blocks it.
	RollbackPossible(ctx context.Context, volumeID, name string) (bool, error)

	// Rollback reverts the volume to the named snapshot.
	Rollback(ctx context.Context, volumeID, name string) error

	// HasFeature reports whether the backend supports a capability for the
	// given volume.
	HasFeature(ctx context.Context, feature, volumeID string) bool
}
