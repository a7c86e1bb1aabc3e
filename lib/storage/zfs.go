package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cradlehost/cradle/lib/hostcmd"
	"github.com/cradlehost/cradle/lib/logger"
)

const zfsTimeout = 60 * time.Second

// runner matches hostcmd.Run; swapped for a recorder in tests.
type runner func(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)

// ZFS drives a ZFS pool through the zfs command-line tool. Volume ids are
// dataset names relative to the pool root.
type ZFS struct {
	pool string
	run  runner
}

// NewZFS creates a ZFS backend rooted at the given pool.
func NewZFS(pool string) *ZFS {
	return &ZFS{pool: pool, run: hostcmd.Run}
}

func (z *ZFS) dataset(volumeID string) string {
	return z.pool + "/" + volumeID
}

func (z *ZFS) Snapshot(ctx context.Context, volumeID, name string) error {
	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "creating volume snapshot", "volume", volumeID, "snapshot", name)

	if _, err := z.run(ctx, zfsTimeout, "zfs", "snapshot", z.dataset(volumeID)+"@"+name); err != nil {
		return fmt.Errorf("snapshot %s@%s: %w", volumeID, name, err)
	}
	return nil
}

func (z *ZFS) DeleteSnapshot(ctx context.Context, volumeID, name string) error {
	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "deleting volume snapshot", "volume", volumeID, "snapshot", name)

	if _, err := z.run(ctx, zfsTimeout, "zfs", "destroy", z.dataset(volumeID)+"@"+name); err != nil {
		if strings.Contains(err.Error(), "could not find any snapshots") ||
			strings.Contains(err.Error(), "dataset does not exist") {
			return fmt.Errorf("%w: %s@%s", ErrSnapshotNotFound, volumeID, name)
		}
		return fmt.Errorf("destroy %s@%s: %w", volumeID, name, err)
	}
	return nil
}

// RollbackPossible reports whether name is the most recent snapshot: zfs
// refuses to roll back across later snapshots without destroying them.
func (z *ZFS) RollbackPossible(ctx context.Context, volumeID, name string) (bool, error) {
	snaps, err := z.listSnapshots(ctx, volumeID)
	if err != nil {
		return false, err
	}
	if len(snaps) == 0 {
		return false, fmt.Errorf("%w: %s@%s", ErrSnapshotNotFound, volumeID, name)
	}
	return snaps[len(snaps)-1] == name, nil
}

func (z *ZFS) Rollback(ctx context.Context, volumeID, name string) error {
	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "rolling back volume", "volume", volumeID, "snapshot", name)

	if _, err := z.run(ctx, zfsTimeout, "zfs", "rollback", z.dataset(volumeID)+"@"+name); err != nil {
		return fmt.Errorf("rollback %s@%s: %w", volumeID, name, err)
	}
	return nil
}

func (z *ZFS) HasFeature(ctx context.Context, feature, volumeID string) bool {
	return feature == FeatureSnapshot
}

// listSnapshots returns snapshot names in creation order, oldest first.
func (z *ZFS) listSnapshots(ctx context.Context, volumeID string) ([]string, error) {
	out, err := z.run(ctx, zfsTimeout, "zfs", "list", "-H", "-t", "snapshot",
		"-o", "name", "-s", "creation", z.dataset(volumeID))
	if err != nil {
		return nil, fmt.Errorf("list snapshots of %s: %w", volumeID, err)
	}

	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		if idx := strings.IndexByte(line, '@'); idx >= 0 {
			names = append(names, line[idx+1:])
		}
	}
	return names, nil
}
