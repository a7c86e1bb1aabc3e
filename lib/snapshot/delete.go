package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/cradlehost/cradle/lib/logger"
	"github.com/cradlehost/cradle/lib/storage"
)

// Delete removes a snapshot. The entry is marked deleting under the lock,
// the volume snapshot is removed outside it, and a final locked phase drops
// the entry, reparenting the container if the deleted snapshot was the
// current parent. With force set, a failing volume delete does not stop the
// entry from being removed.
func (e *Engine) Delete(ctx context.Context, id, name string, force bool) error {
	log, ctx := logger.WithContainer(ctx, id)
	start := time.Now()

	var vol string
	err := e.store.WithLock(ctx, id, func(ctx context.Context) error {
		cfg, err := e.store.Load(ctx, id)
		if err != nil {
			return err
		}
		if cfg.Lock != ctconfig.LockNone && !force {
			return fmt.Errorf("%w: token %q is set", ErrLocked, cfg.Lock)
		}
		snap, ok := cfg.Snapshots[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		vol, err = volumeID(cfg)
		if err != nil {
			return err
		}

		snap.State = ctconfig.SnapDeleting
		return e.store.Write(ctx, id, cfg)
	})
	if err != nil {
		return err
	}

	// Volume snapshot removal runs without the lock. An already-absent
	// volume snapshot is fine: the entry may be a half-created leftover.
	if err := e.backend.DeleteSnapshot(ctx, vol, name); err != nil {
		if !errors.Is(err, storage.ErrSnapshotNotFound) {
			if !force {
				// Entry stays in deleting state; a later forced delete can
				// finish the job.
				return err
			}
			log.WarnContext(ctx, "volume snapshot delete failed, forcing entry removal",
				"snapshot", name, "error", err)
		}
	}

	err = e.store.WithLock(ctx, id, func(ctx context.Context) error {
		cfg, err := e.store.Load(ctx, id)
		if err != nil {
			return err
		}
		snap, ok := cfg.Snapshots[name]
		if !ok {
			return nil
		}
		if cfg.Parent == name {
			cfg.Parent = snap.Config.Parent
		}
		delete(cfg.Snapshots, name)
		return e.store.Write(ctx, id, cfg)
	})
	if err != nil {
		return err
	}

	recordOperation(ctx, "delete", start, nil)
	log.InfoContext(ctx, "snapshot deleted", "snapshot", name, "forced", force)
	return nil
}
