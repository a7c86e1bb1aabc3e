package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/cradlehost/cradle/lib/logger"
)

// Rollback reverts the container's config and backing volume to a committed
// snapshot. The final phase clears the lock token unconditionally, even when
// the volume rollback failed: the container must never be left permanently
// locked, and the storage failure is surfaced to the caller instead.
func (e *Engine) Rollback(ctx context.Context, id, name string) error {
	log, ctx := logger.WithContainer(ctx, id)
	start := time.Now()

	var vol string
	err := e.store.WithLock(ctx, id, func(ctx context.Context) error {
		cfg, err := e.store.Load(ctx, id)
		if err != nil {
			return err
		}
		snap, ok := cfg.Snapshots[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		if snap.State == ctconfig.SnapPreparing {
			return fmt.Errorf("%w: snapshot %q was never committed", ErrInconsistent, name)
		}
		if cfg.Lock != ctconfig.LockNone {
			return fmt.Errorf("%w: token %q is set", ErrLocked, cfg.Lock)
		}
		vol, err = volumeID(cfg)
		if err != nil {
			return err
		}

		possible, err := e.backend.RollbackPossible(ctx, vol, name)
		if err != nil {
			return err
		}
		if !possible {
			return fmt.Errorf("cannot roll back to %q: a later snapshot blocks it", name)
		}

		running, err := e.channel.Running(ctx, id)
		if err != nil {
			return err
		}
		if running {
			if err := e.channel.Stop(ctx, id, stopTimeout); err != nil {
				return fmt.Errorf("stop container before rollback: %w", err)
			}
			still, err := e.channel.Running(ctx, id)
			if err != nil {
				return err
			}
			if still {
				return fmt.Errorf("container still running after stop, refusing rollback")
			}
		}

		cfg.Lock = ctconfig.LockRollback
		cfg.RestoreFrom(snap.Config)
		cfg.Parent = name
		return e.store.Write(ctx, id, cfg)
	})
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "config restored, rolling back volume", "snapshot", name, "volume", vol)
	rollbackErr := e.backend.Rollback(ctx, vol, name)

	err = e.store.WithLock(ctx, id, func(ctx context.Context) error {
		cfg, err := e.store.Load(ctx, id)
		if err != nil {
			return err
		}
		cfg.Lock = ctconfig.LockNone
		return e.store.Write(ctx, id, cfg)
	})
	if err != nil {
		// The unlock write itself failed; that is the more urgent report,
		// but keep the storage failure visible alongside it.
		if rollbackErr != nil {
			return fmt.Errorf("clear rollback token: %v (volume rollback also failed: %w)", err, rollbackErr)
		}
		return fmt.Errorf("clear rollback token: %w", err)
	}
	if rollbackErr != nil {
		return rollbackErr
	}

	recordOperation(ctx, "rollback", start, nil)
	log.InfoContext(ctx, "rollback complete", "snapshot", name)
	return nil
}
