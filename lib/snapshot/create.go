package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/cradlehost/cradle/lib/logger"
	"github.com/cradlehost/cradle/lib/storage"
)

// Create takes a new snapshot of the container's configuration and backing
// volume.
//
// Phase 1 records the entry as preparing and sets the snapshot lock token
// under the container lock. Phase 2 snapshots the volume outside the lock,
// with the container frozen if it is running. Phase 3 reacquires the lock,
// re-verifies nothing moved underneath, and commits. Any failure after phase
// 1 triggers a forced, best-effort compensating delete before the original
// failure is re-raised.
func (e *Engine) Create(ctx context.Context, id, name, comment string) error {
	log, ctx := logger.WithContainer(ctx, id)
	start := time.Now()

	var vol string
	err := e.store.WithLock(ctx, id, func(ctx context.Context) error {
		cfg, err := e.store.Load(ctx, id)
		if err != nil {
			return err
		}
		if cfg.Lock != ctconfig.LockNone {
			return fmt.Errorf("%w: token %q is set", ErrLocked, cfg.Lock)
		}
		if _, exists := cfg.Snapshots[name]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		vol, err = volumeID(cfg)
		if err != nil {
			return err
		}
		if !e.backend.HasFeature(ctx, storage.FeatureSnapshot, vol) {
			return fmt.Errorf("%w: volume %s", ErrUnsupported, vol)
		}

		if cfg.Snapshots == nil {
			cfg.Snapshots = map[string]*ctconfig.Snapshot{}
		}
		cfg.Snapshots[name] = &ctconfig.Snapshot{
			Name:      name,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			Comment:   comment,
			State:     ctconfig.SnapPreparing,
			Config:    cfg.SnapshotCopy(),
		}
		cfg.Lock = ctconfig.LockSnapshot
		return e.store.Write(ctx, id, cfg)
	})
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "snapshot prepared", "snapshot", name, "volume", vol)

	// The slow part runs without the container lock held.
	err = e.withFrozen(ctx, id, func() error {
		return e.backend.Snapshot(ctx, vol, name)
	})

	if err == nil {
		err = e.commitCreate(ctx, id, name)
	}

	if err != nil {
		log.WarnContext(ctx, "snapshot failed, removing half-created entry",
			"snapshot", name, "error", err)
		e.compensateCreate(ctx, id, name)
		return err
	}

	recordOperation(ctx, "create", start, nil)
	log.InfoContext(ctx, "snapshot created", "snapshot", name)
	return nil
}

// commitCreate finalizes a prepared snapshot. The token and the entry state
// are re-verified: the lock was dropped, so anything may have happened.
func (e *Engine) commitCreate(ctx context.Context, id, name string) error {
	return e.store.WithLock(ctx, id, func(ctx context.Context) error {
		cfg, err := e.store.Load(ctx, id)
		if err != nil {
			return err
		}
		if cfg.Lock != ctconfig.LockSnapshot {
			return fmt.Errorf("%w: lock token changed to %q during snapshot", ErrInconsistent, cfg.Lock)
		}
		snap, ok := cfg.Snapshots[name]
		if !ok || snap.State != ctconfig.SnapPreparing {
			return fmt.Errorf("%w: snapshot %q no longer preparing", ErrInconsistent, name)
		}

		snap.State = ctconfig.SnapReady
		cfg.Lock = ctconfig.LockNone
		cfg.Parent = name
		return e.store.Write(ctx, id, cfg)
	})
}

// compensateCreate force-deletes the half-created entry and clears the
// snapshot token. Sub-errors are logged and swallowed: the caller re-raises
// the original failure.
func (e *Engine) compensateCreate(ctx context.Context, id, name string) {
	log := logger.FromContext(ctx)
	if err := e.Delete(ctx, id, name, true); err != nil {
		log.WarnContext(ctx, "compensating snapshot delete failed", "snapshot", name, "error", err)
	}

	err := e.store.WithLock(ctx, id, func(ctx context.Context) error {
		cfg, err := e.store.Load(ctx, id)
		if err != nil {
			return err
		}
		if cfg.Lock != ctconfig.LockSnapshot {
			return nil
		}
		cfg.Lock = ctconfig.LockNone
		return e.store.Write(ctx, id, cfg)
	})
	if err != nil {
		log.WarnContext(ctx, "clearing snapshot token failed", "error", err)
	}
}
