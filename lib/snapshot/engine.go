// Package snapshot implements the container snapshot lifecycle: create,
// delete, and rollback, coordinated through the persisted lock token.
//
// The engine deliberately drops the container lock between its prepare and
// commit phases so a slow volume-level snapshot does not block other readers.
// The persisted token substitutes for OS-level exclusivity during that
// window, which is why every commit re-verifies the token after reacquire.
package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/cradlehost/cradle/lib/runtime"
	"github.com/cradlehost/cradle/lib/storage"
	"github.com/cradlehost/cradle/lib/store"
)

// stopTimeout bounds the graceful stop attempted before a rollback.
const stopTimeout = 60 * time.Second

// Engine coordinates snapshot state between the config store and the storage
// backend under partial failure.
type Engine struct {
	store   store.Store
	backend storage.Backend
	channel runtime.Channel
}

// NewEngine creates a snapshot engine.
func NewEngine(st store.Store, backend storage.Backend, channel runtime.Channel) *Engine {
	return &Engine{store: st, backend: backend, channel: channel}
}

// volumeID extracts the backend volume name from the config's
// storage:volume rootfs reference.
func volumeID(cfg *ctconfig.Config) (string, error) {
	_, vol, ok := strings.Cut(cfg.RootFS, ":")
	if !ok || vol == "" {
		return "", fmt.Errorf("%w: config has no usable rootfs volume", ErrUnsupported)
	}
	return vol, nil
}

// withFrozen pauses a running container around fn and resumes it on every
// exit path. A stopped container runs fn directly.
func (e *Engine) withFrozen(ctx context.Context, id string, fn func() error) error {
	running, err := e.channel.Running(ctx, id)
	if err != nil {
		return fmt.Errorf("query container state: %w", err)
	}
	if !running {
		return fn()
	}

	if err := e.channel.Freeze(ctx, id); err != nil {
		return fmt.Errorf("freeze container: %w", err)
	}
	defer func() {
		// Resume regardless of fn's outcome; a stuck-frozen container is
		// worse than a failed snapshot.
		_ = e.channel.Unfreeze(ctx, id)
	}()
	return fn()
}
