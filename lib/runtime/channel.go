// Package runtime is the control channel to the container runtime: process
// lifecycle, freeze control, and cgroup placement queries.
package runtime

import (
	"context"
	"time"
)

// Channel defines the runtime control operations the rest of the system
// consumes. Every blocking call is bounded by a caller-visible timeout.
type Channel interface {
	Start(ctx context.Context, id string) error

	// Stop shuts the container down, waiting up to timeout for a graceful
	// exit before the runtime escalates.
	Stop(ctx context.Context, id string, timeout time.Duration) error

	Freeze(ctx context.Context, id string) error
	Unfreeze(ctx context.Context, id string) error

	Running(ctx context.Context, id string) (bool, error)
	PID(ctx context.Context, id string) (int, error)

	// CGroupPath returns the container's cgroup path for a subsystem,
	// relative to the cgroup filesystem root. Empty means the container is
	// not running or the subsystem is inactive.
	CGroupPath(ctx context.Context, id string, subsystem string) (string, error)
}
