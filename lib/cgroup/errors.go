package cgroup

import "errors"

var (
	// ErrNotRunning is returned by write operations when the container has
	// no resolvable cgroup path.
	ErrNotRunning = errors.New("container cgroup is not active")

	// ErrUndetectable is returned when the host exposes neither cgroup
	// generation's marker files.
	ErrUndetectable = errors.New("cannot detect cgroup mode")

	// ErrInvalidWeight is returned for a cpu weight outside the unified
	// hierarchy's accepted range.
	ErrInvalidWeight = errors.New("cpu weight out of range")
)
