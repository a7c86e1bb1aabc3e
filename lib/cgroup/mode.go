// Package cgroup reads and adjusts container resource usage through the
// cgroup filesystem, hiding the differences between the legacy (v1) and
// unified (v2) hierarchy generations behind one set of operations.
package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Mode classifies the host's cgroup hierarchy generation.
type Mode int

const (
	ModeUnknown Mode = iota
	// ModeLegacy covers both pure v1 and hybrid hosts: per-controller
	// subtrees mounted under the cgroup root.
	ModeLegacy
	// ModeUnified is a pure v2 host with a single hierarchy.
	ModeUnified
)

func (m Mode) String() string {
	switch m {
	case ModeLegacy:
		return "legacy"
	case ModeUnified:
		return "unified"
	default:
		return "unknown"
	}
}

// DefaultRoot is where the kernel mounts the cgroup filesystem.
const DefaultRoot = "/sys/fs/cgroup"

var (
	detectOnce sync.Once
	detected   Mode
	detectErr  error
)

// DetectMode classifies the host once per process. The hierarchy generation
// cannot change while the process lives, so the result is cached.
func DetectMode() (Mode, error) {
	detectOnce.Do(func() {
		detected, detectErr = detectMode(DefaultRoot)
	})
	return detected, detectErr
}

func detectMode(root string) (Mode, error) {
	// A controllers file directly at the root exists only on a pure v2
	// mount.
	if _, err := os.Stat(filepath.Join(root, "cgroup.controllers")); err == nil {
		return ModeUnified, nil
	}
	// A memory controller subtree marks a v1 or hybrid mount.
	if st, err := os.Stat(filepath.Join(root, "memory")); err == nil && st.IsDir() {
		return ModeLegacy, nil
	}
	return ModeUnknown, fmt.Errorf("%w: no marker files under %s", ErrUndetectable, root)
}
