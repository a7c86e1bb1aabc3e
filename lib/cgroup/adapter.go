package cgroup

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/cradlehost/cradle/lib/logger"
	"github.com/cradlehost/cradle/lib/runtime"
)

// Subsystem names as the runtime control channel reports them.
const (
	subsysMemory = "memory"
	subsysCPU    = "cpu"
	subsysIO     = "blkio"
	subsysCPUSet = "cpuset"
)

// Adapter resolves a container's cgroup directories and performs reads and
// limit writes against them. Resolved paths are cached for the adapter's
// lifetime.
type Adapter struct {
	channel runtime.Channel
	mode    Mode
	root    string

	mu    sync.Mutex
	paths map[string]string // id + "|" + subsystem -> relative cgroup path

	writeFile func(path, value string) error
}

// Option adjusts an Adapter, mainly for tests.
type Option func(*Adapter)

// WithRoot overrides the cgroup filesystem root.
func WithRoot(root string) Option {
	return func(a *Adapter) { a.root = root }
}

// WithMode pins the hierarchy generation instead of detecting it.
func WithMode(m Mode) Option {
	return func(a *Adapter) { a.mode = m }
}

// NewAdapter creates an adapter for the host's detected cgroup mode.
func NewAdapter(ch runtime.Channel, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		channel:   ch,
		root:      DefaultRoot,
		paths:     map[string]string{},
		writeFile: writeControlFile,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.mode == ModeUnknown {
		mode, err := DetectMode()
		if err != nil {
			return nil, err
		}
		a.mode = mode
	}
	return a, nil
}

func writeControlFile(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}

// dir resolves the absolute cgroup directory for one subsystem of one
// container. An empty result means the container is inactive; readers treat
// that as all-zero, writers fail with ErrNotRunning.
func (a *Adapter) dir(ctx context.Context, id, subsystem string) (string, error) {
	a.mu.Lock()
	rel, ok := a.paths[id+"|"+subsystem]
	a.mu.Unlock()

	if !ok {
		var err error
		rel, err = a.channel.CGroupPath(ctx, id, subsystem)
		if err != nil {
			logger.FromContext(ctx).DebugContext(ctx, "cgroup path unresolved",
				"container_id", id, "subsystem", subsystem, "error", err)
			rel = ""
		}
		if rel != "" {
			a.mu.Lock()
			a.paths[id+"|"+subsystem] = rel
			a.mu.Unlock()
		}
	}
	if rel == "" {
		return "", nil
	}

	if a.mode == ModeUnified {
		return filepath.Join(a.root, rel), nil
	}
	return filepath.Join(a.root, subsystem, rel), nil
}

// readValue returns the trimmed content of one control file, or "" when the
// file is absent.
func (a *Adapter) readValue(dir, file string) string {
	raw, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return ""
	}
	return trimValue(string(raw))
}
