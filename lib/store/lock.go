package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultLockTimeout bounds lock acquisition unless the caller overrides it.
const DefaultLockTimeout = 10 * time.Second

const lockRetryInterval = 100 * time.Millisecond

// LockTable is the process-scoped table of held container locks. Acquiring a
// lock this process already holds increments a reference count and returns
// immediately; the underlying flock is released only when the count reaches
// zero. Cross-process exclusion is advisory: a process bypassing the lock
// file is not excluded.
type LockTable struct {
	mu      sync.Mutex // held only for map bookkeeping, never across a wait
	handles map[string]*lockHandle
}

type lockHandle struct {
	file *os.File
	refs int
}

// Lock is a held container lock. Callers own it and must call Release on
// every exit path.
type Lock struct {
	table    *LockTable
	path     string
	released bool
}

// NewLockTable creates an empty lock table. One per process is the intended
// shape; inject it where locking is needed rather than reaching for a global.
func NewLockTable() *LockTable {
	return &LockTable{handles: map[string]*lockHandle{}}
}

// Acquire takes the exclusive advisory lock backed by the given lock file,
// waiting up to timeout. Interrupted waits are retried transparently; an
// exhausted timeout returns ErrLockTimeout.
func (t *LockTable) Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	deadline := time.Now().Add(timeout)

	var file *os.File
	for {
		t.mu.Lock()
		if h, ok := t.handles[path]; ok {
			h.refs++
			t.mu.Unlock()
			if file != nil {
				file.Close()
			}
			return &Lock{table: t, path: path}, nil
		}

		if file == nil {
			f, err := openLockFile(path)
			if err != nil {
				t.mu.Unlock()
				return nil, err
			}
			file = f
		}

		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			t.handles[path] = &lockHandle{file: file, refs: 1}
			t.mu.Unlock()
			return &Lock{table: t, path: path}, nil
		}
		t.mu.Unlock()

		if errors.Is(err, unix.EINTR) {
			continue
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			file.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		if time.Now().After(deadline) {
			file.Close()
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, path)
		}

		select {
		case <-ctx.Done():
			file.Close()
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// Release decrements the reference count and drops the underlying flock at
// zero. Releasing twice is a no-op.
func (l *Lock) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true

	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[l.path]
	if !ok {
		return
	}
	h.refs--
	if h.refs > 0 {
		return
	}
	delete(t.handles, l.path)
	_ = unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	_ = h.file.Close()
}

func openLockFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}
