// Package store persists container configurations and provides the
// per-container advisory locking discipline that serializes config-mutating
// operations across the host.
package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/cradlehost/cradle/lib/logger"
	"github.com/cradlehost/cradle/lib/paths"
)

// Store is durable load/save keyed by container id. Callers performing
// multi-step mutation must hold the container lock across the whole sequence.
type Store interface {
	Load(ctx context.Context, id string) (*ctconfig.Config, error)
	Write(ctx context.Context, id string, cfg *ctconfig.Config) error
	Create(ctx context.Context, id string, cfg *ctconfig.Config) error
	Destroy(ctx context.Context, id string) error

	// Lock acquires the container's exclusive lock with the default timeout.
	Lock(ctx context.Context, id string) (*Lock, error)

	// WithLock runs fn while holding the container's lock, releasing on every
	// exit path and re-raising fn's failure after release.
	WithLock(ctx context.Context, id string, fn func(ctx context.Context) error) error
}

type fileStore struct {
	paths   *paths.Paths
	locks   *LockTable
	timeout time.Duration
}

// Option adjusts a Store.
type Option func(*fileStore)

// WithLockTimeout overrides the default lock acquisition timeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *fileStore) { s.timeout = d }
}

// NewStore creates a file-backed store rooted at the given paths.
func NewStore(p *paths.Paths, locks *LockTable, opts ...Option) Store {
	s := &fileStore{paths: p, locks: locks, timeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *fileStore) Load(ctx context.Context, id string) (*ctconfig.Config, error) {
	raw, err := os.ReadFile(s.paths.ConfigFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read config %s: %w", id, err)
	}

	cfg, err := ctconfig.Parse(id, raw)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", id, err)
	}
	return cfg, nil
}

// Write persists with replace-on-write semantics: the serialized form lands
// in a temp file that is renamed over the old config.
func (s *fileStore) Write(ctx context.Context, id string, cfg *ctconfig.Config) error {
	raw, err := cfg.Serialize()
	if err != nil {
		return fmt.Errorf("serialize config %s: %w", id, err)
	}

	target := s.paths.ConfigFile(id)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", id, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config %s: %w", id, err)
	}
	return nil
}

func (s *fileStore) Create(ctx context.Context, id string, cfg *ctconfig.Config) error {
	dir := s.paths.ContainerDir(id)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create container directory: %w", err)
	}

	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "creating container config", "container_id", id)
	return s.Write(ctx, id, cfg)
}

// Destroy removes all persisted state for the container, irreversibly.
func (s *fileStore) Destroy(ctx context.Context, id string) error {
	if _, err := os.Stat(s.paths.ContainerDir(id)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "destroying container state", "container_id", id)
	if err := os.RemoveAll(s.paths.ContainerDir(id)); err != nil {
		return fmt.Errorf("remove container directory: %w", err)
	}
	_ = os.Remove(s.paths.LockFile(id))
	return nil
}

func (s *fileStore) Lock(ctx context.Context, id string) (*Lock, error) {
	return s.locks.Acquire(ctx, s.paths.LockFile(id), s.timeout)
}

func (s *fileStore) WithLock(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	lock, err := s.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn(ctx)
}
