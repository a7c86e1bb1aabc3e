// Package paths provides centralized path construction for the cradle data directory.
package paths

import (
	"fmt"
	"path/filepath"
)

// Paths provides typed path construction for the cradle data directory.
//
// Filesystem structure:
//
//	{dataDir}/containers/{id}/config      # persisted container configuration
//	{dataDir}/locks/{id}.lock             # advisory lock file per container
type Paths struct {
	dataDir string
}

// New creates a new Paths instance for the given data directory.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// ContainersDir returns the root containers directory.
func (p *Paths) ContainersDir() string {
	return filepath.Join(p.dataDir, "containers")
}

// ContainerDir returns the directory for a container.
func (p *Paths) ContainerDir(id string) string {
	return filepath.Join(p.ContainersDir(), id)
}

// ConfigFile returns the path to a container's persisted configuration.
func (p *Paths) ConfigFile(id string) string {
	return filepath.Join(p.ContainerDir(id), "config")
}

// LocksDir returns the directory holding per-container lock files.
func (p *Paths) LocksDir() string {
	return filepath.Join(p.dataDir, "locks")
}

// LockFile returns the path to a container's advisory lock file.
func (p *Paths) LockFile(id string) string {
	return filepath.Join(p.LocksDir(), fmt.Sprintf("%s.lock", id))
}
