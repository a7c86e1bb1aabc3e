package ctconfig

import "slices"

// SnapshotCopy deep-copies every field that belongs in a snapshot. The
// digest, lock token, snapshot map, and free-text comment stay behind.
func (c *Config) SnapshotCopy() Config {
	out := *c
	out.Comment = ""
	out.Lock = LockNone
	out.Digest = ""
	out.Snapshots = nil

	out.Include = slices.Clone(c.Include)
	out.MountEntries = slices.Clone(c.MountEntries)
	out.IDMap = slices.Clone(c.IDMap)
	for slot, rec := range c.Interfaces {
		if rec != nil {
			cp := *rec
			out.Interfaces[slot] = &cp
		}
	}
	return out
}

// RestoreFrom overlays a snapshot's copied fields back onto the live config.
// The same exclusion set applies: the live digest, lock token, comment, and
// snapshot map survive the overlay.
func (c *Config) RestoreFrom(snap Config) {
	restored := snap.SnapshotCopy()
	restored.Comment = c.Comment
	restored.Lock = c.Lock
	restored.Digest = c.Digest
	restored.Snapshots = c.Snapshots
	*c = restored
}
