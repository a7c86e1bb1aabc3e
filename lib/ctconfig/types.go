package ctconfig

import "time"

// MaxInterfaces bounds the network slot range. Host pair names are scanned in
// veth<id>.0 .. veth<id>.9; when every slot is taken, parsing fails rather
// than growing the range.
const MaxInterfaces = 10

// LockType is the on-disk mutual-exclusion marker set while a long,
// multi-phase operation is in flight.
type LockType string

const (
	LockNone     LockType = ""
	LockSnapshot LockType = "snapshot"
	LockRollback LockType = "rollback"
	LockDelete   LockType = "delete"
	LockBackup   LockType = "backup"
)

// SnapState tags a snapshot's position in its lifecycle. Transitions are
// forward-only: preparing -> ready -> deleting -> removed.
type SnapState string

const (
	SnapPreparing SnapState = "preparing"
	SnapReady     SnapState = "ready"
	SnapDeleting  SnapState = "deleting"
)

// TypeVeth is the only supported interface transport kind. The empty
// sentinel used in the persisted format is not a real transport.
const TypeVeth = "veth"

const typeEmpty = "empty"

// NetworkInterface is one configured interface record. The host pair name is
// derived from container id and slot when not explicit; the hardware address
// is generated when absent.
type NetworkInterface struct {
	Type     string // transport kind; only "veth" is supported
	Name     string // guest-visible interface name
	HostPair string // host-side endpoint, veth<id>.<slot>
	HWAddr   string
	MTU      int
	Bridge   string
	Tag      int // VLAN tag, 0 = untagged
	Firewall bool
	IP       string // IPv4 address in CIDR notation
	Gateway  string
	IP6      string // IPv6 address in CIDR notation
	Gateway6 string
}

// Snapshot is a point-in-time copy of a container's configuration plus
// snapshot-only metadata. The embedded Config never carries a digest, a lock
// token, a comment, or snapshots of its own.
type Snapshot struct {
	Name      string
	CreatedAt time.Time
	Comment   string
	State     SnapState
	Config    Config
}

// Config is the full persisted state of one container.
type Config struct {
	// Orchestration options (ct.* namespace).
	Hostname     string
	Memory       int64 // bytes, 0 = unset
	Swap         int64 // bytes, 0 = unset
	Cores        int
	CPULimit     float64
	CPUUnits     int
	OnBoot       bool
	OSType       string
	Startup      string
	Comment      string
	Parent       string // most recent committed snapshot
	Lock         LockType
	RootFS       string // volume id, storage:volume
	SearchDomain string
	Nameserver   string

	// Runtime options (lxc.* namespace).
	Arch         string
	TTY          int
	CapDrop      string
	Include      []string // ordered, append-only
	MountEntries []string // ordered, append-only
	IDMap        []string // ordered, append-only

	// Interfaces is indexed by slot, the numeric suffix of the host pair
	// name. NetConfigured distinguishes "no interfaces declared" from
	// "network section absent": both yield zero records, only the former
	// serializes the empty sentinel.
	Interfaces    [MaxInterfaces]*NetworkInterface
	NetConfigured bool

	Snapshots map[string]*Snapshot

	// Digest of the last serialized byte representation. Callers use it for
	// optimistic staleness detection; it is never enforced here.
	Digest string
}

// SlotInUse reports whether a network slot holds a record.
func (c *Config) SlotInUse(slot int) bool {
	return slot >= 0 && slot < MaxInterfaces && c.Interfaces[slot] != nil
}

// Running-order helper: snapshots sorted newest first for serialization and
// for parent chains.
func (c *Config) snapshotsByAge() []*Snapshot {
	out := make([]*Snapshot, 0, len(c.Snapshots))
	for _, s := range c.Snapshots {
		out = append(out, s)
	}
	sortSnapshots(out)
	return out
}
