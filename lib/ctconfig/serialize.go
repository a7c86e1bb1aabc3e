package ctconfig

import (
	"crypto/sha1"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type kv struct {
	key   string
	value string
}

// Serialize encodes the Config to its persisted text form and refreshes the
// digest. Every field the parser accepts has an emit rule below; a value that
// fails its own key's validator at this point is an internal-consistency
// error, not a user error.
func (c *Config) Serialize() ([]byte, error) {
	var sb strings.Builder

	if err := emitSection(&sb, c, ""); err != nil {
		return nil, err
	}

	for _, snap := range c.snapshotsByAge() {
		sb.WriteString("\n")
		if err := emitSnapshot(&sb, snap); err != nil {
			return nil, err
		}
	}

	out := []byte(sb.String())
	c.Digest = digest(out)
	return out, nil
}

// digest hashes a serialized byte representation. External staleness checks
// only; nothing in this package enforces it.
func digest(raw []byte) string {
	return fmt.Sprintf("%x", sha1.Sum(raw))
}

func sortSnapshots(snaps []*Snapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
		}
		return snaps[i].Name < snaps[j].Name
	})
}

// emitSection writes one blank-line-delimited section: the include key first,
// then orchestration keys, then runtime keys, then network records, each
// group lexicographically sorted for determinism.
func emitSection(sb *strings.Builder, c *Config, prefix string) error {
	for _, inc := range c.Include {
		if err := emitKV(sb, prefix, "lxc.include", inc); err != nil {
			return err
		}
	}

	for _, group := range [][]kv{collectOrchestration(c), collectRuntime(c)} {
		sort.SliceStable(group, func(i, j int) bool { return group[i].key < group[j].key })
		for _, entry := range group {
			if err := emitKV(sb, prefix, entry.key, entry.value); err != nil {
				return err
			}
		}
	}

	return emitNetwork(sb, c, prefix)
}

func collectOrchestration(c *Config) []kv {
	var out []kv
	add := func(key, value string) {
		if value != "" {
			out = append(out, kv{key, value})
		}
	}
	add("ct.hostname", c.Hostname)
	if c.Memory > 0 {
		add("ct.memory", formatSize(c.Memory))
	}
	if c.Swap > 0 {
		add("ct.swap", formatSize(c.Swap))
	}
	if c.Cores > 0 {
		add("ct.cores", strconv.Itoa(c.Cores))
	}
	if c.CPULimit > 0 {
		add("ct.cpulimit", strconv.FormatFloat(c.CPULimit, 'f', -1, 64))
	}
	if c.CPUUnits > 0 {
		add("ct.cpuunits", strconv.Itoa(c.CPUUnits))
	}
	if c.OnBoot {
		add("ct.onboot", "1")
	}
	add("ct.ostype", c.OSType)
	add("ct.startup", c.Startup)
	add("ct.comment", c.Comment)
	add("ct.parent", c.Parent)
	add("ct.lock", string(c.Lock))
	add("ct.rootfs", c.RootFS)
	add("ct.searchdomain", c.SearchDomain)
	add("ct.nameserver", c.Nameserver)
	return out
}

func collectRuntime(c *Config) []kv {
	var out []kv
	if c.Arch != "" {
		out = append(out, kv{"lxc.arch", c.Arch})
	}
	if c.CapDrop != "" {
		out = append(out, kv{"lxc.cap.drop", c.CapDrop})
	}
	for _, m := range c.IDMap {
		out = append(out, kv{"lxc.id_map", m})
	}
	for _, m := range c.MountEntries {
		out = append(out, kv{"lxc.mount.entry", m})
	}
	if c.TTY > 0 {
		out = append(out, kv{"lxc.tty", strconv.Itoa(c.TTY)})
	}
	return out
}

// emitNetwork writes records by ascending slot, or the empty sentinel when a
// network section was declared with no interfaces.
func emitNetwork(sb *strings.Builder, c *Config, prefix string) error {
	any := false
	for slot := 0; slot < MaxInterfaces; slot++ {
		rec := c.Interfaces[slot]
		if rec == nil {
			continue
		}
		any = true
		if rec.Type != TypeVeth {
			return fmt.Errorf("%w: network slot %d has unsupported type %q", ErrInconsistent, slot, rec.Type)
		}
		fields := []kv{
			{netTypeKey, rec.Type},
			{"lxc.net.name", rec.Name},
			{"lxc.net.veth.pair", rec.HostPair},
			{"lxc.net.hwaddr", rec.HWAddr},
			{"ct.net.bridge", rec.Bridge},
			{"ct.net.ip", rec.IP},
			{"ct.net.gw", rec.Gateway},
			{"ct.net.ip6", rec.IP6},
			{"ct.net.gw6", rec.Gateway6},
		}
		if rec.MTU > 0 {
			fields = append(fields, kv{"lxc.net.mtu", strconv.Itoa(rec.MTU)})
		}
		if rec.Tag > 0 {
			fields = append(fields, kv{"ct.net.tag", strconv.Itoa(rec.Tag)})
		}
		if rec.Firewall {
			fields = append(fields, kv{"ct.net.firewall", "1"})
		}
		for _, f := range fields {
			if f.value == "" {
				continue
			}
			if err := emitNetKV(sb, prefix, f.key, f.value); err != nil {
				return err
			}
		}
	}

	if !any && c.NetConfigured {
		fmt.Fprintf(sb, "%s%s = %s\n", prefix, netTypeKey, typeEmpty)
	}
	return nil
}

func emitSnapshot(sb *strings.Builder, snap *Snapshot) error {
	inner := &snap.Config
	if inner.Lock != LockNone || inner.Comment != "" || inner.Digest != "" || len(inner.Snapshots) > 0 {
		return fmt.Errorf("%w: snapshot %q carries live-only fields", ErrInconsistent, snap.Name)
	}
	switch snap.State {
	case SnapReady, SnapPreparing, SnapDeleting:
	default:
		return fmt.Errorf("%w: snapshot %q state %q", ErrInconsistent, snap.Name, snap.State)
	}

	fmt.Fprintf(sb, "%sname = %s\n", snapPrefix, snap.Name)
	fmt.Fprintf(sb, "%stime = %d\n", snapPrefix, snap.CreatedAt.Unix())
	if snap.State != SnapReady {
		fmt.Fprintf(sb, "%sstate = %s\n", snapPrefix, snap.State)
	}
	for _, line := range commentLines(snap.Comment) {
		fmt.Fprintf(sb, "# %s\n", line)
	}
	return emitSection(sb, inner, snapPrefix)
}

func commentLines(comment string) []string {
	if comment == "" {
		return nil
	}
	return strings.Split(comment, "\n")
}

// emitKV re-validates through the key's own parse-time validator before
// writing, so a programmatically corrupted field surfaces here instead of on
// the next load.
func emitKV(sb *strings.Builder, prefix, key, value string) error {
	spec, ok := keyTable[key]
	if !ok {
		return fmt.Errorf("%w: no emit rule for key %q", ErrInconsistent, key)
	}
	if strings.ContainsAny(value, "\n\r") {
		return fmt.Errorf("%w: %s value spans lines", ErrInconsistent, key)
	}
	if err := spec.validate(key, value); err != nil {
		return fmt.Errorf("%w: %v", ErrInconsistent, err)
	}
	fmt.Fprintf(sb, "%s%s = %s\n", prefix, key, value)
	return nil
}

func emitNetKV(sb *strings.Builder, prefix, key, value string) error {
	if key != netTypeKey {
		spec, ok := netKeyTable[key]
		if !ok {
			return fmt.Errorf("%w: no emit rule for key %q", ErrInconsistent, key)
		}
		if err := spec.validate(key, value); err != nil {
			return fmt.Errorf("%w: %v", ErrInconsistent, err)
		}
	}
	fmt.Fprintf(sb, "%s%s = %s\n", prefix, key, value)
	return nil
}
