package ctconfig

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/samber/lo"
)

// validatorKind selects how a key's value is checked. Dispatch is by matching
// the variant tag, never by runtime method lookup.
type validatorKind int

const (
	acceptAny validatorKind = iota
	matchPattern
	customCheck
)

// keySpec describes one vocabulary entry: its validator variant, whether the
// key is an ordered array option, and how the validated value lands in Config.
type keySpec struct {
	kind    validatorKind
	pattern *regexp.Regexp
	check   func(value string) error
	array   bool
	set     func(c *Config, value string) error
}

func (ks keySpec) validate(key, value string) error {
	switch ks.kind {
	case acceptAny:
		return nil
	case matchPattern:
		if !ks.pattern.MatchString(value) {
			return fmt.Errorf("%w: %s = %q", ErrInvalidValue, key, value)
		}
		return nil
	case customCheck:
		if err := ks.check(value); err != nil {
			return fmt.Errorf("%w: %s = %q: %v", ErrInvalidValue, key, value, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s has no validator", ErrInconsistent, key)
	}
}

var (
	hostnameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.-]{0,62}$`)
	numberRE   = regexp.MustCompile(`^\d+$`)
	floatRE    = regexp.MustCompile(`^\d+(\.\d+)?$`)
	startupRE  = regexp.MustCompile(`^order=\d+(,up=\d+)?(,down=\d+)?$`)
	snapNameRE = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)
	volumeRE   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*:\S+$`)
	ifaceRE    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,14}$`)
	pairRE     = regexp.MustCompile(`^veth\d+\.\d+$`)
	hwaddrRE   = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
	bridgeRE   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]{0,14}$`)
	idMapRE    = regexp.MustCompile(`^[ug] \d+ \d+ \d+$`)
	capRE      = regexp.MustCompile(`^[a-z_]+$`)
)

var osTypes = []string{"alpine", "archlinux", "centos", "debian", "fedora", "ubuntu", "unmanaged"}
var archTypes = []string{"amd64", "arm64", "armhf", "i386", "riscv64"}
var lockTokens = []string{string(LockSnapshot), string(LockRollback), string(LockDelete), string(LockBackup)}

func enumOf(allowed []string) func(string) error {
	return func(v string) error {
		if !lo.Contains(allowed, v) {
			return fmt.Errorf("not one of %s", strings.Join(allowed, ", "))
		}
		return nil
	}
}

// listOf accepts comma or space separated values, each checked item-wise.
func listOf(item func(string) error) func(string) error {
	return func(v string) error {
		for _, part := range splitList(v) {
			if err := item(part); err != nil {
				return err
			}
		}
		return nil
	}
}

func splitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
}

func checkIP(v string) error {
	if ip := net.ParseIP(v); ip == nil {
		return fmt.Errorf("not an IP address")
	}
	return nil
}

func checkCIDR(v string) error {
	if _, _, err := net.ParseCIDR(v); err != nil {
		return fmt.Errorf("not in CIDR notation")
	}
	return nil
}

func checkDomain(v string) error {
	if !hostnameRE.MatchString(v) {
		return fmt.Errorf("not a domain name")
	}
	return nil
}

func checkBool(v string) error {
	if v != "0" && v != "1" {
		return fmt.Errorf("expected 0 or 1")
	}
	return nil
}

func checkVlanTag(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 4094 {
		return fmt.Errorf("expected a VLAN tag in 1..4094")
	}
	return nil
}

// parseSize accepts a bare byte count or a size literal with a b/k/m/g/t
// suffix (binary multiples, handled by datasize).
func parseSize(v string) (int64, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size")
		}
		return n, nil
	}
	var bs datasize.ByteSize
	if err := bs.UnmarshalText([]byte(v)); err != nil {
		return 0, fmt.Errorf("not a size literal")
	}
	return int64(bs.Bytes()), nil
}

func checkSize(v string) error {
	_, err := parseSize(v)
	return err
}

// formatSize emits the largest suffix that divides the value evenly, so
// values survive a serialize/parse round trip unchanged.
func formatSize(n int64) string {
	const (
		kib = 1 << 10
		mib = 1 << 20
		gib = 1 << 30
	)
	switch {
	case n >= gib && n%gib == 0:
		return fmt.Sprintf("%dG", n/gib)
	case n >= mib && n%mib == 0:
		return fmt.Sprintf("%dM", n/mib)
	case n >= kib && n%kib == 0:
		return fmt.Sprintf("%dK", n/kib)
	default:
		return strconv.FormatInt(n, 10)
	}
}

func setInt(dst *int) func(*Config, string) error {
	return func(_ *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

// keyTable is the closed top-level vocabulary. Anything absent here fails the
// whole parse with ErrUnknownKey.
var keyTable = map[string]keySpec{
	// Orchestration namespace.
	"ct.hostname": {kind: matchPattern, pattern: hostnameRE,
		set: func(c *Config, v string) error { c.Hostname = v; return nil }},
	"ct.memory": {kind: customCheck, check: checkSize,
		set: func(c *Config, v string) error { n, err := parseSize(v); c.Memory = n; return err }},
	"ct.swap": {kind: customCheck, check: checkSize,
		set: func(c *Config, v string) error { n, err := parseSize(v); c.Swap = n; return err }},
	"ct.cores": {kind: matchPattern, pattern: numberRE,
		set: func(c *Config, v string) error { n, err := strconv.Atoi(v); c.Cores = n; return err }},
	"ct.cpulimit": {kind: matchPattern, pattern: floatRE,
		set: func(c *Config, v string) error { f, err := strconv.ParseFloat(v, 64); c.CPULimit = f; return err }},
	"ct.cpuunits": {kind: matchPattern, pattern: numberRE,
		set: func(c *Config, v string) error { n, err := strconv.Atoi(v); c.CPUUnits = n; return err }},
	"ct.onboot": {kind: customCheck, check: checkBool,
		set: func(c *Config, v string) error { c.OnBoot = v == "1"; return nil }},
	"ct.ostype": {kind: customCheck, check: enumOf(osTypes),
		set: func(c *Config, v string) error { c.OSType = v; return nil }},
	"ct.startup": {kind: matchPattern, pattern: startupRE,
		set: func(c *Config, v string) error { c.Startup = v; return nil }},
	"ct.comment": {kind: acceptAny,
		set: func(c *Config, v string) error { c.Comment = v; return nil }},
	"ct.parent": {kind: matchPattern, pattern: snapNameRE,
		set: func(c *Config, v string) error { c.Parent = v; return nil }},
	"ct.lock": {kind: customCheck, check: enumOf(lockTokens),
		set: func(c *Config, v string) error { c.Lock = LockType(v); return nil }},
	"ct.rootfs": {kind: matchPattern, pattern: volumeRE,
		set: func(c *Config, v string) error { c.RootFS = v; return nil }},
	"ct.searchdomain": {kind: customCheck, check: listOf(checkDomain),
		set: func(c *Config, v string) error { c.SearchDomain = v; return nil }},
	"ct.nameserver": {kind: customCheck, check: listOf(checkIP),
		set: func(c *Config, v string) error { c.Nameserver = v; return nil }},

	// Runtime namespace.
	"lxc.arch": {kind: customCheck, check: enumOf(archTypes),
		set: func(c *Config, v string) error { c.Arch = v; return nil }},
	"lxc.tty": {kind: matchPattern, pattern: numberRE,
		set: func(c *Config, v string) error { n, err := strconv.Atoi(v); c.TTY = n; return err }},
	"lxc.cap.drop": {kind: customCheck, check: listOf(func(s string) error {
		if !capRE.MatchString(s) {
			return fmt.Errorf("not a capability name")
		}
		return nil
	}),
		set: func(c *Config, v string) error { c.CapDrop = v; return nil }},
	"lxc.include": {kind: acceptAny, array: true,
		set: func(c *Config, v string) error { c.Include = append(c.Include, v); return nil }},
	"lxc.mount.entry": {kind: acceptAny, array: true,
		set: func(c *Config, v string) error { c.MountEntries = append(c.MountEntries, v); return nil }},
	"lxc.id_map": {kind: matchPattern, pattern: idMapRE, array: true,
		set: func(c *Config, v string) error { c.IDMap = append(c.IDMap, v); return nil }},
}

// netKeySpec is a vocabulary entry for a network record sub-key.
type netKeySpec struct {
	kind    validatorKind
	pattern *regexp.Regexp
	check   func(value string) error
	set     func(rec *NetworkInterface, value string) error
}

func (ks netKeySpec) validate(key, value string) error {
	return keySpec{kind: ks.kind, pattern: ks.pattern, check: ks.check}.validate(key, value)
}

const (
	netTypeKey     = "lxc.net.type"
	netRuntimePfx  = "lxc.net."
	netOrchestrPfx = "ct.net."
)

// netKeyTable is the closed vocabulary for record sub-keys. The lxc.net.*
// side speaks for the interface transport, the ct.net.* side for
// orchestration concerns; the two sets are disjoint.
var netKeyTable = map[string]netKeySpec{
	"lxc.net.name": {kind: matchPattern, pattern: ifaceRE,
		set: func(r *NetworkInterface, v string) error { r.Name = v; return nil }},
	"lxc.net.veth.pair": {kind: matchPattern, pattern: pairRE,
		set: func(r *NetworkInterface, v string) error { r.HostPair = v; return nil }},
	"lxc.net.hwaddr": {kind: matchPattern, pattern: hwaddrRE,
		set: func(r *NetworkInterface, v string) error { r.HWAddr = strings.ToUpper(v); return nil }},
	"lxc.net.mtu": {kind: matchPattern, pattern: numberRE,
		set: func(r *NetworkInterface, v string) error { n, err := strconv.Atoi(v); r.MTU = n; return err }},
	"ct.net.bridge": {kind: matchPattern, pattern: bridgeRE,
		set: func(r *NetworkInterface, v string) error { r.Bridge = v; return nil }},
	"ct.net.tag": {kind: customCheck, check: checkVlanTag,
		set: func(r *NetworkInterface, v string) error { n, err := strconv.Atoi(v); r.Tag = n; return err }},
	"ct.net.firewall": {kind: customCheck, check: checkBool,
		set: func(r *NetworkInterface, v string) error { r.Firewall = v == "1"; return nil }},
	"ct.net.ip": {kind: customCheck, check: checkCIDR,
		set: func(r *NetworkInterface, v string) error { r.IP = v; return nil }},
	"ct.net.gw": {kind: customCheck, check: checkIP,
		set: func(r *NetworkInterface, v string) error { r.Gateway = v; return nil }},
	"ct.net.ip6": {kind: customCheck, check: checkCIDR,
		set: func(r *NetworkInterface, v string) error { r.IP6 = v; return nil }},
	"ct.net.gw6": {kind: customCheck, check: checkIP,
		set: func(r *NetworkInterface, v string) error { r.Gateway6 = v; return nil }},
}

func isNetKey(key string) bool {
	return strings.HasPrefix(key, netRuntimePfx) || strings.HasPrefix(key, netOrchestrPfx)
}
