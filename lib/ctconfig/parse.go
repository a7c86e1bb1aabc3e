package ctconfig

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var lineRE = regexp.MustCompile(`^(\S+)\s*=\s*(.*?)\s*$`)

const snapPrefix = "snap."

// Parse decodes the persisted text form of a container's configuration. The
// container id seeds host-pair name generation for records that omit one.
//
// The parse is all or nothing: any unknown key, invalid value, or duplicate
// scalar aborts with an error and no partial Config is ever returned.
func Parse(id string, raw []byte) (*Config, error) {
	cfg := &Config{Snapshots: map[string]*Snapshot{}}

	sections := splitSections(string(raw))
	for i, section := range sections {
		if i == 0 {
			if err := parseLiveSection(id, cfg, section); err != nil {
				return nil, err
			}
			continue
		}
		if err := parseSnapshotSection(id, cfg, section); err != nil {
			return nil, err
		}
	}

	cfg.Digest = digest(raw)
	return cfg, nil
}

// splitSections groups lines into blank-line-delimited sections. Runs of
// blank lines collapse; a leading blank run still leaves the first section
// the live one.
func splitSections(raw string) [][]string {
	var sections [][]string
	var cur []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				sections = append(sections, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		sections = append(sections, cur)
	}
	return sections
}

// sectionParser accumulates key/value lines into one Config scope (the live
// config or a single snapshot's copy), tracking scalar uniqueness and the
// currently open network record.
type sectionParser struct {
	id       string
	cfg      *Config
	seen     map[string]bool
	open     *NetworkInterface
	netSeen  map[string]bool // sub-keys of the open network record
	snapshot bool            // restrict keys excluded from snapshot copies
}

func newSectionParser(id string, cfg *Config, snapshot bool) *sectionParser {
	return &sectionParser{id: id, cfg: cfg, seen: map[string]bool{}, snapshot: snapshot}
}

func (sp *sectionParser) handleLine(key, value string) error {
	if isNetKey(key) {
		return sp.handleNetLine(key, value)
	}
	if err := sp.closeRecord(); err != nil {
		return err
	}

	spec, ok := keyTable[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if sp.snapshot && (key == "ct.lock" || key == "ct.comment") {
		return fmt.Errorf("%w: %s is not part of a snapshot", ErrInvalidValue, key)
	}
	if !spec.array {
		if sp.seen[key] {
			return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}
		sp.seen[key] = true
	}
	if err := spec.validate(key, value); err != nil {
		return err
	}
	return spec.set(sp.cfg, value)
}

func (sp *sectionParser) handleNetLine(key, value string) error {
	if key == netTypeKey {
		if err := sp.closeRecord(); err != nil {
			return err
		}
		switch value {
		case TypeVeth:
			sp.open = &NetworkInterface{Type: TypeVeth}
			sp.netSeen = map[string]bool{}
		case typeEmpty:
			// Explicitly-empty interface set: round-trips distinguishably
			// from a config that never declared a network section.
			sp.cfg.NetConfigured = true
		default:
			return fmt.Errorf("%w: %s = %q", ErrInvalidValue, key, value)
		}
		return nil
	}

	if sp.open == nil {
		return fmt.Errorf("%w: %s outside a network record", ErrInvalidValue, key)
	}
	spec, ok := netKeyTable[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if sp.netSeen[key] {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	sp.netSeen[key] = true
	if err := spec.validate(key, value); err != nil {
		return err
	}
	return spec.set(sp.open, value)
}

// closeRecord finalizes the open network record: fills in a generated host
// pair name and hardware address when absent and stores the record under the
// slot named by the pair's numeric suffix.
func (sp *sectionParser) closeRecord() error {
	rec := sp.open
	if rec == nil {
		return nil
	}
	sp.open = nil

	if rec.HostPair == "" {
		pair, err := freeHostPair(sp.id, sp.cfg)
		if err != nil {
			return err
		}
		rec.HostPair = pair
	}
	if rec.HWAddr == "" {
		hw, err := GenerateHWAddr()
		if err != nil {
			return err
		}
		rec.HWAddr = hw
	}

	slot, err := pairSlot(rec.HostPair)
	if err != nil {
		return err
	}
	if sp.cfg.Interfaces[slot] != nil {
		return fmt.Errorf("%w: network slot %d defined twice", ErrInvalidValue, slot)
	}
	sp.cfg.Interfaces[slot] = rec
	sp.cfg.NetConfigured = true
	return nil
}

func parseLiveSection(id string, cfg *Config, lines []string) error {
	sp := newSectionParser(id, cfg, false)
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		key, value, err := splitKV(line)
		if err != nil {
			return err
		}
		if strings.HasPrefix(key, snapPrefix) {
			return fmt.Errorf("%w: %s in live section", ErrInvalidValue, key)
		}
		if err := sp.handleLine(key, value); err != nil {
			return err
		}
	}
	return sp.closeRecord()
}

// parseSnapshotSection reads one snapshot section. Every key line carries the
// snap. prefix; a snap.name line opens a snapshot scope (and may switch to a
// new one mid-section); comment-marker lines merge into the open snapshot's
// comment.
func parseSnapshotSection(id string, cfg *Config, lines []string) error {
	var snap *Snapshot
	var sp *sectionParser

	finish := func() error {
		if sp != nil {
			return sp.closeRecord()
		}
		return nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if snap == nil {
				return fmt.Errorf("%w: comment before snapshot name", ErrInvalidValue)
			}
			text := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if snap.Comment == "" {
				snap.Comment = text
			} else {
				snap.Comment += "\n" + text
			}
			continue
		}

		key, value, err := splitKV(line)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(key, snapPrefix) {
			return fmt.Errorf("%w: %s in snapshot section", ErrInvalidValue, key)
		}
		key = strings.TrimPrefix(key, snapPrefix)

		switch key {
		case "name":
			if err := finish(); err != nil {
				return err
			}
			if !snapNameRE.MatchString(value) {
				return fmt.Errorf("%w: snap.name = %q", ErrInvalidValue, value)
			}
			if _, exists := cfg.Snapshots[value]; exists {
				return fmt.Errorf("%w: %q", ErrDuplicateName, value)
			}
			snap = &Snapshot{Name: value, State: SnapReady}
			snap.Config.Snapshots = nil
			cfg.Snapshots[value] = snap
			sp = newSectionParser(id, &snap.Config, true)
		case "time":
			if snap == nil {
				return fmt.Errorf("%w: snap.time before snap.name", ErrInvalidValue)
			}
			secs, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: snap.time = %q", ErrInvalidValue, value)
			}
			snap.CreatedAt = time.Unix(secs, 0).UTC()
		case "state":
			if snap == nil {
				return fmt.Errorf("%w: snap.state before snap.name", ErrInvalidValue)
			}
			switch SnapState(value) {
			case SnapPreparing, SnapDeleting:
				snap.State = SnapState(value)
			default:
				return fmt.Errorf("%w: snap.state = %q", ErrInvalidValue, value)
			}
		default:
			if sp == nil {
				return fmt.Errorf("%w: snapshot key before snap.name", ErrInvalidValue)
			}
			if err := sp.handleLine(key, value); err != nil {
				return err
			}
		}
	}
	return finish()
}

func splitKV(line string) (string, string, error) {
	m := lineRE.FindStringSubmatch(line)
	if m == nil {
		return "", "", fmt.Errorf("%w: malformed line %q", ErrInvalidValue, line)
	}
	return m[1], m[2], nil
}

// HostPairName is the deterministic host-side endpoint name for a slot.
func HostPairName(id string, slot int) string {
	return fmt.Sprintf("veth%s.%d", id, slot)
}

// freeHostPair returns the first unused host pair name in the fixed slot
// range. Exhaustion is a hard failure; the range does not grow.
func freeHostPair(id string, cfg *Config) (string, error) {
	for slot := 0; slot < MaxInterfaces; slot++ {
		if cfg.Interfaces[slot] == nil {
			return HostPairName(id, slot), nil
		}
	}
	return "", fmt.Errorf("%w: no free network slot for container %s", ErrInvalidValue, id)
}

func pairSlot(pair string) (int, error) {
	idx := strings.LastIndexByte(pair, '.')
	if idx < 0 {
		return 0, fmt.Errorf("%w: host pair name %q", ErrInvalidValue, pair)
	}
	slot, err := strconv.Atoi(pair[idx+1:])
	if err != nil || slot < 0 || slot >= MaxInterfaces {
		return 0, fmt.Errorf("%w: host pair name %q outside slot range", ErrInvalidValue, pair)
	}
	return slot, nil
}

// GenerateHWAddr returns a random locally-administered MAC.
func GenerateHWAddr() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate hwaddr: %w", err)
	}
	return fmt.Sprintf("02:00:00:%02X:%02X:%02X", buf[0], buf[1], buf[2]), nil
}
