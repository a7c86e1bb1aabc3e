package cgroup

import (
	"strconv"
	"strings"
)

// parseFlat reads a `key value` per line file, the layout of cpu.stat and
// friends, into a map.
func parseFlat(content string) map[string]uint64 {
	out := map[string]uint64{}
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		out[fields[0]] = v
	}
	return out
}

// parseNested reads a `key dim1=a dim2=b` per line file, the layout of
// io.stat, into a map of per-key dimension maps.
func parseNested(content string) map[string]map[string]uint64 {
	out := map[string]map[string]uint64{}
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		dims := map[string]uint64{}
		for _, f := range fields[1:] {
			name, val, ok := strings.Cut(f, "=")
			if !ok {
				continue
			}
			v, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				continue
			}
			dims[name] = v
		}
		if len(dims) > 0 {
			out[fields[0]] = dims
		}
	}
	return out
}

// parsePressure reads a `some avg10=... total=N` PSI file. The averaged
// windows are floats no caller consumes; only the cumulative totals are
// kept, which parseNested extracts while skipping the float dimensions.
func parsePressure(content string) ResourcePressure {
	rows := parseNested(content)
	return ResourcePressure{
		SomeTotal: rows["some"]["total"],
		FullTotal: rows["full"]["total"],
	}
}

// parseServiceBytes reads the legacy blkio `dev op value` layout and sums
// the named op across devices.
func parseServiceBytes(content, op string) uint64 {
	var total uint64
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 || fields[1] != op {
			continue
		}
		if v, err := strconv.ParseUint(fields[2], 10, 64); err == nil {
			total += v
		}
	}
	return total
}

func trimValue(s string) string {
	return strings.TrimSpace(s)
}

// parseCount reads a single-value control file's content. "max" and an
// absent file both read as 0 for usage counters; callers that care about
// "max" handle it before calling.
func parseCount(s string) uint64 {
	v, err := strconv.ParseUint(trimValue(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
