package cgroup

import (
	"context"
)

// MemoryUsage is current memory consumption in bytes. Combined is memory
// plus swap: the legacy hierarchy exposes it as one counter, the unified
// hierarchy as a separate swap-only counter that is added in here.
type MemoryUsage struct {
	Usage    uint64
	Combined uint64
}

// CPUStat is cumulative processor time in microseconds.
type CPUStat struct {
	Usage  uint64
	User   uint64
	System uint64
}

// IOStat is cumulative block I/O in bytes, summed across devices.
type IOStat struct {
	ReadBytes  uint64
	WriteBytes uint64
}

// ResourcePressure is one resource's cumulative stall time in microseconds.
// Some counts time where at least one task stalled on the resource, Full
// time where every runnable task did.
type ResourcePressure struct {
	SomeTotal uint64
	FullTotal uint64
}

// PressureStall groups the kernel's per-resource pressure accounting.
type PressureStall struct {
	Memory ResourcePressure
	CPU    ResourcePressure
	IO     ResourcePressure
}

// legacy cpuacct.stat reports USER_HZ ticks; the kernel pins USER_HZ to 100
// for userland, so one tick is 10ms.
const tickUsec = 10000

// MemoryUsage reads current memory consumption. An inactive container
// reads as zero.
func (a *Adapter) MemoryUsage(ctx context.Context, id string) (MemoryUsage, error) {
	dir, err := a.dir(ctx, id, subsysMemory)
	if err != nil || dir == "" {
		return MemoryUsage{}, err
	}

	if a.mode == ModeUnified {
		usage := parseCount(a.readValue(dir, "memory.current"))
		swap := parseCount(a.readValue(dir, "memory.swap.current"))
		return MemoryUsage{Usage: usage, Combined: usage + swap}, nil
	}

	usage := parseCount(a.readValue(dir, "memory.usage_in_bytes"))
	combined := parseCount(a.readValue(dir, "memory.memsw.usage_in_bytes"))
	if combined == 0 {
		// Kernels built without swap accounting have no memsw files.
		combined = usage
	}
	return MemoryUsage{Usage: usage, Combined: combined}, nil
}

// CPUStat reads cumulative processor time. An inactive container reads as
// zero.
func (a *Adapter) CPUStat(ctx context.Context, id string) (CPUStat, error) {
	dir, err := a.dir(ctx, id, subsysCPU)
	if err != nil || dir == "" {
		return CPUStat{}, err
	}

	if a.mode == ModeUnified {
		stat := parseFlat(a.readValue(dir, "cpu.stat"))
		return CPUStat{
			Usage:  stat["usage_usec"],
			User:   stat["user_usec"],
			System: stat["system_usec"],
		}, nil
	}

	stat := parseFlat(a.readValue(dir, "cpuacct.stat"))
	user := stat["user"] * tickUsec
	system := stat["system"] * tickUsec
	return CPUStat{Usage: user + system, User: user, System: system}, nil
}

// IOStat reads cumulative block I/O. An inactive container reads as zero.
func (a *Adapter) IOStat(ctx context.Context, id string) (IOStat, error) {
	dir, err := a.dir(ctx, id, subsysIO)
	if err != nil || dir == "" {
		return IOStat{}, err
	}

	if a.mode == ModeUnified {
		var out IOStat
		for _, dims := range parseNested(a.readValue(dir, "io.stat")) {
			out.ReadBytes += dims["rbytes"]
			out.WriteBytes += dims["wbytes"]
		}
		return out, nil
	}

	content := a.readValue(dir, "blkio.throttle.io_service_bytes")
	return IOStat{
		ReadBytes:  parseServiceBytes(content, "Read"),
		WriteBytes: parseServiceBytes(content, "Write"),
	}, nil
}

// PressureStall reads pressure stall information. The legacy hierarchy has
// no PSI files, so it reads as zero there, as does an inactive container.
// The pressure files share the container's unified directory regardless of
// subsystem.
func (a *Adapter) PressureStall(ctx context.Context, id string) (PressureStall, error) {
	if a.mode != ModeUnified {
		return PressureStall{}, nil
	}
	dir, err := a.dir(ctx, id, subsysMemory)
	if err != nil || dir == "" {
		return PressureStall{}, err
	}

	return PressureStall{
		Memory: parsePressure(a.readValue(dir, "memory.pressure")),
		CPU:    parsePressure(a.readValue(dir, "cpu.pressure")),
		IO:     parsePressure(a.readValue(dir, "io.pressure")),
	}, nil
}

// EffectiveCPUs reads the set of processors the container may run on, in
// the kernel's list format ("0-3,8"). An inactive container reads as "".
func (a *Adapter) EffectiveCPUs(ctx context.Context, id string) (string, error) {
	dir, err := a.dir(ctx, id, subsysCPUSet)
	if err != nil || dir == "" {
		return "", err
	}

	if a.mode == ModeUnified {
		return a.readValue(dir, "cpuset.cpus.effective"), nil
	}
	return a.readValue(dir, "cpuset.effective_cpus"), nil
}
