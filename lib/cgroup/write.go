package cgroup

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
)

const defaultCPUPeriod = 100000 // usec

// SetMemoryLimit sets the memory ceiling and the swap allowance, both in
// bytes. A negative value means unlimited.
//
// Under the legacy hierarchy the combined memory+swap ceiling can never sit
// below the plain ceiling, so raising the limit writes the combined file
// first and lowering writes the plain file first; the kernel rejects the
// other order. The unified hierarchy's two ceilings are independent.
func (a *Adapter) SetMemoryLimit(ctx context.Context, id string, mem, swap int64) error {
	dir, err := a.writeDir(ctx, id, subsysMemory)
	if err != nil {
		return err
	}

	if a.mode == ModeUnified {
		if err := a.write(dir, "memory.max", unifiedVal(mem)); err != nil {
			return err
		}
		return a.write(dir, "memory.swap.max", unifiedVal(swap))
	}

	combined := int64(-1)
	if mem >= 0 && swap >= 0 {
		combined = mem + swap
	}

	current := int64(parseCount(a.readValue(dir, "memory.limit_in_bytes")))
	growing := mem < 0 || mem > current
	if growing {
		if err := a.write(dir, "memory.memsw.limit_in_bytes", legacyVal(combined)); err != nil {
			return err
		}
		return a.write(dir, "memory.limit_in_bytes", legacyVal(mem))
	}
	if err := a.write(dir, "memory.limit_in_bytes", legacyVal(mem)); err != nil {
		return err
	}
	return a.write(dir, "memory.memsw.limit_in_bytes", legacyVal(combined))
}

// SetCPUQuota sets the bandwidth quota in microseconds per period. A
// negative quota means unlimited. A zero period selects the kernel default.
func (a *Adapter) SetCPUQuota(ctx context.Context, id string, quota int64, period uint64) error {
	dir, err := a.writeDir(ctx, id, subsysCPU)
	if err != nil {
		return err
	}
	if period == 0 {
		period = defaultCPUPeriod
	}

	if a.mode == ModeUnified {
		q := "max"
		if quota >= 0 {
			q = strconv.FormatInt(quota, 10)
		}
		return a.write(dir, "cpu.max", fmt.Sprintf("%s %d", q, period))
	}

	if err := a.write(dir, "cpu.cfs_period_us", strconv.FormatUint(period, 10)); err != nil {
		return err
	}
	return a.write(dir, "cpu.cfs_quota_us", legacyVal(quota))
}

// SetCPUWeight sets the relative scheduling weight. Values pass through
// unscaled; the two generations use ranges roughly two orders of magnitude
// apart, and only the unified range is narrow enough to be worth checking.
func (a *Adapter) SetCPUWeight(ctx context.Context, id string, weight uint64) error {
	dir, err := a.writeDir(ctx, id, subsysCPU)
	if err != nil {
		return err
	}

	if a.mode == ModeUnified {
		if weight < 1 || weight > 10000 {
			return fmt.Errorf("%w: %d not in 1..10000", ErrInvalidWeight, weight)
		}
		return a.write(dir, "cpu.weight", strconv.FormatUint(weight, 10))
	}
	return a.write(dir, "cpu.shares", strconv.FormatUint(weight, 10))
}

// writeDir resolves the directory for a write operation; an inactive
// container is a hard failure here, unlike for reads.
func (a *Adapter) writeDir(ctx context.Context, id, subsystem string) (string, error) {
	dir, err := a.dir(ctx, id, subsystem)
	if err != nil {
		return "", err
	}
	if dir == "" {
		return "", fmt.Errorf("%w: container %s, subsystem %s", ErrNotRunning, id, subsystem)
	}
	return dir, nil
}

func (a *Adapter) write(dir, file, value string) error {
	if err := a.writeFile(filepath.Join(dir, file), value); err != nil {
		return fmt.Errorf("write %s = %s: %w", file, value, err)
	}
	return nil
}

func legacyVal(v int64) string {
	if v < 0 {
		return "-1"
	}
	return strconv.FormatInt(v, 10)
}

func unifiedVal(v int64) string {
	if v < 0 {
		return "max"
	}
	return strconv.FormatInt(v, 10)
}
