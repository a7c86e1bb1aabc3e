package runtime

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cradlehost/cradle/lib/hostcmd"
)

const (
	startTimeout  = 60 * time.Second
	freezeTimeout = 15 * time.Second
	queryTimeout  = 5 * time.Second
)

// lxcChannel drives the lxc userland tools. Each call shells out with a
// bounded timeout.
type lxcChannel struct {
	procRoot string // /proc unless overridden in tests
}

// NewLXCChannel returns a Channel backed by the lxc command-line tools.
func NewLXCChannel() Channel {
	return &lxcChannel{procRoot: "/proc"}
}

func (c *lxcChannel) Start(ctx context.Context, id string) error {
	if _, err := hostcmd.Run(ctx, startTimeout, "lxc-start", "-n", id); err != nil {
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

func (c *lxcChannel) Stop(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	// lxc-stop escalates to SIGKILL itself when the grace period lapses;
	// give the process a little extra wall clock beyond that.
	_, err := hostcmd.Run(ctx, timeout+10*time.Second, "lxc-stop", "-n", id, "-t", strconv.Itoa(secs))
	if err != nil {
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}

func (c *lxcChannel) Freeze(ctx context.Context, id string) error {
	if _, err := hostcmd.Run(ctx, freezeTimeout, "lxc-freeze", "-n", id); err != nil {
		return fmt.Errorf("freeze container %s: %w", id, err)
	}
	return nil
}

func (c *lxcChannel) Unfreeze(ctx context.Context, id string) error {
	if _, err := hostcmd.Run(ctx, freezeTimeout, "lxc-unfreeze", "-n", id); err != nil {
		return fmt.Errorf("unfreeze container %s: %w", id, err)
	}
	return nil
}

func (c *lxcChannel) Running(ctx context.Context, id string) (bool, error) {
	out, err := hostcmd.Run(ctx, queryTimeout, "lxc-info", "-n", id, "-s")
	if err != nil {
		return false, fmt.Errorf("query container %s state: %w", id, err)
	}
	// Output shape: "State: RUNNING"
	return strings.Contains(string(out), "RUNNING"), nil
}

func (c *lxcChannel) PID(ctx context.Context, id string) (int, error) {
	out, err := hostcmd.Run(ctx, queryTimeout, "lxc-info", "-n", id, "-p", "-H")
	if err != nil {
		return 0, fmt.Errorf("query container %s pid: %w", id, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parse container %s pid: %w", id, err)
	}
	return pid, nil
}

// CGroupPath resolves the container's cgroup for a subsystem by reading the
// init process's /proc/<pid>/cgroup. Unified hierarchies appear as the "0::"
// entry, legacy controllers under their own names.
func (c *lxcChannel) CGroupPath(ctx context.Context, id string, subsystem string) (string, error) {
	pid, err := c.PID(ctx, id)
	if err != nil || pid <= 0 {
		return "", nil
	}

	raw, err := os.ReadFile(fmt.Sprintf("%s/%d/cgroup", c.procRoot, pid))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read cgroup of pid %d: %w", pid, err)
	}
	return parseCGroupFile(string(raw), subsystem), nil
}

// parseCGroupFile extracts the path for a subsystem from /proc/<pid>/cgroup
// content. Lines look like "7:memory:/lxc/101" or "0::/lxc/101" for the
// unified hierarchy.
func parseCGroupFile(content, subsystem string) string {
	var unified string
	for _, line := range strings.Split(content, "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		controllers, path := parts[1], parts[2]
		if controllers == "" {
			unified = path
			continue
		}
		for _, ctrl := range strings.Split(controllers, ",") {
			if ctrl == subsystem {
				return path
			}
		}
	}
	return unified
}
