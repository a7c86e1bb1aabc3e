// Package hostcmd runs host tools with bounded timeouts. A timeout cancels
// the external process and surfaces as an error, never a crash.
package hostcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/cradlehost/cradle/lib/logger"
)

var (
	// ErrTimeout is returned when the command exceeded its deadline and was
	// cancelled
	ErrTimeout = errors.New("command timed out")

	// ErrExit is returned when the command exited nonzero
	ErrExit = errors.New("command failed")
)

// DefaultTimeout applies when the caller passes no timeout.
const DefaultTimeout = 30 * time.Second

// Run executes a host command and returns its stdout. Stderr is captured and
// folded into the error so failures diagnose without re-running.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	return RunInput(ctx, timeout, nil, name, args...)
}

// RunInput is Run with the given reader wired to the command's stdin.
func RunInput(ctx context.Context, timeout time.Duration, stdin io.Reader, name string, args ...string) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := logger.FromContext(ctx)
	log.DebugContext(ctx, "running host command", "command", name, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if cctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, name, timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "no output"
		}
		return nil, fmt.Errorf("%w: %s exited %d: %s", ErrExit, name, exitErr.ExitCode(), msg)
	}
	return nil, fmt.Errorf("run %s: %w", name, err)
}
