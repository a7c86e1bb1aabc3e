package hostcmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdout(t *testing.T) {
	out, err := Run(context.Background(), time.Second, "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestRunNonzeroExit(t *testing.T) {
	_, err := Run(context.Background(), time.Second, "sh", "-c", "echo broken >&2; exit 3")
	require.ErrorIs(t, err, ErrExit)
	assert.Contains(t, err.Error(), "exited 3")
	assert.Contains(t, err.Error(), "broken", "stderr folded into the error")
}

func TestRunTimeout(t *testing.T) {
	start := time.Now()
	_, err := Run(context.Background(), 200*time.Millisecond, "sleep", "5")
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunInput(t *testing.T) {
	out, err := RunInput(context.Background(), time.Second, strings.NewReader("a\nb\n"), "cat")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(out))
}
