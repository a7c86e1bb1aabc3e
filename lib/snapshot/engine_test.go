package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/cradlehost/cradle/lib/paths"
	"github.com/cradlehost/cradle/lib/storage"
	"github.com/cradlehost/cradle/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records storage calls and plays back configured failures.
type fakeBackend struct {
	calls       []string
	snapshotErr error
	deleteErr   error
	rollbackErr error
	blocked     bool
	noSnapshots bool
}

func (f *fakeBackend) Snapshot(ctx context.Context, vol, name string) error {
	f.calls = append(f.calls, "snapshot "+vol+"@"+name)
	return f.snapshotErr
}

func (f *fakeBackend) DeleteSnapshot(ctx context.Context, vol, name string) error {
	f.calls = append(f.calls, "delete "+vol+"@"+name)
	return f.deleteErr
}

func (f *fakeBackend) RollbackPossible(ctx context.Context, vol, name string) (bool, error) {
	f.calls = append(f.calls, "possible "+vol+"@"+name)
	return !f.blocked, nil
}

func (f *fakeBackend) Rollback(ctx context.Context, vol, name string) error {
	f.calls = append(f.calls, "rollback "+vol+"@"+name)
	return f.rollbackErr
}

func (f *fakeBackend) HasFeature(ctx context.Context, feature, vol string) bool {
	return !f.noSnapshots && feature == storage.FeatureSnapshot
}

// fakeChannel tracks lifecycle calls against an in-memory running flag.
type fakeChannel struct {
	running bool
	calls   []string
	stopErr error
}

func (f *fakeChannel) Start(ctx context.Context, id string) error {
	f.calls = append(f.calls, "start")
	f.running = true
	return nil
}

func (f *fakeChannel) Stop(ctx context.Context, id string, timeout time.Duration) error {
	f.calls = append(f.calls, "stop")
	if f.stopErr != nil {
		return f.stopErr
	}
	f.running = false
	return nil
}

func (f *fakeChannel) Freeze(ctx context.Context, id string) error {
	f.calls = append(f.calls, "freeze")
	return nil
}

func (f *fakeChannel) Unfreeze(ctx context.Context, id string) error {
	f.calls = append(f.calls, "unfreeze")
	return nil
}

func (f *fakeChannel) Running(ctx context.Context, id string) (bool, error) {
	return f.running, nil
}

func (f *fakeChannel) PID(ctx context.Context, id string) (int, error) {
	if !f.running {
		return 0, fmt.Errorf("not running")
	}
	return 4242, nil
}

func (f *fakeChannel) CGroupPath(ctx context.Context, id, subsystem string) (string, error) {
	return "", nil
}

type testRig struct {
	engine  *Engine
	store   store.Store
	backend *fakeBackend
	channel *fakeChannel
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	st := store.NewStore(paths.New(t.TempDir()), store.NewLockTable())
	backend := &fakeBackend{}
	channel := &fakeChannel{}

	cfg := &ctconfig.Config{
		Hostname: "web01",
		Memory:   512 << 20,
		RootFS:   "tank:subvol-101-disk-0",
	}
	require.NoError(t, st.Create(context.Background(), "101", cfg))

	return &testRig{
		engine:  NewEngine(st, backend, channel),
		store:   st,
		backend: backend,
		channel: channel,
	}
}

func (r *testRig) load(t *testing.T) *ctconfig.Config {
	t.Helper()
	cfg, err := r.store.Load(context.Background(), "101")
	require.NoError(t, err)
	return cfg
}

func TestCreateCommits(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)

	require.NoError(t, r.engine.Create(ctx, "101", "s1", "before upgrade"))

	cfg := r.load(t)
	require.Contains(t, cfg.Snapshots, "s1")
	snap := cfg.Snapshots["s1"]
	assert.Equal(t, ctconfig.SnapReady, snap.State)
	assert.Equal(t, "before upgrade", snap.Comment)
	assert.Equal(t, "web01", snap.Config.Hostname)
	assert.Equal(t, ctconfig.LockNone, cfg.Lock)
	assert.Equal(t, "s1", cfg.Parent)
	assert.Contains(t, r.backend.calls, "snapshot subvol-101-disk-0@s1")
}

func TestCreateFreezesRunningContainer(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)
	r.channel.running = true

	require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))
	assert.Equal(t, []string{"freeze", "unfreeze"}, r.channel.calls)
}

func TestCreateRefusals(t *testing.T) {
	ctx := context.Background()

	t.Run("locked container", func(t *testing.T) {
		r := newTestRig(t)
		cfg := r.load(t)
		cfg.Lock = ctconfig.LockBackup
		require.NoError(t, r.store.Write(ctx, "101", cfg))

		require.ErrorIs(t, r.engine.Create(ctx, "101", "s1", ""), ErrLocked)
	})

	t.Run("duplicate name", func(t *testing.T) {
		r := newTestRig(t)
		require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))
		require.ErrorIs(t, r.engine.Create(ctx, "101", "s1", ""), ErrDuplicateName)
	})

	t.Run("backend without snapshot feature", func(t *testing.T) {
		r := newTestRig(t)
		r.backend.noSnapshots = true
		require.ErrorIs(t, r.engine.Create(ctx, "101", "s1", ""), ErrUnsupported)
	})
}

func TestCreateCompensatesOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)
	boom := errors.New("pool is out of space")
	r.backend.snapshotErr = boom

	err := r.engine.Create(ctx, "101", "s1", "")
	require.ErrorIs(t, err, boom, "the original failure is re-raised")

	cfg := r.load(t)
	assert.NotContains(t, cfg.Snapshots, "s1", "half-created entry removed")
	assert.Equal(t, ctconfig.LockNone, cfg.Lock, "token cleared on the failure path")
	assert.Empty(t, cfg.Parent)
}

func TestDeleteRemovesAndReparents(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)

	require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))
	require.NoError(t, r.engine.Create(ctx, "101", "s2", ""))
	assert.Equal(t, "s2", r.load(t).Parent)

	require.NoError(t, r.engine.Delete(ctx, "101", "s2", false))
	cfg := r.load(t)
	assert.NotContains(t, cfg.Snapshots, "s2")
	assert.Equal(t, "s1", cfg.Parent, "reparented to the deleted snapshot's own parent")
	assert.Equal(t, ctconfig.LockNone, cfg.Lock)

	require.NoError(t, r.engine.Delete(ctx, "101", "s1", false))
	cfg = r.load(t)
	assert.Empty(t, cfg.Snapshots)
	assert.Empty(t, cfg.Parent, "parent cleared when no predecessor exists")
	assert.Equal(t, ctconfig.LockNone, cfg.Lock)
}

func TestDeleteNotFound(t *testing.T) {
	r := newTestRig(t)
	require.ErrorIs(t, r.engine.Delete(context.Background(), "101", "ghost", false), ErrNotFound)
}

func TestDeleteRespectsLockUnlessForced(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)
	require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))

	cfg := r.load(t)
	cfg.Lock = ctconfig.LockBackup
	require.NoError(t, r.store.Write(ctx, "101", cfg))

	require.ErrorIs(t, r.engine.Delete(ctx, "101", "s1", false), ErrLocked)
	require.NoError(t, r.engine.Delete(ctx, "101", "s1", true))
	assert.NotContains(t, r.load(t).Snapshots, "s1")
}

func TestDeleteStorageFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("dataset is busy")

	t.Run("unforced delete surfaces the failure and keeps the entry", func(t *testing.T) {
		r := newTestRig(t)
		require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))
		r.backend.deleteErr = boom

		require.ErrorIs(t, r.engine.Delete(ctx, "101", "s1", false), boom)
		cfg := r.load(t)
		require.Contains(t, cfg.Snapshots, "s1")
		assert.Equal(t, ctconfig.SnapDeleting, cfg.Snapshots["s1"].State,
			"entry left in deleting state for a later forced delete")
	})

	t.Run("forced delete proceeds past the failure", func(t *testing.T) {
		r := newTestRig(t)
		require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))
		r.backend.deleteErr = boom

		require.NoError(t, r.engine.Delete(ctx, "101", "s1", true))
		assert.NotContains(t, r.load(t).Snapshots, "s1")
	})

	t.Run("already-absent volume snapshot is not a failure", func(t *testing.T) {
		r := newTestRig(t)
		require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))
		r.backend.deleteErr = fmt.Errorf("wrapped: %w", storage.ErrSnapshotNotFound)

		require.NoError(t, r.engine.Delete(ctx, "101", "s1", false))
		assert.NotContains(t, r.load(t).Snapshots, "s1")
	})
}

func TestRollbackRestoresConfig(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)
	require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))

	cfg := r.load(t)
	cfg.Hostname = "changed"
	cfg.Memory = 2 << 30
	require.NoError(t, r.store.Write(ctx, "101", cfg))

	require.NoError(t, r.engine.Rollback(ctx, "101", "s1"))

	cfg = r.load(t)
	assert.Equal(t, "web01", cfg.Hostname)
	assert.Equal(t, int64(512<<20), cfg.Memory)
	assert.Equal(t, "s1", cfg.Parent)
	assert.Equal(t, ctconfig.LockNone, cfg.Lock)
	assert.Contains(t, cfg.Snapshots, "s1", "snapshot map survives the overlay")
	assert.Contains(t, r.backend.calls, "rollback subvol-101-disk-0@s1")
}

func TestRollbackStopsRunningContainer(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)
	require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))
	r.channel.running = true

	require.NoError(t, r.engine.Rollback(ctx, "101", "s1"))
	assert.Contains(t, r.channel.calls, "stop")
}

func TestRollbackFailsIfStillRunning(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)
	require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))
	r.channel.running = true
	r.channel.stopErr = errors.New("refusing to die")

	err := r.engine.Rollback(ctx, "101", "s1")
	require.Error(t, err)
	assert.Equal(t, ctconfig.LockNone, r.load(t).Lock)
}

func TestRollbackRefusals(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown snapshot", func(t *testing.T) {
		r := newTestRig(t)
		require.ErrorIs(t, r.engine.Rollback(ctx, "101", "ghost"), ErrNotFound)
	})

	t.Run("uncommitted snapshot", func(t *testing.T) {
		r := newTestRig(t)
		cfg := r.load(t)
		cfg.Snapshots["s1"] = &ctconfig.Snapshot{
			Name: "s1", CreatedAt: time.Unix(100, 0).UTC(),
			State: ctconfig.SnapPreparing, Config: cfg.SnapshotCopy(),
		}
		require.NoError(t, r.store.Write(ctx, "101", cfg))

		require.ErrorIs(t, r.engine.Rollback(ctx, "101", "s1"), ErrInconsistent)
	})

	t.Run("locked container", func(t *testing.T) {
		r := newTestRig(t)
		require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))
		cfg := r.load(t)
		cfg.Lock = ctconfig.LockBackup
		require.NoError(t, r.store.Write(ctx, "101", cfg))

		require.ErrorIs(t, r.engine.Rollback(ctx, "101", "s1"), ErrLocked)
	})

	t.Run("blocked by later snapshot", func(t *testing.T) {
		r := newTestRig(t)
		require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))
		r.backend.blocked = true

		err := r.engine.Rollback(ctx, "101", "s1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "later snapshot")
	})
}

func TestRollbackNeverLeavesContainerLocked(t *testing.T) {
	ctx := context.Background()
	r := newTestRig(t)
	require.NoError(t, r.engine.Create(ctx, "101", "s1", ""))
	boom := errors.New("device gone")
	r.backend.rollbackErr = boom

	err := r.engine.Rollback(ctx, "101", "s1")
	require.ErrorIs(t, err, boom, "storage failure surfaced to the caller")
	assert.Equal(t, ctconfig.LockNone, r.load(t).Lock,
		"token cleared even though the volume rollback failed")
}
