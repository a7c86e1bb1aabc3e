package network

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/cradlehost/cradle/lib/paths"
	"github.com/cradlehost/cradle/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHostNet records every live call and plays back configured failures.
type fakeHostNet struct {
	calls        []string
	createErr    error
	attachErr    error
	addrAddErr   map[string]error
	routeErr     map[string]error
}

func (f *fakeHostNet) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeHostNet) CreateVethPair(ctx context.Context, hostPair string, pid int, guestName, hwaddr string, mtu int) error {
	f.record("create %s->%s", hostPair, guestName)
	return f.createErr
}

func (f *fakeHostNet) DeleteLink(ctx context.Context, name string) error {
	f.record("del-link %s", name)
	return nil
}

func (f *fakeHostNet) AttachBridge(ctx context.Context, dev, bridge string, tag int, firewall bool) error {
	f.record("attach %s->%s tag=%d fw=%t", dev, bridge, tag, firewall)
	return f.attachErr
}

func (f *fakeHostNet) DetachBridge(ctx context.Context, dev string, firewall bool) error {
	f.record("detach %s", dev)
	return nil
}

func (f *fakeHostNet) GuestAddrAdd(ctx context.Context, pid int, dev, cidr string) error {
	f.record("addr-add %s %s", dev, cidr)
	return f.addrAddErr[cidr]
}

func (f *fakeHostNet) GuestAddrDel(ctx context.Context, pid int, dev, cidr string) error {
	f.record("addr-del %s %s", dev, cidr)
	return nil
}

func (f *fakeHostNet) GuestRouteReplace(ctx context.Context, pid int, dev, gw string) error {
	f.record("route-replace %s via %s", dev, gw)
	return f.routeErr[gw]
}

func (f *fakeHostNet) GuestRouteDel(ctx context.Context, pid int, gw string) error {
	f.record("route-del via %s", gw)
	return nil
}

type fakeRuntime struct {
	running bool
}

func (f *fakeRuntime) Start(ctx context.Context, id string) error { return nil }
func (f *fakeRuntime) Stop(ctx context.Context, id string, timeout time.Duration) error {
	f.running = false
	return nil
}
func (f *fakeRuntime) Freeze(ctx context.Context, id string) error   { return nil }
func (f *fakeRuntime) Unfreeze(ctx context.Context, id string) error { return nil }
func (f *fakeRuntime) Running(ctx context.Context, id string) (bool, error) {
	return f.running, nil
}
func (f *fakeRuntime) PID(ctx context.Context, id string) (int, error) { return 4242, nil }
func (f *fakeRuntime) CGroupPath(ctx context.Context, id, subsystem string) (string, error) {
	return "", nil
}

type fakeGuestSetup struct {
	applied int
}

func (f *fakeGuestSetup) Apply(ctx context.Context, id string, cfg *ctconfig.Config) error {
	f.applied++
	return nil
}

type reconcilerRig struct {
	rec     *Reconciler
	store   store.Store
	host    *fakeHostNet
	channel *fakeRuntime
	guest   *fakeGuestSetup
}

func newReconcilerRig(t *testing.T) *reconcilerRig {
	t.Helper()
	st := store.NewStore(paths.New(t.TempDir()), store.NewLockTable())
	require.NoError(t, st.Create(context.Background(), "101", &ctconfig.Config{
		Hostname: "web01",
		RootFS:   "tank:subvol-101-disk-0",
	}))

	host := &fakeHostNet{addrAddErr: map[string]error{}, routeErr: map[string]error{}}
	channel := &fakeRuntime{running: true}
	g := &fakeGuestSetup{}
	return &reconcilerRig{
		rec:     NewReconciler(st, host, channel, g),
		store:   st,
		host:    host,
		channel: channel,
		guest:   g,
	}
}

func (r *reconcilerRig) load(t *testing.T) *ctconfig.Config {
	t.Helper()
	cfg, err := r.store.Load(context.Background(), "101")
	require.NoError(t, err)
	return cfg
}

func wantEth0() *ctconfig.NetworkInterface {
	return &ctconfig.NetworkInterface{
		Type:     ctconfig.TypeVeth,
		Name:     "eth0",
		HWAddr:   "02:00:00:AA:BB:01",
		Bridge:   "vmbr0",
		IP:       "10.0.0.5/24",
		Gateway:  "10.0.0.1",
		IP6:      "fd00::5/64",
		Gateway6: "fd00::1",
	}
}

func TestApplyRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)

	require.Error(t, r.rec.Apply(ctx, "101", -1, wantEth0()))
	require.Error(t, r.rec.Apply(ctx, "101", ctconfig.MaxInterfaces, wantEth0()))

	bad := wantEth0()
	bad.Type = "macvlan"
	require.ErrorIs(t, r.rec.Apply(ctx, "101", 0, bad), ErrUnsupportedType)
}

func TestApplyStoppedContainerPersistsOnly(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)
	r.channel.running = false

	require.NoError(t, r.rec.Apply(ctx, "101", 0, wantEth0()))

	assert.Empty(t, r.host.calls, "no live action against a stopped container")
	assert.Zero(t, r.guest.applied)

	cfg := r.load(t)
	require.NotNil(t, cfg.Interfaces[0])
	assert.Equal(t, "veth101.0", cfg.Interfaces[0].HostPair)
	assert.Equal(t, "10.0.0.5/24", cfg.Interfaces[0].IP)
}

func TestApplyHotplug(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)

	require.NoError(t, r.rec.Apply(ctx, "101", 0, wantEth0()))

	assert.Equal(t, []string{
		"create veth101.0->eth0",
		"attach veth101.0->vmbr0 tag=0 fw=false",
		"addr-add eth0 10.0.0.5/24",
		"route-replace eth0 via 10.0.0.1",
		"addr-add eth0 fd00::5/64",
		"route-replace eth0 via fd00::1",
	}, r.host.calls)
	assert.Equal(t, 1, r.guest.applied)

	cfg := r.load(t)
	iface := cfg.Interfaces[0]
	require.NotNil(t, iface)
	assert.Equal(t, "10.0.0.5/24", iface.IP)
	assert.Equal(t, "10.0.0.1", iface.Gateway)
	assert.Equal(t, "fd00::5/64", iface.IP6)
}

func TestApplyIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)
	require.NoError(t, r.rec.Apply(ctx, "101", 0, wantEth0()))

	r.host.calls = nil
	r.guest.applied = 0
	require.NoError(t, r.rec.Apply(ctx, "101", 0, wantEth0()))

	assert.Empty(t, r.host.calls, "converged spec must produce zero live calls")
	assert.Zero(t, r.guest.applied)
}

func TestApplyIdentityChangeReplacesPair(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)
	require.NoError(t, r.rec.Apply(ctx, "101", 0, wantEth0()))
	r.host.calls = nil

	next := wantEth0()
	next.HWAddr = "02:00:00:AA:BB:99"
	require.NoError(t, r.rec.Apply(ctx, "101", 0, next))

	assert.Equal(t, []string{
		"detach veth101.0",
		"del-link veth101.0",
		"create veth101.0->eth0",
		"attach veth101.0->vmbr0 tag=0 fw=false",
		"addr-add eth0 10.0.0.5/24",
		"route-replace eth0 via 10.0.0.1",
		"addr-add eth0 fd00::5/64",
		"route-replace eth0 via fd00::1",
	}, r.host.calls)
	assert.Equal(t, "02:00:00:AA:BB:99", r.load(t).Interfaces[0].HWAddr)
}

func TestApplyPlacementChangeReplugsInPlace(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)
	require.NoError(t, r.rec.Apply(ctx, "101", 0, wantEth0()))
	r.host.calls = nil

	next := wantEth0()
	next.Bridge = "vmbr1"
	next.Tag = 30
	next.Firewall = true
	require.NoError(t, r.rec.Apply(ctx, "101", 0, next))

	assert.Equal(t, []string{
		"detach veth101.0",
		"attach veth101.0->vmbr1 tag=30 fw=true",
	}, r.host.calls)

	iface := r.load(t).Interfaces[0]
	assert.Equal(t, "vmbr1", iface.Bridge)
	assert.Equal(t, 30, iface.Tag)
	assert.True(t, iface.Firewall)
	assert.Equal(t, "10.0.0.5/24", iface.IP, "addresses untouched by a re-plug")
}

func TestApplyAddressChangeKeepsOrdering(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)
	require.NoError(t, r.rec.Apply(ctx, "101", 0, wantEth0()))
	r.host.calls = nil

	next := wantEth0()
	next.IP = "10.0.0.7/24"
	require.NoError(t, r.rec.Apply(ctx, "101", 0, next))

	assert.Equal(t, []string{
		"addr-add eth0 10.0.0.7/24",
		"addr-del eth0 10.0.0.5/24",
	}, r.host.calls, "new address lands before the old one goes")
	assert.Equal(t, "10.0.0.7/24", r.load(t).Interfaces[0].IP)
}

func TestApplyFailedFamilyIsSkippedNotFatal(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)
	require.NoError(t, r.rec.Apply(ctx, "101", 0, wantEth0()))
	r.host.calls = nil

	next := wantEth0()
	next.IP = "10.0.0.7/24"
	next.IP6 = "fd00::7/64"
	r.host.addrAddErr["10.0.0.7/24"] = errors.New("guest rejected it")

	require.NoError(t, r.rec.Apply(ctx, "101", 0, next), "a failed family does not fail the call")

	iface := r.load(t).Interfaces[0]
	assert.Equal(t, "10.0.0.5/24", iface.IP, "failed family keeps its old address")
	assert.Equal(t, "fd00::7/64", iface.IP6, "other family still converges")
}

func TestApplyRouteFailureRollsBackNewAddress(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)
	require.NoError(t, r.rec.Apply(ctx, "101", 0, wantEth0()))
	r.host.calls = nil

	next := wantEth0()
	next.IP = "10.0.0.7/24"
	next.Gateway = "10.0.0.254"
	r.host.routeErr["10.0.0.254"] = errors.New("no such gateway")

	require.NoError(t, r.rec.Apply(ctx, "101", 0, next))

	assert.Contains(t, r.host.calls, "addr-del eth0 10.0.0.7/24",
		"address added for the failed route is taken back")
	iface := r.load(t).Interfaces[0]
	assert.Equal(t, "10.0.0.5/24", iface.IP)
	assert.Equal(t, "10.0.0.1", iface.Gateway)
}

func TestApplyDroppedGatewayDeletesRoute(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)
	require.NoError(t, r.rec.Apply(ctx, "101", 0, wantEth0()))
	r.host.calls = nil

	next := wantEth0()
	next.Gateway = ""
	require.NoError(t, r.rec.Apply(ctx, "101", 0, next))

	assert.Equal(t, []string{"route-del via 10.0.0.1"}, r.host.calls)
	assert.Empty(t, r.load(t).Interfaces[0].Gateway)
}

func TestApplyNilRemovesInterface(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)
	require.NoError(t, r.rec.Apply(ctx, "101", 0, wantEth0()))
	r.host.calls = nil

	require.NoError(t, r.rec.Apply(ctx, "101", 0, nil))

	assert.Equal(t, []string{
		"detach veth101.0",
		"del-link veth101.0",
	}, r.host.calls)
	assert.Nil(t, r.load(t).Interfaces[0])

	r.host.calls = nil
	require.NoError(t, r.rec.Apply(ctx, "101", 0, nil), "removing an empty slot is a no-op")
	assert.Empty(t, r.host.calls)
}

func TestApplyGeneratesIdentityWhenAbsent(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)

	want := &ctconfig.NetworkInterface{Type: ctconfig.TypeVeth, Bridge: "vmbr0"}
	require.NoError(t, r.rec.Apply(ctx, "101", 3, want))

	iface := r.load(t).Interfaces[3]
	require.NotNil(t, iface)
	assert.Equal(t, "eth3", iface.Name)
	assert.Equal(t, "veth101.3", iface.HostPair)
	assert.Regexp(t, "^02:00:00:", iface.HWAddr)

	// A second apply must inherit the generated address, not mint a new one.
	r.host.calls = nil
	require.NoError(t, r.rec.Apply(ctx, "101", 3, want))
	assert.Empty(t, r.host.calls)
}

func TestApplyAttachFailureCleansUpPair(t *testing.T) {
	ctx := context.Background()
	r := newReconcilerRig(t)
	r.host.attachErr = errors.New("bridge missing")

	require.Error(t, r.rec.Apply(ctx, "101", 0, wantEth0()))

	assert.Equal(t, []string{
		"create veth101.0->eth0",
		"attach veth101.0->vmbr0 tag=0 fw=false",
		"del-link veth101.0",
	}, r.host.calls)
	assert.Nil(t, r.load(t).Interfaces[0], "nothing persisted for a failed hotplug")
}
