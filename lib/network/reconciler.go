package network

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/cradlehost/cradle/lib/guest"
	"github.com/cradlehost/cradle/lib/logger"
	"github.com/cradlehost/cradle/lib/runtime"
	"github.com/cradlehost/cradle/lib/store"
)

// Reconciler converges one network slot of a container toward a requested
// interface spec. It holds the container lock for the whole call and
// persists through the config store.
type Reconciler struct {
	store   store.Store
	host    HostNet
	channel runtime.Channel
	guest   guest.Setup
}

// NewReconciler creates a network reconciler.
func NewReconciler(st store.Store, host HostNet, ch runtime.Channel, g guest.Setup) *Reconciler {
	return &Reconciler{store: st, host: host, channel: ch, guest: g}
}

// Apply converges slot toward want. A nil want removes the slot's interface.
//
// The action set is minimal: a missing record is hotplugged, a changed
// identity (guest name, hwaddr, mtu) forces a replacement, a changed
// placement (bridge, vlan, firewall) re-plugs in place, and address or
// gateway changes converge per family. Re-applying the currently effective
// spec performs no live action.
func (r *Reconciler) Apply(ctx context.Context, id string, slot int, want *ctconfig.NetworkInterface) error {
	log, ctx := logger.WithContainer(ctx, id)
	start := time.Now()

	if slot < 0 || slot >= ctconfig.MaxInterfaces {
		return fmt.Errorf("network slot %d outside 0..%d", slot, ctconfig.MaxInterfaces-1)
	}
	if want != nil && want.Type != "" && want.Type != ctconfig.TypeVeth {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, want.Type)
	}

	err := r.store.WithLock(ctx, id, func(ctx context.Context) error {
		cfg, err := r.store.Load(ctx, id)
		if err != nil {
			return err
		}
		cur := cfg.Interfaces[slot]

		if want == nil {
			return r.remove(ctx, id, slot, cfg)
		}
		spec := normalized(id, slot, cur, want)

		running, err := r.channel.Running(ctx, id)
		if err != nil {
			return err
		}
		if !running {
			// Nothing live to converge; the record takes effect on the
			// next start.
			if cur != nil && sameRecord(cur, spec) {
				return nil
			}
			cfg.Interfaces[slot] = spec
			cfg.NetConfigured = true
			return r.store.Write(ctx, id, cfg)
		}

		pid, err := r.channel.PID(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotRunning, err)
		}

		cur, plugged, err := r.convergePlug(ctx, id, slot, cfg, cur, spec, pid)
		if err != nil {
			return err
		}

		changed := plugged
		for _, fam := range []family{
			{"inet", &cur.IP, &cur.Gateway, spec.IP, spec.Gateway},
			{"inet6", &cur.IP6, &cur.Gateway6, spec.IP6, spec.Gateway6},
		} {
			famChanged, famErr := r.convergeFamily(ctx, pid, cur.Name, fam)
			if famErr != nil {
				// A failed family leaves its old address and gateway
				// intact; the reconcile as a whole still proceeds.
				log.WarnContext(ctx, "address family left unconverged",
					"slot", slot, "family", fam.label, "error", famErr)
				continue
			}
			changed = changed || famChanged
		}

		if !changed {
			recordReconcile(ctx, "noop", start, nil)
			return nil
		}
		if err := r.store.Write(ctx, id, cfg); err != nil {
			return err
		}
		if err := r.guest.Apply(ctx, id, cfg); err != nil {
			log.WarnContext(ctx, "guest network files not rewritten", "error", err)
		}
		recordReconcile(ctx, "converge", start, nil)
		return nil
	})
	if err != nil {
		recordReconcile(ctx, "converge", start, err)
		return err
	}

	return nil
}

// remove tears down and forgets the slot's interface.
func (r *Reconciler) remove(ctx context.Context, id string, slot int, cfg *ctconfig.Config) error {
	cur := cfg.Interfaces[slot]
	if cur == nil {
		return nil
	}

	running, err := r.channel.Running(ctx, id)
	if err != nil {
		return err
	}
	if running {
		if err := r.host.DetachBridge(ctx, cur.HostPair, cur.Firewall); err != nil {
			return err
		}
		if err := r.host.DeleteLink(ctx, cur.HostPair); err != nil {
			return err
		}
	}

	cfg.Interfaces[slot] = nil
	cfg.NetConfigured = true
	return r.store.Write(ctx, id, cfg)
}

// convergePlug brings the slot's link and bridge placement in line with
// spec and returns the persisted record addresses converge onto. Identity
// and placement changes persist intermediate state so a crash between the
// live action and the final write stays diagnosable.
func (r *Reconciler) convergePlug(ctx context.Context, id string, slot int, cfg *ctconfig.Config, cur, spec *ctconfig.NetworkInterface, pid int) (*ctconfig.NetworkInterface, bool, error) {
	switch {
	case cur == nil:
		if err := r.hotplug(ctx, pid, spec); err != nil {
			return nil, false, err
		}

	case !strings.EqualFold(cur.HWAddr, spec.HWAddr) || cur.Name != spec.Name || cur.MTU != spec.MTU:
		if err := r.host.DetachBridge(ctx, cur.HostPair, cur.Firewall); err != nil {
			return nil, false, err
		}
		if err := r.host.DeleteLink(ctx, cur.HostPair); err != nil {
			return nil, false, err
		}
		cfg.Interfaces[slot] = nil
		if err := r.store.Write(ctx, id, cfg); err != nil {
			return nil, false, err
		}
		if err := r.hotplug(ctx, pid, spec); err != nil {
			return nil, false, err
		}

	case cur.Bridge != spec.Bridge || cur.Tag != spec.Tag || cur.Firewall != spec.Firewall:
		if err := r.host.DetachBridge(ctx, cur.HostPair, cur.Firewall); err != nil {
			return nil, false, err
		}
		cur.Bridge, cur.Tag, cur.Firewall = "", 0, false
		if err := r.store.Write(ctx, id, cfg); err != nil {
			return nil, false, err
		}
		if err := r.host.AttachBridge(ctx, cur.HostPair, spec.Bridge, spec.Tag, spec.Firewall); err != nil {
			return nil, false, err
		}
		cur.Bridge, cur.Tag, cur.Firewall = spec.Bridge, spec.Tag, spec.Firewall
		return cur, true, nil

	default:
		return cur, false, nil
	}

	// Hotplug and replacement land here: persist the new record with the
	// address fields empty, they converge separately below.
	rec := *spec
	rec.IP, rec.Gateway, rec.IP6, rec.Gateway6 = "", "", "", ""
	cfg.Interfaces[slot] = &rec
	cfg.NetConfigured = true
	if err := r.store.Write(ctx, id, cfg); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// hotplug creates the pair inside the container and plugs it into its
// bridge. The pair is removed again if the plug fails.
func (r *Reconciler) hotplug(ctx context.Context, pid int, spec *ctconfig.NetworkInterface) error {
	if err := r.host.CreateVethPair(ctx, spec.HostPair, pid, spec.Name, spec.HWAddr, spec.MTU); err != nil {
		return err
	}
	if spec.Bridge == "" {
		return nil
	}
	if err := r.host.AttachBridge(ctx, spec.HostPair, spec.Bridge, spec.Tag, spec.Firewall); err != nil {
		_ = r.host.DeleteLink(ctx, spec.HostPair)
		return err
	}
	return nil
}

// family is one address family's current record fields and requested values.
type family struct {
	label            string
	curAddr, curGW   *string
	wantAddr, wantGW string
}

// convergeFamily walks one family through the ordered add-address,
// fix-route, drop-old-address sequence. The order preserves reachability:
// the new address exists before the route moves, and the old address
// disappears last. Any step failure leaves the family's persisted state
// untouched.
func (r *Reconciler) convergeFamily(ctx context.Context, pid int, dev string, fam family) (bool, error) {
	log := logger.FromContext(ctx)

	if *fam.curAddr == fam.wantAddr && *fam.curGW == fam.wantGW {
		return false, nil
	}

	added := false
	if fam.wantAddr != "" && fam.wantAddr != *fam.curAddr {
		if err := r.host.GuestAddrAdd(ctx, pid, dev, fam.wantAddr); err != nil {
			return false, err
		}
		added = true
	}

	if fam.wantGW != *fam.curGW {
		if fam.wantGW != "" {
			if err := r.host.GuestRouteReplace(ctx, pid, dev, fam.wantGW); err != nil {
				if added {
					if delErr := r.host.GuestAddrDel(ctx, pid, dev, fam.wantAddr); delErr != nil {
						log.WarnContext(ctx, "new address not rolled back",
							"dev", dev, "addr", fam.wantAddr, "error", delErr)
					}
				}
				return false, err
			}
		} else if *fam.curGW != "" {
			if err := r.host.GuestRouteDel(ctx, pid, *fam.curGW); err != nil {
				log.WarnContext(ctx, "old default route not removed",
					"dev", dev, "gw", *fam.curGW, "error", err)
			}
		}
	}

	oldAddr := *fam.curAddr
	*fam.curAddr = fam.wantAddr
	*fam.curGW = fam.wantGW

	if oldAddr != "" && oldAddr != fam.wantAddr {
		if err := r.host.GuestAddrDel(ctx, pid, dev, oldAddr); err != nil {
			log.WarnContext(ctx, "old address not removed",
				"dev", dev, "addr", oldAddr, "error", err)
		}
	}
	return true, nil
}

// normalized fills in derived fields so specs compare cleanly against
// persisted records: empty and unset mean the same thing.
func normalized(id string, slot int, cur, want *ctconfig.NetworkInterface) *ctconfig.NetworkInterface {
	spec := *want
	spec.Type = ctconfig.TypeVeth
	for _, f := range []*string{&spec.Name, &spec.HostPair, &spec.HWAddr,
		&spec.Bridge, &spec.IP, &spec.Gateway, &spec.IP6, &spec.Gateway6} {
		*f = strings.TrimSpace(*f)
	}
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("eth%d", slot)
	}
	if spec.HostPair == "" {
		spec.HostPair = ctconfig.HostPairName(id, slot)
	}
	if spec.HWAddr == "" {
		if cur != nil {
			// Keep the existing identity rather than forcing a
			// replacement on every apply.
			spec.HWAddr = cur.HWAddr
		} else if hw, err := ctconfig.GenerateHWAddr(); err == nil {
			spec.HWAddr = hw
		}
	}
	return &spec
}

// sameRecord compares two records field by field. Hardware addresses
// compare case-insensitively.
func sameRecord(a, b *ctconfig.NetworkInterface) bool {
	return a.Name == b.Name &&
		a.HostPair == b.HostPair &&
		strings.EqualFold(a.HWAddr, b.HWAddr) &&
		a.MTU == b.MTU &&
		a.Bridge == b.Bridge &&
		a.Tag == b.Tag &&
		a.Firewall == b.Firewall &&
		a.IP == b.IP &&
		a.Gateway == b.Gateway &&
		a.IP6 == b.IP6 &&
		a.Gateway6 == b.Gateway6
}
