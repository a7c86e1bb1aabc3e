// Package network converges a container's live network interfaces to the
// persisted configuration with the minimum set of disruptive actions.
package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cradlehost/cradle/lib/hostcmd"
	"github.com/cradlehost/cradle/lib/logger"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// HostNet is the host-side networking collaborator. Guest-scoped methods
// operate inside the network namespace of the container process identified
// by pid.
type HostNet interface {
	CreateVethPair(ctx context.Context, hostPair string, pid int, guestName, hwaddr string, mtu int) error
	DeleteLink(ctx context.Context, name string) error
	AttachBridge(ctx context.Context, dev, bridge string, tag int, firewall bool) error
	DetachBridge(ctx context.Context, dev string, firewall bool) error
	GuestAddrAdd(ctx context.Context, pid int, dev, cidr string) error
	GuestAddrDel(ctx context.Context, pid int, dev, cidr string) error
	GuestRouteReplace(ctx context.Context, pid int, dev, gw string) error
	GuestRouteDel(ctx context.Context, pid int, gw string) error
}

const cmdTimeout = 10 * time.Second

// netlinkHostNet drives host interfaces through rtnetlink and falls back to
// the bridge and iptables binaries for VLAN filtering and firewall marks,
// which rtnetlink does not cover cleanly.
type netlinkHostNet struct{}

// NewHostNet creates the netlink-backed HostNet.
func NewHostNet() HostNet {
	return &netlinkHostNet{}
}

// guestHandle opens a netlink handle inside the network namespace of pid.
// The caller must close both returned handles.
func guestHandle(pid int) (*netlink.Handle, netns.NsHandle, error) {
	ns, err := netns.GetFromPid(pid)
	if err != nil {
		return nil, 0, fmt.Errorf("open netns of pid %d: %w", pid, err)
	}
	h, err := netlink.NewHandleAt(ns)
	if err != nil {
		ns.Close()
		return nil, 0, fmt.Errorf("netlink handle in netns of pid %d: %w", pid, err)
	}
	return h, ns, nil
}

func (n *netlinkHostNet) CreateVethPair(ctx context.Context, hostPair string, pid int, guestName, hwaddr string, mtu int) error {
	log := logger.FromContext(ctx)

	peerTmp := "p" + hostPair
	hw, err := net.ParseMAC(hwaddr)
	if err != nil {
		return fmt.Errorf("parse hwaddr %q: %w", hwaddr, err)
	}

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{
			Name: hostPair,
			MTU:  mtu,
		},
		PeerName:         peerTmp,
		PeerHardwareAddr: hw,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("create veth pair %s: %w", hostPair, err)
	}

	// From here on a failure leaves a half-built pair; delete it so the
	// caller can retry from scratch.
	fail := func(err error) error {
		_ = netlink.LinkDel(veth)
		return err
	}

	hostLink, err := netlink.LinkByName(hostPair)
	if err != nil {
		return fail(fmt.Errorf("lookup %s: %w", hostPair, err))
	}
	if err := netlink.LinkSetUp(hostLink); err != nil {
		return fail(fmt.Errorf("bring up %s: %w", hostPair, err))
	}

	peer, err := netlink.LinkByName(peerTmp)
	if err != nil {
		return fail(fmt.Errorf("lookup peer %s: %w", peerTmp, err))
	}
	if err := netlink.LinkSetNsPid(peer, pid); err != nil {
		return fail(fmt.Errorf("move %s into pid %d: %w", peerTmp, pid, err))
	}

	h, ns, err := guestHandle(pid)
	if err != nil {
		return fail(err)
	}
	defer ns.Close()
	defer h.Close()

	guestPeer, err := h.LinkByName(peerTmp)
	if err != nil {
		return fail(fmt.Errorf("lookup %s in guest: %w", peerTmp, err))
	}
	if err := h.LinkSetName(guestPeer, guestName); err != nil {
		return fail(fmt.Errorf("rename %s to %s: %w", peerTmp, guestName, err))
	}
	if err := h.LinkSetUp(guestPeer); err != nil {
		return fail(fmt.Errorf("bring up %s in guest: %w", guestName, err))
	}

	log.InfoContext(ctx, "veth pair created",
		"host_pair", hostPair, "guest_name", guestName, "hwaddr", hwaddr)
	return nil
}

func (n *netlinkHostNet) DeleteLink(ctx context.Context, name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("lookup %s: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (n *netlinkHostNet) AttachBridge(ctx context.Context, dev, bridge string, tag int, firewall bool) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", dev, err)
	}
	br, err := netlink.LinkByName(bridge)
	if err != nil {
		return fmt.Errorf("lookup bridge %s: %w", bridge, err)
	}
	if err := netlink.LinkSetMaster(link, br); err != nil {
		return fmt.Errorf("attach %s to %s: %w", dev, bridge, err)
	}

	if tag > 0 {
		vid := strconv.Itoa(tag)
		if _, err := hostcmd.Run(ctx, cmdTimeout,
			"bridge", "vlan", "add", "dev", dev, "vid", vid, "pvid", "untagged"); err != nil {
			return fmt.Errorf("set vlan %s on %s: %w", vid, dev, err)
		}
		// The kernel auto-assigns vid 1 on attach; drop it so only the
		// requested tag passes.
		if _, err := hostcmd.Run(ctx, cmdTimeout,
			"bridge", "vlan", "del", "dev", dev, "vid", "1"); err != nil {
			return fmt.Errorf("drop default vlan on %s: %w", dev, err)
		}
	}

	if firewall {
		if err := n.firewallRule(ctx, "-A", dev); err != nil {
			return err
		}
	}
	return nil
}

func (n *netlinkHostNet) DetachBridge(ctx context.Context, dev string, firewall bool) error {
	if firewall {
		// Rule removal failures are reported; a stale ACCEPT rule for a
		// reused device name is a real hazard.
		if err := n.firewallRule(ctx, "-D", dev); err != nil {
			return err
		}
	}

	link, err := netlink.LinkByName(dev)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("lookup %s: %w", dev, err)
	}
	if err := netlink.LinkSetNoMaster(link); err != nil {
		return fmt.Errorf("detach %s: %w", dev, err)
	}
	return nil
}

// firewallRule adds or deletes the per-device FORWARD rule used to funnel
// bridged traffic through filtering.
func (n *netlinkHostNet) firewallRule(ctx context.Context, action, dev string) error {
	_, err := hostcmd.Run(ctx, cmdTimeout, "iptables", action, "FORWARD",
		"-m", "physdev", "--physdev-out", dev, "--physdev-is-bridged",
		"-m", "comment", "--comment", "cradle-fw-"+dev,
		"-j", "ACCEPT")
	if err != nil {
		return fmt.Errorf("firewall rule %s for %s: %w", action, dev, err)
	}
	return nil
}

func (n *netlinkHostNet) GuestAddrAdd(ctx context.Context, pid int, dev, cidr string) error {
	return n.guestAddr(pid, dev, cidr, (*netlink.Handle).AddrAdd)
}

func (n *netlinkHostNet) GuestAddrDel(ctx context.Context, pid int, dev, cidr string) error {
	return n.guestAddr(pid, dev, cidr, (*netlink.Handle).AddrDel)
}

func (n *netlinkHostNet) guestAddr(pid int, dev, cidr string, op func(*netlink.Handle, netlink.Link, *netlink.Addr) error) error {
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", cidr, err)
	}

	h, ns, err := guestHandle(pid)
	if err != nil {
		return err
	}
	defer ns.Close()
	defer h.Close()

	link, err := h.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("lookup %s in guest: %w", dev, err)
	}
	if err := op(h, link, addr); err != nil {
		return fmt.Errorf("address %s on %s: %w", cidr, dev, err)
	}
	return nil
}

func (n *netlinkHostNet) GuestRouteReplace(ctx context.Context, pid int, dev, gw string) error {
	gwIP := net.ParseIP(gw)
	if gwIP == nil {
		return fmt.Errorf("parse gateway %q", gw)
	}

	h, ns, err := guestHandle(pid)
	if err != nil {
		return err
	}
	defer ns.Close()
	defer h.Close()

	link, err := h.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("lookup %s in guest: %w", dev, err)
	}
	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       defaultDst(gwIP),
		Gw:        gwIP,
	}
	if err := h.RouteReplace(route); err != nil {
		return fmt.Errorf("default route via %s: %w", gw, err)
	}
	return nil
}

func (n *netlinkHostNet) GuestRouteDel(ctx context.Context, pid int, gw string) error {
	gwIP := net.ParseIP(gw)
	if gwIP == nil {
		return fmt.Errorf("parse gateway %q", gw)
	}

	h, ns, err := guestHandle(pid)
	if err != nil {
		return err
	}
	defer ns.Close()
	defer h.Close()

	route := &netlink.Route{
		Dst: defaultDst(gwIP),
		Gw:  gwIP,
	}
	if err := h.RouteDel(route); err != nil {
		return fmt.Errorf("delete default route via %s: %w", gw, err)
	}
	return nil
}

// defaultDst is the all-zero destination of the gateway's address family.
func defaultDst(gw net.IP) *net.IPNet {
	if gw.To4() != nil {
		return &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)}
	}
	return &net.IPNet{IP: net.IPv6zero, Mask: net.CIDRMask(0, 128)}
}
