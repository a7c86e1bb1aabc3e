// Package guest rewrites network configuration files inside a running
// container so the guest-visible view matches the persisted config.
package guest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/cradlehost/cradle/lib/hostcmd"
	"github.com/cradlehost/cradle/lib/logger"
)

// Setup applies guest-side network configuration for a container.
type Setup interface {
	Apply(ctx context.Context, id string, cfg *ctconfig.Config) error
}

const applyTimeout = 15 * time.Second

const interfacesPath = "/etc/network/interfaces"

// debianSetup renders an ifupdown interfaces file and installs it through
// lxc-attach. Other distro flavors can implement Setup alongside it.
type debianSetup struct {
	run func(ctx context.Context, timeout time.Duration, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// NewDebianSetup creates a Setup for Debian-family guests.
func NewDebianSetup() Setup {
	return &debianSetup{run: hostcmd.RunInput}
}

func (s *debianSetup) Apply(ctx context.Context, id string, cfg *ctconfig.Config) error {
	log := logger.FromContext(ctx)

	content := renderInterfaces(cfg)
	_, err := s.run(ctx, applyTimeout, strings.NewReader(content),
		"lxc-attach", "-n", id, "--", "tee", interfacesPath)
	if err != nil {
		return fmt.Errorf("write %s in container %s: %w", interfacesPath, id, err)
	}

	log.DebugContext(ctx, "guest network files rewritten", "container_id", id)
	return nil
}

// renderInterfaces produces the full ifupdown file for every configured
// interface, lowest slot first.
func renderInterfaces(cfg *ctconfig.Config) string {
	var b strings.Builder
	b.WriteString("auto lo\niface lo inet loopback\n")

	for _, slot := range configuredSlots(cfg) {
		iface := cfg.Interfaces[slot]
		b.WriteString("\nauto " + iface.Name + "\n")
		writeFamily(&b, iface.Name, "inet", iface.IP, iface.Gateway)
		writeFamily(&b, iface.Name, "inet6", iface.IP6, iface.Gateway6)
	}
	return b.String()
}

func writeFamily(b *strings.Builder, name, family, addr, gw string) {
	if addr == "" {
		// Only emit the v4 stanza for an unaddressed interface; a bare
		// inet6 manual line confuses older ifupdown versions.
		if family == "inet" {
			fmt.Fprintf(b, "iface %s %s manual\n", name, family)
		}
		return
	}
	fmt.Fprintf(b, "iface %s %s static\n", name, family)
	fmt.Fprintf(b, "\taddress %s\n", addr)
	if gw != "" {
		fmt.Fprintf(b, "\tgateway %s\n", gw)
	}
}

func configuredSlots(cfg *ctconfig.Config) []int {
	var slots []int
	for i, iface := range cfg.Interfaces {
		if iface != nil {
			slots = append(slots, i)
		}
	}
	sort.Ints(slots)
	return slots
}
