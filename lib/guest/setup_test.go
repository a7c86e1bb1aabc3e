package guest

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cradlehost/cradle/lib/ctconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderInterfaces(t *testing.T) {
	cfg := &ctconfig.Config{}
	cfg.Interfaces[2] = &ctconfig.NetworkInterface{
		Name:    "eth2",
		IP:      "10.0.0.5/24",
		Gateway: "10.0.0.1",
	}
	cfg.Interfaces[0] = &ctconfig.NetworkInterface{
		Name:     "eth0",
		IP:       "192.168.1.10/24",
		Gateway:  "192.168.1.1",
		IP6:      "fd00::10/64",
		Gateway6: "fd00::1",
	}

	got := renderInterfaces(cfg)
	want := "auto lo\n" +
		"iface lo inet loopback\n" +
		"\n" +
		"auto eth0\n" +
		"iface eth0 inet static\n" +
		"\taddress 192.168.1.10/24\n" +
		"\tgateway 192.168.1.1\n" +
		"iface eth0 inet6 static\n" +
		"\taddress fd00::10/64\n" +
		"\tgateway fd00::1\n" +
		"\n" +
		"auto eth2\n" +
		"iface eth2 inet static\n" +
		"\taddress 10.0.0.5/24\n" +
		"\tgateway 10.0.0.1\n"
	assert.Equal(t, want, got)
}

func TestRenderUnaddressedInterface(t *testing.T) {
	cfg := &ctconfig.Config{}
	cfg.Interfaces[0] = &ctconfig.NetworkInterface{Name: "eth0"}

	got := renderInterfaces(cfg)
	assert.Contains(t, got, "iface eth0 inet manual\n")
	assert.NotContains(t, got, "inet6")
}

func TestApplyInstallsViaAttach(t *testing.T) {
	var gotArgs []string
	var gotStdin string
	s := &debianSetup{
		run: func(ctx context.Context, timeout time.Duration, stdin io.Reader, name string, args ...string) ([]byte, error) {
			gotArgs = append([]string{name}, args...)
			raw, err := io.ReadAll(stdin)
			require.NoError(t, err)
			gotStdin = string(raw)
			return nil, nil
		},
	}

	cfg := &ctconfig.Config{}
	cfg.Interfaces[0] = &ctconfig.NetworkInterface{Name: "eth0", IP: "10.1.1.2/24"}
	require.NoError(t, s.Apply(context.Background(), "101", cfg))

	assert.Equal(t, []string{"lxc-attach", "-n", "101", "--", "tee", "/etc/network/interfaces"}, gotArgs)
	assert.Contains(t, gotStdin, "address 10.1.1.2/24")
}
