package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func ipnet(s string) net.Addr {
	ip, n, _ := net.ParseCIDR(s)
	n.IP = ip
	return n
}

func TestRelayHeuristic(t *testing.T) {
	up := net.FlagUp

	tests := []struct {
		name   string
		ifaces []Interface
		want   bool
	}{
		{"plain ethernet", []Interface{{Name: "eth0", Flags: up, Addrs: []net.Addr{ipnet("192.168.1.4/24")}}}, false},
		{"wireguard", []Interface{{Name: "wg0", Flags: up}}, true},
		{"down tunnel ignored", []Interface{{Name: "tun0"}}, false},
		{"loopback ignored", []Interface{{Name: "lo", Flags: up | net.FlagLoopback, Addrs: []net.Addr{ipnet("100.64.0.1/32")}}}, false},
		{"cgnat address", []Interface{{Name: "en0", Flags: up, Addrs: []net.Addr{ipnet("100.100.3.2/10")}}}, true},
		{"outside cgnat", []Interface{{Name: "en0", Flags: up, Addrs: []net.Addr{&net.IPAddr{IP: net.ParseIP("100.128.0.1")}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, RelayHeuristic(tt.ifaces))
		})
	}
}
