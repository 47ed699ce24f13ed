package netutil

import (
	"net"
	"strings"
)

var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// vpnMarkers are substrings of interface names used by VPN and tunnel
// software (OpenVPN, TAP adapters, WireGuard, PPP, Cloudflare WARP).
var vpnMarkers = []string{"tun", "tap", "wg", "ppp", "warp"}

// Interface is the part of net.Interface the heuristic looks at.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

// ShouldForceRelay reports whether the host is likely behind a VPN or
// carrier-grade NAT, where direct peer paths rarely work and TURN should
// be forced.
func ShouldForceRelay() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	list := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, _ := iface.Addrs()
		list = append(list, Interface{Name: iface.Name, Flags: iface.Flags, Addrs: addrs})
	}
	return RelayHeuristic(list)
}

func RelayHeuristic(ifaces []Interface) bool {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, marker := range vpnMarkers {
			if strings.Contains(name, marker) {
				return true
			}
		}

		for _, addr := range iface.Addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && cgnatBlock.Contains(ip) {
				return true
			}
		}
	}
	return false
}
