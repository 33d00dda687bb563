package socket

import (
	"net"

	glerrors "github.com/nathanpc/groundlift/internal/errors"
)

// Interface describes one usable IPv4 network interface for discovery
// broadcasting: its name, unicast address, and broadcast address.
type Interface struct {
	Name      string
	Unicast   net.IP
	Broadcast net.IP
}

// Interfaces enumerates usable IPv4 interfaces: up, broadcast-capable, and
// not loopback. Go's net package never exposes a broadcast address
// directly (unlike some platform APIs), so it is always computed as
// unicast | ~netmask.
func Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, &glerrors.SocketError{Operation: "enumerate interfaces", Err: err}
	}

	var out []Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagBroadcast == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}

			out = append(out, Interface{
				Name:      iface.Name,
				Unicast:   ip4,
				Broadcast: broadcastAddr(ip4, ipNet.Mask),
			})
		}
	}

	return out, nil
}

// broadcastAddr computes unicast | ~netmask.
func broadcastAddr(ip net.IP, mask net.IPMask) net.IP {
	ip4 := ip.To4()
	m := mask
	if len(m) == net.IPv6len {
		m = m[12:]
	}
	out := make(net.IP, 4)
	for i := range out {
		out[i] = ip4[i] | ^m[i]
	}
	return out
}

// AddrString renders addr without a port attached. net.IP.String() never
// includes one, so this is a thin, explicit wrapper documenting that
// guarantee at the call sites that need it.
func AddrString(ip net.IP) string {
	return ip.String()
}
