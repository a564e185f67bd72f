package pairing

import (
	"net"

	apperrors "github.com/epoq/desktop/internal/errors"
)

// ResolveIP returns the host's locally reachable IPv4 address, the one a
// phone on the same network should dial.
//
// It first asks the OS which interface would route outbound traffic (no
// packets are sent for UDP dial), then falls back to scanning interfaces for
// a private IPv4. Returns a pairing.no_address error if neither works; this
// is fatal to the pairing attempt, not to the process.
func ResolveIP() (string, error) {
	if ip := preferredOutboundIP(); ip != "" {
		return ip, nil
	}
	if ip := scanInterfaceIP(); ip != "" {
		return ip, nil
	}
	return "", apperrors.New(apperrors.CodePairingNoAddress, "could not determine a reachable network address")
}

// preferredOutboundIP returns the local IP the OS would use for outbound
// traffic. Dialing UDP to a public IP doesn't send any packets; it just lets
// us query which local interface the OS would pick.
func preferredOutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return localAddr.IP.String()
}

// scanInterfaceIP scans network interfaces for a non-loopback IPv4 address.
// Used when the outbound-dial trick fails (e.g., no default route).
func scanInterfaceIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
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
			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLoopback() {
				continue
			}
			return ip.String()
		}
	}
	return ""
}
