package segment

import (
	"net"
	"net/netip"
)

// Matches reports whether every flag in required is set in h. Extra flags
// are tolerated; callers that must reject them check Flags directly.
func Matches(h Header, required Flags) bool {
	return h.Flags.Has(required)
}

// AckMatches reports whether h acknowledges exactly sndNxt.
func AckMatches(h Header, sndNxt uint32) bool {
	return h.Ack == sndNxt
}

// SamePeer reports whether two addresses name the same endpoint. UDP
// addresses compare by IP and port so IPv4-mapped forms match plain IPv4.
func SamePeer(received, peer net.Addr) bool {
	if received == nil || peer == nil {
		return false
	}
	ra, rok := addrPort(received)
	pa, pok := addrPort(peer)
	if rok && pok {
		return ra == pa
	}
	return received.Network() == peer.Network() && received.String() == peer.String()
}

func addrPort(a net.Addr) (netip.AddrPort, bool) {
	u, ok := a.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	ap := u.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), ap.IsValid()
}
