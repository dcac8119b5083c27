package dht

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

var (
	// ErrInvalidPort is returned when a port is outside 0..65535.
	ErrInvalidPort = errors.New("port out of range")
	// ErrInvalidAddress is returned when an address is not an IP literal.
	ErrInvalidAddress = errors.New("invalid ip address")
)

// Node is an immutable record of a remote peer. Identity is defined by ID
// alone; Addr and LastSeen are informational. Updating a node produces a
// new value through Touch.
type Node struct {
	ID       NodeID
	Addr     netip.AddrPort
	LastSeen time.Time
}

// NewNode validates and builds a node record from raw inputs as they arrive
// from a transport or bootstrap list. LastSeen is set to the current time.
func NewNode(id []byte, ip string, port int) (Node, error) {
	nodeID, err := NodeIDFromBytes(id)
	if err != nil {
		return Node{}, err
	}
	if port < 0 || port > 65535 {
		return Node{}, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}
	return NewNodeFromAddrPort(nodeID, netip.AddrPortFrom(addr, uint16(port)), getTimeProvider(nil).Now()), nil
}

// NewNodeFromAddrPort builds a node from an already parsed address.
// IPv4-mapped IPv6 addresses are unmapped so the node is classified as IPv4.
func NewNodeFromAddrPort(id NodeID, addr netip.AddrPort, lastSeen time.Time) Node {
	return Node{
		ID:       id,
		Addr:     netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()),
		LastSeen: lastSeen,
	}
}

// NewNodeFromNetAddr builds a node from a transport-level address such as
// *net.UDPAddr or *net.TCPAddr.
func NewNodeFromNetAddr(id NodeID, addr net.Addr) (Node, error) {
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap = a.AddrPort()
	case *net.TCPAddr:
		ap = a.AddrPort()
	default:
		if addr == nil {
			return Node{}, fmt.Errorf("%w: nil address", ErrInvalidAddress)
		}
		parsed, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return Node{}, fmt.Errorf("%w: %q", ErrInvalidAddress, addr.String())
		}
		ap = parsed
	}
	if !ap.Addr().IsValid() {
		return Node{}, fmt.Errorf("%w: %v", ErrInvalidAddress, addr)
	}
	return NewNodeFromAddrPort(id, ap, getTimeProvider(nil).Now()), nil
}

// ResolveNode looks up host and builds a node from the first address
// returned. It blocks on DNS and is not part of the routing table's
// synchronous contract.
func ResolveNode(ctx context.Context, id NodeID, host string, port int) (Node, error) {
	if port < 0 || port > 65535 {
		return Node{}, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return Node{}, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return Node{}, fmt.Errorf("%w: no addresses for %s", ErrInvalidAddress, host)
	}
	return NewNodeFromAddrPort(id, netip.AddrPortFrom(addrs[0], uint16(port)), getTimeProvider(nil).Now()), nil
}

// Touch returns a copy of n with LastSeen set to now.
func (n Node) Touch(now time.Time) Node {
	n.LastSeen = now
	return n
}

// Equal reports whether n and other identify the same peer.
func (n Node) Equal(other Node) bool {
	return n.ID == other.ID
}

// IsStale reports whether n has not been seen for longer than threshold.
func (n Node) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(n.LastSeen) > threshold
}

// Family returns 4 or 6 for IPv4 and IPv6 addresses, and 0 otherwise.
func (n Node) Family() byte {
	a := n.Addr.Addr()
	switch {
	case a.Is4():
		return familyIPv4
	case a.Is6():
		return familyIPv6
	default:
		return 0
	}
}

// String returns a short description suitable for logs.
func (n Node) String() string {
	return fmt.Sprintf("Node{id=%s, addr=%s}", n.ID, n.Addr)
}
