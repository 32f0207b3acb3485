// Package fib implements the kernel forwarding-plane driver:
// link/address/route/nexthop-group/ILM programming plus an inbound
// subscription stream of kernel-originated link/addr/route events (see
// DESIGN.md), using github.com/vishvananda/netlink. Writes run on the
// caller's goroutine; there is no command channel.
package fib

import (
	"fmt"
	"net/netip"
)

// Protocol identifies the owner of a FIB route, carried through to the
// kernel as the route's protocol field so kernel-originated dumps can be
// told apart from ours.
type Protocol uint8

const (
	ProtoKernel Protocol = iota
	ProtoStatic
	ProtoBGP
	ProtoOSPF
	ProtoISIS
	ProtoDHCP
	ProtoConnected
)

func (p Protocol) String() string {
	names := [...]string{"kernel", "static", "bgp", "ospf", "isis", "dhcp", "connected"}
	if int(p) < len(names) {
		return names[p]
	}
	return fmt.Sprintf("protocol(%d)", p)
}

// Nexthop is one forwarding next hop: a gateway address, the outgoing
// interface, and an optional MPLS label stack.
type Nexthop struct {
	Gateway   netip.Addr
	Interface string
	Labels    []uint32
}

// WeightedNexthop is one member of a multipath nexthop group.
type WeightedNexthop struct {
	Nexthop
	Weight uint8
}

// NexthopGroup is either a single unicast Nexthop or an ordered multipath
// set, installed under a 32-bit group id.
type NexthopGroup struct {
	GID       uint32
	Unicast   *Nexthop
	Multipath []WeightedNexthop
}

// Route is a prefix programmed against an already-installed nexthop group.
type Route struct {
	Prefix   netip.Prefix
	GID      uint32
	Protocol Protocol
}

// ILMEntry installs an MPLS incoming-label-map entry against a nexthop
// group, reusing the same GID encoding as Route/NexthopGroup.
type ILMEntry struct {
	Label uint32
	GID   uint32
}

// LinkEvent, AddrEvent, and RouteEvent are the kernel-originated
// notifications Subscribe delivers; a RouteEvent handed to the RIB never
// overrides protocol-selected state.
type LinkEvent struct {
	Name  string
	Index int
	Up    bool
	MTU   int
}

type AddrEvent struct {
	Link    string
	Address netip.Prefix
	Deleted bool
}

type RouteEvent struct {
	Prefix   netip.Prefix
	Protocol Protocol
	Deleted  bool
}

// Driver is the interface the central RIB programs the kernel forwarding
// plane through. Every method returns a structured
// error describing the kernel's reply; callers treat failures as retryable
// diagnostics, never as RIB state changes.
type Driver interface {
	AddNexthopGroup(g NexthopGroup) error
	DelNexthopGroup(gid uint32) error

	AddRoute(r Route) error
	DelRoute(prefix netip.Prefix, protocol Protocol) error

	AddILM(e ILMEntry) error
	DelILM(label uint32) error

	SetLinkUp(name string, up bool) error
	SetLinkMTU(name string, mtu int) error
	BindVRF(name string, vrf string) error
	AddAddr(link string, addr netip.Prefix) error
	DelAddr(link string, addr netip.Prefix) error

	// Subscribe starts the kernel-event listener goroutines and returns
	// channels delivering link/addr/route notifications until Close.
	Subscribe() (<-chan LinkEvent, <-chan AddrEvent, <-chan RouteEvent, error)
	Close() error
}

// Error wraps a failed FIB operation with enough context to log and retry.
type Error struct {
	Op     string
	Target string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fib: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
