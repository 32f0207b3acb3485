package fib

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/metrics"
)

// protocolTable maps our Protocol enum onto the kernel's rtnetlink protocol
// byte, the way netlink-dataplane.go's RouteAdd/RouteDel calls set
// route.Protocol to distinguish dataplane-installed routes from the rest of
// the table.
var protocolTable = map[Protocol]netlink.RouteProtocol{
	ProtoKernel:    netlink.RouteProtocol(unixRTProtoKernel),
	ProtoStatic:    netlink.RouteProtocol(unixRTProtoStatic),
	ProtoBGP:       netlink.RouteProtocol(186), // RFC-unreserved range, distinct tag for our BGP routes
	ProtoOSPF:      netlink.RouteProtocol(188),
	ProtoISIS:      netlink.RouteProtocol(187),
	ProtoDHCP:      netlink.RouteProtocol(unixRTProtoDHCP),
	ProtoConnected: netlink.RouteProtocol(unixRTProtoKernel),
}

const (
	unixRTProtoKernel = 2
	unixRTProtoStatic = 4
	unixRTProtoDHCP   = 16
)

// NetlinkDriver implements Driver against the Linux kernel's rtnetlink
// socket via github.com/vishvananda/netlink. Every write runs on the
// caller's goroutine; the driver has no command queue or goroutine of its
// own, and mu guards only its cached maps, so the driver does not serialize
// concurrent callers.
type NetlinkDriver struct {
	log *zap.Logger

	mu     sync.Mutex
	groups map[uint32]NexthopGroup
	ilm    map[uint32]ILMEntry

	linkHandles map[string]netlink.Link

	doneCh chan struct{}
}

// NewNetlinkDriver constructs a Driver bound to the default network
// namespace's rtnetlink socket.
func NewNetlinkDriver(log *zap.Logger) *NetlinkDriver {
	return &NetlinkDriver{
		log:         log.With(zap.String("component", "fib.netlink")),
		groups:      make(map[uint32]NexthopGroup),
		ilm:         make(map[uint32]ILMEntry),
		linkHandles: make(map[string]netlink.Link),
		doneCh:      make(chan struct{}),
	}
}

func (d *NetlinkDriver) link(name string) (netlink.Link, error) {
	d.mu.Lock()
	if l, ok := d.linkHandles[name]; ok {
		d.mu.Unlock()
		return l, nil
	}
	d.mu.Unlock()
	l, err := netlink.LinkByName(name)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.linkHandles[name] = l
	d.mu.Unlock()
	return l, nil
}

// AddNexthopGroup records the group and, for a unicast group, nothing is
// installed on its own (Linux has no standalone nexthop-group object
// without the newer RTM_NEWNEXTHOP API); AddRoute below expands the group
// into the route's Gw/MultiPath fields directly, as netlink-dataplane.go's
// RouteAdd does for ECMP paths via netlink.NexthopInfo.
func (d *NetlinkDriver) AddNexthopGroup(g NexthopGroup) error {
	d.mu.Lock()
	d.groups[g.GID] = g
	d.mu.Unlock()
	metrics.FIBOperationsTotal.WithLabelValues("add_nexthop_group", "ok").Inc()
	return nil
}

func (d *NetlinkDriver) DelNexthopGroup(gid uint32) error {
	d.mu.Lock()
	delete(d.groups, gid)
	d.mu.Unlock()
	metrics.FIBOperationsTotal.WithLabelValues("del_nexthop_group", "ok").Inc()
	return nil
}

func (d *NetlinkDriver) routeFor(r Route) (*netlink.Route, error) {
	d.mu.Lock()
	g, ok := d.groups[r.GID]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown nexthop group %d", r.GID)
	}
	_, dst, err := net.ParseCIDR(r.Prefix.String())
	if err != nil {
		return nil, err
	}
	route := &netlink.Route{Dst: dst, Protocol: protocolTable[r.Protocol]}
	if g.Unicast != nil {
		route.Gw = net.IP(g.Unicast.Gateway.AsSlice())
		if g.Unicast.Interface != "" {
			link, err := d.link(g.Unicast.Interface)
			if err != nil {
				return nil, err
			}
			route.LinkIndex = link.Attrs().Index
		}
		if len(g.Unicast.Labels) > 0 {
			route.Encap = mplsEncap(g.Unicast.Labels)
		}
		return route, nil
	}
	for _, nh := range g.Multipath {
		info := &netlink.NexthopInfo{Gw: net.IP(nh.Gateway.AsSlice())}
		if nh.Interface != "" {
			link, err := d.link(nh.Interface)
			if err == nil {
				info.LinkIndex = link.Attrs().Index
			}
		}
		if len(nh.Labels) > 0 {
			info.Encap = mplsEncap(nh.Labels)
		}
		route.MultiPath = append(route.MultiPath, info)
	}
	return route, nil
}

func mplsEncap(labels []uint32) netlink.Encap {
	enc := &netlink.MPLSEncap{Labels: make([]int, len(labels))}
	for i, l := range labels {
		enc.Labels[i] = int(l)
	}
	return enc
}

func (d *NetlinkDriver) AddRoute(r Route) error {
	route, err := d.routeFor(r)
	if err != nil {
		metrics.FIBOperationsTotal.WithLabelValues("add_route", "error").Inc()
		return &Error{Op: "add_route", Target: r.Prefix.String(), Err: err}
	}
	if err := netlink.RouteReplace(route); err != nil {
		metrics.FIBOperationsTotal.WithLabelValues("add_route", "error").Inc()
		return &Error{Op: "add_route", Target: r.Prefix.String(), Err: err}
	}
	metrics.FIBOperationsTotal.WithLabelValues("add_route", "ok").Inc()
	return nil
}

func (d *NetlinkDriver) DelRoute(prefix netip.Prefix, protocol Protocol) error {
	_, dst, err := net.ParseCIDR(prefix.String())
	if err != nil {
		return &Error{Op: "del_route", Target: prefix.String(), Err: err}
	}
	route := &netlink.Route{Dst: dst, Protocol: protocolTable[protocol]}
	if err := netlink.RouteDel(route); err != nil {
		metrics.FIBOperationsTotal.WithLabelValues("del_route", "error").Inc()
		return &Error{Op: "del_route", Target: prefix.String(), Err: err}
	}
	metrics.FIBOperationsTotal.WithLabelValues("del_route", "ok").Inc()
	return nil
}

// AddILM installs an MPLS incoming-label-map entry as an mpls-family route
// on the given label, matching how the kernel represents ILM entries.
func (d *NetlinkDriver) AddILM(e ILMEntry) error {
	d.mu.Lock()
	d.ilm[e.Label] = e
	g, ok := d.groups[e.GID]
	d.mu.Unlock()
	if !ok {
		return &Error{Op: "add_ilm", Target: fmt.Sprintf("label=%d", e.Label), Err: fmt.Errorf("unknown nexthop group %d", e.GID)}
	}
	route := &netlink.Route{
		Dst:      &net.IPNet{IP: net.IP{byte(e.Label >> 12), byte(e.Label >> 4), byte(e.Label << 4)}, Mask: net.CIDRMask(20, 20)},
		Protocol: netlink.RouteProtocol(unixRTProtoStatic),
		Family:   netlink.FAMILY_MPLS,
	}
	if g.Unicast != nil && len(g.Unicast.Labels) > 0 {
		route.Encap = mplsEncap(g.Unicast.Labels)
		route.Gw = net.IP(g.Unicast.Gateway.AsSlice())
	}
	if err := netlink.RouteReplace(route); err != nil {
		metrics.FIBOperationsTotal.WithLabelValues("add_ilm", "error").Inc()
		return &Error{Op: "add_ilm", Target: fmt.Sprintf("label=%d", e.Label), Err: err}
	}
	metrics.FIBOperationsTotal.WithLabelValues("add_ilm", "ok").Inc()
	return nil
}

func (d *NetlinkDriver) DelILM(label uint32) error {
	d.mu.Lock()
	delete(d.ilm, label)
	d.mu.Unlock()
	metrics.FIBOperationsTotal.WithLabelValues("del_ilm", "ok").Inc()
	return nil
}

func (d *NetlinkDriver) SetLinkUp(name string, up bool) error {
	l, err := d.link(name)
	if err != nil {
		return &Error{Op: "link_set_up", Target: name, Err: err}
	}
	if up {
		err = netlink.LinkSetUp(l)
	} else {
		err = netlink.LinkSetDown(l)
	}
	if err != nil {
		return &Error{Op: "link_set_up", Target: name, Err: err}
	}
	return nil
}

func (d *NetlinkDriver) SetLinkMTU(name string, mtu int) error {
	l, err := d.link(name)
	if err != nil {
		return &Error{Op: "link_set_mtu", Target: name, Err: err}
	}
	if err := netlink.LinkSetMTU(l, mtu); err != nil {
		return &Error{Op: "link_set_mtu", Target: name, Err: err}
	}
	return nil
}

func (d *NetlinkDriver) BindVRF(name string, vrf string) error {
	l, err := d.link(name)
	if err != nil {
		return &Error{Op: "link_bind_vrf", Target: name, Err: err}
	}
	vrfLink, err := netlink.LinkByName(vrf)
	if err != nil {
		return &Error{Op: "link_bind_vrf", Target: vrf, Err: err}
	}
	if err := netlink.LinkSetMasterByIndex(l, vrfLink.Attrs().Index); err != nil {
		return &Error{Op: "link_bind_vrf", Target: name, Err: err}
	}
	return nil
}

func (d *NetlinkDriver) AddAddr(link string, addr netip.Prefix) error {
	l, err := d.link(link)
	if err != nil {
		return &Error{Op: "addr_add", Target: link, Err: err}
	}
	nlAddr, err := netlink.ParseAddr(addr.String())
	if err != nil {
		return &Error{Op: "addr_add", Target: addr.String(), Err: err}
	}
	if err := netlink.AddrAdd(l, nlAddr); err != nil {
		return &Error{Op: "addr_add", Target: addr.String(), Err: err}
	}
	return nil
}

func (d *NetlinkDriver) DelAddr(link string, addr netip.Prefix) error {
	l, err := d.link(link)
	if err != nil {
		return &Error{Op: "addr_del", Target: link, Err: err}
	}
	nlAddr, err := netlink.ParseAddr(addr.String())
	if err != nil {
		return &Error{Op: "addr_del", Target: addr.String(), Err: err}
	}
	if err := netlink.AddrDel(l, nlAddr); err != nil {
		return &Error{Op: "addr_del", Target: addr.String(), Err: err}
	}
	return nil
}

// Subscribe starts the three netlink.*Subscribe listener goroutines and
// translates their updates into our typed event channels.
func (d *NetlinkDriver) Subscribe() (<-chan LinkEvent, <-chan AddrEvent, <-chan RouteEvent, error) {
	linkUpdates := make(chan netlink.LinkUpdate)
	addrUpdates := make(chan netlink.AddrUpdate)
	routeUpdates := make(chan netlink.RouteUpdate)

	if err := netlink.LinkSubscribe(linkUpdates, d.doneCh); err != nil {
		return nil, nil, nil, &Error{Op: "subscribe_link", Err: err}
	}
	if err := netlink.AddrSubscribe(addrUpdates, d.doneCh); err != nil {
		return nil, nil, nil, &Error{Op: "subscribe_addr", Err: err}
	}
	if err := netlink.RouteSubscribe(routeUpdates, d.doneCh); err != nil {
		return nil, nil, nil, &Error{Op: "subscribe_route", Err: err}
	}

	links := make(chan LinkEvent, 16)
	addrs := make(chan AddrEvent, 16)
	routes := make(chan RouteEvent, 16)

	go func() {
		for u := range linkUpdates {
			links <- LinkEvent{
				Name:  u.Link.Attrs().Name,
				Index: u.Link.Attrs().Index,
				Up:    u.IfInfomsg.Flags&unixIFFUp != 0,
				MTU:   u.Link.Attrs().MTU,
			}
		}
		close(links)
	}()
	go func() {
		for u := range addrUpdates {
			p, ok := netip.AddrFromSlice(u.LinkAddress.IP)
			if !ok {
				continue
			}
			ones, _ := u.LinkAddress.Mask.Size()
			addrs <- AddrEvent{
				Address: netip.PrefixFrom(p, ones),
				Deleted: !u.NewAddr,
			}
		}
		close(addrs)
	}()
	go func() {
		for u := range routeUpdates {
			if u.Route.Dst == nil {
				continue
			}
			p, ok := netip.AddrFromSlice(u.Route.Dst.IP)
			if !ok {
				continue
			}
			ones, _ := u.Route.Dst.Mask.Size()
			routes <- RouteEvent{
				Prefix:  netip.PrefixFrom(p, ones),
				Deleted: u.Type == unixRTMDelRoute,
			}
		}
		close(routes)
	}()

	return links, addrs, routes, nil
}

const (
	unixIFFUp       = 0x1
	unixRTMDelRoute = 25
)

func (d *NetlinkDriver) Close() error {
	close(d.doneCh)
	return nil
}
