// Package routeinject defines the RIB-to-protocol subscription stream:
// link-add, link-del, addr-add, addr-del, route-add, route-del, and
// end-of-rib events, a fan-out Publisher, and translators from the FIB
// driver's kernel events. No package in this module constructs a Publisher
// or implements Subscriber, so the stream is not connected to the RIB, BGP
// or IS-IS.
package routeinject

import (
	"net/netip"

	"github.com/ridged/ridged/internal/fib"
)

// EventKind selects which of the seven event shapes an Event carries.
type EventKind int

const (
	EventLinkAdd EventKind = iota
	EventLinkDel
	EventAddrAdd
	EventAddrDel
	EventRouteAdd
	EventRouteDel
	EventEndOfRIB
)

// Event is one message on the subscription stream. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	LinkName  string
	LinkIndex int
	LinkUp    bool
	MTU       int

	Addr      netip.Prefix
	Secondary bool

	Route fib.Route
}

// Subscriber receives the event stream once registered via a Publisher.
type Subscriber interface {
	OnRouteInjectEvent(Event)
}

// Publisher fans a single upstream event stream out to every registered
// Subscriber.
type Publisher struct {
	subscribers []Subscriber
}

// NewPublisher constructs an empty fan-out publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Subscribe registers s to receive every subsequent Publish call.
func (p *Publisher) Subscribe(s Subscriber) {
	p.subscribers = append(p.subscribers, s)
}

// Publish fans ev out to every subscriber, in registration order.
func (p *Publisher) Publish(ev Event) {
	for _, s := range p.subscribers {
		s.OnRouteInjectEvent(ev)
	}
}

// FromLinkEvent translates a FIB driver link event into a routeinject
// Event. The driver reports link presence via Up rather than a separate
// delete notification (a link disappearing from the kernel surfaces as
// Up==false), so Kind always resolves to EventLinkAdd here; callers that
// need delete semantics watch LinkUp going false.
func FromLinkEvent(ev fib.LinkEvent) Event {
	return Event{
		Kind:      EventLinkAdd,
		LinkName:  ev.Name,
		LinkIndex: ev.Index,
		LinkUp:    ev.Up,
		MTU:       ev.MTU,
	}
}

// FromAddrEvent translates a FIB driver address event into a routeinject
// Event.
func FromAddrEvent(ev fib.AddrEvent) Event {
	kind := EventAddrAdd
	if ev.Deleted {
		kind = EventAddrDel
	}
	return Event{Kind: kind, LinkName: ev.Link, Addr: ev.Address}
}

// FromRouteEvent translates a FIB driver kernel route event into a
// routeinject Event carrying only the prefix and protocol.
func FromRouteEvent(ev fib.RouteEvent) Event {
	kind := EventRouteAdd
	if ev.Deleted {
		kind = EventRouteDel
	}
	return Event{Kind: kind, Route: fib.Route{Prefix: ev.Prefix, Protocol: ev.Protocol}}
}

// EndOfRIB builds the end-of-rib marker event, for sending once a
// protocol's initial table load has fully converged (mirrored from BGP's
// own End-of-RIB marker, generalized to every protocol here). The event
// carries no AFI.
func EndOfRIB() Event {
	return Event{Kind: EventEndOfRIB}
}
