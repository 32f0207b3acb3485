package bgp

import (
	"encoding/binary"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/bgp/attr"
	"github.com/ridged/ridged/internal/bgp/message"
	"github.com/ridged/ridged/internal/counter"
	"github.com/ridged/ridged/internal/metrics"
	"github.com/ridged/ridged/internal/queue"
	"github.com/ridged/ridged/internal/stream"
	"github.com/ridged/ridged/internal/timer"
)

// outboundQueueLimit bounds the per-session writer queue: a reader/writer
// channel is treated as bounded, with a high-water mark that triggers a
// session reset rather than unbounded growth.
const outboundQueueLimit = 256

// PeerConfig is the resolved, per-session configuration a Peer actor runs
// with.
type PeerConfig struct {
	Address              netip.Addr
	LocalAS              uint32
	RemoteAS             uint32
	RouterID             uint32 // local BGP identifier
	Passive              bool
	RouteReflectorClient bool
	ConfiguredHoldTime   uint16
	AddPathReceive       bool
	AddPathSend          bool
}

// Peer is the actor owning one BGP session: one inbound event channel, one
// goroutine, the six-state FSM from fsm.go, and the per-peer Adj-RIB-In/Out
// tables consumed by rib.go's pipeline.
type Peer struct {
	config PeerConfig
	log    *zap.Logger
	rib    *RIB

	events chan Event
	done   chan struct{}

	state State

	conn          net.Conn
	secondaryConn net.Conn

	connRetryTimer *timer.Timer
	idleHoldTimer  *timer.Timer
	holdTimer      *timer.Timer
	keepaliveTimer *timer.Timer

	remoteID          uint32
	remoteAS          uint32
	fourOctetASN      bool
	addPathNegotiated bool
	negotiatedHold    time.Duration
	gracefulRestart   *message.GracefulRestartCap

	writeMu    sync.Mutex
	outbox     *queue.Queue
	outboxWake chan struct{}
	dropped    *counter.Counter
}

// NewPeer constructs a Peer actor bound to the given central RIB.
func NewPeer(cfg PeerConfig, rib *RIB, parentLog *zap.Logger) *Peer {
	p := &Peer{
		config: cfg,
		log:    parentLog.With(zap.String("component", "bgp.fsm"), zap.String("peer", cfg.Address.String())),
		rib:    rib,
		events:     make(chan Event, 64),
		done:       make(chan struct{}),
		state:      Idle,
		outbox:     queue.New(outboundQueueLimit),
		outboxWake: make(chan struct{}, 1),
		dropped:    counter.New(),
	}
	p.connRetryTimer = timer.New(30*time.Second, false, func() { p.post(Event{Kind: EvConnRetryTimerExpires}) })
	p.connRetryTimer.Stop()
	p.idleHoldTimer = timer.New(10*time.Second, false, func() { p.post(Event{Kind: EvIdleHoldTimerExpires}) })
	p.idleHoldTimer.Stop()
	p.holdTimer = timer.New(90*time.Second, false, func() { p.post(Event{Kind: EvHoldTimerExpires}) })
	p.holdTimer.Stop()
	p.keepaliveTimer = timer.New(30*time.Second, true, func() { p.post(Event{Kind: EvKeepaliveTimerExpires}) })
	p.keepaliveTimer.Stop()
	return p
}

// post delivers ev to the peer's own channel; safe to call from timers and
// from the reader/acceptor goroutines since only messages, never shared
// state, cross actor boundaries.
func (p *Peer) post(ev Event) {
	select {
	case p.events <- ev:
	case <-p.done:
	}
}

// Run is the actor's goroutine body.
func (p *Peer) Run() {
	p.post(Event{Kind: EvStart})
	for {
		select {
		case ev := <-p.events:
			p.handle(ev)
			if ev.Kind == EvStop {
				close(p.done)
				return
			}
		case <-p.done:
			return
		}
	}
}

// Stop requests the actor shut down; it posts EvStop and lets the running
// goroutine close p.done after processing it.
func (p *Peer) Stop() {
	p.post(Event{Kind: EvStop})
}

func (p *Peer) dialOutbound() {
	addr := net.JoinHostPort(p.config.Address.String(), "179")
	go func() {
		conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
		if err != nil {
			p.post(Event{Kind: EvConnFail})
			return
		}
		p.post(Event{Kind: EvConnected, Payload: conn})
	}()
}

func (p *Peer) acceptTransport(payload any) {
	conn, ok := payload.(net.Conn)
	if !ok {
		return
	}
	p.writeMu.Lock()
	p.conn = conn
	p.writeMu.Unlock()
	go p.readLoop(conn)
	go p.writeLoop(conn)
}

// acceptSecondaryTransport records a second inbound connection that arrived
// while the first Open exchange is still in flight; collision is resolved
// by BGP identifier once both Opens are known (RFC 4271 section 6.8).
func (p *Peer) acceptSecondaryTransport(payload any) {
	conn, ok := payload.(net.Conn)
	if !ok {
		return
	}
	p.writeMu.Lock()
	p.secondaryConn = conn
	p.writeMu.Unlock()
	go p.readLoop(conn)
	go p.writeLoop(conn)
}

// resolveCollision keeps the connection whose originating BGP identifier is
// higher, closing the other, per RFC 4271 section 6.8.
func (p *Peer) resolveCollision() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.secondaryConn == nil {
		return
	}
	if p.config.RouterID > p.remoteID {
		p.secondaryConn.Close()
		p.secondaryConn = nil
		return
	}
	p.conn.Close()
	p.conn = p.secondaryConn
	p.secondaryConn = nil
}

func (p *Peer) closeTransport() {
	p.writeMu.Lock()
	conn, secondaryConn := p.conn, p.secondaryConn
	p.conn, p.secondaryConn = nil, nil
	p.writeMu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if secondaryConn != nil {
		secondaryConn.Close()
	}
	p.holdTimer.Stop()
	p.keepaliveTimer.Stop()
}

// readLoop pulls PDUs off conn and posts them as typed events; it never
// touches Peer fields directly, keeping all mutation on the actor goroutine.
func (p *Peer) readLoop(conn net.Conn) {
	for {
		header, err := stream.ReadN(conn, message.HeaderLength)
		if err != nil {
			p.post(Event{Kind: EvConnFail})
			return
		}
		h, derr := message.DecodeHeader(header)
		if derr != nil {
			p.post(Event{Kind: EvConnFail})
			return
		}
		body, err := stream.ReadN(conn, h.Length-message.HeaderLength)
		if err != nil {
			p.post(Event{Kind: EvConnFail})
			return
		}
		switch h.Type {
		case message.Open:
			o, derr := message.DecodeOpen(body)
			if derr != nil {
				p.post(Event{Kind: EvNotifMsg})
				return
			}
			p.post(Event{Kind: EvBGPOpen, Payload: o})
		case message.Keepalive:
			p.post(Event{Kind: EvKeepAliveMsg})
		case message.Update:
			u, derr := message.DecodeUpdate(body, p.fourOctetASN, p.addPathNegotiated)
			if derr != nil {
				p.post(Event{Kind: EvNotifMsg})
				return
			}
			p.post(Event{Kind: EvUpdateMsg, Payload: u})
		case message.Notification:
			p.post(Event{Kind: EvNotifMsg})
			return
		case message.RouteRefresh:
			// Route-refresh triggers a re-advertisement of Adj-RIB-Out; not
			// modeled as an FSM event since it never changes session state.
		}
	}
}

// writeFrame enqueues wire onto the bounded outbound queue rather than
// writing the socket directly; writeLoop drains it. If the queue is at its
// high-water mark the frame is dropped and the session is reset instead of
// growing the queue without bound.
func (p *Peer) writeFrame(wire []byte) {
	if err := p.outbox.Push(wire); err != nil {
		p.dropped.Increment()
		p.log.Warn("outbound queue full, resetting session", zap.Uint64("dropped_total", p.dropped.Value()))
		p.post(Event{Kind: EvConnFail})
		return
	}
	select {
	case p.outboxWake <- struct{}{}:
	default:
	}
}

// writeLoop drains p.outbox onto conn until the connection is torn down,
// waking on outboxWake instead of polling.
func (p *Peer) writeLoop(conn net.Conn) {
	for {
		p.writeMu.Lock()
		active := p.conn
		p.writeMu.Unlock()
		if active != conn {
			return
		}
		wire, ok := p.outbox.Pop()
		if !ok {
			select {
			case <-p.done:
				return
			case <-p.outboxWake:
				continue
			}
		}
		if _, err := conn.Write(wire); err != nil {
			return
		}
	}
}

func (p *Peer) sendOpen() {
	caps := []message.Capability{
		{Code: message.CapFourOctetASN, FourOctetASN: p.config.LocalAS},
		{Code: message.CapRouteRefresh},
		{Code: message.CapMultiProtocol, MultiProtocol: &message.AFISAFI{AFI: 1, SAFI: 1}},
	}
	myAS := uint16(p.config.LocalAS)
	if p.config.LocalAS > 0xffff {
		myAS = 23456
	}
	o := &message.Open{
		Version:      4,
		MyAS:         myAS,
		HoldTime:     p.config.ConfiguredHoldTime,
		Identifier:   p.config.RouterID,
		Capabilities: caps,
	}
	p.writeFrame(o.Encode())
}

func (p *Peer) sendKeepalive() {
	p.writeFrame(message.EncodeKeepalive())
}

func (p *Peer) sendNotification(err error) {
	de, ok := err.(*message.DecodeError)
	if !ok {
		return
	}
	n := &message.Notification{Code: de.Code, Subcode: de.Subcode}
	p.writeFrame(n.Encode())
}

func (p *Peer) sendNotificationHoldExpired() {
	n := &message.Notification{Code: message.HoldTimerExpired}
	p.writeFrame(n.Encode())
}

// validateAndApplyOpen implements OpenSent handling (RFC 4271 section 6.2):
// ASN/hold-time validation, hold/keepalive negotiation, capability capture.
func (p *Peer) validateAndApplyOpen(payload any) error {
	o, ok := payload.(*message.Open)
	if !ok {
		return &message.DecodeError{Code: message.MessageHeaderError, Subcode: message.BadMessageType, Reason: "expected OPEN payload"}
	}
	p.remoteID = o.Identifier
	p.remoteAS = o.FourOctetASN()
	if p.config.RemoteAS != 0 && p.remoteAS != p.config.RemoteAS {
		return &message.DecodeError{Code: message.OpenMessageError, Subcode: message.BadPeerAS, Reason: "remote AS mismatch"}
	}
	if o.HoldTime != 0 && o.HoldTime < 3 {
		return &message.DecodeError{Code: message.OpenMessageError, Subcode: message.UnacceptableHoldTime, Reason: "hold time below 3s"}
	}
	negotiated := o.HoldTime
	if p.config.ConfiguredHoldTime < negotiated {
		negotiated = p.config.ConfiguredHoldTime
	}
	p.negotiatedHold = time.Duration(negotiated) * time.Second
	if _, hasCap := o.Capability(message.CapFourOctetASN); hasCap {
		p.fourOctetASN = true
	}
	if gr, hasCap := o.Capability(message.CapGracefulRestart); hasCap {
		p.gracefulRestart = gr.GracefulRestart
	}
	for _, ap := range o.Capabilities {
		if ap.Code == message.CapAddPath {
			p.addPathNegotiated = true
		}
	}
	p.resolveCollision()
	return nil
}

func (p *Peer) negotiatedHoldTime() time.Duration {
	if p.negotiatedHold == 0 {
		return time.Duration(p.config.ConfiguredHoldTime) * time.Second
	}
	return p.negotiatedHold
}

func (p *Peer) onEstablished() {
	if p.negotiatedHold > 0 {
		p.keepaliveTimer.Reset(p.negotiatedHold / 3)
	}
	metrics.BGPPeerState.WithLabelValues(p.config.Address.String()).Set(float64(Established))
	p.rib.PeerUp(p)
	p.sendEndOfRIB()
}

// onLeaveEstablished handles any transition out of Established: purge
// Adj-RIB-In/Out for this peer and rerun best-path selection.
func (p *Peer) onLeaveEstablished() {
	metrics.BGPPeerState.WithLabelValues(p.config.Address.String()).Set(float64(p.state))
	if p.gracefulRestart != nil && p.gracefulRestart.RestartTime > 0 {
		p.rib.PeerDownGraceful(p, time.Duration(p.gracefulRestart.RestartTime)*time.Second)
		return
	}
	p.rib.PeerDown(p)
}

func (p *Peer) onUpdate(payload any) {
	u, ok := payload.(*message.Update)
	if !ok {
		return
	}
	metrics.BGPMessagesTotal.WithLabelValues(p.config.Address.String(), "update", "rx").Inc()
	p.rib.HandleUpdate(p, u)
}

func (p *Peer) sendEndOfRIB() {
	eor := &message.Update{Attributes: &attr.Bundle{}}
	p.writeFrame(eor.Encode(p.fourOctetASN, p.config.AddPathSend))
}

// OutgoingAddress is the local address of the established TCP session, used
// to set NEXT_HOP on eBGP/originated rewrites.
func (p *Peer) OutgoingAddress() uint32 {
	if p.conn == nil {
		return 0
	}
	tcpAddr, ok := p.conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip4)
}

// RemoteRouterID exposes the peer's negotiated BGP identifier for tie-break
// comparisons in the best-path process.
func (p *Peer) RemoteRouterID() uint32 { return p.remoteID }

// RemoteASN exposes the negotiated remote AS.
func (p *Peer) RemoteASN() uint32 { return p.remoteAS }

// IsRouteReflectorClient reports whether this session is configured as an
// RR client.
func (p *Peer) IsRouteReflectorClient() bool { return p.config.RouteReflectorClient }

// IsIBGP reports whether the session is internal (same AS both sides).
func (p *Peer) IsIBGP() bool { return p.remoteAS == p.config.LocalAS }
