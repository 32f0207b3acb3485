package isis

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/fib"
	"github.com/ridged/ridged/internal/isis/packet"
	rib "github.com/ridged/ridged/internal/rib"
	"github.com/ridged/ridged/internal/timer"
)

// Transport sends a raw IS-IS frame out a link (ISO 10589 SNPA framing:
// LLC/SNAP with DSAP/SSAP 0xFE for broadcast, direct encapsulation for
// point-to-point). It is injected rather than owned by this package the
// way internal/fib.Driver is injected into internal/rib, so the instance
// can be unit-tested without a live link.
type Transport interface {
	SendFrame(linkName string, dst [6]byte, payload []byte) error

	// RecvFrame blocks until a frame arrives on linkName and returns its
	// source SNPA and payload. A non-nil error is terminal for that link's
	// receive loop (closed socket, interface removed).
	RecvFrame(linkName string) (src [6]byte, payload []byte, err error)
}

var (
	multicastAllL1ISs = [6]byte{0x01, 0x80, 0xC2, 0x00, 0x00, 0x14}
	multicastAllL2ISs = [6]byte{0x01, 0x80, 0xC2, 0x00, 0x00, 0x15}
)

// InstanceConfig is the static identity of the IS-IS router: system-id,
// area addresses, hold/refresh defaults.
type InstanceConfig struct {
	SystemID  packet.SystemID
	AreaAddrs [][]byte
	Hostname  string
	HoldTime  uint16
	SRGBBase  uint32
	SRGBSize  uint32
}

type neighborGatewayInfo struct {
	link string
	addr netip.Addr
}

// Instance is the IS-IS router orchestrator actor: it owns every Link and
// both levels' LSDBs, and is the single point where SPF results are pushed
// to the central RIB.
type Instance struct {
	config     InstanceConfig
	systemID   packet.SystemID
	log        *zap.Logger
	centralRIB *rib.RIB
	transport  Transport

	links map[string]*Link

	lsdbL1, lsdbL2 *LSDB

	spfPendingL1, spfPendingL2 bool
	spfRoutesL1, spfRoutesL2   map[netip.Prefix]spfRoute
	spfLabelsL1, spfLabelsL2   map[uint32]nodeKey

	seqL1, seqL2 uint32

	neighborGateways map[packet.SystemID]neighborGatewayInfo

	labels *labelPool

	events chan func()
	done   chan struct{}
}

// NewInstance constructs an IS-IS router bound to the given transport and
// central RIB.
func NewInstance(cfg InstanceConfig, transport Transport, centralRIB *rib.RIB, log *zap.Logger) *Instance {
	return &Instance{
		config:           cfg,
		systemID:         cfg.SystemID,
		log:              log.With(zap.String("component", "isis")),
		centralRIB:       centralRIB,
		transport:        transport,
		links:            make(map[string]*Link),
		lsdbL1:           newLSDB(),
		lsdbL2:           newLSDB(),
		spfRoutesL1:      make(map[netip.Prefix]spfRoute),
		spfRoutesL2:      make(map[netip.Prefix]spfRoute),
		spfLabelsL1:      make(map[uint32]nodeKey),
		spfLabelsL2:      make(map[uint32]nodeKey),
		neighborGateways: make(map[packet.SystemID]neighborGatewayInfo),
		labels:           newLabelPool(cfg.SRGBBase, cfg.SRGBSize),
		events:           make(chan func(), 256),
		done:             make(chan struct{}),
	}
}

// AddLink configures and starts a new circuit, including the receive
// goroutine that decodes inbound frames and posts them onto the event loop.
func (in *Instance) AddLink(cfg LinkConfig) *Link {
	l := NewLink(cfg, in, in.log)
	in.links[cfg.Name] = l
	l.Start()
	if in.transport != nil {
		go in.receiveLoop(l)
	}
	return l
}

// Run services the instance's event queue; every mutation to Link/Neighbor/
// LSDB state happens inside a closure delivered here.
func (in *Instance) Run() {
	for {
		select {
		case f := <-in.events:
			f()
		case <-in.done:
			return
		}
	}
}

func (in *Instance) post(f func()) {
	select {
	case in.events <- f:
	case <-in.done:
	}
}

// Stop halts every link and the event loop.
func (in *Instance) Stop() {
	for _, l := range in.links {
		l.Stop()
	}
	close(in.done)
}

func (in *Instance) transmit(link *Link, wire []byte) {
	dst := multicastAllL1ISs
	if in.transport == nil {
		return
	}
	_ = in.transport.SendFrame(link.config.Name, dst, wire)
}

func (in *Instance) transmitHello(link *Link, level packet.Level) {
	if link.config.Type == LinkPointToPoint {
		h := &packet.P2PHelloPDU{
			CircuitType: level,
			SourceID:    in.systemID,
			HoldTime:    link.config.HoldTime,
			CircuitID:   uint8(link.config.Index),
			AreaAddrs:   in.config.AreaAddrs,
		}
		in.transmit(link, h.Encode())
		return
	}
	h := &packet.Hello{
		Level:       level,
		CircuitType: level,
		SourceID:    in.systemID,
		HoldTime:    link.config.HoldTime,
		Priority:    link.config.Priority,
		AreaAddrs:   in.config.AreaAddrs,
		IsNeighbors: link.ownIsNeighbors(level),
	}
	if level == packet.LevelL1 {
		h.LANID = packet.LSPID{SystemID: link.disL1, PseudonodeID: uint8(link.config.Index)}
	} else {
		h.LANID = packet.LSPID{SystemID: link.disL2, PseudonodeID: uint8(link.config.Index)}
	}
	in.transmit(link, h.Encode())
}

// scheduleLSPOrigination marks that the level's own non-pseudonode LSP
// should be re-built and re-flooded. Triggered synchronously here rather
// than via a second coalescing timer: re-origination is cheap (one LSP,
// not a full SPF), unlike SPF itself which is debounced.
func (in *Instance) scheduleLSPOrigination(level packet.Level) {
	in.reoriginate(level, 0, in.nextSeq(level))
}

func (in *Instance) nextSeq(level packet.Level) uint32 {
	if level == packet.LevelL1 {
		in.seqL1++
		return in.seqL1
	}
	in.seqL2++
	return in.seqL2
}

// reoriginate builds and floods this system's own LSP (or, if
// pseudonodeID != 0, the pseudonode LSP for a link this system is DIS on)
// at the given sequence number.
func (in *Instance) reoriginate(level packet.Level, pseudonodeID uint8, seq uint32) {
	if seq == 0 {
		// sequence-number overflow: purge and let the network age us out
		// before restarting at 1.
		in.purgeSelf(level, pseudonodeID)
		return
	}
	lsp := in.buildOwnLSP(level, pseudonodeID, seq)
	wire := (&lsp).Encode()
	lsdb := in.lsdbFor(level)
	id := lsp.ID
	e := &lsdbEntry{lsp: lsp, raw: wire, selfOwned: true, srm: map[string]bool{}, ssn: map[string]bool{}}
	for name, l := range in.links {
		if levelCapable(l.config.Level, level) {
			e.srm[name] = true
		}
	}
	e.refreshTimer = timer.New(refreshInterval(lsp.RemainingLifetime), false, func() {
		in.post(func() { in.reoriginate(level, pseudonodeID, in.nextSeq(level)) })
	})
	if old, ok := lsdb.entries[id]; ok && old.refreshTimer != nil {
		old.refreshTimer.Stop()
	}
	lsdb.entries[id] = e
	in.scheduleSPF(level)
}

func (in *Instance) buildOwnLSP(level packet.Level, pseudonodeID uint8, seq uint32) packet.LSP {
	lsp := packet.LSP{
		Level:             level,
		RemainingLifetime: in.config.HoldTime,
		ID:                packet.LSPID{SystemID: in.systemID, PseudonodeID: pseudonodeID},
		SeqNumber:         seq,
		Types:             packet.LSPTypes{ISType: level},
		AreaAddrs:         in.config.AreaAddrs,
		Hostname:          in.config.Hostname,
	}
	if pseudonodeID == 0 && in.config.SRGBSize > 0 {
		// the pseudonode LSP carries no Router Capability TLV: SR-Capability
		// is a per-system attribute, advertised once from the real system's
		// own LSP.
		lsp.RouterCapSRGB = &packet.SRGB{Base: in.config.SRGBBase, Size: in.config.SRGBSize}
	}
	if pseudonodeID != 0 {
		// pseudonode LSP: zero-cost edges out to every attached system on
		// that link.
		if l, ok := in.linkByIndex(pseudonodeID); ok {
			for id := range l.neighborsFor(level) {
				lsp.ExtISReaches = append(lsp.ExtISReaches, packet.ExtISReach{
					Neighbor: packet.LSPID{SystemID: id},
					Metric:   0,
				})
			}
		}
		return lsp
	}
	for _, l := range in.links {
		if !levelCapable(l.config.Level, level) {
			continue
		}
		if l.config.Type == LinkPointToPoint {
			for id := range l.neighborsFor(level) {
				lsp.ExtISReaches = append(lsp.ExtISReaches, packet.ExtISReach{
					Neighbor: packet.LSPID{SystemID: id},
					Metric:   l.config.Metric,
				})
			}
		} else if l.isDISFor(level) {
			pseudo := packet.LSPID{SystemID: in.systemID, PseudonodeID: uint8(l.config.Index)}
			lsp.ExtISReaches = append(lsp.ExtISReaches, packet.ExtISReach{Neighbor: pseudo, Metric: l.config.Metric})
		} else if len(l.neighborsFor(level)) > 0 {
			dis := l.disL1
			if level == packet.LevelL2 {
				dis = l.disL2
			}
			pseudo := packet.LSPID{SystemID: dis, PseudonodeID: uint8(l.config.Index)}
			lsp.ExtISReaches = append(lsp.ExtISReaches, packet.ExtISReach{Neighbor: pseudo, Metric: l.config.Metric})
		}
	}
	return lsp
}

func (in *Instance) linkByIndex(idx uint8) (*Link, bool) {
	for _, l := range in.links {
		if uint8(l.config.Index) == idx {
			return l, true
		}
	}
	return nil, false
}

func (in *Instance) selfLSP(level packet.Level, pseudonodeID uint8) *packet.LSP {
	lsdb := in.lsdbFor(level)
	id := packet.LSPID{SystemID: in.systemID, PseudonodeID: pseudonodeID}
	if e, ok := lsdb.entries[id]; ok {
		return &e.lsp
	}
	return nil
}

func (in *Instance) reoriginateIfStillIntended(level packet.Level, id packet.LSPID) {
	if in.selfLSP(level, id.PseudonodeID) != nil {
		in.reoriginate(level, id.PseudonodeID, in.nextSeq(level))
	}
}

func (in *Instance) purgeSelf(level packet.Level, pseudonodeID uint8) {
	lsdb := in.lsdbFor(level)
	id := packet.LSPID{SystemID: in.systemID, PseudonodeID: pseudonodeID}
	e, ok := lsdb.entries[id]
	if !ok {
		return
	}
	e.lsp.RemainingLifetime = 0
	e.purged = true
	if e.refreshTimer != nil {
		e.refreshTimer.Stop()
		e.refreshTimer = nil
	}
	for name, l := range in.links {
		if levelCapable(l.config.Level, level) {
			e.srm[name] = true
		}
	}
}

func (in *Instance) originatePseudonode(link *Link, level packet.Level) {
	in.reoriginate(level, uint8(link.config.Index), in.nextSeq(level))
}

func (in *Instance) purgePseudonode(link *Link, level packet.Level) {
	in.purgeSelf(level, uint8(link.config.Index))
}

func (in *Instance) spfRoutesFor(level packet.Level) map[netip.Prefix]spfRoute {
	if level == packet.LevelL1 {
		return in.spfRoutesL1
	}
	return in.spfRoutesL2
}

func (in *Instance) setSPFRoutes(level packet.Level, m map[netip.Prefix]spfRoute) {
	if level == packet.LevelL1 {
		in.spfRoutesL1 = m
	} else {
		in.spfRoutesL2 = m
	}
}

func (in *Instance) spfLabelsFor(level packet.Level) map[uint32]nodeKey {
	if level == packet.LevelL1 {
		return in.spfLabelsL1
	}
	return in.spfLabelsL2
}

func (in *Instance) setSPFLabels(level packet.Level, m map[uint32]nodeKey) {
	if level == packet.LevelL1 {
		in.spfLabelsL1 = m
	} else {
		in.spfLabelsL2 = m
	}
}

func (in *Instance) neighborGateway(id packet.SystemID) (string, netip.Addr, bool) {
	g, ok := in.neighborGateways[id]
	return g.link, g.addr, ok
}

func (in *Instance) rememberNeighborGateway(id packet.SystemID, link string, addr netip.Addr) {
	in.neighborGateways[id] = neighborGatewayInfo{link: link, addr: addr}
}

// allocateAdjSID hands out the next label from the SR Local Block for a
// newly formed point-to-point adjacency; labels are owned by the IS-IS
// instance, issued on adjacency formation and reclaimed on tear-down.
func (in *Instance) allocateAdjSID(n *Neighbor) uint32 {
	label := in.labels.allocate()
	in.centralRIB.AddILM(label, in.adjSIDNexthop(n))
	return label
}

func (in *Instance) releaseAdjSID(label uint32) {
	in.centralRIB.DelILM(label)
	in.labels.release(label)
}

func (in *Instance) adjSIDNexthop(n *Neighbor) fib.Nexthop {
	_, addr, _ := in.neighborGateway(n.systemID)
	return fib.Nexthop{Gateway: addr, Interface: n.link.config.Name}
}
