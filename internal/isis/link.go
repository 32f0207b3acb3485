// Package isis implements the IS-IS link-state router: per-link and
// per-neighbor state machines, a link-state database with flooding flags,
// and SPF computation with Segment-Routing label resolution. The actor
// shape (owner-actor-plus-handle, message-driven state machines, timers
// that deliver via a closure) follows the same pattern as internal/bgp's
// FSM and peer actors.
package isis

import (
	"net/netip"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/isis/packet"
	"github.com/ridged/ridged/internal/metrics"
	"github.com/ridged/ridged/internal/timer"
)

// IFSMState is one of the four interface states.
type IFSMState int

const (
	IFSMDown IFSMState = iota
	IFSMPointToPoint
	IFSMBroadcastDROther
	IFSMBroadcastDR
)

func (s IFSMState) String() string {
	switch s {
	case IFSMDown:
		return "Down"
	case IFSMPointToPoint:
		return "PointToPoint"
	case IFSMBroadcastDROther:
		return "BroadcastDROther"
	case IFSMBroadcastDR:
		return "BroadcastDR"
	default:
		return "Unknown"
	}
}

// LinkType distinguishes a broadcast (LAN, DIS-elected) circuit from a
// point-to-point circuit.
type LinkType int

const (
	LinkLAN LinkType = iota
	LinkPointToPoint
)

// LinkConfig is the static configuration of one IS-IS circuit.
type LinkConfig struct {
	Name           string
	Index          int
	MAC            [6]byte
	MTU            int
	Level          packet.Level
	Type           LinkType
	Metric         uint32
	HelloInterval  time.Duration
	HoldTime       uint16
	CSNPInterval   time.Duration
	Priority       uint8
	PrefixSID      *uint32
}

// disTransition records one DIS-election change for the bounded history
// ring.
type disTransition struct {
	at       time.Time
	previous SystemIDKey
	next     SystemIDKey
	reason   string
}

const disHistoryCapacity = 50
const disDampeningWindow = 30 * time.Second
const disDampeningThreshold = 5

// SystemIDKey is a comparable stand-in for packet.SystemID (arrays compare
// fine directly, but a named type documents the intent at call sites).
type SystemIDKey = packet.SystemID

// Link is the per-circuit IFSM actor. It owns its Neighbor map and its
// portion of every LSDB entry's SRM/SSN bits; no other actor mutates those
// maps.
type Link struct {
	config LinkConfig
	log    *zap.Logger
	inst   *Instance

	state IFSMState

	neighborsL1 map[SystemIDKey]*Neighbor
	neighborsL2 map[SystemIDKey]*Neighbor

	isDISL1, isDISL2     bool
	disL1, disL2         SystemIDKey
	disHistory           []disTransition
	dampenedUntil        time.Time

	helloTimer *timer.Timer
	csnpTimer  *timer.Timer

	ourLANID LSPIDKey // our own adjacency's pseudonode identity once elected DIS
}

// LSPIDKey mirrors packet.LSPID for map keys.
type LSPIDKey = packet.LSPID

// NewLink constructs a Down-state link actor.
func NewLink(cfg LinkConfig, inst *Instance, log *zap.Logger) *Link {
	return &Link{
		config:      cfg,
		log:         log.With(zap.String("link", cfg.Name)),
		inst:        inst,
		state:       IFSMDown,
		neighborsL1: make(map[SystemIDKey]*Neighbor),
		neighborsL2: make(map[SystemIDKey]*Neighbor),
	}
}

// Start begins sending level-capable Hellos at the configured interval.
func (l *Link) Start() {
	if l.config.Type == LinkPointToPoint {
		l.state = IFSMPointToPoint
	} else {
		l.state = IFSMBroadcastDROther
	}
	l.helloTimer = timer.New(l.config.HelloInterval, true, func() {
		l.inst.post(func() { l.onHelloTimerExpire() })
	})
	l.log.Info("link started", zap.String("state", l.state.String()))
}

// Stop tears the link down: adjacency-SID labels are released, neighbors
// are dropped and timers cancelled.
func (l *Link) Stop() {
	if l.helloTimer != nil {
		l.helloTimer.Stop()
	}
	if l.csnpTimer != nil {
		l.csnpTimer.Stop()
	}
	for _, nbrs := range []map[SystemIDKey]*Neighbor{l.neighborsL1, l.neighborsL2} {
		for _, n := range nbrs {
			if n.hasAdjSID {
				l.inst.releaseAdjSID(n.adjSIDLabel)
				n.hasAdjSID = false
			}
		}
	}
	for id := range l.neighborsL1 {
		l.killNeighbor(packet.LevelL1, id)
	}
	for id := range l.neighborsL2 {
		l.killNeighbor(packet.LevelL2, id)
	}
	l.state = IFSMDown
}

func (l *Link) onHelloTimerExpire() {
	l.sendHello(packet.LevelL1)
	l.sendHello(packet.LevelL2)
}

func (l *Link) sendHello(level packet.Level) {
	if !levelCapable(l.config.Level, level) {
		return
	}
	l.inst.transmitHello(l, level)
}

func levelCapable(configured, requested packet.Level) bool {
	if configured == packet.LevelL1L2 {
		return true
	}
	return configured == requested
}

// neighborsFor returns the level's neighbor map.
func (l *Link) neighborsFor(level packet.Level) map[SystemIDKey]*Neighbor {
	if level == packet.LevelL1 {
		return l.neighborsL1
	}
	return l.neighborsL2
}

// ownIsNeighbors lists the SNPA (MAC) of every neighbor this link has heard
// a Hello from at the given level, for the outbound Hello's IS Neighbors
// TLV -- this is the half of ISO 10589's "weAreListed" rule that runs on
// the sending side.
func (l *Link) ownIsNeighbors(level packet.Level) []packet.IsNeighbor {
	nbrs := l.neighborsFor(level)
	if len(nbrs) == 0 {
		return nil
	}
	out := make([]packet.IsNeighbor, 0, len(nbrs))
	for _, n := range nbrs {
		out = append(out, packet.IsNeighbor(n.mac))
	}
	return out
}

// killNeighbor implements NFSM's KillNbr -> Down, removal from the link's
// neighbor map, and an SPF reschedule.
func (l *Link) killNeighbor(level packet.Level, id SystemIDKey) {
	nbrs := l.neighborsFor(level)
	if n, ok := nbrs[id]; ok {
		n.stopTimers()
		delete(nbrs, id)
		metrics.ISISAdjacencies.WithLabelValues(l.config.Name, levelLabel(level)).Dec()
		l.inst.scheduleSPF(level)
	}
}

func levelLabel(level packet.Level) string {
	switch level {
	case packet.LevelL1:
		return "L1"
	case packet.LevelL2:
		return "L2"
	default:
		return "L1L2"
	}
}

// maybeElectDIS runs the DIS election rule for one level on a broadcast
// link: highest (priority, MAC) among neighbors in
// Up plus the local system wins.
func (l *Link) maybeElectDIS(level packet.Level, now func() time.Time) {
	if l.config.Type != LinkPointToPoint {
		l.electDIS(level, now())
	}
}

type disCandidate struct {
	id       SystemIDKey
	priority uint8
	mac      [6]byte
}

func (l *Link) electDIS(level packet.Level, now time.Time) {
	if !now.IsZero() && now.Before(l.dampenedUntil) {
		return
	}
	candidates := []disCandidate{{id: l.inst.systemID, priority: l.config.Priority, mac: l.config.MAC}}
	for id, n := range l.neighborsFor(level) {
		if n.state == NFSMUp {
			candidates = append(candidates, disCandidate{id: id, priority: n.priority, mac: n.mac})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		for k := range candidates[i].mac {
			if candidates[i].mac[k] != candidates[j].mac[k] {
				return candidates[i].mac[k] > candidates[j].mac[k]
			}
		}
		return false
	})
	winner := candidates[0].id

	var prevPtr *SystemIDKey
	var wasDIS bool
	if level == packet.LevelL1 {
		wasDIS = l.isDISL1
		prev := l.disL1
		prevPtr = &prev
	} else {
		wasDIS = l.isDISL2
		prev := l.disL2
		prevPtr = &prev
	}
	if *prevPtr == winner {
		return
	}

	l.recordDISTransition(*prevPtr, winner, "re-election", now)
	nowDIS := winner == l.inst.systemID
	if level == packet.LevelL1 {
		l.disL1 = winner
		l.isDISL1 = nowDIS
	} else {
		l.disL2 = winner
		l.isDISL2 = nowDIS
	}
	if nowDIS && !wasDIS {
		l.becomeDIS(level)
	} else if !nowDIS && wasDIS {
		l.ceaseDIS(level)
	}
}

func (l *Link) recordDISTransition(prev, next SystemIDKey, reason string, now time.Time) {
	if now.IsZero() {
		return
	}
	l.disHistory = append(l.disHistory, disTransition{at: now, previous: prev, next: next, reason: reason})
	if len(l.disHistory) > disHistoryCapacity {
		l.disHistory = l.disHistory[len(l.disHistory)-disHistoryCapacity:]
	}
	recent := 0
	for i := len(l.disHistory) - 1; i >= 0 && now.Sub(l.disHistory[i].at) <= disDampeningWindow; i-- {
		recent++
	}
	if recent >= disDampeningThreshold {
		l.dampenedUntil = now.Add(disDampeningWindow)
	}
}

// becomeDIS originates the pseudonode LSP (pseudo-id = circuit-id,
// fragment = 0) and starts the CSNP timer.
func (l *Link) becomeDIS(level packet.Level) {
	l.log.Info("elected DIS", zap.String("level", levelLabel(level)))
	l.inst.originatePseudonode(l, level)
	if l.csnpTimer == nil {
		l.csnpTimer = timer.New(l.config.CSNPInterval, true, func() {
			l.inst.post(func() { l.inst.sendCSNP(l, level) })
		})
	}
}

// ceaseDIS purges the pseudonode LSP and stops CSNP origination.
func (l *Link) ceaseDIS(level packet.Level) {
	l.log.Info("DIS lost", zap.String("level", levelLabel(level)))
	l.inst.purgePseudonode(l, level)
	if l.csnpTimer != nil {
		l.csnpTimer.Stop()
		l.csnpTimer = nil
	}
}

// ownAddresses reports the directly attached prefixes of this link. It
// always returns nil and has no caller: buildOwnLSP in instance.go puts no
// interface-address TLVs in the local system's own LSP.
func (l *Link) ownAddresses() []netip.Prefix { return nil }
