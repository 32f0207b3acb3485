package isis

import (
	"time"

	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/isis/packet"
	"github.com/ridged/ridged/internal/metrics"
	"github.com/ridged/ridged/internal/timer"
)

// NFSMState is one of the three adjacency states.
type NFSMState int

const (
	NFSMDown NFSMState = iota
	NFSMInit
	NFSMUp
)

func (s NFSMState) String() string {
	switch s {
	case NFSMDown:
		return "Down"
	case NFSMInit:
		return "Init"
	case NFSMUp:
		return "Up"
	default:
		return "Unknown"
	}
}

// Neighbor is one adjacency on a Link, keyed by system-id within the
// owning Link's per-level map.
type Neighbor struct {
	link     *Link
	level    packet.Level
	systemID SystemIDKey
	priority uint8
	mac      [6]byte

	state     NFSMState
	addresses []string // textual IP/IPv6 addresses the neighbor advertised

	holdTimer *timer.Timer

	adjSIDLabel uint32
	hasAdjSID   bool
}

func newNeighbor(link *Link, level packet.Level, id SystemIDKey) *Neighbor {
	return &Neighbor{link: link, level: level, systemID: id}
}

func (n *Neighbor) stopTimers() {
	if n.holdTimer != nil {
		n.holdTimer.Stop()
	}
}

// onHello applies the NFSM event table's two HelloReceived rows: whether
// weAreListed reflects whether the hello's IS Neighbors/adjacency TLV names
// this system.
func (n *Neighbor) onHello(weAreListed bool, holdTime uint16, priority uint8, mac [6]byte, now time.Time) {
	n.priority = priority
	n.mac = mac
	if n.holdTimer == nil {
		n.holdTimer = timer.New(time.Duration(holdTime)*time.Second, false, func() {
			n.link.inst.post(func() { n.onHoldTimerExpire() })
		})
	} else {
		n.holdTimer.Reset(time.Duration(holdTime) * time.Second)
	}

	prev := n.state
	if weAreListed {
		if n.state == NFSMDown || n.state == NFSMInit {
			n.state = NFSMUp
		}
	} else if n.state == NFSMDown || n.state == NFSMUp {
		n.state = NFSMInit
	}

	if prev != NFSMUp && n.state == NFSMUp {
		n.onAdjacencyUp()
	}
	if prev != n.state {
		n.link.log.Info("neighbor state change",
			zap.String("neighbor", n.systemID.String()),
			zap.String("from", prev.String()),
			zap.String("to", n.state.String()))
	}
	n.link.maybeElectDIS(n.level, func() time.Time { return now })
}

// onAdjacencyUp schedules LSP re-origination, marks every LSDB entry's SRM
// bit for this link, and sends a CSNP.
func (n *Neighbor) onAdjacencyUp() {
	metrics.ISISAdjacencies.WithLabelValues(n.link.config.Name, levelLabel(n.level)).Inc()
	n.link.inst.scheduleLSPOrigination(n.level)
	n.link.inst.markAllSRM(n.link, n.level)
	n.link.inst.sendCSNP(n.link, n.level)
	if n.link.config.Type == LinkPointToPoint {
		n.hasAdjSID = true
		n.adjSIDLabel = n.link.inst.allocateAdjSID(n)
	}
}

func (n *Neighbor) onHoldTimerExpire() {
	n.link.log.Info("neighbor hold timer expired", zap.String("neighbor", n.systemID.String()))
	n.state = NFSMDown
	if n.hasAdjSID {
		n.link.inst.releaseAdjSID(n.adjSIDLabel)
	}
	n.link.killNeighbor(n.level, n.systemID)
}
