package isis

import (
	"time"

	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/isis/packet"
)

// receiveLoop blocks on link's socket and decodes every inbound frame,
// posting one closure per PDU onto the event loop so all protocol state
// mutation stays single-threaded. It returns once the transport reports a
// hard error (closed socket, interface removed).
func (in *Instance) receiveLoop(link *Link) {
	for {
		src, raw, err := in.transport.RecvFrame(link.config.Name)
		if err != nil {
			in.log.Debug("isis receive loop exiting", zap.String("link", link.config.Name), zap.Error(err))
			return
		}
		pdu, err := packet.Decode(raw)
		if err != nil {
			in.log.Debug("dropping undecodable isis frame", zap.String("link", link.config.Name), zap.Error(err))
			continue
		}
		frame := append([]byte(nil), raw...)
		in.post(func() { in.handlePDU(link, src, pdu, frame) })
	}
}

// handlePDU dispatches a decoded inbound PDU to the matching neighbor/LSDB
// handler and then runs one flooding pass, since the handlers below send
// LSPs and PSNPs only by marking SRM/SSN -- those go out when flushFlooding
// runs (an adjacency coming up does send its CSNP directly).
func (in *Instance) handlePDU(link *Link, src [6]byte, pdu packet.PDU, raw []byte) {
	switch {
	case pdu.Hello != nil:
		in.handleHello(link, src, *pdu.Hello)
		in.flushFlooding(pdu.Hello.Level)
	case pdu.P2PHello != nil:
		in.handleP2PHello(link, src, *pdu.P2PHello)
		in.flushFlooding(pdu.P2PHello.CircuitType)
	case pdu.LSP != nil:
		in.receiveLSP(pdu.LSP.Level, link, *pdu.LSP, raw)
		in.flushFlooding(pdu.LSP.Level)
	case pdu.CSNP != nil:
		in.receiveCSNP(pdu.CSNP.Level, link, *pdu.CSNP)
		in.flushFlooding(pdu.CSNP.Level)
	case pdu.PSNP != nil:
		in.receivePSNP(pdu.PSNP.Level, link, *pdu.PSNP)
		in.flushFlooding(pdu.PSNP.Level)
	}
}

// handleHello applies a LAN Hello to the sending circuit's NFSM, computing
// weAreListed from the IS Neighbors TLV the sender carried.
func (in *Instance) handleHello(link *Link, src [6]byte, h packet.Hello) {
	if link.config.Type == LinkPointToPoint || !levelCapable(link.config.Level, h.Level) {
		return
	}
	nbrs := link.neighborsFor(h.Level)
	n, ok := nbrs[h.SourceID]
	if !ok {
		n = newNeighbor(link, h.Level, h.SourceID)
		nbrs[h.SourceID] = n
	}
	listed := weAreListedIn(h.IsNeighbors, link.config.MAC)
	n.onHello(listed, h.HoldTime, h.Priority, src, time.Now())
}

// handleP2PHello applies a point-to-point Hello. The RFC 5303 three-way
// adjacency TLV is decoded but its extended state machine is out of scope
// (see packet.ThreeWayAdjacency's doc comment and DESIGN.md): receipt of
// any Hello is enough to bring the adjacency up, matching ISO 10589's
// original two-way rule.
func (in *Instance) handleP2PHello(link *Link, src [6]byte, h packet.P2PHelloPDU) {
	if link.config.Type != LinkPointToPoint || !levelCapable(link.config.Level, h.CircuitType) {
		return
	}
	nbrs := link.neighborsFor(h.CircuitType)
	n, ok := nbrs[h.SourceID]
	if !ok {
		n = newNeighbor(link, h.CircuitType, h.SourceID)
		nbrs[h.SourceID] = n
	}
	n.onHello(true, h.HoldTime, 0, src, time.Now())
}

func weAreListedIn(entries []packet.IsNeighbor, mac [6]byte) bool {
	want := packet.IsNeighbor(mac)
	for _, e := range entries {
		if e == want {
			return true
		}
	}
	return false
}
