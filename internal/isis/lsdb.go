package isis

import (
	"time"

	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/isis/packet"
	"github.com/ridged/ridged/internal/metrics"
	"github.com/ridged/ridged/internal/timer"
)

// lsdbEntry is one LSP plus its per-link flooding flags: per link and per
// level, the SRM (send routing message) and SSN (send sequence number) bit.
type lsdbEntry struct {
	lsp packet.LSP
	raw []byte // wire bytes as last stamped, hold-time rewritten per send

	srm map[string]bool
	ssn map[string]bool

	holdTimer    *timer.Timer // arms on receipt of someone else's LSP; purges on expiry
	refreshTimer *timer.Timer // self-originated only: re-emits at ~60% of hold-time
	selfOwned    bool
	purged       bool
}

// LSDB is the per-level link-state database. It lives on the Instance
// actor: every mutation happens on the Instance's single-threaded message
// loop, so no mutex guards protocol state.
type LSDB struct {
	entries map[packet.LSPID]*lsdbEntry
}

func newLSDB() *LSDB {
	return &LSDB{entries: make(map[packet.LSPID]*lsdbEntry)}
}

// self-originated LSP refresh interval is ~60% of hold-time.
func refreshInterval(holdTime uint16) time.Duration {
	return time.Duration(float64(holdTime)*0.6) * time.Second
}

// receiveLSP applies ISO 10589's "on receipt of an LSP" rules: newer
// sequence numbers replace the stored copy, mark SRM on every other
// level-capable link, and schedule an SPF run.
func (in *Instance) receiveLSP(level packet.Level, inboundLink *Link, lsp packet.LSP, raw []byte) {
	lsdb := in.lsdbFor(level)
	id := lsp.ID

	if lsp.RemainingLifetime == 0 {
		in.receivePurge(level, lsdb, lsp, raw)
		return
	}

	if id.SystemID == in.systemID {
		in.receiveSelfOriginatedFromNetwork(level, lsp)
		return
	}

	existing, ok := lsdb.entries[id]
	if ok && !in.isNewer(existing.lsp, lsp) {
		return // identical or stale: no action
	}
	if ok && existing.holdTimer != nil {
		existing.holdTimer.Stop()
	}

	e := &lsdbEntry{lsp: lsp, raw: raw, srm: map[string]bool{}, ssn: map[string]bool{}}
	e.holdTimer = timer.New(time.Duration(lsp.RemainingLifetime)*time.Second, false, func() {
		in.post(func() { in.onLSPHoldExpire(level, id) })
	})
	lsdb.entries[id] = e

	for name, l := range in.links {
		if inboundLink != nil && l == inboundLink {
			e.ssn[name] = true
			continue
		}
		if levelCapable(l.config.Level, level) {
			e.srm[name] = true
		}
	}
	metrics.ISISLSDBEntries.WithLabelValues(levelLabel(level)).Set(float64(len(lsdb.entries)))
	in.scheduleSPF(level)
}

// isNewer compares two LSPs by sequence number alone: ISO 10589's
// tie-breaking secondary comparisons (checksum, remaining-lifetime==0
// preference) are intentionally not modeled here.
func (in *Instance) isNewer(local, candidate packet.LSP) bool {
	return candidate.SeqNumber > local.SeqNumber
}

func (in *Instance) receivePurge(level packet.Level, lsdb *LSDB, lsp packet.LSP, raw []byte) {
	existing, ok := lsdb.entries[lsp.ID]
	if ok && lsp.SeqNumber < existing.lsp.SeqNumber {
		return
	}
	if !ok {
		existing = &lsdbEntry{srm: map[string]bool{}, ssn: map[string]bool{}}
		lsdb.entries[lsp.ID] = existing
	}
	existing.lsp = lsp
	existing.lsp.RemainingLifetime = 0
	existing.raw = raw
	existing.purged = true
	if existing.holdTimer != nil {
		existing.holdTimer.Stop()
		existing.holdTimer = nil
	}
	for name, l := range in.links {
		if levelCapable(l.config.Level, level) {
			existing.srm[name] = true
		}
	}
	in.scheduleSPF(level)
}

// receiveSelfOriginatedFromNetwork handles seeing our own LSP come back
// from the network with a higher sequence number than we remember: we are
// behind the network, so re-originate at max(local,seen)+1.
func (in *Instance) receiveSelfOriginatedFromNetwork(level packet.Level, seen packet.LSP) {
	self := in.selfLSP(level, seen.ID.PseudonodeID)
	if self == nil {
		return
	}
	if seen.RemainingLifetime == 0 {
		in.reoriginateIfStillIntended(level, seen.ID)
		return
	}
	lsdb := in.lsdbFor(level)
	existing, ok := lsdb.entries[seen.ID]
	localSeq := uint32(0)
	if ok {
		localSeq = existing.lsp.SeqNumber
	}
	if seen.SeqNumber > localSeq {
		in.reoriginate(level, seen.ID.PseudonodeID, max32(localSeq, seen.SeqNumber)+1)
	}
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// markAllSRM sets SRM on every current LSDB entry for the given link,
// triggering a full flood (used when a new adjacency comes up).
func (in *Instance) markAllSRM(link *Link, level packet.Level) {
	lsdb := in.lsdbFor(level)
	for _, e := range lsdb.entries {
		e.srm[link.config.Name] = true
	}
}

// sendCSNP builds and transmits a CSNP summarizing the entire level LSDB on
// the given link.
func (in *Instance) sendCSNP(link *Link, level packet.Level) {
	lsdb := in.lsdbFor(level)
	c := &packet.CSNP{Level: level, SourceID: in.systemID, CircuitID: 0}
	for id, e := range lsdb.entries {
		lifetime := e.lsp.RemainingLifetime
		if e.purged {
			lifetime = 0
		}
		c.Entries = append(c.Entries, packet.LSPEntry{
			RemainingLifetime: lifetime,
			LSPID:             id,
			SeqNumber:         e.lsp.SeqNumber,
			Checksum:          e.lsp.Checksum,
		})
	}
	in.transmit(link, c.Encode())
}

// receiveCSNP applies ISO 10589's CSNP comparison rules, using the
// (lsp-id, sequence-number, remaining-lifetime=0) triple.
func (in *Instance) receiveCSNP(level packet.Level, link *Link, c packet.CSNP) {
	lsdb := in.lsdbFor(level)
	seen := make(map[packet.LSPID]bool, len(c.Entries))
	for _, remote := range c.Entries {
		seen[remote.LSPID] = true
		local, ok := lsdb.entries[remote.LSPID]
		switch {
		case !ok:
			// we have nothing for this id: request it via PSNP
			in.requestEntry(lsdb, link, remote)
		case remote.SeqNumber > local.lsp.SeqNumber:
			local.ssn[link.config.Name] = true
		case remote.SeqNumber < local.lsp.SeqNumber:
			local.srm[link.config.Name] = true
		case remote.RemainingLifetime == 0 && !local.purged:
			// same sequence number, but the remote's summary already shows
			// the purge: re-request rather than assume our copy is current.
			local.ssn[link.config.Name] = true
		case remote.RemainingLifetime != 0 && local.purged:
			// the remote hasn't heard our purge yet.
			local.srm[link.config.Name] = true
		}
	}
	for id, local := range lsdb.entries {
		if !seen[id] && !local.purged {
			local.srm[link.config.Name] = true
		}
	}
}

func (in *Instance) requestEntry(lsdb *LSDB, link *Link, remote packet.LSPEntry) {
	e := &lsdbEntry{
		lsp: packet.LSP{ID: remote.LSPID, SeqNumber: 0},
		srm: map[string]bool{},
		ssn: map[string]bool{link.config.Name: true},
	}
	lsdb.entries[remote.LSPID] = e
}

// receivePSNP handles PSNP the same as the request direction of CSNP: a
// remote's PSNP either requests our newer copy (SRM) or informs us it has a
// newer copy (SSN towards re-request), and also acknowledges receipt,
// clearing SSN we'd set for this link.
func (in *Instance) receivePSNP(level packet.Level, link *Link, p packet.PSNP) {
	lsdb := in.lsdbFor(level)
	for _, remote := range p.Entries {
		local, ok := lsdb.entries[remote.LSPID]
		if !ok {
			continue
		}
		delete(local.ssn, link.config.Name)
		if remote.SeqNumber < local.lsp.SeqNumber {
			local.srm[link.config.Name] = true
		} else if remote.SeqNumber > local.lsp.SeqNumber {
			local.ssn[link.config.Name] = true
		}
	}
}

func (in *Instance) onLSPHoldExpire(level packet.Level, id packet.LSPID) {
	lsdb := in.lsdbFor(level)
	e, ok := lsdb.entries[id]
	if !ok || e.purged {
		return
	}
	e.lsp.RemainingLifetime = 0
	e.purged = true
	for name, l := range in.links {
		if levelCapable(l.config.Level, level) {
			e.srm[name] = true
		}
	}
	in.scheduleSPF(level)
}

// flushFlooding runs one iteration of the flooding loop: send every
// SRM-marked LSP, PSNP-acknowledge every SSN-marked entry. handlePDU runs it
// after each inbound PDU; SRM/SSN bits set by timer events (LSP refresh,
// hold-time expiry) are not flushed by those events and go out on the next
// such pass.
func (in *Instance) flushFlooding(level packet.Level) {
	lsdb := in.lsdbFor(level)
	pendingPSNP := map[string][]packet.LSPEntry{}

	for id, e := range lsdb.entries {
		for name := range e.srm {
			link, ok := in.links[name]
			if !ok {
				delete(e.srm, name)
				continue
			}
			wire := append([]byte(nil), e.raw...)
			stampRemainingLifetime(wire, e.lsp.RemainingLifetime)
			in.transmit(link, wire)
			delete(e.srm, name)
		}
		for name := range e.ssn {
			pendingPSNP[name] = append(pendingPSNP[name], packet.LSPEntry{
				RemainingLifetime: e.lsp.RemainingLifetime,
				LSPID:             id,
				SeqNumber:         e.lsp.SeqNumber,
				Checksum:          e.lsp.Checksum,
			})
			delete(e.ssn, name)
		}
	}
	for name, entries := range pendingPSNP {
		link, ok := in.links[name]
		if !ok {
			continue
		}
		if link.config.Type != LinkPointToPoint && link.isDISFor(level) {
			continue
		}
		p := &packet.PSNP{Level: level, SourceID: in.systemID, Entries: entries}
		in.transmit(link, p.Encode())
	}
}

func (l *Link) isDISFor(level packet.Level) bool {
	if level == packet.LevelL1 {
		return l.isDISL1
	}
	return l.isDISL2
}

// stampRemainingLifetime overwrites the hold-time field of an already
// encoded LSP with the entry's current remaining lifetime, without needing
// to re-run the whole Encode/checksum pipeline for every send (the checksum
// does not cover remaining-lifetime, see internal/isis/packet/lsp.go).
func stampRemainingLifetime(wire []byte, lifetime uint16) {
	const remainingLifetimeOffset = 8 + 2 // common header (8) + pdu_len (2)
	if len(wire) < remainingLifetimeOffset+2 {
		return
	}
	wire[remainingLifetimeOffset] = byte(lifetime >> 8)
	wire[remainingLifetimeOffset+1] = byte(lifetime)
}

func (in *Instance) lsdbFor(level packet.Level) *LSDB {
	if level == packet.LevelL1 {
		return in.lsdbL1
	}
	return in.lsdbL2
}

func (in *Instance) logLSDBChange(level packet.Level, id packet.LSPID, action string) {
	in.log.Debug("lsdb change", zap.String("level", levelLabel(level)), zap.String("lsp", id.String()), zap.String("action", action))
}
