package bgp

import (
	"encoding/binary"
	"net/netip"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/bgp/attr"
	"github.com/ridged/ridged/internal/bgp/message"
	"github.com/ridged/ridged/internal/fib"
	"github.com/ridged/ridged/internal/metrics"
	"github.com/ridged/ridged/internal/rib"
)

// PathKey identifies one Adj-RIB-In/Out entry, keyed by (prefix,
// add-path-id).
type PathKey struct {
	Prefix netip.Prefix
	PathID uint32
}

// Path is one candidate route for a prefix: the peer it came from (nil for
// locally originated routes) and its attribute bundle.
type Path struct {
	Peer      *Peer
	Attrs     *attr.Bundle
	Weight    uint32
	Stale     bool
	LongLived bool
}

// prefixState tracks every peer's candidate for one prefix plus the current
// winner, so selection and withdraw-on-peer-down are both O(candidates).
type prefixState struct {
	candidates map[*Peer]*Path // adj-rib-in winner per peer for this prefix
	best       *Peer
	insertSeq  map[*Peer]int
}

// RIB is the BGP instance's central pipeline: Local-RIB plus per-peer
// Adj-RIB-In/Out, implementing RFC 4271 section 9.1's best-path process
// and its outbound rewrite rules.
type RIB struct {
	mu sync.Mutex

	log     *zap.Logger
	fib     *rib.RIB
	localAS uint32

	prefixes map[netip.Prefix]*prefixState
	seq      int

	peers map[*Peer]bool

	outAdvertised map[*Peer]map[netip.Prefix]*attr.Bundle
}

// NewRIB constructs the instance-wide BGP RIB pipeline, wired to the central
// multi-protocol RIB for FIB installation of BGP-selected prefixes.
func NewRIB(localAS uint32, centralRIB *rib.RIB, log *zap.Logger) *RIB {
	return &RIB{
		log:           log.With(zap.String("component", "bgp.rib")),
		fib:           centralRIB,
		localAS:       localAS,
		prefixes:      make(map[netip.Prefix]*prefixState),
		peers:         make(map[*Peer]bool),
		outAdvertised: make(map[*Peer]map[netip.Prefix]*attr.Bundle),
	}
}

// PeerUp registers a newly Established peer and begins forwarding its view
// of Local-RIB.
func (r *RIB) PeerUp(p *Peer) {
	r.mu.Lock()
	r.peers[p] = true
	r.outAdvertised[p] = make(map[netip.Prefix]*attr.Bundle)
	r.mu.Unlock()
	r.readvertiseAllTo(p)
}

// PeerDown purges all Adj-RIB-In entries learned from p and reruns
// selection for every affected prefix, as happens on any transition that
// leaves Established.
func (r *RIB) PeerDown(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, p)
	delete(r.outAdvertised, p)
	for prefix, st := range r.prefixes {
		if _, ok := st.candidates[p]; !ok {
			continue
		}
		delete(st.candidates, p)
		delete(st.insertSeq, p)
		r.reselectLocked(prefix, st)
	}
}

// PeerDownGraceful marks p's routes Stale instead of immediately purging
// them, per Graceful Restart, and schedules a PeerDown that runs after
// restartTime if the session has not re-established by then.
func (r *RIB) PeerDownGraceful(p *Peer, restartTime time.Duration) {
	r.mu.Lock()
	for _, st := range r.prefixes {
		if path, ok := st.candidates[p]; ok {
			path.Stale = true
		}
	}
	r.mu.Unlock()
	time.AfterFunc(restartTime, func() {
		r.mu.Lock()
		stillDown := !r.peers[p]
		r.mu.Unlock()
		if stillDown {
			r.PeerDown(p)
		}
	})
}

// HandleUpdate implements the per-Update ingest pipeline: withdrawals,
// loop checks (AS_PATH, originator-id, cluster-list), then NLRI insertion.
func (r *RIB) HandleUpdate(p *Peer, u *message.Update) {
	for _, w := range u.WithdrawnRoutes {
		r.withdraw(p, w.Prefix)
	}
	if u.Attributes == nil {
		return
	}
	if u.Attributes.MPUnreach != nil && len(u.Attributes.MPUnreach.NLRI) == 0 && len(u.Attributes.MPUnreach.EVPN) == 0 {
		// Empty MP_UNREACH with no NLRI: nothing to withdraw.
	}
	if u.Attributes.HasASPath && u.Attributes.ASPath.ContainsAS(attr.ASN(r.localAS)) {
		r.log.Debug("dropping update: local AS in AS_PATH")
		return
	}
	if u.Attributes.HasOriginatorID && u.Attributes.OriginatorID == p.config.RouterID {
		r.log.Debug("dropping update: originator-id loop")
		return
	}
	for _, id := range u.Attributes.ClusterList {
		if id == p.config.RouterID {
			r.log.Debug("dropping update: cluster-list loop")
			return
		}
	}
	for _, n := range u.NLRI {
		r.insert(p, n.Prefix, u.Attributes)
	}
}

func (r *RIB) insert(p *Peer, prefix netip.Prefix, attrs *attr.Bundle) {
	r.mu.Lock()
	st, ok := r.prefixes[prefix]
	if !ok {
		st = &prefixState{candidates: make(map[*Peer]*Path), insertSeq: make(map[*Peer]int)}
		r.prefixes[prefix] = st
	}
	r.seq++
	st.candidates[p] = &Path{Peer: p, Attrs: attrs}
	st.insertSeq[p] = r.seq
	r.reselectLocked(prefix, st)
	r.mu.Unlock()
}

func (r *RIB) withdraw(p *Peer, prefix netip.Prefix) {
	r.mu.Lock()
	st, ok := r.prefixes[prefix]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(st.candidates, p)
	delete(st.insertSeq, p)
	r.reselectLocked(prefix, st)
	r.mu.Unlock()
}

// reselectLocked runs the 8-step best-path process over st.candidates and,
// if the winner changed, re-advertises to every Established peer. Caller
// must hold r.mu.
func (r *RIB) reselectLocked(prefix netip.Prefix, st *prefixState) {
	prev := st.best
	var winner *Peer
	var winnerPath *Path
	for peer, path := range st.candidates {
		if winner == nil || r.better(prefix, st, peer, path, winner, winnerPath) {
			winner = peer
			winnerPath = path
		}
	}
	st.best = winner
	if len(st.candidates) == 0 {
		delete(r.prefixes, prefix)
	}
	r.installToFIB(prefix, winnerPath)
	if winner == prev {
		return
	}
	r.advertiseChange(prefix, winner, winnerPath)
}

// installToFIB feeds the current winner into the central, protocol-agnostic
// RIB core so it competes for the FIB against other protocols' candidates.
func (r *RIB) installToFIB(prefix netip.Prefix, winnerPath *Path) {
	if r.fib == nil {
		return
	}
	if winnerPath == nil {
		r.fib.Del(prefix, rib.Entry{Protocol: fib.ProtoBGP})
		return
	}
	var nh fib.Nexthop
	if winnerPath.Attrs != nil && winnerPath.Attrs.HasNextHop {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], winnerPath.Attrs.NextHop)
		nh.Gateway = netip.AddrFrom4(b)
	}
	r.fib.Add(prefix, rib.Entry{
		Protocol: fib.ProtoBGP,
		Metric:   med(winnerPath.Attrs),
		Nexthops: []fib.Nexthop{nh},
	})
}

// better reports whether (peer,path) outranks (bestPeer,bestPath) under
// RFC 4271 section 9.1.2's path selection tie-breaks.
func (r *RIB) better(prefix netip.Prefix, st *prefixState, peer *Peer, path *Path, bestPeer *Peer, bestPath *Path) bool {
	if path.Weight != bestPath.Weight {
		return path.Weight > bestPath.Weight
	}
	lp, blp := localPref(path.Attrs), localPref(bestPath.Attrs)
	if lp != blp {
		return lp > blp
	}
	originated, bOriginated := peer == nil, bestPeer == nil
	if originated != bOriginated {
		return originated
	}
	pathLen, bPathLen := asPathLength(path.Attrs), asPathLength(bestPath.Attrs)
	if pathLen != bPathLen {
		return pathLen < bPathLen
	}
	origin, bOrigin := originCode(path.Attrs), originCode(bestPath.Attrs)
	if origin != bOrigin {
		return origin < bOrigin
	}
	if peer != nil && bestPeer != nil && peer.RemoteASN() == bestPeer.RemoteASN() {
		med, bMed := med(path.Attrs), med(bestPath.Attrs)
		if med != bMed {
			return med < bMed
		}
	}
	if peer != nil && bestPeer != nil {
		iEBGP, bIEBGP := peer.IsIBGP(), bestPeer.IsIBGP()
		if iEBGP != bIEBGP {
			return !iEBGP // prefer eBGP
		}
		if peer.RemoteRouterID() != bestPeer.RemoteRouterID() {
			return peer.RemoteRouterID() < bestPeer.RemoteRouterID()
		}
	}
	return st.insertSeq[peer] < st.insertSeq[bestPeer]
}

func localPref(a *attr.Bundle) uint32 {
	if a != nil && a.HasLocalPref {
		return a.LocalPref
	}
	return 100
}

func asPathLength(a *attr.Bundle) int {
	if a == nil || !a.HasASPath {
		return 0
	}
	return a.ASPath.Length()
}

func originCode(a *attr.Bundle) attr.OriginCode {
	if a == nil || !a.HasOrigin {
		return attr.OriginIncomplete
	}
	return a.Origin
}

func med(a *attr.Bundle) uint32 {
	if a != nil && a.HasMED {
		return a.MED
	}
	return 0
}

// advertiseChange implements the outbound rules: split horizon, iBGP
// horizon with route-reflection rewrites, attribute rewrites for
// eBGP/originated routes, and recording the sent attributes in Adj-RIB-Out.
// No outbound policy is applied, and an Update is sent on every winner
// change without comparing against what was previously advertised.
func (r *RIB) advertiseChange(prefix netip.Prefix, winner *Peer, winnerPath *Path) {
	for outPeer := range r.peers {
		if winner != nil && outPeer == winner {
			continue // split horizon
		}
		if winner == nil {
			r.withdrawTo(outPeer, prefix)
			continue
		}
		if winner.IsIBGP() && outPeer.IsIBGP() && !outPeer.IsRouteReflectorClient() {
			r.withdrawTo(outPeer, prefix)
			continue
		}
		out := r.rewriteForOutbound(winner, winnerPath, outPeer)
		r.outAdvertised[outPeer][prefix] = out
		u := &message.Update{
			Attributes: out,
			NLRI:       []message.PrefixPath{{Prefix: prefix}},
		}
		outPeer.writeFrame(u.Encode(outPeer.fourOctetASN, outPeer.config.AddPathSend))
	}
}

func (r *RIB) withdrawTo(outPeer *Peer, prefix netip.Prefix) {
	if _, wasAdvertised := r.outAdvertised[outPeer][prefix]; !wasAdvertised {
		return
	}
	delete(r.outAdvertised[outPeer], prefix)
	u := &message.Update{
		WithdrawnRoutes: []message.PrefixPath{{Prefix: prefix}},
		Attributes:      &attr.Bundle{},
	}
	outPeer.writeFrame(u.Encode(outPeer.fourOctetASN, outPeer.config.AddPathSend))
}

func (r *RIB) rewriteForOutbound(winner *Peer, path *Path, outPeer *Peer) *attr.Bundle {
	out := *path.Attrs
	if winner == nil || !winner.IsIBGP() || !outPeer.IsIBGP() {
		// eBGP or locally originated: prepend local AS, set next-hop-self.
		if out.HasASPath {
			out.ASPath = out.ASPath.Prepend(attr.ASN(r.localAS))
		} else {
			out.ASPath = attr.ASPath{Segments: []attr.Segment{{Type: attr.SegSequence, ASNs: []attr.ASN{attr.ASN(r.localAS)}}}}
			out.HasASPath = true
		}
		out.HasNextHop = true
		out.NextHop = outPeer.OutgoingAddress()
	}
	if outPeer.IsRouteReflectorClient() && winner != nil && winner.IsIBGP() {
		if !out.HasOriginatorID {
			out.HasOriginatorID = true
			out.OriginatorID = winner.RemoteRouterID()
		}
		out.ClusterList = append(append([]uint32(nil), out.ClusterList...), winner.config.RouterID)
	}
	return &out
}

func (r *RIB) readvertiseAllTo(p *Peer) {
	r.mu.Lock()
	type change struct {
		prefix netip.Prefix
		winner *Peer
		path   *Path
	}
	var changes []change
	prefixes := make([]netip.Prefix, 0, len(r.prefixes))
	for prefix := range r.prefixes {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i].String() < prefixes[j].String() })
	for _, prefix := range prefixes {
		st := r.prefixes[prefix]
		if st.best == nil {
			continue
		}
		changes = append(changes, change{prefix: prefix, winner: st.best, path: st.candidates[st.best]})
	}
	r.mu.Unlock()

	for _, c := range changes {
		if c.winner == p {
			continue
		}
		if c.winner.IsIBGP() && p.IsIBGP() && !p.IsRouteReflectorClient() {
			continue
		}
		out := r.rewriteForOutbound(c.winner, c.path, p)
		r.mu.Lock()
		r.outAdvertised[p][c.prefix] = out
		r.mu.Unlock()
		u := &message.Update{Attributes: out, NLRI: []message.PrefixPath{{Prefix: c.prefix}}}
		p.writeFrame(u.Encode(p.fourOctetASN, p.config.AddPathSend))
	}
	metrics.BGPRIBPrefixes.WithLabelValues("local-rib", "ipv4").Set(float64(len(r.prefixes)))
}
