// Package rib implements the central, protocol-agnostic RIB core: a per-AFI
// longest-prefix map of candidate RibEntries, nexthop-group interning, an
// MPLS ILM table, and FIB-reconcile diffing against internal/fib.
package rib

import (
	"net/netip"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/fib"
	"github.com/ridged/ridged/internal/metrics"
	"github.com/ridged/ridged/internal/radix"
)

// Entry is one candidate route for a prefix.
type Entry struct {
	Protocol fib.Protocol
	Subtype  string
	Distance uint8
	Metric   uint32
	Nexthops []fib.Nexthop

	valid    bool
	selected bool
	installedGID uint32
}

// defaultDistance returns the administrative distance a protocol gets when
// the entry doesn't specify one explicitly, following common router
// conventions (connected 0 < static 1 < BGP 20 < OSPF 110 < IS-IS 115); eBGP
// and iBGP routes get the same value.
func defaultDistance(p fib.Protocol) uint8 {
	switch p {
	case fib.ProtoConnected:
		return 0
	case fib.ProtoStatic:
		return 1
	case fib.ProtoISIS:
		return 115
	case fib.ProtoOSPF:
		return 110
	case fib.ProtoBGP:
		return 20
	default:
		return 255
	}
}

// matchKey identifies one candidate for Del by protocol, subtype, and
// nexthop fingerprint.
type matchKey struct {
	protocol    fib.Protocol
	subtype     string
	nexthopHash string
}

func keyOf(e Entry) matchKey {
	return matchKey{protocol: e.Protocol, subtype: e.Subtype, nexthopHash: nexthopFingerprint(e.Nexthops)}
}

func nexthopFingerprint(nhs []fib.Nexthop) string {
	sorted := append([]fib.Nexthop(nil), nhs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Gateway.String() < sorted[j].Gateway.String() })
	s := ""
	for _, nh := range sorted {
		s += nh.Gateway.String() + "/" + nh.Interface + "|"
		for _, l := range nh.Labels {
			s += string(rune(l))
		}
	}
	return s
}

type candidateSet struct {
	entries    []Entry
	insertSeq  []int
	selectedIx int // -1 if none
}

// RIB is the protocol-agnostic central route table.
type RIB struct {
	mu  sync.Mutex
	log *zap.Logger
	fib fib.Driver

	tableV4 *radix.Trie[*candidateSet]
	tableV6 *radix.Trie[*candidateSet]

	groups   map[string]uint32 // interning key -> gid
	groupsByGID map[uint32]fib.NexthopGroup
	groupRefs   map[uint32]int
	nextGID  uint32

	ilm map[uint32]fib.ILMEntry

	seq int
}

// New constructs a RIB bound to driver d for FIB programming.
func New(d fib.Driver, log *zap.Logger) *RIB {
	return &RIB{
		log:         log.With(zap.String("component", "rib")),
		fib:         d,
		tableV4:     radix.New[*candidateSet](),
		tableV6:     radix.New[*candidateSet](),
		groups:      make(map[string]uint32),
		groupsByGID: make(map[uint32]fib.NexthopGroup),
		groupRefs:   make(map[uint32]int),
		nextGID:     1,
		ilm:         make(map[uint32]fib.ILMEntry),
	}
}

func (r *RIB) tableFor(p netip.Prefix) *radix.Trie[*candidateSet] {
	if p.Addr().Is4() {
		return r.tableV4
	}
	return r.tableV6
}

// Add inserts a candidate RibEntry for prefix and reruns selection.
func (r *RIB) Add(prefix netip.Prefix, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.tableFor(prefix)
	cs, ok := table.Get(prefix)
	if !ok {
		cs = &candidateSet{selectedIx: -1}
		table.Set(prefix, cs)
	}
	if e.Distance == 0 {
		e.Distance = defaultDistance(e.Protocol)
	}
	key := keyOf(e)
	for i, existing := range cs.entries {
		if keyOf(existing) == key {
			cs.entries[i] = e
			r.reselect(prefix, cs)
			return
		}
	}
	r.seq++
	cs.entries = append(cs.entries, e)
	cs.insertSeq = append(cs.insertSeq, r.seq)
	r.reselect(prefix, cs)
}

// Del removes the candidate matching e's protocol+subtype+nexthop
// fingerprint and reruns selection.
func (r *RIB) Del(prefix netip.Prefix, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.tableFor(prefix)
	cs, ok := table.Get(prefix)
	if !ok {
		return
	}
	key := keyOf(e)
	for i, existing := range cs.entries {
		if keyOf(existing) != key {
			continue
		}
		cs.entries = append(cs.entries[:i], cs.entries[i+1:]...)
		cs.insertSeq = append(cs.insertSeq[:i], cs.insertSeq[i+1:]...)
		if len(cs.entries) == 0 {
			r.fibReconcile(prefix, cs, nil)
			table.Delete(prefix)
			return
		}
		r.reselect(prefix, cs)
		return
	}
}

// resolve checks whether every nexthop gateway in e resolves against the
// RIB itself: the gateway's longest-match prefix must have a selected entry
// and must not be prefix (no route may recurse through its own nexthop).
func (r *RIB) resolve(prefix netip.Prefix, e *Entry) bool {
	for _, nh := range e.Nexthops {
		if !nh.Gateway.IsValid() {
			continue // directly connected / interface-only nexthop
		}
		hostPrefix := netip.PrefixFrom(nh.Gateway, nh.Gateway.BitLen())
		table := r.tableFor(hostPrefix)
		matched, covering, ok := table.Match(nh.Gateway)
		if !ok || covering == nil || matched == prefix.Masked() {
			return false
		}
		if covering.selectedIx < 0 {
			return false
		}
	}
	return true
}

// reselect picks the best candidate for prefix: highest flags-valid set,
// lowest distance, lowest metric, ties broken by insertion order.
func (r *RIB) reselect(prefix netip.Prefix, cs *candidateSet) {
	prevIx := cs.selectedIx
	var prevEntry *Entry
	if prevIx >= 0 && prevIx < len(cs.entries) {
		e := cs.entries[prevIx]
		prevEntry = &e
	}

	for i := range cs.entries {
		cs.entries[i].valid = r.resolve(prefix, &cs.entries[i])
	}

	best := -1
	for i, e := range cs.entries {
		if !e.valid {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		if better(e, cs.insertSeq[i], cs.entries[best], cs.insertSeq[best]) {
			best = i
		}
	}
	for i := range cs.entries {
		cs.entries[i].selected = i == best
	}
	cs.selectedIx = best

	var newEntry *Entry
	if best >= 0 {
		newEntry = &cs.entries[best]
	}
	if changed(prevEntry, newEntry) {
		r.fibReconcile(prefix, cs, newEntry)
	}
	metrics.RIBRoutes.WithLabelValues(afiLabel(prefix), protoLabel(newEntry)).Set(1)
}

func better(a Entry, aSeq int, b Entry, bSeq int) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if a.Metric != b.Metric {
		return a.Metric < b.Metric
	}
	return aSeq < bSeq
}

func changed(prev, next *Entry) bool {
	if prev == nil && next == nil {
		return false
	}
	if (prev == nil) != (next == nil) {
		return true
	}
	return keyOf(*prev) != keyOf(*next)
}

func afiLabel(p netip.Prefix) string {
	if p.Addr().Is4() {
		return "ipv4"
	}
	return "ipv6"
}

func protoLabel(e *Entry) string {
	if e == nil {
		return "none"
	}
	return e.Protocol.String()
}

// fibReconcile diffs the new selection against the previously installed
// entry and issues the add/del/replace calls needed to converge the FIB.
func (r *RIB) fibReconcile(prefix netip.Prefix, cs *candidateSet, newEntry *Entry) {
	if newEntry == nil {
		if err := r.fib.DelRoute(prefix, 0); err != nil {
			r.log.Warn("fib del failed", zap.Error(err))
		}
		return
	}
	gid := r.internGroup(*newEntry)
	newEntry.installedGID = gid
	if err := r.fib.AddRoute(fib.Route{Prefix: prefix, GID: gid, Protocol: newEntry.Protocol}); err != nil {
		r.log.Warn("fib add failed", zap.Error(err), zap.String("prefix", prefix.String()))
		return
	}
}

// internGroup builds the canonical nexthop-group key (sorted members for
// multipath, including labels), looks it up in the interning map, bumps the
// refcount on hit, or installs a fresh group.
func (r *RIB) internGroup(e Entry) uint32 {
	key := nexthopFingerprint(e.Nexthops)
	if gid, ok := r.groups[key]; ok {
		r.groupRefs[gid]++
		return gid
	}
	gid := r.nextGID
	r.nextGID++
	g := fib.NexthopGroup{GID: gid}
	if len(e.Nexthops) == 1 {
		nh := e.Nexthops[0]
		g.Unicast = &nh
	} else {
		for _, nh := range e.Nexthops {
			g.Multipath = append(g.Multipath, fib.WeightedNexthop{Nexthop: nh, Weight: 1})
		}
	}
	if err := r.fib.AddNexthopGroup(g); err != nil {
		r.log.Warn("fib nexthop group install failed", zap.Error(err))
	}
	r.groups[key] = gid
	r.groupsByGID[gid] = g
	r.groupRefs[gid] = 1
	metrics.RIBNexthopGroups.WithLabelValues().Set(float64(len(r.groupsByGID)))
	return gid
}

// releaseGroup decrements a group's refcount and removes it from the kernel
// once unreferenced.
func (r *RIB) releaseGroup(gid uint32) {
	r.groupRefs[gid]--
	if r.groupRefs[gid] > 0 {
		return
	}
	delete(r.groupRefs, gid)
	delete(r.groupsByGID, gid)
	for k, g := range r.groups {
		if g == gid {
			delete(r.groups, k)
		}
	}
	if err := r.fib.DelNexthopGroup(gid); err != nil {
		r.log.Warn("fib nexthop group delete failed", zap.Error(err))
	}
	metrics.RIBNexthopGroups.WithLabelValues().Set(float64(len(r.groupsByGID)))
}

// AddILM installs an MPLS incoming-label-map entry, diffed the same way as
// a route.
func (r *RIB) AddILM(label uint32, nh fib.Nexthop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, hadOld := r.ilm[label]
	gid := r.internGroup(Entry{Nexthops: []fib.Nexthop{nh}})
	if hadOld && old.GID == gid {
		// unchanged: drop the reference internGroup just took
		r.releaseGroup(gid)
		return
	}
	r.ilm[label] = fib.ILMEntry{Label: label, GID: gid}
	if err := r.fib.AddILM(fib.ILMEntry{Label: label, GID: gid}); err != nil {
		r.log.Warn("fib ilm install failed", zap.Error(err))
	}
	if hadOld {
		r.releaseGroup(old.GID)
	}
}

func (r *RIB) DelILM(label uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.ilm[label]
	if !ok {
		return
	}
	delete(r.ilm, label)
	r.releaseGroup(e.GID)
	if err := r.fib.DelILM(label); err != nil {
		r.log.Warn("fib ilm delete failed", zap.Error(err))
	}
}

// OnKernelRouteEvent never overrides protocol-selected state. An event for
// a prefix the RIB already tracks is ignored; for an untracked prefix, a
// non-delete event adds an empty candidate set. The event's protocol and
// nexthops are not stored, and no separate kernel view is kept.
func (r *RIB) OnKernelRouteEvent(ev fib.RouteEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.tableFor(ev.Prefix)
	if _, ok := table.Get(ev.Prefix); ok {
		// Already tracked by a protocol: kernel's view is informational only.
		return
	}
	if ev.Deleted {
		return
	}
	cs := &candidateSet{selectedIx: -1}
	table.Set(ev.Prefix, cs)
}

// Selected returns the winning entry for prefix, if any.
func (r *RIB) Selected(prefix netip.Prefix) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.tableFor(prefix).Get(prefix)
	if !ok || cs.selectedIx < 0 {
		return Entry{}, false
	}
	return cs.entries[cs.selectedIx], true
}
