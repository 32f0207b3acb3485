package isis

import (
	"container/heap"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/ridged/ridged/internal/fib"
	"github.com/ridged/ridged/internal/isis/packet"
	"github.com/ridged/ridged/internal/metrics"
	rib "github.com/ridged/ridged/internal/rib"
)

// nodeKey identifies one SPF graph vertex: a real system (PseudonodeID==0)
// or a LAN pseudonode, expanded as an edge into the pseudonode followed by
// one zero-cost edge out per attached system.
type nodeKey struct {
	System     packet.SystemID
	Pseudonode uint8
}

type spfEdge struct {
	to     nodeKey
	metric uint32
}

// LabelMap is the per-remote-system SRGB learned from Router Capability
// TLVs, used to resolve a remote Prefix-SID index into an outgoing MPLS
// label during route export. Only real-system nodes (Pseudonode == 0) are
// ever populated, since SR-Capability is a per-system attribute.
type LabelMap map[nodeKey]packet.SRGB

// spfGraph is the adjacency list built from a level's LSDB.
type spfGraph struct {
	edges map[nodeKey][]spfEdge
	// prefixes and subTLVs carried by the owning real system's own LSP,
	// indexed by the real system's node (pseudonodes never export prefixes).
	ipv4Reach map[nodeKey][]packet.ExtIPReach
	ipv6Reach map[nodeKey][]packet.ExtIPReach
	srgb      LabelMap
}

func buildSPFGraph(entries map[packet.LSPID]packet.LSP) *spfGraph {
	g := &spfGraph{
		edges:     make(map[nodeKey][]spfEdge),
		ipv4Reach: make(map[nodeKey][]packet.ExtIPReach),
		ipv6Reach: make(map[nodeKey][]packet.ExtIPReach),
		srgb:      make(LabelMap),
	}
	for id, lsp := range entries {
		if lsp.RemainingLifetime == 0 {
			continue
		}
		from := nodeKey{System: id.SystemID, Pseudonode: id.PseudonodeID}
		for _, n := range lsp.ExtISReaches {
			to := nodeKey{System: n.Neighbor.SystemID, Pseudonode: n.Neighbor.PseudonodeID}
			g.edges[from] = append(g.edges[from], spfEdge{to: to, metric: n.Metric})
		}
		if id.PseudonodeID == 0 {
			g.ipv4Reach[from] = append(g.ipv4Reach[from], lsp.ExtIPReaches...)
			g.ipv6Reach[from] = append(g.ipv6Reach[from], lsp.Ipv6Reaches...)
			if lsp.RouterCapSRGB != nil {
				g.srgb[from] = *lsp.RouterCapSRGB
			}
		}
	}
	return g
}

type spfHeapItem struct {
	node nodeKey
	dist uint32
}

type spfHeap []spfHeapItem

func (h spfHeap) Len() int            { return len(h) }
func (h spfHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h spfHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *spfHeap) Push(x interface{}) { *h = append(*h, x.(spfHeapItem)) }
func (h *spfHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// spfResult is one reachable node's computed shortest distance and the
// resolved first-hop real system used to forward toward it.
type spfResult struct {
	Dist     uint32
	FirstHop nodeKey
	HasPath  bool
}

// runDijkstra computes shortest distances from source over g and resolves,
// for every reachable node, the first real (non-pseudonode) hop away from
// source -- walking one extra step past any pseudonode, since the node
// immediately following a pseudonode in the shortest-path tree is by
// construction a real LAN-attached neighbor.
func runDijkstra(g *spfGraph, source nodeKey) map[nodeKey]spfResult {
	dist := map[nodeKey]uint32{source: 0}
	prev := map[nodeKey]nodeKey{}
	visited := map[nodeKey]bool{}

	h := &spfHeap{{node: source, dist: 0}}
	heap.Init(h)
	for h.Len() > 0 {
		cur := heap.Pop(h).(spfHeapItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true
		for _, e := range g.edges[cur.node] {
			nd := cur.dist + e.metric
			if d, ok := dist[e.to]; !ok || nd < d {
				dist[e.to] = nd
				prev[e.to] = cur.node
				heap.Push(h, spfHeapItem{node: e.to, dist: nd})
			}
		}
	}

	results := make(map[nodeKey]spfResult, len(dist))
	for n, d := range dist {
		if n == source {
			continue
		}
		results[n] = spfResult{Dist: d, FirstHop: resolveFirstHop(prev, source, n), HasPath: true}
	}
	return results
}

// resolveFirstHop walks the predecessor chain from dest back to source and
// returns the first real node encountered on the way out from source.
func resolveFirstHop(prev map[nodeKey]nodeKey, source, dest nodeKey) nodeKey {
	path := []nodeKey{dest}
	for cur := dest; cur != source; {
		p, ok := prev[cur]
		if !ok {
			return nodeKey{}
		}
		path = append(path, p)
		cur = p
	}
	// path is [dest, ..., source]; reverse to [source, ..., dest]
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	if len(path) < 2 {
		return nodeKey{}
	}
	first := path[1]
	if first.Pseudonode == 0 {
		return first
	}
	if len(path) < 3 {
		return nodeKey{}
	}
	return path[2]
}

// spfRoute is one exported RIB entry candidate computed from an SPF run.
type spfRoute struct {
	Prefix   netip.Prefix
	Metric   uint32
	Nexthop  nodeKey
}

// spfLabelBinding is one remote Prefix-SID resolved to an outgoing MPLS
// label via the owning system's advertised SRGB.
type spfLabelBinding struct {
	Label   uint32
	Nexthop nodeKey
}

// exportRoutes walks every reachable real system's advertised reachability
// TLVs and produces one route candidate per prefix (metric = SPF distance
// plus the advertised metric), plus one label binding per prefix that
// carries a Prefix-SID and whose owning system advertised an SRGB.
func exportRoutes(g *spfGraph, results map[nodeKey]spfResult) ([]spfRoute, []spfLabelBinding) {
	var out []spfRoute
	var labels []spfLabelBinding
	for n, res := range results {
		if n.Pseudonode != 0 {
			continue
		}
		srgb, hasSRGB := g.srgb[n]
		for _, e := range g.ipv4Reach[n] {
			p, ok := prefixFromReach(e, false)
			if !ok {
				continue
			}
			out = append(out, spfRoute{Prefix: p, Metric: res.Dist + e.Metric, Nexthop: res.FirstHop})
			if hasSRGB {
				if idx, ok := packet.PrefixSIDIndex(e.SubTLVs); ok {
					labels = append(labels, spfLabelBinding{Label: srgb.Base + idx, Nexthop: res.FirstHop})
				}
			}
		}
		for _, e := range g.ipv6Reach[n] {
			p, ok := prefixFromReach(e, true)
			if !ok {
				continue
			}
			out = append(out, spfRoute{Prefix: p, Metric: res.Dist + e.Metric, Nexthop: res.FirstHop})
			if hasSRGB {
				if idx, ok := packet.PrefixSIDIndex(e.SubTLVs); ok {
					labels = append(labels, spfLabelBinding{Label: srgb.Base + idx, Nexthop: res.FirstHop})
				}
			}
		}
	}
	return out, labels
}

func prefixFromReach(e packet.ExtIPReach, v6 bool) (netip.Prefix, bool) {
	width := 4
	if v6 {
		width = 16
	}
	buf := make([]byte, width)
	copy(buf, e.Prefix)
	addr, ok := netip.AddrFromSlice(buf)
	if !ok {
		return netip.Prefix{}, false
	}
	if v6 {
		addr = addr.Unmap()
	}
	return netip.PrefixFrom(addr, int(e.PrefixLen)).Masked(), true
}

// scheduleSPF arms the 1-second coalescing timer that runs SPF at level
// granularity; repeated calls before it fires are no-ops.
func (in *Instance) scheduleSPF(level packet.Level) {
	pending := in.spfPending(level)
	if *pending {
		return
	}
	*pending = true
	time.AfterFunc(spfCoalesceInterval, func() {
		in.post(func() {
			*pending = false
			in.runSPF(level)
		})
	})
}

const spfCoalesceInterval = 1 * time.Second

func (in *Instance) spfPending(level packet.Level) *bool {
	if level == packet.LevelL1 {
		return &in.spfPendingL1
	}
	return &in.spfPendingL2
}

// runSPF computes the new shortest-path tree, diffs it against the
// previous result, and pushes add/del/replace messages to the central
// RIB.
func (in *Instance) runSPF(level packet.Level) {
	start := time.Now()
	lsdb := in.lsdbFor(level)
	snapshot := make(map[packet.LSPID]packet.LSP, len(lsdb.entries))
	for id, e := range lsdb.entries {
		snapshot[id] = e.lsp
	}
	g := buildSPFGraph(snapshot)
	source := nodeKey{System: in.systemID}
	results := runDijkstra(g, source)
	routes, labelBindings := exportRoutes(g, results)

	prevRoutes := in.spfRoutesFor(level)
	next := make(map[netip.Prefix]spfRoute, len(routes))
	for _, r := range routes {
		if existing, ok := next[r.Prefix]; !ok || r.Metric < existing.Metric {
			next[r.Prefix] = r
		}
	}

	for prefix, r := range next {
		old, ok := prevRoutes[prefix]
		if ok && old == r {
			continue
		}
		if ok && old.Nexthop != r.Nexthop {
			// the nexthop fingerprint changed: Add alone would leave the
			// old candidate behind under a stale key, so retire it first.
			in.centralRIB.Del(prefix, rib.Entry{
				Protocol: fib.ProtoISIS,
				Metric:   old.Metric,
				Nexthops: in.resolveNexthop(old.Nexthop),
			})
		}
		in.centralRIB.Add(prefix, rib.Entry{
			Protocol: fib.ProtoISIS,
			Metric:   r.Metric,
			Nexthops: in.resolveNexthop(r.Nexthop),
		})
	}
	for prefix, old := range prevRoutes {
		if _, ok := next[prefix]; !ok {
			in.centralRIB.Del(prefix, rib.Entry{
				Protocol: fib.ProtoISIS,
				Metric:   old.Metric,
				Nexthops: in.resolveNexthop(old.Nexthop),
			})
		}
	}
	in.setSPFRoutes(level, next)

	prevLabels := in.spfLabelsFor(level)
	nextLabels := make(map[uint32]nodeKey, len(labelBindings))
	for _, lb := range labelBindings {
		nextLabels[lb.Label] = lb.Nexthop
	}
	for label, nh := range nextLabels {
		if old, ok := prevLabels[label]; ok && old == nh {
			continue
		}
		if fibNH, ok := in.resolveILMNexthop(nh); ok {
			in.centralRIB.AddILM(label, fibNH)
		}
	}
	for label := range prevLabels {
		if _, ok := nextLabels[label]; !ok {
			in.centralRIB.DelILM(label)
		}
	}
	in.setSPFLabels(level, nextLabels)

	metrics.ISISSPFRunDuration.WithLabelValues(levelLabel(level)).Observe(time.Since(start).Seconds())
	in.log.Debug("spf run complete", zap.String("level", levelLabel(level)), zap.Int("routes", len(next)))
}

// resolveNexthop turns a graph first-hop node into the FIB-level nexthop,
// using the neighbor address cached at adjacency formation.
func (in *Instance) resolveNexthop(n nodeKey) []fib.Nexthop {
	link, addr, ok := in.neighborGateway(n.System)
	if !ok {
		return nil
	}
	return []fib.Nexthop{{Gateway: addr, Interface: link}}
}

// resolveILMNexthop is resolveNexthop's single-nexthop counterpart for ILM
// installation, which takes one nexthop rather than a group.
func (in *Instance) resolveILMNexthop(n nodeKey) (fib.Nexthop, bool) {
	link, addr, ok := in.neighborGateway(n.System)
	if !ok {
		return fib.Nexthop{}, false
	}
	return fib.Nexthop{Gateway: addr, Interface: link}, true
}
