package isis

import (
	"testing"

	"github.com/ridged/ridged/internal/isis/packet"
)

func sysID(b byte) packet.SystemID {
	return packet.SystemID{0, 0, 0, 0, 0, b}
}

// Scenario 5: three nodes A,B,C with edges A<->B cost
// 10, B<->C cost 10, A<->C cost 30; SPF from A yields B at cost 10 via
// A->B, and C at cost 20 via A->B->C (not the direct 30-cost A->C edge).
func TestScenarioSPFShortestPath(t *testing.T) {
	a, b, c := sysID(1), sysID(2), sysID(3)

	entries := map[packet.LSPID]packet.LSP{
		{SystemID: a}: {
			RemainingLifetime: 1200,
			ID:                packet.LSPID{SystemID: a},
			ExtISReaches: []packet.ExtISReach{
				{Neighbor: packet.LSPID{SystemID: b}, Metric: 10},
				{Neighbor: packet.LSPID{SystemID: c}, Metric: 30},
			},
		},
		{SystemID: b}: {
			RemainingLifetime: 1200,
			ID:                packet.LSPID{SystemID: b},
			ExtISReaches: []packet.ExtISReach{
				{Neighbor: packet.LSPID{SystemID: a}, Metric: 10},
				{Neighbor: packet.LSPID{SystemID: c}, Metric: 10},
			},
		},
		{SystemID: c}: {
			RemainingLifetime: 1200,
			ID:                packet.LSPID{SystemID: c},
			ExtISReaches: []packet.ExtISReach{
				{Neighbor: packet.LSPID{SystemID: a}, Metric: 30},
				{Neighbor: packet.LSPID{SystemID: b}, Metric: 10},
			},
		},
	}

	g := buildSPFGraph(entries)
	results := runDijkstra(g, nodeKey{System: a})

	rb, ok := results[nodeKey{System: b}]
	if !ok || !rb.HasPath {
		t.Fatalf("expected B to be reachable")
	}
	if rb.Dist != 10 {
		t.Fatalf("B distance: got %d want 10", rb.Dist)
	}
	if rb.FirstHop != (nodeKey{System: b}) {
		t.Fatalf("B first hop: got %+v want B itself", rb.FirstHop)
	}

	rc, ok := results[nodeKey{System: c}]
	if !ok || !rc.HasPath {
		t.Fatalf("expected C to be reachable")
	}
	if rc.Dist != 20 {
		t.Fatalf("C distance: got %d want 20 (via A->B->C, not direct 30-cost edge)", rc.Dist)
	}
	if rc.FirstHop != (nodeKey{System: b}) {
		t.Fatalf("C first hop: got %+v want B (the shared next hop toward both B and C)", rc.FirstHop)
	}
}

func TestSPFUnreachableNodeOmitted(t *testing.T) {
	a, b := sysID(1), sysID(2)
	entries := map[packet.LSPID]packet.LSP{
		{SystemID: a}: {RemainingLifetime: 1200, ID: packet.LSPID{SystemID: a}},
	}
	_ = b
	g := buildSPFGraph(entries)
	results := runDijkstra(g, nodeKey{System: a})
	if len(results) != 0 {
		t.Fatalf("expected no reachable nodes, got %d", len(results))
	}
}
