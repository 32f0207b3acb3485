package bgp

import (
	"net/netip"
	"testing"

	"github.com/ridged/ridged/internal/bgp/attr"
)

func testPeer(remoteAS uint32, routerID uint32) *Peer {
	return &Peer{
		config:   PeerConfig{RemoteAS: remoteAS, LocalAS: remoteAS},
		remoteAS: remoteAS,
		remoteID: routerID,
		state:    Established,
	}
}

// Scenario 6: two iBGP candidates from the same
// neighboring AS, same local-pref and AS-path length; the MED=50 candidate
// wins over MED=100.
func TestScenarioBestPathMEDTiebreak(t *testing.T) {
	r := &RIB{
		prefixes: map[netip.Prefix]*prefixState{},
		peers:    map[*Peer]bool{},
	}
	prefix := netip.MustParsePrefix("203.0.113.0/24")

	peerA := testPeer(65000, 1)
	peerB := testPeer(65000, 2)

	asPath := attr.ASPath{Segments: []attr.Segment{{Type: attr.SegSequence, ASNs: []attr.ASN{65000}}}}

	st := &prefixState{
		candidates: map[*Peer]*Path{
			peerA: {Peer: peerA, Attrs: &attr.Bundle{HasASPath: true, ASPath: asPath, HasMED: true, MED: 100, HasLocalPref: true, LocalPref: 100}},
			peerB: {Peer: peerB, Attrs: &attr.Bundle{HasASPath: true, ASPath: asPath, HasMED: true, MED: 50, HasLocalPref: true, LocalPref: 100}},
		},
		insertSeq: map[*Peer]int{peerA: 1, peerB: 2},
	}
	r.prefixes[prefix] = st

	var winner *Peer
	var winnerPath *Path
	for peer, path := range st.candidates {
		if winner == nil || r.better(prefix, st, peer, path, winner, winnerPath) {
			winner = peer
			winnerPath = path
		}
	}

	if winner != peerB {
		t.Fatalf("expected MED=50 candidate to win, got MED=%d", winnerPath.Attrs.MED)
	}
}
