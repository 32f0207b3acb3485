package message

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/ridged/ridged/internal/bgp/attr"
)

func TestDecodeUpdateBasicReachable(t *testing.T) {
	bundle := &attr.Bundle{}
	bundle.HasOrigin = true
	bundle.Origin = attr.OriginIGP
	bundle.HasASPath = true
	bundle.ASPath = attr.ASPath{Segments: []attr.Segment{{Type: attr.SegSequence, ASNs: []attr.ASN{65001}}}}
	bundle.HasNextHop = true
	bundle.NextHop = binary.BigEndian.Uint32([]byte{10, 0, 0, 1})

	u := &Update{
		Attributes: bundle,
		NLRI:       []PrefixPath{{Prefix: netip.MustParsePrefix("192.0.2.0/24")}},
	}
	wire := u.Encode(true, false)

	header, err := DecodeHeader(wire[:HeaderLength])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if header.Type != Update {
		t.Fatalf("header type: got %v", header.Type)
	}
	decoded, err := DecodeUpdate(wire[HeaderLength:header.Length], true, false)
	if err != nil {
		t.Fatalf("DecodeUpdate: %v", err)
	}
	if len(decoded.NLRI) != 1 || decoded.NLRI[0].Prefix.String() != "192.0.2.0/24" {
		t.Fatalf("NLRI: got %+v", decoded.NLRI)
	}
	if !decoded.Attributes.HasASPath || decoded.Attributes.ASPath.String() != "65001" {
		t.Fatalf("ASPath: got %+v", decoded.Attributes.ASPath)
	}
}

func TestDecodeUpdateAddPathPreservesPathID(t *testing.T) {
	u := &Update{
		Attributes: &attr.Bundle{},
		NLRI: []PrefixPath{
			{Prefix: netip.MustParsePrefix("198.51.100.0/24"), PathID: 7},
		},
	}
	wire := u.Encode(true, true)
	header, err := DecodeHeader(wire[:HeaderLength])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	decoded, err := DecodeUpdate(wire[HeaderLength:header.Length], true, true)
	if err != nil {
		t.Fatalf("DecodeUpdate: %v", err)
	}
	if len(decoded.NLRI) != 1 || decoded.NLRI[0].PathID != 7 {
		t.Fatalf("NLRI path id: got %+v", decoded.NLRI)
	}
}

// Scenario 3: an UPDATE withdrawing one EVPN route via
// MP_UNREACH_NLRI must decode with zero classic withdrawn routes and exactly
// one EVPN route attached to the attribute bundle.
func TestDecodeUpdateEVPNWithdraw(t *testing.T) {
	evpnValue := make([]byte, 17) // route-type 2, RD+ESI+ETAG+MAC+IP+label sized opaque value
	mpUnreach := &attr.MPUnreach{
		AFI:  25,
		SAFI: 70,
		EVPN: []attr.EVPNRoute{{RouteType: 2, Value: evpnValue}},
	}
	u := &Update{Attributes: &attr.Bundle{MPUnreach: mpUnreach}}
	wire := u.Encode(true, false)

	header, err := DecodeHeader(wire[:HeaderLength])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	decoded, err := DecodeUpdate(wire[HeaderLength:header.Length], true, false)
	if err != nil {
		t.Fatalf("DecodeUpdate: %v", err)
	}
	if len(decoded.WithdrawnRoutes) != 0 {
		t.Fatalf("expected no classic withdrawn routes, got %d", len(decoded.WithdrawnRoutes))
	}
	if decoded.Attributes.MPUnreach == nil || len(decoded.Attributes.MPUnreach.EVPN) != 1 {
		t.Fatalf("expected exactly one EVPN route, got %+v", decoded.Attributes.MPUnreach)
	}
}
