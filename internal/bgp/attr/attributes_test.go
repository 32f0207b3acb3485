package attr

import (
	"encoding/binary"
	"testing"
)

func attrTLV(flags uint8, typ Type, value []byte) []byte {
	out := []byte{flags, byte(typ), byte(len(value))}
	return append(out, value...)
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func TestDecodeWellKnownAttributes(t *testing.T) {
	var raw []byte
	raw = append(raw, attrTLV(FlagTransitive, Origin, []byte{byte(OriginIGP)})...)
	raw = append(raw, attrTLV(FlagTransitive, ASPathType, encodeASPathWire(ASPath{Segments: []Segment{{Type: SegSequence, ASNs: []ASN{65001, 65002}}}}, true))...)
	raw = append(raw, attrTLV(FlagTransitive, NextHopType, []byte{192, 0, 2, 1})...)
	raw = append(raw, attrTLV(FlagOptional, MED, u32(10))...)
	raw = append(raw, attrTLV(FlagTransitive, LocalPref, u32(100))...)
	raw = append(raw, attrTLV(FlagOptional|FlagTransitive, AtomicAggregate, nil)...)

	b, err := Decode(raw, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !b.HasOrigin || b.Origin != OriginIGP {
		t.Fatalf("Origin: got %+v", b.Origin)
	}
	if !b.HasASPath || b.ASPath.String() != "65001 65002" {
		t.Fatalf("ASPath: got %q", b.ASPath.String())
	}
	if !b.HasNextHop || b.NextHop != binary.BigEndian.Uint32([]byte{192, 0, 2, 1}) {
		t.Fatalf("NextHop: got %x", b.NextHop)
	}
	if !b.HasMED || b.MED != 10 {
		t.Fatalf("MED: got %d", b.MED)
	}
	if !b.HasLocalPref || b.LocalPref != 100 {
		t.Fatalf("LocalPref: got %d", b.LocalPref)
	}
	if !b.AtomicAggregate {
		t.Fatalf("AtomicAggregate: expected true")
	}
}

func TestDecodeAggregatorFourOctet(t *testing.T) {
	value := append(u32(65010), []byte{10, 0, 0, 1}...)
	raw := attrTLV(FlagOptional|FlagTransitive, Aggregator, value)
	b, err := Decode(raw, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b.Aggregator == nil || b.Aggregator.ASN != 65010 {
		t.Fatalf("Aggregator: got %+v", b.Aggregator)
	}
}

func TestDecodeCommunitiesAndExtCommunities(t *testing.T) {
	var raw []byte
	raw = append(raw, attrTLV(FlagOptional|FlagTransitive, Communities, append(u32(0xFFFF0000), u32(100)...))...)
	ext := make([]byte, 8)
	raw = append(raw, attrTLV(FlagOptional|FlagTransitive, ExtCommunities, ext)...)

	b, err := Decode(raw, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(b.Communities) != 2 || b.Communities[1] != 100 {
		t.Fatalf("Communities: got %v", b.Communities)
	}
	if len(b.ExtCommunities) != 1 {
		t.Fatalf("ExtCommunities: got %v", b.ExtCommunities)
	}
}

func TestDecodeUnknownAttributePreservesBytes(t *testing.T) {
	raw := attrTLV(FlagOptional|FlagTransitive, Type(99), []byte{1, 2, 3, 4})
	b, err := Decode(raw, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(b.Unknown) != 1 || string(b.Unknown[0].Value) != "\x01\x02\x03\x04" {
		t.Fatalf("Unknown: got %+v", b.Unknown)
	}
}

// Scenario 3: an MP_UNREACH_NLRI withdraw carrying one
// L2VPN EVPN route must decode to exactly one EVPNRoute.
func TestDecodeMPUnreachEVPNWithdraw(t *testing.T) {
	evpnValue := make([]byte, 8) // route-type 2 (MAC/IP Advertisement), opaque value
	nlri := append([]byte{2, byte(len(evpnValue))}, evpnValue...)
	value := append([]byte{byte(afiL2VPN >> 8), byte(afiL2VPN), safiEVPN}, nlri...)
	raw := attrTLV(FlagOptional, MPUnreachNLRI, value)

	b, err := Decode(raw, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b.MPUnreach == nil {
		t.Fatalf("expected MPUnreach to be set")
	}
	if b.MPUnreach.AFI != afiL2VPN || b.MPUnreach.SAFI != safiEVPN {
		t.Fatalf("MPUnreach AFI/SAFI: got %d/%d", b.MPUnreach.AFI, b.MPUnreach.SAFI)
	}
	if len(b.MPUnreach.EVPN) != 1 {
		t.Fatalf("expected exactly one EVPN route, got %d", len(b.MPUnreach.EVPN))
	}
	if b.MPUnreach.EVPN[0].RouteType != 2 {
		t.Fatalf("EVPN route type: got %d", b.MPUnreach.EVPN[0].RouteType)
	}
}

func TestReconcileAS4Splice(t *testing.T) {
	old := encodeASPathWire(ASPath{Segments: []Segment{{Type: SegSequence, ASNs: []ASN{23456, 23456, 300}}}}, false)
	as4 := encodeASPathWire(ASPath{Segments: []Segment{{Type: SegSequence, ASNs: []ASN{65010, 65020}}}}, true)

	var raw []byte
	raw = append(raw, attrTLV(FlagTransitive, ASPathType, old)...)
	raw = append(raw, attrTLV(FlagOptional|FlagTransitive, AS4Path, as4)...)

	b, err := Decode(raw, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := "65010 65020 300"
	if got := b.ASPath.String(); got != want {
		t.Fatalf("reconciled ASPath: got %q want %q", got, want)
	}
}
