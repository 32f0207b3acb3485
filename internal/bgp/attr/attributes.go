package attr

import (
	"encoding/binary"
	"fmt"
)

// Type identifies a BGP path attribute (RFC 4271 section 5, RFC 4760,
// RFC 4360, RFC 4456, RFC 6793).
type Type uint8

const (
	Origin           Type = 1
	ASPathType       Type = 2
	NextHopType      Type = 3
	MED              Type = 4
	LocalPref        Type = 5
	AtomicAggregate  Type = 6
	Aggregator       Type = 7
	Communities      Type = 8
	OriginatorID     Type = 9
	ClusterList      Type = 10
	MPReachNLRI      Type = 14
	MPUnreachNLRI    Type = 15
	ExtCommunities   Type = 16
	AS4Path          Type = 17
	AS4Aggregator    Type = 18
)

// Flag bits (RFC 4271 section 4.3).
const (
	FlagOptional   uint8 = 1 << 7
	FlagTransitive uint8 = 1 << 6
	FlagPartial    uint8 = 1 << 5
	FlagExtLength  uint8 = 1 << 4
)

// OriginCode is the well-known ORIGIN attribute value.
type OriginCode uint8

const (
	OriginIGP        OriginCode = 0
	OriginEGP        OriginCode = 1
	OriginIncomplete OriginCode = 2
)

// AggregatorValue is the decoded AGGREGATOR attribute.
type AggregatorValue struct {
	ASN    ASN
	Router uint32 // BGP Identifier of the aggregating speaker
}

// EVPNRoute is a minimally-decoded L2VPN EVPN NLRI entry: the route-type
// tag and its raw per-type value, preserved verbatim since the routing
// daemon only needs to count and forward EVPN routes through the RIB
// pipeline, not interpret ESI/MAC/IP fields itself.
type EVPNRoute struct {
	RouteType uint8
	Value     []byte
}

// MPReach is the decoded MP_REACH_NLRI attribute (RFC 4760).
type MPReach struct {
	AFI     uint16
	SAFI    uint8
	NextHop []byte
	EVPN    []EVPNRoute // populated when AFI/SAFI selects L2VPN EVPN (25/70)
	NLRI    []byte       // raw NLRI for address families we don't specialize
}

// MPUnreach is the decoded MP_UNREACH_NLRI attribute (RFC 4760).
type MPUnreach struct {
	AFI  uint16
	SAFI uint8
	EVPN []EVPNRoute
	NLRI []byte
}

const (
	afiL2VPN  uint16 = 25
	safiEVPN  uint8  = 70
)

// UnknownAttr preserves an attribute this package does not interpret, by
// flags+type+raw value, so re-encoding a decoded Bundle reproduces the
// original bytes for attributes we do not specialize.
type UnknownAttr struct {
	Flags uint8
	Type  Type
	Value []byte
}

// Bundle is the decoded path-attribute set of one UPDATE message.
type Bundle struct {
	Origin          OriginCode
	HasOrigin       bool
	ASPath          ASPath
	HasASPath       bool
	NextHop         uint32
	HasNextHop      bool
	MED             uint32
	HasMED          bool
	LocalPref       uint32
	HasLocalPref    bool
	AtomicAggregate bool
	Aggregator      *AggregatorValue
	Communities     []uint32
	ExtCommunities  [][8]byte
	OriginatorID    uint32
	HasOriginatorID bool
	ClusterList     []uint32
	MPReach         *MPReach
	MPUnreach       *MPUnreach
	AS4Path         *ASPath
	AS4Aggregator   *AggregatorValue
	Unknown         []UnknownAttr
}

// Decode parses the path-attribute portion of an UPDATE message body.
// fourOctetASNNegotiated controls whether AS_PATH segments carry 2-byte or
// 4-byte ASNs.
func Decode(raw []byte, fourOctetASNNegotiated bool) (*Bundle, error) {
	b := &Bundle{}
	for len(raw) > 0 {
		if len(raw) < 3 {
			return nil, fmt.Errorf("attr: truncated attribute header")
		}
		flags := raw[0]
		typ := Type(raw[1])
		var length int
		var valueStart int
		if flags&FlagExtLength != 0 {
			if len(raw) < 4 {
				return nil, fmt.Errorf("attr: truncated extended-length attribute header")
			}
			length = int(binary.BigEndian.Uint16(raw[2:4]))
			valueStart = 4
		} else {
			length = int(raw[2])
			valueStart = 3
		}
		if len(raw) < valueStart+length {
			return nil, fmt.Errorf("attr: truncated attribute value for type %d", typ)
		}
		value := raw[valueStart : valueStart+length]
		if err := b.decodeOne(flags, typ, value, fourOctetASNNegotiated); err != nil {
			return nil, err
		}
		raw = raw[valueStart+length:]
	}
	b.reconcileAS4()
	return b, nil
}

func (b *Bundle) decodeOne(flags uint8, typ Type, value []byte, fourOctetASN bool) error {
	switch typ {
	case Origin:
		if len(value) != 1 {
			return fmt.Errorf("attr: bad ORIGIN length %d", len(value))
		}
		b.Origin = OriginCode(value[0])
		b.HasOrigin = true
	case ASPathType:
		path, err := decodeASPathWire(value, fourOctetASN)
		if err != nil {
			return err
		}
		b.ASPath = path
		b.HasASPath = true
	case NextHopType:
		if len(value) != 4 {
			return fmt.Errorf("attr: bad NEXT_HOP length %d", len(value))
		}
		b.NextHop = binary.BigEndian.Uint32(value)
		b.HasNextHop = true
	case MED:
		if len(value) != 4 {
			return fmt.Errorf("attr: bad MULTI_EXIT_DISC length %d", len(value))
		}
		b.MED = binary.BigEndian.Uint32(value)
		b.HasMED = true
	case LocalPref:
		if len(value) != 4 {
			return fmt.Errorf("attr: bad LOCAL_PREF length %d", len(value))
		}
		b.LocalPref = binary.BigEndian.Uint32(value)
		b.HasLocalPref = true
	case AtomicAggregate:
		b.AtomicAggregate = true
	case Aggregator:
		agg, err := decodeAggregator(value, fourOctetASN)
		if err != nil {
			return err
		}
		b.Aggregator = agg
	case Communities:
		if len(value)%4 != 0 {
			return fmt.Errorf("attr: bad COMMUNITIES length %d", len(value))
		}
		for i := 0; i < len(value); i += 4 {
			b.Communities = append(b.Communities, binary.BigEndian.Uint32(value[i:i+4]))
		}
	case ExtCommunities:
		if len(value)%8 != 0 {
			return fmt.Errorf("attr: bad EXTENDED COMMUNITIES length %d", len(value))
		}
		for i := 0; i < len(value); i += 8 {
			var c [8]byte
			copy(c[:], value[i:i+8])
			b.ExtCommunities = append(b.ExtCommunities, c)
		}
	case OriginatorID:
		if len(value) != 4 {
			return fmt.Errorf("attr: bad ORIGINATOR_ID length %d", len(value))
		}
		b.OriginatorID = binary.BigEndian.Uint32(value)
		b.HasOriginatorID = true
	case ClusterList:
		if len(value)%4 != 0 {
			return fmt.Errorf("attr: bad CLUSTER_LIST length %d", len(value))
		}
		for i := 0; i < len(value); i += 4 {
			b.ClusterList = append(b.ClusterList, binary.BigEndian.Uint32(value[i:i+4]))
		}
	case MPReachNLRI:
		mp, err := decodeMPReach(value)
		if err != nil {
			return err
		}
		b.MPReach = mp
	case MPUnreachNLRI:
		mp, err := decodeMPUnreach(value)
		if err != nil {
			return err
		}
		b.MPUnreach = mp
	case AS4Path:
		path, err := decodeASPathWire(value, true)
		if err != nil {
			return err
		}
		b.AS4Path = &path
	case AS4Aggregator:
		agg, err := decodeAggregator(value, true)
		if err != nil {
			return err
		}
		b.AS4Aggregator = agg
	default:
		b.Unknown = append(b.Unknown, UnknownAttr{Flags: flags, Type: typ, Value: append([]byte(nil), value...)})
	}
	return nil
}

// reconcileAS4 merges AS4_PATH/AS4_AGGREGATOR into ASPath/Aggregator when
// the session only negotiated 2-octet ASNs: the decoder must also parse
// AS4_PATH/AS4_AGGREGATOR attributes and apply RFC 6793 section 4.2.3's
// merge algorithm, splicing the AS4_PATH segments in for the trailing run
// of the 2-octet path that isn't AS_TRANS-padded.
func (b *Bundle) reconcileAS4() {
	if b.AS4Aggregator != nil {
		b.Aggregator = b.AS4Aggregator
	}
	if b.AS4Path == nil || !b.HasASPath {
		return
	}
	oldLen := pathMemberCount(b.ASPath)
	newLen := pathMemberCount(*b.AS4Path)
	if newLen >= oldLen {
		b.ASPath = *b.AS4Path
		return
	}
	keep := oldLen - newLen
	b.ASPath = spliceASPath(b.ASPath, *b.AS4Path, keep)
}

func pathMemberCount(p ASPath) int {
	n := 0
	for _, s := range p.Segments {
		n += len(s.ASNs)
	}
	return n
}

func spliceASPath(oldPath, newTail ASPath, keepFromOld int) ASPath {
	var kept []Segment
	remaining := keepFromOld
	for _, seg := range oldPath.Segments {
		if remaining <= 0 {
			break
		}
		if len(seg.ASNs) <= remaining {
			kept = append(kept, seg)
			remaining -= len(seg.ASNs)
			continue
		}
		kept = append(kept, Segment{Type: seg.Type, ASNs: seg.ASNs[:remaining]})
		remaining = 0
	}
	return ASPath{Segments: append(kept, newTail.Segments...)}
}

func decodeAggregator(value []byte, fourOctetASN bool) (*AggregatorValue, error) {
	if fourOctetASN {
		if len(value) != 8 {
			return nil, fmt.Errorf("attr: bad 4-octet AGGREGATOR length %d", len(value))
		}
		return &AggregatorValue{ASN: ASN(binary.BigEndian.Uint32(value[0:4])), Router: binary.BigEndian.Uint32(value[4:8])}, nil
	}
	if len(value) != 6 {
		return nil, fmt.Errorf("attr: bad AGGREGATOR length %d", len(value))
	}
	return &AggregatorValue{ASN: ASN(binary.BigEndian.Uint16(value[0:2])), Router: binary.BigEndian.Uint32(value[2:6])}, nil
}

func decodeMPReach(value []byte) (*MPReach, error) {
	if len(value) < 5 {
		return nil, fmt.Errorf("attr: truncated MP_REACH_NLRI")
	}
	afi := binary.BigEndian.Uint16(value[0:2])
	safi := value[2]
	nhLen := int(value[3])
	if len(value) < 4+nhLen+1 {
		return nil, fmt.Errorf("attr: truncated MP_REACH_NLRI nexthop")
	}
	nh := value[4 : 4+nhLen]
	rest := value[4+nhLen:]
	reserved := rest[0]
	_ = reserved
	nlri := rest[1:]
	mp := &MPReach{AFI: afi, SAFI: safi, NextHop: append([]byte(nil), nh...)}
	if afi == afiL2VPN && safi == safiEVPN {
		routes, err := decodeEVPNRoutes(nlri)
		if err != nil {
			return nil, err
		}
		mp.EVPN = routes
	} else {
		mp.NLRI = append([]byte(nil), nlri...)
	}
	return mp, nil
}

func decodeMPUnreach(value []byte) (*MPUnreach, error) {
	if len(value) < 3 {
		return nil, fmt.Errorf("attr: truncated MP_UNREACH_NLRI")
	}
	afi := binary.BigEndian.Uint16(value[0:2])
	safi := value[2]
	nlri := value[3:]
	mp := &MPUnreach{AFI: afi, SAFI: safi}
	if afi == afiL2VPN && safi == safiEVPN {
		routes, err := decodeEVPNRoutes(nlri)
		if err != nil {
			return nil, err
		}
		mp.EVPN = routes
	} else {
		mp.NLRI = append([]byte(nil), nlri...)
	}
	return mp, nil
}

// decodeEVPNRoutes walks a sequence of {route-type(1), length(1), value}
// EVPN NLRI entries (RFC 7432 section 7).
func decodeEVPNRoutes(raw []byte) ([]EVPNRoute, error) {
	var routes []EVPNRoute
	for len(raw) > 0 {
		if len(raw) < 2 {
			return nil, fmt.Errorf("attr: truncated EVPN route header")
		}
		rt := raw[0]
		length := int(raw[1])
		if len(raw) < 2+length {
			return nil, fmt.Errorf("attr: truncated EVPN route value")
		}
		routes = append(routes, EVPNRoute{RouteType: rt, Value: append([]byte(nil), raw[2:2+length]...)})
		raw = raw[2+length:]
	}
	return routes, nil
}

func decodeASPathWire(value []byte, fourOctetASN bool) (ASPath, error) {
	width := 2
	if fourOctetASN {
		width = 4
	}
	var path ASPath
	for len(value) > 0 {
		if len(value) < 2 {
			return ASPath{}, fmt.Errorf("attr: truncated AS_PATH segment header")
		}
		segType := SegmentType(value[0])
		count := int(value[1])
		need := count * width
		if len(value) < 2+need {
			return ASPath{}, fmt.Errorf("attr: truncated AS_PATH segment value")
		}
		seg := Segment{Type: segType}
		for i := 0; i < count; i++ {
			off := 2 + i*width
			var asn ASN
			if width == 4 {
				asn = ASN(binary.BigEndian.Uint32(value[off : off+4]))
			} else {
				asn = ASN(binary.BigEndian.Uint16(value[off : off+2]))
			}
			seg.ASNs = append(seg.ASNs, asn)
		}
		path.Segments = append(path.Segments, seg)
		value = value[2+need:]
	}
	return path, nil
}

// Encode serializes a Bundle back into wire-format path attributes. It is
// used for locally originated or locally rewritten updates (next-hop-self,
// AS-path prepend, route-reflection rewrites); a Bundle decoded from the
// wire and re-encoded unmodified is attribute-equivalent but not necessarily
// byte-identical, since unknown attribute flags are preserved verbatim while
// well-known attributes are always re-flagged canonically.
func Encode(b *Bundle, fourOctetASN bool) []byte {
	var out []byte
	emit := func(flags uint8, typ Type, value []byte) {
		if len(value) > 255 {
			flags |= FlagExtLength
			out = append(out, flags, byte(typ), byte(len(value)>>8), byte(len(value)))
		} else {
			out = append(out, flags, byte(typ), byte(len(value)))
		}
		out = append(out, value...)
	}
	if b.HasOrigin {
		emit(FlagTransitive, Origin, []byte{byte(b.Origin)})
	}
	if b.HasASPath {
		emit(FlagTransitive, ASPathType, encodeASPathWire(b.ASPath, fourOctetASN))
	}
	if b.HasNextHop {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, b.NextHop)
		emit(FlagTransitive, NextHopType, v)
	}
	if b.HasMED {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, b.MED)
		emit(FlagOptional, MED, v)
	}
	if b.HasLocalPref {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, b.LocalPref)
		emit(FlagTransitive, LocalPref, v)
	}
	if b.AtomicAggregate {
		emit(FlagTransitive, AtomicAggregate, nil)
	}
	if b.Aggregator != nil {
		v := encodeAggregator(*b.Aggregator, fourOctetASN)
		emit(FlagOptional|FlagTransitive, Aggregator, v)
	}
	if len(b.Communities) > 0 {
		var v []byte
		for _, c := range b.Communities {
			cv := make([]byte, 4)
			binary.BigEndian.PutUint32(cv, c)
			v = append(v, cv...)
		}
		emit(FlagOptional|FlagTransitive, Communities, v)
	}
	if len(b.ExtCommunities) > 0 {
		var v []byte
		for _, c := range b.ExtCommunities {
			v = append(v, c[:]...)
		}
		emit(FlagOptional|FlagTransitive, ExtCommunities, v)
	}
	if b.HasOriginatorID {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, b.OriginatorID)
		emit(FlagOptional, OriginatorID, v)
	}
	if len(b.ClusterList) > 0 {
		var v []byte
		for _, c := range b.ClusterList {
			cv := make([]byte, 4)
			binary.BigEndian.PutUint32(cv, c)
			v = append(v, cv...)
		}
		emit(FlagOptional, ClusterList, v)
	}
	if b.MPReach != nil {
		emit(FlagOptional, MPReachNLRI, encodeMPReach(b.MPReach))
	}
	if b.MPUnreach != nil {
		emit(FlagOptional, MPUnreachNLRI, encodeMPUnreach(b.MPUnreach))
	}
	for _, u := range b.Unknown {
		emit(u.Flags, u.Type, u.Value)
	}
	return out
}

func encodeAggregator(a AggregatorValue, fourOctetASN bool) []byte {
	if fourOctetASN {
		v := make([]byte, 8)
		binary.BigEndian.PutUint32(v[0:4], uint32(a.ASN))
		binary.BigEndian.PutUint32(v[4:8], a.Router)
		return v
	}
	v := make([]byte, 6)
	binary.BigEndian.PutUint16(v[0:2], uint16(a.ASN))
	binary.BigEndian.PutUint32(v[2:6], a.Router)
	return v
}

func encodeMPReach(mp *MPReach) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], mp.AFI)
	out[2] = mp.SAFI
	out[3] = byte(len(mp.NextHop))
	out = append(out, mp.NextHop...)
	out = append(out, 0) // SNPA count, always zero
	if len(mp.EVPN) > 0 {
		out = append(out, encodeEVPNRoutes(mp.EVPN)...)
	} else {
		out = append(out, mp.NLRI...)
	}
	return out
}

func encodeMPUnreach(mp *MPUnreach) []byte {
	out := make([]byte, 3)
	binary.BigEndian.PutUint16(out[0:2], mp.AFI)
	out[2] = mp.SAFI
	if len(mp.EVPN) > 0 {
		out = append(out, encodeEVPNRoutes(mp.EVPN)...)
	} else {
		out = append(out, mp.NLRI...)
	}
	return out
}

func encodeEVPNRoutes(routes []EVPNRoute) []byte {
	var out []byte
	for _, r := range routes {
		out = append(out, r.RouteType, byte(len(r.Value)))
		out = append(out, r.Value...)
	}
	return out
}

func encodeASPathWire(p ASPath, fourOctetASN bool) []byte {
	var out []byte
	for _, seg := range p.Segments {
		out = append(out, byte(seg.Type), byte(len(seg.ASNs)))
		for _, a := range seg.ASNs {
			if fourOctetASN {
				v := make([]byte, 4)
				binary.BigEndian.PutUint32(v, uint32(a))
				out = append(out, v...)
			} else {
				v := make([]byte, 2)
				asn16 := uint16(a)
				if uint32(a) > 0xffff {
					asn16 = 23456 // AS_TRANS, RFC 6793 section 4.1
				}
				binary.BigEndian.PutUint16(v, asn16)
				out = append(out, v...)
			}
		}
	}
	return out
}
