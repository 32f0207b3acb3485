package packet

// IsNeighbor is a single 6-byte LAN/P2P adjacency-state neighbor entry of
// the legacy IS Neighbors TLV (ISO 10589 section 9.6), still carried in
// Hello PDUs alongside the newer IP/hostname TLVs.
type IsNeighbor [6]byte

// Hello is a decoded LAN (broadcast) Hello PDU (ISO 10589 section 9.6).
type Hello struct {
	Level       Level
	CircuitType Level
	SourceID    SystemID
	HoldTime    uint16
	Priority    uint8
	LANID       LSPID

	AreaAddrs      [][]byte
	ProtoSupported []uint8
	Ipv4IfAddrs    []uint32
	Ipv6IfAddrs    [][16]byte
	IsNeighbors    []IsNeighbor
	Unknown        []UnknownTLV
}

const helloFixedHeaderLength = 19 // circuit_type(1) + source_id(6) + hold_time(2) + pdu_len(2) + priority(1) + lan_id(7)

// DecodeHello decodes a LAN Hello PDU body (after the common header).
func DecodeHello(level Level, b []byte) (Hello, error) {
	if len(b) < helloFixedHeaderLength {
		return Hello{}, newDecodeError("short hello fixed header")
	}
	h := Hello{
		Level:       level,
		CircuitType: Level(b[0] & 0x03),
		HoldTime:    beU16(b[7:9]),
		Priority:    b[11] & 0x7f,
	}
	copy(h.SourceID[:], b[1:7])
	copy(h.LANID.SystemID[:], b[12:18])
	h.LANID.PseudonodeID = b[18]

	tlvs, err := scanTLVs(b[helloFixedHeaderLength:])
	if err != nil {
		return Hello{}, err
	}
	if err := h.consumeTLVs(tlvs); err != nil {
		return Hello{}, err
	}
	return h, nil
}

func (h *Hello) consumeTLVs(tlvs []rawTLV) error {
	for _, t := range tlvs {
		switch t.Type {
		case TLVAreaAddr:
			areas, err := decodeAreaAddrs(t.Value)
			if err != nil {
				return err
			}
			h.AreaAddrs = append(h.AreaAddrs, areas...)
		case TLVProtoSupported:
			h.ProtoSupported = append(h.ProtoSupported, t.Value...)
		case TLVIpv4IfAddr:
			for i := 0; i+4 <= len(t.Value); i += 4 {
				h.Ipv4IfAddrs = append(h.Ipv4IfAddrs, beU32(t.Value[i:i+4]))
			}
		case TLVIpv6IfAddr:
			for i := 0; i+16 <= len(t.Value); i += 16 {
				var a [16]byte
				copy(a[:], t.Value[i:i+16])
				h.Ipv6IfAddrs = append(h.Ipv6IfAddrs, a)
			}
		case TLVIsNeighbor:
			for i := 0; i+6 <= len(t.Value); i += 6 {
				var nbr IsNeighbor
				copy(nbr[:], t.Value[i:i+6])
				h.IsNeighbors = append(h.IsNeighbors, nbr)
			}
		case TLVPadding:
		default:
			h.Unknown = append(h.Unknown, UnknownTLV{Type: t.Type, Value: append([]byte(nil), t.Value...)})
		}
	}
	return nil
}

// Encode serializes the Hello and stamps its pdu_len field.
func (h *Hello) Encode() []byte {
	pduType := L1Hello
	if h.Level == LevelL2 {
		pduType = L2Hello
	}
	hdr := EncodeHeader(pduType, helloFixedHeaderLength)

	fixed := make([]byte, helloFixedHeaderLength)
	fixed[0] = byte(h.CircuitType) & 0x03
	copy(fixed[1:7], h.SourceID[:])
	fixed[7] = byte(h.HoldTime >> 8)
	fixed[8] = byte(h.HoldTime)
	// fixed[9:11] (pdu_len) stamped last
	fixed[11] = h.Priority & 0x7f
	copy(fixed[12:18], h.LANID.SystemID[:])
	fixed[18] = h.LANID.PseudonodeID

	tlvs := h.encodeTLVs()
	body := append(fixed, tlvs...)
	pduLen := commonHeaderLength + len(body)
	body[9] = byte(pduLen >> 8)
	body[10] = byte(pduLen)
	return append(hdr, body...)
}

func (h *Hello) encodeTLVs() []byte {
	var out []byte
	if len(h.AreaAddrs) > 0 {
		out = emitTLV(out, TLVAreaAddr, encodeAreaAddrs(h.AreaAddrs))
	}
	if len(h.ProtoSupported) > 0 {
		out = emitTLV(out, TLVProtoSupported, h.ProtoSupported)
	}
	if len(h.Ipv4IfAddrs) > 0 {
		var v []byte
		for _, a := range h.Ipv4IfAddrs {
			v = append(v, byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
		}
		out = emitTLV(out, TLVIpv4IfAddr, v)
	}
	if len(h.Ipv6IfAddrs) > 0 {
		var v []byte
		for _, a := range h.Ipv6IfAddrs {
			v = append(v, a[:]...)
		}
		out = emitTLV(out, TLVIpv6IfAddr, v)
	}
	if len(h.IsNeighbors) > 0 {
		var v []byte
		for _, n := range h.IsNeighbors {
			v = append(v, n[:]...)
		}
		out = emitTLV(out, TLVIsNeighbor, v)
	}
	for _, u := range h.Unknown {
		out = emitTLV(out, u.Type, u.Value)
	}
	return out
}

// P2PHelloPDU is a decoded Point-to-Point Hello PDU (ISO 10589 section
// 9.7); it replaces the LAN ID/priority pair with a circuit-id byte and may
// carry the RFC 5303 Point-to-Point Three-Way Adjacency TLV.
type P2PHelloPDU struct {
	CircuitType Level
	SourceID    SystemID
	HoldTime    uint16
	CircuitID   uint8

	AreaAddrs      [][]byte
	ProtoSupported []uint8
	Ipv4IfAddrs    []uint32
	ThreeWay       *ThreeWayAdjacency
	Unknown        []UnknownTLV
}

// ThreeWayAdjacency is the RFC 5303 TLV used to resolve P2P adjacency
// bring-up without relying on DIS election; this package decodes and
// encodes it, and no part of this module runs the RFC 5303 three-way state
// machine (see DESIGN.md's open-question note).
type ThreeWayAdjacency struct {
	State           uint8
	ExtendedLocalID uint32
	HasNeighbor     bool
	NeighborSystem  SystemID
	NeighborLocalID uint32
}

const p2pHelloFixedHeaderLength = 12 // circuit_type(1) + source_id(6) + hold_time(2) + pdu_len(2) + circuit_id(1)

func DecodeP2PHello(b []byte) (P2PHelloPDU, error) {
	if len(b) < p2pHelloFixedHeaderLength {
		return P2PHelloPDU{}, newDecodeError("short p2p hello fixed header")
	}
	h := P2PHelloPDU{
		CircuitType: Level(b[0] & 0x03),
		HoldTime:    beU16(b[7:9]),
		CircuitID:   b[11],
	}
	copy(h.SourceID[:], b[1:7])

	tlvs, err := scanTLVs(b[p2pHelloFixedHeaderLength:])
	if err != nil {
		return P2PHelloPDU{}, err
	}
	for _, t := range tlvs {
		switch t.Type {
		case TLVAreaAddr:
			areas, err := decodeAreaAddrs(t.Value)
			if err != nil {
				return P2PHelloPDU{}, err
			}
			h.AreaAddrs = append(h.AreaAddrs, areas...)
		case TLVProtoSupported:
			h.ProtoSupported = append(h.ProtoSupported, t.Value...)
		case TLVIpv4IfAddr:
			for i := 0; i+4 <= len(t.Value); i += 4 {
				h.Ipv4IfAddrs = append(h.Ipv4IfAddrs, beU32(t.Value[i:i+4]))
			}
		case tlvP2P3Way:
			tw, err := decodeThreeWay(t.Value)
			if err != nil {
				return P2PHelloPDU{}, err
			}
			h.ThreeWay = &tw
		case TLVPadding:
		default:
			h.Unknown = append(h.Unknown, UnknownTLV{Type: t.Type, Value: append([]byte(nil), t.Value...)})
		}
	}
	return h, nil
}

const tlvP2P3Way TLVType = 240

func decodeThreeWay(b []byte) (ThreeWayAdjacency, error) {
	if len(b) < 5 {
		return ThreeWayAdjacency{}, newDecodeError("short p2p 3-way tlv")
	}
	tw := ThreeWayAdjacency{
		State:           b[0],
		ExtendedLocalID: beU32(b[1:5]),
	}
	if len(b) >= 5+6+4 {
		tw.HasNeighbor = true
		copy(tw.NeighborSystem[:], b[5:11])
		tw.NeighborLocalID = beU32(b[11:15])
	}
	return tw, nil
}

func encodeThreeWay(tw ThreeWayAdjacency) []byte {
	out := []byte{tw.State, byte(tw.ExtendedLocalID >> 24), byte(tw.ExtendedLocalID >> 16), byte(tw.ExtendedLocalID >> 8), byte(tw.ExtendedLocalID)}
	if tw.HasNeighbor {
		out = append(out, tw.NeighborSystem[:]...)
		out = append(out, byte(tw.NeighborLocalID>>24), byte(tw.NeighborLocalID>>16), byte(tw.NeighborLocalID>>8), byte(tw.NeighborLocalID))
	}
	return out
}

func (h *P2PHelloPDU) Encode() []byte {
	hdr := EncodeHeader(P2PHello, p2pHelloFixedHeaderLength)
	fixed := make([]byte, p2pHelloFixedHeaderLength)
	fixed[0] = byte(h.CircuitType) & 0x03
	copy(fixed[1:7], h.SourceID[:])
	fixed[7] = byte(h.HoldTime >> 8)
	fixed[8] = byte(h.HoldTime)
	fixed[11] = h.CircuitID

	var tlvs []byte
	if len(h.AreaAddrs) > 0 {
		tlvs = emitTLV(tlvs, TLVAreaAddr, encodeAreaAddrs(h.AreaAddrs))
	}
	if len(h.ProtoSupported) > 0 {
		tlvs = emitTLV(tlvs, TLVProtoSupported, h.ProtoSupported)
	}
	if len(h.Ipv4IfAddrs) > 0 {
		var v []byte
		for _, a := range h.Ipv4IfAddrs {
			v = append(v, byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
		}
		tlvs = emitTLV(tlvs, TLVIpv4IfAddr, v)
	}
	if h.ThreeWay != nil {
		tlvs = emitTLV(tlvs, tlvP2P3Way, encodeThreeWay(*h.ThreeWay))
	}
	for _, u := range h.Unknown {
		tlvs = emitTLV(tlvs, u.Type, u.Value)
	}

	body := append(fixed, tlvs...)
	pduLen := commonHeaderLength + len(body)
	body[9] = byte(pduLen >> 8)
	body[10] = byte(pduLen)
	return append(hdr, body...)
}
