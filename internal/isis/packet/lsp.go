package packet

import "fmt"

// LSPTypes is the single-byte type/attachment/overload bitfield at the end
// of the LSP fixed header (ISO 10589 section 9.9): is_type(2)/ol(1)/
// att(4)/p(1).
type LSPTypes struct {
	PartitionRepair bool
	AttError        bool
	AttExpense      bool
	AttDelay        bool
	AttDefault      bool
	Overload        bool
	ISType          Level
}

func decodeLSPTypes(b byte) LSPTypes {
	return LSPTypes{
		PartitionRepair: b&0x80 != 0,
		AttError:        b&0x40 != 0,
		AttExpense:      b&0x20 != 0,
		AttDelay:        b&0x10 != 0,
		AttDefault:      b&0x08 != 0,
		Overload:        b&0x04 != 0,
		ISType:          Level(b & 0x03),
	}
}

func encodeLSPTypes(t LSPTypes) byte {
	var b byte
	if t.PartitionRepair {
		b |= 0x80
	}
	if t.AttError {
		b |= 0x40
	}
	if t.AttExpense {
		b |= 0x20
	}
	if t.AttDelay {
		b |= 0x10
	}
	if t.AttDefault {
		b |= 0x08
	}
	if t.Overload {
		b |= 0x04
	}
	b |= byte(t.ISType) & 0x03
	return b
}

// ExtISReach is a single neighbor entry of the Extended IS Reachability TLV
// (RFC 5305 section 3): a 24-bit metric plus an opaque sub-TLV blob (SR
// Adjacency-SID etc., RFC 8667 section 2.2.1) that callers decode further
// by type as needed.
type ExtISReach struct {
	Neighbor LSPID // Fragment is always 0 here: ISO 10589 neighbor IDs have no fragment
	Metric   uint32
	SubTLVs  []byte
}

func decodeExtISReach(b []byte) (ExtISReach, error) {
	if len(b) < 11 {
		return ExtISReach{}, newDecodeError("short ext-is-reach entry")
	}
	n := ExtISReach{
		Metric: uint32(b[7])<<16 | uint32(b[8])<<8 | uint32(b[9]),
	}
	copy(n.Neighbor.SystemID[:], b[0:6])
	n.Neighbor.PseudonodeID = b[6]
	subLen := int(b[10])
	if len(b) < 11+subLen {
		return ExtISReach{}, newDecodeError("short ext-is-reach sub-tlvs")
	}
	n.SubTLVs = append([]byte(nil), b[11:11+subLen]...)
	return n, nil
}

func encodeExtISReach(n ExtISReach) []byte {
	out := make([]byte, 0, 11+len(n.SubTLVs))
	out = append(out, n.Neighbor.SystemID[:]...)
	out = append(out, n.Neighbor.PseudonodeID)
	out = append(out, byte(n.Metric>>16), byte(n.Metric>>8), byte(n.Metric))
	out = append(out, byte(len(n.SubTLVs)))
	out = append(out, n.SubTLVs...)
	return out
}

// ExtIPReach is a single prefix entry of the Extended IP Reachability TLV
// (RFC 5305 section 4) or IPv6 Reachability TLV (RFC 5308 section 2); the
// two share the same metric+flags+prefix-length+prefix shape and differ
// only in address width and an extra up/down bit encoding for v6.
type ExtIPReach struct {
	Metric     uint32
	Up         bool // false == "down", i.e. unreachable/withdrawn direction marker
	External   bool
	PrefixLen  uint8
	Prefix     []byte // big-endian, ceil(PrefixLen/8) bytes
	SubTLVs    []byte
	HasSubTLVs bool
}

func decodeExtIPReach(b []byte, v6 bool) (ExtIPReach, int, error) {
	if len(b) < 5 {
		return ExtIPReach{}, 0, newDecodeError("short ip-reach entry")
	}
	e := ExtIPReach{Metric: beU32(b[0:4])}
	flags := b[4]
	e.Up = flags&0x80 == 0
	e.HasSubTLVs = flags&0x40 != 0
	if v6 {
		e.External = flags&0x20 != 0
	}
	e.PrefixLen = b[5]
	nbytes := (int(e.PrefixLen) + 7) / 8
	off := 6
	if len(b) < off+nbytes {
		return ExtIPReach{}, 0, newDecodeError("short ip-reach prefix")
	}
	e.Prefix = append([]byte(nil), b[off:off+nbytes]...)
	off += nbytes
	if e.HasSubTLVs {
		if len(b) < off+1 {
			return ExtIPReach{}, 0, newDecodeError("short ip-reach sub-tlv length")
		}
		subLen := int(b[off])
		off++
		if len(b) < off+subLen {
			return ExtIPReach{}, 0, newDecodeError("short ip-reach sub-tlvs")
		}
		e.SubTLVs = append([]byte(nil), b[off:off+subLen]...)
		off += subLen
	}
	return e, off, nil
}

func encodeExtIPReach(e ExtIPReach, v6 bool) []byte {
	out := make([]byte, 0, 16)
	out = append(out, byte(e.Metric>>24), byte(e.Metric>>16), byte(e.Metric>>8), byte(e.Metric))
	var flags byte
	if !e.Up {
		flags |= 0x80
	}
	if len(e.SubTLVs) > 0 {
		flags |= 0x40
		e.HasSubTLVs = true
	}
	if v6 && e.External {
		flags |= 0x20
	}
	out = append(out, flags, e.PrefixLen)
	out = append(out, e.Prefix...)
	if e.HasSubTLVs {
		out = append(out, byte(len(e.SubTLVs)))
		out = append(out, e.SubTLVs...)
	}
	return out
}

// SRGB is a Segment Routing Global Block: the contiguous MPLS label range a
// system advertised in its Router Capability TLV's SR-Capability sub-TLV
// (RFC 8667 section 3.1). A remote system's Prefix-SID index is only
// meaningful combined with this range.
type SRGB struct {
	Base uint32
	Size uint32
}

// decodeRouterCapSRGB extracts the first SID/Label range out of a Router
// Capability TLV's SR-Capability sub-TLV. Real deployments occasionally
// advertise more than one range; only the first is kept, which is enough
// for every SRGB a single contiguous block covers.
func decodeRouterCapSRGB(b []byte) (SRGB, bool) {
	if len(b) < 5 {
		return SRGB{}, false
	}
	subTLVs, err := scanTLVs(b[5:]) // router-id(4) + flags(1) precede the sub-TLVs
	if err != nil {
		return SRGB{}, false
	}
	for _, t := range subTLVs {
		if t.Type != SubTLVSRCap {
			continue
		}
		v := t.Value
		if len(v) < 9 { // flags(1) + range_size(3) + sid-label subtlv type(1)+len(1)+label(3)
			continue
		}
		rangeSize := uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3])
		label := uint32(v[6])<<16 | uint32(v[7])<<8 | uint32(v[8])
		return SRGB{Base: label, Size: rangeSize}, true
	}
	return SRGB{}, false
}

// encodeRouterCapTLV builds a Router Capability TLV advertising srgb as this
// system's SR-Capability (single contiguous range, no algorithm/SRLB
// sub-TLVs).
func encodeRouterCapTLV(srgb SRGB) []byte {
	out := make([]byte, 5) // router-id left zero: not separately tracked from the TE router-id
	subTLV := []byte{
		0, // SR-Capability flags (I/V bits unset: MPLS-only, no strict SPF)
		byte(srgb.Size >> 16), byte(srgb.Size >> 8), byte(srgb.Size),
		1, 3, // nested SID/Label sub-sub-TLV: type=1, length=3
		byte(srgb.Base >> 16), byte(srgb.Base >> 8), byte(srgb.Base),
	}
	return emitTLV(out, SubTLVSRCap, subTLV)
}

// PrefixSIDIndex extracts the SID index out of an ExtIPReach entry's
// sub-TLVs (RFC 8667 section 2.1, Prefix-SID sub-TLV), reporting false if
// none is present or it carries an absolute label (F-flag set) rather than
// an SRGB-relative index.
func PrefixSIDIndex(subTLVs []byte) (uint32, bool) {
	if len(subTLVs) == 0 {
		return 0, false
	}
	tlvs, err := scanTLVs(subTLVs)
	if err != nil {
		return 0, false
	}
	for _, t := range tlvs {
		if t.Type != SubTLVPrefixSID {
			continue
		}
		if len(t.Value) < 6 || t.Value[0]&0x20 != 0 { // flags(1)+algo(1)+4-byte index
			continue
		}
		return beU32(t.Value[2:6]), true
	}
	return 0, false
}

// LSPEntry is one 16-byte row of the LSP Entries TLV used in CSNP/PSNP
// summaries (ISO 10589 section 9.10/9.11).
type LSPEntry struct {
	RemainingLifetime uint16
	LSPID             LSPID
	SeqNumber         uint32
	Checksum          uint16
}

func decodeLSPEntry(b []byte) (LSPEntry, error) {
	if len(b) < 16 {
		return LSPEntry{}, newDecodeError("short lsp-entry")
	}
	return LSPEntry{
		RemainingLifetime: beU16(b[0:2]),
		LSPID:             decodeLSPID(b[2:10]),
		SeqNumber:         beU32(b[10:14]),
		Checksum:          beU16(b[14:16]),
	}, nil
}

func encodeLSPEntry(e LSPEntry) []byte {
	out := make([]byte, 16)
	out[0] = byte(e.RemainingLifetime >> 8)
	out[1] = byte(e.RemainingLifetime)
	copy(out[2:10], encodeLSPID(e.LSPID))
	out[10] = byte(e.SeqNumber >> 24)
	out[11] = byte(e.SeqNumber >> 16)
	out[12] = byte(e.SeqNumber >> 8)
	out[13] = byte(e.SeqNumber)
	out[14] = byte(e.Checksum >> 8)
	out[15] = byte(e.Checksum)
	return out
}

// LSP is a fully decoded Link State PDU.
type LSP struct {
	Level             Level
	RemainingLifetime uint16
	ID                LSPID
	SeqNumber         uint32
	Checksum          uint16
	Types             LSPTypes

	AreaAddrs     [][]byte
	ExtISReaches  []ExtISReach
	ProtoSupported []uint8
	Ipv4IfAddrs   []uint32
	TeRouterID    uint32
	ExtIPReaches  []ExtIPReach
	Ipv6Reaches   []ExtIPReach
	Hostname      string
	RouterCapSRGB *SRGB
	Unknown       []UnknownTLV
}

const lspFixedHeaderLength = 19

// DecodeLSP decodes the PDU-specific part of an LSP, after the common
// header has already been stripped by DecodeHeader.
func DecodeLSP(level Level, b []byte) (LSP, error) {
	if len(b) < lspFixedHeaderLength {
		return LSP{}, newDecodeError("short lsp fixed header")
	}
	l := LSP{
		Level:             level,
		RemainingLifetime: beU16(b[2:4]),
		ID:                decodeLSPID(b[4:12]),
		SeqNumber:         beU32(b[12:16]),
		Checksum:          beU16(b[16:18]),
		Types:             decodeLSPTypes(b[18]),
	}
	tlvs, err := scanTLVs(b[lspFixedHeaderLength:])
	if err != nil {
		return LSP{}, err
	}
	for _, t := range tlvs {
		switch t.Type {
		case TLVAreaAddr:
			areas, err := decodeAreaAddrs(t.Value)
			if err != nil {
				return LSP{}, err
			}
			l.AreaAddrs = append(l.AreaAddrs, areas...)
		case TLVExtIsReach:
			for rest := t.Value; len(rest) > 0; {
				n, err := decodeExtISReach(rest)
				if err != nil {
					return LSP{}, err
				}
				l.ExtISReaches = append(l.ExtISReaches, n)
				rest = rest[11+len(n.SubTLVs):]
			}
		case TLVProtoSupported:
			l.ProtoSupported = append(l.ProtoSupported, t.Value...)
		case TLVIpv4IfAddr:
			for i := 0; i+4 <= len(t.Value); i += 4 {
				l.Ipv4IfAddrs = append(l.Ipv4IfAddrs, beU32(t.Value[i:i+4]))
			}
		case TLVTeRouterID:
			if len(t.Value) >= 4 {
				l.TeRouterID = beU32(t.Value[0:4])
			}
		case TLVExtIPReach:
			for rest := t.Value; len(rest) > 0; {
				e, n, err := decodeExtIPReach(rest, false)
				if err != nil {
					return LSP{}, err
				}
				l.ExtIPReaches = append(l.ExtIPReaches, e)
				rest = rest[n:]
			}
		case TLVIpv6Reach:
			for rest := t.Value; len(rest) > 0; {
				e, n, err := decodeExtIPReach(rest, true)
				if err != nil {
					return LSP{}, err
				}
				l.Ipv6Reaches = append(l.Ipv6Reaches, e)
				rest = rest[n:]
			}
		case TLVHostname:
			l.Hostname = string(t.Value)
		case TLVRouterCap:
			if srgb, ok := decodeRouterCapSRGB(t.Value); ok {
				l.RouterCapSRGB = &srgb
			} else {
				l.Unknown = append(l.Unknown, UnknownTLV{Type: t.Type, Value: append([]byte(nil), t.Value...)})
			}
		case TLVPadding:
			// padding carries no information; it only exists to pad a PDU
			// up to its interface MTU for MTU mismatch detection
		default:
			l.Unknown = append(l.Unknown, UnknownTLV{Type: t.Type, Value: append([]byte(nil), t.Value...)})
		}
	}
	return l, nil
}

func decodeAreaAddrs(b []byte) ([][]byte, error) {
	var out [][]byte
	for len(b) > 0 {
		n := int(b[0])
		if len(b) < 1+n {
			return nil, newDecodeError("short area address")
		}
		out = append(out, append([]byte(nil), b[1:1+n]...))
		b = b[1+n:]
	}
	return out, nil
}

func encodeAreaAddrs(areas [][]byte) []byte {
	var out []byte
	for _, a := range areas {
		out = append(out, byte(len(a)))
		out = append(out, a...)
	}
	return out
}

// Encode serializes the LSP and stamps its PDU length and checksum fields:
// length and checksum are always computed from the final body, never
// trusted from a caller-populated field.
func (l *LSP) Encode() []byte {
	pduType := L1LSP
	if l.Level == LevelL2 {
		pduType = L2LSP
	}
	hdr := EncodeHeader(pduType, lspFixedHeaderLength)

	fixed := make([]byte, lspFixedHeaderLength)
	// bytes [0:2] (pdu_len) and [16:18] (checksum) are stamped last
	fixed[2] = byte(l.RemainingLifetime >> 8)
	fixed[3] = byte(l.RemainingLifetime)
	copy(fixed[4:12], encodeLSPID(l.ID))
	fixed[12] = byte(l.SeqNumber >> 24)
	fixed[13] = byte(l.SeqNumber >> 16)
	fixed[14] = byte(l.SeqNumber >> 8)
	fixed[15] = byte(l.SeqNumber)
	fixed[18] = encodeLSPTypes(l.Types)

	var tlvs []byte
	if len(l.AreaAddrs) > 0 {
		tlvs = emitTLV(tlvs, TLVAreaAddr, encodeAreaAddrs(l.AreaAddrs))
	}
	if len(l.ExtISReaches) > 0 {
		var v []byte
		for _, n := range l.ExtISReaches {
			v = append(v, encodeExtISReach(n)...)
		}
		tlvs = emitTLV(tlvs, TLVExtIsReach, v)
	}
	if len(l.ProtoSupported) > 0 {
		tlvs = emitTLV(tlvs, TLVProtoSupported, l.ProtoSupported)
	}
	if len(l.Ipv4IfAddrs) > 0 {
		var v []byte
		for _, a := range l.Ipv4IfAddrs {
			v = append(v, byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
		}
		tlvs = emitTLV(tlvs, TLVIpv4IfAddr, v)
	}
	if l.TeRouterID != 0 {
		a := l.TeRouterID
		tlvs = emitTLV(tlvs, TLVTeRouterID, []byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)})
	}
	if len(l.ExtIPReaches) > 0 {
		var v []byte
		for _, e := range l.ExtIPReaches {
			v = append(v, encodeExtIPReach(e, false)...)
		}
		tlvs = emitTLV(tlvs, TLVExtIPReach, v)
	}
	if len(l.Ipv6Reaches) > 0 {
		var v []byte
		for _, e := range l.Ipv6Reaches {
			v = append(v, encodeExtIPReach(e, true)...)
		}
		tlvs = emitTLV(tlvs, TLVIpv6Reach, v)
	}
	if l.Hostname != "" {
		tlvs = emitTLV(tlvs, TLVHostname, []byte(l.Hostname))
	}
	if l.RouterCapSRGB != nil {
		tlvs = emitTLV(tlvs, TLVRouterCap, encodeRouterCapTLV(*l.RouterCapSRGB))
	}
	for _, u := range l.Unknown {
		tlvs = emitTLV(tlvs, u.Type, u.Value)
	}

	body := append(fixed, tlvs...)
	pduLen := commonHeaderLength + len(body)
	body[0] = byte(pduLen >> 8)
	body[1] = byte(pduLen)

	out := append(hdr, body...)
	stampChecksum(out)
	return out
}

// checksumCoveredOffset is where, within the full emitted buffer, the
// checksum-covered region begins: everything from the LSP ID onward, i.e.
// the common header (8) plus pdu_len (2) and remaining_lifetime (2).
// ISO 10589 section 7.3.11 excludes remaining_lifetime from the checksum so
// that a relay point can re-stamp TTL without invalidating the checksum.
const checksumCoveredOffset = commonHeaderLength + 4

// checksumFieldOffset is where the two checksum bytes sit within the full
// emitted buffer.
const checksumFieldOffset = commonHeaderLength + 16

// stampChecksum computes the ISO Fletcher checksum (RFC 905 Annex B, ISO
// 8473 Annex C) over the checksum-covered region and writes it into the
// buffer in place. The C0/C1 running sums plus the x/y placement solve are
// the standard public algorithm shared by every OSI and IS-IS
// implementation (see DESIGN.md).
func stampChecksum(buf []byte) {
	region := buf[checksumCoveredOffset:]
	checksumOffset := checksumFieldOffset - checksumCoveredOffset
	region[checksumOffset] = 0
	region[checksumOffset+1] = 0

	var c0, c1 int
	for _, b := range region {
		c0 = (c0 + int(b)) % 255
		c1 = (c1 + c0) % 255
	}

	length := len(region)
	mul := (length - checksumOffset) * c0
	x := (mul - c0 - c1) % 255
	if x <= 0 {
		x += 255
	}
	y := 510 - c0 - x
	if y > 255 {
		y -= 255
	}
	region[checksumOffset] = byte(x)
	region[checksumOffset+1] = byte(y)
}

// VerifyChecksum recomputes the Fletcher checksum over buf's covered region
// and reports whether it matches the stamped value, per the standard OSI
// verification rule: checksumming the region including the checksum field
// itself yields (0,0) iff the checksum is valid.
func VerifyChecksum(buf []byte) bool {
	if len(buf) < checksumFieldOffset+2 {
		return false
	}
	region := buf[checksumCoveredOffset:]
	var c0, c1 int
	for _, b := range region {
		c0 = (c0 + int(b)) % 255
		c1 = (c1 + c0) % 255
	}
	return c0 == 0 && c1 == 0
}

func (l LSP) String() string {
	return fmt.Sprintf("LSP{id=%s seq=%d lifetime=%d}", l.ID, l.SeqNumber, l.RemainingLifetime)
}
