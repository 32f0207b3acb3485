package packet

// TLVType is the IS-IS TLV type code registry (ISO 10589, RFC 1195,
// RFC 5305, RFC 5308, RFC 7981, RFC 8667).
type TLVType uint8

const (
	TLVAreaAddr          TLVType = 1
	TLVIsNeighbor        TLVType = 6
	TLVPadding           TLVType = 8
	TLVLspEntries        TLVType = 9
	TLVExtIsReach        TLVType = 22
	TLVProtoSupported    TLVType = 129
	TLVIpv4IfAddr        TLVType = 132
	TLVTeRouterID        TLVType = 134
	TLVExtIPReach        TLVType = 135
	TLVHostname          TLVType = 137
	TLVIpv6TeRouterID    TLVType = 140
	TLVIpv6IfAddr        TLVType = 232
	TLVIpv6Reach         TLVType = 236
	TLVRouterCap         TLVType = 242
)

// ExtISReach sub-TLV types (RFC 5305 section 3).
const (
	SubTLVAdminGroup      = 3
	SubTLVMaxLinkBW       = 9
	SubTLVMaxResvBW       = 10
	SubTLVUnresvBW        = 11
	SubTLVTEDefaultMetric = 18
	SubTLVAdjSID          = 31 // RFC 8667 section 2.2.1
)

// Router Capability sub-TLV types (RFC 7981/8667).
const (
	SubTLVSRCap   = 2  // RFC 8667 section 3.1
	SubTLVSRAlgo  = 19 // RFC 8667 section 3.2
	SubTLVSRLB    = 22 // RFC 8667 section 3.3
)

// ExtIPReach sub-TLV types (RFC 8667 section 2.1).
const (
	SubTLVPrefixSID = 3
)

// rawTLV is a scanned type+length+value entry before type-specific parsing.
type rawTLV struct {
	Type  TLVType
	Value []byte
}

// scanTLVs walks a flat TLV stream (used by Hello/LSP/CSNP/PSNP bodies
// alike: every IS-IS PDU's variable part is the same type+length+value
// envelope).
func scanTLVs(b []byte) ([]rawTLV, error) {
	var out []rawTLV
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, newDecodeError("truncated TLV header")
		}
		typ := TLVType(b[0])
		length := int(b[1])
		if len(b) < 2+length {
			return nil, newDecodeError("truncated TLV value")
		}
		out = append(out, rawTLV{Type: typ, Value: b[2 : 2+length]})
		b = b[2+length:]
	}
	return out, nil
}

func emitTLV(out []byte, typ TLVType, value []byte) []byte {
	out = append(out, byte(typ), byte(len(value)))
	return append(out, value...)
}

// UnknownTLV preserves a TLV this package does not specialize, byte-exact,
// so re-emitting a decoded Hello or LSP reproduces the TLVs this package
// does not interpret.
type UnknownTLV struct {
	Type  TLVType
	Value []byte
}
