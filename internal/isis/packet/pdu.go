package packet

// PDU is the decoded result of Decode: exactly one of its fields is set,
// selected by the common header's PDU type.
type PDU struct {
	Type     PDUType
	Hello    *Hello
	P2PHello *P2PHelloPDU
	LSP      *LSP
	CSNP     *CSNP
	PSNP     *PSNP
}

// Decode parses a full IS-IS PDU (common header plus PDU-specific body)
// received off the wire, dispatching on the common header's PDU type.
func Decode(raw []byte) (PDU, error) {
	hdr, rest, err := DecodeHeader(raw)
	if err != nil {
		return PDU{}, err
	}
	switch hdr.PDUType {
	case L1Hello, L2Hello:
		level := LevelL1
		if hdr.PDUType == L2Hello {
			level = LevelL2
		}
		h, err := DecodeHello(level, rest)
		if err != nil {
			return PDU{}, err
		}
		return PDU{Type: hdr.PDUType, Hello: &h}, nil
	case P2PHello:
		h, err := DecodeP2PHello(rest)
		if err != nil {
			return PDU{}, err
		}
		return PDU{Type: hdr.PDUType, P2PHello: &h}, nil
	case L1LSP, L2LSP:
		level := LevelL1
		if hdr.PDUType == L2LSP {
			level = LevelL2
		}
		l, err := DecodeLSP(level, rest)
		if err != nil {
			return PDU{}, err
		}
		return PDU{Type: hdr.PDUType, LSP: &l}, nil
	case L1CSNP, L2CSNP:
		level := LevelL1
		if hdr.PDUType == L2CSNP {
			level = LevelL2
		}
		c, err := DecodeCSNP(level, rest)
		if err != nil {
			return PDU{}, err
		}
		return PDU{Type: hdr.PDUType, CSNP: &c}, nil
	case L1PSNP, L2PSNP:
		level := LevelL1
		if hdr.PDUType == L2PSNP {
			level = LevelL2
		}
		p, err := DecodePSNP(level, rest)
		if err != nil {
			return PDU{}, err
		}
		return PDU{Type: hdr.PDUType, PSNP: &p}, nil
	default:
		return PDU{}, newDecodeError("unsupported pdu type")
	}
}
