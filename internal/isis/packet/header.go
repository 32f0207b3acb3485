// Package packet implements bit-exact decode and encode of IS-IS PDUs
// (ISO 10589, RFC 1195, RFC 5305, RFC 5308, RFC 8667). Every decoder here
// returns a plain (T, error). In Hello and LSP decoding, every TLV this
// package does not specialize is preserved byte-for-byte via an Unknown
// variant; CSNP and PSNP decoding keeps only LSP Entries TLVs, and a Router
// Capability TLV carrying an SR-Capability is kept only as its decoded SRGB.
package packet

import (
	"encoding/binary"
	"fmt"
)

const discriminator = 0x83

// PDUType identifies one of the nine IS-IS PDU kinds carried in the common
// header (ISO 10589 section 9.5).
type PDUType uint8

const (
	L1Hello PDUType = 15
	L2Hello PDUType = 16
	P2PHello PDUType = 17
	L1LSP    PDUType = 18
	L2LSP    PDUType = 20
	L1CSNP   PDUType = 24
	L2CSNP   PDUType = 25
	L1PSNP   PDUType = 26
	L2PSNP   PDUType = 27
)

func (t PDUType) String() string {
	switch t {
	case L1Hello:
		return "L1-Hello"
	case L2Hello:
		return "L2-Hello"
	case P2PHello:
		return "P2P-Hello"
	case L1LSP:
		return "L1-LSP"
	case L2LSP:
		return "L2-LSP"
	case L1CSNP:
		return "L1-CSNP"
	case L2CSNP:
		return "L2-CSNP"
	case L1PSNP:
		return "L1-PSNP"
	case L2PSNP:
		return "L2-PSNP"
	default:
		return fmt.Sprintf("PDUType(%d)", t)
	}
}

// Level selects L1, L2, or both.
type Level uint8

const (
	LevelL1   Level = 1
	LevelL2   Level = 2
	LevelL1L2 Level = 3
)

// SystemID is the 6-byte IS-IS system identifier.
type SystemID [6]byte

func (s SystemID) String() string {
	return fmt.Sprintf("%02x%02x.%02x%02x.%02x%02x", s[0], s[1], s[2], s[3], s[4], s[5])
}

// LSPID is a SystemID plus pseudonode number and LSP fragment number
// (ISO 10589 section 9.9).
type LSPID struct {
	SystemID     SystemID
	PseudonodeID uint8
	Fragment     uint8
}

func (l LSPID) String() string {
	return fmt.Sprintf("%s.%02x-%02x", l.SystemID, l.PseudonodeID, l.Fragment)
}

func decodeLSPID(b []byte) LSPID {
	var id LSPID
	copy(id.SystemID[:], b[0:6])
	id.PseudonodeID = b[6]
	id.Fragment = b[7]
	return id
}

func encodeLSPID(id LSPID) []byte {
	out := make([]byte, 8)
	copy(out[0:6], id.SystemID[:])
	out[6] = id.PseudonodeID
	out[7] = id.Fragment
	return out
}

// DecodeError mirrors the BGP package's typed decode error, carrying enough
// context to log and bump a drop counter.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "isis: " + e.Reason }

func newDecodeError(reason string) error { return &DecodeError{Reason: reason} }

// Header is the fixed 8-byte IS-IS common header preceding the PDU-specific
// fixed header.
type Header struct {
	IDLength       uint8
	PDUType        PDUType
	Version        uint8
	MaxAreaAddress uint8
}

const commonHeaderLength = 8

// DecodeHeader parses the 8-byte common header.
func DecodeHeader(raw []byte) (Header, []byte, error) {
	if len(raw) < commonHeaderLength {
		return Header{}, nil, newDecodeError("short common header")
	}
	if raw[0] != discriminator {
		return Header{}, nil, newDecodeError("bad discriminator")
	}
	h := Header{
		IDLength:       raw[3],
		PDUType:        PDUType(raw[4] & 0x1f),
		Version:        raw[5],
		MaxAreaAddress: raw[7],
	}
	return h, raw[commonHeaderLength:], nil
}

// EncodeHeader writes the 8-byte common header. lengthIndicator is the
// PDU-specific fixed-header length that follows (ISO 10589's
// length_indicator field).
func EncodeHeader(pduType PDUType, lengthIndicator uint8) []byte {
	return []byte{
		discriminator,
		lengthIndicator,
		1, // id_extension
		0, // id_length: 0 means "use the default 6-byte system ID"
		byte(pduType),
		1, // version
		0, // reserved
		0, // max area addresses: 0 means "use the default of 3"
	}
}

func beU16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func beU32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
