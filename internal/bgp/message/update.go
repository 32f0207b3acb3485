package message

import (
	"encoding/binary"
	"net/netip"

	"github.com/ridged/ridged/internal/bgp/attr"
)

// PrefixPath pairs an IPv4 NLRI prefix with its optional Add-Path
// identifier (RFC 7911). PathID is zero when Add-Path was not negotiated for
// this AFI/SAFI.
type PrefixPath struct {
	Prefix netip.Prefix
	PathID uint32
}

// Update is the decoded UPDATE message body (RFC 4271 section 4.3).
type Update struct {
	WithdrawnRoutes []PrefixPath
	Attributes      *attr.Bundle
	NLRI            []PrefixPath
}

// DecodeUpdate parses an UPDATE message body. fourOctetASN and addPathIn
// reflect what was negotiated on the OPEN exchange for this session and AFI.
func DecodeUpdate(body []byte, fourOctetASN bool, addPathIn bool) (*Update, error) {
	if len(body) < 2 {
		return nil, newDecodeError(UpdateMessageError, MalformedAttributeList, "update too short")
	}
	withdrawnLen := int(binary.BigEndian.Uint16(body[0:2]))
	rest := body[2:]
	if len(rest) < withdrawnLen {
		return nil, newDecodeError(UpdateMessageError, MalformedAttributeList, "truncated withdrawn routes")
	}
	withdrawn, err := decodeNLRI(rest[:withdrawnLen], addPathIn)
	if err != nil {
		return nil, err
	}
	rest = rest[withdrawnLen:]

	if len(rest) < 2 {
		return nil, newDecodeError(UpdateMessageError, MalformedAttributeList, "truncated attribute length")
	}
	attrLen := int(binary.BigEndian.Uint16(rest[0:2]))
	rest = rest[2:]
	if len(rest) < attrLen {
		return nil, newDecodeError(UpdateMessageError, MalformedAttributeList, "truncated attributes")
	}
	attrsRaw := rest[:attrLen]
	rest = rest[attrLen:]

	bundle, err := attr.Decode(attrsRaw, fourOctetASN)
	if err != nil {
		return nil, newDecodeError(UpdateMessageError, MalformedAttributeList, err.Error())
	}

	nlri, err := decodeNLRI(rest, addPathIn)
	if err != nil {
		return nil, err
	}

	return &Update{WithdrawnRoutes: withdrawn, Attributes: bundle, NLRI: nlri}, nil
}

// decodeNLRI reads a sequence of {[path-id], length-in-bits, prefix-bytes}
// entries, as used for both withdrawn routes and the reachable NLRI field.
func decodeNLRI(raw []byte, addPath bool) ([]PrefixPath, error) {
	var out []PrefixPath
	for len(raw) > 0 {
		var pathID uint32
		if addPath {
			if len(raw) < 4 {
				return nil, newDecodeError(UpdateMessageError, InvalidNetworkField, "truncated add-path identifier")
			}
			pathID = binary.BigEndian.Uint32(raw[0:4])
			raw = raw[4:]
		}
		if len(raw) < 1 {
			return nil, newDecodeError(UpdateMessageError, InvalidNetworkField, "truncated NLRI prefix length")
		}
		bitLen := int(raw[0])
		byteLen := (bitLen + 7) / 8
		if byteLen > 4 {
			return nil, newDecodeError(UpdateMessageError, InvalidNetworkField, "NLRI prefix length too long for IPv4")
		}
		if len(raw) < 1+byteLen {
			return nil, newDecodeError(UpdateMessageError, InvalidNetworkField, "truncated NLRI prefix bytes")
		}
		var addrBytes [4]byte
		copy(addrBytes[:], raw[1:1+byteLen])
		p := netip.PrefixFrom(netip.AddrFrom4(addrBytes), bitLen)
		out = append(out, PrefixPath{Prefix: p, PathID: pathID})
		raw = raw[1+byteLen:]
	}
	return out, nil
}

func encodeNLRI(entries []PrefixPath, addPath bool) []byte {
	var out []byte
	for _, e := range entries {
		if addPath {
			v := make([]byte, 4)
			binary.BigEndian.PutUint32(v, e.PathID)
			out = append(out, v...)
		}
		bitLen := e.Prefix.Bits()
		byteLen := (bitLen + 7) / 8
		out = append(out, byte(bitLen))
		addrBytes := e.Prefix.Addr().As4()
		out = append(out, addrBytes[:byteLen]...)
	}
	return out
}

// Encode serializes the full UPDATE PDU including the common header. Since
// this package does not retain the original flag byte for every well-known
// attribute, Encode is only used for locally originated or locally rewritten
// updates, never to echo a received one byte-exact.
func (u *Update) Encode(fourOctetASN bool, addPathOut bool) []byte {
	withdrawn := encodeNLRI(u.WithdrawnRoutes, addPathOut)
	attrsRaw := attr.Encode(u.Attributes, fourOctetASN)
	nlri := encodeNLRI(u.NLRI, addPathOut)

	body := make([]byte, 0, 4+len(withdrawn)+len(attrsRaw)+len(nlri))
	wl := make([]byte, 2)
	binary.BigEndian.PutUint16(wl, uint16(len(withdrawn)))
	body = append(body, wl...)
	body = append(body, withdrawn...)
	al := make([]byte, 2)
	binary.BigEndian.PutUint16(al, uint16(len(attrsRaw)))
	body = append(body, al...)
	body = append(body, attrsRaw...)
	body = append(body, nlri...)

	return append(EncodeHeader(Update, len(body)), body...)
}
