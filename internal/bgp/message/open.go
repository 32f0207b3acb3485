package message

import "encoding/binary"

const runningVersion = 4

// Open is the decoded OPEN message body.
type Open struct {
	Version       uint8
	MyAS          uint16 // 23456 ("AS_TRANS") when the real ASN rides the 4-octet capability
	HoldTime      uint16
	Identifier    uint32
	Capabilities  []Capability
}

// DecodeOpen parses an OPEN message body (RFC 4271 section 4.2).
func DecodeOpen(body []byte) (*Open, error) {
	if len(body) < 10 {
		return nil, newDecodeError(MessageHeaderError, BadMessageLength, "open too short")
	}
	o := &Open{
		Version:    body[0],
		MyAS:       binary.BigEndian.Uint16(body[1:3]),
		HoldTime:   binary.BigEndian.Uint16(body[3:5]),
		Identifier: binary.BigEndian.Uint32(body[5:9]),
	}
	if o.Version != runningVersion {
		return nil, newDecodeError(OpenMessageError, UnsupportedVersionNumber, "unsupported BGP version")
	}
	if o.HoldTime == 1 || o.HoldTime == 2 {
		return nil, newDecodeError(OpenMessageError, UnacceptableHoldTime, "hold time between 1 and 2 seconds")
	}
	optLen := int(body[9])
	rest := body[10:]
	if len(rest) < optLen {
		return nil, newDecodeError(MessageHeaderError, BadMessageLength, "truncated optional parameters")
	}
	rest = rest[:optLen]
	for len(rest) > 0 {
		if len(rest) < 2 {
			return nil, newDecodeError(OpenMessageError, UnsupportedOptionalParam, "truncated optional parameter")
		}
		paramType := rest[0]
		paramLen := int(rest[1])
		if len(rest) < 2+paramLen {
			return nil, newDecodeError(OpenMessageError, UnsupportedOptionalParam, "truncated optional parameter value")
		}
		value := rest[2 : 2+paramLen]
		if paramType == 2 { // Capabilities, RFC 5492
			caps, err := decodeCapabilities(value)
			if err != nil {
				return nil, err
			}
			o.Capabilities = append(o.Capabilities, caps...)
		}
		rest = rest[2+paramLen:]
	}
	return o, nil
}

// Encode serializes the full OPEN PDU including the common header.
func (o *Open) Encode() []byte {
	optParams := capabilityOptParam(o.Capabilities)
	body := make([]byte, 10+len(optParams))
	body[0] = o.Version
	binary.BigEndian.PutUint16(body[1:3], o.MyAS)
	binary.BigEndian.PutUint16(body[3:5], o.HoldTime)
	binary.BigEndian.PutUint32(body[5:9], o.Identifier)
	body[9] = byte(len(optParams))
	copy(body[10:], optParams)
	return append(EncodeHeader(Open, len(body)), body...)
}

// Capability returns the first capability of the given code, if present.
func (o *Open) Capability(code CapabilityCode) (Capability, bool) {
	for _, c := range o.Capabilities {
		if c.Code == code {
			return c, true
		}
	}
	return Capability{}, false
}

// FourOctetASN returns the effective peer ASN: the capability value if the
// 4-octet ASN capability was advertised, otherwise the 2-octet MyAS field.
func (o *Open) FourOctetASN() uint32 {
	if c, ok := o.Capability(CapFourOctetASN); ok {
		return c.FourOctetASN
	}
	return uint32(o.MyAS)
}
