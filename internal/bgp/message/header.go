// Package message implements bit-exact decode and encode of BGP-4 PDUs per
// RFC 4271: header, open, update, and notification, down to full
// attribute-specific decode.
package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Type identifies a BGP message type carried in the common header.
type Type uint8

const (
	Open         Type = 1
	Update       Type = 2
	Notification Type = 3
	Keepalive    Type = 4
	RouteRefresh Type = 5
)

func (t Type) String() string {
	switch t {
	case Open:
		return "OPEN"
	case Update:
		return "UPDATE"
	case Notification:
		return "NOTIFICATION"
	case Keepalive:
		return "KEEPALIVE"
	case RouteRefresh:
		return "ROUTE-REFRESH"
	default:
		return fmt.Sprintf("TYPE(%d)", t)
	}
}

const (
	MarkerLength = 16
	HeaderLength = MarkerLength + 2 /* length */ + 1 /* type */
	MinLength    = 19
	MaxLength    = 4096
)

// DecodeError is returned by every decoder in this package and carries
// enough to build the Notification the FSM must send in response (RFC 4271
// section 6, parse-error handling).
type DecodeError struct {
	Code    NotificationCode
	Subcode uint8
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bgp: decode error code=%d subcode=%d: %s", e.Code, e.Subcode, e.Reason)
}

func newDecodeError(code NotificationCode, subcode uint8, reason string) error {
	return &DecodeError{Code: code, Subcode: subcode, Reason: reason}
}

// Header is the 19-byte common message header.
type Header struct {
	Length int
	Type   Type
}

// Marker returns the all-ones BGP marker.
func Marker() [MarkerLength]byte {
	var m [MarkerLength]byte
	for i := range m {
		m[i] = 0xff
	}
	return m
}

// DecodeHeader parses the 19-byte header. raw must be exactly HeaderLength
// bytes; the caller (the socket reader task) is responsible for pulling
// exactly that many bytes off the stream first.
func DecodeHeader(raw []byte) (Header, error) {
	if len(raw) != HeaderLength {
		return Header{}, newDecodeError(MessageHeaderError, BadMessageLength, "short header")
	}
	want := Marker()
	if !bytes.Equal(raw[:MarkerLength], want[:]) {
		return Header{}, newDecodeError(MessageHeaderError, ConnectionNotSynchronized, "bad marker")
	}
	length := int(binary.BigEndian.Uint16(raw[MarkerLength : MarkerLength+2]))
	if length < MinLength || length > MaxLength {
		return Header{}, newDecodeError(MessageHeaderError, BadMessageLength, "length out of range")
	}
	return Header{Length: length, Type: Type(raw[MarkerLength+2])}, nil
}

// EncodeHeader writes the 19-byte header for a message whose body (excluding
// the header) is bodyLen bytes long.
func EncodeHeader(t Type, bodyLen int) []byte {
	m := Marker()
	buf := make([]byte, HeaderLength)
	copy(buf, m[:])
	binary.BigEndian.PutUint16(buf[MarkerLength:], uint16(HeaderLength+bodyLen))
	buf[MarkerLength+2] = byte(t)
	return buf
}
