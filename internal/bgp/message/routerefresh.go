package message

import "encoding/binary"

// RefreshSubtype distinguishes a plain Route-Refresh request from the
// Begin/End-of-RR markers added by Enhanced Route Refresh (RFC 7313).
type RefreshSubtype uint8

const (
	RefreshNormal RefreshSubtype = 0
	RefreshBeginDemarcation RefreshSubtype = 1
	RefreshEndDemarcation   RefreshSubtype = 2
)

// RouteRefresh is the decoded ROUTE-REFRESH message body (RFC 2918,
// RFC 7313 for the subtype byte repurposing the reserved field).
type RouteRefresh struct {
	AFI     uint16
	Subtype RefreshSubtype
	SAFI    uint8
}

// DecodeRouteRefresh parses a ROUTE-REFRESH message body.
func DecodeRouteRefresh(body []byte) (*RouteRefresh, error) {
	if len(body) != 4 {
		return nil, newDecodeError(MessageHeaderError, BadMessageLength, "route-refresh must be 4 bytes")
	}
	return &RouteRefresh{
		AFI:     binary.BigEndian.Uint16(body[0:2]),
		Subtype: RefreshSubtype(body[2]),
		SAFI:    body[3],
	}, nil
}

// Encode serializes the full ROUTE-REFRESH PDU including the common header.
func (r *RouteRefresh) Encode() []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint16(body[0:2], r.AFI)
	body[2] = byte(r.Subtype)
	body[3] = r.SAFI
	return append(EncodeHeader(RouteRefresh, len(body)), body...)
}
