package message

import "encoding/binary"

// CapabilityCode identifies a BGP OPEN capability (RFC 5492 and successors).
type CapabilityCode uint8

const (
	CapMultiProtocol        CapabilityCode = 1
	CapRouteRefresh         CapabilityCode = 2
	CapExtendedMessage      CapabilityCode = 6
	CapGracefulRestart      CapabilityCode = 64
	CapFourOctetASN         CapabilityCode = 65
	CapAddPath              CapabilityCode = 69
	CapEnhancedRouteRefresh CapabilityCode = 70
	CapLongLivedGR          CapabilityCode = 71
	CapFQDN                 CapabilityCode = 73
	CapSoftwareVersion      CapabilityCode = 77
)

// AddPathMode is the per-AFI/SAFI direction negotiated by CapAddPath.
type AddPathMode uint8

const (
	AddPathReceive AddPathMode = 1
	AddPathSend    AddPathMode = 2
	AddPathBoth    AddPathMode = 3
)

// AFISAFI identifies an address family / subsequent address family pair.
type AFISAFI struct {
	AFI  uint16
	SAFI uint8
}

// Capability is a single decoded OPEN optional-parameter capability TLV.
// Unknown capabilities are preserved by code+raw value so re-encoding an
// Open built from a decoded one is byte-exact, the same unknown-TLV
// preservation rule applied here to capabilities.
type Capability struct {
	Code CapabilityCode
	Raw  []byte

	MultiProtocol   *AFISAFI
	FourOctetASN    uint32
	GracefulRestart *GracefulRestartCap
	LongLivedGR     []LLGRAFEntry
	AddPath         []AddPathEntry
	FQDN            *FQDNCap
}

// GracefulRestartCap is the decoded Graceful Restart capability value
// (RFC 4724).
type GracefulRestartCap struct {
	RestartFlag  bool
	RestartTime  uint16
	AFs          []GRAFEntry
}

// GRAFEntry is one per-AFI/SAFI entry of the Graceful Restart capability.
type GRAFEntry struct {
	AFISAFI
	Forwarding bool
}

// LLGRAFEntry is one per-AFI/SAFI entry of the Long-Lived Graceful Restart
// capability (draft-ietf-idr-long-lived-gr).
type LLGRAFEntry struct {
	AFISAFI
	Forwarding bool
	StaleTime  uint32 // 24-bit field
}

// AddPathEntry is one per-AFI/SAFI entry of the Add-Path capability.
type AddPathEntry struct {
	AFISAFI
	Mode AddPathMode
}

// FQDNCap is the decoded FQDN capability (used for IS-IS-style hostname
// display; carried by BGP too).
type FQDNCap struct {
	HostName   string
	DomainName string
}

func decodeCapabilities(raw []byte) ([]Capability, error) {
	var caps []Capability
	for len(raw) > 0 {
		if len(raw) < 2 {
			return nil, newDecodeError(OpenMessageError, UnsupportedOptionalParam, "truncated capability")
		}
		code := CapabilityCode(raw[0])
		length := int(raw[1])
		if len(raw) < 2+length {
			return nil, newDecodeError(OpenMessageError, UnsupportedOptionalParam, "truncated capability value")
		}
		value := raw[2 : 2+length]
		c := Capability{Code: code, Raw: append([]byte(nil), value...)}
		switch code {
		case CapMultiProtocol:
			if length == 4 {
				afi := binary.BigEndian.Uint16(value[0:2])
				safi := value[3]
				c.MultiProtocol = &AFISAFI{AFI: afi, SAFI: safi}
			}
		case CapFourOctetASN:
			if length == 4 {
				c.FourOctetASN = binary.BigEndian.Uint32(value)
			}
		case CapGracefulRestart:
			if length >= 2 {
				flagsAndTime := binary.BigEndian.Uint16(value[0:2])
				gr := &GracefulRestartCap{
					RestartFlag: flagsAndTime&0x8000 != 0,
					RestartTime: flagsAndTime & 0x0fff,
				}
				for i := 2; i+4 <= length; i += 4 {
					gr.AFs = append(gr.AFs, GRAFEntry{
						AFISAFI:    AFISAFI{AFI: binary.BigEndian.Uint16(value[i : i+2]), SAFI: value[i+2]},
						Forwarding: value[i+3]&0x80 != 0,
					})
				}
				c.GracefulRestart = gr
			}
		case CapLongLivedGR:
			for i := 0; i+7 <= length; i += 7 {
				entry := value[i : i+7]
				stale := uint32(entry[4])<<16 | uint32(entry[5])<<8 | uint32(entry[6])
				c.LongLivedGR = append(c.LongLivedGR, LLGRAFEntry{
					AFISAFI:    AFISAFI{AFI: binary.BigEndian.Uint16(entry[0:2]), SAFI: entry[2]},
					Forwarding: entry[3]&0x80 != 0,
					StaleTime:  stale & 0x00ffffff,
				})
			}
		case CapAddPath:
			for i := 0; i+4 <= length; i += 4 {
				entry := value[i : i+4]
				c.AddPath = append(c.AddPath, AddPathEntry{
					AFISAFI: AFISAFI{AFI: binary.BigEndian.Uint16(entry[0:2]), SAFI: entry[2]},
					Mode:    AddPathMode(entry[3]),
				})
			}
		case CapFQDN:
			if length >= 1 {
				hnLen := int(value[0])
				if 1+hnLen <= length {
					host := string(value[1 : 1+hnLen])
					domain := ""
					if 1+hnLen < length {
						dnLen := int(value[1+hnLen])
						if 1+hnLen+1+dnLen <= length {
							domain = string(value[1+hnLen+1 : 1+hnLen+1+dnLen])
						}
					}
					c.FQDN = &FQDNCap{HostName: host, DomainName: domain}
				}
			}
		}
		caps = append(caps, c)
		raw = raw[2+length:]
	}
	return caps, nil
}

func encodeCapabilities(caps []Capability) []byte {
	var out []byte
	for _, c := range caps {
		value := c.Raw
		switch c.Code {
		case CapMultiProtocol:
			if c.MultiProtocol != nil {
				v := make([]byte, 4)
				binary.BigEndian.PutUint16(v, c.MultiProtocol.AFI)
				v[3] = c.MultiProtocol.SAFI
				value = v
			}
		case CapFourOctetASN:
			v := make([]byte, 4)
			binary.BigEndian.PutUint32(v, c.FourOctetASN)
			value = v
		}
		out = append(out, byte(c.Code), byte(len(value)))
		out = append(out, value...)
	}
	return out
}

// capabilityOptParam wraps encoded capabilities in an OPEN optional
// parameter of type 2 ("Capabilities", RFC 5492).
func capabilityOptParam(caps []Capability) []byte {
	body := encodeCapabilities(caps)
	return append([]byte{2, byte(len(body))}, body...)
}
