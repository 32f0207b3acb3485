package packet

// CSNP is a Complete Sequence Numbers PDU: the periodic full LSDB digest a
// DIS (or either P2P endpoint) sends to drive PSNP-based resynchronization
// (ISO 10589 section 7.3.15).
type CSNP struct {
	Level      Level
	SourceID   SystemID
	CircuitID  uint8
	StartLSPID LSPID
	EndLSPID   LSPID
	Entries    []LSPEntry
}

const csnpFixedHeaderLength = 25 // pdu_len(2) + source_id(6) + circuit_id(1) + start(8) + end(8)

func DecodeCSNP(level Level, b []byte) (CSNP, error) {
	if len(b) < csnpFixedHeaderLength {
		return CSNP{}, newDecodeError("short csnp fixed header")
	}
	c := CSNP{Level: level}
	copy(c.SourceID[:], b[2:8])
	c.CircuitID = b[8]
	c.StartLSPID = decodeLSPID(b[9:17])
	c.EndLSPID = decodeLSPID(b[17:25])

	tlvs, err := scanTLVs(b[csnpFixedHeaderLength:])
	if err != nil {
		return CSNP{}, err
	}
	for _, t := range tlvs {
		if t.Type != TLVLspEntries {
			continue
		}
		for rest := t.Value; len(rest) >= 16; rest = rest[16:] {
			e, err := decodeLSPEntry(rest)
			if err != nil {
				return CSNP{}, err
			}
			c.Entries = append(c.Entries, e)
		}
	}
	return c, nil
}

func (c *CSNP) Encode() []byte {
	pduType := L1CSNP
	if c.Level == LevelL2 {
		pduType = L2CSNP
	}
	hdr := EncodeHeader(pduType, csnpFixedHeaderLength)

	fixed := make([]byte, csnpFixedHeaderLength)
	copy(fixed[2:8], c.SourceID[:])
	fixed[8] = c.CircuitID
	copy(fixed[9:17], encodeLSPID(c.StartLSPID))
	copy(fixed[17:25], encodeLSPID(c.EndLSPID))

	var entries []byte
	for _, e := range c.Entries {
		entries = append(entries, encodeLSPEntry(e)...)
	}
	var tlvs []byte
	// LSP Entries TLVs are limited to 255 bytes of value (~15 entries);
	// split across as many TLVs as needed rather than truncating.
	const maxEntriesPerTLV = 15
	for i := 0; i < len(c.Entries); i += maxEntriesPerTLV {
		end := i + maxEntriesPerTLV
		if end > len(c.Entries) {
			end = len(c.Entries)
		}
		var v []byte
		for _, e := range c.Entries[i:end] {
			v = append(v, encodeLSPEntry(e)...)
		}
		tlvs = emitTLV(tlvs, TLVLspEntries, v)
	}

	body := append(fixed, tlvs...)
	pduLen := commonHeaderLength + len(body)
	body[0] = byte(pduLen >> 8)
	body[1] = byte(pduLen)
	return append(hdr, body...)
}

// PSNP is a Partial Sequence Numbers PDU: used both to request a specific
// stale/missing LSP (P2P and LAN) and to acknowledge receipt on
// point-to-point circuits (ISO 10589 section 7.3.16).
type PSNP struct {
	Level     Level
	SourceID  SystemID
	CircuitID uint8
	Entries   []LSPEntry
}

const psnpFixedHeaderLength = 9 // pdu_len(2) + source_id(6) + circuit_id(1)

func DecodePSNP(level Level, b []byte) (PSNP, error) {
	if len(b) < psnpFixedHeaderLength {
		return PSNP{}, newDecodeError("short psnp fixed header")
	}
	p := PSNP{Level: level}
	copy(p.SourceID[:], b[2:8])
	p.CircuitID = b[8]

	tlvs, err := scanTLVs(b[psnpFixedHeaderLength:])
	if err != nil {
		return PSNP{}, err
	}
	for _, t := range tlvs {
		if t.Type != TLVLspEntries {
			continue
		}
		for rest := t.Value; len(rest) >= 16; rest = rest[16:] {
			e, err := decodeLSPEntry(rest)
			if err != nil {
				return PSNP{}, err
			}
			p.Entries = append(p.Entries, e)
		}
	}
	return p, nil
}

func (p *PSNP) Encode() []byte {
	pduType := L1PSNP
	if p.Level == LevelL2 {
		pduType = L2PSNP
	}
	hdr := EncodeHeader(pduType, psnpFixedHeaderLength)

	fixed := make([]byte, psnpFixedHeaderLength)
	copy(fixed[2:8], p.SourceID[:])
	fixed[8] = p.CircuitID

	var tlvs []byte
	const maxEntriesPerTLV = 15
	for i := 0; i < len(p.Entries); i += maxEntriesPerTLV {
		end := i + maxEntriesPerTLV
		if end > len(p.Entries) {
			end = len(p.Entries)
		}
		var v []byte
		for _, e := range p.Entries[i:end] {
			v = append(v, encodeLSPEntry(e)...)
		}
		tlvs = emitTLV(tlvs, TLVLspEntries, v)
	}

	body := append(fixed, tlvs...)
	pduLen := commonHeaderLength + len(body)
	body[0] = byte(pduLen >> 8)
	body[1] = byte(pduLen)
	return append(hdr, body...)
}
