// Package stream provides the blocking exact-length reads a pull-loop PDU
// reader is built from: each call keeps reading across partial reads until
// it has the requested bytes, never dropping bytes already read. It
// composes with io.Reader and reports errors rather than firing FSM events
// directly. PDU framing (a header, then the body it announces) is left to
// the caller.
package stream

import (
	"encoding/binary"
	"io"
)

// ReadFull reads exactly len(buf) bytes from r, blocking across partial
// reads, and returns an error (often io.ErrUnexpectedEOF) if the stream ends
// first. It never discards bytes already read.
func ReadFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// ReadN reads exactly n bytes from r into a freshly allocated slice.
func ReadN(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadUint16 reads a big-endian uint16 from r.
func ReadUint16(r io.Reader) (uint16, error) {
	b, err := ReadN(r, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint32 reads a big-endian uint32 from r.
func ReadUint32(r io.Reader) (uint32, error) {
	b, err := ReadN(r, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}
