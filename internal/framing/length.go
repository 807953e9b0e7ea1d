package framing

import (
	"encoding/binary"
	"fmt"
)

// lengthFramer prefixes payloads with a two byte big-endian length and
// appends a CRC-16 trailer computed over the length prefix and payload
type lengthFramer struct {
	maxFrame int
}

func (f *lengthFramer) Wrap(payload []byte) ([]byte, error) {
	if len(payload) > f.maxFrame {
		return nil, fmt.Errorf("payload length %d exceeds maximum frame size %d", len(payload), f.maxFrame)
	}
	out := make([]byte, 2, len(payload)+4)
	binary.BigEndian.PutUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	return AppendChecksum(out), nil
}

// Length deframer states
const (
	lenWantHigh = iota
	lenWantLow
	lenWantBody
	lenWantCRCLow
	lenWantCRCHigh
)

// lengthDeframer reconstructs length-prefixed frames. A declared
// length over the maximum frame size, or a failed integrity check,
// discards the frame and restarts at the next byte.
type lengthDeframer struct {
	maxFrame int
	state    int
	want     int
	buf      []byte // length prefix plus payload
	crcLow   byte
	drops    uint64
}

func (d *lengthDeframer) Push(b byte) ([]byte, bool) {
	switch d.state {
	case lenWantHigh:
		d.buf = append(d.buf[:0], b)
		d.state = lenWantLow

	case lenWantLow:
		d.buf = append(d.buf, b)
		d.want = int(binary.BigEndian.Uint16(d.buf))
		if d.want > d.maxFrame {
			d.drops++
			d.state = lenWantHigh
			break
		}
		if d.want == 0 {
			d.state = lenWantCRCLow
		} else {
			d.state = lenWantBody
		}

	case lenWantBody:
		d.buf = append(d.buf, b)
		if len(d.buf) == d.want+2 {
			d.state = lenWantCRCLow
		}

	case lenWantCRCLow:
		d.crcLow = b
		d.state = lenWantCRCHigh

	case lenWantCRCHigh:
		d.state = lenWantHigh
		crc := Checksum(d.buf)
		if d.crcLow != byte(crc&0xFF) || b != byte(crc>>8) {
			d.drops++
			break
		}
		payload := append([]byte(nil), d.buf[2:]...)
		return payload, true
	}
	return nil, false
}

func (d *lengthDeframer) Reset() {
	d.state = lenWantHigh
	d.buf = d.buf[:0]
}

func (d *lengthDeframer) Drops() uint64 { return d.drops }
