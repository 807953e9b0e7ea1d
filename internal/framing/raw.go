package framing

import (
	"bytes"
	"fmt"
)

// rawFramer terminates payloads with the configured end-of-message
// delimiter. The payload must not contain the delimiter since raw mode
// has no escaping.
type rawFramer struct {
	eom      []byte
	maxFrame int
}

func (f *rawFramer) Wrap(payload []byte) ([]byte, error) {
	if len(payload) > f.maxFrame {
		return nil, fmt.Errorf("payload length %d exceeds maximum frame size %d", len(payload), f.maxFrame)
	}
	if bytes.Contains(payload, f.eom) {
		return nil, fmt.Errorf("payload contains the end-of-message delimiter")
	}
	out := make([]byte, 0, len(payload)+len(f.eom))
	out = append(out, payload...)
	return append(out, f.eom...), nil
}

// rawDeframer accumulates bytes until the end-of-message delimiter is
// seen. The delimiter is stripped from the delivered payload. Empty
// messages (delimiter with nothing before it) are treated as idle
// noise and not delivered. A message that outgrows the maximum frame
// size is aborted: everything up to and including the next delimiter
// is discarded.
type rawDeframer struct {
	eom       []byte
	maxFrame  int
	buf       []byte
	skipToEOM bool
	drops     uint64
}

func (d *rawDeframer) Push(b byte) ([]byte, bool) {
	d.buf = append(d.buf, b)

	if bytes.HasSuffix(d.buf, d.eom) {
		payload := append([]byte(nil), d.buf[:len(d.buf)-len(d.eom)]...)
		d.buf = d.buf[:0]
		if d.skipToEOM {
			d.skipToEOM = false
			return nil, false
		}
		if len(payload) == 0 {
			return nil, false
		}
		return payload, true
	}

	if len(d.buf) > d.maxFrame+len(d.eom) {
		if !d.skipToEOM {
			d.drops++
			d.skipToEOM = true
		}
		// Keep only the bytes that could still complete a delimiter
		keep := len(d.eom) - 1
		copy(d.buf, d.buf[len(d.buf)-keep:])
		d.buf = d.buf[:keep]
	}
	return nil, false
}

func (d *rawDeframer) Reset() {
	d.buf = d.buf[:0]
	d.skipToEOM = false
}

func (d *rawDeframer) Drops() uint64 { return d.drops }
