package framing

import "fmt"

// hdlcFramer produces flag-delimited, byte-stuffed frames with a
// CRC-16 trailer
type hdlcFramer struct {
	maxFrame int
}

func (f *hdlcFramer) Wrap(payload []byte) ([]byte, error) {
	if len(payload) > f.maxFrame {
		return nil, fmt.Errorf("payload length %d exceeds maximum frame size %d", len(payload), f.maxFrame)
	}

	body := AppendChecksum(append([]byte(nil), payload...))

	// Worst case every body byte needs an escape
	out := make([]byte, 0, len(body)*2+2)
	out = append(out, Flag)
	for _, b := range body {
		if b == Flag || b == Escape {
			out = append(out, Escape, b^XOR)
		} else {
			out = append(out, b)
		}
	}
	out = append(out, Flag)
	return out, nil
}

// hdlcDeframer extracts flag-delimited frames from a byte stream.
// Bytes outside a frame are discarded while hunting for a flag.
type hdlcDeframer struct {
	maxFrame  int
	buf       []byte
	inFrame   bool
	escaped   bool
	overLimit bool
	drops     uint64
}

func (d *hdlcDeframer) Push(b byte) ([]byte, bool) {
	if !d.inFrame {
		if b == Flag {
			d.inFrame = true
			d.buf = d.buf[:0]
			d.escaped = false
			d.overLimit = false
		}
		return nil, false
	}

	if b == Flag {
		return d.closeFrame()
	}

	if b == Escape {
		d.escaped = true
		return nil, false
	}
	if d.escaped {
		b ^= XOR
		d.escaped = false
	}

	if d.overLimit {
		return nil, false
	}
	// Payload plus two CRC bytes may not exceed the maximum frame size
	if len(d.buf) >= d.maxFrame+2 {
		d.overLimit = true
		return nil, false
	}
	d.buf = append(d.buf, b)
	return nil, false
}

// closeFrame handles a flag byte seen while collecting. Back-to-back
// flags are idle fill between frames, not an empty frame.
func (d *hdlcDeframer) closeFrame() ([]byte, bool) {
	buf := d.buf
	over := d.overLimit || d.escaped

	d.buf = d.buf[:0]
	d.escaped = false
	d.overLimit = false

	if len(buf) == 0 {
		return nil, false
	}
	if over || !VerifyChecksum(buf) {
		d.drops++
		return nil, false
	}
	payload := append([]byte(nil), buf[:len(buf)-2]...)
	return payload, true
}

func (d *hdlcDeframer) Reset() {
	d.inFrame = false
	d.escaped = false
	d.overLimit = false
	d.buf = d.buf[:0]
}

func (d *hdlcDeframer) Drops() uint64 { return d.drops }
