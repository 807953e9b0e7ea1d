// Package kiss implements the KISS TNC framing used on the TCP
// client interface. See http://www.ka9q.net/papers/kiss.html
package kiss

// Special characters from the SLIP/KISS framing
const (
	FEND  = 0xC0 // frame delimiter
	FESC  = 0xDB // escape
	TFEND = 0xDC // escaped delimiter
	TFESC = 0xDD // escaped escape
)

// KISS command nybbles. Only data frames carry traffic; the tuning
// commands exist for interoperability with stock TNC clients and are
// accepted silently.
const (
	CmdData        = 0x00
	CmdTxDelay     = 0x01
	CmdPersistence = 0x02
	CmdSlotTime    = 0x03
	CmdTxTail      = 0x04
	CmdFullDuplex  = 0x05
	CmdSetHardware = 0x06
	CmdReturn      = 0xFF // exit KISS mode, ignored
)

// DefaultMaxFrame bounds a decoded frame. The KISS spec calls for at
// least 1024 bytes of content.
const DefaultMaxFrame = 2048

// Frame is one decoded KISS frame
type Frame struct {
	Port byte // upper nybble of the type byte
	Cmd  byte // lower nybble, or CmdReturn
	Data []byte
}

// Encode wraps data as a single KISS frame
func Encode(port, cmd byte, data []byte) []byte {
	out := make([]byte, 0, len(data)+4)
	out = append(out, FEND)
	out = appendEscaped(out, port<<4|cmd&0x0F)
	for _, b := range data {
		out = appendEscaped(out, b)
	}
	return append(out, FEND)
}

func appendEscaped(out []byte, b byte) []byte {
	switch b {
	case FEND:
		return append(out, FESC, TFEND)
	case FESC:
		return append(out, FESC, TFESC)
	default:
		return append(out, b)
	}
}

// Decoder reassembles KISS frames from a byte stream. Bytes arriving
// outside a frame are noise (a client's terminal chatter before it
// enters KISS mode) and are discarded.
type Decoder struct {
	collecting bool
	escaped    bool
	oversize   bool
	buf        []byte
	maxFrame   int
}

// NewDecoder returns a decoder enforcing the given content bound.
// Zero means DefaultMaxFrame.
func NewDecoder(maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Decoder{maxFrame: maxFrame}
}

// Push feeds one byte. It returns a completed frame and true when
// the byte closed one.
func (d *Decoder) Push(b byte) (Frame, bool) {
	if b == FEND {
		return d.delimiter()
	}

	if !d.collecting {
		return Frame{}, false
	}

	if d.escaped {
		d.escaped = false
		switch b {
		case TFEND:
			b = FEND
		case TFESC:
			b = FESC
		default:
			// Invalid escape sequence, drop the frame
			d.abort()
			return Frame{}, false
		}
	} else if b == FESC {
		d.escaped = true
		return Frame{}, false
	}

	if d.oversize {
		return Frame{}, false
	}
	if len(d.buf) > d.maxFrame {
		d.oversize = true
		return Frame{}, false
	}
	d.buf = append(d.buf, b)
	return Frame{}, false
}

func (d *Decoder) delimiter() (Frame, bool) {
	if !d.collecting || len(d.buf) == 0 {
		// Opening delimiter, or back-to-back FENDs used as idle fill
		d.collecting = true
		d.escaped = false
		return Frame{}, false
	}

	frame := Frame{}
	deliver := !d.oversize && !d.escaped
	if deliver {
		t := d.buf[0]
		if t == CmdReturn {
			frame.Cmd = CmdReturn
		} else {
			frame.Port = t >> 4
			frame.Cmd = t & 0x0F
		}
		frame.Data = append([]byte(nil), d.buf[1:]...)
	}

	// The closing FEND opens the next frame
	d.buf = d.buf[:0]
	d.escaped = false
	d.oversize = false
	return frame, deliver
}

func (d *Decoder) abort() {
	d.collecting = false
	d.escaped = false
	d.oversize = false
	d.buf = d.buf[:0]
}
