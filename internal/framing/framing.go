// Package framing wraps payloads for transmission over a continuous,
// lossy byte stream and extracts them again on the receive side.
//
// Three modes are supported:
//
//   - HDLC-like: payloads are delimited by a flag byte, the payload and
//     its CRC-16 trailer are byte-stuffed so the flag cannot appear
//     inside a frame.
//   - Length-delimited: a two byte big-endian length prefix followed by
//     the payload and a CRC-16 trailer.
//   - Raw: payloads are terminated by a configurable end-of-message
//     delimiter with no integrity check.
//
// Deframers are per-byte state machines. A frame whose integrity check
// fails, or that exceeds the maximum frame length, is discarded and
// counted, never delivered.
package framing

import (
	"fmt"
	"strings"
)

// Mode selects the framing scheme
type Mode int

const (
	ModeRaw Mode = iota
	ModeLength
	ModeHDLC
)

// HDLC-style framing constants
const (
	Flag   byte = 0x7E // frame delimiter
	Escape byte = 0x7D // escape prefix
	XOR    byte = 0x20 // applied to escaped bytes
)

// DefaultMaxFrame bounds the payload size of a single frame
const DefaultMaxFrame = 500

// String returns the configuration name of the mode
func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeLength:
		return "length"
	case ModeHDLC:
		return "hdlc"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a configuration mode name
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw":
		return ModeRaw, nil
	case "length":
		return ModeLength, nil
	case "hdlc", "":
		return ModeHDLC, nil
	default:
		return ModeHDLC, fmt.Errorf("unknown framing mode %q", s)
	}
}

// Framer wraps outgoing payloads for the wire
type Framer interface {
	// Wrap returns the on-wire form of payload
	Wrap(payload []byte) ([]byte, error)
}

// Deframer reconstructs payloads from an incoming byte stream.
// Implementations are not safe for concurrent use.
type Deframer interface {
	// Push feeds one received byte to the state machine. It returns a
	// completed payload and true when the byte finished a valid frame.
	Push(b byte) ([]byte, bool)
	// Reset discards any frame in progress
	Reset()
	// Drops reports the number of frames discarded for integrity or
	// length violations since creation
	Drops() uint64
}

// Options configures framer and deframer construction
type Options struct {
	Mode     Mode
	MaxFrame int    // maximum payload bytes, DefaultMaxFrame when zero
	EOM      []byte // end-of-message delimiter, raw mode only
}

func (o Options) maxFrame() int {
	if o.MaxFrame <= 0 {
		return DefaultMaxFrame
	}
	return o.MaxFrame
}

// NewFramer builds a framer for the configured mode
func NewFramer(o Options) (Framer, error) {
	switch o.Mode {
	case ModeRaw:
		if len(o.EOM) == 0 {
			return nil, fmt.Errorf("raw framing requires an end-of-message delimiter")
		}
		return &rawFramer{eom: o.EOM, maxFrame: o.maxFrame()}, nil
	case ModeLength:
		return &lengthFramer{maxFrame: o.maxFrame()}, nil
	case ModeHDLC:
		return &hdlcFramer{maxFrame: o.maxFrame()}, nil
	default:
		return nil, fmt.Errorf("unknown framing mode %d", o.Mode)
	}
}

// NewDeframer builds a deframer for the configured mode
func NewDeframer(o Options) (Deframer, error) {
	switch o.Mode {
	case ModeRaw:
		if len(o.EOM) == 0 {
			return nil, fmt.Errorf("raw framing requires an end-of-message delimiter")
		}
		return &rawDeframer{eom: o.EOM, maxFrame: o.maxFrame()}, nil
	case ModeLength:
		return &lengthDeframer{maxFrame: o.maxFrame()}, nil
	case ModeHDLC:
		return &hdlcDeframer{maxFrame: o.maxFrame()}, nil
	default:
		return nil, fmt.Errorf("unknown framing mode %d", o.Mode)
	}
}
