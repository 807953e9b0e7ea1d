// Package ptt keys a radio transmitter on and off around transmit
// bursts and optionally sets its operating frequency.
//
// Three controllers are available: none (no hardware keying, e.g. a
// VOX-operated interface), serial (the RTS or DTR line of a serial
// port drives the key), and rigctld (a hamlib rigctld daemon reached
// over TCP). A misconfigured or absent keying device is an error at
// construction time, not at first transmit.
package ptt

import (
	"fmt"
	"strings"
)

// KeyController keys the transmitter before and after a burst.
// Implementations are used by one transmit burst at a time, never
// concurrently.
type KeyController interface {
	// KeyOn keys the transmitter. A non-zero freq additionally asks
	// the radio to move to that frequency in Hz; frequency setting is
	// best-effort on controllers that support it.
	KeyOn(freq uint64) error
	// KeyOff releases the transmitter
	KeyOff() error
	// Close releases the underlying device
	Close() error
}

// Controller type names accepted in configuration
const (
	TypeNone    = "none"
	TypeSerial  = "serial"
	TypeRigctld = "rigctld"
)

// Config selects and parameterizes a key controller
type Config struct {
	Type    string // none, serial or rigctld
	Device  string // serial port path, serial type only
	Line    string // "rts" or "dtr", serial type only
	Address string // host:port of rigctld, rigctld type only
}

// New builds the configured key controller
func New(cfg Config) (KeyController, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeNone, "":
		return Noop{}, nil
	case TypeSerial:
		return newSerialKey(cfg.Device, cfg.Line)
	case TypeRigctld:
		return newRigctldKey(cfg.Address)
	default:
		return nil, fmt.Errorf("unknown PTT controller type %q", cfg.Type)
	}
}

// Noop is the controller used when no hardware keying is configured
type Noop struct{}

func (Noop) KeyOn(uint64) error { return nil }
func (Noop) KeyOff() error      { return nil }
func (Noop) Close() error       { return nil }
