package ptt

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// serialKey drives the RTS or DTR modem-control line of a serial port.
// This is the traditional PTT wiring for sound card interfaces: the
// control line switches an opto-isolator on the radio's key input.
type serialKey struct {
	file *os.File
	bit  int
}

func newSerialKey(device, line string) (*serialKey, error) {
	if device == "" {
		return nil, fmt.Errorf("serial PTT requires a device path")
	}

	var bit int
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "rts", "":
		bit = unix.TIOCM_RTS
	case "dtr":
		bit = unix.TIOCM_DTR
	default:
		return nil, fmt.Errorf("unknown serial PTT line %q, want rts or dtr", line)
	}

	file, err := os.OpenFile(device, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PTT device %s: %v", device, err)
	}

	k := &serialKey{file: file, bit: bit}

	// Make sure the transmitter is not keyed by a stale line state
	if err := k.set(false); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to clear PTT line on %s: %v", device, err)
	}
	return k, nil
}

// set raises or lowers the configured modem-control line
func (k *serialKey) set(on bool) error {
	req := uint(unix.TIOCMBIC)
	if on {
		req = uint(unix.TIOCMBIS)
	}
	bits := k.bit
	return unix.IoctlSetPointerInt(int(k.file.Fd()), req, bits)
}

// KeyOn keys the transmitter. Serial line keying has no frequency
// control; a requested frequency is ignored.
func (k *serialKey) KeyOn(freq uint64) error {
	if err := k.set(true); err != nil {
		return fmt.Errorf("failed to key transmitter: %v", err)
	}
	return nil
}

func (k *serialKey) KeyOff() error {
	if err := k.set(false); err != nil {
		return fmt.Errorf("failed to unkey transmitter: %v", err)
	}
	return nil
}

func (k *serialKey) Close() error {
	// Never leave the transmitter keyed on shutdown
	_ = k.set(false)
	return k.file.Close()
}
