package ptt

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	rigctldDialTimeout  = 5 * time.Second
	rigctldReplyTimeout = 3 * time.Second
)

// rigctldKey keys the transmitter through a hamlib rigctld daemon
// using its line-oriented TCP protocol: "T 1"/"T 0" for PTT and
// "F <hz>" for frequency, each answered with "RPRT <code>".
type rigctldKey struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newRigctldKey(address string) (*rigctldKey, error) {
	if address == "" {
		return nil, fmt.Errorf("rigctld PTT requires an address")
	}

	conn, err := net.DialTimeout("tcp", address, rigctldDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rigctld at %s: %v", address, err)
	}

	return &rigctldKey{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

// command sends one rigctld set command and checks the RPRT reply
func (k *rigctldKey) command(cmd string) error {
	deadline := time.Now().Add(rigctldReplyTimeout)
	if err := k.conn.SetDeadline(deadline); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(k.conn, "%s\n", cmd); err != nil {
		return fmt.Errorf("rigctld write failed: %v", err)
	}

	reply, err := k.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("rigctld read failed: %v", err)
	}

	reply = strings.TrimSpace(reply)
	if reply != "RPRT 0" {
		return fmt.Errorf("rigctld rejected %q: %s", cmd, reply)
	}
	return nil
}

// KeyOn optionally moves the radio to freq, then keys the
// transmitter. A frequency failure does not prevent the keying
// attempt; it is folded into the returned error instead.
func (k *rigctldKey) KeyOn(freq uint64) error {
	var freqErr error
	if freq > 0 {
		if err := k.command(fmt.Sprintf("F %d", freq)); err != nil {
			freqErr = fmt.Errorf("failed to set frequency %d Hz: %v", freq, err)
		}
	}

	if err := k.command("T 1"); err != nil {
		return fmt.Errorf("failed to key transmitter: %v", err)
	}
	return freqErr
}

func (k *rigctldKey) KeyOff() error {
	if err := k.command("T 0"); err != nil {
		return fmt.Errorf("failed to unkey transmitter: %v", err)
	}
	return nil
}

func (k *rigctldKey) Close() error {
	// Best effort unkey so a dropped control connection cannot leave
	// the transmitter stuck on
	_ = k.command("T 0")
	return k.conn.Close()
}
