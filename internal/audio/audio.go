// Package audio resolves ALSA audio devices for the modem engine.
//
// Sound cards enumerate in whatever order the kernel finds them, so a
// configured "card,device" pair can point at the wrong hardware after a
// reboot or USB re-plug. Devices can therefore also be selected by a
// fuzzy match against the descriptions reported by arecord/aplay.
package audio

import (
	"bufio"
	"fmt"
	"os/exec"
	"strings"
)

// Direction selects capture or playback device enumeration
type Direction int

const (
	Capture Direction = iota
	Playback
)

// String returns the human readable direction name
func (d Direction) String() string {
	if d == Playback {
		return "playback"
	}
	return "capture"
}

// listCommand returns the ALSA enumeration command for the direction
func (d Direction) listCommand() (string, []string) {
	if d == Playback {
		return "aplay", []string{"-l"}
	}
	return "arecord", []string{"-l"}
}

// Locator finds ALSA devices by description substring
type Locator struct {
	// run executes an enumeration command and returns its output.
	// Replaceable for tests.
	run func(name string, args ...string) ([]byte, error)
}

// NewLocator creates a locator backed by the system arecord/aplay tools
func NewLocator() *Locator {
	return &Locator{
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
	}
}

// Find returns the "card,device" selector for the first enumerated
// device whose description contains desc
func (l *Locator) Find(desc string, dir Direction) (string, error) {
	name, args := dir.listCommand()
	out, err := l.run(name, args...)
	if err != nil {
		return "", fmt.Errorf("failed to enumerate %s devices with %s: %v", dir, name, err)
	}

	dev, ok := parseDeviceList(string(out), desc)
	if !ok {
		return "", fmt.Errorf("no %s device matching %q", dir, desc)
	}
	return dev, nil
}

// parseDeviceList scans arecord/aplay -l output for a line containing
// desc and extracts the card and device numbers. Lines look like:
//
//	card 2: Device [USB PnP Sound Device], device 0: USB Audio [USB Audio]
func parseDeviceList(output, desc string) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, desc) {
			continue
		}

		card, ok := fieldAfter(line, "card ")
		if !ok {
			continue
		}
		device, ok := fieldAfter(line, "device ")
		if !ok {
			continue
		}
		return card + "," + device, true
	}
	return "", false
}

// fieldAfter extracts the token between marker and the following colon
func fieldAfter(line, marker string) (string, bool) {
	start := strings.Index(line, marker)
	if start < 0 {
		return "", false
	}
	start += len(marker)
	end := strings.Index(line[start:], ":")
	if end < 0 {
		return "", false
	}
	field := strings.TrimSpace(line[start : start+end])
	if field == "" {
		return "", false
	}
	return field, true
}
