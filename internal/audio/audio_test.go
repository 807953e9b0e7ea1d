package audio

import (
	"fmt"
	"testing"
)

const arecordOutput = `**** List of CAPTURE Hardware Devices ****
card 0: PCH [HDA Intel PCH], device 0: ALC892 Analog [ALC892 Analog]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
card 2: Device [USB PnP Sound Device], device 0: USB Audio [USB Audio]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
`

func TestParseDeviceList(t *testing.T) {
	tests := []struct {
		name     string
		desc     string
		expected string
		found    bool
	}{
		{
			name:     "usb sound fob",
			desc:     "USB PnP",
			expected: "2,0",
			found:    true,
		},
		{
			name:     "onboard codec",
			desc:     "HDA Intel",
			expected: "0,0",
			found:    true,
		},
		{
			name:  "no match",
			desc:  "Scarlett",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, ok := parseDeviceList(arecordOutput, tt.desc)
			if ok != tt.found {
				t.Fatalf("parseDeviceList() found = %v, want %v", ok, tt.found)
			}
			if ok && dev != tt.expected {
				t.Errorf("parseDeviceList() = %q, want %q", dev, tt.expected)
			}
		})
	}
}

func TestLocatorFind(t *testing.T) {
	locator := &Locator{
		run: func(name string, args ...string) ([]byte, error) {
			if name != "arecord" {
				return nil, fmt.Errorf("unexpected command %s", name)
			}
			return []byte(arecordOutput), nil
		},
	}

	dev, err := locator.Find("USB PnP", Capture)
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if dev != "2,0" {
		t.Errorf("Find() = %q, want %q", dev, "2,0")
	}

	if _, err := locator.Find("Missing Device", Capture); err == nil {
		t.Errorf("Find() expected error for missing device")
	}
}

func TestLocatorFindPlayback(t *testing.T) {
	var gotCommand string
	locator := &Locator{
		run: func(name string, args ...string) ([]byte, error) {
			gotCommand = name
			return []byte(arecordOutput), nil
		},
	}

	if _, err := locator.Find("USB PnP", Playback); err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if gotCommand != "aplay" {
		t.Errorf("playback enumeration used %q, want aplay", gotCommand)
	}
}
