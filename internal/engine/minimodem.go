package engine

import (
	"fmt"
	"strconv"
)

// Params describes the modulation parameters handed to the external
// minimodem tool on its command line
type Params struct {
	Baud       string  // baud rate or mode keyword, e.g. "300" or "rtty"
	Device     string  // ALSA "card,device" selector, empty for system default
	MarkHz     float64 // mark tone override, 0 for mode default
	SpaceHz    float64 // space tone override, 0 for mode default
	SyncByte   *byte   // demodulator sync byte gate, nil when disabled
	Confidence float64 // minimum demodulator confidence, 0 for tool default
}

func (p Params) common() []string {
	var args []string
	if p.Device != "" {
		args = append(args, "--alsa="+p.Device)
	}
	if p.MarkHz > 0 {
		args = append(args, "--mark", strconv.FormatFloat(p.MarkHz, 'f', -1, 64))
	}
	if p.SpaceHz > 0 {
		args = append(args, "--space", strconv.FormatFloat(p.SpaceHz, 'f', -1, 64))
	}
	return args
}

// RxArgs builds the demodulator argument list. The receive side runs
// without --quiet so carrier and confidence reports stay on stderr,
// and with --print-filter so noise bytes do not corrupt the stream.
func RxArgs(p Params) []string {
	args := []string{"--rx", "--print-filter"}
	args = append(args, p.common()...)
	if p.Confidence > 0 {
		args = append(args, "--confidence", strconv.FormatFloat(p.Confidence, 'f', -1, 64))
	}
	if p.SyncByte != nil {
		args = append(args, "--sync-byte", fmt.Sprintf("0x%02X", *p.SyncByte))
	}
	return append(args, p.Baud)
}

// TxArgs builds the modulator argument list. The transmit side is
// quiet: it emits no diagnostics worth parsing.
func TxArgs(p Params) []string {
	args := []string{"--tx", "--quiet"}
	args = append(args, p.common()...)
	return append(args, p.Baud)
}
