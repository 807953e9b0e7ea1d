package engine

import (
	"strconv"
	"strings"
)

// EventKind classifies a diagnostic line from the engine
type EventKind int

const (
	// EventDiagnostic is an unrecognized status line
	EventDiagnostic EventKind = iota
	// EventCarrier reports carrier acquisition
	EventCarrier
	// EventNoCarrier reports carrier loss
	EventNoCarrier
	// EventConfidence is a bare periodic confidence report
	EventConfidence
)

// Event is one parsed diagnostic line. Confidence is negative when
// the line carried no confidence value.
type Event struct {
	Kind       EventKind
	Confidence float64
	Line       string
}

// Diagnostic line markers emitted by minimodem-compatible engines, e.g.
//
//	### CARRIER 300 @ 1250.0 Hz ###
//	### NOCARRIER ndata=4 confidence=2.731 ampl=0.910 bps=300.00 ###
const (
	carrierMarker   = "### CARRIER"
	noCarrierMarker = "### NOCARRIER"
	confidenceKey   = "confidence="
)

// ParseEvent classifies one diagnostic line
func ParseEvent(line string) Event {
	ev := Event{Kind: EventDiagnostic, Confidence: -1, Line: line}

	switch {
	case strings.Contains(line, noCarrierMarker):
		ev.Kind = EventNoCarrier
	case strings.Contains(line, carrierMarker):
		ev.Kind = EventCarrier
	}

	if conf, ok := parseConfidence(line); ok {
		ev.Confidence = conf
		if ev.Kind == EventDiagnostic {
			ev.Kind = EventConfidence
		}
	}

	return ev
}

// parseConfidence extracts the value after "confidence=" if present
func parseConfidence(line string) (float64, bool) {
	idx := strings.Index(line, confidenceKey)
	if idx < 0 {
		return 0, false
	}
	rest := line[idx+len(confidenceKey):]
	if cut := strings.IndexAny(rest, " \t"); cut >= 0 {
		rest = rest[:cut]
	}
	conf, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, false
	}
	return conf, true
}
