// Package health derives an explainable three-state health verdict from
// windowed segment metrics. It is deliberately rule-based: every state and
// every root-cause classification carries the numeric evidence that produced
// it, so operators can verify the diagnosis instead of trusting a score.
package health

import "fmt"

// State is the three-state health model: is it working, is it degraded,
// is it broken.
type State int

const (
	// StateGreen means all metrics are within thresholds.
	StateGreen State = iota

	// StateYellow means some metrics exceed warning thresholds but nothing
	// is critical yet.
	StateYellow

	// StateRed means at least one critical threshold is exceeded and the
	// stream requires investigation.
	StateRed
)

// String returns the lowercase name used in logs and API payloads.
func (s State) String() string {
	switch s {
	case StateGreen:
		return "green"
	case StateYellow:
		return "yellow"
	case StateRed:
		return "red"
	default:
		return "unknown"
	}
}

// Upper returns the uppercase name used in human-readable messages.
func (s State) Upper() string {
	switch s {
	case StateGreen:
		return "GREEN"
	case StateYellow:
		return "YELLOW"
	case StateRed:
		return "RED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler so State serializes as its
// lowercase name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "green":
		*s = StateGreen
	case "yellow":
		*s = StateYellow
	case "red":
		*s = StateRed
	default:
		return fmt.Errorf("unknown health state %q", text)
	}
	return nil
}

// Confidence expresses how strongly the evidence supports a root-cause
// classification.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

// String returns the lowercase name for logs and API payloads.
func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// RootCause is a rule-based classification with supporting evidence.
// At most one RootCause is produced per evaluation.
type RootCause struct {
	Label      string     `json:"label"`
	Confidence Confidence `json:"confidence"`
	Evidence   []string   `json:"evidence"`
}
