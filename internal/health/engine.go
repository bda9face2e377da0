package health

import (
	"fmt"
	"strings"
	"time"
)

// Thresholds for health derivation. Any RED condition dominates all YELLOW
// conditions; YELLOW conditions are only consulted when no RED condition
// matched.
const (
	// RED thresholds: critical, needs immediate attention.
	RedErrorCount    = 3      // errors in the 2 minute window
	RedTTFBMs        = 1000.0 // average TTFB above 1 second
	RedDownloadRatio = 0.5    // downloads taking 2x segment duration

	// YELLOW thresholds: degraded, watch closely.
	YellowErrorCount    = 1
	YellowTTFBMs        = 500.0
	YellowDownloadRatio = 0.8

	// YellowIncidentThreshold is how long a stream may stay YELLOW before
	// the degradation itself becomes an incident.
	YellowIncidentThreshold = 2 * time.Minute
)

// Root-cause rule thresholds.
const (
	congestionTTFBMs  = 800.0
	congestionRatio   = 0.7
	consecutiveErrMin = 3
)

// Snapshot is the health verdict together with the aggregate inputs that
// produced it. The inputs are retained for auditability, never for
// re-scoring.
type Snapshot struct {
	State       State     `json:"state"`
	Reason      string    `json:"reason"`
	LastUpdated time.Time `json:"last_updated"`

	ErrorCount       int     `json:"error_count_2min"`
	AvgTTFBMs        float64 `json:"avg_ttfb_ms"`
	AvgDownloadRatio float64 `json:"avg_download_ratio"`
}

// Compute derives the health state and a human-readable reason from window
// aggregates. It is a pure function: the same inputs always produce the same
// verdict. Multiple matching conditions are concatenated into one reason in
// fixed order: errors, then TTFB, then download ratio.
func Compute(errorCount int, avgTTFBMs, avgDownloadRatio float64) (State, string) {
	var reasons []string
	state := StateGreen

	if errorCount >= RedErrorCount {
		state = StateRed
		reasons = append(reasons, fmt.Sprintf("%d segment errors in last 2 minutes", errorCount))
	}
	if avgTTFBMs > RedTTFBMs {
		state = StateRed
		reasons = append(reasons, fmt.Sprintf("Average TTFB %.0fms exceeded %.0fms threshold (last 2 min)", avgTTFBMs, RedTTFBMs))
	}
	if avgDownloadRatio < RedDownloadRatio {
		state = StateRed
		reasons = append(reasons, fmt.Sprintf("Download ratio %.2fx fell below %.2fx threshold", avgDownloadRatio, RedDownloadRatio))
	}

	if state == StateGreen {
		if errorCount >= YellowErrorCount {
			state = StateYellow
			reasons = append(reasons, fmt.Sprintf("%d segment error(s) in last 2 minutes", errorCount))
		}
		if avgTTFBMs > YellowTTFBMs {
			state = StateYellow
			reasons = append(reasons, fmt.Sprintf("Average TTFB %.0fms exceeded %.0fms threshold (last 2 min)", avgTTFBMs, YellowTTFBMs))
		}
		if avgDownloadRatio < YellowDownloadRatio {
			state = StateYellow
			reasons = append(reasons, fmt.Sprintf("Download ratio %.2fx fell below %.2fx threshold", avgDownloadRatio, YellowDownloadRatio))
		}
	}

	if len(reasons) == 0 {
		return state, "Stream healthy"
	}
	return state, strings.Join(reasons, "; ")
}

// ClassifyRootCause applies six mutually exclusive rules in strict priority
// order and returns the first match, or nil when no issue condition matches.
// A manifest fetch failure always wins: if the playlist itself is
// unreachable, segment-level evidence is a symptom, not the cause.
func ClassifyRootCause(errorCount int, avgTTFBMs, avgDownloadRatio float64, manifestErrors, consecutiveSegmentErrors int) *RootCause {
	if manifestErrors > 0 {
		return &RootCause{
			Label:      "Origin/CDN Outage",
			Confidence: ConfidenceHigh,
			Evidence: []string{
				fmt.Sprintf("%d manifest fetch failures", manifestErrors),
			},
		}
	}

	if consecutiveSegmentErrors >= consecutiveErrMin {
		return &RootCause{
			Label:      "Encoder/Packager Issue",
			Confidence: ConfidenceMedium,
			Evidence: []string{
				fmt.Sprintf("%d consecutive segment errors", consecutiveSegmentErrors),
				"Manifest accessible but segments failing",
			},
		}
	}

	if avgTTFBMs > congestionTTFBMs && avgDownloadRatio < congestionRatio {
		return &RootCause{
			Label:      "Network Congestion",
			Confidence: ConfidenceMedium,
			Evidence: []string{
				fmt.Sprintf("High TTFB (%.0fms)", avgTTFBMs),
				fmt.Sprintf("Low download ratio (%.2fx)", avgDownloadRatio),
			},
		}
	}

	if avgTTFBMs > YellowTTFBMs {
		return &RootCause{
			Label:      "CDN Edge Latency",
			Confidence: ConfidenceLow,
			Evidence: []string{
				fmt.Sprintf("Average TTFB %.0fms exceeded %.0fms threshold", avgTTFBMs, YellowTTFBMs),
			},
		}
	}

	if avgDownloadRatio < YellowDownloadRatio {
		return &RootCause{
			Label:      "Bandwidth Constraint",
			Confidence: ConfidenceLow,
			Evidence: []string{
				fmt.Sprintf("Download ratio %.2fx", avgDownloadRatio),
			},
		}
	}

	if errorCount > 0 {
		return &RootCause{
			Label:      "Intermittent Issues",
			Confidence: ConfidenceLow,
			Evidence: []string{
				fmt.Sprintf("%d errors in last 2 minutes", errorCount),
			},
		}
	}

	return nil
}

// ShouldCreateIncident decides whether a health transition warrants opening
// an incident. An incident is warranted on any transition into RED, or when
// the stream has been continuously YELLOW for longer than
// YellowIncidentThreshold.
func ShouldCreateIncident(current, previous State, yellowDuration time.Duration) (bool, string) {
	if current == StateRed && previous != StateRed {
		return true, fmt.Sprintf("Health degraded from %s to RED", previous.Upper())
	}

	if current == StateYellow && yellowDuration > YellowIncidentThreshold {
		return true, fmt.Sprintf("Stream degraded (YELLOW) for over %d minutes", int(YellowIncidentThreshold.Minutes()))
	}

	return false, ""
}
