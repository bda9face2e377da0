// Package incident manages the lifecycle of stream incidents: bounded
// investigation records with a diagnostic timeline.
//
// Only one non-resolved incident exists per stream at any time; operators
// investigate one problem per stream, not a pile of overlapping alerts.
// Resolved incidents move into a small bounded history for retrospective
// lookup.
package incident

import (
	"fmt"
	"time"

	"github.com/kvkushal/hls-stream-ops/internal/health"
)

// Status is the incident lifecycle state.
type Status int

const (
	// StatusOpen means the incident was just detected and needs attention.
	StatusOpen Status = iota

	// StatusAcknowledged means an operator saw it and is investigating.
	StatusAcknowledged

	// StatusResolved means health returned to GREEN. Terminal.
	StatusResolved
)

// String returns the lowercase name for logs and API payloads.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusAcknowledged:
		return "acknowledged"
	case StatusResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "open":
		*s = StatusOpen
	case "acknowledged":
		*s = StatusAcknowledged
	case "resolved":
		*s = StatusResolved
	default:
		return fmt.Errorf("unknown incident status %q", text)
	}
	return nil
}

// EventType classifies a timeline event.
type EventType string

const (
	EventSegmentOK            EventType = "segment_ok"
	EventSegmentError         EventType = "segment_error"
	EventHealthChange         EventType = "health_change"
	EventIncidentOpened       EventType = "incident_opened"
	EventIncidentAcknowledged EventType = "incident_acknowledged"
	EventIncidentResolved     EventType = "incident_resolved"
)

// TimelineEvent is a single entry in an incident's diagnostic timeline.
// Immutable once appended; the timeline is append-only except for capacity
// eviction of the oldest entries.
type TimelineEvent struct {
	EventID      string            `json:"event_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Type         EventType         `json:"event_type"`
	Message      string            `json:"message"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ThumbnailURL string            `json:"thumbnail_url,omitempty"`
}

// Incident is a bounded record of one period of stream unhealthiness.
// The timeline is the primary diagnostic artifact: it answers "what happened
// before, during, and after the failure".
type Incident struct {
	ID            string    `json:"incident_id"`
	StreamID      string    `json:"stream_id"`
	Status        Status    `json:"status"`
	TriggerReason string    `json:"trigger_reason"`

	StartedAt      time.Time  `json:"started_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	// MetricsSnapshot captures the health verdict and its inputs at the
	// moment of failure, for diagnosis.
	MetricsSnapshot health.Snapshot `json:"metrics_snapshot"`

	Timeline []TimelineEvent `json:"timeline"`
}

// clone returns a deep copy so callers can hold an incident without racing
// against later timeline appends.
func (i *Incident) clone() *Incident {
	cp := *i
	cp.Timeline = make([]TimelineEvent, len(i.Timeline))
	copy(cp.Timeline, i.Timeline)
	if i.AcknowledgedAt != nil {
		t := *i.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
