package incident

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kvkushal/hls-stream-ops/internal/health"
)

const (
	// MaxTimelineEvents caps the per-incident timeline; the oldest entries
	// are dropped on overflow.
	MaxTimelineEvents = 50

	// MaxHistory caps the resolved-incident history; the oldest incident
	// is evicted first.
	MaxHistory = 10
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager owns the active-incident map and the bounded resolved history.
// It is the single source of truth for "is there an active incident for
// stream X".
//
// Thread-safe: multiple streams' tasks call into it concurrently. A single
// mutex guards both maps; per-stream ordering is provided by the callers
// (the supervisor serializes health evaluation per stream), so no cross-
// stream coordination is needed here beyond map safety.
type Manager struct {
	mu sync.Mutex

	// active holds at most one incident per stream id.
	active map[string]*Incident

	// history holds resolved incidents, oldest first.
	history []*Incident

	logger *slog.Logger
	clock  Clock
}

// NewManager creates an empty incident manager.
func NewManager(logger *slog.Logger) *Manager {
	return NewManagerWithClock(logger, realClock{})
}

// NewManagerWithClock creates a manager with a custom clock for testing.
func NewManagerWithClock(logger *slog.Logger, clock Clock) *Manager {
	return &Manager{
		active: make(map[string]*Incident),
		logger: logger,
		clock:  clock,
	}
}

// newID returns a short unique id, 8 hex characters.
func newID() string {
	return uuid.NewString()[:8]
}

// Active returns a copy of the active incident for the stream, or nil.
func (m *Manager) Active(streamID string) *Incident {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inc, ok := m.active[streamID]; ok {
		return inc.clone()
	}
	return nil
}

// HasActive reports whether the stream has a non-resolved incident.
func (m *Manager) HasActive(streamID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[streamID]
	return ok
}

// ActiveCount returns the number of streams with an active incident.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ByID finds an incident by id, scanning the active set then history.
// Linear scan is deliberate: n is a few dozen at most and it keeps the
// bookkeeping to one map and one slice.
func (m *Manager) ByID(incidentID string) *Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byIDLocked(incidentID)
}

func (m *Manager) byIDLocked(incidentID string) *Incident {
	for _, inc := range m.active {
		if inc.ID == incidentID {
			return inc.clone()
		}
	}
	for _, inc := range m.history {
		if inc.ID == incidentID {
			return inc.clone()
		}
	}
	return nil
}

// List returns incidents newest first, optionally filtered by stream and
// restricted to active ones.
func (m *Manager) List(streamID string, activeOnly bool) []*Incident {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Incident, 0, len(m.active)+len(m.history))
	for _, inc := range m.active {
		if streamID == "" || inc.StreamID == streamID {
			out = append(out, inc.clone())
		}
	}
	if !activeOnly {
		for _, inc := range m.history {
			if streamID == "" || inc.StreamID == streamID {
				out = append(out, inc.clone())
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Create opens a new incident for the stream, capturing the health snapshot
// at the moment of failure. If an incident is already active for the stream,
// Create is a no-op that returns the existing incident: at most one
// non-resolved incident exists per stream.
func (m *Manager) Create(streamID, triggerReason string, snapshot health.Snapshot) *Incident {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[streamID]; ok {
		m.logger.Warn("incident_already_active",
			"stream_id", streamID,
			"incident_id", existing.ID,
		)
		return existing.clone()
	}

	now := m.clock.Now()
	inc := &Incident{
		ID:              "INC-" + newID(),
		StreamID:        streamID,
		Status:          StatusOpen,
		TriggerReason:   triggerReason,
		StartedAt:       now,
		MetricsSnapshot: snapshot,
	}
	inc.Timeline = append(inc.Timeline, TimelineEvent{
		EventID:   newID(),
		Timestamp: now,
		Type:      EventIncidentOpened,
		Message:   triggerReason,
	})

	m.active[streamID] = inc
	m.logger.Info("incident_created",
		"incident_id", inc.ID,
		"stream_id", streamID,
		"trigger", triggerReason,
	)
	return inc.clone()
}

// AddEvent appends a timeline event to the stream's active incident. There
// is no timeline without an incident: when none is active the event is
// silently dropped and nil is returned.
func (m *Manager) AddEvent(streamID string, typ EventType, message string, metadata map[string]string, thumbnailURL string) *TimelineEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addEventLocked(streamID, typ, message, metadata, thumbnailURL)
}

func (m *Manager) addEventLocked(streamID string, typ EventType, message string, metadata map[string]string, thumbnailURL string) *TimelineEvent {
	inc, ok := m.active[streamID]
	if !ok {
		return nil
	}

	ev := TimelineEvent{
		EventID:      newID(),
		Timestamp:    m.clock.Now(),
		Type:         typ,
		Message:      message,
		Metadata:     metadata,
		ThumbnailURL: thumbnailURL,
	}
	inc.Timeline = append(inc.Timeline, ev)

	if len(inc.Timeline) > MaxTimelineEvents {
		inc.Timeline = inc.Timeline[len(inc.Timeline)-MaxTimelineEvents:]
	}

	return &ev
}

// Acknowledge transitions an OPEN incident to ACKNOWLEDGED and records a
// timeline event. Acknowledging an already-acknowledged incident is
// idempotent: the incident is returned unchanged, with no re-stamped
// timestamp and no duplicate event. Returns nil for unknown or resolved ids.
func (m *Manager) Acknowledge(incidentID string) *Incident {
	m.mu.Lock()
	defer m.mu.Unlock()

	for streamID, inc := range m.active {
		if inc.ID != incidentID {
			continue
		}
		if inc.Status == StatusOpen {
			now := m.clock.Now()
			inc.Status = StatusAcknowledged
			inc.AcknowledgedAt = &now
			m.addEventLocked(streamID, EventIncidentAcknowledged, "Incident acknowledged by operator", nil, "")
			m.logger.Info("incident_acknowledged", "incident_id", incidentID)
		}
		return inc.clone()
	}
	return nil
}

// Resolve closes the stream's active incident: stamps RESOLVED, appends a
// final timeline event, moves the incident into history (evicting the oldest
// entry past MaxHistory), and clears the active slot. Returns nil when no
// incident is active; an incident cannot be resolved twice.
func (m *Manager) Resolve(streamID, reason string) *Incident {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.active[streamID]
	if !ok {
		return nil
	}

	now := m.clock.Now()
	inc.Status = StatusResolved
	inc.ResolvedAt = &now
	m.addEventLocked(streamID, EventIncidentResolved, reason, nil, "")

	delete(m.active, streamID)
	m.history = append(m.history, inc)
	if len(m.history) > MaxHistory {
		m.history = m.history[len(m.history)-MaxHistory:]
	}

	m.logger.Info("incident_resolved",
		"incident_id", inc.ID,
		"stream_id", streamID,
		"reason", reason,
	)
	return inc.clone()
}

// CleanupStream removes the stream's active incident and purges its history
// entries. Called only when a stream is permanently removed.
func (m *Manager) CleanupStream(streamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active, streamID)

	kept := m.history[:0]
	for _, inc := range m.history {
		if inc.StreamID != streamID {
			kept = append(kept, inc)
		}
	}
	m.history = kept
}
