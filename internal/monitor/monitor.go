// Package monitor runs the per-stream polling loops and owns all mutable
// per-stream state: rolling metrics, health, root cause, and the hooks into
// incident tracking. One goroutine polls each stream's playlist; segment
// downloads fan out into short-lived tasks tracked by a per-stream
// WaitGroup so removal can tear a stream down atomically.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvkushal/hls-stream-ops/internal/health"
	"github.com/kvkushal/hls-stream-ops/internal/hls"
	"github.com/kvkushal/hls-stream-ops/internal/incident"
	"github.com/kvkushal/hls-stream-ops/internal/window"
)

// DefaultSegmentDuration is assumed when the duration probe is unavailable
// or fails. Typical HLS target duration.
const DefaultSegmentDuration = 6.0

// seenSetCap bounds the per-stream set of already-processed segment URLs.
// Live playlists slide forward, so remembering the most recent URLs is
// enough to avoid re-downloading.
const seenSetCap = 512

var (
	ErrStreamExists   = errors.New("stream already exists")
	ErrStreamNotFound = errors.New("stream not found")
)

// StreamConfig identifies one monitored stream. Persisted as-is by the
// store layer.
type StreamConfig struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// Validate checks the config for required fields.
func (c StreamConfig) Validate() error {
	if c.ID == "" {
		return errors.New("stream id is required")
	}
	if c.URL == "" {
		return errors.New("stream url is required")
	}
	return nil
}

// Fetcher is the subset of the HLS client the supervisor needs.
type Fetcher interface {
	FetchManifest(ctx context.Context, url string) (string, error)
	FetchSegment(ctx context.Context, url string) (*hls.SegmentResult, error)
}

// DurationProber extracts media duration from segment bytes.
type DurationProber interface {
	Duration(ctx context.Context, segment []byte) (float64, error)
}

// ThumbnailGenerator captures a still frame from segment bytes.
type ThumbnailGenerator interface {
	Thumbnail(ctx context.Context, segment []byte, outPath string) error
}

// EventSink receives live engine events. Delivery is fire-and-forget,
// at-most-once; a sink must never block and its failures never affect
// engine state.
type EventSink interface {
	Notify(streamID, event string, payload any)
}

// StreamSummary is the list-view projection of a stream's state.
type StreamSummary struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	URL              string       `json:"url"`
	State            health.State `json:"health"`
	Reason           string       `json:"reason"`
	LastUpdated      time.Time    `json:"last_updated"`
	ErrorCount       int          `json:"error_count_2min"`
	AvgTTFBMs        float64      `json:"avg_ttfb_ms"`
	AvgDownloadRatio float64      `json:"avg_download_ratio"`
	ActiveIncident   bool         `json:"active_incident"`
}

// StreamDetails is the full projection for a single stream.
type StreamDetails struct {
	StreamSummary
	RootCause   *health.RootCause       `json:"root_cause,omitempty"`
	Incident    *incident.Incident      `json:"incident,omitempty"`
	Recent      []window.SegmentOutcome `json:"recent_segments"`
	Percentiles window.TTFBPercentiles  `json:"ttfb_percentiles"`
}

// Totals is a snapshot of supervisor-wide counters, consumed by the
// metrics collector.
type Totals struct {
	SegmentsProcessed uint64
	SegmentErrors     uint64
	ManifestErrors    uint64
	IncidentsOpened   uint64
	IncidentsResolved uint64
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config holds supervisor collaborators and tunables. Fetcher and
// Incidents are required; Prober, Thumbnailer, and Sink are optional.
type Config struct {
	PollInterval time.Duration // default 5s
	ThumbnailDir string
	Logger       *slog.Logger
	Clock        window.Clock

	Fetcher     Fetcher
	Prober      DurationProber
	Thumbnailer ThumbnailGenerator
	Sink        EventSink
	Incidents   *incident.Manager
}

// Supervisor owns the registry of monitored streams. All lifecycle
// operations and reads go through it.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	clock  window.Clock

	mu      sync.Mutex
	streams map[string]*streamState

	segmentsProcessed atomic.Uint64
	segmentErrors     atomic.Uint64
	manifestErrors    atomic.Uint64
	incidentsOpened   atomic.Uint64
	incidentsResolved atomic.Uint64
}

// New creates a Supervisor. Streams are added individually afterwards.
func New(cfg Config) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		streams: make(map[string]*streamState),
	}
}

// AddStream registers a stream and starts its polling loop. The parent
// context bounds the loop's lifetime alongside explicit removal.
func (s *Supervisor) AddStream(ctx context.Context, cfg StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.streams[cfg.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamExists, cfg.ID)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	st := &streamState{
		cfg:    cfg,
		window: window.NewWithClock(s.clock),
		series: window.NewHistoryWithClock(s.clock),
		seen:   newSeenSet(seenSetCap),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.streams[cfg.ID] = st
	s.mu.Unlock()

	s.logger.Info("stream_added", "stream_id", cfg.ID, "url", cfg.URL)
	go s.run(loopCtx, st)
	return nil
}

// RemoveStream tears a stream down atomically: stop the loop, wait for
// in-flight segment tasks, drop the registry entry, and purge incident
// state. Tasks re-check liveness before writing results, so nothing lands
// after removal returns.
func (s *Supervisor) RemoveStream(id string) error {
	s.mu.Lock()
	st, ok := s.streams[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	delete(s.streams, id)
	s.mu.Unlock()

	st.cancel()
	<-st.done
	st.tasks.Wait()

	s.cfg.Incidents.CleanupStream(id)
	s.logger.Info("stream_removed", "stream_id", id)
	return nil
}

// Sync reconciles the registry against a desired set of streams: absent
// ones are removed, new ones added. Used by the config hot-reload path.
func (s *Supervisor) Sync(ctx context.Context, desired []StreamConfig) {
	want := make(map[string]StreamConfig, len(desired))
	for _, cfg := range desired {
		want[cfg.ID] = cfg
	}

	s.mu.Lock()
	var remove []string
	for id := range s.streams {
		if _, ok := want[id]; !ok {
			remove = append(remove, id)
		}
	}
	s.mu.Unlock()

	for _, id := range remove {
		if err := s.RemoveStream(id); err != nil {
			s.logger.Warn("sync_remove_failed", "stream_id", id, "error", err.Error())
		}
	}
	for _, cfg := range desired {
		err := s.AddStream(ctx, cfg)
		if err != nil && !errors.Is(err, ErrStreamExists) {
			s.logger.Warn("sync_add_failed", "stream_id", cfg.ID, "error", err.Error())
		}
	}
}

// StreamCount returns the number of registered streams.
func (s *Supervisor) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// ListStreams returns summaries for all streams, unspecified order.
func (s *Supervisor) ListStreams() []StreamSummary {
	s.mu.Lock()
	states := make([]*streamState, 0, len(s.streams))
	for _, st := range s.streams {
		states = append(states, st)
	}
	s.mu.Unlock()

	out := make([]StreamSummary, 0, len(states))
	for _, st := range states {
		out = append(out, s.summary(st))
	}
	return out
}

// StreamDetails returns the full projection for one stream.
func (s *Supervisor) StreamDetails(id string) (*StreamDetails, error) {
	st, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	d := &StreamDetails{
		StreamSummary: s.summary(st),
		Incident:      s.cfg.Incidents.Active(id),
		Recent:        st.window.Recent(),
		Percentiles:   st.series.Percentiles(),
	}

	st.healthMu.Lock()
	d.RootCause = st.rootCause
	st.healthMu.Unlock()

	return d, nil
}

// Series returns the charting series for a stream over the given range,
// capped by the history retention.
func (s *Supervisor) Series(id string, rng time.Duration) ([]window.SeriesPoint, []window.HealthPoint, error) {
	st, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	points, states := st.series.Series(rng)
	return points, states, nil
}

// Config returns the stream's registration config.
func (s *Supervisor) StreamConfig(id string) (StreamConfig, error) {
	st, err := s.lookup(id)
	if err != nil {
		return StreamConfig{}, err
	}
	return st.cfg, nil
}

// Configs returns the registration configs of all streams, for
// persistence.
func (s *Supervisor) Configs() []StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamConfig, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, st.cfg)
	}
	return out
}

// Totals snapshots the supervisor-wide counters.
func (s *Supervisor) Totals() Totals {
	return Totals{
		SegmentsProcessed: s.segmentsProcessed.Load(),
		SegmentErrors:     s.segmentErrors.Load(),
		ManifestErrors:    s.manifestErrors.Load(),
		IncidentsOpened:   s.incidentsOpened.Load(),
		IncidentsResolved: s.incidentsResolved.Load(),
	}
}

func (s *Supervisor) lookup(id string) (*streamState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	return st, nil
}

func (s *Supervisor) summary(st *streamState) StreamSummary {
	st.healthMu.Lock()
	state, reason, updated := st.state, st.reason, st.lastUpdated
	st.healthMu.Unlock()

	return StreamSummary{
		ID:               st.cfg.ID,
		Name:             st.cfg.Name,
		URL:              st.cfg.URL,
		State:            state,
		Reason:           reason,
		LastUpdated:      updated,
		ErrorCount:       st.window.ErrorCount(),
		AvgTTFBMs:        st.window.AvgTTFB(),
		AvgDownloadRatio: st.window.AvgDownloadRatio(),
		ActiveIncident:   s.cfg.Incidents.HasActive(st.cfg.ID),
	}
}

// notify pushes an event to the sink when one is configured.
func (s *Supervisor) notify(streamID, event string, payload any) {
	if s.cfg.Sink == nil {
		return
	}
	s.cfg.Sink.Notify(streamID, event, payload)
}
