package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kvkushal/hls-stream-ops/internal/health"
	"github.com/kvkushal/hls-stream-ops/internal/hls"
	"github.com/kvkushal/hls-stream-ops/internal/incident"
	"github.com/kvkushal/hls-stream-ops/internal/probe"
	"github.com/kvkushal/hls-stream-ops/internal/window"
)

// streamState holds everything mutable about one monitored stream. The
// polling loop is its only writer for seen/seq; health fields are guarded
// by healthMu because segment tasks finish concurrently.
type streamState struct {
	cfg    StreamConfig
	window *window.MetricsWindow
	series *window.History
	seen   *seenSet

	cancel context.CancelFunc
	done   chan struct{}
	tasks  sync.WaitGroup

	nextSeq int64 // touched only by the poll goroutine

	// healthMu serializes health evaluation so concurrent segment
	// completions cannot interleave state transitions.
	healthMu                 sync.Mutex
	state                    health.State
	reason                   string
	lastUpdated              time.Time
	yellowSince              *time.Time
	rootCause                *health.RootCause
	manifestErrors           int // consecutive failed manifest fetches
	consecutiveSegmentErrors int
}

// seenSet remembers the most recent segment URLs to avoid reprocessing.
// FIFO eviction past cap. Not thread-safe; only the poll goroutine uses it.
type seenSet struct {
	cap   int
	set   map[string]struct{}
	order []string
}

func newSeenSet(cap int) *seenSet {
	return &seenSet{cap: cap, set: make(map[string]struct{}, cap)}
}

// add records a URL, returning true when it was not seen before.
func (s *seenSet) add(url string) bool {
	if _, ok := s.set[url]; ok {
		return false
	}
	s.set[url] = struct{}{}
	s.order = append(s.order, url)
	if len(s.order) > s.cap {
		evict := s.order[0]
		s.order = s.order[1:]
		delete(s.set, evict)
	}
	return true
}

func (s *seenSet) len() int { return len(s.set) }

// run is the per-stream polling loop. It exits only on context
// cancellation; every fault inside a poll is caught and recorded.
func (s *Supervisor) run(ctx context.Context, st *streamState) {
	defer close(st.done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.poll(ctx, st)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("stream_loop_stopped", "stream_id", st.cfg.ID)
			return
		case <-ticker.C:
			s.poll(ctx, st)
		}
	}
}

// poll wraps one polling pass with panic recovery so a fault in one tick
// never kills the loop.
func (s *Supervisor) poll(ctx context.Context, st *streamState) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("poll_panic",
				"stream_id", st.cfg.ID,
				"panic", fmt.Sprint(r),
			)
			s.recordManifestError(ctx, st, fmt.Sprintf("internal error: %v", r))
		}
	}()
	s.pollOnce(ctx, st)
}

// pollOnce fetches the playlist, drills into the highest-bandwidth
// rendition when it turns out to be a master, and spawns a download task
// for each unseen segment.
func (s *Supervisor) pollOnce(ctx context.Context, st *streamState) {
	manifestURL := st.cfg.URL
	content, err := s.cfg.Fetcher.FetchManifest(ctx, manifestURL)
	if err != nil {
		s.recordManifestError(ctx, st, err.Error())
		return
	}

	renditions, segments := hls.ParseManifest(content, manifestURL)
	if hls.IsMaster(renditions, segments) {
		best, _ := hls.HighestBandwidth(renditions)
		manifestURL = best.URI
		content, err = s.cfg.Fetcher.FetchManifest(ctx, manifestURL)
		if err != nil {
			s.recordManifestError(ctx, st, err.Error())
			return
		}
		_, segments = hls.ParseManifest(content, manifestURL)
	}

	st.healthMu.Lock()
	st.manifestErrors = 0
	st.healthMu.Unlock()

	for _, segURL := range segments {
		if !st.seen.add(segURL) {
			continue
		}
		seq := st.nextSeq
		st.nextSeq++

		st.tasks.Add(1)
		go func(url string, seq int64) {
			defer st.tasks.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("segment_task_panic",
						"stream_id", st.cfg.ID,
						"uri", url,
						"panic", fmt.Sprint(r),
					)
				}
			}()
			s.processSegment(ctx, st, url, seq)
		}(segURL, seq)
	}
}

// recordManifestError turns a failed playlist fetch into a synthetic error
// outcome so it degrades health like any segment failure, and bumps the
// consecutive manifest error counter feeding root-cause classification.
func (s *Supervisor) recordManifestError(ctx context.Context, st *streamState, msg string) {
	if ctx.Err() != nil {
		return
	}
	s.manifestErrors.Add(1)

	st.healthMu.Lock()
	st.manifestErrors++
	st.healthMu.Unlock()

	s.logger.Warn("manifest_fetch_failed", "stream_id", st.cfg.ID, "error", msg)

	outcome := window.SegmentOutcome{
		URI:          st.cfg.URL,
		Timestamp:    s.clock.Now(),
		IsError:      true,
		ErrorMessage: "manifest: " + msg,
	}
	st.window.Add(outcome)
	s.cfg.Incidents.AddEvent(st.cfg.ID, incident.EventSegmentError,
		"Manifest fetch failed: "+msg, map[string]string{"uri": st.cfg.URL}, "")
	s.updateHealth(st)
	s.notify(st.cfg.ID, "segment", outcome)
}

// processSegment downloads and times one segment, probes its duration,
// records the outcome, and re-evaluates health. The context check before
// recording keeps results from landing on a stream being torn down.
func (s *Supervisor) processSegment(ctx context.Context, st *streamState, url string, seq int64) {
	res, err := s.cfg.Fetcher.FetchSegment(ctx, url)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		s.segmentErrors.Add(1)

		st.healthMu.Lock()
		st.consecutiveSegmentErrors++
		st.healthMu.Unlock()

		s.logger.Warn("segment_fetch_failed",
			"stream_id", st.cfg.ID,
			"uri", url,
			"error", err.Error(),
		)

		outcome := window.SegmentOutcome{
			URI:            url,
			Timestamp:      s.clock.Now(),
			SequenceNumber: seq,
			IsError:        true,
			ErrorMessage:   err.Error(),
		}
		st.window.Add(outcome)
		s.cfg.Incidents.AddEvent(st.cfg.ID, incident.EventSegmentError,
			"Segment download failed: "+err.Error(), map[string]string{"uri": url}, "")
		s.updateHealth(st)
		s.notify(st.cfg.ID, "segment", outcome)
		return
	}

	s.segmentsProcessed.Add(1)

	duration := DefaultSegmentDuration
	if s.cfg.Prober != nil {
		if d, err := s.cfg.Prober.Duration(ctx, res.Bytes); err == nil {
			duration = d
		} else {
			s.logger.Debug("duration_probe_failed",
				"stream_id", st.cfg.ID,
				"uri", url,
				"error", err.Error(),
			)
		}
	}

	downloadSec := res.DownloadTime.Seconds()
	if downloadSec <= 0 {
		// Sub-resolution download time; clamp so the ratio stays finite.
		downloadSec = 0.001
	}

	outcome := window.SegmentOutcome{
		URI:             url,
		SegmentDuration: duration,
		TTFBMs:          float64(res.TTFB.Milliseconds()),
		DownloadTimeMs:  float64(res.DownloadTime.Milliseconds()),
		DownloadRatio:   duration / downloadSec,
		SizeBytes:       res.SizeBytes,
		Timestamp:       s.clock.Now(),
		SequenceNumber:  seq,
	}

	st.healthMu.Lock()
	st.consecutiveSegmentErrors = 0
	st.healthMu.Unlock()

	st.window.Add(outcome)
	s.updateHealth(st)
	s.notify(st.cfg.ID, "segment", outcome)

	s.captureThumbnail(ctx, st, res.Bytes)
}

// captureThumbnail grabs a frame for the incident timeline. Best effort,
// and only while an incident is active; a healthy stream takes no
// captures.
func (s *Supervisor) captureThumbnail(ctx context.Context, st *streamState, segment []byte) {
	if s.cfg.Thumbnailer == nil || s.cfg.ThumbnailDir == "" {
		return
	}
	if !s.cfg.Incidents.HasActive(st.cfg.ID) {
		return
	}

	if err := os.MkdirAll(s.cfg.ThumbnailDir, 0o755); err != nil {
		s.logger.Debug("thumbnail_dir_failed", "error", err.Error())
		return
	}
	outPath := probe.ThumbnailName(s.cfg.ThumbnailDir, st.cfg.ID)
	if err := s.cfg.Thumbnailer.Thumbnail(ctx, segment, outPath); err != nil {
		s.logger.Debug("thumbnail_failed", "stream_id", st.cfg.ID, "error", err.Error())
		return
	}

	s.cfg.Incidents.AddEvent(st.cfg.ID, incident.EventSegmentOK,
		"Frame captured", nil, "/thumbnails/"+st.cfg.ID+".jpg")
}

// updateHealth recomputes the stream's health from windowed aggregates and
// drives every downstream consequence: timeline events, incident creation,
// auto-resolution, root cause, series history. Serialized per stream by
// healthMu so concurrent segment completions observe consistent
// prev-state transitions.
func (s *Supervisor) updateHealth(st *streamState) {
	st.healthMu.Lock()
	defer st.healthMu.Unlock()

	id := st.cfg.ID
	errCount := st.window.ErrorCount()
	avgTTFB := st.window.AvgTTFB()
	avgRatio := st.window.AvgDownloadRatio()
	now := s.clock.Now()

	state, reason := health.Compute(errCount, avgTTFB, avgRatio)
	st.series.RecordPoint(avgTTFB, avgRatio, errCount)

	prev := st.state
	if state != prev {
		st.series.RecordState(state)
		s.logger.Info("health_changed",
			"stream_id", id,
			"from", prev.String(),
			"to", state.String(),
			"reason", reason,
		)
		s.cfg.Incidents.AddEvent(id, incident.EventHealthChange,
			fmt.Sprintf("Health changed from %s to %s", prev.Upper(), state.Upper()), nil, "")
		s.notify(id, "health_change", map[string]string{
			"from":   prev.String(),
			"to":     state.String(),
			"reason": reason,
		})
	}

	var yellowDur time.Duration
	if state == health.StateYellow {
		if st.yellowSince == nil {
			t := now
			st.yellowSince = &t
		}
		yellowDur = now.Sub(*st.yellowSince)
	} else {
		st.yellowSince = nil
	}

	st.rootCause = health.ClassifyRootCause(errCount, avgTTFB, avgRatio,
		st.manifestErrors, st.consecutiveSegmentErrors)

	if ok, trigger := health.ShouldCreateIncident(state, prev, yellowDur); ok && !s.cfg.Incidents.HasActive(id) {
		snap := health.Snapshot{
			State:            state,
			Reason:           reason,
			LastUpdated:      now,
			ErrorCount:       errCount,
			AvgTTFBMs:        avgTTFB,
			AvgDownloadRatio: avgRatio,
		}
		inc := s.cfg.Incidents.Create(id, trigger, snap)
		s.incidentsOpened.Add(1)
		s.notify(id, "incident_opened", inc)
	}

	if state == health.StateGreen {
		if inc := s.cfg.Incidents.Resolve(id, "Health returned to GREEN"); inc != nil {
			s.incidentsResolved.Add(1)
			s.notify(id, "incident_resolved", inc)
		}
	}

	st.state = state
	st.reason = reason
	st.lastUpdated = now
}
