package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kvkushal/hls-stream-ops/internal/health"
	"github.com/kvkushal/hls-stream-ops/internal/hls"
	"github.com/kvkushal/hls-stream-ops/internal/incident"
	"github.com/kvkushal/hls-stream-ops/internal/probe"
)

// mockClock provides deterministic time for testing.
type mockClock struct {
	mu   sync.Mutex
	time time.Time
}

func newMockClock() *mockClock {
	return &mockClock{time: time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = c.time.Add(d)
}

// fakeFetcher serves canned manifests and segment results keyed by URL.
type fakeFetcher struct {
	mu        sync.Mutex
	manifests map[string]string
	segments  map[string]*hls.SegmentResult
	segErrs   map[string]error
	fetched   []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		manifests: make(map[string]string),
		segments:  make(map[string]*hls.SegmentResult),
		segErrs:   make(map[string]error),
	}
}

func (f *fakeFetcher) FetchManifest(ctx context.Context, url string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.manifests[url]
	if !ok {
		return "", fmt.Errorf("manifest fetch: HTTP 404")
	}
	return m, nil
}

func (f *fakeFetcher) FetchSegment(ctx context.Context, url string) (*hls.SegmentResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if err, ok := f.segErrs[url]; ok {
		return nil, err
	}
	if res, ok := f.segments[url]; ok {
		return res, nil
	}
	return &hls.SegmentResult{
		Bytes:        []byte("segment"),
		SizeBytes:    7,
		TTFB:         50 * time.Millisecond,
		DownloadTime: 500 * time.Millisecond,
	}, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

// fakeProber returns a fixed duration or an error.
type fakeProber struct {
	duration float64
	err      error
}

func (p *fakeProber) Duration(ctx context.Context, segment []byte) (float64, error) {
	if p.err != nil {
		return 0, p.err
	}
	return p.duration, nil
}

// recordingThumbnailer captures thumbnail output paths.
type recordingThumbnailer struct {
	mu    sync.Mutex
	paths []string
}

func (g *recordingThumbnailer) Thumbnail(ctx context.Context, segment []byte, outPath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paths = append(g.paths, outPath)
	return nil
}

func (g *recordingThumbnailer) captured() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.paths...)
}

// recordingSink captures notify calls.
type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

type sinkEvent struct {
	streamID string
	event    string
}

func (s *recordingSink) Notify(streamID, event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{streamID, event})
}

func (s *recordingSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.event == event {
			n++
		}
	}
	return n
}

type testEnv struct {
	sup     *Supervisor
	fetcher *fakeFetcher
	clock   *mockClock
	sink    *recordingSink
	inc     *incident.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := newMockClock()
	fetcher := newFakeFetcher()
	sink := &recordingSink{}
	inc := incident.NewManagerWithClock(logger, clock)

	sup := New(Config{
		PollInterval: time.Hour, // ticks driven manually in tests
		Logger:       logger,
		Clock:        clock,
		Fetcher:      fetcher,
		Prober:       &fakeProber{duration: 6.0},
		Sink:         sink,
		Incidents:    inc,
	})
	return &testEnv{sup: sup, fetcher: fetcher, clock: clock, sink: sink, inc: inc}
}

// addStream registers a stream whose loop exits immediately, so tests can
// drive polls deterministically via pollOnce.
func (e *testEnv) addStream(t *testing.T, id, url string) *streamState {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.sup.AddStream(ctx, StreamConfig{ID: id, Name: id, URL: url}); err != nil {
		t.Fatalf("AddStream() error = %v", err)
	}
	st, err := e.sup.lookup(id)
	if err != nil {
		t.Fatalf("lookup() error = %v", err)
	}
	<-st.done
	return st
}

// pollAndWait runs one polling pass and waits for all spawned segment
// tasks to finish.
func (e *testEnv) pollAndWait(st *streamState) {
	e.sup.pollOnce(context.Background(), st)
	st.tasks.Wait()
}

const mediaManifest = `#EXTM3U
#EXTINF:6.0,
http://origin/seg1.ts
#EXTINF:6.0,
http://origin/seg2.ts
#EXTINF:6.0,
http://origin/seg3.ts
`

func TestAddStream_Validation(t *testing.T) {
	e := newTestEnv(t)

	if err := e.sup.AddStream(context.Background(), StreamConfig{ID: "", URL: "http://x"}); err == nil {
		t.Error("AddStream() with empty id = nil error, want error")
	}
	if err := e.sup.AddStream(context.Background(), StreamConfig{ID: "a", URL: ""}); err == nil {
		t.Error("AddStream() with empty url = nil error, want error")
	}
}

func TestAddStream_Duplicate(t *testing.T) {
	e := newTestEnv(t)
	e.addStream(t, "stream-1", "http://origin/playlist.m3u8")

	err := e.sup.AddStream(context.Background(), StreamConfig{ID: "stream-1", URL: "http://other"})
	if !errors.Is(err, ErrStreamExists) {
		t.Errorf("duplicate AddStream() error = %v, want ErrStreamExists", err)
	}
	if got := e.sup.StreamCount(); got != 1 {
		t.Errorf("StreamCount() = %d, want 1", got)
	}
}

func TestPoll_ProcessesNewSegmentsOnce(t *testing.T) {
	e := newTestEnv(t)
	e.fetcher.manifests["http://origin/playlist.m3u8"] = mediaManifest
	st := e.addStream(t, "stream-1", "http://origin/playlist.m3u8")

	e.pollAndWait(st)
	if got := e.fetcher.fetchCount(); got != 3 {
		t.Fatalf("segment fetches after first poll = %d, want 3", got)
	}

	// Same playlist again: nothing new to download.
	e.pollAndWait(st)
	if got := e.fetcher.fetchCount(); got != 3 {
		t.Errorf("segment fetches after repeat poll = %d, want 3", got)
	}

	summary := e.sup.ListStreams()[0]
	if summary.State != health.StateGreen {
		t.Errorf("state = %v (%s), want green", summary.State, summary.Reason)
	}
	if summary.ErrorCount != 0 {
		t.Errorf("error count = %d, want 0", summary.ErrorCount)
	}
	// 6s segments downloaded in 0.5s: ratio 12x.
	if summary.AvgDownloadRatio < 11.9 || summary.AvgDownloadRatio > 12.1 {
		t.Errorf("avg ratio = %v, want ~12", summary.AvgDownloadRatio)
	}
	if got := e.sup.Totals().SegmentsProcessed; got != 3 {
		t.Errorf("Totals().SegmentsProcessed = %d, want 3", got)
	}
}

func TestPoll_MasterDrillDown(t *testing.T) {
	e := newTestEnv(t)
	e.fetcher.manifests["http://origin/master.m3u8"] = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000
http://origin/low/playlist.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000
http://origin/high/playlist.m3u8
`
	e.fetcher.manifests["http://origin/high/playlist.m3u8"] = `#EXTM3U
#EXTINF:6.0,
http://origin/high/seg1.ts
`
	st := e.addStream(t, "stream-1", "http://origin/master.m3u8")

	e.pollAndWait(st)

	e.fetcher.mu.Lock()
	fetched := append([]string(nil), e.fetcher.fetched...)
	e.fetcher.mu.Unlock()
	if len(fetched) != 1 || fetched[0] != "http://origin/high/seg1.ts" {
		t.Errorf("fetched = %v, want only the highest-bandwidth rendition's segment", fetched)
	}
}

func TestPoll_ManifestFailureDegradesHealth(t *testing.T) {
	e := newTestEnv(t)
	// No manifest registered: every fetch 404s.
	st := e.addStream(t, "stream-1", "http://origin/missing.m3u8")

	for i := 0; i < 3; i++ {
		e.pollAndWait(st)
		e.clock.Advance(5 * time.Second)
	}

	summary := e.sup.ListStreams()[0]
	if summary.State != health.StateRed {
		t.Fatalf("state after 3 manifest failures = %v, want red", summary.State)
	}
	if summary.ErrorCount != 3 {
		t.Errorf("error count = %d, want 3", summary.ErrorCount)
	}
	if !summary.ActiveIncident {
		t.Error("no active incident after RED transition")
	}
	if got := e.sink.count("incident_opened"); got != 1 {
		t.Errorf("incident_opened notifications = %d, want 1", got)
	}
	if got := e.sup.Totals().ManifestErrors; got != 3 {
		t.Errorf("Totals().ManifestErrors = %d, want 3", got)
	}

	details, err := e.sup.StreamDetails("stream-1")
	if err != nil {
		t.Fatalf("StreamDetails() error = %v", err)
	}
	if details.RootCause == nil || details.RootCause.Label != "Origin/CDN Outage" {
		t.Errorf("root cause = %+v, want Origin/CDN Outage", details.RootCause)
	}
	if details.Incident == nil || details.Incident.Status != incident.StatusOpen {
		t.Errorf("incident = %+v, want open incident", details.Incident)
	}
}

func TestPoll_SegmentErrorsThenRecovery(t *testing.T) {
	e := newTestEnv(t)
	e.fetcher.manifests["http://origin/playlist.m3u8"] = mediaManifest
	e.fetcher.segErrs["http://origin/seg1.ts"] = errors.New("segment fetch: HTTP 503")
	e.fetcher.segErrs["http://origin/seg2.ts"] = errors.New("segment fetch: HTTP 503")
	e.fetcher.segErrs["http://origin/seg3.ts"] = errors.New("segment fetch: HTTP 503")
	st := e.addStream(t, "stream-1", "http://origin/playlist.m3u8")

	e.pollAndWait(st)

	if got := e.sup.ListStreams()[0].State; got != health.StateRed {
		t.Fatalf("state after 3 segment errors = %v, want red", got)
	}
	if !e.inc.HasActive("stream-1") {
		t.Fatal("no incident after RED transition")
	}

	// Errors age out of the window and fresh segments succeed: GREEN again,
	// incident auto-resolved.
	e.clock.Advance(3 * time.Minute)
	e.fetcher.mu.Lock()
	e.fetcher.segErrs = map[string]error{}
	e.fetcher.manifests["http://origin/playlist.m3u8"] = `#EXTM3U
#EXTINF:6.0,
http://origin/seg4.ts
`
	e.fetcher.mu.Unlock()
	e.pollAndWait(st)

	if got := e.sup.ListStreams()[0].State; got != health.StateGreen {
		t.Fatalf("state after recovery = %v, want green", got)
	}
	if e.inc.HasActive("stream-1") {
		t.Error("incident still active after recovery")
	}
	if got := e.sink.count("incident_resolved"); got != 1 {
		t.Errorf("incident_resolved notifications = %d, want 1", got)
	}
}

// TestSegment_ThumbnailOnlyDuringIncident verifies frames are captured only
// while an incident is active, at the stream's stable thumbnail path, with
// the matching timeline event.
func TestSegment_ThumbnailOnlyDuringIncident(t *testing.T) {
	e := newTestEnv(t)
	thumbs := &recordingThumbnailer{}
	dir := t.TempDir()
	e.sup.cfg.Thumbnailer = thumbs
	e.sup.cfg.ThumbnailDir = dir

	// Healthy stream first: no incident, no captures.
	e.fetcher.manifests["http://origin/playlist.m3u8"] = `#EXTM3U
#EXTINF:6.0,
http://origin/seg0.ts
`
	st := e.addStream(t, "stream-1", "http://origin/playlist.m3u8")
	e.pollAndWait(st)
	if got := thumbs.captured(); len(got) != 0 {
		t.Fatalf("captures on healthy stream = %v, want none", got)
	}

	// Three segment errors open an incident.
	e.fetcher.mu.Lock()
	e.fetcher.manifests["http://origin/playlist.m3u8"] = mediaManifest
	e.fetcher.segErrs["http://origin/seg1.ts"] = errors.New("segment fetch: HTTP 503")
	e.fetcher.segErrs["http://origin/seg2.ts"] = errors.New("segment fetch: HTTP 503")
	e.fetcher.segErrs["http://origin/seg3.ts"] = errors.New("segment fetch: HTTP 503")
	e.fetcher.mu.Unlock()
	e.pollAndWait(st)
	if !e.inc.HasActive("stream-1") {
		t.Fatal("no incident after 3 segment errors")
	}

	// A successful segment while the window is still RED gets captured.
	e.fetcher.mu.Lock()
	e.fetcher.manifests["http://origin/playlist.m3u8"] = mediaManifest + `#EXTINF:6.0,
http://origin/seg4.ts
`
	e.fetcher.mu.Unlock()
	e.pollAndWait(st)

	want := probe.ThumbnailName(dir, "stream-1")
	got := thumbs.captured()
	if len(got) != 1 || got[0] != want {
		t.Fatalf("captured paths = %v, want [%s]", got, want)
	}

	var found bool
	for _, ev := range e.inc.Active("stream-1").Timeline {
		if ev.ThumbnailURL == "/thumbnails/stream-1.jpg" {
			found = true
		}
	}
	if !found {
		t.Error("timeline missing event with thumbnail URL")
	}
}

// TestUpdateHealth_ProlongedYellow verifies an incident opens when the
// stream sits YELLOW past the threshold without ever turning RED.
func TestUpdateHealth_ProlongedYellow(t *testing.T) {
	e := newTestEnv(t)
	e.fetcher.segments["http://origin/seg1.ts"] = &hls.SegmentResult{
		Bytes:        []byte("x"),
		SizeBytes:    1,
		TTFB:         600 * time.Millisecond, // YELLOW latency, below RED
		DownloadTime: time.Second,
	}
	st := e.addStream(t, "stream-1", "http://origin/playlist.m3u8")

	serve := func(uri string) {
		e.fetcher.mu.Lock()
		e.fetcher.manifests["http://origin/playlist.m3u8"] = "#EXTM3U\n#EXTINF:6.0,\n" + uri + "\n"
		e.fetcher.segments[uri] = &hls.SegmentResult{
			Bytes:        []byte("x"),
			SizeBytes:    1,
			TTFB:         600 * time.Millisecond,
			DownloadTime: time.Second,
		}
		e.fetcher.mu.Unlock()
	}

	serve("http://origin/seg1.ts")
	e.pollAndWait(st)
	if got := e.sup.ListStreams()[0].State; got != health.StateYellow {
		t.Fatalf("state = %v, want yellow", got)
	}
	if e.inc.HasActive("stream-1") {
		t.Fatal("incident opened before the prolonged-yellow threshold")
	}

	e.clock.Advance(90 * time.Second)
	serve("http://origin/seg2.ts")
	e.pollAndWait(st)
	if e.inc.HasActive("stream-1") {
		t.Fatal("incident opened at 90s of YELLOW, threshold is 120s")
	}

	e.clock.Advance(60 * time.Second)
	serve("http://origin/seg3.ts")
	e.pollAndWait(st)
	if !e.inc.HasActive("stream-1") {
		t.Fatal("no incident after 150s of YELLOW")
	}
	inc := e.inc.Active("stream-1")
	if inc.TriggerReason != "Stream degraded (YELLOW) for over 2 minutes" {
		t.Errorf("trigger = %q", inc.TriggerReason)
	}
}

func TestRemoveStream(t *testing.T) {
	e := newTestEnv(t)
	e.fetcher.manifests["http://origin/playlist.m3u8"] = mediaManifest

	// Real loop this time: removal must stop it and drain tasks.
	if err := e.sup.AddStream(context.Background(), StreamConfig{ID: "stream-1", URL: "http://origin/playlist.m3u8"}); err != nil {
		t.Fatalf("AddStream() error = %v", err)
	}
	e.inc.Create("stream-1", "trigger", health.Snapshot{State: health.StateRed})

	if err := e.sup.RemoveStream("stream-1"); err != nil {
		t.Fatalf("RemoveStream() error = %v", err)
	}
	if got := e.sup.StreamCount(); got != 0 {
		t.Errorf("StreamCount() = %d, want 0", got)
	}
	if e.inc.HasActive("stream-1") {
		t.Error("incident survived stream removal")
	}
	if err := e.sup.RemoveStream("stream-1"); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("second RemoveStream() error = %v, want ErrStreamNotFound", err)
	}
}

func TestSeries(t *testing.T) {
	e := newTestEnv(t)
	e.fetcher.manifests["http://origin/playlist.m3u8"] = mediaManifest
	st := e.addStream(t, "stream-1", "http://origin/playlist.m3u8")

	e.pollAndWait(st)

	points, _, err := e.sup.Series("stream-1", 10*time.Minute)
	if err != nil {
		t.Fatalf("Series() error = %v", err)
	}
	if len(points) == 0 {
		t.Error("Series() returned no points after a poll")
	}

	if _, _, err := e.sup.Series("nope", time.Minute); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("Series(unknown) error = %v, want ErrStreamNotFound", err)
	}
}

func TestSeenSet_Eviction(t *testing.T) {
	s := newSeenSet(3)

	for i := 0; i < 5; i++ {
		if !s.add(fmt.Sprintf("seg%d.ts", i)) {
			t.Errorf("add(seg%d) = false, want true", i)
		}
	}
	if s.len() != 3 {
		t.Errorf("len = %d, want 3", s.len())
	}
	// Oldest evicted: re-adding reports it as new.
	if !s.add("seg0.ts") {
		t.Error("add(evicted url) = false, want true")
	}
	// Recent entries still remembered.
	if s.add("seg4.ts") {
		t.Error("add(recent url) = true, want false")
	}
}

func TestProberFallback(t *testing.T) {
	e := newTestEnv(t)
	e.sup.cfg.Prober = &fakeProber{err: errors.New("ffprobe failed")}
	e.fetcher.manifests["http://origin/playlist.m3u8"] = `#EXTM3U
#EXTINF:6.0,
http://origin/seg1.ts
`
	e.fetcher.segments["http://origin/seg1.ts"] = &hls.SegmentResult{
		Bytes:        []byte("x"),
		SizeBytes:    1,
		TTFB:         50 * time.Millisecond,
		DownloadTime: 3 * time.Second,
	}
	st := e.addStream(t, "stream-1", "http://origin/playlist.m3u8")

	e.pollAndWait(st)

	recent := st.window.Recent()
	if len(recent) != 1 {
		t.Fatalf("recent = %d outcomes, want 1", len(recent))
	}
	if recent[0].SegmentDuration != DefaultSegmentDuration {
		t.Errorf("duration = %v, want fallback %v", recent[0].SegmentDuration, DefaultSegmentDuration)
	}
	// 6s nominal over 3s download: ratio 2x.
	if recent[0].DownloadRatio != 2.0 {
		t.Errorf("ratio = %v, want 2.0", recent[0].DownloadRatio)
	}
}
