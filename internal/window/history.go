package window

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/kvkushal/hls-stream-ops/internal/health"
)

const (
	// MaxHistoryAge is the longest range a charting read may cover.
	MaxHistoryAge = 60 * time.Minute

	// maxHistoryPoints bounds the series (~60 minutes at one point per
	// poll interval).
	maxHistoryPoints = 360

	// tdigestCompression trades accuracy for memory; 100 keeps the digest
	// around a few KB per stream.
	tdigestCompression = 100
)

// SeriesPoint is one data point for time-series charts.
type SeriesPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	TTFBMs        float64   `json:"ttfb_ms"`
	DownloadRatio float64   `json:"download_ratio"`
	ErrorCount    int       `json:"error_count"`
}

// HealthPoint records a health state at a point in time for the state
// timeline chart.
type HealthPoint struct {
	Timestamp time.Time    `json:"timestamp"`
	State     health.State `json:"state"`
}

// TTFBPercentiles summarizes the TTFB distribution over the whole history.
type TTFBPercentiles struct {
	P50 float64 `json:"p50_ms"`
	P95 float64 `json:"p95_ms"`
	P99 float64 `json:"p99_ms"`
}

// History is the per-stream series store backing the charting API: a bounded
// metrics series, a bounded health-state timeline, and a running TTFB
// distribution digest.
//
// Thread-safe.
type History struct {
	mu     sync.Mutex
	points []SeriesPoint // ring buffer
	pIdx   int
	pCount int

	states []HealthPoint // ring buffer
	sIdx   int
	sCount int

	digest *tdigest.TDigest
	clock  Clock
}

// NewHistory creates an empty history with the real clock.
func NewHistory() *History {
	return NewHistoryWithClock(realClock{})
}

// NewHistoryWithClock creates a history with a custom clock for testing.
func NewHistoryWithClock(clock Clock) *History {
	return &History{
		points: make([]SeriesPoint, maxHistoryPoints),
		states: make([]HealthPoint, maxHistoryPoints),
		digest: tdigest.NewWithCompression(tdigestCompression),
		clock:  clock,
	}
}

// RecordPoint appends a metrics data point and feeds the TTFB digest.
// Error-only points (ttfbMs == 0 with errors) still chart but do not skew
// the latency distribution.
func (h *History) RecordPoint(ttfbMs, ratio float64, errorCount int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.points[h.pIdx] = SeriesPoint{
		Timestamp:     h.clock.Now(),
		TTFBMs:        ttfbMs,
		DownloadRatio: ratio,
		ErrorCount:    errorCount,
	}
	h.pIdx = (h.pIdx + 1) % maxHistoryPoints
	if h.pCount < maxHistoryPoints {
		h.pCount++
	}

	if ttfbMs > 0 {
		h.digest.Add(ttfbMs, 1)
	}
}

// RecordState appends a health-state timeline entry.
func (h *History) RecordState(s health.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.states[h.sIdx] = HealthPoint{Timestamp: h.clock.Now(), State: s}
	h.sIdx = (h.sIdx + 1) % maxHistoryPoints
	if h.sCount < maxHistoryPoints {
		h.sCount++
	}
}

// Series returns the data points and health timeline covering the last
// `rng`, oldest first. Ranges beyond MaxHistoryAge are clamped.
func (h *History) Series(rng time.Duration) ([]SeriesPoint, []HealthPoint) {
	if rng <= 0 || rng > MaxHistoryAge {
		rng = MaxHistoryAge
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.clock.Now().Add(-rng)

	points := make([]SeriesPoint, 0, h.pCount)
	for i := 0; i < h.pCount; i++ {
		idx := i
		if h.pCount == maxHistoryPoints {
			idx = (h.pIdx + i) % maxHistoryPoints
		}
		if h.points[idx].Timestamp.After(cutoff) {
			points = append(points, h.points[idx])
		}
	}

	states := make([]HealthPoint, 0, h.sCount)
	for i := 0; i < h.sCount; i++ {
		idx := i
		if h.sCount == maxHistoryPoints {
			idx = (h.sIdx + i) % maxHistoryPoints
		}
		if h.states[idx].Timestamp.After(cutoff) {
			states = append(states, h.states[idx])
		}
	}

	return points, states
}

// Percentiles returns the TTFB distribution summary across all recorded
// points. Zeros when nothing has been recorded yet.
func (h *History) Percentiles() TTFBPercentiles {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pCount == 0 {
		return TTFBPercentiles{}
	}
	return TTFBPercentiles{
		P50: h.digest.Quantile(0.50),
		P95: h.digest.Quantile(0.95),
		P99: h.digest.Quantile(0.99),
	}
}
