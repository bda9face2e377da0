// Package window provides the bounded, per-stream rolling buffer of recent
// segment outcomes that health derivation reads from, plus a longer series
// history used for charting.
//
// The rolling window is bounded two ways: at most MaxOutcomes entries are
// physically retained, and aggregate queries ignore anything older than
// MaxAge. Age filtering happens at query time, not insertion time, so stale
// entries stop influencing aggregates before capacity eviction removes them.
//
// Thread-safe: Add and the aggregate queries take a mutex. Memory is bounded
// regardless of stream lifetime.
package window

import (
	"sync"
	"time"
)

const (
	// MaxAge is the aggregation window: queries never consider outcomes
	// older than this.
	MaxAge = 120 * time.Second

	// MaxOutcomes caps physical retention (~60 segments in 2 minutes at 2s
	// segments).
	MaxOutcomes = 60
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// realClock uses time.Now() for production.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SegmentOutcome records one segment fetch attempt. Immutable once created.
type SegmentOutcome struct {
	URI             string    `json:"uri"`
	SegmentDuration float64   `json:"segment_duration"` // seconds
	TTFBMs          float64   `json:"ttfb"`             // milliseconds
	DownloadTimeMs  float64   `json:"download_time"`    // milliseconds
	DownloadRatio   float64   `json:"download_ratio"`   // duration / download time
	SizeBytes       int64     `json:"segment_size_bytes"`
	Timestamp       time.Time `json:"timestamp"`
	SequenceNumber  int64     `json:"sequence_number"`
	IsError         bool      `json:"is_error"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// MetricsWindow is a per-stream rolling buffer of recent segment outcomes.
type MetricsWindow struct {
	mu       sync.Mutex
	outcomes []SegmentOutcome // ring buffer, oldest overwritten
	writeIdx int
	count    int
	clock    Clock
}

// New creates a window with the real clock.
func New() *MetricsWindow {
	return NewWithClock(realClock{})
}

// NewWithClock creates a window with a custom clock for testing.
func NewWithClock(clock Clock) *MetricsWindow {
	return &MetricsWindow{
		outcomes: make([]SegmentOutcome, MaxOutcomes),
		clock:    clock,
	}
}

// Add appends an outcome, evicting the oldest entry when the buffer is full.
func (w *MetricsWindow) Add(o SegmentOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.outcomes[w.writeIdx] = o
	w.writeIdx = (w.writeIdx + 1) % MaxOutcomes
	if w.count < MaxOutcomes {
		w.count++
	}
}

// ErrorCount returns the number of error outcomes within the age window.
func (w *MetricsWindow) ErrorCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	w.eachRecent(func(o *SegmentOutcome) {
		if o.IsError {
			n++
		}
	})
	return n
}

// AvgTTFB returns the average TTFB in milliseconds over non-error outcomes
// within the age window, or 0 when there are none.
func (w *MetricsWindow) AvgTTFB() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var sum float64
	var n int
	w.eachRecent(func(o *SegmentOutcome) {
		if !o.IsError {
			sum += o.TTFBMs
			n++
		}
	})
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// AvgDownloadRatio returns the average download ratio over non-error
// outcomes within the age window. When there are none it returns 1.0: a
// neutral "no evidence of degradation" default, not a claim of perfect
// performance.
func (w *MetricsWindow) AvgDownloadRatio() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var sum float64
	var n int
	w.eachRecent(func(o *SegmentOutcome) {
		if !o.IsError {
			sum += o.DownloadRatio
			n++
		}
	})
	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

// Recent returns a copy of all outcomes within the age window, oldest first.
func (w *MetricsWindow) Recent() []SegmentOutcome {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]SegmentOutcome, 0, w.count)
	w.eachRecent(func(o *SegmentOutcome) {
		out = append(out, *o)
	})
	return out
}

// Len returns the number of physically retained outcomes, including stale
// ones not yet evicted. Useful for tests.
func (w *MetricsWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// eachRecent visits retained outcomes newer than the age cutoff, oldest
// first. Must be called with mu held.
func (w *MetricsWindow) eachRecent(fn func(*SegmentOutcome)) {
	cutoff := w.clock.Now().Add(-MaxAge)
	for i := 0; i < w.count; i++ {
		idx := i
		if w.count == MaxOutcomes {
			idx = (w.writeIdx + i) % MaxOutcomes
		}
		o := &w.outcomes[idx]
		if o.Timestamp.After(cutoff) {
			fn(o)
		}
	}
}
