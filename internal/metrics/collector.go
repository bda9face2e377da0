// Package metrics exposes Prometheus metrics for the monitoring engine:
// engine-wide counters, per-stream health gauges, and incident totals.
// Per-stream series use the stream id label; cardinality is bounded by the
// number of monitored streams, which is small.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kvkushal/hls-stream-ops/internal/health"
	"github.com/kvkushal/hls-stream-ops/internal/monitor"
)

var (
	opsInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hls_ops_info",
			Help: "Build information (value always 1)",
		},
		[]string{"version"},
	)

	opsMonitoredStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_ops_monitored_streams",
			Help: "Number of streams currently monitored",
		},
	)

	opsSegmentsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_ops_segments_processed_total",
			Help: "Total segments downloaded and measured",
		},
	)

	opsSegmentErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_ops_segment_errors_total",
			Help: "Total failed segment downloads",
		},
	)

	opsManifestErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_ops_manifest_errors_total",
			Help: "Total failed playlist fetches",
		},
	)

	opsIncidentsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_ops_incidents_opened_total",
			Help: "Total incidents opened",
		},
	)

	opsIncidentsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hls_ops_incidents_resolved_total",
			Help: "Total incidents resolved",
		},
	)

	opsActiveIncidents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hls_ops_active_incidents",
			Help: "Streams with a non-resolved incident",
		},
	)

	opsStreamHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hls_ops_stream_health",
			Help: "Stream health state (0=green, 1=yellow, 2=red)",
		},
		[]string{"stream_id"},
	)

	opsStreamTTFBMs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hls_ops_stream_ttfb_milliseconds",
			Help: "Average segment TTFB over the rolling window",
		},
		[]string{"stream_id"},
	)

	opsStreamDownloadRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hls_ops_stream_download_ratio",
			Help: "Average download speed ratio over the rolling window (>1 keeps up with realtime)",
		},
		[]string{"stream_id"},
	)

	opsStreamErrorCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hls_ops_stream_error_count",
			Help: "Segment errors in the rolling window",
		},
		[]string{"stream_id"},
	)
)

// Collector bridges supervisor state into Prometheus. Counters are fed by
// deltas against the supervisor's monotonic totals so Record can be called
// from a refresh tick at any frequency.
type Collector struct {
	mu   sync.Mutex
	prev monitor.Totals

	// stream ids seen in the previous Record, for gauge cleanup when a
	// stream is removed.
	known map[string]struct{}
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(version string) *Collector {
	return NewCollectorWithRegistry(version, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(version string, registry prometheus.Registerer) *Collector {
	registry.MustRegister(
		opsInfo,
		opsMonitoredStreams,
		opsSegmentsProcessedTotal,
		opsSegmentErrorsTotal,
		opsManifestErrorsTotal,
		opsIncidentsOpenedTotal,
		opsIncidentsResolvedTotal,
		opsActiveIncidents,
		opsStreamHealth,
		opsStreamTTFBMs,
		opsStreamDownloadRatio,
		opsStreamErrorCount,
	)

	opsInfo.WithLabelValues(version).Set(1)

	return &Collector{known: make(map[string]struct{})}
}

// Record refreshes all metrics from a supervisor snapshot.
func (c *Collector) Record(streams []monitor.StreamSummary, totals monitor.Totals) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addDelta(opsSegmentsProcessedTotal, totals.SegmentsProcessed, c.prev.SegmentsProcessed)
	addDelta(opsSegmentErrorsTotal, totals.SegmentErrors, c.prev.SegmentErrors)
	addDelta(opsManifestErrorsTotal, totals.ManifestErrors, c.prev.ManifestErrors)
	addDelta(opsIncidentsOpenedTotal, totals.IncidentsOpened, c.prev.IncidentsOpened)
	addDelta(opsIncidentsResolvedTotal, totals.IncidentsResolved, c.prev.IncidentsResolved)
	c.prev = totals

	opsMonitoredStreams.Set(float64(len(streams)))

	current := make(map[string]struct{}, len(streams))
	active := 0
	for _, s := range streams {
		current[s.ID] = struct{}{}
		if s.ActiveIncident {
			active++
		}
		opsStreamHealth.WithLabelValues(s.ID).Set(healthValue(s.State))
		opsStreamTTFBMs.WithLabelValues(s.ID).Set(s.AvgTTFBMs)
		opsStreamDownloadRatio.WithLabelValues(s.ID).Set(s.AvgDownloadRatio)
		opsStreamErrorCount.WithLabelValues(s.ID).Set(float64(s.ErrorCount))
	}
	opsActiveIncidents.Set(float64(active))

	for id := range c.known {
		if _, ok := current[id]; !ok {
			opsStreamHealth.DeleteLabelValues(id)
			opsStreamTTFBMs.DeleteLabelValues(id)
			opsStreamDownloadRatio.DeleteLabelValues(id)
			opsStreamErrorCount.DeleteLabelValues(id)
		}
	}
	c.known = current
}

func addDelta(counter prometheus.Counter, now, prev uint64) {
	if now > prev {
		counter.Add(float64(now - prev))
	}
}

func healthValue(s health.State) float64 {
	switch s {
	case health.StateYellow:
		return 1
	case health.StateRed:
		return 2
	default:
		return 0
	}
}
