package monitoring

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Resource outcomes reported by the asset pipeline.
const (
	ResourceFetched = "fetched"
	ResourceFailed  = "failed"
	ResourceCached  = "cached"
	ResourceSkipped = "skipped"
)

// Capture outcomes.
const (
	CaptureCompleted = "completed"
	CaptureFailed    = "failed"
)

// BrowserStatus is a point-in-time view of browser lifecycle counters,
// used to spot sessions that were launched but never released.
type BrowserStatus struct {
	Launches      int64     `json:"launches"`
	Cleanups      int64     `json:"cleanups"`
	Active        int64     `json:"active"`
	Goroutines    int       `json:"goroutines"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	LeakDetected  bool      `json:"leak_detected"`
	LeakReason    string    `json:"leak_reason,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// Monitor owns the Prometheus collectors for the service.
type Monitor struct {
	registry  *prometheus.Registry
	startTime time.Time

	launchCount  int64
	cleanupCount int64

	browsers       *prometheus.CounterVec
	activeBrowsers prometheus.Gauge
	resources      *prometheus.CounterVec
	resourceBytes  prometheus.Counter
	captures       *prometheus.CounterVec
	renderSeconds  prometheus.Histogram
	captureSeconds prometheus.Histogram
}

var globalMonitor *Monitor
var monitorOnce sync.Once

// GetGlobalMonitor returns the process-wide monitor.
func GetGlobalMonitor() *Monitor {
	monitorOnce.Do(func() {
		globalMonitor = NewMonitor()
	})
	return globalMonitor
}

// NewMonitor creates a monitor with its own registry.
func NewMonitor() *Monitor {
	m := &Monitor{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		browsers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitegrab",
			Name:      "browser_events_total",
			Help:      "Browser lifecycle events by engine and event.",
		}, []string{"engine", "event"}),
		activeBrowsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sitegrab",
			Name:      "browsers_active",
			Help:      "Browser sessions currently open.",
		}),
		resources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitegrab",
			Name:      "resources_total",
			Help:      "Asset resolutions by outcome.",
		}, []string{"outcome"}),
		resourceBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sitegrab",
			Name:      "resource_bytes_total",
			Help:      "Bytes of archived assets.",
		}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sitegrab",
			Name:      "captures_total",
			Help:      "Archival runs by outcome.",
		}, []string{"outcome"}),
		renderSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sitegrab",
			Name:      "render_duration_seconds",
			Help:      "Time spent rendering the target page.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		captureSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sitegrab",
			Name:      "capture_duration_seconds",
			Help:      "Time spent on a whole archival run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	m.registry.MustRegister(
		m.browsers,
		m.activeBrowsers,
		m.resources,
		m.resourceBytes,
		m.captures,
		m.renderSeconds,
		m.captureSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// RecordBrowserLaunch counts a browser session start.
func (m *Monitor) RecordBrowserLaunch(engine string) {
	n := atomic.AddInt64(&m.launchCount, 1)
	m.browsers.WithLabelValues(engine, "launch").Inc()
	m.activeBrowsers.Inc()
	slog.Debug("Browser launch recorded", "engine", engine, "total_launches", n)
}

// RecordBrowserCleanup counts a browser session teardown.
func (m *Monitor) RecordBrowserCleanup(engine string) {
	n := atomic.AddInt64(&m.cleanupCount, 1)
	m.browsers.WithLabelValues(engine, "cleanup").Inc()
	m.activeBrowsers.Dec()
	slog.Debug("Browser cleanup recorded", "engine", engine, "total_cleanups", n)
}

// RecordResource counts one asset resolution outcome.
func (m *Monitor) RecordResource(outcome string, size int) {
	m.resources.WithLabelValues(outcome).Inc()
	if size > 0 {
		m.resourceBytes.Add(float64(size))
	}
}

// RecordCapture counts a finished run.
func (m *Monitor) RecordCapture(outcome string, d time.Duration) {
	m.captures.WithLabelValues(outcome).Inc()
	m.captureSeconds.Observe(d.Seconds())
}

// ObserveRender records how long a render took.
func (m *Monitor) ObserveRender(d time.Duration) {
	m.renderSeconds.Observe(d.Seconds())
}

// Status returns lifecycle counters plus a leak verdict.
func (m *Monitor) Status() BrowserStatus {
	launches := atomic.LoadInt64(&m.launchCount)
	cleanups := atomic.LoadInt64(&m.cleanupCount)
	st := BrowserStatus{
		Launches:      launches,
		Cleanups:      cleanups,
		Active:        launches - cleanups,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		CheckedAt:     time.Now(),
	}

	switch {
	case st.Active > 5:
		st.LeakDetected = true
		st.LeakReason = fmt.Sprintf("launch/cleanup imbalance: %d launches, %d cleanups", launches, cleanups)
	case st.Goroutines > 1000:
		st.LeakDetected = true
		st.LeakReason = fmt.Sprintf("high goroutine count: %d", st.Goroutines)
	}
	return st
}
