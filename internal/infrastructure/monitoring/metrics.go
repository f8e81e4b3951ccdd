package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
//
// Every Record/Observe method is safe to call on a nil *Metrics, so engine
// components can be built without a collector.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Engine metrics
	CompilesTotal    *prometheus.CounterVec
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	LockWait         prometheus.Histogram
	ContextsActive   prometheus.Gauge
	HostErrors       *prometheus.CounterVec
	ResourceFaults   *prometheus.CounterVec
	DebugEvents      *prometheus.CounterVec
	PrecompileBytes  prometheus.Histogram
	PoolAcquireTotal *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRuns      int64
	FailedRuns     int64
	ActiveContexts int64
	TotalRunTime   float64 // sum of all run durations in seconds
	TotalRequests  int64
	TotalErrors    int64
}

// NewMetrics creates a metrics collector registered with reg. A nil reg
// uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jsbridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Engine metrics
		CompilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbridge_compiles_total",
				Help: "Total number of script compilations",
			},
			[]string{"result"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbridge_runs_total",
				Help: "Total number of top-level script runs",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsbridge_run_duration_seconds",
				Help:    "Top-level script run duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		LockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsbridge_isolate_lock_wait_seconds",
				Help:    "Time spent blocked acquiring an isolate",
				Buckets: []float64{.00001, .0001, .001, .01, .1, 1},
			},
		),
		ContextsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsbridge_contexts_active",
				Help: "Number of live contexts",
			},
		),
		HostErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbridge_host_errors_total",
				Help: "Host callback errors thrown into script",
			},
			[]string{"kind"},
		),
		ResourceFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbridge_resource_faults_total",
				Help: "Stack overflow and memory limit faults",
			},
			[]string{"fault"},
		),
		DebugEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbridge_debug_events_total",
				Help: "Debug events raised by the engine",
			},
			[]string{"event"},
		),
		PrecompileBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jsbridge_precompile_bytes",
				Help:    "Size of precompilation artifacts",
				Buckets: prometheus.ExponentialBuckets(32, 4, 8),
			},
		),
		PoolAcquireTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbridge_pool_acquire_total",
				Help: "Context pool acquisitions",
			},
			[]string{"result"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsbridge_ws_connections",
				Help: "Number of active debugger WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsbridge_ws_messages_total",
				Help: "Total number of debugger WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jsbridge_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}

	return m
}

// RunUptime updates the uptime gauge until stop is closed.
func (m *Metrics) RunUptime(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		case <-stop:
			return
		}
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordCompile records a compilation outcome
func (m *Metrics) RecordCompile(ok bool) {
	if m == nil {
		return
	}
	m.CompilesTotal.WithLabelValues(result(ok)).Inc()
}

// RecordRun records a top-level run
func (m *Metrics) RecordRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRuns++
	m.snapshot.TotalRunTime += duration.Seconds()
	if status != "ok" {
		m.snapshot.FailedRuns++
	}
	m.mu.Unlock()
}

// ObserveLockWait records time spent blocked on an isolate
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(d.Seconds())
}

// AddContexts adjusts the live context gauge
func (m *Metrics) AddContexts(delta int) {
	if m == nil {
		return
	}
	m.ContextsActive.Add(float64(delta))
	m.mu.Lock()
	m.snapshot.ActiveContexts += int64(delta)
	m.mu.Unlock()
}

// RecordHostError records a host error thrown into script
func (m *Metrics) RecordHostError(kind string) {
	if m == nil {
		return
	}
	m.HostErrors.WithLabelValues(kind).Inc()
}

// RecordFault records a resource fault
func (m *Metrics) RecordFault(fault string) {
	if m == nil {
		return
	}
	m.ResourceFaults.WithLabelValues(fault).Inc()
}

// RecordDebugEvent records a debug event
func (m *Metrics) RecordDebugEvent(event string) {
	if m == nil {
		return
	}
	m.DebugEvents.WithLabelValues(event).Inc()
}

// ObservePrecompile records the size of a precompilation artifact
func (m *Metrics) ObservePrecompile(size int) {
	if m == nil {
		return
	}
	m.PrecompileBytes.Observe(float64(size))
}

// RecordPoolAcquire records a pool acquisition outcome
func (m *Metrics) RecordPoolAcquire(ok bool) {
	if m == nil {
		return
	}
	m.PoolAcquireTotal.WithLabelValues(result(ok)).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
