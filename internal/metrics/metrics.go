// Package metrics counts what the pipeline does. Counters are kept as
// atomics for the /status snapshot and mirrored into a Prometheus registry.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	framesAcquired  atomic.Uint64
	acquireErrors   atomic.Uint64
	framesDisplayed atomic.Uint64
	framesRecorded  atomic.Uint64
	recordSkipped   atomic.Uint64
	recordErrors    atomic.Uint64
	sessions        atomic.Uint64
	uiEvents        atomic.Uint64
	uiDropped       atomic.Uint64
	processCount    atomic.Uint64
	processNanos    atomic.Uint64

	registry     *prometheus.Registry
	frames       *prometheus.CounterVec
	errors       *prometheus.CounterVec
	processTime  prometheus.Histogram
	meanTemp     prometheus.Gauge
	deviceTemp   prometheus.Gauge
	recording    prometheus.Gauge
	httpDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "thermrec_frames_total",
			Help: "Frames handled, by stage.",
		}, []string{"stage"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "thermrec_errors_total",
			Help: "Errors, by stage.",
		}, []string{"stage"}),
		processTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "thermrec_process_seconds",
			Help:    "Time to calibrate and buffer one frame.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		meanTemp: f.NewGauge(prometheus.GaugeOpts{
			Name: "thermrec_mean_temperature_celsius",
			Help: "Mean temperature of the latest calibrated frame.",
		}),
		deviceTemp: f.NewGauge(prometheus.GaugeOpts{
			Name: "thermrec_device_temperature_celsius",
			Help: "Camera internal temperature.",
		}),
		recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "thermrec_recording",
			Help: "1 while a recording session is open.",
		}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_response_time_seconds",
			Help: "Duration of HTTP requests.",
		}, []string{"path"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Number of HTTP requests.",
		}, []string{"path"}),
	}
}

func (m *Metrics) FrameAcquired(d time.Duration) {
	m.framesAcquired.Add(1)
	m.processCount.Add(1)
	m.processNanos.Add(uint64(d.Nanoseconds()))
	m.frames.WithLabelValues("acquired").Inc()
	m.processTime.Observe(d.Seconds())
}

func (m *Metrics) AcquireError() {
	m.acquireErrors.Add(1)
	m.errors.WithLabelValues("acquire").Inc()
}

func (m *Metrics) FrameDisplayed() {
	m.framesDisplayed.Add(1)
	m.frames.WithLabelValues("displayed").Inc()
}

func (m *Metrics) FrameRecorded() {
	m.framesRecorded.Add(1)
	m.frames.WithLabelValues("recorded").Inc()
}

func (m *Metrics) RecordSkipped() {
	m.recordSkipped.Add(1)
	m.frames.WithLabelValues("record_skipped").Inc()
}

func (m *Metrics) RecordError() {
	m.recordErrors.Add(1)
	m.errors.WithLabelValues("record").Inc()
}

func (m *Metrics) SessionStarted() {
	m.sessions.Add(1)
}

func (m *Metrics) SetRecording(on bool) {
	if on {
		m.recording.Set(1)
	} else {
		m.recording.Set(0)
	}
}

func (m *Metrics) UIEvent(dropped bool) {
	m.uiEvents.Add(1)
	if dropped {
		m.uiDropped.Add(1)
		m.errors.WithLabelValues("ui_queue").Inc()
	}
}

func (m *Metrics) SetMeanTemperature(v float64) {
	m.meanTemp.Set(v)
}

func (m *Metrics) SetDeviceTemperature(v float64) {
	m.deviceTemp.Set(v)
}

func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"frames_acquired_total":  m.framesAcquired.Load(),
		"acquire_errors_total":   m.acquireErrors.Load(),
		"frames_displayed_total": m.framesDisplayed.Load(),
		"frames_recorded_total":  m.framesRecorded.Load(),
		"record_skipped_total":   m.recordSkipped.Load(),
		"record_errors_total":    m.recordErrors.Load(),
		"sessions_total":         m.sessions.Load(),
		"ui_events_total":        m.uiEvents.Load(),
		"ui_events_dropped":      m.uiDropped.Load(),
		"process_total":          m.processCount.Load(),
		"process_nanos_total":    m.processNanos.Load(),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware times every request by path.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		path := r.URL.Path
		m.httpDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(path).Inc()
	})
}
