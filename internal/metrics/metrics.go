// Package metrics holds the Prometheus collectors the server updates.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics is one server's collector set. Each instance owns its registry, so
// tests can run several servers in one process.
type Metrics struct {
	Registry *prometheus.Registry

	Requests       *prometheus.CounterVec
	Recognition    *prometheus.HistogramVec
	GateWait       prometheus.Histogram
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	FramingErrors  *prometheus.CounterVec
	PayloadBytes   prometheus.Histogram
}

// New registers every collector, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocrbridge_requests_total",
			Help: "Completed requests by backend and outcome (ok, invalid_image, backend_error).",
		}, []string{"backend", "outcome"}),

		Recognition: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ocrbridge_recognition_seconds",
			Help:    "Time to recognize one image, including the wait for the backend.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 7.5, 10, 20, 30, 60},
		}, []string{"backend"}),

		GateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ocrbridge_gate_wait_seconds",
			Help:    "Time a request waited for exclusive use of the backend.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ocrbridge_sessions_active",
			Help: "Client connections currently being served.",
		}),

		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocrbridge_sessions_total",
			Help: "Client connections accepted since start.",
		}),

		FramingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocrbridge_framing_errors_total",
			Help: "Connections closed because of a malformed or truncated frame, by stage (header, payload, write).",
		}, []string{"stage"}),

		PayloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ocrbridge_payload_bytes",
			Help:    "Size of received image payloads.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}

	m.Registry.MustRegister(
		m.Requests,
		m.Recognition,
		m.GateWait,
		m.SessionsActive,
		m.SessionsTotal,
		m.FramingErrors,
		m.PayloadBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordRequest counts one completed request and its recognition time.
// A zero elapsed (invalid image, backend bypassed) is not observed.
func (m *Metrics) RecordRequest(backend, outcome string, elapsed time.Duration) {
	m.Requests.WithLabelValues(backend, outcome).Inc()
	if elapsed > 0 {
		m.Recognition.WithLabelValues(backend).Observe(elapsed.Seconds())
	}
}

// ObserveGateWait records how long a request waited for the backend.
func (m *Metrics) ObserveGateWait(d time.Duration) {
	m.GateWait.Observe(d.Seconds())
}

// RecordFramingError counts a connection dropped at stage.
func (m *Metrics) RecordFramingError(stage string) {
	m.FramingErrors.WithLabelValues(stage).Inc()
}

// SessionStarted and SessionEnded track connection counts.
func (m *Metrics) SessionStarted() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded() {
	m.SessionsActive.Dec()
}
