// Package metrics records request, transfer and session counters.
//
// Callers receive a Metrics value; when metrics are disabled it is a no-op
// implementation with zero overhead.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the observability surface used by the file server and transport.
type Metrics interface {
	// RecordRequest records one dispatched request with its verb and outcome label
	// (OK, END_OF_FILE, FAILURE, HANDLE, DATA, NAME).
	RecordRequest(verb, status string, duration time.Duration)

	// RecordBytes records file bytes moved; direction is "read" or "write".
	RecordBytes(direction string, n int)

	// SessionOpened is called when an SFTP session starts.
	SessionOpened()

	// SessionClosed is called when a session ends, with the number of handles
	// that were still open and had to be released.
	SessionClosed(released int)

	// RecordAuth records an authentication attempt.
	RecordAuth(method string, ok bool)
}

type promMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	releasedHandles  prometheus.Counter
	authAttempts     *prometheus.CounterVec
}

// New registers the collectors on reg and returns a Prometheus-backed Metrics.
func New(reg prometheus.Registerer) Metrics {
	f := promauto.With(reg)
	return &promMetrics{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sftpjail_requests_total",
				Help: "Total number of SFTP requests by operation and result",
			},
			[]string{"procedure", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sftpjail_request_duration_milliseconds",
				Help:    "Duration of SFTP requests in milliseconds",
				Buckets: []float64{0.1, 1, 10, 100, 1000, 10000},
			},
			[]string{"procedure"},
		),
		bytesTransferred: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sftpjail_bytes_transferred_total",
				Help: "Total file bytes read or written",
			},
			[]string{"direction"},
		),
		activeSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sftpjail_active_sessions",
				Help: "Current number of SFTP sessions",
			},
		),
		sessionsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sftpjail_sessions_total",
				Help: "Total number of SFTP sessions started",
			},
		),
		releasedHandles: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sftpjail_handles_released_on_teardown_total",
				Help: "Handles still open when their session ended",
			},
		),
		authAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sftpjail_auth_attempts_total",
				Help: "Authentication attempts by method and result",
			},
			[]string{"method", "result"},
		),
	}
}

func (m *promMetrics) RecordRequest(verb, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(verb, status).Inc()
	m.requestDuration.WithLabelValues(verb).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *promMetrics) RecordBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}

func (m *promMetrics) SessionOpened() {
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

func (m *promMetrics) SessionClosed(released int) {
	m.activeSessions.Dec()
	if released > 0 {
		m.releasedHandles.Add(float64(released))
	}
}

func (m *promMetrics) RecordAuth(method string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.authAttempts.WithLabelValues(method, result).Inc()
}

type noopMetrics struct{}

// Noop returns a Metrics that discards everything.
func Noop() Metrics { return noopMetrics{} }

func (noopMetrics) RecordRequest(string, string, time.Duration) {}
func (noopMetrics) RecordBytes(string, int)                     {}
func (noopMetrics) SessionOpened()                              {}
func (noopMetrics) SessionClosed(int)                           {}
func (noopMetrics) RecordAuth(string, bool)                     {}
