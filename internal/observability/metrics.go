package observability

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the client engine and the storage peer.
// All Record methods are safe on a nil *Metrics.
type Metrics struct {
	// Envelope metrics
	OperationsTotal      *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	AuthFailuresTotal    *prometheus.CounterVec
	BytesProcessedTotal  *prometheus.CounterVec
	KeyDerivationSeconds *prometheus.HistogramVec
	OperationsActive     prometheus.Gauge

	// Peer metrics
	ConnectionsTotal  *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	StoredBytes       prometheus.Gauge
	SharesActive      prometheus.Gauge

	registry *prometheus.Registry
	active   int64
}

// NewMetrics creates all metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	m.registry = reg
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealbox_envelope_operations_total",
				Help: "Envelope operations by operation and result code",
			},
			[]string{"operation", "result"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sealbox_envelope_operation_duration_seconds",
				Help:    "Envelope operation latency including KDF and transfer",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 1800},
			},
			[]string{"operation"},
		),

		AuthFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealbox_envelope_auth_failures_total",
				Help: "Authentication failures (wrong password or tampered data)",
			},
			[]string{"operation"},
		),

		BytesProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealbox_bytes_processed_total",
				Help: "Plaintext bytes encrypted or decrypted",
			},
			[]string{"direction"},
		),

		KeyDerivationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sealbox_kdf_duration_seconds",
				Help:    "scrypt derivation latency",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"stage"},
		),

		OperationsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sealbox_envelope_operations_active",
				Help: "Envelope operations in progress",
			},
		),

		ConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealbox_peer_connections_total",
				Help: "Peer connection attempts",
			},
			[]string{"result"},
		),

		ConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sealbox_peer_connections_active",
				Help: "Active peer connections",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealbox_peer_requests_total",
				Help: "Peer requests by opcode and reply status",
			},
			[]string{"opcode", "status"},
		),

		StoredBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sealbox_peer_stored_bytes",
				Help: "Ciphertext bytes held by the storage peer",
			},
		),

		SharesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sealbox_peer_shares_active",
				Help: "Registered shares",
			},
		),
	}
}

// RecordOperationStart increments the active operation gauge.
func (m *Metrics) RecordOperationStart() {
	if m == nil {
		return
	}
	m.OperationsActive.Set(float64(atomic.AddInt64(&m.active, 1)))
}

// RecordOperation records an operation outcome.
func (m *Metrics) RecordOperation(op, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsActive.Set(float64(atomic.AddInt64(&m.active, -1)))
	m.OperationsTotal.WithLabelValues(op, result).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordAuthFailure counts an authentication failure.
func (m *Metrics) RecordAuthFailure(op string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(op).Inc()
}

// RecordBytes counts processed plaintext bytes ("encrypt" or "decrypt").
func (m *Metrics) RecordBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.BytesProcessedTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordKeyDerivation records a KDF invocation ("k1" or "k2").
func (m *Metrics) RecordKeyDerivation(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.KeyDerivationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordConnection records a peer connection attempt.
func (m *Metrics) RecordConnection(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.ConnectionsTotal.WithLabelValues(result).Inc()
	if success {
		m.ConnectionsActive.Inc()
	}
}

// RecordConnectionClosed decrements the active connection gauge.
func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// RecordRequest records a handled peer request.
func (m *Metrics) RecordRequest(opcode, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(opcode, status).Inc()
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns HTTP handler for Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
