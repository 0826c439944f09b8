// Package metrics provides Prometheus metrics for fileup.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fileup"

// Metrics holds the counters the session engine records against as it
// runs the register/reconnect/send-file/verify-checksum flow.
type Metrics struct {
	AttemptsTotal     *prometheus.CounterVec
	BytesSent         prometheus.Counter
	ChunksSent        prometheus.Counter
	ChecksumMismatches prometheus.Counter
	Registrations     prometheus.Counter
	Reconnects        prometheus.Counter
	ReconnectRejected prometheus.Counter
	TransferDuration  prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics instance, registered against
// the default Prometheus registry on first use.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New creates a Metrics instance registered against the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against reg,
// mainly so tests can use a private registry instead of the global one.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total attempts per operation: one per register, reconnect or send_public_key exchange (retries inside an exchange are not counted) and one per full send_file transmission",
		}, []string{"operation"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total ciphertext bytes sent to the server",
		}),
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Total SEND_FILE chunk packets sent",
		}),
		ChecksumMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_mismatches_total",
			Help:      "Total CRC mismatches reported by the server",
		}),
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Total successful REGISTER exchanges",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total successful RECONNECT exchanges",
		}),
		ReconnectRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_rejected_total",
			Help:      "Total RECONNECT_REJECTED responses that fell back to registration",
		}),
		TransferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Histogram of end-to-end transfer duration, register/reconnect through CRC confirmation",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// RecordAttempt records one attempt at the named operation.
func (m *Metrics) RecordAttempt(operation string) {
	m.AttemptsTotal.WithLabelValues(operation).Inc()
}

// RecordChunkSent records one SEND_FILE chunk of n ciphertext bytes.
func (m *Metrics) RecordChunkSent(n int) {
	m.ChunksSent.Inc()
	m.BytesSent.Add(float64(n))
}

// RecordChecksumMismatch records one transfer whose server-reported CRC
// did not match the local checksum.
func (m *Metrics) RecordChecksumMismatch() {
	m.ChecksumMismatches.Inc()
}

// RecordRegistration records a completed REGISTER exchange.
func (m *Metrics) RecordRegistration() {
	m.Registrations.Inc()
}

// RecordReconnect records a completed RECONNECT exchange.
func (m *Metrics) RecordReconnect() {
	m.Reconnects.Inc()
}

// RecordReconnectRejected records a RECONNECT_REJECTED downgrade.
func (m *Metrics) RecordReconnectRejected() {
	m.ReconnectRejected.Inc()
}

// RecordTransferDuration records the wall-clock seconds a full transfer took.
func (m *Metrics) RecordTransferDuration(seconds float64) {
	m.TransferDuration.Observe(seconds)
}

// IncAttempt, AddBytesSent, IncCRCMismatch, IncRegistration and
// IncReconnect satisfy session.MetricsRecorder, letting *Metrics plug
// straight into session.WithMetrics without an adapter type.
func (m *Metrics) IncAttempt(operation string) { m.RecordAttempt(operation) }
func (m *Metrics) AddBytesSent(n int)          { m.RecordChunkSent(n) }
func (m *Metrics) IncCRCMismatch()             { m.RecordChecksumMismatch() }
func (m *Metrics) IncRegistration()            { m.RecordRegistration() }
func (m *Metrics) IncReconnect()               { m.RecordReconnect() }

// Server exposes Metrics on a single /metrics endpoint. It has no
// dashboard and no pprof routes, unlike the teacher's health server: the
// spec calls for exposition only, gated behind the metrics.enabled
// config flag.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics HTTP server bound to addr, serving reg on
// /metrics.
func NewServer(addr string, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// ListenAndServe starts serving until the context is canceled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
