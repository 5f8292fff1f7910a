package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects execution metrics. Create one per registry and share it
// between Sessions. A nil *Metrics records nothing.
type Metrics struct {
	commandDuration *prometheus.HistogramVec
	commandsTotal   *prometheus.CounterVec
	batchesTotal    prometheus.Counter
	transferBytes   prometheus.Counter
	cleanupFailures prometheus.Counter
}

// NewMetrics registers the winexec collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "winexec",
				Name:      "operation_duration_seconds",
				Help:      "Duration of script runs and file copies in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms to ~8.5m
			},
			[]string{"operation"},
		),
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "winexec",
				Name:      "operations_total",
				Help:      "Total script runs and file copies by outcome",
			},
			[]string{"operation", "outcome"},
		),
		batchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "winexec",
				Name:      "batches_dispatched_total",
				Help:      "Total command batches sent to remote hosts",
			},
		),
		transferBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "winexec",
				Name:      "transfer_bytes_total",
				Help:      "Total payload bytes appended to remote files",
			},
		),
		cleanupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "winexec",
				Name:      "cleanup_failures_total",
				Help:      "Total scratch file cleanups that failed",
			},
		),
	}
}

func (m *Metrics) observeOperation(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	m.commandDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	m.commandsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) batchDispatched() {
	if m == nil {
		return
	}
	m.batchesTotal.Inc()
}

func (m *Metrics) bytesTransferred(n int) {
	if m == nil {
		return
	}
	m.transferBytes.Add(float64(n))
}

func (m *Metrics) cleanupFailed() {
	if m == nil {
		return
	}
	m.cleanupFailures.Inc()
}
