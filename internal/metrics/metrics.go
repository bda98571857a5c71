// Package metrics exposes Prometheus instrumentation for the bridge.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	// Invocation metrics
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration prometheus.Histogram
	BytesInTotal       prometheus.Counter
	BytesOutTotal      prometheus.Counter

	// Worker metrics
	WorkerStartsTotal   prometheus.Counter
	WorkerReclaimsTotal prometheus.Counter
	WorkerUp            prometheus.Gauge

	// Deadline metrics
	DeadlineAbortsTotal prometheus.Counter
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		InvocationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lambdafpm_invocations_total",
			Help: "Total invocations by outcome",
		}, []string{"outcome"}),
		InvocationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lambdafpm_invocation_duration_seconds",
			Help:    "Invocation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		BytesInTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lambdafpm_bytes_in_total",
			Help: "Total request body bytes sent to the worker",
		}),
		BytesOutTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lambdafpm_bytes_out_total",
			Help: "Total response body bytes read from the worker",
		}),
		WorkerStartsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lambdafpm_worker_starts_total",
			Help: "Times php-fpm was spawned and became ready",
		}),
		WorkerReclaimsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lambdafpm_worker_reclaims_total",
			Help: "Stale workers reclaimed at startup",
		}),
		WorkerUp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lambdafpm_worker_up",
			Help: "Whether the php-fpm child is running",
		}),
		DeadlineAbortsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lambdafpm_deadline_aborts_total",
			Help: "Requests aborted by the deadline interrupter",
		}),
	}
}

// Outcome labels for InvocationsTotal.
const (
	OutcomeSuccess   = "success"
	OutcomeTransport = "transport_error"
	OutcomeDeadline  = "deadline"
)
