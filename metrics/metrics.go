package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the matchmaker.
type Metrics struct {
	// Request metrics
	ProofRequests *prometheus.CounterVec
	Assignments   *prometheus.CounterVec

	// Operator metrics
	OperatorsTotal            prometheus.Gauge
	OperatorsOnline           prometheus.Gauge
	OperatorsTemporaryOffline prometheus.Gauge

	// Sweep metrics
	SweepDuration prometheus.Histogram
	SweepErrors   prometheus.Counter

	// Payment metrics
	PaymentsMarkedPaid prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// New creates and registers the matchmaker metrics (singleton).
func New() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			ProofRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "proofmarket",
					Subsystem: "matchmaker",
					Name:      "proof_requests_total",
					Help:      "Total proof requests received",
				},
				[]string{"requester", "valid"},
			),
			Assignments: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "proofmarket",
					Subsystem: "matchmaker",
					Name:      "assignments_total",
					Help:      "Total assignment attempts by outcome",
				},
				[]string{"outcome"},
			),
			OperatorsTotal: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "proofmarket",
				Subsystem: "matchmaker",
				Name:      "operators_total",
				Help:      "Registered operators",
			}),
			OperatorsOnline: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "proofmarket",
				Subsystem: "matchmaker",
				Name:      "operators_online",
				Help:      "Operators currently considered live",
			}),
			OperatorsTemporaryOffline: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "proofmarket",
				Subsystem: "matchmaker",
				Name:      "operators_temporary_offline",
				Help:      "Operators registered online but past the liveness window",
			}),
			SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "proofmarket",
				Subsystem: "matchmaker",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of assignment sweeps",
				Buckets:   prometheus.DefBuckets,
			}),
			SweepErrors: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "proofmarket",
				Subsystem: "matchmaker",
				Name:      "sweep_errors_total",
				Help:      "Assignment sweeps that failed",
			}),
			PaymentsMarkedPaid: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "proofmarket",
				Subsystem: "matchmaker",
				Name:      "payments_marked_paid_total",
				Help:      "Proof request payments flipped to paid",
			}),
		}
	})
	return metrics
}

// Assignment outcomes.
const (
	OutcomeAssigned  = "assigned"
	OutcomeNoMatch   = "no_match"
	OutcomeGuardMiss = "guard_miss"
)
