package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRankingRunsTotal       = "ranking_runs_total"
	MetricRankingRunDuration     = "ranking_run_duration_seconds"
	MetricRankingConvergence     = "ranking_convergence_score"
	MetricSolverDegradationTotal = "ranking_solver_degradations_total"
)

// Scope constants for labeling.
const (
	ScopeSession = "session"
	ScopeGlobal  = "global"
)

// Status constants for run completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Metrics contains Prometheus metrics for ranking run operations.
// All operations are thread-safe.
type Metrics struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	convergence  *prometheus.GaugeVec
	degradations prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankingRunsTotal,
				Help: "Total number of ranking runs by scope and status",
			},
			[]string{"scope", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRankingRunDuration,
				Help:    "Histogram of ranking run duration in seconds by scope",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
			[]string{"scope"},
		),
		convergence: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricRankingConvergence,
				Help: "Most recent convergence score (0-100) by scope",
			},
			[]string{"scope"},
		),
		degradations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricSolverDegradationTotal,
				Help: "Total number of solver runs that degraded to neutral strengths",
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.convergence,
		m.degradations,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRunsTotal increments the run counter for the given scope and status.
func (m *Metrics) IncRunsTotal(scope, status string) {
	m.runsTotal.WithLabelValues(scope, status).Inc()
}

// ObserveRunDuration records the duration of a ranking run in seconds.
func (m *Metrics) ObserveRunDuration(scope string, seconds float64) {
	m.runDuration.WithLabelValues(scope).Observe(seconds)
}

// SetConvergence records the most recent convergence score for a scope.
func (m *Metrics) SetConvergence(scope string, score int) {
	m.convergence.WithLabelValues(scope).Set(float64(score))
}

// IncDegradations increments the solver degradation counter.
func (m *Metrics) IncDegradations() {
	m.degradations.Inc()
}
