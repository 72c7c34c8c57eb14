// Package metrics defines promotion gate metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the gate. A nil *Registry is valid and
// records nothing.
type Registry struct {
	reg *prometheus.Registry

	Evaluations      *prometheus.CounterVec
	EvaluationErrors *prometheus.CounterVec
	OutcomesRecorded prometheus.Counter

	DeflatedSharpe prometheus.Histogram
	PBO            prometheus.Histogram
	FamilyRisk     prometheus.Histogram
	BatchDuration  prometheus.Histogram
}

// NewRegistry creates and registers every gate metric on a private registry
func NewRegistry() *Registry {
	unit := []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypogate",
			Name:      "evaluations_total",
			Help:      "Gate evaluations that produced an audit, by verdict",
		}, []string{"verdict"}),
		EvaluationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypogate",
			Name:      "evaluation_errors_total",
			Help:      "Evaluations that ended without an audit, by error kind",
		}, []string{"kind"}),
		OutcomesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hypogate",
			Name:      "outcomes_recorded_total",
			Help:      "Outcomes appended to the ledger",
		}),
		DeflatedSharpe: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hypogate",
			Name:      "deflated_sharpe",
			Help:      "Deflated Sharpe test statistic per evaluation",
			Buckets:   []float64{-2, -1, -0.5, 0, 0.25, 0.5, 0.75, 1, 1.5, 2, 3},
		}),
		PBO: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hypogate",
			Name:      "pbo",
			Help:      "Probability of backtest overfitting per evaluation",
			Buckets:   unit,
		}),
		FamilyRisk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hypogate",
			Name:      "family_risk",
			Help:      "Family inflation risk per evaluation",
			Buckets:   unit,
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hypogate",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a full gate batch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
	r.reg.MustRegister(
		r.Evaluations, r.EvaluationErrors, r.OutcomesRecorded,
		r.DeflatedSharpe, r.PBO, r.FamilyRisk, r.BatchDuration,
	)
	return r
}

// Gatherer exposes the underlying registry for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordEvaluation records an audited evaluation and its statistics
func (r *Registry) RecordEvaluation(verdict string, deflated, pbo, familyRisk float64) {
	if r == nil {
		return
	}
	r.Evaluations.WithLabelValues(verdict).Inc()
	r.DeflatedSharpe.Observe(deflated)
	r.PBO.Observe(pbo)
	r.FamilyRisk.Observe(familyRisk)
}

// RecordEvaluationError records an evaluation that ended without an audit.
// kind should be one of: "deferred", "integrity", "internal"
func (r *Registry) RecordEvaluationError(kind string) {
	if r == nil {
		return
	}
	r.EvaluationErrors.WithLabelValues(kind).Inc()
}

// RecordOutcome records an appended outcome
func (r *Registry) RecordOutcome() {
	if r == nil {
		return
	}
	r.OutcomesRecorded.Inc()
}

// ObserveBatch records the wall time of a batch run
func (r *Registry) ObserveBatch(d time.Duration) {
	if r == nil {
		return
	}
	r.BatchDuration.Observe(d.Seconds())
}
