// Package metrics exposes Prometheus instrumentation for pipeline runs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidroman0O/iflowpipe/errors"
)

const namespace = "iflowpipe"

// Metrics holds the pipeline collectors
type Metrics struct {
	stageAdvances    *prometheus.CounterVec
	gateRefusals     *prometheus.CounterVec
	unitTransitions  *prometheus.CounterVec
	unitDuration     *prometheus.HistogramVec
	dependencyProbes *prometheus.CounterVec
	reviewJobs       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stageAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_advances_total",
			Help:      "Stages completed by a passing gate",
		}, []string{"stage"}),
		gateRefusals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_refusals_total",
			Help:      "Advance attempts refused by a stage gate",
		}, []string{"stage"}),
		unitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_transitions_total",
			Help:      "Task unit status transitions",
		}, []string{"kind", "status"}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Duration of task unit attempts",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"kind", "status"}),
		dependencyProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_probes_total",
			Help:      "Dependency probes by resulting status",
		}, []string{"status"}),
		reviewJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_jobs_total",
			Help:      "Review jobs by terminal status",
		}, []string{"status"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if stderrors.As(err, &already) {
				return nil, errors.Wrap(err, errors.ErrConfiguration, "pipeline metrics already registered")
			}
			return nil, errors.Wrap(err, errors.ErrConfiguration, "failed to register pipeline metrics")
		}
	}
	return m, nil
}

// MustNew is New that panics on registration errors
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.stageAdvances,
		m.gateRefusals,
		m.unitTransitions,
		m.unitDuration,
		m.dependencyProbes,
		m.reviewJobs,
	}
}

// StageAdvanced counts a passed gate
func (m *Metrics) StageAdvanced(stage string) {
	if m == nil {
		return
	}
	m.stageAdvances.WithLabelValues(stage).Inc()
}

// GateRefused counts a refused advance
func (m *Metrics) GateRefused(stage string) {
	if m == nil {
		return
	}
	m.gateRefusals.WithLabelValues(stage).Inc()
}

// UnitTransition counts a unit entering status
func (m *Metrics) UnitTransition(kind, status string) {
	if m == nil {
		return
	}
	m.unitTransitions.WithLabelValues(kind, status).Inc()
}

// UnitFinished records the duration of a terminal attempt
func (m *Metrics) UnitFinished(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.unitDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

// DependencyProbed counts a probe outcome
func (m *Metrics) DependencyProbed(status string) {
	if m == nil {
		return
	}
	m.dependencyProbes.WithLabelValues(status).Inc()
}

// ReviewJob counts a review job reaching status
func (m *Metrics) ReviewJob(status string) {
	if m == nil {
		return
	}
	m.reviewJobs.WithLabelValues(status).Inc()
}
