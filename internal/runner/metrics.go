package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "cellpace"

// Metrics counts pipeline activity. A nil *Metrics records nothing.
type Metrics struct {
	Steps       *prometheus.CounterVec
	Runs        *prometheus.CounterVec
	Beats       *prometheus.CounterVec
	Divergences *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runner",
			Name:      "steps_total",
			Help:      "Integration steps executed",
		}, []string{"model"}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runner",
			Name:      "runs_total",
			Help:      "Finished runs by status",
		}, []string{"model", "status"}),
		Beats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runner",
			Name:      "beats_total",
			Help:      "Completed beats detected across tracked variables",
		}, []string{"model"}),
		Divergences: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runner",
			Name:      "divergences_total",
			Help:      "Runs aborted on a non-finite value, by variable",
		}, []string{"model", "variable"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "runner",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"model"}),
	}
}

func (m *Metrics) observe(modelName string, run runResult) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(modelName).Add(float64(run.steps))
	m.Runs.WithLabelValues(modelName, string(run.status)).Inc()
	m.Beats.WithLabelValues(modelName).Add(float64(run.beats))
	if run.divergedOn != "" {
		m.Divergences.WithLabelValues(modelName, run.divergedOn).Inc()
	}
	m.RunDuration.WithLabelValues(modelName).Observe(run.elapsed.Seconds())
}
