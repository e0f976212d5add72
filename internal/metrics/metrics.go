// Package metrics exports refinement run telemetry to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/valpere/straightener/internal/engine"
)

// Run outcomes used as the outcome label of straightener_runs_total.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
)

// Observer implements engine.Observer on top of Prometheus collectors.
type Observer struct {
	runs            *prometheus.CounterVec
	iterations      prometheus.Counter
	backendErrors   *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	runConfidence   prometheus.Histogram
	runIterations   prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Observer {
	o := &Observer{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "straightener_runs_total",
			Help: "Finished refinement runs by outcome.",
		}, []string{"outcome"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "straightener_iterations_total",
			Help: "Completed generate-and-evaluate iterations.",
		}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "straightener_backend_errors_total",
			Help: "Failed backend calls, counting every attempt.",
		}, []string{"backend"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "straightener_backend_duration_seconds",
			Help:    "Latency of backend calls.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"backend"}),
		runConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "straightener_run_confidence",
			Help:    "Reported confidence of finished runs.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		runIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "straightener_run_iterations",
			Help:    "Iterations performed per finished run.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
	}

	if reg != nil {
		reg.MustRegister(o.runs, o.iterations, o.backendErrors, o.backendDuration, o.runConfidence, o.runIterations)
	}
	return o
}

func (o *Observer) BackendCall(backend string, elapsed time.Duration, err error) {
	o.backendDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	if err != nil {
		o.backendErrors.WithLabelValues(backend).Inc()
	}
}

func (o *Observer) Iteration(rec engine.IterationRecord) {
	o.iterations.Inc()
}

func (o *Observer) RunFinished(result *engine.RunResult) {
	outcome := OutcomePartial
	if result.Success {
		outcome = OutcomeSuccess
	}
	o.runs.WithLabelValues(outcome).Inc()
	o.runConfidence.Observe(result.BestConfidence)
	o.runIterations.Observe(float64(result.Iterations))
}
