package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics records timing and outcome counts for fulfillment phases.
type WorkerMetrics struct {
	phaseDuration *prometheus.HistogramVec
	phaseSuccess  *prometheus.CounterVec
	phaseFailure  *prometheus.CounterVec
	phaseRetry    *prometheus.CounterVec
	staleJobs     prometheus.Gauge
}

// NewWorkerMetrics registers the fulfillment metrics on the provided registerer.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		return &WorkerMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fulfill_phase_duration_seconds",
		Help:    "Duration of fulfillment phases in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfill_phase_success",
		Help: "Successful fulfillment phase completions.",
	}, []string{"phase"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfill_phase_failure",
		Help: "Fulfillment phase terminal failures.",
	}, []string{"phase"})
	retry := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfill_phase_retry",
		Help: "Automatic in-phase retries.",
	}, []string{"phase"})
	stale := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fulfill_stale_jobs",
		Help: "Non-terminal jobs with a heartbeat past the staleness threshold.",
	})
	reg.MustRegister(duration, success, failure, retry, stale)
	return &WorkerMetrics{
		phaseDuration: duration,
		phaseSuccess:  success,
		phaseFailure:  failure,
		phaseRetry:    retry,
		staleJobs:     stale,
	}
}

// ObservePhaseDuration records how long the named phase ran.
func (w *WorkerMetrics) ObservePhaseDuration(phase string, duration time.Duration) {
	if w == nil || w.phaseDuration == nil {
		return
	}
	w.phaseDuration.WithLabelValues(normalizeLabel(phase)).Observe(duration.Seconds())
}

// IncPhaseSuccess increments the success counter for the named phase.
func (w *WorkerMetrics) IncPhaseSuccess(phase string) {
	if w == nil || w.phaseSuccess == nil {
		return
	}
	w.phaseSuccess.WithLabelValues(normalizeLabel(phase)).Inc()
}

// IncPhaseFailure increments the failure counter for the named phase.
func (w *WorkerMetrics) IncPhaseFailure(phase string) {
	if w == nil || w.phaseFailure == nil {
		return
	}
	w.phaseFailure.WithLabelValues(normalizeLabel(phase)).Inc()
}

// IncPhaseRetry increments the automatic retry counter for the named phase.
func (w *WorkerMetrics) IncPhaseRetry(phase string) {
	if w == nil || w.phaseRetry == nil {
		return
	}
	w.phaseRetry.WithLabelValues(normalizeLabel(phase)).Inc()
}

// SetStaleJobs publishes the current stale-job count.
func (w *WorkerMetrics) SetStaleJobs(count int) {
	if w == nil || w.staleJobs == nil {
		return
	}
	w.staleJobs.Set(float64(count))
}

func normalizeLabel(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
