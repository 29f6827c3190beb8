// Package metrics records verification outcomes as Prometheus metrics and
// writes them in the node-exporter textfile format
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chalkan3/consul-mesh-verify/pkg/poll"
	"github.com/chalkan3/consul-mesh-verify/pkg/verify"
)

const namespace = "meshverify"

// Recorder owns a private registry so several runs in one process never
// collide on registration
type Recorder struct {
	registry *prometheus.Registry

	checks        *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	pollAttempts  *prometheus.CounterVec
	runPassed     *prometheus.GaugeVec
	runTimestamp  *prometheus.GaugeVec
}

// NewRecorder creates a recorder with all collectors registered
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_total",
				Help:      "Verification checks by suite and status.",
			},
			[]string{"suite", "status"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Verification check duration in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"suite"},
		),
		pollAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_attempts_total",
				Help:      "Readiness poll attempts by resource kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		runPassed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_passed",
				Help:      "1 when the last verification run passed, 0 otherwise.",
			},
			[]string{"environment", "region"},
		),
		runTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_timestamp_seconds",
				Help:      "Unix time the last verification run started.",
			},
			[]string{"environment", "region"},
		),
	}

	r.registry.MustRegister(r.checks, r.checkDuration, r.pollAttempts, r.runPassed, r.runTimestamp)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveCheck implements verify.Observer
func (r *Recorder) ObserveCheck(_ context.Context, result verify.CheckResult) {
	r.checks.WithLabelValues(result.Suite, string(result.Status)).Inc()
	if result.Status != verify.StatusSkipped {
		r.checkDuration.WithLabelValues(result.Suite).Observe(result.Duration.Seconds())
	}
}

// ObserveAttempt is meant for poll.Options.OnAttempt
func (r *Recorder) ObserveAttempt(a poll.Attempt) {
	outcome := "not_ready"
	switch {
	case a.Ready:
		outcome = "ready"
	case a.Err != nil:
		outcome = "error"
	}
	r.pollAttempts.WithLabelValues(a.Target.Kind, outcome).Inc()
}

// ObserveReport records the overall outcome of a finished run
func (r *Recorder) ObserveReport(report *verify.Report) {
	passed := 0.0
	if report.Passed() {
		passed = 1
	}
	r.runPassed.WithLabelValues(report.Environment, report.Region).Set(passed)
	r.runTimestamp.WithLabelValues(report.Environment, report.Region).Set(float64(report.CheckedAt.Unix()))
}

// WriteTextfile writes every metric to path atomically
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
