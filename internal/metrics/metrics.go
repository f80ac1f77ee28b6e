// Package metrics exposes Prometheus instruments for stage runs, fits and
// source-map assembly. Every method is safe on a nil *Metrics.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kingrea/gtpipe/internal/stage"
)

// Fit outcomes.
const (
	OutcomeConverged = "converged"
	OutcomeRestored  = "restored"
	OutcomeSkipped   = "skipped"
)

// Assembly events.
const (
	HDUCopied   = "copied"
	HDURegraded = "regraded"
)

// Metrics provides observability for one pipeline run.
type Metrics struct {
	registry *prometheus.Registry

	// Stage runs by stage id and status
	StageRuns *prometheus.CounterVec

	// Stage durations by stage id
	StageDuration *prometheus.HistogramVec

	// Fit attempts by optimizer and fit quality
	FitAttempts *prometheus.CounterVec

	// Fit outcomes: converged, restored, skipped
	FitOutcomes *prometheus.CounterVec

	// Quality of the last accepted fit
	FitQuality prometheus.Gauge

	// Source-map extensions appended by mode
	HDUsAppended *prometheus.CounterVec

	// Fragments or extensions that could not be found
	MissingInputs *prometheus.CounterVec

	// Components assembled by status
	ComponentsAssembled *prometheus.CounterVec
}

// New creates a Metrics instance registered against its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		StageRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gtpipe_stage_runs_total",
			Help: "Total stage runs by stage and status",
		}, []string{"stage", "status"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gtpipe_stage_duration_seconds",
			Help:    "Duration of stage runs including the external tool",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),

		FitAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gtpipe_fit_attempts_total",
			Help: "Total optimizer attempts by optimizer and reported quality",
		}, []string{"optimizer", "quality"}),

		FitOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gtpipe_fit_outcomes_total",
			Help: "Total fit outcomes",
		}, []string{"outcome"}),

		FitQuality: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gtpipe_fit_quality",
			Help: "Quality of the last accepted fit",
		}),

		HDUsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gtpipe_assemble_hdus_total",
			Help: "Total source-map extensions written by mode",
		}, []string{"mode"}),

		MissingInputs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gtpipe_assemble_missing_total",
			Help: "Total fragments or extensions skipped because they were absent",
		}, []string{"kind"}),

		ComponentsAssembled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gtpipe_assemble_components_total",
			Help: "Total components assembled by status",
		}, []string{"status"}),
	}
}

// Registry returns the registry holding every instrument.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// StageStarted implements stage.Observer.
func (m *Metrics) StageStarted(stage.Event) {}

// StageFinished implements stage.Observer.
func (m *Metrics) StageFinished(ev stage.Event) {
	if m == nil {
		return
	}
	status := string(ev.Result.Status)
	if ev.Err != nil {
		status = string(stage.StatusFailed)
	}
	m.StageRuns.WithLabelValues(ev.Stage.ID, status).Inc()
	if ev.Result.Status != stage.StatusSkipped {
		m.StageDuration.WithLabelValues(ev.Stage.ID).Observe(ev.Elapsed.Seconds())
	}
}

// ObserveFitAttempt records one optimizer attempt.
func (m *Metrics) ObserveFitAttempt(optimizer string, quality int, err error) {
	if m == nil {
		return
	}
	label := strconv.Itoa(quality)
	if err != nil {
		label = "error"
	}
	m.FitAttempts.WithLabelValues(optimizer, label).Inc()
}

// ObserveFitOutcome records how a fit ended.
func (m *Metrics) ObserveFitOutcome(outcome string, quality int) {
	if m == nil {
		return
	}
	m.FitOutcomes.WithLabelValues(outcome).Inc()
	if outcome == OutcomeConverged {
		m.FitQuality.Set(float64(quality))
	}
}

// IncrementHDU records an appended extension.
func (m *Metrics) IncrementHDU(mode string) {
	if m != nil {
		m.HDUsAppended.WithLabelValues(mode).Inc()
	}
}

// IncrementMissing records a skipped fragment ("file"), extension
// ("extension") or repeated extension name ("duplicate").
func (m *Metrics) IncrementMissing(kind string) {
	if m != nil {
		m.MissingInputs.WithLabelValues(kind).Inc()
	}
}

// IncrementComponent records an assembled component.
func (m *Metrics) IncrementComponent(status string) {
	if m != nil {
		m.ComponentsAssembled.WithLabelValues(status).Inc()
	}
}

// WriteTextfile dumps every instrument in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
