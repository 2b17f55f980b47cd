// Package metrics exports the outcome of a backup run in the Prometheus text
// exposition format, for the node_exporter textfile collector.
package metrics

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"github.com/bamsammich/segbkp/internal/stats"
)

// Recorder holds one run's gauges on a private registry.
type Recorder struct {
	reg *prometheus.Registry

	segments       *prometheus.GaugeVec
	parts          prometheus.Gauge
	bytes          prometheus.Gauge
	entries        prometheus.Gauge
	entriesSkipped prometheus.Gauge
	warnings       prometheus.Gauge
	duration       prometheus.Gauge
	exitCode       prometheus.Gauge
	finished       prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

// NewRecorder registers the run gauges.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		segments: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "segbkp_segments",
			Help: "Segments processed in the last run, by outcome",
		}, []string{"outcome"}),
		parts: f.NewGauge(prometheus.GaugeOpts{
			Name: "segbkp_parts_written",
			Help: "Archive parts written in the last run",
		}),
		bytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "segbkp_bytes_written",
			Help: "Compressed bytes written in the last run",
		}),
		entries: f.NewGauge(prometheus.GaugeOpts{
			Name: "segbkp_entries_archived",
			Help: "Filesystem entries archived in the last run",
		}),
		entriesSkipped: f.NewGauge(prometheus.GaugeOpts{
			Name: "segbkp_entries_skipped",
			Help: "Unreadable entries left out of archives in the last run",
		}),
		warnings: f.NewGauge(prometheus.GaugeOpts{
			Name: "segbkp_script_warnings",
			Help: "Script invocations that exited in the warning range in the last run",
		}),
		duration: f.NewGauge(prometheus.GaugeOpts{
			Name: "segbkp_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
		exitCode: f.NewGauge(prometheus.GaugeOpts{
			Name: "segbkp_run_exit_code",
			Help: "Exit status of the last run",
		}),
		finished: f.NewGauge(prometheus.GaugeOpts{
			Name: "segbkp_run_finished_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: lastSuccessName,
			Help: "Unix time of the last run that exited 0",
		}),
	}
}

// Observe sets every gauge from a finished run.
func (r *Recorder) Observe(snap stats.Snapshot, exitCode int, finished time.Time) {
	r.segments.WithLabelValues("archived").Set(float64(snap.SegmentsArchived))
	r.segments.WithLabelValues("skipped").Set(float64(snap.SegmentsSkipped))
	r.segments.WithLabelValues("failed").Set(float64(snap.SegmentsFailed))
	r.parts.Set(float64(snap.PartsWritten))
	r.bytes.Set(float64(snap.BytesWritten))
	r.entries.Set(float64(snap.EntriesArchived))
	r.entriesSkipped.Set(float64(snap.EntriesSkipped))
	r.warnings.Set(float64(snap.ScriptWarnings))
	r.duration.Set(snap.Elapsed.Seconds())
	r.exitCode.Set(float64(exitCode))
	r.finished.Set(float64(finished.Unix()))
	if exitCode == 0 {
		r.lastSuccess.Set(float64(finished.Unix()))
	}
}

const lastSuccessName = "segbkp_last_success_timestamp_seconds"

// LoadPrevious carries the last-success timestamp forward from a textfile
// written by an earlier run, so a failed run does not reset it. A missing
// file leaves the gauge at 0.
func (r *Recorder) LoadPrevious(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	mf, ok := families[lastSuccessName]
	if !ok || len(mf.GetMetric()) == 0 {
		return nil
	}
	r.lastSuccess.Set(mf.GetMetric()[0].GetGauge().GetValue())
	return nil
}

// WriteFile atomically replaces path with the current gauge values.
func (r *Recorder) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
