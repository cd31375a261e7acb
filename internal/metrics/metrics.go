// Package metrics counts scan activity with prometheus collectors on a
// private registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xab-mack/anchorscan/internal/model"
)

type ScanMetrics struct {
	Registry *prometheus.Registry

	FilesParsed       prometheus.Counter
	ReadErrors        prometheus.Counter
	ParseErrors       prometheus.Counter
	ModelErrors       prometheus.Counter
	DetectorFaults    *prometheus.CounterVec
	Findings          *prometheus.CounterVec
	Suppressed        *prometheus.CounterVec
	ScanDuration      prometheus.Histogram
	ArtifactsWritten  prometheus.Counter
	ProgramsModeled   prometheus.Gauge
	InstructionsFound prometheus.Gauge
}

func New() *ScanMetrics {
	m := &ScanMetrics{
		Registry: prometheus.NewRegistry(),
		FilesParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchorscan_files_parsed_total",
			Help: "Total number of Rust files handed to the parser",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchorscan_read_errors_total",
			Help: "Total number of source files that could not be read",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchorscan_parse_errors_total",
			Help: "Total number of files that could not be parsed",
		}),
		ModelErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchorscan_model_errors_total",
			Help: "Total number of items that parsed but could not be fully modeled",
		}),
		DetectorFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorscan_detector_faults_total",
			Help: "Total number of detector runs that failed",
		}, []string{"detector"}),
		Findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorscan_findings_total",
			Help: "Total number of reported findings per detector and severity",
		}, []string{"detector", "severity"}),
		Suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anchorscan_findings_suppressed_total",
			Help: "Total number of findings dropped by ignore rules or the baseline",
		}, []string{"reason"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "anchorscan_scan_duration_seconds",
			Help:    "Wall time of a full scan in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		ArtifactsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchorscan_poc_artifacts_total",
			Help: "Total number of exploit tests synthesized",
		}),
		ProgramsModeled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anchorscan_programs",
			Help: "Number of programs in the last model",
		}),
		InstructionsFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anchorscan_instructions",
			Help: "Number of instructions in the last model",
		}),
	}
	m.Registry.MustRegister(m.FilesParsed, m.ReadErrors, m.ParseErrors, m.ModelErrors, m.DetectorFaults, m.Findings,
		m.Suppressed, m.ScanDuration, m.ArtifactsWritten, m.ProgramsModeled, m.InstructionsFound)
	return m
}

// ObserveResult records the findings and diagnostics of one scan. A nil
// receiver is a no-op.
func (m *ScanMetrics) ObserveResult(res model.ScanResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	for _, f := range res.Findings {
		m.Findings.WithLabelValues(f.DetectorID, string(f.Severity)).Inc()
	}
	for _, d := range res.Diagnostics {
		switch d.Kind {
		case model.DiagnosticReadError:
			m.ReadErrors.Inc()
		case model.DiagnosticParseError:
			m.ParseErrors.Inc()
		case model.DiagnosticModelError:
			m.ModelErrors.Inc()
		case model.DiagnosticDetectorFault:
			m.DetectorFaults.WithLabelValues(d.Source).Inc()
		}
	}
	m.ScanDuration.Observe(elapsed.Seconds())
}

// ObserveModel records model sizes.
func (m *ScanMetrics) ObserveModel(files, programs, instructions int) {
	if m == nil {
		return
	}
	m.FilesParsed.Add(float64(files))
	m.ProgramsModeled.Set(float64(programs))
	m.InstructionsFound.Set(float64(instructions))
}

func (m *ScanMetrics) Suppress(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Suppressed.WithLabelValues(reason).Add(float64(n))
}

func (m *ScanMetrics) Artifacts(n int) {
	if m == nil {
		return
	}
	m.ArtifactsWritten.Add(float64(n))
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *ScanMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
