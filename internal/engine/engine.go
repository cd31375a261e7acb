// Package engine drives a scan: model building, detectors, ignore rules and
// the baseline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/cache"
	"github.com/xab-mack/anchorscan/internal/config"
	"github.com/xab-mack/anchorscan/internal/metrics"
	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/plugins"
	"github.com/xab-mack/anchorscan/internal/report"
	"github.com/xab-mack/anchorscan/internal/source"
	"github.com/xab-mack/anchorscan/internal/util"
)

// ErrNoSources is returned when a scan is given no Rust files.
var ErrNoSources = errors.New("no Rust sources to scan")

type Options struct {
	Selection plugins.Selection
	// Floor drops findings below it. Empty means low.
	Floor    model.Severity
	Detector plugins.Config
	Workers  int
	Ignore   []config.IgnoreRule
	// Baseline is a fingerprint file; findings listed there are dropped.
	Baseline string
	Logger   hclog.Logger
	Metrics  *metrics.ScanMetrics
	// Now dates ignore rule expiry. Defaults to time.Now.
	Now func() time.Time
}

// FromConfig maps a loaded config onto scan options.
func FromConfig(cfg config.Config) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	sel, err := cfg.Selection()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Selection: sel,
		Floor:     cfg.Floor(),
		Detector:  cfg.Detector(),
		Workers:   cfg.Workers,
		Ignore:    cfg.Ignore,
		Baseline:  cfg.Baseline,
	}, nil
}

type Engine struct {
	opts  Options
	cache *cache.Memo[*analysis.Fragment]
}

// Result is a scan result together with the model it was computed from.
type Result struct {
	model.ScanResult
	Model *analysis.ProgramModel `json:"-"`
	// Suppressed counts findings dropped by ignore rules and the baseline.
	Suppressed int `json:"suppressed"`
}

// New returns an engine. Scans of the same engine share parsed fragments.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Floor == "" {
		opts.Floor = model.SeverityLow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{opts: opts, cache: cache.NewMemo[*analysis.Fragment]()}
}

// Scan runs one engine over files.
func Scan(ctx context.Context, files []source.File, opts Options) (*Result, error) {
	return New(opts).Scan(ctx, files)
}

func (e *Engine) Scan(ctx context.Context, files []source.File) (*Result, error) {
	start := time.Now()
	log := e.opts.Logger

	rs, unreadable := rustOnly(files)
	for _, f := range unreadable {
		log.Warn("skipping unreadable source", "file", f.Path, "error", f.Err)
	}
	if len(rs) == 0 {
		return nil, ErrNoSources
	}
	m, err := analysis.Build(ctx, rs, analysis.Options{Workers: e.opts.Workers, Logger: log.Named("model"), Cache: e.cache})
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	e.opts.Metrics.ObserveModel(len(rs), len(m.Programs), countInstructions(m))

	findings, diags := plugins.Run(ctx, m, e.opts.Selection, e.opts.Floor, e.opts.Detector)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, d := range diags {
		log.Error("detector fault", "detector", d.Source, "error", d.Message)
	}

	contents := make(map[string][]byte, len(rs))
	for _, f := range rs {
		contents[f.Path] = f.Content
	}
	kept, ignored := applyIgnores(findings, e.opts.Ignore, contents, e.opts.Now())
	e.opts.Metrics.Suppress("ignore", ignored)

	base, err := LoadBaseline(e.opts.Baseline)
	if err != nil {
		return nil, err
	}
	kept, known := filterByBaseline(kept, base)
	e.opts.Metrics.Suppress("baseline", known)

	res := &Result{Model: m, Suppressed: ignored + known}
	res.Findings = excerpts(report.Aggregate(kept), contents)
	if res.Findings == nil {
		res.Findings = []model.Finding{}
	}
	res.Summary = report.Summarize(res.Findings)
	res.Diagnostics = append(readDiagnostics(unreadable), coverageDiagnostics(m)...)
	res.Diagnostics = append(res.Diagnostics, diags...)
	res.Coverage = append(readNotes(unreadable), coverageNotes(m)...)
	res.Elapsed = time.Since(start)

	e.opts.Metrics.ObserveResult(res.ScanResult, res.Elapsed)
	log.Info("scan finished", "files", len(rs), "findings", len(res.Findings),
		"suppressed", res.Suppressed, "diagnostics", len(res.Diagnostics), "elapsed", res.Elapsed)
	return res, nil
}

// rustOnly keeps readable Rust files and returns the unreadable entries
// separately.
func rustOnly(files []source.File) (rs, unreadable []source.File) {
	rs = make([]source.File, 0, len(files))
	for _, f := range files {
		switch {
		case f.Err != nil:
			unreadable = append(unreadable, f)
		case source.IsRust(f.Path):
			rs = append(rs, f)
		}
	}
	return rs, unreadable
}

func readDiagnostics(unreadable []source.File) []model.Diagnostic {
	out := make([]model.Diagnostic, 0, len(unreadable))
	for _, f := range unreadable {
		out = append(out, model.Diagnostic{Kind: model.DiagnosticReadError, Source: f.Path, Message: f.Err.Error()})
	}
	return out
}

func readNotes(unreadable []source.File) []string {
	var out []string
	for _, f := range unreadable {
		out = append(out, fmt.Sprintf("%s: not read: %v", f.Path, f.Err))
	}
	return out
}

// excerpts attaches a few lines of source around each finding.
func excerpts(fs []model.Finding, contents map[string][]byte) []model.Finding {
	for i := range fs {
		loc := fs[i].Location
		fs[i].Excerpt = util.ExtractSnippet(string(contents[loc.File]), loc.Line, excerptLines)
	}
	return fs
}

const excerptLines = 5

func countInstructions(m *analysis.ProgramModel) int {
	n := 0
	for _, p := range m.Programs {
		n += len(p.Instructions)
	}
	return n
}

// coverageDiagnostics reports every part of the codebase that was not fully
// modeled.
func coverageDiagnostics(m *analysis.ProgramModel) []model.Diagnostic {
	out := make([]model.Diagnostic, 0, len(m.Coverage))
	for _, c := range m.Coverage {
		out = append(out, model.Diagnostic{
			Kind:        c.Kind,
			Source:      c.File,
			Program:     c.Program,
			Instruction: c.Instruction,
			Message:     c.Err().Error(),
		})
	}
	return out
}

func coverageNotes(m *analysis.ProgramModel) []string {
	var out []string
	for _, c := range m.Coverage {
		out = append(out, c.String())
	}
	return out
}
