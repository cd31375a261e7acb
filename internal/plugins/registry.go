// Package plugins holds the closed catalog of detectors and the framework
// that runs them over a ProgramModel.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/report"
)

// Detector is one catalog entry. Detect must only read the model.
type Detector struct {
	Meta   model.RuleMeta
	Detect func(*analysis.ProgramModel, Config) []model.Finding
}

// Config tunes detectors. It is passed by value into every run.
type Config struct {
	// AuthorityNames extends the account names treated as authorities.
	AuthorityNames []string `json:"authorityNames,omitempty" yaml:"authorityNames,omitempty"`
}

var ErrUnknownDetector = errors.New("unknown detector")

var builtin = []Detector{
	missingSigner,
	missingOwner,
	integerOverflow,
	pdaCollision,
	uncheckedInit,
	unsafeCPI,
	token2022Risk,
	missingBumpCheck,
	cpiReentrancy,
	uncheckedTransfer,
	authorityDelegation,
	rentBypass,
	missingClose,
	oracleRisk,
	signatureReplay,
	mintBurnSupply,
	upgradeGap,
	errorSuppression,
	unboundedLoop,
	unverifiedDerived,
	lamportsRounding,
	precisionLoss,
}

// Builtin returns the catalog ordered by ID.
func Builtin() []Detector {
	out := append([]Detector(nil), builtin...)
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.ID < out[j].Meta.ID })
	return out
}

// Catalog returns the metadata of every built-in detector.
func Catalog() []model.RuleMeta {
	ds := Builtin()
	out := make([]model.RuleMeta, len(ds))
	for i, d := range ds {
		out[i] = d.Meta
	}
	return out
}

func Lookup(id string) (Detector, bool) {
	for _, d := range builtin {
		if d.Meta.ID == id {
			return d, true
		}
	}
	return Detector{}, false
}

// Selection picks the detectors of a run. The zero value selects all.
type Selection struct {
	only    map[string]bool
	exclude map[string]bool
}

// NewSelection validates detector IDs. An empty only list means all.
func NewSelection(only, exclude []string) (Selection, error) {
	s := Selection{}
	var err error
	if s.only, err = idSet(only); err != nil {
		return Selection{}, err
	}
	if s.exclude, err = idSet(exclude); err != nil {
		return Selection{}, err
	}
	return s, nil
}

// idSet is nil when no ID survives trimming, which selects every detector.
func idSet(ids []string) (map[string]bool, error) {
	var set map[string]bool
	for _, raw := range ids {
		id := strings.ToUpper(strings.TrimSpace(raw))
		if id == "" {
			continue
		}
		if _, ok := Lookup(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDetector, raw)
		}
		if set == nil {
			set = make(map[string]bool, len(ids))
		}
		set[id] = true
	}
	return set, nil
}

func (s Selection) Includes(id string) bool {
	if s.only != nil && !s.only[id] {
		return false
	}
	return !s.exclude[id]
}

// Detectors returns the selected detectors ordered by ID.
func (s Selection) Detectors() []Detector {
	var out []Detector
	for _, d := range Builtin() {
		if s.Includes(d.Meta.ID) {
			out = append(out, d)
		}
	}
	return out
}

// Run executes the selected detectors in parallel and returns aggregated
// findings at or above floor. A detector that panics yields a diagnostic
// and no findings; the others are unaffected.
func Run(ctx context.Context, m *analysis.ProgramModel, sel Selection, floor model.Severity, cfg Config) ([]model.Finding, []model.Diagnostic) {
	return run(ctx, m, sel.Detectors(), floor, cfg)
}

func run(ctx context.Context, m *analysis.ProgramModel, detectors []Detector, floor model.Severity, cfg Config) ([]model.Finding, []model.Diagnostic) {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		cpu = 2
	}
	type res struct {
		fs   []model.Finding
		diag *model.Diagnostic
	}
	results := make([]res, len(detectors))
	var wg sync.WaitGroup
	sem := make(chan struct{}, cpu)
	for i, d := range detectors {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, d Detector) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					results[i] = res{diag: &model.Diagnostic{
						Kind:    model.DiagnosticDetectorFault,
						Source:  d.Meta.ID,
						Message: fmt.Sprintf("detector %s failed: %v", d.Meta.ID, r),
					}}
				}
			}()
			results[i] = res{fs: d.Detect(m, cfg)}
		}(i, d)
	}
	wg.Wait()

	var out []model.Finding
	var diags []model.Diagnostic
	for _, r := range results {
		if r.diag != nil {
			diags = append(diags, *r.diag)
			continue
		}
		out = append(out, r.fs...)
	}
	return report.Aggregate(report.AtLeast(out, floor)), diags
}
