// Package poc turns findings into runnable Anchor mocha tests that attempt
// the exploit against a local validator.
package poc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

// Artifact is one generated exploit test.
type Artifact struct {
	Fingerprint   string   `json:"fingerprint"`
	DetectorID    string   `json:"detectorId"`
	Filename      string   `json:"filename"`
	Source        string   `json:"source"`
	Preconditions []string `json:"preconditions"`
}

// UnsupportedVulnerabilityError is returned for findings of detectors that
// have no exploit template.
type UnsupportedVulnerabilityError struct {
	DetectorID string
}

func (e *UnsupportedVulnerabilityError) Error() string {
	return fmt.Sprintf("no exploit template for %s", e.DetectorID)
}

// ErrUnresolved means the finding names a program, instruction or account
// the model does not contain.
var ErrUnresolved = errors.New("finding does not resolve against the model")

// ErrIncomplete means the finding resolves but lacks a detail the exploit
// needs, such as literal seeds or an account to target.
var ErrIncomplete = errors.New("finding lacks what an exploit test needs")

// Supported reports whether findings of detector id can be synthesized.
func Supported(id string) bool {
	_, ok := scenarios[id]
	return ok
}

// SupportedDetectors lists detector IDs with templates, sorted.
func SupportedDetectors() []string {
	return append([]string(nil), supportedIDs...)
}

// Synthesize renders the exploit test for f. Output depends only on f and
// the model.
func Synthesize(f model.Finding, m *analysis.ProgramModel) (*Artifact, error) {
	prepare, ok := scenarios[f.DetectorID]
	if !ok {
		return nil, &UnsupportedVulnerabilityError{DetectorID: f.DetectorID}
	}
	s, err := newScenario(f, m)
	if err != nil {
		return nil, err
	}
	if err := prepare(s); err != nil {
		return nil, err
	}
	s.finish()

	var buf bytes.Buffer
	if err := templates[f.DetectorID].ExecuteTemplate(&buf, "file", s); err != nil {
		return nil, fmt.Errorf("render %s: %w", f.DetectorID, err)
	}
	return &Artifact{
		Fingerprint:   f.Fingerprint,
		DetectorID:    f.DetectorID,
		Filename:      Filename(f),
		Source:        buf.String(),
		Preconditions: s.Preconditions,
	}, nil
}

// Filename is the artifact file name for f.
func Filename(f model.Finding) string {
	fp := f.Fingerprint
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return fmt.Sprintf("poc_%s_%s.ts", strings.ToLower(f.DetectorID), fp)
}

// SynthesizeAll synthesizes every finding in parallel. Artifacts keep the
// order of findings; failed findings are skipped and their errors joined.
func SynthesizeAll(ctx context.Context, findings []model.Finding, m *analysis.ProgramModel) ([]*Artifact, error) {
	arts := make([]*Artifact, len(findings))
	errs := make([]error, len(findings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, f := range findings {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := Synthesize(f, m)
			if err != nil {
				errs[i] = fmt.Errorf("%s %s: %w", f.DetectorID, f.Fingerprint, err)
				return nil
			}
			arts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*Artifact, 0, len(arts))
	for _, a := range arts {
		if a != nil {
			out = append(out, a)
		}
	}
	return out, errors.Join(errs...)
}

// WriteAll writes artifacts into dir and returns the written paths.
func WriteAll(dir string, arts []*Artifact) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	paths := make([]string, 0, len(arts))
	for _, a := range arts {
		p := filepath.Join(dir, a.Filename)
		if err := os.WriteFile(p, []byte(a.Source), 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
