package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/xab-mack/anchorscan/internal/model"
)

// Baseline is a set of accepted finding fingerprints.
type Baseline struct {
	GeneratedAt  time.Time
	Fingerprints map[string]bool
}

type baselineFile struct {
	GeneratedAt  time.Time `json:"generatedAt"`
	Fingerprints []string  `json:"fingerprints"`
}

// LoadBaseline reads either a bare JSON array of fingerprints or an object
// with a fingerprints array. An empty path yields an empty baseline.
func LoadBaseline(path string) (Baseline, error) {
	b := Baseline{Fingerprints: map[string]bool{}}
	if path == "" {
		return b, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read baseline: %w", err)
	}
	var fps []string
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &fps); err != nil {
			return b, fmt.Errorf("parse baseline %s: %w", path, err)
		}
	} else {
		var f baselineFile
		if err := json.Unmarshal(data, &f); err != nil {
			return b, fmt.Errorf("parse baseline %s: %w", path, err)
		}
		b.GeneratedAt = f.GeneratedAt
		fps = f.Fingerprints
	}
	for _, fp := range fps {
		b.Fingerprints[fp] = true
	}
	return b, nil
}

func filterByBaseline(findings []model.Finding, b Baseline) ([]model.Finding, int) {
	if len(b.Fingerprints) == 0 {
		return findings, 0
	}
	out := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Fingerprint != "" && b.Fingerprints[f.Fingerprint] {
			continue
		}
		out = append(out, f)
	}
	return out, len(findings) - len(out)
}

// WriteBaseline records the fingerprints of findings, sorted, so a later
// scan reports only what is new.
func WriteBaseline(path string, findings []model.Finding, now time.Time) error {
	seen := make(map[string]bool, len(findings))
	fps := []string{}
	for _, f := range findings {
		if f.Fingerprint != "" && !seen[f.Fingerprint] {
			seen[f.Fingerprint] = true
			fps = append(fps, f.Fingerprint)
		}
	}
	sort.Strings(fps)
	data, err := json.MarshalIndent(baselineFile{GeneratedAt: now.UTC(), Fingerprints: fps}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	return nil
}
