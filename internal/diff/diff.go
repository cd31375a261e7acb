// Package diff compares the findings of two scans by fingerprint.
package diff

import (
	"sort"

	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/report"
)

// Pair is a finding present in both scans.
type Pair struct {
	Fingerprint string        `json:"fingerprint"`
	Old         model.Finding `json:"old"`
	New         model.Finding `json:"new"`
}

// Report partitions the fingerprints of two scans. Every fingerprint of
// either scan is in exactly one of New, Fixed or Persisted.
type Report struct {
	New       []string `json:"new"`
	Fixed     []string `json:"fixed"`
	Persisted []string `json:"persisted"`
	Evidence  []Pair   `json:"evidence"`
	// Findings maps new and persisted fingerprints to the newer finding and
	// fixed ones to the older.
	Findings map[string]model.Finding `json:"findings"`
}

// Compare diffs old against new.
func Compare(old, new []model.Finding) Report {
	before := index(old)
	after := index(new)

	r := Report{
		New:       []string{},
		Fixed:     []string{},
		Persisted: []string{},
		Evidence:  []Pair{},
		Findings:  make(map[string]model.Finding, len(before)+len(after)),
	}
	for fp, f := range after {
		r.Findings[fp] = f
		if o, ok := before[fp]; ok {
			r.Persisted = append(r.Persisted, fp)
			r.Evidence = append(r.Evidence, Pair{Fingerprint: fp, Old: o, New: f})
		} else {
			r.New = append(r.New, fp)
		}
	}
	for fp, f := range before {
		if _, ok := after[fp]; !ok {
			r.Fixed = append(r.Fixed, fp)
			r.Findings[fp] = f
		}
	}
	sort.Strings(r.New)
	sort.Strings(r.Fixed)
	sort.Strings(r.Persisted)
	sort.Slice(r.Evidence, func(i, j int) bool { return r.Evidence[i].Fingerprint < r.Evidence[j].Fingerprint })
	return r
}

// index keys findings by fingerprint, keeping the stronger of duplicates.
func index(fs []model.Finding) map[string]model.Finding {
	out := make(map[string]model.Finding, len(fs))
	for _, f := range report.Aggregate(fs) {
		out[f.Fingerprint] = f
	}
	return out
}

// Introduced returns the new findings in report order.
func (r Report) Introduced() []model.Finding { return r.lookup(r.New) }

// Resolved returns the fixed findings in report order.
func (r Report) Resolved() []model.Finding { return r.lookup(r.Fixed) }

// Remaining returns the persisted findings in report order.
func (r Report) Remaining() []model.Finding { return r.lookup(r.Persisted) }

func (r Report) lookup(fps []string) []model.Finding {
	out := make([]model.Finding, 0, len(fps))
	for _, fp := range fps {
		out = append(out, r.Findings[fp])
	}
	report.Sort(out)
	return out
}

// Regressed reports whether any new finding is at or above floor.
func (r Report) Regressed(floor model.Severity) bool {
	for _, fp := range r.New {
		if model.SeverityGTE(r.Findings[fp].Severity, floor) {
			return true
		}
	}
	return false
}
