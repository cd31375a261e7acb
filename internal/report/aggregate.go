package report

import (
	"sort"

	"github.com/xab-mack/anchorscan/internal/model"
)

// Aggregate collapses findings sharing a fingerprint, keeping the most
// severe and then the most confident, and returns them in report order.
func Aggregate(findings []model.Finding) []model.Finding {
	best := make(map[string]int, len(findings))
	out := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		i, ok := best[f.Fingerprint]
		if !ok {
			best[f.Fingerprint] = len(out)
			out = append(out, f)
			continue
		}
		if better(f, out[i]) {
			out[i] = f
		}
	}
	Sort(out)
	return out
}

func better(a, b model.Finding) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return a.Confidence > b.Confidence
}

// Sort orders findings by severity (most severe first), then program,
// instruction, detector and fingerprint.
func Sort(fs []model.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Location.Program != b.Location.Program {
			return a.Location.Program < b.Location.Program
		}
		if a.Location.Instruction != b.Location.Instruction {
			return a.Location.Instruction < b.Location.Instruction
		}
		if a.DetectorID != b.DetectorID {
			return a.DetectorID < b.DetectorID
		}
		return a.Fingerprint < b.Fingerprint
	})
}

func Summarize(fs []model.Finding) model.Summary {
	s := model.Summary{Total: len(fs), BySeverity: map[model.Severity]int{}}
	for _, sev := range model.Severities {
		s.BySeverity[sev] = 0
	}
	for _, f := range fs {
		s.BySeverity[f.Severity]++
	}
	return s
}

// AtLeast keeps findings at or above floor.
func AtLeast(fs []model.Finding, floor model.Severity) []model.Finding {
	if !floor.Valid() {
		return fs
	}
	var out []model.Finding
	for _, f := range fs {
		if model.SeverityGTE(f.Severity, floor) {
			out = append(out, f)
		}
	}
	return out
}
