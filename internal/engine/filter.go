package engine

import (
	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/report"
)

// Exceeding returns the findings at or above threshold, for --fail-on. An
// invalid threshold matches nothing.
func Exceeding(findings []model.Finding, threshold model.Severity) []model.Finding {
	if !threshold.Valid() {
		return nil
	}
	return report.AtLeast(findings, threshold)
}
