package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var cpiReentrancy = Detector{Meta: cpiReentrancyMeta, Detect: detectCpiReentrancy}

var cpiReentrancyMeta = model.RuleMeta{
	ID:          "V009",
	Code:        "CWE-841",
	Title:       "Reentrancy via CPI",
	Severity:    model.SeverityCritical,
	Description: "State is written after a CPI into a program that may call back into this one.",
	Remediation: "Apply state changes before the CPI (checks-effects-interactions) or hold a reentrancy flag across it.",
	Tags:        []string{"cpi", "reentrancy"},
	References:  cwe("841"),
}

var lockWords = []string{"lock", "reentran", "in_progress", "entered", "busy"}

func detectCpiReentrancy(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		b := t.body()
		if b.GuardMentions(lockWords...) {
			continue
		}
		for _, c := range b.Cpis {
			if trustedCPI(t, c) {
				continue
			}
			var after *analysis.StateWrite
			for i := range b.Writes {
				if w := b.Writes[i]; w.Order > c.Order && !w.Lamports {
					after = &b.Writes[i]
					break
				}
			}
			if after == nil {
				continue
			}
			out = append(out, newFinding(cpiReentrancyMeta, t.cpiSite(c), 0.7,
				fmt.Sprintf("`%s` updates `%s` after calling `%s`", t.in.Name, after.Account, c.Name()),
				fmt.Sprintf("The callee runs before `%s` is written (line %d) and can observe or act on stale state.", after.Text, after.Line)))
		}
	}
	return out
}
