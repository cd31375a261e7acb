package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var precisionLoss = Detector{Meta: precisionLossMeta, Detect: detectPrecisionLoss}

var precisionLossMeta = model.RuleMeta{
	ID:          "V026",
	Code:        "CWE-682",
	Title:       "Precision Loss",
	Severity:    model.SeverityMedium,
	Description: "A value is divided before it is multiplied, discarding precision.",
	Remediation: "Reorder to multiply first (widening to u128 if needed), then divide once.",
	Tags:        []string{"arithmetic"},
	References:  cwe("682"),
}

func detectPrecisionLoss(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		for _, a := range t.body().Arithmetic {
			if a.Op != analysis.OpMul || !a.FromDivision || a.Lamports {
				continue
			}
			conf := 0.75
			if a.Left.UserControlled() || a.Right.UserControlled() {
				conf = 0.8
			}
			out = append(out, newFinding(precisionLossMeta, t.arithSite(a), conf,
				fmt.Sprintf("division before multiplication in `%s`: `%s`", t.in.Name, a.Text),
				"The quotient is truncated before scaling, so small inputs round to zero."))
		}
	}
	return out
}
