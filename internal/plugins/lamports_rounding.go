package plugins

import (
	"fmt"
	"strings"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var lamportsRounding = Detector{Meta: lamportsRoundingMeta, Detect: detectLamportsRounding}

var lamportsRoundingMeta = model.RuleMeta{
	ID:          "V022",
	Code:        "CWE-682",
	Title:       "Lamports Rounding",
	Severity:    model.SeverityMedium,
	Description: "Integer division on lamport amounts truncates, leaking or stranding dust.",
	Remediation: "Multiply before dividing, round in the protocol's favor explicitly, and account for the remainder.",
	Tags:        []string{"arithmetic", "lamports"},
	References:  cwe("682"),
}

func detectLamportsRounding(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		b := t.body()
		for _, a := range b.Arithmetic {
			if !a.Lamports {
				continue
			}
			switch {
			case a.Op == analysis.OpDiv:
				out = append(out, newFinding(lamportsRoundingMeta, t.arithSite(a), 0.7,
					fmt.Sprintf("lamport amount divided in `%s`: `%s`", t.in.Name, a.Text),
					"Integer division rounds toward zero; repeated splits leave lamports behind or let callers round in their favor."))
			case a.Op == analysis.OpMul && a.FromDivision:
				out = append(out, newFinding(lamportsRoundingMeta, t.arithSite(a), 0.75,
					fmt.Sprintf("lamport amount multiplied after division in `%s`: `%s`", t.in.Name, a.Text),
					"The truncated quotient is scaled back up, amplifying the rounding error."))
			}
		}
		for _, w := range b.Writes {
			if w.Lamports && strings.Contains(w.Value.Text, "/") {
				out = append(out, newFinding(lamportsRoundingMeta, t.writeSite(w), 0.65,
					fmt.Sprintf("lamports of `%s` set from a division in `%s`", w.Account, t.in.Name),
					"The assigned balance is a truncated quotient."))
			}
		}
	}
	return out
}
