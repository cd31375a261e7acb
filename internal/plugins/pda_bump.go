package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var missingBumpCheck = Detector{Meta: missingBumpCheckMeta, Detect: detectMissingBumpCheck}

var missingBumpCheckMeta = model.RuleMeta{
	ID:          "V008",
	Code:        "CWE-330",
	Title:       "Missing PDA Bump Check",
	Severity:    model.SeverityCritical,
	Description: "A PDA is derived with a bump that is not pinned to the canonical one.",
	Remediation: "Use `bump` (canonical) on init and `bump = account.bump` afterwards; never take the bump from instruction data.",
	Tags:        []string{"pda"},
	References:  cwe("330"),
}

func detectMissingBumpCheck(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, p := range m.Programs {
		for _, d := range m.Derivations(p.Name) {
			var conf float64
			var why string
			switch d.Bump {
			case analysis.BumpUserSupplied:
				conf, why = 0.9, fmt.Sprintf("The bump `%s` comes from instruction input, so a non-canonical address with the same seeds is accepted.", d.BumpExpr)
			case analysis.BumpUnknown:
				conf, why = 0.6, "The bump's origin could not be traced to a canonical or stored value."
			default:
				continue
			}
			out = append(out, newFinding(missingBumpCheckMeta, pdaSite(m, d, d.Signature), conf,
				fmt.Sprintf("PDA %s in `%s` is not bound to its canonical bump", describe(d), p.Name),
				why))
		}
	}
	return out
}
