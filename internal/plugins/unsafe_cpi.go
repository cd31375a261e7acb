package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/model"
)

var unsafeCPI = Detector{Meta: unsafeCPIMeta, Detect: detectUnsafeCPI}

var unsafeCPIMeta = model.RuleMeta{
	ID:          "V006",
	Code:        "CWE-749",
	Title:       "Unsafe CPI",
	Severity:    model.SeverityCritical,
	Description: "A cross-program invocation targets a program id the caller controls.",
	Remediation: "Type the program account as Program<'info, T>, add an `address` constraint, or invoke a hardcoded program id.",
	Tags:        []string{"cpi"},
	References:  cwe("749"),
}

func detectUnsafeCPI(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		b := t.body()
		for _, c := range b.Cpis {
			if c.Hardcoded {
				continue
			}
			conf, why, ok := arbitraryProgram(t, c)
			if !ok {
				continue
			}
			out = append(out, newFinding(unsafeCPIMeta, t.cpiSite(c), conf,
				fmt.Sprintf("`%s` in `%s` invokes a program that is not verified", c.Name(), t.in.Name),
				why))
		}
	}
	return out
}

func arbitraryProgram(t target, c analysis.CpiInvocation) (float64, string, bool) {
	b := t.body()
	if pa := c.ProgramAccount; pa != "" {
		if guardedByKey(b, c.Order, pa) {
			return 0, "", false
		}
		f := t.field(pa)
		if f == nil {
			return 0.6, fmt.Sprintf("The program account `%s` is not declared in the instruction context.", pa), true
		}
		if f.Type.IsProgram() || f.Constraints.Has(anchor.ConstraintAddress) {
			return 0, "", false
		}
		conf, why := unverified(t, f, 0.85,
			fmt.Sprintf("`%s` is %s with no address constraint, so the caller chooses which program runs.", pa, f.Type.Kind))
		return conf, why, true
	}
	if c.Kind == analysis.CpiHelper {
		// The CpiContext was built by a caller outside the model.
		return 0, "", false
	}
	if c.ProgramRef == "" {
		return 0.5, "The invoked program id could not be resolved.", true
	}
	for _, id := range idents(c.ProgramRef) {
		if b.GuardedBefore(c.Order, id) {
			return 0, "", false
		}
	}
	return 0.7, fmt.Sprintf("The program id `%s` is taken from runtime data rather than a constant.", c.ProgramRef), true
}
