package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/model"
)

var unverifiedDerived = Detector{Meta: unverifiedDerivedMeta, Detect: detectUnverifiedDerived}

var unverifiedDerivedMeta = model.RuleMeta{
	ID:          "V021",
	Code:        "CWE-345",
	Title:       "Unverified Derived Account",
	Severity:    model.SeverityCritical,
	Description: "An account used as a program-derived address is never checked against its derivation.",
	Remediation: "Add `seeds = [...]` and `bump` constraints, or compare the account key with the derived address.",
	Tags:        []string{"pda", "account-validation"},
	References:  cwe("345"),
}

func detectUnverifiedDerived(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		if t.ctx == nil {
			continue
		}
		b := t.body()
		signed := map[string]bool{}
		for _, c := range b.Cpis {
			if c.Signed {
				for _, a := range c.Accounts {
					signed[a] = true
				}
			}
		}
		for _, f := range t.ctx.Fields {
			if !f.Type.Untyped() || f.Signer() || pinned(f) || guardedByKey(b, maxOrder, f.Name) {
				continue
			}
			var conf float64
			var why string
			switch {
			case signed[f.Name]:
				conf, why = 0.8, fmt.Sprintf("`%s` is passed to a CPI signed with program seeds but its address is not checked against them.", f.Name)
			case len(b.Derivations) > 0 && (b.Borrows(f.Name) || b.WritesTo(f.Name)):
				conf, why = 0.65, fmt.Sprintf("`%s` is used next to a derived address but is never compared with it.", f.Name)
			default:
				continue
			}
			conf, why = unverified(t, f, conf, why)
			out = append(out, newFinding(unverifiedDerivedMeta, t.fieldSite(f), conf,
				fmt.Sprintf("derived account `%s` in `%s` is not verified", f.Name, t.ctx.Name),
				why))
		}
	}
	return out
}

const maxOrder = int(^uint(0) >> 1)

// pinned reports fields whose address is fixed by a constraint.
func pinned(f *analysis.AccountField) bool {
	cs := f.Constraints
	return cs.Has(anchor.ConstraintSeeds) || cs.Has(anchor.ConstraintAddress) || cs.Has(anchor.ConstraintOwner) ||
		cs.Mentions(anchor.ConstraintExpr, "key")
}
