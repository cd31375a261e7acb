package plugins

import (
	"fmt"
	"strings"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/model"
)

var rentBypass = Detector{Meta: rentBypassMeta, Detect: detectRentBypass}

var rentBypassMeta = model.RuleMeta{
	ID:          "V012",
	Code:        "CWE-400",
	Title:       "Rent Exemption Bypass",
	Severity:    model.SeverityMedium,
	Description: "Lamports are withdrawn from an account without keeping it rent exempt.",
	Remediation: "Keep at least Rent::get()?.minimum_balance(data_len) in the account, or close it entirely.",
	Tags:        []string{"lamports", "rent"},
	References:  cwe("400"),
}

var rentIdents = []string{"minimum_balance", "rent_exempt*", "Rent", "is_exempt"}

func detectRentBypass(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		if t.ctx != nil {
			for _, f := range t.ctx.Fields {
				if c, ok := f.Constraints.Get(anchor.ConstraintRentExempt); ok && strings.TrimSpace(c.Value) == "skip" {
					out = append(out, newFinding(rentBypassMeta, t.fieldSite(f), 0.75,
						fmt.Sprintf("account `%s` in `%s` skips the rent-exemption check", f.Name, t.ctx.Name),
						"`rent_exempt = skip` lets the account fall below the exemption threshold."))
				}
			}
		}
		b := t.body()
		if b.Mentions(rentIdents...) {
			continue
		}
		for _, a := range b.Arithmetic {
			if !a.Lamports || !a.Compound || a.Op != analysis.OpSub || closes(t, a.Target) {
				continue
			}
			out = append(out, newFinding(rentBypassMeta, t.arithSite(a), 0.6,
				fmt.Sprintf("`%s` debits lamports without a rent-exemption check", t.in.Name),
				"The remaining balance can drop below the rent-exempt minimum and the account gets reclaimed."))
		}
		for _, c := range b.CallsNamed("sub_lamports") {
			out = append(out, newFinding(rentBypassMeta, t.callSite(c), 0.6,
				fmt.Sprintf("`%s` debits lamports without a rent-exemption check", t.in.Name),
				"The remaining balance can drop below the rent-exempt minimum and the account gets reclaimed."))
		}
	}
	return out
}

// closes reports whether the context closes the account named in expr.
func closes(t target, expr string) bool {
	if t.ctx == nil {
		return false
	}
	for _, f := range t.ctx.Fields {
		if f.Constraints.Has(anchor.ConstraintClose) && strings.Contains(expr, f.Name) {
			return true
		}
	}
	return false
}
