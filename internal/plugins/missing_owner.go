package plugins

import (
	"fmt"
	"strings"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var missingOwner = Detector{Meta: missingOwnerMeta, Detect: detectMissingOwner}

var missingOwnerMeta = model.RuleMeta{
	ID:          "V002",
	Code:        "CWE-284",
	Title:       "Missing Owner Check",
	Severity:    model.SeverityHigh,
	Description: "An untyped account is read, mutated or forwarded to a CPI without verifying its owning program.",
	Remediation: "Use Account<'info, T> or add an `owner = <program>` constraint before trusting the account data.",
	Tags:        []string{"access-control", "account-validation"},
	References:  cwe("284"),
}

func detectMissingOwner(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		if t.ctx == nil {
			continue
		}
		b := t.body()
		for _, f := range t.ctx.Fields {
			if f.OwnerChecked() || !f.Type.Untyped() || f.Signer() || ownerGuarded(b, f.Name) {
				continue
			}
			var conf float64
			var use string
			switch {
			case b.Borrows(f.Name):
				conf, use = 0.85, "its raw data is read"
			case dataWrite(b, f.Name):
				conf, use = 0.8, "its data is mutated"
			case passedToCPI(b, f.Name):
				conf, use = 0.55, "it is forwarded to a cross-program invocation"
			default:
				continue
			}
			rationale := fmt.Sprintf("`%s` carries no owner guarantee and %s, so an attacker can supply an account with a forged layout.", f.Name, use)
			if f.Checked() {
				conf -= 0.15
				rationale += " A CHECK comment is present but no owner constraint backs it."
			}
			conf, rationale = unverified(t, f, conf, rationale)
			out = append(out, newFinding(missingOwnerMeta, t.fieldSite(f), conf,
				fmt.Sprintf("account `%s` in `%s` is used by `%s` without an owner check", f.Name, t.ctx.Name, t.in.Name),
				rationale))
		}
	}
	return out
}

func ownerGuarded(b analysis.Body, name string) bool {
	for _, g := range b.Guards {
		if g.Mentions(name) && strings.Contains(g.Condition, "owner") {
			return true
		}
	}
	return false
}

func dataWrite(b analysis.Body, name string) bool {
	for _, w := range b.Writes {
		if w.Account == name && !w.Lamports {
			return true
		}
	}
	return false
}

func passedToCPI(b analysis.Body, name string) bool {
	for _, c := range b.Cpis {
		for _, a := range c.Accounts {
			if a == name {
				return true
			}
		}
	}
	return false
}
