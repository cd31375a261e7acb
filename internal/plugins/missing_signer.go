package plugins

import (
	"fmt"
	"strings"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/model"
)

var missingSigner = Detector{Meta: missingSignerMeta, Detect: detectMissingSigner}

var missingSignerMeta = model.RuleMeta{
	ID:          "V001",
	Code:        "CWE-862",
	Title:       "Missing Signer Check",
	Severity:    model.SeverityCritical,
	Description: "An account that authorizes a privileged mutation is not required to sign the transaction.",
	Remediation: "Declare the account as Signer<'info> or add the `signer` constraint; has_one alone only pins the key.",
	Tags:        []string{"access-control"},
	References:  cwe("862"),
}

func detectMissingSigner(m *analysis.ProgramModel, cfg Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		if t.ctx == nil || !privileged(t) {
			continue
		}
		pinned := t.ctx.HasOneTargets()
		for _, f := range t.ctx.Fields {
			if f.Signer() || f.Pda != nil || f.Type.IsProgram() || f.Type.IsData() || f.Type.Kind == anchor.TypeSysvar {
				continue
			}
			named := isAuthorityName(f.Name, cfg)
			raw := f.Writable() && f.Type.Untyped()
			if !named && !raw {
				continue
			}
			if signerVerified(t.body(), f.Name) {
				continue
			}
			conf := 0.75
			rationale := fmt.Sprintf("`%s` looks like an authority but any key can be passed in its place.", f.Name)
			if raw && (t.body().Touches(f.Name) || t.body().WritesTo(f.Name)) {
				conf = 0.9
			}
			if pinned[f.Name] || keyConstrained(t.ctx, f.Name) {
				conf = 0.5
				rationale += " Its key is compared against stored state, but no signature is required."
			}
			conf, rationale = unverified(t, f, conf, rationale)
			out = append(out, newFinding(missingSignerMeta, t.fieldSite(f), conf,
				fmt.Sprintf("account `%s` in `%s` authorizes `%s` but is not required to sign", f.Name, t.ctx.Name, t.in.Name),
				rationale))
		}
	}
	return out
}

// privileged reports instructions that mutate state or call other programs.
func privileged(t target) bool {
	b := t.body()
	if len(b.Writes) > 0 || len(b.Cpis) > 0 {
		return true
	}
	for _, f := range t.ctx.Fields {
		if f.Constraints.Has(anchor.ConstraintClose) || (f.Writable() && f.Type.IsData()) {
			return true
		}
	}
	return false
}

func signerVerified(b analysis.Body, name string) bool {
	for _, g := range b.Guards {
		if g.Mentions(name) && strings.Contains(g.Condition, "is_signer") {
			return true
		}
	}
	return false
}

// keyConstrained reports a constraint expression comparing name's key.
func keyConstrained(c *analysis.AccountContext, name string) bool {
	for _, f := range c.Fields {
		for _, x := range f.Constraints.All(anchor.ConstraintExpr) {
			if strings.Contains(x.Value, name+".key") {
				return true
			}
		}
	}
	return false
}
