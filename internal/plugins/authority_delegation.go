package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/model"
)

var authorityDelegation = Detector{Meta: authorityDelegationMeta, Detect: detectAuthorityDelegation}

var authorityDelegationMeta = model.RuleMeta{
	ID:          "V011",
	Code:        "CWE-269",
	Title:       "Weak Authority Delegation",
	Severity:    model.SeverityHigh,
	Description: "An authority is reassigned without proving control of the current one, or in a single unconfirmed step.",
	Remediation: "Require the current authority to sign (has_one = authority with Signer), and use a two-step propose/accept transfer.",
	Tags:        []string{"access-control"},
	References:  cwe("269"),
}

func detectAuthorityDelegation(m *analysis.ProgramModel, cfg Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		b := t.body()
		for _, w := range b.Writes {
			if w.Lamports || w.Field == "" || !isAuthorityName(w.Field, cfg) {
				continue
			}
			switch {
			case !currentAuthorityProven(t, w, cfg):
				out = append(out, newFinding(authorityDelegationMeta, t.writeSite(w), 0.8,
					fmt.Sprintf("`%s` reassigns `%s.%s` without the current authority signing", t.in.Name, w.Account, w.Field),
					"Nothing ties the caller to the authority being replaced."))
			case w.Value.UserControlled() && !b.Mentions("pending*"):
				out = append(out, newFinding(authorityDelegationMeta, t.writeSite(w), 0.45,
					fmt.Sprintf("`%s` transfers `%s.%s` in a single step", t.in.Name, w.Account, w.Field),
					"A mistyped key permanently locks the account; a pending/accept handshake prevents it."))
			}
		}
		for _, c := range b.Cpis {
			if c.Name() != "set_authority" || hasSigner(t.ctx) {
				continue
			}
			out = append(out, newFinding(authorityDelegationMeta, t.cpiSite(c), 0.6,
				fmt.Sprintf("`%s` changes a token authority but no account in `%s` signs", t.in.Name, t.in.Context),
				"set_authority relies on the program's own signer seeds, so any caller can trigger it."))
		}
	}
	return out
}

// currentAuthorityProven reports a signer bound to the written account by
// has_one, or a guard comparing keys with an authority before the write.
func currentAuthorityProven(t target, w analysis.StateWrite, cfg Config) bool {
	if acct := t.field(w.Account); acct != nil {
		for _, h := range acct.Constraints.All(anchor.ConstraintHasOne) {
			if s := t.field(h.Value); s != nil && s.Signer() {
				return true
			}
		}
		if acct.Constraints.HasUnknown() {
			return false
		}
	}
	for _, g := range t.body().Guards {
		if g.Order > w.Order || !g.Compares() {
			continue
		}
		for _, id := range g.Idents {
			if isAuthorityName(id, cfg) {
				if s := t.field(id); s == nil || s.Signer() {
					return true
				}
			}
		}
	}
	return false
}

func hasSigner(c *analysis.AccountContext) bool {
	if c == nil {
		return false
	}
	for _, f := range c.Fields {
		if f.Signer() {
			return true
		}
	}
	return false
}
