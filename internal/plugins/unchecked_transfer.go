package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var uncheckedTransfer = Detector{Meta: uncheckedTransferMeta, Detect: detectUncheckedTransfer}

var uncheckedTransferMeta = model.RuleMeta{
	ID:          "V010",
	Code:        "CWE-129",
	Title:       "Unchecked Transfer Amount",
	Severity:    model.SeverityHigh,
	Description: "A transfer moves a caller-chosen amount without validating it.",
	Remediation: "Check the amount against zero, balances and protocol limits with require! before transferring.",
	Tags:        []string{"transfer", "input-validation"},
	References:  cwe("129"),
}

var transferNames = map[string]bool{"transfer": true, "transfer_checked": true}

func detectUncheckedTransfer(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		b := t.body()
		for _, c := range b.Cpis {
			if !transferNames[c.Name()] || c.Amount == nil || !c.Amount.UserControlled() {
				continue
			}
			if b.GuardedBefore(c.Order, c.Amount.Idents...) {
				continue
			}
			out = append(out, newFinding(uncheckedTransferMeta, t.cpiSite(c), 0.75,
				fmt.Sprintf("`%s` in `%s` transfers `%s` without validating it", c.Name(), t.in.Name, c.Amount.Text),
				"The amount comes from instruction input and no earlier check bounds it."))
		}
		for _, a := range b.Arithmetic {
			if !a.Lamports || !a.Compound || (a.Op != analysis.OpAdd && a.Op != analysis.OpSub) || !a.Right.UserControlled() {
				continue
			}
			if b.GuardedBefore(a.Order, a.Right.Idents...) {
				continue
			}
			out = append(out, newFinding(uncheckedTransferMeta, t.arithSite(a), 0.7,
				fmt.Sprintf("lamports moved by `%s` in `%s` without validating `%s`", a.Text, t.in.Name, a.Right.Text),
				"The lamport delta comes from instruction input and no earlier check bounds it."))
		}
	}
	return out
}
