package plugins

import (
	"fmt"
	"strings"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/model"
)

var missingClose = Detector{Meta: missingCloseMeta, Detect: detectMissingClose}

var missingCloseMeta = model.RuleMeta{
	ID:          "V013",
	Code:        "CWE-404",
	Title:       "Missing Close Account",
	Severity:    model.SeverityMedium,
	Description: "An account is retired without being closed properly, leaving revivable data or stranded rent.",
	Remediation: "Use the `close = destination` constraint, which zeroes data, transfers lamports and reassigns ownership.",
	Tags:        []string{"lifecycle"},
	References:  cwe("404"),
}

var closeVerbs = []string{"close", "cancel", "delete", "remove", "destroy"}

func detectMissingClose(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		if t.ctx == nil {
			continue
		}
		b := t.body()
		closing := false
		for _, f := range t.ctx.Fields {
			if f.Constraints.Has(anchor.ConstraintClose) {
				closing = true
			}
		}
		if len(b.CallsNamed("close", "close_account")) > 0 {
			closing = true
		}
		if !closing && containsAny(t.in.Name, closeVerbs...) && hasMutableData(t.ctx) {
			out = append(out, newFinding(missingCloseMeta, t.instructionSite(), 0.7,
				fmt.Sprintf("`%s` retires state but no account is closed", t.in.Name),
				"The account keeps its data and rent after the instruction, and can be reused."))
		}
		for _, w := range b.Writes {
			if !w.Lamports || strings.TrimSpace(w.Value.Text) != "0" {
				continue
			}
			if f := t.field(w.Account); f != nil && f.Constraints.Has(anchor.ConstraintClose) {
				continue
			}
			if b.Mentions("assign", "fill", "CLOSED_ACCOUNT_DISCRIMINATOR") {
				continue
			}
			out = append(out, newFinding(missingCloseMeta, t.writeSite(w), 0.65,
				fmt.Sprintf("`%s` drains `%s` without clearing its data", t.in.Name, w.Account),
				"A drained account with intact data can be refunded in the same transaction and revived."))
		}
	}
	return out
}

func hasMutableData(c *analysis.AccountContext) bool {
	for _, f := range c.Fields {
		if f.Type.IsData() && f.Writable() {
			return true
		}
	}
	return false
}
