package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var integerOverflow = Detector{Meta: integerOverflowMeta, Detect: detectIntegerOverflow}

var integerOverflowMeta = model.RuleMeta{
	ID:          "V003",
	Code:        "CWE-190",
	Title:       "Integer Overflow/Underflow",
	Severity:    model.SeverityHigh,
	Description: "Unchecked arithmetic on instruction input can wrap around.",
	Remediation: "Use checked_add/checked_sub/checked_mul and map None to an error, or bound the input with require! first.",
	Tags:        []string{"arithmetic"},
	References:  cwe("190"),
}

var overflowVerb = map[analysis.ArithOp]string{
	analysis.OpAdd: "overflow",
	analysis.OpSub: "underflow",
	analysis.OpMul: "overflow",
}

func detectIntegerOverflow(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		b := t.body()
		for _, a := range b.Arithmetic {
			verb, ok := overflowVerb[a.Op]
			if !ok || a.Semantics != analysis.Unchecked {
				continue
			}
			user, bounded := 0, 0
			for _, o := range []analysis.Operand{a.Left, a.Right} {
				if !o.UserControlled() {
					continue
				}
				user++
				if b.BoundedBefore(a.Order, o) {
					bounded++
				}
			}
			if user == 0 || bounded == user {
				continue
			}
			conf := 0.7
			if a.Left.UserControlled() && a.Right.UserControlled() {
				conf = 0.85
			}
			if a.InLoop {
				conf += 0.05
			}
			out = append(out, newFinding(integerOverflowMeta, t.arithSite(a), conf,
				fmt.Sprintf("unchecked `%s` in `%s` can %s on caller-supplied values", a.Text, t.in.Name, verb),
				"At least one operand comes from instruction input and no earlier check caps it from above."))
		}
	}
	return out
}
