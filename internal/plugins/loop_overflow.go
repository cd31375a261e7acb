package plugins

import (
	"fmt"
	"strings"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var unboundedLoop = Detector{Meta: unboundedLoopMeta, Detect: detectUnboundedLoop}

var unboundedLoopMeta = model.RuleMeta{
	ID:          "V019",
	Code:        "CWE-834",
	Title:       "Unbounded Loop Iteration",
	Severity:    model.SeverityHigh,
	Description: "A loop iterates over caller-controlled input with no bound, exhausting compute units.",
	Remediation: "Bound the input length with require!(items.len() <= MAX) or iterate with .take(MAX).",
	Tags:        []string{"compute", "dos"},
	References:  cwe("834"),
}

func detectUnboundedLoop(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		b := t.body()
		for _, l := range b.Loops {
			if !l.Iterable.UserControlled() || strings.Contains(l.Text, ".take(") {
				continue
			}
			if b.GuardedBefore(l.Order, l.Iterable.Idents...) {
				continue
			}
			conf := 0.75
			if strings.Contains(l.Iterable.Text, "remaining_accounts") {
				conf = 0.7
			}
			out = append(out, newFinding(unboundedLoopMeta, t.loopSite(l), conf,
				fmt.Sprintf("`%s` loops over `%s` without a bound", t.in.Name, l.Iterable.Text),
				"The iteration count is chosen by the caller; a long input runs the instruction out of compute."))
		}
	}
	return out
}
