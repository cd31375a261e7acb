package plugins

import (
	"fmt"
	"strings"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/model"
)

var uncheckedInit = Detector{Meta: uncheckedInitMeta, Detect: detectUncheckedInit}

var uncheckedInitMeta = model.RuleMeta{
	ID:          "V005",
	Code:        "CWE-665",
	Title:       "Unchecked Account Initialization",
	Severity:    model.SeverityHigh,
	Description: "An account can be initialized again, overwriting existing state.",
	Remediation: "Use `init` instead of `init_if_needed`, or guard with an is_initialized flag checked before writing.",
	Tags:        []string{"initialization"},
	References:  cwe("665"),
}

var initGuardWords = []string{"initialized", "discriminator"}

func detectUncheckedInit(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		if t.ctx == nil {
			continue
		}
		b := t.body()
		if b.GuardMentions(initGuardWords...) {
			continue
		}
		users := len(m.InstructionsUsing(t.in.Program, t.ctx.Name))
		for _, f := range t.ctx.Fields {
			var conf float64
			var why string
			switch {
			case f.Constraints.Has(anchor.ConstraintInitIfNeeded):
				conf, why = 0.8, fmt.Sprintf("`init_if_needed` accepts an existing `%s`, and nothing checks whether it was already set up.", f.Name)
				if users > 1 {
					conf = 0.85
					why += fmt.Sprintf(" %d instructions reach it.", users)
				}
			case initializer(t.in.Name) && !f.Initializes() && f.Writable() &&
				((f.Type.IsData() && dataWrite(b, f.Name)) || (f.Type.Untyped() && b.Borrows(f.Name))):
				conf, why = 0.6, fmt.Sprintf("`%s` initializes `%s` manually and can be called again on the same account.", t.in.Name, f.Name)
			default:
				continue
			}
			conf, why = unverified(t, f, conf, why)
			out = append(out, newFinding(uncheckedInitMeta, t.fieldSite(f), conf,
				fmt.Sprintf("account `%s` in `%s` can be reinitialized", f.Name, t.ctx.Name),
				why))
		}
	}
	return out
}

func initializer(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "init") || strings.HasPrefix(n, "setup") || strings.HasPrefix(n, "create")
}
