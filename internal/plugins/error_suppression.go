package plugins

import (
	"fmt"
	"strings"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var errorSuppression = Detector{Meta: errorSuppressionMeta, Detect: detectErrorSuppression}

var errorSuppressionMeta = model.RuleMeta{
	ID:          "V018",
	Code:        "CWE-755",
	Title:       "Error Handling Suppression",
	Severity:    model.SeverityLow,
	Description: "The result of a fallible call is discarded or unwrapped.",
	Remediation: "Propagate errors with `?` (mapping them to a program error where useful) instead of ignoring or unwrapping.",
	Tags:        []string{"error-handling"},
	References:  cwe("755"),
}

var fallibleCalls = map[string]bool{
	"invoke": true, "invoke_signed": true, "transfer": true, "transfer_checked": true, "mint_to": true,
	"burn": true, "close_account": true, "set_authority": true, "approve": true, "revoke": true,
	"create_account": true, "deserialize": true, "serialize": true, "reload": true, "exit": true,
	"realloc": true, "load": true, "load_mut": true, "load_init": true, "unpack": true,
}

func fallible(name string) bool {
	return fallibleCalls[name] || strings.HasPrefix(name, "try_") || strings.HasPrefix(name, "checked_")
}

func detectErrorSuppression(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		for _, c := range t.body().Calls {
			if !fallible(c.Name) {
				continue
			}
			var conf float64
			var how string
			switch c.Handling {
			case analysis.Ignored:
				conf, how = 0.8, "is discarded"
			case analysis.Discarded:
				conf, how = 0.6, "is never inspected"
			case analysis.Unwrapped:
				if strings.HasPrefix(c.Name, "checked_") {
					continue
				}
				conf, how = 0.45, "is unwrapped and panics on failure"
			default:
				continue
			}
			out = append(out, newFinding(errorSuppressionMeta, t.callSite(c), conf,
				fmt.Sprintf("error from `%s` in `%s` %s", c.Name, t.in.Name, how),
				"A failure here goes unnoticed or aborts without a meaningful program error."))
		}
	}
	return out
}
