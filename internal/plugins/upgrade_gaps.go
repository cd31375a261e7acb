package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var upgradeGap = Detector{Meta: upgradeGapMeta, Detect: detectUpgradeGap}

var upgradeGapMeta = model.RuleMeta{
	ID:          "V017",
	Code:        "CWE-440",
	Title:       "Cross-Program Upgradeability Gap",
	Severity:    model.SeverityMedium,
	Description: "A CPI into an upgradeable third-party program does not check its version.",
	Remediation: "Check the callee's version or program-data account before relying on its behavior, e.g. require!(state.version == EXPECTED_VERSION).",
	Tags:        []string{"cpi", "upgradeability"},
	References:  cwe("440"),
}

func detectUpgradeGap(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		b := t.body()
		if b.Mentions("version*") {
			continue
		}
		for _, c := range b.Cpis {
			f := t.field(c.ProgramAccount)
			if f == nil || !f.Type.IsProgram() || f.Type.Inner == "" || standardPrograms[f.Type.Inner] || trustedCPI(t, c) {
				continue
			}
			out = append(out, newFinding(upgradeGapMeta, t.cpiSite(c), 0.55,
				fmt.Sprintf("`%s` calls into `%s` without checking its version", t.in.Name, f.Type.Inner),
				fmt.Sprintf("`%s` can be upgraded independently; a changed interface fails or misbehaves silently.", f.Type.Inner)))
		}
	}
	return out
}
