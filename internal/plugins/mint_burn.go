package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var mintBurnSupply = Detector{Meta: mintBurnSupplyMeta, Detect: detectMintBurn}

var mintBurnSupplyMeta = model.RuleMeta{
	ID:          "V016",
	Code:        "CWE-190",
	Title:       "Mint/Burn Without Supply Check",
	Severity:    model.SeverityHigh,
	Description: "Tokens are minted or burned without checking supply limits or the amount.",
	Remediation: "Enforce a maximum supply (or per-call cap) with require! before mint_to, and validate burn amounts.",
	Tags:        []string{"token", "supply"},
	References:  cwe("190"),
}

var supplyOps = map[string]bool{"mint_to": true, "mint_to_checked": true, "burn": true, "burn_checked": true}

func detectMintBurn(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		b := t.body()
		if b.GuardMentions("supply", "cap", "limit") {
			continue
		}
		for _, c := range b.Cpis {
			if !supplyOps[c.Name()] {
				continue
			}
			conf := 0.6
			if c.Amount != nil {
				if b.GuardedBefore(c.Order, c.Amount.Idents...) {
					continue
				}
				if c.Amount.UserControlled() {
					conf = 0.85
				}
			}
			out = append(out, newFinding(mintBurnSupplyMeta, t.cpiSite(c), conf,
				fmt.Sprintf("`%s` in `%s` changes token supply without a supply check", c.Name(), t.in.Name),
				"No guard bounds the amount or compares it with a supply limit."))
		}
	}
	return out
}
