package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/model"
)

var oracleRisk = Detector{Meta: oracleRiskMeta, Detect: detectOracleRisk}

var oracleRiskMeta = model.RuleMeta{
	ID:          "V014",
	Code:        "CWE-829",
	Title:       "Oracle Dependency Risk",
	Severity:    model.SeverityHigh,
	Description: "A price oracle account is not pinned, or its price is consumed without a staleness check.",
	Remediation: "Pin the feed with an `address` constraint and read prices with a maximum age (e.g. get_price_no_older_than) and confidence bound.",
	Tags:        []string{"oracle"},
	References:  cwe("829"),
}

var (
	oracleWords    = []string{"oracle", "price", "feed", "pyth", "switchboard", "aggregator", "chainlink"}
	freshnessWords = []string{"publish_time", "timestamp", "slot", "stale", "max_age", "conf", "age"}
)

func detectOracleRisk(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		if t.ctx == nil {
			continue
		}
		b := t.body()
		for _, f := range t.ctx.Fields {
			if !containsAny(f.Name, oracleWords...) && !containsAny(f.Type.Inner, oracleWords...) {
				continue
			}
			if f.Type.Untyped() && !f.Constraints.Has(anchor.ConstraintAddress) && !f.Constraints.Has(anchor.ConstraintOwner) &&
				!guardedByKey(b, maxOrder, f.Name) {
				conf, why := unverified(t, f, 0.75, fmt.Sprintf("Any account can be passed as `%s`, including one with attacker-written prices.", f.Name))
				out = append(out, newFinding(oracleRiskMeta, t.fieldSite(f), conf,
					fmt.Sprintf("oracle account `%s` in `%s` is not pinned to a known feed", f.Name, t.ctx.Name),
					why))
			}
			if !b.Touches(f.Name) || b.GuardMentions(freshnessWords...) || len(b.CallsNamed("get_price_no_older_than")) > 0 {
				continue
			}
			s := t.fieldSite(f)
			s.signature += ":staleness"
			out = append(out, newFinding(oracleRiskMeta, s, 0.65,
				fmt.Sprintf("`%s` reads `%s` without a staleness check", t.in.Name, f.Name),
				"A stale price can be used long after the market moved."))
		}
	}
	return out
}
