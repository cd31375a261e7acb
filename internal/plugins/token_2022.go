package plugins

import (
	"fmt"
	"strings"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var token2022Risk = Detector{Meta: token2022RiskMeta, Detect: detectToken2022}

var token2022RiskMeta = model.RuleMeta{
	ID:          "V007",
	Code:        "CWE-841",
	Title:       "Token-2022 Extension Risk",
	Severity:    model.SeverityHigh,
	Description: "Tokens that may carry Token-2022 extensions are transferred without accounting for transfer fees or hooks.",
	Remediation: "Read the mint's TransferFeeConfig (and other extensions) and compute the received amount, or reject mints with extensions.",
	Tags:        []string{"token", "token-2022"},
	References:  cwe("841"),
}

var extensionIdents = []string{
	"get_extension*", "TransferFeeConfig", "calculate_fee*", "transfer_fee*", "StateWithExtensions*",
	"ExtensionType", "calculate_epoch_fee*", "transfer_hook*",
}

func detectToken2022(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		if t.ctx == nil || !interfaceTokens(t.ctx) {
			continue
		}
		b := t.body()
		if b.Mentions(extensionIdents...) {
			continue
		}
		for _, c := range b.Cpis {
			name := c.Name()
			if !transferNames[name] && !strings.Contains(c.Callee, "token_2022") && !strings.Contains(c.Callee, "token_interface") {
				continue
			}
			conf, why := 0.7, "The mint may carry a transfer fee, so the recipient can receive less than the amount recorded."
			if name == "transfer" {
				conf = 0.8
				why += " `transfer` is also rejected by mints that require transfer_checked."
			}
			out = append(out, newFinding(token2022RiskMeta, t.cpiSite(c), conf,
				fmt.Sprintf("`%s` in `%s` moves Token-2022 compatible tokens without checking extensions", name, t.in.Name),
				why))
		}
	}
	return out
}

func interfaceTokens(c *analysis.AccountContext) bool {
	for _, f := range c.Fields {
		if f.Type.TokenInterface() {
			return true
		}
	}
	return false
}
