package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
)

var signatureReplay = Detector{Meta: signatureReplayMeta, Detect: detectSignatureReplay}

var signatureReplayMeta = model.RuleMeta{
	ID:          "V015",
	Code:        "CWE-294",
	Title:       "Signature Replay",
	Severity:    model.SeverityCritical,
	Description: "An off-chain signature is verified without a nonce or used-flag, so it can be submitted again.",
	Remediation: "Bind the signed message to a nonce or expiry and record consumed signatures in program state.",
	Tags:        []string{"signature"},
	References:  cwe("294"),
}

var (
	verifyIdents = []string{"ed25519*", "secp256k1*", "verify_signature*", "load_instruction_at*", "get_instruction_relative*"}
	replayIdents = []string{"nonce*", "replay*", "used*", "processed*", "expir*", "claimed*", "consumed*"}
)

func detectSignatureReplay(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, t := range targets(m) {
		b := t.body()
		if !b.Mentions(verifyIdents...) || b.Mentions(replayIdents...) {
			continue
		}
		out = append(out, newFinding(signatureReplayMeta, t.instructionSite(), 0.7,
			fmt.Sprintf("`%s` verifies a signature without replay protection", t.in.Name),
			"No nonce, expiry or consumed-signature record is checked, so the same signed payload is accepted repeatedly."))
	}
	return out
}
