package plugins

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/model"
)

var pdaCollision = Detector{Meta: pdaCollisionMeta, Detect: detectPdaCollision}

var pdaCollisionMeta = model.RuleMeta{
	ID:          "V004",
	Code:        "CWE-330",
	Title:       "PDA Seed Collision",
	Severity:    model.SeverityHigh,
	Description: "Two derivations in one program can produce the same address.",
	Remediation: "Give each account kind a distinct literal seed prefix, and prefer fixed-width seeds over variable input.",
	Tags:        []string{"pda"},
	References:  cwe("330"),
}

func detectPdaCollision(m *analysis.ProgramModel, _ Config) []model.Finding {
	var out []model.Finding
	for _, p := range m.Programs {
		ds := m.Derivations(p.Name)
		for i := 0; i < len(ds); i++ {
			for j := i + 1; j < len(ds); j++ {
				a, b := ds[i], ds[j]
				if !a.SeedsKnown || !b.SeedsKnown || len(a.Seeds) == 0 || len(b.Seeds) == 0 {
					continue
				}
				if len(a.Seeds) > len(b.Seeds) {
					a, b = b, a
				}
				conf, why, ok := collision(a, b)
				if !ok {
					continue
				}
				out = append(out, newFinding(pdaCollisionMeta, pdaSite(m, b, pairSignature(a, b)), conf,
					fmt.Sprintf("derivations %s and %s in `%s` can resolve to the same address", describe(a), describe(b), p.Name),
					why))
			}
		}
	}
	return out
}

// collision decides whether short and long (len(short) <= len(long)) can
// derive the same address.
func collision(short, long analysis.PdaDerivation) (float64, string, bool) {
	if anchor.SeedsEqual(short.Seeds, long.Seeds) {
		if short.InnerType == "" || long.InnerType == "" || short.InnerType == long.InnerType {
			return 0, "", false
		}
		return 0.8, fmt.Sprintf("Both use seeds %s for different account types (%s, %s).",
			anchor.SeedSignature(short.Seeds), short.InnerType, long.InnerType), true
	}
	if len(short.Seeds) == len(long.Seeds) || !anchor.IsPrefix(short.Seeds, long.Seeds) {
		return 0, "", false
	}
	for _, s := range long.Seeds[len(short.Seeds):] {
		if s.Discriminating() {
			return 0, "", false
		}
	}
	return 0.75, fmt.Sprintf("Seeds %s are a prefix of %s and the extra seeds are caller-controlled, so an empty or crafted value reproduces the shorter derivation.",
		anchor.SeedSignature(short.Seeds), anchor.SeedSignature(long.Seeds)), true
}

func pairSignature(a, b analysis.PdaDerivation) string {
	if a.Signature > b.Signature {
		a, b = b, a
	}
	return a.Signature + "|" + b.Signature
}

func describe(d analysis.PdaDerivation) string {
	if d.Context != "" {
		return "`" + d.Context + "." + d.Field + "`"
	}
	return "in `" + d.Instruction + "`"
}
