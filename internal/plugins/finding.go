package plugins

import (
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/util"
)

// findingNamespace seeds the name-based UUIDs of findings.
var findingNamespace = uuid.MustParse("a3c1e7f4-5b2d-4c6e-9f80-1d2e3f4a5b6c")

// site is the model entity a finding points at.
type site struct {
	loc       model.Location
	signature string
	snippet   string
}

func newFinding(meta model.RuleMeta, s site, confidence float64, message, rationale string) model.Finding {
	s.loc.Site = s.signature
	fp := util.Fingerprint(meta.ID, s.loc.Program, s.loc.Instruction, s.loc.SiteKind, s.signature)
	return model.Finding{
		ID:          uuid.NewSHA1(findingNamespace, []byte(fp)).String(),
		DetectorID:  meta.ID,
		Code:        meta.Code,
		Title:       meta.Title,
		Severity:    meta.Severity,
		Confidence:  math.Round(confidence*100) / 100,
		Location:    s.loc,
		Message:     message,
		Rationale:   rationale,
		Remediation: meta.Remediation,
		References:  meta.References,
		Snippet:     s.snippet,
		Fingerprint: fp,
	}
}

func cwe(n string) []string {
	return []string{"https://cwe.mitre.org/data/definitions/" + n + ".html"}
}

// target is one instruction with the account context it declares. ctx is
// nil when the context is not part of the model.
type target struct {
	prog *analysis.Program
	in   *analysis.Instruction
	ctx  *analysis.AccountContext
}

func targets(m *analysis.ProgramModel) []target {
	var out []target
	for _, p := range m.Programs {
		for _, in := range p.Instructions {
			out = append(out, target{prog: p, in: in, ctx: m.ContextOf(in)})
		}
	}
	return out
}

func (t target) body() analysis.Body { return t.in.Body }

func (t target) field(name string) *analysis.AccountField {
	if t.ctx == nil || name == "" {
		return nil
	}
	return t.ctx.Field(name)
}

func (t target) loc(kind, file string, line int) model.Location {
	if file == "" {
		file = t.in.File
	}
	l := model.Location{File: file, Line: line, Program: t.in.Program, Instruction: t.in.Name, SiteKind: kind}
	if t.ctx != nil {
		l.Context = t.ctx.Name
	}
	return l
}

func (t target) fieldSite(f *analysis.AccountField) site {
	l := t.loc(model.SiteField, t.ctx.File, f.Line)
	l.Field = f.Name
	return site{loc: l, signature: t.ctx.Name + "." + f.Name, snippet: fieldSnippet(f)}
}

func (t target) instructionSite() site {
	return site{loc: t.loc(model.SiteInstruction, t.in.File, t.in.Line), signature: t.in.Name, snippet: "pub fn " + t.in.Name}
}

func (t target) arithSite(a analysis.ArithmeticSite) site {
	return site{loc: t.loc(model.SiteArithmetic, a.File, a.Line), signature: a.Signature, snippet: a.Text}
}

func (t target) cpiSite(c analysis.CpiInvocation) site {
	return site{loc: t.loc(model.SiteCPI, c.File, c.Line), signature: c.Signature, snippet: c.Text}
}

func (t target) callSite(c analysis.CallSite) site {
	return site{loc: t.loc(model.SiteCall, c.File, c.Line), signature: c.Signature, snippet: c.Text}
}

func (t target) writeSite(w analysis.StateWrite) site {
	return site{loc: t.loc(model.SiteWrite, w.File, w.Line), signature: w.Signature, snippet: w.Text}
}

func (t target) loopSite(l analysis.LoopSite) site {
	return site{loc: t.loc(model.SiteLoop, l.File, l.Line), signature: l.Signature, snippet: l.Text}
}

// pdaSite locates a derivation. Constraint-level derivations are reported
// under the first instruction declaring their context.
func pdaSite(m *analysis.ProgramModel, d analysis.PdaDerivation, signature string) site {
	l := model.Location{File: d.File, Line: d.Line, Program: d.Program, SiteKind: model.SitePDA}
	if d.Context != "" {
		l.Context, l.Field = d.Context, d.Field
		if ins := m.InstructionsUsing(d.Program, d.Context); len(ins) > 0 {
			l.Instruction = ins[0].Name
		}
	} else if p := m.Program(d.Program); p != nil {
		l.Instruction = d.Instruction
		if c := m.ContextOf(p.Instruction(d.Instruction)); c != nil {
			l.Context = c.Name
		}
	}
	return site{loc: l, signature: signature, snippet: d.Text}
}

func fieldSnippet(f *analysis.AccountField) string {
	var b strings.Builder
	if len(f.Constraints) > 0 {
		raws := make([]string, len(f.Constraints))
		for i, c := range f.Constraints {
			raws[i] = c.Raw
		}
		b.WriteString("#[account(" + strings.Join(raws, ", ") + ")]\n")
	}
	b.WriteString("pub " + f.Name + ": " + f.Type.Raw + ",")
	return b.String()
}

const unverifiedNote = " The account's constraints could not be fully parsed, so this could not be verified."

// unverified lowers confidence for fields whose constraint set is incomplete.
func unverified(t target, f *analysis.AccountField, confidence float64, rationale string) (float64, string) {
	if f.Constraints.HasUnknown() || (t.ctx != nil && t.ctx.Degraded) {
		return math.Min(confidence, 0.5), rationale + unverifiedNote
	}
	return confidence, rationale
}

var authorityPatterns = []string{
	"authority", "owner", "admin", "manager", "operator", "creator", "initializer", "controller",
	"governor", "signer", "payer",
}

func isAuthorityName(name string, cfg Config) bool {
	n := strings.ToLower(name)
	for _, p := range authorityPatterns {
		if strings.Contains(n, p) {
			return true
		}
	}
	for _, p := range cfg.AuthorityNames {
		if p != "" && strings.Contains(n, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

func idents(s string) []string { return identRe.FindAllString(s, -1) }

func containsAny(s string, subs ...string) bool {
	ls := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(ls, sub) {
			return true
		}
	}
	return false
}

// standardPrograms are programs whose behavior is fixed and known.
var standardPrograms = map[string]bool{
	"System": true, "Token": true, "Token2022": true, "TokenInterface": true, "AssociatedToken": true,
	"Rent": true, "Metadata": true, "Memo": true, "Stake": true, "ComputeBudget": true,
}

var standardNamespaces = []string{
	"token::", "token_interface::", "token_2022::", "associated_token::", "system_program::",
	"system_instruction::", "spl_token::", "spl_token_2022::", "spl_associated_token_account::",
}

// trustedCPI reports calls into standard programs, which cannot call back.
func trustedCPI(t target, c analysis.CpiInvocation) bool {
	for _, ns := range standardNamespaces {
		if strings.HasPrefix(c.Callee, ns) || strings.HasPrefix(c.ProgramRef, ns) {
			return true
		}
	}
	if f := t.field(c.ProgramAccount); f != nil && f.Type.IsProgram() && standardPrograms[f.Type.Inner] {
		return true
	}
	return false
}

func guardedByKey(b analysis.Body, order int, name string) bool {
	for _, g := range b.Guards {
		if g.Order < order && g.Mentions(name) && (strings.Contains(g.Condition, "key") || strings.HasSuffix(g.Macro, "keys_eq")) {
			return true
		}
	}
	return false
}
