package poc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/anchor"
)

var scenarios = map[string]func(*scenario) error{
	"V001": missingSigner,
	"V002": missingOwner,
	"V003": overflow,
	"V004": pdaCollision,
	"V005": reinit,
	"V006": arbitraryProgram,
	"V008": nonCanonicalBump,
	"V010": uncheckedAmount,
	"V016": uncappedSupply,
	"V021": substitutedAccount,
}

var supportedIDs = func() []string {
	ids := make([]string, 0, len(scenarios))
	for id := range scenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}()

func needField(s *scenario) error {
	if s.Field == "" {
		return fmt.Errorf("%w: %s finding names no account", ErrIncomplete, s.Finding.DetectorID)
	}
	return nil
}

// derivation finds the PDA a finding points at: the field's seeds
// constraint, or a find/create call in the instruction body. Body
// derivations pass the derived address to the account the body checks it
// against, when there is one.
func (s *scenario) derivation() (*analysis.PdaDerivation, error) {
	if s.Field != "" {
		f := s.field(s.Field)
		if f.Pda == nil {
			return nil, fmt.Errorf("%w: %s is not a PDA", ErrIncomplete, s.Field)
		}
		return f.Pda, nil
	}
	loc := s.Finding.Location
	var found *analysis.PdaDerivation
	for i := range s.in.Body.Derivations {
		d := &s.in.Body.Derivations[i]
		if !siteNames(loc.Site, d.Signature) {
			continue
		}
		if found == nil || d.Line == loc.Line {
			found = d
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no derivation %q in `%s`", ErrUnresolved, loc.Site, s.in.Name)
	}
	if field := s.checkedAgainst(found); field != "" {
		s.Field = field
	}
	return found, nil
}

// siteNames reports whether a site signature is signature or a pair
// containing it.
func siteNames(site, signature string) bool {
	for _, part := range strings.Split(site, "|") {
		if part == signature {
			return true
		}
	}
	return false
}

// checkedAgainst picks the account a body derivation is compared with: the
// first account named by a key comparison after the derivation.
func (s *scenario) checkedAgainst(d *analysis.PdaDerivation) string {
	if s.ctx == nil {
		return ""
	}
	for _, g := range s.in.Body.Guards {
		if g.Order <= d.Order || !strings.Contains(g.Condition, "key") {
			continue
		}
		for _, f := range s.ctx.Fields {
			if f.Pda == nil && g.Mentions(f.Name) {
				return f.Name
			}
		}
	}
	return ""
}

// pinDerivation renders d's seeds and passes the derived address for the
// checked account.
func (s *scenario) pinDerivation(d *analysis.PdaDerivation) error {
	if !d.SeedsKnown {
		return fmt.Errorf("%w: %s has no literal seeds", ErrIncomplete, describeDerivation(d))
	}
	s.Seeds = s.seeds(d.Seeds)
	if s.Field != "" {
		s.Account = camel(s.Field)
		s.overrides[s.Field] = "address"
	} else {
		s.Account = "address"
		s.require("the derived `address` is recomputed inside `%s` from the same seeds", s.in.Name)
	}
	return nil
}

func describeDerivation(d *analysis.PdaDerivation) string {
	if d.Field != "" {
		return d.Field
	}
	return d.Source + " in " + d.Instruction
}

func missingSigner(s *scenario) error {
	if err := needField(s); err != nil {
		return err
	}
	s.overrides[s.Field] = "victim.publicKey"
	s.require("`%s` is passed as the victim's key and the victim does not sign", s.Field)
	s.require("the attacker pays and signs the transaction")
	return nil
}

func missingOwner(s *scenario) error {
	if err := needField(s); err != nil {
		return err
	}
	s.overrides[s.Field] = "forged.publicKey"
	s.require("`forged` is a system-owned account the attacker created and filled with chosen bytes")
	s.require("`%s` expects data owned by `%s`", s.Field, s.Program)
	return nil
}

func overflow(s *scenario) error {
	names := s.maximize(s.Finding.Snippet)
	if len(names) == 0 {
		s.require("the overflowing operand comes from account state; seed it near its maximum before the call")
		return nil
	}
	s.require("%s set to the type maximum so `%s` wraps", quoteList(names), s.Finding.Snippet)
	if w, ok := s.resultWrite(); ok {
		p, _ := s.in.Param(names[0])
		s.readBack(w.Account, w.Field, argValue(p.Type, true))
	}
	return nil
}

// resultWrite is the first account data write at or after the finding's
// arithmetic site.
func (s *scenario) resultWrite() (analysis.StateWrite, bool) {
	order := 0
	for _, a := range s.in.Body.Arithmetic {
		if a.Signature == s.Finding.Location.Site {
			order = a.Order
			break
		}
	}
	for _, w := range s.in.Body.Writes {
		if w.Order >= order && w.Field != "" && !w.Lamports && readable(s.field(w.Account)) {
			return w, true
		}
	}
	return analysis.StateWrite{}, false
}

func pdaCollision(s *scenario) error {
	d, err := s.derivation()
	if err != nil {
		return err
	}
	if err := s.pinDerivation(d); err != nil {
		return err
	}
	s.require("another instruction derives an address from a prefix of these seeds")
	s.require("both derivations are reachable in the same program")
	return nil
}

func reinit(s *scenario) error {
	if err := needField(s); err != nil {
		return err
	}
	for _, p := range s.in.Params {
		if strings.TrimSpace(p.Type) == "Pubkey" {
			s.setupValues[p.Name] = "victim.publicKey"
		}
	}
	s.maximize("")
	s.readBack(s.Field, "", "")
	s.require("`%s` already holds the victim's state before the second call", s.Field)
	s.require("`%s` is called twice against the same account", s.in.Name)
	return nil
}

func arbitraryProgram(s *scenario) error {
	field := s.Field
	if field == "" {
		if c, ok := s.cpi(); ok {
			field = c.ProgramAccount
		}
	}
	if field == "" || s.field(field) == nil {
		return fmt.Errorf("%w: the invoked program is not an account of `%s`", ErrIncomplete, s.in.Name)
	}
	s.Field, s.Account = field, camel(field)
	s.overrides[field] = "impostor"
	s.require("an attacker-controlled program is deployed at `impostor` exposing the same instruction layout")
	s.require("`%s` is passed as the impostor program id", field)
	return nil
}

func nonCanonicalBump(s *scenario) error {
	d, err := s.derivation()
	if err != nil {
		return err
	}
	if err := s.pinDerivation(d); err != nil {
		return err
	}
	root := bumpRoot(d.BumpExpr)
	if _, ok := s.in.Param(root); ok {
		s.argValues[root] = "bump"
	}
	s.require("a second valid bump below the canonical one exists for these seeds")
	if d.Bump == analysis.BumpUserSupplied {
		s.require("the bump is taken from the `%s` argument", root)
	}
	return nil
}

func uncheckedAmount(s *scenario) error {
	names := s.maximize(s.Finding.Snippet)
	if len(names) == 0 {
		return fmt.Errorf("%w: no integer argument feeds the transfer", ErrIncomplete)
	}
	s.require("%s exceeds the balance the program accounts for", quoteList(names))
	return nil
}

func uncappedSupply(s *scenario) error {
	names := s.maximize(s.Finding.Snippet)
	if len(names) == 0 {
		return fmt.Errorf("%w: no integer argument feeds the supply change", ErrIncomplete)
	}
	s.require("the program's mint authority signs the mint")
	s.require("%s is far above any intended cap", quoteList(names))
	return nil
}

func substitutedAccount(s *scenario) error {
	if err := needField(s); err != nil {
		return err
	}
	s.overrides[s.Field] = "substitute.publicKey"
	s.require("`substitute` is an account the attacker controls instead of the derived address")
	if f := s.field(s.Field); f != nil && f.Constraints.Has(anchor.ConstraintMut) {
		s.require("`%s` is writable, so the signed call can move its lamports", s.Field)
	}
	return nil
}

func bumpRoot(expr string) string {
	e := strings.TrimSpace(expr)
	if i := strings.IndexAny(e, ".["); i >= 0 {
		e = e[:i]
	}
	return e
}

func quoteList(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = "`" + n + "`"
	}
	return strings.Join(q, ", ")
}
