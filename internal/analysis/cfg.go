package analysis

import (
	"regexp"
	"sort"
	"strings"

	"github.com/xab-mack/anchorscan/internal/anchor"
)

// Body is an instruction's statements abstracted into ordered facts. Order
// is the position of the fact in source order within the instruction, so
// "happens before" between two facts is a comparison of Order values.
type Body struct {
	Arithmetic  []ArithmeticSite `json:"arithmetic,omitempty"`
	Cpis        []CpiInvocation  `json:"cpis,omitempty"`
	Guards      []Guard          `json:"guards,omitempty"`
	Calls       []CallSite       `json:"calls,omitempty"`
	Writes      []StateWrite     `json:"writes,omitempty"`
	Loops       []LoopSite       `json:"loops,omitempty"`
	Derivations []PdaDerivation  `json:"derivations,omitempty"`
	// AccountRefs are the context fields the body touches.
	AccountRefs []string `json:"accountRefs,omitempty"`
	// DataBorrows are fields whose raw data is read or written.
	DataBorrows []string `json:"dataBorrows,omitempty"`
	// Idents is the sorted set of identifiers appearing in the body.
	Idents []string `json:"idents,omitempty"`
}

type ArithOp string

const (
	OpAdd ArithOp = "add"
	OpSub ArithOp = "sub"
	OpMul ArithOp = "mul"
	OpDiv ArithOp = "div"
	OpRem ArithOp = "rem"
)

type Semantics string

const (
	Unchecked   Semantics = "unchecked"
	Checked     Semantics = "checked"
	Saturating  Semantics = "saturating"
	Wrapping    Semantics = "wrapping"
	Overflowing Semantics = "overflowing"
)

type ArithmeticSite struct {
	Op        ArithOp   `json:"op"`
	Left      Operand   `json:"left"`
	Right     Operand   `json:"right"`
	Semantics Semantics `json:"semantics"`
	// Compound is set for `x op= y`; Target then names the assigned place.
	Compound bool   `json:"compound,omitempty"`
	Target   string `json:"target,omitempty"`
	// Lamports marks arithmetic on lamport balances.
	Lamports bool `json:"lamports,omitempty"`
	// FromDivision marks a multiplication with an operand produced by a division.
	FromDivision bool   `json:"fromDivision,omitempty"`
	InLoop       bool   `json:"inLoop,omitempty"`
	File         string `json:"file,omitempty"`
	Line         int    `json:"line"`
	Order        int    `json:"order"`
	Text         string `json:"text"`
	Signature    string `json:"signature"`
}

type CpiKind string

const (
	CpiInvoke       CpiKind = "invoke"
	CpiInvokeSigned CpiKind = "invoke_signed"
	CpiContextNew   CpiKind = "cpi_context"
	// CpiHelper is a framework helper call (token::transfer and friends)
	// whose CpiContext was built elsewhere.
	CpiHelper CpiKind = "cpi_helper"
)

type CpiInvocation struct {
	Kind CpiKind `json:"kind"`
	// Callee is the helper or builder being invoked, e.g. token::transfer.
	Callee string `json:"callee,omitempty"`
	// ProgramRef is the program id expression, empty when unresolved.
	ProgramRef string `json:"programRef,omitempty"`
	// ProgramAccount is the context field supplying the program, if any.
	ProgramAccount string   `json:"programAccount,omitempty"`
	Hardcoded      bool     `json:"hardcoded,omitempty"`
	Accounts       []string `json:"accounts,omitempty"`
	Amount         *Operand `json:"amount,omitempty"`
	Signed         bool     `json:"signed,omitempty"`
	Handling       Handling `json:"handling"`
	InLoop         bool     `json:"inLoop,omitempty"`
	File           string   `json:"file,omitempty"`
	Line           int      `json:"line"`
	Order          int      `json:"order"`
	Text           string   `json:"text"`
	Signature      string   `json:"signature"`
}

// Name is the last path segment of the callee.
func (c CpiInvocation) Name() string {
	if c.Callee == "" {
		return string(c.Kind)
	}
	return lastSegment(c.Callee)
}

type GuardKind string

const (
	GuardRequire GuardKind = "require"
	GuardAssert  GuardKind = "assert"
	GuardBranch  GuardKind = "branch"
)

// Guard is a check that aborts the instruction when its condition fails.
type Guard struct {
	Kind      GuardKind `json:"kind"`
	Macro     string    `json:"macro,omitempty"`
	Condition string    `json:"condition"`
	Idents    []string  `json:"idents"`
	Line      int       `json:"line"`
	Order     int       `json:"order"`
}

// Mentions reports whether the guard condition references any of names.
func (g Guard) Mentions(names ...string) bool {
	for _, id := range g.Idents {
		for _, n := range names {
			if n != "" && id == n {
				return true
			}
		}
	}
	return false
}

// Compares reports a relational comparison in the guard condition.
func (g Guard) Compares() bool {
	c := g.Condition
	if g.Macro != "" && strings.HasPrefix(g.Macro, "require_") {
		return true
	}
	return strings.ContainsAny(c, "<>") || strings.Contains(c, "==") || strings.Contains(c, "!=")
}

// BoundsAbove reports whether passing the guard caps every one of idents
// from above: `x < C`, `x <= C`, `require_gte!(C, x)`, or a branch that
// aborts on `x > C`.
func (g Guard) BoundsAbove(idents ...string) bool {
	if len(idents) == 0 {
		return false
	}
	args := splitTop(g.Condition, ",")
	switch g.Macro {
	case "require_gt", "require_gte":
		return len(args) >= 2 && capped(args[1], args[0], idents)
	case "require", "assert":
		for _, clause := range splitTop(args[0], "&&") {
			small, big, ok := comparison(clause, false)
			if ok && capped(small, big, idents) {
				return true
			}
		}
		return false
	}
	if g.Kind != GuardBranch {
		return false
	}
	for _, clause := range splitTop(g.Condition, "||") {
		small, big, ok := comparison(clause, true)
		if ok && capped(small, big, idents) {
			return true
		}
	}
	return false
}

var comparisonRe = regexp.MustCompile(`^(.+?)\s*(<=|>=|<|>)\s*(.+)$`)

// comparison splits a relational clause into its smaller and larger side.
// A failing clause (the condition of an aborting branch) bounds the other way.
func comparison(clause string, failing bool) (small, big string, ok bool) {
	c := strings.TrimSpace(clause)
	for strings.HasPrefix(c, "(") && strings.HasSuffix(c, ")") {
		c = strings.TrimSpace(c[1 : len(c)-1])
	}
	if strings.Contains(c, "<<") || strings.Contains(c, ">>") || strings.Contains(c, "=>") || strings.Contains(c, "->") {
		return "", "", false
	}
	m := comparisonRe.FindStringSubmatch(c)
	if m == nil {
		return "", "", false
	}
	left, op, right := m[1], m[2], m[3]
	less := op == "<" || op == "<="
	if less != failing {
		return left, right, true
	}
	return right, left, true
}

func capped(small, big string, idents []string) bool {
	bound := map[string]bool{}
	for _, id := range operandIdents(small) {
		bound[id] = true
	}
	for _, id := range operandIdents(big) {
		if bound[id] {
			return false
		}
	}
	for _, id := range idents {
		if !bound[id] {
			return false
		}
	}
	return strings.TrimSpace(big) != ""
}

// splitTop splits s on sep outside of brackets.
func splitTop(s, sep string) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		default:
			if depth == 0 && strings.HasPrefix(s[i:], sep) {
				out = append(out, s[start:i])
				i += len(sep) - 1
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

type Handling string

const (
	Propagated Handling = "propagated"
	Mapped     Handling = "mapped"
	Unwrapped  Handling = "unwrapped"
	Ignored    Handling = "ignored"
	Bound      Handling = "bound"
	Returned   Handling = "returned"
	Discarded  Handling = "discarded"
)

type CallSite struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Receiver string   `json:"receiver,omitempty"`
	Args     []string `json:"args,omitempty"`
	Handling Handling `json:"handling"`
	InLoop   bool     `json:"inLoop,omitempty"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line"`
	Order    int      `json:"order"`
	Text     string   `json:"text"`
	// Signature is filled in by merge, once ordinals are final.
	Signature string `json:"signature"`
}

type StateWrite struct {
	Account  string  `json:"account"`
	Field    string  `json:"field,omitempty"`
	Lamports bool    `json:"lamports,omitempty"`
	Value    Operand `json:"value"`
	File     string  `json:"file,omitempty"`
	Line     int     `json:"line"`
	Order    int     `json:"order"`
	Text     string  `json:"text"`
	// Signature is filled in by merge, once ordinals are final.
	Signature string `json:"signature"`
}

type LoopSite struct {
	Kind     string  `json:"kind"`
	Iterable Operand `json:"iterable"`
	File     string  `json:"file,omitempty"`
	Line     int     `json:"line"`
	Order    int     `json:"order"`
	Text     string  `json:"text"`
	// Signature is filled in by merge, once ordinals are final.
	Signature string `json:"signature"`
}

type BumpState string

const (
	BumpNone         BumpState = "none"
	BumpCanonical    BumpState = "canonical"
	BumpStored       BumpState = "stored"
	BumpUserSupplied BumpState = "user_supplied"
	BumpUnknown      BumpState = "unknown"
)

const (
	DerivedByConstraint = "constraint"
	DerivedByFind       = "find_program_address"
	DerivedByCreate     = "create_program_address"
)

type PdaDerivation struct {
	Program     string        `json:"program"`
	Context     string        `json:"context,omitempty"`
	Field       string        `json:"field,omitempty"`
	Instruction string        `json:"instruction,omitempty"`
	Seeds       []anchor.Seed `json:"seeds"`
	// SeedsKnown is false when the seed list is not a literal list.
	SeedsKnown bool      `json:"seedsKnown"`
	Bump       BumpState `json:"bump"`
	BumpExpr   string    `json:"bumpExpr,omitempty"`
	// InnerType is the account data type for constraint-level derivations.
	InnerType string `json:"innerType,omitempty"`
	Init      bool   `json:"init,omitempty"`
	Source    string `json:"source"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Order     int    `json:"order,omitempty"`
	Text      string `json:"text"`
	Signature string `json:"signature"`
}

// Verified reports whether the bump is pinned to the canonical one.
func (d PdaDerivation) Verified() bool {
	return d.Bump == BumpCanonical || d.Bump == BumpStored
}

// Mentions reports whether any identifier in the body matches one of words
// exactly, or contains one of them when the word ends in '*'.
func (b Body) Mentions(words ...string) bool {
	for _, w := range words {
		if strings.HasSuffix(w, "*") {
			prefix := strings.ToLower(strings.TrimSuffix(w, "*"))
			for _, id := range b.Idents {
				if strings.Contains(strings.ToLower(id), prefix) {
					return true
				}
			}
			continue
		}
		i := sort.SearchStrings(b.Idents, w)
		if i < len(b.Idents) && b.Idents[i] == w {
			return true
		}
	}
	return false
}

// GuardedBefore reports a guard preceding order that mentions any of names.
func (b Body) GuardedBefore(order int, names ...string) bool {
	for _, g := range b.Guards {
		if g.Order < order && g.Mentions(names...) {
			return true
		}
	}
	return false
}

// BoundedBefore reports whether a guard preceding order caps o from above.
func (b Body) BoundedBefore(order int, o Operand) bool {
	for _, g := range b.Guards {
		if g.Order < order && g.BoundsAbove(o.Idents...) {
			return true
		}
	}
	return false
}

// GuardMentions reports a guard anywhere in the body whose condition
// contains one of the substrings.
func (b Body) GuardMentions(subs ...string) bool {
	for _, g := range b.Guards {
		lc := strings.ToLower(g.Condition)
		for _, s := range subs {
			if strings.Contains(lc, strings.ToLower(s)) {
				return true
			}
		}
	}
	return false
}

func (b Body) Touches(account string) bool {
	for _, a := range b.AccountRefs {
		if a == account {
			return true
		}
	}
	return false
}

func (b Body) Borrows(account string) bool {
	for _, a := range b.DataBorrows {
		if a == account {
			return true
		}
	}
	return false
}

// CallsNamed returns the calls whose last path segment is one of names.
func (b Body) CallsNamed(names ...string) []CallSite {
	var out []CallSite
	for _, c := range b.Calls {
		for _, n := range names {
			if c.Name == n {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (b Body) WritesTo(account string) bool {
	for _, w := range b.Writes {
		if w.Account == account {
			return true
		}
	}
	return false
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "::"); i >= 0 {
		path = path[i+2:]
	}
	if i := strings.LastIndex(path, "."); i >= 0 {
		path = path[i+1:]
	}
	return path
}

// stamp records file on every fact that does not name one yet.
func (b *Body) stamp(file string) {
	for i := range b.Arithmetic {
		if b.Arithmetic[i].File == "" {
			b.Arithmetic[i].File = file
		}
	}
	for i := range b.Cpis {
		if b.Cpis[i].File == "" {
			b.Cpis[i].File = file
		}
	}
	for i := range b.Calls {
		if b.Calls[i].File == "" {
			b.Calls[i].File = file
		}
	}
	for i := range b.Writes {
		if b.Writes[i].File == "" {
			b.Writes[i].File = file
		}
	}
	for i := range b.Loops {
		if b.Loops[i].File == "" {
			b.Loops[i].File = file
		}
	}
	for i := range b.Derivations {
		if b.Derivations[i].File == "" {
			b.Derivations[i].File = file
		}
	}
}
