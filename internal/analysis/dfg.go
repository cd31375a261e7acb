package analysis

import (
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/xab-mack/anchorscan/internal/rust"
)

// Provenance classifies where an operand's value comes from.
type Provenance string

const (
	ProvConstant    Provenance = "constant"
	ProvArgument    Provenance = "argument"
	ProvDerived     Provenance = "derived"
	ProvAccountData Provenance = "account_data"
	ProvUnknown     Provenance = "unknown"
)

type Operand struct {
	Text       string     `json:"text"`
	Provenance Provenance `json:"provenance"`
	// Idents are the meaningful identifiers of the operand, used to match
	// guards that bound it.
	Idents []string `json:"idents,omitempty"`
}

// UserControlled reports operands an attacker chooses through instruction input.
func (o Operand) UserControlled() bool {
	return o.Provenance == ProvArgument || o.Provenance == ProvDerived
}

// combine merges the provenance of sub-expressions. User input dominates,
// then unknown, then account data, then constants.
func combine(ps ...Provenance) Provenance {
	out := ProvConstant
	rank := func(p Provenance) int {
		switch p {
		case ProvArgument, ProvDerived:
			return 3
		case ProvUnknown:
			return 2
		case ProvAccountData:
			return 1
		}
		return 0
	}
	for _, p := range ps {
		if rank(p) > rank(out) {
			out = p
		}
	}
	if out == ProvArgument && len(ps) > 1 {
		return ProvDerived
	}
	return out
}

// scope is the data-flow state of one function body: which names are
// parameters, what each local was bound to, and which locals alias
// accounts from the context.
type scope struct {
	params    map[string]bool
	locals    map[string]Provenance
	divLocals map[string]bool
	aliases   map[string]string
	// selfAccounts is set inside `impl Context` methods, where self.x is
	// an account of the context.
	selfAccounts bool
}

func newScope(params []Param, selfAccounts bool) *scope {
	s := &scope{
		params:       map[string]bool{},
		locals:       map[string]Provenance{},
		divLocals:    map[string]bool{},
		aliases:      map[string]string{},
		selfAccounts: selfAccounts,
	}
	for _, p := range params {
		if !strings.HasPrefix(strings.TrimSpace(p.Type), "Context") {
			s.params[p.Name] = true
		}
	}
	return s
}

var passthroughMethods = map[string]bool{
	"into": true, "try_into": true, "unwrap": true, "expect": true, "clone": true, "to_owned": true,
	"unwrap_or": true, "unwrap_or_default": true, "ok_or": true, "ok_or_else": true, "map_err": true,
	"as_ref": true, "to_le_bytes": true, "to_be_bytes": true, "abs": true, "cast": true,
}

var sizeMethods = map[string]bool{"len": true, "count": true}

func (s *scope) operand(n *sitter.Node, src []byte) Operand {
	text := rust.Text(n, src)
	return Operand{Text: compact(text), Provenance: s.provenance(n, src), Idents: operandIdents(text)}
}

func (s *scope) provenance(n *sitter.Node, src []byte) Provenance {
	if n == nil {
		return ProvUnknown
	}
	switch n.Type() {
	case "parenthesized_expression", "unary_expression", "try_expression":
		if c := n.NamedChild(0); c != nil {
			return s.provenance(c, src)
		}
	case "reference_expression", "type_cast_expression":
		return s.provenance(rust.Field(n, "value"), src)
	case "integer_literal", "float_literal", "boolean_literal", "string_literal", "char_literal", "raw_string_literal":
		return ProvConstant
	case "identifier":
		return s.identProvenance(rust.Text(n, src))
	case "self":
		if s.selfAccounts {
			return ProvAccountData
		}
	case "scoped_identifier":
		return ProvConstant
	case "field_expression":
		text := rust.Text(n, src)
		if strings.Contains(text, "remaining_accounts") {
			return ProvDerived
		}
		return s.rootProvenance(text)
	case "binary_expression":
		return combine(s.provenance(rust.Field(n, "left"), src), s.provenance(rust.Field(n, "right"), src))
	case "range_expression", "index_expression", "tuple_expression", "array_expression":
		var ps []Provenance
		for _, c := range rust.NamedChildren(n) {
			ps = append(ps, s.provenance(c, src))
		}
		if len(ps) == 0 {
			return ProvConstant
		}
		return combine(ps...)
	case "call_expression":
		return s.callProvenance(n, src)
	}
	return ProvUnknown
}

func (s *scope) callProvenance(n *sitter.Node, src []byte) Provenance {
	fn := rust.Field(n, "function")
	args := rust.NamedChildren(rust.Field(n, "arguments"))
	var argProv []Provenance
	for _, a := range args {
		argProv = append(argProv, s.provenance(a, src))
	}
	if fn != nil && fn.Type() == "field_expression" {
		method := rust.Text(rust.Field(fn, "field"), src)
		recv := s.provenance(rust.Field(fn, "value"), src)
		switch {
		case passthroughMethods[method]:
			return recv
		case sizeMethods[method]:
			if recv == ProvArgument {
				return ProvDerived
			}
			return recv
		}
		return combine(append([]Provenance{recv}, argProv...)...)
	}
	if strings.Contains(rust.Text(n, src), "remaining_accounts") {
		return ProvDerived
	}
	if len(argProv) == 0 {
		return ProvUnknown
	}
	if len(argProv) == 1 {
		// conversions such as u128::from(x) keep the argument's provenance
		return argProv[0]
	}
	return combine(argProv...)
}

func (s *scope) identProvenance(name string) Provenance {
	switch {
	case s.params[name]:
		return ProvArgument
	case s.aliases[name] != "":
		return ProvAccountData
	}
	if p, ok := s.locals[name]; ok {
		return p
	}
	if isConstIdent(name) {
		return ProvConstant
	}
	return ProvUnknown
}

func (s *scope) rootProvenance(text string) Provenance {
	root := rootIdent(text)
	switch {
	case root == "ctx" && strings.Contains(text, "accounts"):
		return ProvAccountData
	case root == "self" && s.selfAccounts:
		return ProvAccountData
	case s.params[root]:
		return ProvDerived
	}
	return s.identProvenance(root)
}

var (
	identRe     = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	stringLitRe = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
	commentRe   = regexp.MustCompile(`//[^\n]*`)
)

var operandNoise = map[string]bool{
	"ctx": true, "accounts": true, "self": true, "mut": true, "as": true, "key": true, "clone": true,
	"unwrap": true, "into": true, "try_into": true, "to_account_info": true, "as_ref": true,
	"u8": true, "u16": true, "u32": true, "u64": true, "u128": true, "i8": true, "i16": true, "i32": true,
	"i64": true, "i128": true, "usize": true, "isize": true,
}

func operandIdents(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range identRe.FindAllString(stringLitRe.ReplaceAllString(text, ""), -1) {
		if operandNoise[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// bodyIdents is the sorted identifier set of src with strings and comments removed.
func bodyIdents(src string) []string {
	clean := commentRe.ReplaceAllString(stringLitRe.ReplaceAllString(src, `""`), "")
	seen := map[string]bool{}
	var out []string
	for _, id := range identRe.FindAllString(clean, -1) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func rootIdent(text string) string {
	t := strings.TrimLeft(text, "*&( \t\n")
	t = strings.TrimPrefix(t, "mut ")
	return identRe.FindString(t)
}

func isConstIdent(s string) bool {
	if s == "" {
		return false
	}
	upper := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= 'A' && r <= 'Z':
			upper = true
		}
	}
	return upper
}

// compact collapses whitespace runs for display.
func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
