// Package anchor maps Anchor's attribute and type syntax onto a fixed
// constraint vocabulary. Anything it cannot classify is kept as
// ConstraintUnknown with the raw text, never dropped.
package anchor

import (
	"errors"
	"fmt"
	"strings"
)

type ConstraintKind string

const (
	ConstraintInit            ConstraintKind = "init"
	ConstraintInitIfNeeded    ConstraintKind = "init_if_needed"
	ConstraintZero            ConstraintKind = "zero"
	ConstraintMut             ConstraintKind = "mut"
	ConstraintSigner          ConstraintKind = "signer"
	ConstraintHasOne          ConstraintKind = "has_one"
	ConstraintSeeds           ConstraintKind = "seeds"
	ConstraintSeedsProgram    ConstraintKind = "seeds_program"
	ConstraintBump            ConstraintKind = "bump"
	ConstraintPayer           ConstraintKind = "payer"
	ConstraintSpace           ConstraintKind = "space"
	ConstraintOwner           ConstraintKind = "owner"
	ConstraintAddress         ConstraintKind = "address"
	ConstraintExpr            ConstraintKind = "constraint"
	ConstraintClose           ConstraintKind = "close"
	ConstraintRealloc         ConstraintKind = "realloc"
	ConstraintRentExempt      ConstraintKind = "rent_exempt"
	ConstraintExecutable      ConstraintKind = "executable"
	ConstraintToken           ConstraintKind = "token"
	ConstraintMint            ConstraintKind = "mint"
	ConstraintAssociatedToken ConstraintKind = "associated_token"
	ConstraintUnknown         ConstraintKind = "unknown"
)

var simpleKinds = map[string]ConstraintKind{
	"init":           ConstraintInit,
	"init_if_needed": ConstraintInitIfNeeded,
	"zero":           ConstraintZero,
	"mut":            ConstraintMut,
	"signer":         ConstraintSigner,
	"has_one":        ConstraintHasOne,
	"seeds":          ConstraintSeeds,
	"bump":           ConstraintBump,
	"payer":          ConstraintPayer,
	"space":          ConstraintSpace,
	"owner":          ConstraintOwner,
	"address":        ConstraintAddress,
	"constraint":     ConstraintExpr,
	"close":          ConstraintClose,
	"realloc":        ConstraintRealloc,
	"rent_exempt":    ConstraintRentExempt,
	"executable":     ConstraintExecutable,
}

var namespacedKinds = map[string]ConstraintKind{
	"token":            ConstraintToken,
	"mint":             ConstraintMint,
	"associated_token": ConstraintAssociatedToken,
	"realloc":          ConstraintRealloc,
}

// Constraint is one normalized entry of an #[account(...)] attribute.
type Constraint struct {
	Kind ConstraintKind `json:"kind"`
	// Key is the surface key, e.g. "token::authority" or "has_one".
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
	// Error is the custom error after '@', if any.
	Error string `json:"error,omitempty"`
	Raw   string `json:"raw"`
}

var ErrUnbalanced = errors.New("unbalanced brackets")

// ParseAttribute extracts the constraints of an `#[account(...)]` attribute.
// ok is false when the attribute is not an account attribute.
func ParseAttribute(attr string) (cs []Constraint, ok bool, err error) {
	name, args, hasArgs := AttributeArgs(attr)
	if name != "account" {
		return nil, false, nil
	}
	if !hasArgs {
		return nil, true, nil
	}
	cs, err = ParseConstraints(args)
	return cs, true, err
}

// AttributeArgs splits `#[name(args)]` into name and args.
func AttributeArgs(attr string) (name, args string, hasArgs bool) {
	s := strings.TrimSpace(attr)
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimPrefix(s, "!")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return s, "", false
	}
	name = strings.TrimSpace(s[:open])
	rest := strings.TrimSpace(s[open+1:])
	rest = strings.TrimSuffix(rest, ")")
	return name, rest, true
}

// ParseConstraints splits the argument list of an account attribute and
// classifies each entry. On unbalanced input it returns a single unknown
// constraint carrying the raw text together with ErrUnbalanced.
func ParseConstraints(args string) ([]Constraint, error) {
	parts, err := SplitTopLevel(args, ',')
	if err != nil {
		return []Constraint{{Kind: ConstraintUnknown, Raw: strings.TrimSpace(args)}}, fmt.Errorf("account constraints: %w", err)
	}
	var out []Constraint
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, classify(p))
	}
	return out, nil
}

func classify(raw string) Constraint {
	c := Constraint{Raw: raw}
	body := raw
	if at := indexTopLevel(body, '@'); at >= 0 {
		c.Error = strings.TrimSpace(body[at+1:])
		body = strings.TrimSpace(body[:at])
	}
	key, value := body, ""
	if eq := assignIndex(body); eq >= 0 {
		key = strings.TrimSpace(body[:eq])
		value = strings.TrimSpace(body[eq+1:])
	}
	c.Key = key
	c.Value = value
	if k, ok := simpleKinds[key]; ok {
		c.Kind = k
		return c
	}
	if ns, _, found := strings.Cut(key, "::"); found {
		if key == "seeds::program" {
			c.Kind = ConstraintSeedsProgram
			return c
		}
		if k, ok := namespacedKinds[strings.TrimSpace(ns)]; ok {
			c.Kind = k
			return c
		}
	}
	c.Kind = ConstraintUnknown
	return c
}

// assignIndex finds the top-level '=' that separates key from value,
// skipping comparison operators.
func assignIndex(s string) int {
	depth := 0
	inStr := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++
			} else if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(s) && s[i+1] == '=' {
				return -1
			}
			if i > 0 && strings.ContainsRune("=!<>", rune(s[i-1])) {
				return -1
			}
			return i
		}
	}
	return -1
}

func indexTopLevel(s string, target byte) int {
	depth := 0
	inStr := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++
			} else if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		default:
			if ch == target && depth == 0 {
				return i
			}
		}
	}
	return -1
}

// SplitTopLevel splits s on sep outside brackets and string literals.
func SplitTopLevel(s string, sep byte) ([]string, error) {
	var parts []string
	var stack []byte
	inStr := false
	start := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++
			} else if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '(', '[', '{':
			stack = append(stack, ch)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != opener(ch) {
				return nil, ErrUnbalanced
			}
			stack = stack[:len(stack)-1]
		default:
			if ch == sep && len(stack) == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if len(stack) != 0 || inStr {
		return nil, ErrUnbalanced
	}
	return append(parts, s[start:]), nil
}

func opener(closer byte) byte {
	switch closer {
	case ')':
		return '('
	case ']':
		return '['
	default:
		return '{'
	}
}

// Constraints is the constraint set of one account field.
type Constraints []Constraint

func (cs Constraints) Has(k ConstraintKind) bool {
	_, ok := cs.Get(k)
	return ok
}

func (cs Constraints) Get(k ConstraintKind) (Constraint, bool) {
	for _, c := range cs {
		if c.Kind == k {
			return c, true
		}
	}
	return Constraint{}, false
}

func (cs Constraints) All(k ConstraintKind) []Constraint {
	var out []Constraint
	for _, c := range cs {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

// HasUnknown reports whether any entry could not be classified.
func (cs Constraints) HasUnknown() bool { return cs.Has(ConstraintUnknown) }

// Mentions reports whether a constraint expression references word.
func (cs Constraints) Mentions(k ConstraintKind, word string) bool {
	for _, c := range cs.All(k) {
		if strings.Contains(c.Value, word) {
			return true
		}
	}
	return false
}
