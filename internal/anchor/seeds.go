package anchor

import (
	"strings"
	"unicode"

	"github.com/xab-mack/anchorscan/internal/util"
)

type SeedKind string

const (
	SeedLiteral     SeedKind = "literal"
	SeedConstant    SeedKind = "constant"
	SeedAccountKey  SeedKind = "account_key"
	SeedArgument    SeedKind = "argument"
	SeedAccountData SeedKind = "account_data"
	SeedOther       SeedKind = "other"
)

type Seed struct {
	Raw  string   `json:"raw"`
	Norm string   `json:"norm"`
	Kind SeedKind `json:"kind"`
	// Ref is the literal content, account name, or argument the seed reads.
	Ref string `json:"ref,omitempty"`
}

// Discriminating seeds pin a derivation to a fixed namespace or a distinct
// account, so two derivations differing in one cannot collide.
func (s Seed) Discriminating() bool {
	switch s.Kind {
	case SeedLiteral, SeedConstant, SeedAccountKey:
		return true
	}
	return false
}

var seedSuffixes = []string{".as_ref()", ".as_bytes()", ".to_le_bytes()", ".to_be_bytes()", ".as_slice()", ".to_bytes()", ".as_array()"}

// ParseSeeds splits a `[...]` seed list. ok is false when the value is not
// a literal list (for example a constant slice), in which case the seeds
// cannot be compared.
func ParseSeeds(value string, args map[string]bool) (seeds []Seed, ok bool) {
	v := strings.TrimSpace(value)
	v = strings.TrimPrefix(v, "&")
	if !strings.HasPrefix(v, "[") || !strings.HasSuffix(v, "]") {
		return nil, false
	}
	parts, err := SplitTopLevel(v[1:len(v)-1], ',')
	if err != nil {
		return nil, false
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		seeds = append(seeds, ClassifySeed(p, args))
	}
	return seeds, true
}

// ClassifySeed decides what a single seed expression is derived from.
func ClassifySeed(raw string, args map[string]bool) Seed {
	s := Seed{Raw: strings.TrimSpace(raw), Kind: SeedOther}
	n := util.NormalizeSignature(raw)
	for changed := true; changed; {
		changed = false
		for strings.HasPrefix(n, "&") {
			n = n[1:]
			changed = true
		}
		for _, suf := range seedSuffixes {
			if strings.HasSuffix(n, suf) {
				n = strings.TrimSuffix(n, suf)
				changed = true
			}
		}
		if strings.HasPrefix(n, "[") && strings.HasSuffix(n, "]") && !strings.Contains(n[1:len(n)-1], ",") {
			n = n[1 : len(n)-1]
			changed = true
		}
	}
	s.Norm = n
	switch {
	case strings.HasPrefix(n, `b"`) && strings.HasSuffix(n, `"`):
		s.Kind, s.Ref = SeedLiteral, n[2:len(n)-1]
	case strings.HasPrefix(n, `"`) && strings.HasSuffix(n, `"`):
		s.Kind, s.Ref = SeedLiteral, n[1:len(n)-1]
	case strings.HasSuffix(n, ".key()") || strings.HasSuffix(n, ".key"):
		base := strings.TrimSuffix(strings.TrimSuffix(n, "()"), ".key")
		base = strings.TrimPrefix(base, "ctx.accounts.")
		if args[base] {
			s.Kind, s.Ref = SeedArgument, base
		} else {
			s.Kind, s.Ref = SeedAccountKey, base
		}
	case isConstName(lastPathSegment(n)):
		s.Kind, s.Ref = SeedConstant, lastPathSegment(n)
	case args[n]:
		s.Kind, s.Ref = SeedArgument, n
	case isIdent(n):
		// a bare pubkey or byte value not declared as an instruction argument
		s.Kind, s.Ref = SeedOther, n
	case strings.Contains(n, "."):
		root, _, _ := strings.Cut(strings.TrimPrefix(n, "ctx.accounts."), ".")
		if args[root] {
			s.Kind, s.Ref = SeedArgument, root
		} else {
			s.Kind, s.Ref = SeedAccountData, root
		}
	}
	return s
}

// SeedsEqual compares two seed lists by normalized text.
func SeedsEqual(a, b []Seed) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Norm != b[i].Norm {
			return false
		}
	}
	return true
}

// IsPrefix reports whether short is a proper prefix of long.
func IsPrefix(short, long []Seed) bool {
	if len(short) >= len(long) {
		return false
	}
	return SeedsEqual(short, long[:len(short)])
}

func SeedSignature(seeds []Seed) string {
	norms := make([]string, len(seeds))
	for i, s := range seeds {
		norms[i] = s.Norm
	}
	return "[" + strings.Join(norms, ",") + "]"
}

func lastPathSegment(s string) string {
	if i := strings.LastIndex(s, "::"); i >= 0 {
		return s[i+2:]
	}
	return s
}

func isConstName(s string) bool {
	if s == "" || !isIdent(s) {
		return false
	}
	hasUpper := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasUpper = true
		}
	}
	return hasUpper
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
