package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// Fingerprint computes a stable structural identity for a finding. Line
// numbers never take part so reformatting keeps identities intact.
func Fingerprint(detectorID, program, instruction, siteKind, signature string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", detectorID, program, instruction, siteKind, signature)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeSignature strips comments and whitespace from a Rust source
// fragment. String and byte-string literals are kept verbatim.
func NormalizeSignature(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"':
			j := i + 1
			for j < len(src) && src[j] != '"' {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(src) {
				j = len(src) - 1
			}
			b.WriteString(src[i : j+1])
			i = j
		case c == '\'' && i+2 < len(src) && src[i+2] == '\'':
			b.WriteString(src[i : i+3])
			i += 2
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				i = len(src)
			} else {
				i += end + 3
			}
		case unicode.IsSpace(rune(c)):
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Ordinals disambiguates repeated signatures within one scope by suffixing
// the second and later occurrences with #n.
type Ordinals map[string]int

func (o Ordinals) Next(sig string) string {
	o[sig]++
	if n := o[sig]; n > 1 {
		return fmt.Sprintf("%s#%d", sig, n)
	}
	return sig
}
