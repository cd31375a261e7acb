package util

import (
	"strings"
)

// ExtractSnippet returns up to maxLines lines centred on the 1-based line.
func ExtractSnippet(content string, line, maxLines int) string {
	if content == "" || line < 1 {
		return ""
	}
	if maxLines <= 0 {
		maxLines = 5
	}
	lines := strings.Split(content, "\n")
	if line > len(lines) {
		return ""
	}
	s := max(0, line-1-maxLines/2)
	e := min(len(lines), s+maxLines)
	return strings.TrimRight(strings.Join(lines[s:e], "\n"), "\n")
}
