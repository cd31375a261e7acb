package engine

import (
	"bufio"
	"bytes"
	"path"
	"strings"
	"time"

	"github.com/xab-mack/anchorscan/internal/config"
	"github.com/xab-mack/anchorscan/internal/model"
)

// InlineMarker starts an inline suppression comment:
//
//	// anchorscan:ignore V001 reason="signer checked by the caller"
const InlineMarker = "anchorscan:ignore"

// applyIgnores drops findings matched by a config rule or an inline marker
// and returns how many were dropped.
func applyIgnores(findings []model.Finding, rules []config.IgnoreRule, contents map[string][]byte, now time.Time) ([]model.Finding, int) {
	out := make([]model.Finding, 0, len(findings))
	lines := map[string][]string{}
	for _, f := range findings {
		if isIgnored(f, rules, now) {
			continue
		}
		file := f.Location.File
		ls, ok := lines[file]
		if !ok {
			ls = splitLines(contents[file])
			lines[file] = ls
		}
		if hasInlineSuppression(ls, f.DetectorID, f.Location.Line) {
			continue
		}
		out = append(out, f)
	}
	return out, len(findings) - len(out)
}

func isIgnored(f model.Finding, rules []config.IgnoreRule, now time.Time) bool {
	for _, ig := range rules {
		if !ig.Active(now) {
			continue
		}
		if ig.Rule != "" && !strings.EqualFold(strings.TrimSpace(ig.Rule), f.DetectorID) {
			continue
		}
		if ig.Path != "" && !pathMatches(ig.Path, f.Location.File) {
			continue
		}
		return true
	}
	return false
}

// pathMatches accepts a directory prefix or a path.Match glob.
func pathMatches(pattern, file string) bool {
	if strings.HasPrefix(file, pattern) {
		return true
	}
	ok, err := path.Match(pattern, file)
	return err == nil && ok
}

func splitLines(b []byte) []string {
	var out []string
	s := bufio.NewScanner(bytes.NewReader(b))
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for s.Scan() {
		out = append(out, s.Text())
	}
	return out
}

// hasInlineSuppression looks for a marker naming detectorID from five lines
// above the finding to one line below it.
func hasInlineSuppression(lines []string, detectorID string, line int) bool {
	if len(lines) == 0 || line <= 0 {
		return false
	}
	from := line - 1 - 5
	if from < 0 {
		from = 0
	}
	to := line
	if to >= len(lines) {
		to = len(lines) - 1
	}
	for i := from; i <= to; i++ {
		if suppresses(lines[i], detectorID) {
			return true
		}
	}
	return false
}

// suppresses parses the IDs after the marker; "all" matches every detector.
func suppresses(text, detectorID string) bool {
	idx := strings.Index(text, InlineMarker)
	if idx < 0 {
		return false
	}
	rest := text[idx+len(InlineMarker):]
	for _, tok := range strings.FieldsFunc(rest, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' }) {
		if strings.Contains(tok, "=") {
			break
		}
		tok = strings.TrimRight(tok, ":;.")
		if strings.EqualFold(tok, detectorID) || strings.EqualFold(tok, "all") {
			return true
		}
	}
	return false
}
