package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/xab-mack/anchorscan/internal/model"
)

type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatSARIF    Format = "sarif"
	FormatGitHub   Format = "github"
)

var ErrUnknownFormat = errors.New("unknown output format")

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatMarkdown, FormatSARIF, FormatGitHub:
		return f, nil
	}
	return "", fmt.Errorf("%w %q (want table|json|markdown|sarif|github)", ErrUnknownFormat, s)
}

// Render writes res to w in the requested format. The catalog is only
// consulted for SARIF rule metadata.
func Render(w io.Writer, format Format, res model.ScanResult, catalog []model.RuleMeta) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if res.Findings == nil {
			res.Findings = []model.Finding{}
		}
		return enc.Encode(res)
	case FormatSARIF:
		return ToSARIF(w, res.Findings, catalog)
	case FormatMarkdown:
		return markdown(w, res)
	case FormatGitHub:
		return github(w, res)
	case FormatTable, "":
		return table(w, res)
	}
	return fmt.Errorf("%w %q", ErrUnknownFormat, format)
}

var severityColor = map[model.Severity]*color.Color{
	model.SeverityCritical: color.New(color.FgHiRed, color.Bold),
	model.SeverityHigh:     color.New(color.FgRed),
	model.SeverityMedium:   color.New(color.FgYellow),
	model.SeverityLow:      color.New(color.FgCyan),
}

// Paint renders a severity label in its table color.
func Paint(s model.Severity) string {
	c, ok := severityColor[s]
	if !ok {
		return string(s)
	}
	return c.Sprint(strings.ToUpper(string(s)))
}

func table(w io.Writer, res model.ScanResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tID\tLOCATION\tINSTRUCTION\tMESSAGE")
	for _, f := range res.Findings {
		fmt.Fprintf(tw, "%s\t%s\t%s:%d\t%s\t%s\n",
			Paint(f.Severity), f.DetectorID, f.Location.File, f.Location.Line, instructionOf(f), f.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d findings: %s\n", res.Summary.Total, counts(res.Summary))
	for _, d := range res.Diagnostics {
		fmt.Fprintf(w, "%s %s: %s\n", color.New(color.Faint).Sprint("note"), d.Kind, d.Message)
	}
	return nil
}

func counts(s model.Summary) string {
	parts := make([]string, 0, len(model.Severities))
	for _, sev := range model.Severities {
		parts = append(parts, fmt.Sprintf("%d %s", s.Count(sev), sev))
	}
	return strings.Join(parts, ", ")
}

func instructionOf(f model.Finding) string {
	if f.Location.Instruction == "" {
		return f.Location.Program
	}
	return f.Location.Program + "::" + f.Location.Instruction
}

func markdown(w io.Writer, res model.ScanResult) error {
	fmt.Fprintf(w, "# anchorscan report\n\n")
	fmt.Fprintf(w, "| Severity | Count |\n|---|---|\n")
	for _, sev := range model.Severities {
		fmt.Fprintf(w, "| %s | %d |\n", sev, res.Summary.Count(sev))
	}
	if len(res.Findings) == 0 {
		_, err := fmt.Fprintf(w, "\nNo findings.\n")
		return err
	}
	for _, f := range res.Findings {
		fmt.Fprintf(w, "\n## [%s] %s: %s\n\n", strings.ToUpper(string(f.Severity)), f.DetectorID, f.Title)
		fmt.Fprintf(w, "- **Location:** `%s:%d` (%s)\n", f.Location.File, f.Location.Line, instructionOf(f))
		fmt.Fprintf(w, "- **Confidence:** %.2f\n", f.Confidence)
		fmt.Fprintf(w, "- **Fingerprint:** `%s`\n\n", f.Fingerprint)
		fmt.Fprintf(w, "%s\n", f.Message)
		if code := f.Excerpt; code != "" || f.Snippet != "" {
			if code == "" {
				code = f.Snippet
			}
			fmt.Fprintf(w, "\n```rust\n%s\n```\n", code)
		}
		if f.Remediation != "" {
			fmt.Fprintf(w, "\n**Remediation:** %s\n", f.Remediation)
		}
	}
	return nil
}

// github emits workflow commands understood by GitHub Actions.
func github(w io.Writer, res model.ScanResult) error {
	for _, f := range res.Findings {
		lvl := "warning"
		switch f.Severity {
		case model.SeverityCritical, model.SeverityHigh:
			lvl = "error"
		case model.SeverityLow:
			lvl = "notice"
		}
		_, err := fmt.Fprintf(w, "::%s file=%s,line=%d,title=%s::%s\n",
			lvl, escapeProperty(f.Location.File), max(f.Location.Line, 1),
			escapeProperty(f.DetectorID+" "+f.Title), escapeData(f.Message))
		if err != nil {
			return err
		}
	}
	return nil
}

func escapeData(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A").Replace(s)
}

func escapeProperty(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A", ":", "%3A", ",", "%2C").Replace(s)
}
