package diff

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/report"
)

// Render writes r as JSON, markdown, or a colored table for any other
// format.
func Render(w io.Writer, format report.Format, r Report) error {
	switch format {
	case report.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case report.FormatMarkdown:
		return markdown(w, r)
	}
	return table(w, r)
}

var (
	added   = color.New(color.FgRed, color.Bold).SprintFunc()
	removed = color.New(color.FgGreen).SprintFunc()
	kept    = color.New(color.Faint).SprintFunc()
)

func table(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tSEVERITY\tID\tLOCATION\tMESSAGE")
	rows := func(label string, fs []model.Finding) {
		for _, f := range fs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s:%d\t%s\n",
				label, report.Paint(f.Severity), f.DetectorID, f.Location.File, f.Location.Line, f.Message)
		}
	}
	rows(added("new"), r.Introduced())
	rows(removed("fixed"), r.Resolved())
	rows(kept("persisted"), r.Remaining())
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d new, %d fixed, %d persisted\n", len(r.New), len(r.Fixed), len(r.Persisted))
	return err
}

func markdown(w io.Writer, r Report) error {
	fmt.Fprintf(w, "# anchorscan diff\n\n")
	fmt.Fprintf(w, "%d new, %d fixed, %d persisted\n", len(r.New), len(r.Fixed), len(r.Persisted))
	section := func(title string, fs []model.Finding) {
		if len(fs) == 0 {
			return
		}
		fmt.Fprintf(w, "\n## %s\n\n| Severity | ID | Location | Message |\n|---|---|---|---|\n", title)
		for _, f := range fs {
			fmt.Fprintf(w, "| %s | %s | `%s:%d` | %s |\n", f.Severity, f.DetectorID, f.Location.File, f.Location.Line, f.Message)
		}
	}
	section("New", r.Introduced())
	section("Fixed", r.Resolved())
	section("Persisted", r.Remaining())
	return nil
}
