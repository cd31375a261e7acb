// Package tui is an interactive findings browser.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/xab-mack/anchorscan/internal/model"
)

type modelT struct {
	all      []model.Finding
	findings []model.Finding
	// floor is the minimum severity shown; cycles with "s".
	floor    int
	cursor   int
	detail   bool
	height   int
	quitting bool
}

func initialModel(findings []model.Finding) modelT {
	m := modelT{all: findings, floor: len(model.Severities) - 1, height: 20}
	m.apply()
	return m
}

func (m *modelT) apply() {
	floor := model.Severities[m.floor]
	m.findings = m.findings[:0:0]
	for _, f := range m.all {
		if model.SeverityGTE(f.Severity, floor) {
			m.findings = append(m.findings, f)
		}
	}
	if m.cursor >= len(m.findings) {
		m.cursor = max(len(m.findings)-1, 0)
	}
}

func (m modelT) Init() tea.Cmd { return nil }

func (m modelT) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = max(msg.Height-4, 3)
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.detail && msg.String() == "esc" {
				m.detail = false
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.findings)-1 {
				m.cursor++
			}
		case "home", "g":
			m.cursor = 0
		case "end", "G":
			m.cursor = max(len(m.findings)-1, 0)
		case "enter", " ":
			m.detail = !m.detail && len(m.findings) > 0
		case "s":
			// low -> medium -> high -> critical -> low
			m.floor = (m.floor + len(model.Severities) - 1) % len(model.Severities)
			m.apply()
		}
	}
	return m, nil
}

func (m modelT) View() string {
	if m.quitting {
		return ""
	}
	if m.detail && m.cursor < len(m.findings) {
		return detail(m.findings[m.cursor])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Findings (%d of %d, severity >= %s)\n\n", len(m.findings), len(m.all), model.Severities[m.floor])
	start := 0
	if m.cursor >= m.height {
		start = m.cursor - m.height + 1
	}
	for i := start; i < len(m.findings) && i < start+m.height; i++ {
		f := m.findings[i]
		mark := "  "
		if i == m.cursor {
			mark = "> "
		}
		fmt.Fprintf(&b, "%s%s %-8s %s:%d %s\n", mark, f.DetectorID, f.Severity, f.Location.File, f.Location.Line, f.Title)
	}
	b.WriteString("\nj/k move  enter details  s severity  q quit\n")
	return b.String()
}

func detail(f model.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s [%s, confidence %.2f]\n\n", f.DetectorID, f.Title, f.Severity, f.Confidence)
	fmt.Fprintf(&b, "%s:%d  %s", f.Location.File, f.Location.Line, f.Location.Program)
	if f.Location.Instruction != "" {
		fmt.Fprintf(&b, "::%s", f.Location.Instruction)
	}
	if f.Location.Field != "" {
		fmt.Fprintf(&b, " (%s)", f.Location.Field)
	}
	fmt.Fprintf(&b, "\n\n%s\n", f.Message)
	if f.Rationale != "" {
		fmt.Fprintf(&b, "\n%s\n", f.Rationale)
	}
	switch {
	case f.Excerpt != "":
		fmt.Fprintf(&b, "\n%s\n", f.Excerpt)
	case f.Snippet != "":
		fmt.Fprintf(&b, "\n%s\n", f.Snippet)
	}
	if f.Remediation != "" {
		fmt.Fprintf(&b, "\nFix: %s\n", f.Remediation)
	}
	for _, r := range f.References {
		fmt.Fprintf(&b, "  %s\n", r)
	}
	fmt.Fprintf(&b, "\nfingerprint %s\n\nesc back  q quit\n", f.Fingerprint)
	return b.String()
}

// Run launches the browser on the alternate screen.
func Run(findings []model.Finding) error {
	p := tea.NewProgram(initialModel(findings), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
