package model

import (
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q (want critical|high|medium|low)", s)
	}
	return sev, nil
}

func SeverityGTE(a, b Severity) bool { return a.Rank() >= b.Rank() }

type RuleMeta struct {
	ID          string   `json:"id"`
	Code        string   `json:"code"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Remediation string   `json:"remediation"`
	Tags        []string `json:"tags"`
	References  []string `json:"references"`
}

// Site kinds used in locations and fingerprints.
const (
	SiteField       = "field"
	SiteArithmetic  = "arithmetic"
	SiteCPI         = "cpi"
	SitePDA         = "pda"
	SiteCall        = "call"
	SiteWrite       = "write"
	SiteLoop        = "loop"
	SiteInstruction = "instruction"
	SiteState       = "state"
)

// Location names the model entity a finding refers to.
type Location struct {
	File        string `json:"file"`
	Line        int    `json:"line"`
	Program     string `json:"program"`
	Instruction string `json:"instruction,omitempty"`
	Context     string `json:"context,omitempty"`
	Field       string `json:"field,omitempty"`
	SiteKind    string `json:"siteKind"`
	Site        string `json:"site"`
}

type Finding struct {
	ID          string   `json:"id"`
	DetectorID  string   `json:"detectorId"`
	Code        string   `json:"code"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Confidence  float64  `json:"confidence"`
	Location    Location `json:"location"`
	Message     string   `json:"message"`
	Rationale   string   `json:"rationale,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
	References  []string `json:"references,omitempty"`
	Snippet     string   `json:"snippet,omitempty"`
	// Excerpt is the surrounding source, filled in by the engine.
	Excerpt     string `json:"excerpt,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

type DiagnosticKind string

const (
	DiagnosticParseError    DiagnosticKind = "parse_error"
	DiagnosticModelError    DiagnosticKind = "model_error"
	DiagnosticDetectorFault DiagnosticKind = "detector_fault"
	DiagnosticReadError     DiagnosticKind = "read_error"
)

// Diagnostic is a framework-level condition that is not a finding.
type Diagnostic struct {
	Kind        DiagnosticKind `json:"kind"`
	Source      string         `json:"source"`
	Program     string         `json:"program,omitempty"`
	Instruction string         `json:"instruction,omitempty"`
	Message     string         `json:"message"`
}

type Summary struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"bySeverity"`
}

func (s Summary) Count(sev Severity) int { return s.BySeverity[sev] }

type ScanResult struct {
	Findings    []Finding     `json:"findings"`
	Summary     Summary       `json:"summary"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
	Coverage    []string      `json:"coverage,omitempty"`
	Elapsed     time.Duration `json:"-"`
}
