package report

import (
	"io"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/xab-mack/anchorscan/internal/model"
)

const (
	toolName = "anchorscan"
	toolURI  = "https://github.com/xab-mack/anchorscan"
)

// ToSARIF writes findings as a SARIF 2.1.0 log. Rules are emitted for every
// entry of catalog so consumers can resolve rule metadata.
func ToSARIF(w io.Writer, findings []model.Finding, catalog []model.RuleMeta) error {
	rep, err := sarif.New(sarif.Version210)
	if err != nil {
		return err
	}
	run := sarif.NewRunWithInformationURI(toolName, toolURI)
	for _, meta := range catalog {
		run.AddRule(meta.ID).
			WithName(strings.ReplaceAll(meta.Title, " ", "")).
			WithDescription(meta.Title).
			WithFullDescription(sarif.NewMultiformatMessageString(meta.Description)).
			WithHelp(sarif.NewMultiformatMessageString(meta.Remediation)).
			WithDefaultConfiguration(sarif.NewReportingConfiguration().WithLevel(level(meta.Severity))).
			WithProperties(sarif.Properties{
				"tags":              append([]string{meta.Code}, meta.Tags...),
				"security-severity": securitySeverity(meta.Severity),
			})
	}
	for _, f := range findings {
		line := f.Location.Line
		if line < 1 {
			line = 1
		}
		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(f.Location.File)).
				WithRegion(sarif.NewRegion().WithStartLine(line)),
		)
		result := sarif.NewRuleResult(f.DetectorID).
			WithMessage(sarif.NewTextMessage(f.Message)).
			WithLevel(level(f.Severity)).
			WithLocations([]*sarif.Location{location}).
			WithPartialFingerPrints(map[string]interface{}{"anchorscan/v1": f.Fingerprint})
		run.AddResult(result)
	}
	rep.AddRun(run)
	return rep.PrettyWrite(w)
}

func level(s model.Severity) string {
	switch s {
	case model.SeverityCritical, model.SeverityHigh:
		return "error"
	case model.SeverityMedium:
		return "warning"
	case model.SeverityLow:
		return "note"
	default:
		return "none"
	}
}

func securitySeverity(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "9.5"
	case model.SeverityHigh:
		return "7.5"
	case model.SeverityMedium:
		return "5.0"
	default:
		return "2.0"
	}
}
