package diff

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/plugins"
	"github.com/xab-mack/anchorscan/internal/report"
	"github.com/xab-mack/anchorscan/internal/source"
)

func finding(fp string, sev model.Severity) model.Finding {
	return model.Finding{DetectorID: "V001", Fingerprint: fp, Severity: sev, Message: "m " + fp}
}

func TestComparePartitions(t *testing.T) {
	// given
	old := []model.Finding{finding("a", model.SeverityHigh), finding("b", model.SeverityLow), finding("c", model.SeverityLow)}
	cur := []model.Finding{finding("c", model.SeverityLow), finding("d", model.SeverityCritical), finding("a", model.SeverityHigh)}

	// when
	r := Compare(old, cur)

	// then
	assert.Equal(t, []string{"d"}, r.New)
	assert.Equal(t, []string{"b"}, r.Fixed)
	assert.Equal(t, []string{"a", "c"}, r.Persisted)
	require.Len(t, r.Evidence, 2)
	assert.Equal(t, "a", r.Evidence[0].Fingerprint)

	seen := map[string]int{}
	for _, part := range [][]string{r.New, r.Fixed, r.Persisted} {
		for _, fp := range part {
			seen[fp]++
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, seen)
	assert.Len(t, r.Findings, 4)
	assert.True(t, r.Regressed(model.SeverityHigh))
	assert.False(t, Compare(cur, cur).Regressed(model.SeverityLow))
}

func TestCompareEmpty(t *testing.T) {
	r := Compare(nil, nil)

	assert.Empty(t, r.New)
	assert.Empty(t, r.Fixed)
	assert.Empty(t, r.Persisted)
	assert.NotNil(t, r.New)
}

func TestCompareDuplicates(t *testing.T) {
	weak := finding("a", model.SeverityLow)
	strong := finding("a", model.SeverityHigh)

	r := Compare(nil, []model.Finding{weak, strong})

	assert.Equal(t, []string{"a"}, r.New)
	assert.Equal(t, model.SeverityHigh, r.Findings["a"].Severity)
}

func scanSource(t *testing.T, files []source.File) []model.Finding {
	t.Helper()
	m, err := analysis.Build(context.Background(), files, analysis.Options{Workers: 2})
	require.NoError(t, err)
	fs, _ := plugins.Run(context.Background(), m, plugins.Selection{}, model.SeverityLow, plugins.Config{})
	return fs
}

func TestCompareFixedSigner(t *testing.T) {
	// given
	files, err := source.LoadArchive("../plugins/testdata/vault.txtar")
	require.NoError(t, err)
	require.Len(t, files, 1)
	before := scanSource(t, files)

	fixed := files[0]
	fixed.Content = []byte(strings.Replace(string(fixed.Content),
		"/// CHECK: vault owner\n    #[account(mut)]\n    pub owner: AccountInfo<'info>,",
		"#[account(mut)]\n    pub owner: Signer<'info>,", 1))
	require.NotEqual(t, string(files[0].Content), string(fixed.Content))
	// unrelated edits above the instructions shift every line
	fixed.Content = append([]byte("// audited\n\n"), fixed.Content...)
	after := scanSource(t, []source.File{fixed})

	// when
	r := Compare(before, after)

	// then
	require.Len(t, r.Fixed, 1)
	assert.Equal(t, "V001", r.Findings[r.Fixed[0]].DetectorID)
	assert.Empty(t, r.New)
	assert.NotEmpty(t, r.Persisted)
	for _, p := range r.Evidence {
		assert.NotEqual(t, p.Old.Location.Line, p.New.Location.Line, p.Fingerprint)
	}
}

func TestRender(t *testing.T) {
	color.NoColor = true
	r := Compare([]model.Finding{finding("a", model.SeverityHigh)}, []model.Finding{finding("b", model.SeverityLow)})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, report.FormatTable, r))
		assert.Contains(t, buf.String(), "1 new, 1 fixed, 0 persisted")
		assert.Contains(t, buf.String(), "m b")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, report.FormatJSON, r))
		var got Report
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, []string{"b"}, got.New)
		assert.Equal(t, []string{"a"}, got.Fixed)
	})

	t.Run("markdown", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, report.FormatMarkdown, r))
		assert.Contains(t, buf.String(), "## New")
		assert.Contains(t, buf.String(), "## Fixed")
		assert.NotContains(t, buf.String(), "## Persisted")
	})
}
