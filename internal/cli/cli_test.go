package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/xab-mack/anchorscan/internal/diff"
	"github.com/xab-mack/anchorscan/internal/engine"
	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/source"
)

func init() { color.NoColor = true }

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "anchorscan", SilenceUsage: true, SilenceErrors: true}
	AddCommands(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// workspace extracts a fixture archive into a fresh directory.
func workspace(t *testing.T, name string) string {
	t.Helper()
	ar, err := txtar.ParseFile(filepath.Join("..", "plugins", "testdata", name))
	require.NoError(t, err)
	dir := t.TempDir()
	for _, f := range ar.Files {
		p := filepath.Join(dir, filepath.FromSlash(f.Name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, f.Data, 0o644))
	}
	return dir
}

const vaultLib = "programs/vault/src/lib.rs"

func fixOwner(t *testing.T, dir string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(vaultLib))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	fixed := strings.Replace(string(b),
		"/// CHECK: vault owner\n    #[account(mut)]\n    pub owner: AccountInfo<'info>,",
		"#[account(mut)]\n    pub owner: Signer<'info>,", 1)
	require.NotEqual(t, string(b), fixed)
	require.NoError(t, os.WriteFile(p, []byte(fixed), 0o644))
}

func scanJSON(t *testing.T, args ...string) model.ScanResult {
	t.Helper()
	out, err := run(t, append([]string{"scan", "--format", "json"}, args...)...)
	require.NoError(t, err, out)
	var res model.ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	return res
}

func ids(fs []model.Finding) map[string]int {
	out := map[string]int{}
	for _, f := range fs {
		out[f.DetectorID]++
	}
	return out
}

func TestRulesList(t *testing.T) {
	out, err := run(t, "rules", "list")

	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 23)
	assert.Contains(t, lines[1], "V001")
	assert.Contains(t, lines[1], "CWE-862")
	assert.Contains(t, lines[1], "yes")
}

func TestRulesListJSON(t *testing.T) {
	out, err := run(t, "rules", "list", "--json")

	require.NoError(t, err)
	var catalog []model.RuleMeta
	require.NoError(t, json.Unmarshal([]byte(out), &catalog))
	assert.Len(t, catalog, 22)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "anchorscan dev"))
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, "init", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, ".anchorscan.yaml")
	_, err = os.Stat(filepath.Join(dir, ".anchorscan.yaml"))
	require.NoError(t, err)

	_, err = run(t, "init", "--dir", dir)
	assert.Error(t, err)
}

func TestScanJSON(t *testing.T) {
	dir := workspace(t, "vault.txtar")

	res := scanJSON(t, dir)

	assert.Equal(t, 1, ids(res.Findings)["V001"])
	assert.Equal(t, len(res.Findings), res.Summary.Total)
}

func TestScanTable(t *testing.T) {
	dir := workspace(t, "vault.txtar")

	out, err := run(t, "scan", dir)

	require.NoError(t, err)
	assert.Contains(t, out, "SEVERITY")
	assert.Contains(t, out, vaultLib)
}

func TestScanSelectionFlags(t *testing.T) {
	dir := workspace(t, "vault.txtar")

	res := scanJSON(t, dir, "--only", "V001,V003", "--severity", "critical")

	assert.Equal(t, map[string]int{"V001": 1}, ids(res.Findings))
}

func TestScanBlankOnlySelectsAll(t *testing.T) {
	dir := workspace(t, "vault.txtar")

	res := scanJSON(t, dir, "--only", ",")

	assert.Equal(t, 1, ids(res.Findings)["V001"])
	assert.Equal(t, scanJSON(t, dir).Summary.Total, res.Summary.Total)
}

func TestScanRejectsBadFlags(t *testing.T) {
	dir := workspace(t, "vault.txtar")
	tests := []struct {
		name string
		args []string
	}{
		{"format", []string{"--format", "xml"}},
		{"severity", []string{"--severity", "urgent"}},
		{"detector", []string{"--only", "V404"}},
		{"fail-on", []string{"--fail-on", "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"scan", dir}, tt.args...)...)

			assert.Error(t, err)
		})
	}
}

func TestScanFailOn(t *testing.T) {
	dir := workspace(t, "vault.txtar")

	_, err := run(t, "scan", dir, "--fail-on", "critical")

	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 2, exit.Code)

	fixOwner(t, dir)
	_, err = run(t, "scan", dir, "--only", "V001", "--fail-on", "critical")
	assert.NoError(t, err)
}

func TestScanUsesConfigFile(t *testing.T) {
	dir := workspace(t, "vault.txtar")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".anchorscan.yaml"), []byte("exclude: [V001]\n"), 0o644))

	res := scanJSON(t, dir)
	assert.Zero(t, ids(res.Findings)["V001"])

	res = scanJSON(t, dir, "--exclude", "V003")
	assert.Equal(t, 1, ids(res.Findings)["V001"], "flags override the config")
}

func TestScanBaselineRoundTrip(t *testing.T) {
	dir := workspace(t, "vault.txtar")
	baseline := filepath.Join(t.TempDir(), "baseline.json")

	first := scanJSON(t, dir, "--write-baseline", baseline)
	require.NotEmpty(t, first.Findings)

	second := scanJSON(t, dir, "--baseline", baseline)
	assert.Empty(t, second.Findings)
}

func TestScanGeneratesPOCAndMetrics(t *testing.T) {
	// given
	dir := workspace(t, "vault.txtar")
	pocDir := filepath.Join(t.TempDir(), "exploits")
	prom := filepath.Join(t.TempDir(), "scan.prom")
	report := filepath.Join(t.TempDir(), "report.sarif")

	// when
	_, err := run(t, "scan", dir, "--format", "sarif", "--output", report,
		"--generate-poc", "--poc-out", pocDir, "--metrics-out", prom)

	// then
	require.NoError(t, err)
	entries, err := os.ReadDir(pocDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	for _, e := range entries {
		assert.True(t, strings.HasPrefix(e.Name(), "poc_v0"), e.Name())
	}

	b, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(b), "anchorscan_findings_total")
	assert.Contains(t, string(b), "anchorscan_poc_artifacts_total")

	b, err = os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"version": "2.1.0"`)
}

func TestScanErrors(t *testing.T) {
	_, err := run(t, "scan", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, source.ErrUnreadableRoot)

	_, err = run(t, "scan", t.TempDir())
	assert.ErrorIs(t, err, engine.ErrNoSources)
}

func TestPocCommand(t *testing.T) {
	dir := workspace(t, "relay.txtar")
	out := filepath.Join(t.TempDir(), "poc")

	stdout, err := run(t, "poc", dir, "--out", out, "--only", "V006")

	require.NoError(t, err)
	assert.Contains(t, stdout, "1 exploit test(s) for 1 finding(s)")
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "poc_v006_"))
}

func TestByFingerprint(t *testing.T) {
	fs := []model.Finding{{Fingerprint: "abc1"}, {Fingerprint: "abd2"}, {Fingerprint: "ff00"}}

	assert.Len(t, byFingerprint(fs, nil), 3)
	assert.Len(t, byFingerprint(fs, []string{"AB"}), 2)
	assert.Len(t, byFingerprint(fs, []string{"abc", "ff"}), 2)
}

func TestDiffDirectories(t *testing.T) {
	// given
	before := workspace(t, "vault.txtar")
	after := workspace(t, "vault.txtar")
	fixOwner(t, after)

	// when
	out, err := run(t, "diff", before, after, "--format", "json")

	// then
	require.NoError(t, err)
	var r diff.Report
	require.NoError(t, json.Unmarshal([]byte(out), &r), out)
	assert.Empty(t, r.New)
	require.Len(t, r.Fixed, 1)
	assert.Equal(t, "V001", r.Findings[r.Fixed[0]].DetectorID)
	assert.NotEmpty(t, r.Persisted)
}

func TestDiffFailOnRegression(t *testing.T) {
	fixed := workspace(t, "vault.txtar")
	fixOwner(t, fixed)
	broken := workspace(t, "vault.txtar")

	_, err := run(t, "diff", fixed, broken, "--fail-on", "critical")

	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 2, exit.Code)
}

func TestDiffArgs(t *testing.T) {
	_, err := run(t, "diff", "only-one")
	assert.ErrorContains(t, err, "expected 2 arguments")

	_, err = run(t, "diff", "--git", "repo", "rev")
	assert.ErrorContains(t, err, "expected 3 arguments")
}

func TestDiffGitRevisions(t *testing.T) {
	// given
	dir := workspace(t, "vault.txtar")
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	commit := func(msg string) string {
		_, err := wt.Add(vaultLib)
		require.NoError(t, err)
		h, err := wt.Commit(msg, &git.CommitOptions{Author: &object.Signature{
			Name: "dev", Email: "dev@example.com", When: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}})
		require.NoError(t, err)
		return h.String()
	}
	oldRev := commit("vault")
	fixOwner(t, dir)
	newRev := commit("require owner signature")

	// when
	out, err := run(t, "diff", "--git", dir, oldRev, newRev, "--format", "json")

	// then
	require.NoError(t, err)
	var r diff.Report
	require.NoError(t, json.Unmarshal([]byte(out), &r), out)
	require.Len(t, r.Fixed, 1)
	assert.Equal(t, "V001", r.Findings[r.Fixed[0]].DetectorID)
	assert.Empty(t, r.New)
}
