package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
)

func write(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func TestLoadDir(t *testing.T) {
	// given
	root := t.TempDir()
	write(t, root, "programs/vault/src/lib.rs", "mod a;")
	write(t, root, "programs/vault/src/a.rs", "fn a() {}")
	write(t, root, "target/debug/build.rs", "fn skipped() {}")
	write(t, root, "tests/vault.ts", "it()")

	// when
	files, err := LoadDir(root)

	// then
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "programs/vault/src/a.rs", files[0].Path)
	assert.Equal(t, "programs/vault/src/lib.rs", files[1].Path)
}

func TestLoadDirReportsUnreadableFiles(t *testing.T) {
	// given
	root := t.TempDir()
	write(t, root, "programs/vault/src/lib.rs", "mod a;")
	require.NoError(t, os.Symlink(filepath.Join(root, "gone.rs"), filepath.Join(root, "programs/vault/src/a.rs")))

	// when
	files, err := LoadDir(root)

	// then
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "programs/vault/src/a.rs", files[0].Path)
	assert.ErrorIs(t, files[0].Err, os.ErrNotExist)
	assert.Empty(t, files[0].Content)
	assert.NoError(t, files[1].Err)
}

func TestLoadDirMissingRoot(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))

	assert.ErrorIs(t, err, ErrUnreadableRoot)
}

func TestFromArchive(t *testing.T) {
	ar := txtar.Parse([]byte(`-- b/lib.rs --
fn b() {}
-- a/lib.rs --
fn a() {}
-- Anchor.toml --
[programs]
`))

	files := FromArchive(ar)

	require.Len(t, files, 2)
	assert.Equal(t, "a/lib.rs", files[0].Path)
	assert.Equal(t, "fn a() {}\n", string(files[0].Content))
}

func TestLoadRevision(t *testing.T) {
	// given
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	write(t, root, "programs/vault/src/lib.rs", "fn v1() {}")
	_, err = wt.Add("programs/vault/src/lib.rs")
	require.NoError(t, err)
	sig := &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Unix(1700000000, 0)}
	_, err = wt.Commit("v1", &git.CommitOptions{Author: sig})
	require.NoError(t, err)
	write(t, root, "programs/vault/src/lib.rs", "fn v2() {}")

	// when
	files, err := LoadRevision(root, "HEAD", "programs")

	// then
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "vault/src/lib.rs", files[0].Path)
	assert.Equal(t, "fn v1() {}", string(files[0].Content))
}
