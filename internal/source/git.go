package source

import (
	"fmt"
	"path"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// LoadRevision reads the Rust files of a commit in the repository that
// contains repoPath. Only files under sub (relative to the repository root)
// are returned, with sub trimmed from their paths.
func LoadRevision(repoPath, rev, sub string) ([]File, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w: open repository %s: %v", ErrUnreadableRoot, repoPath, err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve revision %q: %w", rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree %s: %w", hash, err)
	}
	prefix := strings.Trim(path.Clean("/"+sub), "/")
	var out []File
	err = tree.Files().ForEach(func(f *object.File) error {
		name := f.Name
		if !IsRust(name) || skipped(name) {
			return nil
		}
		if prefix != "" {
			if !strings.HasPrefix(name, prefix+"/") {
				return nil
			}
			name = strings.TrimPrefix(name, prefix+"/")
		}
		body, err := f.Contents()
		if err != nil {
			return fmt.Errorf("read %s@%s: %w", f.Name, rev, err)
		}
		out = append(out, File{Path: name, Content: []byte(body)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	Sort(out)
	return out, nil
}

func skipped(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if skipDirs[seg] {
			return true
		}
	}
	return false
}
