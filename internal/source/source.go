// Package source loads the Rust files of a program workspace from a
// directory, a txtar archive or a git revision.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/tools/txtar"
)

// ErrUnreadableRoot is returned when the scan root cannot be read at all.
var ErrUnreadableRoot = errors.New("unreadable source root")

// File is one source file. Path is slash separated and relative to the
// scan root.
type File struct {
	Path    string
	Content []byte
	// Err is set for a file or directory under the root that could not be
	// read. Content is then empty.
	Err error
}

var skipDirs = map[string]bool{
	"target": true, ".git": true, "node_modules": true, ".anchor": true, "test-ledger": true,
}

// IsRust reports whether p names a Rust source file.
func IsRust(p string) bool { return strings.HasSuffix(p, ".rs") }

// LoadDir collects the Rust files under root sorted by path. A root that is
// itself a file is loaded alone. Entries below the root that cannot be read
// are returned with Err set.
func LoadDir(root string) ([]File, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableRoot, err)
	}
	if !info.IsDir() {
		b, err := os.ReadFile(root)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableRoot, err)
		}
		return []File{{Path: filepath.ToSlash(filepath.Base(root)), Content: b}}, nil
	}
	var out []File
	rel := func(p string) string {
		r, err := filepath.Rel(root, p)
		if err != nil {
			r = p
		}
		return filepath.ToSlash(r)
	}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			out = append(out, File{Path: rel(p), Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsRust(d.Name()) {
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			out = append(out, File{Path: rel(p), Err: err})
			return nil
		}
		out = append(out, File{Path: rel(p), Content: b})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableRoot, err)
	}
	Sort(out)
	return out, nil
}

// LoadArchive reads the Rust files of a txtar archive.
func LoadArchive(file string) ([]File, error) {
	ar, err := txtar.ParseFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableRoot, err)
	}
	return FromArchive(ar), nil
}

// FromArchive extracts the Rust files of an already parsed archive.
func FromArchive(ar *txtar.Archive) []File {
	var out []File
	for _, f := range ar.Files {
		if !IsRust(f.Name) {
			continue
		}
		out = append(out, File{Path: path.Clean(f.Name), Content: f.Data})
	}
	Sort(out)
	return out
}

func Sort(files []File) {
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

// Load picks the loader for a scan target: a txtar archive by extension,
// otherwise a directory or single file.
func Load(target string) ([]File, error) {
	if strings.HasSuffix(target, ".txtar") {
		return LoadArchive(target)
	}
	return LoadDir(target)
}
