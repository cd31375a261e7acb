// Package rust wraps the tree-sitter Rust grammar. A parsed File owns a
// cgo-backed tree and must be closed once facts have been copied out of it.
package rust

import (
	"context"
	"fmt"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	tsrust "github.com/smacker/go-tree-sitter/rust"
)

// ParseError reports a file that could not be parsed into any usable item.
type ParseError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

type File struct {
	Path string
	Src  []byte
	tree *sitter.Tree
}

// Parse builds a syntax tree for src. Files whose syntax errors leave no
// recoverable top-level item fail with *ParseError; partially broken files
// parse and report their errors through HasError on the affected items.
func Parse(ctx context.Context, path string, src []byte) (*File, error) {
	if !utf8.Valid(src) {
		return nil, &ParseError{Path: path, Reason: "source is not valid UTF-8"}
	}
	// parsers are not safe for concurrent use, so each call gets its own
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(tsrust.GetLanguage())

	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}
	root := tree.RootNode()
	if root.HasError() && !recoverable(root) {
		line := 0
		if e := FirstError(root); e != nil {
			line = Line(e)
		}
		tree.Close()
		return nil, &ParseError{Path: path, Line: line, Reason: "no recoverable item"}
	}
	return &File{Path: path, Src: src, tree: tree}, nil
}

func (f *File) Root() *sitter.Node { return f.tree.RootNode() }

func (f *File) Text(n *sitter.Node) string { return Text(n, f.Src) }

func (f *File) Close() {
	if f.tree != nil {
		f.tree.Close()
		f.tree = nil
	}
}

var itemKinds = map[string]bool{
	"mod_item":         true,
	"struct_item":      true,
	"function_item":    true,
	"enum_item":        true,
	"impl_item":        true,
	"use_declaration":  true,
	"const_item":       true,
	"static_item":      true,
	"macro_invocation": true,
	"attribute_item":   true,
}

func recoverable(root *sitter.Node) bool {
	if root.Type() == "ERROR" {
		return false
	}
	for _, c := range NamedChildren(root) {
		if itemKinds[c.Type()] {
			return true
		}
	}
	return false
}
