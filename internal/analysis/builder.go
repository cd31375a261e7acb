package analysis

import (
	"context"
	"errors"
	"regexp"
	"runtime"
	"strings"

	"github.com/hashicorp/go-hclog"
	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/cache"
	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/rust"
	"github.com/xab-mack/anchorscan/internal/source"
	"github.com/xab-mack/anchorscan/internal/util"
)

type Options struct {
	// Workers bounds concurrent file parsing. Zero means GOMAXPROCS.
	Workers int
	Logger  hclog.Logger
	// Cache memoizes per-file fragments across builds keyed by content.
	Cache *cache.Memo[*Fragment]
}

// Fragment is everything extracted from a single file before programs are
// stitched together. Fragments are never mutated after extraction so they
// can be shared through the cache.
type Fragment struct {
	File      string
	ProgramID string
	Programs  []*Program
	// Handlers are Context-taking functions outside a #[program] module.
	Handlers []*Instruction
	Contexts []*AccountContext
	States   []*StateAccount
	Errors   []ErrorCode
	// Impls maps a context type to the facts of its methods.
	Impls    map[string]map[string]Body
	Coverage []CoverageMarker
}

var declareIDRe = regexp.MustCompile(`declare_id!\s*\(\s*"([^"]+)"\s*\)`)

// Build parses every file and assembles one ProgramModel. Files that fail
// to parse become coverage markers; the only error Build returns is a
// cancelled context.
func Build(ctx context.Context, files []source.File, opts Options) (*ProgramModel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	sorted := append([]source.File(nil), files...)
	source.Sort(sorted)

	frags := make([]*Fragment, len(sorted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range sorted {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			key := cache.Key(f.Path, string(f.Content))
			if fr, ok := opts.Cache.Load(key); ok {
				frags[i] = fr
				return nil
			}
			fr, err := extractFile(gctx, f)
			if err != nil {
				var perr *rust.ParseError
				if !errors.As(err, &perr) {
					return err
				}
				logger.Warn("skipping unparseable file", "file", f.Path, "line", perr.Line, "reason", perr.Reason)
				fr = &Fragment{File: f.Path, Coverage: []CoverageMarker{{
					Kind:   model.DiagnosticParseError,
					File:   f.Path,
					Line:   perr.Line,
					Reason: perr.Reason,
				}}}
			}
			opts.Cache.Store(key, fr)
			frags[i] = fr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	m := merge(frags)
	logger.Debug("program model built", "files", len(m.Files), "programs", len(m.Programs),
		"contexts", len(m.Contexts), "coverage", len(m.Coverage))
	return m, nil
}

func extractFile(ctx context.Context, f source.File) (*Fragment, error) {
	pf, err := rust.Parse(ctx, f.Path, f.Content)
	if err != nil {
		return nil, err
	}
	defer pf.Close()
	fr := &Fragment{File: f.Path, Impls: map[string]map[string]Body{}}
	if m := declareIDRe.FindSubmatch(f.Content); m != nil {
		fr.ProgramID = string(m[1])
	}
	x := &extractor{src: pf.Src, fr: fr}
	x.items(pf.Root(), nil)
	return fr, nil
}

type extractor struct {
	src []byte
	fr  *Fragment
}

func (x *extractor) text(n *sitter.Node) string { return rust.Text(n, x.src) }

// items walks a list of items, pairing each with the attributes that
// precede it.
func (x *extractor) items(list *sitter.Node, program *Program) {
	var attrs []string
	for _, n := range rust.NamedChildren(list) {
		switch n.Type() {
		case "attribute_item":
			attrs = append(attrs, x.text(n))
			continue
		case "line_comment", "block_comment":
			continue
		case "mod_item":
			body := rust.Field(n, "body")
			if hasAttr(attrs, "program") {
				p := &Program{Name: x.text(rust.Field(n, "name")), File: x.fr.File, Line: rust.Line(n)}
				x.fr.Programs = append(x.fr.Programs, p)
				x.items(body, p)
			} else if body != nil {
				x.items(body, program)
			}
		case "function_item":
			x.function(n, attrs, program)
		case "struct_item":
			switch {
			case deriveAccounts(attrs):
				x.context(n, attrs)
			case hasAttr(attrs, "account"):
				x.state(n, attrs)
			}
		case "enum_item":
			if hasAttr(attrs, "error_code") {
				x.errorCode(n)
			}
		case "impl_item":
			x.impl(n)
		case "ERROR":
			x.fr.Coverage = append(x.fr.Coverage, CoverageMarker{
				Kind:   model.DiagnosticModelError,
				File:   x.fr.File,
				Line:   rust.Line(n),
				Reason: "unparseable region skipped",
			})
		}
		attrs = nil
	}
}

func (x *extractor) function(n *sitter.Node, attrs []string, program *Program) {
	params, ctxType := x.params(rust.Field(n, "parameters"))
	if ctxType == "" {
		return
	}
	in := &Instruction{
		Name:       x.text(rust.Field(n, "name")),
		File:       x.fr.File,
		Line:       rust.Line(n),
		Context:    ctxType,
		Attributes: attrs,
	}
	for _, p := range params {
		if !strings.HasPrefix(p.Type, "Context") {
			in.Params = append(in.Params, p)
		}
	}
	body := rust.Field(n, "body")
	in.Body = extractBody(body, x.src, params, false)
	in.Body.stamp(x.fr.File)
	if n.HasError() {
		in.Degraded = true
		line := rust.Line(n)
		if e := rust.FirstError(n); e != nil {
			line = rust.Line(e)
		}
		x.fr.Coverage = append(x.fr.Coverage, CoverageMarker{
			Kind:        model.DiagnosticModelError,
			File:        x.fr.File,
			Line:        line,
			Instruction: in.Name,
			Reason:      "instruction body has syntax errors",
		})
	}
	if program != nil {
		in.Program = program.Name
		program.Instructions = append(program.Instructions, in)
		return
	}
	x.fr.Handlers = append(x.fr.Handlers, in)
}

// params returns the parameters of a function and the account context type
// of its Context<T> parameter, if any.
func (x *extractor) params(list *sitter.Node) ([]Param, string) {
	var out []Param
	ctxType := ""
	for _, p := range rust.NamedChildren(list) {
		if p.Type() != "parameter" {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(x.text(rust.Field(p, "pattern")), "mut "))
		typ := util.NormalizeSignature(x.text(rust.Field(p, "type")))
		if ctxType == "" {
			if c := contextTypeName(typ); c != "" {
				ctxType = c
				typ = "Context<" + c + ">"
			}
		}
		out = append(out, Param{Name: name, Type: typ})
	}
	return out, ctxType
}

// contextTypeName extracts Deposit from Context<'_, '_, '_, 'info, Deposit<'info>>.
func contextTypeName(typ string) string {
	t := strings.TrimPrefix(typ, "&")
	t = strings.TrimPrefix(t, "mut")
	if i := strings.LastIndex(t, "::Context<"); i >= 0 {
		t = t[i+2:]
	}
	if !strings.HasPrefix(t, "Context<") || !strings.HasSuffix(t, ">") {
		return ""
	}
	args, err := anchor.SplitTopLevel(t[len("Context<"):len(t)-1], ',')
	if err != nil {
		return ""
	}
	for i := len(args) - 1; i >= 0; i-- {
		a := strings.TrimSpace(args[i])
		if a == "" || strings.HasPrefix(a, "'") {
			continue
		}
		if j := strings.IndexByte(a, '<'); j >= 0 {
			a = a[:j]
		}
		return lastSegment(a)
	}
	return ""
}

func (x *extractor) context(n *sitter.Node, attrs []string) {
	c := &AccountContext{
		Name: x.text(rust.Field(n, "name")),
		File: x.fr.File,
		Line: rust.Line(n),
	}
	for _, a := range attrs {
		if name, args, ok := anchor.AttributeArgs(a); ok && name == "instruction" {
			c.Args = parseArgList(args)
		}
	}
	argSet := c.ArgSet()
	var attrsF, docs []string
	for _, m := range rust.NamedChildren(rust.Field(n, "body")) {
		switch m.Type() {
		case "attribute_item":
			attrsF = append(attrsF, x.text(m))
			continue
		case "line_comment":
			docs = append(docs, x.text(m))
			continue
		case "field_declaration":
			f := x.field(c, m, attrsF, docs, argSet)
			c.Fields = append(c.Fields, f)
		case "ERROR":
			c.Degraded = true
		}
		attrsF, docs = nil, nil
	}
	if n.HasError() {
		c.Degraded = true
	}
	if c.Degraded {
		x.fr.Coverage = append(x.fr.Coverage, CoverageMarker{
			Kind:    model.DiagnosticModelError,
			File:    x.fr.File,
			Line:    c.Line,
			Context: c.Name,
			Reason:  "account context could not be fully parsed",
		})
	}
	x.fr.Contexts = append(x.fr.Contexts, c)
}

func (x *extractor) field(c *AccountContext, m *sitter.Node, attrs, docs []string, args map[string]bool) *AccountField {
	f := &AccountField{
		Context: c.Name,
		Name:    x.text(rust.Field(m, "name")),
		Type:    anchor.ClassifyType(x.text(rust.Field(m, "type"))),
		Doc:     docs,
		Line:    rust.Line(m),
	}
	for _, a := range attrs {
		cs, ok, err := anchor.ParseAttribute(a)
		if !ok {
			continue
		}
		f.Constraints = append(f.Constraints, cs...)
		if err != nil {
			c.Degraded = true
			x.fr.Coverage = append(x.fr.Coverage, CoverageMarker{
				Kind:    model.DiagnosticModelError,
				File:    x.fr.File,
				Line:    f.Line,
				Context: c.Name,
				Reason:  "field " + f.Name + ": " + err.Error(),
			})
		}
	}
	if m.HasError() {
		c.Degraded = true
	}
	if seeds, ok := f.Constraints.Get(anchor.ConstraintSeeds); ok {
		d := &PdaDerivation{
			Context:   c.Name,
			Field:     f.Name,
			Bump:      BumpNone,
			InnerType: f.Type.Inner,
			Init:      f.Initializes(),
			Source:    DerivedByConstraint,
			File:      x.fr.File,
			Line:      f.Line,
			Text:      util.NormalizeSignature(seeds.Raw),
		}
		d.Seeds, d.SeedsKnown = anchor.ParseSeeds(seeds.Value, args)
		if b, ok := f.Constraints.Get(anchor.ConstraintBump); ok {
			d.BumpExpr = b.Value
			d.Bump = constraintBump(b.Value, args)
		}
		f.Pda = d
	}
	return f
}

func constraintBump(expr string, args map[string]bool) BumpState {
	e := util.NormalizeSignature(expr)
	switch {
	case e == "":
		return BumpCanonical
	case args[rootIdent(e)]:
		return BumpUserSupplied
	case strings.Contains(e, ".") || strings.Contains(e, "bumps"):
		return BumpStored
	}
	return BumpUnknown
}

func (x *extractor) state(n *sitter.Node, attrs []string) {
	s := &StateAccount{
		Name: x.text(rust.Field(n, "name")),
		File: x.fr.File,
		Line: rust.Line(n),
	}
	for _, a := range attrs {
		if name, args, _ := anchor.AttributeArgs(a); name == "account" && strings.Contains(args, "zero_copy") {
			s.ZeroCopy = true
		}
		if name, _, _ := anchor.AttributeArgs(a); name == "zero_copy" {
			s.ZeroCopy = true
		}
	}
	for _, m := range rust.NamedChildren(rust.Field(n, "body")) {
		if m.Type() == "field_declaration" {
			s.Fields = append(s.Fields, Param{
				Name: x.text(rust.Field(m, "name")),
				Type: util.NormalizeSignature(x.text(rust.Field(m, "type"))),
			})
		}
	}
	x.fr.States = append(x.fr.States, s)
}

func (x *extractor) errorCode(n *sitter.Node) {
	ec := ErrorCode{Name: x.text(rust.Field(n, "name"))}
	for _, v := range rust.NamedChildren(rust.Field(n, "body")) {
		if v.Type() == "enum_variant" {
			ec.Variants = append(ec.Variants, x.text(rust.Field(v, "name")))
		}
	}
	x.fr.Errors = append(x.fr.Errors, ec)
}

// impl records methods of `impl<'info> Deposit<'info>` blocks so their facts
// can be folded into the instructions that call them.
func (x *extractor) impl(n *sitter.Node) {
	typ := x.text(rust.Field(n, "type"))
	if i := strings.IndexByte(typ, '<'); i >= 0 {
		typ = typ[:i]
	}
	typ = lastSegment(strings.TrimSpace(typ))
	for _, m := range rust.NamedChildren(rust.Field(n, "body")) {
		if m.Type() != "function_item" {
			continue
		}
		params, _ := x.params(rust.Field(m, "parameters"))
		methods := x.fr.Impls[typ]
		if methods == nil {
			methods = map[string]Body{}
			x.fr.Impls[typ] = methods
		}
		b := extractBody(rust.Field(m, "body"), x.src, params, true)
		b.stamp(x.fr.File)
		methods[x.text(rust.Field(m, "name"))] = b
	}
}

func parseArgList(args string) []Param {
	parts, err := anchor.SplitTopLevel(args, ',')
	if err != nil {
		return nil
	}
	var out []Param
	for _, p := range parts {
		name, typ, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		out = append(out, Param{Name: strings.TrimSpace(name), Type: util.NormalizeSignature(typ)})
	}
	return out
}

func hasAttr(attrs []string, name string) bool {
	for _, a := range attrs {
		if n, _, _ := anchor.AttributeArgs(a); n == name {
			return true
		}
	}
	return false
}

func deriveAccounts(attrs []string) bool {
	for _, a := range attrs {
		name, args, ok := anchor.AttributeArgs(a)
		if !ok || name != "derive" {
			continue
		}
		parts, _ := anchor.SplitTopLevel(args, ',')
		for _, p := range parts {
			if lastSegment(strings.TrimSpace(p)) == "Accounts" {
				return true
			}
		}
	}
	return false
}
