package analysis

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/util"
)

var genericHandlerNames = map[string]bool{
	"handler": true, "process": true, "execute": true, "run": true, "handle": true,
}

var accessControlRe = regexp.MustCompile(`ctx\.accounts\.([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// merge stitches per-file fragments into one model. It works on copies so
// cached fragments stay untouched, and depends only on fragment order,
// which follows sorted file paths.
func merge(frags []*Fragment) *ProgramModel {
	m := &ProgramModel{}
	ids := map[string]string{}
	for _, fr := range frags {
		if fr == nil {
			continue
		}
		m.Files = append(m.Files, fr.File)
		if fr.ProgramID != "" {
			if _, ok := ids[crateRoot(fr.File)]; !ok {
				ids[crateRoot(fr.File)] = fr.ProgramID
			}
		}
		for _, p := range fr.Programs {
			m.Programs = append(m.Programs, cloneProgram(p))
		}
	}
	for _, p := range m.Programs {
		p.ID = ids[crateRoot(p.File)]
	}
	declared := len(m.Programs)

	owner := func(file string) *Program {
		if p := ownerOf(m.Programs[:declared], file); p != nil {
			return p
		}
		name := syntheticName(file)
		if p := m.Program(name); p != nil {
			return p
		}
		p := &Program{Name: name, File: file, Synthetic: true, ID: ids[crateRoot(file)]}
		m.Programs = append(m.Programs, p)
		return p
	}

	impls := map[string]map[string]map[string]Body{}
	var handlers []*Instruction
	handlerFile := map[*Instruction]string{}
	for _, fr := range frags {
		if fr == nil {
			continue
		}
		hasEntities := len(fr.Contexts) > 0 || len(fr.States) > 0 || len(fr.Errors) > 0 ||
			len(fr.Handlers) > 0 || len(fr.Impls) > 0
		var p *Program
		if hasEntities {
			p = owner(fr.File)
		}
		for _, c := range fr.Contexts {
			cc := cloneContext(c)
			cc.Program = p.Name
			for _, f := range cc.Fields {
				if f.Pda != nil {
					f.Pda.Program = p.Name
					f.Pda.Signature = fieldPdaSignature(f.Pda)
				}
			}
			m.Contexts = append(m.Contexts, cc)
		}
		for _, s := range fr.States {
			sc := *s
			sc.Program = p.Name
			sc.Fields = append([]Param(nil), s.Fields...)
			m.States = append(m.States, &sc)
		}
		for _, e := range fr.Errors {
			e.Program = p.Name
			e.Variants = append([]string(nil), e.Variants...)
			m.Errors = append(m.Errors, e)
		}
		for typ, methods := range fr.Impls {
			byCtx := impls[p.Name]
			if byCtx == nil {
				byCtx = map[string]map[string]Body{}
				impls[p.Name] = byCtx
			}
			if byCtx[typ] == nil {
				byCtx[typ] = map[string]Body{}
			}
			for name, b := range methods {
				byCtx[typ][name] = b
			}
		}
		for _, h := range fr.Handlers {
			hc := cloneInstruction(h)
			hc.Program = p.Name
			handlers = append(handlers, hc)
			handlerFile[hc] = fr.File
		}
		for _, c := range fr.Coverage {
			if c.Program == "" {
				if p != nil {
					c.Program = p.Name
				} else if q := ownerOf(m.Programs[:declared], fr.File); q != nil {
					c.Program = q.Name
				}
			}
			m.Coverage = append(m.Coverage, c)
		}
	}

	renamed := map[string]string{}
	for _, h := range handlers {
		p := m.Program(h.Program)
		hosts := attachHandler(p, h)
		if len(hosts) == 0 {
			name := h.Name
			if genericHandlerNames[name] || p.Instruction(name) != nil {
				name = strings.TrimSuffix(path.Base(handlerFile[h]), ".rs")
			}
			renamed[handlerFile[h]+"|"+h.Name] = name
			h.Name = name
			p.Instructions = append(p.Instructions, h)
			continue
		}
		renamed[handlerFile[h]+"|"+h.Name] = hosts[0]
	}
	for i, c := range m.Coverage {
		if c.Instruction == "" {
			continue
		}
		if n, ok := renamed[c.File+"|"+c.Instruction]; ok {
			m.Coverage[i].Instruction = n
		}
	}

	for _, p := range m.Programs {
		for _, in := range p.Instructions {
			foldImpls(in, impls[p.Name][in.Context])
			finalize(in)
		}
	}
	sortCoverage(m.Coverage)
	return m
}

// attachHandler splices a free handler into the program instructions that
// delegate to it and returns their names.
func attachHandler(p *Program, h *Instruction) []string {
	var hosts []string
	for _, in := range p.Instructions {
		if in.Context != h.Context {
			continue
		}
		for _, call := range in.Body.Calls {
			if call.Name != h.Name || call.Receiver != "" || len(call.Args) == 0 || !strings.HasPrefix(call.Args[0], "ctx") {
				continue
			}
			splice(in, h.Body, call.Order)
			in.Degraded = in.Degraded || h.Degraded
			hosts = append(hosts, in.Name)
			break
		}
	}
	if len(hosts) > 0 {
		return hosts
	}
	var users []*Instruction
	for _, in := range p.Instructions {
		if in.Context == h.Context {
			users = append(users, in)
		}
	}
	if len(users) == 1 {
		in := users[0]
		splice(in, h.Body, maxOrder(in.Body))
		in.Degraded = in.Degraded || h.Degraded
		return []string{in.Name}
	}
	return nil
}

// foldImpls splices the facts of `ctx.accounts.method()` calls into the
// instruction right after each call, and access_control checks before the
// first statement.
func foldImpls(in *Instruction, methods map[string]Body) {
	if len(methods) == 0 {
		return
	}
	for _, attr := range in.Attributes {
		if name, args, ok := anchor.AttributeArgs(attr); ok && name == "access_control" {
			for _, mm := range accessControlRe.FindAllStringSubmatch(args, -1) {
				if b, ok := methods[mm[1]]; ok {
					splice(in, b, -orderScale)
				}
			}
		}
	}
	calls := append([]CallSite(nil), in.Body.Calls...)
	for _, call := range calls {
		if call.Receiver != "ctx.accounts" {
			continue
		}
		if b, ok := methods[call.Name]; ok {
			splice(in, b, call.Order)
		}
	}
}

// splice inserts the facts of b after position at, keeping their relative order.
func splice(in *Instruction, b Body, at int) {
	var orders []int
	collect := func(o int) { orders = append(orders, o) }
	for _, x := range b.Arithmetic {
		collect(x.Order)
	}
	for _, x := range b.Cpis {
		collect(x.Order)
	}
	for _, x := range b.Guards {
		collect(x.Order)
	}
	for _, x := range b.Calls {
		collect(x.Order)
	}
	for _, x := range b.Writes {
		collect(x.Order)
	}
	for _, x := range b.Loops {
		collect(x.Order)
	}
	for _, x := range b.Derivations {
		collect(x.Order)
	}
	sort.Ints(orders)
	rank := map[int]int{}
	for _, o := range orders {
		if _, ok := rank[o]; !ok {
			rank[o] = len(rank)
		}
	}
	shift := func(o int) int {
		r := rank[o]
		if r >= orderScale-1 {
			r = orderScale - 2
		}
		return at + 1 + r
	}
	dst := &in.Body
	for _, x := range b.Arithmetic {
		x.Order = shift(x.Order)
		dst.Arithmetic = append(dst.Arithmetic, x)
	}
	for _, x := range b.Cpis {
		x.Order = shift(x.Order)
		x.Accounts = append([]string(nil), x.Accounts...)
		dst.Cpis = append(dst.Cpis, x)
	}
	for _, x := range b.Guards {
		x.Order = shift(x.Order)
		dst.Guards = append(dst.Guards, x)
	}
	for _, x := range b.Calls {
		x.Order = shift(x.Order)
		dst.Calls = append(dst.Calls, x)
	}
	for _, x := range b.Writes {
		x.Order = shift(x.Order)
		dst.Writes = append(dst.Writes, x)
	}
	for _, x := range b.Loops {
		x.Order = shift(x.Order)
		dst.Loops = append(dst.Loops, x)
	}
	for _, x := range b.Derivations {
		x.Order = shift(x.Order)
		dst.Derivations = append(dst.Derivations, x)
	}
	dst.AccountRefs = union(dst.AccountRefs, b.AccountRefs)
	dst.DataBorrows = union(dst.DataBorrows, b.DataBorrows)
	dst.Idents = union(dst.Idents, b.Idents)
}

// finalize orders facts and assigns per-instruction signatures. Repeated
// identical statements get ordinal suffixes in source order.
func finalize(in *Instruction) {
	b := &in.Body
	sort.SliceStable(b.Arithmetic, func(i, j int) bool { return b.Arithmetic[i].Order < b.Arithmetic[j].Order })
	sort.SliceStable(b.Cpis, func(i, j int) bool { return b.Cpis[i].Order < b.Cpis[j].Order })
	sort.SliceStable(b.Guards, func(i, j int) bool { return b.Guards[i].Order < b.Guards[j].Order })
	sort.SliceStable(b.Calls, func(i, j int) bool { return b.Calls[i].Order < b.Calls[j].Order })
	sort.SliceStable(b.Writes, func(i, j int) bool { return b.Writes[i].Order < b.Writes[j].Order })
	sort.SliceStable(b.Loops, func(i, j int) bool { return b.Loops[i].Order < b.Loops[j].Order })
	sort.SliceStable(b.Derivations, func(i, j int) bool { return b.Derivations[i].Order < b.Derivations[j].Order })

	b.stamp(in.File)
	ords := map[string]util.Ordinals{}
	next := func(kind, text string) string {
		o := ords[kind]
		if o == nil {
			o = util.Ordinals{}
			ords[kind] = o
		}
		return o.Next(text)
	}
	for i := range b.Arithmetic {
		b.Arithmetic[i].Signature = next("arithmetic", b.Arithmetic[i].Text)
	}
	for i := range b.Cpis {
		b.Cpis[i].Signature = next("cpi", b.Cpis[i].Text)
	}
	for i := range b.Calls {
		b.Calls[i].Signature = next("call", b.Calls[i].Text)
	}
	for i := range b.Writes {
		b.Writes[i].Signature = next("write", b.Writes[i].Text)
	}
	for i := range b.Loops {
		b.Loops[i].Signature = next("loop", b.Loops[i].Text)
	}
	for i := range b.Derivations {
		d := &b.Derivations[i]
		d.Program = in.Program
		d.Instruction = in.Name
		d.Signature = next("pda", d.Text)
	}
}

func fieldPdaSignature(d *PdaDerivation) string {
	seeds := d.Text
	if d.SeedsKnown {
		seeds = anchor.SeedSignature(d.Seeds)
	}
	return d.Context + "." + d.Field + ":" + seeds
}

// ownerOf picks the declared program that owns entities of file: the
// program in the same file, else the one whose crate contains the file,
// else the only program when there is exactly one.
func ownerOf(programs []*Program, file string) *Program {
	for _, p := range programs {
		if p.File == file {
			return p
		}
	}
	var best *Program
	bestLen := -1
	for _, p := range programs {
		root := crateRoot(p.File)
		if (root == "" || strings.HasPrefix(file, root+"/")) && len(root) > bestLen {
			best, bestLen = p, len(root)
		}
	}
	if best != nil {
		return best
	}
	if len(programs) == 1 {
		return programs[0]
	}
	return nil
}

// crateRoot is the directory holding a file's src/ tree, or the file's
// directory when it has none.
func crateRoot(file string) string {
	if i := strings.LastIndex(file, "/src/"); i >= 0 {
		return file[:i]
	}
	if strings.HasPrefix(file, "src/") {
		return ""
	}
	dir := path.Dir(file)
	if dir == "." {
		return ""
	}
	return dir
}

func syntheticName(file string) string {
	if root := crateRoot(file); root != "" {
		return strings.ReplaceAll(path.Base(root), "-", "_")
	}
	return strings.TrimSuffix(path.Base(file), ".rs")
}

func maxOrder(b Body) int {
	max := 0
	bump := func(o int) {
		if o > max {
			max = o
		}
	}
	for _, x := range b.Arithmetic {
		bump(x.Order)
	}
	for _, x := range b.Cpis {
		bump(x.Order)
	}
	for _, x := range b.Guards {
		bump(x.Order)
	}
	for _, x := range b.Calls {
		bump(x.Order)
	}
	for _, x := range b.Writes {
		bump(x.Order)
	}
	for _, x := range b.Loops {
		bump(x.Order)
	}
	for _, x := range b.Derivations {
		bump(x.Order)
	}
	return max + orderScale
}

func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	m := map[string]bool{}
	for _, s := range a {
		m[s] = true
	}
	for _, s := range b {
		m[s] = true
	}
	return sortedKeys(m)
}

func cloneProgram(p *Program) *Program {
	c := *p
	c.Instructions = make([]*Instruction, len(p.Instructions))
	for i, in := range p.Instructions {
		c.Instructions[i] = cloneInstruction(in)
	}
	return &c
}

func cloneInstruction(in *Instruction) *Instruction {
	c := *in
	c.Params = append([]Param(nil), in.Params...)
	c.Attributes = append([]string(nil), in.Attributes...)
	c.Body = cloneBody(in.Body)
	return &c
}

func cloneBody(b Body) Body {
	return Body{
		Arithmetic:  append([]ArithmeticSite(nil), b.Arithmetic...),
		Cpis:        append([]CpiInvocation(nil), b.Cpis...),
		Guards:      append([]Guard(nil), b.Guards...),
		Calls:       append([]CallSite(nil), b.Calls...),
		Writes:      append([]StateWrite(nil), b.Writes...),
		Loops:       append([]LoopSite(nil), b.Loops...),
		Derivations: append([]PdaDerivation(nil), b.Derivations...),
		AccountRefs: append([]string(nil), b.AccountRefs...),
		DataBorrows: append([]string(nil), b.DataBorrows...),
		Idents:      append([]string(nil), b.Idents...),
	}
}

func cloneContext(c *AccountContext) *AccountContext {
	cc := *c
	cc.Args = append([]Param(nil), c.Args...)
	cc.Fields = make([]*AccountField, len(c.Fields))
	for i, f := range c.Fields {
		fc := *f
		fc.Constraints = append(anchor.Constraints(nil), f.Constraints...)
		if f.Pda != nil {
			d := *f.Pda
			d.Seeds = append([]anchor.Seed(nil), f.Pda.Seeds...)
			fc.Pda = &d
		}
		cc.Fields[i] = &fc
	}
	return &cc
}
