package analysis

import (
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/rust"
	"github.com/xab-mack/anchorscan/internal/util"
)

// orderScale spaces fact orders so facts from called helpers can be
// spliced in right after the call that reaches them.
const orderScale = 1024

var (
	ctxAccountRe  = regexp.MustCompile(`ctx\.accounts\.([A-Za-z_][A-Za-z0-9_]*)`)
	selfAccountRe = regexp.MustCompile(`self\.([A-Za-z_][A-Za-z0-9_]*)`)
)

var arithOps = map[string]ArithOp{
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "%": OpRem,
	"+=": OpAdd, "-=": OpSub, "*=": OpMul, "/=": OpDiv, "%=": OpRem,
}

var methodSemantics = map[string]Semantics{
	"checked":     Checked,
	"saturating":  Saturating,
	"wrapping":    Wrapping,
	"overflowing": Overflowing,
}

var methodOps = map[string]ArithOp{
	"add": OpAdd, "sub": OpSub, "mul": OpMul, "div": OpDiv, "rem": OpRem, "pow": OpMul,
}

var guardMacros = map[string]GuardKind{
	"require":          GuardRequire,
	"require_eq":       GuardRequire,
	"require_neq":      GuardRequire,
	"require_keys_eq":  GuardRequire,
	"require_keys_neq": GuardRequire,
	"require_gt":       GuardRequire,
	"require_gte":      GuardRequire,
	"assert":           GuardAssert,
	"assert_eq":        GuardAssert,
	"assert_ne":        GuardAssert,
	"assert_keys_eq":   GuardAssert,
	"assert_keys_neq":  GuardAssert,
}

// cpiNamespaces are module paths whose helpers perform a CPI through a
// CpiContext argument.
var cpiNamespaces = []string{
	"token", "token_interface", "token_2022", "associated_token", "system_program", "anchor_spl",
	"spl_token", "metadata", "mpl_token_metadata",
}

var writeMethods = map[string]bool{
	"set_inner": true, "exit": true, "serialize": true, "try_serialize": true, "sub_lamports": true,
	"add_lamports": true, "realloc": true, "assign": true, "close": true,
}

var borrowMethods = map[string]bool{
	"try_borrow_data": true, "try_borrow_mut_data": true, "borrow": true, "borrow_mut": true,
	"deserialize": true, "try_deserialize": true, "try_deserialize_unchecked": true, "try_from_slice": true,
	"unpack": true, "unpack_from_slice": true,
}

// walker turns one function body into Body facts.
type walker struct {
	src       []byte
	scope     *scope
	body      Body
	loop      int
	cpiLocals map[string]int
	ixLocals  map[string]*sitter.Node
	refs      map[string]bool
	borrows   map[string]bool
}

func extractBody(block *sitter.Node, src []byte, params []Param, selfAccounts bool) Body {
	w := &walker{
		src:       src,
		scope:     newScope(params, selfAccounts),
		cpiLocals: map[string]int{},
		ixLocals:  map[string]*sitter.Node{},
		refs:      map[string]bool{},
		borrows:   map[string]bool{},
	}
	if block == nil {
		return Body{}
	}
	w.visit(block)
	text := rust.Text(block, src)
	for _, m := range ctxAccountRe.FindAllStringSubmatch(text, -1) {
		w.refs[m[1]] = true
	}
	if selfAccounts {
		for _, m := range selfAccountRe.FindAllStringSubmatch(text, -1) {
			w.refs[m[1]] = true
		}
	}
	for _, target := range w.scope.aliases {
		w.refs[target] = true
	}
	w.body.AccountRefs = sortedKeys(w.refs)
	w.body.DataBorrows = sortedKeys(w.borrows)
	w.body.Idents = bodyIdents(text)
	return w.body
}

func (w *walker) text(n *sitter.Node) string { return rust.Text(n, w.src) }

func order(n *sitter.Node) int { return int(n.StartByte()) * orderScale }

func (w *walker) visit(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "function_item", "impl_item", "mod_item":
		return
	case "let_declaration":
		w.letBinding(n)
	case "binary_expression":
		w.binary(n)
	case "compound_assignment_expr":
		w.compound(n)
	case "assignment_expression":
		w.assignment(n)
	case "call_expression":
		w.call(n)
	case "macro_invocation":
		w.macro(n)
		return
	case "if_expression":
		w.branch(n)
	case "for_expression", "while_expression", "loop_expression":
		w.loopSite(n)
		w.loop++
		for _, c := range rust.Children(n) {
			w.visit(c)
		}
		w.loop--
		return
	}
	for _, c := range rust.Children(n) {
		w.visit(c)
	}
}

func (w *walker) letBinding(n *sitter.Node) {
	pat := rust.Field(n, "pattern")
	value := rust.Field(n, "value")
	if pat == nil || value == nil {
		return
	}
	name := w.text(pat)
	name = strings.TrimSpace(strings.TrimPrefix(name, "mut "))
	if !isIdentifier(name) {
		return
	}
	valText := w.text(value)
	if acct := w.directAccount(valText); acct != "" {
		w.scope.aliases[name] = acct
	}
	w.scope.locals[name] = w.scope.provenance(value, w.src)
	if w.isDivision(value) {
		w.scope.divLocals[name] = true
	}
	switch unwrapRef(value).Type() {
	case "struct_expression", "call_expression":
		w.ixLocals[name] = unwrapRef(value)
	}
}

// directAccount resolves `&mut ctx.accounts.x` style bindings to x.
func (w *walker) directAccount(text string) string {
	t := compact(text)
	t = strings.TrimPrefix(t, "&")
	t = strings.TrimPrefix(t, "mut ")
	t = strings.TrimSuffix(t, ".to_account_info()")
	t = strings.TrimSuffix(t, ".as_ref()")
	if m := ctxAccountRe.FindStringSubmatch(t); m != nil && m[0] == t {
		return m[1]
	}
	if w.scope.selfAccounts {
		if m := selfAccountRe.FindStringSubmatch(t); m != nil && m[0] == t {
			return m[1]
		}
	}
	return ""
}

// accountOf resolves the account (and data field) an expression refers to.
func (w *walker) accountOf(text string) (account, field string) {
	t := compact(text)
	rest := ""
	if m := ctxAccountRe.FindStringSubmatchIndex(t); m != nil {
		account, rest = t[m[2]:m[3]], t[m[1]:]
	} else if w.scope.selfAccounts {
		if m := selfAccountRe.FindStringSubmatchIndex(t); m != nil {
			account, rest = t[m[2]:m[3]], t[m[1]:]
		}
	}
	if account == "" {
		root := rootIdent(t)
		target, ok := w.scope.aliases[root]
		if !ok {
			return "", ""
		}
		account = target
		if i := strings.Index(t, root); i >= 0 {
			rest = t[i+len(root):]
		}
	}
	if strings.HasPrefix(rest, ".") {
		seg := identRe.FindString(rest[1:])
		if seg != "" && !strings.HasPrefix(rest[1+len(seg):], "(") {
			field = seg
		}
	}
	return account, field
}

func (w *walker) binary(n *sitter.Node) {
	opNode := rust.Field(n, "operator")
	if opNode == nil {
		return
	}
	op, ok := arithOps[opNode.Type()]
	if !ok {
		return
	}
	left, right := rust.Field(n, "left"), rust.Field(n, "right")
	site := ArithmeticSite{
		Op:        op,
		Left:      w.scope.operand(left, w.src),
		Right:     w.scope.operand(right, w.src),
		Semantics: Unchecked,
		Lamports:  mentionsLamports(w.text(n)),
		InLoop:    w.loop > 0,
		Line:      rust.Line(n),
		Order:     order(n),
		Text:      util.NormalizeSignature(w.text(n)),
	}
	if op == OpMul {
		site.FromDivision = w.isDivision(left) || w.isDivision(right)
	}
	w.body.Arithmetic = append(w.body.Arithmetic, site)
}

func (w *walker) compound(n *sitter.Node) {
	left, right := rust.Field(n, "left"), rust.Field(n, "right")
	leftText := w.text(left)
	lamports := mentionsLamports(leftText)
	if opNode := rust.Field(n, "operator"); opNode != nil {
		if op, ok := arithOps[opNode.Type()]; ok {
			site := ArithmeticSite{
				Op:        op,
				Left:      w.scope.operand(left, w.src),
				Right:     w.scope.operand(right, w.src),
				Semantics: Unchecked,
				Compound:  true,
				Target:    compact(leftText),
				Lamports:  lamports || mentionsLamports(w.text(right)),
				InLoop:    w.loop > 0,
				Line:      rust.Line(n),
				Order:     order(n),
				Text:      util.NormalizeSignature(w.text(n)),
			}
			if op == OpMul {
				site.FromDivision = w.isDivision(right)
			}
			w.body.Arithmetic = append(w.body.Arithmetic, site)
		}
	}
	w.write(n, left, right, lamports)
}

func (w *walker) assignment(n *sitter.Node) {
	left, right := rust.Field(n, "left"), rust.Field(n, "right")
	w.write(n, left, right, mentionsLamports(w.text(left)))
}

func (w *walker) write(n, left, right *sitter.Node, lamports bool) {
	account, field := w.accountOf(w.text(left))
	if account == "" {
		return
	}
	w.body.Writes = append(w.body.Writes, StateWrite{
		Account:  account,
		Field:    field,
		Lamports: lamports,
		Value:    w.scope.operand(right, w.src),
		Line:     rust.Line(n),
		Order:    order(n),
		Text:     util.NormalizeSignature(w.text(n)),
	})
}

func (w *walker) call(n *sitter.Node) {
	fn := rust.Field(n, "function")
	if fn == nil {
		return
	}
	args := rust.NamedChildren(rust.Field(n, "arguments"))
	cs := CallSite{
		Handling: handling(n, w.src),
		InLoop:   w.loop > 0,
		Line:     rust.Line(n),
		Order:    order(n),
		Text:     util.NormalizeSignature(w.text(n)),
	}
	for _, a := range args {
		cs.Args = append(cs.Args, compact(w.text(a)))
	}
	var recv *sitter.Node
	switch fn.Type() {
	case "field_expression":
		recv = rust.Field(fn, "value")
		cs.Name = w.text(rust.Field(fn, "field"))
		cs.Receiver = compact(w.text(recv))
		cs.Path = cs.Receiver + "." + cs.Name
	default:
		cs.Path = util.NormalizeSignature(w.text(fn))
		if i := strings.Index(cs.Path, "::<"); i >= 0 {
			cs.Path = cs.Path[:i]
		}
		cs.Name = lastSegment(cs.Path)
	}
	w.body.Calls = append(w.body.Calls, cs)

	// Type::try_deserialize(&mut &ctx.accounts.x.data.borrow()[..]) reads raw data
	if borrowMethods[cs.Name] {
		for _, a := range args {
			if account, _ := w.accountOf(w.text(unwrapRef(a))); account != "" {
				w.borrows[account] = true
			}
		}
	}
	if recv != nil {
		w.methodFacts(n, recv, cs, args)
		return
	}
	switch {
	case cs.Name == "invoke" || cs.Name == "invoke_signed":
		w.invoke(n, cs, args)
	case strings.HasSuffix(cs.Path, "CpiContext::new") || strings.HasSuffix(cs.Path, "CpiContext::new_with_signer"):
		w.cpiContext(n, cs, args)
	case cs.Name == "find_program_address" || cs.Name == "try_find_program_address" || cs.Name == "create_program_address":
		w.derivation(n, cs, args)
	case isCpiHelper(cs.Path):
		w.cpiHelper(n, cs, args)
	}
}

func (w *walker) methodFacts(n, recv *sitter.Node, cs CallSite, args []*sitter.Node) {
	prefix, suffix, ok := strings.Cut(cs.Name, "_")
	if sem, isSem := methodSemantics[prefix]; ok && isSem {
		if op, isOp := methodOps[suffix]; isOp && len(args) > 0 {
			site := ArithmeticSite{
				Op:        op,
				Left:      w.scope.operand(recv, w.src),
				Right:     w.scope.operand(args[0], w.src),
				Semantics: sem,
				Lamports:  mentionsLamports(w.text(n)),
				InLoop:    w.loop > 0,
				Line:      rust.Line(n),
				Order:     order(n),
				Text:      cs.Text,
			}
			if op == OpMul {
				site.FromDivision = w.isDivision(recv) || w.isDivision(args[0])
			}
			w.body.Arithmetic = append(w.body.Arithmetic, site)
		}
	}
	if account, _ := w.accountOf(cs.Receiver); account != "" {
		if borrowMethods[cs.Name] || strings.HasPrefix(cs.Name, "try_borrow") && !strings.Contains(cs.Name, "lamports") {
			w.borrows[account] = true
		}
		if writeMethods[cs.Name] {
			val := Operand{Provenance: ProvConstant}
			if len(args) > 0 {
				val = w.scope.operand(args[0], w.src)
			}
			w.body.Writes = append(w.body.Writes, StateWrite{
				Account:  account,
				Lamports: strings.Contains(cs.Name, "lamports"),
				Value:    val,
				Line:     cs.Line,
				Order:    cs.Order,
				Text:     cs.Text,
			})
		}
	}
}

func (w *walker) invoke(n *sitter.Node, cs CallSite, args []*sitter.Node) {
	cpi := CpiInvocation{
		Kind:     CpiInvoke,
		Callee:   cs.Path,
		Signed:   cs.Name == "invoke_signed",
		Handling: cs.Handling,
		InLoop:   cs.InLoop,
		Line:     cs.Line,
		Order:    cs.Order,
		Text:     cs.Text,
	}
	if cpi.Signed {
		cpi.Kind = CpiInvokeSigned
	}
	if len(args) > 0 {
		ix := unwrapRef(args[0])
		if ix.Type() == "identifier" {
			if v, ok := w.ixLocals[w.text(ix)]; ok {
				ix = v
			}
		}
		cpi.ProgramRef, cpi.Hardcoded, cpi.Amount = w.instructionProgram(ix)
		if cpi.Callee == cs.Path && ix.Type() == "call_expression" {
			cpi.Callee = util.NormalizeSignature(w.text(rust.Field(ix, "function")))
		}
	}
	if !cpi.Hardcoded {
		cpi.ProgramAccount, _ = w.accountOf(cpi.ProgramRef)
	}
	for _, a := range args[min(1, len(args)):] {
		cpi.Accounts = append(cpi.Accounts, w.accountsIn(w.text(a))...)
	}
	cpi.Accounts = uniqueSorted(cpi.Accounts)
	w.body.Cpis = append(w.body.Cpis, cpi)
}

// instructionProgram finds the program id of a raw Instruction value, either
// from a struct literal or from a builder such as system_instruction::transfer.
func (w *walker) instructionProgram(ix *sitter.Node) (ref string, hardcoded bool, amount *Operand) {
	switch ix.Type() {
	case "struct_expression":
		for _, c := range rust.NamedChildren(rust.Field(ix, "body")) {
			switch c.Type() {
			case "field_initializer":
				if w.text(rust.Field(c, "field")) == "program_id" {
					ref = compact(w.text(rust.Field(c, "value")))
				}
			case "shorthand_field_initializer":
				if w.text(c) == "program_id" {
					ref = "program_id"
				}
			}
		}
	case "call_expression":
		path := util.NormalizeSignature(w.text(rust.Field(ix, "function")))
		args := rust.NamedChildren(rust.Field(ix, "arguments"))
		if strings.Contains(path, "system_instruction::") {
			ref = "system_program::ID"
		} else if len(args) > 0 {
			ref = compact(w.text(args[0]))
		}
		if strings.HasSuffix(path, "transfer") || strings.HasSuffix(path, "transfer_checked") ||
			strings.HasSuffix(path, "mint_to") || strings.HasSuffix(path, "burn") {
			if len(args) > 1 {
				op := w.scope.operand(args[len(args)-1], w.src)
				if strings.HasSuffix(path, "transfer_checked") && len(args) > 2 {
					op = w.scope.operand(args[len(args)-2], w.src)
				}
				amount = &op
			}
		}
	}
	return ref, HardcodedProgram(ref), amount
}

func (w *walker) cpiContext(n *sitter.Node, cs CallSite, args []*sitter.Node) {
	cpi := CpiInvocation{
		Kind:     CpiContextNew,
		Signed:   strings.HasSuffix(cs.Path, "new_with_signer"),
		Handling: cs.Handling,
		InLoop:   cs.InLoop,
		Line:     cs.Line,
		Order:    cs.Order,
		Text:     cs.Text,
	}
	if len(args) > 0 {
		cpi.ProgramRef = compact(w.text(args[0]))
		cpi.Hardcoded = HardcodedProgram(cpi.ProgramRef)
		cpi.ProgramAccount, _ = w.accountOf(cpi.ProgramRef)
	}
	if len(args) > 1 {
		accounts := unwrapRef(args[1])
		if accounts.Type() == "identifier" {
			if v, ok := w.ixLocals[w.text(accounts)]; ok {
				accounts = v
			}
		}
		cpi.Accounts = uniqueSorted(w.accountsIn(w.text(accounts)))
	}
	// climb through .with_signer(..) / .with_remaining_accounts(..) chains
	cur := n
	for {
		p := cur.Parent()
		if p == nil || p.Type() != "field_expression" {
			break
		}
		call := p.Parent()
		if call == nil || call.Type() != "call_expression" {
			break
		}
		if w.text(rust.Field(p, "field")) == "with_signer" {
			cpi.Signed = true
		}
		cur = call
	}
	if p := cur.Parent(); p != nil {
		switch p.Type() {
		case "arguments":
			if outer := p.Parent(); outer != nil && outer.Type() == "call_expression" {
				w.attachHelper(&cpi, outer)
			}
		case "let_declaration":
			if name := strings.TrimPrefix(w.text(rust.Field(p, "pattern")), "mut "); isIdentifier(name) {
				w.cpiLocals[name] = len(w.body.Cpis)
			}
		}
	}
	w.body.Cpis = append(w.body.Cpis, cpi)
}

// attachHelper fills callee, amount and result handling from the helper
// call that consumes a CpiContext.
func (w *walker) attachHelper(cpi *CpiInvocation, outer *sitter.Node) {
	cpi.Callee = util.NormalizeSignature(w.text(rust.Field(outer, "function")))
	cpi.Handling = handling(outer, w.src)
	args := rust.NamedChildren(rust.Field(outer, "arguments"))
	if len(args) > 1 {
		op := w.scope.operand(args[1], w.src)
		cpi.Amount = &op
	}
}

func (w *walker) cpiHelper(n *sitter.Node, cs CallSite, args []*sitter.Node) {
	if len(args) == 0 {
		return
	}
	first := args[0]
	inner := first
	for inner.Type() == "call_expression" {
		f := rust.Field(inner, "function")
		if f == nil {
			break
		}
		if f.Type() == "field_expression" {
			inner = rust.Field(f, "value")
			continue
		}
		break
	}
	if inner.Type() == "call_expression" && strings.Contains(w.text(rust.Field(inner, "function")), "CpiContext::new") {
		// recorded when the walk reaches the inline CpiContext
		return
	}
	if first.Type() == "identifier" {
		if idx, ok := w.cpiLocals[w.text(first)]; ok {
			w.attachHelper(&w.body.Cpis[idx], n)
			return
		}
	}
	cpi := CpiInvocation{
		Kind:     CpiHelper,
		Callee:   cs.Path,
		Handling: cs.Handling,
		InLoop:   cs.InLoop,
		Line:     cs.Line,
		Order:    cs.Order,
		Text:     cs.Text,
		Accounts: uniqueSorted(w.accountsIn(w.text(first))),
	}
	w.attachHelper(&cpi, n)
	w.body.Cpis = append(w.body.Cpis, cpi)
}

func (w *walker) derivation(n *sitter.Node, cs CallSite, args []*sitter.Node) {
	d := PdaDerivation{
		Source: DerivedByFind,
		Bump:   BumpCanonical,
		Line:   cs.Line,
		Order:  cs.Order,
		Text:   cs.Text,
	}
	if cs.Name == "create_program_address" {
		d.Source = DerivedByCreate
		d.Bump = BumpUnknown
	}
	if len(args) > 0 {
		d.Seeds, d.SeedsKnown = anchor.ParseSeeds(w.text(args[0]), w.scope.params)
	}
	if d.Source == DerivedByCreate && d.SeedsKnown && len(d.Seeds) > 0 {
		last := d.Seeds[len(d.Seeds)-1]
		if strings.HasPrefix(strings.TrimLeft(last.Raw, "&"), "[") {
			d.Seeds = d.Seeds[:len(d.Seeds)-1]
			d.BumpExpr = last.Norm
			d.Bump = w.bumpState(last.Norm)
		}
	}
	w.body.Derivations = append(w.body.Derivations, d)
}

func (w *walker) bumpState(expr string) BumpState {
	root := rootIdent(expr)
	switch {
	case w.scope.params[root]:
		return BumpUserSupplied
	case strings.Contains(expr, "bumps") || strings.Contains(expr, "."):
		return BumpStored
	}
	if p, ok := w.scope.locals[root]; ok && p == ProvArgument || ok && p == ProvDerived {
		return BumpUserSupplied
	}
	return BumpUnknown
}

func (w *walker) macro(n *sitter.Node) {
	name := w.text(rust.Field(n, "macro"))
	name = lastSegment(name)
	kind, ok := guardMacros[name]
	if !ok {
		return
	}
	cond := ""
	for _, c := range rust.NamedChildren(n) {
		if c.Type() == "token_tree" {
			cond = strings.TrimSuffix(strings.TrimPrefix(compact(w.text(c)), "("), ")")
		}
	}
	w.body.Guards = append(w.body.Guards, Guard{
		Kind:      kind,
		Macro:     name,
		Condition: cond,
		Idents:    bodyIdents(cond),
		Line:      rust.Line(n),
		Order:     order(n),
	})
}

func (w *walker) branch(n *sitter.Node) {
	cons := w.text(rust.Field(n, "consequence"))
	aborts := strings.Contains(cons, "panic!") ||
		(strings.Contains(cons, "return") && (strings.Contains(cons, "Err") || strings.Contains(cons, "err!") || strings.Contains(cons, "error!")))
	if !aborts {
		return
	}
	cond := compact(w.text(rust.Field(n, "condition")))
	w.body.Guards = append(w.body.Guards, Guard{
		Kind:      GuardBranch,
		Condition: cond,
		Idents:    bodyIdents(cond),
		Line:      rust.Line(n),
		Order:     order(n),
	})
}

func (w *walker) loopSite(n *sitter.Node) {
	ls := LoopSite{
		Line:  rust.Line(n),
		Order: order(n),
	}
	header := n
	switch n.Type() {
	case "for_expression":
		ls.Kind = "for"
		header = rust.Field(n, "value")
	case "while_expression":
		ls.Kind = "while"
		header = rust.Field(n, "condition")
	default:
		ls.Kind = "loop"
		header = nil
	}
	if header != nil {
		ls.Iterable = w.scope.operand(header, w.src)
		ls.Text = util.NormalizeSignature(ls.Kind + " " + w.text(header))
	} else {
		ls.Iterable = Operand{Provenance: ProvUnknown}
		ls.Text = "loop"
	}
	w.body.Loops = append(w.body.Loops, ls)
}

// isDivision reports whether n evaluates to the result of a division.
func (w *walker) isDivision(n *sitter.Node) bool {
	n = unwrapRef(n)
	switch n.Type() {
	case "binary_expression":
		if op := rust.Field(n, "operator"); op != nil && op.Type() == "/" {
			return true
		}
	case "identifier":
		return w.scope.divLocals[w.text(n)]
	case "call_expression":
		fn := rust.Field(n, "function")
		if fn == nil || fn.Type() != "field_expression" {
			return false
		}
		method := w.text(rust.Field(fn, "field"))
		if strings.HasSuffix(method, "_div") {
			return true
		}
		if passthroughMethods[method] {
			return w.isDivision(rust.Field(fn, "value"))
		}
	}
	return false
}

func (w *walker) accountsIn(text string) []string {
	var out []string
	for _, m := range ctxAccountRe.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	if w.scope.selfAccounts {
		for _, m := range selfAccountRe.FindAllStringSubmatch(text, -1) {
			out = append(out, m[1])
		}
	}
	for _, id := range identRe.FindAllString(text, -1) {
		if target, ok := w.scope.aliases[id]; ok {
			out = append(out, target)
		}
	}
	return out
}

// handling classifies what the caller does with a call's result.
func handling(n *sitter.Node, src []byte) Handling {
	p := n.Parent()
	for p != nil && p.Type() == "parenthesized_expression" {
		p = p.Parent()
	}
	if p == nil {
		return Bound
	}
	switch p.Type() {
	case "try_expression":
		return Propagated
	case "field_expression":
		switch rust.Text(rust.Field(p, "field"), src) {
		case "map_err", "ok_or", "ok_or_else", "context":
			return Mapped
		case "ok", "unwrap_or", "unwrap_or_default", "unwrap_or_else":
			return Ignored
		case "unwrap", "expect":
			return Unwrapped
		}
		return Bound
	case "let_declaration":
		if strings.TrimSpace(rust.Text(rust.Field(p, "pattern"), src)) == "_" {
			return Ignored
		}
		return Bound
	case "expression_statement":
		return Discarded
	case "return_expression":
		return Returned
	case "block":
		return Returned
	}
	return Bound
}

// HardcodedProgram reports program id expressions that name a fixed program.
func HardcodedProgram(ref string) bool {
	r := strings.TrimLeft(util.NormalizeSignature(ref), "&*")
	switch {
	case r == "":
		return false
	case r == "ID" || r == "id()" || r == "crate::ID" || r == "crate::id()":
		return true
	case strings.HasSuffix(r, "::ID") || strings.HasSuffix(r, "::id()"):
		return true
	case strings.HasPrefix(r, "pubkey!(") || strings.Contains(r, "Pubkey::from_str") || strings.Contains(r, "Pubkey::new_from_array"):
		return true
	}
	return false
}

func isCpiHelper(path string) bool {
	ns, _, ok := strings.Cut(path, "::")
	if !ok {
		return false
	}
	for _, c := range cpiNamespaces {
		if ns == c {
			return true
		}
	}
	return false
}

func unwrapRef(n *sitter.Node) *sitter.Node {
	for n != nil {
		switch n.Type() {
		case "reference_expression":
			n = rust.Field(n, "value")
		case "parenthesized_expression", "try_expression":
			n = n.NamedChild(0)
		case "type_cast_expression":
			n = rust.Field(n, "value")
		default:
			return n
		}
	}
	return n
}

func mentionsLamports(text string) bool {
	return strings.Contains(strings.ToLower(text), "lamports")
}

func isIdentifier(s string) bool {
	return s != "" && identRe.FindString(s) == s
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func uniqueSorted(in []string) []string {
	m := map[string]bool{}
	for _, s := range in {
		m[s] = true
	}
	if len(m) == 0 {
		return nil
	}
	return sortedKeys(m)
}
