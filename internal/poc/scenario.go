package poc

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/model"
)

// scenario is the template input for one finding.
type scenario struct {
	Finding model.Finding
	// Program is the snake_case program name, Type its IDL type name.
	Program string
	Type    string
	Method  string
	Field   string
	Account string
	Args    string
	// Accounts are the .accounts({...}) entries in declaration order.
	Accounts      []accountArg
	Seeds         string
	Preconditions []string
	// SetupArgs are the arguments of the first call when a template calls twice.
	SetupArgs string
	// Watched are the writable accounts whose state the exploit changes,
	// Tokens and Mint the SPL accounts among them.
	Watched string
	Tokens  string
	Mint    string
	Stored  *storedField

	in          *analysis.Instruction
	ctx         *analysis.AccountContext
	argValues   map[string]string
	setupValues map[string]string
	overrides   map[string]string
	// readAccount.readField is fetched after the exploit.
	readAccount, readField, readLimit string
}

// storedField is an account data field read back through the IDL client.
type storedField struct {
	Address string
	Type    string
	Field   string
	// Limit is the operand value the stored result must not reach.
	Limit string
}

type accountArg struct {
	Name string
	Expr string
}

func newScenario(f model.Finding, m *analysis.ProgramModel) (*scenario, error) {
	loc := f.Location
	p := m.Program(loc.Program)
	if p == nil {
		return nil, fmt.Errorf("%w: program %q", ErrUnresolved, loc.Program)
	}
	in := p.Instruction(loc.Instruction)
	if in == nil {
		return nil, fmt.Errorf("%w: instruction %q in %q", ErrUnresolved, loc.Instruction, loc.Program)
	}
	s := &scenario{
		Finding:     f,
		Program:     p.Name,
		Type:        pascal(p.Name),
		Method:      camel(in.Name),
		Field:       loc.Field,
		in:          in,
		ctx:         m.ContextOf(in),
		argValues:   map[string]string{},
		setupValues: map[string]string{},
		overrides:   map[string]string{},
	}
	if s.Field != "" {
		if s.field(s.Field) == nil {
			return nil, fmt.Errorf("%w: account %q in %q", ErrUnresolved, s.Field, loc.Context)
		}
		s.Account = camel(s.Field)
	}
	s.Preconditions = []string{
		fmt.Sprintf("program `%s` is built and deployed to a local validator (`anchor test`)", p.Name),
	}
	return s, nil
}

func (s *scenario) field(name string) *analysis.AccountField {
	if s.ctx == nil {
		return nil
	}
	return s.ctx.Field(name)
}

func (s *scenario) require(format string, args ...any) {
	s.Preconditions = append(s.Preconditions, fmt.Sprintf(format, args...))
}

// finish renders arguments and accounts once overrides are in place.
func (s *scenario) finish() {
	s.Args = s.args(s.argValues)
	s.SetupArgs = s.args(s.setupValues)
	if s.ctx == nil {
		return
	}
	exprs := map[string]string{}
	var watched, tokens, mints []string
	seen := map[string]bool{}
	for _, f := range s.ctx.Fields {
		expr, ok := s.overrides[f.Name]
		if !ok {
			expr = s.accountExpr(f)
		}
		exprs[f.Name] = expr
		s.Accounts = append(s.Accounts, accountArg{Name: camel(f.Name), Expr: expr})

		if (!f.Writable() && f.Name != s.Field) || f.Type.IsProgram() || f.Type.Kind == anchor.TypeSysvar ||
			expr == "attacker.publicKey" || seen[expr] {
			continue
		}
		seen[expr] = true
		watched = append(watched, expr)
		switch f.Type.Inner {
		case "TokenAccount":
			tokens = append(tokens, expr)
		case "Mint":
			mints = append(mints, expr)
		}
	}
	s.Watched = strings.Join(watched, ", ")
	s.Tokens = strings.Join(tokens, ", ")
	if len(mints) > 0 {
		s.Mint = mints[0]
	}
	if f := s.field(s.readAccount); readable(f) {
		s.Stored = &storedField{
			Address: exprs[s.readAccount],
			Type:    camel(snake(f.Type.Inner)),
			Field:   camel(s.readField),
			Limit:   s.readLimit,
		}
	}
}

func (s *scenario) args(values map[string]string) string {
	args := make([]string, len(s.in.Params))
	for i, p := range s.in.Params {
		if v, ok := values[p.Name]; ok {
			args[i] = v
		} else {
			args[i] = argValue(p.Type, false)
		}
	}
	return strings.Join(args, ", ")
}

// readable reports whether the IDL client can decode the field's account.
func readable(f *analysis.AccountField) bool {
	return f != nil && f.Type.IsData() && f.Type.Inner != "" && !f.Type.TokenAccount()
}

// readBack marks account.field to be fetched after the exploit.
func (s *scenario) readBack(account, field, limit string) {
	s.readAccount, s.readField, s.readLimit = account, field, limit
}

func (s *scenario) accountExpr(f *analysis.AccountField) string {
	switch {
	case f.Type.Kind == anchor.TypeSigner || f.Constraints.Has(anchor.ConstraintSigner):
		return "attacker.publicKey"
	case f.Type.IsProgram():
		if id, ok := programIDs[f.Type.Inner]; ok {
			return id
		}
		return "program.programId"
	case f.Type.Kind == anchor.TypeSysvar:
		if id, ok := sysvarIDs[f.Type.Inner]; ok {
			return id
		}
		return "SYSVAR_RENT_PUBKEY"
	case f.Name == "instructions" || f.Name == "instructions_sysvar":
		return "SYSVAR_INSTRUCTIONS_PUBKEY"
	case f.Pda != nil && f.Pda.SeedsKnown:
		return "pda([" + s.seeds(f.Pda.Seeds) + "])"
	}
	return "victim.publicKey"
}

var programIDs = map[string]string{
	"System":          "SystemProgram.programId",
	"Token":           "TOKEN_PROGRAM_ID",
	"TokenInterface":  "TOKEN_PROGRAM_ID",
	"Token2022":       "TOKEN_2022_PROGRAM_ID",
	"AssociatedToken": "ASSOCIATED_TOKEN_PROGRAM_ID",
}

var sysvarIDs = map[string]string{
	"Rent":         "SYSVAR_RENT_PUBKEY",
	"Clock":        "SYSVAR_CLOCK_PUBKEY",
	"Instructions": "SYSVAR_INSTRUCTIONS_PUBKEY",
}

// seeds renders seed expressions as TypeScript Buffers.
func (s *scenario) seeds(seeds []anchor.Seed) string {
	out := make([]string, len(seeds))
	for i, sd := range seeds {
		out[i] = s.seed(sd)
	}
	return strings.Join(out, ", ")
}

func (s *scenario) seed(sd anchor.Seed) string {
	switch sd.Kind {
	case anchor.SeedLiteral:
		return "Buffer.from(" + tsString(sd.Ref) + ")"
	case anchor.SeedAccountKey:
		if f := s.field(sd.Ref); f != nil && f.Type.Kind == anchor.TypeSigner {
			return "attacker.publicKey.toBuffer()"
		}
		return "victim.publicKey.toBuffer()"
	case anchor.SeedArgument:
		typ := s.paramType(sd.Ref)
		if n, ok := intWidth[typ]; ok {
			return fmt.Sprintf("new anchor.BN(0).toArrayLike(Buffer, \"le\", %d)", n)
		}
		if typ == "Pubkey" {
			return "attacker.publicKey.toBuffer()"
		}
		return "Buffer.from(\"\")"
	case anchor.SeedConstant:
		return "Buffer.from(" + tsString(sd.Ref) + ")"
	}
	return "Buffer.alloc(0)"
}

func (s *scenario) paramType(name string) string {
	if p, ok := s.in.Param(name); ok {
		return p.Type
	}
	if s.ctx != nil {
		for _, a := range s.ctx.Args {
			if a.Name == name {
				return a.Type
			}
		}
	}
	return ""
}

var intWidth = map[string]int{
	"u8": 1, "i8": 1, "u16": 2, "i16": 2, "u32": 4, "i32": 4, "u64": 8, "i64": 8, "u128": 16, "i128": 16,
}

var maxValues = map[string]string{
	"u8":   "255",
	"u16":  "65535",
	"u32":  "4294967295",
	"i8":   "127",
	"i16":  "32767",
	"i32":  "2147483647",
	"u64":  `new anchor.BN("18446744073709551615")`,
	"i64":  `new anchor.BN("9223372036854775807")`,
	"u128": `new anchor.BN("340282366920938463463374607431768211455")`,
	"i128": `new anchor.BN("170141183460469231731687303715884105727")`,
}

// argValue is a placeholder for an instruction argument of the given Rust
// type, or its largest value when largest is set.
func argValue(typ string, largest bool) string {
	t := strings.Join(strings.Fields(typ), "")
	if n, ok := intWidth[t]; ok {
		if largest {
			return maxValues[t]
		}
		if n >= 8 {
			return "new anchor.BN(0)"
		}
		return "0"
	}
	switch {
	case t == "Pubkey":
		return "attacker.publicKey"
	case t == "bool":
		return "false"
	case t == "String" || t == "&str":
		return `""`
	case strings.HasPrefix(t, "Vec<") || strings.HasPrefix(t, "[") || strings.HasPrefix(t, "&["):
		return "[]"
	case strings.HasPrefix(t, "Option<"):
		return "null"
	}
	return "{}"
}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// maximize sets every integer parameter mentioned in text to its largest
// value, or every integer parameter when none is mentioned.
func (s *scenario) maximize(text string) []string {
	mentioned := map[string]bool{}
	for _, id := range identRe.FindAllString(text, -1) {
		mentioned[id] = true
	}
	var names []string
	for _, p := range s.in.Params {
		if _, ok := intWidth[p.Type]; ok && mentioned[p.Name] {
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 {
		for _, p := range s.in.Params {
			if _, ok := intWidth[p.Type]; ok {
				names = append(names, p.Name)
			}
		}
	}
	for _, n := range names {
		p, _ := s.in.Param(n)
		s.argValues[n] = argValue(p.Type, true)
	}
	sort.Strings(names)
	return names
}

// cpi finds the CPI site a finding points at.
func (s *scenario) cpi() (analysis.CpiInvocation, bool) {
	for _, c := range s.in.Body.Cpis {
		if c.Signature == s.Finding.Location.Site {
			return c, true
		}
	}
	return analysis.CpiInvocation{}, false
}

// snake turns a Rust type name into snake_case.
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func camel(s string) string {
	p := pascal(s)
	if p == "" {
		return p
	}
	return strings.ToLower(p[:1]) + p[1:]
}

func pascal(s string) string {
	var b strings.Builder
	for _, part := range strings.Split(s, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}
