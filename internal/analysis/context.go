package analysis

import (
	"sort"
	"strconv"
	"strings"

	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/model"
)

// ProgramModel is the structured view of one source snapshot. It is
// immutable once Build returns and safe for concurrent readers.
type ProgramModel struct {
	Programs []*Program        `json:"programs"`
	Contexts []*AccountContext `json:"contexts"`
	States   []*StateAccount   `json:"states"`
	Errors   []ErrorCode       `json:"errors,omitempty"`
	Coverage []CoverageMarker  `json:"coverage,omitempty"`
	Files    []string          `json:"files"`
}

type Program struct {
	Name string `json:"name"`
	// ID is the declare_id! value when present.
	ID           string         `json:"id,omitempty"`
	File         string         `json:"file"`
	Line         int            `json:"line"`
	Synthetic    bool           `json:"synthetic,omitempty"`
	Instructions []*Instruction `json:"instructions"`
}

type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Instruction struct {
	Program    string   `json:"program"`
	Name       string   `json:"name"`
	File       string   `json:"file"`
	Line       int      `json:"line"`
	Params     []Param  `json:"params"`
	Context    string   `json:"context"`
	Attributes []string `json:"attributes,omitempty"`
	Body       Body     `json:"body"`
	Degraded   bool     `json:"degraded,omitempty"`
}

// Param returns the named parameter.
func (in *Instruction) Param(name string) (Param, bool) {
	for _, p := range in.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

type AccountContext struct {
	Name    string `json:"name"`
	Program string `json:"program"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	// Args are the #[instruction(...)] arguments visible to constraints.
	Args     []Param         `json:"args,omitempty"`
	Fields   []*AccountField `json:"fields"`
	Degraded bool            `json:"degraded,omitempty"`
}

func (c *AccountContext) Field(name string) *AccountField {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (c *AccountContext) ArgSet() map[string]bool {
	m := make(map[string]bool, len(c.Args))
	for _, a := range c.Args {
		m[a.Name] = true
	}
	return m
}

// HasOneTargets lists the fields named by has_one on other fields.
func (c *AccountContext) HasOneTargets() map[string]bool {
	out := map[string]bool{}
	for _, f := range c.Fields {
		for _, h := range f.Constraints.All(anchor.ConstraintHasOne) {
			out[h.Value] = true
		}
	}
	return out
}

type AccountField struct {
	Context     string             `json:"context"`
	Name        string             `json:"name"`
	Type        anchor.AccountType `json:"type"`
	Constraints anchor.Constraints `json:"constraints"`
	Doc         []string           `json:"doc,omitempty"`
	Line        int                `json:"line"`
	Pda         *PdaDerivation     `json:"pda,omitempty"`
}

func (f *AccountField) Writable() bool {
	return f.Constraints.Has(anchor.ConstraintMut) || f.Initializes() || f.Constraints.Has(anchor.ConstraintClose) ||
		f.Constraints.Has(anchor.ConstraintRealloc)
}

func (f *AccountField) Initializes() bool {
	return f.Constraints.Has(anchor.ConstraintInit) || f.Constraints.Has(anchor.ConstraintInitIfNeeded) ||
		f.Constraints.Has(anchor.ConstraintZero)
}

func (f *AccountField) Signer() bool {
	return f.Type.Kind == anchor.TypeSigner || f.Constraints.Has(anchor.ConstraintSigner)
}

// OwnerChecked reports whether the framework verifies the owning program.
func (f *AccountField) OwnerChecked() bool {
	if f.Type.IsData() || f.Type.IsProgram() || f.Type.Kind == anchor.TypeSystemAccount || f.Type.Kind == anchor.TypeSysvar {
		return true
	}
	cs := f.Constraints
	return cs.Has(anchor.ConstraintOwner) || cs.Has(anchor.ConstraintAddress) || cs.Has(anchor.ConstraintSeeds) ||
		cs.Has(anchor.ConstraintInit) || cs.Has(anchor.ConstraintInitIfNeeded) || cs.Has(anchor.ConstraintToken) ||
		cs.Has(anchor.ConstraintAssociatedToken) || cs.Has(anchor.ConstraintMint) || cs.Mentions(anchor.ConstraintExpr, "owner")
}

// Checked reports a `/// CHECK:` safety comment on the field.
func (f *AccountField) Checked() bool {
	for _, d := range f.Doc {
		if strings.HasPrefix(strings.TrimSpace(strings.TrimLeft(d, "/")), "CHECK") {
			return true
		}
	}
	return false
}

type StateAccount struct {
	Name     string  `json:"name"`
	Program  string  `json:"program"`
	File     string  `json:"file"`
	Line     int     `json:"line"`
	Fields   []Param `json:"fields"`
	ZeroCopy bool    `json:"zeroCopy,omitempty"`
}

type ErrorCode struct {
	Name     string   `json:"name"`
	Program  string   `json:"program"`
	Variants []string `json:"variants"`
}

// CoverageMarker records a part of the codebase that was not fully modeled.
type CoverageMarker struct {
	Kind        model.DiagnosticKind `json:"kind"`
	File        string               `json:"file"`
	Line        int                  `json:"line,omitempty"`
	Program     string               `json:"program,omitempty"`
	Instruction string               `json:"instruction,omitempty"`
	Context     string               `json:"context,omitempty"`
	Reason      string               `json:"reason"`
}

func (c CoverageMarker) String() string {
	var b strings.Builder
	b.WriteString(c.File)
	if c.Line > 0 {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(c.Line))
	}
	switch {
	case c.Instruction != "":
		b.WriteString(" instruction " + c.Program + "::" + c.Instruction)
	case c.Context != "":
		b.WriteString(" context " + c.Context)
	}
	b.WriteString(": " + c.Reason)
	return b.String()
}

func (m *ProgramModel) Program(name string) *Program {
	for _, p := range m.Programs {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (p *Program) Instruction(name string) *Instruction {
	for _, in := range p.Instructions {
		if in.Name == name {
			return in
		}
	}
	return nil
}

func (m *ProgramModel) Context(program, name string) *AccountContext {
	for _, c := range m.Contexts {
		if c.Program == program && c.Name == name {
			return c
		}
	}
	return nil
}

// ContextOf returns the account context an instruction declares.
func (m *ProgramModel) ContextOf(in *Instruction) *AccountContext {
	if in == nil || in.Context == "" {
		return nil
	}
	return m.Context(in.Program, in.Context)
}

// ContextsOf returns the contexts of a program in declaration order.
func (m *ProgramModel) ContextsOf(program string) []*AccountContext {
	var out []*AccountContext
	for _, c := range m.Contexts {
		if c.Program == program {
			out = append(out, c)
		}
	}
	return out
}

// InstructionsUsing lists the instructions declaring the given context.
func (m *ProgramModel) InstructionsUsing(program, contextName string) []*Instruction {
	p := m.Program(program)
	if p == nil {
		return nil
	}
	var out []*Instruction
	for _, in := range p.Instructions {
		if in.Context == contextName {
			out = append(out, in)
		}
	}
	return out
}

func (m *ProgramModel) State(program, name string) *StateAccount {
	for _, s := range m.States {
		if s.Program == program && s.Name == name {
			return s
		}
	}
	return nil
}

// Derivations returns every PDA derivation of a program, constraint-level
// first, then body-level, in model order.
func (m *ProgramModel) Derivations(program string) []PdaDerivation {
	var out []PdaDerivation
	for _, c := range m.ContextsOf(program) {
		for _, f := range c.Fields {
			if f.Pda != nil {
				out = append(out, *f.Pda)
			}
		}
	}
	if p := m.Program(program); p != nil {
		for _, in := range p.Instructions {
			out = append(out, in.Body.Derivations...)
		}
	}
	return out
}

// Degraded reports a coverage marker for the program entity.
func (m *ProgramModel) Degraded(program, instruction, context string) bool {
	for _, c := range m.Coverage {
		if c.Program != program {
			continue
		}
		if (instruction != "" && c.Instruction == instruction) || (context != "" && c.Context == context) {
			return true
		}
	}
	return false
}

// Resolve reports whether loc names entities that exist in the model.
func (m *ProgramModel) Resolve(loc model.Location) bool {
	p := m.Program(loc.Program)
	if p == nil {
		return false
	}
	if loc.Instruction != "" && p.Instruction(loc.Instruction) == nil {
		return false
	}
	if loc.Context != "" {
		c := m.Context(loc.Program, loc.Context)
		if c == nil {
			return false
		}
		if loc.Field != "" && c.Field(loc.Field) == nil {
			return false
		}
	} else if loc.Field != "" {
		return false
	}
	return loc.SiteKind != ""
}

func sortCoverage(cs []CoverageMarker) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].File != cs[j].File {
			return cs[i].File < cs[j].File
		}
		if cs[i].Line != cs[j].Line {
			return cs[i].Line < cs[j].Line
		}
		return cs[i].Reason < cs[j].Reason
	})
}
