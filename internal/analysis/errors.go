package analysis

import (
	"fmt"

	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/rust"
)

// ModelError describes an item that parsed but could not be fully modeled.
type ModelError struct {
	File        string
	Line        int
	Program     string
	Instruction string
	Context     string
	Reason      string
}

func (e *ModelError) Error() string {
	where := e.File
	if e.Line > 0 {
		where = fmt.Sprintf("%s:%d", e.File, e.Line)
	}
	switch {
	case e.Instruction != "":
		return fmt.Sprintf("model %s: instruction %s::%s: %s", where, e.Program, e.Instruction, e.Reason)
	case e.Context != "":
		return fmt.Sprintf("model %s: context %s: %s", where, e.Context, e.Reason)
	}
	return fmt.Sprintf("model %s: %s", where, e.Reason)
}

// Err converts a coverage marker back into the error that produced it.
func (c CoverageMarker) Err() error {
	if c.Kind == model.DiagnosticParseError {
		return &rust.ParseError{Path: c.File, Line: c.Line, Reason: c.Reason}
	}
	return &ModelError{
		File:        c.File,
		Line:        c.Line,
		Program:     c.Program,
		Instruction: c.Instruction,
		Context:     c.Context,
		Reason:      c.Reason,
	}
}
