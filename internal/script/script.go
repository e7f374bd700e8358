// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script

import (
	"fmt"
	"strings"
)

// Shape is the statement shape a script executes as.
type Shape int

const (
	// Simple statements carry no parameters.
	Simple Shape = iota
	// Parameterized statements bind input parameters.
	Parameterized
	// ProcedureCall statements register at least one parameter for output.
	ProcedureCall
)

func (s Shape) String() string {
	switch s {
	case Simple:
		return "simple"
	case Parameterized:
		return "parameterized"
	case ProcedureCall:
		return "procedure-call"
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

// Script is one compiled, named unit of SQL and parameter metadata. It is
// immutable after load and safe for unsynchronized concurrent reads.
type Script struct {
	name string
	// line is the source line of the script declaration in its resource.
	line    int
	shape   Shape
	root    Fragment
	inputs  *InputParams
	outputs *OutputParams
	hints   *Hints
}

// New assembles a compiled script. The shape is derived from the full
// parameter list: no parameters is a simple statement, parameters with at
// least one output mode a procedure call, anything else a prepared statement.
func New(name string, line int, root Fragment, inputs *InputParams, outputs *OutputParams, hints *Hints) *Script {
	shape := Simple
	var walk func(f Fragment)
	walk = func(f Fragment) {
		switch f := f.(type) {
		case *Part:
			for _, qp := range f.Params() {
				if shape == Simple {
					shape = Parameterized
				}
				if qp.Mode != ModeIn {
					shape = ProcedureCall
				}
			}
		case *Parts:
			for _, child := range f.Children() {
				walk(child)
			}
		}
	}
	walk(root)
	return &Script{
		name:    name,
		line:    line,
		shape:   shape,
		root:    root,
		inputs:  inputs,
		outputs: outputs,
		hints:   hints,
	}
}

// Name returns the script name.
func (s *Script) Name() string {
	return s.name
}

// Line returns the 1-based resource line of the declaration.
func (s *Script) Line() int {
	return s.line
}

// Shape returns the statement shape.
func (s *Script) Shape() Shape {
	return s.shape
}

// Root returns the conditional SQL fragment tree.
func (s *Script) Root() Fragment {
	return s.root
}

// Inputs returns the declared input parameters.
func (s *Script) Inputs() *InputParams {
	return s.inputs
}

// Outputs returns the output targets.
func (s *Script) Outputs() *OutputParams {
	return s.outputs
}

// Hints returns the declared execution hints, or nil.
func (s *Script) Hints() *Hints {
	return s.hints
}

// Assemble walks the fragment tree against the bound values, producing the
// final SQL text and the ordered parameter list of this invocation.
func (s *Script) Assemble(args Args) (string, []*QueryParam, error) {
	var sql strings.Builder
	var params []*QueryParam
	if err := s.root.Assemble(args, &sql, &params); err != nil {
		return "", nil, fmt.Errorf("script %q: %s", s.name, err)
	}
	return sql.String(), params, nil
}

// String renders the fragment tree for debugging and parser tests.
func (s *Script) String() string {
	return fmt.Sprintf("Script[%s %s]", s.name, s.root)
}
