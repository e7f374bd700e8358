// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script

import (
	"fmt"
	"strings"
)

// Fragment is one node of the conditional SQL tree: either a literal leaf or
// a container of child fragments. The tree is immutable once built and is
// walked fresh on every invocation.
type Fragment interface {
	// Condition gates whether the fragment participates in assembly.
	Condition() Condition
	// Assemble appends the fragment's SQL text and ordered parameter list if
	// its condition holds against the bound values. Containers propagate
	// their own condition before recursing into children.
	Assemble(args Args, sql *strings.Builder, params *[]*QueryParam) error
	// String renders the fragment for debugging and parser tests.
	String() string
}

// Part is a leaf fragment: literal SQL text with its ordered parameters. The
// text is never empty.
type Part struct {
	cond   Condition
	text   string
	params []*QueryParam
}

// NewPart returns a leaf fragment. The text must be non-empty.
func NewPart(cond Condition, text string, params []*QueryParam) (*Part, error) {
	if text == "" {
		return nil, fmt.Errorf("internal error: empty SQL fragment")
	}
	return &Part{cond: cond, text: text, params: params}, nil
}

func (p *Part) Condition() Condition {
	return p.cond
}

// Text returns the literal SQL of the fragment, with '?' placeholder markers
// where expressions appeared.
func (p *Part) Text() string {
	return p.text
}

// Params returns the fragment's ordered parameters.
func (p *Part) Params() []*QueryParam {
	return p.params
}

func (p *Part) Assemble(args Args, sql *strings.Builder, params *[]*QueryParam) error {
	ok, err := p.cond.OK(args)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	sql.WriteString(p.text)
	*params = append(*params, p.params...)
	return nil
}

func (p *Part) String() string {
	if _, always := p.cond.(Always); always {
		return fmt.Sprintf("Part[%s]", p.text)
	}
	return fmt.Sprintf("Part[%s][%s]", p.cond, p.text)
}

// Parts is a container fragment with at least two children.
type Parts struct {
	cond     Condition
	children []Fragment
}

// NewParts returns a container fragment. At least two children are required;
// a single fragment is represented by the fragment itself.
func NewParts(cond Condition, children []Fragment) (*Parts, error) {
	if len(children) < 2 {
		return nil, fmt.Errorf("internal error: container fragment needs at least two children, got %d", len(children))
	}
	return &Parts{cond: cond, children: children}, nil
}

func (p *Parts) Condition() Condition {
	return p.cond
}

// Children returns the child fragments in source order.
func (p *Parts) Children() []Fragment {
	return p.children
}

func (p *Parts) Assemble(args Args, sql *strings.Builder, params *[]*QueryParam) error {
	ok, err := p.cond.OK(args)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for _, child := range p.children {
		if err := child.Assemble(args, sql, params); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parts) String() string {
	var out strings.Builder
	if _, always := p.cond.(Always); always {
		out.WriteString("Parts[")
	} else {
		fmt.Fprintf(&out, "Parts[%s][", p.cond)
	}
	for i, child := range p.children {
		if i > 0 {
			out.WriteString(" ")
		}
		out.WriteString(child.String())
	}
	out.WriteString("]")
	return out.String()
}
