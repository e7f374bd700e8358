// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"reflect"
	"strings"

	"github.com/canonical/sqlscript/internal/script"
	"github.com/canonical/sqlscript/internal/typeinfo"
)

// parseBody parses the brace-delimited script body up to and including the
// end-of-script marker, producing the conditional fragment tree.
func (p *Parser) parseBody() (script.Fragment, error) {
	return p.parseFragments(script.Always{}, true)
}

// parseFragments accumulates literal fragments and conditional children at
// one nesting level. At the top level the body ends at the '====' marker; a
// nested conditional fragment ends at its unmatched '}'.
func (p *Parser) parseFragments(cond script.Condition, top bool) (script.Fragment, error) {
	var children []script.Fragment
	var text strings.Builder
	var params []*script.QueryParam
	depth := 0

	flush := func() error {
		if text.Len() == 0 {
			return nil
		}
		part, err := script.NewPart(script.Always{}, text.String(), params)
		if err != nil {
			return err
		}
		children = append(children, part)
		text.Reset()
		params = nil
		return nil
	}

	finish := func() (script.Fragment, error) {
		if err := flush(); err != nil {
			return nil, err
		}
		switch len(children) {
		case 0:
			if top {
				return nil, p.cur.Errorf("script body contains no SQL")
			}
			return nil, p.cur.Errorf("conditional fragment contains no SQL")
		case 1:
			child := children[0]
			if _, always := cond.(script.Always); always {
				return child, nil
			}
			if part, ok := child.(*script.Part); ok {
				return script.NewPart(cond, part.Text(), part.Params())
			}
			return nil, p.cur.Errorf("internal error: conditional fragment with a single conditional child")
		default:
			return script.NewParts(cond, children)
		}
	}

	for {
		if p.cur.EOF() {
			if top {
				return nil, p.cur.Errorf("missing end-of-script marker %q", "====")
			}
			return nil, p.cur.Errorf("unterminated conditional fragment")
		}

		ch := p.cur.Rune()

		if p.cur.Escaped() {
			// \?, \{, \} and \\ pass through unescaped; any other escaped
			// character keeps its backslash.
			switch ch {
			case '?', '{', '}', '\\':
			default:
				text.WriteRune('\\')
			}
			text.WriteRune(ch)
			if err := p.cur.Advance(); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case ch == '?' || ch == '$':
			if err := p.cur.Advance(); err != nil {
				return nil, err
			}
			if !p.cur.Is('{') {
				text.WriteRune(ch)
				continue
			}
			if err := p.cur.Advance(); err != nil {
				return nil, err
			}
			qp, err := p.parseExpressionRef()
			if err != nil {
				return nil, err
			}
			text.WriteRune('?')
			params = append(params, qp)

		case ch == '!' && p.cur.Col() == 1:
			if err := p.cur.Advance(); err != nil {
				return nil, err
			}
			if !p.cur.Is('(') {
				// Not a condition after all, the '!' is literal.
				text.WriteRune('!')
				continue
			}
			if err := p.cur.Advance(); err != nil {
				return nil, err
			}
			childCond, err := p.parseCondition()
			if err != nil {
				return nil, err
			}
			if err := flush(); err != nil {
				return nil, err
			}
			child, err := p.parseFragments(childCond, false)
			if err != nil {
				return nil, err
			}
			children = append(children, child)

		case ch == '=' && p.cur.Col() == 1:
			run := 0
			for p.cur.Is('=') {
				run++
				if err := p.cur.Advance(); err != nil {
					return nil, err
				}
			}
			if run < 4 {
				// Too short for the end marker, re-emit as literal text.
				text.WriteString(strings.Repeat("=", run))
				continue
			}
			if !top {
				return nil, p.cur.Errorf("unterminated conditional fragment at end-of-script marker")
			}
			for !p.cur.EOF() && !p.cur.Is('\n') {
				if err := p.cur.Advance(); err != nil {
					return nil, err
				}
			}
			if err := p.cur.Advance(); err != nil {
				return nil, err
			}
			return finish()

		case ch == '{':
			depth++
			text.WriteRune('{')
			if err := p.cur.Advance(); err != nil {
				return nil, err
			}

		case ch == '}':
			if depth > 0 {
				depth--
				text.WriteRune('}')
				if err := p.cur.Advance(); err != nil {
					return nil, err
				}
				break
			}
			if top {
				return nil, p.cur.Errorf("unmatched '}' in script body")
			}
			if err := p.cur.Advance(); err != nil {
				return nil, err
			}
			return finish()

		default:
			text.WriteRune(ch)
			if err := p.cur.Advance(); err != nil {
				return nil, err
			}
		}
	}
}

// parseOptionalProps reads zero or more '.prop' traversals rooted at type t.
func (p *Parser) parseOptionalProps(t reflect.Type) ([]typeinfo.Accessor, error) {
	if ok, err := p.cur.Skip('.'); err != nil || !ok {
		return nil, err
	}
	return p.parseProps(t)
}

// parseExpressionRef parses the interior of a '?{...}' or '${...}' value
// expression after the opening brace has been consumed. It returns the query
// parameter the placeholder binds.
func (p *Parser) parseExpressionRef() (*script.QueryParam, error) {
	name, err := p.cur.ReadName()
	if err != nil {
		return nil, err
	}

	mode := script.ModeIn
	qualified := false
	if p.cur.Is('(') {
		switch name {
		case "IN":
			mode, qualified = script.ModeIn, true
		case "OUT":
			mode, qualified = script.ModeOut, true
		case "INOUT":
			mode, qualified = script.ModeInOut, true
		}
		if qualified {
			if err := p.cur.Advance(); err != nil {
				return nil, err
			}
			if name, err = p.cur.ReadName(); err != nil {
				return nil, err
			}
		}
	}

	var qp *script.QueryParam
	root, isInput := p.set.LookupInput(name)
	switch {
	case mode != script.ModeOut && isInput:
		accs, err := p.parseOptionalProps(root.HostType())
		if err != nil {
			return nil, err
		}
		st, err := p.parseStorageSuffix()
		if err != nil {
			return nil, err
		}
		expr := script.NewExpression(name, root.HostType(), accs, st)
		p.set.MarkUsed(name)
		qp = script.NewQueryParam(mode, expr)

	case mode != script.ModeOut && !isInput && qualified:
		return nil, p.cur.Errorf("expression references undeclared input parameter %q", name)

	default:
		// A plain or OUT-qualified reference to a declared OUT parameter:
		// its value comes from script execution output, not a result-set
		// row.
		out, err := p.set.ConsumeNamedOut(name)
		if err != nil {
			return nil, p.cur.Errorf("%s", err)
		}
		if p.cur.Is('.') {
			return nil, p.cur.Errorf("OUT parameter %q cannot have property traversals", name)
		}
		st, err := p.parseStorageSuffix()
		if err != nil {
			return nil, err
		}
		if st != script.DefaultStorage {
			out.SetStorageType(st)
		}
		qp = script.NewQueryParam(script.ModeOut, out)
	}

	if qualified {
		if err := p.cur.Require(')'); err != nil {
			return nil, err
		}
	}
	if err := p.cur.Require('}'); err != nil {
		return nil, err
	}
	return qp, nil
}

// parseCondition parses the interior of a '!(...)' inclusion condition after
// the opening parenthesis, up to and including the '{' that opens the
// conditional sub-fragment.
func (p *Parser) parseCondition() (script.Condition, error) {
	name, err := p.cur.ReadName()
	if err != nil {
		return nil, err
	}
	pred := ""
	if (name == "empty" || name == "true") && p.cur.Is('(') {
		pred = name
		if err := p.cur.Advance(); err != nil {
			return nil, err
		}
		if name, err = p.cur.ReadName(); err != nil {
			return nil, err
		}
	}

	root, ok := p.set.LookupInput(name)
	if !ok {
		return nil, p.cur.Errorf("condition references undeclared input parameter %q", name)
	}
	accs, err := p.parseOptionalProps(root.HostType())
	if err != nil {
		return nil, err
	}
	if pred != "" {
		if err := p.cur.Require(')'); err != nil {
			return nil, err
		}
	}
	if err := p.cur.Require(')'); err != nil {
		return nil, err
	}
	if err := p.cur.Require('{'); err != nil {
		return nil, err
	}

	expr := script.NewExpression(name, root.HostType(), accs, script.DefaultStorage)
	p.set.MarkUsed(name)
	qp := script.NewQueryParam(script.ModeIn, expr)
	switch pred {
	case "empty":
		return script.NewEmpty(qp), nil
	case "true":
		return script.NewTrue(qp), nil
	}
	return script.NewNonEmpty(qp), nil
}
