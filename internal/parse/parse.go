// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package parse reads a script resource: alias declarations followed by
// script declarations of the form
//
//	name IN(...) OUT(...) UPDATE(...) HINT(...) { body ====
//
// Parsing is strictly single-threaded; the parser and its scratch state must
// not escape the load call. The compiled scripts it produces are immutable.
package parse

import (
	"fmt"
	"io"
	"reflect"

	"github.com/canonical/sqlscript/internal/script"
	"github.com/canonical/sqlscript/internal/stream"
	"github.com/canonical/sqlscript/internal/typebind"
	"github.com/canonical/sqlscript/internal/typeinfo"
	"github.com/canonical/sqlscript/internal/typeres"
)

// Parser parses one script resource. The ParamsSet scratch object is reused
// script after script.
type Parser struct {
	cur      *stream.Cursor
	resolver *typeres.Resolver
	registry *typebind.Registry
	set      *script.ParamsSet
}

// Load parses the resource from r and returns the compiled scripts by name.
// Any grammar or validation failure aborts the whole load; the caller must
// not proceed with a partially loaded script set.
func Load(r io.Reader, resolver *typeres.Resolver, registry *typebind.Registry) (map[string]*script.Script, error) {
	p := &Parser{
		cur:      stream.New(r),
		resolver: resolver,
		registry: registry,
		set:      script.NewParamsSet(),
	}
	scripts, err := p.parseResource()
	if err != nil {
		return nil, fmt.Errorf("cannot load scripts: %s", err)
	}
	return scripts, nil
}

func (p *Parser) parseResource() (map[string]*script.Script, error) {
	if err := p.cur.Advance(); err != nil {
		return nil, err
	}
	scripts := map[string]*script.Script{}
	lines := map[string]int{}
	for {
		if err := p.cur.SkipSpace(); err != nil {
			return nil, err
		}
		if p.cur.EOF() {
			return scripts, nil
		}
		if p.cur.Is('!') {
			if len(scripts) > 0 {
				return nil, p.cur.Errorf("alias declarations must precede all script declarations")
			}
			if err := p.parseAlias(); err != nil {
				return nil, err
			}
			continue
		}
		s, err := p.parseScript()
		if err != nil {
			return nil, err
		}
		if first, ok := lines[s.Name()]; ok {
			return nil, fmt.Errorf("script %q declared twice: first on line %d, again on line %d", s.Name(), first, s.Line())
		}
		scripts[s.Name()] = s
		lines[s.Name()] = s.Line()
	}
}

// parseAlias reads one '!alias=fully.qualified.Name' line.
func (p *Parser) parseAlias() error {
	if err := p.cur.Require('!'); err != nil {
		return err
	}
	name, err := p.cur.ReadName()
	if err != nil {
		return err
	}
	if err := p.cur.Require('='); err != nil {
		return err
	}
	qualified, err := p.cur.ReadClassName()
	if err != nil {
		return err
	}
	if err := p.resolver.DeclareAlias(name, qualified); err != nil {
		return p.cur.Errorf("%s", err)
	}
	return nil
}

// parseScript reads one 'name categories? { body ====' declaration.
func (p *Parser) parseScript() (*script.Script, error) {
	line := p.cur.Line()
	name, err := p.cur.ReadName()
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*script.Script, error) {
		return nil, fmt.Errorf("script %q: %s", name, err)
	}

	p.set.Reset()
	seen := map[string]bool{}
	for {
		if err := p.cur.SkipSpace(); err != nil {
			return fail(err)
		}
		if ok, err := p.cur.Skip('{'); err != nil {
			return fail(err)
		} else if ok {
			break
		}
		keyword, err := p.cur.ReadName()
		if err != nil {
			return fail(p.cur.Errorf("expected category or '{'"))
		}
		if seen[keyword] {
			return fail(fmt.Errorf("duplicate %s category", keyword))
		}
		seen[keyword] = true
		// No whitespace is permitted between the keyword and its '('.
		if !p.cur.Is('(') {
			return fail(p.cur.Errorf("expected '(' immediately after %s", keyword))
		}
		if err := p.cur.Advance(); err != nil {
			return fail(err)
		}
		switch keyword {
		case "IN":
			err = p.parseInParams()
		case "OUT":
			err = p.parseOutParams(false)
		case "UPDATE":
			err = p.parseUpdateParams(false)
		case "HINT":
			err = p.parseHints()
		default:
			err = p.cur.Errorf("unknown category %q", keyword)
		}
		if err != nil {
			return fail(err)
		}
	}

	root, err := p.parseBody()
	if err != nil {
		return fail(err)
	}
	inputs, outputs, hints, err := p.set.Finish()
	if err != nil {
		return fail(err)
	}
	s := script.New(name, line, root, inputs, outputs, hints)
	if err := p.resolveStorageTypes(s); err != nil {
		return fail(err)
	}
	return s, nil
}

// parseTypeRef reads and resolves a type token with its optional '|SQLTYPE'
// suffix.
func (p *Parser) parseTypeRef() (token string, t reflect.Type, st script.StorageType, err error) {
	if err = p.cur.SkipSpace(); err != nil {
		return "", nil, script.DefaultStorage, err
	}
	token, err = p.cur.ReadClassName()
	if err != nil {
		return "", nil, script.DefaultStorage, err
	}
	t, err = p.resolver.Resolve(token)
	if err != nil {
		return "", nil, script.DefaultStorage, p.cur.Errorf("%s", err)
	}
	st, err = p.parseStorageSuffix()
	return token, t, st, err
}

// parseStorageSuffix reads an optional '|SQLTYPE'.
func (p *Parser) parseStorageSuffix() (script.StorageType, error) {
	if ok, err := p.cur.Skip('|'); err != nil || !ok {
		return script.DefaultStorage, err
	}
	tok, err := p.cur.ReadToken()
	if err != nil {
		return script.DefaultStorage, err
	}
	st, err := script.ParseStorageType(tok)
	if err != nil {
		return script.DefaultStorage, p.cur.Errorf("%s", err)
	}
	return st, nil
}

// parseInParams reads the comma-separated 'Type[|SQLTYPE] name' list of an
// IN(...) clause.
func (p *Parser) parseInParams() error {
	for {
		token, t, st, err := p.parseTypeRef()
		if err != nil {
			return err
		}
		if err := p.cur.SkipSpace(); err != nil {
			return err
		}
		name, err := p.cur.ReadName()
		if err != nil {
			return err
		}
		if _, err := p.set.AddInput(name, token, t, st); err != nil {
			return p.cur.Errorf("%s", err)
		}
		if done, err := p.endOfList(); err != nil || done {
			return err
		}
	}
}

// endOfList consumes a ',' separator or the closing ')' of a category list.
func (p *Parser) endOfList() (bool, error) {
	if err := p.cur.SkipSpace(); err != nil {
		return false, err
	}
	if ok, err := p.cur.Skip(','); err != nil || ok {
		return false, err
	}
	if err := p.cur.Require(')'); err != nil {
		return false, err
	}
	return true, nil
}

// parseOutParams reads an OUT(...) clause: named or positional result slots,
// bean-population forms, each optionally wrapped in KEYS(...) to target the
// generated-keys result set.
func (p *Parser) parseOutParams(keys bool) error {
	for {
		if err := p.cur.SkipSpace(); err != nil {
			return err
		}
		token, err := p.cur.ReadClassName()
		if err != nil {
			return err
		}

		if token == "KEYS" && p.cur.Is('(') {
			if keys {
				return p.cur.Errorf("nested KEYS(...)")
			}
			if err := p.cur.Advance(); err != nil {
				return err
			}
			if err := p.parseOutParams(true); err != nil {
				return err
			}
		} else if err := p.parseOutParam(token, keys); err != nil {
			return err
		}

		if done, err := p.endOfList(); err != nil || done {
			return err
		}
	}
}

// parseOutParam reads a single OUT entry whose type token has already been
// consumed. In a KEYS group the token may instead be a generated-key column
// name followed by '->'.
func (p *Parser) parseOutParam(token string, keys bool) error {
	if keys {
		if err := p.cur.SkipSpace(); err != nil {
			return err
		}
		if p.cur.Is('-') {
			if err := p.cur.Advance(); err != nil {
				return err
			}
			if err := p.cur.Require('>'); err != nil {
				return err
			}
			if err := p.cur.SkipSpace(); err != nil {
				return err
			}
			column := token
			token, err := p.cur.ReadClassName()
			if err != nil {
				return err
			}
			return p.parseTypedOutParam(token, keys, column)
		}
	}
	return p.parseTypedOutParam(token, keys, "")
}

func (p *Parser) parseTypedOutParam(token string, keys bool, keyColumn string) error {
	t, err := p.resolver.Resolve(token)
	if err != nil {
		return p.cur.Errorf("%s", err)
	}
	if keyColumn != "" {
		p.set.AddKeyColumn(keyColumn)
	}

	// Bean form: Type[prop|SQLTYPE, ...].
	if p.cur.Is('[') {
		if err := p.cur.Advance(); err != nil {
			return err
		}
		var props []script.BeanProp
		for {
			if err := p.cur.SkipSpace(); err != nil {
				return err
			}
			prop, err := p.cur.ReadName()
			if err != nil {
				return err
			}
			acc, err := typeinfo.LookupAccessor(t, prop)
			if err != nil {
				return p.cur.Errorf("%s", err)
			}
			st, err := p.parseStorageSuffix()
			if err != nil {
				return err
			}
			props = append(props, script.BeanProp{Accessor: acc, Storage: st})
			if err := p.cur.SkipSpace(); err != nil {
				return err
			}
			if ok, err := p.cur.Skip(','); err != nil {
				return err
			} else if !ok {
				break
			}
		}
		if err := p.cur.Require(']'); err != nil {
			return err
		}
		if _, err := p.set.AddBeanOut(t, props, keys); err != nil {
			return p.cur.Errorf("%s", err)
		}
		return nil
	}

	st, err := p.parseStorageSuffix()
	if err != nil {
		return err
	}
	if err := p.cur.SkipSpace(); err != nil {
		return err
	}
	// An identifier here names the slot, procedure style.
	if p.cur.Rune() != ',' && p.cur.Rune() != ')' && !p.cur.EOF() {
		name, err := p.cur.ReadName()
		if err != nil {
			return err
		}
		if _, err := p.set.AddNamedOut(name, token, t, st, keys); err != nil {
			return p.cur.Errorf("%s", err)
		}
		return nil
	}
	if _, err := p.set.AddPositionalOut(token, t, st, keys); err != nil {
		return p.cur.Errorf("%s", err)
	}
	return nil
}

// parseUpdateParams reads an UPDATE(...) clause: result columns written into
// properties of declared input parameters.
func (p *Parser) parseUpdateParams(keys bool) error {
	for {
		if err := p.cur.SkipSpace(); err != nil {
			return err
		}
		name, err := p.cur.ReadName()
		if err != nil {
			return err
		}

		if name == "KEYS" && p.cur.Is('(') {
			if keys {
				return p.cur.Errorf("nested KEYS(...)")
			}
			if err := p.cur.Advance(); err != nil {
				return err
			}
			if err := p.parseUpdateParams(true); err != nil {
				return err
			}
		} else if err := p.parseUpdateParam(name, keys); err != nil {
			return err
		}

		if done, err := p.endOfList(); err != nil || done {
			return err
		}
	}
}

// parseUpdateParam reads one 'paramName.prop[|SQLTYPE]' source, optionally
// prefixed by 'columnName ->' within a KEYS group.
func (p *Parser) parseUpdateParam(name string, keys bool) error {
	keyColumn := ""
	if keys {
		if err := p.cur.SkipSpace(); err != nil {
			return err
		}
		if p.cur.Is('-') {
			if err := p.cur.Advance(); err != nil {
				return err
			}
			if err := p.cur.Require('>'); err != nil {
				return err
			}
			if err := p.cur.SkipSpace(); err != nil {
				return err
			}
			keyColumn = name
			var err error
			name, err = p.cur.ReadName()
			if err != nil {
				return err
			}
		}
	}

	root, ok := p.set.LookupInput(name)
	if !ok {
		return p.cur.Errorf("update expression references undeclared input parameter %q", name)
	}
	if err := p.cur.Require('.'); err != nil {
		return err
	}
	accs, err := p.parseProps(root.HostType())
	if err != nil {
		return err
	}
	if len(accs) == 0 {
		return p.cur.Errorf("update expression needs a property of %q", name)
	}
	st, err := p.parseStorageSuffix()
	if err != nil {
		return err
	}
	expr := script.NewExpression(name, root.HostType(), accs, st)
	if err := p.set.AddUpdate(expr, keys, keyColumn); err != nil {
		return p.cur.Errorf("%s", err)
	}
	return nil
}

// parseProps reads a dotted property chain, resolving each accessor against
// the type of the previous step.
func (p *Parser) parseProps(t reflect.Type) ([]typeinfo.Accessor, error) {
	var accs []typeinfo.Accessor
	for {
		prop, err := p.cur.ReadName()
		if err != nil {
			return nil, err
		}
		acc, err := typeinfo.LookupAccessor(t, prop)
		if err != nil {
			return nil, p.cur.Errorf("%s", err)
		}
		accs = append(accs, acc)
		t = acc.Type()
		if ok, err := p.cur.Skip('.'); err != nil {
			return nil, err
		} else if !ok {
			return accs, nil
		}
	}
}

// parseHints reads the 'name=value' pairs of a HINT(...) clause.
func (p *Parser) parseHints() error {
	hints := &script.Hints{}
	for {
		if err := p.cur.SkipSpace(); err != nil {
			return err
		}
		name, err := p.cur.ReadName()
		if err != nil {
			return err
		}
		if err := p.cur.Require('='); err != nil {
			return err
		}
		value, err := p.cur.ReadToken()
		if err != nil {
			return err
		}
		if err := hints.Set(name, value); err != nil {
			return p.cur.Errorf("%s", err)
		}
		if done, err := p.endOfList(); err != nil {
			return err
		} else if done {
			return p.set.SetHints(hints)
		}
	}
}

// resolveStorageTypes validates every conversion slot of the script against
// the binding registry and fixes defaulted storage types.
func (p *Parser) resolveStorageTypes(s *script.Script) error {
	var params []script.Param
	for i := 0; i < s.Inputs().Len(); i++ {
		in := s.Inputs().At(i)
		if _, err := p.registry.Lookup(in.HostType()); err != nil {
			// A bean-typed input is bound through the property expressions
			// that reference it, never as a whole value; it needs a converter
			// of its own only when the declaration pairs it with an explicit
			// storage type.
			if in.StorageType() != script.DefaultStorage {
				return fmt.Errorf("%s: %s", in.Desc(), err)
			}
			continue
		}
		params = append(params, in)
	}
	params = append(params, s.Outputs().Params()...)

	var walk func(f script.Fragment)
	walk = func(f script.Fragment) {
		switch f := f.(type) {
		case *script.Part:
			for _, qp := range f.Params() {
				params = append(params, qp.Param)
			}
		case *script.Parts:
			for _, child := range f.Children() {
				walk(child)
			}
		}
	}
	walk(s.Root())

	for _, param := range params {
		if err := p.registry.ResolveParam(param); err != nil {
			return err
		}
	}
	return nil
}
