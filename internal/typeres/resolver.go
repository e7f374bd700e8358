// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package typeres resolves the textual type references of a script resource
// to Go types: alias table entries, lowercase primitive names, bare names
// probed against well-known namespaces, and fully qualified names.
package typeres

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"
)

// Namespace is a named table of types a bare uppercase reference is probed
// against.
type Namespace struct {
	Name  string
	Types map[string]reflect.Type
}

// primitives are the lowercase type names of the grammar.
var primitives = map[string]reflect.Type{
	"string":  reflect.TypeOf(""),
	"int":     reflect.TypeOf(int(0)),
	"long":    reflect.TypeOf(int64(0)),
	"short":   reflect.TypeOf(int16(0)),
	"byte":    reflect.TypeOf(byte(0)),
	"char":    reflect.TypeOf(rune(0)),
	"double":  reflect.TypeOf(float64(0)),
	"float":   reflect.TypeOf(float32(0)),
	"boolean": reflect.TypeOf(false),
	"bytes":   reflect.TypeOf([]byte(nil)),
}

// defaultNamespaces returns the three fixed fallback namespaces probed in
// order: host-language builtins, general utilities, database-adjacent types.
func defaultNamespaces() []Namespace {
	return []Namespace{{
		Name: "builtin",
		Types: map[string]reflect.Type{
			"String":    reflect.TypeOf(""),
			"Integer":   reflect.TypeOf(int(0)),
			"Long":      reflect.TypeOf(int64(0)),
			"Short":     reflect.TypeOf(int16(0)),
			"Byte":      reflect.TypeOf(byte(0)),
			"Character": reflect.TypeOf(rune(0)),
			"Double":    reflect.TypeOf(float64(0)),
			"Float":     reflect.TypeOf(float32(0)),
			"Boolean":   reflect.TypeOf(false),
			"Bytes":     reflect.TypeOf([]byte(nil)),
			"Object":    reflect.TypeOf((*any)(nil)).Elem(),
		},
	}, {
		Name: "time",
		Types: map[string]reflect.Type{
			"Time":     reflect.TypeOf(time.Time{}),
			"Duration": reflect.TypeOf(time.Duration(0)),
		},
	}, {
		Name: "sql",
		Types: map[string]reflect.Type{
			"NullString":  reflect.TypeOf(sql.NullString{}),
			"NullInt64":   reflect.TypeOf(sql.NullInt64{}),
			"NullInt32":   reflect.TypeOf(sql.NullInt32{}),
			"NullInt16":   reflect.TypeOf(sql.NullInt16{}),
			"NullFloat64": reflect.TypeOf(sql.NullFloat64{}),
			"NullBool":    reflect.TypeOf(sql.NullBool{}),
			"NullTime":    reflect.TypeOf(sql.NullTime{}),
			"RawBytes":    reflect.TypeOf(sql.RawBytes(nil)),
		},
	}}
}

// Resolver resolves type references for one script resource. It owns the
// alias table declared at the top of the resource and memoizes successful
// namespace probes into it. A resolver is single-threaded parser state.
type Resolver struct {
	aliases    map[string]reflect.Type
	namespaces []Namespace
	// registered holds caller-provided types looked up by bare name and by
	// qualified name in the fully-qualified step.
	registered map[string]reflect.Type
	// declared tracks alias names explicitly declared with '!name=...', as
	// opposed to memoized probes; redeclaring one is an error.
	declared map[string]bool
}

// NewResolver returns a resolver seeded with the fixed fallback namespaces.
func NewResolver() *Resolver {
	return &Resolver{
		aliases:    map[string]reflect.Type{},
		namespaces: defaultNamespaces(),
		registered: map[string]reflect.Type{},
		declared:   map[string]bool{},
	}
}

// Register makes the type of sample resolvable by its bare name and by its
// package-qualified name. Samples carry type information only.
func (r *Resolver) Register(sample any) error {
	if sample == nil {
		return fmt.Errorf("need valid type sample, got nil")
	}
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return fmt.Errorf("cannot register anonymous %s", t.Kind())
	}
	if dupe, ok := r.registered[t.Name()]; ok && dupe != t {
		return fmt.Errorf("two types registered with name %q: %s and %s", t.Name(), dupe, t)
	}
	r.registered[t.Name()] = t
	if pkg := t.PkgPath(); pkg != "" {
		short := pkg
		if i := strings.LastIndex(pkg, "/"); i >= 0 {
			short = pkg[i+1:]
		}
		r.registered[short+"."+t.Name()] = t
	}
	return nil
}

// DeclareAlias records an '!alias=qualified.Name' line. Alias names are
// case-sensitive and unique; redeclaring one is an error.
func (r *Resolver) DeclareAlias(name, qualified string) error {
	if r.declared[name] {
		return fmt.Errorf("alias %q declared twice", name)
	}
	t, err := r.qualified(qualified)
	if err != nil {
		return fmt.Errorf("cannot resolve alias %q: %s", name, err)
	}
	r.aliases[name] = t
	r.declared[name] = true
	return nil
}

// qualified resolves a dotted, fully qualified type name.
func (r *Resolver) qualified(name string) (reflect.Type, error) {
	if t, ok := r.registered[name]; ok {
		return t, nil
	}
	if i := strings.Index(name, "."); i >= 0 {
		ns, bare := name[:i], name[i+1:]
		for _, namespace := range r.namespaces {
			if namespace.Name != ns {
				continue
			}
			if t, ok := namespace.Types[bare]; ok {
				return t, nil
			}
		}
	}
	return nil, fmt.Errorf("unknown type %q", name)
}

// Resolve resolves a type token in grammar order: the alias table, lowercase
// primitives, the fallback namespaces for bare uppercase names, then fully
// qualified lookup. Successful non-alias resolutions are memoized into the
// alias table.
func (r *Resolver) Resolve(token string) (reflect.Type, error) {
	if t, ok := r.aliases[token]; ok {
		return t, nil
	}

	first, _ := firstRune(token)
	if unicode.IsLower(first) && !strings.Contains(token, ".") {
		if t, ok := primitives[token]; ok {
			r.aliases[token] = t
			return t, nil
		}
		// Registered types may carry lowercase names too.
		if t, ok := r.registered[token]; ok {
			r.aliases[token] = t
			return t, nil
		}
		return nil, fmt.Errorf("unknown primitive type %q", token)
	}

	if !strings.Contains(token, ".") {
		for _, namespace := range r.namespaces {
			if t, ok := namespace.Types[token]; ok {
				r.aliases[token] = t
				return t, nil
			}
		}
	}

	t, err := r.qualified(token)
	if err != nil {
		var tried []string
		for _, namespace := range r.namespaces {
			tried = append(tried, namespace.Name)
		}
		return nil, fmt.Errorf("cannot resolve type %q (tried namespaces %s)", token, strings.Join(tried, ", "))
	}
	r.aliases[token] = t
	return t, nil
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}
