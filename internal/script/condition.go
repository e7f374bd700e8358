// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script

import (
	"fmt"
	"reflect"
)

// Condition is a predicate over one parameter's current value that gates
// inclusion of one SQL fragment during per-invocation assembly.
type Condition interface {
	// OK evaluates the condition against the bound argument values.
	OK(args Args) (bool, error)
	// String renders the condition in grammar notation for debugging.
	String() string
}

// Always includes its fragment unconditionally.
type Always struct{}

func (Always) OK(Args) (bool, error) {
	return true, nil
}

func (Always) String() string {
	return "always"
}

// valueIsEmpty reports whether v is null, an empty string, an empty array of
// any element kind, or an empty collection. Boxed primitive and object
// element types are treated identically: only the length counts.
func valueIsEmpty(v reflect.Value) bool {
	if isNil(v) {
		return true
	}
	if v.Kind() == reflect.Interface {
		return valueIsEmpty(v.Elem())
	}
	switch v.Kind() {
	case reflect.String, reflect.Array, reflect.Slice, reflect.Map, reflect.Chan:
		return v.Len() == 0
	case reflect.Pointer:
		return valueIsEmpty(v.Elem())
	}
	return false
}

// conditionParam holds the guarded parameter shared by the value-dependent
// conditions.
type conditionParam struct {
	qp *QueryParam
}

func (c conditionParam) read(args Args) (reflect.Value, error) {
	reader, ok := c.qp.Param.(Reader)
	if !ok {
		return reflect.Value{}, fmt.Errorf("internal error: condition on unreadable %s", c.qp.Param.Desc())
	}
	return reader.Read(args)
}

// NonEmpty includes its fragment unless the guarded value is empty.
type NonEmpty struct {
	conditionParam
}

// NewNonEmpty returns the default condition of '!(param){...}'.
func NewNonEmpty(qp *QueryParam) *NonEmpty {
	return &NonEmpty{conditionParam{qp}}
}

func (c *NonEmpty) OK(args Args) (bool, error) {
	v, err := c.read(args)
	if err != nil {
		return false, err
	}
	return !valueIsEmpty(v), nil
}

func (c *NonEmpty) String() string {
	return fmt.Sprintf("!(%s)", c.qp.Param.Desc())
}

// Empty is the logical negation of NonEmpty's emptiness test.
type Empty struct {
	conditionParam
}

// NewEmpty returns the condition of '!(empty(param)){...}'.
func NewEmpty(qp *QueryParam) *Empty {
	return &Empty{conditionParam{qp}}
}

func (c *Empty) OK(args Args) (bool, error) {
	v, err := c.read(args)
	if err != nil {
		return false, err
	}
	return valueIsEmpty(v), nil
}

func (c *Empty) String() string {
	return fmt.Sprintf("!(empty(%s))", c.qp.Param.Desc())
}

// True includes its fragment iff the guarded value is the boolean true. The
// string "true", a non-zero number or a non-nil value do not satisfy it.
type True struct {
	conditionParam
}

// NewTrue returns the condition of '!(true(param)){...}'.
func NewTrue(qp *QueryParam) *True {
	return &True{conditionParam{qp}}
}

func (c *True) OK(args Args) (bool, error) {
	v, err := c.read(args)
	if err != nil {
		return false, err
	}
	if !v.IsValid() {
		return false, nil
	}
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return false, nil
		}
		v = v.Elem()
	}
	return v.Kind() == reflect.Bool && v.Bool(), nil
}

func (c *True) String() string {
	return fmt.Sprintf("!(true(%s))", c.qp.Param.Desc())
}
