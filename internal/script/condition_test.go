// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script_test

import (
	"reflect"

	. "gopkg.in/check.v1"

	"github.com/canonical/sqlscript/internal/script"
	"github.com/canonical/sqlscript/internal/typeinfo"
)

type conditionSuite struct{}

var _ = Suite(&conditionSuite{})

var anyType = reflect.TypeOf((*any)(nil)).Elem()

func conditionArg(v any) (script.Args, *script.QueryParam) {
	p := script.NewTypeNameParam("x", "Object", anyType, script.DefaultStorage)
	qp := script.NewQueryParam(script.ModeIn, p)
	args := script.Args{}
	if v != nil {
		args["x"] = reflect.ValueOf(v)
	} else {
		args["x"] = reflect.Value{}
	}
	return args, qp
}

var emptinessTests = []struct {
	summary string
	value   any
	empty   bool
}{
	{"nil value", nil, true},
	{"empty string", "", true},
	{"non-empty string", "x", false},
	{"zero int is not empty", 0, false},
	{"false is not empty", false, false},
	{"empty slice", []string{}, true},
	{"non-empty slice", []string{"a"}, false},
	{"empty byte slice", []byte{}, true},
	{"empty map", map[string]int{}, true},
	{"non-empty map", map[string]int{"a": 1}, false},
	{"nil pointer", (*int)(nil), true},
	{"pointer to empty string", new(string), true},
}

// Empty must hold exactly when NonEmpty does not, whatever the value.
func (s *conditionSuite) TestEmptiness(c *C) {
	for _, t := range emptinessTests {
		args, qp := conditionArg(t.value)

		ok, err := script.NewNonEmpty(qp).OK(args)
		c.Assert(err, IsNil, Commentf("%s", t.summary))
		c.Check(ok, Equals, !t.empty, Commentf("NonEmpty: %s", t.summary))

		ok, err = script.NewEmpty(qp).OK(args)
		c.Assert(err, IsNil, Commentf("%s", t.summary))
		c.Check(ok, Equals, t.empty, Commentf("Empty: %s", t.summary))
	}
}

// True holds only for the boolean true: truthy strings and numbers do not
// satisfy it.
func (s *conditionSuite) TestTrueStrictness(c *C) {
	tests := []struct {
		value any
		ok    bool
	}{
		{true, true},
		{false, false},
		{"true", false},
		{"Y", false},
		{1, false},
		{nil, false},
		{ptrTo(true), true},
		{ptrTo(false), false},
		{(*bool)(nil), false},
	}
	for _, t := range tests {
		args, qp := conditionArg(t.value)
		ok, err := script.NewTrue(qp).OK(args)
		c.Assert(err, IsNil)
		c.Check(ok, Equals, t.ok, Commentf("value %#v", t.value))
	}
}

func ptrTo[T any](v T) *T { return &v }

func (s *conditionSuite) TestAlways(c *C) {
	ok, err := script.Always{}.OK(nil)
	c.Assert(err, IsNil)
	c.Check(ok, Equals, true)
	c.Check(script.Always{}.String(), Equals, "always")
}

func (s *conditionSuite) TestMissingValue(c *C) {
	p := script.NewTypeNameParam("x", "string", reflect.TypeOf(""), script.DefaultStorage)
	qp := script.NewQueryParam(script.ModeIn, p)
	_, err := script.NewNonEmpty(qp).OK(script.Args{})
	c.Assert(err, ErrorMatches, `no value bound for parameter "x" \(string\)`)
}

func (s *conditionSuite) TestString(c *C) {
	p := script.NewTypeNameParam("flag", "boolean", reflect.TypeOf(false), script.DefaultStorage)
	qp := script.NewQueryParam(script.ModeIn, p)
	c.Check(script.NewNonEmpty(qp).String(), Equals, `!(parameter "flag" (bool))`)
	c.Check(script.NewEmpty(qp).String(), Equals, `!(empty(parameter "flag" (bool)))`)
	c.Check(script.NewTrue(qp).String(), Equals, `!(true(parameter "flag" (bool)))`)
}

// A condition guarding a bare parameter reference renders like the declared
// parameter; property traversals render as an expression.
func (s *conditionSuite) TestExpressionString(c *C) {
	e := script.NewExpression("s", reflect.TypeOf(""), nil, script.DefaultStorage)
	qp := script.NewQueryParam(script.ModeIn, e)
	c.Check(script.NewNonEmpty(qp).String(), Equals, `!(parameter "s" (string))`)

	type pair struct{ Name string }
	acc, err := typeinfo.LookupAccessor(reflect.TypeOf(pair{}), "Name")
	c.Assert(err, IsNil)
	e = script.NewExpression("p", reflect.TypeOf(pair{}), []typeinfo.Accessor{acc}, script.DefaultStorage)
	qp = script.NewQueryParam(script.ModeIn, e)
	c.Check(script.NewNonEmpty(qp).String(), Equals, `!(expression "p.Name" (string))`)
}
