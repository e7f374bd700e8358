// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script_test

import (
	"reflect"

	. "gopkg.in/check.v1"

	"github.com/canonical/sqlscript/internal/script"
	"github.com/canonical/sqlscript/internal/typeinfo"
)

type paramsSetSuite struct{}

var _ = Suite(&paramsSetSuite{})

var (
	stringType = reflect.TypeOf("")
	int64Type  = reflect.TypeOf(int64(0))
)

func (s *paramsSetSuite) TestInputs(c *C) {
	set := script.NewParamsSet()
	_, err := set.AddInput("a", "string", stringType, script.DefaultStorage)
	c.Assert(err, IsNil)
	_, err = set.AddInput("b", "long", int64Type, script.BigInt)
	c.Assert(err, IsNil)
	set.MarkUsed("a")
	set.MarkUsed("b")

	inputs, outputs, hints, err := set.Finish()
	c.Assert(err, IsNil)
	c.Check(inputs.Len(), Equals, 2)
	c.Check(inputs.At(0).Name(), Equals, "a")
	c.Check(inputs.At(1).Name(), Equals, "b")
	c.Check(outputs.HasRows(), Equals, false)
	c.Check(outputs.HasKeys(), Equals, false)
	c.Check(hints, IsNil)

	p, ok := inputs.Lookup("b")
	c.Assert(ok, Equals, true)
	c.Check(p.HostType(), Equals, int64Type)
}

func (s *paramsSetSuite) TestDuplicateName(c *C) {
	set := script.NewParamsSet()
	_, err := set.AddInput("a", "string", stringType, script.DefaultStorage)
	c.Assert(err, IsNil)
	_, err = set.AddInput("a", "long", int64Type, script.DefaultStorage)
	c.Assert(err, ErrorMatches, `parameter "a" declared twice`)

	// IN and OUT names share one namespace.
	_, err = set.AddNamedOut("a", "long", int64Type, script.DefaultStorage, false)
	c.Assert(err, ErrorMatches, `parameter "a" declared twice`)
}

func (s *paramsSetSuite) TestUnusedInput(c *C) {
	set := script.NewParamsSet()
	_, err := set.AddInput("a", "string", stringType, script.DefaultStorage)
	c.Assert(err, IsNil)
	_, _, _, err = set.Finish()
	c.Assert(err, ErrorMatches, `input parameter "a" declared but never referenced`)
}

func (s *paramsSetSuite) TestOutSlots(c *C) {
	set := script.NewParamsSet()
	_, err := set.AddPositionalOut("long", int64Type, script.DefaultStorage, false)
	c.Assert(err, IsNil)
	_, err = set.AddPositionalOut("string", stringType, script.DefaultStorage, false)
	c.Assert(err, IsNil)
	// The keys sequence is independent of the row sequence.
	_, err = set.AddPositionalOut("long", int64Type, script.DefaultStorage, true)
	c.Assert(err, IsNil)

	_, outputs, _, err := set.Finish()
	c.Assert(err, IsNil)
	c.Check(outputs.RowSlots(), Equals, 2)
	c.Check(outputs.KeysSlots(), Equals, 1)
	c.Check(outputs.RowWriters(), HasLen, 2)
	c.Check(outputs.KeysWriters(), HasLen, 1)
}

func (s *paramsSetSuite) TestMixedOutNaming(c *C) {
	set := script.NewParamsSet()
	_, err := set.AddNamedOut("n", "long", int64Type, script.DefaultStorage, false)
	c.Assert(err, IsNil)
	_, err = set.AddPositionalOut("string", stringType, script.DefaultStorage, false)
	c.Assert(err, ErrorMatches, "cannot mix named and unnamed OUT parameters")

	set.Reset()
	_, err = set.AddPositionalOut("string", stringType, script.DefaultStorage, false)
	c.Assert(err, IsNil)
	_, err = set.AddNamedOut("n", "long", int64Type, script.DefaultStorage, false)
	c.Assert(err, ErrorMatches, "cannot mix named and unnamed OUT parameters")
}

type bean struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

func lookupAccessor(c *C, t reflect.Type, name string) typeinfo.Accessor {
	acc, err := typeinfo.LookupAccessor(t, name)
	c.Assert(err, IsNil)
	return acc
}

func (s *paramsSetSuite) TestBeanOutSingleSlot(c *C) {
	set := script.NewParamsSet()
	beanType := reflect.TypeOf(bean{})
	props := []script.BeanProp{
		{Accessor: lookupAccessor(c, beanType, "id"), Storage: script.DefaultStorage},
		{Accessor: lookupAccessor(c, beanType, "name"), Storage: script.DefaultStorage},
	}
	ps, err := set.AddBeanOut(beanType, props, false)
	c.Assert(err, IsNil)
	c.Assert(ps, HasLen, 2)
	// Both property writers target the one slot the bean occupies.
	c.Check(ps[0].Slot(), Equals, 0)
	c.Check(ps[1].Slot(), Equals, 0)

	_, outputs, _, err := set.Finish()
	c.Assert(err, IsNil)
	c.Check(outputs.RowSlots(), Equals, 1)
	c.Check(outputs.RowWriters(), HasLen, 2)
}

func (s *paramsSetSuite) TestUpdateDoesNotAdvanceSlots(c *C) {
	set := script.NewParamsSet()
	in, err := set.AddInput("p", "bean", reflect.TypeOf(bean{}), script.DefaultStorage)
	c.Assert(err, IsNil)
	expr := script.NewExpression("p", in.HostType(), nil, script.DefaultStorage)
	c.Assert(set.AddUpdate(expr, false, ""), IsNil)
	_, err = set.AddPositionalOut("long", int64Type, script.DefaultStorage, true)
	c.Assert(err, IsNil)

	_, outputs, _, err := set.Finish()
	c.Assert(err, IsNil)
	// The update writes through the input's property, not a result slot.
	c.Check(outputs.RowSlots(), Equals, 0)
	c.Check(outputs.RowWriters(), HasLen, 1)
	c.Check(outputs.KeysSlots(), Equals, 1)
}

func (s *paramsSetSuite) TestOutUpdateMixing(c *C) {
	newSet := func() (*script.ParamsSet, *script.Expression) {
		set := script.NewParamsSet()
		in, err := set.AddInput("p", "bean", reflect.TypeOf(bean{}), script.DefaultStorage)
		c.Assert(err, IsNil)
		return set, script.NewExpression("p", in.HostType(), nil, script.DefaultStorage)
	}

	// OUT and UPDATE on the same result set cannot be mixed.
	set, expr := newSet()
	c.Assert(set.AddUpdate(expr, false, ""), IsNil)
	_, err := set.AddPositionalOut("long", int64Type, script.DefaultStorage, false)
	c.Assert(err, IsNil)
	_, _, _, err = set.Finish()
	c.Assert(err, ErrorMatches, "cannot mix OUT parameters and UPDATE expressions on the result set")

	// Updates on the keys alongside OUT on the rows are fine.
	set, expr = newSet()
	c.Assert(set.AddUpdate(expr, true, "id"), IsNil)
	_, err = set.AddPositionalOut("long", int64Type, script.DefaultStorage, false)
	c.Assert(err, IsNil)
	_, outputs, _, err := set.Finish()
	c.Assert(err, IsNil)
	c.Check(outputs.RowSlots(), Equals, 1)
	c.Check(outputs.KeysSlots(), Equals, 0)
	c.Check(outputs.KeyColumns(), DeepEquals, []string{"id"})
}

func (s *paramsSetSuite) TestUpdateNeedsDeclaredInput(c *C) {
	set := script.NewParamsSet()
	expr := script.NewExpression("q", reflect.TypeOf(bean{}), nil, script.DefaultStorage)
	err := set.AddUpdate(expr, false, "")
	c.Assert(err, ErrorMatches, `update expression references undeclared input parameter "q"`)
}

func (s *paramsSetSuite) TestConsumeNamedOut(c *C) {
	set := script.NewParamsSet()
	_, err := set.AddNamedOut("total", "long", int64Type, script.DefaultStorage, false)
	c.Assert(err, IsNil)
	_, err = set.AddNamedOut("name", "string", stringType, script.DefaultStorage, false)
	c.Assert(err, IsNil)

	p, err := set.ConsumeNamedOut("total")
	c.Assert(err, IsNil)
	c.Check(p.Name(), Equals, "total")
	c.Check(p.Slot(), Equals, 0)

	// A consumed parameter no longer drains from the result set.
	_, outputs, _, err := set.Finish()
	c.Assert(err, IsNil)
	c.Check(outputs.RowWriters(), HasLen, 1)
	c.Check(outputs.RowSlots(), Equals, 2)
}

func (s *paramsSetSuite) TestConsumeNamedOutErrors(c *C) {
	set := script.NewParamsSet()
	_, err := set.ConsumeNamedOut("nope")
	c.Assert(err, ErrorMatches, `no declared OUT parameter "nope"`)

	_, err = set.AddNamedOut("total", "long", int64Type, script.DefaultStorage, false)
	c.Assert(err, IsNil)
	_, err = set.ConsumeNamedOut("total")
	c.Assert(err, IsNil)
	_, err = set.ConsumeNamedOut("total")
	c.Assert(err, ErrorMatches, `OUT parameter "total" referenced twice`)
}

func (s *paramsSetSuite) TestInputParamsString(c *C) {
	set := script.NewParamsSet()
	_, err := set.AddInput("a", "string", stringType, script.Varchar)
	c.Assert(err, IsNil)
	_, err = set.AddInput("b", "long", int64Type, script.DefaultStorage)
	c.Assert(err, IsNil)
	set.MarkUsed("a")
	set.MarkUsed("b")
	inputs, _, _, err := set.Finish()
	c.Assert(err, IsNil)
	c.Check(inputs.String(), Equals, "IN(string|VARCHAR a, long b)")
}
