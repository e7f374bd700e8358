// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script_test

import (
	"time"

	. "gopkg.in/check.v1"

	"github.com/canonical/sqlscript/internal/script"
)

type hintsSuite struct{}

var _ = Suite(&hintsSuite{})

func (s *hintsSuite) TestSet(c *C) {
	h := &script.Hints{}
	c.Assert(h.Set("queryTimeout", "30"), IsNil)
	c.Assert(h.Set("maxRows", "100"), IsNil)
	c.Assert(h.Set("readOnly", "true"), IsNil)

	c.Check(h.QueryTimeout, Equals, 30*time.Second)
	c.Check(h.MaxRows, Equals, 100)
	c.Check(h.ReadOnly, Equals, true)
	c.Check(h.Has("queryTimeout"), Equals, true)
	c.Check(h.Has("fetchSize"), Equals, false)
}

func (s *hintsSuite) TestErrors(c *C) {
	h := &script.Hints{}
	err := h.Set("nope", "1")
	c.Assert(err, ErrorMatches, `unknown hint "nope" \(have escapeProcessing, fetchSize, maxFieldSize, maxRows, poolable, queryTimeout, readOnly\)`)

	c.Assert(h.Set("maxRows", "-1"), ErrorMatches, `invalid value for hint "maxRows": need a non-negative integer, got -1`)
	c.Assert(h.Set("maxRows", "many"), ErrorMatches, `invalid value for hint "maxRows": need an integer, got "many"`)
	c.Assert(h.Set("poolable", "yes"), ErrorMatches, `invalid value for hint "poolable": need true or false, got "yes"`)

	c.Assert(h.Set("maxRows", "1"), IsNil)
	c.Assert(h.Set("maxRows", "2"), ErrorMatches, `hint "maxRows" set twice`)
}
