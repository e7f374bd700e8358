// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script_test

import (
	"reflect"
	"strings"

	. "gopkg.in/check.v1"

	"github.com/canonical/sqlscript/internal/script"
)

type sqlpartSuite struct{}

var _ = Suite(&sqlpartSuite{})

// buildTree assembles the tree of "SELECT ... [WHERE a = ?{town}] ORDER ..."
// with the WHERE fragment gated on town being non-empty.
func buildTree(c *C) (script.Fragment, *script.QueryParam) {
	town := script.NewTypeNameParam("town", "string", stringType, script.Varchar)
	qp := script.NewQueryParam(script.ModeIn, town)

	head, err := script.NewPart(script.Always{}, "SELECT * FROM t", nil)
	c.Assert(err, IsNil)
	where, err := script.NewPart(script.NewNonEmpty(qp), " WHERE a = ?", []*script.QueryParam{qp})
	c.Assert(err, IsNil)
	tail, err := script.NewPart(script.Always{}, " ORDER BY a", nil)
	c.Assert(err, IsNil)
	root, err := script.NewParts(script.Always{}, []script.Fragment{head, where, tail})
	c.Assert(err, IsNil)
	return root, qp
}

func assemble(c *C, f script.Fragment, args script.Args) (string, []*script.QueryParam) {
	var sql strings.Builder
	var params []*script.QueryParam
	c.Assert(f.Assemble(args, &sql, &params), IsNil)
	return sql.String(), params
}

func (s *sqlpartSuite) TestConditionalAssembly(c *C) {
	root, qp := buildTree(c)

	sql, params := assemble(c, root, script.Args{"town": reflect.ValueOf("Penzance")})
	c.Check(sql, Equals, "SELECT * FROM t WHERE a = ? ORDER BY a")
	c.Assert(params, HasLen, 1)
	c.Check(params[0], Equals, qp)

	// An empty value drops the fragment and its parameter.
	sql, params = assemble(c, root, script.Args{"town": reflect.ValueOf("")})
	c.Check(sql, Equals, "SELECT * FROM t ORDER BY a")
	c.Check(params, HasLen, 0)
}

func (s *sqlpartSuite) TestContainerConditionGatesChildren(c *C) {
	town := script.NewTypeNameParam("town", "string", stringType, script.Varchar)
	qp := script.NewQueryParam(script.ModeIn, town)
	child, err := script.NewPart(script.Always{}, "x", nil)
	c.Assert(err, IsNil)
	child2, err := script.NewPart(script.Always{}, "y", nil)
	c.Assert(err, IsNil)
	root, err := script.NewParts(script.NewNonEmpty(qp), []script.Fragment{child, child2})
	c.Assert(err, IsNil)

	sql, _ := assemble(c, root, script.Args{"town": reflect.ValueOf("")})
	c.Check(sql, Equals, "")
}

func (s *sqlpartSuite) TestConstructorInvariants(c *C) {
	_, err := script.NewPart(script.Always{}, "", nil)
	c.Assert(err, ErrorMatches, "internal error: empty SQL fragment")

	child, err := script.NewPart(script.Always{}, "x", nil)
	c.Assert(err, IsNil)
	_, err = script.NewParts(script.Always{}, []script.Fragment{child})
	c.Assert(err, ErrorMatches, "internal error: container fragment needs at least two children, got 1")
}

func (s *sqlpartSuite) TestString(c *C) {
	root, _ := buildTree(c)
	c.Check(root.String(), Equals,
		`Parts[Part[SELECT * FROM t] Part[!(parameter "town" (string))][ WHERE a = ?] Part[ ORDER BY a]]`)
}
