// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script_test

import (
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlscript/internal/script"
)

type storageSuite struct{}

var _ = Suite(&storageSuite{})

func (s *storageSuite) TestParse(c *C) {
	st, err := script.ParseStorageType("VARCHAR")
	c.Assert(err, IsNil)
	c.Check(st, Equals, script.Varchar)
	c.Check(st.String(), Equals, "VARCHAR")

	// The token is case-sensitive.
	_, err = script.ParseStorageType("varchar")
	c.Assert(err, ErrorMatches, `unknown SQL type "varchar" \(have BIGINT, BLOB, BOOLEAN, CHAR, CLOB, DATE, DECIMAL, DOUBLE, FLOAT, INTEGER, NUMERIC, REAL, SMALLINT, TIME, TIMESTAMP, TINYINT, VARCHAR\)`)
}

func (s *storageSuite) TestDefaultString(c *C) {
	c.Check(script.DefaultStorage.String(), Equals, "DEFAULT")
}
