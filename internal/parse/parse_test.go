// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse_test

import (
	"strings"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/canonical/sqlscript/internal/parse"
	"github.com/canonical/sqlscript/internal/script"
	"github.com/canonical/sqlscript/internal/typebind"
	"github.com/canonical/sqlscript/internal/typeres"
)

func TestParse(t *testing.T) { TestingT(t) }

type parseSuite struct{}

var _ = Suite(&parseSuite{})

type Person struct {
	ID       int64  `db:"id"`
	Name     string `db:"name"`
	Address  *Address
	HomeTown string `db:"home_town"`
}

type Address struct {
	City string `db:"city"`
}

func load(c *C, input string, samples ...any) (map[string]*script.Script, error) {
	resolver := typeres.NewResolver()
	for _, sample := range samples {
		c.Assert(resolver.Register(sample), IsNil)
	}
	return parse.Load(strings.NewReader(input), resolver, typebind.Default())
}

var parseTests = []struct {
	summary  string
	input    string
	expected map[string]string
}{{
	summary: "bare script",
	input:   "one {SELECT 1;\n====\n",
	expected: map[string]string{
		"one": "Script[one Part[SELECT 1;\n]]",
	},
}, {
	summary: "two scripts",
	input:   "one {SELECT 1;\n====\ntwo {SELECT 2;\n====\n",
	expected: map[string]string{
		"one": "Script[one Part[SELECT 1;\n]]",
		"two": "Script[two Part[SELECT 2;\n]]",
	},
}, {
	summary: "input expression becomes a placeholder",
	input:   "q IN(string s) {SELECT * FROM t WHERE a = ?{s}\n====\n",
	expected: map[string]string{
		"q": "Script[q Part[SELECT * FROM t WHERE a = ?\n]]",
	},
}, {
	summary: "dollar expressions are equivalent",
	input:   "q IN(string s) {SELECT * FROM t WHERE a = ${s}\n====\n",
	expected: map[string]string{
		"q": "Script[q Part[SELECT * FROM t WHERE a = ?\n]]",
	},
}, {
	summary: "conditional fragment",
	input:   "q IN(string s) {SELECT * FROM t\n!(s){ WHERE a = ?{s}}\n====\n",
	expected: map[string]string{
		"q": `Script[q Parts[Part[SELECT * FROM t
] Part[!(parameter "s" (string))][ WHERE a = ?] Part[
]]]`,
	},
}, {
	summary: "empty and true predicates",
	input: "q IN(string s, boolean f) {X\n" +
		"!(empty(s)){ A ?{f}}\n" +
		"!(true(f)){ B ?{s}}\n" +
		"====\n",
	expected: map[string]string{
		"q": `Script[q Parts[Part[X
] Part[!(empty(parameter "s" (string)))][ A ?] Part[
] Part[!(true(parameter "f" (bool)))][ B ?] Part[
]]]`,
	},
}, {
	summary: "escapes pass through unescaped",
	input:   "q {a \\{ b \\} c \\? d \\\\ e \\n f\n====\n",
	expected: map[string]string{
		"q": "Script[q Part[a { b } c ? d \\ e \\n f\n]]",
	},
}, {
	summary: "balanced brace pairs need no escaping",
	input:   "q {SELECT {fn now()} FROM t\n====\n",
	expected: map[string]string{
		"q": "Script[q Part[SELECT {fn now()} FROM t\n]]",
	},
}, {
	summary: "short equals runs are literal",
	input:   "q {a\n=== b\n====\n",
	expected: map[string]string{
		"q": "Script[q Part[a\n=== b\n]]",
	},
}, {
	summary: "comments are stripped",
	input:   "q {SELECT 1 # trailing\n====\n",
	expected: map[string]string{
		"q": "Script[q Part[SELECT 1 \n]]",
	},
}, {
	summary: "literal bang and dollar",
	input:   "q {SELECT a != 1, $x\n!boom\n====\n",
	expected: map[string]string{
		"q": "Script[q Part[SELECT a != 1, $x\n!boom\n]]",
	},
}, {
	summary: "long end marker",
	input:   "q {SELECT 1;\n======== trailing noise\nnext {SELECT 2;\n====\n",
	expected: map[string]string{
		"q":    "Script[q Part[SELECT 1;\n]]",
		"next": "Script[next Part[SELECT 2;\n]]",
	},
}}

func (s *parseSuite) TestParseTree(c *C) {
	for _, t := range parseTests {
		c.Logf("test: %s", t.summary)
		scripts, err := load(c, t.input)
		c.Assert(err, IsNil)
		c.Assert(scripts, HasLen, len(t.expected))
		for name, expected := range t.expected {
			sc, ok := scripts[name]
			c.Assert(ok, Equals, true, Commentf("missing script %q", name))
			c.Check(sc.String(), Equals, expected)
		}
	}
}

var parseErrorTests = []struct {
	summary string
	input   string
	err     string
}{{
	summary: "unused input parameter",
	input:   "q IN(string s) {SELECT 1\n====\n",
	err:     `cannot load scripts: script "q": input parameter "s" declared but never referenced`,
}, {
	summary: "expression on undeclared name",
	input:   "q {SELECT ?{x}\n====\n",
	err:     `cannot load scripts: script "q": line 1, column \d+: no declared OUT parameter "x"`,
}, {
	summary: "condition on undeclared name",
	input:   "q {X\n!(x){y}\n====\n",
	err:     `cannot load scripts: script "q": line 2, column \d+: condition references undeclared input parameter "x"`,
}, {
	summary: "duplicate category",
	input:   "q IN(string a) IN(string b) {?{a} ?{b}\n====\n",
	err:     `cannot load scripts: script "q": duplicate IN category`,
}, {
	summary: "whitespace before category parenthesis",
	input:   "q IN (string a) {?{a}\n====\n",
	err:     `cannot load scripts: script "q": line 1, column \d+: expected '\(' immediately after IN`,
}, {
	summary: "alias after scripts",
	input:   "q {SELECT 1\n====\n!t=time.Time\n",
	err:     `cannot load scripts: line 3, column 1: alias declarations must precede all script declarations`,
}, {
	summary: "duplicate script name",
	input:   "q {SELECT 1\n====\nq {SELECT 2\n====\n",
	err:     `cannot load scripts: script "q" declared twice: first on line 1, again on line 3`,
}, {
	summary: "unknown storage type",
	input:   "q IN(string|BOGUS s) {?{s}\n====\n",
	err:     `cannot load scripts: script "q": line 1, column \d+: unknown SQL type "BOGUS" .*`,
}, {
	summary: "incompatible storage type",
	input:   "q IN(long|VARCHAR n) {?{n}\n====\n",
	err:     `cannot load scripts: script "q": parameter "n" \(int64\): unsupported storage type VARCHAR .*`,
}, {
	summary: "unknown type",
	input:   "q IN(Widget w) {?{w}\n====\n",
	err:     `cannot load scripts: script "q": line 1, column \d+: cannot resolve type "Widget" \(tried namespaces builtin, time, sql\)`,
}, {
	summary: "missing end marker",
	input:   "q {SELECT 1\n",
	err:     `cannot load scripts: script "q": line \d+, column \d+: missing end-of-script marker "===="`,
}, {
	summary: "end marker inside conditional",
	input:   "q IN(string s) {a\n!(s){b\n====\n",
	err:     `cannot load scripts: script "q": line 3, column \d+: unterminated conditional fragment at end-of-script marker`,
}, {
	summary: "unmatched closing brace",
	input:   "q {a}b\n====\n",
	err:     `cannot load scripts: script "q": line 1, column \d+: unmatched '}' in script body`,
}, {
	summary: "unknown hint",
	input:   "q HINT(bogus=1) {SELECT 1\n====\n",
	err:     `cannot load scripts: script "q": line 1, column \d+: unknown hint "bogus" .*`,
}, {
	summary: "unknown category",
	input:   "q FROB(x) {SELECT 1\n====\n",
	err:     `cannot load scripts: script "q": line 1, column \d+: unknown category "FROB"`,
}}

func (s *parseSuite) TestParseErrors(c *C) {
	for _, t := range parseErrorTests {
		c.Logf("test: %s", t.summary)
		_, err := load(c, t.input)
		c.Check(err, ErrorMatches, t.err)
	}
}

func (s *parseSuite) TestAliasResolution(c *C) {
	scripts, err := load(c, "!P=parse_test.Person\nq IN(P p) {?{p.name}\n====\n", Person{})
	c.Assert(err, IsNil)
	sc := scripts["q"]
	c.Assert(sc, NotNil)
	c.Check(sc.Inputs().Len(), Equals, 1)
	c.Check(sc.Inputs().At(0).TypeToken(), Equals, "P")
}

// A bean-typed input is bound through its property expressions and needs no
// converter of its own; only an explicit storage declaration demands one.
func (s *parseSuite) TestBeanInputResolution(c *C) {
	scripts, err := load(c, "q IN(Person p) {X ?{p.name}\n====\n", Person{})
	c.Assert(err, IsNil)
	c.Check(scripts["q"].Inputs().At(0).StorageType(), Equals, script.DefaultStorage)

	_, err = load(c, "q IN(Person|VARCHAR p) {X ?{p.name}\n====\n", Person{})
	c.Assert(err, ErrorMatches, `cannot load scripts: script "q": parameter "p" \(parse_test.Person\): no converter for host type parse_test.Person`)
}

func (s *parseSuite) TestInputSerializationRoundTrip(c *C) {
	scripts, err := load(c, "q IN(string a, long|NUMERIC b) {?{a} ?{b}\n====\n")
	c.Assert(err, IsNil)
	first := scripts["q"].Inputs().String()
	// Defaulted storage types are resolved at load, so they serialize
	// explicitly.
	c.Check(first, Equals, "IN(string|VARCHAR a, long|NUMERIC b)")

	// Feeding the serialization back through the parser is stable.
	scripts, err = load(c, "q "+first+" {?{a} ?{b}\n====\n")
	c.Assert(err, IsNil)
	c.Check(scripts["q"].Inputs().String(), Equals, first)
}

func (s *parseSuite) TestShapes(c *C) {
	scripts, err := load(c,
		"simple {SELECT 1\n====\n"+
			"param IN(long n) {SELECT ?{n}\n====\n"+
			"proc IN(long n) {CALL f(?{INOUT(n)})\n====\n"+
			"named OUT(long total) {SELECT set_total(?{total})\n====\n")
	c.Assert(err, IsNil)
	c.Check(scripts["simple"].Shape(), Equals, script.Simple)
	c.Check(scripts["param"].Shape(), Equals, script.Parameterized)
	c.Check(scripts["proc"].Shape(), Equals, script.ProcedureCall)
	c.Check(scripts["named"].Shape(), Equals, script.ProcedureCall)
}

func (s *parseSuite) TestPositionalOutParams(c *C) {
	scripts, err := load(c, "q OUT(long, string|CLOB) {SELECT a, b FROM t\n====\n")
	c.Assert(err, IsNil)
	outputs := scripts["q"].Outputs()
	c.Check(outputs.RowSlots(), Equals, 2)
	c.Assert(outputs.RowWriters(), HasLen, 2)
	c.Check(outputs.RowWriters()[0].Param.StorageType(), Equals, script.BigInt)
	c.Check(outputs.RowWriters()[1].Param.StorageType(), Equals, script.Clob)
	c.Check(outputs.HasKeys(), Equals, false)
}

func (s *parseSuite) TestBeanOutParams(c *C) {
	scripts, err := load(c, "q OUT(Person[id, name, home_town]) {SELECT id, name, home_town FROM t\n====\n", Person{})
	c.Assert(err, IsNil)
	outputs := scripts["q"].Outputs()
	// Three column writers, one bean slot.
	c.Check(outputs.RowSlots(), Equals, 1)
	c.Check(outputs.RowWriters(), HasLen, 3)
}

func (s *parseSuite) TestNamedOutConsumed(c *C) {
	scripts, err := load(c, "q OUT(long a, long b) {SELECT f(?{a}), x FROM t\n====\n")
	c.Assert(err, IsNil)
	outputs := scripts["q"].Outputs()
	// "a" is filled from the statement output, only "b" drains from rows.
	c.Check(outputs.RowSlots(), Equals, 2)
	c.Assert(outputs.RowWriters(), HasLen, 1)
}

func (s *parseSuite) TestUpdateParams(c *C) {
	scripts, err := load(c,
		"q IN(Person p) UPDATE(KEYS(id -> p.id)) {INSERT INTO t (name) VALUES (?{p.name})\n====\n",
		Person{})
	c.Assert(err, IsNil)
	outputs := scripts["q"].Outputs()
	c.Check(outputs.HasRows(), Equals, false)
	c.Check(outputs.KeysSlots(), Equals, 0)
	c.Assert(outputs.KeysWriters(), HasLen, 1)
	c.Check(outputs.KeyColumns(), DeepEquals, []string{"id"})
}

func (s *parseSuite) TestGeneratedKeyOut(c *C) {
	scripts, err := load(c, "q IN(string n) OUT(KEYS(long)) {INSERT INTO t (name) VALUES (?{n})\n====\n")
	c.Assert(err, IsNil)
	outputs := scripts["q"].Outputs()
	c.Check(outputs.HasRows(), Equals, false)
	c.Check(outputs.KeysSlots(), Equals, 1)
	c.Assert(outputs.KeysWriters(), HasLen, 1)
}

func (s *parseSuite) TestNestedPropertyExpression(c *C) {
	scripts, err := load(c, "q IN(Person p) {SELECT * FROM t WHERE city = ?{p.Address.city}\n====\n", Person{}, Address{})
	c.Assert(err, IsNil)
	c.Check(scripts["q"].String(), Equals, "Script[q Part[SELECT * FROM t WHERE city = ?\n]]")
}

func (s *parseSuite) TestExpressionStorageOverride(c *C) {
	scripts, err := load(c, "q IN(string s) {SELECT ?{s|CLOB}\n====\n")
	c.Assert(err, IsNil)
	root := scripts["q"].Root().(*script.Part)
	c.Assert(root.Params(), HasLen, 1)
	c.Check(root.Params()[0].Param.StorageType(), Equals, script.Clob)
}

func (s *parseSuite) TestHints(c *C) {
	scripts, err := load(c, "q HINT(queryTimeout=5, maxRows=10) {SELECT 1\n====\n")
	c.Assert(err, IsNil)
	h := scripts["q"].Hints()
	c.Assert(h, NotNil)
	c.Check(h.Has("queryTimeout"), Equals, true)
	c.Check(h.MaxRows, Equals, 10)
}
