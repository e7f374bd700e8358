// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package sqlscript keeps SQL out of Go source: statements live in an external
script resource as named, parameterized scripts, loaded once and executed by
name.

A resource holds optional type alias declarations followed by script
declarations:

	!Person=myapp.Person

	findPeople IN(string town) OUT(Person[name, height_cm]) {
		SELECT name, height_cm FROM people
	!(town){
		WHERE home_town = ?{town}
	}
		ORDER BY name;
	====

A script is a name, optional IN(...), OUT(...), UPDATE(...) and HINT(...)
categories, and a body delimited by '{' and a line starting with '===='. The
body is SQL with two extensions: '?{...}' (or '${...}') embeds the value of a
declared parameter or one of its properties as a statement placeholder, and a
line-initial '!(...){' opens a fragment included only when its condition
holds against the bound values. The default condition includes the fragment
when the parameter value is non-empty; '!(empty(x)){' and '!(true(x)){'
invert and sharpen it.

Parameter types are written in host-independent terms: primitives such as
string, long or bytes, names from the builtin, time and sql namespaces, type
aliases, or the names of Go types registered as samples at load time.
Properties of registered struct types are resolved through their "db" tags,
falling back to the exported field name.

Scripts are loaded with Load, LoadFile or MustLoad and executed through a DB
(or a TX) wrapping a *database/sql.DB:

	scripts, err := sqlscript.Load(file, Person{})
	...
	db := sqlscript.NewDB(sqldb)
	var people []Person
	err = db.Query(ctx, scripts.Must("findPeople"), "Penzance").Slice(&people)

The result method chosen must match the script's output declaration: Run
discards results, Count returns the affected-row count, One and Row fetch a
single row, Slice and All accumulate every row, and Map stores two-column
results keyed by the first column.
*/
package sqlscript
