// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package demo walks through loading a script resource and running its
// scripts against an in-memory SQLite database.
package demo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/canonical/sqlscript"
)

type Person struct {
	Name     string `db:"name"`
	Height   int    `db:"height_cm"`
	HomeTown string `db:"home_town"`
}

const resource = `
!Person=demo.Person

createPeople {
	CREATE TABLE people (
		name text,
		height_cm integer,
		home_town text
	);
====

insertPerson IN(Person p) {
	INSERT INTO people (name, height_cm, home_town)
	VALUES (?{p.name}, ?{p.height_cm}, ?{p.home_town});
====

findPeople IN(string town) OUT(Person[name, height_cm, home_town]) {
	SELECT name, height_cm, home_town FROM people
!(town){
	WHERE home_town = ?{town}
}
	ORDER BY name;
====

countPeople OUT(long) {
	SELECT count(*) FROM people;
====
`

func example() error {
	sqldb, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return err
	}
	defer sqldb.Close()

	scripts, err := sqlscript.Load(strings.NewReader(resource), Person{})
	if err != nil {
		return err
	}
	db := sqlscript.NewDB(sqldb)
	ctx := context.Background()

	if err := db.Query(ctx, scripts.Must("createPeople")).Run(); err != nil {
		return err
	}
	people := []Person{
		{Name: "Fred", Height: 176, HomeTown: "Penzance"},
		{Name: "Mark", Height: 182, HomeTown: "Penzance"},
		{Name: "Mary", Height: 168, HomeTown: "Glasgow"},
	}
	insert := scripts.Must("insertPerson")
	for i := range people {
		if err := db.Query(ctx, insert, &people[i]).Run(); err != nil {
			return err
		}
	}

	var total int64
	if err := db.Query(ctx, scripts.Must("countPeople")).One(&total); err != nil {
		return err
	}
	fmt.Printf("%d people\n", total)

	// The town argument gates the conditional WHERE fragment; an empty
	// string would make the same script list everybody.
	var locals []Person
	if err := db.Query(ctx, scripts.Must("findPeople"), "Penzance").Slice(&locals); err != nil {
		return err
	}
	for _, p := range locals {
		fmt.Printf("%s (%dcm) from %s\n", p.Name, p.Height, p.HomeTown)
	}
	return nil
}
