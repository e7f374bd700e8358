// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package example shows script execution against PostgreSQL through the pgx
// stdlib driver: write-back of generated ids with UPDATE(...), conditional
// fragments and transactional execution.
package example

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/canonical/sqlscript"
)

type Person struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Team string `db:"team"`
}

const resource = `
createPerson {
	CREATE TABLE person (
		id bigserial PRIMARY KEY,
		name text NOT NULL,
		team text NOT NULL
	);
====

insertPerson IN(example.Person p) UPDATE(p.id) {
	INSERT INTO person (name, team) VALUES (?{p.name}, ?{p.team})
	RETURNING id;
====

findPeople IN(string team) OUT(example.Person[id, name, team]) {
	SELECT id, name, team FROM person
!(team){
	WHERE team = ?{team}
}
	ORDER BY id;
====

teamSizes OUT(string, long) HINT(queryTimeout=5) {
	SELECT team, count(*) FROM person GROUP BY team;
====

dropPerson {
	DROP TABLE person;
====
`

func example(dsn string) error {
	sqldb, err := sql.Open("pgx", dsn)
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

	if err := db.Query(ctx, scripts.Must("createPerson")).Run(); err != nil {
		return err
	}

	// Insert inside a transaction; the RETURNING id lands back in each
	// person through the UPDATE(p.id) expression.
	tx, err := db.Begin(ctx, nil)
	if err != nil {
		return err
	}
	people := []Person{
		{Name: "Alastair", Team: "engineering"},
		{Name: "Ed", Team: "engineering"},
		{Name: "Pedro", Team: "management"},
	}
	insert := scripts.Must("insertPerson")
	for i := range people {
		if err := tx.Query(ctx, insert, &people[i]).Run(); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, p := range people {
		fmt.Printf("%s got id %d\n", p.Name, p.ID)
	}

	var engineers []Person
	if err := db.Query(ctx, scripts.Must("findPeople"), "engineering").Slice(&engineers); err != nil {
		return err
	}
	for _, p := range engineers {
		fmt.Printf("%s is on the engineering team\n", p.Name)
	}

	sizes := map[string]int64{}
	if err := db.Query(ctx, scripts.Must("teamSizes")).Map(sizes); err != nil {
		return err
	}
	for team, n := range sizes {
		fmt.Printf("%s has %d member(s)\n", team, n)
	}

	return db.Query(ctx, scripts.Must("dropPerson")).Run()
}
