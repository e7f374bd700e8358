// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package script holds the data model shared by the resource parsers and the
// executor: storage types, parameter descriptors, fragment conditions, the
// conditional SQL fragment tree, execution hints and the compiled Script.
package script

import (
	"fmt"
	"sort"
	"strings"
)

// StorageType is the abstract wire/column type paired with a host type for
// conversion purposes. It mirrors the SQL type vocabulary accepted after '|'
// in parameter declarations.
type StorageType int

const (
	// DefaultStorage marks a parameter whose storage type was omitted and is
	// resolved lazily from the host type by the binding registry.
	DefaultStorage StorageType = iota
	Varchar
	Char
	Clob
	TinyInt
	SmallInt
	Integer
	BigInt
	Float
	Real
	Double
	Numeric
	Decimal
	Boolean
	Date
	Time
	Timestamp
	Blob
)

var storageNames = map[StorageType]string{
	Varchar:   "VARCHAR",
	Char:      "CHAR",
	Clob:      "CLOB",
	TinyInt:   "TINYINT",
	SmallInt:  "SMALLINT",
	Integer:   "INTEGER",
	BigInt:    "BIGINT",
	Float:     "FLOAT",
	Real:      "REAL",
	Double:    "DOUBLE",
	Numeric:   "NUMERIC",
	Decimal:   "DECIMAL",
	Boolean:   "BOOLEAN",
	Date:      "DATE",
	Time:      "TIME",
	Timestamp: "TIMESTAMP",
	Blob:      "BLOB",
}

var storageByName = func() map[string]StorageType {
	m := map[string]StorageType{}
	for st, name := range storageNames {
		m[name] = st
	}
	return m
}()

// ParseStorageType resolves the SQL type token used after '|' in a parameter
// declaration. The token is case-sensitive, matching the grammar.
func ParseStorageType(token string) (StorageType, error) {
	st, ok := storageByName[token]
	if !ok {
		names := make([]string, 0, len(storageByName))
		for name := range storageByName {
			names = append(names, name)
		}
		sort.Strings(names)
		return DefaultStorage, fmt.Errorf("unknown SQL type %q (have %s)", token, strings.Join(names, ", "))
	}
	return st, nil
}

// String returns the grammar spelling of the storage type.
func (st StorageType) String() string {
	if st == DefaultStorage {
		return "DEFAULT"
	}
	return storageNames[st]
}
