// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlscript

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync/atomic"

	"github.com/canonical/sqlscript/internal/parse"
	"github.com/canonical/sqlscript/internal/run"
	"github.com/canonical/sqlscript/internal/script"
	"github.com/canonical/sqlscript/internal/typebind"
	"github.com/canonical/sqlscript/internal/typeres"
)

var (
	// ErrNoRows is returned by result accessors that need at least one row
	// when the query produced none.
	ErrNoRows = sql.ErrNoRows
	// ErrTXDone is returned when an operation is performed on a transaction
	// that has already been committed or rolled back.
	ErrTXDone = sql.ErrTxDone
)

// Script is one named, compiled unit of SQL with its parameter metadata. It
// is immutable and safe for concurrent use.
type Script struct {
	inner *script.Script
}

// Name returns the script name.
func (s *Script) Name() string {
	return s.inner.Name()
}

// String renders the compiled fragment tree for debugging.
func (s *Script) String() string {
	return s.inner.String()
}

// Scripts is an immutable set of compiled scripts loaded from one resource.
type Scripts struct {
	scripts map[string]*Script
}

// Load parses a script resource from r. Type samples supply the Go types
// that script declarations may reference by bare or package-qualified name;
// a sample is any value of the type, typically a zero struct.
func Load(r io.Reader, samples ...any) (*Scripts, error) {
	resolver := typeres.NewResolver()
	for _, sample := range samples {
		if err := resolver.Register(sample); err != nil {
			return nil, fmt.Errorf("cannot load scripts: %s", err)
		}
	}
	compiled, err := parse.Load(r, resolver, typebind.Default())
	if err != nil {
		return nil, err
	}
	ss := &Scripts{scripts: make(map[string]*Script, len(compiled))}
	for name, s := range compiled {
		ss.scripts[name] = &Script{inner: s}
	}
	return ss, nil
}

// MustLoad is Load, panicking on error. Intended for resources compiled into
// the binary and loaded at package init time.
func MustLoad(r io.Reader, samples ...any) *Scripts {
	ss, err := Load(r, samples...)
	if err != nil {
		panic(err)
	}
	return ss
}

// LoadFile loads a script resource from a ".sqls" file.
func LoadFile(path string, samples ...any) (*Scripts, error) {
	if ext := filepath.Ext(path); ext != ".sqls" {
		return nil, fmt.Errorf("cannot load scripts: %q is not a .sqls file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load scripts: %s", err)
	}
	defer f.Close()
	return Load(f, samples...)
}

// Lookup finds a loaded script by name.
func (ss *Scripts) Lookup(name string) (*Script, error) {
	s, ok := ss.scripts[name]
	if !ok {
		return nil, fmt.Errorf("no script %q", name)
	}
	return s, nil
}

// Must finds a loaded script by name, panicking when it is absent.
func (ss *Scripts) Must(name string) *Script {
	s, err := ss.Lookup(name)
	if err != nil {
		panic(err)
	}
	return s
}

// Names returns the loaded script names, sorted.
func (ss *Scripts) Names() []string {
	names := make([]string, 0, len(ss.scripts))
	for name := range ss.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DB wraps a database handle for script execution.
type DB struct {
	db   *sql.DB
	exec *run.Executor
}

// NewDB returns a DB executing scripts on db with the process-wide converter
// registry.
func NewDB(db *sql.DB) *DB {
	return &DB{db: db, exec: run.NewExecutor(db, typebind.Default())}
}

// PlainDB returns the underlying database handle.
func (db *DB) PlainDB() *sql.DB {
	return db.db
}

// Query prepares an execution of s with one positional argument per declared
// input parameter. The script does not run until a result method is called.
func (db *DB) Query(ctx context.Context, s *Script, args ...any) *Query {
	return newQuery(ctx, db.exec, s, args)
}

// Begin starts a transaction.
func (db *DB) Begin(ctx context.Context, opts *sql.TxOptions) (*TX, error) {
	tx, err := db.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &TX{tx: tx, exec: run.NewExecutor(tx, typebind.Default())}, nil
}

// TX represents a database transaction.
type TX struct {
	tx   *sql.Tx
	exec *run.Executor
	done int32
}

func (tx *TX) finish() error {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return ErrTXDone
	}
	return nil
}

// Commit commits the transaction.
func (tx *TX) Commit() error {
	if err := tx.finish(); err != nil {
		return err
	}
	return tx.tx.Commit()
}

// Rollback aborts the transaction.
func (tx *TX) Rollback() error {
	if err := tx.finish(); err != nil {
		return err
	}
	return tx.tx.Rollback()
}

// Query prepares an execution of s on the transaction.
func (tx *TX) Query(ctx context.Context, s *Script, args ...any) *Query {
	if atomic.LoadInt32(&tx.done) == 1 {
		return &Query{err: ErrTXDone}
	}
	return newQuery(ctx, tx.exec, s, args)
}

// Query is one pending script execution. It runs once, when a result method
// is called; the chosen method must match the script's result shape, and a
// second result-method call on the same Query is an error.
type Query struct {
	ctx  context.Context
	err  error
	exec *run.Executor
	s    *Script
	args []any
	ran  bool
}

func newQuery(ctx context.Context, exec *run.Executor, s *Script, args []any) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Query{ctx: ctx, exec: exec, s: s, args: args}
}

func (q *Query) execute() (*run.Result, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.ran {
		return nil, fmt.Errorf("script %q: query already executed", q.s.Name())
	}
	q.ran = true
	return q.exec.Execute(q.ctx, q.s.inner, q.args)
}

// rows returns the drained result rows a result method should shape: the
// primary result set, or the generated keys when the script declares key
// outputs but no primary ones.
func (q *Query) rows(res *run.Result) ([][]reflect.Value, int) {
	outputs := q.s.inner.Outputs()
	if !outputs.HasRows() && outputs.KeysSlots() > 0 {
		return res.Keys, outputs.KeysSlots()
	}
	return res.Rows, outputs.RowSlots()
}

// Run executes the script and discards any results. Update expressions still
// write through to their argument properties.
func (q *Query) Run() error {
	_, err := q.execute()
	return err
}

// Count executes the script and returns the affected-row count.
func (q *Query) Count() (int64, error) {
	res, err := q.execute()
	if err != nil {
		return 0, err
	}
	if !res.HasUpdateCount {
		return 0, fmt.Errorf("script %q produced no update count", q.s.Name())
	}
	return res.UpdateCount, nil
}

// One executes the script and stores its single result value into dest, a
// pointer. The script must produce exactly one result slot and exactly one
// row; ErrNoRows is returned when the query matched nothing.
func (q *Query) One(dest any) error {
	res, err := q.execute()
	if err != nil {
		return err
	}
	rows, slots := q.rows(res)
	if slots != 1 {
		return fmt.Errorf("script %q produces %d result slots, need 1", q.s.Name(), slots)
	}
	switch {
	case len(rows) == 0:
		return ErrNoRows
	case len(rows) > 1:
		return fmt.Errorf("script %q returned %d rows, need one", q.s.Name(), len(rows))
	}
	return storeValue(dest, rows[0][0])
}

// Slice executes the script and appends every row's single result value to
// *dest, a pointer to a slice.
func (q *Query) Slice(dest any) error {
	res, err := q.execute()
	if err != nil {
		return err
	}
	rows, slots := q.rows(res)
	if slots != 1 {
		return fmt.Errorf("script %q produces %d result slots, need 1", q.s.Name(), slots)
	}
	dv, err := settableSlice(dest)
	if err != nil {
		return err
	}
	for _, row := range rows {
		elem := reflect.New(dv.Type().Elem()).Elem()
		if err := assignValue(elem, row[0]); err != nil {
			return err
		}
		dv.Set(reflect.Append(dv, elem))
	}
	return nil
}

// Row executes the script and stores the single result row into the given
// pointers, one per result slot. ErrNoRows is returned when the query matched
// nothing.
func (q *Query) Row(dests ...any) error {
	res, err := q.execute()
	if err != nil {
		return err
	}
	rows, slots := q.rows(res)
	if len(dests) != slots {
		return fmt.Errorf("script %q produces %d result slots, got %d destination(s)", q.s.Name(), slots, len(dests))
	}
	switch {
	case len(rows) == 0:
		return ErrNoRows
	case len(rows) > 1:
		return fmt.Errorf("script %q returned %d rows, need one", q.s.Name(), len(rows))
	}
	for i, dest := range dests {
		if err := storeValue(dest, rows[0][i]); err != nil {
			return err
		}
	}
	return nil
}

// All executes the script and appends every result row to *dest, a pointer
// to a slice of row slices.
func (q *Query) All(dest any) error {
	res, err := q.execute()
	if err != nil {
		return err
	}
	rows, _ := q.rows(res)
	dv, err := settableSlice(dest)
	if err != nil {
		return err
	}
	rowType := dv.Type().Elem()
	if rowType.Kind() != reflect.Slice {
		return fmt.Errorf("need a pointer to a slice of row slices, got %s", reflect.TypeOf(dest))
	}
	for _, row := range rows {
		rv := reflect.MakeSlice(rowType, len(row), len(row))
		for i, v := range row {
			if err := assignValue(rv.Index(i), v); err != nil {
				return err
			}
		}
		dv.Set(reflect.Append(dv, rv))
	}
	return nil
}

// Map executes the script and stores every result row into m, a non-nil map.
// The script must produce exactly two result slots per row: the key and the
// value.
func (q *Query) Map(m any) error {
	res, err := q.execute()
	if err != nil {
		return err
	}
	rows, slots := q.rows(res)
	if slots != 2 {
		return fmt.Errorf("script %q produces %d result slots, need 2 (key, value)", q.s.Name(), slots)
	}
	mv := reflect.ValueOf(m)
	if mv.Kind() != reflect.Map || mv.IsNil() {
		return fmt.Errorf("need a non-nil map, got %s", reflect.TypeOf(m))
	}
	mt := mv.Type()
	for _, row := range rows {
		key := reflect.New(mt.Key()).Elem()
		if err := assignValue(key, row[0]); err != nil {
			return err
		}
		value := reflect.New(mt.Elem()).Elem()
		if err := assignValue(value, row[1]); err != nil {
			return err
		}
		mv.SetMapIndex(key, value)
	}
	return nil
}

// storeValue stores v through the pointer dest.
func storeValue(dest any, v reflect.Value) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("need a non-nil pointer destination, got %s", reflect.TypeOf(dest))
	}
	return assignValue(dv.Elem(), v)
}

// settableSlice checks that dest is a non-nil pointer to a slice and returns
// the slice value.
func settableSlice(dest any) (reflect.Value, error) {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() || dv.Elem().Kind() != reflect.Slice {
		return reflect.Value{}, fmt.Errorf("need a non-nil pointer to a slice, got %s", reflect.TypeOf(dest))
	}
	return dv.Elem(), nil
}

// assignValue stores v into the settable dst, zeroing it for SQL nulls and
// converting across numeric widths.
func assignValue(dst reflect.Value, v reflect.Value) error {
	if !v.IsValid() {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	t := dst.Type()
	if v.Type().AssignableTo(t) {
		dst.Set(v)
		return nil
	}
	if t.Kind() == reflect.Pointer && v.Type().AssignableTo(t.Elem()) && v.CanAddr() {
		dst.Set(v.Addr())
		return nil
	}
	if numericKind(v.Kind()) && numericKind(t.Kind()) && v.Type().ConvertibleTo(t) {
		dst.Set(v.Convert(t))
		return nil
	}
	return fmt.Errorf("cannot store %s into %s", v.Type(), t)
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
