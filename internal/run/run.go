// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package run executes compiled scripts against database/sql handles: it
// binds invocation arguments, assembles the per-invocation SQL, chooses the
// statement shape, and drains statement outputs, generated keys and result
// rows back into host values.
package run

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/canonical/sqlscript/internal/script"
	"github.com/canonical/sqlscript/internal/typebind"
)

// DBTX is the subset of database/sql methods the executor needs. *sql.DB,
// *sql.Tx and *sql.Conn all satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Result holds everything one execution produced. Row values appear in
// result-slot order; a bean populated from several columns occupies a single
// slot.
type Result struct {
	// Rows holds the drained primary result set, RowSlots values per row.
	Rows [][]reflect.Value
	// Keys holds the drained generated-keys result set.
	Keys [][]reflect.Value
	// UpdateCount is the affected-row count of a statement execution.
	UpdateCount    int64
	HasUpdateCount bool

	lastResult sql.Result
}

// Executor runs scripts on one database handle. It is stateless and safe for
// concurrent use.
type Executor struct {
	db       DBTX
	registry *typebind.Registry
}

// NewExecutor returns an executor over db converting through registry.
func NewExecutor(db DBTX, registry *typebind.Registry) *Executor {
	return &Executor{db: db, registry: registry}
}

// dest is the per-invocation value sink. The argument map lives for the whole
// invocation; the row slots and bean registry are reset for every result row.
type dest struct {
	args  script.Args
	row   []reflect.Value
	beans map[int]reflect.Value
}

func (d *dest) beginRow(slots int) {
	d.row = make([]reflect.Value, slots)
	d.beans = map[int]reflect.Value{}
}

func (d *dest) SetSlot(slot int, v reflect.Value) error {
	if slot < 0 || slot >= len(d.row) {
		return fmt.Errorf("internal error: result slot %d out of range [0, %d)", slot, len(d.row))
	}
	d.row[slot] = v
	return nil
}

func (d *dest) SetArg(name string, v reflect.Value) error {
	d.args[name] = v
	return nil
}

func (d *dest) Arg(name string) (reflect.Value, error) {
	v, ok := d.args[name]
	if !ok {
		return reflect.Value{}, fmt.Errorf("no value bound for parameter %q", name)
	}
	return v, nil
}

func (d *dest) Bean(slot int) (reflect.Value, bool) {
	bean, ok := d.beans[slot]
	return bean, ok
}

// RegisterBean records a freshly instantiated bean; the bean itself is the
// row value at its slot.
func (d *dest) RegisterBean(slot int, bean reflect.Value) error {
	d.beans[slot] = bean
	return d.SetSlot(slot, bean)
}

// Execute runs s with the positional invocation arguments, one per declared
// input parameter, and drains all its outputs.
func (e *Executor) Execute(ctx context.Context, s *script.Script, args []any) (*Result, error) {
	bound, err := bindArgs(s, args)
	if err != nil {
		return nil, fmt.Errorf("script %q: %s", s.Name(), err)
	}
	if h := s.Hints(); h != nil && h.Has("queryTimeout") {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.QueryTimeout)
		defer cancel()
	}

	res, err := e.execute(ctx, s, bound)
	if err != nil {
		return nil, fmt.Errorf("script %q: %s", s.Name(), err)
	}
	return res, nil
}

// bindArgs pairs positional invocation arguments with the declared input
// parameters.
func bindArgs(s *script.Script, args []any) (script.Args, error) {
	inputs := s.Inputs()
	if len(args) != inputs.Len() {
		return nil, fmt.Errorf("need %d argument(s), got %d", inputs.Len(), len(args))
	}
	bound := make(script.Args, len(args))
	for i, arg := range args {
		in := inputs.At(i)
		v, err := argValue(arg, in.HostType())
		if err != nil {
			return nil, fmt.Errorf("argument %d for %s: %s", i+1, in.Desc(), err)
		}
		bound[in.Name()] = v
	}
	return bound, nil
}

// argValue adapts one caller value to the parameter's host type. Assignable
// values pass as they are, numeric values convert across widths, and a
// pointer to the host type is kept as a pointer so that update expressions
// can write through it.
func argValue(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if v.Kind() == reflect.Pointer && v.Type().Elem().AssignableTo(t) {
		return v, nil
	}
	if numericKind(v.Kind()) && numericKind(t.Kind()) && v.Type().ConvertibleTo(t) {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", v.Type(), t)
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

// outBinding tracks one statement parameter registered for output: the holder
// the driver fills and the writer the scanned value goes to.
type outBinding struct {
	qp     *script.QueryParam
	conv   typebind.Converter
	holder *any
}

func (e *Executor) execute(ctx context.Context, s *script.Script, bound script.Args) (*Result, error) {
	sqlText, qparams, err := s.Assemble(bound)
	if err != nil {
		return nil, err
	}

	d := &dest{args: bound}
	var driverArgs []any
	var outs []outBinding
	for _, qp := range qparams {
		conv, err := e.registry.Lookup(qp.Param.HostType())
		if err != nil {
			return nil, fmt.Errorf("%s: %s", qp.Desc(), err)
		}
		switch qp.Mode {
		case script.ModeIn:
			arg, err := bindValue(conv, qp, bound)
			if err != nil {
				return nil, err
			}
			driverArgs = append(driverArgs, arg)
		case script.ModeOut, script.ModeInOut:
			holder := new(any)
			if qp.Mode == script.ModeInOut {
				initial, err := bindValue(conv, qp, bound)
				if err != nil {
					return nil, err
				}
				*holder = initial
			}
			outs = append(outs, outBinding{qp: qp, conv: conv, holder: holder})
			driverArgs = append(driverArgs, sql.Out{Dest: holder, In: qp.Mode == script.ModeInOut})
		}
	}

	outputs := s.Outputs()
	res := &Result{}

	switch {
	case len(outs) > 0:
		// Procedure call: some outputs arrive through the registered
		// statement parameters. Generated keys and any remaining row columns
		// are still drained, in that order.
		if outputs.HasRows() {
			rows, err := e.query(ctx, s, sqlText, driverArgs)
			if err != nil {
				return nil, err
			}
			defer rows.Close()
			if err := e.drainResultSets(rows, s, outputs, res, d); err != nil {
				return nil, err
			}
			if err := e.scanOuts(outs, d, res, outputs, true); err != nil {
				return nil, err
			}
			return res, rows.Err()
		}
		if err := e.exec(ctx, s, sqlText, driverArgs, res); err != nil {
			return nil, err
		}
		if outputs.HasKeys() {
			if err := e.drainLastInsertID(res, outputs, d); err != nil {
				return nil, err
			}
		}
		if err := e.scanOuts(outs, d, res, outputs, false); err != nil {
			return nil, err
		}
		return res, nil

	case outputs.HasRows():
		rows, err := e.query(ctx, s, sqlText, driverArgs)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		if err := e.drainResultSets(rows, s, outputs, res, d); err != nil {
			return nil, err
		}
		return res, rows.Err()

	case outputs.HasKeys():
		if err := e.exec(ctx, s, sqlText, driverArgs, res); err != nil {
			return nil, err
		}
		if err := e.drainLastInsertID(res, outputs, d); err != nil {
			return nil, err
		}
		return res, nil

	default:
		if err := e.exec(ctx, s, sqlText, driverArgs, res); err != nil {
			return nil, err
		}
		return res, nil
	}
}

// bindValue reads the parameter's current value and converts it into a
// driver argument. Invalid values (an unset argument or a nil-short-circuited
// expression) and nil pointers bind as SQL NULL.
func bindValue(conv typebind.Converter, qp *script.QueryParam, args script.Args) (any, error) {
	v, err := readParam(qp, args)
	if err != nil {
		return nil, err
	}
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, nil
	}
	arg, err := conv.Bind(v, qp.Param.StorageType())
	if err != nil {
		return nil, fmt.Errorf("%s: %s", qp.Desc(), err)
	}
	return arg, nil
}

// drainResultSets drains the generated-keys result set (when declared, it
// precedes the primary one) and then the primary result set.
func (e *Executor) drainResultSets(rows *sql.Rows, s *script.Script, outputs *script.OutputParams, res *Result, d *dest) error {
	var err error
	if outputs.HasKeys() {
		if res.Keys, err = e.drain(rows, outputs.KeysWriters(), outputs.KeysSlots(), 0, d); err != nil {
			return err
		}
		if !rows.NextResultSet() {
			if err := rows.Err(); err != nil {
				return err
			}
			return fmt.Errorf("missing primary result set after generated keys")
		}
	}
	maxRows := 0
	if h := s.Hints(); h != nil {
		maxRows = h.MaxRows
	}
	res.Rows, err = e.drain(rows, outputs.RowWriters(), outputs.RowSlots(), maxRows, d)
	return err
}

// scanOuts converts the registered statement outputs and writes them through
// their parameters. When a result set was drained the out values fill their
// slots in every drained row; otherwise they form a single fresh row.
func (e *Executor) scanOuts(outs []outBinding, d *dest, res *Result, outputs *script.OutputParams, drained bool) error {
	vals := make([]reflect.Value, len(outs))
	for i, out := range outs {
		v, err := out.conv.Scan(*out.holder, out.qp.Param.HostType(), out.qp.Param.StorageType())
		if err != nil {
			return fmt.Errorf("%s: %s", out.qp.Desc(), err)
		}
		vals[i] = v
	}
	if drained {
		if len(res.Rows) == 0 {
			// No rows to fill slots in; written-back argument values still
			// land through their expressions.
			d.beginRow(outputs.RowSlots())
			for i, out := range outs {
				if err := writeParam(out.qp, d, vals[i]); err != nil {
					return err
				}
			}
			return nil
		}
		for _, row := range res.Rows {
			d.row = row
			for i, out := range outs {
				if err := writeParam(out.qp, d, vals[i]); err != nil {
					return err
				}
			}
		}
		return nil
	}
	d.beginRow(outputs.RowSlots())
	for i, out := range outs {
		if err := writeParam(out.qp, d, vals[i]); err != nil {
			return err
		}
	}
	if outputs.RowSlots() > 0 {
		res.Rows = append(res.Rows, d.row)
	}
	return nil
}

func readParam(qp *script.QueryParam, args script.Args) (reflect.Value, error) {
	reader, ok := qp.Param.(script.Reader)
	if !ok {
		return reflect.Value{}, fmt.Errorf("internal error: unreadable %s", qp.Desc())
	}
	return reader.Read(args)
}

func writeParam(qp *script.QueryParam, d *dest, v reflect.Value) error {
	writer, ok := qp.Param.(script.Writer)
	if !ok {
		return fmt.Errorf("internal error: unwritable %s", qp.Desc())
	}
	return writer.Write(d, v)
}

// exec runs the statement without draining a result set, preparing first for
// the parameterized shape.
func (e *Executor) exec(ctx context.Context, s *script.Script, sqlText string, args []any, res *Result) error {
	var result sql.Result
	var err error
	if s.Shape() == script.Parameterized {
		stmt, perr := e.db.PrepareContext(ctx, sqlText)
		if perr != nil {
			return perr
		}
		defer stmt.Close()
		result, err = stmt.ExecContext(ctx, args...)
	} else {
		result, err = e.db.ExecContext(ctx, sqlText, args...)
	}
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil {
		res.UpdateCount = n
		res.HasUpdateCount = true
	}
	res.lastResult = result
	return nil
}

func (e *Executor) query(ctx context.Context, s *script.Script, sqlText string, args []any) (*sql.Rows, error) {
	if s.Shape() == script.Parameterized {
		stmt, err := e.db.PrepareContext(ctx, sqlText)
		if err != nil {
			return nil, err
		}
		rows, err := stmt.QueryContext(ctx, args...)
		if err != nil {
			stmt.Close()
			return nil, err
		}
		return rows, nil
	}
	return e.db.QueryContext(ctx, sqlText, args...)
}

// drain reads every remaining row of the current result set, converting each
// column through its writer. maxRows caps the drained rows when positive.
func (e *Executor) drain(rows *sql.Rows, writers []*script.QueryParam, slots, maxRows int, d *dest) ([][]reflect.Value, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(cols) != len(writers) {
		return nil, fmt.Errorf("script drains %d output column(s) but the query returned %d", len(writers), len(cols))
	}

	var out [][]reflect.Value
	holders := make([]any, len(writers))
	raw := make([]any, len(writers))
	for i := range holders {
		holders[i] = &raw[i]
	}
	for rows.Next() {
		if maxRows > 0 && len(out) >= maxRows {
			break
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}
		d.beginRow(slots)
		for i, qp := range writers {
			v, err := e.scanColumn(raw[i], qp)
			if err != nil {
				return nil, err
			}
			if err := writeParam(qp, d, v); err != nil {
				return nil, err
			}
		}
		out = append(out, d.row)
	}
	return out, rows.Err()
}

func (e *Executor) scanColumn(src any, qp *script.QueryParam) (reflect.Value, error) {
	conv, err := e.registry.Lookup(qp.Param.HostType())
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%s: %s", qp.Desc(), err)
	}
	v, err := conv.Scan(src, qp.Param.HostType(), qp.Param.StorageType())
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%s: %s", qp.Desc(), err)
	}
	return v, nil
}

// drainLastInsertID fills a single generated-key target from the driver's
// last-insert id when the statement produced no result set to drain keys
// from.
func (e *Executor) drainLastInsertID(res *Result, outputs *script.OutputParams, d *dest) error {
	writers := outputs.KeysWriters()
	if len(writers) != 1 {
		return fmt.Errorf("driver reports a single generated key, script drains %d", len(writers))
	}
	if res.lastResult == nil {
		return fmt.Errorf("internal error: no statement result to read generated keys from")
	}
	id, err := res.lastResult.LastInsertId()
	if err != nil {
		return fmt.Errorf("cannot read generated key: %s", err)
	}
	qp := writers[0]
	v, err := e.scanColumn(id, qp)
	if err != nil {
		return err
	}
	d.beginRow(outputs.KeysSlots())
	if err := writeParam(qp, d, v); err != nil {
		return err
	}
	res.Keys = append(res.Keys, d.row)
	return nil
}
