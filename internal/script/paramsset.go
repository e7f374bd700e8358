// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/canonical/sqlscript/internal/typeinfo"
)

// InputParams is the immutable container of a script's declared input
// parameters, in declaration order.
type InputParams struct {
	params []*TypeNameParam
	byName map[string]*TypeNameParam
}

// Len returns the number of declared input parameters.
func (ip *InputParams) Len() int {
	return len(ip.params)
}

// At returns the i-th declared input parameter.
func (ip *InputParams) At(i int) *TypeNameParam {
	return ip.params[i]
}

// Lookup finds a declared input parameter by name.
func (ip *InputParams) Lookup(name string) (*TypeNameParam, bool) {
	p, ok := ip.byName[name]
	return p, ok
}

// String re-serializes the declarations to the grammar form
// "IN(Type|SQLTYPE name, ...)". Parsing the result yields an equal parameter
// list.
func (ip *InputParams) String() string {
	if len(ip.params) == 0 {
		return ""
	}
	var out strings.Builder
	out.WriteString("IN(")
	for i, p := range ip.params {
		if i > 0 {
			out.WriteString(", ")
		}
		out.WriteString(p.TypeToken())
		if p.StorageType() != DefaultStorage {
			out.WriteString("|")
			out.WriteString(p.StorageType().String())
		}
		out.WriteString(" ")
		out.WriteString(p.Name())
	}
	out.WriteString(")")
	return out.String()
}

// OutputParams is the immutable container of a script's output targets: the
// per-column writers for the primary result set and for the generated-keys
// result set, plus the named procedure-style OUT parameters.
type OutputParams struct {
	// rowWriters receive the primary result-set columns, one writer per
	// column in order.
	rowWriters []*QueryParam
	// rowSlots is the number of distinct result-row slots (a bean populated
	// from several columns occupies a single slot).
	rowSlots int

	// keysWriters and keysSlots mirror rowWriters for the generated-keys
	// result set. keyColumns holds declared generated-key column names, when
	// the KEYS(column -> ...) form named them.
	keysWriters []*QueryParam
	keysSlots   int
	keyColumns  []string

	// namedOuts are the named OUT parameters by name. Those consumed by a
	// ?{...} reference in the body are filled from statement outputs and no
	// longer appear in rowWriters.
	namedOuts map[string]*TypeNameParam
}

// RowWriters returns the primary result-set column writers.
func (op *OutputParams) RowWriters() []*QueryParam {
	return op.rowWriters
}

// RowSlots returns the number of result-row slots per row.
func (op *OutputParams) RowSlots() int {
	return op.rowSlots
}

// KeysWriters returns the generated-keys column writers.
func (op *OutputParams) KeysWriters() []*QueryParam {
	return op.keysWriters
}

// KeysSlots returns the number of generated-keys slots.
func (op *OutputParams) KeysSlots() int {
	return op.keysSlots
}

// KeyColumns returns the declared generated-key column names, possibly empty.
func (op *OutputParams) KeyColumns() []string {
	return op.keyColumns
}

// HasRows reports whether the script drains a primary result set.
func (op *OutputParams) HasRows() bool {
	return len(op.rowWriters) > 0
}

// HasKeys reports whether the script drains generated keys.
func (op *OutputParams) HasKeys() bool {
	return len(op.keysWriters) > 0
}

type phase int

const (
	building phase = iota
	finished
)

// ParamsSet is the mutable parser scratch object, reused script after script
// within one resource load. It accumulates declared parameters, update
// expressions and hints, and on Finish drains them into immutable containers.
// It is not safe for concurrent use and must not escape the load call.
type ParamsSet struct {
	phase phase

	inputs []*TypeNameParam
	// declared maps every declared name, IN and OUT sharing one namespace.
	declared map[string]Param

	namedOuts   map[string]*TypeNameParam
	namedCount  int
	plainCount  int
	rowWriters  []*QueryParam
	rowSlots    int
	rowUpdates  bool
	rowOuts     bool
	keysWriters []*QueryParam
	keysSlots   int
	keysUpdates bool
	keysOuts    bool
	keyColumns  []string

	hints *Hints

	// used tracks input parameters referenced by the body or by an update
	// expression; unused declarations are a load-time error.
	used map[string]bool
	// consumed tracks named OUT parameters referenced by ?{...} in the body;
	// each may be consumed at most once.
	consumed map[string]bool
}

// NewParamsSet returns an empty scratch set.
func NewParamsSet() *ParamsSet {
	s := &ParamsSet{}
	s.Reset()
	return s
}

// Reset clears the set for the next script. Until parameters are added again
// every accessor yields empty defaults.
func (s *ParamsSet) Reset() {
	*s = ParamsSet{
		phase:     building,
		declared:  map[string]Param{},
		namedOuts: map[string]*TypeNameParam{},
		used:      map[string]bool{},
		consumed:  map[string]bool{},
	}
}

func (s *ParamsSet) checkMutable() error {
	if s.phase != building {
		return fmt.Errorf("internal error: params set already finished")
	}
	return nil
}

func (s *ParamsSet) declare(name string, p Param) error {
	if _, ok := s.declared[name]; ok {
		return fmt.Errorf("parameter %q declared twice", name)
	}
	s.declared[name] = p
	return nil
}

// AddInput declares an input parameter.
func (s *ParamsSet) AddInput(name, token string, t reflect.Type, st StorageType) (*TypeNameParam, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	p := NewTypeNameParam(name, token, t, st)
	if err := s.declare(name, p); err != nil {
		return nil, err
	}
	s.inputs = append(s.inputs, p)
	return p, nil
}

// outFamily routes an output declaration to the row or keys sequence.
func (s *ParamsSet) outFamily(keys bool) (*[]*QueryParam, *int) {
	if keys {
		return &s.keysWriters, &s.keysSlots
	}
	return &s.rowWriters, &s.rowSlots
}

func (s *ParamsSet) markOuts(keys bool) {
	if keys {
		s.keysOuts = true
	} else {
		s.rowOuts = true
	}
}

// AddNamedOut declares a named OUT parameter, procedure style. Named and
// unnamed OUT parameters must not be mixed within one script.
func (s *ParamsSet) AddNamedOut(name, token string, t reflect.Type, st StorageType, keys bool) (*TypeNameParam, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	if s.plainCount > 0 {
		return nil, fmt.Errorf("cannot mix named and unnamed OUT parameters")
	}
	writers, slots := s.outFamily(keys)
	p := NewNamedOutParam(name, token, t, st, *slots)
	if err := s.declare(name, p); err != nil {
		return nil, err
	}
	s.namedOuts[name] = p
	s.namedCount++
	*slots++
	*writers = append(*writers, NewQueryParam(ModeOut, p))
	s.markOuts(keys)
	return p, nil
}

// AddPositionalOut declares an unnamed OUT column.
func (s *ParamsSet) AddPositionalOut(token string, t reflect.Type, st StorageType, keys bool) (*TypeParam, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	if s.namedCount > 0 {
		return nil, fmt.Errorf("cannot mix named and unnamed OUT parameters")
	}
	writers, slots := s.outFamily(keys)
	p := NewTypeParam(token, t, st, *slots)
	s.plainCount++
	*slots++
	*writers = append(*writers, NewQueryParam(ModeOut, p))
	s.markOuts(keys)
	return p, nil
}

// BeanProp is one property of a bean output declaration.
type BeanProp struct {
	Accessor typeinfo.Accessor
	Storage  StorageType
}

// AddBeanOut declares a bean output populated from len(props) columns. The
// bean occupies a single result slot.
func (s *ParamsSet) AddBeanOut(beanType reflect.Type, props []BeanProp, keys bool) ([]*TypePropParam, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	if s.namedCount > 0 {
		return nil, fmt.Errorf("cannot mix named and unnamed OUT parameters")
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("bean output of %s declares no properties", beanType)
	}
	writers, slots := s.outFamily(keys)
	slot := *slots
	*slots++
	var ps []*TypePropParam
	for _, prop := range props {
		p := NewTypePropParam(beanType, prop.Accessor, prop.Storage, slot)
		*writers = append(*writers, NewQueryParam(ModeOut, p))
		ps = append(ps, p)
	}
	s.plainCount++
	s.markOuts(keys)
	return ps, nil
}

// AddKeyColumn records the generated-key column name of the keys entry just
// declared through the KEYS(column -> ...) form.
func (s *ParamsSet) AddKeyColumn(column string) {
	s.keyColumns = append(s.keyColumns, column)
}

// AddUpdate declares an update expression: a result (or generated-keys)
// column written into a property of a declared input parameter. keyColumn
// names the generated-key column for the KEYS(column -> ...) form.
func (s *ParamsSet) AddUpdate(e *Expression, keys bool, keyColumn string) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if _, ok := s.LookupInput(e.RootName()); !ok {
		return fmt.Errorf("update expression references undeclared input parameter %q", e.RootName())
	}
	// An update writes into the parameter's property, not a fresh result
	// slot, so the slot sequence does not advance.
	writers, _ := s.outFamily(keys)
	*writers = append(*writers, NewQueryParam(ModeOut, e))
	if keys {
		s.keysUpdates = true
		s.keyColumns = append(s.keyColumns, keyColumn)
	} else {
		s.rowUpdates = true
	}
	s.used[e.RootName()] = true
	return nil
}

// SetHints installs the parsed HINT clause.
func (s *ParamsSet) SetHints(h *Hints) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	s.hints = h
	return nil
}

// LookupInput finds a declared input parameter by name.
func (s *ParamsSet) LookupInput(name string) (*TypeNameParam, bool) {
	p, ok := s.declared[name].(*TypeNameParam)
	if !ok || p.Slot() >= 0 {
		return nil, false
	}
	return p, true
}

// MarkUsed records a body reference to a declared input parameter.
func (s *ParamsSet) MarkUsed(name string) {
	s.used[name] = true
}

// ConsumeNamedOut records a ?{...} body reference to a named OUT parameter.
// The parameter's value then comes from script execution output, so it is
// removed from the result-set drain list. Each named OUT parameter may be
// consumed at most once.
func (s *ParamsSet) ConsumeNamedOut(name string) (*TypeNameParam, error) {
	p, ok := s.namedOuts[name]
	if !ok {
		return nil, fmt.Errorf("no declared OUT parameter %q", name)
	}
	if s.consumed[name] {
		return nil, fmt.Errorf("OUT parameter %q referenced twice", name)
	}
	s.consumed[name] = true

	for i, qp := range s.rowWriters {
		if qp.Param == p {
			s.rowWriters = append(s.rowWriters[:i], s.rowWriters[i+1:]...)
			break
		}
	}
	return p, nil
}

// Finish validates the accumulated declarations and drains the set into
// immutable containers. The set must be Reset before the next script.
func (s *ParamsSet) Finish() (*InputParams, *OutputParams, *Hints, error) {
	if err := s.checkMutable(); err != nil {
		return nil, nil, nil, err
	}
	for _, in := range s.inputs {
		if !s.used[in.Name()] {
			return nil, nil, nil, fmt.Errorf("input parameter %q declared but never referenced", in.Name())
		}
	}
	if s.rowUpdates && s.rowOuts {
		return nil, nil, nil, fmt.Errorf("cannot mix OUT parameters and UPDATE expressions on the result set")
	}
	if s.keysUpdates && s.keysOuts {
		return nil, nil, nil, fmt.Errorf("cannot mix OUT parameters and UPDATE expressions on the generated keys")
	}
	s.phase = finished

	byName := make(map[string]*TypeNameParam, len(s.inputs))
	for _, in := range s.inputs {
		byName[in.Name()] = in
	}
	ip := &InputParams{params: s.inputs, byName: byName}
	op := &OutputParams{
		rowWriters:  s.rowWriters,
		rowSlots:    s.rowSlots,
		keysWriters: s.keysWriters,
		keysSlots:   s.keysSlots,
		keyColumns:  s.keyColumns,
		namedOuts:   s.namedOuts,
	}
	return ip, op, s.hints, nil
}

// Params returns every parameter that moves through a conversion slot, for
// storage-type resolution at load time.
func (op *OutputParams) Params() []Param {
	var ps []Param
	for _, qp := range op.rowWriters {
		ps = append(ps, qp.Param)
	}
	for _, qp := range op.keysWriters {
		ps = append(ps, qp.Param)
	}
	for _, p := range op.namedOuts {
		ps = append(ps, p)
	}
	return ps
}
