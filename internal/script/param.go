// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script

import (
	"fmt"
	"reflect"

	"github.com/canonical/sqlscript/internal/typeinfo"
)

// Args is the name to value map seeded from the call arguments of one
// invocation. It is owned by a single QueryContext and never shared.
type Args map[string]reflect.Value

// Dest receives the values a script execution produces: result-row slots,
// bean instances populated column by column, and written-back argument
// values.
type Dest interface {
	// SetSlot stores a value at a result-row slot.
	SetSlot(slot int, v reflect.Value) error
	// SetArg writes a value back into the invocation argument map.
	SetArg(name string, v reflect.Value) error
	// Arg returns the bound value of a named argument.
	Arg(name string) (reflect.Value, error)
	// Bean returns the bean instance registered at a result-row slot.
	Bean(slot int) (reflect.Value, bool)
	// RegisterBean records a freshly instantiated bean at a result-row slot.
	RegisterBean(slot int, bean reflect.Value) error
}

// Param is a conversion slot: a host type (never nil) paired with a storage
// type. A parameter declared without '|SQLTYPE' carries DefaultStorage until
// the binding registry resolves the default at load time.
type Param interface {
	// HostType is the Go type of the value moving through this slot.
	HostType() reflect.Type
	// StorageType is the abstract column type paired with the host type.
	StorageType() StorageType
	// SetStorageType fixes the storage type resolved by the binding registry.
	// It is called once, during load.
	SetStorageType(StorageType)
	// Desc describes the parameter for error messages.
	Desc() string
}

// Reader is implemented by parameters whose current value can be read from
// the invocation arguments.
type Reader interface {
	Read(args Args) (reflect.Value, error)
}

// Writer is implemented by parameters that receive a value produced by script
// execution.
type Writer interface {
	Write(dest Dest, v reflect.Value) error
}

type paramBase struct {
	hostType reflect.Type
	storage  StorageType
	// token is the textual type reference the parameter was declared with,
	// kept for re-serialization of declarations.
	token string
}

func (p *paramBase) HostType() reflect.Type {
	return p.hostType
}

// TypeToken returns the textual type reference from the declaration.
func (p *paramBase) TypeToken() string {
	return p.token
}

func (p *paramBase) StorageType() StorageType {
	return p.storage
}

func (p *paramBase) SetStorageType(st StorageType) {
	p.storage = st
}

// TypeNameParam is a named, bidirectional parameter: a declared IN parameter
// or a named OUT parameter. Named OUT parameters additionally carry the
// result-row slot their value lands in.
type TypeNameParam struct {
	paramBase
	name string
	// slot is the result-row slot index, -1 for plain input parameters.
	slot int
}

// NewTypeNameParam returns a named input parameter declared by token.
func NewTypeNameParam(name, token string, hostType reflect.Type, storage StorageType) *TypeNameParam {
	return &TypeNameParam{paramBase: paramBase{hostType: hostType, storage: storage, token: token}, name: name, slot: -1}
}

// NewNamedOutParam returns a named output parameter targeting a result slot.
func NewNamedOutParam(name, token string, hostType reflect.Type, storage StorageType, slot int) *TypeNameParam {
	return &TypeNameParam{paramBase: paramBase{hostType: hostType, storage: storage, token: token}, name: name, slot: slot}
}

// Name returns the declared parameter name.
func (p *TypeNameParam) Name() string {
	return p.name
}

// Slot returns the result-row slot of a named OUT parameter, or -1.
func (p *TypeNameParam) Slot() int {
	return p.slot
}

func (p *TypeNameParam) Desc() string {
	return fmt.Sprintf("parameter %q (%s)", p.name, p.hostType)
}

// Read returns the bound value of the parameter.
func (p *TypeNameParam) Read(args Args) (reflect.Value, error) {
	v, ok := args[p.name]
	if !ok {
		return reflect.Value{}, fmt.Errorf("no value bound for %s", p.Desc())
	}
	return v, nil
}

// Write stores an execution output. Named OUT parameters with a result slot
// fill that slot; otherwise the value is written back into the argument map.
func (p *TypeNameParam) Write(dest Dest, v reflect.Value) error {
	if p.slot >= 0 {
		return dest.SetSlot(p.slot, v)
	}
	return dest.SetArg(p.name, v)
}

// TypeParam is an unnamed, write-only parameter tied to a fixed result-row
// slot. It describes one positional OUT column.
type TypeParam struct {
	paramBase
	slot int
}

// NewTypeParam returns a positional output parameter for a result slot.
func NewTypeParam(token string, hostType reflect.Type, storage StorageType, slot int) *TypeParam {
	return &TypeParam{paramBase: paramBase{hostType: hostType, storage: storage, token: token}, slot: slot}
}

// Slot returns the result-row slot index.
func (p *TypeParam) Slot() int {
	return p.slot
}

func (p *TypeParam) Desc() string {
	return fmt.Sprintf("output column %d (%s)", p.slot+1, p.hostType)
}

// Write fills the parameter's result slot.
func (p *TypeParam) Write(dest Dest, v reflect.Value) error {
	return dest.SetSlot(p.slot, v)
}

// TypePropParam is a write-only parameter describing one property of a bean
// instance populated from one result column. The first write against a slot
// instantiates the bean and registers it there.
type TypePropParam struct {
	paramBase
	beanType reflect.Type
	prop     typeinfo.Accessor
	slot     int
}

// NewTypePropParam returns a bean-property output parameter. The property
// accessor determines the host type of the column value.
func NewTypePropParam(beanType reflect.Type, prop typeinfo.Accessor, storage StorageType, slot int) *TypePropParam {
	return &TypePropParam{
		paramBase: paramBase{hostType: prop.Type(), storage: storage, token: prop.Name()},
		beanType:  beanType,
		prop:      prop,
		slot:      slot,
	}
}

// Slot returns the result-row slot the owning bean is registered at.
func (p *TypePropParam) Slot() int {
	return p.slot
}

func (p *TypePropParam) Desc() string {
	return fmt.Sprintf("property %q of %s", p.prop.Name(), p.beanType)
}

// Write sets the property on the bean registered at the parameter's slot,
// instantiating and registering the bean on first use.
func (p *TypePropParam) Write(dest Dest, v reflect.Value) error {
	bean, ok := dest.Bean(p.slot)
	if !ok {
		var err error
		bean, err = typeinfo.Instantiate(p.beanType)
		if err != nil {
			return err
		}
		if err := dest.RegisterBean(p.slot, bean); err != nil {
			return err
		}
	}
	return p.prop.Write(bean, v)
}

// Expression is a bidirectional parameter: a root named parameter plus zero
// or more nested property traversals. Reading walks the accessors in order,
// short-circuiting to an invalid value on nil. Writing instantiates
// intermediate values as needed and invokes the terminal accessor.
type Expression struct {
	paramBase
	rootName string
	rootType reflect.Type
	props    []typeinfo.Accessor
}

// NewExpression builds an expression over a declared parameter. The host type
// is the type of the terminal property, or the root type when there are no
// property traversals.
func NewExpression(rootName string, rootType reflect.Type, props []typeinfo.Accessor, storage StorageType) *Expression {
	hostType := rootType
	if len(props) > 0 {
		hostType = props[len(props)-1].Type()
	}
	return &Expression{
		paramBase: paramBase{hostType: hostType, storage: storage},
		rootName:  rootName,
		rootType:  rootType,
		props:     props,
	}
}

// RootName returns the name of the declared parameter the expression starts
// from.
func (e *Expression) RootName() string {
	return e.rootName
}

// Desc renders a property-less expression like the declared parameter it
// stands for.
func (e *Expression) Desc() string {
	if len(e.props) == 0 {
		return fmt.Sprintf("parameter %q (%s)", e.rootName, e.hostType)
	}
	name := e.rootName
	for _, p := range e.props {
		name += "." + p.Name()
	}
	return fmt.Sprintf("expression %q (%s)", name, e.hostType)
}

// isNil reports whether v is invalid or holds a nil of a nilable kind.
func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Read walks the property readers in order, short-circuiting on nil.
func (e *Expression) Read(args Args) (reflect.Value, error) {
	v, ok := args[e.rootName]
	if !ok {
		return reflect.Value{}, fmt.Errorf("no value bound for parameter %q", e.rootName)
	}
	for _, prop := range e.props {
		if isNil(v) {
			return reflect.Value{}, nil
		}
		if v.Kind() == reflect.Interface {
			v = v.Elem()
		}
		var err error
		v, err = prop.Read(reflect.Indirect(v))
		if err != nil {
			return reflect.Value{}, err
		}
	}
	return v, nil
}

// Write navigates to the terminal property, instantiating intermediates as
// needed, and writes v through the terminal accessor. With no property
// traversals the root argument itself is replaced.
func (e *Expression) Write(dest Dest, v reflect.Value) error {
	if len(e.props) == 0 {
		return dest.SetArg(e.rootName, v)
	}
	root, err := dest.Arg(e.rootName)
	if err != nil {
		return err
	}
	container := root
	for _, prop := range e.props[:len(e.props)-1] {
		next, err := prop.Read(reflect.Indirect(container))
		if err != nil {
			return err
		}
		if isNil(next) {
			next, err = typeinfo.Instantiate(prop.Type())
			if err != nil {
				return err
			}
			if err := prop.Write(container, next); err != nil {
				return err
			}
		}
		container = next
	}
	return e.props[len(e.props)-1].Write(container, v)
}

// Mode describes whether the executor must supply a value before execution,
// read a value after execution, or both.
type Mode int

const (
	ModeIn Mode = iota
	ModeOut
	ModeInOut
)

// String returns the grammar spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeIn:
		return "IN"
	case ModeOut:
		return "OUT"
	case ModeInOut:
		return "INOUT"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// QueryParam pairs a parameter with its read/write mode. The ordered
// QueryParam list of an assembled statement is what the executor binds.
type QueryParam struct {
	Mode  Mode
	Param Param
}

// NewQueryParam wraps p with mode m.
func NewQueryParam(m Mode, p Param) *QueryParam {
	return &QueryParam{Mode: m, Param: p}
}

// Desc describes the query parameter for error messages.
func (qp *QueryParam) Desc() string {
	return fmt.Sprintf("%s %s", qp.Mode, qp.Param.Desc())
}
