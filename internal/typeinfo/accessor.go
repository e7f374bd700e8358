// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package typeinfo resolves property names against Go types once at load
// time, producing opaque accessor handles that read and write the property at
// execution time without repeating the reflection lookup.
package typeinfo

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Accessor is the capability handle for one property of a type. It is
// resolved once at load time and used for every invocation thereafter.
type Accessor interface {
	// Name is the property name the accessor was resolved from.
	Name() string
	// Type is the type of the property value.
	Type() reflect.Type
	// Read returns the property value held by instance.
	Read(instance reflect.Value) (reflect.Value, error)
	// Write sets the property on instance to value. For struct properties the
	// instance must be addressable.
	Write(instance reflect.Value, value reflect.Value) error
}

// structField accesses one field of a struct type. The field is located by
// its "db" tag when present, otherwise by its exported name.
type structField struct {
	structType reflect.Type
	fieldType  reflect.Type
	name       string
	index      int
}

func (f *structField) Name() string {
	return f.name
}

func (f *structField) Type() reflect.Type {
	return f.fieldType
}

func (f *structField) Read(instance reflect.Value) (reflect.Value, error) {
	instance = reflect.Indirect(instance)
	if instance.Type() != f.structType {
		return reflect.Value{}, fmt.Errorf("internal error: reading %q of %s from %s", f.name, f.structType, instance.Type())
	}
	return instance.Field(f.index), nil
}

func (f *structField) Write(instance reflect.Value, value reflect.Value) error {
	instance = reflect.Indirect(instance)
	if instance.Type() != f.structType {
		return fmt.Errorf("internal error: writing %q of %s to %s", f.name, f.structType, instance.Type())
	}
	field := instance.Field(f.index)
	if !field.CanSet() {
		return fmt.Errorf("cannot set property %q: pass a pointer to %s", f.name, f.structType.Name())
	}
	if !value.IsValid() {
		field.Set(reflect.Zero(f.fieldType))
		return nil
	}
	if !value.Type().AssignableTo(f.fieldType) {
		if value.Type().ConvertibleTo(f.fieldType) {
			value = value.Convert(f.fieldType)
		} else {
			return fmt.Errorf("cannot assign %s to property %q of type %s", value.Type(), f.name, f.fieldType)
		}
	}
	field.Set(value)
	return nil
}

// mapKey accesses one key of a string-keyed map.
type mapKey struct {
	mapType reflect.Type
	name    string
}

func (mk *mapKey) Name() string {
	return mk.name
}

func (mk *mapKey) Type() reflect.Type {
	return mk.mapType.Elem()
}

func (mk *mapKey) Read(instance reflect.Value) (reflect.Value, error) {
	instance = reflect.Indirect(instance)
	v := instance.MapIndex(reflect.ValueOf(mk.name))
	if v.Kind() == reflect.Invalid {
		return reflect.Value{}, fmt.Errorf("map %q does not contain key %q", mk.mapType.Name(), mk.name)
	}
	return v, nil
}

func (mk *mapKey) Write(instance reflect.Value, value reflect.Value) error {
	instance = reflect.Indirect(instance)
	if instance.IsNil() {
		return fmt.Errorf("cannot set key %q of nil map %q", mk.name, mk.mapType.Name())
	}
	if !value.IsValid() {
		value = reflect.Zero(mk.mapType.Elem())
	}
	if !value.Type().AssignableTo(mk.mapType.Elem()) {
		if value.Type().ConvertibleTo(mk.mapType.Elem()) {
			value = value.Convert(mk.mapType.Elem())
		} else {
			return fmt.Errorf("cannot assign %s to key %q of %s", value.Type(), mk.name, mk.mapType)
		}
	}
	instance.SetMapIndex(reflect.ValueOf(mk.name), value)
	return nil
}

// fieldCache caches per-type property tables across load calls.
var fieldCacheMutex sync.RWMutex
var fieldCache = make(map[reflect.Type]map[string]*structField)

// fieldsOf builds (or fetches) the property table of a struct type. Each
// exported field is reachable by its "db" tag when one is set, and always by
// its field name.
func fieldsOf(t reflect.Type) (map[string]*structField, error) {
	fieldCacheMutex.RLock()
	fields, ok := fieldCache[t]
	fieldCacheMutex.RUnlock()
	if ok {
		return fields, nil
	}

	fields = map[string]*structField{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		sf := &structField{
			structType: t,
			fieldType:  f.Type,
			name:       f.Name,
			index:      i,
		}
		fields[f.Name] = sf
		if tag := f.Tag.Get("db"); tag != "" {
			name := strings.Split(tag, ",")[0]
			if name != "" && name != "-" {
				tagged := *sf
				tagged.name = name
				fields[name] = &tagged
			}
		}
	}

	fieldCacheMutex.Lock()
	fieldCache[t] = fields
	fieldCacheMutex.Unlock()
	return fields, nil
}

// LookupAccessor resolves property name on type t. t must be a struct, a
// pointer to struct, or a string-keyed map.
func LookupAccessor(t reflect.Type, name string) (Accessor, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		fields, err := fieldsOf(t)
		if err != nil {
			return nil, err
		}
		f, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("type %q has no property %q", t.Name(), name)
		}
		return f, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map type %s must have key type string, found type %s", t.Name(), t.Key().Kind())
		}
		return &mapKey{mapType: t, name: name}, nil
	default:
		return nil, fmt.Errorf("cannot access property %q of %s", name, t.Kind())
	}
}

// Instantiate builds a fresh, writable instance of t: a pointer to a zero
// struct, or an empty map. It is used to lazily create beans and intermediate
// property values during result collection.
func Instantiate(t reflect.Type) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.Pointer:
		elem, err := Instantiate(t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		if elem.CanAddr() {
			return elem.Addr(), nil
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		return p, nil
	case reflect.Struct:
		return reflect.New(t).Elem(), nil
	case reflect.Map:
		return reflect.MakeMap(t), nil
	default:
		return reflect.Zero(t), nil
	}
}
