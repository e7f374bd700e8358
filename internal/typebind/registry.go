// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package typebind resolves host types to converters that move values into
// statement parameters and back out of result columns, and validates the
// storage type paired with each host type.
package typebind

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/canonical/sqlscript/internal/script"
)

// Converter moves values of the host types it supports across the driver
// boundary.
type Converter interface {
	// Supports reports whether the converter handles host type t.
	Supports(t reflect.Type) bool
	// StorageType confirms a declared storage type for t, or returns the
	// default when the declaration omitted one. Unsupported combinations are
	// load-time errors.
	StorageType(t reflect.Type, declared script.StorageType) (script.StorageType, error)
	// Bind converts a host value into a driver-ready statement argument.
	Bind(v reflect.Value, st script.StorageType) (any, error)
	// Scan converts a value read from a result column or output slot back
	// into host type t.
	Scan(src any, t reflect.Type, st script.StorageType) (reflect.Value, error)
}

// Registry holds an ordered converter list. Lookup checks converters in
// registration order and the first match wins, so more specific converters
// must be registered before more general ones.
type Registry struct {
	convs []Converter
}

// NewRegistry returns a registry of the given converters, checked in order.
func NewRegistry(convs ...Converter) *Registry {
	return &Registry{convs: convs}
}

// Lookup finds the first converter supporting host type t.
func (r *Registry) Lookup(t reflect.Type) (Converter, error) {
	for _, c := range r.convs {
		if c.Supports(t) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no converter for host type %s", t)
}

// ResolveParam validates the parameter's host/storage type pairing and fixes
// the default storage type when the declaration omitted one. It is called
// once per parameter at load time.
func (r *Registry) ResolveParam(p script.Param) error {
	conv, err := r.Lookup(p.HostType())
	if err != nil {
		return err
	}
	st, err := conv.StorageType(p.HostType(), p.StorageType())
	if err != nil {
		return fmt.Errorf("%s: %s", p.Desc(), err)
	}
	p.SetStorageType(st)
	return nil
}

var (
	defaultMutex    sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry, lazily initialized to the
// default converter set on first use unless Install was called earlier.
func Default() *Registry {
	defaultMutex.Lock()
	defer defaultMutex.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry(defaultConverters()...)
	}
	return defaultRegistry
}

// Install sets the process-wide registry. It must be called before the first
// use of Default; once initialized the registry cannot be replaced.
func Install(r *Registry) error {
	defaultMutex.Lock()
	defer defaultMutex.Unlock()
	if defaultRegistry != nil {
		return fmt.Errorf("converter registry already initialized")
	}
	defaultRegistry = r
	return nil
}

// resetDefault discards the process-wide registry. Test hook, see
// export_test.go.
func resetDefault() {
	defaultMutex.Lock()
	defer defaultMutex.Unlock()
	defaultRegistry = nil
}
