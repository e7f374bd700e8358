// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typebind

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/canonical/sqlscript/internal/script"
)

// defaultConverters returns the default converter set in lookup order, most
// specific first.
func defaultConverters() []Converter {
	return []Converter{
		&nullConverter{},
		&timeConverter{},
		&bytesConverter{},
		&stringConverter{},
		&intConverter{},
		&floatConverter{},
		&boolConverter{},
		&anyConverter{},
	}
}

// confirmStorage validates declared against the allowed set, returning def
// when the declaration omitted a storage type.
func confirmStorage(declared, def script.StorageType, allowed ...script.StorageType) (script.StorageType, error) {
	if declared == script.DefaultStorage {
		return def, nil
	}
	for _, st := range allowed {
		if declared == st {
			return declared, nil
		}
	}
	names := make([]string, len(allowed))
	for i, st := range allowed {
		names[i] = st.String()
	}
	return script.DefaultStorage, fmt.Errorf("unsupported storage type %s (have %s)", declared, strings.Join(names, ", "))
}

// stringConverter handles string-kinded host types.
type stringConverter struct{}

func (stringConverter) Supports(t reflect.Type) bool {
	return t.Kind() == reflect.String
}

func (stringConverter) StorageType(t reflect.Type, declared script.StorageType) (script.StorageType, error) {
	return confirmStorage(declared, script.Varchar, script.Varchar, script.Char, script.Clob)
}

func (stringConverter) Bind(v reflect.Value, st script.StorageType) (any, error) {
	return v.String(), nil
}

func (stringConverter) Scan(src any, t reflect.Type, st script.StorageType) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch src := src.(type) {
	case nil:
	case string:
		out.SetString(src)
	case []byte:
		out.SetString(string(src))
	default:
		return reflect.Value{}, fmt.Errorf("cannot scan %T into %s", src, t)
	}
	return out, nil
}

// intConverter handles the integer-kinded host types, including rune.
type intConverter struct{}

func (intConverter) Supports(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func (intConverter) StorageType(t reflect.Type, declared script.StorageType) (script.StorageType, error) {
	var def script.StorageType
	switch t.Kind() {
	case reflect.Int64, reflect.Uint64:
		def = script.BigInt
	case reflect.Int16:
		def = script.SmallInt
	case reflect.Int8, reflect.Uint8:
		def = script.TinyInt
	default:
		def = script.Integer
	}
	return confirmStorage(declared, def,
		script.TinyInt, script.SmallInt, script.Integer, script.BigInt, script.Numeric, script.Decimal)
}

func (intConverter) Bind(v reflect.Value, st script.StorageType) (any, error) {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), nil
	}
	return v.Int(), nil
}

func (intConverter) Scan(src any, t reflect.Type, st script.StorageType) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	var n int64
	switch src := src.(type) {
	case nil:
		return out, nil
	case int64:
		n = src
	case float64:
		n = int64(src)
	case []byte:
		var err error
		if n, err = strconv.ParseInt(string(src), 10, 64); err != nil {
			return reflect.Value{}, fmt.Errorf("cannot scan %q into %s", src, t)
		}
	case string:
		var err error
		if n, err = strconv.ParseInt(src, 10, 64); err != nil {
			return reflect.Value{}, fmt.Errorf("cannot scan %q into %s", src, t)
		}
	default:
		return reflect.Value{}, fmt.Errorf("cannot scan %T into %s", src, t)
	}
	switch out.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out.SetUint(uint64(n))
	default:
		out.SetInt(n)
	}
	return out, nil
}

// floatConverter handles float32 and float64 host types.
type floatConverter struct{}

func (floatConverter) Supports(t reflect.Type) bool {
	return t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
}

func (floatConverter) StorageType(t reflect.Type, declared script.StorageType) (script.StorageType, error) {
	def := script.Double
	if t.Kind() == reflect.Float32 {
		def = script.Real
	}
	return confirmStorage(declared, def,
		script.Float, script.Real, script.Double, script.Numeric, script.Decimal)
}

func (floatConverter) Bind(v reflect.Value, st script.StorageType) (any, error) {
	return v.Float(), nil
}

func (floatConverter) Scan(src any, t reflect.Type, st script.StorageType) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	var f float64
	switch src := src.(type) {
	case nil:
		return out, nil
	case float64:
		f = src
	case int64:
		f = float64(src)
	case []byte:
		var err error
		if f, err = strconv.ParseFloat(string(src), 64); err != nil {
			return reflect.Value{}, fmt.Errorf("cannot scan %q into %s", src, t)
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(src, 64); err != nil {
			return reflect.Value{}, fmt.Errorf("cannot scan %q into %s", src, t)
		}
	default:
		return reflect.Value{}, fmt.Errorf("cannot scan %T into %s", src, t)
	}
	out.SetFloat(f)
	return out, nil
}

// boolConverter handles bool host types. The CHAR storage encoding is lossy:
// true binds as "Y" and false as "N", so the column text of any other
// original representation is not preserved. It is excluded from the
// round-trip law for that reason.
type boolConverter struct{}

func (boolConverter) Supports(t reflect.Type) bool {
	return t.Kind() == reflect.Bool
}

func (boolConverter) StorageType(t reflect.Type, declared script.StorageType) (script.StorageType, error) {
	return confirmStorage(declared, script.Boolean, script.Boolean, script.Char)
}

func (boolConverter) Bind(v reflect.Value, st script.StorageType) (any, error) {
	if st == script.Char {
		if v.Bool() {
			return "Y", nil
		}
		return "N", nil
	}
	return v.Bool(), nil
}

func (boolConverter) Scan(src any, t reflect.Type, st script.StorageType) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch src := src.(type) {
	case nil:
	case bool:
		out.SetBool(src)
	case int64:
		out.SetBool(src != 0)
	case string:
		out.SetBool(charBool(src))
	case []byte:
		out.SetBool(charBool(string(src)))
	default:
		return reflect.Value{}, fmt.Errorf("cannot scan %T into %s", src, t)
	}
	return out, nil
}

func charBool(s string) bool {
	switch s {
	case "Y", "y", "T", "t", "1", "true":
		return true
	}
	return false
}

// timeConverter handles time.Time host types. DATE and TIME are lossy: DATE
// binds the value truncated to midnight UTC and TIME binds the clock part
// only.
type timeConverter struct{}

var timeType = reflect.TypeOf(time.Time{})

func (timeConverter) Supports(t reflect.Type) bool {
	return t == timeType
}

func (timeConverter) StorageType(t reflect.Type, declared script.StorageType) (script.StorageType, error) {
	return confirmStorage(declared, script.Timestamp, script.Timestamp, script.Date, script.Time)
}

func (timeConverter) Bind(v reflect.Value, st script.StorageType) (any, error) {
	t := v.Interface().(time.Time)
	switch st {
	case script.Date:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case script.Time:
		return t.Format("15:04:05"), nil
	}
	return t, nil
}

func (timeConverter) Scan(src any, t reflect.Type, st script.StorageType) (reflect.Value, error) {
	switch src := src.(type) {
	case nil:
		return reflect.New(t).Elem(), nil
	case time.Time:
		return reflect.ValueOf(src), nil
	case string:
		return parseTime(src, st)
	case []byte:
		return parseTime(string(src), st)
	default:
		return reflect.Value{}, fmt.Errorf("cannot scan %T into %s", src, t)
	}
}

func parseTime(s string, st script.StorageType) (reflect.Value, error) {
	layouts := []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02", "15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return reflect.ValueOf(t), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot scan %q as %s", s, st)
}

// bytesConverter handles byte-slice host types, including sql.RawBytes.
type bytesConverter struct{}

func (bytesConverter) Supports(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

func (bytesConverter) StorageType(t reflect.Type, declared script.StorageType) (script.StorageType, error) {
	return confirmStorage(declared, script.Blob, script.Blob, script.Clob, script.Varchar)
}

func (bytesConverter) Bind(v reflect.Value, st script.StorageType) (any, error) {
	return v.Bytes(), nil
}

func (bytesConverter) Scan(src any, t reflect.Type, st script.StorageType) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch src := src.(type) {
	case nil:
	case []byte:
		b := make([]byte, len(src))
		copy(b, src)
		out.SetBytes(b)
	case string:
		out.SetBytes([]byte(src))
	default:
		return reflect.Value{}, fmt.Errorf("cannot scan %T into %s", src, t)
	}
	return out, nil
}

// nullConverter handles the database/sql nullable wrappers. They implement
// driver.Valuer on the way in and sql.Scanner on the way out.
type nullConverter struct{}

var nullDefaults = map[reflect.Type]script.StorageType{
	reflect.TypeOf(sql.NullString{}):  script.Varchar,
	reflect.TypeOf(sql.NullInt64{}):   script.BigInt,
	reflect.TypeOf(sql.NullInt32{}):   script.Integer,
	reflect.TypeOf(sql.NullInt16{}):   script.SmallInt,
	reflect.TypeOf(sql.NullFloat64{}): script.Double,
	reflect.TypeOf(sql.NullBool{}):    script.Boolean,
	reflect.TypeOf(sql.NullTime{}):    script.Timestamp,
}

func (nullConverter) Supports(t reflect.Type) bool {
	_, ok := nullDefaults[t]
	return ok
}

func (nullConverter) StorageType(t reflect.Type, declared script.StorageType) (script.StorageType, error) {
	if declared == script.DefaultStorage {
		return nullDefaults[t], nil
	}
	return declared, nil
}

func (nullConverter) Bind(v reflect.Value, st script.StorageType) (any, error) {
	return v.Interface(), nil
}

func (nullConverter) Scan(src any, t reflect.Type, st script.StorageType) (reflect.Value, error) {
	out := reflect.New(t)
	scanner, ok := out.Interface().(sql.Scanner)
	if !ok {
		return reflect.Value{}, fmt.Errorf("internal error: %s does not implement sql.Scanner", t)
	}
	if err := scanner.Scan(src); err != nil {
		return reflect.Value{}, err
	}
	return out.Elem(), nil
}

// anyConverter handles the Object host type: values pass through untouched.
type anyConverter struct{}

func (anyConverter) Supports(t reflect.Type) bool {
	return t.Kind() == reflect.Interface && t.NumMethod() == 0
}

func (anyConverter) StorageType(t reflect.Type, declared script.StorageType) (script.StorageType, error) {
	if declared == script.DefaultStorage {
		return script.Varchar, nil
	}
	return declared, nil
}

func (anyConverter) Bind(v reflect.Value, st script.StorageType) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	return v.Interface(), nil
}

func (anyConverter) Scan(src any, t reflect.Type, st script.StorageType) (reflect.Value, error) {
	if src == nil {
		return reflect.New(t).Elem(), nil
	}
	return reflect.ValueOf(src), nil
}
