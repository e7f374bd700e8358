// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Hints holds the per-script execution hints declared in a HINT(...) clause.
// The vocabulary is fixed; unknown names and malformed values are load-time
// errors. Hints with no database/sql control surface (fetchSize,
// maxFieldSize, poolable, escapeProcessing) are validated and retained for
// driver-specific callers.
type Hints struct {
	// QueryTimeout bounds statement execution, applied through the context.
	QueryTimeout time.Duration
	// FetchSize is the driver row prefetch hint.
	FetchSize int
	// MaxRows caps the number of rows drained into the results collector.
	MaxRows int
	// MaxFieldSize is the driver column size limit hint.
	MaxFieldSize int

	Poolable         bool
	EscapeProcessing bool
	ReadOnly         bool

	set map[string]bool
}

// hintSetters validates and applies one hint value each.
var hintSetters = map[string]func(h *Hints, value string) error{
	"queryTimeout": func(h *Hints, value string) error {
		n, err := nonNegativeInt(value)
		if err != nil {
			return err
		}
		h.QueryTimeout = time.Duration(n) * time.Second
		return nil
	},
	"fetchSize": func(h *Hints, value string) error {
		n, err := nonNegativeInt(value)
		h.FetchSize = n
		return err
	},
	"maxRows": func(h *Hints, value string) error {
		n, err := nonNegativeInt(value)
		h.MaxRows = n
		return err
	},
	"maxFieldSize": func(h *Hints, value string) error {
		n, err := nonNegativeInt(value)
		h.MaxFieldSize = n
		return err
	},
	"poolable": func(h *Hints, value string) error {
		b, err := boolValue(value)
		h.Poolable = b
		return err
	},
	"escapeProcessing": func(h *Hints, value string) error {
		b, err := boolValue(value)
		h.EscapeProcessing = b
		return err
	},
	"readOnly": func(h *Hints, value string) error {
		b, err := boolValue(value)
		h.ReadOnly = b
		return err
	},
}

func nonNegativeInt(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("need an integer, got %q", value)
	}
	if n < 0 {
		return 0, fmt.Errorf("need a non-negative integer, got %d", n)
	}
	return n, nil
}

func boolValue(value string) (bool, error) {
	switch value {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("need true or false, got %q", value)
}

// Set validates and applies one name=value hint pair. Repeating a hint name
// within one clause is an error.
func (h *Hints) Set(name, value string) error {
	setter, ok := hintSetters[name]
	if !ok {
		names := make([]string, 0, len(hintSetters))
		for n := range hintSetters {
			names = append(names, n)
		}
		sort.Strings(names)
		return fmt.Errorf("unknown hint %q (have %s)", name, strings.Join(names, ", "))
	}
	if h.set[name] {
		return fmt.Errorf("hint %q set twice", name)
	}
	if err := setter(h, value); err != nil {
		return fmt.Errorf("invalid value for hint %q: %s", name, err)
	}
	if h.set == nil {
		h.set = map[string]bool{}
	}
	h.set[name] = true
	return nil
}

// Has reports whether the named hint was declared.
func (h *Hints) Has(name string) bool {
	return h != nil && h.set[name]
}
