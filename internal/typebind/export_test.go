// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typebind

// ResetDefault discards the process-wide registry between tests.
var ResetDefault = resetDefault

// DefaultConverters exposes the default converter set for tests.
var DefaultConverters = defaultConverters
