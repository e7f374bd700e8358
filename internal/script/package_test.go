// Copyright 2025 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script_test

import (
	"testing"

	. "gopkg.in/check.v1"
)

func TestScript(t *testing.T) { TestingT(t) }
