// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package passes implements the optimization passes run over the IR
// between translation and assembly: control flow analysis, load/store
// elimination, constant propagation, expression simplification, dead code
// elimination and register allocation.
package passes

import (
	"github.com/go-dreamcast/dynarec/ir"
)

// Pass is a single transformation over an IR module. Passes may be
// composed in any order that preserves their preconditions; the default
// order is CFA, LSE, CPROP, ESIMP, DCE, RA.
type Pass interface {
	Name() string
	Run(ib *ir.Builder)
}

// Register describes one host register published by the backend to the
// register allocator.
type Register struct {
	// Name is the host mnemonic, for diagnostics.
	Name string

	// Types is a mask of ir.Type.Mask() bits the register can hold.
	Types int
}

// Default returns the default pipeline in its canonical order.
func Default(registers []Register) []Pass {
	return []Pass{
		NewCFA(),
		NewLSE(),
		NewCProp(),
		NewESimp(),
		NewDCE(),
		NewRA(registers),
	}
}
