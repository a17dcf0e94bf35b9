// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package passes

import (
	"github.com/go-dreamcast/dynarec/ir"
)

// DCE removes instructions whose result is unused and which have no
// observable side effects. A single reverse walk reaches the fixed point
// when defs precede uses, since removing a user frees its operands'
// definitions in the same sweep.
type DCE struct{}

// NewDCE returns a dead code elimination pass.
func NewDCE() *DCE {
	return &DCE{}
}

// Name implements Pass.
func (*DCE) Name() string { return "dce" }

// Run implements Pass.
func (d *DCE) Run(ib *ir.Builder) {
	var tail *ir.Block
	for block := ib.Blocks(); block != nil; block = block.Next() {
		tail = block
	}

	for block := tail; block != nil; block = block.Prev() {
		for instr := block.Tail(); instr != nil; {
			prev := instr.Prev()
			if dead(instr) {
				ib.RemoveInstr(instr)
			}
			instr = prev
		}
	}
}

func dead(instr *ir.Instr) bool {
	if instr.Op.HasSideEffect() {
		return false
	}
	return instr.Result == nil || len(instr.Result.Uses()) == 0
}
