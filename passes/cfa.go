// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package passes

import (
	"github.com/go-dreamcast/dynarec/ir"
)

// CFA adds edges between blocks for every branch instruction whose target
// is a block reference. Conditional branches also get a fall-through edge
// to the lexically next block.
type CFA struct{}

// NewCFA returns a control flow analysis pass.
func NewCFA() *CFA {
	return &CFA{}
}

// Name implements Pass.
func (*CFA) Name() string { return "cfa" }

// Run implements Pass.
func (*CFA) Run(ib *ir.Builder) {
	for block := ib.Blocks(); block != nil; block = block.Next() {
		nextBlock := block.Next()

		for instr := block.Head(); instr != nil; instr = instr.Next() {
			switch instr.Op {
			case ir.OpBranch:
				if instr.Args[0].Type == ir.TypeBlock {
					ib.AddEdge(block, instr.Args[0].Blk)
				}

			case ir.OpBranchTrue, ir.OpBranchFalse:
				if instr.Args[1].Type == ir.TypeBlock {
					ib.AddEdge(block, instr.Args[1].Blk)
				}

				if nextBlock != nil {
					ib.AddEdge(block, nextBlock)
				}
			}
		}
	}
}
