// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package passes

import (
	"github.com/go-dreamcast/dynarec/ir"
)

// ESimp applies algebraic identities and canonicalizes commutative ops so
// constants sit in the right argument. Identities only fire on integer
// values; float identities are unsound in the presence of NaN.
type ESimp struct{}

// NewESimp returns an expression simplification pass.
func NewESimp() *ESimp {
	return &ESimp{}
}

// Name implements Pass.
func (*ESimp) Name() string { return "esimp" }

// Run implements Pass.
func (e *ESimp) Run(ib *ir.Builder) {
	for block := ib.Blocks(); block != nil; block = block.Next() {
		for instr := block.Head(); instr != nil; instr = instr.Next() {
			canonicalize(ib, instr)
			if instr.Result == nil || len(instr.Result.Uses()) == 0 {
				continue
			}
			if simplified := simplify(ib, instr); simplified != nil {
				ib.ReplaceUses(instr.Result, simplified)
			}
		}
	}
}

func canonicalize(ib *ir.Builder, instr *ir.Instr) {
	if !instr.Op.IsCommutative() {
		return
	}
	a, b := instr.Args[0], instr.Args[1]
	if a != nil && b != nil && a.IsConstant() && !b.IsConstant() {
		ib.SetArg(instr, 0, b)
		ib.SetArg(instr, 1, a)
	}
}

func simplify(ib *ir.Builder, instr *ir.Instr) *ir.Value {
	a, b := instr.Args[0], instr.Args[1]

	switch instr.Op {
	case ir.OpAdd, ir.OpSub, ir.OpOr, ir.OpXor:
		// x + 0, x - 0, x | 0, x ^ 0
		if intConstant(b, 0) {
			if instr.Op == ir.OpXor && a == b {
				return ib.AllocInt(0, instr.Result.Type)
			}
			return a
		}
		if instr.Op == ir.OpXor && a == b {
			// x ^ x
			return ib.AllocInt(0, instr.Result.Type)
		}
		if (instr.Op == ir.OpOr) && a == b {
			// x | x
			return a
		}

	case ir.OpAnd:
		if a == b {
			// x & x
			return a
		}
		if intConstant(b, 0) {
			return ib.AllocInt(0, instr.Result.Type)
		}

	case ir.OpSMul, ir.OpUMul:
		// x * 1
		if intConstant(b, 1) {
			return a
		}

	case ir.OpShl, ir.OpAShr, ir.OpLShr, ir.OpAShd, ir.OpLShd:
		// x shifted by 0
		if intConstant(b, 0) {
			return a
		}

	case ir.OpCmpEQ, ir.OpCmpSGE, ir.OpCmpUGE, ir.OpCmpSLE, ir.OpCmpULE:
		// x == x and the reflexive orderings
		if a == b {
			return ib.AllocI8(1)
		}

	case ir.OpCmpNE, ir.OpCmpSGT, ir.OpCmpUGT, ir.OpCmpSLT, ir.OpCmpULT:
		if a == b {
			return ib.AllocI8(0)
		}
	}

	return nil
}

func intConstant(v *ir.Value, c uint64) bool {
	return v != nil && v.IsConstant() && v.Type.IsInt() && v.ZextConstant() == c
}
