// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package passes

import (
	"math"

	"github.com/go-dreamcast/dynarec/ir"
)

// CProp folds operations whose arguments are all constants, rewriting
// every use of the result with the folded constant. The folded
// instructions themselves are left for dead code elimination.
type CProp struct{}

// NewCProp returns a constant propagation pass.
func NewCProp() *CProp {
	return &CProp{}
}

// Name implements Pass.
func (*CProp) Name() string { return "cprop" }

// Run implements Pass.
func (c *CProp) Run(ib *ir.Builder) {
	for block := ib.Blocks(); block != nil; block = block.Next() {
		for instr := block.Head(); instr != nil; instr = instr.Next() {
			if instr.Result == nil || len(instr.Result.Uses()) == 0 {
				continue
			}
			if !argsConstant(instr) {
				continue
			}
			if folded := fold(ib, instr); folded != nil {
				ib.ReplaceUses(instr.Result, folded)
			}
		}
	}
}

func argsConstant(instr *ir.Instr) bool {
	for n := 0; n < ir.MaxInstrArgs; n++ {
		arg := instr.Args[n]
		if arg == nil {
			break
		}
		if !arg.IsConstant() {
			return false
		}
	}
	return true
}

func fold(ib *ir.Builder, instr *ir.Instr) *ir.Value {
	typ := instr.Result.Type

	switch instr.Op {
	case ir.OpSelect:
		if instr.Args[0].ZextConstant() != 0 {
			return instr.Args[1]
		}
		return instr.Args[2]

	case ir.OpSExt:
		return ib.AllocInt(sextConstant(instr.Args[0]), typ)
	case ir.OpZExt:
		return ib.AllocInt(int64(instr.Args[0].ZextConstant()), typ)
	case ir.OpTrunc:
		return ib.AllocInt(instr.Args[0].I64, typ)

	case ir.OpFToI:
		switch instr.Args[0].Type {
		case ir.TypeF32:
			return ib.AllocInt(int64(instr.Args[0].F32), typ)
		case ir.TypeF64:
			return ib.AllocInt(int64(instr.Args[0].F64), typ)
		}
	case ir.OpIToF:
		if typ == ir.TypeF32 {
			return ib.AllocF32(float32(sextConstant(instr.Args[0])))
		}
		return ib.AllocF64(float64(sextConstant(instr.Args[0])))
	case ir.OpFExt:
		return ib.AllocF64(float64(instr.Args[0].F32))
	case ir.OpFTrunc:
		return ib.AllocF32(float32(instr.Args[0].F64))

	case ir.OpNeg:
		return ib.AllocInt(-instr.Args[0].I64, typ)
	case ir.OpAbs:
		v := instr.Args[0].I64
		if v < 0 {
			v = -v
		}
		return ib.AllocInt(v, typ)
	case ir.OpNot:
		return ib.AllocInt(^instr.Args[0].I64, typ)

	case ir.OpAdd:
		return ib.AllocInt(instr.Args[0].I64+instr.Args[1].I64, typ)
	case ir.OpSub:
		return ib.AllocInt(instr.Args[0].I64-instr.Args[1].I64, typ)
	case ir.OpSMul:
		return ib.AllocInt(instr.Args[0].I64*instr.Args[1].I64, typ)
	case ir.OpUMul:
		return ib.AllocInt(int64(instr.Args[0].ZextConstant()*instr.Args[1].ZextConstant()), typ)
	case ir.OpDiv:
		// fold only well-defined divisions
		if instr.Args[1].I64 != 0 {
			return ib.AllocInt(instr.Args[0].I64/instr.Args[1].I64, typ)
		}

	case ir.OpAnd:
		return ib.AllocInt(instr.Args[0].I64&instr.Args[1].I64, typ)
	case ir.OpOr:
		return ib.AllocInt(instr.Args[0].I64|instr.Args[1].I64, typ)
	case ir.OpXor:
		return ib.AllocInt(instr.Args[0].I64^instr.Args[1].I64, typ)

	case ir.OpShl:
		return ib.AllocInt(instr.Args[0].I64<<shiftAmount(instr.Args[0], instr.Args[1]), typ)
	case ir.OpLShr:
		return ib.AllocInt(int64(instr.Args[0].ZextConstant()>>shiftAmount(instr.Args[0], instr.Args[1])), typ)
	case ir.OpAShr:
		return ib.AllocInt(sextConstant(instr.Args[0])>>shiftAmount(instr.Args[0], instr.Args[1]), typ)
	case ir.OpAShd:
		n := instr.Args[1].I64
		if n >= 0 {
			return ib.AllocInt(instr.Args[0].I64<<shiftAmount(instr.Args[0], instr.Args[1]), typ)
		}
		return ib.AllocInt(sextConstant(instr.Args[0])>>uint(-n), typ)
	case ir.OpLShd:
		n := instr.Args[1].I64
		if n >= 0 {
			return ib.AllocInt(instr.Args[0].I64<<shiftAmount(instr.Args[0], instr.Args[1]), typ)
		}
		return ib.AllocInt(int64(instr.Args[0].ZextConstant()>>uint(-n)), typ)

	case ir.OpCmpEQ, ir.OpCmpNE, ir.OpCmpSGE, ir.OpCmpSGT, ir.OpCmpUGE,
		ir.OpCmpUGT, ir.OpCmpSLE, ir.OpCmpSLT, ir.OpCmpULE, ir.OpCmpULT:
		return ib.AllocI8(boolToI8(foldCmp(instr)))

	case ir.OpFCmpEQ, ir.OpFCmpNE, ir.OpFCmpGE, ir.OpFCmpGT, ir.OpFCmpLE,
		ir.OpFCmpLT:
		return ib.AllocI8(boolToI8(foldFCmp(instr)))

	case ir.OpSqrt:
		if instr.Args[0].Type == ir.TypeF32 {
			return ib.AllocF32(float32(math.Sqrt(float64(instr.Args[0].F32))))
		}
		return ib.AllocF64(math.Sqrt(instr.Args[0].F64))

	case ir.OpFNeg:
		if typ == ir.TypeF32 {
			return ib.AllocF32(-instr.Args[0].F32)
		}
		return ib.AllocF64(-instr.Args[0].F64)
	case ir.OpFAbs:
		if typ == ir.TypeF32 {
			return ib.AllocF32(float32(math.Abs(float64(instr.Args[0].F32))))
		}
		return ib.AllocF64(math.Abs(instr.Args[0].F64))

	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv:
		return foldFArith(ib, instr)
	}

	return nil
}

func sextConstant(v *ir.Value) int64 {
	return v.I64
}

func shiftAmount(v, n *ir.Value) uint {
	return uint(n.ZextConstant()) % uint(v.Type.Size()*8)
}

func boolToI8(b bool) int8 {
	if b {
		return 1
	}
	return 0
}

func foldCmp(instr *ir.Instr) bool {
	sa, sb := instr.Args[0].I64, instr.Args[1].I64
	ua, ub := instr.Args[0].ZextConstant(), instr.Args[1].ZextConstant()

	switch instr.Op {
	case ir.OpCmpEQ:
		return ua == ub
	case ir.OpCmpNE:
		return ua != ub
	case ir.OpCmpSGE:
		return sa >= sb
	case ir.OpCmpSGT:
		return sa > sb
	case ir.OpCmpUGE:
		return ua >= ub
	case ir.OpCmpUGT:
		return ua > ub
	case ir.OpCmpSLE:
		return sa <= sb
	case ir.OpCmpSLT:
		return sa < sb
	case ir.OpCmpULE:
		return ua <= ub
	default:
		return ua < ub
	}
}

func foldFCmp(instr *ir.Instr) bool {
	var a, b float64
	if instr.Args[0].Type == ir.TypeF32 {
		a, b = float64(instr.Args[0].F32), float64(instr.Args[1].F32)
	} else {
		a, b = instr.Args[0].F64, instr.Args[1].F64
	}

	switch instr.Op {
	case ir.OpFCmpEQ:
		return a == b
	case ir.OpFCmpNE:
		return a != b
	case ir.OpFCmpGE:
		return a >= b
	case ir.OpFCmpGT:
		return a > b
	case ir.OpFCmpLE:
		return a <= b
	default:
		return a < b
	}
}

func foldFArith(ib *ir.Builder, instr *ir.Instr) *ir.Value {
	if instr.Result.Type == ir.TypeF32 {
		a, b := instr.Args[0].F32, instr.Args[1].F32
		switch instr.Op {
		case ir.OpFAdd:
			return ib.AllocF32(a + b)
		case ir.OpFSub:
			return ib.AllocF32(a - b)
		case ir.OpFMul:
			return ib.AllocF32(a * b)
		default:
			return ib.AllocF32(a / b)
		}
	}

	a, b := instr.Args[0].F64, instr.Args[1].F64
	switch instr.Op {
	case ir.OpFAdd:
		return ib.AllocF64(a + b)
	case ir.OpFSub:
		return ib.AllocF64(a - b)
	case ir.OpFMul:
		return ib.AllocF64(a * b)
	default:
		return ib.AllocF64(a / b)
	}
}
