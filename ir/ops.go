// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

// Op identifies an IR operation.
type Op int

const (
	// memory
	OpLoadHost Op = iota
	OpStoreHost
	OpLoadFast
	OpStoreFast
	OpLoadSlow
	OpStoreSlow
	OpLoadContext
	OpStoreContext
	OpLoadLocal
	OpStoreLocal

	// casts / conversions
	OpFToI
	OpIToF
	OpSExt
	OpZExt
	OpTrunc
	OpFExt
	OpFTrunc

	// conditionals
	OpSelect
	OpCmpEQ
	OpCmpNE
	OpCmpSGE
	OpCmpSGT
	OpCmpUGE
	OpCmpUGT
	OpCmpSLE
	OpCmpSLT
	OpCmpULE
	OpCmpULT
	OpFCmpEQ
	OpFCmpNE
	OpFCmpGE
	OpFCmpGT
	OpFCmpLE
	OpFCmpLT

	// integer math
	OpAdd
	OpSub
	OpSMul
	OpUMul
	OpDiv
	OpNeg
	OpAbs

	// floating point math
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg
	OpFAbs
	OpSqrt

	// vector math
	OpVBroadcast
	OpVAdd
	OpVDot
	OpVMul

	// bitwise
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpAShr
	OpLShr
	OpAShd
	OpLShd

	// branches
	OpBranch
	OpBranchTrue
	OpBranchFalse

	// calls
	OpCall
	OpCallCond
	OpCallNoreturn
	OpCallFallback

	// debug
	OpDebugInfo
	OpDebugBreak
	OpAssertLT

	numOps
)

// opdesc describes the fixed properties of an operation. An op with side
// effects may never be removed by dead code elimination, even when its
// result is unused.
type opdesc struct {
	name       string
	sideEffect bool
}

var opdescs = [numOps]opdesc{
	OpLoadHost:     {name: "load_host"},
	OpStoreHost:    {name: "store_host", sideEffect: true},
	OpLoadFast:     {name: "load_fast"},
	OpStoreFast:    {name: "store_fast", sideEffect: true},
	OpLoadSlow:     {name: "load_slow", sideEffect: true},
	OpStoreSlow:    {name: "store_slow", sideEffect: true},
	OpLoadContext:  {name: "load_context"},
	OpStoreContext: {name: "store_context", sideEffect: true},
	OpLoadLocal:    {name: "load_local"},
	OpStoreLocal:   {name: "store_local", sideEffect: true},
	OpFToI:         {name: "ftoi"},
	OpIToF:         {name: "itof"},
	OpSExt:         {name: "sext"},
	OpZExt:         {name: "zext"},
	OpTrunc:        {name: "trunc"},
	OpFExt:         {name: "fext"},
	OpFTrunc:       {name: "ftrunc"},
	OpSelect:       {name: "select"},
	OpCmpEQ:        {name: "cmp_eq"},
	OpCmpNE:        {name: "cmp_ne"},
	OpCmpSGE:       {name: "cmp_sge"},
	OpCmpSGT:       {name: "cmp_sgt"},
	OpCmpUGE:       {name: "cmp_uge"},
	OpCmpUGT:       {name: "cmp_ugt"},
	OpCmpSLE:       {name: "cmp_sle"},
	OpCmpSLT:       {name: "cmp_slt"},
	OpCmpULE:       {name: "cmp_ule"},
	OpCmpULT:       {name: "cmp_ult"},
	OpFCmpEQ:       {name: "fcmp_eq"},
	OpFCmpNE:       {name: "fcmp_ne"},
	OpFCmpGE:       {name: "fcmp_ge"},
	OpFCmpGT:       {name: "fcmp_gt"},
	OpFCmpLE:       {name: "fcmp_le"},
	OpFCmpLT:       {name: "fcmp_lt"},
	OpAdd:          {name: "add"},
	OpSub:          {name: "sub"},
	OpSMul:         {name: "smul"},
	OpUMul:         {name: "umul"},
	OpDiv:          {name: "div"},
	OpNeg:          {name: "neg"},
	OpAbs:          {name: "abs"},
	OpFAdd:         {name: "fadd"},
	OpFSub:         {name: "fsub"},
	OpFMul:         {name: "fmul"},
	OpFDiv:         {name: "fdiv"},
	OpFNeg:         {name: "fneg"},
	OpFAbs:         {name: "fabs"},
	OpSqrt:         {name: "sqrt"},
	OpVBroadcast:   {name: "vbroadcast"},
	OpVAdd:         {name: "vadd"},
	OpVDot:         {name: "vdot"},
	OpVMul:         {name: "vmul"},
	OpAnd:          {name: "and"},
	OpOr:           {name: "or"},
	OpXor:          {name: "xor"},
	OpNot:          {name: "not"},
	OpShl:          {name: "shl"},
	OpAShr:         {name: "ashr"},
	OpLShr:         {name: "lshr"},
	OpAShd:         {name: "ashd"},
	OpLShd:         {name: "lshd"},
	OpBranch:       {name: "branch", sideEffect: true},
	OpBranchTrue:   {name: "branch_true", sideEffect: true},
	OpBranchFalse:  {name: "branch_false", sideEffect: true},
	OpCall:         {name: "call", sideEffect: true},
	OpCallCond:     {name: "call_cond", sideEffect: true},
	OpCallNoreturn: {name: "call_noreturn", sideEffect: true},
	OpCallFallback: {name: "call_fallback", sideEffect: true},
	OpDebugInfo:    {name: "debug_info", sideEffect: true},
	OpDebugBreak:   {name: "debug_break", sideEffect: true},
	OpAssertLT:     {name: "assert_lt", sideEffect: true},
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, numOps)
	for op, d := range opdescs {
		m[d.name] = Op(op)
	}
	return m
}()

func (op Op) String() string {
	return opdescs[op].name
}

// HasSideEffect reports whether the op has observable effects beyond
// producing its result value.
func (op Op) HasSideEffect() bool {
	return opdescs[op].sideEffect
}

// IsCommutative reports whether the op's first two arguments may be
// swapped without changing the result.
func (op Op) IsCommutative() bool {
	switch op {
	case OpAdd, OpSMul, OpUMul, OpAnd, OpOr, OpXor, OpCmpEQ, OpCmpNE,
		OpFAdd, OpFMul, OpFCmpEQ, OpFCmpNE:
		return true
	}
	return false
}
