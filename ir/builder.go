// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import (
	"github.com/golang/glog"
)

// Semantic emission helpers. Each helper appends one instruction at the
// cursor and returns its result value where one exists. Argument types are
// checked; mismatches are JIT bugs and abort.

func checkInt(v *Value) {
	if !v.Type.IsInt() {
		glog.Fatalf("ir: expected integer value, got %v", v.Type)
	}
}

func checkFloat(v *Value) {
	if !v.Type.IsFloat() {
		glog.Fatalf("ir: expected float value, got %v", v.Type)
	}
}

func checkSameType(a, b *Value) {
	if a.Type != b.Type {
		glog.Fatalf("ir: type mismatch %v != %v", a.Type, b.Type)
	}
}

func (ib *Builder) emit2(op Op, resultType Type, a, b *Value) *Instr {
	instr := ib.AppendInstr(op, resultType)
	ib.SetArg(instr, 0, a)
	ib.SetArg(instr, 1, b)
	return instr
}

/*
 * memory
 */

// LoadHost reads a value of the given type from raw host memory.
func (ib *Builder) LoadHost(addr *Value, typ Type) *Value {
	if addr.Type != TypeI64 {
		glog.Fatalf("ir: host address must be i64, got %v", addr.Type)
	}
	instr := ib.AppendInstr(OpLoadHost, typ)
	ib.SetArg(instr, 0, addr)
	return instr.Result
}

// StoreHost writes a value to raw host memory.
func (ib *Builder) StoreHost(addr, v *Value) {
	if addr.Type != TypeI64 {
		glog.Fatalf("ir: host address must be i64, got %v", addr.Type)
	}
	ib.emit2(OpStoreHost, TypeVoid, addr, v)
}

// LoadFast reads guest memory through the speculative unchecked fast path.
func (ib *Builder) LoadFast(addr *Value, typ Type) *Value {
	checkInt(addr)
	instr := ib.AppendInstr(OpLoadFast, typ)
	ib.SetArg(instr, 0, addr)
	return instr.Result
}

// StoreFast writes guest memory through the speculative unchecked fast path.
func (ib *Builder) StoreFast(addr, v *Value) {
	checkInt(addr)
	ib.emit2(OpStoreFast, TypeVoid, addr, v)
}

// LoadSlow reads guest memory through the checked accessor path.
func (ib *Builder) LoadSlow(addr *Value, typ Type) *Value {
	checkInt(addr)
	instr := ib.AppendInstr(OpLoadSlow, typ)
	ib.SetArg(instr, 0, addr)
	return instr.Result
}

// StoreSlow writes guest memory through the checked accessor path.
func (ib *Builder) StoreSlow(addr, v *Value) {
	checkInt(addr)
	ib.emit2(OpStoreSlow, TypeVoid, addr, v)
}

// LoadContext reads a value from the guest context at the given offset.
func (ib *Builder) LoadContext(offset int, typ Type) *Value {
	instr := ib.AppendInstr(OpLoadContext, typ)
	ib.SetArg(instr, 0, ib.AllocI32(int32(offset)))
	return instr.Result
}

// StoreContext writes a value to the guest context at the given offset.
func (ib *Builder) StoreContext(offset int, v *Value) {
	ib.emit2(OpStoreContext, TypeVoid, ib.AllocI32(int32(offset)), v)
}

// LoadLocal reads a spill slot.
func (ib *Builder) LoadLocal(local *Local) *Value {
	instr := ib.AppendInstr(OpLoadLocal, local.Type)
	ib.SetArg(instr, 0, local.Offset)
	return instr.Result
}

// StoreLocal writes a spill slot.
func (ib *Builder) StoreLocal(local *Local, v *Value) {
	if v.Type != local.Type {
		glog.Fatalf("ir: storing %v to %v local", v.Type, local.Type)
	}
	ib.emit2(OpStoreLocal, TypeVoid, local.Offset, v)
}

/*
 * casts / conversions
 */

func (ib *Builder) cast(op Op, v *Value, destType Type) *Value {
	instr := ib.AppendInstr(op, destType)
	ib.SetArg(instr, 0, v)
	return instr.Result
}

// FToI converts a float value to an integer type.
func (ib *Builder) FToI(v *Value, destType Type) *Value {
	checkFloat(v)
	return ib.cast(OpFToI, v, destType)
}

// IToF converts an integer value to a float type.
func (ib *Builder) IToF(v *Value, destType Type) *Value {
	checkInt(v)
	return ib.cast(OpIToF, v, destType)
}

// SExt sign-extends an integer value to a wider type.
func (ib *Builder) SExt(v *Value, destType Type) *Value {
	checkInt(v)
	return ib.cast(OpSExt, v, destType)
}

// ZExt zero-extends an integer value to a wider type.
func (ib *Builder) ZExt(v *Value, destType Type) *Value {
	checkInt(v)
	return ib.cast(OpZExt, v, destType)
}

// Trunc truncates an integer value to a narrower type.
func (ib *Builder) Trunc(v *Value, destType Type) *Value {
	checkInt(v)
	return ib.cast(OpTrunc, v, destType)
}

// FExt widens f32 to f64.
func (ib *Builder) FExt(v *Value, destType Type) *Value {
	checkFloat(v)
	return ib.cast(OpFExt, v, destType)
}

// FTrunc narrows f64 to f32.
func (ib *Builder) FTrunc(v *Value, destType Type) *Value {
	checkFloat(v)
	return ib.cast(OpFTrunc, v, destType)
}

/*
 * conditionals
 */

// Select returns t when cond is non-zero, f otherwise.
func (ib *Builder) Select(cond, t, f *Value) *Value {
	checkInt(cond)
	checkSameType(t, f)
	instr := ib.AppendInstr(OpSelect, t.Type)
	ib.SetArg(instr, 0, cond)
	ib.SetArg(instr, 1, t)
	ib.SetArg(instr, 2, f)
	return instr.Result
}

func (ib *Builder) cmp(op Op, a, b *Value) *Value {
	checkInt(a)
	checkSameType(a, b)
	return ib.emit2(op, TypeI8, a, b).Result
}

func (ib *Builder) fcmp(op Op, a, b *Value) *Value {
	checkFloat(a)
	checkSameType(a, b)
	return ib.emit2(op, TypeI8, a, b).Result
}

// CmpEQ compares a == b.
func (ib *Builder) CmpEQ(a, b *Value) *Value { return ib.cmp(OpCmpEQ, a, b) }

// CmpNE compares a != b.
func (ib *Builder) CmpNE(a, b *Value) *Value { return ib.cmp(OpCmpNE, a, b) }

// CmpSGE compares a >= b, signed.
func (ib *Builder) CmpSGE(a, b *Value) *Value { return ib.cmp(OpCmpSGE, a, b) }

// CmpSGT compares a > b, signed.
func (ib *Builder) CmpSGT(a, b *Value) *Value { return ib.cmp(OpCmpSGT, a, b) }

// CmpUGE compares a >= b, unsigned.
func (ib *Builder) CmpUGE(a, b *Value) *Value { return ib.cmp(OpCmpUGE, a, b) }

// CmpUGT compares a > b, unsigned.
func (ib *Builder) CmpUGT(a, b *Value) *Value { return ib.cmp(OpCmpUGT, a, b) }

// CmpSLE compares a <= b, signed.
func (ib *Builder) CmpSLE(a, b *Value) *Value { return ib.cmp(OpCmpSLE, a, b) }

// CmpSLT compares a < b, signed.
func (ib *Builder) CmpSLT(a, b *Value) *Value { return ib.cmp(OpCmpSLT, a, b) }

// CmpULE compares a <= b, unsigned.
func (ib *Builder) CmpULE(a, b *Value) *Value { return ib.cmp(OpCmpULE, a, b) }

// CmpULT compares a < b, unsigned.
func (ib *Builder) CmpULT(a, b *Value) *Value { return ib.cmp(OpCmpULT, a, b) }

// FCmpEQ compares a == b.
func (ib *Builder) FCmpEQ(a, b *Value) *Value { return ib.fcmp(OpFCmpEQ, a, b) }

// FCmpNE compares a != b.
func (ib *Builder) FCmpNE(a, b *Value) *Value { return ib.fcmp(OpFCmpNE, a, b) }

// FCmpGE compares a >= b.
func (ib *Builder) FCmpGE(a, b *Value) *Value { return ib.fcmp(OpFCmpGE, a, b) }

// FCmpGT compares a > b.
func (ib *Builder) FCmpGT(a, b *Value) *Value { return ib.fcmp(OpFCmpGT, a, b) }

// FCmpLE compares a <= b.
func (ib *Builder) FCmpLE(a, b *Value) *Value { return ib.fcmp(OpFCmpLE, a, b) }

// FCmpLT compares a < b.
func (ib *Builder) FCmpLT(a, b *Value) *Value { return ib.fcmp(OpFCmpLT, a, b) }

/*
 * integer math
 */

func (ib *Builder) binop(op Op, a, b *Value) *Value {
	checkInt(a)
	checkSameType(a, b)
	return ib.emit2(op, a.Type, a, b).Result
}

func (ib *Builder) fbinop(op Op, a, b *Value) *Value {
	checkFloat(a)
	checkSameType(a, b)
	return ib.emit2(op, a.Type, a, b).Result
}

func (ib *Builder) unop(op Op, a *Value) *Value {
	instr := ib.AppendInstr(op, a.Type)
	ib.SetArg(instr, 0, a)
	return instr.Result
}

// Add returns a + b.
func (ib *Builder) Add(a, b *Value) *Value { return ib.binop(OpAdd, a, b) }

// Sub returns a - b.
func (ib *Builder) Sub(a, b *Value) *Value { return ib.binop(OpSub, a, b) }

// SMul returns a * b, signed.
func (ib *Builder) SMul(a, b *Value) *Value { return ib.binop(OpSMul, a, b) }

// UMul returns a * b, unsigned.
func (ib *Builder) UMul(a, b *Value) *Value { return ib.binop(OpUMul, a, b) }

// Div returns a / b.
func (ib *Builder) Div(a, b *Value) *Value { return ib.binop(OpDiv, a, b) }

// Neg returns -a.
func (ib *Builder) Neg(a *Value) *Value {
	checkInt(a)
	return ib.unop(OpNeg, a)
}

// Abs returns |a|.
func (ib *Builder) Abs(a *Value) *Value {
	checkInt(a)
	return ib.unop(OpAbs, a)
}

/*
 * floating point math
 */

// FAdd returns a + b.
func (ib *Builder) FAdd(a, b *Value) *Value { return ib.fbinop(OpFAdd, a, b) }

// FSub returns a - b.
func (ib *Builder) FSub(a, b *Value) *Value { return ib.fbinop(OpFSub, a, b) }

// FMul returns a * b.
func (ib *Builder) FMul(a, b *Value) *Value { return ib.fbinop(OpFMul, a, b) }

// FDiv returns a / b.
func (ib *Builder) FDiv(a, b *Value) *Value { return ib.fbinop(OpFDiv, a, b) }

// FNeg returns -a.
func (ib *Builder) FNeg(a *Value) *Value {
	checkFloat(a)
	return ib.unop(OpFNeg, a)
}

// FAbs returns |a|.
func (ib *Builder) FAbs(a *Value) *Value {
	checkFloat(a)
	return ib.unop(OpFAbs, a)
}

// Sqrt returns the square root of a.
func (ib *Builder) Sqrt(a *Value) *Value {
	checkFloat(a)
	return ib.unop(OpSqrt, a)
}

/*
 * vector math
 */

// VBroadcast splats a scalar across a v128.
func (ib *Builder) VBroadcast(a *Value) *Value {
	instr := ib.AppendInstr(OpVBroadcast, TypeV128)
	ib.SetArg(instr, 0, a)
	return instr.Result
}

func (ib *Builder) vbinop(op Op, a, b *Value, elType Type) *Value {
	instr := ib.AppendInstr(op, TypeV128)
	ib.SetArg(instr, 0, a)
	ib.SetArg(instr, 1, b)
	ib.SetArg(instr, 2, ib.AllocI32(int32(elType)))
	return instr.Result
}

// VAdd adds two vectors elementwise.
func (ib *Builder) VAdd(a, b *Value, elType Type) *Value { return ib.vbinop(OpVAdd, a, b, elType) }

// VDot computes the dot product of two vectors.
func (ib *Builder) VDot(a, b *Value, elType Type) *Value {
	instr := ib.AppendInstr(OpVDot, elType)
	ib.SetArg(instr, 0, a)
	ib.SetArg(instr, 1, b)
	return instr.Result
}

// VMul multiplies two vectors elementwise.
func (ib *Builder) VMul(a, b *Value, elType Type) *Value { return ib.vbinop(OpVMul, a, b, elType) }

/*
 * bitwise
 */

// And returns a & b.
func (ib *Builder) And(a, b *Value) *Value { return ib.binop(OpAnd, a, b) }

// Or returns a | b.
func (ib *Builder) Or(a, b *Value) *Value { return ib.binop(OpOr, a, b) }

// Xor returns a ^ b.
func (ib *Builder) Xor(a, b *Value) *Value { return ib.binop(OpXor, a, b) }

// Not returns ^a.
func (ib *Builder) Not(a *Value) *Value {
	checkInt(a)
	return ib.unop(OpNot, a)
}

func (ib *Builder) shift(op Op, a, n *Value) *Value {
	checkInt(a)
	checkInt(n)
	instr := ib.AppendInstr(op, a.Type)
	ib.SetArg(instr, 0, a)
	ib.SetArg(instr, 1, n)
	return instr.Result
}

// Shl returns a << n.
func (ib *Builder) Shl(a, n *Value) *Value { return ib.shift(OpShl, a, n) }

// ShlI returns a << n for a fixed amount.
func (ib *Builder) ShlI(a *Value, n int) *Value { return ib.Shl(a, ib.AllocI32(int32(n))) }

// AShr returns a >> n, arithmetic.
func (ib *Builder) AShr(a, n *Value) *Value { return ib.shift(OpAShr, a, n) }

// AShrI returns a >> n, arithmetic, for a fixed amount.
func (ib *Builder) AShrI(a *Value, n int) *Value { return ib.AShr(a, ib.AllocI32(int32(n))) }

// LShr returns a >> n, logical.
func (ib *Builder) LShr(a, n *Value) *Value { return ib.shift(OpLShr, a, n) }

// LShrI returns a >> n, logical, for a fixed amount.
func (ib *Builder) LShrI(a *Value, n int) *Value { return ib.LShr(a, ib.AllocI32(int32(n))) }

// AShd returns a shifted by the signed amount n, arithmetic; a positive n
// shifts left, a negative n shifts right.
func (ib *Builder) AShd(a, n *Value) *Value { return ib.shift(OpAShd, a, n) }

// LShd returns a shifted by the signed amount n, logical.
func (ib *Builder) LShd(a, n *Value) *Value { return ib.shift(OpLShd, a, n) }

/*
 * branches
 */

// Branch jumps unconditionally to dst, either a block reference or a host
// address.
func (ib *Builder) Branch(dst *Value) {
	instr := ib.AppendInstr(OpBranch, TypeVoid)
	ib.SetArg(instr, 0, dst)
}

// BranchTrue jumps to dst when cond is non-zero.
func (ib *Builder) BranchTrue(cond, dst *Value) {
	checkInt(cond)
	ib.emit2(OpBranchTrue, TypeVoid, cond, dst)
}

// BranchFalse jumps to dst when cond is zero.
func (ib *Builder) BranchFalse(cond, dst *Value) {
	checkInt(cond)
	ib.emit2(OpBranchFalse, TypeVoid, cond, dst)
}

/*
 * calls
 */

// Call invokes a host function.
func (ib *Builder) Call(fn *Value, args ...*Value) {
	instr := ib.AppendInstr(OpCall, TypeVoid)
	ib.SetArg(instr, 0, fn)
	for i, arg := range args {
		ib.SetArg(instr, 1+i, arg)
	}
}

// CallCond invokes a host function when cond is non-zero.
func (ib *Builder) CallCond(cond, fn *Value, args ...*Value) {
	checkInt(cond)
	instr := ib.AppendInstr(OpCallCond, TypeVoid)
	ib.SetArg(instr, 0, cond)
	ib.SetArg(instr, 1, fn)
	for i, arg := range args {
		ib.SetArg(instr, 2+i, arg)
	}
}

// CallNoreturn invokes a host function that never returns to the compiled
// code; the instruction terminates its block.
func (ib *Builder) CallNoreturn(fn *Value, args ...*Value) {
	instr := ib.AppendInstr(OpCallNoreturn, TypeVoid)
	ib.SetArg(instr, 0, fn)
	for i, arg := range args {
		ib.SetArg(instr, 1+i, arg)
	}
}

// CallFallback invokes the interpreter fallback for a single guest
// instruction, carrying the source address and raw opcode for debugging.
func (ib *Builder) CallFallback(fallback uintptr, addr uint32, rawInstr uint32) {
	instr := ib.AppendInstr(OpCallFallback, TypeVoid)
	ib.SetArg(instr, 0, ib.AllocPtr(fallback))
	ib.SetArg(instr, 1, ib.AllocInt(int64(addr), TypeI32))
	ib.SetArg(instr, 2, ib.AllocInt(int64(rawInstr), TypeI32))
}

/*
 * debug
 */

// DebugInfo attaches a description of the originating guest instruction.
func (ib *Builder) DebugInfo(desc string, addr uint32, rawInstr uint32) {
	instr := ib.AppendInstr(OpDebugInfo, TypeVoid)
	ib.SetArg(instr, 0, ib.AllocStr("%s", desc))
	ib.SetArg(instr, 1, ib.AllocInt(int64(addr), TypeI32))
	ib.SetArg(instr, 2, ib.AllocInt(int64(rawInstr), TypeI32))
}

// DebugBreak traps into the host debugger.
func (ib *Builder) DebugBreak() {
	ib.AppendInstr(OpDebugBreak, TypeVoid)
}

// AssertLT asserts a < b at runtime.
func (ib *Builder) AssertLT(a, b *Value) {
	ib.emit2(OpAssertLT, TypeVoid, a, b)
}
