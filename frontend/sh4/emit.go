// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sh4

import (
	"github.com/golang/glog"

	"github.com/go-dreamcast/dynarec/ir"
	"github.com/go-dreamcast/dynarec/jit"
)

// emitInstr lowers one guest instruction, including its delay slot. The
// common ALU and move forms emit IR directly; everything else drops to
// the interpreter fallback. Branch lowerings read their operands before
// the delay slot executes, matching the hardware's evaluation order, and
// hand the condition and destination values to the compile unit for the
// terminator.
func (f *Frontend) emitInstr(ib *ir.Builder, flags int, unit *jit.CompileUnit, instr, delay *Instr) {
	switch instr.Op {
	case OpBT, OpBTS, OpBF, OpBFS:
		unit.BranchCond = ib.LoadContext(offSRT, ir.TypeI32)
		f.emitDelay(ib, flags, instr, delay)

	case OpBRA:
		f.emitDelay(ib, flags, instr, delay)

	case OpBSR:
		ib.StoreContext(offPR, ib.AllocI32(int32(instr.Addr+4)))
		f.emitDelay(ib, flags, instr, delay)

	case OpBRAF:
		rn := f.loadReg(ib, instr.Rn)
		unit.BranchDest = ib.Add(rn, ib.AllocI32(int32(instr.Addr+4)))
		f.emitDelay(ib, flags, instr, delay)

	case OpBSRF:
		ib.StoreContext(offPR, ib.AllocI32(int32(instr.Addr+4)))
		rn := f.loadReg(ib, instr.Rn)
		unit.BranchDest = ib.Add(rn, ib.AllocI32(int32(instr.Addr+4)))
		f.emitDelay(ib, flags, instr, delay)

	case OpJMP:
		unit.BranchDest = f.loadReg(ib, instr.Rn)
		f.emitDelay(ib, flags, instr, delay)

	case OpJSR:
		ib.StoreContext(offPR, ib.AllocI32(int32(instr.Addr+4)))
		unit.BranchDest = f.loadReg(ib, instr.Rn)
		f.emitDelay(ib, flags, instr, delay)

	case OpRTS:
		unit.BranchDest = ib.LoadContext(offPR, ir.TypeI32)
		f.emitDelay(ib, flags, instr, delay)

	case OpRTE:
		// the fallback restores sr and moves spc to pc
		ib.CallFallback(f.fallback, instr.Addr, uint32(instr.Opcode))
		unit.BranchDest = ib.LoadContext(offPC, ir.TypeI32)
		f.emitDelay(ib, flags, instr, delay)

	case OpTRAPA:
		ib.CallFallback(f.fallback, instr.Addr, uint32(instr.Opcode))
		unit.BranchDest = ib.LoadContext(offPC, ir.TypeI32)

	default:
		f.emitAlu(ib, flags, instr)
	}
}

func (f *Frontend) emitDelay(ib *ir.Builder, flags int, instr, delay *Instr) {
	if instr.Flags&FlagDelayed == 0 {
		return
	}
	if delay.Flags&FlagBranch != 0 {
		glog.Fatalf("sh4: branch in delay slot at 0x%08x", delay.Addr)
	}
	f.emitAlu(ib, flags, delay)
}

func (f *Frontend) emitAlu(ib *ir.Builder, flags int, instr *Instr) {
	switch instr.Op {
	case OpNOP:

	case OpMOV:
		f.storeReg(ib, instr.Rn, f.loadReg(ib, instr.Rm))

	case OpMOVI:
		f.storeReg(ib, instr.Rn, ib.AllocI32(int32(int8(instr.Imm))))

	case OpADD:
		f.storeReg(ib, instr.Rn, ib.Add(f.loadReg(ib, instr.Rn), f.loadReg(ib, instr.Rm)))

	case OpADDI:
		f.storeReg(ib, instr.Rn, ib.Add(f.loadReg(ib, instr.Rn), ib.AllocI32(int32(int8(instr.Imm)))))

	case OpSUB:
		f.storeReg(ib, instr.Rn, ib.Sub(f.loadReg(ib, instr.Rn), f.loadReg(ib, instr.Rm)))

	case OpAND:
		f.storeReg(ib, instr.Rn, ib.And(f.loadReg(ib, instr.Rn), f.loadReg(ib, instr.Rm)))

	case OpOR:
		f.storeReg(ib, instr.Rn, ib.Or(f.loadReg(ib, instr.Rn), f.loadReg(ib, instr.Rm)))

	case OpXOR:
		f.storeReg(ib, instr.Rn, ib.Xor(f.loadReg(ib, instr.Rn), f.loadReg(ib, instr.Rm)))

	case OpNEG:
		f.storeReg(ib, instr.Rn, ib.Neg(f.loadReg(ib, instr.Rm)))

	case OpNOT:
		f.storeReg(ib, instr.Rn, ib.Not(f.loadReg(ib, instr.Rm)))

	case OpEXTUB:
		f.storeReg(ib, instr.Rn, ib.And(f.loadReg(ib, instr.Rm), ib.AllocI32(0xff)))

	case OpEXTUW:
		f.storeReg(ib, instr.Rn, ib.And(f.loadReg(ib, instr.Rm), ib.AllocI32(0xffff)))

	case OpSHLL:
		rn := f.loadReg(ib, instr.Rn)
		f.storeT(ib, ib.LShrI(rn, 31))
		f.storeReg(ib, instr.Rn, ib.ShlI(rn, 1))

	case OpSHLR:
		rn := f.loadReg(ib, instr.Rn)
		f.storeT(ib, ib.And(rn, ib.AllocI32(1)))
		f.storeReg(ib, instr.Rn, ib.LShrI(rn, 1))

	case OpSHAR:
		rn := f.loadReg(ib, instr.Rn)
		f.storeT(ib, ib.And(rn, ib.AllocI32(1)))
		f.storeReg(ib, instr.Rn, ib.AShrI(rn, 1))

	case OpDT:
		rn := ib.Sub(f.loadReg(ib, instr.Rn), ib.AllocI32(1))
		f.storeReg(ib, instr.Rn, rn)
		f.storeT(ib, ib.ZExt(ib.CmpEQ(rn, ib.AllocI32(0)), ir.TypeI32))

	case OpCMPEQ:
		f.emitCompare(ib, instr, ib.CmpEQ)
	case OpCMPHS:
		f.emitCompare(ib, instr, ib.CmpUGE)
	case OpCMPGE:
		f.emitCompare(ib, instr, ib.CmpSGE)
	case OpCMPHI:
		f.emitCompare(ib, instr, ib.CmpUGT)
	case OpCMPGT:
		f.emitCompare(ib, instr, ib.CmpSGT)

	case OpTST:
		masked := ib.And(f.loadReg(ib, instr.Rn), f.loadReg(ib, instr.Rm))
		f.storeT(ib, ib.ZExt(ib.CmpEQ(masked, ib.AllocI32(0)), ir.TypeI32))

	case OpSTSPR:
		f.storeReg(ib, instr.Rn, ib.LoadContext(offPR, ir.TypeI32))

	case OpMOVBL:
		v := f.loadMem(ib, flags, f.loadReg(ib, instr.Rm), ir.TypeI8)
		f.storeReg(ib, instr.Rn, ib.SExt(v, ir.TypeI32))

	case OpMOVWL:
		v := f.loadMem(ib, flags, f.loadReg(ib, instr.Rm), ir.TypeI16)
		f.storeReg(ib, instr.Rn, ib.SExt(v, ir.TypeI32))

	case OpMOVLL:
		f.storeReg(ib, instr.Rn, f.loadMem(ib, flags, f.loadReg(ib, instr.Rm), ir.TypeI32))

	case OpMOVBS:
		f.storeMem(ib, flags, f.loadReg(ib, instr.Rn), ib.Trunc(f.loadReg(ib, instr.Rm), ir.TypeI8))

	case OpMOVWS:
		f.storeMem(ib, flags, f.loadReg(ib, instr.Rn), ib.Trunc(f.loadReg(ib, instr.Rm), ir.TypeI16))

	case OpMOVLS:
		f.storeMem(ib, flags, f.loadReg(ib, instr.Rn), f.loadReg(ib, instr.Rm))

	case OpMOVLLPC:
		addr := (instr.Addr &^ 3) + 4 + uint32(instr.Imm)*4
		f.storeReg(ib, instr.Rn, f.loadMem(ib, flags, ib.AllocI32(int32(addr)), ir.TypeI32))

	case OpMOVA:
		addr := (instr.Addr &^ 3) + 4 + uint32(instr.Imm)*4
		f.storeReg(ib, 0, ib.AllocI32(int32(addr)))

	default:
		ib.CallFallback(f.fallback, instr.Addr, uint32(instr.Opcode))
	}
}

func (f *Frontend) emitCompare(ib *ir.Builder, instr *Instr, cmp func(a, b *ir.Value) *ir.Value) {
	t := cmp(f.loadReg(ib, instr.Rn), f.loadReg(ib, instr.Rm))
	f.storeT(ib, ib.ZExt(t, ir.TypeI32))
}

func (f *Frontend) loadReg(ib *ir.Builder, n int) *ir.Value {
	return ib.LoadContext(offReg(n), ir.TypeI32)
}

func (f *Frontend) storeReg(ib *ir.Builder, n int, v *ir.Value) {
	ib.StoreContext(offReg(n), v)
}

func (f *Frontend) storeT(ib *ir.Builder, v *ir.Value) {
	ib.StoreContext(offSRT, v)
}

func (f *Frontend) loadMem(ib *ir.Builder, flags int, addr *ir.Value, typ ir.Type) *ir.Value {
	if flags&FlagFastmem != 0 {
		return ib.LoadFast(addr, typ)
	}
	return ib.LoadSlow(addr, typ)
}

func (f *Frontend) storeMem(ib *ir.Builder, flags int, addr, v *ir.Value) {
	if flags&FlagFastmem != 0 {
		ib.StoreFast(addr, v)
		return
	}
	ib.StoreSlow(addr, v)
}
