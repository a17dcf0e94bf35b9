// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"encoding/binary"

	"github.com/golang/glog"
	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/go-dreamcast/dynarec/ir"
)

// The emitter lowers one IR module to machine code. Straight-line ops go
// through the golang-asm builder; branch and call sites are emitted as
// raw bytes so their exact offsets are known for patching, with rel32
// fixups applied after layout.
//
// RAX and RDX are the integer scratch pair (binops compute in RAX, host
// thunks take arguments in RAX/RDX and return in RAX), RBP holds call
// and branch targets, and XMM8 is the float scratch. Host thunks preserve
// every other register. Emission is deliberately naive; values move
// through the scratch registers rather than being juggled in place.

type blockFixup struct {
	at     int // offset of the rel32 field
	target *ir.Block
}

type emitter struct {
	b *Backend

	buf     []byte
	bld     *asm.Builder
	offsets map[*ir.Block]int
	fixups  []blockFixup
	fastmem []fastmemRange
}

func newEmitter(b *Backend) *emitter {
	return &emitter{
		b:       b,
		offsets: make(map[*ir.Block]int),
	}
}

func (e *emitter) assemble(ib *ir.Builder) ([]byte, []fastmemRange, error) {
	for block := ib.Blocks(); block != nil; block = block.Next() {
		e.flush()
		e.offsets[block] = len(e.buf)

		for instr := block.Head(); instr != nil; instr = instr.Next() {
			e.emitInstr(instr)
		}
	}
	e.flush()

	for _, f := range e.fixups {
		target, ok := e.offsets[f.target]
		if !ok {
			glog.Fatal("x64: branch to unlaid-out block")
		}
		binary.LittleEndian.PutUint32(e.buf[f.at:], uint32(target-(f.at+4)))
	}

	return e.buf, e.fastmem, nil
}

/*
 * segment management
 */

func (e *emitter) prog() *obj.Prog {
	if e.bld == nil {
		bld, err := asm.NewBuilder("amd64", 64)
		if err != nil {
			glog.Fatalf("x64: creating builder: %v", err)
		}
		e.bld = bld
	}
	p := e.bld.NewProg()
	e.bld.AddInstruction(p)
	return p
}

func (e *emitter) flush() {
	if e.bld != nil {
		e.buf = append(e.buf, e.bld.Assemble()...)
		e.bld = nil
	}
}

func (e *emitter) raw(bytes ...byte) {
	e.flush()
	e.buf = append(e.buf, bytes...)
}

// rawImm64 appends an 8-byte immediate, returning its offset.
func (e *emitter) rawImm64(v uint64) int {
	e.flush()
	at := len(e.buf)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
	return at
}

// rawRel32 appends a zeroed rel32 with a fixup against the target block.
func (e *emitter) rawRel32(target *ir.Block) {
	e.flush()
	e.fixups = append(e.fixups, blockFixup{at: len(e.buf), target: target})
	e.buf = append(e.buf, 0, 0, 0, 0)
}

/*
 * operand helpers
 */

func hostReg(v *ir.Value) int16 {
	if v.Reg == ir.NoRegister {
		glog.Fatal("x64: value without a host register")
	}
	return registers[v.Reg].host
}

func movAs(t ir.Type) obj.As {
	switch t {
	case ir.TypeI8:
		return x86.AMOVB
	case ir.TypeI16:
		return x86.AMOVW
	case ir.TypeI32:
		return x86.AMOVL
	case ir.TypeI64:
		return x86.AMOVQ
	case ir.TypeF32:
		return x86.AMOVSS
	case ir.TypeF64:
		return x86.AMOVSD
	case ir.TypeV128:
		return x86.AMOVUPS
	}
	glog.Fatalf("x64: no move for type %v", t)
	return obj.AXXX
}

func widthAs(t ir.Type, l, q obj.As) obj.As {
	if t == ir.TypeI64 {
		return q
	}
	return l
}

// scratch loads a value into the integer or float scratch register and
// returns the register.
func (e *emitter) scratch(v *ir.Value) int16 {
	if v.Type.IsFloat() {
		p := e.prog()
		p.As = movAs(v.Type)
		p.To.Type = obj.TYPE_REG
		p.To.Reg = x86.REG_X8
		if v.IsConstant() {
			glog.Fatal("x64: float constants must be materialized via the context")
		}
		p.From.Type = obj.TYPE_REG
		p.From.Reg = hostReg(v)
		return x86.REG_X8
	}

	p := e.prog()
	p.To.Type = obj.TYPE_REG
	p.To.Reg = x86.REG_AX
	if v.IsConstant() {
		p.As = widthAs(v.Type, x86.AMOVL, x86.AMOVQ)
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = v.I64
	} else {
		p.As = movAs(v.Type)
		p.From.Type = obj.TYPE_REG
		p.From.Reg = hostReg(v)
	}
	return x86.REG_AX
}

// operand fills an argument slot with either the value's register or its
// constant payload.
func (e *emitter) operand(addr *obj.Addr, v *ir.Value) {
	if v.IsConstant() {
		addr.Type = obj.TYPE_CONST
		addr.Offset = v.I64
	} else {
		addr.Type = obj.TYPE_REG
		addr.Reg = hostReg(v)
	}
}

// writeback moves the scratch register into the result's register.
func (e *emitter) writeback(scratch int16, result *ir.Value) {
	p := e.prog()
	p.As = movAs(result.Type)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = scratch
	p.To.Type = obj.TYPE_REG
	p.To.Reg = hostReg(result)
}

/*
 * instruction emission
 */

func (e *emitter) emitInstr(instr *ir.Instr) {
	switch instr.Op {
	case ir.OpLoadContext:
		p := e.prog()
		p.As = movAs(instr.Result.Type)
		p.From.Type = obj.TYPE_MEM
		p.From.Reg = regCtx
		p.From.Offset = int64(instr.Args[0].I32())
		p.To.Type = obj.TYPE_REG
		p.To.Reg = hostReg(instr.Result)

	case ir.OpStoreContext:
		e.emitStoreMem(regCtx, int64(instr.Args[0].I32()), instr.Args[1])

	case ir.OpLoadLocal:
		p := e.prog()
		p.As = movAs(instr.Result.Type)
		p.From.Type = obj.TYPE_MEM
		p.From.Reg = x86.REG_SP
		p.From.Offset = int64(instr.Args[0].I32())
		p.To.Type = obj.TYPE_REG
		p.To.Reg = hostReg(instr.Result)

	case ir.OpStoreLocal:
		e.emitStoreMem(x86.REG_SP, int64(instr.Args[0].I32()), instr.Args[1])

	case ir.OpLoadFast:
		e.flush()
		start := len(e.buf)
		p := e.prog()
		p.As = movAs(instr.Result.Type)
		p.From.Type = obj.TYPE_MEM
		p.From.Reg = regMem
		p.From.Index = hostReg(instr.Args[0])
		p.From.Scale = 1
		p.To.Type = obj.TYPE_REG
		p.To.Reg = hostReg(instr.Result)
		e.flush()
		e.fastmem = append(e.fastmem, fastmemRange{start: uintptr(start), end: uintptr(len(e.buf))})

	case ir.OpStoreFast:
		e.flush()
		start := len(e.buf)
		v := instr.Args[1]
		src := v
		if v.IsConstant() {
			e.scratch(v)
			src = nil
		}
		p := e.prog()
		p.As = movAs(v.Type)
		p.To.Type = obj.TYPE_MEM
		p.To.Reg = regMem
		p.To.Index = hostReg(instr.Args[0])
		p.To.Scale = 1
		p.From.Type = obj.TYPE_REG
		if src != nil {
			p.From.Reg = hostReg(src)
		} else {
			p.From.Reg = x86.REG_AX
		}
		e.flush()
		e.fastmem = append(e.fastmem, fastmemRange{start: uintptr(start), end: uintptr(len(e.buf))})

	case ir.OpLoadSlow:
		e.emitSlowLoad(instr)

	case ir.OpStoreSlow:
		e.emitSlowStore(instr)

	case ir.OpLoadHost:
		addr := instr.Args[0]
		base := int16(x86.REG_BP)
		if addr.IsConstant() {
			e.movImm64(x86.REG_BP, uint64(addr.I64))
		} else {
			base = hostReg(addr)
		}
		p := e.prog()
		p.As = movAs(instr.Result.Type)
		p.From.Type = obj.TYPE_MEM
		p.From.Reg = base
		p.To.Type = obj.TYPE_REG
		p.To.Reg = hostReg(instr.Result)

	case ir.OpStoreHost:
		addr := instr.Args[0]
		base := int16(x86.REG_BP)
		if addr.IsConstant() {
			e.movImm64(x86.REG_BP, uint64(addr.I64))
		} else {
			base = hostReg(addr)
		}
		e.emitStoreMem(base, 0, instr.Args[1])

	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpSMul, ir.OpUMul,
		ir.OpShl, ir.OpAShr, ir.OpLShr:
		e.emitIntBinop(instr)

	case ir.OpNeg, ir.OpNot:
		reg := e.scratch(instr.Args[0])
		p := e.prog()
		if instr.Op == ir.OpNeg {
			p.As = widthAs(instr.Result.Type, x86.ANEGL, x86.ANEGQ)
		} else {
			p.As = widthAs(instr.Result.Type, x86.ANOTL, x86.ANOTQ)
		}
		p.To.Type = obj.TYPE_REG
		p.To.Reg = reg
		e.writeback(reg, instr.Result)

	case ir.OpCmpEQ, ir.OpCmpNE, ir.OpCmpSGE, ir.OpCmpSGT, ir.OpCmpUGE,
		ir.OpCmpUGT, ir.OpCmpSLE, ir.OpCmpSLT, ir.OpCmpULE, ir.OpCmpULT:
		e.emitCompare(instr)

	case ir.OpFCmpEQ, ir.OpFCmpNE, ir.OpFCmpGE, ir.OpFCmpGT, ir.OpFCmpLE,
		ir.OpFCmpLT:
		e.emitFloatCompare(instr)

	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv:
		e.emitFloatBinop(instr)

	case ir.OpSqrt:
		p := e.prog()
		if instr.Result.Type == ir.TypeF32 {
			p.As = x86.ASQRTSS
		} else {
			p.As = x86.ASQRTSD
		}
		p.From.Type = obj.TYPE_REG
		p.From.Reg = hostReg(instr.Args[0])
		p.To.Type = obj.TYPE_REG
		p.To.Reg = hostReg(instr.Result)

	case ir.OpZExt, ir.OpSExt:
		e.emitExtend(instr)

	case ir.OpTrunc:
		p := e.prog()
		p.As = x86.AMOVQ
		e.operand(&p.From, instr.Args[0])
		p.To.Type = obj.TYPE_REG
		p.To.Reg = hostReg(instr.Result)

	case ir.OpFToI, ir.OpIToF, ir.OpFExt, ir.OpFTrunc:
		e.emitConvert(instr)

	case ir.OpBranch:
		e.emitBranch(instr.Args[0])

	case ir.OpBranchTrue:
		e.emitBranchCond(instr.Args[0], instr.Args[1], true)

	case ir.OpBranchFalse:
		e.emitBranchCond(instr.Args[0], instr.Args[1], false)

	case ir.OpCall, ir.OpCallNoreturn:
		e.emitCall(uint64(instr.Args[0].I64))

	case ir.OpCallFallback:
		// fallback(addr, raw) with the arguments in eax/edx
		p := e.prog()
		p.As = x86.AMOVL
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = instr.Args[1].I64
		p.To.Type = obj.TYPE_REG
		p.To.Reg = x86.REG_AX
		p = e.prog()
		p.As = x86.AMOVL
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = instr.Args[2].I64
		p.To.Type = obj.TYPE_REG
		p.To.Reg = x86.REG_DX
		e.emitCall(uint64(instr.Args[0].I64))

	case ir.OpDebugInfo:
		// metadata only

	case ir.OpDebugBreak:
		e.raw(0xcc)

	case ir.OpAssertLT:
		// debug builds of the thunks check this; nothing to emit here

	default:
		glog.Fatalf("x64: cannot assemble op %v", instr.Op)
	}
}

func (e *emitter) movImm64(reg int16, v uint64) {
	// movabs reg, imm64 is emitted raw so patchable sites have a fixed
	// shape; reg must be bp
	if reg != x86.REG_BP {
		glog.Fatal("x64: movImm64 targets the call scratch register")
	}
	e.raw(0x48, 0xbd)
	e.rawImm64(v)
}

// emitStoreMem stores a value or small constant to [base+off].
func (e *emitter) emitStoreMem(base int16, off int64, v *ir.Value) {
	p := e.prog()
	p.As = movAs(v.Type)
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Offset = off

	if v.IsConstant() {
		if v.Type.IsFloat() {
			glog.Fatal("x64: float constants must be materialized via the context")
		}
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = v.I64
		return
	}
	p.From.Type = obj.TYPE_REG
	p.From.Reg = hostReg(v)
}

func (e *emitter) emitIntBinop(instr *ir.Instr) {
	typ := instr.Result.Type
	reg := e.scratch(instr.Args[0])

	p := e.prog()
	switch instr.Op {
	case ir.OpAdd:
		p.As = widthAs(typ, x86.AADDL, x86.AADDQ)
	case ir.OpSub:
		p.As = widthAs(typ, x86.ASUBL, x86.ASUBQ)
	case ir.OpAnd:
		p.As = widthAs(typ, x86.AANDL, x86.AANDQ)
	case ir.OpOr:
		p.As = widthAs(typ, x86.AORL, x86.AORQ)
	case ir.OpXor:
		p.As = widthAs(typ, x86.AXORL, x86.AXORQ)
	case ir.OpSMul, ir.OpUMul:
		p.As = widthAs(typ, x86.AIMULL, x86.AIMULQ)
	case ir.OpShl:
		p.As = widthAs(typ, x86.ASHLL, x86.ASHLQ)
	case ir.OpAShr:
		p.As = widthAs(typ, x86.ASARL, x86.ASARQ)
	case ir.OpLShr:
		p.As = widthAs(typ, x86.ASHRL, x86.ASHRQ)
	}

	switch instr.Op {
	case ir.OpShl, ir.OpAShr, ir.OpLShr:
		if !instr.Args[1].IsConstant() {
			glog.Fatal("x64: variable shift amounts are not supported")
		}
	}

	e.operand(&p.From, instr.Args[1])
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg

	e.writeback(reg, instr.Result)
}

var setcc = map[ir.Op]obj.As{
	ir.OpCmpEQ:  x86.ASETEQ,
	ir.OpCmpNE:  x86.ASETNE,
	ir.OpCmpSGE: x86.ASETGE,
	ir.OpCmpSGT: x86.ASETGT,
	ir.OpCmpUGE: x86.ASETCC,
	ir.OpCmpUGT: x86.ASETHI,
	ir.OpCmpSLE: x86.ASETLE,
	ir.OpCmpSLT: x86.ASETLT,
	ir.OpCmpULE: x86.ASETLS,
	ir.OpCmpULT: x86.ASETCS,
}

func (e *emitter) emitCompare(instr *ir.Instr) {
	reg := e.scratch(instr.Args[0])

	p := e.prog()
	p.As = widthAs(instr.Args[0].Type, x86.ACMPL, x86.ACMPQ)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg
	e.operand(&p.To, instr.Args[1])

	p = e.prog()
	p.As = setcc[instr.Op]
	p.To.Type = obj.TYPE_REG
	p.To.Reg = hostReg(instr.Result)
}

var fsetcc = map[ir.Op]obj.As{
	ir.OpFCmpEQ: x86.ASETEQ,
	ir.OpFCmpNE: x86.ASETNE,
	ir.OpFCmpGE: x86.ASETCC,
	ir.OpFCmpGT: x86.ASETHI,
	ir.OpFCmpLE: x86.ASETCC,
	ir.OpFCmpLT: x86.ASETHI,
}

func (e *emitter) emitFloatCompare(instr *ir.Instr) {
	a, b := instr.Args[0], instr.Args[1]

	// le/lt compare with the operands swapped so above/above-or-equal
	// conditions cover every ordering
	if instr.Op == ir.OpFCmpLE || instr.Op == ir.OpFCmpLT {
		a, b = b, a
	}

	p := e.prog()
	if a.Type == ir.TypeF32 {
		p.As = x86.AUCOMISS
	} else {
		p.As = x86.AUCOMISD
	}
	p.From.Type = obj.TYPE_REG
	p.From.Reg = hostReg(b)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = hostReg(a)

	p = e.prog()
	p.As = fsetcc[instr.Op]
	p.To.Type = obj.TYPE_REG
	p.To.Reg = hostReg(instr.Result)
}

func (e *emitter) emitFloatBinop(instr *ir.Instr) {
	f32 := instr.Result.Type == ir.TypeF32
	reg := e.scratch(instr.Args[0])

	p := e.prog()
	switch instr.Op {
	case ir.OpFAdd:
		p.As = pick(f32, x86.AADDSS, x86.AADDSD)
	case ir.OpFSub:
		p.As = pick(f32, x86.ASUBSS, x86.ASUBSD)
	case ir.OpFMul:
		p.As = pick(f32, x86.AMULSS, x86.AMULSD)
	case ir.OpFDiv:
		p.As = pick(f32, x86.ADIVSS, x86.ADIVSD)
	}
	p.From.Type = obj.TYPE_REG
	p.From.Reg = hostReg(instr.Args[1])
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg

	e.writeback(reg, instr.Result)
}

func pick(cond bool, a, b obj.As) obj.As {
	if cond {
		return a
	}
	return b
}

func (e *emitter) emitExtend(instr *ir.Instr) {
	from := instr.Args[0].Type
	to := instr.Result.Type
	signed := instr.Op == ir.OpSExt

	var as obj.As
	switch {
	case from == ir.TypeI8 && to != ir.TypeI64:
		as = pick(signed, x86.AMOVBLSX, x86.AMOVBLZX)
	case from == ir.TypeI8:
		as = pick(signed, x86.AMOVBQSX, x86.AMOVBQZX)
	case from == ir.TypeI16 && to != ir.TypeI64:
		as = pick(signed, x86.AMOVWLSX, x86.AMOVWLZX)
	case from == ir.TypeI16:
		as = pick(signed, x86.AMOVWQSX, x86.AMOVWQZX)
	case from == ir.TypeI32:
		// movl zero-extends; sign extension needs movsxd
		as = pick(signed, x86.AMOVLQSX, x86.AMOVL)
	default:
		glog.Fatalf("x64: extend from %v to %v", from, to)
	}

	p := e.prog()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = hostReg(instr.Args[0])
	p.To.Type = obj.TYPE_REG
	p.To.Reg = hostReg(instr.Result)
}

func (e *emitter) emitConvert(instr *ir.Instr) {
	from := instr.Args[0].Type
	to := instr.Result.Type

	var as obj.As
	switch {
	case instr.Op == ir.OpFToI && from == ir.TypeF32:
		as = pick(to == ir.TypeI64, x86.ACVTTSS2SQ, x86.ACVTTSS2SL)
	case instr.Op == ir.OpFToI:
		as = pick(to == ir.TypeI64, x86.ACVTTSD2SQ, x86.ACVTTSD2SL)
	case instr.Op == ir.OpIToF && to == ir.TypeF32:
		as = pick(from == ir.TypeI64, x86.ACVTSQ2SS, x86.ACVTSL2SS)
	case instr.Op == ir.OpIToF:
		as = pick(from == ir.TypeI64, x86.ACVTSQ2SD, x86.ACVTSL2SD)
	case instr.Op == ir.OpFExt:
		as = x86.ACVTSS2SD
	default:
		as = x86.ACVTSD2SS
	}

	p := e.prog()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = hostReg(instr.Args[0])
	p.To.Type = obj.TYPE_REG
	p.To.Reg = hostReg(instr.Result)
}

/*
 * branches and calls
 */

func (e *emitter) emitBranch(dst *ir.Value) {
	if dst.Type == ir.TypeBlock {
		// jmp rel32
		e.raw(0xe9)
		e.rawRel32(dst.Blk)
		return
	}

	// movabs rbp, imm64; jmp rbp
	e.movImm64(x86.REG_BP, uint64(dst.I64))
	e.raw(0xff, 0xe5)
}

func (e *emitter) emitBranchCond(cond, dst *ir.Value, whenTrue bool) {
	reg := e.scratch(cond)

	p := e.prog()
	switch cond.Type {
	case ir.TypeI8:
		p.As = x86.ATESTB
	case ir.TypeI16:
		p.As = x86.ATESTW
	case ir.TypeI32:
		p.As = x86.ATESTL
	default:
		p.As = x86.ATESTQ
	}
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg

	if dst.Type == ir.TypeBlock {
		// jcc rel32
		if whenTrue {
			e.raw(0x0f, 0x85) // jnz
		} else {
			e.raw(0x0f, 0x84) // jz
		}
		e.rawRel32(dst.Blk)
		return
	}

	// the inverted jcc skips the movabs rbp, imm64; jmp rbp pair
	if whenTrue {
		e.raw(0x74, 0x0c) // jz +12
	} else {
		e.raw(0x75, 0x0c) // jnz +12
	}
	e.movImm64(x86.REG_BP, uint64(dst.I64))
	e.raw(0xff, 0xe5)
}

func (e *emitter) emitCall(target uint64) {
	// movabs rbp, imm64; call rbp
	e.movImm64(x86.REG_BP, target)
	e.raw(0xff, 0xd5)
}

func (e *emitter) emitSlowLoad(instr *ir.Instr) {
	var thunk uintptr
	switch instr.Result.Type.Size() {
	case 1:
		thunk = e.b.opts.MemThunks.R8
	case 2:
		thunk = e.b.opts.MemThunks.R16
	case 4:
		thunk = e.b.opts.MemThunks.R32
	default:
		thunk = e.b.opts.MemThunks.R64
	}

	// address in eax, result back from eax/rax
	e.scratch(instr.Args[0])
	e.emitCall(uint64(thunk))
	e.writeback(x86.REG_AX, instr.Result)
}

func (e *emitter) emitSlowStore(instr *ir.Instr) {
	var thunk uintptr
	v := instr.Args[1]
	switch v.Type.Size() {
	case 1:
		thunk = e.b.opts.MemThunks.W8
	case 2:
		thunk = e.b.opts.MemThunks.W16
	case 4:
		thunk = e.b.opts.MemThunks.W32
	default:
		thunk = e.b.opts.MemThunks.W64
	}

	// address in eax, value in rdx
	e.scratch(instr.Args[0])
	p := e.prog()
	p.To.Type = obj.TYPE_REG
	p.To.Reg = x86.REG_DX
	if v.IsConstant() {
		p.As = widthAs(v.Type, x86.AMOVL, x86.AMOVQ)
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = v.I64
	} else {
		p.As = movAs(v.Type)
		p.From.Type = obj.TYPE_REG
		p.From.Reg = hostReg(v)
	}
	e.emitCall(uint64(thunk))
}
