// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package armv3 implements the ARMv3 front end for the holly-side sound
// processor: a single-pass analyzer that terminates blocks on anything
// that can change the program counter or processor state, and a
// fallback-driven translator.
package armv3

import (
	"fmt"
	"unsafe"

	"github.com/go-dreamcast/dynarec/ir"
	"github.com/go-dreamcast/dynarec/jit"
)

// Context is the ARMv3 register file as seen by generated code.
type Context struct {
	R    [16]uint32
	CPSR uint32
	SPSR uint32

	RemainingCycles   int32
	RanInstrs         uint64
	PendingInterrupts uint64
}

var ctx Context

var (
	offPC                = int(unsafe.Offsetof(ctx.R)) + 15*4
	offRemainingCycles   = int(unsafe.Offsetof(ctx.RemainingCycles))
	offRanInstrs         = int(unsafe.Offsetof(ctx.RanInstrs))
	offPendingInterrupts = int(unsafe.Offsetof(ctx.PendingInterrupts))
)

// cyclesPerInstr is a flat estimate of 12 cycles per instruction.
const cyclesPerInstr = 12

// Instruction classes relevant to block termination.
const (
	classBranch = iota
	classData
	classPSR
	classXfr
	classBlk
	classSWI
	classOther
	classInvalid
)

// classify buckets a raw instruction word by its top-level encoding.
func classify(raw uint32) int {
	switch (raw >> 25) & 0x7 {
	case 0x0, 0x1:
		// data processing; MRS/MSR hide in the TST/TEQ/CMP/CMN space
		// with the S bit clear
		if (raw>>23)&0x3 == 0x2 && (raw>>20)&0x1 == 0 {
			return classPSR
		}
		return classData
	case 0x2, 0x3:
		if (raw>>25)&0x7 == 0x3 && raw&(1<<4) != 0 {
			return classInvalid
		}
		return classXfr
	case 0x4:
		return classBlk
	case 0x5:
		return classBranch
	case 0x7:
		if (raw>>24)&0x1 == 1 {
			return classSWI
		}
		return classOther
	}
	return classOther
}

func rd(raw uint32) int {
	return int(raw>>12) & 0xf
}

// Dispatch holds the host addresses of the dispatch thunks.
type Dispatch struct {
	Static    uintptr
	Dynamic   uintptr
	Leave     uintptr
	Interrupt uintptr
}

// Frontend is the ARMv3 front end.
type Frontend struct {
	guest    jit.Guest
	ctx      *Context
	dispatch Dispatch
	fallback uintptr
}

// New returns an ARMv3 front end.
func New(guest jit.Guest, ctx *Context, dispatch Dispatch, fallback uintptr) *Frontend {
	return &Frontend{
		guest:    guest,
		ctx:      ctx,
		dispatch: dispatch,
		fallback: fallback,
	}
}

// AnalyzeCode implements jit.Frontend. The block ends on any instruction
// that can change the program counter (branches, data or transfer ops
// targeting r15, block transfers containing r15, software interrupts) or
// the processor state.
func (f *Frontend) AnalyzeCode(meta *jit.Meta) error {
	meta.NumCycles = 0
	meta.NumInstrs = 0
	meta.Size = 0

	for {
		raw := f.guest.R32(meta.GuestAddr + uint32(meta.Size))
		class := classify(raw)

		if class == classInvalid {
			return fmt.Errorf("armv3: undecodable instruction %08x at 0x%08x", raw, meta.GuestAddr+uint32(meta.Size))
		}

		meta.NumCycles += cyclesPerInstr
		meta.NumInstrs++
		meta.Size += 4

		// stop emitting when the pc can change
		if class == classBranch ||
			(class == classData && rd(raw) == 15) ||
			class == classPSR ||
			(class == classXfr && rd(raw) == 15) ||
			(class == classBlk && raw&(1<<15) != 0) ||
			class == classSWI {
			if class == classPSR {
				meta.BranchType = jit.BranchFallThrough
			} else {
				meta.BranchType = jit.BranchDynamic
			}
			break
		}
	}

	return nil
}

// TranslateCode implements jit.Frontend. Every instruction lowers to the
// interpreter fallback; the terminator routes by the pc the fallback left
// in the context.
func (f *Frontend) TranslateCode(code *jit.Code, ib *ir.Builder) {
	ib.SetCurrentBlock(ib.AppendBlock())

	remainingCycles := ib.LoadContext(offRemainingCycles, ir.TypeI32)
	done := ib.CmpSLE(remainingCycles, ib.AllocI32(0))
	ib.BranchTrue(done, ib.AllocPtr(f.dispatch.Leave))

	ib.SetCurrentBlock(ib.AppendBlock())

	pending := ib.LoadContext(offPendingInterrupts, ir.TypeI64)
	ib.BranchTrue(pending, ib.AllocPtr(f.dispatch.Interrupt))

	ib.SetCurrentBlock(ib.AppendBlock())

	f.translate(ib, code.RootUnit)
}

func (f *Frontend) translate(ib *ir.Builder, unit *jit.CompileUnit) {
	meta := unit.Meta

	remainingCycles := ib.LoadContext(offRemainingCycles, ir.TypeI32)
	remainingCycles = ib.Sub(remainingCycles, ib.AllocI32(int32(meta.NumCycles)))
	ib.StoreContext(offRemainingCycles, remainingCycles)

	ranInstrs := ib.LoadContext(offRanInstrs, ir.TypeI64)
	ranInstrs = ib.Add(ranInstrs, ib.AllocI64(int64(meta.NumInstrs)))
	ib.StoreContext(offRanInstrs, ranInstrs)

	for i := 0; i < meta.Size; i += 4 {
		addr := meta.GuestAddr + uint32(i)
		ib.CallFallback(f.fallback, addr, f.guest.R32(addr))
	}

	switch meta.BranchType {
	case jit.BranchFallThrough:
		ib.StoreContext(offPC, ib.AllocI32(int32(meta.GuestAddr+uint32(meta.Size))))
		ib.Branch(ib.AllocPtr(f.dispatch.Dynamic))

	case jit.BranchDynamic:
		// the fallback for the terminating instruction already stored
		// the target pc
		ib.Branch(ib.AllocPtr(f.dispatch.Dynamic))
	}
}

// DumpCode implements jit.Frontend.
func (f *Frontend) DumpCode(addr uint32, size int) {
}
