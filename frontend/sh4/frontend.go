// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sh4

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/go-dreamcast/dynarec/ir"
	"github.com/go-dreamcast/dynarec/jit"
)

// Translation flags recorded at entry; they inform the opcode lowerings.
const (
	// FlagFastmem lowers guest memory ops to unchecked fast-path
	// accesses.
	FlagFastmem = 1 << iota

	// FlagDoublePR and FlagDoubleSZ reflect the FPSCR precision and
	// transfer-size mode at compile time.
	FlagDoublePR
	FlagDoubleSZ
)

// Dispatch holds the host addresses of the dispatch thunks generated code
// branches to when leaving a compiled region.
type Dispatch struct {
	// Static routes by the PC stored in the context for a statically
	// known target; Dynamic does the same for computed targets.
	Static  uintptr
	Dynamic uintptr

	// Leave returns to the host scheduler on cycle exhaustion;
	// Interrupt enters interrupt delivery.
	Leave     uintptr
	Interrupt uintptr
}

// Frontend is the SH-4 front end.
type Frontend struct {
	guest    jit.Guest
	ctx      *Context
	dispatch Dispatch

	// fallback is the host interpreter entry used to lower instructions
	// with no direct emission.
	fallback uintptr
}

// New returns an SH-4 front end reading guest code through guest and
// compiling against the given context and dispatch thunks.
func New(guest jit.Guest, ctx *Context, dispatch Dispatch, fallback uintptr) *Frontend {
	return &Frontend{
		guest:    guest,
		ctx:      ctx,
		dispatch: dispatch,
		fallback: fallback,
	}
}

// AnalyzeCode implements jit.Frontend. It walks instructions from
// meta.GuestAddr, accumulating cycle and size totals, and terminates the
// block on a branch or on an SR/FPSCR write, recording the branch
// classification.
func (f *Frontend) AnalyzeCode(meta *jit.Meta) error {
	meta.NumCycles = 0
	meta.NumInstrs = 0
	meta.Size = 0

	for {
		instr := Instr{
			Addr: meta.GuestAddr + uint32(meta.Size),
		}
		instr.Opcode = f.guest.R16(instr.Addr)

		// fail the analysis on an invalid instruction
		if !Disasm(&instr) {
			return fmt.Errorf("sh4: undecodable opcode %04x at 0x%08x", instr.Opcode, instr.Addr)
		}

		meta.NumCycles += instr.Cycles
		meta.NumInstrs++
		meta.Size += 2

		if instr.Flags&FlagDelayed != 0 {
			delay := Instr{
				Addr: meta.GuestAddr + uint32(meta.Size),
			}
			delay.Opcode = f.guest.R16(delay.Addr)

			// breakpoints on delay instructions aren't supported; the
			// delay instruction itself must decode and must not carry
			// another delay slot
			if !Disasm(&delay) {
				glog.Fatalf("sh4: undecodable delay slot %04x at 0x%08x", delay.Opcode, delay.Addr)
			}
			if delay.Flags&FlagDelayed != 0 {
				glog.Fatalf("sh4: delay instruction at 0x%08x has a delay slot", delay.Addr)
			}

			meta.NumCycles += delay.Cycles
			meta.NumInstrs++
			meta.Size += 2
		}

		// stop emitting once a branch is hit and save off the branch
		// information
		if instr.Flags&FlagBranch != 0 {
			classifyBranch(meta, &instr)
			break
		}

		// if fpscr has changed, stop emitting since the fpu state is
		// invalidated. if sr has changed, stop emitting as there may be
		// interrupts that need to be handled
		if instr.Flags&(FlagSetSR|FlagSetFPSCR) != 0 {
			meta.BranchType = jit.BranchFallThrough
			break
		}
	}

	return nil
}

func classifyBranch(meta *jit.Meta, instr *Instr) {
	switch instr.Op {
	case OpBF:
		meta.BranchType = jit.BranchStaticFalse
		meta.BranchAddr = disp8Target(instr)
		meta.NextAddr = instr.Addr + 2
	case OpBFS:
		meta.BranchType = jit.BranchStaticFalse
		meta.BranchAddr = disp8Target(instr)
		meta.NextAddr = instr.Addr + 4
	case OpBT:
		meta.BranchType = jit.BranchStaticTrue
		meta.BranchAddr = disp8Target(instr)
		meta.NextAddr = instr.Addr + 2
	case OpBTS:
		meta.BranchType = jit.BranchStaticTrue
		meta.BranchAddr = disp8Target(instr)
		meta.NextAddr = instr.Addr + 4
	case OpBRA, OpBSR:
		meta.BranchType = jit.BranchStatic
		meta.BranchAddr = disp12Target(instr)
	case OpBRAF, OpBSRF, OpJMP, OpJSR, OpRTS, OpRTE, OpTRAPA:
		meta.BranchType = jit.BranchDynamic
	default:
		glog.Fatalf("sh4: unexpected branch op at 0x%08x", instr.Addr)
	}
}

func disp8Target(instr *Instr) uint32 {
	return uint32(int32(int8(instr.Imm))*2) + instr.Addr + 4
}

func disp12Target(instr *Instr) uint32 {
	// the 12-bit displacement must be sign extended
	disp := (int32(instr.Disp&0xfff) << 20) >> 20
	return uint32(disp*2) + instr.Addr + 4
}

// TranslateCode implements jit.Frontend. It emits the cycle and
// interrupt checks, then recursively lowers the compile unit tree.
func (f *Frontend) TranslateCode(code *jit.Code, ib *ir.Builder) {
	flags := 0
	if code.Fastmem {
		flags |= FlagFastmem
	}
	if f.ctx.FPSCR&fpscrPR != 0 {
		flags |= FlagDoublePR
	}
	if f.ctx.FPSCR&fpscrSZ != 0 {
		flags |= FlagDoubleSZ
	}

	ib.SetCurrentBlock(ib.AppendBlock())

	// yield control once the remaining cycles are executed
	remainingCycles := ib.LoadContext(offRemainingCycles, ir.TypeI32)
	done := ib.CmpSLE(remainingCycles, ib.AllocI32(0))
	ib.BranchTrue(done, ib.AllocPtr(f.dispatch.Leave))

	ib.SetCurrentBlock(ib.AppendBlock())

	// handle pending interrupts
	pending := ib.LoadContext(offPendingInterrupts, ir.TypeI64)
	ib.BranchTrue(pending, ib.AllocPtr(f.dispatch.Interrupt))

	ib.SetCurrentBlock(ib.AppendBlock())

	f.translate(ib, flags, code.RootUnit)
}

// demandBlock returns the block labeled with the guest address, creating
// it on first demand. Sharing blocks by label prevents duplicate emission
// when two compile units share a successor.
func demandBlock(ib *ir.Builder, addr uint32) *ir.Block {
	label := fmt.Sprintf("0x%08x", addr)

	for block := ib.Blocks(); block != nil; block = block.Next() {
		if block.Label == label {
			return block
		}
	}

	block := ib.AppendBlock()
	ib.SetBlockLabel(block, "%s", label)
	return block
}

// staticBranchThunk emits an out-of-line block that stores the target PC
// and enters the static dispatcher, returning a reference to it.
func (f *Frontend) staticBranchThunk(ib *ir.Builder, addr uint32) *ir.Value {
	point := ib.GetInsertPoint()

	thunk := ib.AppendBlock()
	ib.SetCurrentBlock(thunk)
	ib.StoreContext(offPC, ib.AllocI32(int32(addr)))
	ib.CallNoreturn(ib.AllocPtr(f.dispatch.Static))

	ib.SetInsertPoint(point)

	return ib.AllocBlockRef(thunk)
}

func (f *Frontend) translate(ib *ir.Builder, flags int, unit *jit.CompileUnit) {
	meta := unit.Meta

	// update the remaining cycles
	remainingCycles := ib.LoadContext(offRemainingCycles, ir.TypeI32)
	remainingCycles = ib.Sub(remainingCycles, ib.AllocI32(int32(meta.NumCycles)))
	ib.StoreContext(offRemainingCycles, remainingCycles)

	// update the instruction run count
	ranInstrs := ib.LoadContext(offRanInstrs, ir.TypeI64)
	ranInstrs = ib.Add(ranInstrs, ib.AllocI64(int64(meta.NumInstrs)))
	ib.StoreContext(offRanInstrs, ranInstrs)

	// translate the actual block
	for i := 0; i < meta.Size; {
		var instr, delay Instr

		instr.Addr = meta.GuestAddr + uint32(i)
		instr.Opcode = f.guest.R16(instr.Addr)
		Disasm(&instr)

		i += 2

		if instr.Flags&FlagDelayed != 0 {
			delay.Addr = meta.GuestAddr + uint32(i)
			delay.Opcode = f.guest.R16(delay.Addr)

			if !Disasm(&delay) {
				glog.Fatalf("sh4: undecodable delay slot at 0x%08x", delay.Addr)
			}
			if delay.Flags&FlagDelayed != 0 {
				glog.Fatalf("sh4: delay instruction at 0x%08x has a delay slot", delay.Addr)
			}

			i += 2
		}

		f.emitInstr(ib, flags, unit, &instr, &delay)
	}

	// emit ir for the fall-through side first so the not-taken path of a
	// conditional lands in the lexically next block
	if unit.Next != nil {
		next := demandBlock(ib, meta.NextAddr)
		point := ib.GetInsertPoint()
		ib.SetCurrentBlock(next)
		f.translate(ib, flags, unit.Next)
		ib.SetInsertPoint(point)
	} else if meta.NextAddr != jit.InvalidAddr {
		f.staticBranchThunk(ib, meta.NextAddr)
	}

	if unit.Branch != nil {
		branch := demandBlock(ib, meta.BranchAddr)
		point := ib.GetInsertPoint()
		ib.SetCurrentBlock(branch)
		f.translate(ib, flags, unit.Branch)
		ib.SetInsertPoint(point)
	}

	switch meta.BranchType {
	case jit.BranchFallThrough:
		ib.StoreContext(offPC, ib.AllocI32(int32(meta.GuestAddr+uint32(meta.Size))))
		ib.Branch(ib.AllocPtr(f.dispatch.Dynamic))

	case jit.BranchStatic:
		if unit.Branch != nil {
			ib.Branch(ib.AllocBlockRef(demandBlock(ib, meta.BranchAddr)))
		} else {
			ib.StoreContext(offPC, ib.AllocI32(int32(meta.BranchAddr)))
			ib.CallNoreturn(ib.AllocPtr(f.dispatch.Static))
		}

	case jit.BranchStaticTrue:
		var branchTrue *ir.Value
		if unit.Branch != nil {
			branchTrue = ib.AllocBlockRef(demandBlock(ib, meta.BranchAddr))
		} else {
			branchTrue = f.staticBranchThunk(ib, meta.BranchAddr)
		}
		ib.BranchTrue(unit.BranchCond, branchTrue)

	case jit.BranchStaticFalse:
		var branchFalse *ir.Value
		if unit.Branch != nil {
			branchFalse = ib.AllocBlockRef(demandBlock(ib, meta.BranchAddr))
		} else {
			branchFalse = f.staticBranchThunk(ib, meta.BranchAddr)
		}
		ib.BranchFalse(unit.BranchCond, branchFalse)

	case jit.BranchDynamic:
		ib.StoreContext(offPC, unit.BranchDest)
		ib.Branch(ib.AllocPtr(f.dispatch.Dynamic))

	case jit.BranchDynamicTrue:
		if unit.Branch != nil || unit.BranchDest == nil {
			glog.Fatal("sh4: dynamic conditional with compiled branch target")
		}
		ib.BranchTrue(unit.BranchCond, unit.BranchDest)

	case jit.BranchDynamicFalse:
		if unit.Branch != nil || unit.BranchDest == nil {
			glog.Fatal("sh4: dynamic conditional with compiled branch target")
		}
		ib.BranchFalse(unit.BranchCond, unit.BranchDest)
	}
}

// DumpCode implements jit.Frontend, logging a disassembly listing.
func (f *Frontend) DumpCode(addr uint32, size int) {
	for i := 0; i < size; {
		instr := Instr{Addr: addr + uint32(i)}
		instr.Opcode = f.guest.R16(instr.Addr)
		Disasm(&instr)
		glog.Info(Format(&instr))

		i += 2

		if instr.Flags&FlagDelayed != 0 {
			delay := Instr{Addr: addr + uint32(i)}
			delay.Opcode = f.guest.R16(delay.Addr)
			Disasm(&delay)
			glog.Info(Format(&delay))

			i += 2
		}
	}
}
