// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package x64 implements the x86-64 backend: it assembles optimized IR
// into the executable code arena and recognizes fastmem faults raised by
// its own memory ops.
//
// Generated code runs under the dispatch thunks' register convention:
// R14 holds the guest context base, R15 the guest memory base, and the
// stack has the spill frame reserved below RSP. Values live in the
// registers assigned by the register allocator.
package x64

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/go-dreamcast/dynarec/ir"
	"github.com/go-dreamcast/dynarec/jit"
	"github.com/go-dreamcast/dynarec/passes"
)

const (
	regCtx = x86.REG_R14
	regMem = x86.REG_R15

	// defaultCodeSize sizes the executable arena; defaultStackSize is
	// the spill frame the enter thunk reserves.
	defaultCodeSize  = 32 * 1024 * 1024
	defaultStackSize = 4096
)

var intTypes = ir.TypeI8.Mask() | ir.TypeI16.Mask() | ir.TypeI32.Mask() | ir.TypeI64.Mask()
var floatTypes = ir.TypeF32.Mask() | ir.TypeF64.Mask() | ir.TypeV128.Mask()

// registers is the allocatable register table published to the register
// allocator. R14/R15 are reserved for the context and memory bases, RSP
// for the host stack, and RAX/RDX/RBP/XMM8 are the emitter's scratch and
// thunk-argument registers. The allocator withholds the table's trailing
// registers of each class for spill traffic.
var registers = []struct {
	passes.Register
	host int16
}{
	{passes.Register{Name: "rcx", Types: intTypes}, x86.REG_CX},
	{passes.Register{Name: "rbx", Types: intTypes}, x86.REG_BX},
	{passes.Register{Name: "rsi", Types: intTypes}, x86.REG_SI},
	{passes.Register{Name: "rdi", Types: intTypes}, x86.REG_DI},
	{passes.Register{Name: "r8", Types: intTypes}, x86.REG_R8},
	{passes.Register{Name: "r9", Types: intTypes}, x86.REG_R9},
	{passes.Register{Name: "r10", Types: intTypes}, x86.REG_R10},
	{passes.Register{Name: "r11", Types: intTypes}, x86.REG_R11},
	{passes.Register{Name: "r12", Types: intTypes}, x86.REG_R12},
	{passes.Register{Name: "r13", Types: intTypes}, x86.REG_R13},
	{passes.Register{Name: "xmm0", Types: floatTypes}, x86.REG_X0},
	{passes.Register{Name: "xmm1", Types: floatTypes}, x86.REG_X1},
	{passes.Register{Name: "xmm2", Types: floatTypes}, x86.REG_X2},
	{passes.Register{Name: "xmm3", Types: floatTypes}, x86.REG_X3},
	{passes.Register{Name: "xmm4", Types: floatTypes}, x86.REG_X4},
	{passes.Register{Name: "xmm5", Types: floatTypes}, x86.REG_X5},
	{passes.Register{Name: "xmm6", Types: floatTypes}, x86.REG_X6},
	{passes.Register{Name: "xmm7", Types: floatTypes}, x86.REG_X7},
}

// MemThunks are the host entry points for the slow-path guest memory
// accessors, provided by the dispatcher.
type MemThunks struct {
	R8, R16, R32, R64 uintptr
	W8, W16, W32, W64 uintptr
}

// Options configures the backend.
type Options struct {
	// CodeSize is the executable arena size; zero selects the default.
	CodeSize int

	// StackSize is the spill frame reserved by the enter thunk; zero
	// selects the default.
	StackSize int

	// MemThunks route slow-path guest memory ops.
	MemThunks MemThunks
}

// fastmemRange records the host byte range of one fastmem memory op so
// the exception handler can attribute faults.
type fastmemRange struct {
	start, end uintptr
}

// Backend implements jit.Backend for x86-64.
type Backend struct {
	arena *codeArena
	opts  Options

	fastmem []fastmemRange
}

// New returns an x86-64 backend with its own executable arena.
func New(opts Options) (*Backend, error) {
	if opts.CodeSize == 0 {
		opts.CodeSize = defaultCodeSize
	}
	if opts.StackSize == 0 {
		opts.StackSize = defaultStackSize
	}

	arena, err := newCodeArena(opts.CodeSize)
	if err != nil {
		return nil, err
	}
	return &Backend{arena: arena, opts: opts}, nil
}

// Close unmaps the executable arena.
func (b *Backend) Close() error {
	return b.arena.close()
}

// Registers implements jit.Backend.
func (b *Backend) Registers() []passes.Register {
	out := make([]passes.Register, len(registers))
	for i, r := range registers {
		out[i] = r.Register
	}
	return out
}

// Reset implements jit.Backend, rewinding the code arena and dropping
// the fastmem recovery table.
func (b *Backend) Reset() {
	b.arena.rewind()
	b.fastmem = b.fastmem[:0]
}

// AssembleCode implements jit.Backend.
func (b *Backend) AssembleCode(code *jit.Code, ib *ir.Builder) error {
	if ib.LocalsSize > b.opts.StackSize {
		glog.Fatalf("x64: spill frame %d exceeds reserved stack %d", ib.LocalsSize, b.opts.StackSize)
	}

	e := newEmitter(b)
	asm, fastmem, err := e.assemble(ib)
	if err != nil {
		return err
	}

	host, err := b.arena.allocate(asm)
	if err != nil {
		return err
	}

	code.HostAddr = host
	code.HostSize = len(asm)

	for _, r := range fastmem {
		b.fastmem = append(b.fastmem, fastmemRange{
			start: host + r.start,
			end:   host + r.end,
		})
	}

	return nil
}

// HandleException implements jit.Backend: a fault is ours iff its pc
// falls on a recorded fastmem memory op.
func (b *Backend) HandleException(ex *jit.Exception) bool {
	for _, r := range b.fastmem {
		if ex.PC >= r.start && ex.PC < r.end {
			return true
		}
	}
	return false
}

// DumpCode implements jit.Backend, logging a hex dump of generated code.
func (b *Backend) DumpCode(host uintptr, size int) {
	base := b.arena.base()
	if host < base || host+uintptr(size) > base+uintptr(len(b.arena.mem)) {
		glog.Fatal("x64: dump of code outside the arena")
	}
	buf := b.arena.mem[host-base : host-base+uintptr(size)]

	for off := 0; off < size; off += 16 {
		end := off + 16
		if end > size {
			end = size
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%016x:", uint64(host)+uint64(off))
		for _, c := range buf[off:end] {
			fmt.Fprintf(&sb, " %02x", c)
		}
		glog.Info(sb.String())
	}
}
