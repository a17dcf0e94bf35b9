// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"testing"

	"github.com/go-dreamcast/dynarec/ir"
	"github.com/go-dreamcast/dynarec/jit"
	"github.com/go-dreamcast/dynarec/passes"
)

func newTestBackend(t *testing.T, codeSize int) *Backend {
	t.Helper()
	b, err := New(Options{
		CodeSize: codeSize,
		MemThunks: MemThunks{
			R8: 0x1008, R16: 0x1016, R32: 0x1032, R64: 0x1064,
			W8: 0x2008, W16: 0x2016, W32: 0x2032, W64: 0x2064,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// lower runs the optimization pipeline so every value has a register, the
// way the engine does before handing the IR to the backend.
func lower(t *testing.T, b *Backend, ib *ir.Builder) {
	t.Helper()
	for _, p := range passes.Default(b.Registers()) {
		p.Run(ib)
	}
}

func TestRegistersTable(t *testing.T) {
	b := newTestBackend(t, 1<<20)

	regs := b.Registers()
	if len(regs) == 0 {
		t.Fatal("backend must publish registers for the allocator")
	}

	ints, floats := 0, 0
	for _, r := range regs {
		if r.Types&ir.TypeI32.Mask() != 0 {
			ints++
		}
		if r.Types&ir.TypeF32.Mask() != 0 {
			floats++
		}
	}
	// enough of each class for allocation plus the allocator's reserved
	// spill temporaries
	if ints < 4 || floats < 4 {
		t.Fatalf("register classes too small: %d int, %d float", ints, floats)
	}
}

func TestAssembleSimpleBlock(t *testing.T) {
	b := newTestBackend(t, 1<<20)

	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())
	v := ib.LoadContext(0x10, ir.TypeI32)
	v = ib.Add(v, ib.AllocI32(1))
	ib.StoreContext(0x10, v)
	ib.Branch(ib.AllocPtr(0x7f0000002000))
	lower(t, b, ib)

	code := &jit.Code{GuestAddr: 0x8c000000}
	if err := b.AssembleCode(code, ib); err != nil {
		t.Fatalf("AssembleCode: %v", err)
	}

	if code.HostAddr < b.arena.base() {
		t.Fatal("host address outside the arena")
	}
	if code.HostSize == 0 {
		t.Fatal("no code generated")
	}

	// the terminator is movabs rbp, imm64; jmp rbp
	buf := b.codeBytes(code)
	tail := buf[len(buf)-12:]
	if tail[0] != 0x48 || tail[1] != 0xbd || tail[10] != 0xff || tail[11] != 0xe5 {
		t.Fatalf("unexpected terminator bytes % x", tail)
	}
}

func TestAssembleBlockBranchFixup(t *testing.T) {
	b := newTestBackend(t, 1<<20)

	ib := ir.NewBuilder()
	b1 := ib.AppendBlock()
	b2 := ib.AppendBlock()

	ib.SetCurrentBlock(b1)
	cond := ib.LoadContext(0x30, ir.TypeI32)
	ib.BranchTrue(cond, ib.AllocBlockRef(b2))

	ib.SetCurrentBlock(b2)
	ib.Branch(ib.AllocPtr(0x7f0000002000))
	lower(t, b, ib)

	code := &jit.Code{GuestAddr: 0x8c000000}
	if err := b.AssembleCode(code, ib); err != nil {
		t.Fatalf("AssembleCode: %v", err)
	}

	// the conditional branch resolves inside the generated code
	buf := b.codeBytes(code)
	found := false
	for i := 0; i+6 <= len(buf); i++ {
		if buf[i] == 0x0f && buf[i+1] == 0x85 {
			rel := int32(uint32(buf[i+2]) | uint32(buf[i+3])<<8 | uint32(buf[i+4])<<16 | uint32(buf[i+5])<<24)
			target := i + 6 + int(rel)
			if target < 0 || target > len(buf) {
				t.Fatalf("jnz target %d outside code of %d bytes", target, len(buf))
			}
			found = true
		}
	}
	if !found {
		t.Fatal("no jnz rel32 found for the block branch")
	}
}

func TestAssembleFastmemRecovery(t *testing.T) {
	b := newTestBackend(t, 1<<20)

	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())
	addr := ib.LoadContext(0x04, ir.TypeI32)
	v := ib.LoadFast(addr, ir.TypeI32)
	ib.StoreContext(0x08, v)
	ib.Branch(ib.AllocPtr(0x7f0000002000))
	lower(t, b, ib)

	code := &jit.Code{GuestAddr: 0x8c000000}
	if err := b.AssembleCode(code, ib); err != nil {
		t.Fatalf("AssembleCode: %v", err)
	}

	if len(b.fastmem) != 1 {
		t.Fatalf("fastmem ranges = %d, want 1", len(b.fastmem))
	}
	r := b.fastmem[0]
	if r.start < code.HostAddr || r.end > code.HostAddr+uintptr(code.HostSize) {
		t.Fatal("fastmem range outside the generated code")
	}

	if !b.HandleException(&jit.Exception{PC: r.start}) {
		t.Fatal("fault on the fastmem op should be accepted")
	}
	if b.HandleException(&jit.Exception{PC: code.HostAddr + uintptr(code.HostSize)}) {
		t.Fatal("fault outside any fastmem op should be declined")
	}

	b.Reset()
	if b.HandleException(&jit.Exception{PC: r.start}) {
		t.Fatal("reset should drop the recovery table")
	}
}

func TestAssembleSlowPath(t *testing.T) {
	b := newTestBackend(t, 1<<20)

	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())
	addr := ib.LoadContext(0x04, ir.TypeI32)
	v := ib.LoadSlow(addr, ir.TypeI32)
	ib.StoreSlow(addr, v)
	ib.Branch(ib.AllocPtr(0x7f0000002000))
	lower(t, b, ib)

	code := &jit.Code{GuestAddr: 0x8c000000}
	if err := b.AssembleCode(code, ib); err != nil {
		t.Fatalf("AssembleCode: %v", err)
	}
	if len(b.fastmem) != 0 {
		t.Fatal("slow-path ops must not record fastmem ranges")
	}
}

func TestAssembleOverflow(t *testing.T) {
	b := newTestBackend(t, 64)

	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())
	for i := 0; i < 32; i++ {
		v := ib.LoadContext(i*4, ir.TypeI32)
		ib.StoreContext(i*4, ib.Add(v, ib.AllocI32(1)))
	}
	ib.Branch(ib.AllocPtr(0x7f0000002000))
	lower(t, b, ib)

	code := &jit.Code{GuestAddr: 0x8c000000}
	if err := b.AssembleCode(code, ib); err == nil {
		t.Fatal("a 64-byte arena should overflow")
	}

	// the same code assembles into a fresh backend with a larger arena
	big := newTestBackend(t, 1<<20)
	if err := big.AssembleCode(code, ib); err != nil {
		t.Fatalf("AssembleCode into a larger arena: %v", err)
	}
}

func TestArenaAllocate(t *testing.T) {
	a, err := newCodeArena(1 << 16)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()

	p1, err := a.allocate([]byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if p1 != a.base() {
		t.Fatalf("first allocation at %#x, want arena base %#x", p1, a.base())
	}

	p2, err := a.allocate([]byte{5, 6})
	if err != nil {
		t.Fatal(err)
	}
	if p2%allocAlignment != 0 {
		t.Fatalf("allocation at %#x not %d-byte aligned", p2, allocAlignment)
	}
	if p2 <= p1 {
		t.Fatal("allocations must not overlap")
	}

	// contents land in the mapping
	if a.mem[0] != 1 || a.mem[p2-a.base()] != 5 {
		t.Fatal("allocation contents missing from the mapping")
	}

	a.rewind()
	p3, err := a.allocate([]byte{9})
	if err != nil {
		t.Fatal(err)
	}
	if p3 != a.base() {
		t.Fatal("rewind should reset the bump pointer")
	}
}

func TestArenaExhaustion(t *testing.T) {
	a, err := newCodeArena(32)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()

	if _, err := a.allocate(make([]byte, 64)); err == nil {
		t.Fatal("oversized allocation should fail")
	}
}

// codeBytes returns the generated code of an entry for inspection.
func (b *Backend) codeBytes(code *jit.Code) []byte {
	off := code.HostAddr - b.arena.base()
	return b.arena.mem[off : off+uintptr(code.HostSize)]
}
