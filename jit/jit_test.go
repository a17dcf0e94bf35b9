// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"fmt"
	"testing"

	"github.com/go-dreamcast/dynarec/ir"
	"github.com/go-dreamcast/dynarec/passes"
)

// fakeGuest implements the dispatch surface with plain maps, recording
// the patch traffic for assertions.
type fakeGuest struct {
	table    map[uint32]uintptr
	patched  map[uintptr]uintptr
	restored map[uintptr]uint32
}

func newFakeGuest() *fakeGuest {
	return &fakeGuest{
		table:    make(map[uint32]uintptr),
		patched:  make(map[uintptr]uintptr),
		restored: make(map[uintptr]uint32),
	}
}

func (g *fakeGuest) R8(addr uint32) uint8      { return 0 }
func (g *fakeGuest) R16(addr uint32) uint16    { return 0 }
func (g *fakeGuest) R32(addr uint32) uint32    { return 0 }
func (g *fakeGuest) R64(addr uint32) uint64    { return 0 }
func (g *fakeGuest) W8(addr uint32, v uint8)   {}
func (g *fakeGuest) W16(addr uint32, v uint16) {}
func (g *fakeGuest) W32(addr uint32, v uint32) {}
func (g *fakeGuest) W64(addr uint32, v uint64) {}

func (g *fakeGuest) LookupCode(pc uint32) uintptr      { return g.table[pc] }
func (g *fakeGuest) CacheCode(pc uint32, host uintptr) { g.table[pc] = host }
func (g *fakeGuest) InvalidateCode(pc uint32)          { delete(g.table, pc) }

func (g *fakeGuest) PatchEdge(branch, dst uintptr) {
	g.patched[branch] = dst
	delete(g.restored, branch)
}

func (g *fakeGuest) RestoreEdge(branch uintptr, dst uint32) {
	g.restored[branch] = dst
	delete(g.patched, branch)
}

// fakeFrontend serves scripted block metas and emits a minimal
// translation for each compile.
type fakeFrontend struct {
	blocks map[uint32]Meta
}

func (f *fakeFrontend) AnalyzeCode(meta *Meta) error {
	tmpl, ok := f.blocks[meta.GuestAddr]
	if !ok {
		return fmt.Errorf("no block at 0x%08x", meta.GuestAddr)
	}
	meta.BranchType = tmpl.BranchType
	meta.BranchAddr = tmpl.BranchAddr
	meta.NextAddr = tmpl.NextAddr
	meta.NumInstrs = tmpl.NumInstrs
	meta.NumCycles = tmpl.NumCycles
	meta.Size = tmpl.Size
	return nil
}

func (f *fakeFrontend) TranslateCode(code *Code, ib *ir.Builder) {
	ib.SetCurrentBlock(ib.AppendBlock())
	ib.StoreContext(0, ib.AllocI32(int32(code.GuestAddr)))
	ib.CallNoreturn(ib.AllocPtr(0x1000))
}

func (f *fakeFrontend) DumpCode(addr uint32, size int) {}

// fakeBackend hands out host addresses from a bump counter.
type fakeBackend struct {
	next     uintptr
	size     int
	resets   int
	failNext bool
	acceptEx bool
}

const fakeCodeBase = 0x7f0000100000

func newFakeBackend() *fakeBackend {
	return &fakeBackend{next: fakeCodeBase, size: 0x40}
}

func (b *fakeBackend) Reset() {
	b.resets++
	b.next = fakeCodeBase
}

func (b *fakeBackend) AssembleCode(code *Code, ib *ir.Builder) error {
	if b.failNext {
		b.failNext = false
		return fmt.Errorf("code buffer exhausted")
	}
	code.HostAddr = b.next
	code.HostSize = b.size
	b.next += uintptr(b.size)
	return nil
}

func (b *fakeBackend) DumpCode(host uintptr, size int) {}

func (b *fakeBackend) HandleException(ex *Exception) bool { return b.acceptEx }

func (b *fakeBackend) Registers() []passes.Register {
	intTypes := ir.TypeI8.Mask() | ir.TypeI16.Mask() | ir.TypeI32.Mask() | ir.TypeI64.Mask()
	floatTypes := ir.TypeF32.Mask() | ir.TypeF64.Mask() | ir.TypeV128.Mask()
	var regs []passes.Register
	for i := 0; i < 6; i++ {
		regs = append(regs, passes.Register{Name: fmt.Sprintf("r%d", i), Types: intTypes})
	}
	for i := 0; i < 4; i++ {
		regs = append(regs, passes.Register{Name: fmt.Sprintf("x%d", i), Types: floatTypes})
	}
	return regs
}

func newTestJIT(t *testing.T, blocks map[uint32]Meta) (*JIT, *fakeGuest, *fakeBackend) {
	t.Helper()
	guest := newFakeGuest()
	backend := newFakeBackend()
	j, err := New("sh4", guest, &fakeFrontend{blocks: blocks}, backend, Options{})
	if err != nil {
		t.Fatal(err)
	}
	return j, guest, backend
}

func dynamicBlock(addr uint32) Meta {
	return Meta{
		GuestAddr:  addr,
		BranchType: BranchDynamic,
		BranchAddr: InvalidAddr,
		NextAddr:   InvalidAddr,
		NumInstrs:  2,
		NumCycles:  2,
		Size:       4,
	}
}

func TestCompileAndLookup(t *testing.T) {
	j, guest, _ := newTestJIT(t, map[uint32]Meta{
		0x8c000000: dynamicBlock(0x8c000000),
	})

	code := j.CompileCode(0x8c000000)
	if code == nil {
		t.Fatal("CompileCode returned nil")
	}
	if j.LookupCode(0x8c000000) != code {
		t.Fatal("forward lookup missed the fresh code")
	}
	if guest.table[0x8c000000] != code.HostAddr {
		t.Fatal("dispatch table was not updated")
	}

	// reverse lookup covers the whole host interval
	for _, off := range []uintptr{0, 1, uintptr(code.HostSize) - 1} {
		if got := j.LookupCodeReverse(code.HostAddr + off); got != code {
			t.Fatalf("reverse lookup at +%d = %v, want the code", off, got)
		}
	}
	if got := j.LookupCodeReverse(code.HostAddr + uintptr(code.HostSize)); got == code {
		t.Fatal("reverse lookup past the interval must miss")
	}
	if got := j.LookupCodeReverse(code.HostAddr - 1); got == code {
		t.Fatal("reverse lookup before the interval must miss")
	}
}

func TestMetaUniqueness(t *testing.T) {
	// two entry points covering the same successor block
	j, _, _ := newTestJIT(t, map[uint32]Meta{
		0x8c000000: {BranchType: BranchStatic, BranchAddr: 0x8c000100, NextAddr: InvalidAddr, Size: 2, NumInstrs: 1, NumCycles: 1},
		0x8c000010: {BranchType: BranchStatic, BranchAddr: 0x8c000100, NextAddr: InvalidAddr, Size: 2, NumInstrs: 1, NumCycles: 1},
		0x8c000100: dynamicBlock(0x8c000100),
	})

	j.CompileCode(0x8c000000)
	j.CompileCode(0x8c000010)

	seen := make(map[uint32]bool)
	j.eachMeta(func(meta *Meta) {
		if seen[meta.GuestAddr] {
			t.Fatalf("duplicate meta at 0x%08x", meta.GuestAddr)
		}
		seen[meta.GuestAddr] = true
	})
	if len(seen) != 3 {
		t.Fatalf("meta count = %d, want 3", len(seen))
	}

	shared := j.lookupMeta(0x8c000100)
	if got := len(shared.compileRefs); got != 2 {
		t.Fatalf("shared meta has %d compile refs, want 2", got)
	}
}

func TestCompileUnitTreeNoRejoin(t *testing.T) {
	// a diamond: entry conditionally branches to 0x20, falls through to
	// 0x10, and both sides continue at 0x30. the rejoin is compiled once;
	// the second encounter becomes a thunk exit.
	j, _, _ := newTestJIT(t, map[uint32]Meta{
		0x00: {BranchType: BranchStaticTrue, BranchAddr: 0x20, NextAddr: 0x10, Size: 2, NumInstrs: 1, NumCycles: 1},
		0x10: {BranchType: BranchStatic, BranchAddr: 0x30, NextAddr: InvalidAddr, Size: 2, NumInstrs: 1, NumCycles: 1},
		0x20: {BranchType: BranchStatic, BranchAddr: 0x30, NextAddr: InvalidAddr, Size: 2, NumInstrs: 1, NumCycles: 1},
		0x30: dynamicBlock(0x30),
	})

	code := j.CompileCode(0x00)
	root := code.RootUnit
	if root == nil || root.Branch == nil || root.Next == nil {
		t.Fatal("root unit should have both children")
	}

	joined := 0
	for _, side := range []*CompileUnit{root.Branch, root.Next} {
		if side.Meta.BranchAddr != 0x30 {
			t.Fatalf("side unit branch addr = 0x%x, want 0x30", side.Meta.BranchAddr)
		}
		if side.Branch != nil {
			joined++
			if side.Branch.Meta.GuestAddr != 0x30 {
				t.Fatalf("joined unit at 0x%x, want 0x30", side.Branch.Meta.GuestAddr)
			}
		}
	}
	if joined != 1 {
		t.Fatalf("rejoin block compiled into %d units, want 1", joined)
	}
}

func TestAnalyzeRollback(t *testing.T) {
	// the branch target is undecodable; the compile continues with a
	// thunk exit and no meta survives for the bad address
	j, _, _ := newTestJIT(t, map[uint32]Meta{
		0x00: {BranchType: BranchStatic, BranchAddr: 0x50, NextAddr: InvalidAddr, Size: 2, NumInstrs: 1, NumCycles: 1},
	})

	code := j.CompileCode(0x00)
	if code == nil {
		t.Fatal("compile should survive a failed successor analysis")
	}
	if code.RootUnit.Branch != nil {
		t.Fatal("failed successor should terminate with a nil child")
	}
	if j.lookupMeta(0x50) != nil {
		t.Fatal("meta for the failed block should have been rolled back")
	}
}

func TestAddEdgePatches(t *testing.T) {
	j, guest, _ := newTestJIT(t, map[uint32]Meta{
		0x00: dynamicBlock(0x00),
		0x10: dynamicBlock(0x10),
	})

	a := j.CompileCode(0x00)
	b := j.CompileCode(0x10)

	// generated code hits the branch at a.HostAddr+8 for the first time
	branch := a.HostAddr + 8
	j.AddEdge(branch, 0x10)

	if len(a.OutEdges) != 1 {
		t.Fatalf("len(a.OutEdges) = %d, want 1", len(a.OutEdges))
	}
	edge := a.OutEdges[0]
	if edge.Dst != b || !edge.Patched {
		t.Fatalf("edge = %+v, want patched edge to b", edge)
	}
	if len(b.InEdges) != 1 || b.InEdges[0] != edge {
		t.Fatal("edge not mirrored in b.InEdges")
	}
	if guest.patched[branch] != b.HostAddr {
		t.Fatalf("branch site patched to %#x, want %#x", guest.patched[branch], b.HostAddr)
	}
}

func TestAddEdgeStaleSource(t *testing.T) {
	j, guest, _ := newTestJIT(t, map[uint32]Meta{
		0x00: dynamicBlock(0x00),
		0x10: dynamicBlock(0x10),
	})

	a := j.CompileCode(0x00)
	j.CompileCode(0x10)

	// the dispatch table no longer routes to a's host code
	guest.table[0x00] = 0xdead

	j.AddEdge(a.HostAddr+8, 0x10)
	if len(a.OutEdges) != 0 {
		t.Fatal("stale source must not link edges")
	}
	if len(guest.patched) != 0 {
		t.Fatal("stale link attempt must not patch anything")
	}
}

func TestAddEdgeUnknownDestination(t *testing.T) {
	j, guest, _ := newTestJIT(t, map[uint32]Meta{
		0x00: dynamicBlock(0x00),
	})

	a := j.CompileCode(0x00)
	j.AddEdge(a.HostAddr+8, 0x40)
	if len(a.OutEdges) != 0 || len(guest.patched) != 0 {
		t.Fatal("missing destination must not link edges")
	}
}

func TestInvalidatePreservesReverseLookup(t *testing.T) {
	j, guest, backend := newTestJIT(t, map[uint32]Meta{
		0x00: dynamicBlock(0x00),
		0x10: dynamicBlock(0x10),
	})

	a := j.CompileCode(0x00)
	b := j.CompileCode(0x10)

	branch := a.HostAddr + 8
	j.AddEdge(branch, 0x10)

	// a fastmem fault lands inside b while it is executing
	backend.acceptEx = true
	if !j.HandleException(&Exception{PC: b.HostAddr + 4}) {
		t.Fatal("exception in live code should be handled")
	}

	// incoming edges are unpatched back to trampolines
	if len(guest.patched) != 0 {
		t.Fatal("incoming edge should have been unpatched")
	}
	if guest.restored[branch] != 0x10 {
		t.Fatalf("restored[%#x] = %#x, want guest addr 0x10", branch, guest.restored[branch])
	}
	if len(a.OutEdges) != 0 || len(b.InEdges) != 0 {
		t.Fatal("edges should be detached after invalidation")
	}

	// the entry stays reverse-addressable for in-flight frames, but the
	// dispatch table misses
	if j.LookupCodeReverse(b.HostAddr+4) != b {
		t.Fatal("reverse lookup must keep resolving an invalidated entry")
	}
	if guest.LookupCode(0x10) != 0 {
		t.Fatal("dispatch lookup should miss after invalidation")
	}
}

func TestFastmemRecovery(t *testing.T) {
	j, _, backend := newTestJIT(t, map[uint32]Meta{
		0x00: dynamicBlock(0x00),
	})

	a := j.CompileCode(0x00)
	if !a.Fastmem {
		t.Fatal("fresh code should have fastmem enabled")
	}

	backend.acceptEx = true
	if !j.HandleException(&Exception{PC: a.HostAddr}) {
		t.Fatal("fault in fastmem op should be handled")
	}
	if a.Fastmem {
		t.Fatal("fastmem should be disabled on the faulted entry")
	}

	// the next dispatch miss recompiles without fastmem
	fresh := j.CompileCode(0x00)
	if fresh == a {
		t.Fatal("recompile should produce a new entry")
	}
	if fresh.Fastmem {
		t.Fatal("recompiled entry must not use fastmem")
	}
}

func TestExceptionOutsideCodeDeclined(t *testing.T) {
	j, _, backend := newTestJIT(t, map[uint32]Meta{
		0x00: dynamicBlock(0x00),
	})
	j.CompileCode(0x00)

	backend.acceptEx = true
	if j.HandleException(&Exception{PC: 0x1234}) {
		t.Fatal("fault outside generated code must be declined")
	}
}

func TestExceptionDeclinedByBackend(t *testing.T) {
	j, _, backend := newTestJIT(t, map[uint32]Meta{
		0x00: dynamicBlock(0x00),
	})
	a := j.CompileCode(0x00)

	backend.acceptEx = false
	if j.HandleException(&Exception{PC: a.HostAddr}) {
		t.Fatal("fault not recognized by the backend must be declined")
	}
	if !a.Fastmem {
		t.Fatal("declined fault must leave the entry untouched")
	}
}

func TestBackendOverflowFlushes(t *testing.T) {
	j, _, backend := newTestJIT(t, map[uint32]Meta{
		0x00: dynamicBlock(0x00),
		0x10: dynamicBlock(0x10),
	})

	j.CompileCode(0x00)

	backend.failNext = true
	if code := j.CompileCode(0x10); code != nil {
		t.Fatal("overflowed compile should report failure")
	}

	if j.code.Len() != 0 || j.codeReverse.Len() != 0 {
		t.Fatal("code caches should be empty after overflow flush")
	}
	if backend.resets == 0 {
		t.Fatal("backend should have been reset")
	}

	// the next dispatch attempt compiles cleanly
	if code := j.CompileCode(0x10); code == nil {
		t.Fatal("compile after flush should succeed")
	}
}

func TestInvalidateCache(t *testing.T) {
	j, _, _ := newTestJIT(t, map[uint32]Meta{
		0x00: dynamicBlock(0x00),
		0x10: dynamicBlock(0x10),
	})

	a := j.CompileCode(0x00)
	j.CompileCode(0x10)

	j.InvalidateCache()

	// entries remain reverse-addressable, metas are gone
	if j.LookupCodeReverse(a.HostAddr) != a {
		t.Fatal("invalidate cache must preserve reverse lookups")
	}
	if j.meta.Len() != 0 {
		t.Fatal("invalidate cache must free every meta")
	}

	j.FreeCache()
	if j.code.Len() != 0 || j.codeReverse.Len() != 0 {
		t.Fatal("free cache must empty the lookup maps")
	}
}
