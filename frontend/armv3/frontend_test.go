// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package armv3

import (
	"testing"

	"github.com/go-dreamcast/dynarec/jit"
)

type memGuest struct {
	words map[uint32]uint32
}

func (g *memGuest) R8(addr uint32) uint8   { return uint8(g.R32(addr &^ 3)) }
func (g *memGuest) R16(addr uint32) uint16 { return uint16(g.R32(addr &^ 3)) }
func (g *memGuest) R32(addr uint32) uint32 { return g.words[addr] }
func (g *memGuest) R64(addr uint32) uint64 {
	return uint64(g.R32(addr)) | uint64(g.R32(addr+4))<<32
}
func (g *memGuest) W8(addr uint32, v uint8)         {}
func (g *memGuest) W16(addr uint32, v uint16)       {}
func (g *memGuest) W32(addr uint32, v uint32)       {}
func (g *memGuest) W64(addr uint32, v uint64)       {}
func (g *memGuest) LookupCode(pc uint32) uintptr    { return 0 }
func (g *memGuest) CacheCode(pc uint32, h uintptr)  {}
func (g *memGuest) InvalidateCode(pc uint32)        {}
func (g *memGuest) PatchEdge(b, d uintptr)          {}
func (g *memGuest) RestoreEdge(b uintptr, d uint32) {}

func analyze(t *testing.T, words map[uint32]uint32, addr uint32) *jit.Meta {
	t.Helper()
	f := New(&memGuest{words: words}, &Context{}, Dispatch{}, 0)
	meta := &jit.Meta{GuestAddr: addr, BranchAddr: jit.InvalidAddr, NextAddr: jit.InvalidAddr}
	if err := f.AnalyzeCode(meta); err != nil {
		t.Fatalf("AnalyzeCode: %v", err)
	}
	return meta
}

// Encodings:
//   0xe1a00001  mov r0, r1
//   0xe1a0f00e  mov pc, lr
//   0xea000004  b +4
//   0xef000012  swi #0x12
//   0xe8bd8000  ldmfd sp!, {pc}
//   0xe3a00001  mov r0, #1

func TestAnalyzeTerminatesOnBranch(t *testing.T) {
	meta := analyze(t, map[uint32]uint32{
		0x0000: 0xe1a00001,
		0x0004: 0xe3a00001,
		0x0008: 0xea000004,
		0x000c: 0xe1a00001,
	}, 0)

	if meta.NumInstrs != 3 {
		t.Errorf("NumInstrs = %d, want 3", meta.NumInstrs)
	}
	if meta.Size != 12 {
		t.Errorf("Size = %d, want 12", meta.Size)
	}
	if meta.NumCycles != 36 {
		t.Errorf("NumCycles = %d, want 36 (12 per instruction)", meta.NumCycles)
	}
	if meta.BranchType != jit.BranchDynamic {
		t.Errorf("BranchType = %v, want dynamic", meta.BranchType)
	}
}

func TestAnalyzeTerminatesOnPCWrite(t *testing.T) {
	// a data op with rd = r15 changes control flow
	meta := analyze(t, map[uint32]uint32{
		0x0000: 0xe1a0f00e,
	}, 0)

	if meta.NumInstrs != 1 {
		t.Errorf("NumInstrs = %d, want 1", meta.NumInstrs)
	}
	if meta.BranchType != jit.BranchDynamic {
		t.Errorf("BranchType = %v, want dynamic", meta.BranchType)
	}
}

func TestAnalyzeTerminatesOnSWI(t *testing.T) {
	meta := analyze(t, map[uint32]uint32{
		0x0000: 0xe3a00001,
		0x0004: 0xef000012,
	}, 0)

	if meta.NumInstrs != 2 {
		t.Errorf("NumInstrs = %d, want 2", meta.NumInstrs)
	}
	if meta.BranchType != jit.BranchDynamic {
		t.Errorf("BranchType = %v, want dynamic", meta.BranchType)
	}
}

func TestAnalyzeTerminatesOnBlockTransferWithPC(t *testing.T) {
	meta := analyze(t, map[uint32]uint32{
		0x0000: 0xe8bd8000,
	}, 0)

	if meta.NumInstrs != 1 {
		t.Errorf("NumInstrs = %d, want 1", meta.NumInstrs)
	}
	if meta.BranchType != jit.BranchDynamic {
		t.Errorf("BranchType = %v, want dynamic", meta.BranchType)
	}
}
