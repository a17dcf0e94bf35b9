// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"github.com/golang/glog"

	"github.com/go-dreamcast/dynarec/ir"
)

// InvalidAddr is the sentinel for an unknown guest address.
const InvalidAddr = 0xffffffff

// BranchType classifies the instruction terminating a basic block.
type BranchType int

const (
	// BranchFallThrough ends a block without a branch, e.g. on an SR or
	// FPSCR write that invalidates downstream translation assumptions.
	BranchFallThrough BranchType = iota

	// BranchStatic is an unconditional branch to a known address.
	BranchStatic

	// BranchStaticTrue and BranchStaticFalse branch to a known address
	// when the condition holds the given truth value.
	BranchStaticTrue
	BranchStaticFalse

	// BranchDynamic and its conditional variants branch to an address
	// computed at runtime.
	BranchDynamic
	BranchDynamicTrue
	BranchDynamicFalse
)

var branchTypeNames = map[BranchType]string{
	BranchFallThrough:  "fall-through",
	BranchStatic:       "static",
	BranchStaticTrue:   "static-true",
	BranchStaticFalse:  "static-false",
	BranchDynamic:      "dynamic",
	BranchDynamicTrue:  "dynamic-true",
	BranchDynamicFalse: "dynamic-false",
}

func (t BranchType) String() string {
	return branchTypeNames[t]
}

// Meta caches the analysis of one guest basic block. It is unique per
// guest address and immutable once analyzed, shared by every compile that
// covers the block, and freed only by cache teardown or analyze rollback.
type Meta struct {
	// GuestAddr is the entry point of the block in guest memory.
	GuestAddr uint32

	// BranchType classifies the terminating branch; BranchAddr is the
	// statically known target, or InvalidAddr.
	BranchType BranchType
	BranchAddr uint32

	// NextAddr is the address following the block, for fall-through or
	// the not-taken side of a conditional.
	NextAddr uint32

	// NumInstrs and NumCycles total the block including any delay slot
	// instruction; Size is the block length in guest bytes.
	NumInstrs int
	NumCycles int
	Size      int

	// compileRefs tracks the compile units currently referencing this
	// meta.
	compileRefs []*CompileUnit

	// visited breaks cycles while walking the block graph during a
	// single compile.
	visited uint64
}

func (m *Meta) addCompileRef(unit *CompileUnit) {
	m.compileRefs = append(m.compileRefs, unit)
}

func (m *Meta) removeCompileRef(unit *CompileUnit) {
	for i, u := range m.compileRefs {
		if u == unit {
			m.compileRefs[i] = m.compileRefs[len(m.compileRefs)-1]
			m.compileRefs = m.compileRefs[:len(m.compileRefs)-1]
			return
		}
	}
	glog.Fatal("jit: compile unit missing from meta refs")
}

// CompileUnit is a node of the per-compilation control flow tree. The
// tree never rejoins; a re-encountered meta terminates with a nil child
// and the re-entry exits through a static branch thunk.
type CompileUnit struct {
	// Parent is the code entry being compiled.
	Parent *Code

	// Meta is shared with every other compile covering the block.
	Meta *Meta

	// Branch and Next are the children reached by the taken branch and
	// the fall-through; nil denotes an exit via thunk.
	Branch *CompileUnit
	Next   *CompileUnit

	// BranchCond and BranchDest are supplied by the lowering of the
	// terminating instruction for conditional and dynamic branches.
	BranchCond *ir.Value
	BranchDest *ir.Value
}

// Edge links a branch site in one compiled code entry to another entry,
// so the branch can be patched to jump directly.
type Edge struct {
	Src *Code
	Dst *Code

	// Branch is the location of the branch instruction in host memory.
	Branch uintptr

	// Patched reports whether the branch currently jumps directly to
	// Dst rather than through dispatch.
	Patched bool
}

// Code is one compiled host-code entry point.
type Code struct {
	// GuestAddr is the guest entry point; HostAddr and HostSize locate
	// the generated code.
	GuestAddr uint32
	HostAddr  uintptr
	HostSize  int

	// Fastmem enables speculative unchecked guest memory accesses for
	// this entry. Cleared when a fastmem fault invalidates the entry so
	// the recompile uses slow-path memory ops.
	Fastmem bool

	// RootUnit is the compile unit tree that produced this code.
	RootUnit *CompileUnit

	// InEdges and OutEdges link this entry to other compiled entries.
	InEdges  []*Edge
	OutEdges []*Edge

	inCodeMap    bool
	inReverseMap bool
}

func removeEdge(edges []*Edge, edge *Edge) []*Edge {
	for i, e := range edges {
		if e == edge {
			edges[i] = edges[len(edges)-1]
			return edges[:len(edges)-1]
		}
	}
	glog.Fatal("jit: edge missing from edge list")
	return edges
}
