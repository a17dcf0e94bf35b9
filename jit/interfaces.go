// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jit

import (
	"github.com/go-dreamcast/dynarec/ir"
	"github.com/go-dreamcast/dynarec/passes"
)

// Guest is the interface the engine requires from the emulated machine:
// memory accessors for the front end and the slow path of translated
// memory ops, plus the dispatch surface used to route between compiled
// code entries.
type Guest interface {
	R8(addr uint32) uint8
	R16(addr uint32) uint16
	R32(addr uint32) uint32
	R64(addr uint32) uint64
	W8(addr uint32, v uint8)
	W16(addr uint32, v uint16)
	W32(addr uint32, v uint32)
	W64(addr uint32, v uint64)

	// LookupCode returns the host entry the dispatcher would run for pc:
	// either cached code or a trampoline that re-enters the compiler.
	LookupCode(pc uint32) uintptr

	// CacheCode installs a compiled entry in the dispatcher's lookup
	// table; InvalidateCode removes it.
	CacheCode(pc uint32, host uintptr)
	InvalidateCode(pc uint32)

	// PatchEdge rewrites the branch at the given host location to jump
	// directly to dst. RestoreEdge rewrites it back to the trampoline
	// that re-enters dispatch with the destination guest address.
	PatchEdge(branch, dst uintptr)
	RestoreEdge(branch uintptr, dst uint32)
}

// Frontend analyzes and translates guest machine code.
type Frontend interface {
	// AnalyzeCode fills in the meta for the basic block at
	// meta.GuestAddr. An error means the block could not be decoded; the
	// meta is rolled back by the caller.
	AnalyzeCode(meta *Meta) error

	// TranslateCode emits IR for the code entry's compile unit tree.
	TranslateCode(code *Code, ib *ir.Builder)

	// DumpCode logs a disassembly listing of the guest code.
	DumpCode(addr uint32, size int)
}

// Exception describes a host fault raised while executing compiled code.
type Exception struct {
	// PC is the host program counter of the faulting instruction.
	PC uintptr

	// FaultAddr is the inaccessible address.
	FaultAddr uintptr
}

// Backend assembles IR into host machine code and owns the executable
// code buffer.
type Backend interface {
	// Reset discards all generated code, rewinding the code buffer.
	Reset()

	// AssembleCode assembles the IR into the code entry, filling in
	// HostAddr and HostSize. An error indicates the code buffer
	// overflowed; the caller flushes the cache and the next dispatch
	// compiles again.
	AssembleCode(code *Code, ib *ir.Builder) error

	// DumpCode logs a disassembly of generated host code.
	DumpCode(host uintptr, size int)

	// HandleException reports whether the fault originated from one of
	// the backend's fastmem memory ops and was recovered.
	HandleException(ex *Exception) bool

	// Registers publishes the allocatable host register set.
	Registers() []passes.Register
}
