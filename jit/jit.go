// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jit implements the guest-agnostic recompiler engine: the block
// meta and code caches, the compile driver, direct-branch patching
// between compiled entries, and fastmem exception recovery.
package jit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/google/btree"

	"github.com/go-dreamcast/dynarec/ir"
	"github.com/go-dreamcast/dynarec/passes"
)

// Options configures a JIT instance.
type Options struct {
	// DisableFastmem compiles every entry with slow-path guest memory
	// ops. Useful under a debugger, where fastmem SIGSEGVs are painful.
	DisableFastmem bool

	// PerfMap appends generated code locations to /tmp/perf-<pid>.map.
	PerfMap bool

	// DumpIR writes the unoptimized IR of each compile to
	// <AppDir>/ir/0x%08x.ir.
	DumpIR bool
	AppDir string
}

// JIT drives compilation for one guest CPU: dispatch misses call
// CompileCode, generated code calls AddEdge on first traversal of an
// unlinked branch, and the host exception handler offers faults to
// HandleException.
type JIT struct {
	tag string

	guest    Guest
	frontend Frontend
	backend  Backend

	pipeline []passes.Pass

	// scratch IR builder reused across compiles
	buf *ir.Builder

	meta        *btree.BTree
	code        *btree.BTree
	codeReverse *btree.BTree

	visitToken uint64

	perfMap *os.File
	opts    Options
}

type metaItem struct{ meta *Meta }

func (a metaItem) Less(b btree.Item) bool {
	return a.meta.GuestAddr < b.(metaItem).meta.GuestAddr
}

type codeItem struct{ code *Code }

func (a codeItem) Less(b btree.Item) bool {
	return a.code.GuestAddr < b.(codeItem).code.GuestAddr
}

type reverseItem struct{ code *Code }

func (a reverseItem) Less(b btree.Item) bool {
	return a.code.HostAddr < b.(reverseItem).code.HostAddr
}

const btreeDegree = 16

// New returns a JIT for the given guest, front end and backend.
func New(tag string, guest Guest, frontend Frontend, backend Backend, opts Options) (*JIT, error) {
	j := &JIT{
		tag:         tag,
		guest:       guest,
		frontend:    frontend,
		backend:     backend,
		pipeline:    passes.Default(backend.Registers()),
		buf:         ir.NewBuilder(),
		meta:        btree.New(btreeDegree),
		code:        btree.New(btreeDegree),
		codeReverse: btree.New(btreeDegree),
		opts:        opts,
	}

	if opts.PerfMap {
		path := fmt.Sprintf("/tmp/perf-%d.map", os.Getpid())
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("jit: opening perf map: %v", err)
		}
		j.perfMap = f
	}

	return j, nil
}

// Destroy tears down the JIT, freeing every cache.
func (j *JIT) Destroy() {
	if j.perfMap != nil {
		j.perfMap.Close()
		j.perfMap = nil
	}
	j.FreeCache()
}

/*
 * lookups
 */

func (j *JIT) lookupMeta(guestAddr uint32) *Meta {
	item := j.meta.Get(metaItem{&Meta{GuestAddr: guestAddr}})
	if item == nil {
		return nil
	}
	return item.(metaItem).meta
}

// LookupCode returns the live code entry at guestAddr, or nil.
func (j *JIT) LookupCode(guestAddr uint32) *Code {
	item := j.code.Get(codeItem{&Code{GuestAddr: guestAddr}})
	if item == nil {
		return nil
	}
	return item.(codeItem).code
}

// LookupCodeReverse returns the code entry whose host code range contains
// hostAddr, or nil. hostAddr may point anywhere within the generated
// code, not just at its entry.
func (j *JIT) LookupCodeReverse(hostAddr uintptr) *Code {
	var code *Code
	j.codeReverse.DescendLessOrEqual(reverseItem{&Code{HostAddr: hostAddr}}, func(item btree.Item) bool {
		code = item.(reverseItem).code
		return false
	})
	if code == nil {
		return nil
	}
	if hostAddr < code.HostAddr || hostAddr >= code.HostAddr+uintptr(code.HostSize) {
		return nil
	}
	return code
}

// isStale reports whether the guest dispatch table no longer routes the
// entry's guest address to its host code, i.e. the entry was replaced.
func (j *JIT) isStale(code *Code) bool {
	return j.guest.LookupCode(code.GuestAddr) != code.HostAddr
}

/*
 * edges
 */

func (j *JIT) patchEdges(code *Code) {
	// patch incoming edges to jump directly to this entry instead of
	// going through dispatch
	for _, edge := range code.InEdges {
		if !edge.Patched {
			edge.Patched = true
			j.guest.PatchEdge(edge.Branch, edge.Dst.HostAddr)
		}
	}

	// patch outgoing edges to other live entries at this time
	for _, edge := range code.OutEdges {
		if !edge.Patched {
			edge.Patched = true
			j.guest.PatchEdge(edge.Branch, edge.Dst.HostAddr)
		}
	}
}

func (j *JIT) restoreEdges(code *Code) {
	// restore any patched branches to go back through dispatch
	for _, edge := range code.InEdges {
		if edge.Patched {
			edge.Patched = false
			j.guest.RestoreEdge(edge.Branch, edge.Dst.GuestAddr)
		}
	}
}

// AddEdge is invoked by generated code on the first traversal of an
// unlinked branch: branch locates the branch instruction in host memory
// and dstAddr is the destination guest address. A stale source or a
// missing destination leaves the branch routing through dispatch.
func (j *JIT) AddEdge(branch uintptr, dstAddr uint32) {
	src := j.LookupCodeReverse(branch)
	dst := j.LookupCode(dstAddr)

	if src == nil || dst == nil || j.isStale(src) {
		return
	}

	edge := &Edge{Src: src, Dst: dst, Branch: branch}
	src.OutEdges = append(src.OutEdges, edge)
	dst.InEdges = append(dst.InEdges, edge)

	j.patchEdges(src)
}

/*
 * code lifecycle
 */

func (j *JIT) finalizeCode(code *Code) {
	if len(code.InEdges) != 0 || len(code.OutEdges) != 0 {
		glog.Fatal("jit: new code shouldn't have any existing edges")
	}
	if code.inCodeMap || code.inReverseMap {
		glog.Fatal("jit: code was already inserted in lookup tables")
	}

	j.guest.CacheCode(code.GuestAddr, code.HostAddr)

	j.code.ReplaceOrInsert(codeItem{code})
	code.inCodeMap = true
	j.codeReverse.ReplaceOrInsert(reverseItem{code})
	code.inReverseMap = true

	if j.perfMap != nil {
		fmt.Fprintf(j.perfMap, "%x %x %s_0x%08x\n", code.HostAddr, code.HostSize, j.tag, code.GuestAddr)
	}
}

func (j *JIT) freeCompileUnit(unit *CompileUnit) {
	if unit == nil {
		return
	}

	j.freeCompileUnit(unit.Branch)
	j.freeCompileUnit(unit.Next)
	unit.Branch = nil
	unit.Next = nil

	unit.Meta.removeCompileRef(unit)
}

// invalidateCode detaches the entry from dispatch: the compile unit tree
// is freed, incoming patched branches are restored to trampolines and
// every edge is dropped. The entry stays in the lookup maps so in-flight
// execution frames can still be reverse-resolved.
func (j *JIT) invalidateCode(code *Code) {
	j.freeCompileUnit(code.RootUnit)
	code.RootUnit = nil

	j.guest.InvalidateCode(code.GuestAddr)

	j.restoreEdges(code)

	for _, edge := range code.InEdges {
		edge.Src.OutEdges = removeEdge(edge.Src.OutEdges, edge)
	}
	code.InEdges = code.InEdges[:0]

	for _, edge := range code.OutEdges {
		edge.Dst.InEdges = removeEdge(edge.Dst.InEdges, edge)
	}
	code.OutEdges = code.OutEdges[:0]
}

func (j *JIT) freeCode(code *Code) {
	j.invalidateCode(code)

	if code.inCodeMap {
		j.code.Delete(codeItem{code})
		code.inCodeMap = false
	}
	if code.inReverseMap {
		j.codeReverse.Delete(reverseItem{code})
		code.inReverseMap = false
	}
}

func (j *JIT) allocMeta(guestAddr uint32) *Meta {
	meta := &Meta{
		GuestAddr:  guestAddr,
		BranchAddr: InvalidAddr,
		NextAddr:   InvalidAddr,
	}
	j.meta.ReplaceOrInsert(metaItem{meta})
	return meta
}

func (j *JIT) freeMeta(meta *Meta) {
	if len(meta.compileRefs) != 0 {
		glog.Fatal("jit: code must be freed before meta data")
	}
	j.meta.Delete(metaItem{meta})
}

// InvalidateCache invalidates every code entry in place, preserving the
// lookup maps so code currently executing on the host stack can still be
// reverse-resolved. Every meta is freed.
func (j *JIT) InvalidateCache() {
	j.eachCode(func(code *Code) {
		j.invalidateCode(code)
	})
	j.eachMeta(func(meta *Meta) {
		j.freeMeta(meta)
	})
	if j.meta.Len() != 0 {
		glog.Fatal("jit: meta cache not empty after invalidate")
	}
}

// FreeCache frees every code entry and meta and resets the backend's code
// buffer. Only safe when no compiled code is executing.
func (j *JIT) FreeCache() {
	j.eachCode(func(code *Code) {
		j.freeCode(code)
	})
	if j.code.Len() != 0 || j.codeReverse.Len() != 0 {
		glog.Fatal("jit: code cache not empty after free")
	}

	j.eachMeta(func(meta *Meta) {
		j.freeMeta(meta)
	})
	if j.meta.Len() != 0 {
		glog.Fatal("jit: meta cache not empty after free")
	}

	j.backend.Reset()
}

// eachCode and eachMeta iterate over a snapshot so the callback can
// mutate the tree.
func (j *JIT) eachCode(fn func(*Code)) {
	var codes []*Code
	j.code.Ascend(func(item btree.Item) bool {
		codes = append(codes, item.(codeItem).code)
		return true
	})
	for _, code := range codes {
		fn(code)
	}
}

func (j *JIT) eachMeta(fn func(*Meta)) {
	var metas []*Meta
	j.meta.Ascend(func(item btree.Item) bool {
		metas = append(metas, item.(metaItem).meta)
		return true
	})
	for _, meta := range metas {
		fn(meta)
	}
}

/*
 * compilation
 */

func (j *JIT) analyzeCodeR(code *Code, guestAddr uint32) *CompileUnit {
	if guestAddr == InvalidAddr {
		return nil
	}

	meta := j.lookupMeta(guestAddr)

	// don't allow control flow to rejoin
	if meta != nil && meta.visited == j.visitToken {
		return nil
	}

	if meta == nil {
		meta = j.allocMeta(guestAddr)

		// analysis can fail when a branch target hasn't been written
		// out to guest memory yet; the parent exits through a thunk
		if err := j.frontend.AnalyzeCode(meta); err != nil {
			glog.V(1).Infof("jit: analyze failed at 0x%08x: %v", guestAddr, err)
			j.freeMeta(meta)
			return nil
		}
	}

	meta.visited = j.visitToken

	unit := &CompileUnit{Parent: code, Meta: meta}
	meta.addCompileRef(unit)

	unit.Branch = j.analyzeCodeR(code, meta.BranchAddr)
	unit.Next = j.analyzeCodeR(code, meta.NextAddr)

	return unit
}

func (j *JIT) analyzeCode(code *Code) {
	j.visitToken++
	code.RootUnit = j.analyzeCodeR(code, code.GuestAddr)
	if code.RootUnit == nil {
		glog.Fatalf("jit: failed to analyze entry block at 0x%08x", code.GuestAddr)
	}
}

func (j *JIT) dumpIR(guestAddr uint32) {
	dir := filepath.Join(j.opts.AppDir, "ir")
	if err := os.MkdirAll(dir, 0755); err != nil {
		glog.Fatalf("jit: creating ir dump dir: %v", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("0x%08x.ir", guestAddr))
	f, err := os.Create(path)
	if err != nil {
		glog.Fatalf("jit: creating ir dump: %v", err)
	}
	defer f.Close()

	if err := j.buf.Write(f); err != nil {
		glog.Fatalf("jit: writing ir dump: %v", err)
	}
}

// CompileCode compiles the basic blocks reachable from guestAddr into a
// fresh code entry, installing it in the lookup maps and the guest
// dispatch table and patching any incoming edges. On backend overflow the
// whole code cache is flushed and the next dispatch retries.
func (j *JIT) CompileCode(guestAddr uint32) *Code {
	glog.V(1).Infof("jit: compile %s 0x%08x", j.tag, guestAddr)

	fastmem := !j.opts.DisableFastmem

	// if this address was invalidated by a fastmem exception, finish
	// freeing it now and keep fastmem disabled for the new entry
	if existing := j.LookupCode(guestAddr); existing != nil {
		fastmem = existing.Fastmem
		j.freeCode(existing)
	}

	code := &Code{
		GuestAddr: guestAddr,
		Fastmem:   fastmem,
	}

	// analyze the guest address, building the compile unit tree
	j.analyzeCode(code)

	// translate the guest machine code into ir
	j.buf.Reset()
	j.frontend.TranslateCode(code, j.buf)

	if j.opts.DumpIR {
		j.dumpIR(guestAddr)
	}

	// run the optimization passes
	for _, pass := range j.pipeline {
		pass.Run(j.buf)
	}

	// assemble the ir into native code
	if err := j.backend.AssembleCode(code, j.buf); err != nil {
		// the backend overflowed; completely free the cache and let
		// dispatch try to compile again
		glog.Infof("jit: backend overflow, resetting code cache (%v)", err)
		j.freeCode(code)
		j.FreeCache()
		return nil
	}

	j.finalizeCode(code)
	j.patchEdges(code)

	return code
}

/*
 * fastmem recovery
 */

// HandleException offers a host fault to the JIT. When the fault lands in
// generated code and the backend confirms it came from a fastmem memory
// op, fastmem is disabled for the entry and it is invalidated so the next
// dispatch recompiles it with slow-path guest memory ops. The entry can't
// be removed from the lookup maps yet; it is still executing and may
// fault again.
func (j *JIT) HandleException(ex *Exception) bool {
	code := j.LookupCodeReverse(ex.PC)
	if code == nil {
		return false
	}

	if !j.backend.HandleException(ex) {
		return false
	}

	code.Fastmem = false
	j.invalidateCode(code)

	return true
}
