// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x64

import (
	"fmt"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
)

const allocAlignment = 16

// codeArena is the executable code buffer: a single RWX mapping with bump
// allocation. A cache flush rewinds the bump pointer; there is no
// per-entry free.
type codeArena struct {
	mem  mmap.MMap
	used int
}

func newCodeArena(size int) (*codeArena, error) {
	mem, err := mmap.MapRegion(nil, size, mmap.RDWR|mmap.EXEC, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("x64: mapping code arena: %v", err)
	}
	return &codeArena{mem: mem}, nil
}

// allocate copies asm into the arena and returns its address. An error
// means the arena is exhausted and the cache must be flushed.
func (a *codeArena) allocate(asm []byte) (uintptr, error) {
	aligned := (a.used + allocAlignment - 1) &^ (allocAlignment - 1)
	if aligned+len(asm) > len(a.mem) {
		return 0, fmt.Errorf("x64: code arena exhausted (%d of %d bytes used)", a.used, len(a.mem))
	}

	copy(a.mem[aligned:], asm)
	a.used = aligned + len(asm)

	return a.base() + uintptr(aligned), nil
}

// rewind discards every allocation, retaining the mapping.
func (a *codeArena) rewind() {
	a.used = 0
}

func (a *codeArena) base() uintptr {
	return uintptr(unsafe.Pointer(&a.mem[0]))
}

func (a *codeArena) close() error {
	return a.mem.Unmap()
}
