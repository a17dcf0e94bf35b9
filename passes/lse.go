// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package passes

import (
	"github.com/go-dreamcast/dynarec/ir"
)

// LSE removes redundant context and local accesses within straight-line
// regions: a load after a store or load of the same slot forwards the
// known value, and a store shadowed by a later store to the same slot
// before any observation is dropped. Calls and slow-path guest accesses
// can reach back into the context, so availability is discarded across
// them.
type LSE struct {
	avail []lseEntry
}

type lseEntry struct {
	offset int
	size   int
	value  *ir.Value

	// store is the pending store that produced the value, nil when the
	// value came from a load. A pending store that is never observed
	// before being shadowed is dead.
	store *ir.Instr
}

// NewLSE returns a load/store elimination pass.
func NewLSE() *LSE {
	return &LSE{}
}

// Name implements Pass.
func (*LSE) Name() string { return "lse" }

// Run implements Pass.
func (l *LSE) Run(ib *ir.Builder) {
	for block := ib.Blocks(); block != nil; block = block.Next() {
		// context slots and spill slots never alias each other
		l.runRegion(ib, block, ir.OpLoadContext, ir.OpStoreContext)
		l.runRegion(ib, block, ir.OpLoadLocal, ir.OpStoreLocal)
	}
}

func (l *LSE) runRegion(ib *ir.Builder, block *ir.Block, loadOp, storeOp ir.Op) {
	l.avail = l.avail[:0]

	for instr := block.Head(); instr != nil; {
		next := instr.Next()

		switch instr.Op {
		case loadOp:
			offset := int(instr.Args[0].I32())
			size := instr.Result.Type.Size()

			if e := l.find(offset, size, instr.Result.Type); e != nil {
				ib.ReplaceUses(instr.Result, e.value)
				ib.RemoveInstr(instr)
			} else {
				// a partially overlapping load observes any pending store
				l.observe(offset, size)
				l.put(lseEntry{offset: offset, size: size, value: instr.Result})
			}

		case storeOp:
			offset := int(instr.Args[0].I32())
			v := instr.Args[1]
			size := v.Type.Size()

			if dead := l.kill(offset, size); dead != nil {
				ib.RemoveInstr(dead)
			}
			l.put(lseEntry{offset: offset, size: size, value: v, store: instr})

		case ir.OpCall, ir.OpCallCond, ir.OpCallNoreturn, ir.OpCallFallback,
			ir.OpLoadSlow, ir.OpStoreSlow:
			// the callee (or an mmio handler) may read or write any slot
			l.clear()
		}

		instr = next
	}

	l.clear()
}

func (l *LSE) find(offset, size int, typ ir.Type) *lseEntry {
	for i := range l.avail {
		e := &l.avail[i]
		if e.offset == offset && e.size == size && e.value.Type == typ {
			// the forwarded store is now observed
			e.store = nil
			return e
		}
	}
	return nil
}

// kill invalidates entries overlapping [offset, offset+size). It returns
// a pending store that was exactly shadowed without being observed.
func (l *LSE) kill(offset, size int) *ir.Instr {
	var dead *ir.Instr
	out := l.avail[:0]
	for _, e := range l.avail {
		if e.offset+e.size <= offset || offset+size <= e.offset {
			out = append(out, e)
			continue
		}
		if e.store != nil && e.offset == offset && e.size == size {
			dead = e.store
		}
	}
	l.avail = out
	return dead
}

// observe marks pending stores overlapping [offset, offset+size) as
// observed so they are not treated as dead.
func (l *LSE) observe(offset, size int) {
	for i := range l.avail {
		e := &l.avail[i]
		if e.offset+e.size > offset && offset+size > e.offset {
			e.store = nil
		}
	}
}

func (l *LSE) put(e lseEntry) {
	l.avail = append(l.avail, e)
}

func (l *LSE) clear() {
	l.avail = l.avail[:0]
}
