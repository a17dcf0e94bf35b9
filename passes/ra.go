// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package passes

import (
	"github.com/golang/glog"

	"github.com/go-dreamcast/dynarec/ir"
)

// RA performs linear-scan register allocation over the flattened
// instruction stream, assigning each defined value a host register from
// the backend's published table or a spill slot in the locals frame.
//
// The last two registers of each class are withheld from allocation and
// used for spill traffic: a spilled value is written to a local (right
// after its definition when the new value itself spills, or just before
// the instruction that takes over its register when an active value is
// evicted) and reloaded into a reserved register immediately before each
// later use, so an instruction with two spilled operands still has
// distinct registers to load them into.
type RA struct {
	registers []Register

	intervals map[*ir.Value]*interval
	active    []*interval
	freePool  map[ir.Type][]*ir.Local
}

type interval struct {
	value *ir.Value
	start int
	end   int

	reg     int
	spilled bool
	local   *ir.Local
}

const spillTempsPerClass = 2

// NewRA returns a register allocation pass for the given host register
// table.
func NewRA(registers []Register) *RA {
	return &RA{registers: registers}
}

// Name implements Pass.
func (*RA) Name() string { return "ra" }

// Run implements Pass.
func (ra *RA) Run(ib *ir.Builder) {
	ra.intervals = make(map[*ir.Value]*interval)
	ra.active = ra.active[:0]
	ra.freePool = make(map[ir.Type][]*ir.Local)

	ordered := ra.buildIntervals(ib)
	usable, temps := ra.partition()

	inUse := make(map[int]*interval)

	for pos, instr := range ordered {
		// reload spilled operands into reserved temporaries
		tempIdx := 0
		for n := 0; n < ir.MaxInstrArgs; n++ {
			arg := instr.Args[n]
			if arg == nil {
				break
			}
			iv := ra.intervals[arg]
			if iv == nil || !iv.spilled {
				continue
			}
			point := ib.GetInsertPoint()
			ib.SetCurrentInstr(instr)
			tmp := ib.LoadLocal(iv.local)
			tmp.Reg = ra.pickTemp(temps, tmp.Type, tempIdx)
			tempIdx++
			ib.SetArg(instr, n, tmp)
			ib.SetInsertPoint(point)
		}

		// expire intervals whose last use has passed
		ra.expire(pos, inUse)

		if instr.Result == nil {
			continue
		}
		cur := ra.intervals[instr.Result]

		if reg := ra.pickFree(usable, inUse, instr.Result.Type); reg != ir.NoRegister {
			cur.reg = reg
			instr.Result.Reg = reg
			inUse[reg] = cur
			ra.active = append(ra.active, cur)
			continue
		}

		// no free register; the value used furthest in the future is
		// spilled so the longer-lived working set keeps its registers
		victim := ra.furthest(instr.Result.Type)
		if victim != nil && victim.end > cur.end {
			ra.spill(ib, victim, instr, true)
			cur.reg = victim.reg
			instr.Result.Reg = victim.reg
			delete(inUse, victim.reg)
			inUse[cur.reg] = cur
			ra.active = append(ra.active, cur)
		} else {
			cur.reg = ra.pickTemp(temps, instr.Result.Type, 0)
			instr.Result.Reg = cur.reg
			ra.spill(ib, cur, instr, false)
		}
	}
}

// buildIntervals flattens the module and computes each defined value's
// live range as the span from its definition to its last use.
func (ra *RA) buildIntervals(ib *ir.Builder) []*ir.Instr {
	var ordered []*ir.Instr

	for block := ib.Blocks(); block != nil; block = block.Next() {
		for instr := block.Head(); instr != nil; instr = instr.Next() {
			pos := len(ordered)
			ordered = append(ordered, instr)

			if instr.Result != nil {
				ra.intervals[instr.Result] = &interval{
					value: instr.Result,
					start: pos,
					end:   pos,
					reg:   ir.NoRegister,
				}
			}

			for n := 0; n < ir.MaxInstrArgs; n++ {
				arg := instr.Args[n]
				if arg == nil {
					break
				}
				if iv := ra.intervals[arg]; iv != nil {
					iv.end = pos
				} else if !arg.IsConstant() {
					glog.Fatalf("ra: use of value defined after its user (op %v)", instr.Op)
				}
			}
		}
	}
	return ordered
}

func (ra *RA) partition() (usable, temps []int) {
	intSeen, floatSeen := 0, 0
	for i := len(ra.registers) - 1; i >= 0; i-- {
		mask := ra.registers[i].Types
		isInt := mask&intMask != 0
		if isInt && intSeen < spillTempsPerClass {
			intSeen++
			temps = append(temps, i)
			continue
		}
		if !isInt && floatSeen < spillTempsPerClass {
			floatSeen++
			temps = append(temps, i)
			continue
		}
		usable = append(usable, i)
	}
	// restore table order for deterministic allocation
	for i, j := 0, len(usable)-1; i < j; i, j = i+1, j-1 {
		usable[i], usable[j] = usable[j], usable[i]
	}
	return usable, temps
}

var intMask = ir.TypeI8.Mask() | ir.TypeI16.Mask() | ir.TypeI32.Mask() | ir.TypeI64.Mask()

func (ra *RA) pickFree(usable []int, inUse map[int]*interval, typ ir.Type) int {
	for _, reg := range usable {
		if ra.registers[reg].Types&typ.Mask() == 0 {
			continue
		}
		if _, taken := inUse[reg]; !taken {
			return reg
		}
	}
	return ir.NoRegister
}

func (ra *RA) pickTemp(temps []int, typ ir.Type, n int) int {
	seen := 0
	for _, reg := range temps {
		if ra.registers[reg].Types&typ.Mask() == 0 {
			continue
		}
		if seen == n {
			return reg
		}
		seen++
	}
	glog.Fatalf("ra: no spill temporary for type %v", typ)
	return ir.NoRegister
}

func (ra *RA) expire(pos int, inUse map[int]*interval) {
	out := ra.active[:0]
	for _, iv := range ra.active {
		if iv.end < pos {
			delete(inUse, iv.reg)
			ra.freeLocal(iv)
			continue
		}
		out = append(out, iv)
	}
	ra.active = out
}

// furthest returns the active interval with the latest end whose register
// can hold the given type.
func (ra *RA) furthest(typ ir.Type) *interval {
	var victim *interval
	for _, iv := range ra.active {
		if ra.registers[iv.reg].Types&typ.Mask() == 0 {
			continue
		}
		if victim == nil || iv.end > victim.end {
			victim = iv
		}
	}
	return victim
}

// spill assigns iv a (reused when possible) spill slot and stores its
// value there. beforeUser places the store ahead of the instruction that
// triggered the spill; otherwise the store follows the defining
// instruction being processed.
func (ra *RA) spill(ib *ir.Builder, iv *interval, instr *ir.Instr, beforeUser bool) {
	iv.spilled = true
	iv.local = ra.allocLocal(ib, iv.value.Type)

	point := ib.GetInsertPoint()
	if beforeUser {
		ib.SetCurrentInstr(instr)
	} else if next := instr.Next(); next != nil {
		ib.SetCurrentInstr(next)
	} else {
		ib.SetCurrentBlock(instr.Block)
	}
	ib.StoreLocal(iv.local, iv.value)
	ib.SetInsertPoint(point)

	// drop the spilled interval from the active set
	out := ra.active[:0]
	for _, o := range ra.active {
		if o != iv {
			out = append(out, o)
		}
	}
	ra.active = out
}

func (ra *RA) allocLocal(ib *ir.Builder, typ ir.Type) *ir.Local {
	if pool := ra.freePool[typ]; len(pool) != 0 {
		l := pool[len(pool)-1]
		ra.freePool[typ] = pool[:len(pool)-1]
		return l
	}
	return ib.AllocLocal(typ)
}

func (ra *RA) freeLocal(iv *interval) {
	if iv.local != nil {
		typ := iv.value.Type
		ra.freePool[typ] = append(ra.freePool[typ], iv.local)
		iv.local = nil
	}
}
