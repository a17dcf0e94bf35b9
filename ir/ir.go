// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ir implements the intermediate representation shared by the
// guest front ends, the optimization passes and the host backend. Values,
// instructions and blocks are allocated out of slab arenas owned by the
// Builder so an entire module can be torn down by a single Reset between
// compiles.
package ir

import (
	"fmt"
	"math"

	"github.com/golang/glog"
)

// MaxInstrArgs is the maximum number of arguments an instruction takes.
const MaxInstrArgs = 4

// NoRegister marks a value that has not been assigned a host register.
const NoRegister = -1

// Type enumerates the value types representable in the IR.
type Type int

const (
	TypeVoid Type = iota
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeF32
	TypeF64
	TypeV128
	TypeString
	TypeBlock
	numTypes
)

var typeNames = [numTypes]string{
	TypeVoid:   "void",
	TypeI8:     "i8",
	TypeI16:    "i16",
	TypeI32:    "i32",
	TypeI64:    "i64",
	TypeF32:    "f32",
	TypeF64:    "f64",
	TypeV128:   "v128",
	TypeString: "str",
	TypeBlock:  "blk",
}

func (t Type) String() string {
	return typeNames[t]
}

// Size returns the width of the type in bytes.
func (t Type) Size() int {
	switch t {
	case TypeI8:
		return 1
	case TypeI16:
		return 2
	case TypeI32, TypeF32:
		return 4
	case TypeI64, TypeF64:
		return 8
	case TypeV128:
		return 16
	}
	glog.Fatalf("ir: no size for type %v", t)
	return 0
}

// IsInt reports whether t is an integer type.
func (t Type) IsInt() bool {
	return t == TypeI8 || t == TypeI16 || t == TypeI32 || t == TypeI64
}

// IsFloat reports whether t is a floating point type.
func (t Type) IsFloat() bool {
	return t == TypeF32 || t == TypeF64
}

// Mask returns the type as a bitmask, for matching against host register
// capability masks.
func (t Type) Mask() int {
	return 1 << t
}

// Use is the layer of indirection between an instruction and the values it
// takes as arguments. Each value keeps the list of uses referring to it so
// that a replacement can rewrite every referring argument slot.
type Use struct {
	// Instr is the instruction using the value.
	Instr *Instr

	// Slot is the argument index within Instr.
	Slot int
}

// Value is either a typed constant or the result of a defining instruction.
type Value struct {
	Type Type

	// constant payloads. I64 doubles as the pointer payload.
	I64 int64
	F32 float32
	F64 float64
	Str string
	Blk *Block

	// Def is the instruction defining this value. A value is a constant
	// iff Def is nil.
	Def *Instr

	uses []*Use

	// Reg is the host register allocated for the value, or NoRegister.
	Reg int

	// Tag is scratch metadata for optimization passes.
	Tag int64
}

// IsConstant reports whether the value is a constant.
func (v *Value) IsConstant() bool {
	return v.Def == nil
}

// Uses returns the live use list of the value.
func (v *Value) Uses() []*Use {
	return v.uses
}

// I8 returns the constant payload truncated to 8 bits.
func (v *Value) I8() int8 { return int8(v.I64) }

// I16 returns the constant payload truncated to 16 bits.
func (v *Value) I16() int16 { return int16(v.I64) }

// I32 returns the constant payload truncated to 32 bits.
func (v *Value) I32() int32 { return int32(v.I64) }

// ZextConstant returns the integer constant payload zero-extended to
// 64 bits according to the value's type.
func (v *Value) ZextConstant() uint64 {
	switch v.Type {
	case TypeI8:
		return uint64(uint8(v.I64))
	case TypeI16:
		return uint64(uint16(v.I64))
	case TypeI32:
		return uint64(uint32(v.I64))
	case TypeI64:
		return uint64(v.I64)
	}
	glog.Fatalf("ir: zext of non-integer constant %v", v.Type)
	return 0
}

func (v *Value) removeUse(u *Use) {
	for i, o := range v.uses {
		if o == u {
			v.uses[i] = v.uses[len(v.uses)-1]
			v.uses = v.uses[:len(v.uses)-1]
			return
		}
	}
	glog.Fatalf("ir: use not found on value")
}

// Instr is a single IR instruction: an op, up to MaxInstrArgs argument
// values and an optional result value.
type Instr struct {
	Op    Op
	Label string

	// Args holds the argument values. The parallel used array backs the
	// use entries registered on each argument.
	Args [MaxInstrArgs]*Value
	used [MaxInstrArgs]Use

	// Result is nil for void-typed ops.
	Result *Value

	// Block is the block containing the instruction.
	Block *Block

	// Tag is scratch metadata for optimization passes.
	Tag int64

	prev, next *Instr
}

// Prev returns the previous instruction in the block, or nil.
func (i *Instr) Prev() *Instr { return i.prev }

// Next returns the next instruction in the block, or nil.
func (i *Instr) Next() *Instr { return i.next }

// Block is a straight-line sequence of instructions terminating in a
// single branch.
type Block struct {
	Label string

	head, tail *Instr

	// Outgoing and Incoming hold control flow edges discovered by the
	// control flow analysis pass. Edges are symmetric: an edge appears in
	// both its source's outgoing list and its destination's incoming list.
	Outgoing []*BlockEdge
	Incoming []*BlockEdge

	// Tag is scratch metadata for optimization passes.
	Tag int64

	prev, next *Block
}

// Head returns the first instruction of the block, or nil.
func (b *Block) Head() *Instr { return b.head }

// Tail returns the last instruction of the block, or nil.
func (b *Block) Tail() *Instr { return b.tail }

// Prev returns the previous block in the module, or nil.
func (b *Block) Prev() *Block { return b.prev }

// Next returns the next block in the module, or nil.
func (b *Block) Next() *Block { return b.next }

// BlockEdge is a control flow edge between two blocks.
type BlockEdge struct {
	Src *Block
	Dst *Block
}

// Local is a typed spill slot in the frame of the compiled code.
type Local struct {
	Type Type

	// Offset is the i32 constant holding the frame offset of the slot.
	Offset *Value
}

// InsertPoint is a position within the module at which new instructions
// are emitted. Instr is the instruction to insert before; a nil Instr
// appends to the block.
type InsertPoint struct {
	Block *Block
	Instr *Instr
}

// slab is a chunked arena. Chunks are never reallocated, so pointers into
// the slab stay valid until reset; reset retains the chunks for reuse.
type slab[T any] struct {
	chunks [][]T
	n      int
}

const slabChunkSize = 512

func (s *slab[T]) alloc() *T {
	chunk := s.n / slabChunkSize
	if chunk == len(s.chunks) {
		s.chunks = append(s.chunks, make([]T, slabChunkSize))
	}
	p := &s.chunks[chunk][s.n%slabChunkSize]
	s.n++
	var zero T
	*p = zero
	return p
}

func (s *slab[T]) reset() {
	s.n = 0
}

// Builder owns an IR module under construction: the block list, the
// insertion cursor, the locals frame and the arenas backing every node.
type Builder struct {
	values slab[Value]
	instrs slab[Instr]
	blocks slab[Block]
	edges  slab[BlockEdge]
	locals []*Local

	// LocalsSize is the total frame size of allocated spill slots.
	LocalsSize int

	head, tail *Block

	cursor InsertPoint
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Reset rewinds the builder for a fresh compile. The arenas retain their
// capacity; every node handed out before the reset becomes invalid.
func (ib *Builder) Reset() {
	ib.values.reset()
	ib.instrs.reset()
	ib.blocks.reset()
	ib.edges.reset()
	ib.locals = ib.locals[:0]
	ib.LocalsSize = 0
	ib.head = nil
	ib.tail = nil
	ib.cursor = InsertPoint{}
}

// Blocks returns the first block of the module, or nil when empty.
func (ib *Builder) Blocks() *Block { return ib.head }

// NumInstrs counts the instructions across all blocks.
func (ib *Builder) NumInstrs() int {
	n := 0
	for blk := ib.head; blk != nil; blk = blk.next {
		for instr := blk.head; instr != nil; instr = instr.next {
			n++
		}
	}
	return n
}

/*
 * insertion cursor
 */

// GetInsertPoint returns the current insertion point.
func (ib *Builder) GetInsertPoint() InsertPoint {
	return ib.cursor
}

// SetInsertPoint restores a previously saved insertion point.
func (ib *Builder) SetInsertPoint(point InsertPoint) {
	ib.cursor = point
}

// SetCurrentBlock moves the cursor to append at the end of block.
func (ib *Builder) SetCurrentBlock(block *Block) {
	ib.cursor = InsertPoint{Block: block}
}

// SetCurrentInstr moves the cursor to insert before instr.
func (ib *Builder) SetCurrentInstr(instr *Instr) {
	ib.cursor = InsertPoint{Block: instr.Block, Instr: instr}
}

/*
 * block operations
 */

// AppendBlock adds a new block at the end of the module.
func (ib *Builder) AppendBlock() *Block {
	return ib.InsertBlock(ib.tail)
}

// InsertBlock adds a new block after the given block. A nil after inserts
// at the head of the module.
func (ib *Builder) InsertBlock(after *Block) *Block {
	block := ib.blocks.alloc()

	if after == nil {
		block.next = ib.head
		if ib.head != nil {
			ib.head.prev = block
		}
		ib.head = block
	} else {
		block.prev = after
		block.next = after.next
		if after.next != nil {
			after.next.prev = block
		}
		after.next = block
	}
	if block.next == nil {
		ib.tail = block
	}
	return block
}

// RemoveBlock unlinks the block and every instruction in it.
func (ib *Builder) RemoveBlock(block *Block) {
	for instr := block.head; instr != nil; {
		next := instr.next
		ib.RemoveInstr(instr)
		instr = next
	}

	if block.prev != nil {
		block.prev.next = block.next
	} else {
		ib.head = block.next
	}
	if block.next != nil {
		block.next.prev = block.prev
	} else {
		ib.tail = block.prev
	}
	block.prev = nil
	block.next = nil

	if ib.cursor.Block == block {
		ib.cursor = InsertPoint{}
	}
}

// SetBlockLabel names a block for use as a symbolic branch target.
func (ib *Builder) SetBlockLabel(block *Block, format string, args ...interface{}) {
	block.Label = fmt.Sprintf(format, args...)
}

// AddEdge records a control flow edge between two blocks. Edges are
// symmetric; both endpoints are updated.
func (ib *Builder) AddEdge(src, dst *Block) {
	edge := ib.edges.alloc()
	edge.Src = src
	edge.Dst = dst
	src.Outgoing = append(src.Outgoing, edge)
	dst.Incoming = append(dst.Incoming, edge)
}

/*
 * instruction operations
 */

// AppendInstr emits a new instruction at the cursor. A non-void result
// type allocates the instruction's result value.
func (ib *Builder) AppendInstr(op Op, resultType Type) *Instr {
	if ib.cursor.Block == nil {
		glog.Fatal("ir: no current block to emit into")
	}

	instr := ib.instrs.alloc()
	instr.Op = op
	for n := 0; n < MaxInstrArgs; n++ {
		instr.used[n] = Use{Instr: instr, Slot: n}
	}

	if resultType != TypeVoid {
		result := ib.values.alloc()
		result.Type = resultType
		result.Def = instr
		result.Reg = NoRegister
		instr.Result = result
	}

	block := ib.cursor.Block
	before := ib.cursor.Instr
	instr.Block = block

	if before == nil {
		instr.prev = block.tail
		if block.tail != nil {
			block.tail.next = instr
		}
		block.tail = instr
		if block.head == nil {
			block.head = instr
		}
	} else {
		instr.prev = before.prev
		instr.next = before
		if before.prev != nil {
			before.prev.next = instr
		} else {
			block.head = instr
		}
		before.prev = instr
	}
	return instr
}

// SetArg sets argument n of instr to v, registering a use of v.
func (ib *Builder) SetArg(instr *Instr, n int, v *Value) {
	if instr.Args[n] != nil {
		instr.Args[n].removeUse(&instr.used[n])
	}
	instr.Args[n] = v
	if v != nil {
		v.uses = append(v.uses, &instr.used[n])
	}
}

// RemoveInstr unlinks the instruction from its block, unregistering all of
// its argument uses. The result value must be unused.
func (ib *Builder) RemoveInstr(instr *Instr) {
	if instr.Result != nil && len(instr.Result.uses) != 0 {
		glog.Fatalf("ir: removing instruction %v whose result is still used", instr.Op)
	}

	for n := 0; n < MaxInstrArgs; n++ {
		if instr.Args[n] != nil {
			instr.Args[n].removeUse(&instr.used[n])
			instr.Args[n] = nil
		}
	}

	block := instr.Block
	if instr.prev != nil {
		instr.prev.next = instr.next
	} else {
		block.head = instr.next
	}
	if instr.next != nil {
		instr.next.prev = instr.prev
	} else {
		block.tail = instr.prev
	}

	if ib.cursor.Instr == instr {
		ib.cursor.Instr = instr.next
	}
	instr.prev = nil
	instr.next = nil
	instr.Block = nil
}

// SetInstrLabel names an instruction.
func (ib *Builder) SetInstrLabel(instr *Instr, format string, args ...interface{}) {
	instr.Label = fmt.Sprintf(format, args...)
}

/*
 * value constructors
 */

// AllocInt returns a typed integer constant.
func (ib *Builder) AllocInt(c int64, typ Type) *Value {
	v := ib.values.alloc()
	v.Reg = NoRegister
	switch typ {
	case TypeI8:
		c = int64(int8(c))
	case TypeI16:
		c = int64(int16(c))
	case TypeI32:
		c = int64(int32(c))
	case TypeI64:
	default:
		glog.Fatalf("ir: alloc int of non-integer type %v", typ)
	}
	v.Type = typ
	v.I64 = c
	return v
}

// AllocI8 returns an i8 constant.
func (ib *Builder) AllocI8(c int8) *Value { return ib.AllocInt(int64(c), TypeI8) }

// AllocI16 returns an i16 constant.
func (ib *Builder) AllocI16(c int16) *Value { return ib.AllocInt(int64(c), TypeI16) }

// AllocI32 returns an i32 constant.
func (ib *Builder) AllocI32(c int32) *Value { return ib.AllocInt(int64(c), TypeI32) }

// AllocI64 returns an i64 constant.
func (ib *Builder) AllocI64(c int64) *Value { return ib.AllocInt(c, TypeI64) }

// AllocF32 returns an f32 constant.
func (ib *Builder) AllocF32(c float32) *Value {
	v := ib.values.alloc()
	v.Reg = NoRegister
	v.Type = TypeF32
	v.F32 = c
	return v
}

// AllocF64 returns an f64 constant.
func (ib *Builder) AllocF64(c float64) *Value {
	v := ib.values.alloc()
	v.Reg = NoRegister
	v.Type = TypeF64
	v.F64 = c
	return v
}

// AllocPtr returns an i64 constant holding a host address.
func (ib *Builder) AllocPtr(c uintptr) *Value {
	return ib.AllocI64(int64(c))
}

// AllocStr returns a string constant.
func (ib *Builder) AllocStr(format string, args ...interface{}) *Value {
	v := ib.values.alloc()
	v.Reg = NoRegister
	v.Type = TypeString
	v.Str = fmt.Sprintf(format, args...)
	return v
}

// AllocBlockRef returns a constant referencing a block, for use as a
// branch target.
func (ib *Builder) AllocBlockRef(block *Block) *Value {
	v := ib.values.alloc()
	v.Reg = NoRegister
	v.Type = TypeBlock
	v.Blk = block
	return v
}

// AllocLocal allocates a typed spill slot in the frame.
func (ib *Builder) AllocLocal(typ Type) *Local {
	// align the slot to its natural size
	size := typ.Size()
	ib.LocalsSize = (ib.LocalsSize + size - 1) & ^(size - 1)

	l := &Local{
		Type:   typ,
		Offset: ib.AllocI32(int32(ib.LocalsSize)),
	}
	ib.LocalsSize += size
	ib.locals = append(ib.locals, l)
	return l
}

// ReuseLocal returns a local aliasing an existing slot offset.
func (ib *Builder) ReuseLocal(offset *Value, typ Type) *Local {
	l := &Local{
		Type:   typ,
		Offset: offset,
	}
	ib.locals = append(ib.locals, l)
	return l
}

/*
 * use replacement
 */

// ReplaceUse rewrites a single argument slot to refer to other.
func (ib *Builder) ReplaceUse(use *Use, other *Value) {
	ib.SetArg(use.Instr, use.Slot, other)
}

// ReplaceUses rewrites every use of v to refer to other.
func (ib *Builder) ReplaceUses(v, other *Value) {
	if v == other {
		glog.Fatal("ir: replacing a value with itself")
	}
	for len(v.uses) != 0 {
		ib.ReplaceUse(v.uses[len(v.uses)-1], other)
	}
}

// ConstantsEqual reports whether two constants have the same type and
// payload.
func ConstantsEqual(a, b *Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case TypeF32:
		return math.Float32bits(a.F32) == math.Float32bits(b.F32)
	case TypeF64:
		return math.Float64bits(a.F64) == math.Float64bits(b.F64)
	case TypeString:
		return a.Str == b.Str
	case TypeBlock:
		return a.Blk == b.Blk
	default:
		return a.I64 == b.I64
	}
}
