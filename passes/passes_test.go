// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package passes

import (
	"bytes"
	"testing"

	"github.com/go-dreamcast/dynarec/ir"
)

func checkVerify(t *testing.T, ib *ir.Builder) {
	t.Helper()
	if err := Verify(ib); err != nil {
		t.Fatal(err)
	}
}

func dump(t *testing.T, ib *ir.Builder) string {
	t.Helper()
	var buf bytes.Buffer
	if err := ib.Write(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestCFAConditionalEdges(t *testing.T) {
	ib := ir.NewBuilder()
	b1 := ib.AppendBlock()
	b2 := ib.AppendBlock()
	b3 := ib.AppendBlock()

	ib.SetCurrentBlock(b1)
	cond := ib.LoadContext(0x30, ir.TypeI8)
	ib.BranchTrue(cond, ib.AllocBlockRef(b3))

	ib.SetCurrentBlock(b2)
	ib.Branch(ib.AllocBlockRef(b3))

	NewCFA().Run(ib)
	checkVerify(t, ib)

	// conditional branch: taken target and fall-through
	if len(b1.Outgoing) != 2 {
		t.Fatalf("len(b1.Outgoing) = %d, want 2", len(b1.Outgoing))
	}
	dsts := map[*ir.Block]bool{}
	for _, e := range b1.Outgoing {
		dsts[e.Dst] = true
	}
	if !dsts[b2] || !dsts[b3] {
		t.Fatal("b1 edges should cover fall-through b2 and target b3")
	}

	// unconditional branch: single edge, no fall-through
	if len(b2.Outgoing) != 1 || b2.Outgoing[0].Dst != b3 {
		t.Fatalf("b2 should have exactly one edge to b3")
	}
	if len(b3.Incoming) != 2 {
		t.Fatalf("len(b3.Incoming) = %d, want 2", len(b3.Incoming))
	}
}

func TestCFABranchToHostAddress(t *testing.T) {
	ib := ir.NewBuilder()
	b1 := ib.AppendBlock()
	ib.SetCurrentBlock(b1)
	ib.Branch(ib.AllocPtr(0xdeadbeef))

	NewCFA().Run(ib)
	if len(b1.Outgoing) != 0 {
		t.Fatal("branch to a host address must not create block edges")
	}
}

func TestLSERedundantLoad(t *testing.T) {
	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())

	a := ib.LoadContext(0x20, ir.TypeI32)
	b := ib.LoadContext(0x20, ir.TypeI32)
	sum := ib.Add(a, b)
	ib.StoreContext(0x24, sum)

	NewLSE().Run(ib)
	checkVerify(t, ib)

	// two identical context loads with no intervening store collapse
	if got := countOp(ib, ir.OpLoadContext); got != 1 {
		t.Fatalf("load_context count = %d, want 1", got)
	}
	if sum.Def.Args[0] != a || sum.Def.Args[1] != a {
		t.Fatal("second load was not forwarded to the first")
	}
}

func TestLSELoadAfterStore(t *testing.T) {
	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())

	v := ib.LoadContext(0x00, ir.TypeI32)
	ib.StoreContext(0x20, v)
	reloaded := ib.LoadContext(0x20, ir.TypeI32)
	ib.StoreContext(0x24, reloaded)

	NewLSE().Run(ib)
	checkVerify(t, ib)

	if got := countOp(ib, ir.OpLoadContext); got != 1 {
		t.Fatalf("load_context count = %d, want 1", got)
	}
}

func TestLSEDeadStore(t *testing.T) {
	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())

	ib.StoreContext(0x20, ib.AllocI32(1))
	ib.StoreContext(0x20, ib.AllocI32(2))

	NewLSE().Run(ib)
	checkVerify(t, ib)

	if got := countOp(ib, ir.OpStoreContext); got != 1 {
		t.Fatalf("store_context count = %d, want 1", got)
	}
}

func TestLSEConservativeAcrossCalls(t *testing.T) {
	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())

	a := ib.LoadContext(0x20, ir.TypeI32)
	ib.StoreContext(0x24, a)
	ib.Call(ib.AllocPtr(0x1000))
	b := ib.LoadContext(0x20, ir.TypeI32)
	ib.StoreContext(0x28, b)

	NewLSE().Run(ib)
	checkVerify(t, ib)

	// the call may have modified the context; both loads must survive
	if got := countOp(ib, ir.OpLoadContext); got != 2 {
		t.Fatalf("load_context count = %d, want 2", got)
	}
}

func TestCPropFolds(t *testing.T) {
	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())

	sum := ib.Add(ib.AllocI32(40), ib.AllocI32(2))
	ib.StoreContext(0x20, sum)

	NewCProp().Run(ib)
	NewDCE().Run(ib)
	checkVerify(t, ib)

	st := ib.Blocks().Tail()
	if st.Op != ir.OpStoreContext {
		t.Fatalf("tail op = %v, want store_context", st.Op)
	}
	folded := st.Args[1]
	if !folded.IsConstant() || folded.I32() != 42 {
		t.Fatalf("stored value = %v, want constant 42", folded.I64)
	}
	if got := countOp(ib, ir.OpAdd); got != 0 {
		t.Fatalf("add count = %d, want 0 after fold", got)
	}
}

func TestESimpIdentities(t *testing.T) {
	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())

	x := ib.LoadContext(0x20, ir.TypeI32)
	a := ib.Add(x, ib.AllocI32(0)) // x + 0 -> x
	b := ib.And(x, x)              // x & x -> x
	c := ib.Xor(x, x)              // x ^ x -> 0
	d := ib.ShlI(x, 0)             // x << 0 -> x
	ib.StoreContext(0x24, a)
	ib.StoreContext(0x28, b)
	ib.StoreContext(0x2c, c)
	ib.StoreContext(0x30, d)

	NewESimp().Run(ib)
	NewDCE().Run(ib)
	checkVerify(t, ib)

	stores := opInstrs(ib, ir.OpStoreContext)
	if stores[0].Args[1] != x || stores[1].Args[1] != x || stores[3].Args[1] != x {
		t.Fatal("identity results were not replaced with x")
	}
	zero := stores[2].Args[1]
	if !zero.IsConstant() || zero.I64 != 0 {
		t.Fatal("x ^ x did not fold to 0")
	}
	for _, op := range []ir.Op{ir.OpAdd, ir.OpAnd, ir.OpXor, ir.OpShl} {
		if got := countOp(ib, op); got != 0 {
			t.Fatalf("%v count = %d, want 0", op, got)
		}
	}
}

func TestESimpCanonicalizes(t *testing.T) {
	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())

	x := ib.LoadContext(0x20, ir.TypeI32)
	sum := ib.Add(ib.AllocI32(5), x)
	ib.StoreContext(0x24, sum)

	NewESimp().Run(ib)
	checkVerify(t, ib)

	if sum.Def.Args[0] != x {
		t.Fatal("constant was not moved to the right argument")
	}
	if !sum.Def.Args[1].IsConstant() {
		t.Fatal("right argument should be the constant")
	}
}

// Constant folding over a pure integer DAG reaches the same result
// regardless of the order CPROP and ESIMP are interleaved.
func TestCPropESimpConfluence(t *testing.T) {
	build := func(ib *ir.Builder) {
		ib.SetCurrentBlock(ib.AppendBlock())
		x := ib.Add(ib.AllocI32(1), ib.AllocI32(2)) // 3
		y := ib.SMul(x, ib.AllocI32(1))             // x * 1
		z := ib.Xor(y, y)                           // 0
		w := ib.Add(ib.Add(x, z), ib.AllocI32(4))   // 7
		ib.StoreContext(0x20, w)
	}

	runs := [][]Pass{
		{NewCProp(), NewESimp(), NewCProp(), NewDCE()},
		{NewESimp(), NewCProp(), NewESimp(), NewCProp(), NewDCE()},
		{NewCProp(), NewCProp(), NewESimp(), NewCProp(), NewDCE()},
	}

	var results []string
	for _, pipeline := range runs {
		ib := ir.NewBuilder()
		build(ib)
		for _, p := range pipeline {
			p.Run(ib)
			checkVerify(t, ib)
		}
		st := ib.Blocks().Tail()
		v := st.Args[1]
		if !v.IsConstant() || v.I32() != 7 {
			t.Fatalf("folded value = %d, want 7", v.I32())
		}
		results = append(results, dump(t, ib))
	}
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatalf("pipeline %d diverged:\n%s\nvs\n%s", i, results[0], results[i])
		}
	}
}

func TestDCEIdempotent(t *testing.T) {
	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())

	x := ib.LoadContext(0x20, ir.TypeI32)
	dead := ib.Add(x, ib.AllocI32(1))
	deader := ib.SMul(dead, ib.AllocI32(3))
	_ = deader
	ib.StoreContext(0x24, x)

	dce := NewDCE()
	dce.Run(ib)
	checkVerify(t, ib)
	first := dump(t, ib)

	dce.Run(ib)
	second := dump(t, ib)

	if first != second {
		t.Fatalf("dce not idempotent:\n%s\nvs\n%s", first, second)
	}
	// the whole dead chain goes in one run
	if got := countOp(ib, ir.OpAdd) + countOp(ib, ir.OpSMul); got != 0 {
		t.Fatalf("dead chain survived, %d instrs left", got)
	}
}

func TestDCEKeepsSideEffects(t *testing.T) {
	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())

	addrBits := uint32(0x8c001000)
	addr := ib.AllocI32(int32(addrBits))
	v := ib.LoadSlow(addr, ir.TypeI32) // mmio read, unused result
	_ = v
	ib.Call(ib.AllocPtr(0x1000))

	NewDCE().Run(ib)
	if got := countOp(ib, ir.OpLoadSlow); got != 1 {
		t.Fatal("load_slow has side effects and must survive dce")
	}
	if got := countOp(ib, ir.OpCall); got != 1 {
		t.Fatal("call must survive dce")
	}
}

func testRegisters(ints, floats int) []Register {
	var regs []Register
	intTypes := ir.TypeI8.Mask() | ir.TypeI16.Mask() | ir.TypeI32.Mask() | ir.TypeI64.Mask()
	floatTypes := ir.TypeF32.Mask() | ir.TypeF64.Mask() | ir.TypeV128.Mask()
	for i := 0; i < ints; i++ {
		regs = append(regs, Register{Name: "r" + string(rune('a'+i)), Types: intTypes})
	}
	for i := 0; i < floats; i++ {
		regs = append(regs, Register{Name: "x" + string(rune('a'+i)), Types: floatTypes})
	}
	return regs
}

func TestRAAssignsRegisters(t *testing.T) {
	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())

	a := ib.LoadContext(0x20, ir.TypeI32)
	b := ib.LoadContext(0x24, ir.TypeI32)
	sum := ib.Add(a, b)
	ib.StoreContext(0x28, sum)

	NewRA(testRegisters(6, 4)).Run(ib)
	checkVerify(t, ib)

	for _, v := range []*ir.Value{a, b, sum} {
		if v.Reg == ir.NoRegister {
			t.Fatalf("value has no register after ra")
		}
	}
	if a.Reg == b.Reg {
		t.Fatal("overlapping live ranges share a register")
	}
}

func TestRASpills(t *testing.T) {
	ib := ir.NewBuilder()
	ib.SetCurrentBlock(ib.AppendBlock())

	// more simultaneously-live values than allocatable registers: with 3
	// int registers, 2 are reserved for spill traffic leaving 1 usable
	var vals []*ir.Value
	for i := 0; i < 3; i++ {
		vals = append(vals, ib.LoadContext(i*4, ir.TypeI32))
	}
	acc := vals[0]
	for _, v := range vals[1:] {
		acc = ib.Add(acc, v)
	}
	ib.StoreContext(0x40, acc)

	NewRA(testRegisters(3, 2)).Run(ib)
	checkVerify(t, ib)

	if countOp(ib, ir.OpStoreLocal) == 0 || countOp(ib, ir.OpLoadLocal) == 0 {
		t.Fatal("register pressure should have forced spill traffic")
	}
	if ib.LocalsSize == 0 {
		t.Fatal("spills should have allocated frame slots")
	}

	// every remaining use must reference a value with a register
	for block := ib.Blocks(); block != nil; block = block.Next() {
		for instr := block.Head(); instr != nil; instr = instr.Next() {
			for n := 0; n < ir.MaxInstrArgs; n++ {
				arg := instr.Args[n]
				if arg == nil {
					break
				}
				if !arg.IsConstant() && arg.Reg == ir.NoRegister {
					t.Fatalf("arg %d of %v has no register", n, instr.Op)
				}
			}
		}
	}
}

func countOp(ib *ir.Builder, op ir.Op) int {
	return len(opInstrs(ib, op))
}

func opInstrs(ib *ir.Builder, op ir.Op) []*ir.Instr {
	var out []*ir.Instr
	for block := ib.Blocks(); block != nil; block = block.Next() {
		for instr := block.Head(); instr != nil; instr = instr.Next() {
			if instr.Op == op {
				out = append(out, instr)
			}
		}
	}
	return out
}
