// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
)

func dump(t *testing.T, ib *Builder) string {
	t.Helper()
	var buf bytes.Buffer
	if err := ib.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.String()
}

func diff(a, b string) string {
	dmp := diffmatchpatch.New()
	return dmp.DiffPrettyText(dmp.DiffMain(a, b, false))
}

// buildSample emits a module touching every argument rendering: defined
// values, integer and float constants, strings and block references.
func buildSample(ib *Builder) {
	entry := ib.AppendBlock()
	ib.SetBlockLabel(entry, "0x%08x", 0x8c000100)
	taken := ib.AppendBlock()
	ib.SetBlockLabel(taken, "0x%08x", 0x8c000108)

	ib.SetCurrentBlock(entry)
	ib.DebugInfo("mov #1, r0", 0x8c000100, 0xe001)
	cycles := ib.LoadContext(0x2c, TypeI32)
	cycles = ib.Sub(cycles, ib.AllocI32(2))
	ib.StoreContext(0x2c, cycles)
	fv := ib.FMul(ib.AllocF32(1.5), ib.AllocF32(2.0))
	ib.StoreContext(0x40, fv)
	t := ib.LoadContext(0x30, TypeI8)
	ib.BranchTrue(t, ib.AllocBlockRef(taken))

	ib.SetCurrentBlock(taken)
	pcBits := uint32(0x8c000108)
	pc := ib.AllocI32(int32(pcBits))
	ib.StoreContext(0x00, pc)
	ib.CallNoreturn(ib.AllocPtr(0x7f0000001000))
}

func TestRoundTrip(t *testing.T) {
	ib := NewBuilder()
	buildSample(ib)
	first := dump(t, ib)

	parsed := NewBuilder()
	if err := parsed.Read(strings.NewReader(first)); err != nil {
		t.Fatalf("Read: %v", err)
	}
	second := dump(t, parsed)

	if first != second {
		t.Fatalf("round-trip mismatch:\n%s", diff(first, second))
	}

	// a second round-trip is a fixed point
	again := NewBuilder()
	if err := again.Read(strings.NewReader(second)); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if third := dump(t, again); third != second {
		t.Fatalf("second round-trip mismatch:\n%s", diff(second, third))
	}
}

func TestWriteForm(t *testing.T) {
	ib := NewBuilder()
	block := ib.AppendBlock()
	ib.SetBlockLabel(block, "0x%08x", 0x8c000100)
	ib.SetCurrentBlock(block)

	v := ib.LoadContext(0x2c, TypeI32)
	v = ib.Add(v, ib.AllocI32(1))
	ib.StoreContext(0x2c, v)

	want := `:0x8c000100
  %0 := load_context i32 i32 0x2c
  %1 := add i32 %0, i32 0x1
  store_context i32 0x2c, %1
`
	if got := dump(t, ib); got != want {
		t.Fatalf("unexpected output:\n%s", diff(want, got))
	}
}

func TestReadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
	}{
		{"unknown op", ":b0\n  frobnicate %0\n"},
		{"undefined value", ":b0\n  store_context i32 0x0, %9\n"},
		{"unknown block", ":b0\n  branch :nowhere\n"},
		{"bad literal", ":b0\n  store_context i32 zzz, i32 0x0\n"},
		{"duplicate label", ":b0\n:b0\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ib := NewBuilder()
			if err := ib.Read(strings.NewReader(tc.in)); err == nil {
				t.Fatal("expected a parse error")
			}
		})
	}
}
