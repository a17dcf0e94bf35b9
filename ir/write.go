// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ir

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
)

// The textual form is line oriented. A block header is a single
// `:label` line; each instruction follows on its own line as
//
//   %0 := load_context i32 i32 0x2c
//   store_context i32 0x2c, %1
//   branch :0x8c000108
//
// Constants render as `type literal` pairs, block references as `:label`,
// defined values as `%N` in definition order. Write is deterministic and
// Read accepts exactly what Write emits, so modules round-trip.

const tab = `  `

type writer struct {
	bw *bufio.Writer

	names  map[*Value]int
	labels map[*Block]string
	err    error
}

// Write emits the module in its textual form.
func (ib *Builder) Write(w io.Writer) error {
	wr := &writer{
		bw:     bufio.NewWriter(w),
		names:  make(map[*Value]int),
		labels: make(map[*Block]string),
	}

	// name every block and result up front so forward block references
	// resolve
	n := 0
	blockIdx := 0
	for block := ib.head; block != nil; block = block.next {
		label := block.Label
		if label == "" {
			label = fmt.Sprintf("b%d", blockIdx)
		}
		wr.labels[block] = label
		blockIdx++

		for instr := block.head; instr != nil; instr = instr.next {
			if instr.Result != nil {
				wr.names[instr.Result] = n
				n++
			}
		}
	}

	for block := ib.head; block != nil; block = block.next {
		wr.printf(":%s\n", wr.labels[block])
		for instr := block.head; instr != nil; instr = instr.next {
			wr.writeInstr(instr)
		}
	}

	if err := wr.bw.Flush(); err != nil {
		return err
	}
	return wr.err
}

func (w *writer) printf(format string, args ...interface{}) {
	if w.err != nil {
		return
	}
	if _, err := fmt.Fprintf(w.bw, format, args...); err != nil {
		w.err = err
	}
}

func (w *writer) writeInstr(instr *Instr) {
	w.printf(tab)
	if instr.Result != nil {
		w.printf("%%%d := %s %s", w.names[instr.Result], instr.Op, instr.Result.Type)
	} else {
		w.printf("%s", instr.Op)
	}

	for n := 0; n < MaxInstrArgs; n++ {
		arg := instr.Args[n]
		if arg == nil {
			break
		}
		if n == 0 {
			w.printf(" ")
		} else {
			w.printf(", ")
		}
		w.writeValue(arg)
	}
	w.printf("\n")
}

func (w *writer) writeValue(v *Value) {
	if !v.IsConstant() {
		w.printf("%%%d", w.names[v])
		return
	}

	switch v.Type {
	case TypeF32:
		w.printf("f32 0x%08x", math.Float32bits(v.F32))
	case TypeF64:
		w.printf("f64 0x%016x", math.Float64bits(v.F64))
	case TypeString:
		w.printf("str %s", strconv.Quote(v.Str))
	case TypeBlock:
		w.printf(":%s", w.labels[v.Blk])
	default:
		w.printf("%s 0x%x", v.Type, v.ZextConstant())
	}
}
