// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sh4

import (
	"unsafe"
)

// Context is the SH-4 register file as seen by generated code. Compiled
// memory ops address it relative to the context base register, so the
// layout is fixed and the offsets below are part of the dispatch
// contract.
type Context struct {
	PC uint32
	PR uint32

	// SR is kept with the T and S bits exploded into their own words so
	// generated code can test them without masking.
	SR  uint32
	SRT uint32
	SRS uint32

	SPC  uint32
	SSR  uint32
	GBR  uint32
	VBR  uint32
	DBR  uint32
	MACH uint32
	MACL uint32

	R    [16]uint32
	RAlt [8]uint32

	FPSCR uint32
	FPUL  uint32
	FR    [16]uint32
	XF    [16]uint32

	RemainingCycles   int32
	RanInstrs         uint64
	PendingInterrupts uint64
}

// FPSCR mode bits consulted at translation entry.
const (
	fpscrPR = 1 << 19
	fpscrSZ = 1 << 20
)

var ctx Context

var (
	offPC                = int(unsafe.Offsetof(ctx.PC))
	offPR                = int(unsafe.Offsetof(ctx.PR))
	offSRT               = int(unsafe.Offsetof(ctx.SRT))
	offSPC               = int(unsafe.Offsetof(ctx.SPC))
	offR                 = int(unsafe.Offsetof(ctx.R))
	offRemainingCycles   = int(unsafe.Offsetof(ctx.RemainingCycles))
	offRanInstrs         = int(unsafe.Offsetof(ctx.RanInstrs))
	offPendingInterrupts = int(unsafe.Offsetof(ctx.PendingInterrupts))
)

func offReg(n int) int {
	return offR + n*4
}
