// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sh4 implements the SH-4 front end: a decoder and basic block
// analyzer, and the translator that drives IR emission over a compile
// unit tree.
package sh4

import (
	"fmt"
)

// OpType identifies a decoded SH-4 instruction.
type OpType int

const (
	OpInvalid OpType = iota

	// branches
	OpBF
	OpBFS
	OpBT
	OpBTS
	OpBRA
	OpBRAF
	OpBSR
	OpBSRF
	OpJMP
	OpJSR
	OpRTS
	OpRTE
	OpTRAPA

	// sr / fpscr writes
	OpLDCSR
	OpLDCMSR
	OpLDSFPSCR
	OpLDSMFPSCR
	OpFSCHG
	OpFRCHG

	// moves
	OpNOP
	OpMOV
	OpMOVI
	OpMOVBL
	OpMOVBS
	OpMOVWL
	OpMOVWS
	OpMOVLL
	OpMOVLS
	OpMOVLLPC
	OpMOVA

	// alu
	OpADD
	OpADDI
	OpSUB
	OpAND
	OpOR
	OpXOR
	OpNEG
	OpNOT
	OpEXTUB
	OpEXTUW
	OpSHLL
	OpSHLR
	OpSHAR
	OpCMPEQ
	OpCMPHS
	OpCMPGE
	OpCMPHI
	OpCMPGT
	OpTST
	OpSTSPR
	OpDT
)

// Instruction flags.
const (
	// FlagDelayed marks a branch with a delay slot.
	FlagDelayed = 1 << iota

	// FlagBranch terminates a basic block.
	FlagBranch

	// FlagSetSR and FlagSetFPSCR mark writes that invalidate downstream
	// translation assumptions (interrupt eligibility, fp mode).
	FlagSetSR
	FlagSetFPSCR
)

// Instr is one decoded instruction.
type Instr struct {
	Addr   uint32
	Opcode uint16

	Op     OpType
	Flags  int
	Cycles int

	// operands, valid per op
	Rm   int
	Rn   int
	Disp uint16
	Imm  uint8
}

type opdesc struct {
	op     OpType
	mask   uint16
	sig    uint16
	flags  int
	cycles int
	format string
}

// The table is ordered most-specific mask first; the first matching entry
// decodes the opcode.
var opdescs = []opdesc{
	{OpNOP, 0xffff, 0x0009, 0, 1, "nop"},
	{OpRTS, 0xffff, 0x000b, FlagBranch | FlagDelayed, 2, "rts"},
	{OpRTE, 0xffff, 0x002b, FlagBranch | FlagDelayed | FlagSetSR, 5, "rte"},
	{OpFSCHG, 0xffff, 0xf3fd, FlagSetFPSCR, 1, "fschg"},
	{OpFRCHG, 0xffff, 0xfbfd, FlagSetFPSCR, 1, "frchg"},

	{OpBRAF, 0xf0ff, 0x0023, FlagBranch | FlagDelayed, 2, "braf rn"},
	{OpBSRF, 0xf0ff, 0x0003, FlagBranch | FlagDelayed, 2, "bsrf rn"},
	{OpJMP, 0xf0ff, 0x402b, FlagBranch | FlagDelayed, 2, "jmp @rn"},
	{OpJSR, 0xf0ff, 0x400b, FlagBranch | FlagDelayed, 2, "jsr @rn"},
	{OpLDCSR, 0xf0ff, 0x400e, FlagSetSR, 4, "ldc rn, sr"},
	{OpLDCMSR, 0xf0ff, 0x4007, FlagSetSR, 4, "ldc.l @rn+, sr"},
	{OpLDSFPSCR, 0xf0ff, 0x406a, FlagSetFPSCR, 1, "lds rn, fpscr"},
	{OpLDSMFPSCR, 0xf0ff, 0x4066, FlagSetFPSCR, 1, "lds.l @rn+, fpscr"},
	{OpSHLL, 0xf0ff, 0x4000, 0, 1, "shll rn"},
	{OpSHLR, 0xf0ff, 0x4001, 0, 1, "shlr rn"},
	{OpSHAR, 0xf0ff, 0x4021, 0, 1, "shar rn"},
	{OpSTSPR, 0xf0ff, 0x002a, 0, 2, "sts pr, rn"},
	{OpDT, 0xf0ff, 0x4010, 0, 1, "dt rn"},

	{OpBF, 0xff00, 0x8b00, FlagBranch, 1, "bf disp"},
	{OpBFS, 0xff00, 0x8f00, FlagBranch | FlagDelayed, 1, "bf.s disp"},
	{OpBT, 0xff00, 0x8900, FlagBranch, 1, "bt disp"},
	{OpBTS, 0xff00, 0x8d00, FlagBranch | FlagDelayed, 1, "bt.s disp"},
	{OpTRAPA, 0xff00, 0xc300, FlagBranch, 7, "trapa #imm"},
	{OpMOVA, 0xff00, 0xc700, 0, 1, "mova @(disp, pc), r0"},

	{OpMOV, 0xf00f, 0x6003, 0, 1, "mov rm, rn"},
	{OpMOVBL, 0xf00f, 0x6000, 0, 1, "mov.b @rm, rn"},
	{OpMOVBS, 0xf00f, 0x2000, 0, 1, "mov.b rm, @rn"},
	{OpMOVWL, 0xf00f, 0x6001, 0, 1, "mov.w @rm, rn"},
	{OpMOVWS, 0xf00f, 0x2001, 0, 1, "mov.w rm, @rn"},
	{OpMOVLL, 0xf00f, 0x6002, 0, 1, "mov.l @rm, rn"},
	{OpMOVLS, 0xf00f, 0x2002, 0, 1, "mov.l rm, @rn"},
	{OpADD, 0xf00f, 0x300c, 0, 1, "add rm, rn"},
	{OpSUB, 0xf00f, 0x3008, 0, 1, "sub rm, rn"},
	{OpAND, 0xf00f, 0x2009, 0, 1, "and rm, rn"},
	{OpOR, 0xf00f, 0x200b, 0, 1, "or rm, rn"},
	{OpXOR, 0xf00f, 0x200a, 0, 1, "xor rm, rn"},
	{OpNEG, 0xf00f, 0x600b, 0, 1, "neg rm, rn"},
	{OpNOT, 0xf00f, 0x6007, 0, 1, "not rm, rn"},
	{OpEXTUB, 0xf00f, 0x600c, 0, 1, "extu.b rm, rn"},
	{OpEXTUW, 0xf00f, 0x600d, 0, 1, "extu.w rm, rn"},
	{OpCMPEQ, 0xf00f, 0x3000, 0, 1, "cmp/eq rm, rn"},
	{OpCMPHS, 0xf00f, 0x3002, 0, 1, "cmp/hs rm, rn"},
	{OpCMPGE, 0xf00f, 0x3003, 0, 1, "cmp/ge rm, rn"},
	{OpCMPHI, 0xf00f, 0x3006, 0, 1, "cmp/hi rm, rn"},
	{OpCMPGT, 0xf00f, 0x3007, 0, 1, "cmp/gt rm, rn"},
	{OpTST, 0xf00f, 0x2008, 0, 1, "tst rm, rn"},

	{OpBRA, 0xf000, 0xa000, FlagBranch | FlagDelayed, 2, "bra disp"},
	{OpBSR, 0xf000, 0xb000, FlagBranch | FlagDelayed, 2, "bsr disp"},
	{OpMOVI, 0xf000, 0xe000, 0, 1, "mov #imm, rn"},
	{OpMOVLLPC, 0xf000, 0xd000, 0, 1, "mov.l @(disp, pc), rn"},
	{OpADDI, 0xf000, 0x7000, 0, 1, "add #imm, rn"},
}

// Disasm decodes i.Opcode, filling in the op, operands, flags and cycle
// count. It reports false for an undecodable opcode.
func Disasm(i *Instr) bool {
	for d := range opdescs {
		desc := &opdescs[d]
		if i.Opcode&desc.mask != desc.sig {
			continue
		}
		i.Op = desc.op
		i.Flags = desc.flags
		i.Cycles = desc.cycles
		i.Rn = int(i.Opcode>>8) & 0xf
		i.Rm = int(i.Opcode>>4) & 0xf
		i.Disp = i.Opcode & 0xfff
		i.Imm = uint8(i.Opcode)
		return true
	}
	return false
}

// Format renders the instruction for disassembly dumps.
func Format(i *Instr) string {
	for d := range opdescs {
		desc := &opdescs[d]
		if i.Opcode&desc.mask == desc.sig {
			return fmt.Sprintf("0x%08x  %04x  %s", i.Addr, i.Opcode, desc.format)
		}
	}
	return fmt.Sprintf("0x%08x  %04x  .word", i.Addr, i.Opcode)
}
