// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package passes

import (
	"fmt"

	"github.com/go-dreamcast/dynarec/ir"
)

// Verify checks the structural invariants every pass is required to
// preserve: use-list integrity, definitions preceding their users, and
// edge symmetry. It is not part of the default pipeline; tests and the
// recc driver run it between passes to localize corruption.
func Verify(ib *ir.Builder) error {
	pos := make(map[*ir.Instr]int)
	n := 0
	for block := ib.Blocks(); block != nil; block = block.Next() {
		for instr := block.Head(); instr != nil; instr = instr.Next() {
			if instr.Block != block {
				return fmt.Errorf("verify: instruction %v has wrong owning block", instr.Op)
			}
			pos[instr] = n
			n++
		}
	}

	for block := ib.Blocks(); block != nil; block = block.Next() {
		for instr := block.Head(); instr != nil; instr = instr.Next() {
			for i := 0; i < ir.MaxInstrArgs; i++ {
				arg := instr.Args[i]
				if arg == nil {
					continue
				}

				// every argument slot must be registered on the value
				found := false
				for _, u := range arg.Uses() {
					if u.Instr == instr && u.Slot == i {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("verify: arg %d of %v missing from use list", i, instr.Op)
				}

				// definitions precede users
				if arg.Def != nil {
					defPos, ok := pos[arg.Def]
					if !ok {
						return fmt.Errorf("verify: arg %d of %v defined by unlinked instruction", i, instr.Op)
					}
					if defPos >= pos[instr] {
						return fmt.Errorf("verify: arg %d of %v used before definition", i, instr.Op)
					}
				}
			}

			if instr.Result != nil {
				for _, u := range instr.Result.Uses() {
					if u.Instr.Args[u.Slot] != instr.Result {
						return fmt.Errorf("verify: stale use on result of %v", instr.Op)
					}
				}
			}
		}

		for _, edge := range block.Outgoing {
			if edge.Src != block {
				return fmt.Errorf("verify: outgoing edge with wrong source")
			}
			if !containsEdge(edge.Dst.Incoming, edge) {
				return fmt.Errorf("verify: edge missing from destination incoming list")
			}
		}
		for _, edge := range block.Incoming {
			if edge.Dst != block {
				return fmt.Errorf("verify: incoming edge with wrong destination")
			}
			if !containsEdge(edge.Src.Outgoing, edge) {
				return fmt.Errorf("verify: edge missing from source outgoing list")
			}
		}
	}
	return nil
}

func containsEdge(edges []*ir.BlockEdge, edge *ir.BlockEdge) bool {
	for _, e := range edges {
		if e == edge {
			return true
		}
	}
	return false
}
