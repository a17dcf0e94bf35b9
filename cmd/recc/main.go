// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command recc is the standalone IR optimizer: it reads dumped IR files,
// runs a configurable pass pipeline over each, assembles the result
// through the x86-64 backend and reports what the passes removed.
//
//	recc [options] <file.ir | directory>
//
// A directory is processed non-recursively, regular files only.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-dreamcast/dynarec/backend/x64"
	"github.com/go-dreamcast/dynarec/ir"
	"github.com/go-dreamcast/dynarec/jit"
	"github.com/go-dreamcast/dynarec/passes"
)

const defaultPasses = "cfa,lse,cprop,esimp,dce,ra"

var (
	passList = flag.String("pass", defaultPasses, "comma-separated list of passes to run")
	verify   = flag.Bool("verify", false, "check IR invariants after every pass")
	help     = flag.Bool("help", false, "show help")
)

type stats struct {
	instrsTotal   int
	instrsRemoved int
}

func main() {
	log.SetPrefix("recc: ")
	log.SetFlags(0)

	flag.Parse()

	if *help || flag.NArg() < 1 {
		flag.Usage()
		if *help {
			return
		}
		os.Exit(1)
	}

	backend, err := x64.New(x64.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer backend.Close()

	pipeline := buildPipeline(*passList, backend)

	var st stats
	path := flag.Arg(0)

	info, err := os.Stat(path)
	if err != nil {
		log.Fatal(err)
	}

	if info.IsDir() {
		processDir(os.Stdout, backend, pipeline, path, &st)
	} else {
		if err := processFile(os.Stdout, backend, pipeline, path, false, &st); err != nil {
			log.Fatal(err)
		}
	}

	fmt.Printf("%d ir instructions total, %d removed\n", st.instrsTotal, st.instrsRemoved)
}

// buildPipeline resolves pass names, warning about (and skipping) unknown
// ones.
func buildPipeline(names string, backend *x64.Backend) []passes.Pass {
	var pipeline []passes.Pass
	for _, name := range strings.Split(names, ",") {
		switch strings.TrimSpace(name) {
		case "cfa":
			pipeline = append(pipeline, passes.NewCFA())
		case "lse":
			pipeline = append(pipeline, passes.NewLSE())
		case "cprop":
			pipeline = append(pipeline, passes.NewCProp())
		case "esimp":
			pipeline = append(pipeline, passes.NewESimp())
		case "dce":
			pipeline = append(pipeline, passes.NewDCE())
		case "ra":
			pipeline = append(pipeline, passes.NewRA(backend.Registers()))
		case "":
		default:
			log.Printf("unknown pass %q", name)
		}
	}
	return pipeline
}

func processDir(w *os.File, backend *x64.Backend, pipeline []passes.Pass, dir string, st *stats) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("could not read directory: %v", err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		fmt.Fprintf(w, "processing %s\n", path)
		if err := processFile(w, backend, pipeline, path, true, st); err != nil {
			log.Fatal(err)
		}
	}
}

func processFile(w *os.File, backend *x64.Backend, pipeline []passes.Pass, path string, quiet bool, st *stats) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ib := ir.NewBuilder()
	if err := ib.Read(f); err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}

	before := ib.NumInstrs()

	for _, pass := range pipeline {
		pass.Run(ib)

		if *verify {
			if err := passes.Verify(ib); err != nil {
				return fmt.Errorf("%s: after %s: %v", path, pass.Name(), err)
			}
		}

		if !quiet {
			fmt.Fprintln(w, "===-----------------------------------------------------===")
			fmt.Fprintf(w, "IR after %s\n", pass.Name())
			fmt.Fprintln(w, "===-----------------------------------------------------===")
			if err := ib.Write(w); err != nil {
				return err
			}
			fmt.Fprintln(w)
		}
	}

	after := ib.NumInstrs()

	// assemble the optimized ir through the backend
	backend.Reset()
	var code jit.Code
	if err := backend.AssembleCode(&code, ib); err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}

	if !quiet {
		fmt.Fprintln(w, "===-----------------------------------------------------===")
		fmt.Fprintln(w, "X64 code")
		fmt.Fprintln(w, "===-----------------------------------------------------===")
		backend.DumpCode(code.HostAddr, code.HostSize)
		fmt.Fprintln(w)
	}

	st.instrsTotal += before
	st.instrsRemoved += before - after

	return nil
}
