// Copyright 2026 The go-dreamcast Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"testing"

	"github.com/go-dreamcast/dynarec/backend/x64"
)

func TestBuildPipeline(t *testing.T) {
	backend, err := x64.New(x64.Options{CodeSize: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()

	pipeline := buildPipeline(defaultPasses, backend)
	want := []string{"cfa", "lse", "cprop", "esimp", "dce", "ra"}
	if len(pipeline) != len(want) {
		t.Fatalf("pipeline has %d passes, want %d", len(pipeline), len(want))
	}
	for i, p := range pipeline {
		if p.Name() != want[i] {
			t.Errorf("pipeline[%d] = %s, want %s", i, p.Name(), want[i])
		}
	}

	// unknown names are skipped with a warning
	pipeline = buildPipeline("cfa,bogus,dce", backend)
	if len(pipeline) != 2 {
		t.Fatalf("pipeline has %d passes, want 2", len(pipeline))
	}
}

func TestProcessFile(t *testing.T) {
	backend, err := x64.New(x64.Options{CodeSize: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()

	*verify = true
	defer func() { *verify = false }()

	pipeline := buildPipeline(defaultPasses, backend)

	null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer null.Close()

	var st stats
	if err := processFile(null, backend, pipeline, "testdata/add_fold.ir", true, &st); err != nil {
		t.Fatal(err)
	}

	if st.instrsTotal != 5 {
		t.Errorf("instrsTotal = %d, want 5", st.instrsTotal)
	}
	// the add of zero folds away (x + 0 => x) and is then dead; at least
	// one instruction must have been removed
	if st.instrsRemoved == 0 {
		t.Error("expected the pipeline to remove instructions")
	}
}

func TestProcessFileUnreadable(t *testing.T) {
	backend, err := x64.New(x64.Options{CodeSize: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()

	var st stats
	if err := processFile(os.Stdout, backend, buildPipeline("dce", backend), "testdata/missing.ir", true, &st); err == nil {
		t.Fatal("missing input should report an error")
	}
}
