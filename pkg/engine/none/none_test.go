// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package none

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fakeTarget(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFuzzReportsExitCodeAsCrash(t *testing.T) {
	target := fakeTarget(t, "echo boom; exit 1")
	eng := New()
	opts, err := eng.Prepare(context.Background(), t.TempDir(), target, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	result, err := eng.Fuzz(context.Background(), target, opts, t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Crashes) != 1 {
		t.Fatalf("expected one crash from nonzero exit, got %d", len(result.Crashes))
	}
}

func TestFuzzCleanExitNoCrash(t *testing.T) {
	target := fakeTarget(t, "echo ok; exit 0")
	eng := New()
	opts, _ := eng.Prepare(context.Background(), t.TempDir(), target, t.TempDir())
	result, err := eng.Fuzz(context.Background(), target, opts, t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Crashes) != 0 {
		t.Fatalf("expected no crashes, got %d", len(result.Crashes))
	}
}

func TestMinimizeCorpusUnsupported(t *testing.T) {
	eng := New()
	if _, err := eng.MinimizeCorpus(context.Background(), "x", nil, "", nil, time.Second); err == nil {
		t.Fatalf("expected error")
	}
}
