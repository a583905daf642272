// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package libfuzzer

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/fuzzcore/pkg/config"
	"github.com/google/fuzzcore/pkg/engine"
)

// fakeTarget writes a tiny shell script that stands in for the engine
// binary: it runs the given shell snippet (stat lines, crash lines, exit
// status), letting us
// exercise Fuzz()'s parsing/merge path without a real libFuzzer build.
func fakeTarget(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "target")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFuzzCleanSessionMergesNewUnits(t *testing.T) {
	root := t.TempDir()
	corpusDir := filepath.Join(root, "corpus")
	os.MkdirAll(corpusDir, 0o755)
	reproDir := filepath.Join(root, "repro")
	os.MkdirAll(reproDir, 0o755)

	target := fakeTarget(t, `
for a in "$@"; do
  case "$a" in
    */new) mkdir -p "$a"; for i in 1 2 3 4 5; do touch "$a/u$i"; done ;;
  esac
done
echo 'stat::new_units_added: 5'
exit 0
`)

	cfg := &config.Config{}
	eng := New(cfg, nil, rand.New(rand.NewSource(1)))
	opts := &engine.FuzzOptions{CorpusDir: corpusDir}

	result, err := eng.Fuzz(context.Background(), target, opts, reproDir, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Crashes) != 0 {
		t.Fatalf("expected zero crashes, got %d", len(result.Crashes))
	}
	if result.Stats["new_units_added"] != 5 {
		t.Fatalf("expected new_units_added=5 after merge, got %v", result.Stats)
	}
}

func TestFuzzFindsCrashPath(t *testing.T) {
	root := t.TempDir()
	corpusDir := filepath.Join(root, "corpus")
	os.MkdirAll(corpusDir, 0o755)
	reproDir := filepath.Join(root, "repro")
	os.MkdirAll(reproDir, 0o755)

	target := fakeTarget(t, `
echo 'Test unit written to /repro/crash-abc'
exit 1
`)

	cfg := &config.Config{}
	eng := New(cfg, nil, rand.New(rand.NewSource(1)))
	opts := &engine.FuzzOptions{CorpusDir: corpusDir, Arguments: []string{"-dict=/nope"}}

	result, err := eng.Fuzz(context.Background(), target, opts, reproDir, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Crashes) != 1 || result.Crashes[0].InputPath != "/repro/crash-abc" {
		t.Fatalf("expected one crash at /repro/crash-abc, got %+v", result.Crashes)
	}
	for _, a := range result.Crashes[0].ReproArgs {
		if a == "-dict=/nope" {
			t.Fatalf("reproArgs should be sanitized, found %q", a)
		}
	}
}

func TestPrepareRejectsTargetOutsideBuildDir(t *testing.T) {
	cfg := &config.Config{}
	eng := New(cfg, nil, rand.New(rand.NewSource(1)))
	_, err := eng.Prepare(context.Background(), t.TempDir(), "/outside/target", t.TempDir())
	if err == nil {
		t.Fatalf("expected InvalidTargetError")
	}
}
