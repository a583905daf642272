// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMoveMergeableUnitsSkipsKnownHashes(t *testing.T) {
	root := t.TempDir()
	corpusDir := filepath.Join(root, "corpus")
	mergeDir := filepath.Join(root, "merge")
	os.MkdirAll(corpusDir, 0o755)
	os.MkdirAll(mergeDir, 0o755)

	hash := "0123456789abcdef0123456789abcdef01234567" // 40 hex chars
	writeFile(t, corpusDir, hash, []byte("old"))
	writeFile(t, mergeDir, hash, []byte("old"))
	writeFile(t, mergeDir, "0000000000000001", []byte("new"))

	moved, err := MoveMergeableUnits(mergeDir, corpusDir)
	if err != nil {
		t.Fatal(err)
	}
	if moved != 1 {
		t.Fatalf("expected exactly 1 new file moved, got %d", moved)
	}
	if _, err := os.Stat(filepath.Join(corpusDir, "0000000000000001")); err != nil {
		t.Fatalf("expected new file to be moved in: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mergeDir, hash)); err != nil {
		t.Fatalf("known hash file should have been left untouched in merge dir: %v", err)
	}
}

func TestMergeIdempotence(t *testing.T) {
	// Property 1: re-merging the same union of files is a no-op on file count.
	root := t.TempDir()
	corpusDir := filepath.Join(root, "corpus")
	mergeDir := filepath.Join(root, "merge")
	os.MkdirAll(corpusDir, 0o755)
	os.MkdirAll(mergeDir, 0o755)

	writeFile(t, mergeDir, "aaaa", []byte("x"))
	writeFile(t, mergeDir, "bbbb", []byte("y"))

	moved1, err := MoveMergeableUnits(mergeDir, corpusDir)
	if err != nil || moved1 != 2 {
		t.Fatalf("first merge: moved=%d err=%v", moved1, err)
	}

	before, _ := countFiles(corpusDir)
	// Second merge has nothing new to offer; mergeDir is empty now.
	moved2, err := MoveMergeableUnits(mergeDir, corpusDir)
	if err != nil {
		t.Fatal(err)
	}
	after, _ := countFiles(corpusDir)
	if moved2 != 0 || before != after {
		t.Fatalf("re-merge should be a no-op: moved=%d before=%d after=%d", moved2, before, after)
	}
}

func TestCopyFromCorpusSamplesDistinctFiles(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	os.MkdirAll(src, 0o755)
	os.MkdirAll(dst, 0o755)

	for i := 0; i < 20; i++ {
		writeFile(t, src, sequentialName(i), []byte{byte(i)})
	}

	rnd := rand.New(rand.NewSource(42))
	if err := CopyFromCorpus(rnd, dst, src, 5); err != nil {
		t.Fatal(err)
	}
	n, err := countFiles(dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("expected 5 files copied, got %d", n)
	}
}

func TestIsSHA1Hash(t *testing.T) {
	cases := map[string]bool{
		"0123456789abcdef0123456789abcdef01234567": true,
		"short":           false,
		"0000000000000001": false,
	}
	for name, want := range cases {
		if got := isSHA1Hash(name); got != want {
			t.Errorf("isSHA1Hash(%q) = %v, want %v", name, got, want)
		}
	}
}
