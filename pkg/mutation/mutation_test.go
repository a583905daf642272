// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutation

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeMutator struct{ calls int }

func (f *fakeMutator) Mutate(_ context.Context, _, outputPath string, _ time.Duration) error {
	f.calls++
	return os.WriteFile(outputPath, []byte("mutated"), 0o644)
}

func TestGenerateNoneKindIsNoop(t *testing.T) {
	grew, err := Generate(context.Background(), None, &fakeMutator{}, t.TempDir(), t.TempDir(),
		rand.New(rand.NewSource(1)), time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if grew {
		t.Fatalf("None kind must never report growth")
	}
}

func TestGenerateByteLevelGrows(t *testing.T) {
	corpusDir := t.TempDir()
	outDir := t.TempDir()
	os.WriteFile(filepath.Join(corpusDir, "seed"), []byte("abc"), 0o644)

	m := &fakeMutator{}
	grew, err := Generate(context.Background(), ByteLevel, m, corpusDir, outDir,
		rand.New(rand.NewSource(1)), time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !grew {
		t.Fatalf("expected outDir to grow")
	}
	if m.calls == 0 {
		t.Fatalf("expected at least one mutator invocation")
	}
}
