// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutation populates an output directory with extra inputs
// produced by an external mutator, either byte-level (radamsa-style)
// or model-based, as bounded subprocess/backend calls.
package mutation

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/fuzzcore/pkg/boundedproc"
	"github.com/google/fuzzcore/pkg/log"
)

// Kind is the generator selected for this session (mutually exclusive
// with its sibling, per strategy.Sample).
type Kind int

const (
	None Kind = iota
	ByteLevel
	ModelBased
)

const (
	// Mutations is the iteration cap for the byte-level generator.
	Mutations = 2000
	// PerIterationTimeout bounds a single mutator invocation.
	PerIterationTimeout = 3 * time.Second
	// InputSizeLimit excludes oversized seeds from being mutated.
	InputSizeLimit = 2 * 1024 * 1024
)

// Mutator runs one mutation of a single input file, producing outputPath.
// The byte-level path shells out to an external mutator binary; the
// model-based path calls out to a generative backend. Both are
// implementations of this interface so Generate doesn't care which.
type Mutator interface {
	Mutate(ctx context.Context, inputPath, outputPath string, timeout time.Duration) error
}

// BinaryMutator invokes an external mutator binary once per call, in
// the radamsa CLI shape: -o <output> <input>.
type BinaryMutator struct {
	Path string
}

func (m *BinaryMutator) Mutate(ctx context.Context, inputPath, outputPath string, timeout time.Duration) error {
	res := boundedproc.Run(ctx, boundedproc.Options{
		Path:    m.Path,
		Args:    []string{"-o", outputPath, inputPath},
		Timeout: timeout,
	})
	if res.Err != nil {
		return res.Err
	}
	return nil
}

// Generate populates outDir with mutations of files found in corpusDir
// and reports whether outDir's file count strictly increased. deadline
// bounds overall wall-clock spent mutating, independent of the
// per-iteration timeout.
func Generate(ctx context.Context, kind Kind, mutator Mutator, corpusDir, outDir string,
	rnd *rand.Rand, deadline time.Time) (bool, error) {
	if kind == None || mutator == nil {
		return false, nil
	}

	before, err := countFiles(outDir)
	if err != nil {
		return false, err
	}

	switch kind {
	case ByteLevel:
		if err := generateByteLevel(ctx, mutator, corpusDir, outDir, rnd, deadline); err != nil {
			return false, err
		}
	case ModelBased:
		if err := mutator.Mutate(ctx, corpusDir, outDir, time.Until(deadline)); err != nil {
			return false, err
		}
	}

	after, err := countFiles(outDir)
	if err != nil {
		return false, err
	}
	return after > before, nil
}

func generateByteLevel(ctx context.Context, mutator Mutator, corpusDir, outDir string,
	rnd *rand.Rand, deadline time.Time) error {
	files, err := eligibleInputs(corpusDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Logf(1, "mutation: no eligible inputs under %s", corpusDir)
		return nil
	}

	for i := 0; i < Mutations; i++ {
		if time.Now().After(deadline) {
			break
		}
		src := files[rnd.Intn(len(files))]
		dst := filepath.Join(outDir, sequentialName(i))
		if err := mutator.Mutate(ctx, src, dst, PerIterationTimeout); err != nil {
			log.Logf(1, "mutation: iteration %d failed: %v", i, err)
		}
	}
	return nil
}

func eligibleInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > InputSizeLimit {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

func countFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n, nil
}

func sequentialName(idx int) string {
	return "m" + strconv.Itoa(idx)
}
