// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/fuzzcore/pkg/config"
	"github.com/google/fuzzcore/pkg/engine"
)

// fakeEngine implements engine.Engine with scripted Prepare/Fuzz
// results so the state machine can be exercised without a real binary.
type fakeEngine struct {
	prepareErr error
	fuzzErr    error
	fuzzResult *engine.Result
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Prepare(ctx context.Context, corpusDir, targetPath, buildDir string) (*engine.FuzzOptions, error) {
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return &engine.FuzzOptions{CorpusDir: corpusDir}, nil
}

func (f *fakeEngine) Fuzz(ctx context.Context, targetPath string, opts *engine.FuzzOptions, reproducersDir string,
	maxTime time.Duration) (*engine.Result, error) {
	if f.fuzzErr != nil {
		return nil, f.fuzzErr
	}
	return f.fuzzResult, nil
}

func (f *fakeEngine) Reproduce(ctx context.Context, targetPath, inputPath string, arguments []string,
	maxTime time.Duration) (*engine.ReproduceResult, error) {
	return &engine.ReproduceResult{}, nil
}

func (f *fakeEngine) MinimizeCorpus(ctx context.Context, targetPath string, arguments []string, outputDir string,
	inputDirs []string, maxTime time.Duration) (*engine.Result, error) {
	return &engine.Result{}, nil
}

func (f *fakeEngine) MinimizeTestCase(ctx context.Context, targetPath string, arguments []string, inputPath,
	outputPath string, maxTime time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeEngine) Cleanse(ctx context.Context, targetPath string, arguments []string, inputPath,
	outputPath string, maxTime time.Duration) (bool, error) {
	return true, nil
}

func TestRunReachesMergedOnNewUnits(t *testing.T) {
	r := &Runner{
		Config:         &config.Config{},
		Engine:         &fakeEngine{fuzzResult: &engine.Result{Stats: map[string]int64{"new_units_added": 3}}},
		CorpusDir:      t.TempDir(),
		TargetPath:     "/bin/true",
		BuildDir:       t.TempDir(),
		ReproducersDir: t.TempDir(),
		MaxTime:        time.Second,
	}
	result := r.Run(context.Background())
	if result.State != Done {
		t.Fatalf("expected Done, got %v (%s)", result.State, result.FailReason)
	}
}

func TestRunReachesMergeSkippedWithNoNewUnits(t *testing.T) {
	r := &Runner{
		Config:         &config.Config{},
		Engine:         &fakeEngine{fuzzResult: &engine.Result{Stats: map[string]int64{}}},
		CorpusDir:      t.TempDir(),
		TargetPath:     "/bin/true",
		BuildDir:       t.TempDir(),
		ReproducersDir: t.TempDir(),
		MaxTime:        time.Second,
	}
	result := r.Run(context.Background())
	if result.State != Done {
		t.Fatalf("expected Done, got %v", result.State)
	}
}

func TestRunFailsOnPrepareError(t *testing.T) {
	r := &Runner{
		Config:     &config.Config{},
		Engine:     &fakeEngine{prepareErr: &fakeErr{}},
		CorpusDir:  t.TempDir(),
		TargetPath: "/bin/true",
		BuildDir:   t.TempDir(),
		MaxTime:    time.Second,
	}
	result := r.Run(context.Background())
	if result.State != Failed {
		t.Fatalf("expected Failed, got %v", result.State)
	}
}

type fakeErr struct{}

func (*fakeErr) Error() string { return "boom" }
