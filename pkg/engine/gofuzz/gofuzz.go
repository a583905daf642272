// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package gofuzz is the engine adapter for targets built with
// github.com/dvyukov/go-fuzz: a go-fuzz-build binary that reads its
// corpus from a "corpus" subdirectory and appends new interesting inputs
// there, dropping crashers under "crashers". The wire shape (corpus/
// and crashers/ directories, -procs/-timeout flags) follows the
// upstream go-fuzz CLI rather than libFuzzer's flag set.
package gofuzz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	base "github.com/dvyukov/go-fuzz/go-fuzz-defs"

	"github.com/google/fuzzcore/pkg/boundedproc"
	"github.com/google/fuzzcore/pkg/corpus"
	"github.com/google/fuzzcore/pkg/engine"
	"github.com/google/fuzzcore/pkg/ferrors"
)

const (
	corpusSubdir    = "corpus"
	crashersSubdir  = "crashers"
	suppressionsExt = ".output"
)

type Engine struct {
	maxProcs int
}

func New(maxProcs int) *Engine {
	if maxProcs <= 0 {
		maxProcs = 1
	}
	return &Engine{maxProcs: maxProcs}
}

func (e *Engine) Name() string { return "gofuzz" }

// Prepare lays out the corpus/ directory go-fuzz expects beneath
// opts.CorpusDir itself, rather than synthesizing flags: go-fuzz reads
// its workdir layout directly.
func (e *Engine) Prepare(ctx context.Context, corpusDir, targetPath, buildDir string) (*engine.FuzzOptions, error) {
	if err := os.MkdirAll(filepath.Join(corpusDir, corpusSubdir), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(corpusDir, crashersSubdir), 0o755); err != nil {
		return nil, err
	}
	// Seeds past go-fuzz's own input cap would be ignored by the engine
	// anyway, so don't unpack them.
	if err := corpus.UnpackSeedIfNeeded(targetPath, filepath.Join(corpusDir, corpusSubdir), base.MaxInputSize, false,
		corpus.MaxFilesForUnpack); err != nil {
		return nil, err
	}
	return &engine.FuzzOptions{CorpusDir: corpusDir}, nil
}

// Fuzz runs the go-fuzz-build binary (targetPath) against the workdir
// (opts.CorpusDir), then scans crashers/ for anything new.
func (e *Engine) Fuzz(ctx context.Context, targetPath string, opts *engine.FuzzOptions, reproducersDir string,
	maxTime time.Duration) (*engine.Result, error) {
	args := []string{
		"-bin=" + targetPath,
		"-workdir=" + opts.CorpusDir,
		fmt.Sprintf("-procs=%d", e.maxProcs),
		fmt.Sprintf("-timeout=%d", int(maxTime.Seconds())),
	}

	before, _ := crasherNames(opts.CorpusDir)
	beforeCorpus, _ := corpus.Count(filepath.Join(opts.CorpusDir, corpusSubdir))

	res := boundedproc.Run(ctx, boundedproc.Options{
		Path:    targetPath,
		Args:    args,
		Timeout: maxTime,
	})
	if res.Err != nil {
		return nil, &ferrors.EngineError{Detail: res.Err.Error()}
	}

	afterCorpus, _ := corpus.Count(filepath.Join(opts.CorpusDir, corpusSubdir))
	after, _ := crasherNames(opts.CorpusDir)

	stats := engine.ParseStats(string(res.Output))
	stats["new_units_added"] = int64(afterCorpus - beforeCorpus)

	var crashes []engine.Crash
	for name := range after {
		if before[name] {
			continue
		}
		path := filepath.Join(opts.CorpusDir, crashersSubdir, name)
		data, _ := os.ReadFile(path + suppressionsExt)
		dst := filepath.Join(reproducersDir, name)
		if err := copyFile(path, dst); err != nil {
			continue
		}
		crashes = append(crashes, engine.Crash{
			InputPath:  dst,
			Stacktrace: string(data),
			ReproArgs:  []string{"-bin=" + targetPath},
		})
	}

	return &engine.Result{
		Logs:            string(res.Output),
		Command:         append([]string{targetPath}, args...),
		Crashes:         crashes,
		Stats:           stats,
		WallTimeSeconds: res.TimeElapsed.Seconds(),
	}, nil
}

// Reproduce replays a single crasher file through the harness binary in
// its "-f" single-input mode.
func (e *Engine) Reproduce(ctx context.Context, targetPath, inputPath string, arguments []string,
	maxTime time.Duration) (*engine.ReproduceResult, error) {
	args := append([]string{"-f=" + inputPath}, arguments...)
	res := boundedproc.Run(ctx, boundedproc.Options{
		Path:    targetPath,
		Args:    args,
		Timeout: maxTime,
	})
	return &engine.ReproduceResult{
		ReturnCode:   res.ExitCode,
		TimeExecuted: res.TimeElapsed.Seconds(),
		Output:       string(res.Output),
	}, res.Err
}

// MinimizeCorpus is a no-op: go-fuzz performs continuous, in-place
// corpus minimization as part of its fuzzing loop rather than exposing
// a separate merge mode.
func (e *Engine) MinimizeCorpus(ctx context.Context, targetPath string, arguments []string, outputDir string,
	inputDirs []string, maxTime time.Duration) (*engine.Result, error) {
	return &engine.Result{}, nil
}

// MinimizeTestCase replays the harness with "-minimize" against inputPath.
func (e *Engine) MinimizeTestCase(ctx context.Context, targetPath string, arguments []string, inputPath,
	outputPath string, maxTime time.Duration) (bool, error) {
	args := append(append([]string{}, arguments...), "-minimize="+inputPath, "-o="+outputPath)
	res := boundedproc.Run(ctx, boundedproc.Options{
		Path:    targetPath,
		Args:    args,
		Timeout: maxTime,
	})
	if res.Err != nil {
		return false, &ferrors.EngineError{Detail: res.Err.Error()}
	}
	_, err := os.Stat(outputPath)
	return err == nil, nil
}

func (e *Engine) Cleanse(ctx context.Context, targetPath string, arguments []string, inputPath,
	outputPath string, maxTime time.Duration) (bool, error) {
	return false, &ferrors.EngineError{Detail: "gofuzz engine does not support cleanse"}
}

func crasherNames(corpusDir string) (map[string]bool, error) {
	entries, err := os.ReadDir(filepath.Join(corpusDir, crashersSubdir))
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, ent := range entries {
		name := ent.Name()
		if filepath.Ext(name) == suppressionsExt {
			continue
		}
		out[name] = true
	}
	return out, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
