// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package afl is the engine adapter for AFL-like engines
// (afl-fuzz/afl++): a single "-i seeds -o output" master instance whose
// output/default/{queue,crashes} directories are scanned after the run.
// The directory layout and flag shape follow afl-fuzz's own CLI rather
// than libFuzzer's.
package afl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/fuzzcore/pkg/boundedproc"
	"github.com/google/fuzzcore/pkg/engine"
	"github.com/google/fuzzcore/pkg/ferrors"
)

const (
	instanceName = "default"
	queueDir     = "queue"
	crashesDir   = "crashes"
	readmeFile   = "README.txt"
)

type Engine struct {
	binary string // path to the afl-fuzz binary, e.g. "afl-fuzz"
}

func New(binary string) *Engine {
	if binary == "" {
		binary = "afl-fuzz"
	}
	return &Engine{binary: binary}
}

func (e *Engine) Name() string { return "afl" }

func (e *Engine) Prepare(ctx context.Context, corpusDir, targetPath, buildDir string) (*engine.FuzzOptions, error) {
	seeds := filepath.Join(filepath.Dir(corpusDir), "afl-seeds")
	output := filepath.Join(filepath.Dir(corpusDir), "afl-output")
	for _, dir := range []string{seeds, output} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	entries, err := os.ReadDir(corpusDir)
	if err == nil {
		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(corpusDir, ent.Name()))
			if err != nil {
				continue
			}
			_ = os.WriteFile(filepath.Join(seeds, ent.Name()), data, 0o644)
		}
	}
	return &engine.FuzzOptions{CorpusDir: corpusDir, ExtraCorpusDirs: []string{seeds, output}}, nil
}

func (e *Engine) Fuzz(ctx context.Context, targetPath string, opts *engine.FuzzOptions, reproducersDir string,
	maxTime time.Duration) (*engine.Result, error) {
	if len(opts.ExtraCorpusDirs) != 2 {
		return nil, &ferrors.EngineError{Detail: "afl: Prepare must run before Fuzz"}
	}
	seeds, output := opts.ExtraCorpusDirs[0], opts.ExtraCorpusDirs[1]

	args := append([]string{
		"-i", seeds,
		"-o", output,
		fmt.Sprintf("-V%d", int(maxTime.Seconds())),
		"--",
		targetPath,
	}, opts.Arguments...)

	res := boundedproc.Run(ctx, boundedproc.Options{
		Path:        e.binary,
		Args:        args,
		Timeout:     maxTime,
		GracePeriod: 10 * time.Second,
	})
	if res.Err != nil {
		return nil, &ferrors.EngineError{Detail: res.Err.Error()}
	}

	queuePath := filepath.Join(output, instanceName, queueDir)
	crashPath := filepath.Join(output, instanceName, crashesDir)

	stats := engine.ParseStats(string(res.Output))
	if n, err := countEntries(queuePath); err == nil {
		stats["new_units_added"] = int64(n)
	}

	var crashes []engine.Crash
	entries, err := os.ReadDir(crashPath)
	if err == nil {
		for _, ent := range entries {
			if ent.IsDir() || ent.Name() == readmeFile {
				continue
			}
			crashes = append(crashes, engine.Crash{
				InputPath: filepath.Join(crashPath, ent.Name()),
				ReproArgs: opts.Arguments,
			})
		}
	}

	return &engine.Result{
		Logs:            string(res.Output),
		Command:         append([]string{e.binary}, args...),
		Crashes:         crashes,
		Stats:           stats,
		WallTimeSeconds: res.TimeElapsed.Seconds(),
	}, nil
}

func (e *Engine) Reproduce(ctx context.Context, targetPath, inputPath string, arguments []string,
	maxTime time.Duration) (*engine.ReproduceResult, error) {
	args := append(append([]string{}, arguments...), inputPath)
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

// MinimizeCorpus runs afl-cmin over inputDirs into outputDir.
func (e *Engine) MinimizeCorpus(ctx context.Context, targetPath string, arguments []string, outputDir string,
	inputDirs []string, maxTime time.Duration) (*engine.Result, error) {
	for _, dir := range inputDirs {
		args := append(append([]string{"-i", dir, "-o", outputDir, "--"}, targetPath), arguments...)
		res := boundedproc.Run(ctx, boundedproc.Options{
			Path:    "afl-cmin",
			Args:    args,
			Timeout: maxTime,
		})
		if res.Err != nil {
			return nil, &ferrors.EngineError{Detail: res.Err.Error()}
		}
		if res.ExitCode != 0 {
			return nil, &ferrors.MergeFailedError{ExitCode: res.ExitCode}
		}
	}
	return &engine.Result{}, nil
}

// MinimizeTestCase runs afl-tmin against inputPath.
func (e *Engine) MinimizeTestCase(ctx context.Context, targetPath string, arguments []string, inputPath,
	outputPath string, maxTime time.Duration) (bool, error) {
	args := append(append([]string{"-i", inputPath, "-o", outputPath, "--"}, targetPath), arguments...)
	res := boundedproc.Run(ctx, boundedproc.Options{
		Path:    "afl-tmin",
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
	return false, &ferrors.EngineError{Detail: "afl engine does not support cleanse"}
}

func countEntries(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ent := range entries {
		if !ent.IsDir() {
			n++
		}
	}
	return n, nil
}
