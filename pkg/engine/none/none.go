// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package none implements the "none" engine variant: a target that runs
// standalone, outside any coverage-guided loop. Fuzz/Reproduce simply
// execute the target binary once and report whatever it prints; the
// corpus-merge operations have no meaning here and fail explicitly.
package none

import (
	"context"
	"time"

	"github.com/google/fuzzcore/pkg/boundedproc"
	"github.com/google/fuzzcore/pkg/engine"
	"github.com/google/fuzzcore/pkg/ferrors"
)

// Engine implements engine.Engine for targets with no fuzzing loop of
// their own.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Name() string { return "none" }

func (e *Engine) Prepare(ctx context.Context, corpusDir, targetPath, buildDir string) (*engine.FuzzOptions, error) {
	return &engine.FuzzOptions{CorpusDir: corpusDir}, nil
}

func (e *Engine) Fuzz(ctx context.Context, targetPath string, opts *engine.FuzzOptions, reproducersDir string,
	maxTime time.Duration) (*engine.Result, error) {
	res := boundedproc.Run(ctx, boundedproc.Options{
		Path:    targetPath,
		Args:    opts.Arguments,
		Timeout: maxTime,
	})
	logStr := string(res.Output)
	out := &engine.Result{
		Logs:            logStr,
		Command:         append([]string{targetPath}, opts.Arguments...),
		Stats:           engine.ParseStats(logStr),
		WallTimeSeconds: res.TimeElapsed.Seconds(),
	}
	if res.ExitCode != 0 {
		out.Crashes = []engine.Crash{{Stacktrace: logStr, ReproArgs: opts.Arguments}}
	}
	return out, res.Err
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

func (e *Engine) MinimizeCorpus(ctx context.Context, targetPath string, arguments []string, outputDir string,
	inputDirs []string, maxTime time.Duration) (*engine.Result, error) {
	return nil, &ferrors.EngineError{Detail: "none engine has no corpus to minimize"}
}

func (e *Engine) MinimizeTestCase(ctx context.Context, targetPath string, arguments []string, inputPath,
	outputPath string, maxTime time.Duration) (bool, error) {
	return false, &ferrors.EngineError{Detail: "none engine does not support testcase minimization"}
}

func (e *Engine) Cleanse(ctx context.Context, targetPath string, arguments []string, inputPath,
	outputPath string, maxTime time.Duration) (bool, error) {
	return false, &ferrors.EngineError{Detail: "none engine does not support cleanse"}
}
