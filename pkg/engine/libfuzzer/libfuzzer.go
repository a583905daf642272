// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package libfuzzer is the engine adapter for libFuzzer-like engines:
// strategy-to-flag mapping, corpus-subset and dataflow-tracing
// decisions, crash-line scanning and the post-run merge-back.
package libfuzzer

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/fuzzcore/pkg/boundedproc"
	"github.com/google/fuzzcore/pkg/config"
	"github.com/google/fuzzcore/pkg/corpus"
	"github.com/google/fuzzcore/pkg/engine"
	"github.com/google/fuzzcore/pkg/ferrors"
	"github.com/google/fuzzcore/pkg/log"
	"github.com/google/fuzzcore/pkg/mutation"
	"github.com/google/fuzzcore/pkg/strategy"
)

const mergeDirectoryName = "merge-corpus"

// Engine implements engine.Engine for the libFuzzer wire contract.
type Engine struct {
	cfg     *config.Config
	rnd     *rand.Rand
	mutator mutation.Mutator
}

// New constructs the libFuzzer adapter. cfg supplies the declared
// strategy weights and environment-derived paths; mutator backs the
// mutations strategy.
func New(cfg *config.Config, mutator mutation.Mutator, rnd *rand.Rand) *Engine {
	return &Engine{cfg: cfg, mutator: mutator, rnd: rnd}
}

func (e *Engine) Name() string { return "libfuzzer" }

// Prepare assembles a FuzzOptions bundle: strategy pool, subset-or-full
// corpus selection, dictionary resolution, dataflow tracing probe, and
// mutator-plugin env wiring.
func (e *Engine) Prepare(ctx context.Context, corpusDir, targetPath, buildDir string) (*engine.FuzzOptions, error) {
	if !underDir(targetPath, buildDir) {
		return nil, &ferrors.InvalidTargetError{TargetPath: targetPath}
	}

	declared := declaredStrategies(e.cfg)
	pool := strategy.Sample(e.rnd, declared, true)

	var args []string
	args = engine.EnsureCommonArguments(args)
	args = append(args, engine.PrintFinalStatsFlag)

	if pool.Has(strategy.ValueProfile) {
		args = append(args, engine.ValueProfileFlag)
	}
	if pool.Has(strategy.RandomMaxLength) && !hasFlag(args, engine.MaxLenFlag) {
		maxLen := 1 + e.rnd.Intn(engine.MaxValueForMaxLength)
		args = append(args, engine.MaxLenFlag+strconv.Itoa(maxLen))
	}

	useDataflow := false
	if pool.Has(strategy.DataflowTracing) && e.cfg.DataflowBuildDir != "" {
		instrumented := filepath.Join(e.cfg.DataflowBuildDir, filepath.Base(targetPath))
		if fileExists(instrumented) {
			args = append(args, engine.CollectDataFlowFlag+instrumented)
			useDataflow = true
		}
	}
	// Dataflow tracing requires fork mode.
	forkMode := pool.Has(strategy.Fork) || useDataflow
	if forkMode {
		n := forkWorkerCount(e.cfg)
		args = append(args, fmt.Sprintf("%s%d", engine.ForkFlag, n))
	}

	args = resolveDict(args, targetPath, pool)

	if err := corpus.UnpackSeedIfNeeded(targetPath, corpusDir, 1<<30, false, corpus.MaxFilesForUnpack); err != nil {
		log.Logf(0, "libfuzzer: seed unpack failed: %v", err)
	}

	var extraDirs []string
	var strategyTags []string
	if pool.Has(strategy.CorpusSubset) && !useDataflow {
		count, _ := corpus.Count(corpusDir)
		subsetSize := corpus.PickSubsetSize(e.rnd)
		if count > subsetSize {
			subsetDir, err := corpus.NewCorpusDir(buildDir, "subset-"+strconv.Itoa(e.rnd.Int()))
			if err == nil {
				if err := corpus.CopyFromCorpus(e.rnd, subsetDir, corpusDir, subsetSize); err == nil {
					extraDirs = append(extraDirs, subsetDir)
					strategyTags = append(strategyTags, string(strategy.CorpusSubset))
				}
			}
		}
	}

	var extraEnv []string
	if pool.Has(strategy.MutatorPlugin) {
		if preload := mutatorPluginPath(targetPath); preload != "" {
			extraEnv = append(extraEnv, "LD_PRELOAD="+preload)
		}
	}

	isMutationsRun := pool.Has(strategy.ByteLevelGenerator) || pool.Has(strategy.ModelBasedGenerator)
	for _, t := range pool.Tags() {
		strategyTags = append(strategyTags, string(t))
	}

	return &engine.FuzzOptions{
		CorpusDir:          corpusDir,
		Arguments:          args,
		StrategyTags:       strategyTags,
		ExtraCorpusDirs:    extraDirs,
		ExtraEnv:           extraEnv,
		UseDataflowTracing: useDataflow,
		IsMutationsRun:     isMutationsRun,
	}, nil
}

// Fuzz launches the engine over the assembled corpus directories,
// parses its output, and performs the merge-back.
func (e *Engine) Fuzz(ctx context.Context, targetPath string, opts *engine.FuzzOptions, reproducersDir string,
	maxTime time.Duration) (*engine.Result, error) {
	newCorpusDir, err := corpus.NewCorpusDir(filepath.Dir(opts.CorpusDir), "new")
	if err != nil {
		return nil, err
	}

	corpusDirs := append([]string{newCorpusDir}, opts.ExtraCorpusDirs...)
	corpusDirs = append(corpusDirs, opts.CorpusDir)

	args := append([]string{}, opts.Arguments...)
	args = append(args, engine.ArtifactPrefixFlag+reproducersDir+string(os.PathSeparator))
	args = append(args, fmt.Sprintf("%s%d", engine.MaxTotalTimeFlag, int(maxTime.Seconds())))
	args = append(args, corpusDirs...)

	forkMode := hasFlag(opts.Arguments, engine.ForkFlag)
	grace := engine.GracePeriod(forkMode)

	res := boundedproc.Run(ctx, boundedproc.Options{
		Path:        targetPath,
		Args:        args,
		Env:         append(os.Environ(), opts.ExtraEnv...),
		Timeout:     maxTime,
		GracePeriod: grace,
	})
	if res.Err != nil {
		return nil, &ferrors.EngineError{Detail: res.Err.Error()}
	}

	logStr := string(res.Output)
	stats := engine.ParseStats(logStr)
	markers := map[string]int64{}
	engine.ClassifyCrashMarkers(logStr, markers)
	for k, v := range markers {
		stats[k] += v
	}
	if len(markers) == 0 {
		engine.ClassifyExitCode(res.ExitCode, stats)
	}
	logStr = engine.AddCustomCrashStateIfNeeded(logStr, e.cfg.FuzzerName, stats)

	var crashes []engine.Crash
	if path, ok := engine.FindCrashPath(logStr); ok {
		crashes = append(crashes, engine.Crash{
			InputPath: path,
			ReproArgs: engine.RemoveFuzzingArguments(opts.Arguments),
		})
	}

	mergeArgs := engine.RemoveFuzzingArguments(opts.Arguments)
	newCount, err := corpus.Count(newCorpusDir)
	if err != nil {
		return nil, err
	}
	if newCount == 0 {
		stats["new_units_added"] = 0
	} else if mergeErr := e.mergeNewUnits(ctx, targetPath, opts.CorpusDir, newCorpusDir, opts.ExtraCorpusDirs,
		mergeArgs, maxTime, stats); mergeErr != nil {
		log.Logf(0, "libfuzzer: merge-back failed: %v", mergeErr)
		stats["merge_error"] = 1
	}

	return &engine.Result{
		Logs:            logStr,
		Command:         append([]string{targetPath}, args...),
		Crashes:         crashes,
		Stats:           stats,
		WallTimeSeconds: res.TimeElapsed.Seconds(),
	}, nil
}

// mergeNewUnits folds newCorpusDir into the primary corpus via
// MinimizeCorpus, then moves survivors in and overlays merge stats.
func (e *Engine) mergeNewUnits(ctx context.Context, targetPath, corpusDir, newCorpusDir string,
	fuzzCorpusDirs []string, arguments []string, maxTime time.Duration, stats map[string]int64) error {
	mergeCorpus, err := corpus.NewCorpusDir(filepath.Dir(corpusDir), mergeDirectoryName)
	if err != nil {
		return err
	}

	inputDirs := append([]string{newCorpusDir}, fuzzCorpusDirs...)
	inputDirs = append(inputDirs, corpusDir)

	before, _ := corpus.Count(corpusDir)
	result, err := e.MinimizeCorpus(ctx, targetPath, arguments, mergeCorpus, inputDirs, maxTime)
	if err != nil {
		return err
	}

	if _, err := corpus.MoveMergeableUnits(mergeCorpus, corpusDir); err != nil {
		return err
	}
	after, _ := corpus.Count(corpusDir)
	stats["new_units_added"] = int64(after - before)

	for k, v := range engine.OverlayMergeStats(stats, result.Stats) {
		stats[k] = v
	}
	return nil
}

// Reproduce runs the target once on inputPath.
func (e *Engine) Reproduce(ctx context.Context, targetPath, inputPath string, arguments []string,
	maxTime time.Duration) (*engine.ReproduceResult, error) {
	args := append(append([]string{}, arguments...), inputPath)
	res := boundedproc.Run(ctx, boundedproc.Options{
		Path:    targetPath,
		Args:    args,
		Timeout: maxTime,
	})
	if res.Err != nil {
		return nil, &ferrors.EngineError{Detail: res.Err.Error()}
	}
	return &engine.ReproduceResult{
		ReturnCode:   res.ExitCode,
		TimeExecuted: res.TimeElapsed.Seconds(),
		Output:       string(res.Output),
	}, nil
}

// MinimizeCorpus runs libFuzzer's -merge=1 mode.
func (e *Engine) MinimizeCorpus(ctx context.Context, targetPath string, arguments []string, outputDir string,
	inputDirs []string, maxTime time.Duration) (*engine.Result, error) {
	args := append([]string{}, arguments...)
	args = append(args, engine.MergeFlag)
	args = append(args, outputDir)
	args = append(args, inputDirs...)

	res := boundedproc.Run(ctx, boundedproc.Options{
		Path:    targetPath,
		Args:    args,
		Timeout: maxTime,
	})
	if res.Err != nil {
		return nil, &ferrors.EngineError{Detail: res.Err.Error()}
	}
	if res.TimedOut {
		return nil, &ferrors.MergeTimedOutError{}
	}
	if res.ExitCode != 0 {
		return nil, &ferrors.MergeFailedError{ExitCode: res.ExitCode}
	}
	logStr := string(res.Output)
	return &engine.Result{
		Logs:            logStr,
		Command:         append([]string{targetPath}, args...),
		Stats:           engine.ParseStats(logStr),
		WallTimeSeconds: res.TimeElapsed.Seconds(),
	}, nil
}

// MinimizeTestCase runs -minimize_crash=1, halving the allotted time
// for the engine's own max_total_time budget so the wrapper's hard
// timeout always outlasts it.
func (e *Engine) MinimizeTestCase(ctx context.Context, targetPath string, arguments []string, inputPath,
	outputPath string, maxTime time.Duration) (bool, error) {
	return e.runArtifactOp(ctx, targetPath, arguments, inputPath, outputPath, maxTime, engine.MinimizeCrashFlag)
}

// Cleanse runs -cleanse_crash=1.
func (e *Engine) Cleanse(ctx context.Context, targetPath string, arguments []string, inputPath,
	outputPath string, maxTime time.Duration) (bool, error) {
	return e.runArtifactOp(ctx, targetPath, arguments, inputPath, outputPath, maxTime, engine.CleanseCrashFlag)
}

func (e *Engine) runArtifactOp(ctx context.Context, targetPath string, arguments []string, inputPath,
	outputPath string, maxTime time.Duration, opFlag string) (bool, error) {
	args := append([]string{}, arguments...)
	args = append(args, opFlag)
	args = append(args, engine.ExactArtifactFlag+outputPath)
	args = append(args, fmt.Sprintf("%s%d", engine.MaxTotalTimeFlag, int(maxTime.Seconds())/2))
	args = append(args, inputPath)

	res := boundedproc.Run(ctx, boundedproc.Options{
		Path:    targetPath,
		Args:    args,
		Timeout: maxTime,
	})
	if res.Err != nil {
		return false, &ferrors.EngineError{Detail: res.Err.Error()}
	}
	if res.ExitCode != 0 {
		return false, nil
	}
	return fileExists(outputPath), nil
}

func declaredStrategies(cfg *config.Config) []strategy.Declared {
	var out []strategy.Declared
	for tag, weight := range cfg.FuzzingStrategies {
		out = append(out, strategy.Declared{Tag: strategy.Tag(tag), Weight: weight})
	}
	return out
}

func forkWorkerCount(cfg *config.Config) int {
	threads := cfg.MaxFuzzThreads
	if threads <= 0 {
		threads = 1
	}
	return max(1, runtime.NumCPU()/threads)
}

// resolveDict ensures a valid -dict= flag. With the recommended-dictionary
// strategy active, the community-maintained dictionary shipped next to
// the build is first merged with the target-local one; ResolveDictionary's
// target-local fallback still applies when neither produced a flag.
func resolveDict(args []string, targetPath string, pool strategy.Pool) []string {
	if pool.Has(strategy.RecommendedDictionary) {
		if merged := mergeRecommendedDictionary(targetPath); merged != "" {
			args = append(args, engine.DictFlag+merged)
		}
	}
	return engine.ResolveDictionary(args, targetPath)
}

// mergeRecommendedDictionary concatenates the build-wide recommended.dict
// with the target's own .dict (when present) into a per-target merged
// file and returns its path, or "" when there is nothing to merge.
func mergeRecommendedDictionary(targetPath string) string {
	recommended := filepath.Join(filepath.Dir(targetPath), "recommended.dict")
	data, err := os.ReadFile(recommended)
	if err != nil {
		return ""
	}
	if local, err := os.ReadFile(targetPath + ".dict"); err == nil {
		data = append(append(data, '\n'), local...)
	}
	out := targetPath + ".merged.dict"
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return ""
	}
	return out
}

func underDir(path, dir string) bool {
	if dir == "" {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func hasFlag(args []string, prefix string) bool {
	for _, a := range args {
		if len(a) >= len(prefix) && a[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func mutatorPluginPath(targetPath string) string {
	candidate := targetPath + "_mutator.so"
	if fileExists(candidate) {
		return candidate
	}
	return ""
}
