// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package engine defines the uniform contract over grey-box fuzzing
// engines (libFuzzer-like, AFL-like, a Go-native go-fuzz backend, and a
// "none" variant that runs a standalone target once), plus the name-keyed
// registry implementations add themselves to.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/fuzzcore/pkg/ferrors"
)

// FuzzOptions is the immutable bundle returned by Prepare.
type FuzzOptions struct {
	CorpusDir          string
	Arguments          []string
	StrategyTags       []string
	ExtraCorpusDirs    []string
	ExtraEnv           []string
	UseDataflowTracing bool
	IsMutationsRun     bool
}

// Crash is one crashing input surfaced by Fuzz.
type Crash struct {
	InputPath        string
	Stacktrace       string
	ReproArgs        []string
	CrashTimeSeconds float64
}

// Result is what one fuzz (or merge) run produces.
type Result struct {
	Logs           string
	Command        []string
	Crashes        []Crash
	Stats          map[string]int64
	WallTimeSeconds float64
}

// ReproduceResult is returned by Reproduce.
type ReproduceResult struct {
	ReturnCode   int
	TimeExecuted float64
	Output       string
}

// Engine is the uniform contract every grey-box fuzzing backend
// implements.
type Engine interface {
	Name() string
	Prepare(ctx context.Context, corpusDir, targetPath, buildDir string) (*FuzzOptions, error)
	Fuzz(ctx context.Context, targetPath string, opts *FuzzOptions, reproducersDir string,
		maxTime time.Duration) (*Result, error)
	Reproduce(ctx context.Context, targetPath, inputPath string, arguments []string,
		maxTime time.Duration) (*ReproduceResult, error)
	MinimizeCorpus(ctx context.Context, targetPath string, arguments []string, outputDir string,
		inputDirs []string, maxTime time.Duration) (*Result, error)
	MinimizeTestCase(ctx context.Context, targetPath string, arguments []string, inputPath,
		outputPath string, maxTime time.Duration) (bool, error)
	Cleanse(ctx context.Context, targetPath string, arguments []string, inputPath,
		outputPath string, maxTime time.Duration) (bool, error)
}

var (
	registryMu sync.Mutex
	registry   = map[string]Engine{}
)

// Register adds impl under its own Name(). Calling Register twice with
// engines that report the same name is a programming error and panics
// at init time rather than surfacing a runtime error path.
func Register(impl Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := impl.Name()
	if _, ok := registry[name]; ok {
		panic("engine: duplicate registration for " + name)
	}
	registry[name] = impl
}

// Get looks up a previously Registered engine by name.
func Get(name string) (Engine, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	impl, ok := registry[name]
	if !ok {
		return nil, &ferrors.UnknownEngineError{Name: name}
	}
	return impl, nil
}
