// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config reads the worker-wide environment exactly once at process
// start and turns it into an explicit value threaded through session and
// bisector constructors. Nothing outside this package calls os.Getenv.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config mirrors the environment variables read by the worker.
type Config struct {
	BuildDir         string
	DataflowBuildDir string
	FuzzCorpusDir    string
	FuzzTestTimeout  int // seconds

	MaxFuzzThreads int

	// FuzzingStrategies maps a strategy tag to its selection weight in [0,1].
	FuzzingStrategies map[string]float64

	HardTimeoutOverride       int
	MergeTimeoutOverride      int
	MutationsTimeoutOverride  int
	DictionaryTimeoutOverride int

	JobName    string
	FuzzerName string

	// ClearOnRegression defaults to false and FromEnv never sets it. No
	// code reads it: a "still crashes at head" result leaves a previously
	// set fixedRange in place whatever its value.
	ClearOnRegression bool
}

// FromEnv reads the process environment once. Call it a single time at
// worker startup; everything downstream receives the resulting Config by
// value or pointer.
func FromEnv() (*Config, error) {
	c := &Config{
		BuildDir:         os.Getenv("BUILD_DIR"),
		DataflowBuildDir: os.Getenv("DATAFLOW_BUILD_DIR"),
		FuzzCorpusDir:    os.Getenv("FUZZ_CORPUS_DIR"),
		JobName:          os.Getenv("JOB_NAME"),
		FuzzerName:       os.Getenv("FUZZER_NAME"),
	}

	var err error
	if c.FuzzTestTimeout, err = intEnvOrZero("FUZZ_TEST_TIMEOUT"); err != nil {
		return nil, err
	}
	if c.MaxFuzzThreads, err = intEnvOrZero("MAX_FUZZ_THREADS"); err != nil {
		return nil, err
	}
	if c.HardTimeoutOverride, err = intEnvOrZero("HARD_TIMEOUT_OVERRIDE"); err != nil {
		return nil, err
	}
	if c.MergeTimeoutOverride, err = intEnvOrZero("MERGE_TIMEOUT_OVERRIDE"); err != nil {
		return nil, err
	}
	if c.MutationsTimeoutOverride, err = intEnvOrZero("MUTATIONS_TIMEOUT_OVERRIDE"); err != nil {
		return nil, err
	}
	if c.DictionaryTimeoutOverride, err = intEnvOrZero("DICTIONARY_TIMEOUT_OVERRIDE"); err != nil {
		return nil, err
	}

	if raw := os.Getenv("FUZZING_STRATEGIES"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.FuzzingStrategies); err != nil {
			return nil, fmt.Errorf("config: FUZZING_STRATEGIES: %w", err)
		}
	}
	return c, nil
}

func intEnvOrZero(name string) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	return v, nil
}

// Overridable returns the override value if positive, otherwise the
// default. A negative override is treated as "not set".
func Overridable(override, def int) int {
	if override > 0 {
		return override
	}
	return def
}
