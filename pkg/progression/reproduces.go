// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package progression answers "when was this fixed": given a TestCase
// known to have crashed at some revision, binary-search the job's
// RevisionList for the adjacent pair at which the crash stopped
// reproducing.
package progression

import (
	"context"
	"time"

	"github.com/google/fuzzcore/pkg/engine"
	"github.com/google/fuzzcore/pkg/stat"
)

// CrashRetries bounds how many times a single revision is retried
// before a reproduction attempt is considered negative.
const CrashRetries = 4

// trialLatency tracks the wall-clock distribution of individual
// reproduction trials across a worker's lifetime, so an operator can
// tell a slow-build bisection run from a slow-target one. Surfaced in
// the worker's periodic stat.RenderStatus line.
var trialLatency = stat.NewDistribution("progression_trial_secs",
	"Wall time of individual reproduction trials", 20)

// CrashSignature is the canonical identity of a crash: crashState is
// compared, stacktraces may drift and are not.
type CrashSignature struct {
	CrashType  string
	CrashState string
}

// Trial is one reproduction attempt at a specific revision; it invokes
// the engine's Reproduce once and reports whether a crash occurred along with its
// signature. Implementations translate BuildSetupError/BadBuildError
// from the underlying build system into the typed ferrors values so
// Bisect can requeue or skip accordingly.
type Trial func(ctx context.Context) (crashed bool, sig CrashSignature, err error)

// Reproduces runs attempt up to CrashRetries times and reports whether
// any trial produced a crash matching want's signature. The first error
// that isn't a plain "didn't crash" (e.g. BadBuildError) is returned
// immediately without exhausting retries, since retrying against a
// build that can't run is pointless.
func Reproduces(ctx context.Context, want CrashSignature, attempt Trial) (bool, error) {
	for i := 0; i < CrashRetries; i++ {
		start := time.Now()
		crashed, sig, err := attempt(ctx)
		trialLatency.Add(time.Since(start).Seconds())
		if err != nil {
			return false, err
		}
		if crashed && sig == want {
			return true, nil
		}
	}
	return false, nil
}

// SignatureFromReproduce derives a CrashSignature from a raw
// ReproduceResult's output using pkg/engine.Signature.
func SignatureFromReproduce(res *engine.ReproduceResult) CrashSignature {
	crashType, crashState := engine.Signature(res.Output)
	return CrashSignature{CrashType: crashType, CrashState: crashState}
}
