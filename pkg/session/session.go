// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package session implements the session runner: it orchestrates one
// fuzz session end to end (strategy pool, prepare, fuzz, parse, merge,
// stats) as a small explicit state machine, and never lets an engine
// error escape past the session boundary.
package session

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/fuzzcore/pkg/config"
	"github.com/google/fuzzcore/pkg/corpus"
	"github.com/google/fuzzcore/pkg/engine"
	"github.com/google/fuzzcore/pkg/log"
	"github.com/google/fuzzcore/pkg/mutation"
	"github.com/google/fuzzcore/pkg/stat"
)

// State is one node of the session state machine.
type State int

const (
	Init State = iota
	Prepared
	Fuzzing
	Parsed
	Merged
	MergeSkipped
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Prepared:
		return "PREPARED"
	case Fuzzing:
		return "FUZZING"
	case Parsed:
		return "PARSED"
	case Merged:
		return "MERGED"
	case MergeSkipped:
		return "MERGE_SKIPPED"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Result is the outward-facing outcome of one session: it never carries
// a Go error for engine failures, only a State of Failed plus a reason,
// so the caller can always persist a stats record.
type Result struct {
	State        State
	EngineResult *engine.Result
	FailReason   string
}

var (
	statSessionsRun    = stat.New("sessions_run", "Number of fuzz sessions completed", stat.Console)
	statSessionsFailed = stat.New("sessions_failed", "Number of fuzz sessions that ended in FAILED", stat.Console)

	// statWallTime feeds the session_avg_wall_secs gauge below; the
	// gauge is a point-in-time mean, so it stays out of time-series
	// graphing.
	statWallTime stat.AverageValue[float64]
	_            = stat.Create("session_avg_wall_secs", "Mean session wall time in seconds",
		func() int { return int(statWallTime.Value()) }, stat.Console, stat.NoGraph)
)

// Runner drives a single fuzz session against one target.
type Runner struct {
	Config         *config.Config
	Engine         engine.Engine
	Mutator        mutation.Mutator
	CorpusDir      string
	TargetPath     string
	BuildDir       string
	ReproducersDir string
	MaxTime        time.Duration
	Rand           *rand.Rand
}

// Run executes the full INIT→...→DONE/FAILED state machine once. Its own
// scratch directory (under BuildDir) is removed on every exit path;
// directories the engine adapter creates (such as libfuzzer's "new",
// "merge-corpus" and corpus-subset directories) are not removed here.
func (r *Runner) Run(ctx context.Context) *Result {
	scratchRoot, err := os.MkdirTemp(r.BuildDir, "session-")
	if err != nil {
		statSessionsFailed.Add(1)
		return &Result{State: Failed, FailReason: err.Error()}
	}
	defer os.RemoveAll(scratchRoot)

	state := Init
	log.Logf(0, "session: %s starting for %s", state, r.TargetPath)

	opts, err := r.Engine.Prepare(ctx, r.CorpusDir, r.TargetPath, r.BuildDir)
	if err != nil {
		return r.fail(state, err)
	}
	state = Prepared
	log.Logf(1, "session: %s", state)

	if err := r.populateMutations(ctx, scratchRoot, opts); err != nil {
		log.Logf(0, "session: mutation generation failed, continuing without it: %v", err)
	}

	state = Fuzzing
	log.Logf(1, "session: %s (max %v)", state, r.MaxTime)
	result, err := r.Engine.Fuzz(ctx, r.TargetPath, opts, r.ReproducersDir, r.MaxTime)
	if err != nil {
		return r.fail(state, err)
	}

	state = Parsed
	log.Logf(1, "session: %s (%d crashes, %d stats)", state, len(result.Crashes), len(result.Stats))

	if result.Stats["new_units_added"] > 0 {
		state = Merged
	} else {
		state = MergeSkipped
	}
	log.Logf(1, "session: %s", state)

	statSessionsRun.Add(1)
	statWallTime.Save(result.WallTimeSeconds)
	return &Result{State: Done, EngineResult: result}
}

func (r *Runner) fail(at State, err error) *Result {
	log.Logf(0, "session: failed in state %s: %v", at, err)
	statSessionsFailed.Add(1)
	return &Result{State: Failed, FailReason: err.Error()}
}

// populateMutations runs the mutation generator into a scratch
// "mutations" directory and, if it produced anything, folds it into
// opts.ExtraCorpusDirs so Fuzz picks the generated inputs up alongside
// the rest of the corpus.
func (r *Runner) populateMutations(ctx context.Context, scratchRoot string, opts *engine.FuzzOptions) error {
	if !opts.IsMutationsRun || r.Mutator == nil {
		return nil
	}
	outDir := filepath.Join(scratchRoot, "mutations")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	kind := mutation.ByteLevel
	for _, tag := range opts.StrategyTags {
		if tag == "ml_rnn" {
			kind = mutation.ModelBased
		}
	}
	rnd := r.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	grew, err := mutation.Generate(ctx, kind, r.Mutator, r.CorpusDir, outDir, rnd, time.Now().Add(r.MaxTime/4))
	if err != nil {
		return err
	}
	if grew {
		opts.ExtraCorpusDirs = append(opts.ExtraCorpusDirs, outDir)
	}
	return nil
}

// NewCorpusRoot builds the per-target corpus root used across sessions.
func NewCorpusRoot(root, targetName string) (string, error) {
	return corpus.NewCorpusDir(root, targetName)
}
