// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package progression

import (
	"context"
	"time"

	"github.com/google/fuzzcore/pkg/ferrors"
	"github.com/google/fuzzcore/pkg/log"
	"github.com/google/fuzzcore/pkg/store"
)

// OutcomeKind is the terminal (or suspend) state one Bisect call
// reaches.
type OutcomeKind int

const (
	// StillOpen: the crash still reproduces at the latest revision.
	StillOpen OutcomeKind = iota
	// FixedOutcome: the bisection converged on an adjacent revision pair.
	FixedOutcome
	// FlakyOutcome: the known-crash revision failed to reproduce twice.
	FlakyOutcome
	// UnableToNarrow: the working range degenerated before converging.
	UnableToNarrow
	// RequeueOutcome: deadline exceeded, or a one-off min-guard retry is
	// needed; Checkpoint carries enough state to resume.
	RequeueOutcome
)

// Checkpoint is the resumable bisection state, stored by revision value
// rather than list index: a resumed run may see a different revision
// list (bad builds pruned, new revisions landed) and indices don't
// survive that, revision numbers do. These are the values persisted as
// the last_progression_min/last_progression_max testcase metadata.
// The zero value means "fresh run, full range".
type Checkpoint struct {
	MinRevision      int `json:"min_revision"`
	MaxRevision      int `json:"max_revision"`
	MinGuardFailures int `json:"min_guard_failures"`
}

// Outcome is what one Bisect invocation produces.
type Outcome struct {
	Kind       OutcomeKind
	FixedRange store.Fixed
	Checkpoint Checkpoint
	// LatestRevision is set for StillOpen: the revision the crash was
	// last observed at, for the last-tested-crash metadata refresh.
	LatestRevision int
}

// ReproduceAt tests reproduction at a specific revision. It must itself
// apply the CRASH_RETRIES policy (see Reproduces) and surface
// ferrors.BuildSetupError / ferrors.BadBuildError where the build for
// that revision can't be set up or is broken.
type ReproduceAt func(ctx context.Context, revision int) (crashed bool, err error)

// Config bundles one Bisect call's inputs. Callers persist the returned
// Checkpoint (in store.TestCase metadata) and pass it back in on resume.
type Config struct {
	Revisions  store.RevisionList
	Checkpoint Checkpoint
	Deadline   time.Time
	Reproduce  ReproduceAt
}

// Bisect runs one pass of the fix-range search: latest-revision guard,
// min-revision guard (with flaky detection across two invocations), then
// the bisection loop itself. Progress is handed back as a Checkpoint only
// in a RequeueOutcome (deadline exhaustion, or the first min-guard
// failure); steps in between are not persisted, so a run that is killed
// mid-loop resumes from the last returned Checkpoint. It is called repeatedly
// (once per task-queue pop) until it returns FixedOutcome, FlakyOutcome,
// StillOpen or UnableToNarrow.
func Bisect(ctx context.Context, cfg Config) (*Outcome, error) {
	working := cfg.Revisions
	minIndex, maxIndex := 0, working.Len()-1
	if cp := cfg.Checkpoint; cp.MaxRevision != 0 {
		minIndex = indexAtOrBelow(working, cp.MinRevision)
		maxIndex = indexAtOrAbove(working, cp.MaxRevision)
	}
	if minIndex >= maxIndex {
		return &Outcome{Kind: UnableToNarrow}, nil
	}

	// 1. Latest-revision guard: if it still crashes at head, this is the
	// common "still open" case and we stop immediately.
	crashedAtLatest, err := cfg.Reproduce(ctx, working.At(maxIndex))
	if err != nil {
		return nil, err
	}
	if crashedAtLatest {
		return &Outcome{Kind: StillOpen, LatestRevision: working.At(maxIndex)}, nil
	}

	// 2. Min-revision guard: the known-crash revision must still
	// reproduce, or the supposedly-known crash is unreliable.
	crashedAtMin, err := cfg.Reproduce(ctx, working.At(minIndex))
	if err != nil {
		return nil, err
	}
	if !crashedAtMin {
		if cfg.Checkpoint.MinGuardFailures == 0 {
			log.Logf(0, "progression: min-revision guard failed once, requeueing for a second attempt")
			return &Outcome{Kind: RequeueOutcome, Checkpoint: Checkpoint{
				MinRevision:      working.At(minIndex),
				MaxRevision:      working.At(maxIndex),
				MinGuardFailures: 1,
			}}, nil
		}
		log.Logf(0, "progression: min-revision guard failed twice, marking potentially flaky")
		return &Outcome{Kind: FlakyOutcome}, nil
	}

	// 3. Bisection loop. Bad builds are pruned from the working list;
	// since trials are keyed by revision value, pruning only shifts the
	// local index bookkeeping.
	for maxIndex-minIndex > 1 {
		if !cfg.Deadline.IsZero() && time.Now().After(cfg.Deadline) {
			return &Outcome{Kind: RequeueOutcome, Checkpoint: Checkpoint{
				MinRevision: working.At(minIndex),
				MaxRevision: working.At(maxIndex),
			}}, nil
		}

		mid := (minIndex + maxIndex) / 2
		crashed, err := cfg.Reproduce(ctx, working.At(mid))
		if err != nil {
			if isBadBuild(err) {
				log.Logf(1, "progression: revision %d has a bad build, skipping", working.At(mid))
				working = working.Remove(mid)
				maxIndex--
				if minIndex >= maxIndex {
					return &Outcome{Kind: UnableToNarrow}, nil
				}
				continue
			}
			return nil, err
		}
		if crashed {
			minIndex = mid
		} else {
			maxIndex = mid
		}
	}

	return &Outcome{
		Kind: FixedOutcome,
		FixedRange: store.Fixed{
			Kind: store.Range,
			Min:  working.At(minIndex),
			Max:  working.At(maxIndex),
		},
	}, nil
}

// indexAtOrBelow finds the index of the largest revision <= rev,
// defaulting to 0 when rev precedes the whole list.
func indexAtOrBelow(list store.RevisionList, rev int) int {
	idx := 0
	for i := 0; i < list.Len(); i++ {
		if list.At(i) <= rev {
			idx = i
		}
	}
	return idx
}

// indexAtOrAbove finds the index of the smallest revision >= rev,
// defaulting to the last index when rev is past the whole list.
func indexAtOrAbove(list store.RevisionList, rev int) int {
	for i := 0; i < list.Len(); i++ {
		if list.At(i) >= rev {
			return i
		}
	}
	return list.Len() - 1
}

func isBadBuild(err error) bool {
	_, ok := err.(*ferrors.BadBuildError)
	return ok
}
