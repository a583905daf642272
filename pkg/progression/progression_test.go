// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package progression

import (
	"context"
	"testing"
	"time"

	"github.com/google/fuzzcore/pkg/ferrors"
	"github.com/google/fuzzcore/pkg/store"
)

func pastDeadline() time.Time {
	return time.Now().Add(-time.Hour)
}

func revList(t *testing.T, values ...int) store.RevisionList {
	t.Helper()
	rl, err := store.NewRevisionList(values)
	if err != nil {
		t.Fatal(err)
	}
	return rl
}

// crashesBelow builds a ReproduceAt that reports a crash for every
// revision strictly less than fixedAt (simple step function: the bug
// was fixed exactly at revision fixedAt).
func crashesBelow(fixedAt int, trials *int) ReproduceAt {
	return func(ctx context.Context, rev int) (bool, error) {
		if trials != nil {
			*trials++
		}
		return rev < fixedAt, nil
	}
}

func TestBisectStillOpenAtHead(t *testing.T) {
	out, err := Bisect(context.Background(), Config{
		Revisions: revList(t, 1, 2, 3, 4, 5),
		Reproduce: func(ctx context.Context, rev int) (bool, error) { return true, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != StillOpen {
		t.Fatalf("expected StillOpen, got %v", out.Kind)
	}
	if out.LatestRevision != 5 {
		t.Fatalf("expected LatestRevision=5, got %d", out.LatestRevision)
	}
}

func TestBisectConvergesOnFixRange(t *testing.T) {
	// Fixed at revision 130: crashes at 100..120, clean from 130 on.
	var trials int
	out, err := Bisect(context.Background(), Config{
		Revisions: revList(t, 100, 110, 120, 130, 140),
		Reproduce: crashesBelow(130, &trials),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != FixedOutcome {
		t.Fatalf("expected FixedOutcome, got %v (checkpoint %+v)", out.Kind, out.Checkpoint)
	}
	if out.FixedRange.Min != 120 || out.FixedRange.Max != 130 {
		t.Fatalf("expected fixedRange 120:130, got %d:%d", out.FixedRange.Min, out.FixedRange.Max)
	}
	// Both guards plus two mid-point trials (120 crashes, 130 clean).
	if trials != 4 {
		t.Fatalf("expected 4 trials, got %d", trials)
	}
}

func TestBisectFlakyAfterTwoMinGuardFailures(t *testing.T) {
	revisions := revList(t, 1, 2, 3, 4, 5)
	neverCrashes := func(ctx context.Context, rev int) (bool, error) { return false, nil }

	out, err := Bisect(context.Background(), Config{Revisions: revisions, Reproduce: neverCrashes})
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != RequeueOutcome || out.Checkpoint.MinGuardFailures != 1 {
		t.Fatalf("expected first min-guard failure to requeue, got %+v", out)
	}

	out2, err := Bisect(context.Background(), Config{
		Revisions:  revisions,
		Checkpoint: out.Checkpoint,
		Reproduce:  neverCrashes,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out2.Kind != FlakyOutcome {
		t.Fatalf("expected FlakyOutcome on second failure, got %v", out2.Kind)
	}
}

func TestBisectSkipsBadBuild(t *testing.T) {
	// Revision 120 is a bad build; crash reproduces at 100 and 110 only,
	// so with 120 unbuildable the narrowest answer is 110:130.
	reproduce := func(ctx context.Context, rev int) (bool, error) {
		if rev == 120 {
			return false, &ferrors.BadBuildError{Revision: rev}
		}
		return rev < 120, nil
	}
	out, err := Bisect(context.Background(), Config{
		Revisions: revList(t, 100, 110, 120, 130, 140),
		Reproduce: reproduce,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != FixedOutcome {
		t.Fatalf("expected FixedOutcome despite bad build, got %v", out.Kind)
	}
	if out.FixedRange.Min != 110 || out.FixedRange.Max != 130 {
		t.Fatalf("expected fixedRange 110:130, got %d:%d", out.FixedRange.Min, out.FixedRange.Max)
	}
}

func TestBisectRequeuesOnDeadline(t *testing.T) {
	out, err := Bisect(context.Background(), Config{
		Revisions: revList(t, 10, 20, 30, 40, 50, 60, 70, 80),
		Deadline:  pastDeadline(),
		Reproduce: crashesBelow(50, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != RequeueOutcome {
		t.Fatalf("expected RequeueOutcome, got %v", out.Kind)
	}
	if out.Checkpoint.MinRevision != 10 || out.Checkpoint.MaxRevision != 80 {
		t.Fatalf("checkpoint should cover the untouched range, got %+v", out.Checkpoint)
	}
}

func TestBisectResumesFromCheckpoint(t *testing.T) {
	// A run cut off by its deadline hands back a checkpoint; resuming
	// from it must land on the same range an uninterrupted run finds.
	revisions := []int{10, 20, 30, 40, 50, 60, 70, 80}
	uninterrupted, err := Bisect(context.Background(), Config{
		Revisions: revList(t, revisions...),
		Reproduce: crashesBelow(60, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if uninterrupted.Kind != FixedOutcome {
		t.Fatalf("expected FixedOutcome, got %v", uninterrupted.Kind)
	}

	cutOff, err := Bisect(context.Background(), Config{
		Revisions: revList(t, revisions...),
		Deadline:  pastDeadline(),
		Reproduce: crashesBelow(60, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if cutOff.Kind != RequeueOutcome {
		t.Fatalf("expected RequeueOutcome, got %v", cutOff.Kind)
	}
	resumed, err := Bisect(context.Background(), Config{
		Revisions:  revList(t, revisions...),
		Checkpoint: cutOff.Checkpoint,
		Reproduce:  crashesBelow(60, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resumed.FixedRange != uninterrupted.FixedRange {
		t.Fatalf("resumed run found %+v, uninterrupted %+v", resumed.FixedRange, uninterrupted.FixedRange)
	}

	// Resuming from a checkpoint that already narrowed the range works
	// too, even though the trials behind it happened in another process.
	narrowed, err := Bisect(context.Background(), Config{
		Revisions:  revList(t, revisions...),
		Checkpoint: Checkpoint{MinRevision: 50, MaxRevision: 70},
		Reproduce:  crashesBelow(60, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if narrowed.FixedRange != uninterrupted.FixedRange {
		t.Fatalf("narrowed resume found %+v, uninterrupted %+v", narrowed.FixedRange, uninterrupted.FixedRange)
	}
}
