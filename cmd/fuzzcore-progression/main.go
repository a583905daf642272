// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Command fuzzcore-progression is the bisection worker loop: it pulls
// "progression" tasks off the task queue, runs one Bisect pass per
// pop, persists the resulting checkpoint/outcome, requeues on
// RequeueOutcome, and on FixedOutcome writes a fixed record to the
// analytics sink. One popped unit of work per iteration; no error ever
// escapes the loop itself.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/spanner"
	"golang.org/x/sync/errgroup"

	"github.com/google/fuzzcore/pkg/analytics"
	"github.com/google/fuzzcore/pkg/config"
	"github.com/google/fuzzcore/pkg/engine"
	"github.com/google/fuzzcore/pkg/engine/libfuzzer"
	"github.com/google/fuzzcore/pkg/ferrors"
	"github.com/google/fuzzcore/pkg/log"
	"github.com/google/fuzzcore/pkg/mutation"
	"github.com/google/fuzzcore/pkg/progression"
	"github.com/google/fuzzcore/pkg/stat"
	"github.com/google/fuzzcore/pkg/store"
	"github.com/google/fuzzcore/pkg/taskqueue"
)

// progressionPayload is the taskqueue.Task.Payload shape the crash
// triage path enqueues for bisection.
type progressionPayload struct {
	TestCaseID string `json:"testcase_id"`
	CrashType  string `json:"crash_type"`
	CrashState string `json:"crash_state"`
	// InputPath is the stored reproducer fed to every trial.
	InputPath string `json:"input_path"`
	// Target is the binary name looked up under -builds/<revision>/.
	Target     string                 `json:"target"`
	Revisions  []int                  `json:"revisions"`
	Checkpoint progression.Checkpoint `json:"checkpoint"`
}

func main() {
	var (
		projectID = flag.String("project", "", "GCP project ID")
		topicID   = flag.String("topic", "fuzzcore-tasks", "Pub/Sub topic for task submission")
		subID     = flag.String("subscription", "fuzzcore-progression", "Pub/Sub subscription to consume")
		dbURI     = flag.String("database", "", "Spanner database URI")
		dataset   = flag.String("bq-dataset", "fuzzcore", "BigQuery dataset for fixed records")
		buildsDir = flag.String("builds", "", "build archive root, one <revision>/ directory per revision")
		workers   = flag.Int("workers", 4, "number of concurrent consumer goroutines")
	)
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	// Reproduction trials only ever call Reproduce, never Fuzz, so the
	// mutator here is unused in practice; it's still required to satisfy
	// libfuzzer.New's constructor.
	engine.Register(libfuzzer.New(cfg, &mutation.BinaryMutator{}, rand.New(rand.NewSource(1))))

	st, err := store.Open(ctx, *dbURI)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	pubsubClient, err := pubsub.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	source := taskqueue.NewPubSubQueue(pubsubClient.Topic(*topicID), pubsubClient.Subscription(*subID))

	bqClient, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatalf("bigquery: %v", err)
	}
	sink := analytics.NewBigQuerySink(bqClient, *dataset, "fixeds")

	// One errgroup, N identical consumer goroutines: the first one to
	// hit a fatal taskqueue error cancels the shared context and the
	// others unwind through their next source.Next(ctx) call.
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			return consume(gctx, st, source, sink, *buildsDir)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("progression: %v", err)
	}
}

func consume(ctx context.Context, st *store.Store, source taskqueue.Source, sink analytics.Sink, buildsDir string) error {
	for {
		task, err := source.Next(ctx)
		if err != nil {
			return err
		}
		if task.Kind != taskqueue.KindProgression {
			source.Nack(ctx, task)
			continue
		}
		handle(ctx, st, source, sink, buildsDir, task)
		log.Logf(1, "progression: %s", stat.RenderStatus())
	}
}

func handle(ctx context.Context, st *store.Store, source taskqueue.Source, sink analytics.Sink, buildsDir string, task *taskqueue.Task) {
	data, err := json.Marshal(task.Payload)
	if err != nil {
		log.Logf(0, "progression: malformed task payload, dropping: %v", err)
		source.Ack(ctx, task)
		return
	}
	var payload progressionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Logf(0, "progression: malformed task payload, dropping: %v", err)
		source.Ack(ctx, task)
		return
	}

	revisions, err := store.NewRevisionList(payload.Revisions)
	if err != nil {
		log.Logf(0, "progression: invalid revision list, dropping: %v", err)
		source.Ack(ctx, task)
		return
	}

	rep := &reproducer{buildsDir: buildsDir, payload: payload}
	out, err := progression.Bisect(ctx, progression.Config{
		Revisions:  revisions,
		Checkpoint: payload.Checkpoint,
		Deadline:   time.Now().Add(10 * time.Minute),
		Reproduce:  rep.at,
	})
	if err != nil {
		log.Logf(0, "progression: bisect failed for %s: %v", payload.TestCaseID, err)
		source.Nack(ctx, task)
		return
	}

	switch out.Kind {
	case progression.RequeueOutcome:
		payload.Checkpoint = out.Checkpoint
		update := func(tc *store.TestCase) error {
			tc.SetMeta(store.MetaProgressionPending, true)
			tc.SetMeta(store.MetaLastProgressionMin, out.Checkpoint.MinRevision)
			tc.SetMeta(store.MetaLastProgressionMax, out.Checkpoint.MaxRevision)
			return nil
		}
		if err := st.TestCases().Update(ctx, payload.TestCaseID, update); err != nil {
			log.Logf(0, "progression: checkpointing %s: %v", payload.TestCaseID, err)
		}
		if err := enqueueResume(ctx, source, payload); err != nil {
			// Nack instead: redelivery resumes from the previous
			// checkpoint, losing some trials but never the task.
			log.Logf(0, "progression: requeueing %s: %v", payload.TestCaseID, err)
			source.Nack(ctx, task)
			return
		}
		source.Ack(ctx, task)
	case progression.StillOpen:
		// The bug is simply not fixed yet: refresh the last-tested-crash
		// metadata and clear any stale flakiness verdict.
		err := st.TestCases().Update(ctx, payload.TestCaseID, func(tc *store.TestCase) error {
			tc.PotentiallyFlaky = false
			tc.LastTestedRevision = spanner.NullInt64{Int64: int64(out.LatestRevision), Valid: true}
			if rep.lastCrashOutput != "" {
				tc.LastCrashStacktrace = spanner.NullString{StringVal: rep.lastCrashOutput, Valid: true}
			}
			tc.SetMeta(store.MetaLastTestedCrashRevision, out.LatestRevision)
			tc.SetMeta(store.MetaLastTestedCrashTime, time.Now().UTC().Format(time.RFC3339))
			tc.ClearMeta(store.MetaProgressionPending)
			return nil
		})
		if err != nil {
			log.Logf(0, "progression: refreshing %s: %v", payload.TestCaseID, err)
			source.Nack(ctx, task)
			return
		}
		source.Ack(ctx, task)
	case progression.FlakyOutcome:
		err := st.TestCases().Update(ctx, payload.TestCaseID, func(tc *store.TestCase) error {
			tc.PotentiallyFlaky = true
			tc.ClearMeta(store.MetaProgressionPending)
			return nil
		})
		if err != nil {
			log.Logf(0, "progression: flagging %s flaky: %v", payload.TestCaseID, err)
			source.Nack(ctx, task)
			return
		}
		source.Ack(ctx, task)
	case progression.FixedOutcome:
		err := st.TestCases().Update(ctx, payload.TestCaseID, func(tc *store.TestCase) error {
			tc.SetFixedRange(out.FixedRange)
			tc.SetMeta(store.MetaClosedTime, time.Now().UTC().Format(time.RFC3339))
			tc.ClearMeta(store.MetaProgressionPending)
			tc.ClearMeta(store.MetaLastProgressionMin)
			tc.ClearMeta(store.MetaLastProgressionMax)
			return nil
		})
		if err != nil {
			log.Logf(0, "progression: persisting fixed range for %s: %v", payload.TestCaseID, err)
			source.Nack(ctx, task)
			return
		}
		if err := sink.WriteFixed(ctx, analytics.FixedRecord{
			TestCaseID: payload.TestCaseID,
			CrashType:  payload.CrashType,
			CrashState: payload.CrashState,
			RangeStart: out.FixedRange.Min,
			RangeEnd:   out.FixedRange.Max,
		}); err != nil {
			log.Logf(0, "progression: writing fixed record for %s: %v", payload.TestCaseID, err)
		}
		source.Ack(ctx, task)
	default:
		source.Ack(ctx, task)
	}
}

// reproducer adapts the engine registry's Reproduce call into the
// progression package's ReproduceAt signature, applying the crash-retry
// policy and mapping missing builds to ferrors.BadBuildError. It keeps
// the most recent matching crash output so a still-open verdict can
// refresh the stored stacktrace.
type reproducer struct {
	buildsDir       string
	payload         progressionPayload
	lastCrashOutput string
}

func (r *reproducer) at(ctx context.Context, revision int) (bool, error) {
	want := progression.CrashSignature{CrashType: r.payload.CrashType, CrashState: r.payload.CrashState}
	impl, err := engine.Get("libfuzzer")
	if err != nil {
		return false, err
	}
	targetPath, ok := buildForRevision(r.buildsDir, revision, r.payload.Target)
	if !ok {
		return false, &ferrors.BadBuildError{Revision: revision}
	}
	trial := func(ctx context.Context) (bool, progression.CrashSignature, error) {
		res, err := impl.Reproduce(ctx, targetPath, r.payload.InputPath, nil, 2*time.Minute)
		if err != nil {
			return false, progression.CrashSignature{}, err
		}
		sig := progression.SignatureFromReproduce(res)
		if res.ReturnCode != 0 && sig == want {
			r.lastCrashOutput = res.Output
		}
		return res.ReturnCode != 0, sig, nil
	}
	return progression.Reproduces(ctx, want, trial)
}

// enqueueResume submits a fresh task carrying the updated checkpoint, so
// a later pop (possibly on another worker) resumes the bisection where
// this one's deadline cut it off. The pubsub-backed source doubles as
// the Queue here; an in-memory deployment's PlainQueue does too.
func enqueueResume(ctx context.Context, source taskqueue.Source, payload progressionPayload) error {
	queue, ok := source.(taskqueue.Queue)
	if !ok {
		return fmt.Errorf("task source %T cannot submit resume tasks", source)
	}
	log.Logf(1, "progression: requeueing %s at checkpoint %+v", payload.TestCaseID, payload.Checkpoint)
	return queue.Submit(ctx, taskqueue.KindProgression, payload)
}

// buildForRevision resolves a revision number to a target binary under
// the build archive root, laid out as <buildsDir>/<revision>/<target>.
// A missing or empty binary means that revision's build never succeeded
// and the bisection treats it as a bad build.
func buildForRevision(buildsDir string, revision int, target string) (string, bool) {
	if buildsDir == "" || target == "" {
		return "", false
	}
	path := filepath.Join(buildsDir, strconv.Itoa(revision), target)
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", false
	}
	return path, true
}
