// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Command fuzzcore-session runs a single fuzz session against one
// target and exits, reporting its Result on stdout as JSON. It is meant
// to be the container entrypoint an Argo Workflow template (see
// pkg/workflow) invokes once per scheduled session.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"math/rand"
	"os"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/google/fuzzcore/pkg/config"
	"github.com/google/fuzzcore/pkg/engine"
	"github.com/google/fuzzcore/pkg/engine/afl"
	"github.com/google/fuzzcore/pkg/engine/gofuzz"
	"github.com/google/fuzzcore/pkg/engine/libfuzzer"
	"github.com/google/fuzzcore/pkg/engine/none"
	"github.com/google/fuzzcore/pkg/log"
	"github.com/google/fuzzcore/pkg/mutation"
	"github.com/google/fuzzcore/pkg/session"
	"github.com/google/fuzzcore/pkg/stat"
)

func main() {
	var (
		runID       = flag.String("run-id", "", "unique ID for this session, for log correlation")
		target      = flag.String("target", "", "path to the fuzz target binary")
		engineName  = flag.String("engine", "libfuzzer", "engine adapter: libfuzzer, afl, gofuzz, none")
		corpusDir   = flag.String("corpus", "", "corpus directory for this target")
		reproDir    = flag.String("reproducers", "", "directory crash reproducers are moved into")
		radamsaPath = flag.String("radamsa", "", "path to the byte-level mutator binary")
		modelName   = flag.String("model-mutator", "", "generative model backing the model-based mutator (empty disables it)")
		modelKey    = flag.String("model-api-key", "", "API key for -model-mutator")
	)
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	mutator, err := buildMutator(ctx, *radamsaPath, *modelName, *modelKey, *target)
	if err != nil {
		log.Fatalf("mutator: %v", err)
	}

	registerEngines(cfg, mutator, rnd)

	impl, err := engine.Get(*engineName)
	if err != nil {
		log.Fatalf("%v", err)
	}

	runner := &session.Runner{
		Config:         cfg,
		Engine:         impl,
		Mutator:        mutator,
		CorpusDir:      *corpusDir,
		TargetPath:     *target,
		BuildDir:       cfg.BuildDir,
		ReproducersDir: *reproDir,
		MaxTime:        time.Duration(config.Overridable(cfg.FuzzTestTimeout, 3600)) * time.Second,
		Rand:           rnd,
	}

	log.Logf(0, "fuzzcore-session: run %s starting engine=%s target=%s", *runID, *engineName, *target)
	result := runner.Run(ctx)
	log.Logf(0, "fuzzcore-session: run %s finished: %s", *runID, stat.RenderStatus())

	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(result); err != nil {
		log.Fatalf("encode result: %v", err)
	}
	if result.State == session.Failed {
		os.Exit(1)
	}
}

// buildMutator picks the mutator backend: model-based when -model-mutator
// is set, byte-level otherwise. The strategy pool's generator pick does
// not change the backend; it only decides whether a session generates
// mutations and how Generate calls the mutator (per file or per corpus
// directory).
func buildMutator(ctx context.Context, radamsaPath, modelName, modelKey, target string) (mutation.Mutator, error) {
	if modelName == "" {
		return &mutation.BinaryMutator{Path: radamsaPath}, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(modelKey))
	if err != nil {
		return nil, err
	}
	return &mutation.ModelMutator{Client: client, Model: modelName, TargetName: target}, nil
}

// registerEngines wires every built-in engine adapter into the process-wide
// registry so -engine can select any of them by name.
func registerEngines(cfg *config.Config, mutator mutation.Mutator, rnd *rand.Rand) {
	engine.Register(libfuzzer.New(cfg, mutator, rnd))
	engine.Register(none.New())
	engine.Register(gofuzz.New(cfg.MaxFuzzThreads))
	engine.Register(afl.New(""))
}
