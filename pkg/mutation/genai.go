// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/generative-ai-go/genai"

	"github.com/google/fuzzcore/pkg/log"
)

const (
	// maxSampleInputs bounds how many corpus files go into one prompt.
	maxSampleInputs = 8
	// maxModelOutputs bounds how many generated inputs one call may write.
	maxModelOutputs = 64
)

// ModelMutator is the model-based generator backend: one call covers the
// whole corpusDir→outDir run (the interface's inputPath/outputPath are
// directories for this Kind, see Generate). It samples a handful of
// existing inputs, asks the model for structurally similar variants and
// writes whatever parses back out.
type ModelMutator struct {
	Client *genai.Client
	// Model names the generative model, e.g. "gemini-1.5-flash".
	Model string
	// TargetName gives the model minimal context about what the inputs
	// feed into.
	TargetName string
}

func (m *ModelMutator) Mutate(ctx context.Context, inputPath, outputPath string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	samples, err := m.sampleInputs(inputPath)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		log.Logf(1, "mutation: no eligible inputs under %s", inputPath)
		return nil
	}

	model := m.Client.GenerativeModel(m.Model)
	model.ResponseMIMEType = "application/json"
	resp, err := model.GenerateContent(ctx, genai.Text(m.prompt(samples)))
	if err != nil {
		return fmt.Errorf("mutation: model call: %w", err)
	}

	variants := parseVariants(resp)
	if len(variants) > maxModelOutputs {
		variants = variants[:maxModelOutputs]
	}
	for i, data := range variants {
		name := filepath.Join(outputPath, "g"+fmt.Sprint(i))
		if err := os.WriteFile(name, data, 0644); err != nil {
			return err
		}
	}
	log.Logf(1, "mutation: model produced %d variants from %d samples", len(variants), len(samples))
	return nil
}

func (m *ModelMutator) sampleInputs(dir string) ([][]byte, error) {
	files, err := eligibleInputs(dir)
	if err != nil {
		return nil, err
	}
	if len(files) > maxSampleInputs {
		files = files[:maxSampleInputs]
	}
	var out [][]byte
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out, nil
}

func (m *ModelMutator) prompt(samples [][]byte) string {
	encoded := make([]string, len(samples))
	for i, s := range samples {
		encoded[i] = base64.StdEncoding.EncodeToString(s)
	}
	list, _ := json.Marshal(encoded)
	return fmt.Sprintf(`The following base64-encoded byte strings are inputs to the program %q.
Produce up to %d new inputs that keep the same overall structure but vary
lengths, field values and edge-case bytes. Reply with a JSON array of
base64-encoded strings and nothing else.
Inputs: %s`, m.TargetName, maxModelOutputs, list)
}

// parseVariants tolerates partial garbage: any candidate part that fails
// to parse as a base64 JSON array is skipped, not fatal, since even one
// usable variant makes the call worthwhile.
func parseVariants(resp *genai.GenerateContentResponse) [][]byte {
	var out [][]byte
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			text, ok := part.(genai.Text)
			if !ok {
				continue
			}
			var encoded []string
			if err := json.Unmarshal([]byte(text), &encoded); err != nil {
				log.Logf(2, "mutation: unparsable model reply part: %v", err)
				continue
			}
			for _, e := range encoded {
				data, err := base64.StdEncoding.DecodeString(e)
				if err != nil || len(data) == 0 {
					continue
				}
				out = append(out, data)
			}
		}
	}
	return out
}
