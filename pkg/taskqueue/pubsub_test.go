// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package taskqueue

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPayloadRoundTrip(t *testing.T) {
	// What comes back is the structpb view of the payload: every JSON
	// object becomes map[string]any, every number float64. That's the
	// shape consumers re-unmarshal from, so it is what we assert on.
	payload := map[string]any{
		"testcase_id": "tc-123",
		"crash_type":  "Heap-buffer-overflow",
		"revisions":   []any{float64(100), float64(110), float64(120)},
		"checkpoint": map[string]any{
			"min_index": float64(0),
			"max_index": float64(2),
		},
	}
	data, err := encodePayload(payload)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := decodePayload(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(payload, decoded); diff != "" {
		t.Fatalf("payload changed over the wire (-want +got):\n%s", diff)
	}
}

func TestPayloadRoundTripStruct(t *testing.T) {
	// Struct payloads survive too: they go over the wire as their JSON
	// object shape.
	type checkpoint struct {
		MinIndex int `json:"min_index"`
		MaxIndex int `json:"max_index"`
	}
	type payload struct {
		TestCaseID string     `json:"testcase_id"`
		Checkpoint checkpoint `json:"checkpoint"`
	}
	data, err := encodePayload(payload{TestCaseID: "tc-9", Checkpoint: checkpoint{MinIndex: 1, MaxIndex: 4}})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := decodePayload(data)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"testcase_id": "tc-9",
		"checkpoint": map[string]any{
			"min_index": float64(1),
			"max_index": float64(4),
		},
	}
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Fatalf("unexpected decoded payload (-want +got):\n%s", diff)
	}
}

func TestEncodePayloadRejectsNonObject(t *testing.T) {
	if _, err := encodePayload("just a string"); err == nil {
		t.Fatal("expected an error for a non-object payload")
	}
	if _, err := encodePayload(42); err == nil {
		t.Fatal("expected an error for a scalar payload")
	}
}
