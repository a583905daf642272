// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import (
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	v := New("test_counter", "a plain accumulator")
	v.Add(3)
	v.Add(4)
	if got := v.Value(); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestGaugeFn(t *testing.T) {
	backing := 11
	g := Create("test_gauge_fn", "computed on demand", func() int { return backing }, NoGraph)
	if got := g.Value(); got != 11 {
		t.Fatalf("got %d, want 11", got)
	}
	backing = 12
	if got := g.Value(); got != 12 {
		t.Fatalf("got %d after update, want 12", got)
	}
}

func TestSnapshotAndConsole(t *testing.T) {
	v := Create("test_snapshot_val", "shows up in snapshots", nil, Console)
	v.Add(5)
	snap := Snapshot()
	if snap["test_snapshot_val"] != 5 {
		t.Fatalf("snapshot missed the counter: %v", snap)
	}
	found := false
	for _, name := range ConsoleNames() {
		if name == "test_snapshot_val" {
			found = true
		}
	}
	if !found {
		t.Fatal("Console-marked value missing from ConsoleNames")
	}
}

func TestDistributionRegistered(t *testing.T) {
	d := NewDistribution("test_latency_secs", "latency of a test operation", 20)
	if d.Count() != 0 {
		t.Fatal("fresh distribution must be empty")
	}
	d.Add(1.0)
	d.Add(3.0)
	if d.Count() != 2 {
		t.Fatalf("got count %d, want 2", d.Count())
	}
	if mean := d.Mean(); mean < 1.0 || mean > 3.0 {
		t.Fatalf("mean %v outside observed range", mean)
	}
	found := false
	for _, reg := range Distributions() {
		if reg == d {
			found = true
		}
	}
	if !found {
		t.Fatal("distribution missing from registry")
	}
}

func TestRenderStatus(t *testing.T) {
	v := New("test_render_val", "shows up in the status line", Console)
	v.Add(2)
	d := NewDistribution("test_render_dist", "shows up too", 20)
	d.Add(0.5)
	line := RenderStatus()
	if !strings.Contains(line, "test_render_val=2") {
		t.Fatalf("console value missing from %q", line)
	}
	if !strings.Contains(line, "test_render_dist mean=") {
		t.Fatalf("distribution missing from %q", line)
	}
}

func TestAverageValue(t *testing.T) {
	var avg AverageValue[float64]
	if avg.Value() != 0 {
		t.Fatal("empty average must be 0")
	}
	avg.Save(2)
	avg.Save(4)
	if got := avg.Value(); got != 3 {
		t.Fatalf("got %v, want 3", got)
	}
	if avg.Count() != 2 {
		t.Fatalf("got count %d, want 2", avg.Count())
	}
}
