// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package store

import "testing"

func TestFixedRoundTrip(t *testing.T) {
	cases := []Fixed{
		{Kind: NotFixed},
		{Kind: Yes},
		{Kind: Range, Min: 4, Max: 5},
	}
	for _, f := range cases {
		s := f.String()
		got, err := ParseFixed(s)
		if err != nil {
			t.Fatalf("ParseFixed(%q): %v", s, err)
		}
		if got != f {
			t.Fatalf("round trip mismatch: %+v -> %q -> %+v", f, s, got)
		}
	}
}

func TestParseFixedRejectsMalformed(t *testing.T) {
	for _, s := range []string{"4", "4:", ":5", "5:4", "5:5"} {
		if _, err := ParseFixed(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestRevisionListRejectsNonIncreasing(t *testing.T) {
	if _, err := NewRevisionList([]int{1, 1, 2}); err == nil {
		t.Fatalf("expected error for non-strictly-increasing list")
	}
	if _, err := NewRevisionList(nil); err == nil {
		t.Fatalf("expected error for empty list")
	}
}

func TestMetadataHelpers(t *testing.T) {
	var tc TestCase
	if _, ok := tc.Meta(MetaProgressionPending); ok {
		t.Fatal("empty metadata must report no keys")
	}
	tc.SetMeta(MetaProgressionPending, true)
	tc.SetMeta(MetaLastProgressionMin, 100)
	if v, ok := tc.Meta(MetaProgressionPending); !ok || v != true {
		t.Fatalf("got (%v, %v)", v, ok)
	}
	tc.ClearMeta(MetaProgressionPending)
	if _, ok := tc.Meta(MetaProgressionPending); ok {
		t.Fatal("cleared key still present")
	}
	if v, ok := tc.Meta(MetaLastProgressionMin); !ok || v != 100 {
		t.Fatalf("unrelated key disturbed: (%v, %v)", v, ok)
	}
}

func TestRevisionListRemove(t *testing.T) {
	rl, err := NewRevisionList([]int{10, 20, 30, 40})
	if err != nil {
		t.Fatal(err)
	}
	out := rl.Remove(1)
	if out.Len() != 3 || out.At(0) != 10 || out.At(1) != 30 || out.At(2) != 40 {
		t.Fatalf("unexpected list after remove: %v", out)
	}
}
