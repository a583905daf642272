// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package store is the persistence boundary for TestCase records and the
// RevisionList a job bisects over. The Go types keep FixedRange as a sum
// type (NotFixed | Yes | Range{min,max}) in memory; only the repository
// layer flattens it to the legacy "min:max" string column.
package store

import (
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/spanner"
)

// FixedKind discriminates the three states a TestCase's fix range can
// be in: a testcase is open (no range) or closed (range or plain yes).
type FixedKind int

const (
	NotFixed FixedKind = iota
	Yes
	Range
)

// Fixed is the in-memory sum type for a TestCase's fixedRange. Only
// Range carries Min/Max; Yes marks "known fixed, range not yet
// narrowed"; NotFixed is the open-bug default.
type Fixed struct {
	Kind FixedKind
	Min  int
	Max  int
}

func (f Fixed) Closed() bool { return f.Kind != NotFixed }

// String renders the legacy persisted form: empty for NotFixed, "Yes"
// for Yes, "min:max" for Range.
func (f Fixed) String() string {
	switch f.Kind {
	case Range:
		return fmt.Sprintf("%d:%d", f.Min, f.Max)
	case Yes:
		return "Yes"
	default:
		return ""
	}
}

// ParseFixed parses the persisted string form back into a Fixed value.
func ParseFixed(s string) (Fixed, error) {
	switch s {
	case "":
		return Fixed{Kind: NotFixed}, nil
	case "Yes":
		return Fixed{Kind: Yes}, nil
	}
	min, max, ok := strings.Cut(s, ":")
	if !ok {
		return Fixed{}, fmt.Errorf("store: malformed fixedRange %q", s)
	}
	minV, err := strconv.Atoi(min)
	if err != nil {
		return Fixed{}, fmt.Errorf("store: malformed fixedRange %q: %w", s, err)
	}
	maxV, err := strconv.Atoi(max)
	if err != nil {
		return Fixed{}, fmt.Errorf("store: malformed fixedRange %q: %w", s, err)
	}
	if minV >= maxV {
		return Fixed{}, fmt.Errorf("store: fixedRange %q has min >= max", s)
	}
	return Fixed{Kind: Range, Min: minV, Max: maxV}, nil
}

// Reserved metadata keys.
const (
	MetaProgressionPending      = "progression_pending"
	MetaLastProgressionMin      = "last_progression_min"
	MetaLastProgressionMax      = "last_progression_max"
	MetaLastTestedCrashRevision = "last_tested_crash_revision"
	MetaLastTestedCrashTime     = "last_tested_crash_time"
	MetaClosedTime              = "closed_time"
	MetaTriageMessage           = "triage_message"
)

// TestCase is an input plus its attributed crash. Rows are never
// destroyed; logical deletion sets Deleted.
type TestCase struct {
	ID              string            `spanner:"ID"`
	CrashType       string            `spanner:"CrashType"`
	CrashState      string            `spanner:"CrashState"`
	SecurityFlag    bool              `spanner:"SecurityFlag"`
	Reproducible    bool              `spanner:"Reproducible"`
	GroupID         spanner.NullString `spanner:"GroupID"`
	JobType         string            `spanner:"JobType"`
	FuzzerName      string            `spanner:"FuzzerName"`
	BugInformation  spanner.NullString `spanner:"BugInformation"`
	RegressionRange spanner.NullString `spanner:"RegressionRange"`
	FixedRangeText  spanner.NullString `spanner:"FixedRange"`
	PotentiallyFlaky bool             `spanner:"PotentiallyFlaky"`
	LastTestedRevision spanner.NullInt64 `spanner:"LastTestedRevision"`
	LastCrashStacktrace spanner.NullString `spanner:"LastCrashStacktrace"`
	Deleted         bool              `spanner:"Deleted"`
	Metadata        spanner.NullJSON  `spanner:"Metadata"`
}

// Meta reads one key from the free-form metadata map.
func (t *TestCase) Meta(key string) (any, bool) {
	if !t.Metadata.Valid {
		return nil, false
	}
	m, ok := t.Metadata.Value.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// SetMeta writes one key into the metadata map.
func (t *TestCase) SetMeta(key string, value any) {
	m, _ := t.Metadata.Value.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	m[key] = value
	t.Metadata = spanner.NullJSON{Value: m, Valid: true}
}

// ClearMeta removes one key; clearing the last key leaves an empty map,
// not NULL, so readers can tell "touched" from "never written".
func (t *TestCase) ClearMeta(key string) {
	m, ok := t.Metadata.Value.(map[string]any)
	if !ok {
		return
	}
	delete(m, key)
	t.Metadata = spanner.NullJSON{Value: m, Valid: true}
}

// FixedRange decodes the persisted column into a Fixed value.
func (t *TestCase) FixedRange() (Fixed, error) {
	if !t.FixedRangeText.Valid {
		return Fixed{Kind: NotFixed}, nil
	}
	return ParseFixed(t.FixedRangeText.StringVal)
}

// SetFixedRange encodes f back into the persisted column.
func (t *TestCase) SetFixedRange(f Fixed) {
	if f.Kind == NotFixed {
		t.FixedRangeText = spanner.NullString{}
		return
	}
	t.FixedRangeText = spanner.NullString{StringVal: f.String(), Valid: true}
}

// RevisionList is the ordered, strictly increasing sequence of
// revisions a job bisects over. The zero value is invalid; use
// NewRevisionList.
type RevisionList struct {
	revisions []int
}

func NewRevisionList(revisions []int) (RevisionList, error) {
	if len(revisions) == 0 {
		return RevisionList{}, fmt.Errorf("store: revision list must not be empty")
	}
	for i := 1; i < len(revisions); i++ {
		if revisions[i] <= revisions[i-1] {
			return RevisionList{}, fmt.Errorf("store: revision list must be strictly increasing")
		}
	}
	out := make([]int, len(revisions))
	copy(out, revisions)
	return RevisionList{revisions: out}, nil
}

func (r RevisionList) Len() int { return len(r.revisions) }

func (r RevisionList) At(index int) int { return r.revisions[index] }

// Remove drops the revision at index, returning a new list.
func (r RevisionList) Remove(index int) RevisionList {
	out := make([]int, 0, len(r.revisions)-1)
	out = append(out, r.revisions[:index]...)
	out = append(out, r.revisions[index+1:]...)
	return RevisionList{revisions: out}
}
