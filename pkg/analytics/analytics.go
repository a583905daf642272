// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package analytics is the "fixed record" sink the progression bisector
// writes to once it converges: one row per converged bisection, naming
// the test case and the revision range it was fixed in, appended to a
// table rather than updated in place.
package analytics

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
)

// FixedRecord is one row of the "fixeds" table: which test case was
// fixed, and in what revision range.
type FixedRecord struct {
	TestCaseID   string    `bigquery:"testcase_id"`
	CrashType    string    `bigquery:"crash_type"`
	CrashState   string    `bigquery:"crash_state"`
	RangeStart   int       `bigquery:"range_start"`
	RangeEnd     int       `bigquery:"range_end"`
	RecordedTime time.Time `bigquery:"recorded_time"`
}

// Sink is what the progression consumer writes fixed records to. It is
// an interface, not a concrete *bigquery.Inserter, so tests can swap in
// a fake without touching cloud.google.com/go/bigquery.
type Sink interface {
	WriteFixed(ctx context.Context, rec FixedRecord) error
}

// BigQuerySink appends one row per fixed record to a BigQuery table.
// Every call is an append, never an update: a test case that later
// regresses and gets fixed again produces a second row rather than
// rewriting the first.
type BigQuerySink struct {
	inserter *bigquery.Inserter
}

func NewBigQuerySink(client *bigquery.Client, datasetID, tableID string) *BigQuerySink {
	table := client.Dataset(datasetID).Table(tableID)
	return &BigQuerySink{inserter: table.Inserter()}
}

func (s *BigQuerySink) WriteFixed(ctx context.Context, rec FixedRecord) error {
	return s.inserter.Put(ctx, rec)
}
