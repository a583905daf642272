// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
)

// TestCaseRepository stores and mutates TestCase rows. Existing rows are
// changed by Update (an atomic read-modify-write keyed by ID) or
// overwritten by Insert with the same ID.
type TestCaseRepository struct {
	client *spanner.Client
}

// Insert creates a new TestCase, or updates the existing row with the
// same ID if one is already present (the first-observed-crash creation
// path, which may race between sessions).
func (r *TestCaseRepository) Insert(ctx context.Context, tc *TestCase) error {
	_, err := r.client.ReadWriteTransaction(ctx,
		func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
			stmt := spanner.Statement{
				SQL:    "SELECT * FROM `TestCases` WHERE `ID` = @id",
				Params: map[string]interface{}{"id": tc.ID},
			}
			iter := txn.Query(ctx, stmt)
			defer iter.Stop()

			var mutation *spanner.Mutation
			var err error
			if _, iterErr := iter.Next(); iterErr == nil {
				mutation, err = spanner.UpdateStruct("TestCases", tc)
			} else if iterErr != iterator.Done {
				return iterErr
			} else {
				mutation, err = spanner.InsertStruct("TestCases", tc)
			}
			if err != nil {
				return err
			}
			return txn.BufferWrite([]*spanner.Mutation{mutation})
		})
	return err
}

// Get fetches a single TestCase by ID.
func (r *TestCaseRepository) Get(ctx context.Context, id string) (*TestCase, error) {
	row, err := r.client.Single().ReadRow(ctx, "TestCases", spanner.Key{id}, testCaseColumns)
	if err != nil {
		return nil, err
	}
	var tc TestCase
	if err := row.ToStruct(&tc); err != nil {
		return nil, err
	}
	return &tc, nil
}

// Update performs an atomic read-modify-write: it reads the current row
// inside a transaction, applies fn, and writes the result back in the
// same transaction. fn returning an error aborts the transaction and no
// write occurs.
func (r *TestCaseRepository) Update(ctx context.Context, id string, fn func(*TestCase) error) error {
	_, err := r.client.ReadWriteTransaction(ctx,
		func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
			row, err := txn.ReadRow(ctx, "TestCases", spanner.Key{id}, testCaseColumns)
			if err != nil {
				return fmt.Errorf("store: read testcase %s: %w", id, err)
			}
			var tc TestCase
			if err := row.ToStruct(&tc); err != nil {
				return err
			}
			if err := fn(&tc); err != nil {
				return err
			}
			mutation, err := spanner.UpdateStruct("TestCases", &tc)
			if err != nil {
				return err
			}
			return txn.BufferWrite([]*spanner.Mutation{mutation})
		})
	return err
}

var testCaseColumns = []string{
	"ID", "CrashType", "CrashState", "SecurityFlag", "Reproducible", "GroupID",
	"JobType", "FuzzerName", "BugInformation", "RegressionRange", "FixedRange",
	"PotentiallyFlaky", "LastTestedRevision", "LastCrashStacktrace", "Deleted", "Metadata",
}
