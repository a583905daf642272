// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package store

import (
	"context"

	"cloud.google.com/go/spanner"
)

// Store wraps a Spanner client: one connection per worker, one
// repository type per concern (TestCaseRepository below).
type Store struct {
	client *spanner.Client
}

func Open(ctx context.Context, databaseURI string) (*Store, error) {
	client, err := spanner.NewClient(ctx, databaseURI)
	if err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() {
	s.client.Close()
}

func (s *Store) TestCases() *TestCaseRepository {
	return &TestCaseRepository{client: s.client}
}
