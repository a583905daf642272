// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package workflow hands Session Runner and Progression Bisector runs
// off to an external orchestrator (Argo Workflows) and reports back
// their state: it's assumed the workflow queries whatever it needs and
// reports its own detailed progress, so this package only needs to
// start it and poll its overall status.
package workflow

import (
	"sync"
	"time"
)

// Service starts a run for a given target/run pair and reports back its
// coarse-grained status.
type Service interface {
	Start(runID, targetName string) error
	Status(runID string) (Status, error)
	// PollPeriod is the recommended polling interval; it may depend on
	// the implementation (test/prod).
	PollPeriod() time.Duration
}

type Status string

const (
	StatusNotFound Status = "not_found"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// MockService serializes callback invocations to simplify test
// implementations.
type MockService struct {
	mu             sync.Mutex
	PollDelayValue time.Duration
	OnStart        func(runID, targetName string) error
	OnStatus       func(runID string) (Status, error)
}

func (ms *MockService) Start(runID, targetName string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.OnStart != nil {
		return ms.OnStart(runID, targetName)
	}
	return nil
}

func (ms *MockService) Status(runID string) (Status, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.OnStatus != nil {
		return ms.OnStatus(runID)
	}
	return StatusNotFound, nil
}

func (ms *MockService) PollPeriod() time.Duration {
	return ms.PollDelayValue
}
