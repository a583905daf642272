// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package taskqueue defines the task surface that connects a session's
// output to the progression bisector and the other downstream consumers
// (minimize, regression, analyze), plus a thread-safe in-memory queue
// for tests and single-process deployments. Delivery is at-least-once,
// so every Task carries an Attempt counter and consumers must tolerate
// redelivery (ack is explicit, not implied by Next).
package taskqueue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Kind is one of the task surfaces a session's outcome can enqueue work
// onto.
type Kind string

const (
	KindProgression Kind = "progression"
	KindMinimize    Kind = "minimize"
	KindRegression  Kind = "regression"
	KindAnalyze     Kind = "analyze"
)

// Task is one unit of queued work. Payload is kind-specific and left
// opaque to the queue itself (the submitted value in-process; over pubsub
// a protobuf Struct that arrives back as a map[string]any); callers
// type-assert or unmarshal based on Kind.
type Task struct {
	ID      string
	Kind    Kind
	Payload any
	Attempt int
}

// Queue is the interface wanted by producers: hand off a task, don't
// wait for it to be processed.
type Queue interface {
	Submit(ctx context.Context, kind Kind, payload any) error
}

// Source is the interface wanted by consumers: pull the next task, and
// report back whether it was handled so redelivery can be suppressed or
// triggered.
type Source interface {
	// Next blocks until a task is available or ctx is cancelled.
	Next(ctx context.Context) (*Task, error)
	// Ack marks a task as durably processed. Until Ack is called a
	// crashed/killed consumer must see the task again.
	Ack(ctx context.Context, task *Task) error
	// Nack returns a task to the queue immediately, incrementing its
	// Attempt counter, for cases (deadline requeue, transient failure)
	// where the consumer wants redelivery sooner than its ack-deadline
	// timeout would normally allow.
	Nack(ctx context.Context, task *Task) error
}

// PlainQueue is a thread-safe, compacting in-memory queue: one process,
// at-least-once only insofar as a crash before Ack leaves a task
// in-flight forever (there is no redelivery timer). Good enough for
// tests and for a single-binary deployment; cmd/ entrypoints wanting
// cross-process durability use the pubsub-backed Queue/Source instead.
type PlainQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []*Task
	pos     int
	inFlight map[string]*Task
}

func Plain() *PlainQueue {
	pq := &PlainQueue{inFlight: make(map[string]*Task)}
	pq.cond = sync.NewCond(&pq.mu)
	return pq
}

func (pq *PlainQueue) Submit(ctx context.Context, kind Kind, payload any) error {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	const minSizeToCompact = 128
	if pq.pos > len(pq.tasks)/2 && len(pq.tasks) >= minSizeToCompact {
		copy(pq.tasks, pq.tasks[pq.pos:])
		for pq.pos > 0 {
			newLen := len(pq.tasks) - 1
			pq.tasks[newLen] = nil
			pq.tasks = pq.tasks[:newLen]
			pq.pos--
		}
	}
	pq.tasks = append(pq.tasks, &Task{ID: uuid.NewString(), Kind: kind, Payload: payload})
	pq.cond.Signal()
	return nil
}

func (pq *PlainQueue) Next(ctx context.Context) (*Task, error) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	for pq.pos >= len(pq.tasks) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				pq.cond.Broadcast()
			case <-done:
			}
		}()
		pq.cond.Wait()
		close(done)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	task := pq.tasks[pq.pos]
	pq.tasks[pq.pos] = nil
	pq.pos++
	pq.inFlight[task.ID] = task
	return task, nil
}

func (pq *PlainQueue) Ack(ctx context.Context, task *Task) error {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	delete(pq.inFlight, task.ID)
	return nil
}

func (pq *PlainQueue) Nack(ctx context.Context, task *Task) error {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	delete(pq.inFlight, task.ID)
	task.Attempt++
	pq.tasks = append(pq.tasks, task)
	pq.cond.Signal()
	return nil
}
