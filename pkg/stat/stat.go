// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stat provides the small counter registry used to publish
// worker-side progress (sessions run and failed, session wall time,
// bisection trial latency) for console/monitoring consumption.
package stat

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Option func(*Val)

// Console marks a value as worth printing on the worker's periodic status line.
func Console(v *Val) { v.console = true }

// NoGraph excludes a value from time-series graphing (it's a point-in-time gauge).
func NoGraph(v *Val) { v.noGraph = true }

type Val struct {
	Name string
	Desc string

	console bool
	noGraph bool

	mu    sync.Mutex
	value int
	fn    func() int
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Val{}
)

// New registers a counter updated via Add.
func New(name, desc string, opts ...Option) *Val {
	return create(name, desc, nil, opts...)
}

// Create registers a value; with a non-nil fn, Value is computed on
// demand, otherwise Add/Value operate on an internal accumulator.
func Create(name, desc string, fn func() int, opts ...Option) *Val {
	return create(name, desc, fn, opts...)
}

func create(name, desc string, fn func() int, opts ...Option) *Val {
	v := &Val{Name: name, Desc: desc, fn: fn}
	for _, opt := range opts {
		opt(v)
	}
	registryMu.Lock()
	registry[name] = v
	registryMu.Unlock()
	return v
}

func (v *Val) Add(delta int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value += delta
}

func (v *Val) Value() int {
	if v.fn != nil {
		return v.fn()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Snapshot returns all registered values keyed by name, for a status line
// or a one-shot metrics scrape.
func Snapshot() map[string]int {
	registryMu.Lock()
	defer registryMu.Unlock()
	ret := make(map[string]int, len(registry))
	for name, v := range registry {
		ret[name] = v.Value()
	}
	return ret
}

// ConsoleNames returns the names of values marked Console, in sorted order.
func ConsoleNames() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	var names []string
	for name, v := range registry {
		if v.console {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RenderStatus formats the Console-marked values plus every non-empty
// distribution as one status line for the worker's periodic log output.
func RenderStatus() string {
	vals := Snapshot()
	var parts []string
	for _, name := range ConsoleNames() {
		parts = append(parts, fmt.Sprintf("%s=%d", name, vals[name]))
	}
	for _, d := range Distributions() {
		if d.Count() == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s mean=%.2f p95=%.2f", d.Name, d.Mean(), d.Quantile(0.95)))
	}
	if len(parts) == 0 {
		return "no stats recorded"
	}
	return strings.Join(parts, ", ")
}

// AverageValue tracks a running mean of observations of type T.
type AverageValue[T float64 | int64] struct {
	mu    sync.Mutex
	sum   T
	count int64
}

func (a *AverageValue[T]) Save(v T) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sum += v
	a.count++
}

func (a *AverageValue[T]) Value() T {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count == 0 {
		return 0
	}
	return a.sum / T(a.count)
}

func (a *AverageValue[T]) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}
