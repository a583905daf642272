// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import (
	"sort"
	"sync"

	"github.com/VividCortex/gohistogram"
)

// Distribution tracks a running latency/size distribution, for values
// where a single mean (AverageValue) hides the shape that matters, e.g.
// reproduction-trial wall time across a bisection run. Like Val, a
// Distribution is registered at creation and shows up in RenderStatus.
type Distribution struct {
	Name string
	Desc string

	mu    sync.Mutex
	hist  *gohistogram.NumericHistogram
	count int64
}

var (
	distMu        sync.Mutex
	distributions []*Distribution
)

// NewDistribution registers an approximate histogram with `bins`
// buckets; 20 bins is enough resolution for the session/bisection
// timing data this package reports on.
func NewDistribution(name, desc string, bins int) *Distribution {
	if bins <= 0 {
		bins = 20
	}
	d := &Distribution{Name: name, Desc: desc, hist: gohistogram.NewHistogram(bins)}
	distMu.Lock()
	distributions = append(distributions, d)
	distMu.Unlock()
	return d
}

// Distributions returns the registered distributions sorted by name.
func Distributions() []*Distribution {
	distMu.Lock()
	defer distMu.Unlock()
	out := make([]*Distribution, len(distributions))
	copy(out, distributions)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Distribution) Add(value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hist.Add(value)
	d.count++
}

// Count returns how many observations were recorded; callers use it to
// skip empty distributions whose Mean/Quantile are meaningless.
func (d *Distribution) Count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func (d *Distribution) Mean() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hist.Mean()
}

func (d *Distribution) Quantile(q float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hist.Quantile(q)
}
