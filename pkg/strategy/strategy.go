// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package strategy implements the per-session weighted selection of
// fuzzing strategies: one Bernoulli draw per independent knob, plus a
// cumulative-weight draw picking at most one mutation generator.
package strategy

import "math/rand"

// Tag names one optional fuzzing behavior a session may enable.
type Tag string

const (
	CorpusSubset          Tag = "corpus_subset"
	DataflowTracing        Tag = "dataflow_tracing"
	RecommendedDictionary Tag = "recommended_dictionary"
	RandomMaxLength       Tag = "random_max_length"
	ValueProfile          Tag = "value_profile"
	Fork                  Tag = "fork"
	MutatorPlugin         Tag = "mutator_plugin"

	// Generator tags are mutually exclusive; see Sample's useGenerator argument.
	ByteLevelGenerator  Tag = "radamsa"
	ModelBasedGenerator Tag = "ml_rnn"
)

// Declared is one entry in the configured strategy list: a tag plus its
// selection weight in [0,1].
type Declared struct {
	Tag    Tag
	Weight float64
}

// Pool is the immutable set of strategies enabled for one session.
type Pool struct {
	enabled map[Tag]bool
}

// Has reports whether tag was sampled into this pool.
func (p Pool) Has(tag Tag) bool {
	return p.enabled[tag]
}

// Tags returns the enabled tags; order is not significant.
func (p Pool) Tags() []Tag {
	out := make([]Tag, 0, len(p.enabled))
	for t := range p.enabled {
		out = append(out, t)
	}
	return out
}

var generatorTags = []Tag{ByteLevelGenerator, ModelBasedGenerator}

// Sample draws the enabled strategy set once at session start. Every
// non-generator tag is an independent Bernoulli draw at its declared
// weight. If useGenerator is true, exactly one of the generator tags
// declared with a positive weight is chosen according to their relative
// weights (never both; none when no generator has a positive weight); if
// false, neither generator tag is enabled regardless of weight.
func Sample(rnd *rand.Rand, declared []Declared, useGenerator bool) Pool {
	enabled := map[Tag]bool{}
	var generators []Declared
	for _, d := range declared {
		if isGenerator(d.Tag) {
			if d.Weight > 0 {
				generators = append(generators, d)
			}
			continue
		}
		if d.Weight > 0 && rnd.Float64() < d.Weight {
			enabled[d.Tag] = true
		}
	}
	if useGenerator && len(generators) > 0 {
		enabled[pickWeighted(rnd, generators)] = true
	}
	return Pool{enabled: enabled}
}

func isGenerator(t Tag) bool {
	for _, g := range generatorTags {
		if g == t {
			return true
		}
	}
	return false
}

// pickWeighted performs the cumulative-sum draw: sum the candidate
// weights, draw a uniform value in [0, total), walk the running sum
// until it reaches or exceeds the draw.
func pickWeighted(rnd *rand.Rand, items []Declared) Tag {
	var total float64
	for _, it := range items {
		total += it.Weight
	}
	draw := rnd.Float64() * total
	var running float64
	for _, it := range items {
		running += it.Weight
		if running >= draw {
			return it.Tag
		}
	}
	return items[len(items)-1].Tag
}
