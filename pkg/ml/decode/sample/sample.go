// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sample provides the sampling strategies used for autoregressive generation: each
// selects one index from a vector of (not necessarily normalized) weights.
package sample

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Strategy represents the different types of sampling available.
type Strategy int

const (
	// StrategyWeighted samples an index with probability proportional to its weight. It's the default.
	StrategyWeighted Strategy = iota

	// StrategyGreedy selects the index with the largest weight. With an n-gram model it easily
	// loops forever without reaching the end-of-text token, so it should be used with a cap on the
	// number of tokens.
	StrategyGreedy
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case StrategyWeighted:
		return "weighted"
	case StrategyGreedy:
		return "greedy"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy converts the name returned by Strategy.String back to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range []Strategy{StrategyWeighted, StrategyGreedy} {
		if s.String() == name {
			return s, nil
		}
	}
	return StrategyWeighted, errors.Errorf("unknown sampling strategy %q", name)
}

// Greedy returns the index of the largest weight, the first one in case of ties.
// It returns -1 if weights is empty.
func Greedy(weights []float64) int {
	best := -1
	for i, w := range weights {
		if best < 0 || w > weights[best] {
			best = i
		}
	}
	return best
}

// Weighted samples an index with probability weights[i]/Σweights.
//
// The weights don't need to be normalized: it draws u·Σweights, with u uniform in [0, 1), and walks
// the cumulative sum. Negative and NaN weights are treated as 0. If no weight is positive it falls
// back to a uniform choice. It returns -1 if weights is empty.
func Weighted(rng *rand.Rand, weights []float64) int {
	if len(weights) == 0 {
		return -1
	}
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 || math.IsInf(total, 1) {
		return rng.IntN(len(weights))
	}

	target := rng.Float64() * total
	var cumulative float64
	last := -1
	for i, w := range weights {
		if !(w > 0) {
			continue
		}
		cumulative += w
		last = i
		if target < cumulative {
			return i
		}
	}
	// Rounding can leave target just above the final cumulative sum.
	return last
}

// Sample dispatches to the given strategy.
func Sample(rng *rand.Rand, strategy Strategy, weights []float64) int {
	switch strategy {
	case StrategyGreedy:
		return Greedy(weights)
	default:
		return Weighted(rng, weights)
	}
}
