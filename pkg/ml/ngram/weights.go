// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ngram

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Weights are the Jelinek-Mercer interpolation weights (λ1, λ2, λ3) of the unigram, bigram and
// trigram estimates.
//
// The model doesn't require them to sum to 1: the sampler accepts unnormalized weights. Use
// Validate to reject degenerate configurations before loading.
type Weights struct {
	L1, L2, L3 float64
}

// WeightsTolerance is the tolerance used by Weights.Validate when checking that the weights sum to 1.
const WeightsTolerance = 1e-6

// Sum of the three weights.
func (w Weights) Sum() float64 {
	return w.L1 + w.L2 + w.L3
}

// Validate returns an error if any weight is outside [0, 1], if they are all zero, or if they don't
// sum to 1 (within WeightsTolerance).
func (w Weights) Validate() error {
	for i, l := range []float64{w.L1, w.L2, w.L3} {
		if math.IsNaN(l) || l < 0 || l > 1 {
			return errors.Errorf("interpolation weight λ%d=%g is outside [0, 1]", i+1, l)
		}
	}
	if w.L1 == 0 && w.L2 == 0 && w.L3 == 0 {
		return errors.New("interpolation weights are all zero")
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightsTolerance {
		return errors.Errorf("interpolation weights %s sum to %g, expected 1", w, sum)
	}
	return nil
}

// String implements fmt.Stringer, in the same "l1,l2,l3" format accepted by ParseWeights.
func (w Weights) String() string {
	return fmt.Sprintf("%g,%g,%g", w.L1, w.L2, w.L3)
}

// Slice returns the weights as [λ1, λ2, λ3].
func (w Weights) Slice() []float64 {
	return []float64{w.L1, w.L2, w.L3}
}

// WeightsFromSlice converts [λ1, λ2, λ3] to Weights.
func WeightsFromSlice(lambdas []float64) (Weights, error) {
	if len(lambdas) != 3 {
		return Weights{}, errors.Errorf("expected 3 interpolation weights, got %d", len(lambdas))
	}
	return Weights{L1: lambdas[0], L2: lambdas[1], L3: lambdas[2]}, nil
}

// ParseWeights parses weights in the format "l1,l2,l3", e.g. "0.1,0.3,0.6". Spaces are ignored.
// It doesn't validate the values, see Weights.Validate.
func ParseWeights(text string) (Weights, error) {
	parts := strings.Split(text, ",")
	lambdas := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Weights{}, errors.Wrapf(err, "failed to parse interpolation weights %q", text)
		}
		lambdas = append(lambdas, v)
	}
	w, err := WeightsFromSlice(lambdas)
	if err != nil {
		return Weights{}, errors.WithMessagef(err, "failed to parse interpolation weights %q", text)
	}
	return w, nil
}
