// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ngram

import (
	"math"

	"github.com/gomlx/storygen/pkg/core/tokens"
)

// Pad returns a copy of seq left-padded to at least Order-1 tokens, so it holds a full context.
// Padding duplicates the first token, or uses 0 if seq is empty.
func Pad(seq tokens.Sequence) tokens.Sequence {
	missing := max(Order-1-len(seq), 0)
	padded := make(tokens.Sequence, missing, missing+len(seq))
	var fill tokens.ID
	if len(seq) > 0 {
		fill = seq[0]
	}
	for i := range padded {
		padded[i] = fill
	}
	return append(padded, seq...)
}

// Score accumulates the log-probability of scored tokens.
type Score struct {
	// LogProb is the sum of the natural log of the interpolated probability of each scored token.
	LogProb float64

	// Tokens is the number of tokens scored.
	Tokens int
}

// Add accumulates other into s.
func (s *Score) Add(other Score) {
	s.LogProb += other.LogProb
	s.Tokens += other.Tokens
}

// Perplexity returns exp(-LogProb/Tokens), or NaN if no token was scored.
func (s Score) Perplexity() float64 {
	if s.Tokens == 0 {
		return math.NaN()
	}
	return math.Exp(-s.LogProb / float64(s.Tokens))
}

// Score scores the tokens of seq that follow a full context: seq is padded as for generation
// (see Pad) and every token after the first Order-1 is scored by InterpolatedProb given the two
// tokens preceding it.
//
// The interpolated probabilities are not renormalized.
func (m *Model) Score(seq tokens.Sequence, weights Weights) Score {
	padded := Pad(seq)
	var s Score
	for i := Order - 1; i < len(padded); i++ {
		p := m.InterpolatedProb(padded[i-2], padded[i-1], padded[i], weights)
		s.LogProb += math.Log(p)
		s.Tokens++
	}
	return s
}

// LogProb returns the natural log-probability of seq, see Score.
func (m *Model) LogProb(seq tokens.Sequence, weights Weights) float64 {
	return m.Score(seq, weights).LogProb
}

// Perplexity returns the per-token perplexity of seq, see Score.
func (m *Model) Perplexity(seq tokens.Sequence, weights Weights) float64 {
	return m.Score(seq, weights).Perplexity()
}
