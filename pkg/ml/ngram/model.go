// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ngram implements a Laplace smoothed trigram language model over token ids, with the
// unigram, bigram and trigram estimates combined by linear (Jelinek-Mercer) interpolation.
//
// Every probability is strictly positive for every id, observed or not, so the interpolated
// weights always define a valid categorical distribution to sample from.
package ngram

import (
	"github.com/gomlx/storygen/pkg/core/tokens"
)

// Order of the model: the next token is conditioned on the previous Order-1 tokens.
const Order = 3

// Model computes smoothed n-gram probabilities from Counts.
//
// It is immutable and safe for concurrent use.
type Model struct {
	counts *Counts
	vocab  float64 // VocabSize as float, the add-one smoothing mass.
}

// New creates a Model backed by counts, which must not be modified afterwards.
func New(counts *Counts) *Model {
	return &Model{
		counts: counts,
		vocab:  float64(counts.VocabSize),
	}
}

// Counts returns the underlying frequency tables. They must not be modified.
func (m *Model) Counts() *Counts {
	return m.counts
}

// VocabSize returns the size of the id space sampled from.
func (m *Model) VocabSize() int {
	return m.counts.VocabSize
}

// UnigramProb returns (c(w)+1) / (TotalTokens+VocabSize).
func (m *Model) UnigramProb(w tokens.ID) float64 {
	return float64(m.counts.Unigrams[w]+1) / m.unigramDenominator()
}

// BigramProb returns P(w2|w1) = (c(w1,w2)+1) / (c(w1)+VocabSize).
func (m *Model) BigramProb(w1, w2 tokens.ID) float64 {
	return float64(m.counts.Bigrams[tokens.Pair{w1, w2}]+1) / m.bigramDenominator(w1)
}

// TrigramProb returns P(w3|w1,w2) = (c(w1,w2,w3)+1) / (c(w1,w2)+VocabSize).
func (m *Model) TrigramProb(w1, w2, w3 tokens.ID) float64 {
	return float64(m.counts.Trigrams[tokens.Triple{w1, w2, w3}]+1) / m.trigramDenominator(w1, w2)
}

// InterpolatedProb returns λ1·P(w3) + λ2·P(w3|w2) + λ3·P(w3|w1,w2).
func (m *Model) InterpolatedProb(w1, w2, w3 tokens.ID, weights Weights) float64 {
	return weights.L1*m.UnigramProb(w3) +
		weights.L2*m.BigramProb(w2, w3) +
		weights.L3*m.TrigramProb(w1, w2, w3)
}

func (m *Model) unigramDenominator() float64 {
	return float64(m.counts.TotalTokens) + m.vocab
}

func (m *Model) bigramDenominator(w1 tokens.ID) float64 {
	return float64(m.counts.Unigrams[w1]) + m.vocab
}

func (m *Model) trigramDenominator(w1, w2 tokens.ID) float64 {
	return float64(m.counts.Bigrams[tokens.Pair{w1, w2}]) + m.vocab
}

// Distribution returns the interpolated weights InterpolatedProb(w1, w2, t) of every t in
// [0, VocabSize), in a slice indexed by t.
//
// The weights are not normalized. If dst has enough capacity it is reused, otherwise a new slice
// is allocated.
func (m *Model) Distribution(w1, w2 tokens.ID, weights Weights, dst []float64) []float64 {
	vocabSize := m.counts.VocabSize
	if cap(dst) < vocabSize {
		dst = make([]float64, vocabSize)
	}
	dst = dst[:vocabSize]

	// The denominators only depend on the context.
	l1 := weights.L1 / m.unigramDenominator()
	l2 := weights.L2 / m.bigramDenominator(w2)
	l3 := weights.L3 / m.trigramDenominator(w1, w2)
	for t := range vocabSize {
		id := tokens.ID(t)
		dst[t] = l1*float64(m.counts.Unigrams[id]+1) +
			l2*float64(m.counts.Bigrams[tokens.Pair{w2, id}]+1) +
			l3*float64(m.counts.Trigrams[tokens.Triple{w1, w2, id}]+1)
	}
	return dst
}
