// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ngram

import (
	"cmp"
	"slices"

	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/pkg/errors"
)

// Counts holds the frequency tables of a trigram model.
//
// They are built offline and loaded once: Counts is read-only after it is handed to New.
type Counts struct {
	Unigrams map[tokens.ID]int64
	Bigrams  map[tokens.Pair]int64
	Trigrams map[tokens.Triple]int64

	// TotalTokens is the sum of the unigram counts.
	TotalTokens int64

	// VocabSize is the cardinality of the id space, merged ids included. Sampling draws ids from
	// [0, VocabSize).
	VocabSize int
}

// NewCounts returns empty Counts for the given vocabulary size.
func NewCounts(vocabSize int) *Counts {
	return &Counts{
		Unigrams:  make(map[tokens.ID]int64),
		Bigrams:   make(map[tokens.Pair]int64),
		Trigrams:  make(map[tokens.Triple]int64),
		VocabSize: vocabSize,
	}
}

// Validate checks that the vocabulary size is positive and that no count is negative.
//
// Ids outside [0, VocabSize) are accepted: they still get (smoothed) probabilities, but are
// never sampled.
func (c *Counts) Validate() error {
	if c.VocabSize <= 0 {
		return errors.Errorf("vocab_size must be > 0, got %d", c.VocabSize)
	}
	if c.TotalTokens < 0 {
		return errors.Errorf("total_tokens must be >= 0, got %d", c.TotalTokens)
	}
	for id, count := range c.Unigrams {
		if count < 0 {
			return errors.Errorf("unigram %d has negative count %d", id, count)
		}
	}
	for pair, count := range c.Bigrams {
		if count < 0 {
			return errors.Errorf("bigram %s has negative count %d", pair, count)
		}
	}
	for triple, count := range c.Trigrams {
		if count < 0 {
			return errors.Errorf("trigram %s has negative count %d", triple, count)
		}
	}
	return nil
}

// Entry is one n-gram with its count, as returned by the Top* methods.
type Entry[K comparable] struct {
	Key   K
	Count int64
}

// TopUnigrams returns the n most frequent unigrams, ties broken by increasing id.
func (c *Counts) TopUnigrams(n int) []Entry[tokens.ID] {
	return top(c.Unigrams, n, cmp.Compare[tokens.ID])
}

// TopBigrams returns the n most frequent bigrams, ties broken by increasing ids.
func (c *Counts) TopBigrams(n int) []Entry[tokens.Pair] {
	return top(c.Bigrams, n, func(a, b tokens.Pair) int { return slices.Compare(a[:], b[:]) })
}

// TopTrigrams returns the n most frequent trigrams, ties broken by increasing ids.
func (c *Counts) TopTrigrams(n int) []Entry[tokens.Triple] {
	return top(c.Trigrams, n, func(a, b tokens.Triple) int { return slices.Compare(a[:], b[:]) })
}

func top[K comparable](counts map[K]int64, n int, compareKeys func(a, b K) int) []Entry[K] {
	entries := make([]Entry[K], 0, len(counts))
	for key, count := range counts {
		entries = append(entries, Entry[K]{Key: key, Count: count})
	}
	slices.SortFunc(entries, func(a, b Entry[K]) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return compareKeys(a.Key, b.Key)
	})
	if n >= 0 && n < len(entries) {
		entries = entries[:n]
	}
	return entries
}
