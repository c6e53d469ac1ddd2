// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tokens defines the token id types shared by the tokenizer, the n-gram model and the decoder.
//
// A token ID is either a base symbol (one character of the vocabulary) or a merged symbol created
// by a BPE merge rule. The id space is dense: ids are in the range [0, vocabSize).
package tokens

import (
	"fmt"
	"strings"
)

// ID of a token. Base characters and merged symbols share the same id space.
type ID int32

// Sequence is an ordered list of token ids.
//
// It is mutable while being built (encoding, generation), and should be treated as read-only once
// returned to a caller.
type Sequence []ID

// Pair of adjacent token ids. It is comparable and used as a map key for merge rules and bigram counts.
type Pair [2]ID

// Triple of adjacent token ids, used as a map key for trigram counts.
type Triple [3]ID

// String implements fmt.Stringer, in the same "(a, b)" format used by the persisted statistics.
func (p Pair) String() string {
	return fmt.Sprintf("(%d, %d)", p[0], p[1])
}

// String implements fmt.Stringer, in the same "(a, b, c)" format used by the persisted statistics.
func (t Triple) String() string {
	return fmt.Sprintf("(%d, %d, %d)", t[0], t[1], t[2])
}

// Context returns the pair formed by the first two elements of the triple.
func (t Triple) Context() Pair {
	return Pair{t[0], t[1]}
}

// Clone returns a copy of the sequence that doesn't share storage with s.
func (s Sequence) Clone() Sequence {
	if s == nil {
		return nil
	}
	s2 := make(Sequence, len(s))
	copy(s2, s)
	return s2
}

// Last returns the last n elements of the sequence. It panics if the sequence is shorter than n.
func (s Sequence) Last(n int) Sequence {
	return s[len(s)-n:]
}

// Ints converts the sequence to a slice of ints, convenient for printing and for JSON.
func (s Sequence) Ints() []int {
	ints := make([]int, len(s))
	for i, id := range s {
		ints[i] = int(id)
	}
	return ints
}

// FromInts converts a slice of ints to a Sequence.
func FromInts(ints []int) Sequence {
	s := make(Sequence, len(ints))
	for i, v := range ints {
		s[i] = ID(v)
	}
	return s
}

// String implements fmt.Stringer.
func (s Sequence) String() string {
	parts := make([]string, len(s))
	for i, id := range s {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
