// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bpe implements a character level byte-pair-encoding (BPE) tokenizer driven by a
// pre-built vocabulary and an ordered merge table.
//
// Encoding maps each character (Unicode code point) to its base id and then collapses adjacent
// pairs into merged ids following the merge rules. Decoding expands merged ids back into their
// characters.
//
// Example:
//
//	vocab, _ := bpe.NewVocabulary(map[string]tokens.ID{"ا": 1, "ب": 2, "و": 3}, id2char)
//	merges, _ := bpe.NewMergeTable([]bpe.MergeRule{{ID: 4, Pair: tokens.Pair{1, 2}}})
//	tok, _ := bpe.New(vocab, merges)
//	ids := tok.Encode("ابو") // [4 3]
//	text := tok.Decode(ids) // "ابو"
package bpe

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/pkg/errors"
)

// MergeStrategy selects how merge rules are applied during encoding.
type MergeStrategy int

const (
	// FixedPriority applies the rules in creation order: for each rule, a single left-to-right pass
	// replaces every non-overlapping occurrence of its pair. This is the default.
	FixedPriority MergeStrategy = iota

	// GreedyEarliest repeatedly scans the sequence left-to-right, merging at each position the pair
	// matched by the highest priority rule, until a full pass makes no change.
	//
	// It can produce different tokens than FixedPriority when rules overlap, since an earlier
	// position wins over a higher priority rule.
	GreedyEarliest
)

// String implements fmt.Stringer.
func (s MergeStrategy) String() string {
	switch s {
	case FixedPriority:
		return "fixed_priority"
	case GreedyEarliest:
		return "greedy_earliest"
	default:
		return fmt.Sprintf("MergeStrategy(%d)", int(s))
	}
}

// ParseMergeStrategy converts the name returned by MergeStrategy.String back to a MergeStrategy.
func ParseMergeStrategy(name string) (MergeStrategy, error) {
	for _, s := range []MergeStrategy{FixedPriority, GreedyEarliest} {
		if s.String() == name {
			return s, nil
		}
	}
	return FixedPriority, errors.Errorf("unknown merge strategy %q, valid values are %q and %q",
		name, FixedPriority, GreedyEarliest)
}

// Tokenizer encodes text to token ids and decodes them back.
//
// Invariants:
//   - No merged id is the id of a base character.
//   - Each rule's constituents are base ids or ids created by earlier rules.
//   - expansions[id] is the full text of every merged id, computed once at construction.
//
// A Tokenizer is immutable and safe for concurrent use.
type Tokenizer struct {
	vocab    *Vocabulary
	merges   *MergeTable
	strategy MergeStrategy

	// expansions holds the decoded text of every merged id.
	expansions map[tokens.ID]string
}

// New creates a Tokenizer from a vocabulary and a merge table, using the FixedPriority strategy.
//
// It validates the merge table against the vocabulary and pre-computes the expansion of every
// merged id.
func New(vocab *Vocabulary, merges *MergeTable) (*Tokenizer, error) {
	if vocab == nil || merges == nil {
		return nil, errors.New("bpe.New requires both a vocabulary and a merge table")
	}
	if err := merges.validate(vocab); err != nil {
		return nil, errors.WithMessage(err, "invalid merge table")
	}
	t := &Tokenizer{
		vocab:    vocab,
		merges:   merges,
		strategy: FixedPriority,
	}
	expansions, err := expandMerges(vocab, merges)
	if err != nil {
		return nil, err
	}
	t.expansions = expansions
	return t, nil
}

// WithMergeStrategy returns a Tokenizer that shares the tables of t but encodes with the given strategy.
// The original t is not changed.
func (t *Tokenizer) WithMergeStrategy(strategy MergeStrategy) *Tokenizer {
	t2 := *t
	t2.strategy = strategy
	return &t2
}

// MergeStrategy used by Encode.
func (t *Tokenizer) MergeStrategy() MergeStrategy {
	return t.strategy
}

// Vocabulary returns the base vocabulary.
func (t *Tokenizer) Vocabulary() *Vocabulary {
	return t.vocab
}

// Merges returns the merge table.
func (t *Tokenizer) Merges() *MergeTable {
	return t.merges
}

// Encode converts text to token ids.
//
// Characters not in the vocabulary are mapped to Vocabulary.UnknownID: encoding never fails.
// The number of tokens returned is at most the number of characters in text.
func (t *Tokenizer) Encode(text string) tokens.Sequence {
	seq := make(tokens.Sequence, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		seq = append(seq, t.vocab.LookupOrUnknown(r))
	}
	switch t.strategy {
	case GreedyEarliest:
		return t.mergeGreedyEarliest(seq)
	default:
		return t.mergeFixedPriority(seq)
	}
}

// mergeFixedPriority applies each rule once, in creation order. The merge is done in place:
// the write position never passes the read position.
func (t *Tokenizer) mergeFixedPriority(seq tokens.Sequence) tokens.Sequence {
	for _, rule := range t.merges.rules {
		if len(seq) < 2 {
			break
		}
		a, b := rule.Pair[0], rule.Pair[1]
		out := seq[:0]
		for i := 0; i < len(seq); {
			if i+1 < len(seq) && seq[i] == a && seq[i+1] == b {
				out = append(out, rule.ID)
				i += 2
				continue
			}
			out = append(out, seq[i])
			i++
		}
		seq = out
	}
	return seq
}

// mergeGreedyEarliest merges at the earliest matching position until a fixpoint is reached.
// Each productive pass shortens the sequence, so it takes at most len(seq) passes.
func (t *Tokenizer) mergeGreedyEarliest(seq tokens.Sequence) tokens.Sequence {
	for {
		changed := false
		out := seq[:0]
		for i := 0; i < len(seq); {
			if i+1 < len(seq) {
				if id, found := t.merges.Match(seq[i], seq[i+1]); found {
					out = append(out, id)
					i += 2
					changed = true
					continue
				}
			}
			out = append(out, seq[i])
			i++
		}
		seq = out
		if !changed {
			return seq
		}
	}
}

// DecodeToken returns the text of a single token id.
//
// Merged ids are expanded to their characters, base ids are looked up in the vocabulary, and
// unknown ids decode to the empty string.
func (t *Tokenizer) DecodeToken(id tokens.ID) string {
	if text, found := t.expansions[id]; found {
		return text
	}
	char, _ := t.vocab.Char(id)
	return char
}

// Decode converts token ids back to text, concatenating the text of each token.
func (t *Tokenizer) Decode(seq tokens.Sequence) string {
	var sb strings.Builder
	for _, id := range seq {
		sb.WriteString(t.DecodeToken(id))
	}
	return sb.String()
}
