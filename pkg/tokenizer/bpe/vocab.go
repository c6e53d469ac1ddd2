// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bpe

import (
	"slices"
	"unicode/utf8"

	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/pkg/errors"
)

// Vocabulary maps base (unmerged) characters to token ids and back.
//
// It is immutable once created and safe for concurrent use.
type Vocabulary struct {
	char2id   map[rune]tokens.ID
	id2char   map[tokens.ID]string
	charIDs   map[tokens.ID]struct{} // Values of char2id.
	unknownID tokens.ID
}

// NewVocabulary creates a Vocabulary from the character->id mapping (each key must be exactly one
// character) and the inverse id->character mapping used for decoding.
//
// The two mappings are usually loaded from separate files and are not required to be exact
// inverses: id2char may hold entries for ids that are never produced by char2id.
func NewVocabulary(char2id map[string]tokens.ID, id2char map[tokens.ID]string) (*Vocabulary, error) {
	v := &Vocabulary{
		char2id: make(map[rune]tokens.ID, len(char2id)),
		id2char: make(map[tokens.ID]string, len(id2char)),
		charIDs: make(map[tokens.ID]struct{}, len(char2id)),
	}
	for char, id := range char2id {
		if utf8.RuneCountInString(char) != 1 {
			return nil, errors.Errorf("vocabulary key %q must be a single character, got %d characters",
				char, utf8.RuneCountInString(char))
		}
		if id < 0 {
			return nil, errors.Errorf("vocabulary character %q has negative id %d", char, id)
		}
		r, _ := utf8.DecodeRuneInString(char)
		v.char2id[r] = id
		v.charIDs[id] = struct{}{}
	}
	for id, char := range id2char {
		if id < 0 {
			return nil, errors.Errorf("inverse vocabulary has negative id %d (for %q)", id, char)
		}
		v.id2char[id] = char
	}
	if id, found := v.char2id[' ']; found {
		v.unknownID = id
	}
	return v, nil
}

// Lookup returns the base id of the character r, and whether it is known.
func (v *Vocabulary) Lookup(r rune) (tokens.ID, bool) {
	id, found := v.char2id[r]
	return id, found
}

// LookupOrUnknown returns the base id of the character r, or UnknownID if r is not in the vocabulary.
func (v *Vocabulary) LookupOrUnknown(r rune) tokens.ID {
	if id, found := v.char2id[r]; found {
		return id
	}
	return v.unknownID
}

// Char returns the text of a base id, and whether it is known.
func (v *Vocabulary) Char(id tokens.ID) (string, bool) {
	char, found := v.id2char[id]
	return char, found
}

// UnknownID is the id used for characters not in the vocabulary: the id of the space character " ",
// or 0 if the vocabulary has no space.
func (v *Vocabulary) UnknownID() tokens.ID {
	return v.unknownID
}

// Size returns the number of base characters known for encoding.
func (v *Vocabulary) Size() int {
	return len(v.char2id)
}

// isBase returns whether the id is used by any of the two mappings.
func (v *Vocabulary) isBase(id tokens.ID) bool {
	if _, found := v.id2char[id]; found {
		return true
	}
	return v.encodesTo(id)
}

// encodesTo returns whether some character encodes to id.
func (v *Vocabulary) encodesTo(id tokens.ID) bool {
	_, found := v.charIDs[id]
	return found
}

// Enumerate calls fn for every entry of the inverse vocabulary, in increasing id order.
func (v *Vocabulary) Enumerate(fn func(id tokens.ID, char string)) {
	ids := make([]tokens.ID, 0, len(v.id2char))
	for id := range v.id2char {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fn(id, v.id2char[id])
	}
}
