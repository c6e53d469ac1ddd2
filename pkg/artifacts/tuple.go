// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package artifacts

import (
	"strconv"

	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/pkg/errors"
)

// parseTupleKey parses a textual tuple of token ids, like "(3, 7)" or "(3,7,11)", as written by
// Python's str() of a tuple.
//
// Only parentheses, decimal digits, commas and spaces are accepted, and the tuple must have exactly
// arity elements. Nothing is ever evaluated.
func parseTupleKey(key string, arity int) ([]tokens.ID, error) {
	s := tupleScanner{text: key}
	ids := make([]tokens.ID, 0, arity)
	s.skipSpaces()
	if !s.consume('(') {
		return nil, s.errorf("expected '('")
	}
	for {
		s.skipSpaces()
		id, err := s.number()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		s.skipSpaces()
		if s.consume(')') {
			break
		}
		if !s.consume(',') {
			return nil, s.errorf("expected ',' or ')'")
		}
	}
	s.skipSpaces()
	if !s.done() {
		return nil, s.errorf("unexpected trailing characters")
	}
	if len(ids) != arity {
		return nil, errors.Errorf("tuple key %q has %d elements, expected %d", key, len(ids), arity)
	}
	return ids, nil
}

// parseIDKey parses the key of a unigram or vocabulary entry: a non-negative decimal integer.
func parseIDKey(key string) (tokens.ID, error) {
	s := tupleScanner{text: key}
	s.skipSpaces()
	id, err := s.number()
	if err != nil {
		return 0, err
	}
	s.skipSpaces()
	if !s.done() {
		return 0, s.errorf("unexpected trailing characters")
	}
	return id, nil
}

type tupleScanner struct {
	text string
	pos  int
}

func (s *tupleScanner) done() bool {
	return s.pos >= len(s.text)
}

func (s *tupleScanner) skipSpaces() {
	for !s.done() && s.text[s.pos] == ' ' {
		s.pos++
	}
}

func (s *tupleScanner) consume(c byte) bool {
	if !s.done() && s.text[s.pos] == c {
		s.pos++
		return true
	}
	return false
}

func (s *tupleScanner) number() (tokens.ID, error) {
	start := s.pos
	for !s.done() && s.text[s.pos] >= '0' && s.text[s.pos] <= '9' {
		s.pos++
	}
	if start == s.pos {
		return 0, s.errorf("expected a decimal number")
	}
	v, err := strconv.ParseInt(s.text[start:s.pos], 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid token id in key %q", s.text)
	}
	return tokens.ID(v), nil
}

func (s *tupleScanner) errorf(msg string) error {
	return errors.Errorf("invalid key %q at position %d: %s", s.text, s.pos, msg)
}
