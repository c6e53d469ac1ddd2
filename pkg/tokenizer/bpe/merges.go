// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bpe

import (
	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/pkg/errors"
)

// MergeRule collapses the adjacent pair of ids Pair into the single new id ID.
type MergeRule struct {
	ID   tokens.ID
	Pair tokens.Pair
}

// MergeTable is the ordered list of merge rules: the position of a rule is its priority, the first
// rule created is the first applied.
//
// It is immutable once created and safe for concurrent use.
type MergeTable struct {
	rules []MergeRule

	// byID maps a merged id to its constituents, used for decoding.
	byID map[tokens.ID]tokens.Pair

	// firstRule maps a pair to the index of the highest priority rule that merges it.
	firstRule map[tokens.Pair]int
}

// NewMergeTable creates a MergeTable from rules given in priority order.
//
// It returns an error if a merged id is defined twice.
func NewMergeTable(rules []MergeRule) (*MergeTable, error) {
	mt := &MergeTable{
		rules:     make([]MergeRule, len(rules)),
		byID:      make(map[tokens.ID]tokens.Pair, len(rules)),
		firstRule: make(map[tokens.Pair]int, len(rules)),
	}
	copy(mt.rules, rules)
	for idx, rule := range mt.rules {
		if _, found := mt.byID[rule.ID]; found {
			return nil, errors.Errorf("merge id %d defined more than once (second definition at position %d)",
				rule.ID, idx)
		}
		mt.byID[rule.ID] = rule.Pair
		if _, found := mt.firstRule[rule.Pair]; !found {
			mt.firstRule[rule.Pair] = idx
		}
	}
	return mt, nil
}

// Len returns the number of merge rules.
func (mt *MergeTable) Len() int {
	return len(mt.rules)
}

// Rules returns the rules in priority order. The returned slice must not be modified.
func (mt *MergeTable) Rules() []MergeRule {
	return mt.rules
}

// Pair returns the constituents of a merged id, and whether id is a merged id.
func (mt *MergeTable) Pair(id tokens.ID) (tokens.Pair, bool) {
	pair, found := mt.byID[id]
	return pair, found
}

// Match returns the merged id of the highest priority rule for the pair (a, b), if any.
func (mt *MergeTable) Match(a, b tokens.ID) (tokens.ID, bool) {
	idx, found := mt.firstRule[tokens.Pair{a, b}]
	if !found {
		return 0, false
	}
	return mt.rules[idx].ID, true
}

// MaxID returns the largest merged id, or -1 if there are no rules.
func (mt *MergeTable) MaxID() tokens.ID {
	maxID := tokens.ID(-1)
	for _, rule := range mt.rules {
		maxID = max(maxID, rule.ID)
	}
	return maxID
}

// validate checks the rules against the base vocabulary: merged ids must not be characters of
// the vocabulary, and each constituent must be a base id or the id of an earlier rule.
func (mt *MergeTable) validate(vocab *Vocabulary) error {
	created := make(map[tokens.ID]struct{}, len(mt.rules))
	for idx, rule := range mt.rules {
		if vocab.encodesTo(rule.ID) {
			return errors.Errorf("merge rule #%d creates id %d, which is already the id of a base character",
				idx, rule.ID)
		}
		for _, member := range rule.Pair {
			if _, found := created[member]; found {
				continue
			}
			if vocab.isBase(member) {
				continue
			}
			return errors.Errorf("merge rule #%d (%d <- %s) uses id %d, which is neither a base character nor "+
				"created by an earlier rule", idx, rule.ID, rule.Pair, member)
		}
		created[rule.ID] = struct{}{}
	}
	return nil
}
