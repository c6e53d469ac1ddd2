// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bpe

import (
	"strings"

	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/pkg/errors"
)

// expandMerges computes the text of every merged id.
//
// It uses an explicit work stack instead of recursion, so arbitrarily deep merge chains don't grow
// the call stack, and it memoizes every expansion so each merged id is expanded exactly once.
func expandMerges(vocab *Vocabulary, merges *MergeTable) (map[tokens.ID]string, error) {
	expansions := make(map[tokens.ID]string, merges.Len())

	type frame struct {
		id       tokens.ID
		expanded bool // Whether the constituents have already been pushed.
	}
	var stack []frame
	inProgress := make(map[tokens.ID]struct{})

	for _, rule := range merges.rules {
		if _, done := expansions[rule.ID]; done {
			continue
		}
		stack = append(stack[:0], frame{id: rule.ID})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if _, done := expansions[top.id]; done {
				stack = stack[:len(stack)-1]
				continue
			}
			pair, _ := merges.Pair(top.id)
			if !top.expanded {
				top.expanded = true
				inProgress[top.id] = struct{}{}
				// Push right then left, only the ones that still need expanding.
				for i := len(pair) - 1; i >= 0; i-- {
					member := pair[i]
					if _, isMerge := merges.Pair(member); !isMerge {
						continue
					}
					if _, done := expansions[member]; done {
						continue
					}
					if _, cycle := inProgress[member]; cycle {
						return nil, errors.Errorf("merge table has a cycle through id %d", member)
					}
					stack = append(stack, frame{id: member})
				}
				continue
			}
			// Both constituents are now expanded (or are base ids).
			var sb strings.Builder
			for _, member := range pair {
				if text, isMerge := expansions[member]; isMerge {
					sb.WriteString(text)
				} else {
					char, _ := vocab.Char(member)
					sb.WriteString(char)
				}
			}
			expansions[top.id] = sb.String()
			delete(inProgress, top.id)
			stack = stack[:len(stack)-1]
		}
	}
	return expansions, nil
}
