// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package server

import "unicode"

// UrduMinFraction is the minimum fraction of non-space characters of a prompt that must be in the
// Urdu script ranges.
const UrduMinFraction = 0.7

// UrduRequiredMessage is the error returned for prompts that are not in Urdu.
const UrduRequiredMessage = "براہ کرم اردو میں لکھیں (Please write in Urdu)"

// isUrduRune returns whether r is in the Arabic (U+0600-U+06FF) or Arabic Supplement
// (U+0750-U+077F) blocks.
func isUrduRune(r rune) bool {
	return (r >= 0x0600 && r <= 0x06FF) || (r >= 0x0750 && r <= 0x077F)
}

// IsUrduText returns whether at least UrduMinFraction of the non-space characters of text are
// Urdu. Empty or all-space texts are not Urdu.
func IsUrduText(text string) bool {
	var urdu, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if isUrduRune(r) {
			urdu++
		}
	}
	if total == 0 {
		return false
	}
	return float64(urdu)/float64(total) >= UrduMinFraction
}
