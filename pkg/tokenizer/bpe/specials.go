// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bpe

import "strings"

// Sentinel characters used in the training text. They are ordinary characters of the vocabulary,
// so they are encoded and decoded like any other.
const (
	// EOS marks the end of a sentence.
	EOS = "␞"

	// EOP marks the end of a paragraph.
	EOP = "␝"

	// EOT marks the end of a text (a story). Sampling its token ends generation.
	EOT = "\u0003"
)

// SpecialTokens lists the sentinel characters.
var SpecialTokens = []string{EOS, EOP, EOT}

var specialsReplacer = strings.NewReplacer(
	EOS, "",
	EOP, "\n\n",
	EOT, "",
)

// ReconvertSpecials replaces the sentinels in decoded text by their presentation form:
// end-of-paragraph becomes a blank line, end-of-sentence and end-of-text are removed.
func ReconvertSpecials(text string) string {
	return specialsReplacer.Replace(text)
}
