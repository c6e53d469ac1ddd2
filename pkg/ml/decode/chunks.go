// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package decode

import (
	"context"

	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/gomlx/storygen/pkg/ml/ngram"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
)

// Chunks generates text from the prompt and delivers it as text chunks, for streaming.
//
// The first chunk is the decoded prompt tokens (before padding), then there is one chunk per
// sampled token, decoded individually. Every chunk goes through bpe.ReconvertSpecials, so
// sentinels become their presentation form (and may leave an empty chunk).
//
// Delivery stops if yield returns false. Pacing between chunks is left to the caller.
func Chunks(ctx context.Context, tok *bpe.Tokenizer, gen *Generator, prompt string,
	yield func(chunk string) bool) (Result, error) {
	if err := gen.Err(); err != nil {
		return Result{}, err
	}
	promptTokens := tok.Encode(prompt)
	if !yield(bpe.ReconvertSpecials(tok.Decode(promptTokens))) {
		return Result{Tokens: ngram.Pad(promptTokens), Reason: StopConsumer}, nil
	}
	return gen.Generate(ctx, promptTokens, func(id tokens.ID) bool {
		return yield(bpe.ReconvertSpecials(tok.DecodeToken(id)))
	})
}
