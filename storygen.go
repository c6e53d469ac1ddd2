// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package storygen generates short stories with a character-level BPE tokenizer and an
// interpolated trigram language model.
//
// An Engine bundles the loaded artifacts: create it once per process with Load (or New), and use
// it concurrently to encode, decode, score and stream generated stories.
//
// Example:
//
//	engine, err := storygen.Load(ctx, artifacts.Dir("~/models/urdu"), storygen.WithMaxTokens(500))
//	if err != nil { klog.Fatalf("%+v", err) }
//	_, err = engine.Stream(ctx, "ایک دن", func(chunk string) bool {
//		fmt.Print(chunk)
//		return true
//	})
package storygen

import (
	"context"
	"strings"

	"github.com/gomlx/storygen/pkg/artifacts"
	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/gomlx/storygen/pkg/ml/decode"
	"github.com/gomlx/storygen/pkg/ml/ngram"
	"github.com/gomlx/storygen/pkg/support/params"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Engine holds the tokenizer and the model, immutable once created.
type Engine struct {
	bundle    *artifacts.Bundle
	tokenizer *bpe.Tokenizer
	model     *ngram.Model
	weights   ngram.Weights
	eot       tokens.ID
	options   options
}

type options struct {
	strategy           bpe.MergeStrategy
	maxTokens          int
	weights            *ngram.Weights
	unvalidatedWeights bool
	params             *params.Params
}

// Option configures an Engine.
type Option func(*options)

// WithMergeStrategy sets the strategy used by the tokenizer to apply the merges.
// The default is bpe.FixedPriority.
func WithMergeStrategy(strategy bpe.MergeStrategy) Option {
	return func(o *options) {
		o.strategy = strategy
	}
}

// WithMaxTokens caps the number of tokens generated per story. 0 (the default) means no cap:
// generation only stops when the end-of-text token is sampled.
func WithMaxTokens(maxTokens int) Option {
	return func(o *options) {
		o.maxTokens = maxTokens
	}
}

// WithWeights overrides the interpolation weights read from the model statistics.
func WithWeights(weights ngram.Weights) Option {
	return func(o *options) {
		o.weights = &weights
	}
}

// WithUnvalidatedWeights accepts interpolation weights that are not a probability distribution
// (negative, all zero or not summing to 1). Sampling then uses whatever non-negative weights
// result, falling back to a uniform choice if they are all zero.
func WithUnvalidatedWeights() Option {
	return func(o *options) {
		o.unvalidatedWeights = true
	}
}

// WithParams configures every Generator created by the Engine with the hyperparameters in p,
// see decode.Generator.FromParams. It is applied after WithMaxTokens.
func WithParams(p *params.Params) Option {
	return func(o *options) {
		o.params = p
	}
}

// Load fetches the artifacts from source and creates the Engine.
func Load(ctx context.Context, source artifacts.Source, opts ...Option) (*Engine, error) {
	bundle, err := artifacts.Load(ctx, source)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load artifacts from %s", source)
	}
	return New(bundle, opts...)
}

// New creates the Engine from the loaded artifacts.
func New(bundle *artifacts.Bundle, opts ...Option) (*Engine, error) {
	if bundle == nil || bundle.Tokenizer == nil || bundle.Stats == nil {
		return nil, errors.New("storygen.New requires a complete artifacts bundle")
	}
	e := &Engine{
		bundle:  bundle,
		model:   ngram.New(bundle.Stats.Counts),
		weights: bundle.Stats.Weights,
		eot:     bundle.Stats.EOT,
		options: options{strategy: bpe.FixedPriority},
	}
	for _, opt := range opts {
		opt(&e.options)
	}
	e.tokenizer = bundle.Tokenizer.WithMergeStrategy(e.options.strategy)
	if e.options.weights != nil {
		e.weights = *e.options.weights
	}
	if e.options.params != nil {
		if lambdas := params.GetOr(e.options.params, decode.ParamLambdas, []float64(nil)); len(lambdas) > 0 {
			weights, err := ngram.WeightsFromSlice(lambdas)
			if err != nil {
				return nil, errors.WithMessagef(err, "parameter %q", decode.ParamLambdas)
			}
			e.weights = weights
		}
	}
	if err := e.weights.Validate(); err != nil {
		if !e.options.unvalidatedWeights {
			return nil, errors.WithMessage(err, "invalid interpolation weights (see WithUnvalidatedWeights)")
		}
		klog.Warningf("Using invalid interpolation weights %s: %v", e.weights, err)
	}
	if err := e.Generator().Err(); err != nil {
		return nil, err
	}
	return e, nil
}

// Tokenizer returns the BPE tokenizer.
func (e *Engine) Tokenizer() *bpe.Tokenizer { return e.tokenizer }

// Model returns the trigram model.
func (e *Engine) Model() *ngram.Model { return e.model }

// Weights returns the interpolation weights in use.
func (e *Engine) Weights() ngram.Weights { return e.weights }

// EOT returns the end-of-text token id.
func (e *Engine) EOT() tokens.ID { return e.eot }

// Bundle returns the artifacts the Engine was created from.
func (e *Engine) Bundle() *artifacts.Bundle { return e.bundle }

// Encode converts text to token ids.
func (e *Engine) Encode(text string) tokens.Sequence {
	return e.tokenizer.Encode(text)
}

// Decode converts token ids back to text. Sentinel characters are kept, see bpe.ReconvertSpecials.
func (e *Engine) Decode(seq tokens.Sequence) string {
	return e.tokenizer.Decode(seq)
}

// Generator returns a new generator configured with the Engine's options. It can be further
// configured before its first use.
func (e *Engine) Generator() *decode.Generator {
	gen := decode.New(e.model, e.weights, e.eot).WithMaxTokens(e.options.maxTokens)
	if e.options.params != nil {
		gen.FromParams(e.options.params)
	}
	return gen
}

// Stream generates a story from the prompt, delivering it in chunks to yield: first the prompt,
// then one chunk per generated token, with sentinels converted for presentation.
// See decode.Chunks.
func (e *Engine) Stream(ctx context.Context, prompt string, yield func(chunk string) bool) (decode.Result, error) {
	return decode.Chunks(ctx, e.tokenizer, e.Generator(), prompt, yield)
}

// Generate returns the full story generated from the prompt, prompt included.
func (e *Engine) Generate(ctx context.Context, prompt string) (string, decode.Result, error) {
	var sb strings.Builder
	result, err := e.Stream(ctx, prompt, func(chunk string) bool {
		sb.WriteString(chunk)
		return true
	})
	return sb.String(), result, err
}

// Score returns the log-probability of text under the model, see ngram.Model.Score.
func (e *Engine) Score(text string) ngram.Score {
	return e.model.Score(e.Encode(text), e.weights)
}
