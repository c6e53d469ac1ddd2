// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package decode drives autoregressive generation from an n-gram model: it seeds a context from
// the prompt tokens, repeatedly samples the next token from the interpolated distribution, and
// stops when the end-of-text token is sampled.
package decode

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"sync/atomic"

	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/gomlx/storygen/pkg/ml/decode/sample"
	"github.com/gomlx/storygen/pkg/ml/ngram"
	"github.com/gomlx/storygen/pkg/support/params"
	"github.com/pkg/errors"
)

// Hyperparameter keys read by Generator.FromParams.
const (
	ParamMaxTokens = "max_tokens"
	ParamSeed      = "seed"
	ParamStrategy  = "sampling"
	ParamLambdas   = "lambdas"
)

// StopReason tells why a generation run ended.
type StopReason int

const (
	// StopEOT means the end-of-text token was sampled (and appended).
	StopEOT StopReason = iota

	// StopMaxTokens means the configured cap on generated tokens was reached.
	StopMaxTokens

	// StopConsumer means the consumer of the tokens asked to stop.
	StopConsumer
)

// String implements fmt.Stringer.
func (r StopReason) String() string {
	switch r {
	case StopEOT:
		return "eot"
	case StopMaxTokens:
		return "max_tokens"
	case StopConsumer:
		return "consumer"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// Result of a generation run.
type Result struct {
	// Tokens is the full sequence: the padded prompt followed by the generated tokens.
	Tokens tokens.Sequence

	// Generated is the number of tokens sampled.
	Generated int

	Reason StopReason
}

// Generator configures and executes autoregressive generation over an ngram.Model.
//
// It is configured with the With* methods, and its configuration is frozen on first use: after
// that, the With* methods record an error returned by Generate. Once configured, it is safe for
// concurrent use, as long as no shared *rand.Rand was given with WithRand: each run otherwise
// gets its own random source.
type Generator struct {
	model   *ngram.Model
	weights ngram.Weights
	eot     tokens.ID

	maxTokens int
	strategy  sample.Strategy

	rng     *rand.Rand
	seed    uint64
	hasSeed bool

	frozen atomic.Bool
	err    error
}

// New creates a Generator sampling from model with the given interpolation weights, and stopping
// when eot is sampled.
//
// By default there is no cap on the number of generated tokens: a degenerate model may generate
// forever, see WithMaxTokens.
func New(model *ngram.Model, weights ngram.Weights, eot tokens.ID) *Generator {
	return &Generator{
		model:    model,
		weights:  weights,
		eot:      eot,
		strategy: sample.StrategyWeighted,
	}
}

// checkConfigurable records an error if the configuration is already frozen.
func (g *Generator) checkConfigurable(method string) bool {
	if g.frozen.Load() {
		if g.err == nil {
			g.err = errors.Errorf("Generator.%s: cannot change configuration after the generator was used", method)
		}
		return false
	}
	return true
}

// FromParams configures the generator with the hyperparameters in p, leaving unset keys unchanged.
//
// Supported hyperparameters:
//   - "max_tokens" (int): see WithMaxTokens.
//   - "seed" (uint64): see WithSeed. 0 means no fixed seed.
//   - "sampling" (string): "weighted" or "greedy", see WithStrategy.
//   - "lambdas" ([]float64): overrides the interpolation weights, an empty list keeps them.
func (g *Generator) FromParams(p *params.Params) *Generator {
	if !g.checkConfigurable("FromParams") {
		return g
	}
	g.WithMaxTokens(params.GetOr(p, ParamMaxTokens, g.maxTokens))
	if seed := params.GetOr(p, ParamSeed, uint64(0)); seed != 0 {
		g.WithSeed(seed)
	}
	if name := params.GetOr(p, ParamStrategy, ""); name != "" {
		strategy, err := sample.ParseStrategy(name)
		if err != nil {
			g.err = err
			return g
		}
		g.WithStrategy(strategy)
	}
	if lambdas := params.GetOr(p, ParamLambdas, []float64(nil)); len(lambdas) > 0 {
		weights, err := ngram.WeightsFromSlice(lambdas)
		if err != nil {
			g.err = err
			return g
		}
		g.weights = weights
	}
	return g
}

// WithMaxTokens caps the number of generated tokens (not counting the prompt). 0 means no cap.
func (g *Generator) WithMaxTokens(maxTokens int) *Generator {
	if g.checkConfigurable("WithMaxTokens") {
		g.maxTokens = max(maxTokens, 0)
	}
	return g
}

// WithStrategy sets the sampling strategy. The default is sample.StrategyWeighted.
func (g *Generator) WithStrategy(strategy sample.Strategy) *Generator {
	if g.checkConfigurable("WithStrategy") {
		g.strategy = strategy
	}
	return g
}

// WithRand sets the random source used by every run. A *rand.Rand is not safe for concurrent use,
// so a Generator configured this way must not run concurrently.
func (g *Generator) WithRand(rng *rand.Rand) *Generator {
	if g.checkConfigurable("WithRand") {
		g.rng = rng
	}
	return g
}

// WithSeed makes every run use a new random source seeded with seed: runs with the same prompt
// generate the same tokens.
func (g *Generator) WithSeed(seed uint64) *Generator {
	if g.checkConfigurable("WithSeed") {
		g.seed = seed
		g.hasSeed = true
	}
	return g
}

// Model used for sampling.
func (g *Generator) Model() *ngram.Model { return g.model }

// Weights used for interpolation.
func (g *Generator) Weights() ngram.Weights { return g.weights }

// EOT returns the end-of-text id.
func (g *Generator) EOT() tokens.ID { return g.eot }

// MaxTokens returns the cap on generated tokens, 0 if there is none.
func (g *Generator) MaxTokens() int { return g.maxTokens }

// Err returns the configuration error, if any.
func (g *Generator) Err() error { return g.err }

func (g *Generator) newRand() *rand.Rand {
	switch {
	case g.rng != nil:
		return g.rng
	case g.hasSeed:
		return rand.New(rand.NewPCG(g.seed, g.seed^0x9e3779b97f4a7c15))
	default:
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
}

// State of one generation run: the growing token sequence. It is owned by a single run and must
// not be shared.
type State struct {
	seq       tokens.Sequence
	eot       tokens.ID
	rng       *rand.Rand
	dist      []float64 // Scratch buffer for the distribution.
	generated int
}

// Tokens returns the current sequence. It must not be modified.
func (s *State) Tokens() tokens.Sequence { return s.seq }

// Generated returns the number of tokens sampled so far.
func (s *State) Generated() int { return s.generated }

// Done returns whether the last sampled token is the end-of-text token.
func (s *State) Done() bool {
	return s.generated > 0 && s.seq[len(s.seq)-1] == s.eot
}

// Seed creates the State of a new run from the prompt tokens.
//
// The prompt is copied and left-padded to hold a full trigram context: while shorter than 2
// tokens, its first token is duplicated (or 0 is used, if it is empty).
func (g *Generator) Seed(prompt tokens.Sequence) *State {
	g.frozen.Store(true)
	return &State{
		seq: ngram.Pad(prompt),
		eot: g.eot,
		rng: g.newRand(),
	}
}

// Step samples the next token given the last two tokens of state, appends it and returns it.
func (g *Generator) Step(state *State) tokens.ID {
	window := state.seq.Last(ngram.Order - 1)
	state.dist = g.model.Distribution(window[0], window[1], g.weights, state.dist)
	next := tokens.ID(sample.Sample(state.rng, g.strategy, state.dist))
	state.seq = append(state.seq, next)
	state.generated++
	return next
}

// Generate runs generation from the prompt tokens, calling yield (if not nil) with each sampled
// token, in order.
//
// It stops right after the end-of-text token is sampled, when the cap set by WithMaxTokens is
// reached, or when yield returns false. If ctx is cancelled it stops and returns ctx.Err(), along
// with the partial result.
func (g *Generator) Generate(ctx context.Context, prompt tokens.Sequence, yield func(id tokens.ID) bool) (Result, error) {
	if g.err != nil {
		return Result{}, g.err
	}
	state := g.Seed(prompt)
	result := func(reason StopReason) Result {
		return Result{Tokens: state.seq, Generated: state.generated, Reason: reason}
	}
	for {
		if err := ctx.Err(); err != nil {
			return result(StopConsumer), err
		}
		if g.maxTokens > 0 && state.generated >= g.maxTokens {
			return result(StopMaxTokens), nil
		}
		id := g.Step(state)
		keepGoing := yield == nil || yield(id)
		if id == g.eot {
			return result(StopEOT), nil
		}
		if !keepGoing {
			return result(StopConsumer), nil
		}
	}
}

// Tokens returns an iterator over the generated tokens, see Generate.
//
// Errors (configuration or cancellation) simply end the iteration: use Generate to observe them.
func (g *Generator) Tokens(ctx context.Context, prompt tokens.Sequence) iter.Seq[tokens.ID] {
	return func(yield func(tokens.ID) bool) {
		_, _ = g.Generate(ctx, prompt, yield)
	}
}
