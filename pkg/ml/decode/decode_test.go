package decode

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/gomlx/storygen/pkg/ml/decode/sample"
	"github.com/gomlx/storygen/pkg/ml/ngram"
	"github.com/gomlx/storygen/pkg/support/params"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEOT = tokens.ID(3)

var testWeights = ngram.Weights{L1: 0.2, L2: 0.3, L3: 0.5}

// testModel has 4 tokens: "ا"=0, "ب"=1, EOP=2 and EOT=3.
func testModel() *ngram.Model {
	c := ngram.NewCounts(4)
	c.Unigrams[0] = 5
	c.Unigrams[1] = 4
	c.Unigrams[2] = 2
	c.Unigrams[3] = 1
	c.TotalTokens = 12
	c.Bigrams[tokens.Pair{0, 1}] = 3
	c.Bigrams[tokens.Pair{1, 0}] = 3
	c.Bigrams[tokens.Pair{1, 3}] = 1
	c.Trigrams[tokens.Triple{0, 1, 0}] = 2
	c.Trigrams[tokens.Triple{0, 1, 3}] = 1
	return ngram.New(c)
}

func testTokenizer(t *testing.T) *bpe.Tokenizer {
	char2id := map[string]tokens.ID{"ا": 0, "ب": 1, bpe.EOP: 2, bpe.EOT: 3}
	id2char := map[tokens.ID]string{0: "ا", 1: "ب", 2: bpe.EOP, 3: bpe.EOT}
	vocab, err := bpe.NewVocabulary(char2id, id2char)
	require.NoError(t, err)
	merges, err := bpe.NewMergeTable(nil)
	require.NoError(t, err)
	tok, err := bpe.New(vocab, merges)
	require.NoError(t, err)
	return tok
}

func TestSeed_Padding(t *testing.T) {
	gen := New(testModel(), testWeights, testEOT)
	assert.Equal(t, tokens.Sequence{1, 1}, gen.Seed(tokens.Sequence{1}).Tokens())
	assert.Equal(t, tokens.Sequence{0, 0}, gen.Seed(nil).Tokens())
	assert.Equal(t, tokens.Sequence{2, 1, 0}, gen.Seed(tokens.Sequence{2, 1, 0}).Tokens())

	prompt := tokens.Sequence{1, 2}
	state := gen.Seed(prompt)
	gen.Step(state)
	assert.Equal(t, tokens.Sequence{1, 2}, prompt, "the prompt must not be modified")
	assert.Len(t, state.Tokens(), 3)
	assert.Equal(t, 1, state.Generated())
}

func TestGenerate_Terminates(t *testing.T) {
	// EOT has a positive probability at every step, so every run must end with it.
	gen := New(testModel(), testWeights, testEOT).WithMaxTokens(10_000)
	for i := range 200 {
		result, err := gen.Generate(context.Background(), tokens.Sequence{0}, nil)
		require.NoError(t, err)
		require.Equalf(t, StopEOT, result.Reason, "run %d did not sample EOT within 10k tokens", i)
		require.Equal(t, testEOT, result.Tokens[len(result.Tokens)-1])
		require.Len(t, result.Tokens, 2+result.Generated)
		for _, id := range result.Tokens[2 : len(result.Tokens)-1] {
			require.NotEqual(t, testEOT, id, "generation must stop right after the first EOT")
		}
	}
}

func TestGenerate_MaxTokens(t *testing.T) {
	// EOT outside the id space is never sampled.
	gen := New(testModel(), testWeights, 99).WithMaxTokens(5)
	var yielded tokens.Sequence
	result, err := gen.Generate(context.Background(), tokens.Sequence{0, 1}, func(id tokens.ID) bool {
		yielded = append(yielded, id)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, StopMaxTokens, result.Reason)
	assert.Equal(t, 5, result.Generated)
	assert.Equal(t, yielded, result.Tokens[2:])
	for _, id := range yielded {
		assert.GreaterOrEqual(t, id, tokens.ID(0))
		assert.Less(t, id, tokens.ID(4))
	}
}

func TestGenerate_Stop(t *testing.T) {
	t.Run("Consumer", func(t *testing.T) {
		gen := New(testModel(), testWeights, 99)
		count := 0
		result, err := gen.Generate(context.Background(), nil, func(id tokens.ID) bool {
			count++
			return count < 3
		})
		require.NoError(t, err)
		assert.Equal(t, StopConsumer, result.Reason)
		assert.Equal(t, 3, result.Generated)
	})

	t.Run("Cancellation", func(t *testing.T) {
		gen := New(testModel(), testWeights, 99)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		count := 0
		result, err := gen.Generate(ctx, nil, func(id tokens.ID) bool {
			count++
			if count == 10 {
				cancel()
			}
			return true
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 10, result.Generated)
	})

	t.Run("Iterator", func(t *testing.T) {
		gen := New(testModel(), testWeights, 99)
		var ids []tokens.ID
		for id := range gen.Tokens(context.Background(), tokens.Sequence{0}) {
			ids = append(ids, id)
			if len(ids) == 4 {
				break
			}
		}
		assert.Len(t, ids, 4)
	})
}

func TestGenerate_Seeded(t *testing.T) {
	gen := New(testModel(), testWeights, 99).WithMaxTokens(50).WithSeed(7)
	first, err := gen.Generate(context.Background(), tokens.Sequence{0}, nil)
	require.NoError(t, err)
	second, err := gen.Generate(context.Background(), tokens.Sequence{0}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Tokens, second.Tokens)

	// A shared random source continues its stream.
	rng := rand.New(rand.NewPCG(1, 1))
	gen = New(testModel(), testWeights, 99).WithMaxTokens(50).WithRand(rng)
	first, err = gen.Generate(context.Background(), tokens.Sequence{0}, nil)
	require.NoError(t, err)
	second, err = gen.Generate(context.Background(), tokens.Sequence{0}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.Tokens, second.Tokens)
}

func TestGenerator_ConfigFreeze(t *testing.T) {
	gen := New(testModel(), testWeights, 99)
	gen.WithMaxTokens(3)
	require.NoError(t, gen.Err())

	_, err := gen.Generate(context.Background(), nil, nil)
	require.NoError(t, err)

	gen.WithMaxTokens(60)
	require.Error(t, gen.Err())
	assert.Contains(t, gen.Err().Error(), "cannot change configuration")
	assert.Equal(t, 3, gen.MaxTokens())

	_, err = gen.Generate(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestGenerator_FromParams(t *testing.T) {
	p := params.New(map[string]any{
		ParamMaxTokens: 3,
		ParamSeed:      uint64(0),
		ParamStrategy:  "greedy",
		ParamLambdas:   []float64{0, 0, 1},
	})
	gen := New(testModel(), testWeights, 99).FromParams(p)
	require.NoError(t, gen.Err())
	assert.Equal(t, 3, gen.MaxTokens())
	assert.Equal(t, ngram.Weights{L3: 1}, gen.Weights())
	assert.Equal(t, sample.StrategyGreedy, gen.strategy)

	// Greedy sampling is deterministic.
	first, err := gen.Generate(context.Background(), tokens.Sequence{0, 1}, nil)
	require.NoError(t, err)
	second, err := gen.Generate(context.Background(), tokens.Sequence{0, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Tokens, second.Tokens)
	// Most likely after (0, 1) is 0.
	assert.Equal(t, tokens.ID(0), first.Tokens[2])

	p.Set(ParamStrategy, "beam_search")
	gen = New(testModel(), testWeights, 99).FromParams(p)
	require.Error(t, gen.Err())
}

func TestChunks(t *testing.T) {
	tok := testTokenizer(t)
	gen := New(testModel(), testWeights, testEOT).WithMaxTokens(1000)

	var chunks []string
	result, err := Chunks(context.Background(), tok, gen, "ا", func(chunk string) bool {
		chunks = append(chunks, chunk)
		return true
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1+result.Generated)
	assert.Equal(t, "ا", chunks[0], "first chunk is the prompt, without padding")
	for i, chunk := range chunks[1:] {
		id := result.Tokens[2+i]
		assert.Equal(t, bpe.ReconvertSpecials(tok.DecodeToken(id)), chunk)
		assert.NotContains(t, chunk, bpe.EOP)
	}
	if result.Reason == StopEOT {
		assert.Equal(t, "", chunks[len(chunks)-1], "EOT is reconverted to an empty chunk")
	}
	generated := strings.Join(chunks[1:], "")
	assert.Equal(t, bpe.ReconvertSpecials(tok.Decode(result.Tokens[2:])), generated)

	// Stopping on the prompt chunk.
	result, err = Chunks(context.Background(), tok, gen, "اب", func(chunk string) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, StopConsumer, result.Reason)
	assert.Equal(t, 0, result.Generated)
}
