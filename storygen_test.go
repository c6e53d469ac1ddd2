package storygen

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/storygen/pkg/artifacts"
	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/gomlx/storygen/pkg/ml/decode"
	"github.com/gomlx/storygen/pkg/ml/ngram"
	"github.com/gomlx/storygen/pkg/support/params"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeArtifacts writes a tiny model whose end-of-text token (4) is by far the most frequent, so
// generations are short.
func writeArtifacts(t *testing.T, lambdas string) string {
	dir := t.TempDir()
	files := map[string]string{
		"vocab.json":   `{"ا": 0, "ب": 1, " ": 2, "␝": 3, "\u0003": 4}`,
		"id2char.json": `{"0": "ا", "1": "ب", "2": " ", "3": "␝", "4": "\u0003"}`,
		"merges.json":  `[[5, [0, 1]]]`,
		"trigram_model.json": `{
			"vocab_size": 6,
			"unigrams": {"0": 4, "1": 3, "2": 2, "3": 1, "4": 1000, "5": 3},
			"bigrams": {"(5, 2)": 2, "(2, 4)": 1},
			"trigrams": {"(5, 2, 4)": 1},
			"lambdas": ` + lambdas + `,
			"eot_id": 4
		}`,
	}
	for name, contents := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
	}
	return dir
}

func loadEngine(t *testing.T, opts ...Option) *Engine {
	engine, err := Load(context.Background(), artifacts.Dir(writeArtifacts(t, "[0.5, 0.25, 0.25]")), opts...)
	require.NoError(t, err)
	return engine
}

func TestEngine_EncodeDecode(t *testing.T) {
	engine := loadEngine(t)
	assert.Equal(t, tokens.ID(4), engine.EOT())
	assert.Equal(t, ngram.Weights{L1: 0.5, L2: 0.25, L3: 0.25}, engine.Weights())
	assert.Equal(t, 6, engine.Model().VocabSize())
	assert.Equal(t, bpe.FixedPriority, engine.Tokenizer().MergeStrategy())

	seq := engine.Encode("اب ب")
	assert.Equal(t, tokens.Sequence{5, 2, 1}, seq)
	assert.Equal(t, "اب ب", engine.Decode(seq))

	// Unknown characters fall back to the space id.
	assert.Equal(t, tokens.Sequence{0, 2}, engine.Encode("اx"))

	greedy := loadEngine(t, WithMergeStrategy(bpe.GreedyEarliest))
	assert.Equal(t, bpe.GreedyEarliest, greedy.Tokenizer().MergeStrategy())
}

func TestEngine_Generate(t *testing.T) {
	engine := loadEngine(t)
	for range 20 {
		story, result, err := engine.Generate(context.Background(), "اب")
		require.NoError(t, err)
		assert.Equal(t, decode.StopEOT, result.Reason)
		assert.Equal(t, engine.EOT(), result.Tokens[len(result.Tokens)-1])
		assert.True(t, strings.HasPrefix(story, "اب"), "story %q must start with the prompt", story)
		assert.NotContains(t, story, bpe.EOT)
	}
}

func TestEngine_Stream(t *testing.T) {
	engine := loadEngine(t)
	var chunks []string
	result, err := engine.Stream(context.Background(), "ب ا", func(chunk string) bool {
		chunks = append(chunks, chunk)
		return true
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "ب ا", chunks[0])
	assert.Len(t, chunks, 1+result.Generated)
	assert.Equal(t, "", chunks[len(chunks)-1], "end-of-text is removed from the last chunk")
}

func TestEngine_MaxTokens(t *testing.T) {
	// With lambdas only on the trigram, an unseen context is uniform: it rarely samples
	// end-of-text, so the cap kicks in most of the time.
	dir := writeArtifacts(t, "[0, 0, 1]")
	engine, err := Load(context.Background(), artifacts.Dir(dir), WithMaxTokens(3))
	require.NoError(t, err)
	for range 20 {
		_, result, err := engine.Generate(context.Background(), "ا")
		require.NoError(t, err)
		assert.LessOrEqual(t, result.Generated, 3)
		if result.Reason == decode.StopMaxTokens {
			assert.Equal(t, 3, result.Generated)
		}
	}
}

func TestEngine_Cancelled(t *testing.T) {
	engine := loadEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := engine.Generate(ctx, "ا")
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Weights(t *testing.T) {
	dir := writeArtifacts(t, "[0.5, 0.5, 0.5]")
	_, err := Load(context.Background(), artifacts.Dir(dir))
	require.Error(t, err, "weights summing to 1.5 must be rejected")

	engine, err := Load(context.Background(), artifacts.Dir(dir), WithUnvalidatedWeights())
	require.NoError(t, err)
	assert.Equal(t, ngram.Weights{L1: 0.5, L2: 0.5, L3: 0.5}, engine.Weights())

	engine, err = Load(context.Background(), artifacts.Dir(dir), WithWeights(ngram.Weights{L1: 1}))
	require.NoError(t, err)
	assert.Equal(t, ngram.Weights{L1: 1}, engine.Weights())

	p := params.New(map[string]any{decode.ParamLambdas: []float64{0.2, 0.3, 0.5}})
	engine, err = Load(context.Background(), artifacts.Dir(dir), WithParams(p))
	require.NoError(t, err)
	assert.Equal(t, ngram.Weights{L1: 0.2, L2: 0.3, L3: 0.5}, engine.Weights())
}

func TestEngine_Params(t *testing.T) {
	p := params.New(map[string]any{
		decode.ParamMaxTokens: 0,
		decode.ParamSeed:      uint64(42),
		decode.ParamStrategy:  "weighted",
		decode.ParamLambdas:   []float64{},
	})
	engine := loadEngine(t, WithParams(p))
	story1, _, err := engine.Generate(context.Background(), "اب")
	require.NoError(t, err)
	story2, _, err := engine.Generate(context.Background(), "اب")
	require.NoError(t, err)
	assert.Equal(t, story1, story2, "a fixed seed must generate the same story")

	p.Set(decode.ParamStrategy, "beam_search")
	_, err = Load(context.Background(), artifacts.Dir(writeArtifacts(t, "[0.5, 0.25, 0.25]")), WithParams(p))
	require.Error(t, err)
}

func TestEngine_Score(t *testing.T) {
	engine := loadEngine(t)
	score := engine.Score("اب ب")
	assert.Equal(t, 1, score.Tokens, "a 3-token text scores the token after the first 2")
	assert.Less(t, score.LogProb, 0.0)
	perplexity := score.Perplexity()
	assert.False(t, math.IsNaN(perplexity))
	assert.Greater(t, perplexity, 1.0)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(context.Background(), artifacts.Dir(t.TempDir()))
	require.Error(t, err)
	_, err = New(nil)
	require.Error(t, err)
}
