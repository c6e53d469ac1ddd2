// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// storygen_inspect prints information about the model artifacts: a summary, the vocabulary, the
// merges, the most frequent n-grams, and how a text is tokenized.
//
// Example:
//
//	storygen_inspect -model=~/models/urdu -summary -top=20
//	storygen_inspect -model=~/models/urdu -encode="ایک دن"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/storygen/pkg/artifacts"
	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/gomlx/storygen/pkg/ml/ngram"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
	"github.com/gomlx/storygen/ui/commandline"
	"k8s.io/klog/v2"
)

var (
	flagModel    = flag.String("model", ".", "Model artifacts: a local directory, an http(s) URL or \"hf:<repo_id>\".")
	flagCacheDir = flag.String("cache_dir", "~/.cache/storygen", "Directory where artifacts downloaded from a URL are stored.")
	flagSummary  = flag.Bool("summary", true, "Display a summary of the artifacts.")
	flagVocab    = flag.Bool("vocab", false, "List the base vocabulary.")
	flagMerges   = flag.Bool("merges", false, "List the merge rules, in priority order, with the string they expand to.")
	flagTop      = flag.Int("top", 0, "If > 0, list the given number of most frequent unigrams, bigrams and trigrams.")
	flagEncode   = flag.String("encode", "", "Text to tokenize, printed with each token and its probability under the model.")
	flagStrategy = flag.String("merge_strategy", bpe.FixedPriority.String(), "Merge strategy used with -encode.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	bundle, err := artifacts.Load(context.Background(), artifacts.ParseSource(*flagModel, *flagCacheDir))
	if err != nil {
		klog.Errorf("Failed to load artifacts: %+v", err)
		os.Exit(1)
	}
	eot := bundle.Stats.EOT
	if *flagSummary {
		summary(bundle)
	}
	if *flagVocab {
		listVocab(bundle.Vocabulary, eot)
	}
	if *flagMerges {
		listMerges(bundle.Tokenizer, eot)
	}
	if *flagTop > 0 {
		listTopNGrams(bundle.Tokenizer, bundle.Stats.Counts, eot, *flagTop)
	}
	if *flagEncode != "" {
		strategy, err := bpe.ParseMergeStrategy(*flagStrategy)
		if err != nil {
			klog.Errorf("Invalid -merge_strategy: %+v", err)
			os.Exit(1)
		}
		encode(bundle, bundle.Tokenizer.WithMergeStrategy(strategy), *flagEncode)
	}
}

// visible makes sentinels and whitespace visible in the tables.
func visible(s string) string {
	r := strings.NewReplacer(
		bpe.EOT, "⟨EOT⟩",
		bpe.EOS, "⟨EOS⟩",
		bpe.EOP, "⟨EOP⟩",
		" ", "·",
		"\n", "↵",
		"\t", "→",
	)
	return r.Replace(s)
}

func summary(bundle *artifacts.Bundle) {
	counts := bundle.Stats.Counts
	fmt.Println(commandline.TitleStyle.Render("Summary"))
	table := commandline.NewTable([]string{"Property", "Value"}, lipgloss.Left, lipgloss.Right)
	table.Row(false, "Base vocabulary", humanize.Comma(int64(bundle.Vocabulary.Size())))
	table.Row(false, "Merges", humanize.Comma(int64(bundle.Merges.Len())))
	table.Row(false, "Model vocabulary size", humanize.Comma(int64(counts.VocabSize)))
	table.Row(false, "Total tokens", humanize.Comma(counts.TotalTokens))
	table.Row(false, "Distinct unigrams", humanize.Comma(int64(len(counts.Unigrams))))
	table.Row(false, "Distinct bigrams", humanize.Comma(int64(len(counts.Bigrams))))
	table.Row(false, "Distinct trigrams", humanize.Comma(int64(len(counts.Trigrams))))
	weights := bundle.Stats.Weights
	invalidWeights := weights.Validate() != nil
	table.Row(invalidWeights, "Interpolation weights", weights.String())
	eot := bundle.Stats.EOT
	eotOutOfRange := int(eot) >= counts.VocabSize || eot < 0
	table.Row(eotOutOfRange, "End-of-text id", strconv.Itoa(int(eot)))
	fmt.Println(table.String())
}

func listVocab(vocab *bpe.Vocabulary, eot tokens.ID) {
	fmt.Println(commandline.TitleStyle.Render("Vocabulary"))
	table := commandline.NewTable([]string{"Id", "Char", "Code point"}, lipgloss.Right, lipgloss.Left)
	vocab.Enumerate(func(id tokens.ID, char string) {
		codePoints := make([]string, 0, 1)
		for _, r := range char {
			codePoints = append(codePoints, fmt.Sprintf("U+%04X", r))
		}
		table.Row(id == eot, strconv.Itoa(int(id)), visible(char), strings.Join(codePoints, " "))
	})
	fmt.Println(table.String())
}

func listMerges(tok *bpe.Tokenizer, eot tokens.ID) {
	fmt.Println(commandline.TitleStyle.Render("Merges"))
	table := commandline.NewTable([]string{"Priority", "Id", "Pair", "Expands to"}, lipgloss.Right, lipgloss.Right, lipgloss.Left)
	for priority, rule := range tok.Merges().Rules() {
		table.Row(rule.Pair[0] == eot || rule.Pair[1] == eot,
			humanize.Comma(int64(priority)), strconv.Itoa(int(rule.ID)), rule.Pair.String(),
			visible(tok.DecodeToken(rule.ID)))
	}
	fmt.Println(table.String())
}

func listTopNGrams(tok *bpe.Tokenizer, counts *ngram.Counts, eot tokens.ID, n int) {
	headers := []string{"Rank", "Ids", "Text", "Count"}
	alignments := []lipgloss.Position{lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Right}

	fmt.Println(commandline.TitleStyle.Render("Top unigrams"))
	table := commandline.NewTable(headers, alignments...)
	for i, entry := range counts.TopUnigrams(n) {
		seq := tokens.Sequence{entry.Key}
		table.Row(entry.Key == eot, strconv.Itoa(i+1), seq.String(), visible(tok.Decode(seq)), humanize.Comma(entry.Count))
	}
	fmt.Println(table.String())

	fmt.Println(commandline.TitleStyle.Render("Top bigrams"))
	table = commandline.NewTable(headers, alignments...)
	for i, entry := range counts.TopBigrams(n) {
		seq := tokens.Sequence(entry.Key[:])
		table.Row(slices.Contains(seq, eot), strconv.Itoa(i+1), entry.Key.String(), visible(tok.Decode(seq)), humanize.Comma(entry.Count))
	}
	fmt.Println(table.String())

	fmt.Println(commandline.TitleStyle.Render("Top trigrams"))
	table = commandline.NewTable(headers, alignments...)
	for i, entry := range counts.TopTrigrams(n) {
		seq := tokens.Sequence(entry.Key[:])
		table.Row(slices.Contains(seq, eot), strconv.Itoa(i+1), entry.Key.String(), visible(tok.Decode(seq)), humanize.Comma(entry.Count))
	}
	fmt.Println(table.String())
}

func encode(bundle *artifacts.Bundle, tok *bpe.Tokenizer, text string) {
	seq := tok.Encode(text)
	fmt.Println(commandline.TitleStyle.Render(fmt.Sprintf("Encoding with %s: %d characters → %d tokens",
		tok.MergeStrategy(), len([]rune(text)), len(seq))))
	model := ngram.New(bundle.Stats.Counts)
	weights := bundle.Stats.Weights
	padded := ngram.Pad(seq)
	offset := len(padded) - len(seq)

	table := commandline.NewTable([]string{"Pos", "Id", "Text", "P(token|context)"}, lipgloss.Right, lipgloss.Right, lipgloss.Left, lipgloss.Right)
	for i, id := range seq {
		prob := "-"
		pos := i + offset
		if pos >= ngram.Order-1 {
			prob = fmt.Sprintf("%.3g", model.InterpolatedProb(padded[pos-2], padded[pos-1], id, weights))
		}
		table.Row(id == bundle.Stats.EOT, strconv.Itoa(i), strconv.Itoa(int(id)), visible(tok.DecodeToken(id)), prob)
	}
	fmt.Println(table.String())
	score := model.Score(seq, weights)
	fmt.Printf("Log-probability: %.4f over %d tokens, perplexity %.4g\n", score.LogProb, score.Tokens, score.Perplexity())
	if decoded := tok.Decode(seq); decoded != text {
		fmt.Printf("Round trip differs (unknown characters were replaced): %q\n", decoded)
	}
}
