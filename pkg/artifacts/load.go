// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package artifacts loads the trained tokenizer and model files: the merge table, the vocabulary,
// its inverse and the n-gram statistics.
//
// The files are JSON and are fetched from a Source: a local directory, an HTTP server or a
// HuggingFace Hub repository. Any missing or malformed file fails the whole load.
package artifacts

import (
	"context"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FileNames are the names of the artifact files within a Source.
type FileNames struct {
	Merges, Vocab, InverseVocab, Stats string
}

// DefaultFileNames are the file names written by the training scripts.
var DefaultFileNames = FileNames{
	Merges:       "merges.json",
	Vocab:        "vocab.json",
	InverseVocab: "id2char.json",
	Stats:        "trigram_model.json",
}

// Bundle holds the loaded artifacts.
type Bundle struct {
	Vocabulary *bpe.Vocabulary
	Merges     *bpe.MergeTable
	Stats      *Stats

	// Tokenizer is built from Vocabulary and Merges, with the default merge strategy.
	Tokenizer *bpe.Tokenizer
}

// Load fetches and parses the artifacts with the DefaultFileNames from source.
func Load(ctx context.Context, source Source) (*Bundle, error) {
	return LoadFiles(ctx, source, DefaultFileNames)
}

// LoadFiles fetches and parses the artifact files with the given names from source.
func LoadFiles(ctx context.Context, source Source, names FileNames) (*Bundle, error) {
	read := func(name string) ([]byte, error) {
		filePath, err := source.Fetch(ctx, name)
		if err != nil {
			return nil, errors.WithMessagef(err, "fetching %q from %s", name, source)
		}
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %q", filePath)
		}
		klog.V(1).Infof("Read %s from %q", humanize.IBytes(uint64(len(data))), filePath)
		return data, nil
	}

	data, err := read(names.Vocab)
	if err != nil {
		return nil, err
	}
	char2id, err := ParseVocab(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", names.Vocab)
	}
	if data, err = read(names.InverseVocab); err != nil {
		return nil, err
	}
	id2char, err := ParseInverseVocab(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", names.InverseVocab)
	}
	vocab, err := bpe.NewVocabulary(char2id, id2char)
	if err != nil {
		return nil, err
	}

	if data, err = read(names.Merges); err != nil {
		return nil, err
	}
	rules, err := ParseMerges(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", names.Merges)
	}
	merges, err := bpe.NewMergeTable(rules)
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", names.Merges)
	}
	tok, err := bpe.New(vocab, merges)
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", names.Merges)
	}

	if data, err = read(names.Stats); err != nil {
		return nil, err
	}
	stats, err := ParseStats(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "file %q", names.Stats)
	}
	vocabSize := stats.Counts.VocabSize
	if int(stats.EOT) >= vocabSize {
		klog.Warningf("End-of-text id %d is outside the model's vocabulary [0, %d): generation will only stop at the token cap",
			stats.EOT, vocabSize)
	}
	if maxID := merges.MaxID(); int(maxID) >= vocabSize {
		klog.Warningf("Merge table creates id %d, outside the model's vocabulary [0, %d)", maxID, vocabSize)
	}
	klog.V(1).Infof("Loaded artifacts from %s: %d characters, %d merges, vocabulary size %s, %s tokens",
		source, vocab.Size(), merges.Len(), humanize.Comma(int64(vocabSize)), humanize.Comma(stats.Counts.TotalTokens))
	return &Bundle{Vocabulary: vocab, Merges: merges, Stats: stats, Tokenizer: tok}, nil
}
