// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// storygen_score evaluates the model on a set of documents, reporting their log-probability and
// perplexity.
//
// Each input file is one document, or with -lines each non-empty line is a document. With no input
// files, documents are read from the standard input.
//
// Example:
//
//	storygen_score -model=~/models/urdu -lines -worst=10 stories_test.txt
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/storygen"
	"github.com/gomlx/storygen/internal/workerspool"
	"github.com/gomlx/storygen/pkg/artifacts"
	"github.com/gomlx/storygen/pkg/ml/ngram"
	"github.com/gomlx/storygen/pkg/support/fsutil"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
	"github.com/gomlx/storygen/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagModel         = flag.String("model", ".", "Model artifacts: a local directory, an http(s) URL or \"hf:<repo_id>\".")
	flagCacheDir      = flag.String("cache_dir", "~/.cache/storygen", "Directory where artifacts downloaded from a URL are stored.")
	flagLines         = flag.Bool("lines", false, "Each non-empty line of the input is a separate document.")
	flagParallelism   = flag.Int("parallelism", 0, "Number of documents scored in parallel, 0 for the number of CPUs.")
	flagWorst         = flag.Int("worst", 0, "If > 0, list the given number of documents with the highest perplexity.")
	flagLambdas       = flag.String("lambdas", "", "Override the interpolation weights, as \"l1,l2,l3\".")
	flagMergeStrategy = flag.String("merge_strategy", bpe.FixedPriority.String(), "How the tokenizer applies merges.")
	flagProgress      = flag.Bool("progress", true, "Display a progress bar.")
)

type document struct {
	name, text string
	score      ngram.Score
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	err := exceptions.TryCatch[error](run)
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func run() {
	strategy := must.M1(bpe.ParseMergeStrategy(*flagMergeStrategy))
	opts := []storygen.Option{storygen.WithMergeStrategy(strategy)}
	if *flagLambdas != "" {
		opts = append(opts, storygen.WithWeights(must.M1(ngram.ParseWeights(*flagLambdas))))
	}
	engine := must.M1(storygen.Load(context.Background(), artifacts.ParseSource(*flagModel, *flagCacheDir), opts...))
	docs := must.M1(readDocuments(flag.Args(), *flagLines))
	if len(docs) == 0 {
		exceptions.Panicf("no documents to score")
	}

	start := time.Now()
	var (
		mu    sync.Mutex
		total ngram.Score
	)
	var pBar *commandline.ProgressBar
	if *flagProgress {
		pBar = commandline.NewProgressBar(os.Stderr, len(docs), "docs", func() (string, string) {
			mu.Lock()
			defer mu.Unlock()
			return "Perplexity", fmt.Sprintf("%.4g", total.Perplexity())
		})
	}
	pool := workerspool.New(*flagParallelism)
	for i := range docs {
		pool.WaitToStart(func() {
			docs[i].score = engine.Score(docs[i].text)
			mu.Lock()
			total.Add(docs[i].score)
			mu.Unlock()
			if pBar != nil {
				pBar.Add(1, docs[i].score.Tokens)
			}
		})
	}
	pool.Wait()
	if pBar != nil {
		pBar.Done()
	}
	elapsed := time.Since(start)

	fmt.Println(commandline.TitleStyle.Render(fmt.Sprintf("Scores (weights %s)", engine.Weights())))
	table := commandline.NewTable([]string{"Metric", "Value"}, lipgloss.Left, lipgloss.Right)
	table.Row(false, "Documents", humanize.Comma(int64(len(docs))))
	table.Row(false, "Scored tokens", humanize.Comma(int64(total.Tokens)))
	table.Row(false, "Log-probability", fmt.Sprintf("%.4f", total.LogProb))
	table.Row(false, "Log-probability per token", fmt.Sprintf("%.4f", total.LogProb/float64(max(total.Tokens, 1))))
	table.Row(math.IsInf(total.Perplexity(), 1), "Perplexity", fmt.Sprintf("%.4g", total.Perplexity()))
	table.Row(false, "Duration", commandline.FormatDuration(elapsed))
	fmt.Println(table.String())

	if *flagWorst > 0 {
		printWorst(docs, *flagWorst)
	}
}

// printWorst lists the n documents with the highest perplexity. Documents too short to be scored
// are skipped.
func printWorst(docs []document, n int) {
	scored := make([]document, 0, len(docs))
	for _, doc := range docs {
		if doc.score.Tokens > 0 {
			scored = append(scored, doc)
		}
	}
	slices.SortFunc(scored, func(a, b document) int {
		pa, pb := a.score.Perplexity(), b.score.Perplexity()
		switch {
		case pa > pb:
			return -1
		case pa < pb:
			return 1
		}
		return strings.Compare(a.name, b.name)
	})
	scored = scored[:min(n, len(scored))]

	fmt.Println(commandline.TitleStyle.Render(fmt.Sprintf("%d documents with highest perplexity", len(scored))))
	table := commandline.NewTable([]string{"Document", "Tokens", "Perplexity", "Text"},
		lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Left)
	for _, doc := range scored {
		table.Row(math.IsInf(doc.score.Perplexity(), 1), doc.name, humanize.Comma(int64(doc.score.Tokens)),
			fmt.Sprintf("%.4g", doc.score.Perplexity()), preview(doc.text, 40))
	}
	fmt.Println(table.String())
}

// preview returns the first maxRunes characters of text in a single line.
func preview(text string, maxRunes int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + "…"
}

// readDocuments reads the documents from the files, or from the standard input if there are none.
func readDocuments(paths []string, lines bool) ([]document, error) {
	if len(paths) == 0 {
		return splitDocuments("stdin", os.Stdin, lines)
	}
	var docs []document
	for _, path := range paths {
		path = fsutil.MustReplaceTildeInDir(path)
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q", path)
		}
		fileDocs, err := splitDocuments(path, f, lines)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		docs = append(docs, fileDocs...)
	}
	return docs, nil
}

func splitDocuments(name string, r io.Reader, lines bool) ([]document, error) {
	if !lines {
		contents, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %q", name)
		}
		return []document{{name: name, text: string(contents)}}, nil
	}
	var docs []document
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			docs = append(docs, document{name: fmt.Sprintf("%s:%d", name, lineNum), text: text})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", name)
	}
	return docs, nil
}
