// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// storygen generates stories from a prompt, streaming them to the terminal.
//
// Example:
//
//	storygen -model=hf:someone/urdu-stories -prompt="ایک دن" -set="max_tokens=500;seed=7"
//	storygen -model=~/models/urdu -prompt="ایک دن" -n=8 -parallelism=4
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/storygen"
	"github.com/gomlx/storygen/internal/workerspool"
	"github.com/gomlx/storygen/pkg/artifacts"
	"github.com/gomlx/storygen/pkg/ml/decode"
	"github.com/gomlx/storygen/pkg/support/params"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
	"github.com/gomlx/storygen/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagModel = flag.String("model", ".", "Where to read the model artifacts from: a local directory, "+
		"an http(s) URL or \"hf:<repo_id>\" for a HuggingFace repository.")
	flagCacheDir      = flag.String("cache_dir", "~/.cache/storygen", "Directory where artifacts downloaded from a URL are stored.")
	flagPrompt        = flag.String("prompt", "", "Prompt to start the story with.")
	flagNumStories    = flag.Int("n", 1, "Number of stories to generate. If > 1, stories are generated in parallel and printed when all are done.")
	flagParallelism   = flag.Int("parallelism", 0, "Number of stories generated in parallel, 0 for the number of CPUs.")
	flagMergeStrategy = flag.String("merge_strategy", bpe.FixedPriority.String(),
		"How the tokenizer applies merges: \"fixed_priority\" or \"greedy_earliest\".")
	flagProgress = flag.Bool("progress", true, "Display a progress bar while downloading artifacts or generating many stories.")
)

func defaultParams() *params.Params {
	return params.New(map[string]any{
		decode.ParamMaxTokens: 0,
		decode.ParamSeed:      uint64(0),
		decode.ParamStrategy:  "weighted",
		decode.ParamLambdas:   []float64{},
	})
}

func main() {
	p := defaultParams()
	settings := commandline.CreateSettingsFlag(p, "")
	klog.InitFlags(nil)
	flag.Parse()
	err := exceptions.TryCatch[error](func() { run(p, *settings) })
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func source() artifacts.Source {
	src := artifacts.ParseSource(*flagModel, *flagCacheDir)
	switch s := src.(type) {
	case *artifacts.URLSource:
		s.WithProgressBar(*flagProgress)
	case *artifacts.HubSource:
		s.WithProgressBar(*flagProgress)
	}
	return src
}

func run(p *params.Params, settings string) {
	paramsSet := must.M1(commandline.ParseSettings(p, settings))
	if len(paramsSet) > 0 {
		klog.V(1).Infof("Settings:\n%s", commandline.SprintModifiedSettings(p, paramsSet))
	}
	strategy := must.M1(bpe.ParseMergeStrategy(*flagMergeStrategy))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	engine := must.M1(storygen.Load(ctx, source(),
		storygen.WithMergeStrategy(strategy), storygen.WithParams(p)))

	if *flagNumStories <= 1 {
		streamStory(ctx, engine)
		return
	}
	generateStories(ctx, engine, p, *flagNumStories)
}

// streamStory prints the story as it is generated, with the prompt highlighted.
func streamStory(ctx context.Context, engine *storygen.Engine) {
	out := termenv.NewOutput(os.Stdout)
	isPrompt := true
	result, err := engine.Stream(ctx, *flagPrompt, func(chunk string) bool {
		if isPrompt {
			isPrompt = false
			_, _ = fmt.Fprint(out, out.String(chunk).Bold().Foreground(out.Color("6")))
			return true
		}
		_, _ = fmt.Fprint(out, chunk)
		return true
	})
	_, _ = fmt.Fprintln(out)
	if err != nil && ctx.Err() == nil {
		panic(err)
	}
	klog.V(1).Infof("Generated %d tokens, stopped by %s", result.Generated, result.Reason)
}

// generateStories generates numStories stories in parallel and prints them in order.
// With a fixed seed, the story i uses seed+i.
func generateStories(ctx context.Context, engine *storygen.Engine, p *params.Params, numStories int) {
	seed := params.GetOr(p, decode.ParamSeed, uint64(0))
	stories := make([]string, numStories)
	results := make([]decode.Result, numStories)
	errs := make([]error, numStories)
	var pBar *commandline.ProgressBar
	if *flagProgress {
		pBar = commandline.NewProgressBar(os.Stderr, numStories, "stories")
	}

	pool := workerspool.New(*flagParallelism)
	for i := range numStories {
		pool.WaitToStart(func() {
			gen := engine.Generator()
			if seed != 0 {
				gen.WithSeed(seed + uint64(i))
			}
			var sb strings.Builder
			results[i], errs[i] = decode.Chunks(ctx, engine.Tokenizer(), gen, *flagPrompt, func(chunk string) bool {
				sb.WriteString(chunk)
				return true
			})
			stories[i] = sb.String()
			if pBar != nil {
				pBar.Add(1, results[i].Generated)
			}
		})
	}
	pool.Wait()
	if pBar != nil {
		pBar.Done()
	}

	for i, story := range stories {
		if errs[i] != nil {
			klog.Errorf("Story #%d failed: %+v", i+1, errs[i])
			continue
		}
		fmt.Println(commandline.TitleStyle.Render(fmt.Sprintf("Story #%d (%d tokens, %s)", i+1, results[i].Generated, results[i].Reason)))
		fmt.Println(story)
	}
}
