// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// storygen_server serves generated stories over HTTP, see package server for the endpoints.
//
// Example:
//
//	storygen_server --model=hf:someone/urdu-stories --addr=:8000 --max_tokens=1024
//	curl -N -X POST localhost:8000/generate -d '{"prompt": "ایک دن"}'
package main

import (
	"context"
	goflag "flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gomlx/storygen"
	"github.com/gomlx/storygen/pkg/artifacts"
	"github.com/gomlx/storygen/pkg/ml/ngram"
	"github.com/gomlx/storygen/pkg/server"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

func main() {
	defaults := server.DefaultConfig()
	var (
		model         = pflag.String("model", ".", "Model artifacts: a local directory, an http(s) URL or \"hf:<repo_id>\".")
		cacheDir      = pflag.String("cache_dir", "~/.cache/storygen", "Directory where artifacts downloaded from a URL are stored.")
		addr          = pflag.String("addr", defaults.Addr, "Address to listen to.")
		maxTokens     = pflag.Int("max_tokens", defaults.MaxTokens, "Maximum number of tokens generated per request, 0 for no limit.")
		maxConcurrent = pflag.Int("max_concurrent", defaults.MaxConcurrent, "Maximum number of stories streamed at the same time, 0 for the number of CPUs, -1 for unlimited.")
		promptDelay   = pflag.Duration("prompt_delay", defaults.PromptDelay, "Pause after streaming the prompt.")
		tokenDelay    = pflag.Duration("token_delay", defaults.TokenDelay, "Pause after streaming each generated token.")
		mergeStrategy = pflag.String("merge_strategy", bpe.FixedPriority.String(), "How the tokenizer applies merges: \"fixed_priority\" or \"greedy_earliest\".")
		lambdas       = pflag.String("lambdas", "", "Override the interpolation weights, as \"l1,l2,l3\".")
	)
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	pflag.Parse()

	strategy, err := bpe.ParseMergeStrategy(*mergeStrategy)
	if err != nil {
		klog.Fatalf("Invalid --merge_strategy: %+v", err)
	}
	opts := []storygen.Option{storygen.WithMergeStrategy(strategy)}
	if *lambdas != "" {
		weights, err := ngram.ParseWeights(*lambdas)
		if err != nil {
			klog.Fatalf("Invalid --lambdas: %+v", err)
		}
		opts = append(opts, storygen.WithWeights(weights))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	engine, err := storygen.Load(ctx, artifacts.ParseSource(*model, *cacheDir), opts...)
	if err != nil {
		klog.Fatalf("Failed to load model: %+v", err)
	}
	klog.Infof("Loaded model: vocabulary of %d tokens, %d merges, weights %s",
		engine.Model().VocabSize(), engine.Tokenizer().Merges().Len(), engine.Weights())

	config := defaults
	config.Addr = *addr
	config.MaxTokens = *maxTokens
	config.MaxConcurrent = *maxConcurrent
	config.PromptDelay = *promptDelay
	config.TokenDelay = *tokenDelay
	s, err := server.New(engine, config)
	if err != nil {
		klog.Fatalf("Failed to create server: %+v", err)
	}
	if err := s.ListenAndServe(ctx); err != nil {
		klog.Fatalf("%+v", err)
	}
	klog.Info("Server stopped")
}
