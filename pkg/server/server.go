// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package server implements the HTTP service that streams generated stories.
//
// Endpoints:
//
//   - POST /generate with a JSON body {"prompt": "..."}: streams the story as plain text, starting
//     with the prompt itself. Prompts must be in Urdu.
//   - GET /healthz: returns "ok".
//   - GET /metrics: Prometheus metrics.
//
// All responses allow cross-origin requests from any origin.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gomlx/storygen/internal/workerspool"
	"github.com/gomlx/storygen/pkg/ml/decode"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

// Log verbosity levels.
const (
	logVerbose = 1
	logDebug   = 2
)

// Engine provides the tokenizer and generator used by the server.
type Engine interface {
	Tokenizer() *bpe.Tokenizer
	Generator() *decode.Generator
}

// Config of the server.
type Config struct {
	// Addr to listen to, e.g. ":8000".
	Addr string

	// MaxTokens is the cap on the number of tokens generated per request. 0 means no cap.
	MaxTokens int

	// MaxConcurrent is the number of generations streamed at the same time: requests beyond it
	// are rejected with 503. 0 uses the number of CPUs, < 0 means unlimited.
	MaxConcurrent int

	// PromptDelay is the pause after the prompt chunk, TokenDelay the pause after each generated
	// token chunk.
	PromptDelay, TokenDelay time.Duration

	// MaxRequestBytes limits the size of the request body.
	MaxRequestBytes int64

	// ShutdownTimeout is how long ListenAndServe waits for the streams to finish once its context
	// is done.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		MaxTokens:       1024,
		MaxConcurrent:   0,
		PromptDelay:     50 * time.Millisecond,
		TokenDelay:      20 * time.Millisecond,
		MaxRequestBytes: 1 << 20,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server streams stories generated by an Engine.
type Server struct {
	config    Config
	tokenizer *bpe.Tokenizer
	generator *decode.Generator
	pool      *workerspool.Pool
	metrics   *Metrics
	registry  *prometheus.Registry
	handler   http.Handler
}

// New creates a Server for the engine with the given configuration.
func New(engine Engine, config Config) (*Server, error) {
	s := &Server{
		config:    config,
		tokenizer: engine.Tokenizer(),
		generator: engine.Generator().WithMaxTokens(config.MaxTokens),
		pool:      workerspool.New(config.MaxConcurrent),
		registry:  prometheus.NewRegistry(),
	}
	if err := s.generator.Err(); err != nil {
		return nil, errors.WithMessage(err, "failed to configure generator")
	}
	s.metrics = NewMetrics(s.registry)

	mux := http.NewServeMux()
	mux.HandleFunc("/generate", s.handleGenerate)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.handler = withCORS(withRequestID(mux))
	return s, nil
}

// Handler returns the http.Handler serving all endpoints.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// ListenAndServe serves on the configured address until ctx is done. Streams still running then
// are cancelled, and it waits up to Config.ShutdownTimeout for them to finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		shutdownErr <- srv.Shutdown(shutdownCtx)
	}()
	klog.Infof("Serving stories on %s", s.config.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "failed to serve on %q", s.config.Addr)
	}
	if err := <-shutdownErr; err != nil {
		return errors.Wrap(err, "server shutdown")
	}
	return nil
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	logger := klog.FromContext(r.Context())
	if r.Method != http.MethodPost {
		s.metrics.RecordRequest(OutcomeMethodNotAllowed)
		w.Header().Set("Allow", "POST, OPTIONS")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed, use POST")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxRequestBytes)).Decode(&req); err != nil {
		s.metrics.RecordRequest(OutcomeBadRequest)
		logger.V(logVerbose).Info("Invalid request body", "error", err.Error())
		writeJSONError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if !IsUrduText(req.Prompt) {
		s.metrics.RecordRequest(OutcomeNotUrdu)
		logger.V(logVerbose).Info("Rejected prompt not in Urdu")
		writeJSONError(w, http.StatusBadRequest, UrduRequiredMessage)
		return
	}

	release, ok := s.pool.TryAcquire()
	if !ok {
		s.metrics.RecordRequest(OutcomeBusy)
		logger.Info("Rejected request, all generation slots busy", "slots", s.pool.MaxParallelism())
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusServiceUnavailable, "server busy, try again later")
		return
	}
	defer release()
	s.metrics.inFlight.Inc()
	defer s.metrics.inFlight.Dec()

	s.stream(r.Context(), logger, w, req.Prompt)
}

// stream writes the generated chunks to w, flushing after each of them.
func (s *Server) stream(ctx context.Context, logger logr.Logger, w http.ResponseWriter, prompt string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	start := time.Now()
	var writeErr error
	delay := s.config.PromptDelay
	result, err := decode.Chunks(ctx, s.tokenizer, s.generator, prompt, func(chunk string) bool {
		if chunk != "" {
			if _, writeErr = w.Write([]byte(chunk)); writeErr != nil {
				return false
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if !sleep(ctx, delay) {
			return false
		}
		delay = s.config.TokenDelay
		return true
	})
	elapsed := time.Since(start)
	s.metrics.RecordStream(result.Generated, elapsed)

	outcome := OutcomeEOT
	switch {
	case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeError
		logger.Error(err, "Generation failed")
	case err != nil || writeErr != nil || result.Reason == decode.StopConsumer:
		outcome = OutcomeCancelled
	case result.Reason == decode.StopMaxTokens:
		outcome = OutcomeMaxTokens
	}
	s.metrics.RecordRequest(outcome)
	logger.V(logVerbose).Info("Story streamed", "outcome", outcome, "tokens", result.Generated,
		"duration", elapsed.String())
	if writeErr != nil {
		logger.V(logDebug).Info("Client write failed", "error", writeErr.Error())
	}
}

// sleep pauses for d, returning false if ctx is done first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// withRequestID gives each request a unique id, returned in the X-Request-Id header and attached to
// the request's logger.
func withRequestID(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		logger := klog.FromContext(r.Context()).WithValues("request_id", requestID)
		logger.V(logDebug).Info("Request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		h.ServeHTTP(w, r.WithContext(klog.NewContext(r.Context(), logger)))
	})
}

// withCORS allows requests from any origin, with any method and headers, and answers the
// preflight requests.
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "*")
		header.Set("Access-Control-Allow-Headers", "*")
		header.Set("Access-Control-Expose-Headers", "X-Request-Id")
		if r.Method == http.MethodOptions {
			if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
				header.Set("Access-Control-Allow-Headers", requested)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
