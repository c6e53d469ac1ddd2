// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "storygen"

// Outcomes of a generation request, used as the "outcome" label of the requests counter.
const (
	OutcomeEOT              = "eot"
	OutcomeMaxTokens        = "max_tokens"
	OutcomeCancelled        = "cancelled"
	OutcomeBadRequest       = "bad_request"
	OutcomeNotUrdu          = "not_urdu"
	OutcomeBusy             = "busy"
	OutcomeMethodNotAllowed = "method_not_allowed"
	OutcomeError            = "error"
)

// Metrics of the generation service.
type Metrics struct {
	requests  *prometheus.CounterVec
	tokens    prometheus.Counter
	durations prometheus.Histogram
	inFlight  prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "generate_requests_total",
				Help:      "Count of generation requests, by outcome.",
			},
			[]string{"outcome"},
		),
		tokens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "generated_tokens_total",
				Help:      "Count of tokens sampled for all requests.",
			},
		),
		durations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "stream_duration_seconds",
				Help:      "Duration of the streamed generations, from the first chunk to the end.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "generate_in_flight",
				Help:      "Number of generations being streamed.",
			},
		),
	}
	reg.MustRegister(m.requests, m.tokens, m.durations, m.inFlight)
	return m
}

// RecordRequest records the outcome of a request.
func (m *Metrics) RecordRequest(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}

// RecordStream records a finished stream, its number of generated tokens and its duration.
func (m *Metrics) RecordStream(generated int, duration time.Duration) {
	m.tokens.Add(float64(generated))
	m.durations.Observe(duration.Seconds())
}
