package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/storygen/pkg/core/tokens"
	"github.com/gomlx/storygen/pkg/ml/decode"
	"github.com/gomlx/storygen/pkg/ml/ngram"
	"github.com/gomlx/storygen/pkg/tokenizer/bpe"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEngine struct {
	tokenizer *bpe.Tokenizer
	model     *ngram.Model
	weights   ngram.Weights
	eot       tokens.ID
}

func (e *testEngine) Tokenizer() *bpe.Tokenizer { return e.tokenizer }

func (e *testEngine) Generator() *decode.Generator {
	return decode.New(e.model, e.weights, e.eot)
}

// newTestEngine has 4 tokens: "ا"=0, "ب"=1, " "=2 and end-of-text=3. If eotLikely, the
// end-of-text token dominates the unigram counts, otherwise it is never counted.
func newTestEngine(t *testing.T, eotLikely bool) *testEngine {
	char2id := map[string]tokens.ID{"ا": 0, "ب": 1, " ": 2, bpe.EOT: 3}
	id2char := map[tokens.ID]string{0: "ا", 1: "ب", 2: " ", 3: bpe.EOT}
	vocab, err := bpe.NewVocabulary(char2id, id2char)
	require.NoError(t, err)
	merges, err := bpe.NewMergeTable(nil)
	require.NoError(t, err)
	tok, err := bpe.New(vocab, merges)
	require.NoError(t, err)

	counts := ngram.NewCounts(4)
	counts.Unigrams[0] = 10
	counts.Unigrams[1] = 10
	counts.Unigrams[2] = 5
	if eotLikely {
		counts.Unigrams[3] = 1000
	}
	for _, c := range counts.Unigrams {
		counts.TotalTokens += c
	}
	weights := ngram.Weights{L1: 0.8, L2: 0.1, L3: 0.1}
	if !eotLikely {
		// Only the unigram, where end-of-text has the smallest probability.
		weights = ngram.Weights{L1: 1}
	}
	return &testEngine{tokenizer: tok, model: ngram.New(counts), weights: weights, eot: 3}
}

func testConfig() Config {
	config := DefaultConfig()
	config.PromptDelay = 0
	config.TokenDelay = 0
	return config
}

func newTestServer(t *testing.T, engine Engine, config Config) (*Server, *httptest.Server) {
	s, err := New(engine, config)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postGenerate(t *testing.T, url, body string) *http.Response {
	resp, err := http.Post(url+"/generate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readError(t *testing.T, resp *http.Response) string {
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var errResp errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	return errResp.Error
}

func TestIsUrduText(t *testing.T) {
	assert.True(t, IsUrduText("ایک دن ایک لڑکا"))
	assert.True(t, IsUrduText("  ایک  "))
	assert.True(t, IsUrduText("ابپت x"), "4 of 5 non-space characters are Urdu")
	assert.False(t, IsUrduText("ابپ xy"), "3 of 5 is below 70%")
	assert.False(t, IsUrduText("Once upon a time"))
	assert.False(t, IsUrduText(""))
	assert.False(t, IsUrduText(" \t\n"))
	assert.True(t, IsUrduText("ݐݑ"), "Arabic Supplement block")
}

func TestGenerate_Stream(t *testing.T) {
	s, ts := newTestServer(t, newTestEngine(t, true), testConfig())
	resp := postGenerate(t, ts.URL, `{"prompt": "اب ا"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	story := string(body)
	assert.True(t, strings.HasPrefix(story, "اب ا"), "story %q must start with the prompt", story)
	assert.NotContains(t, story, bpe.EOT)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.requests.WithLabelValues(OutcomeEOT)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(s.metrics.tokens), 1.0, "at least end-of-text was generated")
	assert.Equal(t, 0.0, testutil.ToFloat64(s.metrics.inFlight))
}

func TestGenerate_MaxTokens(t *testing.T) {
	config := testConfig()
	config.MaxTokens = 5
	s, ts := newTestServer(t, newTestEngine(t, false), config)
	for range 5 {
		resp := postGenerate(t, ts.URL, `{"prompt": "ب"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.LessOrEqual(t, len([]rune(string(body))), 1+5)
	}
	capped := testutil.ToFloat64(s.metrics.requests.WithLabelValues(OutcomeMaxTokens))
	finished := testutil.ToFloat64(s.metrics.requests.WithLabelValues(OutcomeEOT))
	assert.Equal(t, 5.0, capped+finished)
	assert.LessOrEqual(t, testutil.ToFloat64(s.metrics.tokens), 25.0)
}

func TestGenerate_NotUrdu(t *testing.T) {
	s, ts := newTestServer(t, newTestEngine(t, true), testConfig())
	for _, prompt := range []string{`{"prompt": "Once upon a time"}`, `{"prompt": ""}`, `{}`} {
		resp := postGenerate(t, ts.URL, prompt)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, UrduRequiredMessage, readError(t, resp))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.requests.WithLabelValues(OutcomeNotUrdu)))
}

func TestGenerate_BadRequests(t *testing.T) {
	s, ts := newTestServer(t, newTestEngine(t, true), testConfig())
	resp := postGenerate(t, ts.URL, `{"prompt": `)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readError(t, resp), "invalid request")

	resp, err := http.Get(ts.URL + "/generate")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Allow"), "POST")

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.requests.WithLabelValues(OutcomeBadRequest)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.requests.WithLabelValues(OutcomeMethodNotAllowed)))
}

func TestGenerate_Busy(t *testing.T) {
	config := testConfig()
	config.MaxConcurrent = 1
	s, ts := newTestServer(t, newTestEngine(t, true), config)
	release, ok := s.pool.TryAcquire()
	require.True(t, ok)
	resp := postGenerate(t, ts.URL, `{"prompt": "اب"}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	release()

	resp = postGenerate(t, ts.URL, `{"prompt": "اب"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.requests.WithLabelValues(OutcomeBusy)))
}

func TestGenerate_ClientDisconnect(t *testing.T) {
	config := testConfig()
	config.TokenDelay = 5 * time.Millisecond
	engine := newTestEngine(t, false)
	engine.eot = 99 // Never sampled: generation only ends when the client leaves.
	s, err := New(engine, config)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt": "ا"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		s.Handler().ServeHTTP(rec, req)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("generation did not stop after the client disconnected")
	}
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.requests.WithLabelValues(OutcomeCancelled)))
	assert.Equal(t, 0, s.pool.NumRunning())
}

func TestCORS_Preflight(t *testing.T) {
	_, ts := newTestServer(t, newTestEngine(t, true), testConfig())
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/generate", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://stories.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "content-type", resp.Header.Get("Access-Control-Allow-Headers"))
}

func TestHealthzAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, newTestEngine(t, true), testConfig())
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	postGenerate(t, ts.URL, `{"prompt": "Hello"}`)
	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `storygen_generate_requests_total{outcome="not_urdu"} 1`)
	assert.Contains(t, string(body), "storygen_stream_duration_seconds")
}

func TestListenAndServe_Shutdown(t *testing.T) {
	config := testConfig()
	config.Addr = "127.0.0.1:0"
	s, err := New(newTestEngine(t, true), config)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- s.ListenAndServe(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after the context was cancelled")
	}
}
