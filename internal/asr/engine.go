package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Engine is the ASR Engine Adapter (C2): a narrow contract over a streaming
// acoustic-model inference server, reached over HTTP and bounded by a
// shared worker pool. It implements exactly one operation —
// recognize(pcm, sampleRate, cache) -> text — matching the upstream
// streaming-recognition contract exactly so per-session [Cache] blobs
// round-trip unmodified by anything in between.
type Engine struct {
	baseURL    string
	language   string
	httpClient *http.Client
	pool       *WorkerPool
}

// Option configures an [Engine].
type Option func(*Engine)

// WithHTTPClient overrides the default HTTP client (useful for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// WithLanguage sets an optional language hint sent with every request.
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// NewEngine returns an [Engine] that posts recognition requests to
// inferenceURL, admitting at most workers concurrent in-flight requests.
func NewEngine(inferenceURL string, workers int, opts ...Option) *Engine {
	e := &Engine{
		baseURL:    inferenceURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pool:       NewWorkerPool(workers),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type recognizeRequest struct {
	PCM        []byte `json:"pcm"`
	SampleRate int    `json:"sample_rate"`
	Language   string `json:"language,omitempty"`
	Cache      Cache  `json:"cache,omitempty"`
	ResetCache bool   `json:"reset_cache"`
}

type recognizeResponse struct {
	Text  string `json:"text"`
	Cache Cache  `json:"cache,omitempty"`
}

// Result is the outcome of a single [Engine.Recognize] call.
type Result struct {
	Text  string
	Cache Cache
}

// Recognize sends pcm (little-endian int16 mono samples) to the inference
// server along with the session's current cache, and returns the
// recognized text plus the updated cache to store back on the session.
//
// resetCache must be true when starting a new segment (a fresh final-result
// recognition) and false when continuing streaming recognition within the
// same segment (partial results) — it controls whether the server begins
// from a clean decoder state or continues the session's existing one.
//
// Concurrency is bounded by the engine's worker pool; Recognize blocks until
// a slot is free or ctx is done.
func (e *Engine) Recognize(ctx context.Context, pcm []byte, sampleRate int, cache Cache, resetCache bool) (Result, error) {
	return Submit(ctx, e.pool, func(ctx context.Context) (Result, error) {
		return e.recognize(ctx, pcm, sampleRate, cache, resetCache)
	})
}

func (e *Engine) recognize(ctx context.Context, pcm []byte, sampleRate int, cache Cache, resetCache bool) (Result, error) {
	if len(pcm) == 0 {
		return Result{}, nil
	}

	reqBody := recognizeRequest{
		PCM:        pcm,
		SampleRate: sampleRate,
		Language:   e.language,
		Cache:      cache,
		ResetCache: resetCache,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("asr: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("asr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("asr: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("asr: inference server returned status %d", resp.StatusCode)
	}

	var respBody recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return Result{}, fmt.Errorf("asr: decode response: %w", err)
	}

	return Result{Text: respBody.Text, Cache: respBody.Cache}, nil
}
