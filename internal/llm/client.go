// Package llm implements the chat-completion client (C8): parameter
// negotiation across OpenAI-compatible and Anthropic-compatible backends, a
// classified-error retry loop, bounded concurrency, and an exponential
// moving average of per-model completion-token usage.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/interviewd/interviewd/internal/config"
	"github.com/interviewd/interviewd/internal/observe"
	"github.com/interviewd/interviewd/internal/resilience"
	"github.com/interviewd/interviewd/pkg/types"
)

// errorType classifies a chat-completion failure so the retry loop can
// adjust request parameters instead of giving up, mirroring the upstream
// service's error-classification contract.
type errorType string

const (
	errStreamUnsupported  errorType = "stream_unsupported"
	errTempUnsupported    errorType = "temp_unsupported"
	errMaxTokensUnsupported errorType = "max_tokens_unsupported"
	errLengthLimit        errorType = "length_limit"
	errNetwork            errorType = "network_error"
	errUnknown            errorType = "unknown"
)

const maxRetries = 3

// Client is a chat-completion client for one configured model/backend. One
// Client is shared across all sessions; concurrency is bounded by an
// internal semaphore.
//
// Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	temperature float64
	maxTokens  int

	useMaxCompletionTokens bool
	useDefaultTemp         bool

	sem     *semaphore.Weighted
	metrics *observe.Metrics
	breaker *resilience.CircuitBreaker

	mu            sync.Mutex
	tokenUsageAvg map[string]float64
}

// New constructs a [Client] from cfg. Model-family parameter quirks
// (max_tokens vs max_completion_tokens, fixed-temperature-only models) are
// decided once at construction time from the model id and base URL.
func New(cfg config.LLMConfig, metrics *observe.Metrics) *Client {
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	useMaxCompletion, useDefaultTemp := classifyModel(cfg.Model, cfg.BaseURL)

	return &Client{
		httpClient:             &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:                cfg.BaseURL,
		apiKey:                 cfg.APIKey,
		model:                  cfg.Model,
		temperature:            cfg.Temperature,
		maxTokens:              cfg.MaxTokens,
		useMaxCompletionTokens: useMaxCompletion,
		useDefaultTemp:         useDefaultTemp,
		sem:                    semaphore.NewWeighted(int64(concurrency)),
		metrics:                metrics,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "llm:" + cfg.Model,
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		}),
		tokenUsageAvg: make(map[string]float64),
	}
}

// classifyModel decides the two model-family parameter quirks from the
// model id and base URL: whether the backend wants max_completion_tokens
// instead of max_tokens, and whether it accepts only the default
// temperature (so the field must be omitted entirely).
func classifyModel(model, baseURL string) (useMaxCompletionTokens, useDefaultTemp bool) {
	m := strings.ToLower(model)
	b := strings.ToLower(baseURL)

	useMaxCompletionTokens = strings.Contains(m, "claude") ||
		strings.Contains(b, "anthropic") ||
		strings.Contains(m, "gpt-5") ||
		strings.Contains(m, "gpt-4o") ||
		strings.Contains(m, "o1") ||
		strings.Contains(m, "o3")

	useDefaultTemp = strings.Contains(m, "gpt-5") ||
		strings.Contains(m, "gpt-4o")

	return useMaxCompletionTokens, useDefaultTemp
}

// TokenCallback receives each streamed content delta as it arrives.
type TokenCallback func(delta string)

// Stream runs a streaming chat completion, invoking onToken for each
// content delta as it arrives, and returns the full accumulated text.
// Concurrency is bounded by the client's semaphore; Stream blocks until a
// slot is free or ctx is done.
func (c *Client) Stream(ctx context.Context, messages []types.Message, onToken TokenCallback) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("llm: acquire concurrency slot: %w", err)
	}
	defer c.sem.Release(1)

	if c.metrics != nil {
		c.metrics.InFlightLLMCalls.Add(ctx, 1)
		defer c.metrics.InFlightLLMCalls.Add(ctx, -1)
	}

	if c.apiKey == "" {
		return "", fmt.Errorf("llm: no API key configured")
	}

	start := time.Now()
	params := c.buildParams(messages, true)

	var full strings.Builder
	firstToken := true

	err := c.chatWithRetry(ctx, params, func(delta string) {
		if firstToken {
			firstToken = false
			if c.metrics != nil {
				c.metrics.LLMTimeToFirstToken.Record(ctx, time.Since(start).Seconds())
			}
		}
		full.WriteString(delta)
		if onToken != nil {
			onToken(delta)
		}
	})

	if c.metrics != nil {
		c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			c.metrics.RecordLLMError(ctx, c.model)
		}
	}
	return full.String(), err
}

// chatWithRetry runs the classified-error retry loop (spec §4.5): stream
// downgrades to non-stream on stream_unsupported, drops temperature on
// temp_unsupported, switches the token-limit field on
// max_tokens_unsupported, grows the token limit on length_limit, and
// backs off exponentially on network_error. Gives up after [maxRetries].
func (c *Client) chatWithRetry(ctx context.Context, params map[string]any, onToken TokenCallback) error {
	streaming, _ := params["stream"].(bool)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		var err error
		if streaming {
			err = c.doStream(ctx, params, onToken)
		} else {
			var text string
			text, err = c.doComplete(ctx, params)
			if err == nil && onToken != nil && text != "" {
				onToken(text)
			}
		}
		if err == nil {
			return nil
		}

		kind, lengthLimited := classifyError(err)

		switch {
		case kind == errStreamUnsupported && streaming:
			streaming = false
			params["stream"] = false
		case kind == errTempUnsupported:
			delete(params, "temperature")
		case kind == errMaxTokensUnsupported:
			if v, ok := params["max_tokens"]; ok {
				delete(params, "max_tokens")
				params["max_completion_tokens"] = v
			}
		case kind == errLengthLimit || lengthLimited:
			var lle *lengthLimitError
			reasoningTokens := 0
			if errors.As(err, &lle) {
				reasoningTokens = lle.ReasoningTokens
			}
			c.growTokenLimit(params, reasoningTokens)
		case kind == errNetwork && attempt < maxRetries:
			select {
			case <-time.After(time.Duration(1<<uint(attempt+1)) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return err
		}
		if c.metrics != nil && attempt < maxRetries {
			c.metrics.RecordLLMRetry(ctx, string(kind))
		}
	}
	return fmt.Errorf("llm: exhausted %d retries", maxRetries)
}

// growTokenLimit mutates params in place per the upstream token-limit
// growth rule (spec §4.5): ×2 capped at 2000, ×3 floored at 2000 when the
// failed response burned reasoning tokens, and either way jumped to 4000
// once the current limit is already ≥ 1000.
func (c *Client) growTokenLimit(params map[string]any, reasoningTokens int) {
	key := "max_tokens"
	if _, ok := params["max_completion_tokens"]; ok {
		key = "max_completion_tokens"
	}
	current, _ := params[key].(int)
	if current <= 0 {
		current = c.maxTokens
	}

	var newLimit int
	if reasoningTokens > 0 {
		newLimit = max(current*3, 2000)
	} else {
		newLimit = min(current*2, 2000)
	}
	if current >= 1000 {
		newLimit = 4000
	}
	params[key] = newLimit
}

// buildParams constructs the request body as a mutable map so the retry
// loop can add, remove, or rename fields exactly as the classified-error
// handling requires.
func (c *Client) buildParams(messages []types.Message, stream bool) map[string]any {
	msgs := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, map[string]string{"role": m.Role, "content": m.Content})
	}

	params := map[string]any{
		"model":    c.model,
		"messages": msgs,
		"stream":   stream,
	}

	limit := c.maxTokens
	c.mu.Lock()
	if avg, ok := c.tokenUsageAvg[c.model]; ok && avg > float64(limit)*0.8 {
		limit = int(avg * 1.5)
	}
	c.mu.Unlock()

	if c.useMaxCompletionTokens {
		params["max_completion_tokens"] = limit
	} else {
		params["max_tokens"] = limit
	}
	if !c.useDefaultTemp {
		params["temperature"] = c.temperature
	}
	return params
}

func (c *Client) updateTokenUsage(completionTokens int) {
	if completionTokens <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.tokenUsageAvg[c.model]
	if old == 0 {
		old = 1500
	}
	c.tokenUsageAvg[c.model] = 0.8*old + 0.2*float64(completionTokens)
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// doStream issues one streaming request and feeds each content delta to
// onToken as it arrives over the response's server-sent-event stream.
func (c *Client) doStream(ctx context.Context, params map[string]any, onToken TokenCallback) error {
	resp, err := c.post(ctx, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.responseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			onToken(delta)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("network_error: stream read failed: %w", err)
	}
	return nil
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens        int `json:"completion_tokens"`
		CompletionTokensDetails struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
}

// lengthLimitError reports a finish_reason=length (or empty-content)
// truncation, carrying the reasoning-token count from the response's usage
// block so the retry loop can apply the reasoning-model growth rule
// (spec §4.5).
type lengthLimitError struct {
	ReasoningTokens int
}

func (e *lengthLimitError) Error() string {
	return "length_limit: finish_reason=length with no content"
}

// doComplete issues one non-streaming request and returns the full
// response text.
func (c *Client) doComplete(ctx context.Context, params map[string]any) (string, error) {
	resp, err := c.post(ctx, params)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.responseError(resp)
	}

	var body chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("network_error: decode response: %w", err)
	}
	if len(body.Choices) == 0 {
		return "", fmt.Errorf("unknown: empty choices in response")
	}

	choice := body.Choices[0]
	c.updateTokenUsage(body.Usage.CompletionTokens)

	if choice.Message.Content == "" && choice.FinishReason == "length" {
		return "", &lengthLimitError{ReasoningTokens: body.Usage.CompletionTokensDetails.ReasoningTokens}
	}
	return choice.Message.Content, nil
}

func (c *Client) post(ctx context.Context, params map[string]any) (*http.Response, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp *http.Response
	err = c.breaker.Execute(func() error {
		var doErr error
		resp, doErr = c.httpClient.Do(req)
		return doErr
	})
	if err != nil {
		return nil, fmt.Errorf("network_error: %w", err)
	}
	return resp, nil
}

// responseError reads the error body and wraps it so [classifyError] can
// inspect it by substring, matching the upstream classification contract.
func (c *Client) responseError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("llm: backend returned status %d: %s", resp.StatusCode, string(b))
}

// classifyError inspects an error's message for the substrings the
// upstream service's error classifier keys on. The second return value
// additionally flags a length/finish_reason style failure even when it
// doesn't fit cleanly into [errLengthLimit], since callers treat both the
// same way.
func classifyError(err error) (errorType, bool) {
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "stream") && (strings.Contains(msg, "unsupported") ||
		strings.Contains(msg, "verified") || strings.Contains(msg, "organization")) {
		return errStreamUnsupported, false
	}
	if strings.Contains(msg, "temperature") && (strings.Contains(msg, "only the default") ||
		strings.Contains(msg, "unsupported value")) {
		return errTempUnsupported, false
	}
	if (strings.Contains(msg, "max_tokens") || strings.Contains(msg, "max_completion_tokens")) &&
		(strings.Contains(msg, "unsupported") || strings.Contains(msg, "not supported")) {
		return errMaxTokensUnsupported, false
	}
	if strings.Contains(msg, "length") || strings.Contains(msg, "finish_reason") {
		return errLengthLimit, true
	}
	if strings.Contains(msg, "network_error") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") {
		return errNetwork, false
	}
	return errUnknown, false
}
