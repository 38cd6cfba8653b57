// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway implements the OpenRouter-compatible chat completions
// client. It is the process boundary to the LLM provider: routing and cost
// accounting happen on this side, generation on the other.
//
// GATEWAY: Retry logic, rate limiting, and bounded response reads
package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Configuration constants for the completions API.
const (
	// DefaultBaseURL is the base URL for the OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// transient errors.
	DefaultMaxRetries = 3

	// DefaultRequestsPerMinute is the default client-side rate limit.
	DefaultRequestsPerMinute = 60

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Shared HTTP transport for all gateway clients.
// SECURITY: TLS verification required for production
var sharedTransport = &http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	TLSClientConfig: &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: false,
	},
}

// Error variables for common gateway failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("gateway API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the provider rejected the request with 429.
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrModelNotFound indicates the provider does not know the model.
	ErrModelNotFound = errors.New("model not found at provider")

	// ErrInsufficientCredits indicates the account has run out of credits.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// APIError is a structured error payload returned by the provider.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error (status %d, code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway error (status %d): %s", e.Status, e.Message)
}

// ============================================================================
// WIRE TYPES
// ============================================================================

// ChatMessage is a single message in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a user-role message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// NewSystemMessage creates a system-role message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// NewAssistantMessage creates an assistant-role message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// ChatRequest is the completions request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// Usage is the provider-reported token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the parsed result of a successful call.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// chatResponse mirrors the provider's response body.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage     `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
}

// ============================================================================
// CLIENT
// ============================================================================

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
}

// Client is a completions client with retries and a client-side rate
// limiter. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpc      *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

// NewClient creates a Client using the shared pooled transport.
func NewClient(apiKey string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = DefaultRequestsPerMinute
	}
	return &Client{
		baseURL: opts.BaseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Transport: sharedTransport,
			Timeout:   opts.Timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), opts.RequestsPerMinute),
		maxRetries: opts.MaxRetries,
	}
}

// IsConfigured reports whether an API key is set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// APIKeyMasked returns a loggable form of the key.
func (c *Client) APIKeyMasked() string {
	if len(c.apiKey) <= 8 {
		return "***"
	}
	return c.apiKey[:4] + "..." + c.apiKey[len(c.apiKey)-4:]
}

// Complete sends a chat completions request and parses the result.
// It waits for the client-side rate limiter, then retries transient
// failures (429, 5xx, network errors) with exponential backoff. Auth,
// credit, and model errors are returned immediately.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*Completion, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if req.Model == "" {
		return nil, fmt.Errorf("gateway: request has no model")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("gateway: request has no messages")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt - 1)
			log.Printf("GATEWAY: retry %d/%d after %v: %v", attempt, c.maxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		comp, err := c.doRequest(ctx, body)
		if err == nil {
			return comp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*Completion, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	log.Printf("GATEWAY: %d in %v (%d bytes)", resp.StatusCode, time.Since(start).Round(time.Millisecond), len(data))

	if resp.StatusCode != http.StatusOK {
		return nil, errorForStatus(resp.StatusCode, data)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	// Some providers return errors inside a 200 body.
	if parsed.Error != nil {
		return nil, &APIError{Status: resp.StatusCode, Code: parsed.Error.Code.String(), Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	return &Completion{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage:   parsed.Usage,
	}, nil
}

// errorForStatus maps HTTP statuses to sentinel or structured errors.
func errorForStatus(status int, body []byte) error {
	var parsed chatResponse
	msg := ""
	code := ""
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		msg = parsed.Error.Message
		code = parsed.Error.Code.String()
	}

	// Keep the provider's message on the sentinel so the failure is
	// diagnosable without re-running the request.
	wrap := func(sentinel error) error {
		if msg == "" {
			return sentinel
		}
		return fmt.Errorf("%w: %s", sentinel, msg)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return wrap(ErrAuthFailed)
	case http.StatusPaymentRequired:
		return wrap(ErrInsufficientCredits)
	case http.StatusNotFound:
		return wrap(ErrModelNotFound)
	case http.StatusTooManyRequests:
		return wrap(ErrRateLimited)
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Code: code, Message: msg}
}

// isRetryable determines if an error should trigger a retry.
// Rate limiting and server-side failures are retryable; auth, credit,
// model, and context errors are not.
func isRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInsufficientCredits) || errors.Is(err, ErrModelNotFound) {
		return false
	}
	// Network-level failures are worth one more try.
	var urlErr interface{ Timeout() bool }
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}

// calculateBackoff returns the delay before the next retry.
// Exponential: 500ms, 1000ms, 2000ms, capped at retryMaxDelay.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
