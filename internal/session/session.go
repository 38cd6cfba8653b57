// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session orchestrates a conversation: each prompt is classified,
// routed, sent through the gateway, and accounted for in the cost tracker
// and the call log. Sessions are independent; running several in one
// process is fine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptroute/internal/catalog"
	"github.com/jeranaias/promptroute/internal/config"
	"github.com/jeranaias/promptroute/internal/gateway"
	"github.com/jeranaias/promptroute/internal/pricing"
	"github.com/jeranaias/promptroute/internal/router"
	"github.com/jeranaias/promptroute/internal/storage"
	"github.com/jeranaias/promptroute/internal/tracker"
)

// maxCompletionCap bounds max_tokens on any single request regardless of
// what the model allows.
const maxCompletionCap = 4000

// Completer is the gateway surface the session depends on.
type Completer interface {
	Complete(ctx context.Context, req gateway.ChatRequest) (*gateway.Completion, error)
}

// Reply is the result of one successful Send.
type Reply struct {
	// PromptID identifies this prompt in the call log.
	PromptID string
	// Content is the model's answer.
	Content string
	// Model is the catalog id the request was routed to.
	Model string
	// Decision is the routing decision that picked the model.
	Decision router.Decision
	// Usage is the provider-reported token accounting.
	Usage gateway.Usage
	// Record is the ledger entry written for this call.
	Record tracker.UsageRecord
	// Warning is non-nil when the record could not be persisted
	// (*tracker.PersistenceWarning); the call itself succeeded.
	Warning error
	// Latency is the wall time of the gateway call.
	Latency time.Duration
}

// Session ties the router, tracker, call log, and gateway together for one
// conversation.
type Session struct {
	catalog   *catalog.Catalog
	router    *router.Router
	estimator *pricing.Estimator
	tracker   *tracker.Tracker
	calls     *storage.CallLog
	gateway   Completer

	ledger *tracker.Ledger
}

// New assembles a session from configuration. The gateway client is built
// from cfg.Gateway; use NewWithGateway to inject one (tests do).
func New(cfg *config.Config) (*Session, error) {
	client := gateway.NewClient(cfg.Gateway.APIKey, gateway.Options{
		BaseURL:           cfg.Gateway.BaseURL,
		Timeout:           time.Duration(cfg.Gateway.TimeoutSecs) * time.Second,
		MaxRetries:        cfg.Gateway.MaxRetries,
		RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
	})
	return NewWithGateway(cfg, client)
}

// NewWithGateway assembles a session around the given gateway.
func NewWithGateway(cfg *config.Config, gw Completer) (*Session, error) {
	cat, err := cfg.BuildCatalog()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	rt, err := cfg.BuildRouter(cat)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	ledger, err := tracker.OpenLedger(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	calls, err := storage.Open(cfg.CallLog.Path)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("session: %w", err)
	}

	est := pricing.NewEstimator(cat)
	return &Session{
		catalog:   cat,
		router:    rt,
		estimator: est,
		tracker:   tracker.New(est, ledger),
		calls:     calls,
		gateway:   gw,
		ledger:    ledger,
	}, nil
}

// ID returns the session identifier shared by ledger and call log rows.
func (s *Session) ID() string {
	return s.tracker.SessionID()
}

// Router returns the session's router.
func (s *Session) Router() *router.Router {
	return s.router
}

// Catalog returns the session's model catalog.
func (s *Session) Catalog() *catalog.Catalog {
	return s.catalog
}

// Estimator returns the session's cost estimator.
func (s *Session) Estimator() *pricing.Estimator {
	return s.estimator
}

// Tracker returns the session's cost tracker.
func (s *Session) Tracker() *tracker.Tracker {
	return s.tracker
}

// Calls returns the session's call log.
func (s *Session) Calls() *storage.CallLog {
	return s.calls
}

// Send routes the conversation's latest user message, calls the gateway,
// and records the outcome. A manualModel pins the model; if it is not in
// the catalog, *router.InvalidModelError is returned and nothing is sent or
// recorded. Failed gateway calls are recorded in the call log only; the
// cost ledger never sees a failed call.
func (s *Session) Send(ctx context.Context, messages []gateway.ChatMessage, manualModel string) (*Reply, error) {
	prompt := lastUserContent(messages)
	if prompt == "" {
		return nil, fmt.Errorf("session: no user message to send")
	}
	promptID := uuid.NewString()

	decision, err := s.router.Route(prompt, manualModel, 0)
	if err != nil {
		return nil, err
	}
	spec, _ := s.catalog.Get(decision.SelectedModel)

	maxTokens := spec.MaxTokens
	if maxTokens > maxCompletionCap {
		maxTokens = maxCompletionCap
	}

	req := gateway.ChatRequest{
		Model:       decision.SelectedModel,
		Messages:    messages,
		Temperature: spec.Temperature,
		MaxTokens:   maxTokens,
	}

	// The only slow operation; no tracker or ledger lock is held here.
	start := time.Now()
	comp, err := s.gateway.Complete(ctx, req)
	latency := time.Since(start)

	if err != nil {
		s.recordCall(promptID, prompt, decision, gateway.Usage{}, latency, false, errorType(err))
		return nil, fmt.Errorf("gateway call failed: %w", err)
	}

	rec, logErr := s.tracker.LogCall(decision.SelectedModel, tracker.Usage{
		PromptTokens:     comp.Usage.PromptTokens,
		CompletionTokens: comp.Usage.CompletionTokens,
		TotalTokens:      comp.Usage.TotalTokens,
	})
	var warning error
	if logErr != nil {
		var pw *tracker.PersistenceWarning
		if !errors.As(logErr, &pw) {
			// Unknown model in the tracker means catalog and router
			// disagree; that is a bug, not a warning.
			return nil, logErr
		}
		warning = logErr
	}

	s.recordCall(promptID, prompt, decision, comp.Usage, latency, true, "")

	return &Reply{
		PromptID: promptID,
		Content:  comp.Content,
		Model:    decision.SelectedModel,
		Decision: decision,
		Usage:    comp.Usage,
		Record:   rec,
		Warning:  warning,
		Latency:  latency,
	}, nil
}

// recordCall writes one row to the call log. Call log failures are logged
// and swallowed; analytics must never break a conversation.
func (s *Session) recordCall(promptID, prompt string, d router.Decision, usage gateway.Usage, latency time.Duration, success bool, errType string) {
	cost := decimal.Zero
	if success {
		if c, err := s.estimator.Estimate(d.SelectedModel, usage.PromptTokens, usage.CompletionTokens); err == nil {
			cost = c
		}
	}
	rec := storage.CallRecord{
		SessionID:        s.tracker.SessionID(),
		PromptID:         promptID,
		Timestamp:        time.Now(),
		Model:            d.SelectedModel,
		PromptType:       d.PromptType.String(),
		LengthBucket:     d.LengthBucket.String(),
		ManualOverride:   d.ManualOverride,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Cost:             cost,
		LatencyMs:        latency.Milliseconds(),
		Success:          success,
		ErrorType:        errType,
		PromptPreview:    prompt,
	}
	if err := s.calls.Record(rec); err != nil {
		log.Printf("SESSION: call log write failed: %v", err)
	}
}

// Close releases the ledger and call log.
func (s *Session) Close() error {
	var first error
	if err := s.ledger.Close(); err != nil {
		first = err
	}
	if err := s.calls.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// lastUserContent returns the content of the last user-role message.
func lastUserContent(messages []gateway.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// errorType buckets a gateway error for the call log.
func errorType(err error) string {
	switch {
	case errors.Is(err, gateway.ErrAuthFailed):
		return "auth"
	case errors.Is(err, gateway.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, gateway.ErrModelNotFound):
		return "model_not_found"
	case errors.Is(err, gateway.ErrInsufficientCredits):
		return "credits"
	case errors.Is(err, gateway.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			return fmt.Sprintf("api_%d", apiErr.Status)
		}
		return "network"
	}
}
