/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package translation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/logging"
)

const (
	// DefaultMaxRetries bounds key-rotation retries per call
	DefaultMaxRetries = 3
	// DefaultFailureThreshold is the number of consecutive failures tolerated silently
	DefaultFailureThreshold = 3
)

// RetryState lives for the duration of one Translate call
type RetryState struct {
	ConsecutiveFailures int
	RetryCount          int
	MaxRetries          int
}

// CanRetry reports whether another rotation retry fits the budget
func (s *RetryState) CanRetry() bool {
	return s.RetryCount < s.MaxRetries
}

// Options wires the orchestrator's collaborators
type Options struct {
	Providers        ProviderLookup
	Keys             KeyStore
	Settings         Settings
	Normalizer       *Normalizer
	ErrorRecorder    ErrorRecorder
	Notifier         Notifier
	History          HistoryRecorder
	MaxRetries       int
	FailureThreshold int

	// Sleep waits out the post-failure delay; tests replace it
	Sleep func(ctx context.Context, d time.Duration)
}

// Orchestrator selects the active provider, applies the retry and rotation policy
// and normalizes replies.
type Orchestrator struct {
	providers        ProviderLookup
	keys             KeyStore
	settings         Settings
	normalizer       *Normalizer
	errorRecorder    ErrorRecorder
	notifier         Notifier
	history          HistoryRecorder
	maxRetries       int
	failureThreshold int
	sleep            func(ctx context.Context, d time.Duration)

	mu       sync.Mutex
	failures map[string]int
}

// NewOrchestrator creates an orchestrator. Providers, Keys and Settings are required.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Providers == nil || opts.Keys == nil || opts.Settings == nil {
		return nil, errors.New("orchestrator requires providers, keys and settings")
	}

	o := &Orchestrator{
		providers:        opts.Providers,
		keys:             opts.Keys,
		settings:         opts.Settings,
		normalizer:       opts.Normalizer,
		errorRecorder:    opts.ErrorRecorder,
		notifier:         opts.Notifier,
		history:          opts.History,
		maxRetries:       opts.MaxRetries,
		failureThreshold: opts.FailureThreshold,
		sleep:            opts.Sleep,
		failures:         make(map[string]int),
	}
	if o.normalizer == nil {
		o.normalizer = NewNormalizer()
	}
	if o.maxRetries <= 0 {
		o.maxRetries = DefaultMaxRetries
	}
	if o.failureThreshold <= 0 {
		o.failureThreshold = DefaultFailureThreshold
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	return o, nil
}

// TranslateJSON is the JSON-in, JSON-out entry point. A silent failure returns ""
// together with a *TranslationError whose Surfaced field is false.
func (o *Orchestrator) TranslateJSON(ctx context.Context, jsonRequest, prompt string) (string, error) {
	req, err := ParseRequest([]byte(jsonRequest))
	if err != nil {
		return "", err
	}

	result, err := o.Translate(ctx, req, prompt)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(out), nil
}

// Translate runs one logical translation call
func (o *Orchestrator) Translate(ctx context.Context, req *Request, prompt string) (*Result, error) {
	requestID := uuid.NewString()
	blocks := req.Translatable()
	if len(blocks) == 0 {
		return EmptyResult(req), nil
	}
	if prompt == "" {
		prompt = o.settings.DefaultPrompt()
	}

	state := &RetryState{MaxRetries: o.maxRetries}
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := o.settings.ActiveProvider()
		cfg, ok := o.settings.ProviderConfig(name)
		if !ok {
			return nil, &ConfigurationError{Provider: name, Reason: "provider is not configured"}
		}
		provider, ok := o.providers.Lookup(name)
		if !ok {
			return nil, &ConfigurationError{Provider: name, Reason: "unknown provider"}
		}

		key := ""
		if cfg.KeyRef != "" {
			key = o.keys.GetCurrentKey(cfg.KeyRef)
		}
		if cfg.RequiresKey && key == "" {
			return nil, &ConfigurationError{Provider: name, Reason: "no API key configured"}
		}

		attempts++
		started := time.Now()
		result, perr := o.attempt(ctx, provider, Call{
			RequestID: requestID,
			Request:   req,
			Prompt:    prompt,
			Config:    cfg,
			APIKey:    key,
		})
		o.recordAttempt(ctx, requestID, cfg, len(blocks), state.RetryCount, started, result, perr)

		if perr == nil {
			o.resetFailures(name)
			logging.LogTranslation(name, requestID, "✅ Translation completed",
				zap.Int("blocks", len(blocks)),
				zap.Int("translations", len(result.Translations)),
				zap.Int("attempts", attempts),
				zap.Duration("latency", time.Since(started)))
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			// The caller gave up; the provider did not fail.
			return nil, ctxErr
		}

		logging.LogProviderFailure(name, string(perr.Category),
			zap.String("request_id", requestID),
			zap.Int("status", perr.HTTPStatus),
			zap.Int("retry_count", state.RetryCount),
			zap.Error(perr.Err))

		if perr.Category.Rotatable() && cfg.KeyRef != "" && state.CanRetry() {
			next, rotated := o.keys.Rotate(ctx, cfg.KeyRef, key)
			if rotated && next != key {
				state.RetryCount++
				continue
			}
		}

		state.ConsecutiveFailures = o.incrementFailures(name)
		return nil, o.fail(ctx, requestID, cfg, attempts, state, perr)
	}
}

// attempt invokes the provider and normalizes its reply
func (o *Orchestrator) attempt(ctx context.Context, provider Provider, call Call) (result *Result, perr *ProviderError) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			perr = &ProviderError{Provider: provider.Name(), Category: CategoryOther, Err: fmt.Errorf("provider panicked: %v", r)}
		}
	}()

	reply, err := provider.Translate(ctx, call)
	if err != nil {
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, &ProviderError{Provider: provider.Name(), Category: CategoryOther, Err: err}
	}
	if reply == nil {
		return nil, NewMalformedError(provider.Name(), "", ErrEmptyReply)
	}

	result, err = o.normalizer.Normalize(*reply, call.Request)
	if err != nil {
		return nil, NewMalformedError(provider.Name(), reply.Body, err)
	}
	return result, nil
}

// fail applies the silent-failure policy and builds the returned error
func (o *Orchestrator) fail(ctx context.Context, requestID string, cfg ProviderConfig, attempts int, state *RetryState, perr *ProviderError) error {
	terr := &TranslationError{
		RequestID: requestID,
		Provider:  cfg.Name,
		Attempts:  attempts,
		Err:       perr,
	}

	if state.ConsecutiveFailures > o.failureThreshold {
		terr.Surfaced = true
		record := FailureRecord{
			RequestID:           requestID,
			Provider:            cfg.Name,
			Category:            perr.Category,
			HTTPStatus:          perr.HTTPStatus,
			RawBody:             perr.RawBody,
			Error:               perr.Error(),
			ConsecutiveFailures: state.ConsecutiveFailures,
			Time:                time.Now(),
		}
		if o.errorRecorder != nil {
			if err := o.errorRecorder.RecordFailure(ctx, record); err != nil {
				logging.LogError(err, "Failed to write error record", zap.String("provider", cfg.Name))
			}
		}
		if o.notifier != nil {
			o.notifier.NotifyFailure(ctx, record)
		}
	}

	o.sleep(ctx, cfg.FailureDelay)
	return terr
}

func (o *Orchestrator) recordAttempt(ctx context.Context, requestID string, cfg ProviderConfig, blocks, retries int, started time.Time, result *Result, perr *ProviderError) {
	if o.history == nil {
		return
	}

	attempt := Attempt{
		RequestID:  requestID,
		Provider:   cfg.Name,
		Model:      cfg.Model,
		Success:    perr == nil,
		Blocks:     blocks,
		RetryCount: retries,
		Latency:    time.Since(started),
		Time:       started,
	}
	if result != nil {
		attempt.Translations = len(result.Translations)
	}
	if perr != nil {
		attempt.Category = perr.Category
		attempt.HTTPStatus = perr.HTTPStatus
		attempt.Error = perr.Error()
	}

	if err := o.history.RecordAttempt(ctx, attempt); err != nil {
		logging.LogWarn("Failed to record translation attempt", zap.Error(err))
	}
}

// ConsecutiveFailures returns the current failure streak of a provider
func (o *Orchestrator) ConsecutiveFailures(provider string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures[provider]
}

func (o *Orchestrator) incrementFailures(provider string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[provider]++
	return o.failures[provider]
}

func (o *Orchestrator) resetFailures(provider string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[provider] = 0
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
