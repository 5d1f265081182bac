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

package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-translate/internal/translation"
)

// TranslationEvent is the persisted record of one provider attempt
type TranslationEvent struct {
	// Core identification
	UUID      string    `json:"uuid"`
	RequestID string    `json:"request_id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Outcome
	Success      bool   `json:"success"`
	Category     string `json:"category,omitempty"`
	HTTPStatus   int    `json:"http_status,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Volume and timing
	Blocks       int   `json:"blocks"`
	Translations int   `json:"translations"`
	RetryCount   int   `json:"retry_count"`
	LatencyMS    int64 `json:"latency_ms"`
}

// NewTranslationEvent builds an event from an orchestrator attempt
func NewTranslationEvent(attempt translation.Attempt) *TranslationEvent {
	ts := attempt.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return &TranslationEvent{
		UUID:         uuid.NewString(),
		RequestID:    attempt.RequestID,
		Provider:     attempt.Provider,
		Model:        attempt.Model,
		Timestamp:    ts,
		Success:      attempt.Success,
		Category:     string(attempt.Category),
		HTTPStatus:   attempt.HTTPStatus,
		ErrorMessage: attempt.Error,
		Blocks:       attempt.Blocks,
		Translations: attempt.Translations,
		RetryCount:   attempt.RetryCount,
		LatencyMS:    attempt.Latency.Milliseconds(),
	}
}

// IsValid performs basic validation on the event
func (e *TranslationEvent) IsValid() error {
	if e.UUID == "" {
		return errors.New("UUID is required")
	}
	if e.RequestID == "" {
		return errors.New("requestID is required")
	}
	if e.Provider == "" {
		return errors.New("provider is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Success && e.Category != "" {
		return fmt.Errorf("successful event cannot carry failure category %q", e.Category)
	}
	return nil
}

func (e *TranslationEvent) String() string {
	return fmt.Sprintf("TranslationEvent{UUID: %s, Request: %s, Provider: %s, Success: %t, Category: %s, Retries: %d}",
		e.UUID, e.RequestID, e.Provider, e.Success, e.Category, e.RetryCount)
}
