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
	"time"
)

// Envelope identifies where a provider puts the model output in its reply body
type Envelope int

const (
	// EnvelopeRaw means the body itself is the content
	EnvelopeRaw Envelope = iota
	// EnvelopeChat is choices[0].message.content
	EnvelopeChat
	// EnvelopeGeneration is candidates[0].content.parts[0].text
	EnvelopeGeneration
	// EnvelopeCompletion is the top-level response field of local generate APIs
	EnvelopeCompletion
)

func (e Envelope) String() string {
	switch e {
	case EnvelopeChat:
		return "chat"
	case EnvelopeGeneration:
		return "generation"
	case EnvelopeCompletion:
		return "completion"
	default:
		return "raw"
	}
}

// ProviderConfig is resolved from live configuration at every attempt
type ProviderConfig struct {
	Name         string
	Model        string
	Endpoint     string
	KeyRef       string
	RequiresKey  bool
	Timeout      time.Duration
	FailureDelay time.Duration
}

// Call is everything a provider needs for one attempt
type Call struct {
	RequestID string
	Request   *Request
	Prompt    string
	Config    ProviderConfig
	APIKey    string
}

// RawReply is the unmodified provider reply
type RawReply struct {
	Provider string
	Envelope Envelope
	Body     string
}

// Provider is one translation backend. Failures are returned as *ProviderError.
type Provider interface {
	Name() string
	Translate(ctx context.Context, call Call) (*RawReply, error)
}

// ProviderLookup resolves a provider by configured name
type ProviderLookup interface {
	Lookup(name string) (Provider, bool)
}

// ProviderMap is the simplest ProviderLookup
type ProviderMap map[string]Provider

// Lookup implements ProviderLookup
func (m ProviderMap) Lookup(name string) (Provider, bool) {
	p, ok := m[name]
	return p, ok
}

// Settings is the live configuration view used at call time
type Settings interface {
	ActiveProvider() string
	DefaultPrompt() string
	ProviderConfig(name string) (ProviderConfig, bool)
}

// KeyStore is the credential rotation contract the orchestrator depends on
type KeyStore interface {
	GetCurrentKey(service string) string
	Rotate(ctx context.Context, service, failedKey string) (string, bool)
}

// ReplyAuditor receives every successful raw reply before parsing
type ReplyAuditor interface {
	AuditReply(provider, body string)
}

// FailureRecord is the diagnostic detail of a severe provider failure
type FailureRecord struct {
	RequestID           string
	Provider            string
	Category            Category
	HTTPStatus          int
	RawBody             string
	Error               string
	ConsecutiveFailures int
	Time                time.Time
}

// ErrorRecorder persists severe failures for offline debugging
type ErrorRecorder interface {
	RecordFailure(ctx context.Context, record FailureRecord) error
}

// Notifier surfaces failures to the user once the threshold is crossed
type Notifier interface {
	NotifyFailure(ctx context.Context, record FailureRecord)
}

// Attempt is the outcome of a single provider invocation
type Attempt struct {
	RequestID    string
	Provider     string
	Model        string
	Success      bool
	Category     Category
	HTTPStatus   int
	Error        string
	Blocks       int
	Translations int
	RetryCount   int
	Latency      time.Duration
	Time         time.Time
}

// HistoryRecorder stores attempt outcomes
type HistoryRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}
