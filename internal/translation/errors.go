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
	"errors"
	"fmt"
	"net"
	"strings"
)

// Category classifies provider failures for the retry policy
type Category string

const (
	CategoryRateLimited       Category = "rate_limited"
	CategoryInvalidCredential Category = "invalid_credential"
	CategoryTransientNetwork  Category = "transient_network"
	CategoryMalformedResponse Category = "malformed_response"
	CategoryOther             Category = "other"
)

// Rotatable reports whether the failure is attributed to the credential
func (c Category) Rotatable() bool {
	return c == CategoryRateLimited || c == CategoryInvalidCredential
}

// ProviderError is the uniform failure returned by every provider client
type ProviderError struct {
	Provider   string
	Category   Category
	HTTPStatus int // 0 when no HTTP response was received
	RawBody    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Category)
	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.HTTPStatus)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewHTTPError builds a ProviderError from a non-success HTTP response
func NewHTTPError(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Category:   Classify(status, body),
		HTTPStatus: status,
		RawBody:    body,
		Err:        fmt.Errorf("unexpected status %d", status),
	}
}

// NewTransportError wraps a connection-level failure or timeout
func NewTransportError(provider string, err error) *ProviderError {
	category := CategoryTransientNetwork
	if errors.Is(err, context.Canceled) {
		category = CategoryOther
	}
	return &ProviderError{
		Provider: provider,
		Category: category,
		Err:      err,
	}
}

// NewMalformedError reports a reply that could not be interpreted
func NewMalformedError(provider, body string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Category: CategoryMalformedResponse,
		RawBody:  body,
		Err:      err,
	}
}

var (
	rateLimitPhrases = []string{
		"quota",
		"rate limit",
		"rate_limit",
		"ratelimit",
		"too many requests",
		"resource_exhausted",
	}
	credentialPhrases = []string{
		"invalid api key",
		"api key not valid",
		"invalid_api_key",
		"incorrect api key",
		"unauthorized",
	}
)

// Classify maps an HTTP status and body to a Category. Status codes decide first;
// body phrases are only consulted when the status is ambiguous.
func Classify(status int, body string) Category {
	switch status {
	case 429:
		return CategoryRateLimited
	case 401, 403:
		return CategoryInvalidCredential
	case 408, 502, 503, 504:
		return CategoryTransientNetwork
	}

	lower := strings.ToLower(body)
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(lower, phrase) {
			return CategoryRateLimited
		}
	}
	for _, phrase := range credentialPhrases {
		if strings.Contains(lower, phrase) {
			return CategoryInvalidCredential
		}
	}
	return CategoryOther
}

// IsTimeout reports whether err is a deadline or network timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ConfigurationError means a call could not be attempted at all
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Provider == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error for %s: %s", e.Provider, e.Reason)
}

// TranslationError is the final failure of a translation call.
// Surfaced is true once the provider crossed the consecutive-failure threshold.
type TranslationError struct {
	RequestID string
	Provider  string
	Attempts  int
	Surfaced  bool
	Err       *ProviderError
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation %s failed after %d attempt(s): %v", e.RequestID, e.Attempts, e.Err)
}

func (e *TranslationError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// IsSurfaced reports whether err should be shown to the user
func IsSurfaced(err error) bool {
	var terr *TranslationError
	if errors.As(err, &terr) {
		return terr.Surfaced
	}
	return err != nil
}
