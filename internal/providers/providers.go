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

package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/loqalabs/loqa-translate/internal/translation"
)

// Provider names as used in configuration
const (
	ChatGPT         = "chatgpt"
	Groq            = "groq"
	Mistral         = "mistral"
	Gemini          = "gemini"
	Custom          = "custom"
	Ollama          = "ollama"
	LMStudio        = "lmstudio"
	GoogleTranslate = "googletranslate"
)

const (
	// DefaultTimeout applies to cloud providers
	DefaultTimeout = 30 * time.Second
	// LocalTimeout applies to local inference servers, which can be slow on first load
	LocalTimeout = 2 * time.Minute
)

var errNoEndpoint = errors.New("no endpoint configured")

// Dependencies are shared by every provider client
type Dependencies struct {
	Audit      translation.ReplyAuditor
	HTTPClient *http.Client
}

func (d Dependencies) resty() *resty.Client {
	if d.HTTPClient != nil {
		return resty.NewWithClient(d.HTTPClient)
	}
	return resty.New()
}

func (d Dependencies) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

// auditor wraps the optional audit sink
type auditor struct {
	sink translation.ReplyAuditor
}

func (a auditor) audit(provider, body string) {
	if a.sink != nil {
		a.sink.AuditReply(provider, body)
	}
}

func withTimeout(ctx context.Context, timeout, fallback time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = fallback
	}
	return context.WithTimeout(ctx, timeout)
}

// userContent is the single-message form: instructions followed by the payload
func userContent(prompt string, payload []byte) string {
	if prompt == "" {
		return string(payload)
	}
	return prompt + "\n" + string(payload)
}

func endpointOr(endpoint, fallback string) string {
	if endpoint == "" {
		endpoint = fallback
	}
	return strings.TrimRight(endpoint, "/")
}

func modelOr(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}

// checkResponse turns a resty outcome into a ProviderError when it failed
func checkResponse(provider string, resp *resty.Response, err error) *translation.ProviderError {
	if err != nil {
		return translation.NewTransportError(provider, err)
	}
	if resp.IsError() {
		return translation.NewHTTPError(provider, resp.StatusCode(), resp.String())
	}
	return nil
}

// chatMessage is the OpenAI-style message used by the plain HTTP chat providers
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}
