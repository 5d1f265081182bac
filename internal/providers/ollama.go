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

	"github.com/go-resty/resty/v2"

	"github.com/loqalabs/loqa-translate/internal/translation"
)

const (
	OllamaBaseURL      = "http://localhost:11434"
	DefaultOllamaModel = "llama3"
)

// OllamaClient calls a local Ollama server's generate API
type OllamaClient struct {
	http *resty.Client
	auditor
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format"`
	Options ollamaOptions `json:"options"`
}

// NewOllama creates an Ollama client
func NewOllama(deps Dependencies) *OllamaClient {
	return &OllamaClient{http: deps.resty(), auditor: auditor{deps.Audit}}
}

// Name implements translation.Provider
func (o *OllamaClient) Name() string {
	return Ollama
}

// Translate implements translation.Provider
func (o *OllamaClient) Translate(ctx context.Context, call translation.Call) (*translation.RawReply, error) {
	payload, err := call.Request.Payload()
	if err != nil {
		return nil, &translation.ProviderError{Provider: Ollama, Category: translation.CategoryOther, Err: err}
	}

	ctx, cancel := withTimeout(ctx, call.Config.Timeout, LocalTimeout)
	defer cancel()

	body := ollamaRequest{
		Model:   modelOr(call.Config.Model, DefaultOllamaModel),
		Prompt:  userContent(call.Prompt, payload),
		Stream:  false,
		Format:  "json",
		Options: ollamaOptions{Temperature: 0.1, TopP: 0.9},
	}

	resp, err := o.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(endpointOr(call.Config.Endpoint, OllamaBaseURL) + "/api/generate")
	if perr := checkResponse(Ollama, resp, err); perr != nil {
		return nil, perr
	}

	raw := resp.String()
	o.audit(Ollama, raw)
	return &translation.RawReply{Provider: Ollama, Envelope: translation.EnvelopeCompletion, Body: raw}, nil
}
