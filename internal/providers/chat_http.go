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
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/loqalabs/loqa-translate/internal/translation"
)

const LMStudioBaseURL = "http://localhost:1234"

// ChatHTTP posts an OpenAI-style chat body over plain HTTP. It backs LM Studio
// and user-supplied custom endpoints, whose URLs are not under the /v1 convention
// the openai client assumes.
type ChatHTTP struct {
	name    string
	baseURL string
	path    string
	timeout time.Duration
	bearer  bool
	http    *resty.Client
	auditor
}

// NewLMStudio creates a client for a local LM Studio server
func NewLMStudio(deps Dependencies) *ChatHTTP {
	return &ChatHTTP{
		name:    LMStudio,
		baseURL: LMStudioBaseURL,
		path:    "/v1/chat/completions",
		timeout: LocalTimeout,
		http:    deps.resty(),
		auditor: auditor{deps.Audit},
	}
}

// NewCustom creates a client for a user-configured chat endpoint. The endpoint is the full URL.
func NewCustom(deps Dependencies) *ChatHTTP {
	return &ChatHTTP{
		name:    Custom,
		timeout: DefaultTimeout,
		bearer:  true,
		http:    deps.resty(),
		auditor: auditor{deps.Audit},
	}
}

// Name implements translation.Provider
func (c *ChatHTTP) Name() string {
	return c.name
}

// Translate implements translation.Provider
func (c *ChatHTTP) Translate(ctx context.Context, call translation.Call) (*translation.RawReply, error) {
	url := endpointOr(call.Config.Endpoint, c.baseURL)
	if url == "" {
		return nil, &translation.ProviderError{Provider: c.name, Category: translation.CategoryOther, Err: errNoEndpoint}
	}
	url += c.path

	payload, err := call.Request.Payload()
	if err != nil {
		return nil, &translation.ProviderError{Provider: c.name, Category: translation.CategoryOther, Err: err}
	}

	ctx, cancel := withTimeout(ctx, call.Config.Timeout, c.timeout)
	defer cancel()

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(chatRequest{
			Model:       call.Config.Model,
			Messages:    []chatMessage{{Role: "user", Content: userContent(call.Prompt, payload)}},
			Temperature: 0.3,
		})
	if c.bearer && call.APIKey != "" {
		req.SetAuthToken(call.APIKey)
	}

	resp, err := req.Post(url)
	if perr := checkResponse(c.name, resp, err); perr != nil {
		return nil, perr
	}

	raw := resp.String()
	c.audit(c.name, raw)
	return &translation.RawReply{Provider: c.name, Envelope: translation.EnvelopeChat, Body: raw}, nil
}
