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
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/loqalabs/loqa-translate/internal/translation"
)

const (
	GeminiBaseURL      = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel = "gemini-2.0-flash-lite"
)

// GeminiClient calls the generateContent API with the key in the query string
type GeminiClient struct {
	http *resty.Client
	auditor
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig geminiGeneration `json:"generationConfig"`
}

type geminiGeneration struct {
	ResponseMimeType string `json:"response_mime_type"`
}

// NewGemini creates a Gemini client
func NewGemini(deps Dependencies) *GeminiClient {
	return &GeminiClient{http: deps.resty(), auditor: auditor{deps.Audit}}
}

// Name implements translation.Provider
func (g *GeminiClient) Name() string {
	return Gemini
}

// Translate implements translation.Provider
func (g *GeminiClient) Translate(ctx context.Context, call translation.Call) (*translation.RawReply, error) {
	payload, err := call.Request.Payload()
	if err != nil {
		return nil, &translation.ProviderError{Provider: Gemini, Category: translation.CategoryOther, Err: err}
	}

	ctx, cancel := withTimeout(ctx, call.Config.Timeout, DefaultTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		endpointOr(call.Config.Endpoint, GeminiBaseURL), modelOr(call.Config.Model, DefaultGeminiModel))

	body := geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: userContent(call.Prompt, payload)}}}},
		GenerationConfig: geminiGeneration{ResponseMimeType: "application/json"},
	}

	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("key", call.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	if perr := checkResponse(Gemini, resp, err); perr != nil {
		return nil, perr
	}

	raw := resp.String()
	g.audit(Gemini, raw)
	return &translation.RawReply{Provider: Gemini, Envelope: translation.EnvelopeGeneration, Body: raw}, nil
}
