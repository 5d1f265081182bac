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
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/loqalabs/loqa-translate/internal/translation"
)

// OpenAI-compatible chat defaults
const (
	OpenAIBaseURL  = "https://api.openai.com/v1"
	GroqBaseURL    = "https://api.groq.com/openai/v1"
	MistralBaseURL = "https://api.mistral.ai/v1"

	DefaultChatGPTModel = "gpt-4.1-nano"
	DefaultGroqModel    = "llama-3.1-8b-instant"
	DefaultMistralModel = "open-mistral-nemo"
)

// ChatCompletions talks to any OpenAI-compatible chat completions API
type ChatCompletions struct {
	name         string
	baseURL      string
	model        string
	systemPrompt bool
	maxTokens    int64
	httpClient   *http.Client
	auditor
}

// NewChatGPT uses a system message for the instructions and a user message for the payload
func NewChatGPT(deps Dependencies) *ChatCompletions {
	return &ChatCompletions{
		name:         ChatGPT,
		baseURL:      OpenAIBaseURL,
		model:        DefaultChatGPTModel,
		systemPrompt: true,
		maxTokens:    2000,
		httpClient:   deps.httpClient(),
		auditor:      auditor{deps.Audit},
	}
}

// NewGroq sends instructions and payload as one user message
func NewGroq(deps Dependencies) *ChatCompletions {
	return &ChatCompletions{
		name:       Groq,
		baseURL:    GroqBaseURL,
		model:      DefaultGroqModel,
		httpClient: deps.httpClient(),
		auditor:    auditor{deps.Audit},
	}
}

// NewMistral sends instructions and payload as one user message
func NewMistral(deps Dependencies) *ChatCompletions {
	return &ChatCompletions{
		name:       Mistral,
		baseURL:    MistralBaseURL,
		model:      DefaultMistralModel,
		httpClient: deps.httpClient(),
		auditor:    auditor{deps.Audit},
	}
}

// Name implements translation.Provider
func (c *ChatCompletions) Name() string {
	return c.name
}

// Translate implements translation.Provider
func (c *ChatCompletions) Translate(ctx context.Context, call translation.Call) (*translation.RawReply, error) {
	payload, err := call.Request.Payload()
	if err != nil {
		return nil, &translation.ProviderError{Provider: c.name, Category: translation.CategoryOther, Err: err}
	}

	ctx, cancel := withTimeout(ctx, call.Config.Timeout, DefaultTimeout)
	defer cancel()

	client := openai.NewClient(
		option.WithAPIKey(call.APIKey),
		option.WithBaseURL(endpointOr(call.Config.Endpoint, c.baseURL)+"/"),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	)

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(modelOr(call.Config.Model, c.model)),
		Messages:    c.messages(call.Prompt, payload),
		Temperature: openai.Float(0.3),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, c.classify(err)
	}

	body := completion.RawJSON()
	c.audit(c.name, body)
	return &translation.RawReply{Provider: c.name, Envelope: translation.EnvelopeChat, Body: body}, nil
}

func (c *ChatCompletions) messages(prompt string, payload []byte) []openai.ChatCompletionMessageParamUnion {
	if c.systemPrompt && prompt != "" {
		return []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage(fmt.Sprintf("Here is the input JSON:\n\n%s", payload)),
		}
	}
	return []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(userContent(prompt, payload)),
	}
}

func (c *ChatCompletions) classify(err error) *translation.ProviderError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := apiErr.RawJSON()
		if body == "" {
			body = apiErr.Error()
		}
		return translation.NewHTTPError(c.name, apiErr.StatusCode, body)
	}
	return translation.NewTransportError(c.name, err)
}
