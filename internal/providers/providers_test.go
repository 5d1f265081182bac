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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-translate/internal/translation"
)

type auditRecorder struct {
	mu      sync.Mutex
	replies []string
}

func (a *auditRecorder) AuditReply(provider, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, provider+":"+body)
}

func (a *auditRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.replies)
}

func testCall(endpoint, key string) translation.Call {
	return translation.Call{
		RequestID: "req-1",
		Request: &translation.Request{
			TextBlocks: []translation.TextBlock{
				{ID: "a", Text: "Hello world"},
				{ID: "b", Text: "  "},
			},
			SourceLanguage: "english",
			TargetLanguage: "spanish",
		},
		Prompt: "Translate into Spanish. Reply with JSON.",
		Config: translation.ProviderConfig{Endpoint: endpoint, Model: "test-model"},
		APIKey: key,
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func requireProviderError(t *testing.T, err error) *translation.ProviderError {
	t.Helper()
	var perr *translation.ProviderError
	require.True(t, errors.As(err, &perr), "expected *ProviderError, got %T: %v", err, err)
	return perr
}

const chatCompletionBody = `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":"{\"translations\":[{\"id\":\"a\",\"translated_text\":\"Hola mundo\"}]}"},"finish_reason":"stop"}]}`

func TestChatGPT_SendsSystemPromptAndBearer(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key-A", r.Header.Get("Authorization"))
		got = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletionBody)
	}))
	defer server.Close()

	audit := &auditRecorder{}
	client := NewChatGPT(Dependencies{Audit: audit})

	reply, err := client.Translate(context.Background(), testCall(server.URL+"/v1", "key-A"))
	require.NoError(t, err)

	assert.Equal(t, translation.EnvelopeChat, reply.Envelope)
	assert.Contains(t, reply.Body, "Hola mundo")
	assert.Equal(t, 1, audit.count())

	assert.Equal(t, "test-model", got["model"])
	assert.EqualValues(t, 2000, got["max_tokens"])
	messages := got["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	user := messages[1].(map[string]interface{})
	assert.Equal(t, "user", user["role"])
	assert.Contains(t, user["content"], "Here is the input JSON:")
	assert.NotContains(t, user["content"], `"id":"b"`)
}

func TestGroq_SingleUserMessage(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletionBody)
	}))
	defer server.Close()

	_, err := NewGroq(Dependencies{}).Translate(context.Background(), testCall(server.URL, "key-A"))
	require.NoError(t, err)

	messages := got["messages"].([]interface{})
	require.Len(t, messages, 1)
	content := messages[0].(map[string]interface{})["content"].(string)
	assert.Contains(t, content, "Translate into Spanish.")
	assert.Contains(t, content, `"text_blocks"`)
	_, hasMaxTokens := got["max_tokens"]
	assert.False(t, hasMaxTokens)
}

func TestChatCompletions_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected translation.Category
	}{
		{name: "Rate limited", status: 429, body: `{"error":{"message":"Rate limit reached","type":"requests"}}`, expected: translation.CategoryRateLimited},
		{name: "Bad key", status: 401, body: `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, expected: translation.CategoryInvalidCredential},
		{name: "Quota on 400", status: 400, body: `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota"}}`, expected: translation.CategoryRateLimited},
		{name: "Server error", status: 500, body: `{"error":{"message":"boom","type":"server_error"}}`, expected: translation.CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			audit := &auditRecorder{}
			_, err := NewMistral(Dependencies{Audit: audit}).Translate(context.Background(), testCall(server.URL, "key-A"))

			perr := requireProviderError(t, err)
			assert.Equal(t, tt.expected, perr.Category)
			assert.Equal(t, tt.status, perr.HTTPStatus)
			assert.NotEmpty(t, perr.RawBody)
			assert.Equal(t, 0, audit.count())
		})
	}
}

func TestChatCompletions_TimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	call := testCall(server.URL, "key-A")
	call.Config.Timeout = 50 * time.Millisecond

	_, err := NewChatGPT(Dependencies{}).Translate(context.Background(), call)
	perr := requireProviderError(t, err)
	assert.Equal(t, translation.CategoryTransientNetwork, perr.Category)
}

func TestGemini_QueryKeyAndGenerationEnvelope(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "key-G", r.URL.Query().Get("key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		got = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"{\"translations\":[]}"}]}}]}`)
	}))
	defer server.Close()

	audit := &auditRecorder{}
	reply, err := NewGemini(Dependencies{Audit: audit}).Translate(context.Background(), testCall(server.URL, "key-G"))
	require.NoError(t, err)

	assert.Equal(t, translation.EnvelopeGeneration, reply.Envelope)
	assert.Equal(t, 1, audit.count())
	generation := got["generationConfig"].(map[string]interface{})
	assert.Equal(t, "application/json", generation["response_mime_type"])
	parts := got["contents"].([]interface{})[0].(map[string]interface{})["parts"].([]interface{})
	assert.Contains(t, parts[0].(map[string]interface{})["text"], "Translate into Spanish.")
}

func TestGemini_InvalidKeyOnBadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`)
	}))
	defer server.Close()

	_, err := NewGemini(Dependencies{}).Translate(context.Background(), testCall(server.URL, "bad"))
	perr := requireProviderError(t, err)
	assert.Equal(t, translation.CategoryInvalidCredential, perr.Category)
	assert.Equal(t, 400, perr.HTTPStatus)
}

func TestOllama_GenerateRequest(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		got = decodeBody(t, r)
		_, _ = io.WriteString(w, `{"model":"test-model","response":"{\"translations\":[]}","done":true}`)
	}))
	defer server.Close()

	reply, err := NewOllama(Dependencies{}).Translate(context.Background(), testCall(server.URL, ""))
	require.NoError(t, err)

	assert.Equal(t, translation.EnvelopeCompletion, reply.Envelope)
	assert.Equal(t, false, got["stream"])
	assert.Equal(t, "json", got["format"])
	options := got["options"].(map[string]interface{})
	assert.InDelta(t, 0.1, options["temperature"], 1e-9)
	assert.InDelta(t, 0.9, options["top_p"], 1e-9)
}

func TestOllama_ConnectionRefusedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewOllama(Dependencies{}).Translate(context.Background(), testCall(url, ""))
	perr := requireProviderError(t, err)
	assert.Equal(t, translation.CategoryTransientNetwork, perr.Category)
}

func TestLMStudio_NoAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, chatCompletionBody)
	}))
	defer server.Close()

	reply, err := NewLMStudio(Dependencies{}).Translate(context.Background(), testCall(server.URL, "ignored"))
	require.NoError(t, err)
	assert.Equal(t, translation.EnvelopeChat, reply.Envelope)
}

func TestCustom_FullURLAndBearer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/my/chat", r.URL.Path)
		assert.Equal(t, "Bearer key-C", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, chatCompletionBody)
	}))
	defer server.Close()

	_, err := NewCustom(Dependencies{}).Translate(context.Background(), testCall(server.URL+"/my/chat", "key-C"))
	require.NoError(t, err)
}

func TestCustom_MissingEndpoint(t *testing.T) {
	_, err := NewCustom(Dependencies{}).Translate(context.Background(), testCall("", "key-C"))
	perr := requireProviderError(t, err)
	assert.Equal(t, translation.CategoryOther, perr.Category)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(Dependencies{})

	names := Known()
	assert.Len(t, names, 8)
	for _, name := range names {
		p, ok := registry.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, name, p.Name())
		assert.True(t, IsKnown(name))
	}

	_, ok := registry.Lookup("deepl")
	assert.False(t, ok)
}

func TestDefaultsFor(t *testing.T) {
	for _, name := range Known() {
		d, ok := DefaultsFor(name)
		require.True(t, ok, name)
		assert.Positive(t, d.Timeout, name)
	}

	groq, _ := DefaultsFor(Groq)
	assert.True(t, groq.RequiresKey)
	assert.Equal(t, "llama-3.1-8b-instant", groq.Model)

	ollama, _ := DefaultsFor(Ollama)
	assert.False(t, ollama.RequiresKey)
	assert.Equal(t, 2*time.Minute, ollama.Timeout)

	_, ok := DefaultsFor("deepl")
	assert.False(t, ok)
}
