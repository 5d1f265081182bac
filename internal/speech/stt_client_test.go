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

package speech

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSTTServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/v1/audio/transcriptions":
			if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
				return
			}
			assert.Equal(t, "verbose_json", r.FormValue("response_format"))
			assert.Equal(t, "base", r.FormValue("model"))
			assert.Equal(t, "ja", r.FormValue("language"))

			file, header, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				return
			}
			defer file.Close()
			assert.Equal(t, "audio.wav", header.Filename)
			data, _ := io.ReadAll(file)
			assert.Equal(t, "RIFF", string(data[:4]))
			assert.Len(t, data, 44+2*320)

			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, reply)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSTTClient_VerboseSegments(t *testing.T) {
	server := newSTTServer(t, `{"text":"hello world","segments":[{"text":" hello world ","no_speech_prob":0.1},{"text":" you","no_speech_prob":0.9}]}`)
	defer server.Close()

	client, err := NewSTTClient(context.Background(), EngineConfig{STTURL: server.URL, Model: "base", Language: "ja"})
	require.NoError(t, err)
	defer client.Close()

	got, err := client.Transcribe(context.Background(), make([]int16, 320))
	require.NoError(t, err)
	assert.Equal(t, []Utterance{
		{Text: "hello world"},
		{Text: "you", IsNoise: true},
	}, got)
}

func TestSTTClient_PlainText(t *testing.T) {
	server := newSTTServer(t, `{"text":"  konnichiwa  "}`)
	defer server.Close()

	client, err := NewSTTClient(context.Background(), EngineConfig{STTURL: server.URL + "/", Model: "base", Language: "ja"})
	require.NoError(t, err)

	got, err := client.Transcribe(context.Background(), make([]int16, 320))
	require.NoError(t, err)
	assert.Equal(t, []Utterance{{Text: "konnichiwa"}}, got)
}

func TestSTTClient_HealthCheckFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewSTTClient(context.Background(), EngineConfig{STTURL: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestSTTClient_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "model crashed")
	}))
	defer server.Close()

	client, err := NewSTTClient(context.Background(), EngineConfig{STTURL: server.URL})
	require.NoError(t, err)

	_, err = client.Transcribe(context.Background(), nil)
	assert.Error(t, err)

	_, err = client.Transcribe(context.Background(), make([]int16, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestNewEngine_Unknown(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineConfig{Kind: "vosk"})
	assert.Error(t, err)
}
