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

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-translate/internal/keys"
	"github.com/loqalabs/loqa-translate/internal/speech"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

const chatReply = `{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"translations\":[{\"id\":\"a\",\"translated_text\":\"Hola\"}]}"}}]}`

func writeConfig(t *testing.T, endpoint string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "loqa-translate.yaml")
	content := fmt.Sprintf(`log:
  level: error
database:
  path: %s
diagnostics:
  dir: %s
translation:
  active_provider: custom
  failure_delay: 1ms
  providers:
    custom:
      endpoint: %s
    groq:
      keys: "gsk-one-1111+++gsk-two-2222"
`, filepath.Join(dir, "db.sqlite"), filepath.Join(dir, "diagnostics"), endpoint)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "loqa-translate dev\n", out)
}

func TestTranslateCommand(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatReply)
	}))
	defer server.Close()

	cfgPath := writeConfig(t, server.URL+"/chat")
	out, err := execute(t, `{"text_blocks":[{"id":"a","text":"Hello"}]}`, "--config", cfgPath, "translate")
	require.NoError(t, err)
	assert.JSONEq(t, `{"translations":[{"id":"a","original_text":"Hello","translated_text":"Hola"}]}`, strings.TrimSpace(out))
	assert.Empty(t, gotAuth)
}

func TestTranslateCommandSilentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfgPath := writeConfig(t, server.URL+"/chat")
	out, err := execute(t, `{"text_blocks":[{"id":"a","text":"Hello"}]}`, "--config", cfgPath, "translate")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTranslateCommandUnknownProvider(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1/chat")
	_, err := execute(t, `{"text_blocks":[]}`, "--config", cfgPath, "translate", "--provider", "deepl")
	assert.Error(t, err)
}

func TestKeysCommands(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1/chat")

	out, err := execute(t, "", "--config", cfgPath, "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "****1111")
	assert.NotContains(t, out, "gsk-one")

	out, err = execute(t, "", "--config", cfgPath, "keys", "rotate", "groq")
	require.NoError(t, err)
	assert.Equal(t, "groq now uses ****2222\n", out)

	// The selection survives a restart through sqlite.
	out, err = execute(t, "", "--config", cfgPath, "keys", "list")
	require.NoError(t, err)
	assert.Regexp(t, `groq\s+\*\*\*\*2222\s+\*`, out)

	out, err = execute(t, "", "--config", cfgPath, "keys", "use", "groq", "1111")
	require.NoError(t, err)
	assert.Equal(t, "groq now uses ****1111\n", out)

	_, err = execute(t, "", "--config", cfgPath, "keys", "use", "groq", "9999")
	assert.ErrorIs(t, err, keys.ErrUnknownKey)
}

func TestPrintKeysEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printKeys(&buf, nil))
	assert.Equal(t, "No API keys configured\n", buf.String())
}

func TestReadInput(t *testing.T) {
	data, err := readInput(strings.NewReader("from stdin"), "")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", string(data))

	path := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o600))
	data, err = readInput(strings.NewReader("ignored"), path)
	require.NoError(t, err)
	assert.Equal(t, "from file", string(data))

	_, err = readInput(nil, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFormatOutput(t *testing.T) {
	tests := []struct {
		name string
		out  speech.Output
		want string
	}{
		{
			name: "translated",
			out: speech.Output{
				Text:      "hello there",
				StartedAt: 61500 * time.Millisecond,
				Result: &translation.Result{Translations: []translation.Translation{
					{ID: "utt_1", TranslatedText: "hola"},
				}},
			},
			want: "[01:01.500] hello there -> hola",
		},
		{
			name: "failed",
			out:  speech.Output{Text: "hi", Err: errors.New("boom")},
			want: "[00:00.000] hi (translation failed: boom)",
		},
		{
			name: "empty result",
			out:  speech.Output{Text: "hi", StartedAt: 250 * time.Millisecond},
			want: "[00:00.250] hi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatOutput(tt.out); got != tt.want {
				t.Errorf("formatOutput() = %q, want %q", got, tt.want)
			}
		})
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func TestServeStopsBackgroundWorkBeforeClosing(t *testing.T) {
	path := writeConfig(t, "http://127.0.0.1:1")
	httpPort := freePort(t)
	t.Setenv("LOQA_SERVER_HOST", "127.0.0.1")
	t.Setenv("LOQA_SERVER_PORT", strconv.Itoa(httpPort))
	t.Setenv("LOQA_SERVER_GRPC_PORT", strconv.Itoa(freePort(t)))
	t.Setenv("LOQA_DIAGNOSTICS_HISTORY_RETENTION", "1h")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, path) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", httpPort)
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
	}

	// The database was closed cleanly and can be reopened.
	out, err := execute(t, "", "--config", path, "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "groq")
}
