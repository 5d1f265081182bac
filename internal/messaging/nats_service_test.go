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

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/speech"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

type fakeTranslator struct {
	gotRequest string
	gotPrompt  string
	reply      string
	err        error
}

func (f *fakeTranslator) TranslateJSON(ctx context.Context, jsonRequest, prompt string) (string, error) {
	f.gotRequest = jsonRequest
	f.gotPrompt = prompt
	return f.reply, f.err
}

func TestNewNATSServiceDefaults(t *testing.T) {
	ns := NewNATSService(config.NATSConfig{MaxReconnect: -1})
	assert.Equal(t, DefaultURL, ns.url)
	assert.Equal(t, 2*time.Second, ns.reconnectWait)
	assert.Equal(t, -1, ns.maxReconnect)
	assert.Equal(t, DefaultMaxConcurrent, ns.maxConcurrent)

	ns = NewNATSService(config.NATSConfig{URL: "nats://broker:4222", ReconnectWait: time.Second, MaxConcurrent: 3})
	assert.Equal(t, "nats://broker:4222", ns.url)
	assert.Equal(t, 3, ns.maxConcurrent)
	assert.Equal(t, time.Second, ns.reconnectWait)
}

func TestOperationsRequireConnection(t *testing.T) {
	ns := NewNATSService(config.NATSConfig{})
	ctx := context.Background()

	_, err := ns.ServeTranslate(ctx, &fakeTranslator{})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = ns.SubscribeAudio(ctx, 1, audio.NewChunkQueue(1, audio.PolicyBlock))
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, ns.PublishResult(speech.Output{}), ErrNotConnected)
	assert.False(t, ns.IsConnected())
	assert.Equal(t, uint64(0), ns.GetStats().OutMsgs)

	// Unconnected alerting and closing are no-ops.
	NewAlertNotifier(ns).NotifyFailure(ctx, translation.FailureRecord{Provider: "groq"})
	ns.Close()
}

func TestHandleTranslateSuccess(t *testing.T) {
	fake := &fakeTranslator{reply: `{"translations":[{"id":"a","original_text":"Hello","translated_text":"Hola"}]}`}
	body := `{"text_blocks":[{"id":"a","text":"Hello"}],"prompt":"Translate politely"}`

	reply := handleTranslate(context.Background(), fake, []byte(body))

	assert.Equal(t, fake.reply, string(reply))
	assert.Equal(t, body, fake.gotRequest)
	assert.Equal(t, "Translate politely", fake.gotPrompt)
}

func TestHandleTranslateErrors(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantCategory string
		wantSurfaced bool
		wantReqID    string
	}{
		{
			name: "silent provider failure",
			err: &translation.TranslationError{
				RequestID: "req-1",
				Attempts:  1,
				Err:       &translation.ProviderError{Provider: "groq", Category: translation.CategoryTransientNetwork},
			},
			wantCategory: string(translation.CategoryTransientNetwork),
			wantReqID:    "req-1",
		},
		{
			name: "surfaced provider failure",
			err: &translation.TranslationError{
				RequestID: "req-2",
				Attempts:  2,
				Surfaced:  true,
				Err:       &translation.ProviderError{Provider: "groq", Category: translation.CategoryRateLimited},
			},
			wantCategory: string(translation.CategoryRateLimited),
			wantSurfaced: true,
			wantReqID:    "req-2",
		},
		{
			name:         "configuration",
			err:          &translation.ConfigurationError{Provider: "chatgpt", Reason: "no API key configured"},
			wantCategory: "configuration",
			wantSurfaced: true,
		},
		{
			name:         "invalid request",
			err:          errors.Join(translation.ErrInvalidRequest, errors.New("duplicate id")),
			wantCategory: "invalid_request",
			wantSurfaced: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeTranslator{err: tt.err}
			raw := handleTranslate(context.Background(), fake, []byte(`{"text_blocks":[]}`))

			var reply ErrorReply
			require.NoError(t, json.Unmarshal(raw, &reply))
			assert.Equal(t, tt.wantCategory, reply.Category)
			assert.Equal(t, tt.wantSurfaced, reply.Surfaced)
			assert.Equal(t, tt.wantReqID, reply.RequestID)
			assert.NotEmpty(t, reply.Error)
			assert.Empty(t, fake.gotPrompt)
		})
	}
}

func TestNewResultEvent(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	out := speech.Output{
		SessionID:   "session",
		UtteranceID: "utt_1",
		Text:        "hello there",
		StartedAt:   1500 * time.Millisecond,
		Result: &translation.Result{Translations: []translation.Translation{
			{ID: "utt_1", OriginalText: "hello there", TranslatedText: "hola"},
		}},
	}

	event := newResultEvent(out, now)
	assert.Equal(t, int64(1500), event.StartedAtMS)
	assert.Equal(t, now.UnixMilli(), event.Timestamp)
	assert.Len(t, event.Translations, 1)
	assert.Empty(t, event.Error)

	out.Result = nil
	out.Err = errors.New("provider\nfailed")
	event = newResultEvent(out, now)
	assert.NotNil(t, event.Translations)
	assert.Empty(t, event.Translations)
	assert.NotContains(t, event.Error, "\n")

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"translations":[]`)
}

func TestNewAlertEvent(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	event := newAlertEvent(translation.FailureRecord{
		RequestID:           "req",
		Provider:            "gemini",
		Category:            translation.CategoryInvalidCredential,
		HTTPStatus:          401,
		Error:               "bad key",
		ConsecutiveFailures: 4,
		Time:                at,
	})

	assert.Equal(t, "gemini", event.Provider)
	assert.Equal(t, string(translation.CategoryInvalidCredential), event.Category)
	assert.Equal(t, 401, event.HTTPStatus)
	assert.Equal(t, 4, event.ConsecutiveFailures)
	assert.Equal(t, at.UnixMilli(), event.Timestamp)

	assert.NotZero(t, newAlertEvent(translation.FailureRecord{}).Timestamp)
}

func TestDecodeAudio(t *testing.T) {
	// Two stereo frames: (100, 300) and (-200, -400).
	data := []byte{100, 0, 44, 1, 0x38, 0xff, 0x70, 0xfe}

	assert.Equal(t, []int16{100, 300, -200, -400}, decodeAudio(data, 1))
	assert.Equal(t, []int16{200, -300}, decodeAudio(data, 2))
}

// gatedTranslator blocks every call until release is closed
type gatedTranslator struct {
	started chan string
	release chan struct{}
}

func (g *gatedTranslator) TranslateJSON(ctx context.Context, jsonRequest, prompt string) (string, error) {
	g.started <- jsonRequest
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return `{"translations":[]}`, nil
}

func TestDispatcherRunsRequestsConcurrently(t *testing.T) {
	gate := &gatedTranslator{started: make(chan string, 2), release: make(chan struct{})}
	var running sync.WaitGroup
	d := newDispatcher(context.Background(), 2, &running, func(data []byte) []byte {
		return handleTranslate(context.Background(), gate, data)
	})

	replies := make(chan []byte, 2)
	respond := func(reply []byte) { replies <- reply }

	d.dispatch([]byte(`{"text_blocks":[{"id":"a","text":"one"}]}`), respond)
	d.dispatch([]byte(`{"text_blocks":[{"id":"b","text":"two"}]}`), respond)

	// Both calls are in flight before either is allowed to finish.
	for i := 0; i < 2; i++ {
		select {
		case <-gate.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("request %d never started while the first was blocked", i+1)
		}
	}

	close(gate.release)
	running.Wait()
	require.Len(t, replies, 2)
	assert.JSONEq(t, `{"translations":[]}`, string(<-replies))
}

func TestDispatcherBoundsInFlightRequests(t *testing.T) {
	gate := &gatedTranslator{started: make(chan string, 2), release: make(chan struct{})}
	var running sync.WaitGroup
	d := newDispatcher(context.Background(), 1, &running, func(data []byte) []byte {
		return handleTranslate(context.Background(), gate, data)
	})
	respond := func([]byte) {}

	d.dispatch([]byte(`{"id":1}`), respond)
	<-gate.started

	second := make(chan struct{})
	go func() {
		d.dispatch([]byte(`{"id":2}`), respond)
		close(second)
	}()

	select {
	case <-second:
		t.Fatal("second request was accepted while the only slot was taken")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	<-second
	<-gate.started
	running.Wait()
}

func TestDispatcherDropsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	var running sync.WaitGroup
	d := newDispatcher(ctx, 1, &running, func([]byte) []byte {
		called = true
		return nil
	})
	// Fill the only slot so the canceled context is the only way out.
	d.slots <- struct{}{}

	d.dispatch([]byte(`{}`), func([]byte) {})
	running.Wait()
	assert.False(t, called)
}
