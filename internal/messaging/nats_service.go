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
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/security"
	"github.com/loqalabs/loqa-translate/internal/speech"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

// NATS subjects for translation traffic
const (
	SubjectTranslateRequest = "loqa.translate.request"
	SubjectTranslateResult  = "loqa.translate.result"
	SubjectTranslateAlert   = "loqa.translate.alert"
	SubjectTranslateAudio   = "loqa.translate.audio"
)

// DefaultURL is used when no NATS url is configured
const DefaultURL = "nats://localhost:4222"

// DefaultMaxConcurrent bounds in-flight translate requests when the config leaves it unset
const DefaultMaxConcurrent = 8

// ErrNotConnected is returned by every operation before Connect succeeds
var ErrNotConnected = errors.New("NATS connection not established")

// Translator is the JSON entry point served on SubjectTranslateRequest
type Translator interface {
	TranslateJSON(ctx context.Context, jsonRequest, prompt string) (string, error)
}

// ErrorReply is the reply body when a translate request fails
type ErrorReply struct {
	Error     string `json:"error"`
	Category  string `json:"category,omitempty"`
	Surfaced  bool   `json:"surfaced"`
	RequestID string `json:"request_id,omitempty"`
}

// ResultEvent is published once per translated utterance
type ResultEvent struct {
	SessionID    string                    `json:"session_id"`
	UtteranceID  string                    `json:"utterance_id"`
	Text         string                    `json:"text"`
	StartedAtMS  int64                     `json:"started_at_ms"`
	Translations []translation.Translation `json:"translations"`
	Error        string                    `json:"error,omitempty"`
	Timestamp    int64                     `json:"timestamp"`
}

// AlertEvent is published when a provider crosses the failure threshold
type AlertEvent struct {
	RequestID           string `json:"request_id"`
	Provider            string `json:"provider"`
	Category            string `json:"category"`
	HTTPStatus          int    `json:"http_status,omitempty"`
	Error               string `json:"error"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Timestamp           int64  `json:"timestamp"`
}

// NATSService handles NATS messaging for the translation service
type NATSService struct {
	conn          *nats.Conn
	url           string
	maxReconnect  int
	reconnectWait time.Duration
	maxConcurrent int

	handlers sync.WaitGroup
}

// NewNATSService creates a new NATS service instance
func NewNATSService(cfg config.NATSConfig) *NATSService {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	workers := cfg.MaxConcurrent
	if workers <= 0 {
		workers = DefaultMaxConcurrent
	}

	return &NATSService{
		url:           url,
		maxReconnect:  cfg.MaxReconnect,
		reconnectWait: wait,
		maxConcurrent: workers,
	}
}

// Connect establishes connection to NATS server
func (ns *NATSService) Connect() error {
	logging.S().Infow("🔌 Connecting to NATS", "component", "messaging", "url", ns.url)

	opts := []nats.Option{
		nats.Name("loqa-translate"),
		nats.ReconnectWait(ns.reconnectWait),
		nats.MaxReconnects(ns.maxReconnect),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.LogWarn("⚠️  NATS disconnected", zap.String("component", "messaging"), zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(nc.ConnectedUrl(), "🔄 reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(ns.url, "🔌 closed")
		}),
	}

	conn, err := nats.Connect(ns.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.conn = conn
	logging.S().Infow("✅ Connected to NATS server", "component", "messaging", "url", conn.ConnectedUrl())
	return nil
}

// ServeTranslate answers translate requests. The request body is the request JSON with
// an optional top-level "prompt". Up to maxConcurrent requests run at once; further
// messages wait in the subscription until a slot frees up.
func (ns *NATSService) ServeTranslate(ctx context.Context, translator Translator) (*nats.Subscription, error) {
	if ns.conn == nil {
		return nil, ErrNotConnected
	}

	d := newDispatcher(ctx, ns.maxConcurrent, &ns.handlers, func(data []byte) []byte {
		return handleTranslate(ctx, translator, data)
	})
	return ns.conn.Subscribe(SubjectTranslateRequest, func(msg *nats.Msg) {
		logging.LogNATSEvent(msg.Subject, "📥 translate request", zap.Int("bytes", len(msg.Data)))
		d.dispatch(msg.Data, func(reply []byte) {
			if msg.Reply == "" {
				return
			}
			if err := msg.Respond(reply); err != nil {
				logging.LogError(err, "❌ Failed to respond to translate request")
			}
		})
	})
}

// dispatcher runs each request on its own goroutine, holding one of a fixed
// number of slots for the duration of the call
type dispatcher struct {
	ctx     context.Context
	slots   chan struct{}
	running *sync.WaitGroup
	handle  func(data []byte) []byte
}

func newDispatcher(ctx context.Context, size int, running *sync.WaitGroup, handle func([]byte) []byte) *dispatcher {
	if size <= 0 {
		size = 1
	}
	return &dispatcher{
		ctx:     ctx,
		slots:   make(chan struct{}, size),
		running: running,
		handle:  handle,
	}
}

// dispatch blocks only while every slot is taken. Requests arriving after ctx
// is done are dropped.
func (d *dispatcher) dispatch(data []byte, respond func([]byte)) {
	select {
	case d.slots <- struct{}{}:
	case <-d.ctx.Done():
		return
	}

	d.running.Add(1)
	go func() {
		defer d.running.Done()
		defer func() { <-d.slots }()
		respond(d.handle(data))
	}()
}

func handleTranslate(ctx context.Context, translator Translator, data []byte) []byte {
	prompt := gjson.GetBytes(data, "prompt").String()
	out, err := translator.TranslateJSON(ctx, string(data), prompt)
	if err == nil {
		return []byte(out)
	}
	return encodeErrorReply(err)
}

func encodeErrorReply(err error) []byte {
	reply := ErrorReply{
		Error:    security.SanitizeLogInput(err.Error()),
		Surfaced: translation.IsSurfaced(err),
	}

	var terr *translation.TranslationError
	if errors.As(err, &terr) {
		reply.RequestID = terr.RequestID
		if terr.Err != nil {
			reply.Category = string(terr.Err.Category)
		}
	}
	var cerr *translation.ConfigurationError
	if errors.As(err, &cerr) {
		reply.Category = "configuration"
	}
	if errors.Is(err, translation.ErrInvalidRequest) {
		reply.Category = "invalid_request"
	}

	data, _ := json.Marshal(reply)
	return data
}

// PublishResult publishes a translated utterance from the audio pipeline
func (ns *NATSService) PublishResult(out speech.Output) error {
	if ns.conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(newResultEvent(out, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal result event: %w", err)
	}

	if err := ns.conn.Publish(SubjectTranslateResult, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", SubjectTranslateResult, err)
	}

	logging.LogNATSEvent(SubjectTranslateResult, "📤 published",
		zap.String("session_id", out.SessionID),
		zap.String("utterance_id", out.UtteranceID))
	return nil
}

func newResultEvent(out speech.Output, now time.Time) ResultEvent {
	event := ResultEvent{
		SessionID:    out.SessionID,
		UtteranceID:  out.UtteranceID,
		Text:         out.Text,
		StartedAtMS:  out.StartedAt.Milliseconds(),
		Translations: []translation.Translation{},
		Timestamp:    now.UnixMilli(),
	}
	if out.Result != nil && out.Result.Translations != nil {
		event.Translations = out.Result.Translations
	}
	if out.Err != nil {
		event.Error = security.SanitizeLogInput(out.Err.Error())
	}
	return event
}

// ResultHandler adapts PublishResult to the pipeline callback, logging publish errors
func (ns *NATSService) ResultHandler() speech.ResultHandler {
	return func(ctx context.Context, out speech.Output) {
		if err := ns.PublishResult(out); err != nil {
			logging.LogError(err, "❌ Failed to publish translation result",
				zap.String("utterance_id", out.UtteranceID))
		}
	}
}

// AlertNotifier publishes surfaced provider failures on SubjectTranslateAlert
type AlertNotifier struct {
	ns *NATSService
}

// NewAlertNotifier creates a notifier bound to the service connection
func NewAlertNotifier(ns *NATSService) *AlertNotifier {
	return &AlertNotifier{ns: ns}
}

// NotifyFailure implements translation.Notifier
func (a *AlertNotifier) NotifyFailure(ctx context.Context, record translation.FailureRecord) {
	if a == nil || a.ns == nil || !a.ns.IsConnected() {
		return
	}

	data, err := json.Marshal(newAlertEvent(record))
	if err != nil {
		logging.LogError(err, "❌ Failed to marshal alert event")
		return
	}
	if err := a.ns.conn.Publish(SubjectTranslateAlert, data); err != nil {
		logging.LogError(err, "❌ Failed to publish alert", zap.String("provider", record.Provider))
		return
	}
	logging.LogNATSEvent(SubjectTranslateAlert, "📤 published", zap.String("provider", record.Provider))
}

func newAlertEvent(record translation.FailureRecord) AlertEvent {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return AlertEvent{
		RequestID:           record.RequestID,
		Provider:            record.Provider,
		Category:            string(record.Category),
		HTTPStatus:          record.HTTPStatus,
		Error:               security.SanitizeLogInput(record.Error),
		ConsecutiveFailures: record.ConsecutiveFailures,
		Timestamp:           ts.UnixMilli(),
	}
}

// SubscribeAudio feeds raw s16le PCM messages into the chunk queue, downmixing to mono
func (ns *NATSService) SubscribeAudio(ctx context.Context, channels int, q *audio.ChunkQueue) (*nats.Subscription, error) {
	if ns.conn == nil {
		return nil, ErrNotConnected
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}

	return ns.conn.Subscribe(SubjectTranslateAudio, func(msg *nats.Msg) {
		chunk := decodeAudio(msg.Data, channels)
		if len(chunk) == 0 {
			return
		}
		if err := q.Push(ctx, chunk); err != nil && !errors.Is(err, context.Canceled) {
			logging.LogWarn("⚠️  Dropping audio message", zap.String("component", "messaging"), zap.Error(err))
		}
	})
}

func decodeAudio(data []byte, channels int) []int16 {
	samples := audio.BytesToInt16(data)
	if channels == 1 {
		return samples
	}
	return audio.DownmixToMono(samples, channels)
}

// Close waits for in-flight translate requests, then closes the NATS connection
func (ns *NATSService) Close() {
	ns.handlers.Wait()
	if ns.conn != nil {
		ns.conn.Close()
		logging.S().Infow("🔌 NATS connection closed", "component", "messaging")
	}
}

// IsConnected returns true if connected to NATS
func (ns *NATSService) IsConnected() bool {
	return ns.conn != nil && ns.conn.IsConnected()
}

// GetStats returns connection statistics
func (ns *NATSService) GetStats() nats.Statistics {
	if ns.conn != nil {
		return ns.conn.Stats()
	}
	return nats.Statistics{}
}
