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
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/logging"
)

const (
	defaultSTTURL      = "http://localhost:8000"
	defaultSTTModel    = "tiny"
	defaultNoSpeechMax = 0.6
)

// STTClient transcribes through any OpenAI-compatible speech-to-text service
type STTClient struct {
	baseURL  string
	model    string
	language string
	noSpeech float64
	http     *resty.Client
}

// NewSTTClient creates a client and checks that the service is healthy
func NewSTTClient(ctx context.Context, cfg EngineConfig) (*STTClient, error) {
	baseURL := strings.TrimRight(cfg.STTURL, "/")
	if baseURL == "" {
		baseURL = defaultSTTURL
	}

	s := &STTClient{
		baseURL:  baseURL,
		model:    cfg.Model,
		language: cfg.Language,
		noSpeech: cfg.NoSpeech,
		http:     resty.New().SetTimeout(30 * time.Second),
	}
	if s.model == "" {
		s.model = defaultSTTModel
	}
	if s.noSpeech <= 0 {
		s.noSpeech = defaultNoSpeechMax
	}

	if err := s.healthCheck(ctx); err != nil {
		return nil, fmt.Errorf("STT service health check failed: %w", err)
	}

	logging.S().Infow("🎙️ Connected to STT REST service", "base_url", baseURL, "model", s.model)
	return s, nil
}

func (s *STTClient) healthCheck(ctx context.Context) error {
	resp, err := s.http.R().SetContext(ctx).Get(s.baseURL + "/health")
	if err != nil {
		return fmt.Errorf("failed to connect to STT service at %s: %w", s.baseURL, err)
	}
	if resp.IsError() {
		return fmt.Errorf("STT service health check failed with status: %d", resp.StatusCode())
	}
	return nil
}

// Transcribe implements Engine
func (s *STTClient) Transcribe(ctx context.Context, samples []int16) ([]Utterance, error) {
	if len(samples) == 0 {
		return nil, errors.New("empty audio data")
	}

	start := time.Now()
	resp, err := s.http.R().
		SetContext(ctx).
		SetFileReader("file", "audio.wav", bytes.NewReader(audio.EncodeWAV(samples, audio.SampleRate))).
		SetFormData(map[string]string{
			"model":           s.model,
			"language":        s.language,
			"temperature":     "0.0",
			"response_format": "verbose_json",
		}).
		Post(s.baseURL + "/v1/audio/transcriptions")
	if err != nil {
		return nil, fmt.Errorf("transcription HTTP request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("transcription failed with status %d: %s", resp.StatusCode(), resp.String())
	}

	utterances, err := s.parse(resp.String())
	if err != nil {
		return nil, err
	}

	logging.L().Debug("Transcription completed",
		zap.String("component", "speech"),
		zap.Int("samples", len(samples)),
		zap.Int("utterances", len(utterances)),
		zap.Int64("processing_time_ms", time.Since(start).Milliseconds()),
	)
	return utterances, nil
}

// parse accepts verbose_json (segments with no_speech_prob) or plain json ({"text": ...})
func (s *STTClient) parse(body string) ([]Utterance, error) {
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("failed to parse transcription response: %.200s", body)
	}

	segments := gjson.Get(body, "segments")
	if segments.IsArray() && len(segments.Array()) > 0 {
		var out []Utterance
		for _, seg := range segments.Array() {
			out = append(out, Utterance{
				Text:    strings.TrimSpace(seg.Get("text").String()),
				IsNoise: seg.Get("no_speech_prob").Float() > s.noSpeech,
			})
		}
		return out, nil
	}

	text := strings.TrimSpace(gjson.Get(body, "text").String())
	if text == "" {
		return nil, nil
	}
	return []Utterance{{Text: text}}, nil
}

// Close implements Engine
func (s *STTClient) Close() error {
	logging.S().Infow("Closing STT client", "base_url", s.baseURL)
	return nil
}
