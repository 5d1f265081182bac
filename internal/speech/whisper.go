//go:build whisper

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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/logging"
)

// WhisperEngine runs whisper.cpp in process
type WhisperEngine struct {
	mu        sync.Mutex
	model     whisper.Model
	modelPath string
	language  string
	noSpeech  float64
}

// NewWhisperEngine loads the model at cfg.ModelPath
func NewWhisperEngine(cfg EngineConfig) (*WhisperEngine, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("whisper model not found at %s", cfg.ModelPath)
	}

	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model: %w", err)
	}

	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = "auto"
	}

	logging.S().Infow("✅ Whisper model loaded", "model_path", cfg.ModelPath)
	return &WhisperEngine{
		model:     model,
		modelPath: cfg.ModelPath,
		language:  language,
		noSpeech:  cfg.NoSpeech,
	}, nil
}

// Transcribe implements Engine
func (w *WhisperEngine) Transcribe(ctx context.Context, samples []int16) ([]Utterance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return nil, errors.New("whisper model not initialized")
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper context: %w", err)
	}
	if err := wctx.SetLanguage(w.language); err != nil {
		return nil, fmt.Errorf("failed to set whisper language: %w", err)
	}

	abort := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(audio.Int16ToFloat32(samples), abort, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to process audio: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var out []Utterance
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read whisper segment: %w", err)
		}
		out = append(out, Utterance{
			Text:    strings.TrimSpace(segment.Text),
			IsNoise: w.lowConfidence(segment.Tokens),
		})
	}
	return out, nil
}

// lowConfidence flags segments whose mean token probability is under the threshold
func (w *WhisperEngine) lowConfidence(tokens []whisper.Token) bool {
	if w.noSpeech <= 0 || len(tokens) == 0 {
		return false
	}
	var sum float64
	for _, t := range tokens {
		sum += float64(t.P)
	}
	return sum/float64(len(tokens)) < w.noSpeech
}

// Close implements Engine
func (w *WhisperEngine) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model != nil {
		_ = w.model.Close()
		w.model = nil
		logging.S().Infow("🧠 Whisper model closed", "model_path", w.modelPath)
	}
	return nil
}
