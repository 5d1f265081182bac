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
	"fmt"
	"strings"
)

// Engine kinds
const (
	EngineWhisper = "whisper"
	EngineSTT     = "stt"
)

// Utterance is one piece of recognised speech
type Utterance struct {
	Text    string
	IsNoise bool
}

// Engine turns a 16kHz mono segment into utterances
type Engine interface {
	Transcribe(ctx context.Context, samples []int16) ([]Utterance, error)
	Close() error
}

// EngineConfig selects and configures an engine
type EngineConfig struct {
	Kind      string  `mapstructure:"engine"`
	ModelPath string  `mapstructure:"model_path"`
	STTURL    string  `mapstructure:"stt_url"`
	Model     string  `mapstructure:"model"`
	Language  string  `mapstructure:"language"`
	NoSpeech  float64 `mapstructure:"no_speech_threshold"`
}

// NewEngine builds the configured engine
func NewEngine(ctx context.Context, cfg EngineConfig) (Engine, error) {
	switch strings.ToLower(cfg.Kind) {
	case EngineWhisper:
		engine, err := NewWhisperEngine(cfg)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case "", EngineSTT:
		engine, err := NewSTTClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unknown speech engine %q", cfg.Kind)
	}
}
