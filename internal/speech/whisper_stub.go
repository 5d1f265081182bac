//go:build !whisper

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
)

var errWhisperDisabled = errors.New("whisper transcription disabled (build with -tags whisper to enable)")

// WhisperEngine is unavailable without the whisper build tag
type WhisperEngine struct{}

// NewWhisperEngine always fails without the whisper build tag
func NewWhisperEngine(cfg EngineConfig) (*WhisperEngine, error) {
	return nil, errWhisperDisabled
}

// Transcribe implements Engine
func (w *WhisperEngine) Transcribe(ctx context.Context, samples []int16) ([]Utterance, error) {
	return nil, errWhisperDisabled
}

// Close implements Engine
func (w *WhisperEngine) Close() error {
	return nil
}
