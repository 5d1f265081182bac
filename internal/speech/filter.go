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
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cespare/xxhash"
)

// Reason explains why the filter dropped an utterance
type Reason string

const (
	ReasonAccepted  Reason = ""
	ReasonTooShort  Reason = "too_short"
	ReasonNoiseText Reason = "noise_pattern"
	ReasonNoiseFlag Reason = "noise_flag"
	ReasonRepeated  Reason = "repetitive"
	ReasonDuplicate Reason = "duplicate"
)

const (
	minUtteranceLength = 3
	minContainedLength = 6
	minRepetitionWords = 3
	maxWordShare       = 0.4
)

// Common recogniser artefacts: bracketed tags, ellipses and stock hallucinations
var noisePattern = regexp.MustCompile(`(?i)^\[.*\]$|^\(.*\)$|^\.{3,}$|^thank|^please|inaudible|blank`)

// Filter drops noise, runaway repetition and back-to-back duplicates. An
// utterance of six or more characters that already appeared inside the
// previous one also counts as a duplicate.
type Filter struct {
	mu       sync.Mutex
	last     uint64
	lastText string
	hasLast  bool
}

// NewFilter creates a filter with no history
func NewFilter() *Filter {
	return &Filter{}
}

// Accept reports whether u should be forwarded. Only accepted utterances
// become the duplicate reference.
func (f *Filter) Accept(u Utterance) (bool, Reason) {
	text := strings.TrimSpace(u.Text)

	switch {
	case utf8.RuneCountInString(text) < minUtteranceLength:
		return false, ReasonTooShort
	case noisePattern.MatchString(text):
		return false, ReasonNoiseText
	case u.IsNoise:
		return false, ReasonNoiseFlag
	case IsRepetitive(text):
		return false, ReasonRepeated
	}

	normal := normalizeForDedupe(text)
	sum := xxhash.Sum64String(normal)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasLast {
		if f.last == sum {
			return false, ReasonDuplicate
		}
		if utf8.RuneCountInString(normal) >= minContainedLength && strings.Contains(f.lastText, normal) {
			return false, ReasonDuplicate
		}
	}
	f.last = sum
	f.lastText = normal
	f.hasLast = true
	return true, ReasonAccepted
}

// Reset forgets the previous utterance
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasLast = false
	f.last = 0
	f.lastText = ""
}

// IsRepetitive reports whether a single word of two or more characters makes
// up more than 40% of a text of at least three words
func IsRepetitive(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < minRepetitionWords {
		return false
	}

	counts := make(map[string]int, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) >= 2 {
			counts[w]++
		}
	}
	for _, c := range counts {
		if float64(c)/float64(len(words)) > maxWordShare {
			return true
		}
	}
	return false
}

func normalizeForDedupe(text string) string {
	text = strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return strings.TrimRight(text, ".!?,;:。！？")
}
