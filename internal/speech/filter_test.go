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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRepetitive(t *testing.T) {
	tests := []struct {
		text     string
		expected bool
	}{
		{"go go go go go home", true},
		{"the quick brown fox jumps", false},
		{"no no", false},
		{"a a a a b c", false},
		{"Yes yes YES okay", true},
		{"one two one two three", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := IsRepetitive(tt.text); got != tt.expected {
				t.Errorf("IsRepetitive(%q) = %v, want %v", tt.text, got, tt.expected)
			}
		})
	}
}

func TestFilter_Accept(t *testing.T) {
	tests := []struct {
		name     string
		input    Utterance
		expected Reason
	}{
		{"Speech", Utterance{Text: "the quick brown fox jumps"}, ReasonAccepted},
		{"Too short", Utterance{Text: " ok "}, ReasonTooShort},
		{"Bracketed tag", Utterance{Text: "[BLANK_AUDIO]"}, ReasonNoiseText},
		{"Parenthesised", Utterance{Text: "(music playing)"}, ReasonNoiseText},
		{"Ellipsis", Utterance{Text: "..."}, ReasonNoiseText},
		{"Thanks hallucination", Utterance{Text: "Thank you for watching"}, ReasonNoiseText},
		{"Please hallucination", Utterance{Text: "Please subscribe"}, ReasonNoiseText},
		{"Inaudible", Utterance{Text: "something inaudible here"}, ReasonNoiseText},
		{"Engine noise flag", Utterance{Text: "real looking words", IsNoise: true}, ReasonNoiseFlag},
		{"Repetition", Utterance{Text: "go go go go go home"}, ReasonRepeated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := NewFilter().Accept(tt.input)
			assert.Equal(t, tt.expected, reason)
			assert.Equal(t, tt.expected == ReasonAccepted, ok)
		})
	}
}

func TestFilter_SuppressesConsecutiveDuplicates(t *testing.T) {
	f := NewFilter()

	ok, _ := f.Accept(Utterance{Text: "Where is the station?"})
	assert.True(t, ok)

	ok, reason := f.Accept(Utterance{Text: "  where is  the station "})
	assert.False(t, ok)
	assert.Equal(t, ReasonDuplicate, reason)

	ok, _ = f.Accept(Utterance{Text: "It is over there"})
	assert.True(t, ok)

	ok, _ = f.Accept(Utterance{Text: "Where is the station?"})
	assert.True(t, ok, "only the previous accepted utterance is suppressed")

	f.Reset()
	ok, _ = f.Accept(Utterance{Text: "Where is the station?"})
	assert.True(t, ok)
}

func TestFilter_RejectedDoesNotBecomeReference(t *testing.T) {
	f := NewFilter()

	ok, _ := f.Accept(Utterance{Text: "good morning everyone"})
	assert.True(t, ok)

	ok, _ = f.Accept(Utterance{Text: "[BLANK_AUDIO]"})
	assert.False(t, ok)

	ok, reason := f.Accept(Utterance{Text: "good morning everyone"})
	assert.False(t, ok)
	assert.Equal(t, ReasonDuplicate, reason)
}

func TestFilter_SuppressesTailOfPreviousUtterance(t *testing.T) {
	f := NewFilter()

	ok, _ := f.Accept(Utterance{Text: "I think we should leave now."})
	assert.True(t, ok)

	ok, reason := f.Accept(Utterance{Text: "We should leave now!"})
	assert.False(t, ok)
	assert.Equal(t, ReasonDuplicate, reason)

	// Short fragments are too ambiguous to treat as echoes
	ok, _ = f.Accept(Utterance{Text: "leave"})
	assert.True(t, ok)

	ok, _ = f.Accept(Utterance{Text: "the train leaves at noon"})
	assert.True(t, ok)
}
