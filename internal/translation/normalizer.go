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

package translation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrEmptyReply is returned when a reply carries no usable content
	ErrEmptyReply = errors.New("empty provider reply")

	fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n?(.*?)\r?\n?```")
)

var envelopePaths = map[Envelope]string{
	EnvelopeChat:       "choices.0.message.content",
	EnvelopeGeneration: "candidates.0.content.parts.0.text",
	EnvelopeCompletion: "response",
}

// Normalizer turns raw provider replies into the canonical Result.
// It holds no state, so the same reply always yields the same result.
type Normalizer struct{}

// NewNormalizer creates a Normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize unwraps the provider envelope, extracts translations from the content
// and restricts them to the request's translatable block ids. req may be nil.
func (n *Normalizer) Normalize(reply RawReply, req *Request) (*Result, error) {
	content, err := unwrapEnvelope(reply.Envelope, reply.Body)
	if err != nil {
		return nil, err
	}

	entries, err := extractEntries(content, req)
	if err != nil {
		return nil, err
	}

	result := EmptyResult(req)
	result.Translations = restrict(entries, req)
	return result, nil
}

func unwrapEnvelope(envelope Envelope, body string) (string, error) {
	path, ok := envelopePaths[envelope]
	if !ok {
		if strings.TrimSpace(body) == "" {
			return "", ErrEmptyReply
		}
		return body, nil
	}

	if !gjson.Valid(body) {
		return "", fmt.Errorf("%s envelope is not valid JSON", envelope)
	}
	value := gjson.Get(body, path)
	if !value.Exists() {
		return "", fmt.Errorf("%s envelope has no %s", envelope, path)
	}
	if strings.TrimSpace(value.String()) == "" {
		return "", ErrEmptyReply
	}
	return value.String(), nil
}

// replyEntry accepts both the canonical shape and the text_blocks shape
type replyEntry struct {
	ID             flexString `json:"id"`
	OriginalText   string     `json:"original_text"`
	TranslatedText string     `json:"translated_text"`
	Text           string     `json:"text"`
}

func (e replyEntry) translation() Translation {
	text := e.TranslatedText
	if text == "" {
		text = e.Text
	}
	return Translation{ID: string(e.ID), OriginalText: e.OriginalText, TranslatedText: text}
}

// flexString decodes ids that models sometimes emit as numbers
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func extractEntries(content string, req *Request) ([]Translation, error) {
	text := stripFences(strings.TrimSpace(content))
	if text == "" {
		return nil, ErrEmptyReply
	}

	if entries, ok := parseArray(text); ok {
		return entries, nil
	}

	obj, ok := parseObject(text)
	if !ok {
		return plainText(text, req), nil
	}
	return fromObject(obj, req)
}

func fromObject(obj map[string]json.RawMessage, req *Request) ([]Translation, error) {
	for _, key := range []string{"translations", "text_blocks"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var items []replyEntry
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%s is not an array of blocks: %w", key, err)
		}
		entries := make([]Translation, 0, len(items))
		for _, item := range items {
			entries = append(entries, item.translation())
		}
		return entries, nil
	}

	// Some models wrap the whole answer in a single string field
	for _, key := range []string{"translated_text", "translation", "text"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			continue
		}
		return extractEntries(inner, req)
	}

	encoded, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return plainText(string(encoded), req), nil
}

func parseArray(text string) ([]Translation, bool) {
	if !strings.HasPrefix(text, "[") {
		return nil, false
	}
	var items []replyEntry
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		if err := json.Unmarshal([]byte(repairControlChars(text)), &items); err != nil {
			return nil, false
		}
	}
	entries := make([]Translation, 0, len(items))
	for _, item := range items {
		entries = append(entries, item.translation())
	}
	return entries, true
}

// parseObject tries the whole text first, then the outermost brace span
func parseObject(text string) (map[string]json.RawMessage, bool) {
	candidates := []string{text}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start && (start > 0 || end < len(text)-1) {
		candidates = append(candidates, text[start:end+1])
	}

	for _, candidate := range candidates {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			return obj, true
		}
		if err := json.Unmarshal([]byte(repairControlChars(candidate)), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

// repairControlChars escapes literal control characters inside JSON string values
func repairControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}

		switch {
		case escaped:
			escaped = false
			b.WriteByte(c)
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == '"':
			inString = false
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20:
			b.WriteString(`\u00`)
			b.WriteString(strconv.FormatInt(int64(c)>>4, 16))
			b.WriteString(strconv.FormatInt(int64(c)&0xf, 16))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(strings.Trim(text, "`"))
}

// plainText wraps prose as a single translated block
func plainText(text string, req *Request) []Translation {
	entry := Translation{ID: "text_0", TranslatedText: text}
	if blocks := req.Translatable(); len(blocks) > 0 {
		entry.ID = blocks[0].ID
	}
	return []Translation{entry}
}

// restrict keeps at most one entry per translatable request id and fills original_text.
// Without a request only duplicate ids are dropped.
func restrict(entries []Translation, req *Request) []Translation {
	out := make([]Translation, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))

	var originals map[string]string
	if req != nil {
		blocks := req.Translatable()
		originals = make(map[string]string, len(blocks))
		for _, block := range blocks {
			originals[block.ID] = block.Text
		}
	}

	for _, entry := range entries {
		if _, dup := seen[entry.ID]; dup {
			continue
		}
		if originals != nil {
			original, ok := originals[entry.ID]
			if !ok {
				continue
			}
			entry.OriginalText = original
		}
		seen[entry.ID] = struct{}{}
		out = append(out, entry)
	}
	return out
}
