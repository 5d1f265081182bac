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
	"strings"
)

// ErrInvalidRequest is returned for request JSON that cannot be translated
var ErrInvalidRequest = errors.New("invalid translation request")

// TextBlock is one caller-identified piece of text
type TextBlock struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Request is the inbound translation request
type Request struct {
	TextBlocks     []TextBlock     `json:"text_blocks"`
	SourceLanguage string          `json:"source_language,omitempty"`
	TargetLanguage string          `json:"target_language,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Translation is one entry of the canonical result
type Translation struct {
	ID             string `json:"id"`
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
}

// Result is the canonical schema every provider reply is normalized into
type Result struct {
	Translations []Translation   `json:"translations"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// ParseRequest decodes and validates a request. Block ids must be present and unique.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks block id uniqueness
func (r *Request) Validate() error {
	seen := make(map[string]struct{}, len(r.TextBlocks))
	for i, block := range r.TextBlocks {
		if block.ID == "" {
			return fmt.Errorf("%w: text block %d has no id", ErrInvalidRequest, i)
		}
		if _, dup := seen[block.ID]; dup {
			return fmt.Errorf("%w: duplicate text block id %q", ErrInvalidRequest, block.ID)
		}
		seen[block.ID] = struct{}{}
	}
	return nil
}

// Translatable returns the blocks that carry non-whitespace text, in request order
func (r *Request) Translatable() []TextBlock {
	if r == nil {
		return nil
	}
	blocks := make([]TextBlock, 0, len(r.TextBlocks))
	for _, block := range r.TextBlocks {
		if strings.TrimSpace(block.Text) == "" {
			continue
		}
		blocks = append(blocks, block)
	}
	return blocks
}

// Payload is the JSON sent to LLM providers: translatable blocks and languages only
func (r *Request) Payload() ([]byte, error) {
	payload := struct {
		TextBlocks     []TextBlock `json:"text_blocks"`
		SourceLanguage string      `json:"source_language,omitempty"`
		TargetLanguage string      `json:"target_language,omitempty"`
	}{
		TextBlocks:     r.Translatable(),
		SourceLanguage: r.SourceLanguage,
		TargetLanguage: r.TargetLanguage,
	}
	return json.Marshal(payload)
}

// MarshalJSON always emits a translations array, never null
func (r Result) MarshalJSON() ([]byte, error) {
	type result Result
	out := result(r)
	if out.Translations == nil {
		out.Translations = []Translation{}
	}
	return json.Marshal(out)
}

// EmptyResult returns a result with no translations carrying the request metadata
func EmptyResult(req *Request) *Result {
	res := &Result{Translations: []Translation{}}
	if req != nil {
		res.Metadata = req.Metadata
	}
	return res
}
