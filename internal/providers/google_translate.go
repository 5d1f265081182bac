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

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/loqalabs/loqa-translate/internal/translation"
)

const (
	GoogleFreeBaseURL  = "https://translate.googleapis.com"
	GoogleCloudBaseURL = "https://translation.googleapis.com"
)

var errNoTranslation = errors.New("reply carries no translated text")

// GoogleTranslateClient translates block by block through Google Translate.
// With an API key it uses the Cloud v2 API; without one it uses the public
// gtx endpoint and falls back to the alternate client endpoint when throttled.
type GoogleTranslateClient struct {
	http *resty.Client
	auditor
}

// NewGoogleTranslate creates a Google Translate client
func NewGoogleTranslate(deps Dependencies) *GoogleTranslateClient {
	return &GoogleTranslateClient{http: deps.resty(), auditor: auditor{deps.Audit}}
}

// Name implements translation.Provider
func (g *GoogleTranslateClient) Name() string {
	return GoogleTranslate
}

// Translate implements translation.Provider. The reply body is already canonical JSON.
func (g *GoogleTranslateClient) Translate(ctx context.Context, call translation.Call) (*translation.RawReply, error) {
	ctx, cancel := withTimeout(ctx, call.Config.Timeout, DefaultTimeout)
	defer cancel()

	source := GoogleLanguageCode(call.Request.SourceLanguage)
	target := GoogleLanguageCode(call.Request.TargetLanguage)
	if target == "auto" {
		target = "en"
	}

	blocks := call.Request.Translatable()
	out := make([]translation.Translation, 0, len(blocks))
	for _, block := range blocks {
		text, perr := g.translateText(ctx, call, block.Text, source, target)
		if perr != nil {
			return nil, perr
		}
		out = append(out, translation.Translation{ID: block.ID, OriginalText: block.Text, TranslatedText: text})
	}

	body, err := json.Marshal(translation.Result{Translations: out})
	if err != nil {
		return nil, &translation.ProviderError{Provider: GoogleTranslate, Category: translation.CategoryOther, Err: err}
	}
	return &translation.RawReply{Provider: GoogleTranslate, Envelope: translation.EnvelopeRaw, Body: string(body)}, nil
}

func (g *GoogleTranslateClient) translateText(ctx context.Context, call translation.Call, text, source, target string) (string, *translation.ProviderError) {
	if call.APIKey != "" {
		return g.cloud(ctx, endpointOr(call.Config.Endpoint, GoogleCloudBaseURL), call.APIKey, text, source, target)
	}

	base := endpointOr(call.Config.Endpoint, GoogleFreeBaseURL)
	translated, perr := g.free(ctx, base, text, source, target)
	if perr != nil && (perr.HTTPStatus == http.StatusForbidden || perr.HTTPStatus == http.StatusTooManyRequests) {
		return g.alternate(ctx, base, text, source, target)
	}
	return translated, perr
}

func (g *GoogleTranslateClient) free(ctx context.Context, base, text, source, target string) (string, *translation.ProviderError) {
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client": "gtx",
			"sl":     source,
			"tl":     target,
			"dt":     "t",
			"q":      text,
		}).
		Get(base + "/translate_a/single")
	if perr := checkResponse(GoogleTranslate, resp, err); perr != nil {
		return "", perr
	}

	raw := resp.String()
	g.audit(GoogleTranslate, raw)
	return joinSegments(raw, "0.#.0")
}

func (g *GoogleTranslateClient) alternate(ctx context.Context, base, text, source, target string) (string, *translation.ProviderError) {
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client": "at",
			"sl":     source,
			"tl":     target,
			"dt":     "t",
			"dj":     "1",
			"q":      text,
		}).
		Get(base + "/translate_a/single")
	if perr := checkResponse(GoogleTranslate, resp, err); perr != nil {
		return "", perr
	}

	raw := resp.String()
	g.audit(GoogleTranslate, raw)
	return joinSegments(raw, "sentences.#.trans")
}

func (g *GoogleTranslateClient) cloud(ctx context.Context, base, key, text, source, target string) (string, *translation.ProviderError) {
	params := map[string]string{
		"key":    key,
		"q":      text,
		"target": target,
		"format": "text",
	}
	if source != "auto" {
		params["source"] = source
	}

	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(base + "/language/translate/v2")
	if perr := checkResponse(GoogleTranslate, resp, err); perr != nil {
		return "", perr
	}

	raw := resp.String()
	g.audit(GoogleTranslate, raw)
	result := gjson.Get(raw, "data.translations.0.translatedText")
	if !result.Exists() {
		return "", translation.NewMalformedError(GoogleTranslate, raw, errNoTranslation)
	}
	return result.String(), nil
}

// joinSegments concatenates the sentence fragments selected by path
func joinSegments(raw, path string) (string, *translation.ProviderError) {
	if !gjson.Valid(raw) {
		return "", translation.NewMalformedError(GoogleTranslate, raw, errNoTranslation)
	}

	var b strings.Builder
	for _, segment := range gjson.Get(raw, path).Array() {
		b.WriteString(segment.String())
	}
	if b.Len() == 0 {
		return "", translation.NewMalformedError(GoogleTranslate, raw, errNoTranslation)
	}
	return b.String(), nil
}
