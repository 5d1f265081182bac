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
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// googleAliases covers the language names the overlay UI sends that are not BCP 47
var googleAliases = map[string]string{
	"ch_sim":              "zh-CN",
	"ch_tra":              "zh-TW",
	"chinese":             "zh-CN",
	"chinese_simplified":  "zh-CN",
	"chinese_traditional": "zh-TW",
	"zh":                  "zh-CN",
}

var namedLanguages = []string{
	"af", "ar", "bg", "bn", "ca", "cs", "da", "de", "el", "en", "es", "et", "fa", "fi",
	"fr", "he", "hi", "hr", "hu", "id", "it", "ja", "ko", "lt", "lv", "ms", "nl", "no",
	"pl", "pt", "ro", "ru", "sk", "sl", "sr", "sv", "sw", "ta", "th", "tl", "tr", "uk",
	"ur", "vi",
}

// GoogleLanguageCode maps a language name or tag ("Japanese", "ja-JP", "ch_sim")
// to the code Google Translate expects. Empty and "auto" map to "auto".
func GoogleLanguageCode(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" || normalized == "auto" {
		return "auto"
	}
	if code, ok := googleAliases[normalized]; ok {
		return code
	}

	namer := display.English.Languages()
	for _, code := range namedLanguages {
		if strings.EqualFold(namer.Name(language.MustParse(code)), normalized) {
			return code
		}
	}

	if tag, err := language.Parse(normalized); err == nil && tag != language.Und {
		return googleCode(tag)
	}
	return normalized
}

func googleCode(tag language.Tag) string {
	base, _ := tag.Base()
	if base.String() != "zh" {
		return base.String()
	}

	script, _ := tag.Script()
	region, _ := tag.Region()
	if script.String() == "Hant" || region.String() == "TW" || region.String() == "HK" {
		return "zh-TW"
	}
	return "zh-CN"
}
