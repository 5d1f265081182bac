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
	"sort"
	"time"

	"github.com/loqalabs/loqa-translate/internal/translation"
)

// Constructor builds one provider client
type Constructor func(deps Dependencies) translation.Provider

var constructors = map[string]Constructor{
	ChatGPT:         func(d Dependencies) translation.Provider { return NewChatGPT(d) },
	Groq:            func(d Dependencies) translation.Provider { return NewGroq(d) },
	Mistral:         func(d Dependencies) translation.Provider { return NewMistral(d) },
	Gemini:          func(d Dependencies) translation.Provider { return NewGemini(d) },
	Custom:          func(d Dependencies) translation.Provider { return NewCustom(d) },
	Ollama:          func(d Dependencies) translation.Provider { return NewOllama(d) },
	LMStudio:        func(d Dependencies) translation.Provider { return NewLMStudio(d) },
	GoogleTranslate: func(d Dependencies) translation.Provider { return NewGoogleTranslate(d) },
}

// Defaults are the built-in settings of a provider. An empty Endpoint means
// the client's own base URL.
type Defaults struct {
	Model       string
	Timeout     time.Duration
	RequiresKey bool
}

var defaults = map[string]Defaults{
	ChatGPT:         {Model: DefaultChatGPTModel, Timeout: DefaultTimeout, RequiresKey: true},
	Groq:            {Model: DefaultGroqModel, Timeout: DefaultTimeout, RequiresKey: true},
	Mistral:         {Model: DefaultMistralModel, Timeout: DefaultTimeout, RequiresKey: true},
	Gemini:          {Model: DefaultGeminiModel, Timeout: DefaultTimeout, RequiresKey: true},
	Custom:          {Timeout: DefaultTimeout},
	Ollama:          {Model: DefaultOllamaModel, Timeout: LocalTimeout},
	LMStudio:        {Timeout: LocalTimeout},
	GoogleTranslate: {Timeout: DefaultTimeout},
}

// DefaultsFor returns the built-in settings of a known provider
func DefaultsFor(name string) (Defaults, bool) {
	d, ok := defaults[name]
	return d, ok
}

// Known lists every provider name in sorted order
func Known() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsKnown reports whether name is a supported provider
func IsKnown(name string) bool {
	_, ok := constructors[name]
	return ok
}

// Registry holds one client per provider, built once
type Registry struct {
	providers map[string]translation.Provider
}

// NewRegistry builds a client for every known provider
func NewRegistry(deps Dependencies) *Registry {
	r := &Registry{providers: make(map[string]translation.Provider, len(constructors))}
	for name, build := range constructors {
		r.providers[name] = build(deps)
	}
	return r
}

// Lookup implements translation.ProviderLookup
func (r *Registry) Lookup(name string) (translation.Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}
