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

package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/providers"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

// Live holds the current configuration snapshot. It implements
// translation.Settings, so every attempt resolves provider settings afresh.
type Live struct {
	mu        sync.RWMutex
	cfg       *Config
	listeners []func(*Config)
}

// NewLive wraps an initial configuration
func NewLive(cfg *Config) *Live {
	return &Live{cfg: cfg}
}

// Current returns the active snapshot. Callers must not modify it.
func (l *Live) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Update swaps in a new snapshot and notifies listeners
func (l *Live) Update(cfg *Config) {
	l.mu.Lock()
	l.cfg = cfg
	listeners := append([]func(*Config){}, l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// OnChange registers fn to run after every Update
func (l *Live) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// ActiveProvider implements translation.Settings
func (l *Live) ActiveProvider() string {
	return l.Current().Translation.ActiveProvider
}

// DefaultPrompt implements translation.Settings
func (l *Live) DefaultPrompt() string {
	return l.Current().Translation.Prompt
}

// ProviderConfig implements translation.Settings
func (l *Live) ProviderConfig(name string) (translation.ProviderConfig, bool) {
	defaults, ok := providers.DefaultsFor(name)
	if !ok {
		return translation.ProviderConfig{}, false
	}

	cfg := l.Current()
	settings := cfg.Translation.Providers[name]

	pc := translation.ProviderConfig{
		Name:         name,
		Model:        settings.Model,
		Endpoint:     settings.Endpoint,
		KeyRef:       name,
		RequiresKey:  defaults.RequiresKey,
		Timeout:      settings.Timeout,
		FailureDelay: cfg.Translation.FailureDelay,
	}
	if pc.Model == "" {
		pc.Model = defaults.Model
	}
	if pc.Timeout <= 0 {
		pc.Timeout = defaults.Timeout
	}
	return pc, true
}

// ProviderKeys returns the configured key list of every provider
func (c *Config) ProviderKeys() map[string][]string {
	out := make(map[string][]string, len(c.Translation.Providers))
	for name, p := range c.Translation.Providers {
		out[name] = append([]string(nil), p.Keys...)
	}
	return out
}

// Watch reloads the file on change and pushes valid snapshots into live.
// Invalid edits are logged and the previous snapshot stays active.
func (l *Loader) Watch(live *Live) {
	if l.path == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := l.decode()
		if err != nil {
			logging.LogError(err, "Ignoring invalid configuration change",
				zap.String("component", "config"),
				zap.String("file", e.Name),
			)
			return
		}

		live.Update(cfg)
		logging.S().Infow("🔄 Configuration reloaded",
			"component", "config",
			"file", e.Name,
			"op", e.Op.String(),
			"active_provider", cfg.Translation.ActiveProvider,
		)
	})
	l.v.WatchConfig()
}
