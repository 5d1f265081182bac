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

package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/diagnostics"
	"github.com/loqalabs/loqa-translate/internal/keys"
	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/messaging"
	"github.com/loqalabs/loqa-translate/internal/providers"
	"github.com/loqalabs/loqa-translate/internal/storage"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

// app holds the components shared by every command
type app struct {
	loader       *config.Loader
	live         *config.Live
	db           *storage.Database
	keys         *keys.Store
	sink         *diagnostics.FileSink
	history      *storage.TranslationEventsStore
	orchestrator *translation.Orchestrator
	nats         *messaging.NATSService
}

type appOptions struct {
	configPath string
	provider   string
	withNATS   bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	loader := config.NewLoader(opts.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if opts.provider != "" {
		if !providers.IsKnown(opts.provider) {
			return nil, fmt.Errorf("unknown provider %q", opts.provider)
		}
		cfg.Translation.ActiveProvider = opts.provider
	}

	if err := logging.InitializeWithConfig(logging.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	a := &app{loader: loader, live: config.NewLive(cfg)}

	a.db, err = storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Database.Path})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.keys = keys.NewStore(storage.NewCredentialsStore(a.db))
	seedKeys(a.keys, cfg)
	if err := a.keys.Load(ctx); err != nil {
		logging.LogWarn("⚠️  Failed to restore key selections", zap.Error(err))
	}
	a.live.OnChange(func(c *config.Config) { seedKeys(a.keys, c) })

	a.sink, err = diagnostics.NewFileSink(cfg.Diagnostics.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.history = storage.NewTranslationEventsStore(a.db)

	notifiers := diagnostics.Notifiers{diagnostics.LogNotifier{}}
	if opts.withNATS && cfg.NATS.Enabled {
		ns := messaging.NewNATSService(cfg.NATS)
		if err := ns.Connect(); err != nil {
			logging.LogWarn("⚠️  NATS unavailable, continuing without messaging", zap.Error(err))
		} else {
			a.nats = ns
			notifiers = append(notifiers, messaging.NewAlertNotifier(ns))
		}
	}

	a.orchestrator, err = translation.NewOrchestrator(translation.Options{
		Providers:        providers.NewRegistry(providers.Dependencies{Audit: a.sink}),
		Keys:             a.keys,
		Settings:         a.live,
		ErrorRecorder:    a.sink,
		Notifier:         notifiers,
		History:          a.history,
		MaxRetries:       cfg.Translation.MaxRetries,
		FailureThreshold: cfg.Translation.FailureThreshold,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// seedKeys pushes the configured key lists into the rotation store
func seedKeys(store *keys.Store, cfg *config.Config) {
	for service, list := range cfg.ProviderKeys() {
		store.SetKeys(service, list)
	}
}

func (a *app) config() *config.Config {
	return a.live.Current()
}

func (a *app) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.LogError(err, "Failed to close database")
		}
	}
	logging.Close()
}
