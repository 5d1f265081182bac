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
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/server"
	"github.com/loqalabs/loqa-translate/internal/speech"
	"github.com/loqalabs/loqa-translate/internal/storage"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health service and NATS handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	a, err := newApp(parent, appOptions{configPath: configPath, withNATS: true})
	if err != nil {
		return err
	}
	defer a.Close()

	// Background work must finish before a.Close releases the database.
	ctx, cancel := context.WithCancel(parent)
	var background sync.WaitGroup
	defer func() {
		cancel()
		background.Wait()
	}()

	a.loader.Watch(a.live)
	cfg := a.config()

	maintenance := &storage.Maintenance{
		DB:        a.db,
		Events:    a.history,
		Retention: cfg.Diagnostics.HistoryRetention,
	}
	background.Add(1)
	go func() {
		defer background.Done()
		maintenance.Run(ctx)
	}()

	deps := server.Dependencies{
		Translator: a.orchestrator,
		Keys:       a.keys,
		History:    a.history,
		LastErrors: a.sink,
		Status:     a.live,
	}
	if a.nats != nil {
		deps.NATSConnected = a.nats.IsConnected
		if _, err := a.nats.ServeTranslate(ctx, a.orchestrator); err != nil {
			return err
		}
		startAudioIngest(ctx, a, &background)
	}

	srv, err := server.New(cfg.Server, deps)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return srv.Stop()
}

// startAudioIngest runs a transcription session fed by NATS audio messages.
// A missing speech engine only disables audio ingest. The session's shutdown
// is tracked on background.
func startAudioIngest(ctx context.Context, a *app, background *sync.WaitGroup) {
	cfg := a.config()

	engine, err := speech.NewEngine(ctx, cfg.Speech.Engine)
	if err != nil {
		logging.LogWarn("⚠️  Speech engine unavailable, audio ingest disabled", zap.Error(err))
		return
	}

	seg, err := audio.NewSegmenter(cfg.Audio.Segmenter)
	if err != nil {
		logging.LogError(err, "Invalid segmenter configuration")
		_ = engine.Close()
		return
	}

	policy, _ := audio.ParseOverflowPolicy(cfg.Audio.OverflowPolicy)
	queue := audio.NewChunkQueue(cfg.Audio.QueueSize, policy)
	pipeline := speech.NewPipeline(cfg.Speech.Pipeline, seg, engine, a.orchestrator, a.nats.ResultHandler())

	if _, err := a.nats.SubscribeAudio(ctx, cfg.Audio.Channels, queue); err != nil {
		logging.LogError(err, "Failed to subscribe to audio")
		_ = engine.Close()
		return
	}

	pipeline.Start(ctx)
	go audio.Pump(ctx, queue, seg)
	background.Add(1)
	go func() {
		defer background.Done()
		<-ctx.Done()
		queue.Close()
		pipeline.Wait()
		_ = engine.Close()
	}()

	logging.LogAudioSegment(pipeline.SessionID(), "ingest",
		zap.String("subject", "loqa.translate.audio"),
		zap.String("overflow_policy", policy.String()))
}
