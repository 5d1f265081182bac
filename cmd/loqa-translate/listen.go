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
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/speech"
)

func newListenCmd(configPath *string) *cobra.Command {
	var (
		file     string
		channels int
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Transcribe and translate raw s16le 16 kHz PCM from a file or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var r io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", file, err)
				}
				defer f.Close()
				r = f
			}

			a, err := newApp(ctx, appOptions{configPath: *configPath})
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("channels") {
				channels = a.config().Audio.Channels
			}
			return runListen(ctx, a, r, channels, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "raw PCM file (default stdin)")
	cmd.Flags().IntVar(&channels, "channels", 1, "interleaved channel count of the input")
	return cmd
}

func runListen(ctx context.Context, a *app, r io.Reader, channels int, w io.Writer) error {
	cfg := a.config()

	engine, err := speech.NewEngine(ctx, cfg.Speech.Engine)
	if err != nil {
		return err
	}
	defer engine.Close()

	seg, err := audio.NewSegmenter(cfg.Audio.Segmenter)
	if err != nil {
		return err
	}

	// File input is finite, so the reader waits for the segmenter instead of dropping audio.
	queue := audio.NewChunkQueue(cfg.Audio.QueueSize, audio.PolicyBlock)
	out := &resultPrinter{w: w}
	pipeline := speech.NewPipeline(cfg.Speech.Pipeline, seg, engine, a.orchestrator, out.handle)
	pipeline.Start(ctx)

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		audio.Pump(ctx, queue, seg)
	}()

	readErr := audio.ReadPCM(ctx, r, channels, queue)
	queue.Close()
	<-pumped

	pipeline.Finish()
	pipeline.Wait()

	forwarded, filtered, dropped := pipeline.Stats()
	fmt.Fprintf(w, "# %d forwarded, %d filtered, %d dropped\n", forwarded, filtered, dropped)
	return readErr
}

// resultPrinter writes one line per utterance
type resultPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *resultPrinter) handle(ctx context.Context, out speech.Output) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, formatOutput(out))
}

func formatOutput(out speech.Output) string {
	stamp := formatOffset(out.StartedAt)
	if out.Err != nil {
		return fmt.Sprintf("[%s] %s (translation failed: %v)", stamp, out.Text, out.Err)
	}
	if out.Result == nil || len(out.Result.Translations) == 0 {
		return fmt.Sprintf("[%s] %s", stamp, out.Text)
	}

	parts := make([]string, 0, len(out.Result.Translations))
	for _, t := range out.Result.Translations {
		parts = append(parts, t.TranslatedText)
	}
	return fmt.Sprintf("[%s] %s -> %s", stamp, out.Text, strings.Join(parts, " "))
}

// formatOffset renders a stream offset as mm:ss.mmm
func formatOffset(d time.Duration) string {
	minutes := int(d / time.Minute)
	seconds := int(d % time.Minute / time.Second)
	millis := int(d % time.Second / time.Millisecond)
	return fmt.Sprintf("%02d:%02d.%03d", minutes, seconds, millis)
}
