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
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

// Translator is the part of the orchestrator the pipeline needs
type Translator interface {
	Translate(ctx context.Context, req *translation.Request, prompt string) (*translation.Result, error)
}

// Output is handed to the ResultHandler once per forwarded utterance
type Output struct {
	SessionID   string
	UtteranceID string
	Text        string
	StartedAt   time.Duration
	Result      *translation.Result
	Err         error
}

// ResultHandler receives translated utterances on the forwarder goroutine
type ResultHandler func(ctx context.Context, out Output)

// PipelineConfig controls polling and forwarding
type PipelineConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ForwardQueue   int           `mapstructure:"forward_queue"`
	SourceLanguage string        `mapstructure:"source_language"`
	TargetLanguage string        `mapstructure:"target_language"`
	Prompt         string        `mapstructure:"prompt"`
}

// DefaultPipelineConfig polls every 100ms and buffers up to 16 utterances
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		PollInterval: 100 * time.Millisecond,
		ForwardQueue: 16,
	}
}

type forwardItem struct {
	text      string
	startedAt time.Duration
}

// Pipeline drains a segmenter, transcribes each segment, filters the text and
// forwards what survives to the translator
type Pipeline struct {
	cfg        PipelineConfig
	sessionID  string
	segmenter  *audio.Segmenter
	engine     Engine
	translator Translator
	handler    ResultHandler
	filter     *Filter

	forward chan forwardItem
	finish  chan struct{}
	once    sync.Once
	started atomic.Bool
	wg      sync.WaitGroup

	counter  atomic.Int64
	dropped  atomic.Int64
	filtered atomic.Int64
}

// NewPipeline wires a pipeline. handler may be nil.
func NewPipeline(cfg PipelineConfig, segmenter *audio.Segmenter, engine Engine, translator Translator, handler ResultHandler) *Pipeline {
	defaults := DefaultPipelineConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.ForwardQueue <= 0 {
		cfg.ForwardQueue = defaults.ForwardQueue
	}
	if handler == nil {
		handler = func(context.Context, Output) {}
	}

	return &Pipeline{
		cfg:        cfg,
		sessionID:  uuid.New().String(),
		segmenter:  segmenter,
		engine:     engine,
		translator: translator,
		handler:    handler,
		filter:     NewFilter(),
		forward:    make(chan forwardItem, cfg.ForwardQueue),
		finish:     make(chan struct{}),
	}
}

// SessionID identifies this pipeline in logs and results
func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// Start launches the poll and forwarder goroutines. It runs until ctx is
// cancelled or Finish is called.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	logging.LogAudioSegment(p.sessionID, "started", zap.Duration("poll_interval", p.cfg.PollInterval))
	p.wg.Add(2)
	go p.pollLoop(ctx)
	go p.forwardLoop(ctx)
}

// Finish marks the end of input: the segmenter is flushed, queued utterances
// are forwarded and both goroutines exit
func (p *Pipeline) Finish() {
	p.once.Do(func() { close(p.finish) })
}

// Wait blocks until both goroutines have exited
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Stats returns forwarded, filtered and dropped utterance counts
func (p *Pipeline) Stats() (forwarded, filtered, dropped int64) {
	return p.counter.Load(), p.filtered.Load(), p.dropped.Load()
}

func (p *Pipeline) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.forward)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.finish:
			p.process(ctx, p.segmenter.Flush())
			logging.LogAudioSegment(p.sessionID, "finished")
			return
		case <-ticker.C:
			p.process(ctx, p.segmenter.Drain())
		}
	}
}

func (p *Pipeline) process(ctx context.Context, segments []audio.Segment) {
	for _, seg := range segments {
		if ctx.Err() != nil {
			return
		}

		logging.LogAudioSegment(p.sessionID, "segment",
			zap.Duration("started_at", seg.StartedAt),
			zap.Duration("duration", seg.Duration()),
			zap.Bool("forced", seg.Forced),
		)

		utterances, err := p.engine.Transcribe(ctx, seg.Samples)
		if err != nil {
			logging.LogWarn("⚠️ Transcription failed, skipping segment",
				zap.String("component", "audio_pipeline"),
				zap.String("session_id", p.sessionID),
				zap.Error(err),
			)
			continue
		}

		for _, u := range utterances {
			if ok, reason := p.filter.Accept(u); !ok {
				p.filtered.Add(1)
				logging.LogAudioSegment(p.sessionID, "filtered", zap.String("reason", string(reason)))
				continue
			}
			p.enqueue(forwardItem{text: strings.TrimSpace(u.Text), startedAt: seg.StartedAt})
		}
	}
}

// enqueue never blocks: when the forwarder lags the oldest utterance is dropped
func (p *Pipeline) enqueue(item forwardItem) {
	for {
		select {
		case p.forward <- item:
			return
		default:
		}
		select {
		case <-p.forward:
			p.dropped.Add(1)
			logging.LogAudioSegment(p.sessionID, "dropped")
		default:
		}
	}
}

func (p *Pipeline) forwardLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.forward:
			if !ok {
				return
			}
			p.forwardOne(ctx, item)
		}
	}
}

func (p *Pipeline) forwardOne(ctx context.Context, item forwardItem) {
	id := fmt.Sprintf("utt_%d", p.counter.Add(1))
	req := &translation.Request{
		TextBlocks:     []translation.TextBlock{{ID: id, Text: item.text}},
		SourceLanguage: p.cfg.SourceLanguage,
		TargetLanguage: p.cfg.TargetLanguage,
	}

	result, err := p.translator.Translate(ctx, req, p.cfg.Prompt)
	if err != nil {
		logging.LogWarn("⚠️ Utterance translation failed",
			zap.String("component", "audio_pipeline"),
			zap.String("session_id", p.sessionID),
			zap.String("utterance_id", id),
			zap.Error(err),
		)
	}

	p.handler(ctx, Output{
		SessionID:   p.sessionID,
		UtteranceID: id,
		Text:        item.text,
		StartedAt:   item.startedAt,
		Result:      result,
		Err:         err,
	})
}
