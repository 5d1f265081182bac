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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-translate/internal/audio"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

type scriptedEngine struct {
	mu      sync.Mutex
	replies [][]Utterance
	errs    []error
	calls   int
}

func (e *scriptedEngine) Transcribe(ctx context.Context, samples []int16) ([]Utterance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.calls
	e.calls++
	if i < len(e.errs) && e.errs[i] != nil {
		return nil, e.errs[i]
	}
	if i < len(e.replies) {
		return e.replies[i], nil
	}
	return nil, nil
}

func (e *scriptedEngine) Close() error { return nil }

type echoTranslator struct {
	mu       sync.Mutex
	requests []*translation.Request
	prompts  []string
}

func (e *echoTranslator) Translate(ctx context.Context, req *translation.Request, prompt string) (*translation.Result, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.prompts = append(e.prompts, prompt)
	e.mu.Unlock()

	block := req.TextBlocks[0]
	return &translation.Result{Translations: []translation.Translation{
		{ID: block.ID, OriginalText: block.Text, TranslatedText: "<" + block.Text + ">"},
	}}, nil
}

type outputCollector struct {
	mu      sync.Mutex
	outputs []Output
}

func (c *outputCollector) handle(ctx context.Context, out Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = append(c.outputs, out)
}

func (c *outputCollector) all() []Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Output(nil), c.outputs...)
}

func pcm(voiced bool, d time.Duration) []int16 {
	samples := make([]int16, int(d*audio.SampleRate/time.Second))
	if voiced {
		for i := range samples {
			samples[i] = 8000
		}
	}
	return samples
}

func twoUtterances() []int16 {
	var out []int16
	out = append(out, pcm(false, 100*time.Millisecond)...)
	out = append(out, pcm(true, 300*time.Millisecond)...)
	out = append(out, pcm(false, 300*time.Millisecond)...)
	out = append(out, pcm(true, 500*time.Millisecond)...)
	out = append(out, pcm(false, 300*time.Millisecond)...)
	return out
}

func runPipeline(t *testing.T, engine Engine, translator Translator, cfg PipelineConfig) *outputCollector {
	t.Helper()

	seg, err := audio.NewSegmenter(audio.DefaultSegmenterConfig())
	require.NoError(t, err)
	seg.Write(twoUtterances())

	collector := &outputCollector{}
	p := NewPipeline(cfg, seg, engine, translator, collector.handle)
	p.Start(context.Background())
	p.Finish()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after Finish")
	}
	return collector
}

func TestPipeline_ForwardsEachUtterance(t *testing.T) {
	engine := &scriptedEngine{replies: [][]Utterance{
		{{Text: " Good morning "}},
		{{Text: "Where is the station"}},
	}}
	translator := &echoTranslator{}
	cfg := PipelineConfig{SourceLanguage: "english", TargetLanguage: "japanese", Prompt: "Translate"}

	outputs := runPipeline(t, engine, translator, cfg).all()

	require.Len(t, outputs, 2)
	assert.Equal(t, "utt_1", outputs[0].UtteranceID)
	assert.Equal(t, "Good morning", outputs[0].Text)
	assert.Equal(t, 100*time.Millisecond, outputs[0].StartedAt)
	assert.Equal(t, "<Good morning>", outputs[0].Result.Translations[0].TranslatedText)
	assert.Equal(t, "utt_2", outputs[1].UtteranceID)
	assert.Equal(t, 700*time.Millisecond, outputs[1].StartedAt)

	require.Len(t, translator.requests, 2)
	assert.Equal(t, "english", translator.requests[0].SourceLanguage)
	assert.Equal(t, "japanese", translator.requests[0].TargetLanguage)
	assert.Equal(t, []string{"Translate", "Translate"}, translator.prompts)
	assert.Equal(t, outputs[0].SessionID, outputs[1].SessionID)
}

func TestPipeline_FiltersBeforeForwarding(t *testing.T) {
	engine := &scriptedEngine{replies: [][]Utterance{
		{{Text: "[BLANK_AUDIO]"}, {Text: "go go go go go home"}, {Text: "Hello there"}},
		{{Text: "hello there."}, {Text: "hmm", IsNoise: true}},
	}}

	outputs := runPipeline(t, engine, &echoTranslator{}, PipelineConfig{}).all()

	require.Len(t, outputs, 1)
	assert.Equal(t, "Hello there", outputs[0].Text)
}

func TestPipeline_EngineErrorSkipsSegment(t *testing.T) {
	engine := &scriptedEngine{
		errs:    []error{errors.New("decoder failed")},
		replies: [][]Utterance{nil, {{Text: "second segment"}}},
	}

	outputs := runPipeline(t, engine, &echoTranslator{}, PipelineConfig{}).all()

	require.Len(t, outputs, 1)
	assert.Equal(t, "second segment", outputs[0].Text)
	assert.Equal(t, "utt_1", outputs[0].UtteranceID)
}

type failingTranslator struct{}

func (failingTranslator) Translate(ctx context.Context, req *translation.Request, prompt string) (*translation.Result, error) {
	return nil, &translation.TranslationError{RequestID: "r", Provider: "groq", Surfaced: true}
}

func TestPipeline_TranslationErrorReachesHandler(t *testing.T) {
	engine := &scriptedEngine{replies: [][]Utterance{{{Text: "first words here"}}}}

	outputs := runPipeline(t, engine, failingTranslator{}, PipelineConfig{}).all()

	require.Len(t, outputs, 1)
	assert.Nil(t, outputs[0].Result)
	var terr *translation.TranslationError
	assert.True(t, errors.As(outputs[0].Err, &terr))
}

func TestPipeline_StopsOnCancel(t *testing.T) {
	seg, err := audio.NewSegmenter(audio.DefaultSegmenterConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPipeline(PipelineConfig{PollInterval: 10 * time.Millisecond}, seg, &scriptedEngine{}, &echoTranslator{}, nil)
	p.Start(ctx)
	p.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop on cancel")
	}
}

func TestPipeline_DropsOldestWhenForwarderLags(t *testing.T) {
	seg, err := audio.NewSegmenter(audio.DefaultSegmenterConfig())
	require.NoError(t, err)

	p := NewPipeline(PipelineConfig{ForwardQueue: 2}, seg, &scriptedEngine{}, &echoTranslator{}, nil)
	for _, text := range []string{"one", "two", "three", "four"} {
		p.enqueue(forwardItem{text: text})
	}

	_, _, dropped := p.Stats()
	assert.Equal(t, int64(2), dropped)
	assert.Equal(t, "three", (<-p.forward).text)
	assert.Equal(t, "four", (<-p.forward).text)
}
