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

package audio

import (
	"fmt"
	"sync"
	"time"
)

// SegmenterConfig controls the energy VAD
type SegmenterConfig struct {
	SampleRate      int           `mapstructure:"sample_rate"`
	FrameDuration   time.Duration `mapstructure:"frame_duration"`
	Threshold       float64       `mapstructure:"threshold"`
	SilenceDuration time.Duration `mapstructure:"silence_duration"`
	MaxSegment      time.Duration `mapstructure:"max_segment"`
}

// DefaultSegmenterConfig returns 20ms frames, a 0.01 peak threshold, 200ms of
// trailing silence and a 5s cap
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SampleRate:      SampleRate,
		FrameDuration:   20 * time.Millisecond,
		Threshold:       0.01,
		SilenceDuration: 200 * time.Millisecond,
		MaxSegment:      5 * time.Second,
	}
}

// Validate checks the configuration
func (c SegmenterConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.samples(c.FrameDuration) <= 0 {
		return fmt.Errorf("frame duration %s is shorter than one sample", c.FrameDuration)
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("threshold must be in (0, 1), got %v", c.Threshold)
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("silence duration must be positive, got %s", c.SilenceDuration)
	}
	if c.MaxSegment < c.FrameDuration {
		return fmt.Errorf("max segment %s is shorter than one frame", c.MaxSegment)
	}
	return nil
}

func (c SegmenterConfig) samples(d time.Duration) int {
	return int(int64(d) * int64(c.SampleRate) / int64(time.Second))
}

// Segment is one bounded stretch of voiced audio
type Segment struct {
	Samples         []int16
	StartedAt       time.Duration
	VoiceFrameCount int
	Forced          bool
}

// Duration is the length of the segment at SampleRate
func (s Segment) Duration() time.Duration {
	return time.Duration(len(s.Samples)) * time.Second / SampleRate
}

// Segmenter splits a mono PCM stream into utterance-sized segments.
// Write may be called from the capture goroutine while another goroutine drains.
type Segmenter struct {
	mu  sync.Mutex
	cfg SegmenterConfig

	frameSize   int
	silenceSize int
	maxSize     int

	pending []int16
	offset  int64

	voiced       bool
	current      []int16
	startSample  int64
	lastVoiceEnd int
	silentRun    int
	voiceFrames  int
}

// NewSegmenter creates a segmenter
func NewSegmenter(cfg SegmenterConfig) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid segmenter config: %w", err)
	}
	return &Segmenter{
		cfg:         cfg,
		frameSize:   cfg.samples(cfg.FrameDuration),
		silenceSize: cfg.samples(cfg.SilenceDuration),
		maxSize:     cfg.samples(cfg.MaxSegment),
	}, nil
}

// Write appends captured samples
func (s *Segmenter) Write(samples []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, samples...)
}

// Drain runs all complete pending frames through the detector and returns the
// segments that closed
func (s *Segmenter) Drain() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainLocked(false)
}

// Flush processes everything pending, including a partial frame, and closes the
// segment in progress
func (s *Segmenter) Flush() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.drainLocked(true)
	if s.voiced && s.lastVoiceEnd > 0 {
		out = append(out, s.emit(s.lastVoiceEnd, false))
	}
	s.reset()
	return out
}

// Pending reports how many samples are waiting for a full frame
func (s *Segmenter) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Segmenter) drainLocked(partial bool) []Segment {
	var out []Segment

	i := 0
	for ; i+s.frameSize <= len(s.pending); i += s.frameSize {
		out = s.processFrame(s.pending[i:i+s.frameSize], out)
	}
	if partial && i < len(s.pending) {
		out = s.processFrame(s.pending[i:], out)
		i = len(s.pending)
	}

	s.pending = append(s.pending[:0], s.pending[i:]...)
	return out
}

func (s *Segmenter) processFrame(frame []int16, out []Segment) []Segment {
	isVoice := PeakAmplitude(frame) > s.cfg.Threshold
	frameStart := s.offset
	s.offset += int64(len(frame))

	if !s.voiced {
		if !isVoice {
			return out
		}
		s.voiced = true
		s.startSample = frameStart
	}

	if isVoice {
		s.voiceFrames++
		s.silentRun = 0
	}

	for len(frame) > 0 {
		take := len(frame)
		if room := s.maxSize - len(s.current); take > room {
			take = room
		}
		s.current = append(s.current, frame[:take]...)
		if isVoice {
			s.lastVoiceEnd = len(s.current)
		}
		frame = frame[take:]

		if len(s.current) >= s.maxSize {
			out = append(out, s.emit(len(s.current), true))
			s.startSample += int64(s.maxSize)
			s.current = nil
			s.lastVoiceEnd = 0
			s.voiceFrames = 0
			if len(frame) > 0 && isVoice {
				s.voiceFrames = 1
			}
		}
	}

	if isVoice {
		return out
	}

	s.silentRun += int(s.offset - frameStart)
	if s.silentRun >= s.silenceSize {
		if s.lastVoiceEnd > 0 {
			out = append(out, s.emit(s.lastVoiceEnd, false))
		}
		s.reset()
	}
	return out
}

func (s *Segmenter) emit(end int, forced bool) Segment {
	samples := make([]int16, end)
	copy(samples, s.current[:end])
	return Segment{
		Samples:         samples,
		StartedAt:       time.Duration(s.startSample) * time.Second / time.Duration(s.cfg.SampleRate),
		VoiceFrameCount: s.voiceFrames,
		Forced:          forced,
	}
}

func (s *Segmenter) reset() {
	s.voiced = false
	s.current = nil
	s.lastVoiceEnd = 0
	s.silentRun = 0
	s.voiceFrames = 0
}
