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
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// OverflowPolicy decides what Push does when the queue is full
type OverflowPolicy int

const (
	// PolicyBlock makes the producer wait for room
	PolicyBlock OverflowPolicy = iota
	// PolicyDropOldest evicts the oldest chunk to make room
	PolicyDropOldest
)

// ErrQueueClosed is returned by Push after Close
var ErrQueueClosed = errors.New("chunk queue closed")

// ParseOverflowPolicy parses "block" or "drop-oldest"
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return PolicyBlock, nil
	case "drop-oldest", "drop_oldest":
		return PolicyDropOldest, nil
	default:
		return PolicyBlock, fmt.Errorf("unknown overflow policy %q", s)
	}
}

func (p OverflowPolicy) String() string {
	if p == PolicyDropOldest {
		return "drop-oldest"
	}
	return "block"
}

// ChunkQueue is a bounded queue of PCM chunks between capture and segmentation
type ChunkQueue struct {
	ch      chan []int16
	policy  OverflowPolicy
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// NewChunkQueue creates a queue holding at most capacity chunks
func NewChunkQueue(capacity int, policy OverflowPolicy) *ChunkQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChunkQueue{
		ch:     make(chan []int16, capacity),
		policy: policy,
		done:   make(chan struct{}),
	}
}

// Push enqueues a chunk according to the overflow policy
func (q *ChunkQueue) Push(ctx context.Context, chunk []int16) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	if q.policy == PolicyBlock {
		select {
		case q.ch <- chunk:
			return nil
		case <-q.done:
			return ErrQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case q.ch <- chunk:
			return nil
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop returns the next chunk. It reports false once the queue is closed and
// empty, or ctx is done.
func (q *ChunkQueue) Pop(ctx context.Context) ([]int16, bool) {
	select {
	case chunk := <-q.ch:
		return chunk, true
	default:
	}

	select {
	case chunk := <-q.ch:
		return chunk, true
	case <-q.done:
		select {
		case chunk := <-q.ch:
			return chunk, true
		default:
			return nil, false
		}
	case <-ctx.Done():
		return nil, false
	}
}

// Close stops producers. Buffered chunks can still be popped.
func (q *ChunkQueue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Dropped is the number of chunks evicted by PolicyDropOldest
func (q *ChunkQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Len is the number of buffered chunks
func (q *ChunkQueue) Len() int {
	return len(q.ch)
}

// Pump moves chunks from the queue into the segmenter until the queue is
// closed and empty or ctx is done
func Pump(ctx context.Context, q *ChunkQueue, seg *Segmenter) {
	for {
		chunk, ok := q.Pop(ctx)
		if !ok {
			return
		}
		seg.Write(chunk)
	}
}
