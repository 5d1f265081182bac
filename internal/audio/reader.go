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
	"io"
	"time"
)

// ChunkDuration is how much audio ReadPCM pushes at a time
const ChunkDuration = 100 * time.Millisecond

// ReadPCM reads interleaved s16le PCM from r, downmixes it to mono and pushes
// ChunkDuration-sized chunks into q. It returns nil at EOF.
func ReadPCM(ctx context.Context, r io.Reader, channels int, q *ChunkQueue) error {
	if channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", channels)
	}

	frameBytes := 2 * channels
	buf := make([]byte, int(ChunkDuration*SampleRate/time.Second)*frameBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			usable := n - n%frameBytes
			chunk := DownmixToMono(BytesToInt16(buf[:usable]), channels)
			if len(chunk) > 0 {
				if perr := q.Push(ctx, chunk); perr != nil {
					return perr
				}
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("failed to read PCM: %w", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
