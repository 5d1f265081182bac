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

package keys

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryPersister struct {
	mu    sync.Mutex
	saved map[string]Selection
	err   error
}

func newMemoryPersister() *memoryPersister {
	return &memoryPersister{saved: make(map[string]Selection)}
}

func (p *memoryPersister) LoadSelections(ctx context.Context) ([]Selection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := make([]Selection, 0, len(p.saved))
	for _, sel := range p.saved {
		out = append(out, sel)
	}
	return out, nil
}

func (p *memoryPersister) SaveSelection(ctx context.Context, sel Selection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved[sel.Service] = sel
	return p.err
}

func TestGetNextKey(t *testing.T) {
	store := NewStore(nil)
	store.SetKeys("gemini", []string{"A", "B", "C"})
	store.SetKeys("solo", []string{"only"})
	store.SetKeys("empty", nil)

	tests := []struct {
		name      string
		service   string
		failed    string
		expected  string
		available bool
	}{
		{name: "Advance from first", service: "gemini", failed: "A", expected: "B", available: true},
		{name: "Advance from middle", service: "gemini", failed: "B", expected: "C", available: true},
		{name: "Wrap from last", service: "gemini", failed: "C", expected: "A", available: true},
		{name: "Unknown failed key starts over", service: "gemini", failed: "Z", expected: "A", available: true},
		{name: "Single key has nothing to rotate to", service: "solo", failed: "only", available: false},
		{name: "Empty list", service: "empty", failed: "", available: false},
		{name: "Unknown service", service: "nope", failed: "A", available: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := store.GetNextKey(tt.service, tt.failed)
			if ok != tt.available {
				t.Fatalf("GetNextKey(%q, %q) ok = %v, want %v", tt.service, tt.failed, ok, tt.available)
			}
			if next != tt.expected {
				t.Errorf("GetNextKey(%q, %q) = %q, want %q", tt.service, tt.failed, next, tt.expected)
			}
		})
	}
}

func TestSetKeysKeepsCurrentWhenPresent(t *testing.T) {
	store := NewStore(nil)
	store.SetKeys("groq", []string{"A", "B", " ", "B", "C"})
	assert.Equal(t, []string{"A", "B", "C"}, store.Keys("groq"))

	require.NoError(t, store.SetCurrentKey(context.Background(), "groq", "C"))
	store.SetKeys("groq", []string{"C", "D"})
	assert.Equal(t, "C", store.GetCurrentKey("groq"))

	store.SetKeys("groq", []string{"E"})
	assert.Equal(t, "E", store.GetCurrentKey("groq"))
}

func TestSetCurrentKeyUnknown(t *testing.T) {
	store := NewStore(nil)
	store.SetKeys("mistral", []string{"A"})

	err := store.SetCurrentKey(context.Background(), "mistral", "B")
	assert.True(t, errors.Is(err, ErrUnknownKey))

	err = store.SetCurrentKey(context.Background(), "nope", "A")
	assert.True(t, errors.Is(err, ErrUnknownKey))
}

func TestRotatePersistsSelection(t *testing.T) {
	persister := newMemoryPersister()
	store := NewStore(persister)
	store.SetKeys("chatgpt", []string{"A", "B", "C"})

	next, ok := store.Rotate(context.Background(), "chatgpt", "A")
	require.True(t, ok)
	assert.Equal(t, "B", next)
	assert.Equal(t, "B", store.GetCurrentKey("chatgpt"))

	saved := persister.saved["chatgpt"]
	assert.Equal(t, 1, saved.Index)
	assert.Equal(t, Fingerprint("B"), saved.Fingerprint)
}

func TestRotateSingleKey(t *testing.T) {
	store := NewStore(nil)
	store.SetKeys("gemini", []string{"A"})

	_, ok := store.Rotate(context.Background(), "gemini", "A")
	assert.False(t, ok)
	assert.Equal(t, "A", store.GetCurrentKey("gemini"))
}

func TestConcurrentRotationAdvancesOnce(t *testing.T) {
	store := NewStore(nil)
	store.SetKeys("gemini", []string{"A", "B", "C"})

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next, ok := store.Rotate(context.Background(), "gemini", "A")
			if ok {
				results[i] = next
			}
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "B", r)
	}
	assert.Equal(t, "B", store.GetCurrentKey("gemini"))
}

func TestLoadRestoresSelection(t *testing.T) {
	persister := newMemoryPersister()
	persister.saved["gemini"] = Selection{Service: "gemini", Index: 0, Fingerprint: Fingerprint("C")}
	persister.saved["gone"] = Selection{Service: "gone", Fingerprint: Fingerprint("X")}

	store := NewStore(persister)
	store.SetKeys("gemini", []string{"A", "B", "C"})
	require.NoError(t, store.Load(context.Background()))

	assert.Equal(t, "C", store.GetCurrentKey("gemini"))
	assert.Equal(t, []string{"gemini"}, store.Services())
}

func TestLoadError(t *testing.T) {
	persister := newMemoryPersister()
	persister.err = errors.New("disk gone")

	store := NewStore(persister)
	assert.Error(t, store.Load(context.Background()))
}

func TestParseKeyList(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{input: "", expected: nil},
		{input: "single", expected: []string{"single"}},
		{input: "a+++b+++c", expected: []string{"a", "b", "c"}},
		{input: " a +++ +++b ", expected: []string{"a", "b"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseKeyList(tt.input), "input %q", tt.input)
	}
}

func TestSnapshot(t *testing.T) {
	store := NewStore(nil)
	store.SetKeys("b", []string{"1", "2"})
	store.SetKeys("a", []string{"3"})

	creds := store.Snapshot()
	require.Len(t, creds, 2)
	assert.Equal(t, "a", creds[0].Service)
	assert.Equal(t, "3", creds[0].Current)
	assert.Equal(t, "1", creds[1].Current)
}

func TestFindBySuffix(t *testing.T) {
	store := NewStore(nil)
	store.SetKeys("groq", []string{"gsk-aaaa1111", "gsk-bbbb2222", "gsk-cccc2222"})

	key, err := store.FindBySuffix("groq", "1111")
	require.NoError(t, err)
	assert.Equal(t, "gsk-aaaa1111", key)

	_, err = store.FindBySuffix("groq", "2222")
	assert.ErrorIs(t, err, ErrAmbiguousKey)

	_, err = store.FindBySuffix("groq", "9999")
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = store.FindBySuffix("mistral", "1111")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

// stallingPersister holds the first save until release is closed
type stallingPersister struct {
	memoryPersister
	once    sync.Once
	saving  chan struct{}
	release chan struct{}
}

func (p *stallingPersister) SaveSelection(ctx context.Context, sel Selection) error {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.saving)
		<-p.release
	}
	return p.memoryPersister.SaveSelection(ctx, sel)
}

func TestRotate_PersistsInRotationOrder(t *testing.T) {
	persister := &stallingPersister{
		memoryPersister: memoryPersister{saved: make(map[string]Selection)},
		saving:          make(chan struct{}),
		release:         make(chan struct{}),
	}
	store := NewStore(persister)
	store.SetKeys("groq", []string{"A", "B", "C"})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		store.Rotate(context.Background(), "groq", "A")
	}()
	<-persister.saving

	go func() {
		defer wg.Done()
		store.Rotate(context.Background(), "groq", "B")
	}()

	close(persister.release)
	wg.Wait()

	current := store.GetCurrentKey("groq")
	persister.mu.Lock()
	saved := persister.saved["groq"]
	persister.mu.Unlock()
	assert.Equal(t, Fingerprint(current), saved.Fingerprint)
}
