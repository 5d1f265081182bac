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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/security"
)

// KeySeparator joins multiple keys in a single configuration value
const KeySeparator = "+++"

// ErrUnknownKey is returned when selecting a key that is not configured for the service
var ErrUnknownKey = errors.New("key is not configured for service")

// ErrAmbiguousKey is returned when a suffix matches more than one key
var ErrAmbiguousKey = errors.New("key suffix matches more than one key")

// Selection is the persisted "current key" pointer of a service.
// Only a fingerprint of the key is stored, never the key itself.
type Selection struct {
	Service     string
	Index       int
	Fingerprint string
	UpdatedAt   time.Time
}

// Persister stores current-key selections
type Persister interface {
	LoadSelections(ctx context.Context) ([]Selection, error)
	SaveSelection(ctx context.Context, selection Selection) error
}

// Credential is a read-only view of one service's keys
type Credential struct {
	Service string
	Keys    []string
	Current string
}

// Store keeps an ordered key list and a current key per service.
// Each service has its own lock, so rotation for one provider never blocks another.
type Store struct {
	mu        sync.RWMutex
	services  map[string]*serviceKeys
	persister Persister
}

type serviceKeys struct {
	mu      sync.Mutex
	keys    []string
	current int
}

// NewStore creates a store. persister may be nil for in-memory use.
func NewStore(persister Persister) *Store {
	return &Store{
		services:  make(map[string]*serviceKeys),
		persister: persister,
	}
}

// ParseKeyList splits a "+++"-joined key list, dropping blanks
func ParseKeyList(value string) []string {
	var keys []string
	for _, part := range strings.Split(value, KeySeparator) {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	return keys
}

// Fingerprint returns a short stable digest of a key
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// SetKeys replaces the key list of a service. The current key survives if it is
// still present; otherwise the first key becomes current.
func (s *Store) SetKeys(service string, keys []string) {
	cleaned := dedupe(keys)

	s.mu.Lock()
	state, ok := s.services[service]
	if !ok {
		state = &serviceKeys{}
		s.services[service] = state
	}
	s.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()

	previous := state.currentKey()
	state.keys = cleaned
	state.current = 0
	if idx := indexOf(cleaned, previous); idx >= 0 {
		state.current = idx
	}
}

// Keys returns a copy of the service's key list
func (s *Store) Keys(service string) []string {
	state := s.state(service)
	if state == nil {
		return nil
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return append([]string(nil), state.keys...)
}

// FindBySuffix resolves the single key of service ending with suffix
func (s *Store) FindBySuffix(service, suffix string) (string, error) {
	if suffix == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, service)
	}
	match := ""
	for _, key := range s.Keys(service) {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("%w: %s", ErrAmbiguousKey, service)
		}
		match = key
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, service)
	}
	return match, nil
}

// Services lists configured services in name order
func (s *Store) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns every service's credential view
func (s *Store) Snapshot() []Credential {
	creds := make([]Credential, 0)
	for _, service := range s.Services() {
		state := s.state(service)
		state.mu.Lock()
		creds = append(creds, Credential{
			Service: service,
			Keys:    append([]string(nil), state.keys...),
			Current: state.currentKey(),
		})
		state.mu.Unlock()
	}
	return creds
}

// GetCurrentKey returns the current key, or "" when none is configured
func (s *Store) GetCurrentKey(service string) string {
	state := s.state(service)
	if state == nil {
		return ""
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.currentKey()
}

// GetNextKey returns the key after failedKey, wrapping around. It reports false
// when the service has fewer than two keys.
func (s *Store) GetNextKey(service, failedKey string) (string, bool) {
	state := s.state(service)
	if state == nil {
		return "", false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return nextKey(state.keys, failedKey)
}

// SetCurrentKey selects key as current and persists the selection
func (s *Store) SetCurrentKey(ctx context.Context, service, key string) error {
	state := s.state(service)
	if state == nil {
		return fmt.Errorf("%w: %s", ErrUnknownKey, service)
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	idx := indexOf(state.keys, key)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownKey, service)
	}
	state.current = idx

	return s.persist(ctx, service, idx, key)
}

// Rotate advances away from failedKey under the service lock. If another caller
// already rotated away from failedKey, the current key is returned unchanged.
// The selection is persisted before the lock is released, so saves land in
// rotation order.
func (s *Store) Rotate(ctx context.Context, service, failedKey string) (string, bool) {
	state := s.state(service)
	if state == nil {
		return "", false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	current := state.currentKey()
	if current != "" && current != failedKey {
		return current, true
	}

	next, ok := nextKey(state.keys, failedKey)
	if !ok {
		return "", false
	}
	idx := indexOf(state.keys, next)
	state.current = idx

	logging.LogKeyRotation(service, security.MaskKey(failedKey), security.MaskKey(next),
		zap.Int("index", idx))

	if err := s.persist(ctx, service, idx, next); err != nil {
		logging.LogError(err, "Failed to persist key selection", zap.String("service", service))
	}
	return next, true
}

// Load restores persisted selections for services whose key lists are already set
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	selections, err := s.persister.LoadSelections(ctx)
	if err != nil {
		return fmt.Errorf("failed to load key selections: %w", err)
	}

	for _, sel := range selections {
		state := s.state(sel.Service)
		if state == nil {
			continue
		}
		state.mu.Lock()
		for i, key := range state.keys {
			if Fingerprint(key) == sel.Fingerprint {
				state.current = i
				break
			}
		}
		state.mu.Unlock()
	}
	return nil
}

func (s *Store) persist(ctx context.Context, service string, idx int, key string) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.SaveSelection(ctx, Selection{
		Service:     service,
		Index:       idx,
		Fingerprint: Fingerprint(key),
		UpdatedAt:   time.Now(),
	})
}

func (s *Store) state(service string) *serviceKeys {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services[service]
}

func (k *serviceKeys) currentKey() string {
	if len(k.keys) == 0 {
		return ""
	}
	if k.current < 0 || k.current >= len(k.keys) {
		k.current = 0
	}
	return k.keys[k.current]
}

func nextKey(keys []string, failedKey string) (string, bool) {
	if len(keys) < 2 {
		return "", false
	}
	idx := indexOf(keys, failedKey)
	return keys[(idx+1)%len(keys)], true
}

func indexOf(keys []string, key string) int {
	if key == "" {
		return -1
	}
	for i, k := range keys {
		if k == key {
			return i
		}
	}
	return -1
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
