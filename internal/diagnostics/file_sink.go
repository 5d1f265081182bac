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

package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/security"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

// File names inside the diagnostics directory
const (
	RepliesLogName  = "llm_replies.log"
	lastErrorSuffix = "_last_error.txt"
	timeLayout      = "2006-01-02 15:04:05"
)

// FileSink keeps an append-only log of raw provider replies and one
// last-error file per provider
type FileSink struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewFileSink creates dir if needed
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create diagnostics directory: %w", err)
	}
	return &FileSink{dir: dir, now: time.Now}, nil
}

// Dir is the directory the sink writes to
func (s *FileSink) Dir() string {
	return s.dir
}

// AuditReply appends a raw reply to llm_replies.log. Write errors are logged, not returned.
func (s *FileSink) AuditReply(provider, body string) {
	entry := fmt.Sprintf("[%s] %s\n%s\n\n", s.now().Format(timeLayout), provider, body)

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, RepliesLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logging.LogError(err, "Failed to open reply audit log", zap.String("component", "diagnostics"))
		return
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		logging.LogError(err, "Failed to write reply audit log", zap.String("component", "diagnostics"))
	}
}

// RecordFailure overwrites <provider>_last_error.txt with the failure details
func (s *FileSink) RecordFailure(ctx context.Context, record translation.FailureRecord) error {
	path, err := s.lastErrorPath(record.Provider)
	if err != nil {
		return err
	}

	when := record.Time
	if when.IsZero() {
		when = s.now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "time: %s\n", when.Format(timeLayout))
	fmt.Fprintf(&b, "provider: %s\n", record.Provider)
	fmt.Fprintf(&b, "request_id: %s\n", record.RequestID)
	fmt.Fprintf(&b, "category: %s\n", record.Category)
	if record.HTTPStatus != 0 {
		fmt.Fprintf(&b, "http_status: %d\n", record.HTTPStatus)
	}
	fmt.Fprintf(&b, "consecutive_failures: %d\n", record.ConsecutiveFailures)
	fmt.Fprintf(&b, "error: %s\n", record.Error)
	if record.RawBody != "" {
		fmt.Fprintf(&b, "\n%s\n", record.RawBody)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write last error for %s: %w", record.Provider, err)
	}
	return nil
}

// LastError returns the contents of a provider's last-error file
func (s *FileSink) LastError(provider string) (string, error) {
	path, err := s.lastErrorPath(provider)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *FileSink) lastErrorPath(provider string) (string, error) {
	if err := security.ValidateServiceName(provider); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, provider+lastErrorSuffix), nil
}
