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

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/security"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

// LogNotifier reports surfaced failures through the application log
type LogNotifier struct{}

// NotifyFailure implements translation.Notifier
func (LogNotifier) NotifyFailure(ctx context.Context, record translation.FailureRecord) {
	logging.L().Error("🚨 Translation provider keeps failing",
		zap.String("component", "diagnostics"),
		zap.String("provider", record.Provider),
		zap.String("request_id", record.RequestID),
		zap.String("category", string(record.Category)),
		zap.Int("http_status", record.HTTPStatus),
		zap.Int("consecutive_failures", record.ConsecutiveFailures),
		zap.String("error", security.SanitizeLogInput(record.Error)),
		zap.String("body", security.SanitizeLogInput(clip(record.RawBody, maxLoggedBody))),
	)
}

const maxLoggedBody = 512

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Notifiers fans a failure out to every notifier in order
type Notifiers []translation.Notifier

// NotifyFailure implements translation.Notifier
func (n Notifiers) NotifyFailure(ctx context.Context, record translation.FailureRecord) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.NotifyFailure(ctx, record)
		}
	}
}
