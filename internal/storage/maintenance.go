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

package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/logging"
)

// DefaultMaintenanceInterval is how often Maintenance.Run prunes and checkpoints
const DefaultMaintenanceInterval = time.Hour

// Maintenance prunes translation history older than Retention and checkpoints
// the WAL. A zero Retention keeps history forever.
type Maintenance struct {
	DB        *Database
	Events    *TranslationEventsStore
	Retention time.Duration
	Interval  time.Duration

	now func() time.Time
}

// RunOnce prunes, vacuums when rows were removed, and checkpoints
func (m *Maintenance) RunOnce(ctx context.Context) error {
	now := time.Now
	if m.now != nil {
		now = m.now
	}

	var removed int64
	if m.Retention > 0 && m.Events != nil {
		n, err := m.Events.Prune(ctx, now().Add(-m.Retention))
		if err != nil {
			return err
		}
		removed = n
	}
	if removed > 0 {
		if err := m.DB.Vacuum(ctx); err != nil {
			return err
		}
	}
	if err := m.DB.Checkpoint(ctx); err != nil {
		return err
	}

	counts, err := m.DB.Counts(ctx)
	if err != nil {
		return err
	}
	logging.LogDatabaseOperation("maintenance", "translation_events",
		zap.Int64("pruned", removed),
		zap.Int64("remaining", counts["translation_events"]))
	return nil
}

// Run calls RunOnce immediately and then every Interval until ctx is done
func (m *Maintenance) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}

	if err := m.RunOnce(ctx); err != nil {
		logging.LogError(err, "Database maintenance failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil {
				logging.LogError(err, "Database maintenance failed")
			}
		}
	}
}
