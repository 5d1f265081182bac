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
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/keys"
	"github.com/loqalabs/loqa-translate/internal/logging"
)

// CredentialsStore persists which key is current for each provider.
// It implements keys.Persister.
type CredentialsStore struct {
	db *Database
}

// NewCredentialsStore creates a new credentials store
func NewCredentialsStore(db *Database) *CredentialsStore {
	return &CredentialsStore{db: db}
}

// SaveSelection upserts the selection for one service
func (s *CredentialsStore) SaveSelection(ctx context.Context, selection keys.Selection) error {
	updated := selection.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	query := `
		INSERT INTO credentials (service, current_index, fingerprint, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			current_index = excluded.current_index,
			fingerprint = excluded.fingerprint,
			updated_at = excluded.updated_at`

	_, err := s.db.DB().ExecContext(ctx, query,
		selection.Service, selection.Index, selection.Fingerprint, updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save key selection for %s: %w", selection.Service, err)
	}

	logging.LogDatabaseOperation("upsert", "credentials",
		zap.String("service", selection.Service),
		zap.Int("index", selection.Index),
	)
	return nil
}

// LoadSelections returns every stored selection ordered by service
func (s *CredentialsStore) LoadSelections(ctx context.Context) ([]keys.Selection, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT service, current_index, fingerprint, updated_at
		FROM credentials
		ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("failed to query key selections: %w", err)
	}
	defer rows.Close()

	var selections []keys.Selection
	for rows.Next() {
		var sel keys.Selection
		var updated int64
		if err := rows.Scan(&sel.Service, &sel.Index, &sel.Fingerprint, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan key selection: %w", err)
		}
		sel.UpdatedAt = time.UnixMilli(updated)
		selections = append(selections, sel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating key selections: %w", err)
	}

	return selections, nil
}

// Delete forgets the selection for a service
func (s *CredentialsStore) Delete(ctx context.Context, service string) error {
	if _, err := s.db.DB().ExecContext(ctx, "DELETE FROM credentials WHERE service = ?", service); err != nil {
		return fmt.Errorf("failed to delete key selection for %s: %w", service, err)
	}
	return nil
}
