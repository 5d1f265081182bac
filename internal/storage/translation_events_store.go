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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/events"
	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

// ErrEventNotFound is returned when no event has the requested UUID
var ErrEventNotFound = errors.New("translation event not found")

// ErrInvalidListOptions is returned for unsupported sort fields or orders
var ErrInvalidListOptions = errors.New("invalid list options")

const eventColumns = `uuid, request_id, provider, model, timestamp,
	success, category, http_status, blocks, translations,
	retry_count, latency_ms, error_message`

// sortColumns maps accepted SortBy values to columns
var sortColumns = map[string]string{
	"":          "timestamp",
	"timestamp": "timestamp",
	"latency":   "latency_ms",
	"provider":  "provider",
}

// TranslationEventsStore handles database operations for translation history.
// It implements translation.HistoryRecorder.
type TranslationEventsStore struct {
	db *Database
}

// NewTranslationEventsStore creates a new translation events store
func NewTranslationEventsStore(db *Database) *TranslationEventsStore {
	return &TranslationEventsStore{db: db}
}

// RecordAttempt stores one orchestrator attempt
func (s *TranslationEventsStore) RecordAttempt(ctx context.Context, attempt translation.Attempt) error {
	return s.Insert(ctx, events.NewTranslationEvent(attempt))
}

// Insert stores a new translation event
func (s *TranslationEventsStore) Insert(ctx context.Context, event *events.TranslationEvent) error {
	if err := event.IsValid(); err != nil {
		return fmt.Errorf("invalid translation event: %w", err)
	}

	query := `
		INSERT INTO translation_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB().ExecContext(ctx, query,
		event.UUID, event.RequestID, event.Provider, event.Model, event.Timestamp.UnixMilli(),
		event.Success, event.Category, event.HTTPStatus, event.Blocks, event.Translations,
		event.RetryCount, event.LatencyMS, event.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert translation event: %w", err)
	}

	logging.LogDatabaseOperation("insert", "translation_events",
		zap.String("uuid", event.UUID),
		zap.String("provider", event.Provider),
		zap.Bool("success", event.Success),
	)
	return nil
}

// GetByUUID retrieves an event by its UUID
func (s *TranslationEventsStore) GetByUUID(ctx context.Context, id string) (*events.TranslationEvent, error) {
	row := s.db.DB().QueryRowContext(ctx, "SELECT "+eventColumns+" FROM translation_events WHERE uuid = ?", id)
	return scanTranslationEvent(row)
}

// ListOptions defines filtering and pagination options
type ListOptions struct {
	// Filtering
	Provider  string
	RequestID string
	Success   *bool // nil = all, true = success only, false = failures only
	StartTime *time.Time
	EndTime   *time.Time

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // "timestamp", "latency", "provider"
	SortOrder string // "ASC", "DESC"
}

// List retrieves events with pagination and filtering
func (s *TranslationEventsStore) List(ctx context.Context, options ListOptions) ([]*events.TranslationEvent, error) {
	query, args, err := buildListQuery(options)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query translation events: %w", err)
	}
	defer rows.Close()

	var list []*events.TranslationEvent
	for rows.Next() {
		event, err := scanTranslationEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan translation event: %w", err)
		}
		list = append(list, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating translation events: %w", err)
	}

	return list, nil
}

// Count returns the number of events matching the filter
func (s *TranslationEventsStore) Count(ctx context.Context, options ListOptions) (int64, error) {
	options.Limit = 0
	options.Offset = 0
	query, args, err := buildListQuery(options)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := s.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+query+") AS filtered", args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count translation events: %w", err)
	}
	return count, nil
}

// Prune deletes events older than cutoff and returns how many were removed
func (s *TranslationEventsStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.DB().ExecContext(ctx, "DELETE FROM translation_events WHERE timestamp < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune translation events: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	logging.LogDatabaseOperation("prune", "translation_events", zap.Int64("removed", removed))
	return removed, nil
}

func buildListQuery(options ListOptions) (string, []interface{}, error) {
	query := "SELECT " + eventColumns + " FROM translation_events WHERE 1=1"
	var args []interface{}

	if options.Provider != "" {
		query += " AND provider = ?"
		args = append(args, options.Provider)
	}
	if options.RequestID != "" {
		query += " AND request_id = ?"
		args = append(args, options.RequestID)
	}
	if options.Success != nil {
		query += " AND success = ?"
		args = append(args, *options.Success)
	}
	if options.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, options.StartTime.UnixMilli())
	}
	if options.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, options.EndTime.UnixMilli())
	}

	column, ok := sortColumns[strings.ToLower(options.SortBy)]
	if !ok {
		return "", nil, fmt.Errorf("%w: unsupported sort field %q", ErrInvalidListOptions, options.SortBy)
	}
	order := strings.ToUpper(options.SortOrder)
	switch order {
	case "":
		order = "DESC"
	case "ASC", "DESC":
	default:
		return "", nil, fmt.Errorf("%w: unsupported sort order %q", ErrInvalidListOptions, options.SortOrder)
	}
	query += fmt.Sprintf(" ORDER BY %s %s, uuid %s", column, order, order)

	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)

		if options.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, options.Offset)
		}
	}

	return query, args, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTranslationEvent(row rowScanner) (*events.TranslationEvent, error) {
	var event events.TranslationEvent
	var ts int64

	err := row.Scan(
		&event.UUID, &event.RequestID, &event.Provider, &event.Model, &ts,
		&event.Success, &event.Category, &event.HTTPStatus, &event.Blocks, &event.Translations,
		&event.RetryCount, &event.LatencyMS, &event.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	event.Timestamp = time.UnixMilli(ts)
	return &event, nil
}
