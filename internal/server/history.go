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

package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/loqa-translate/internal/events"
	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/storage"
)

// HistoryResponse represents the paginated history listing
type HistoryResponse struct {
	Events     []*events.TranslationEvent `json:"events"`
	Total      int64                      `json:"total"`
	Page       int                        `json:"page"`
	PageSize   int                        `json:"page_size"`
	TotalPages int                        `json:"total_pages"`
}

// handleListHistory handles GET /v1/history
func (s *Server) handleListHistory(c *gin.Context) {
	page := parseIntParam(c.Query("page"), 1)
	pageSize := parseIntParam(c.Query("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if page < 1 {
		page = 1
	}

	options := storage.ListOptions{
		Provider:  c.Query("provider"),
		RequestID: c.Query("request_id"),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
		SortBy:    c.Query("sort_by"),
		SortOrder: strings.ToUpper(c.Query("sort_order")),
	}

	if successStr := c.Query("success"); successStr != "" {
		if success, err := strconv.ParseBool(successStr); err == nil {
			options.Success = &success
		}
	}
	if startTimeStr := c.Query("start_time"); startTimeStr != "" {
		if startTime, err := time.Parse(time.RFC3339, startTimeStr); err == nil {
			options.StartTime = &startTime
		}
	}
	if endTimeStr := c.Query("end_time"); endTimeStr != "" {
		if endTime, err := time.Parse(time.RFC3339, endTimeStr); err == nil {
			options.EndTime = &endTime
		}
	}

	ctx := c.Request.Context()
	total, err := s.deps.History.Count(ctx, options)
	if err != nil {
		writeHistoryError(c, err, "Failed to count translation events")
		return
	}

	list, err := s.deps.History.List(ctx, options)
	if err != nil {
		writeHistoryError(c, err, "Failed to list translation events")
		return
	}
	if list == nil {
		list = []*events.TranslationEvent{}
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Events:     list,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	})
}

// handleGetHistory handles GET /v1/history/:uuid
func (s *Server) handleGetHistory(c *gin.Context) {
	event, err := s.deps.History.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if errors.Is(err, storage.ErrEventNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "translation event not found"})
		return
	}
	if err != nil {
		writeHistoryError(c, err, "Failed to get translation event")
		return
	}
	c.JSON(http.StatusOK, event)
}

func writeHistoryError(c *gin.Context, err error, message string) {
	if errors.Is(err, storage.ErrInvalidListOptions) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	logging.LogError(err, message)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// parseIntParam parses integer parameter with default value
func parseIntParam(param string, defaultValue int) int {
	if param == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(param); err == nil {
		return value
	}
	return defaultValue
}
