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
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-translate/internal/keys"
	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/security"
	"github.com/loqalabs/loqa-translate/internal/translation"
)

// ErrorResponse is the body of every non-2xx JSON reply
type ErrorResponse struct {
	Error     string `json:"error"`
	Category  string `json:"category,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// CredentialView is a masked view of one service's keys
type CredentialView struct {
	Service string   `json:"service"`
	Keys    []string `json:"keys"`
	Current string   `json:"current"`
}

// SetCurrentKeyRequest selects a key by its trailing characters
type SetCurrentKeyRequest struct {
	KeySuffix string `json:"key_suffix" binding:"required"`
}

// handleTranslate handles POST /v1/translate
func (s *Server) handleTranslate(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}
	if !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid JSON"})
		return
	}

	prompt := gjson.GetBytes(body, "prompt").String()
	out, err := s.deps.Translator.TranslateJSON(c.Request.Context(), string(body), prompt)
	if err != nil {
		writeTranslateError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(out))
}

// writeTranslateError maps orchestrator errors to HTTP statuses. A silent failure is
// 204 with no body.
func writeTranslateError(c *gin.Context, err error) {
	var cerr *translation.ConfigurationError
	var terr *translation.TranslationError

	switch {
	case errors.Is(err, translation.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Category: "invalid_request"})
	case errors.As(err, &cerr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: cerr.Error(), Category: "configuration"})
	case errors.As(err, &terr):
		if !terr.Surfaced {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		resp := ErrorResponse{
			Error:     security.SanitizeLogInput(terr.Error()),
			RequestID: terr.RequestID,
		}
		if terr.Err != nil {
			resp.Category = string(terr.Err.Category)
		}
		c.JSON(http.StatusBadGateway, resp)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: err.Error()})
	default:
		logging.LogError(err, "❌ Translation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// handleListKeys handles GET /v1/keys
func (s *Server) handleListKeys(c *gin.Context) {
	creds := s.deps.Keys.Snapshot()
	views := make([]CredentialView, 0, len(creds))
	for _, cred := range creds {
		views = append(views, maskCredential(cred))
	}
	c.JSON(http.StatusOK, gin.H{"services": views})
}

// handleRotateKey handles POST /v1/keys/:service/rotate
func (s *Server) handleRotateKey(c *gin.Context) {
	service := c.Param("service")
	if len(s.deps.Keys.Keys(service)) == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no keys configured for " + service})
		return
	}

	current := s.deps.Keys.GetCurrentKey(service)
	if _, ok := s.deps.Keys.Rotate(c.Request.Context(), service, current); !ok {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "no alternative key for " + service})
		return
	}

	c.JSON(http.StatusOK, s.credentialView(service))
}

// handleSetCurrentKey handles PUT /v1/keys/:service/current
func (s *Server) handleSetCurrentKey(c *gin.Context) {
	service := c.Param("service")

	var req SetCurrentKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "key_suffix is required"})
		return
	}

	key, err := s.deps.Keys.FindBySuffix(service, req.KeySuffix)
	switch {
	case errors.Is(err, keys.ErrAmbiguousKey):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}

	if err := s.deps.Keys.SetCurrentKey(c.Request.Context(), service, key); err != nil {
		logging.LogError(err, "❌ Failed to select key", zap.String("service", service))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to persist key selection"})
		return
	}

	logging.LogKeyRotation(service, "", security.MaskKey(key), zap.String("source", "api"))
	c.JSON(http.StatusOK, s.credentialView(service))
}

// handleLastError handles GET /v1/diagnostics/:provider/last-error
func (s *Server) handleLastError(c *gin.Context) {
	provider := c.Param("provider")
	if err := security.ValidateServiceName(provider); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	text, err := s.deps.LastErrors.LastError(provider)
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no recorded failure for " + provider})
		return
	}
	if err != nil {
		logging.LogError(err, "❌ Failed to read last error", zap.String("provider", provider))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.String(http.StatusOK, text)
}

func (s *Server) credentialView(service string) CredentialView {
	return maskCredential(keys.Credential{
		Service: service,
		Keys:    s.deps.Keys.Keys(service),
		Current: s.deps.Keys.GetCurrentKey(service),
	})
}

func maskCredential(cred keys.Credential) CredentialView {
	masked := make([]string, len(cred.Keys))
	for i, key := range cred.Keys {
		masked[i] = security.MaskKey(key)
	}
	return CredentialView{
		Service: cred.Service,
		Keys:    masked,
		Current: security.MaskKey(cred.Current),
	}
}
