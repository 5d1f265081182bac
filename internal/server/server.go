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
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/loqalabs/loqa-translate/internal/config"
	"github.com/loqalabs/loqa-translate/internal/events"
	"github.com/loqalabs/loqa-translate/internal/keys"
	"github.com/loqalabs/loqa-translate/internal/logging"
	"github.com/loqalabs/loqa-translate/internal/storage"
)

// HealthServiceName is the gRPC health service reported alongside the overall status
const HealthServiceName = "loqa.translate"

// Translator is the JSON entry point exposed on POST /v1/translate
type Translator interface {
	TranslateJSON(ctx context.Context, jsonRequest, prompt string) (string, error)
}

// HistoryStore reads persisted translation attempts
type HistoryStore interface {
	List(ctx context.Context, options storage.ListOptions) ([]*events.TranslationEvent, error)
	Count(ctx context.Context, options storage.ListOptions) (int64, error)
	GetByUUID(ctx context.Context, id string) (*events.TranslationEvent, error)
}

// LastErrorReader exposes the per-provider last-error files
type LastErrorReader interface {
	LastError(provider string) (string, error)
}

// StatusReporter describes runtime state for the health endpoint
type StatusReporter interface {
	ActiveProvider() string
}

// Dependencies are the components the server exposes. Translator and Keys are required.
type Dependencies struct {
	Translator    Translator
	Keys          *keys.Store
	History       HistoryStore
	LastErrors    LastErrorReader
	Status        StatusReporter
	NATSConnected func() bool
}

// Server hosts the HTTP API and the gRPC health service
type Server struct {
	cfg    config.ServerConfig
	deps   Dependencies
	engine *gin.Engine
	server *http.Server

	grpcServer *grpc.Server
	health     *health.Server
}

// New creates a server with routes configured
func New(cfg config.ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Translator == nil {
		return nil, errors.New("server requires a translator")
	}
	if deps.Keys == nil {
		return nil, errors.New("server requires a key store")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		cfg:        cfg,
		deps:       deps,
		engine:     engine,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)

	s.routes()
	return s, nil
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// HealthServer returns the gRPC health server so callers can flip serving status
func (s *Server) HealthServer() *health.Server {
	return s.health
}

// Start serves gRPC health (when a port is configured) and HTTP until Stop
func (s *Server) Start() error {
	if s.cfg.GRPCPort > 0 {
		lis, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.GRPCPort)))
		if err != nil {
			return fmt.Errorf("failed to listen on gRPC port %d: %w", s.cfg.GRPCPort, err)
		}
		go func() {
			if err := s.grpcServer.Serve(lis); err != nil {
				logging.LogError(err, "❌ gRPC health server stopped")
			}
		}()
	}

	logging.S().Infow("🚀 loqa-translate starting",
		"component", "server",
		"http_addr", s.server.Addr,
		"grpc_port", s.cfg.GRPCPort)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down both servers
func (s *Server) Stop() error {
	logging.S().Infow("🛑 Shutting down loqa-translate", "component", "server")

	s.health.Shutdown()
	s.grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logging.S().Infow("✅ loqa-translate shut down successfully", "component", "server")
	return nil
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/v1")
	v1.POST("/translate", s.handleTranslate)

	v1.GET("/keys", s.handleListKeys)
	v1.POST("/keys/:service/rotate", s.handleRotateKey)
	v1.PUT("/keys/:service/current", s.handleSetCurrentKey)

	if s.deps.History != nil {
		v1.GET("/history", s.handleListHistory)
		v1.GET("/history/:uuid", s.handleGetHistory)
	}
	if s.deps.LastErrors != nil {
		v1.GET("/diagnostics/:provider/last-error", s.handleLastError)
	}

	logging.S().Infow("🌐 HTTP routes configured",
		"component", "server",
		"routes", len(s.engine.Routes()))
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
	}
	if s.deps.Status != nil {
		status["active_provider"] = s.deps.Status.ActiveProvider()
	}
	if s.deps.NATSConnected != nil {
		status["nats_connected"] = s.deps.NATSConnected()
	}
	c.JSON(http.StatusOK, status)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.L().Debug("HTTP request",
			zap.String("component", "http"),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
