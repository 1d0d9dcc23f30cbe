// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-imgtransform.
//
// go-imgtransform is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package rest exposes the transformer over HTTP.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
	"github.com/jeremyhahn/go-imgtransform/pkg/audit"
	"github.com/jeremyhahn/go-imgtransform/pkg/server/middleware"
)

// ErrHandlerRequired is returned by NewServer without a handler.
var ErrHandlerRequired = errors.New("handler is required")

// Server represents the REST API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	config     *ServerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	// Host is the hostname to bind to (default: "0.0.0.0")
	Host string

	// Port is the port to listen on (default: 8080)
	Port int

	EnableCORS    bool
	EnableLogging bool

	// EnableRateLimit enables rate limiting middleware
	EnableRateLimit bool
	RateLimitConfig *middleware.RateLimitConfig

	// EnableHeaders sets the response headers in HeadersConfig
	EnableHeaders bool
	HeadersConfig *middleware.HeadersConfig

	EnableRequestID bool

	// MaxRequestSize is the maximum request body size in bytes (default: 1MB)
	MaxRequestSize int64

	// WriteTimeout bounds the whole response, including first-time
	// generation of a derived image.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AuditLogger records index mutations when set.
	AuditLogger audit.AuditLogger

	// Mode sets the Gin mode: "debug", "release", or "test" (default: "release")
	Mode string

	// Logger is the pluggable logger adapter (default: DefaultLogger)
	Logger adapters.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		EnableCORS:      true,
		EnableLogging:   true,
		EnableRateLimit: false,
		RateLimitConfig: middleware.DefaultRateLimitConfig(),
		EnableHeaders:   true,
		HeadersConfig:   middleware.DefaultHeadersConfig(),
		EnableRequestID: true,
		MaxRequestSize:  1 << 20,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    120 * time.Second,
		IdleTimeout:     120 * time.Second,
		Mode:            gin.ReleaseMode,
		Logger:          adapters.NewDefaultLogger(),
	}
}

// NewServer creates a new REST API server
func NewServer(handler *Handler, config *ServerConfig) (*Server, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = adapters.NewDefaultLogger()
	}
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	router := gin.New()

	// Middleware order: request ID → recovery → rate limit → headers → CORS → logging → audit → size limit
	if config.EnableRequestID {
		router.Use(middleware.RequestIDMiddleware())
	}
	router.Use(RecoveryMiddleware(config.Logger))
	if config.EnableRateLimit {
		router.Use(middleware.RateLimitMiddleware(config.RateLimitConfig, config.Logger))
	}
	if config.EnableHeaders {
		router.Use(middleware.HeadersMiddleware(config.HeadersConfig))
	}
	if config.EnableCORS {
		router.Use(CORSMiddleware())
	}
	if config.EnableLogging {
		router.Use(LoggingMiddleware(config.Logger))
	}
	if config.AuditLogger != nil {
		router.Use(audit.AuditMiddleware(config.AuditLogger))
	}
	if config.MaxRequestSize > 0 {
		router.Use(RequestSizeLimitMiddleware(config.MaxRequestSize))
	}

	SetupRoutes(router, handler)

	return &Server{
		router:  router,
		handler: handler,
		config:  config,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
			Handler:           router,
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
	}, nil
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.config.Logger.Info(context.Background(), "Starting REST API server",
		adapters.Field{Key: "address", Value: s.httpServer.Addr},
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.config.Logger.Info(ctx, "Shutting down REST API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the request handler
func (s *Server) Handler() *Handler {
	return s.handler
}

// Address returns the server address
func (s *Server) Address() string {
	return s.httpServer.Addr
}
