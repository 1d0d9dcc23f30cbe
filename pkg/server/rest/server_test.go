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

package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
	"github.com/jeremyhahn/go-imgtransform/pkg/server/middleware"
)

// recordingLogger keeps the message and level of every entry.
type recordingLogger struct {
	adapters.NoOpLogger
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string, fields []adapters.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	b.WriteString(level + " " + msg)
	for _, f := range fields {
		b.WriteString(" " + f.Key)
	}
	l.entries = append(l.entries, b.String())
}

func (l *recordingLogger) Info(_ context.Context, msg string, fields ...adapters.Field) {
	l.add("INFO", msg, fields)
}
func (l *recordingLogger) Warn(_ context.Context, msg string, fields ...adapters.Field) {
	l.add("WARN", msg, fields)
}
func (l *recordingLogger) Error(_ context.Context, msg string, fields ...adapters.Field) {
	l.add("ERROR", msg, fields)
}

func (l *recordingLogger) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.ErrorIs(t, err, ErrHandlerRequired)

	env := newTestEnv(t)
	cfg := DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 9090
	cfg.Mode = gin.TestMode
	cfg.Logger = nil
	srv, err := NewServer(env.handler, cfg)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", srv.Address())
	assert.Same(t, env.handler, srv.Handler())
	assert.NotNil(t, cfg.Logger)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServerRateLimit(t *testing.T) {
	env := newTestEnv(t)
	cfg := DefaultServerConfig()
	cfg.Mode = gin.TestMode
	cfg.Logger = adapters.NewNoOpLogger()
	cfg.EnableRateLimit = true
	cfg.RateLimitConfig = &middleware.RateLimitConfig{RequestsPerSecond: 1, Burst: 1}
	srv, err := NewServer(env.handler, cfg)
	require.NoError(t, err)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestShutdownBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	cfg := DefaultServerConfig()
	cfg.Mode = gin.TestMode
	cfg.Logger = adapters.NewNoOpLogger()
	srv, err := NewServer(env.handler, cfg)
	require.NoError(t, err)
	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, srv.Start(), "start after shutdown reports a closed server as nil")
}

func TestCORSMiddleware(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodOptions, "/api/v1/transforms", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), middleware.RequestIDHeader)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := &recordingLogger{}
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware(), RecoveryMiddleware(logger))
	router.GET("/panic", func(c *gin.Context) { panic("decoder exploded") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
	require.Len(t, logger.all(), 1)
	assert.Equal(t, "ERROR Panic recovered panic path request_id", logger.all()[0])
}

func TestLoggingMiddleware(t *testing.T) {
	logger := &recordingLogger{}
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware(), LoggingMiddleware(logger))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	for _, p := range []string{"/ok", "/missing", "/fail"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	entries := logger.all()
	require.Len(t, entries, 3)
	assert.True(t, strings.HasPrefix(entries[0], "INFO HTTP request completed"))
	assert.True(t, strings.HasPrefix(entries[1], "WARN HTTP request completed"))
	assert.True(t, strings.HasPrefix(entries[2], "ERROR HTTP request completed"))
	assert.Contains(t, entries[0], "request_id")
}

func TestRequestSizeLimitMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestSizeLimitMiddleware(16))
	router.POST("/upload", func(c *gin.Context) {
		buf := make([]byte, 64)
		if _, err := c.Request.Body.Read(buf); err != nil && err.Error() != "EOF" {
			RespondWithError(c, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
