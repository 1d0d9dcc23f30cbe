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

package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, DebugLevel, ParseLogLevel(" DEBUG "))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("info"))
	assert.Equal(t, InfoLevel, ParseLogLevel("nonsense"))
}

func TestDefaultLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: "debug", Output: &buf})
	ctx := context.Background()

	logger.WithFields(Field{Key: "asset_id", Value: "a1"}).
		Info(ctx, "transform generated", Field{Key: "key", Value: "_400x400_fit_center-center"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "transform generated", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "a1", entry["asset_id"])
	assert.Equal(t, "_400x400_fit_center-center", entry["key"])
}

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: "warn", Format: "text", Output: &buf})
	ctx := context.Background()

	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	assert.Empty(t, buf.String())

	logger.Warn(ctx, "warn message")
	assert.Contains(t, buf.String(), "level=WARN")

	buf.Reset()
	logger.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, logger.GetLevel())
	logger.Debug(ctx, "debug message")
	assert.Contains(t, buf.String(), "debug message")
}

func TestDefaultLoggerNilContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Output: &buf})
	//nolint:staticcheck // log() accepts a nil context
	logger.Error(nil, "boom", ErrField(errors.New("disk full")))
	assert.Contains(t, buf.String(), "disk full")
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Backend: "zerolog", Level: "info", Output: &buf})
	ctx := context.Background()

	logger.Debug(ctx, "hidden")
	assert.Empty(t, buf.String())

	logger.WithFields(Field{Key: "volume", Value: "local"}).Warn(ctx, "stale delete failed", ErrField(errors.New("busy")))

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "stale delete failed", entry["message"])
	assert.Equal(t, "local", entry["volume"])
	assert.Equal(t, "busy", entry["error"])
}

func TestZerologLoggerConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, DebugLevel, "text")
	logger.Debug(context.Background(), "heartbeat", Field{Key: "record", Value: "r1"})
	assert.Contains(t, buf.String(), "heartbeat")
	assert.Contains(t, buf.String(), "record=r1")
}

func TestErrFieldNil(t *testing.T) {
	f := ErrField(nil)
	assert.Equal(t, "error", f.Key)
	assert.Nil(t, f.Value)
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	ctx := context.Background()
	logger.Debug(ctx, "x")
	logger.Info(ctx, "x")
	logger.Warn(ctx, "x")
	logger.Error(ctx, "x")
	assert.Same(t, logger, logger.WithFields(Field{Key: "k", Value: 1}))
	logger.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, logger.GetLevel())
}
