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
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	logger zerolog.Logger
	level  LogLevel
}

// NewZerologLogger creates a zerolog-backed logger. A format of "text"
// selects zerolog's console writer; anything else writes JSON lines.
func NewZerologLogger(w io.Writer, level LogLevel, format string) Logger {
	if strings.EqualFold(format, "text") {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	}
	return &ZerologLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
		level:  level,
	}
}

// Debug logs a debug-level message.
func (l *ZerologLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	if l.level <= DebugLevel {
		l.emit(l.logger.Debug(), msg, fields)
	}
}

// Info logs an info-level message.
func (l *ZerologLogger) Info(ctx context.Context, msg string, fields ...Field) {
	if l.level <= InfoLevel {
		l.emit(l.logger.Info(), msg, fields)
	}
}

// Warn logs a warning-level message.
func (l *ZerologLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	if l.level <= WarnLevel {
		l.emit(l.logger.Warn(), msg, fields)
	}
}

// Error logs an error-level message.
func (l *ZerologLogger) Error(ctx context.Context, msg string, fields ...Field) {
	if l.level <= ErrorLevel {
		l.emit(l.logger.Error(), msg, fields)
	}
}

// WithFields returns a new logger with additional fields.
func (l *ZerologLogger) WithFields(fields ...Field) Logger {
	zctx := l.logger.With()
	for _, f := range fields {
		zctx = zctx.Interface(f.Key, f.Value)
	}
	return &ZerologLogger{logger: zctx.Logger(), level: l.level}
}

// SetLevel sets the minimum log level.
func (l *ZerologLogger) SetLevel(level LogLevel) {
	l.level = level
}

// GetLevel returns the current log level.
func (l *ZerologLogger) GetLevel() LogLevel {
	return l.level
}

func (l *ZerologLogger) emit(ev *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}
