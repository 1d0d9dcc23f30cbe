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

// Package audit records who changed the transform index and when.
package audit

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
)

// EventType represents the type of audit event
type EventType string

const (
	// EventAssetRegistered indicates an asset was added to the catalog
	EventAssetRegistered EventType = "ASSET_REGISTERED"

	// EventTransformsInvalidated indicates an asset's derived images and
	// records were deleted
	EventTransformsInvalidated EventType = "TRANSFORMS_INVALIDATED"

	// EventAssetReindexed indicates an asset's records were reconciled
	// with its volume
	EventAssetReindexed EventType = "ASSET_REINDEXED"

	// EventTransformResolved indicates a transform URL was requested
	EventTransformResolved EventType = "TRANSFORM_RESOLVED"
)

// Result represents the outcome of an audited operation
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	// AssetID is the affected asset, when known.
	AssetID string `json:"asset_id,omitempty"`

	// Action is the method and route that was attempted.
	Action       string        `json:"action"`
	Result       Result        `json:"result"`
	ErrorMessage string        `json:"error_message,omitempty"`
	IPAddress    string        `json:"ip_address,omitempty"`
	RequestID    string        `json:"request_id,omitempty"`
	StatusCode   int           `json:"status_code,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// AuditLogger writes audit events.
type AuditLogger interface {
	LogEvent(ctx context.Context, event *Event) error
}

// Config holds configuration for the audit logger
type Config struct {
	// Enabled determines if audit logging is active
	Enabled bool

	// Backend is the logger backend, "slog" or "zerolog".
	Backend string

	// Format is "json" or "text".
	Format string

	// Output specifies where to write logs (defaults to stdout)
	Output io.Writer

	// IncludeReads also audits transform requests, not only mutations.
	IncludeReads bool
}

// DefaultConfig returns a Config that audits mutations as JSON to stdout.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Backend: "slog",
		Format:  "json",
		Output:  os.Stdout,
	}
}

// DefaultAuditLogger writes events through an adapters.Logger.
type DefaultAuditLogger struct {
	config *Config
	logger adapters.Logger
}

// NewAuditLogger creates a new audit logger with the specified configuration
func NewAuditLogger(config *Config) *DefaultAuditLogger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}
	return &DefaultAuditLogger{
		config: config,
		logger: adapters.NewLogger(adapters.LoggerConfig{
			Backend: config.Backend,
			Level:   "info",
			Format:  config.Format,
			Output:  config.Output,
		}),
	}
}

// IncludeReads reports whether transform requests are audited.
func (a *DefaultAuditLogger) IncludeReads() bool {
	return a.config.IncludeReads
}

// LogEvent logs an audit event.
func (a *DefaultAuditLogger) LogEvent(ctx context.Context, event *Event) error {
	if !a.config.Enabled || event == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	fields := []adapters.Field{
		{Key: "audit", Value: true},
		{Key: "timestamp", Value: event.Timestamp},
		{Key: "event_type", Value: string(event.EventType)},
		{Key: "action", Value: event.Action},
		{Key: "result", Value: string(event.Result)},
	}
	if event.AssetID != "" {
		fields = append(fields, adapters.Field{Key: "asset_id", Value: event.AssetID})
	}
	if event.ErrorMessage != "" {
		fields = append(fields, adapters.Field{Key: "error", Value: event.ErrorMessage})
	}
	if event.IPAddress != "" {
		fields = append(fields, adapters.Field{Key: "ip_address", Value: event.IPAddress})
	}
	if event.RequestID != "" {
		fields = append(fields, adapters.Field{Key: "request_id", Value: event.RequestID})
	}
	if event.StatusCode > 0 {
		fields = append(fields, adapters.Field{Key: "status_code", Value: event.StatusCode})
	}
	if event.Duration > 0 {
		fields = append(fields, adapters.Field{Key: "duration", Value: event.Duration})
	}

	a.logger.Info(ctx, "Audit event: "+event.Action, fields...)
	return nil
}

// NoOpAuditLogger discards events.
type NoOpAuditLogger struct{}

// NewNoOpAuditLogger creates an audit logger that discards events.
func NewNoOpAuditLogger() AuditLogger {
	return NoOpAuditLogger{}
}

// LogEvent does nothing.
func (NoOpAuditLogger) LogEvent(context.Context, *Event) error { return nil }
