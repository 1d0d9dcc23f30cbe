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

package audit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeremyhahn/go-imgtransform/pkg/server/middleware"
)

// AssetIDKey is the gin context key a handler sets when the audited asset
// ID is not part of the route, as on registration.
const AssetIDKey = "audit_asset_id"

// readAuditor is implemented by loggers that can opt into auditing reads.
type readAuditor interface {
	IncludeReads() bool
}

// AuditMiddleware creates a Gin middleware that logs one event per audited
// route after the handler has run.
func AuditMiddleware(auditLogger AuditLogger) gin.HandlerFunc {
	includeReads := false
	if ra, ok := auditLogger.(readAuditor); ok {
		includeReads = ra.IncludeReads()
	}

	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		eventType, ok := eventTypeFor(c.Request.Method, c.FullPath())
		if !ok || (eventType == EventTransformResolved && !includeReads) {
			return
		}

		statusCode := c.Writer.Status()
		result := ResultSuccess
		errorMessage := ""
		if statusCode >= http.StatusBadRequest {
			result = ResultFailure
			if len(c.Errors) > 0 {
				errorMessage = c.Errors.Last().Error()
			}
		}

		assetID := c.Param("id")
		if assetID == "" {
			assetID = c.GetString(AssetIDKey)
		}

		event := &Event{
			Timestamp:    startTime,
			EventType:    eventType,
			AssetID:      assetID,
			Action:       c.Request.Method + " " + c.FullPath(),
			Result:       result,
			ErrorMessage: errorMessage,
			IPAddress:    c.ClientIP(),
			RequestID:    middleware.GetRequestIDFromGinContext(c),
			StatusCode:   statusCode,
			Duration:     time.Since(startTime),
		}
		_ = auditLogger.LogEvent(c.Request.Context(), event) // #nosec G104 -- audit failures must not fail the request
	}
}

func eventTypeFor(method, route string) (EventType, bool) {
	switch {
	case method == http.MethodPost && route == "/api/v1/assets":
		return EventAssetRegistered, true
	case method == http.MethodDelete && route == "/api/v1/assets/:id/transforms":
		return EventTransformsInvalidated, true
	case method == http.MethodPost && route == "/api/v1/assets/:id/reindex":
		return EventAssetReindexed, true
	case method == http.MethodGet && route == "/api/v1/assets/:id/transform":
		return EventTransformResolved, true
	}
	return "", false
}
