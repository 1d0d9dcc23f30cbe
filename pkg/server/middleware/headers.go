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

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// HeadersConfig lists the response headers set on every request.
type HeadersConfig struct {
	// ContentTypeOptions sets X-Content-Type-Options.
	ContentTypeOptions string

	// FrameOptions sets X-Frame-Options.
	FrameOptions string

	// ReferrerPolicy sets Referrer-Policy.
	ReferrerPolicy string

	// APICacheControl is applied to paths under APIPrefix. Transform URLs
	// are resolved per request, so API answers are not cached by default.
	APICacheControl string
	APIPrefix       string
}

// DefaultHeadersConfig returns the headers used by the server.
func DefaultHeadersConfig() *HeadersConfig {
	return &HeadersConfig{
		ContentTypeOptions: "nosniff",
		FrameOptions:       "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		APICacheControl:    "no-store",
		APIPrefix:          "/api/",
	}
}

// HeadersMiddleware sets the configured response headers.
func HeadersMiddleware(config *HeadersConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultHeadersConfig()
	}
	return func(c *gin.Context) {
		set := func(name, value string) {
			if value != "" {
				c.Header(name, value)
			}
		}
		set("X-Content-Type-Options", config.ContentTypeOptions)
		set("X-Frame-Options", config.FrameOptions)
		set("Referrer-Policy", config.ReferrerPolicy)
		if config.APIPrefix != "" && strings.HasPrefix(c.Request.URL.Path, config.APIPrefix) {
			set("Cache-Control", config.APICacheControl)
		}
		c.Next()
	}
}
