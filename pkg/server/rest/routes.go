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
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// SetupRoutes configures all routes for the REST API
func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/health", handler.HealthCheck)

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/transforms", handler.ListNamedTransforms)

		assets := v1.Group("/assets")
		{
			assets.POST("", handler.RegisterAsset)
			assets.GET("/:id", handler.GetAsset)
			assets.GET("/:id/transform", handler.Transform)
			assets.GET("/:id/transforms", handler.ListRecords)
			assets.DELETE("/:id/transforms", handler.Invalidate)
			assets.POST("/:id/reindex", handler.Reindex)
		}
	}
}
