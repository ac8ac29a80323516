// Package http exposes the reconstruction engine over a JSON API.
package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"go.ngs.io/dvmap/internal/usecase"
)

// SetupRouter creates and configures the Gin router. An empty allowedOrigins
// allows every origin.
func SetupRouter(reconstructionUC *usecase.ReconstructionUseCase, allowedOrigins []string) *gin.Engine {
	router := gin.Default()

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}

	router.Use(cors.New(corsConfig))

	// Create handler.
	handler := NewHandler(reconstructionUC)

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.GET("/transform", handler.Transform)
	v1.POST("/reconstructions", handler.CreateReconstruction)
	v1.GET("/ensemble/nearest", handler.Nearest)

	// Health check.
	router.GET("/health", handler.HealthCheck)

	return router
}
