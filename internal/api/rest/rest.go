package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/equimed/catalog-importer/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/healthz", handler.HealthCheck)

	v1 := router.Group("/v1")
	{
		// Import submission (requires API key authentication)
		v1.POST("/imports", middleware.Auth(authCfg), handler.SubmitImport)

		// Job progress polling (public read access)
		v1.GET("/imports/:id", handler.GetImportJob)
	}
}
