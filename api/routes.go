package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")

	// Entry ingestion and lifecycle
	api.POST("/entries", h.CreateEntry)
	api.POST("/entries/batch", h.BatchCreateEntries)
	api.GET("/entries", h.ListEntries)
	api.POST("/entries/retry", h.RetryFailed)
	api.GET("/entries/:id", h.GetEntry)
	api.GET("/entries/:id/status", h.GetEntryStatus)
	api.PUT("/entries/:id/text", h.UpdateEntryText)
	api.DELETE("/entries/:id", h.DeleteEntry)

	// Upload (TUS)
	api.POST("/upload/finalize", h.FinalizeUpload)
	api.Any("/upload/tus/*path", h.TUSHandler)

	// Health
	api.GET("/health", h.Health)
}
