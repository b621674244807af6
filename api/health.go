package api

import (
	"github.com/gin-gonic/gin"
)

// Health handles GET /api/health
func (h *Handlers) Health(c *gin.Context) {
	if err := h.store.Ping(); err != nil {
		logger.Error().Err(err).Msg("health check failed")
		RespondInternalError(c, "database unavailable")
		return
	}
	RespondData(c, gin.H{"status": "ok"})
}
