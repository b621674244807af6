package api

import (
	"github.com/gin-gonic/gin"

	"github.com/inkwell-app/inkwell/config"
	"github.com/inkwell-app/inkwell/db"
	"github.com/inkwell-app/inkwell/ingest"
	"github.com/inkwell-app/inkwell/log"
)

var logger = log.GetLogger("API")

// defaultOwner is used when the client sends no X-Owner-ID header. The
// deployment is single-user by default; the header exists so a fronting proxy
// can partition entries per account.
const defaultOwner = "local"

// Handlers holds references to server components
type Handlers struct {
	cfg     *config.Config
	store   *db.DB
	service *ingest.Service
}

// NewHandlers creates a new Handlers instance
func NewHandlers(cfg *config.Config, store *db.DB, service *ingest.Service) *Handlers {
	return &Handlers{cfg: cfg, store: store, service: service}
}

// ownerID resolves the acting owner for a request
func ownerID(c *gin.Context) string {
	if owner := c.GetHeader("X-Owner-ID"); owner != "" {
		return owner
	}
	return defaultOwner
}
