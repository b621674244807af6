package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/tus/tusd/v2/pkg/filestore"
	tusd "github.com/tus/tusd/v2/pkg/handler"

	"github.com/inkwell-app/inkwell/ingest"
)

const maxTUSUpload = 1 << 30 // 1GB; covers large multi-page scan archives

var (
	tusHandler     http.Handler
	tusHandlerOnce sync.Once
)

// initTUSHandler initializes the TUS resumable-upload handler
func (h *Handlers) initTUSHandler() (http.Handler, error) {
	var initErr error
	tusHandlerOnce.Do(func() {
		if err := os.MkdirAll(h.cfg.UploadDir, 0755); err != nil {
			initErr = err
			return
		}

		store := filestore.New(h.cfg.UploadDir)
		composer := tusd.NewStoreComposer()
		store.UseIn(composer)

		handler, err := tusd.NewHandler(tusd.Config{
			BasePath:                "/api/upload/tus/",
			StoreComposer:           composer,
			RespectForwardedHeaders: true,
			MaxSize:                 maxTUSUpload,
		})
		if err != nil {
			initErr = err
			return
		}

		tusHandler = handler
		logger.Info().Str("dir", h.cfg.UploadDir).Msg("TUS handler initialized")
	})
	return tusHandler, initErr
}

// TUSHandler handles all TUS protocol requests
func (h *Handlers) TUSHandler(c *gin.Context) {
	handler, err := h.initTUSHandler()
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize TUS handler")
		RespondInternalError(c, "failed to initialize upload handler")
		return
	}

	// The TUS handler expects paths relative to its base path. Strip the
	// prefix by hand; http.StripPrefix does not compose with gin wildcards.
	originalPath := c.Request.URL.Path
	c.Request.URL.Path = strings.TrimPrefix(originalPath, "/api/upload/tus")

	handler.ServeHTTP(c.Writer, c.Request)

	c.Request.URL.Path = originalPath
}

// FinalizeUpload handles POST /api/upload/finalize
// Moves completed TUS uploads into the ingestion pipeline. Accepts an array
// so a multi-page scan session finalizes in one call; pages from one call are
// processed as a sequential batch.
func (h *Handlers) FinalizeUpload(c *gin.Context) {
	var body struct {
		Uploads []struct {
			UploadID string `json:"uploadId"`
			Filename string `json:"filename"`
		} `json:"uploads"`
		Multi bool `json:"multi,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondValidationError(c, "invalid request body")
		return
	}
	if len(body.Uploads) == 0 {
		RespondValidationError(c, "no uploads provided")
		return
	}
	if len(body.Uploads) > maxBatchFiles {
		RespondValidationError(c, "too many uploads in one finalize call")
		return
	}

	var items []ingest.BatchItem
	var tusFiles []string
	for _, upload := range body.Uploads {
		if upload.UploadID == "" || upload.Filename == "" {
			RespondValidationError(c, "upload entries need uploadId and filename")
			return
		}

		srcPath := filepath.Join(h.cfg.UploadDir, filepath.Base(upload.UploadID))
		data, err := os.ReadFile(srcPath)
		if err != nil {
			// tusd's filestore may append .bin to the upload id
			srcPath = srcPath + ".bin"
			data, err = os.ReadFile(srcPath)
			if err != nil {
				logger.Error().Err(err).Str("uploadId", upload.UploadID).Msg("upload file not found")
				RespondNotFound(c, "upload not found: "+upload.UploadID)
				return
			}
		}
		if len(data) > maxImageSize {
			RespondValidationError(c, upload.Filename+": "+errTooLarge.Error())
			return
		}

		items = append(items, ingest.BatchItem{Name: upload.Filename, Image: data})
		tusFiles = append(tusFiles, srcPath)
	}

	owner := ownerID(c)

	if len(items) == 1 {
		entry, err := h.service.Submit(c.Request.Context(), owner, items[0].Image, items[0].Name, body.Multi)
		if err != nil {
			respondIngestError(c, err)
			return
		}
		cleanupTUSFiles(tusFiles)
		RespondAccepted(c, entry)
		return
	}

	results := h.service.SubmitBatch(c.Request.Context(), owner, items)
	cleanupTUSFiles(tusFiles)
	RespondAccepted(c, results)
}

// cleanupTUSFiles removes finalized upload files and their .info sidecars
func cleanupTUSFiles(paths []string) {
	for _, p := range paths {
		os.Remove(p)
		os.Remove(strings.TrimSuffix(p, ".bin") + ".info")
	}
}
