package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mholt/archives"

	"github.com/inkwell-app/inkwell/db"
	"github.com/inkwell-app/inkwell/ingest"
)

const (
	maxBatchFiles = 100
	maxImageSize  = 32 << 20 // 32MB per page image
	maxListLimit  = 200
	defaultLimit  = 50
)

var (
	errTooLarge       = errors.New("image exceeds the 32MB size limit")
	errUnknownArchive = errors.New("unsupported archive format")
	errBatchTooLarge  = errors.New("archive contains more than 100 images")
)

// imageExtensions gates which archive members are treated as page scans
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".gif": true, ".webp": true, ".heic": true,
}

// CreateEntry handles POST /api/entries
// Accepts one page image as multipart form data and queues it for ingestion.
func (h *Handlers) CreateEntry(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		RespondValidationError(c, "missing image file")
		return
	}
	defer file.Close()

	image, err := readUpload(file, header.Size)
	if err != nil {
		RespondValidationError(c, err.Error())
		return
	}

	title := c.PostForm("title")
	if title == "" {
		title = header.Filename
	}
	multi := c.PostForm("multi") == "true"

	entry, err := h.service.Submit(c.Request.Context(), ownerID(c), image, title, multi)
	if err != nil {
		respondIngestError(c, err)
		return
	}

	RespondAccepted(c, entry)
}

// BatchCreateEntries handles POST /api/entries/batch
// Accepts up to 100 page images in one multipart request, or a single archive
// ("archive" field) whose image members are expanded server-side. Each file is
// admitted independently; per-file outcomes come back in order.
func (h *Handlers) BatchCreateEntries(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		RespondValidationError(c, "invalid multipart form")
		return
	}

	var items []ingest.BatchItem

	if archive := firstFile(form, "archive"); archive != nil {
		items, err = expandArchive(c.Request.Context(), archive)
		if err != nil {
			RespondValidationError(c, err.Error())
			return
		}
	} else {
		for _, header := range form.File["images"] {
			file, err := header.Open()
			if err != nil {
				RespondInternalError(c, "failed to read uploaded file")
				return
			}
			image, err := readUpload(file, header.Size)
			file.Close()
			if err != nil {
				RespondValidationError(c, header.Filename+": "+err.Error())
				return
			}
			items = append(items, ingest.BatchItem{Name: header.Filename, Image: image})
		}
	}

	if len(items) == 0 {
		RespondValidationError(c, "no images provided")
		return
	}
	if len(items) > maxBatchFiles {
		RespondValidationError(c, "batch exceeds "+strconv.Itoa(maxBatchFiles)+" files")
		return
	}

	results := h.service.SubmitBatch(c.Request.Context(), ownerID(c), items)
	RespondAccepted(c, results)
}

// ListEntries handles GET /api/entries
func (h *Handlers) ListEntries(c *gin.Context) {
	state := c.Query("state")
	switch state {
	case "", db.StatePending, db.StateProcessing, db.StateTranscribed, db.StateCompleted, db.StateFailed:
	default:
		RespondValidationError(c, "unknown state filter: "+state)
		return
	}

	limit := queryInt(c, "limit", defaultLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	// Fetch one extra row to learn whether more pages exist
	entries, err := h.store.ListEntries(ownerID(c), state, limit+1, offset)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list entries")
		RespondInternalError(c, "failed to list entries")
		return
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	RespondList(c, entries, &Pagination{Limit: limit, Offset: offset, HasMore: hasMore})
}

// GetEntry handles GET /api/entries/:id
func (h *Handlers) GetEntry(c *gin.Context) {
	entry, err := h.store.GetEntry(ownerID(c), c.Param("id"))
	if err != nil {
		logger.Error().Err(err).Str("entry", c.Param("id")).Msg("failed to load entry")
		RespondInternalError(c, "failed to load entry")
		return
	}
	if entry == nil {
		RespondNotFound(c, "entry not found")
		return
	}
	RespondData(c, entry)
}

// GetEntryStatus handles GET /api/entries/:id/status
// Lightweight polling endpoint for upload progress UIs.
func (h *Handlers) GetEntryStatus(c *gin.Context) {
	status, err := h.service.Status(ownerID(c), c.Param("id"))
	if err != nil {
		RespondInternalError(c, "failed to load entry status")
		return
	}
	if status == nil {
		RespondNotFound(c, "entry not found")
		return
	}
	RespondData(c, status)
}

// UpdateEntryText handles PUT /api/entries/:id/text
// Replaces a completed entry's transcription and re-runs analysis.
func (h *Handlers) UpdateEntryText(c *gin.Context) {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondValidationError(c, "invalid request body")
		return
	}

	entry, err := h.service.EditText(c.Request.Context(), ownerID(c), c.Param("id"), body.Text)
	if err != nil {
		respondIngestError(c, err)
		return
	}
	if entry == nil {
		RespondNotFound(c, "entry not found")
		return
	}
	RespondData(c, entry)
}

// DeleteEntry handles DELETE /api/entries/:id
func (h *Handlers) DeleteEntry(c *gin.Context) {
	ok, err := h.service.Delete(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		logger.Error().Err(err).Str("entry", c.Param("id")).Msg("failed to delete entry")
		RespondInternalError(c, "failed to delete entry")
		return
	}
	if !ok {
		RespondNotFound(c, "entry not found")
		return
	}
	RespondNoContent(c)
}

// RetryFailed handles POST /api/entries/retry
// Runs one sweep pass immediately instead of waiting for the supervisor tick.
func (h *Handlers) RetryFailed(c *gin.Context) {
	result, err := h.service.Sweep(c.Request.Context())
	if err != nil {
		logger.Error().Err(err).Msg("manual sweep failed")
		RespondInternalError(c, "sweep failed")
		return
	}
	RespondData(c, result)
}

// respondIngestError maps pipeline error kinds onto HTTP statuses
func respondIngestError(c *gin.Context, err error) {
	ingErr := ingest.AsError(err)
	if ingErr == nil {
		logger.Error().Err(err).Msg("ingestion request failed")
		RespondInternalError(c, "ingestion failed")
		return
	}

	switch ingErr.Kind {
	case ingest.KindDuplicateContent:
		RespondConflict(c, ingErr.Message, ingErr.ConflictID)
	case ingest.KindUnreadable, ingest.KindNoReadableText:
		RespondValidationError(c, ingErr.Message)
	default:
		RespondUnprocessable(c, ingErr.Message)
	}
}

// readUpload reads one multipart file with a hard size cap
func readUpload(file multipart.File, size int64) ([]byte, error) {
	if size > maxImageSize {
		return nil, errTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, maxImageSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageSize {
		return nil, errTooLarge
	}
	return data, nil
}

// firstFile returns the first uploaded file for a field, or nil
func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if headers := form.File[field]; len(headers) > 0 {
		return headers[0]
	}
	return nil
}

// expandArchive extracts image members from an uploaded zip/tar archive
func expandArchive(ctx context.Context, header *multipart.FileHeader) ([]ingest.BatchItem, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	format, reader, err := archives.Identify(ctx, header.Filename, file)
	if err != nil {
		return nil, errUnknownArchive
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return nil, errUnknownArchive
	}

	var items []ingest.BatchItem
	err = extractor.Extract(ctx, reader, func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() || !imageExtensions[strings.ToLower(path.Ext(f.NameInArchive))] {
			return nil
		}
		if len(items) >= maxBatchFiles {
			return errBatchTooLarge
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()

		data, err := io.ReadAll(io.LimitReader(rc, maxImageSize+1))
		if err != nil {
			return err
		}
		if len(data) > maxImageSize {
			logger.Warn().Str("member", f.NameInArchive).Msg("skipping oversized archive member")
			return nil
		}
		items = append(items, ingest.BatchItem{Name: path.Base(f.NameInArchive), Image: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// queryInt parses an integer query parameter with a fallback
func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
