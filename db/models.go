package db

import (
	"database/sql"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Entry lifecycle states
const (
	StatePending     = "pending"
	StateProcessing  = "processing"
	StateTranscribed = "transcribed"
	StateCompleted   = "completed"
	StateFailed      = "failed"
)

// JournalEntry represents one journal day as stored in the database
type JournalEntry struct {
	ID               string  `json:"id"`
	OwnerID          string  `json:"ownerId"`
	Title            *string `json:"title,omitempty"`
	State            string  `json:"state"`
	EntryDate        *string `json:"entryDate,omitempty"` // YYYY-MM-DD
	ExtractedText    *string `json:"extractedText,omitempty"`
	Confidence       *int64  `json:"confidence,omitempty"` // 0-100
	Analysis         *string `json:"analysis,omitempty"`   // JSON: themes/tags/sentiment
	ImageSqlar       *string `json:"imageSqlar,omitempty"` // sqlar key of the source page image
	ImageFingerprint *string `json:"imageFingerprint,omitempty"`
	TextFingerprint  *string `json:"textFingerprint,omitempty"`
	FailureReason    *string `json:"failureReason,omitempty"`
	Multi            bool    `json:"multi"` // run date segmentation after extraction
	Attempts         int     `json:"attempts"`
	CreatedAt        int64   `json:"createdAt"`
	UpdatedAt        int64   `json:"updatedAt"`
	DeletedAt        *int64  `json:"deletedAt,omitempty"`
}

// scanEntry scans a row into a JournalEntry
func scanEntry(row interface{ Scan(...any) error }) (JournalEntry, error) {
	var e JournalEntry
	var multi int
	err := row.Scan(
		&e.ID, &e.OwnerID, &e.Title, &e.State, &e.EntryDate,
		&e.ExtractedText, &e.Confidence, &e.Analysis, &e.ImageSqlar,
		&e.ImageFingerprint, &e.TextFingerprint, &e.FailureReason,
		&multi, &e.Attempts, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt,
	)
	e.Multi = multi == 1
	return e, err
}

const entryColumns = `id, owner_id, title, state, entry_date,
	extracted_text, confidence, analysis, image_sqlar,
	image_fingerprint, text_fingerprint, failure_reason,
	multi, attempts, created_at, updated_at, deleted_at`

// NowMs returns the current time as Unix milliseconds
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// NullString converts *string to sql.NullString
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// StringPtr converts sql.NullString to *string
func StringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// IsUniqueViolation reports whether err is a sqlite unique-constraint failure
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
