package ingest

import "fmt"

// ErrorKind classifies ingestion failures
type ErrorKind string

const (
	KindUnreadable       ErrorKind = "unreadable"        // image bytes could not be decoded
	KindDuplicateContent ErrorKind = "duplicate_content" // image or text fingerprint collision
	KindExtraction       ErrorKind = "extraction_error"  // text extraction collaborator failed
	KindNoReadableText   ErrorKind = "no_readable_text"  // extraction succeeded but found nothing usable
	KindAnalysis         ErrorKind = "analysis_error"    // analysis collaborator failed
	KindSync             ErrorKind = "sync_error"        // downstream mirror push failed (non-fatal)
)

// Error is an ingestion failure with a machine-readable kind. Duplicate
// rejections carry the id of the conflicting entry so callers can surface it.
type Error struct {
	Kind       ErrorKind
	Message    string
	ConflictID string // set for KindDuplicateContent
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newUnreadable(err error) *Error {
	return &Error{Kind: KindUnreadable, Message: "image could not be decoded", Err: err}
}

func newDuplicate(conflictID, what string) *Error {
	return &Error{
		Kind:       KindDuplicateContent,
		Message:    fmt.Sprintf("%s matches existing entry %s", what, conflictID),
		ConflictID: conflictID,
	}
}

// AsError extracts an ingestion *Error from err, or nil
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return nil
}
