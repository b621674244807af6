package ingest

import (
	"context"

	"github.com/inkwell-app/inkwell/db"
)

// ExtractionResult is what the text-extraction collaborator produces for one
// page image
type ExtractionResult struct {
	Text       string
	Confidence int // 0-100
}

// Extractor turns a page image into text. Implementations are expected to
// block for non-trivial wall-clock time; this and Analyzer are the pipeline's
// only suspension points.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (*ExtractionResult, error)
}

// Theme is one recurring topic the analyzer found in a journal day
type Theme struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Confidence  int    `json:"confidence"` // 0-100
}

// Sentiment scores one journal day. Positive, neutral and concern sum to 100.
type Sentiment struct {
	Positive int    `json:"positive"`
	Neutral  int    `json:"neutral"`
	Concern  int    `json:"concern"`
	Overall  string `json:"overall"`
}

// AnalysisResult holds the structured output of one analysis pass
type AnalysisResult struct {
	Themes    []Theme   `json:"themes"`
	Tags      []string  `json:"tags"`
	Sentiment Sentiment `json:"sentiment"`
}

// Analyzer extracts themes, tags and sentiment from transcribed text
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*AnalysisResult, error)
}

// Syncer mirrors completed entries into a downstream index. Strictly
// best-effort: a sync failure never rolls back or fails the entry, and the
// mirror is independently retryable.
type Syncer interface {
	SyncEntry(ctx context.Context, entry *db.JournalEntry) error
	RemoveEntry(ctx context.Context, entryID string) error
}
