package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell-app/inkwell/datesplit"
	"github.com/inkwell-app/inkwell/db"
	"github.com/inkwell-app/inkwell/fingerprint"
)

// processEntry drives one entry through extraction and analysis. It is
// resumable: when the entry already carries non-empty text (a retry after an
// analysis failure, or a re-queued edit) the extraction phase is skipped and
// processing resumes at analysis. claimed means the caller already moved the
// entry into processing via compare-and-set.
func (s *Service) processEntry(ctx context.Context, entryID string, claimed bool) {
	// One pass per entry per process
	if _, loaded := s.processing.LoadOrStore(entryID, true); loaded {
		logger.Debug().Str("entry", entryID).Msg("already processing, skipping")
		return
	}
	defer s.processing.Delete(entryID)

	entry, err := s.store.GetEntryByID(entryID)
	if err != nil || entry == nil {
		logger.Error().Err(err).Str("entry", entryID).Msg("entry not found")
		return
	}

	if !claimed && !s.claim(entry) {
		logger.Debug().Str("entry", entryID).Str("state", entry.State).Msg("claim lost, skipping")
		return
	}

	// Re-read after the claim so the pass works from the durable state
	entry, err = s.store.GetEntryByID(entryID)
	if err != nil || entry == nil {
		logger.Error().Err(err).Str("entry", entryID).Msg("entry vanished after claim")
		return
	}

	if entry.State == db.StateProcessing {
		if entry.ExtractedText != nil && strings.TrimSpace(*entry.ExtractedText) != "" {
			// A previous pass already extracted text; resume at analysis.
			// Re-extraction would overwrite, not append, but there is nothing
			// to redo when a usable transcript survives.
			ok, err := s.transition(entryID, db.StateProcessing, db.StateTranscribed, map[string]interface{}{
				"failure_reason": nil,
			})
			if err != nil || !ok {
				logger.Debug().Str("entry", entryID).Msg("resume transition lost, skipping")
				return
			}
		} else if !s.runExtraction(ctx, entry) {
			return
		}
		// Extraction persisted text and moved the entry to transcribed
		entry, err = s.store.GetEntryByID(entryID)
		if err != nil || entry == nil {
			return
		}
	}

	if entry.State == db.StateTranscribed {
		s.runAnalysis(ctx, entry)
	}
}

// claim asserts ownership of the entry by moving it into processing.
// Transcribed entries (edit re-queues, split spawns) stay transcribed — there
// is no transcribed -> processing edge — and rely on the in-process guard.
func (s *Service) claim(entry *db.JournalEntry) bool {
	switch entry.State {
	case db.StatePending, db.StateFailed:
		ok, err := s.store.ClaimEntry(entry.ID, db.StateProcessing, entry.State)
		if err != nil {
			logger.Error().Err(err).Str("entry", entry.ID).Msg("claim failed")
			return false
		}
		return ok
	case db.StateTranscribed:
		return true
	default:
		// completed needs an explicit edit; processing belongs to another pass
		return false
	}
}

// runExtraction performs the extraction phase; returns true when the entry
// reached transcribed and analysis should follow
func (s *Service) runExtraction(ctx context.Context, entry *db.JournalEntry) bool {
	if entry.ImageSqlar == nil {
		s.fail(entry.ID, db.StateProcessing, "source image missing")
		return false
	}
	image := s.store.SqlarGet(*entry.ImageSqlar)
	if image == nil {
		s.fail(entry.ID, db.StateProcessing, "source image missing")
		return false
	}

	result, err := s.extractor.Extract(ctx, image)
	if err != nil {
		s.fail(entry.ID, db.StateProcessing, "text extraction failed: "+err.Error())
		return false
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		s.fail(entry.ID, db.StateProcessing, "no readable text")
		return false
	}

	var entryDate *string
	if entry.Multi {
		spans := datesplit.Split(text)
		// First span stays on this entry (it keeps the image fingerprint);
		// later spans become their own entries entering at transcribed
		text = spans[0].Content
		entryDate = formatDate(spans[0].Date)
		if len(spans) > 1 {
			s.spawnSplitEntries(entry, spans[1:], result.Confidence)
		}
	}

	// Late duplicate detection: two different photographs can transcribe to
	// identical text
	textFp := fingerprint.Text(text)
	conflictID, err := s.store.FindEntryByTextFingerprint(entry.OwnerID, textFp, entry.ID)
	if err != nil {
		s.fail(entry.ID, db.StateProcessing, "duplicate check failed: "+err.Error())
		return false
	}
	if conflictID != "" {
		s.fail(entry.ID, db.StateProcessing, "duplicate content (matches entry "+conflictID+")")
		return false
	}

	// A retried entry must not carry its old failure text into transcribed;
	// failureReason only means anything in the failed state
	fields := map[string]interface{}{
		"extracted_text":   text,
		"confidence":       int64(result.Confidence),
		"text_fingerprint": textFp,
		"failure_reason":   nil,
	}
	if entryDate != nil {
		fields["entry_date"] = *entryDate
	}

	ok, err := s.transition(entry.ID, db.StateProcessing, db.StateTranscribed, fields)
	if err != nil {
		if db.IsUniqueViolation(err) {
			// Lost the race on the text fingerprint index
			s.fail(entry.ID, db.StateProcessing, "duplicate content")
			return false
		}
		logger.Error().Err(err).Str("entry", entry.ID).Msg("failed to persist transcript")
		return false
	}
	if !ok {
		logger.Debug().Str("entry", entry.ID).Msg("transcribe transition lost, skipping")
		return false
	}

	logger.Info().
		Str("entry", entry.ID).
		Int("confidence", result.Confidence).
		Int("chars", len(text)).
		Msg("text extracted")
	return true
}

// spawnSplitEntries creates one transcribed entry per additional detected
// day. Spans whose text already exists for this owner are skipped, matching
// the duplicate policy for whole uploads. The spawned ids are queued as one
// sequential job.
func (s *Service) spawnSplitEntries(parent *db.JournalEntry, spans []datesplit.SplitEntry, confidence int) {
	var spawned []string

	for _, span := range spans {
		textFp := fingerprint.Text(span.Content)
		conflictID, err := s.store.FindEntryByTextFingerprint(parent.OwnerID, textFp, parent.ID)
		if err != nil {
			logger.Error().Err(err).Str("parent", parent.ID).Msg("split duplicate check failed")
			continue
		}
		if conflictID != "" {
			logger.Info().
				Str("parent", parent.ID).
				Str("conflict", conflictID).
				Msg("skipping duplicate split span")
			continue
		}

		now := db.NowMs()
		conf := int64(confidence)
		child := &db.JournalEntry{
			ID:              uuid.New().String(),
			OwnerID:         parent.OwnerID,
			Title:           parent.Title,
			State:           db.StateTranscribed,
			EntryDate:       formatDate(span.Date),
			ExtractedText:   &span.Content,
			Confidence:      &conf,
			TextFingerprint: &textFp,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.store.CreateEntry(child); err != nil {
			if db.IsUniqueViolation(err) {
				logger.Info().Str("parent", parent.ID).Msg("skipping duplicate split span")
				continue
			}
			logger.Error().Err(err).Str("parent", parent.ID).Msg("failed to create split entry")
			continue
		}
		spawned = append(spawned, child.ID)
	}

	if len(spawned) > 0 {
		logger.Info().
			Str("parent", parent.ID).
			Int("entries", len(spawned)).
			Msg("multi-day text split into additional entries")
		s.enqueue(job{entryIDs: spawned})
	}
}

// runAnalysis performs the analysis phase and completes the entry
func (s *Service) runAnalysis(ctx context.Context, entry *db.JournalEntry) {
	if entry.ExtractedText == nil || strings.TrimSpace(*entry.ExtractedText) == "" {
		s.fail(entry.ID, db.StateTranscribed, "no text to analyze")
		return
	}

	result, err := s.analyzer.Analyze(ctx, *entry.ExtractedText)
	if err != nil {
		s.fail(entry.ID, db.StateTranscribed, "analysis failed: "+err.Error())
		return
	}
	if result == nil || (len(result.Themes) == 0 && len(result.Tags) == 0) {
		s.fail(entry.ID, db.StateTranscribed, "analysis produced no result")
		return
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		s.fail(entry.ID, db.StateTranscribed, "analysis result not serializable: "+err.Error())
		return
	}

	ok, err := s.transition(entry.ID, db.StateTranscribed, db.StateCompleted, map[string]interface{}{
		"analysis":       string(encoded),
		"failure_reason": nil,
	})
	if err != nil {
		logger.Error().Err(err).Str("entry", entry.ID).Msg("failed to persist analysis")
		return
	}
	if !ok {
		logger.Debug().Str("entry", entry.ID).Msg("complete transition lost, skipping")
		return
	}

	logger.Info().
		Str("entry", entry.ID).
		Int("themes", len(result.Themes)).
		Int("tags", len(result.Tags)).
		Msg("entry completed")

	// Best-effort mirror push; never affects entry state
	if s.syncer != nil {
		completed, err := s.store.GetEntryByID(entry.ID)
		if err == nil && completed != nil {
			if err := s.syncer.SyncEntry(ctx, completed); err != nil {
				logger.Warn().Err(err).Str("entry", entry.ID).Msg("mirror sync failed")
			}
		}
	}
}

// transition persists a legal state change; illegal edges are a programmer
// error and refused outright
func (s *Service) transition(entryID, from, to string, fields map[string]interface{}) (bool, error) {
	if !CanTransition(from, to) {
		logger.Error().
			Str("entry", entryID).
			Str("from", from).
			Str("to", to).
			Msg("illegal state transition refused")
		return false, nil
	}
	return s.store.UpdateEntryState(entryID, from, to, fields)
}

// fail moves an entry to failed with a human-readable reason. Failures stay
// visible: the entry is never dropped, so the sweeper can act on it.
func (s *Service) fail(entryID, from, reason string) {
	ok, err := s.transition(entryID, from, db.StateFailed, map[string]interface{}{
		"failure_reason": reason,
	})
	if err != nil || !ok {
		logger.Error().Err(err).Str("entry", entryID).Msg("failed to record failure")
		return
	}
	logger.Warn().Str("entry", entryID).Str("reason", reason).Msg("entry failed")
}

// formatDate renders a detected date as YYYY-MM-DD, or nil when absent
func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}
