// Package ingest drives photographed journal pages through the processing
// pipeline: duplicate gating on perceptual fingerprints, asynchronous text
// extraction and analysis through a staged state machine, multi-day text
// segmentation, and sweep-based retry of failed work.
package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell-app/inkwell/db"
	"github.com/inkwell-app/inkwell/fingerprint"
	"github.com/inkwell-app/inkwell/log"
)

var logger = log.GetLogger("Ingest")

// Config holds ingestion service tuning
type Config struct {
	// HashThreshold is the max Hamming distance (out of fingerprint.HashBits)
	// at which two page images count as duplicates. Zero means the default
	// of 12; a negative value gates on exact fingerprint matches only.
	HashThreshold int

	// StaleProcessing is how long an entry may sit in processing before the
	// sweeper treats it as abandoned
	StaleProcessing time.Duration

	Workers   int // parallel processing goroutines
	QueueSize int
}

// Service is the ingestion orchestrator. Collaborators are explicit handles
// so tests substitute fakes without process-wide state; syncer may be nil
// when no mirror is configured.
type Service struct {
	cfg       Config
	store     *db.DB
	extractor Extractor
	analyzer  Analyzer
	syncer    Syncer

	queue    chan job
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Entries being worked on by this process right now
	processing sync.Map
}

// job is a unit of queue work. A batch submission becomes one job so its
// entries run sequentially, bounding concurrent load on the collaborators.
// claimed means the sweeper already compare-and-set the entries into
// processing and the pipeline must not claim again.
type job struct {
	entryIDs []string
	claimed  bool
}

// NewService creates an ingestion service with its collaborator handles
func NewService(cfg Config, store *db.DB, extractor Extractor, analyzer Analyzer, syncer Syncer) *Service {
	if cfg.Workers == 0 {
		cfg.Workers = 3
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1000
	}
	if cfg.HashThreshold == 0 {
		cfg.HashThreshold = 12
	} else if cfg.HashThreshold < 0 {
		cfg.HashThreshold = 0
	}
	if cfg.StaleProcessing == 0 {
		cfg.StaleProcessing = 30 * time.Minute
	}

	return &Service{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		analyzer:  analyzer,
		syncer:    syncer,
		queue:     make(chan job, cfg.QueueSize),
		stopChan:  make(chan struct{}),
	}
}

// Submit runs the duplicate gate on an uploaded page image and, when it
// passes, creates the entry in pending and queues it for processing. Returns
// immediately; callers observe progress by polling Status. multi requests
// date segmentation of the extracted text into per-day entries.
func (s *Service) Submit(ctx context.Context, ownerID string, image []byte, title string, multi bool) (*db.JournalEntry, error) {
	entry, err := s.admit(ctx, ownerID, image, title, multi)
	if err != nil {
		return nil, err
	}

	s.enqueue(job{entryIDs: []string{entry.ID}})

	logger.Info().
		Str("entry", entry.ID).
		Str("owner", ownerID).
		Bool("multi", multi).
		Msg("upload accepted")
	return entry, nil
}

// BatchItem is one file in a batch submission
type BatchItem struct {
	Name  string
	Image []byte
}

// BatchResult reports the outcome of admitting one batch item
type BatchResult struct {
	Name       string `json:"name"`
	EntryID    string `json:"entryId,omitempty"`
	ConflictID string `json:"conflictId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SubmitBatch admits each image independently — one rejected or unreadable
// file never aborts the rest — and queues all accepted entries as a single
// sequential job. Batch pages are treated as multi-day scans.
func (s *Service) SubmitBatch(ctx context.Context, ownerID string, items []BatchItem) []BatchResult {
	results := make([]BatchResult, 0, len(items))
	var accepted []string

	for _, item := range items {
		entry, err := s.admit(ctx, ownerID, item.Image, item.Name, true)
		result := BatchResult{Name: item.Name}
		if err != nil {
			if ingErr := AsError(err); ingErr != nil && ingErr.Kind == KindDuplicateContent {
				result.ConflictID = ingErr.ConflictID
			}
			result.Error = err.Error()
		} else {
			result.EntryID = entry.ID
			accepted = append(accepted, entry.ID)
		}
		results = append(results, result)
	}

	if len(accepted) > 0 {
		s.enqueue(job{entryIDs: accepted})
	}

	logger.Info().
		Str("owner", ownerID).
		Int("files", len(items)).
		Int("accepted", len(accepted)).
		Msg("batch submitted")
	return results
}

// admit runs the duplicate gate and persists the accepted entry in pending,
// without queueing it
func (s *Service) admit(ctx context.Context, ownerID string, image []byte, title string, multi bool) (*db.JournalEntry, error) {
	fp, err := fingerprint.Image(image)
	if err != nil {
		return nil, newUnreadable(err)
	}
	if conflictID, err := s.findNearDuplicate(ownerID, fp); err != nil {
		return nil, err
	} else if conflictID != "" {
		return nil, newDuplicate(conflictID, "page image")
	}

	now := db.NowMs()
	entry := &db.JournalEntry{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		State:            db.StatePending,
		ImageFingerprint: &fp,
		Multi:            multi,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if title != "" {
		entry.Title = &title
	}

	sqlarKey := "pages/" + entry.ID + "/original"
	entry.ImageSqlar = &sqlarKey
	if err := s.store.SqlarStore(sqlarKey, image, 0644); err != nil {
		return nil, err
	}
	if err := s.store.CreateEntry(entry); err != nil {
		s.store.SqlarDelete(sqlarKey)
		if db.IsUniqueViolation(err) {
			// The gate's pre-check is racy by construction; the unique index
			// is the authoritative guard. Re-scan to name the winner.
			conflictID, scanErr := s.findNearDuplicate(ownerID, fp)
			if scanErr == nil && conflictID != "" {
				return nil, newDuplicate(conflictID, "page image")
			}
			return nil, &Error{Kind: KindDuplicateContent, Message: "page image matches an existing entry"}
		}
		return nil, err
	}
	return entry, nil
}

// findNearDuplicate scans the owner's live image fingerprints for one within
// the Hamming threshold, returning the conflicting entry id or ""
func (s *Service) findNearDuplicate(ownerID, fp string) (string, error) {
	ids, fps, err := s.store.LiveImageFingerprints(ownerID)
	if err != nil {
		return "", err
	}
	for i, existing := range fps {
		distance, err := fingerprint.Distance(fp, existing)
		if err != nil {
			// Stored fingerprint with a different width predates the fixed
			// encoding; it cannot be compared and never matches
			logger.Warn().Err(err).Str("entry", ids[i]).Msg("skipping incomparable fingerprint")
			continue
		}
		if distance <= s.cfg.HashThreshold {
			return ids[i], nil
		}
	}
	return "", nil
}

// EntryStatus is the polling view of one entry's progress
type EntryStatus struct {
	State         string  `json:"state"`
	ExtractedText *string `json:"extractedText,omitempty"`
	Confidence    *int64  `json:"confidence,omitempty"`
	FailureReason *string `json:"failureReason,omitempty"`
}

// Status returns the durable processing state of an entry, or nil when the
// entry does not exist for this owner
func (s *Service) Status(ownerID, entryID string) (*EntryStatus, error) {
	entry, err := s.store.GetEntry(ownerID, entryID)
	if err != nil || entry == nil {
		return nil, err
	}
	return &EntryStatus{
		State:         entry.State,
		ExtractedText: entry.ExtractedText,
		Confidence:    entry.Confidence,
		FailureReason: entry.FailureReason,
	}, nil
}

// EditText replaces a completed entry's text, reopening analysis so stored
// themes/tags/sentiment never go stale against the edited text
func (s *Service) EditText(ctx context.Context, ownerID, entryID, newText string) (*db.JournalEntry, error) {
	if strings.TrimSpace(newText) == "" {
		return nil, &Error{Kind: KindNoReadableText, Message: "edited text is empty"}
	}

	entry, err := s.store.GetEntry(ownerID, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	if entry.State != db.StateCompleted {
		return nil, &Error{Kind: KindAnalysis, Message: "only completed entries can be edited"}
	}

	textFp := fingerprint.Text(newText)
	if conflictID, err := s.store.FindEntryByTextFingerprint(ownerID, textFp, entryID); err != nil {
		return nil, err
	} else if conflictID != "" {
		return nil, newDuplicate(conflictID, "edited text")
	}

	ok, err := s.store.EditEntryText(ownerID, entryID, newText, textFp)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, &Error{Kind: KindDuplicateContent, Message: "edited text matches an existing entry"}
		}
		return nil, err
	}
	if !ok {
		// Lost a race with another edit or a sweep; report current state
		return nil, &Error{Kind: KindAnalysis, Message: "entry is no longer editable"}
	}

	s.enqueue(job{entryIDs: []string{entryID}})

	logger.Info().Str("entry", entryID).Msg("text edited, analysis re-queued")
	return s.store.GetEntry(ownerID, entryID)
}

// Delete soft-deletes an entry. The fingerprint uniqueness indexes only cover
// live rows, so identical content can be re-uploaded afterwards. The mirror
// removal is best-effort.
func (s *Service) Delete(ctx context.Context, ownerID, entryID string) (bool, error) {
	entry, err := s.store.GetEntry(ownerID, entryID)
	if err != nil || entry == nil {
		return false, err
	}

	ok, err := s.store.SoftDeleteEntry(ownerID, entryID)
	if err != nil || !ok {
		return false, err
	}

	if entry.ImageSqlar != nil {
		s.store.SqlarDelete(*entry.ImageSqlar)
	}
	if s.syncer != nil {
		if err := s.syncer.RemoveEntry(ctx, entryID); err != nil {
			logger.Warn().Err(err).Str("entry", entryID).Msg("mirror removal failed")
		}
	}
	return true, nil
}

// enqueue sends a job to the workers. Non-blocking: when the queue is full
// the entries stay pending and the supervisor loop requeues them later.
func (s *Service) enqueue(j job) {
	select {
	case s.queue <- j:
	default:
		logger.Warn().
			Int("entries", len(j.entryIDs)).
			Msg("ingest queue full, deferring to supervisor requeue")
	}
}
