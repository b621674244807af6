package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/inkwell-app/inkwell/db"
	"github.com/inkwell-app/inkwell/fingerprint"
)

// fakeExtractor returns a fixed transcript; text is settable between
// submissions since tests drive the pipeline synchronously
type fakeExtractor struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, image []byte) (*ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ExtractionResult{Text: f.text, Confidence: 90}, nil
}

func (f *fakeExtractor) setText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	err   error
	empty bool
	calls int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (*AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return &AnalysisResult{}, nil
	}
	return &AnalysisResult{
		Themes: []Theme{{Title: "family", Description: "time with family", Confidence: 80}},
		Tags:   []string{"skiing", "winter"},
		Sentiment: Sentiment{
			Positive: 70, Neutral: 20, Concern: 10, Overall: "positive",
		},
	}, nil
}

type fakeSyncer struct {
	mu      sync.Mutex
	err     error
	synced  []string
	removed []string
}

func (f *fakeSyncer) SyncEntry(ctx context.Context, entry *db.JournalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, entry.ID)
	return f.err
}

func (f *fakeSyncer) RemoveEntry(ctx context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, entryID)
	return f.err
}

type testEnv struct {
	svc       *Service
	store     *db.DB
	extractor *fakeExtractor
	analyzer  *fakeAnalyzer
	syncer    *fakeSyncer
}

// newTestEnv builds a service around a throwaway database. Workers are not
// started; tests drive processEntry directly so each pass is synchronous.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "test.sqlite")})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	extractor := &fakeExtractor{text: "Dear diary, went skiing today."}
	analyzer := &fakeAnalyzer{}
	syncer := &fakeSyncer{}

	svc := NewService(Config{HashThreshold: 12}, store, extractor, analyzer, syncer)
	return &testEnv{svc: svc, store: store, extractor: extractor, analyzer: analyzer, syncer: syncer}
}

// pageImage renders a deterministic page-like PNG. Different variants have a
// dark band in a different quarter of the image, which puts their perceptual
// fingerprints far outside the duplicate threshold.
func pageImage(t *testing.T, variant int) []byte {
	t.Helper()
	const size = 128
	band := variant % 4

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if y >= band*size/4 && y < (band+1)*size/4 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestSubmitCreatesPendingEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "page one", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if entry.State != db.StatePending {
		t.Errorf("state = %s, want pending", entry.State)
	}
	if entry.ImageFingerprint == nil {
		t.Error("image fingerprint not set")
	}
	if entry.ImageSqlar == nil {
		t.Fatal("image sqlar key not set")
	}
	if stored := env.store.SqlarGet(*entry.ImageSqlar); stored == nil {
		t.Error("source image not stored")
	}
}

func TestSubmitRejectsUnreadableImage(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Submit(context.Background(), "local", []byte("not an image"), "", false)
	ingErr := AsError(err)
	if ingErr == nil || ingErr.Kind != KindUnreadable {
		t.Fatalf("err = %v, want unreadable", err)
	}

	// Nothing persisted
	entries, err := env.store.ListEntries("local", "", 10, 0)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected upload persisted %d entries", len(entries))
	}
}

func TestSubmitRejectsDuplicateImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	_, err = env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	ingErr := AsError(err)
	if ingErr == nil || ingErr.Kind != KindDuplicateContent {
		t.Fatalf("second Submit err = %v, want duplicate_content", err)
	}
	if ingErr.ConflictID != first.ID {
		t.Errorf("conflict id = %s, want %s", ingErr.ConflictID, first.ID)
	}
}

func TestSubmitScopesDuplicatesByOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Submit(ctx, "alice", pageImage(t, 0), "", false); err != nil {
		t.Fatalf("alice Submit: %v", err)
	}
	if _, err := env.svc.Submit(ctx, "bob", pageImage(t, 0), "", false); err != nil {
		t.Errorf("same image for a different owner rejected: %v", err)
	}
}

func TestDeleteReleasesFingerprint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ok, err := env.svc.Delete(ctx, "local", entry.ID)
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}

	// The image blob is gone and the mirror was told
	if env.store.SqlarGet(*entry.ImageSqlar) != nil {
		t.Error("source image still stored after delete")
	}
	if len(env.syncer.removed) != 1 || env.syncer.removed[0] != entry.ID {
		t.Errorf("mirror removal not requested: %v", env.syncer.removed)
	}

	// Identical content is admissible again
	if _, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false); err != nil {
		t.Errorf("re-upload after delete rejected: %v", err)
	}
}

func TestDeleteUnknownEntry(t *testing.T) {
	env := newTestEnv(t)

	ok, err := env.svc.Delete(context.Background(), "local", "no-such-entry")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok {
		t.Error("deleting an unknown entry reported success")
	}
}

func TestSubmitBatchIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Take one fingerprint so the batch's first file conflicts
	existing, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	results := env.svc.SubmitBatch(ctx, "local", []BatchItem{
		{Name: "dup.png", Image: pageImage(t, 0)},
		{Name: "broken.png", Image: []byte("garbage")},
		{Name: "good.png", Image: pageImage(t, 1)},
	})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].ConflictID != existing.ID {
		t.Errorf("dup.png conflict = %q, want %s", results[0].ConflictID, existing.ID)
	}
	if results[1].Error == "" {
		t.Error("broken.png should report an error")
	}
	if results[2].EntryID == "" || results[2].Error != "" {
		t.Errorf("good.png should be accepted: %+v", results[2])
	}

	// Batch pages run date segmentation
	accepted, err := env.store.GetEntry("local", results[2].EntryID)
	if err != nil || accepted == nil {
		t.Fatalf("accepted entry not found: %v", err)
	}
	if !accepted.Multi {
		t.Error("batch entry should be flagged for date segmentation")
	}
}

func TestStatusReportsProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	status, err := env.svc.Status("local", entry.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != db.StatePending {
		t.Errorf("state = %s, want pending", status.State)
	}

	env.svc.processEntry(ctx, entry.ID, false)

	status, err = env.svc.Status("local", entry.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != db.StateCompleted {
		t.Errorf("state = %s, want completed", status.State)
	}
	if status.ExtractedText == nil {
		t.Error("completed status missing extracted text")
	}
}

func TestStatusUnknownEntry(t *testing.T) {
	env := newTestEnv(t)

	status, err := env.svc.Status("local", "no-such-entry")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != nil {
		t.Errorf("expected nil status, got %+v", status)
	}
}

func TestEditTextReopensAnalysis(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env.svc.processEntry(ctx, entry.ID, false)

	edited, err := env.svc.EditText(ctx, "local", entry.ID, "Corrected transcript of the day.")
	if err != nil {
		t.Fatalf("EditText: %v", err)
	}
	if edited.State != db.StateTranscribed {
		t.Errorf("state after edit = %s, want transcribed", edited.State)
	}
	if edited.Analysis != nil {
		t.Error("stale analysis kept after edit")
	}

	// Re-running the pipeline completes the entry against the new text
	analyzerCallsBefore := env.analyzer.calls
	env.svc.processEntry(ctx, entry.ID, false)

	final, _ := env.store.GetEntry("local", entry.ID)
	if final.State != db.StateCompleted {
		t.Errorf("state after reprocess = %s, want completed", final.State)
	}
	if final.Analysis == nil {
		t.Error("analysis missing after reprocess")
	}
	if env.analyzer.calls != analyzerCallsBefore+1 {
		t.Errorf("analyzer calls = %d, want %d", env.analyzer.calls, analyzerCallsBefore+1)
	}
	// Extraction must not re-run for an edit
	if env.extractor.calls != 1 {
		t.Errorf("extractor calls = %d, want 1", env.extractor.calls)
	}
}

func TestEditTextRequiresCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := env.svc.EditText(ctx, "local", entry.ID, "too early"); err == nil {
		t.Error("editing a pending entry should fail")
	}
}

func TestEditTextRejectsEmpty(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.EditText(context.Background(), "local", "any", "   \n ")
	ingErr := AsError(err)
	if ingErr == nil || ingErr.Kind != KindNoReadableText {
		t.Fatalf("err = %v, want no_readable_text", err)
	}
}

func TestEditTextRejectsDuplicateText(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env.svc.processEntry(ctx, first.ID, false)

	env.extractor.setText("A different second day entirely.")
	second, err := env.svc.Submit(ctx, "local", pageImage(t, 1), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env.svc.processEntry(ctx, second.ID, false)

	// Editing the second entry to match the first must be refused
	_, err = env.svc.EditText(ctx, "local", second.ID, "Dear diary, went skiing today.")
	ingErr := AsError(err)
	if ingErr == nil || ingErr.Kind != KindDuplicateContent {
		t.Fatalf("err = %v, want duplicate_content", err)
	}
	if ingErr.ConflictID != first.ID {
		t.Errorf("conflict id = %s, want %s", ingErr.ConflictID, first.ID)
	}
}

// seedFingerprint stores an entry carrying an exact image fingerprint so the
// gate can be probed at known Hamming distances
func seedFingerprint(t *testing.T, env *testEnv, ownerID, fp string) string {
	t.Helper()
	now := db.NowMs()
	entry := &db.JournalEntry{
		ID:               "seeded-" + ownerID,
		OwnerID:          ownerID,
		State:            db.StateCompleted,
		ImageFingerprint: &fp,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := env.store.CreateEntry(entry); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	return entry.ID
}

func TestDuplicateGateThresholdBoundary(t *testing.T) {
	env := newTestEnv(t)

	hexLen := fingerprint.HashBits / 4
	seeded := seedFingerprint(t, env, "local", strings.Repeat("0", hexLen))

	atThreshold := "fff" + strings.Repeat("0", hexLen-3)    // 12 bits apart
	pastThreshold := "fff8" + strings.Repeat("0", hexLen-4) // 13 bits apart

	if id, err := env.svc.findNearDuplicate("local", atThreshold); err != nil || id != seeded {
		t.Errorf("distance 12 should be flagged as duplicate: id=%q err=%v", id, err)
	}
	if id, err := env.svc.findNearDuplicate("local", pastThreshold); err != nil || id != "" {
		t.Errorf("distance 13 should pass the gate: id=%q err=%v", id, err)
	}
}

func TestDuplicateGateExactMatchOnly(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(Config{HashThreshold: -1}, env.store, env.extractor, env.analyzer, env.syncer)

	hexLen := fingerprint.HashBits / 4
	stored := strings.Repeat("0", hexLen)
	seeded := seedFingerprint(t, env, "local", stored)

	oneBit := "8" + strings.Repeat("0", hexLen-1)
	if id, err := svc.findNearDuplicate("local", oneBit); err != nil || id != "" {
		t.Errorf("distance 1 should pass an exact-only gate: id=%q err=%v", id, err)
	}
	if id, err := svc.findNearDuplicate("local", stored); err != nil || id != seeded {
		t.Errorf("identical fingerprint should be flagged: id=%q err=%v", id, err)
	}
}

var errVendorDown = errors.New("vendor down")
