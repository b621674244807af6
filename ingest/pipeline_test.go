package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/inkwell-app/inkwell/db"
)

func TestPipelineCompletesEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "page", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	env.svc.processEntry(ctx, entry.ID, false)

	final, err := env.store.GetEntry("local", entry.ID)
	if err != nil || final == nil {
		t.Fatalf("entry not found: %v", err)
	}
	if final.State != db.StateCompleted {
		t.Fatalf("state = %s, want completed", final.State)
	}
	if final.ExtractedText == nil || *final.ExtractedText != "Dear diary, went skiing today." {
		t.Errorf("extracted text = %v", final.ExtractedText)
	}
	if final.Confidence == nil || *final.Confidence != 90 {
		t.Errorf("confidence = %v, want 90", final.Confidence)
	}
	if final.TextFingerprint == nil {
		t.Error("text fingerprint not set")
	}
	if final.FailureReason != nil {
		t.Errorf("failure reason set on success: %s", *final.FailureReason)
	}

	var analysis AnalysisResult
	if final.Analysis == nil {
		t.Fatal("analysis not stored")
	}
	if err := json.Unmarshal([]byte(*final.Analysis), &analysis); err != nil {
		t.Fatalf("stored analysis not valid JSON: %v", err)
	}
	if len(analysis.Themes) == 0 || len(analysis.Tags) == 0 {
		t.Errorf("analysis incomplete: %+v", analysis)
	}

	if len(env.syncer.synced) != 1 || env.syncer.synced[0] != entry.ID {
		t.Errorf("mirror sync = %v, want [%s]", env.syncer.synced, entry.ID)
	}
}

func TestPipelineFailsOnEmptyTranscript(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.extractor.setText("   \n  ")
	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	env.svc.processEntry(ctx, entry.ID, false)

	final, _ := env.store.GetEntry("local", entry.ID)
	if final.State != db.StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if final.FailureReason == nil || *final.FailureReason != "no readable text" {
		t.Errorf("failure reason = %v", final.FailureReason)
	}
	if env.analyzer.calls != 0 {
		t.Errorf("analyzer ran on an empty transcript")
	}
}

func TestPipelineFailsOnExtractorError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.extractor.err = errVendorDown
	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	env.svc.processEntry(ctx, entry.ID, false)

	final, _ := env.store.GetEntry("local", entry.ID)
	if final.State != db.StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if final.FailureReason == nil {
		t.Fatal("failure reason missing")
	}
}

func TestPipelineFailsOnAnalyzerError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.analyzer.err = errVendorDown
	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	env.svc.processEntry(ctx, entry.ID, false)

	final, _ := env.store.GetEntry("local", entry.ID)
	if final.State != db.StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	// The transcript survives the failure so a retry can resume at analysis
	if final.ExtractedText == nil {
		t.Error("extracted text lost on analysis failure")
	}
}

func TestPipelineRetryResumesAtAnalysis(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.analyzer.err = errVendorDown
	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env.svc.processEntry(ctx, entry.ID, false)

	if got, _ := env.store.GetEntry("local", entry.ID); got.State != db.StateFailed {
		t.Fatalf("precondition: state = %s, want failed", got.State)
	}

	// Vendor recovers; retry should skip extraction
	env.analyzer.err = nil
	extractorCalls := env.extractor.calls
	env.svc.processEntry(ctx, entry.ID, false)

	final, _ := env.store.GetEntry("local", entry.ID)
	if final.State != db.StateCompleted {
		t.Fatalf("state after retry = %s, want completed", final.State)
	}
	if final.FailureReason != nil {
		t.Errorf("failure reason not cleared: %s", *final.FailureReason)
	}
	if env.extractor.calls != extractorCalls {
		t.Errorf("extraction re-ran on retry with surviving transcript")
	}
}

func TestPipelineLateTextDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env.svc.processEntry(ctx, first.ID, false)

	// A different photograph of the same page: passes the image gate,
	// transcribes to identical text
	second, err := env.svc.Submit(ctx, "local", pageImage(t, 1), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env.svc.processEntry(ctx, second.ID, false)

	final, _ := env.store.GetEntry("local", second.ID)
	if final.State != db.StateFailed {
		t.Fatalf("state = %s, want failed", final.State)
	}
	if final.FailureReason == nil || !containsStr(*final.FailureReason, first.ID) {
		t.Errorf("failure reason should name the conflicting entry: %v", final.FailureReason)
	}
}

func TestPipelineSplitsMultiDayText(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.extractor.setText("January 5, 2024\nWent skiing today with the family.\n\nJanuary 6, 2024\nRested and read a book by the fire.")
	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "notebook scan", true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	env.svc.processEntry(ctx, entry.ID, false)

	parent, _ := env.store.GetEntry("local", entry.ID)
	if parent.State != db.StateCompleted {
		t.Fatalf("parent state = %s, want completed", parent.State)
	}
	if parent.EntryDate == nil || *parent.EntryDate != "2024-01-05" {
		t.Errorf("parent date = %v, want 2024-01-05", parent.EntryDate)
	}
	if parent.ExtractedText == nil || containsStr(*parent.ExtractedText, "Rested") {
		t.Errorf("parent kept the second day's text: %v", parent.ExtractedText)
	}

	entries, err := env.store.ListEntries("local", "", 10, 0)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (parent + split)", len(entries))
	}

	var child *db.JournalEntry
	for i := range entries {
		if entries[i].ID != entry.ID {
			child = &entries[i]
		}
	}
	if child == nil {
		t.Fatal("split entry not created")
	}
	if child.State != db.StateTranscribed {
		t.Errorf("child state = %s, want transcribed", child.State)
	}
	if child.EntryDate == nil || *child.EntryDate != "2024-01-06" {
		t.Errorf("child date = %v, want 2024-01-06", child.EntryDate)
	}
	if child.ImageFingerprint != nil {
		t.Error("split entry must not share the parent's image fingerprint")
	}

	// The child only needs analysis to finish
	env.svc.processEntry(ctx, child.ID, false)
	finished, _ := env.store.GetEntry("local", child.ID)
	if finished.State != db.StateCompleted {
		t.Errorf("child state after processing = %s, want completed", finished.State)
	}
}

func TestPipelineMultiFlagSurvivesRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.extractor.err = errVendorDown
	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env.svc.processEntry(ctx, entry.ID, false)

	// Extraction never ran, so the segmentation request must persist
	failed, _ := env.store.GetEntry("local", entry.ID)
	if failed.State != db.StateFailed {
		t.Fatalf("state = %s, want failed", failed.State)
	}
	if !failed.Multi {
		t.Error("multi flag lost across failure")
	}

	env.extractor.err = nil
	env.extractor.setText("January 5, 2024\nWent skiing today with the family.\n\nJanuary 6, 2024\nRested and read a book by the fire.")
	env.svc.processEntry(ctx, entry.ID, false)

	entries, _ := env.store.ListEntries("local", "", 10, 0)
	if len(entries) != 2 {
		t.Errorf("got %d entries after retry, want 2", len(entries))
	}
}

func TestPipelineSyncFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.syncer.err = errVendorDown
	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	env.svc.processEntry(ctx, entry.ID, false)

	final, _ := env.store.GetEntry("local", entry.ID)
	if final.State != db.StateCompleted {
		t.Errorf("state = %s, want completed despite sync failure", final.State)
	}
}

func TestPipelineRefusesCompletedEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env.svc.processEntry(ctx, entry.ID, false)

	extractorCalls := env.extractor.calls
	analyzerCalls := env.analyzer.calls

	// A stray requeue of a finished entry is a no-op
	env.svc.processEntry(ctx, entry.ID, false)

	if env.extractor.calls != extractorCalls || env.analyzer.calls != analyzerCalls {
		t.Error("completed entry was reprocessed")
	}
}

func TestTranscribeClearsStaleFailureReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.extractor.err = errVendorDown
	entry, err := env.svc.Submit(ctx, "local", pageImage(t, 0), "", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	env.svc.processEntry(ctx, entry.ID, false)

	failed, _ := env.store.GetEntry("local", entry.ID)
	if failed.State != db.StateFailed || failed.FailureReason == nil {
		t.Fatalf("precondition: state=%s reason=%v, want failed with reason", failed.State, failed.FailureReason)
	}

	// Vendor recovers; a retry claim followed by extraction must not carry
	// the old failure text into transcribed
	env.extractor.err = nil
	if ok, err := env.store.ClaimEntry(entry.ID, db.StateProcessing, db.StateFailed); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	claimed, _ := env.store.GetEntryByID(entry.ID)
	if !env.svc.runExtraction(ctx, claimed) {
		t.Fatal("extraction did not reach transcribed")
	}

	transcribed, _ := env.store.GetEntry("local", entry.ID)
	if transcribed.State != db.StateTranscribed {
		t.Fatalf("state = %s, want transcribed", transcribed.State)
	}
	if transcribed.FailureReason != nil {
		t.Errorf("stale failure reason survived into transcribed: %s", *transcribed.FailureReason)
	}
}

func containsStr(s, sub string) bool {
	return strings.Contains(s, sub)
}
