package ingest

import (
	"context"
	"time"

	"github.com/inkwell-app/inkwell/db"
)

// SweepResult summarizes one retry pass. Per-entry detail stays on each
// entry's failure reason; the sweep only reports aggregates.
type SweepResult struct {
	Retried     int `json:"retried"`
	StillFailed int `json:"stillFailed"`
}

// Sweep finds entries whose processing did not reach a terminal success state
// and resubmits them: every failed entry, plus processing entries stale past
// the configured window (orchestrator crash recovery). Each entry is claimed
// with a compare-and-set before resubmission, so a sweep running concurrently
// with the workers — or a second sweep right after the first — never
// double-processes an entry.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	failedIDs, err := s.store.ListFailedEntries()
	if err != nil {
		return result, err
	}

	var claimed []string
	for _, id := range failedIDs {
		ok, err := s.store.ClaimEntry(id, db.StateProcessing, db.StateFailed)
		if err != nil {
			logger.Error().Err(err).Str("entry", id).Msg("sweep claim failed")
			result.StillFailed++
			continue
		}
		if !ok {
			// Another pass got there first
			continue
		}
		claimed = append(claimed, id)
	}

	staleCutoff := time.Now().Add(-s.cfg.StaleProcessing).UnixMilli()
	staleIDs, err := s.store.ListStaleProcessing(staleCutoff)
	if err != nil {
		return result, err
	}
	for _, id := range staleIDs {
		ok, err := s.store.ReclaimStaleProcessing(id, staleCutoff)
		if err != nil {
			logger.Error().Err(err).Str("entry", id).Msg("stale reclaim failed")
			continue
		}
		if ok {
			claimed = append(claimed, id)
		}
	}

	// Claimed entries are already in processing; the pipeline must not
	// claim again
	for _, id := range claimed {
		s.enqueue(job{entryIDs: []string{id}, claimed: true})
		result.Retried++
	}

	logger.Info().
		Int("retried", result.Retried).
		Int("stillFailed", result.StillFailed).
		Msg("sweep complete")
	return result, nil
}
