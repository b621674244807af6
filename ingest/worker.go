package ingest

import (
	"context"
	"time"
)

const (
	// supervisorInterval is how often the supervisor sweeps for abandoned
	// work and requeues stalled entries
	supervisorInterval = 5 * time.Minute

	// requeueAge is how old a pending or transcribed entry must be before
	// the supervisor considers its enqueue lost
	requeueAge = time.Minute
)

// Start launches the processing goroutines and the supervisor loop
func (s *Service) Start() {
	logger.Info().Int("workers", s.cfg.Workers).Msg("starting ingest workers")

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.processLoop()
	}

	s.wg.Add(1)
	go s.supervisorLoop()
}

// Stop stops the workers and waits for in-flight entries to settle
func (s *Service) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	logger.Info().Msg("ingest workers stopped")
}

// processLoop drains the queue. Entries within one job run sequentially to
// bound concurrent load on the extraction and analysis collaborators; jobs
// across workers may run concurrently.
func (s *Service) processLoop() {
	defer s.wg.Done()

	ctx := context.Background()
	for {
		select {
		case j := <-s.queue:
			for _, entryID := range j.entryIDs {
				s.processEntry(ctx, entryID, j.claimed)
			}
		case <-s.stopChan:
			return
		}
	}
}

// supervisorLoop periodically runs a sweep and requeues entries whose
// enqueue was lost
func (s *Service) supervisorLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(supervisorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.requeueStalled()
			if _, err := s.Sweep(context.Background()); err != nil {
				logger.Error().Err(err).Msg("scheduled sweep failed")
			}
		case <-s.stopChan:
			return
		}
	}
}

// requeueStalled re-enqueues pending and transcribed entries that have been
// waiting longer than the requeue age. Pending entries lose their enqueue to
// a full queue or a crash; transcribed entries additionally get stranded when
// an edit re-queue or a split child's enqueue is dropped. The claim in
// processEntry makes a double enqueue harmless.
func (s *Service) requeueStalled() {
	cutoff := time.Now().Add(-requeueAge).UnixMilli()

	pending, err := s.store.ListStalePending(cutoff)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list stale pending entries")
		return
	}
	transcribed, err := s.store.ListStaleTranscribed(cutoff)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list stale transcribed entries")
		return
	}

	ids := append(pending, transcribed...)
	for _, id := range ids {
		s.enqueue(job{entryIDs: []string{id}})
	}
	if len(ids) > 0 {
		logger.Info().
			Int("pending", len(pending)).
			Int("transcribed", len(transcribed)).
			Msg("requeued stalled entries")
	}
}
