package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// CreateEntry inserts a new journal entry
func (d *DB) CreateEntry(e *JournalEntry) error {
	multi := 0
	if e.Multi {
		multi = 1
	}
	_, err := d.Run(`
		INSERT INTO journal_entries (
			id, owner_id, title, state, entry_date,
			extracted_text, confidence, analysis, image_sqlar,
			image_fingerprint, text_fingerprint, failure_reason,
			multi, attempts, created_at, updated_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.OwnerID, NullString(e.Title), e.State, NullString(e.EntryDate),
		NullString(e.ExtractedText), e.Confidence, NullString(e.Analysis), NullString(e.ImageSqlar),
		NullString(e.ImageFingerprint), NullString(e.TextFingerprint), NullString(e.FailureReason),
		multi, e.Attempts, e.CreatedAt, e.UpdatedAt, e.DeletedAt,
	)
	return err
}

// GetEntry returns a live entry by id scoped to its owner, or nil if not found
func (d *DB) GetEntry(ownerID, id string) (*JournalEntry, error) {
	return SelectOne(d,
		`SELECT `+entryColumns+` FROM journal_entries
		 WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`,
		[]QueryParam{id, ownerID},
		func(row *sql.Row) (JournalEntry, error) { return scanEntry(row) },
	)
}

// GetEntryByID returns a live entry regardless of owner (worker-side lookups)
func (d *DB) GetEntryByID(id string) (*JournalEntry, error) {
	return SelectOne(d,
		`SELECT `+entryColumns+` FROM journal_entries
		 WHERE id = ? AND deleted_at IS NULL`,
		[]QueryParam{id},
		func(row *sql.Row) (JournalEntry, error) { return scanEntry(row) },
	)
}

// ListEntries returns an owner's live entries, newest first,
// optionally filtered by state
func (d *DB) ListEntries(ownerID, state string, limit, offset int) ([]JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries
		WHERE owner_id = ? AND deleted_at IS NULL`
	params := []QueryParam{ownerID}

	if state != "" {
		query += ` AND state = ?`
		params = append(params, state)
	}

	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	params = append(params, limit, offset)

	return Select(d, query, params,
		func(rows *sql.Rows) (JournalEntry, error) { return scanEntry(rows) })
}

// UpdateEntryFields applies a partial update and bumps updated_at
func (d *DB) UpdateEntryFields(id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = NowMs()

	setClauses := make([]string, 0, len(fields))
	params := make([]QueryParam, 0, len(fields)+1)
	for col, val := range fields {
		setClauses = append(setClauses, col+" = ?")
		params = append(params, val)
	}
	params = append(params, id)

	_, err := d.Run(
		"UPDATE journal_entries SET "+strings.Join(setClauses, ", ")+" WHERE id = ?",
		params...,
	)
	return err
}

// ClaimEntry atomically moves an entry from one of fromStates into toState.
// Returns false when the entry was not in any of the expected states, which
// means another pass already claimed or resolved it.
func (d *DB) ClaimEntry(id, toState string, fromStates ...string) (bool, error) {
	if len(fromStates) == 0 {
		return false, fmt.Errorf("claim requires at least one source state")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(fromStates)), ", ")
	params := []QueryParam{toState, NowMs(), id}
	for _, s := range fromStates {
		params = append(params, s)
	}

	res, err := d.RunWithResult(`
		UPDATE journal_entries
		SET state = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL AND state IN (`+placeholders+`)
	`, params...)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// UpdateEntryState moves an entry from one known state to another, applying
// extra field updates in the same statement. Returns false when the entry was
// no longer in fromState (lost race), leaving the row untouched.
func (d *DB) UpdateEntryState(id, fromState, toState string, fields map[string]interface{}) (bool, error) {
	setClauses := []string{"state = ?", "updated_at = ?"}
	params := []QueryParam{toState, NowMs()}
	for col, val := range fields {
		setClauses = append(setClauses, col+" = ?")
		params = append(params, val)
	}
	params = append(params, id, fromState)

	res, err := d.RunWithResult(
		"UPDATE journal_entries SET "+strings.Join(setClauses, ", ")+
			" WHERE id = ? AND state = ? AND deleted_at IS NULL",
		params...,
	)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// ReclaimStaleProcessing re-asserts the processing state on an entry only if
// it has been sitting in processing since before the cutoff. The compare-and-set
// keeps a sweep from stealing an entry the orchestrator is actively working on.
func (d *DB) ReclaimStaleProcessing(id string, cutoffMs int64) (bool, error) {
	res, err := d.RunWithResult(`
		UPDATE journal_entries
		SET attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND state = ? AND updated_at < ? AND deleted_at IS NULL
	`, NowMs(), id, StateProcessing, cutoffMs)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// EditEntryText replaces a completed entry's text and reopens it for analysis
// (completed -> transcribed). The analysis column is cleared so stale
// themes/tags/sentiment are never served against edited text.
func (d *DB) EditEntryText(ownerID, id, text, textFingerprint string) (bool, error) {
	res, err := d.RunWithResult(`
		UPDATE journal_entries
		SET state = ?, extracted_text = ?, text_fingerprint = ?, analysis = NULL, updated_at = ?
		WHERE id = ? AND owner_id = ? AND state = ? AND deleted_at IS NULL
	`, StateTranscribed, text, textFingerprint, NowMs(), id, ownerID, StateCompleted)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// fingerprintRow pairs an entry id with one of its stored fingerprints
type fingerprintRow struct {
	ID          string
	Fingerprint string
}

// LiveImageFingerprints returns (id, fingerprint) for all of an owner's live
// entries that carry an image fingerprint. The duplicate gate computes Hamming
// distances over these in memory; per-owner cardinality keeps this cheap.
func (d *DB) LiveImageFingerprints(ownerID string) ([]string, []string, error) {
	rows, err := Select(d,
		`SELECT id, image_fingerprint FROM journal_entries
		 WHERE owner_id = ? AND deleted_at IS NULL AND image_fingerprint IS NOT NULL`,
		[]QueryParam{ownerID},
		func(r *sql.Rows) (fingerprintRow, error) {
			var fr fingerprintRow
			err := r.Scan(&fr.ID, &fr.Fingerprint)
			return fr, err
		},
	)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, len(rows))
	fps := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		fps[i] = r.Fingerprint
	}
	return ids, fps, nil
}

// FindEntryByTextFingerprint returns the id of the owner's live entry holding
// the exact text fingerprint, or "" when none does. excludeID skips the entry
// being processed so it never collides with itself.
func (d *DB) FindEntryByTextFingerprint(ownerID, fingerprint, excludeID string) (string, error) {
	result, err := SelectOne(d,
		`SELECT id FROM journal_entries
		 WHERE owner_id = ? AND text_fingerprint = ? AND id != ? AND deleted_at IS NULL`,
		[]QueryParam{ownerID, fingerprint, excludeID},
		func(row *sql.Row) (string, error) {
			var id string
			err := row.Scan(&id)
			return id, err
		},
	)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return *result, nil
}

// ListFailedEntries returns ids of all live entries in the failed state
func (d *DB) ListFailedEntries() ([]string, error) {
	return d.listEntryIDs(
		`SELECT id FROM journal_entries WHERE state = ? AND deleted_at IS NULL`,
		StateFailed,
	)
}

// ListStaleProcessing returns ids of live processing entries whose last
// transition is older than the cutoff (orchestrator crash recovery)
func (d *DB) ListStaleProcessing(cutoffMs int64) ([]string, error) {
	return d.listEntryIDs(
		`SELECT id FROM journal_entries
		 WHERE state = ? AND updated_at < ? AND deleted_at IS NULL`,
		StateProcessing, cutoffMs,
	)
}

// ListStalePending returns ids of live pending entries older than the cutoff.
// These are entries whose enqueue was dropped (full queue, crash before the
// worker picked them up) and need requeueing.
func (d *DB) ListStalePending(cutoffMs int64) ([]string, error) {
	return d.listEntryIDs(
		`SELECT id FROM journal_entries
		 WHERE state = ? AND updated_at < ? AND deleted_at IS NULL`,
		StatePending, cutoffMs,
	)
}

// ListStaleTranscribed returns ids of live transcribed entries older than the
// cutoff. Transcribed is not terminal: an edit re-queue or split child whose
// enqueue was dropped would otherwise sit there with stale analysis forever.
func (d *DB) ListStaleTranscribed(cutoffMs int64) ([]string, error) {
	return d.listEntryIDs(
		`SELECT id FROM journal_entries
		 WHERE state = ? AND updated_at < ? AND deleted_at IS NULL`,
		StateTranscribed, cutoffMs,
	)
}

func (d *DB) listEntryIDs(query string, params ...QueryParam) ([]string, error) {
	return Select(d, query, params,
		func(rows *sql.Rows) (string, error) {
			var id string
			err := rows.Scan(&id)
			return id, err
		})
}

// SoftDeleteEntry marks an entry deleted. The partial unique indexes ignore
// deleted rows, so the entry's fingerprints become reusable immediately.
func (d *DB) SoftDeleteEntry(ownerID, id string) (bool, error) {
	res, err := d.RunWithResult(`
		UPDATE journal_entries SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND deleted_at IS NULL
	`, NowMs(), NowMs(), id, ownerID)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}
