package db

import (
	"database/sql"
)

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "Initial schema - journal entries and page image archive",
		Up:          migration001_initial,
	})
}

func migration001_initial(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Journal entries table. Fingerprint uniqueness is scoped per owner and
	// only holds for live rows: a soft-deleted entry releases its fingerprints
	// so identical content can be re-uploaded after deletion.
	_, err = tx.Exec(`
		CREATE TABLE journal_entries (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT,
			state TEXT NOT NULL DEFAULT 'pending',
			entry_date TEXT,
			extracted_text TEXT,
			confidence INTEGER,
			analysis TEXT,
			image_sqlar TEXT,
			image_fingerprint TEXT,
			text_fingerprint TEXT,
			failure_reason TEXT,
			multi INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			deleted_at INTEGER
		);

		CREATE INDEX idx_entries_owner ON journal_entries(owner_id);
		CREATE INDEX idx_entries_state ON journal_entries(state);
		CREATE INDEX idx_entries_updated_at ON journal_entries(updated_at);

		CREATE UNIQUE INDEX idx_entries_image_fp
			ON journal_entries(owner_id, image_fingerprint)
			WHERE image_fingerprint IS NOT NULL AND deleted_at IS NULL;

		CREATE UNIQUE INDEX idx_entries_text_fp
			ON journal_entries(owner_id, text_fingerprint)
			WHERE text_fingerprint IS NOT NULL AND deleted_at IS NULL;
	`)
	if err != nil {
		return err
	}

	// SQLite Archive table for original page images (zlib-compressed),
	// so retries can re-run extraction without the original upload
	_, err = tx.Exec(`
		CREATE TABLE sqlar (
			name TEXT PRIMARY KEY,
			mode INTEGER,
			mtime INTEGER,
			sz INTEGER,
			data BLOB
		);
	`)
	if err != nil {
		return err
	}

	return tx.Commit()
}
