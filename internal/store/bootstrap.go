package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Bootstrap creates the schema if it does not exist yet, in a single
// transaction so a half-applied schema never survives a crash.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bootstrap tx: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			plain_text TEXT NOT NULL DEFAULT '',
			fts TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', title || ' ' || plain_text)) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_fts ON documents USING GIN (fts)`,
		`CREATE TABLE IF NOT EXISTS save_journal (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			trigger_type TEXT NOT NULL,
			outcome TEXT NOT NULL,
			retry_count INT NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			commit_hash TEXT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_save_journal_document
			ON save_journal (document_id, created_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap tx: %w", err)
	}
	return nil
}
