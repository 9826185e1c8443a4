package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateDocument(ctx context.Context, id, title string) (Document, error) {
	const query = `
		INSERT INTO documents (id, title)
		VALUES ($1, $2)
		RETURNING id, title, created_at, updated_at
	`
	var doc Document
	if err := s.db.QueryRowContext(ctx, query, id, title).Scan(&doc.ID, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	const query = `SELECT id, title, created_at, updated_at FROM documents WHERE id = $1`
	var doc Document
	err := s.db.QueryRowContext(ctx, query, id).Scan(&doc.ID, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, err
	}
	if err != nil {
		return Document{}, fmt.Errorf("lookup document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	const query = `SELECT id, title, created_at, updated_at FROM documents ORDER BY updated_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentText refreshes the searchable plain text after a
// committed save; the fts column derives from it.
func (s *PostgresStore) UpdateDocumentText(ctx context.Context, id, plainText string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE documents SET plain_text = $2, updated_at = NOW() WHERE id = $1
	`, id, plainText); err != nil {
		return fmt.Errorf("update document text: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordSave(ctx context.Context, rec SaveRecord) error {
	const query = `
		INSERT INTO save_journal (id, task_id, document_id, trigger_type, outcome, retry_count, duration_ms, commit_hash, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.TaskID, rec.DocumentID, rec.Trigger, rec.Outcome, rec.RetryCount, rec.DurationMS, rec.CommitHash, rec.Error)
	if err != nil {
		return fmt.Errorf("record save: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentSaves(ctx context.Context, documentID string, limit int) ([]SaveRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, task_id, document_id, trigger_type, outcome, retry_count, duration_ms,
			COALESCE(commit_hash, ''), COALESCE(error, ''), created_at
		FROM save_journal
		WHERE document_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list saves: %w", err)
	}
	defer rows.Close()

	records := []SaveRecord{}
	for rows.Next() {
		var rec SaveRecord
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.DocumentID, &rec.Trigger, &rec.Outcome,
			&rec.RetryCount, &rec.DurationMS, &rec.CommitHash, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan save record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
