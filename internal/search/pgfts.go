package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements document search using PostgreSQL full-text search as
// a fallback when Meilisearch is unavailable.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the documents table with plainto_tsquery and ts_rank,
// using ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM documents
		WHERE fts @@ plainto_tsquery('english', $1)
	`, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, title,
			ts_headline('english', coalesce(plain_text, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(fts, plainto_tsquery('english', $1)) AS rank
		FROM documents
		WHERE fts @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT %d OFFSET %d
	`, limit, offset), q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Score); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
