package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/louroai/louro/knowledge"
)

// KnowledgeStore keeps knowledge entries with their embeddings as REAL[].
// Similarity is ranked in process over the repository's entries.
type KnowledgeStore struct {
	db *sql.DB
}

var _ knowledge.Store = (*KnowledgeStore)(nil)

// Knowledge returns the knowledge store sharing this connection pool.
func (p *PostgreSQL) Knowledge() *KnowledgeStore {
	return &KnowledgeStore{db: p.db}
}

// Insert implements knowledge.Store.
func (s *KnowledgeStore) Insert(ctx context.Context, entry *knowledge.Entry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO knowledge_entries (id, repo, source, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.Repo, string(entry.Source), entry.Content, pq.Array(entry.Embedding), entry.CreatedAt,
	); err != nil {
		return "", fmt.Errorf("failed to insert knowledge entry: %w", err)
	}
	return entry.ID, nil
}

// Query implements knowledge.Store.
func (s *KnowledgeStore) Query(ctx context.Context, repo string, vector []float32, k int) ([]knowledge.Scored, error) {
	entries, err := s.list(ctx,
		`SELECT id, repo, source, content, embedding, created_at FROM knowledge_entries WHERE repo = $1`, repo)
	if err != nil {
		return nil, err
	}
	return knowledge.TopK(entries, vector, k), nil
}

// Recent implements knowledge.Store.
func (s *KnowledgeStore) Recent(ctx context.Context, repo string, source knowledge.Source, n int) ([]knowledge.Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.list(ctx, `
		SELECT id, repo, source, content, embedding, created_at FROM knowledge_entries
		WHERE repo = $1 AND source = $2
		ORDER BY created_at DESC LIMIT $3`, repo, string(source), n)
}

func (s *KnowledgeStore) list(ctx context.Context, query string, args ...any) ([]knowledge.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge: %w", err)
	}
	defer rows.Close()

	var entries []knowledge.Entry
	for rows.Next() {
		var e knowledge.Entry
		var source string
		var embedding []float32
		if err := rows.Scan(&e.ID, &e.Repo, &source, &e.Content, pq.Array(&embedding), &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge entry: %w", err)
		}
		e.Source = knowledge.Source(source)
		e.Embedding = embedding
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge: %w", err)
	}
	return entries, nil
}
