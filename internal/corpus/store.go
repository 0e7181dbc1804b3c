// Package corpus provides the medical document store backed by
// PostgreSQL + pgvector.
//
// Reads (similarity search, missing-embedding scans) are served to many
// concurrent requests; the only write paths are document ingestion and the
// per-field embedding backfill, both append-only in effect and idempotent.
package corpus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// documentCols is the standard SELECT column list for scanDocuments.
const documentCols = `id, title, category, content, created_at`

// Store manages the document corpus.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

// NewStore creates a corpus store. dimension is the expected embedding
// dimensionality; every embedding write is validated against it.
func NewStore(pool *pgxpool.Pool, dimension int, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if dimension < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, dimension: dimension, logger: logger}, nil
}

// Search returns the documents most similar to the query vector.
//
// Scores are cosine similarity (1 - cosine distance). Only matches with
// score >= threshold are returned, ordered by score descending; ties are
// broken by document id so results are deterministic. An empty result is
// not an error. Search never mutates the corpus.
func (s *Store) Search(ctx context.Context, queryVec []float32, threshold float64, topK int) ([]Match, error) {
	if err := s.validateVector(queryVec); err != nil {
		return nil, err
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, category, content, created_at,
		        1 - (embedding <=> $1) AS score
		 FROM medical_documents
		 WHERE embedding IS NOT NULL
		   AND 1 - (embedding <=> $1) >= $2
		 ORDER BY embedding <=> $1, id
		 LIMIT $3`,
		pgvector.NewVector(queryVec), threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Document.ID, &m.Document.Title, &m.Document.Category,
			&m.Document.Content, &m.Document.CreatedAt, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading matches: %w", err)
	}

	s.logger.Debug("similarity search", "matches", len(matches), "threshold", threshold, "top_k", topK)
	return matches, nil
}

// MissingEmbeddings returns every document whose embedding has not been
// computed yet, oldest first.
func (s *Store) MissingEmbeddings(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentCols+`
		 FROM medical_documents
		 WHERE embedding IS NULL
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents without embeddings: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// SetEmbedding stores the embedding for a document. The vector must have
// the configured dimensionality; anything else is rejected rather than
// coerced. Writing the same embedding twice is harmless.
func (s *Store) SetEmbedding(ctx context.Context, id uuid.UUID, vec []float32) error {
	if err := s.validateVector(vec); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE medical_documents SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(vec), id)
	if err != nil {
		return fmt.Errorf("updating embedding for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", id)
	}

	return nil
}

// Insert adds a document to the corpus. The embedding, if present, must
// match the configured dimensionality.
func (s *Store) Insert(ctx context.Context, doc Document) (uuid.UUID, error) {
	if doc.Title == "" {
		return uuid.Nil, fmt.Errorf("title is required")
	}
	if doc.Content == "" {
		return uuid.Nil, fmt.Errorf("content is required")
	}

	var vec any
	if doc.Embedding != nil {
		if err := s.validateVector(doc.Embedding); err != nil {
			return uuid.Nil, err
		}
		vec = pgvector.NewVector(doc.Embedding)
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO medical_documents (title, category, content, embedding)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		doc.Title, doc.Category, doc.Content, vec).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting document: %w", err)
	}

	return id, nil
}

// validateVector rejects vectors of the wrong dimensionality at write (and
// query) time instead of letting pgvector coerce or fail obscurely.
func (s *Store) validateVector(vec []float32) error {
	if len(vec) != s.dimension {
		return fmt.Errorf("embedding dimension %d does not match expected %d", len(vec), s.dimension)
	}
	return nil
}

// scanDocuments reads documents from rows selected with documentCols.
func scanDocuments(rows pgx.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Category, &d.Content, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	return docs, nil
}
