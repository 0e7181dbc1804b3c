package corpus

import (
	"time"

	"github.com/google/uuid"
)

// Document is one reference document of the medical corpus.
// Embedding is nil until the backfill pass computes it. Content is
// immutable after ingestion, so a computed embedding never goes stale.
type Document struct {
	ID        uuid.UUID
	Title     string
	Category  string
	Content   string
	Embedding []float32
	CreatedAt time.Time
}

// EmbeddingText returns the text that is embedded for this document.
func (d Document) EmbeddingText() string {
	return d.Title + "\n\n" + d.Content
}

// Match is one retrieval result with its cosine similarity score.
// Matches are ephemeral: produced per query, never persisted.
type Match struct {
	Document Document
	Score    float64
}
